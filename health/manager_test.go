package health

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/store"
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type stubConfig struct {
	config *types.ServiceConfig
}

func (s *stubConfig) Load() error                                    { return nil }
func (s *stubConfig) GetConfig() *types.ServiceConfig                { return s.config }
func (s *stubConfig) GetValue(_ string, def interface{}) interface{} { return def }
func (s *stubConfig) GetAs(_ string, _ interface{}) error            { return types.ErrConfigNotFound }

func newTestHealthManager(t *testing.T) *Manager {
	t.Helper()

	config := &stubConfig{config: &types.ServiceConfig{
		Name:    "cache-service",
		Version: "1.2.3",
		Health:  &types.HealthConfig{Enabled: true},
	}}

	hm, err := NewManager(context.Background(), config, logger.NewZapWrapper(zap.NewNop()))
	require.NoError(t, err)
	require.NoError(t, hm.Start())
	t.Cleanup(func() {
		if hm.IsRunning() {
			_ = hm.Stop()
		}
	})

	return hm
}

func healthyChecker(details map[string]interface{}) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusHealthy, Details: details}
	}
}

func TestHealthManagerAggregatesChecks(t *testing.T) {
	hm := newTestHealthManager(t)

	hm.RegisterChecker("store", healthyChecker(map[string]interface{}{"latency_ms": 1}))
	hm.RegisterChecker("upstream", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy, Message: "connection refused"}
	})
	hm.RegisterChecker("flaky", func(ctx context.Context) types.HealthCheck {
		panic("checker bug")
	})

	report := hm.Check(context.Background())

	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, 3, report.Summary.Total)
	assert.Equal(t, 1, report.Summary.Healthy)
	assert.Equal(t, 2, report.Summary.Unhealthy)

	assert.Equal(t, "store", report.Checks["store"].Name)
	assert.False(t, report.Checks["store"].LastCheck.IsZero())
	assert.Contains(t, report.Checks["flaky"].Message, "panicked")

	assert.Equal(t, "cache-service", report.Service.Name)
	assert.Equal(t, "1.2.3", report.Service.Version)
	assert.NotEmpty(t, report.Service.Host)
}

func TestHealthManagerAllHealthy(t *testing.T) {
	hm := newTestHealthManager(t)

	hm.RegisterChecker("store", healthyChecker(nil))

	report := hm.Check(context.Background())

	assert.Equal(t, types.StatusHealthy, report.Status)
	assert.Equal(t, 1, report.Summary.Healthy)
	assert.GreaterOrEqual(t, report.Uptime, time.Duration(0))
}

func TestHealthManagerUnknownDoesNotMaskUnhealthy(t *testing.T) {
	hm := newTestHealthManager(t)

	hm.RegisterChecker("vague", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnknown}
	})

	report := hm.Check(context.Background())
	assert.Equal(t, types.StatusUnknown, report.Status)

	hm.RegisterChecker("down", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy}
	})

	report = hm.Check(context.Background())
	assert.Equal(t, types.StatusUnhealthy, report.Status)
}

func TestHealthManagerSlowCheckerTimesOut(t *testing.T) {
	hm := newTestHealthManager(t)
	hm.checkTimeout = 50 * time.Millisecond

	hm.RegisterChecker("slow", func(ctx context.Context) types.HealthCheck {
		time.Sleep(200 * time.Millisecond)
		return types.HealthCheck{Status: types.StatusHealthy}
	})

	report := hm.Check(context.Background())

	assert.Equal(t, types.StatusUnhealthy, report.Status)
	assert.Equal(t, "Health check timeout", report.Checks["slow"].Message)
}

func TestHealthHandler(t *testing.T) {
	hm := newTestHealthManager(t)

	hm.RegisterChecker("store", healthyChecker(nil))

	ctx := &fasthttp.RequestCtx{}
	hm.Handler()(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var report types.HealthReport
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &report))
	assert.Equal(t, types.StatusHealthy, report.Status)

	hm.RegisterChecker("down", func(ctx context.Context) types.HealthCheck {
		return types.HealthCheck{Status: types.StatusUnhealthy}
	})

	ctx = &fasthttp.RequestCtx{}
	hm.Handler()(ctx)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}

func TestHealthHandlerNotRunning(t *testing.T) {
	config := &stubConfig{config: &types.ServiceConfig{Name: "cache-service", Version: "1.2.3"}}

	hm, err := NewManager(context.Background(), config, logger.NewZapWrapper(zap.NewNop()))
	require.NoError(t, err)

	ctx := &fasthttp.RequestCtx{}
	hm.Handler()(ctx)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())
}

func TestHealthVersionHandler(t *testing.T) {
	hm := newTestHealthManager(t)

	ctx := &fasthttp.RequestCtx{}
	hm.VersionHandler()(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())

	var info types.VersionInfo
	require.NoError(t, utils.Unmarshal(ctx.Response.Body(), &info))
	assert.Equal(t, "1.2.3", info.Version)
	assert.NotEmpty(t, info.BuildInfo)
}

func TestHealthManagerLifecycle(t *testing.T) {
	hm := newTestHealthManager(t)

	assert.True(t, hm.IsRunning())
	assert.Equal(t, types.ErrServerAlreadyRunning, hm.Start())

	require.NoError(t, hm.Stop())
	assert.False(t, hm.IsRunning())
	assert.Equal(t, types.ErrServerNotRunning, hm.Stop())
}

func TestStoreChecker(t *testing.T) {
	log := logger.NewZapWrapper(zap.NewNop())

	backend, err := store.NewMemoryStore(context.Background(), log, &types.StoreConfig{Type: "memory"})
	require.NoError(t, err)
	require.NoError(t, backend.Start())

	checker := StoreChecker(backend)

	result := checker(context.Background())
	assert.Equal(t, types.StatusHealthy, result.Status)
	assert.Contains(t, result.Details, "latency_ms")

	require.NoError(t, backend.Stop())

	result = checker(context.Background())
	assert.Equal(t, types.StatusUnhealthy, result.Status)
	assert.NotEmpty(t, result.Message)
}
