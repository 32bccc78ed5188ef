package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type stubConfig struct {
	config *types.ServiceConfig
}

func (s *stubConfig) Load() error                          { return nil }
func (s *stubConfig) GetConfig() *types.ServiceConfig      { return s.config }
func (s *stubConfig) GetValue(_ string, def interface{}) interface{} { return def }
func (s *stubConfig) GetAs(_ string, _ interface{}) error  { return types.ErrConfigNotFound }

func metricsConfig(cfg *types.MetricsConfig) types.ConfigManager {
	return &stubConfig{config: &types.ServiceConfig{
		Name:    "cache-service",
		Version: "1.0.0",
		Metrics: cfg,
	}}
}

func testLog() types.Logger {
	return logger.NewZapWrapper(zap.NewNop())
}

func TestManagerDisabled(t *testing.T) {
	_, err := NewManager(context.Background(), metricsConfig(&types.MetricsConfig{Enabled: false}), testLog())
	assert.True(t, types.IsError(err, types.ErrMetricsIsDisabled))
}

func TestManagerUnknownBackend(t *testing.T) {
	_, err := NewManager(context.Background(), metricsConfig(&types.MetricsConfig{
		Enabled: true,
		Type:    "statsd",
	}), testLog())
	assert.True(t, types.IsError(err, types.ErrMetricsTypeUnknown))
}

func TestManagerCustomBackend(t *testing.T) {
	RegisterMetricsManager("custom-backend", func(config interface{}) (types.MetricsManager, error) {
		return NewMemoryMetrics(context.Background(), testLog(), config.(*types.MetricsConfig))
	})

	m, err := NewManager(context.Background(), metricsConfig(&types.MetricsConfig{
		Enabled: true,
		Type:    "custom-backend",
	}), testLog())
	require.NoError(t, err)

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })

	counter := m.Counter("custom_ops_total", nil)
	counter.Inc()
	assert.Equal(t, float64(1), counter.Get())
}

func TestManagerLifecycleGatesInstruments(t *testing.T) {
	m, err := NewManager(context.Background(), metricsConfig(&types.MetricsConfig{
		Enabled: true,
		Type:    "memory",
	}), testLog())
	require.NoError(t, err)

	_, err = m.GetMetrics()
	assert.True(t, types.IsError(err, types.ErrMetricsNotRunning))

	// Instruments handed out before Start are inert.
	early := m.Counter("early_hits", nil)
	early.Inc()
	assert.Zero(t, early.Get())

	require.NoError(t, m.Start())
	assert.True(t, m.IsRunning())
	assert.Equal(t, types.ErrServerAlreadyRunning, m.Start())

	counter := m.Counter("cache_hits_total", map[string]string{"result": "hit"})
	counter.Inc()
	counter.Inc()
	assert.Equal(t, float64(2), counter.Get())

	// The same name and labels resolve to the same instrument.
	assert.Equal(t, float64(2), m.Counter("cache_hits_total", map[string]string{"result": "hit"}).Get())

	data, err := m.GetMetrics()
	require.NoError(t, err)

	var snapshot []types.MetricValue
	require.NoError(t, utils.Unmarshal(data, &snapshot))

	found := false
	for _, metric := range snapshot {
		if metric.Name == "cache_hits_total" {
			found = true
			assert.Equal(t, "counter", metric.Type)
			assert.Equal(t, float64(2), metric.Value)
		}
	}
	assert.True(t, found, "published snapshot must carry the counter")

	statsData, err := m.GetStats()
	require.NoError(t, err)

	var stats types.MetricsStats
	require.NoError(t, utils.Unmarshal(statsData, &stats))
	assert.GreaterOrEqual(t, stats.CounterMetrics, 1)

	require.NoError(t, m.Stop())
	assert.False(t, m.IsRunning())
	assert.Equal(t, types.ErrServerNotRunning, m.Stop())

	_, err = m.GetMetrics()
	assert.True(t, types.IsError(err, types.ErrMetricsNotRunning))
}

func TestManagerHandler(t *testing.T) {
	m, err := NewManager(context.Background(), metricsConfig(&types.MetricsConfig{
		Enabled: true,
		Type:    "memory",
	}), testLog())
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })

	m.Counter("handled_total", nil).Inc()

	ctx := &fasthttp.RequestCtx{}
	m.Handler()(ctx)

	assert.Equal(t, fasthttp.StatusOK, ctx.Response.StatusCode())
	assert.Equal(t, "application/json", string(ctx.Response.Header.ContentType()))
	assert.Contains(t, string(ctx.Response.Body()), "handled_total")
}
