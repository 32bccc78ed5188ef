package saicache

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/types"
)

func writeServiceConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func startService(t *testing.T, svc *Service) <-chan error {
	t.Helper()

	errCh := make(chan error, 1)
	go func() {
		errCh <- svc.Start()
	}()

	require.Eventually(t, svc.IsRunning, 5*time.Second, 10*time.Millisecond,
		"service did not reach running state")

	return errCh
}

func waitForShutdown(t *testing.T, errCh <-chan error) error {
	t.Helper()

	select {
	case err := <-errCh:
		return err
	case <-time.After(10 * time.Second):
		t.Fatal("service did not shut down in time")
		return nil
	}
}

func TestServiceLifecycle(t *testing.T) {
	path := writeServiceConfig(t, `
name: cache-service
version: 1.0.0
logger:
  level: error
`)

	svc, err := NewService(context.Background(), path)
	require.NoError(t, err)

	errCh := startService(t, svc)

	assert.NotNil(t, svc.Config())
	assert.NotNil(t, svc.Logger())
	assert.NotNil(t, svc.Store())
	assert.NotNil(t, svc.Cache())
	assert.NotNil(t, svc.Manager())

	assert.Nil(t, svc.Metrics())
	assert.Nil(t, svc.Health())
	assert.Nil(t, svc.Cron())
	assert.Nil(t, svc.Warmer())

	ctx := context.Background()

	svc.Cache().Set(ctx, "boot:greeting", "hello", time.Minute)
	greeting, found := cache.Get[string](ctx, svc.Cache(), "boot:greeting")
	require.True(t, found)
	assert.Equal(t, "hello", greeting)

	calls := 0
	models, err := cache.GetOrSet(ctx, svc.Manager(), "boot:models", func(ctx context.Context) (string, error) {
		calls++
		return "loaded", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "loaded", models)

	models, err = cache.GetOrSet(ctx, svc.Manager(), "boot:models", func(ctx context.Context) (string, error) {
		calls++
		return "reloaded", nil
	})
	require.NoError(t, err)
	assert.Equal(t, "loaded", models)
	assert.Equal(t, 1, calls)

	err = svc.Start()
	assert.ErrorIs(t, err, types.ErrServerAlreadyRunning)

	require.NoError(t, svc.Stop())
	assert.NoError(t, waitForShutdown(t, errCh))
	assert.False(t, svc.IsRunning())

	select {
	case <-svc.Done():
	default:
		t.Fatal("done channel not closed after shutdown")
	}
	assert.Error(t, svc.Context().Err())

	err = svc.Stop()
	assert.ErrorIs(t, err, types.ErrServiceIsNotRunning)
}

func TestServiceWarmsOnBoot(t *testing.T) {
	path := writeServiceConfig(t, `
name: cache-service
version: 1.0.0
logger:
  level: error
cron:
  enabled: true
warmup:
  enabled: true
  warm_on_start: true
`)

	svc, err := NewService(context.Background(), path)
	require.NoError(t, err)

	require.NotNil(t, svc.Warmer())
	svc.Warmer().Register(types.WarmupTask{
		Key: "warm:catalog",
		Fetcher: func(ctx context.Context) (interface{}, error) {
			return "seeded", nil
		},
		TTL: 10 * time.Minute,
	})

	errCh := startService(t, svc)

	assert.NotNil(t, svc.Cron())

	ctx := context.Background()
	require.Eventually(t, func() bool {
		_, found := cache.Get[string](ctx, svc.Cache(), "warm:catalog")
		return found
	}, 5*time.Second, 10*time.Millisecond, "warm-on-start pass did not populate the cache")

	catalog, found := cache.Get[string](ctx, svc.Cache(), "warm:catalog")
	require.True(t, found)
	assert.Equal(t, "seeded", catalog)

	require.NoError(t, svc.Stop())
	assert.NoError(t, waitForShutdown(t, errCh))
}

func TestServiceParentContextCancellation(t *testing.T) {
	path := writeServiceConfig(t, `
name: cache-service
version: 1.0.0
logger:
  level: error
`)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := NewService(ctx, path)
	require.NoError(t, err)

	errCh := startService(t, svc)

	cancel()

	assert.NoError(t, waitForShutdown(t, errCh))
	assert.False(t, svc.IsRunning())

	err = svc.Stop()
	assert.ErrorIs(t, err, types.ErrServiceIsNotRunning)
}

func TestServiceStopWithoutStart(t *testing.T) {
	path := writeServiceConfig(t, `
name: cache-service
version: 1.0.0
logger:
  level: error
`)

	svc, err := NewService(context.Background(), path)
	require.NoError(t, err)

	err = svc.Stop()
	assert.ErrorIs(t, err, types.ErrServiceIsNotRunning)
}

func TestNewServiceValidation(t *testing.T) {
	svc, err := NewService(context.Background(), "")
	assert.ErrorIs(t, err, types.ErrConfigInvalidPath)
	assert.Nil(t, svc)

	svc, err = NewService(context.Background(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorContains(t, err, "file does not exist")
	assert.Nil(t, svc)

	path := writeServiceConfig(t, `
name: cache-service
`)
	svc, err = NewService(context.Background(), path)
	assert.Error(t, err, "config without a version must be rejected")
	assert.Nil(t, svc)
}
