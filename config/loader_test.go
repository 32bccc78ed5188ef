package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/types"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.yml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoaderFillsDefaults(t *testing.T) {
	path := writeConfig(t, `
name: cache-service
version: "1.0.0"
`)

	config, rawData, err := NewLoader().LoadFromFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "cache-service", config.Name)
	assert.Equal(t, "1.0.0", config.Version)

	assert.Equal(t, "memory", config.Store.Type)
	assert.Equal(t, 5*time.Minute, config.Cache.DefaultTTL)
	assert.Equal(t, 5*time.Second, config.Cache.OperationTimeout)
	assert.Equal(t, int64(100), config.Cache.RateLimit.DefaultLimit)
	assert.Equal(t, 30*time.Second, config.Cache.Locks.DefaultTTL)
	assert.Equal(t, 24*time.Hour, config.Cache.Sessions.DefaultTTL)
	assert.Equal(t, 4, config.Warmup.MaxParallel)
	assert.Equal(t, "UTC", config.Cron.Timezone)
	assert.False(t, config.Metrics.Enabled)

	require.NotNil(t, rawData)
	assert.Equal(t, "cache-service", (*rawData)["name"])
}

func TestLoaderOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
name: cache-service
version: "1.0.0"
logger:
  level: warn
store:
  type: redis
  config:
    host: redis.internal
    port: 6380
cache:
  default_ttl: 60000000000
  compression:
    enabled: true
    min_size: 512
`)

	config, _, err := NewLoader().LoadFromFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "warn", config.Logger.Level)
	assert.Equal(t, "redis", config.Store.Type)
	assert.Equal(t, time.Minute, config.Cache.DefaultTTL)
	assert.True(t, config.Cache.Compression.Enabled)
	assert.Equal(t, 512, config.Cache.Compression.MinSize)

	// Untouched sections keep their defaults.
	assert.Equal(t, 5*time.Second, config.Cache.OperationTimeout)
	assert.Equal(t, 4, config.Cache.Compression.Level)
}

func TestLoaderExpandsEnvironment(t *testing.T) {
	t.Setenv("CACHE_SERVICE_NAME", "from-env")
	t.Setenv("REDIS_HOST", "redis.prod")

	path := writeConfig(t, `
name: ${CACHE_SERVICE_NAME}
version: "1.0.0"
store:
  type: redis
  config:
    host: ${REDIS_HOST}
`)

	config, rawData, err := NewLoader().LoadFromFile(context.Background(), path)
	require.NoError(t, err)

	assert.Equal(t, "from-env", config.Name)

	storeSection := (*rawData)["store"].(map[string]interface{})
	storeConfig := storeSection["config"].(map[string]interface{})
	assert.Equal(t, "redis.prod", storeConfig["host"])
}

func TestLoaderRejectsIncompleteConfig(t *testing.T) {
	path := writeConfig(t, `
version: "1.0.0"
`)

	_, _, err := NewLoader().LoadFromFile(context.Background(), path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation")
}

func TestLoaderRejectsMalformedYAML(t *testing.T) {
	path := writeConfig(t, "name: [unclosed\nversion \"1.0.0\"")

	_, _, err := NewLoader().LoadFromFile(context.Background(), path)
	require.Error(t, err)
}

func TestLoaderMissingFile(t *testing.T) {
	_, _, err := NewLoader().LoadFromFile(context.Background(), "")
	assert.True(t, types.IsError(err, types.ErrConfigNotFound))

	_, _, err = NewLoader().LoadFromFile(context.Background(), filepath.Join(t.TempDir(), "absent.yml"))
	require.Error(t, err)
}
