package config

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/saiset-co/sai-cache/types"
)

func TestConfigurationManagerLifecycle(t *testing.T) {
	path := writeConfig(t, `
name: cache-service
version: "1.0.0"
store:
  type: memory
`)

	cm, err := NewConfigurationManager(context.Background(), path)
	require.NoError(t, err)

	// The constructor loads eagerly, before Start.
	config := cm.GetConfig()
	require.NotNil(t, config)
	assert.Equal(t, "cache-service", config.Name)

	require.NoError(t, cm.Start())
	assert.True(t, cm.IsRunning())
	assert.Equal(t, types.ErrServerAlreadyRunning, cm.Start())

	assert.Equal(t, "memory", cm.GetValue("store.type", ""))
	assert.Equal(t, "fallback", cm.GetValue("store.password", "fallback"))

	var store types.StoreConfig
	require.NoError(t, cm.GetAs("store", &store))
	assert.Equal(t, "memory", store.Type)

	raw := cm.GetRawData()
	assert.Equal(t, "cache-service", raw["name"])

	// The raw snapshot is a copy, mutations stay local.
	raw["name"] = "tampered"
	assert.Equal(t, "cache-service", cm.GetRawData()["name"])

	require.NoError(t, cm.Stop())
	assert.False(t, cm.IsRunning())
	assert.Equal(t, types.ErrServerNotRunning, cm.Stop())

	assert.Nil(t, cm.GetConfig())
	assert.Equal(t, "fallback", cm.GetValue("name", "fallback"))
	assert.True(t, types.IsError(cm.GetAs("store", &store), types.ErrConfigLoadFailed))
	assert.Empty(t, cm.GetRawData())
}

func TestConfigurationManagerReload(t *testing.T) {
	path := writeConfig(t, `
name: cache-service
version: "1.0.0"
`)

	cm, err := NewConfigurationManager(context.Background(), path)
	require.NoError(t, err)
	require.NoError(t, cm.Start())
	t.Cleanup(func() { _ = cm.Stop() })

	require.NoError(t, os.WriteFile(path, []byte(`
name: cache-service
version: "2.0.0"
logger:
  level: error
`), 0o644))

	require.NoError(t, cm.Load())

	config := cm.GetConfig()
	require.NotNil(t, config)
	assert.Equal(t, "2.0.0", config.Version)
	assert.Equal(t, "error", config.Logger.Level)
}

func TestConfigurationManagerRejectsBrokenConfig(t *testing.T) {
	path := writeConfig(t, `
version: "1.0.0"
`)

	_, err := NewConfigurationManager(context.Background(), path)
	require.Error(t, err)
}
