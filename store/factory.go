package store

import (
	"context"
	"sync"

	"github.com/saiset-co/sai-cache/types"
)

var (
	customStoreCreators   = make(map[string]types.StoreCreator)
	customStoreCreatorsMu sync.RWMutex
)

// RegisterStore makes a custom backend available under the given type name.
// Built-in names ("memory", "redis") cannot be overridden.
func RegisterStore(storeName string, creator types.StoreCreator) {
	customStoreCreatorsMu.Lock()
	defer customStoreCreatorsMu.Unlock()
	customStoreCreators[storeName] = creator
}

func NewStore(ctx context.Context, config types.ConfigManager, logger types.Logger, metrics types.MetricsManager) (types.Store, error) {
	storeConfig := config.GetConfig().Store
	if storeConfig == nil {
		storeConfig = &types.StoreConfig{Type: "memory"}
	}

	backend, err := createStore(ctx, logger, storeConfig)
	if err != nil {
		return nil, err
	}

	if metrics != nil && config.GetConfig().Metrics != nil && config.GetConfig().Metrics.Collectors.Store {
		return newInstrumentedStore(backend, metrics), nil
	}

	return backend, nil
}

func createStore(ctx context.Context, logger types.Logger, storeConfig *types.StoreConfig) (types.Store, error) {
	storeName := "memory"
	if storeConfig.Type != "" {
		storeName = storeConfig.Type
	}

	switch storeName {
	case "memory":
		return NewMemoryStore(ctx, logger, storeConfig)
	case "redis":
		return NewRedisStore(ctx, logger, storeConfig)
	default:
		customStoreCreatorsMu.RLock()
		creator, exists := customStoreCreators[storeName]
		customStoreCreatorsMu.RUnlock()

		if exists {
			return creator(ctx, logger, storeConfig)
		}

		return nil, types.Errorf(types.ErrStoreTypeUnknown, "store type: %s", storeName)
	}
}
