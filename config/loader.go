package config

import (
	"context"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/saiset-co/sai-cache/types"
)

type Loader struct {
	validator *validator.Validate
}

func NewLoader() *Loader {
	return &Loader{
		validator: validator.New(validator.WithRequiredStructEnabled()),
	}
}

func (l *Loader) LoadFromFile(ctx context.Context, configPath string) (*types.ServiceConfig, *map[string]interface{}, error) {
	if configPath == "" {
		return nil, nil, types.ErrConfigNotFound
	}

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return nil, nil, types.WrapError(err, "file not found: "+configPath)
	}

	data, err := l.ReadFileWithTimeout(ctx, configPath)
	if err != nil {
		return nil, nil, types.WrapError(err, "failed to read config file")
	}

	data = []byte(os.ExpandEnv(string(data)))

	config := l.Defaults()

	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, nil, types.WrapError(err, "failed to parse YAML config")
	}

	rawData := make(map[string]interface{})
	if err := yaml.Unmarshal(data, &rawData); err != nil {
		return nil, nil, types.WrapError(err, "failed to parse YAML config")
	}

	if err := l.validator.Struct(config); err != nil {
		return nil, nil, types.WrapError(err, "config validation failed")
	}

	return config, &rawData, nil
}

func (l *Loader) ReadFileWithTimeout(ctx context.Context, filepath string) ([]byte, error) {
	type result struct {
		data []byte
		err  error
	}

	resultChan := make(chan result, 1)

	go func() {
		data, err := os.ReadFile(filepath)
		resultChan <- result{data: data, err: err}
	}()

	select {
	case res := <-resultChan:
		return res.data, res.err
	case <-ctx.Done():
		return nil, types.WrapError(ctx.Err(), "file read timeout")
	}
}

func (l *Loader) Defaults() *types.ServiceConfig {
	return &types.ServiceConfig{
		Logger: &types.LoggerConfig{
			Level: "debug",
		},
		Store: &types.StoreConfig{
			Type: "memory",
		},
		Cache: &types.CacheConfig{
			DefaultTTL:       5 * time.Minute,
			OperationTimeout: 5 * time.Second,
			Compression: &types.CompressionConfig{
				Enabled: false,
				MinSize: 1024,
				Level:   4,
			},
			Invalidation: &types.InvalidationConfig{
				Enabled: false,
				Channel: "cache:invalidation",
			},
			RateLimit: &types.RateLimitConfig{
				DefaultLimit:  100,
				DefaultWindow: time.Minute,
			},
			Locks: &types.LockConfig{
				DefaultTTL: 30 * time.Second,
			},
			Sessions: &types.SessionConfig{
				DefaultTTL: 24 * time.Hour,
			},
		},
		Warmup: &types.WarmupConfig{
			Enabled:          false,
			WarmOnStart:      false,
			Parallel:         false,
			MaxParallel:      4,
			Interval:         15 * time.Minute,
			RefreshThreshold: time.Minute,
			RefreshInterval:  30 * time.Second,
		},
		Cron: &types.CronConfig{
			Enabled:  false,
			Timezone: "UTC",
		},
		Metrics: &types.MetricsConfig{
			Enabled: false,
			Type:    "memory",
		},
		Health: &types.HealthConfig{
			Enabled: false,
		},
	}
}
