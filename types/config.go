package types

import (
	"time"
)

type ConfigManager interface {
	Load() error
	GetConfig() *ServiceConfig
	GetValue(path string, defaultValue interface{}) interface{}
	GetAs(path string, target interface{}) error
}

type ServiceConfig struct {
	Name    string         `yaml:"name" json:"name" validate:"required"`
	Version string         `yaml:"version" json:"version" validate:"required"`
	Logger  *LoggerConfig  `yaml:"logger" json:"logger"`
	Store   *StoreConfig   `yaml:"store" json:"store"`
	Cache   *CacheConfig   `yaml:"cache" json:"cache"`
	Warmup  *WarmupConfig  `yaml:"warmup" json:"warmup"`
	Cron    *CronConfig    `yaml:"cron" json:"cron"`
	Metrics *MetricsConfig `yaml:"metrics" json:"metrics"`
	Health  *HealthConfig  `yaml:"health" json:"health"`
}

type LoggerConfig struct {
	Type   string      `yaml:"type" json:"type"`
	Level  string      `yaml:"level" json:"level"`
	Config interface{} `yaml:"config" json:"config"`
}

type StoreConfig struct {
	Type   string      `yaml:"type" json:"type" validate:"required"`
	Config interface{} `yaml:"config" json:"config"`
}

// Durations arrive from YAML as integer nanoseconds; Defaults() covers
// the usual case where files leave them unset.
type CacheConfig struct {
	DefaultTTL       time.Duration       `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
	OperationTimeout time.Duration       `yaml:"operation_timeout" json:"operation_timeout" validate:"min=0"`
	Compression      *CompressionConfig  `yaml:"compression" json:"compression"`
	Invalidation     *InvalidationConfig `yaml:"invalidation" json:"invalidation"`
	RateLimit        *RateLimitConfig    `yaml:"rate_limit" json:"rate_limit"`
	Locks            *LockConfig         `yaml:"locks" json:"locks"`
	Sessions         *SessionConfig      `yaml:"sessions" json:"sessions"`
}

type CompressionConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
	MinSize int  `yaml:"min_size" json:"min_size" validate:"min=0"`
	Level   int  `yaml:"level" json:"level" validate:"min=0,max=11"`
}

type InvalidationConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Channel string `yaml:"channel" json:"channel" validate:"required_if=Enabled true"`
}

type RateLimitConfig struct {
	DefaultLimit  int64         `yaml:"default_limit" json:"default_limit" validate:"min=0"`
	DefaultWindow time.Duration `yaml:"default_window" json:"default_window" validate:"min=0"`
}

type LockConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
}

type SessionConfig struct {
	DefaultTTL time.Duration `yaml:"default_ttl" json:"default_ttl" validate:"min=0"`
}

type WarmupConfig struct {
	Enabled          bool          `yaml:"enabled" json:"enabled"`
	WarmOnStart      bool          `yaml:"warm_on_start" json:"warm_on_start"`
	Parallel         bool          `yaml:"parallel" json:"parallel"`
	MaxParallel      int           `yaml:"max_parallel" json:"max_parallel" validate:"min=0"`
	Interval         time.Duration `yaml:"interval" json:"interval" validate:"min=0"`
	RefreshThreshold time.Duration `yaml:"refresh_threshold" json:"refresh_threshold" validate:"min=0"`
	RefreshInterval  time.Duration `yaml:"refresh_interval" json:"refresh_interval" validate:"min=0"`
}

type CronConfig struct {
	Enabled  bool   `yaml:"enabled" json:"enabled"`
	Timezone string `yaml:"timezone" json:"timezone" validate:"required_if=Enabled true"`
}

type MetricsConfig struct {
	Enabled    bool                   `yaml:"enabled" json:"enabled"`
	Type       string                 `yaml:"type" json:"type" validate:"required_if=Enabled true"`
	Config     interface{}            `yaml:"config" json:"config"`
	Prefix     string                 `yaml:"prefix" json:"prefix"`
	Labels     map[string]string      `yaml:"labels" json:"labels"`
	HTTP       MetricsHTTPConfig      `yaml:"http" json:"http"`
	Collectors MetricsCollectorConfig `yaml:"collectors" json:"collectors"`
}

type MetricsHTTPConfig struct {
	Enabled bool   `yaml:"enabled" json:"enabled"`
	Path    string `yaml:"path" json:"path"`
	Port    int    `yaml:"port" json:"port"`
}

type MetricsCollectorConfig struct {
	System bool `yaml:"system" json:"system"`
	Store  bool `yaml:"store" json:"store"`
	Cache  bool `yaml:"cache" json:"cache"`
}

type HealthConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`
}

type VersionInfo struct {
	Version   string `json:"version"`
	BuildInfo string `json:"build_info"`
}
