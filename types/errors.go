package types

import (
	"errors"
	"fmt"
)

var (
	ErrConfigNotFound       = errors.New("config not found")
	ErrConfigInvalidPath    = errors.New("config invalid path")
	ErrConfigParseFailed    = errors.New("config parse failed")
	ErrConfigIsNil          = errors.New("config is nil")
	ErrConfigLoadFailed     = errors.New("config load failed")
	ErrConfigValidateFailed = errors.New("config validate failed")
)

var (
	ErrServerNotRunning     = errors.New("server not running")
	ErrServerAlreadyRunning = errors.New("server already running")
	ErrServerStartFailed    = errors.New("server start failed")
	ErrServerStopFailed     = errors.New("server stop failed")
)

var (
	ErrStoreKeyNotFound      = errors.New("store key not found")
	ErrStoreKeyEmpty         = errors.New("store key empty")
	ErrStoreConnectionFailed = errors.New("store connection failed")
	ErrStoreTypeUnknown      = errors.New("store type unknown")
	ErrStoreNotRunning       = errors.New("store not running")
	ErrStoreValueNotInteger  = errors.New("store value is not an integer")
)

var (
	ErrCacheNotFound        = errors.New("cache entry not found")
	ErrCacheKeyEmpty        = errors.New("cache key empty")
	ErrCacheOperationFailed = errors.New("cache operation failed")
	ErrCacheNotRunning      = errors.New("cache service not running")
)

var (
	ErrLockNotAcquired = errors.New("lock not acquired")
	ErrLockNotHeld     = errors.New("lock not held")
	ErrLockNameEmpty   = errors.New("lock name empty")
)

var (
	ErrRateLimitExceeded = errors.New("rate limit exceeded")
)

var (
	ErrWarmupRunning     = errors.New("warmup already running")
	ErrWarmerNotRunning  = errors.New("warmer not running")
	ErrWarmupTaskInvalid = errors.New("warmup task invalid")
)

var (
	ErrNumberConflict  = errors.New("number already taken")
	ErrNumberExhausted = errors.New("number generation attempts exhausted")
	ErrSyncInProgress  = errors.New("sync operation in progress")
)

var (
	ErrCronJobNotFound       = errors.New("cron job not found")
	ErrCronIsRunning         = errors.New("cron is running")
	ErrCronSchedulerStopped  = errors.New("cron scheduler stopped")
	ErrCronJobExists         = errors.New("cron job exists")
	ErrCronExpressionInvalid = errors.New("cron expression invalid")
	ErrCronJobFailed         = errors.New("cron job failed")
	ErrCronJobNameIsEmpty    = errors.New("cron job name is empty")
	ErrCronJobIsNil          = errors.New("cron job is nil")
	ErrCronJobTimeout        = errors.New("cron job timeout")
)

var (
	ErrMetricsTypeUnknown   = errors.New("metrics type unknown")
	ErrMetricsStartFailed   = errors.New("metrics start failed")
	ErrMetricsConfigInvalid = errors.New("metrics config invalid")
	ErrMetricsIsDisabled    = errors.New("metrics manager is disabled")
	ErrMetricsNotRunning    = errors.New("metrics manager not running")
)

var (
	ErrHealthCheckFailed  = errors.New("health check failed")
	ErrHealthCheckTimeout = errors.New("health check timeout")
	ErrHealthIsNotRunning = errors.New("health manager is not running")
)

var (
	ErrLogFileIsEmpty      = errors.New("log file is empty")
	ErrLogFileWrongFormat  = errors.New("log file wrong format")
	ErrLoggerTypeUnknown   = errors.New("logger type unknown")
	ErrLoggerConfigInvalid = errors.New("logger config invalid")
)

var (
	ErrServiceIsRunning     = errors.New("service is running")
	ErrServiceIsNotRunning  = errors.New("service is not running")
	ErrComponentNotFound    = errors.New("component not found")
	ErrComponentStartFailed = errors.New("component start failed")
	ErrComponentStopFailed  = errors.New("component stop failed")
)

var (
	ErrInvalidParameter = errors.New("invalid parameter")
	ErrOperationFailed  = errors.New("operation failed")
	ErrContextCancelled = errors.New("context cancelled")
	ErrContextTimeout   = errors.New("context timeout")
	ErrInvalidState     = errors.New("invalid state")
	ErrNotSupported     = errors.New("not supported")
)

func Errorf(baseErr error, format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", baseErr, fmt.Sprintf(format, args...))
}

func WrapError(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

func NewErrorf(format string, args ...interface{}) error {
	return fmt.Errorf(format, args...)
}

func IsError(err, target error) bool {
	return errors.Is(err, target)
}
