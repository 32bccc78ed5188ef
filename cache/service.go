package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// Service is the best-effort caching facade over a Store. Reads collapse
// every failure to a miss and writes to a logged no-op, so a degraded
// store never fails a caller's business operation. The exceptions are
// the durable helpers (sessions, API keys), which report their errors.
type Service struct {
	ctx        context.Context
	logger     types.Logger
	store      types.Store
	config     *types.CacheConfig
	compressor *compressor
}

func NewService(ctx context.Context, logger types.Logger, store types.Store, config *types.CacheConfig) (*Service, error) {
	if store == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "store is required")
	}

	if config == nil {
		config = &types.CacheConfig{}
	}

	service := &Service{
		ctx:    ctx,
		logger: logger,
		store:  store,
		config: config,
	}

	if config.Compression != nil && config.Compression.Enabled {
		service.compressor = newCompressor(config.Compression)
	}

	return service, nil
}

// Get deserializes the entry at key into T. Transport and
// deserialization failures are logged and reported as a miss.
func Get[T any](ctx context.Context, s *Service, key string) (T, bool) {
	var value T

	data, err := s.GetRaw(ctx, key)
	if err != nil {
		if !types.IsError(err, types.ErrCacheNotFound) {
			s.logger.Warn("Cache read degraded to miss",
				zap.String("key", key),
				zap.Error(err))
		}
		return value, false
	}

	if err := utils.Unmarshal(data, &value); err != nil {
		s.logger.Warn("Cache entry failed to deserialize, treating as miss",
			zap.String("key", key),
			zap.Error(err))
		return value, false
	}

	return value, true
}

func (s *Service) GetRaw(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, types.ErrCacheKeyEmpty
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	data, err := s.store.Get(opCtx, key)
	if err != nil {
		if types.IsError(err, types.ErrStoreKeyNotFound) {
			return nil, types.ErrCacheNotFound
		}
		return nil, types.WrapError(err, "cache get failed")
	}

	value, err := decompress(data)
	if err != nil {
		return nil, types.WrapError(err, "cache decompress failed")
	}

	return value, nil
}

// Set serializes value and writes it with the given TTL, falling back to
// the configured default when ttl is omitted or non-positive. Failures
// are logged and swallowed.
func (s *Service) Set(ctx context.Context, key string, value interface{}, ttl ...time.Duration) {
	if err := s.set(ctx, key, value, s.ttlOrDefault(ttl...)); err != nil {
		s.logger.Error("Cache set failed",
			zap.String("key", key),
			zap.Error(err))
	}
}

func (s *Service) set(ctx context.Context, key string, value interface{}, ttl time.Duration) error {
	if key == "" {
		return types.ErrCacheKeyEmpty
	}

	data, err := utils.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to serialize cache value")
	}

	if s.compressor != nil {
		data = s.compressor.compress(data)
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.store.SetEx(opCtx, key, data, ttl); err != nil {
		return types.WrapError(err, "cache set failed")
	}

	return nil
}

// Del removes the given keys and returns how many existed. Store
// failures are logged and reported as zero removals.
func (s *Service) Del(ctx context.Context, keys ...string) int64 {
	if len(keys) == 0 {
		return 0
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	removed, err := s.store.Del(opCtx, keys...)
	if err != nil {
		s.logger.Error("Cache delete failed",
			zap.Strings("keys", keys),
			zap.Error(err))
		return 0
	}

	return removed
}

func (s *Service) Exists(ctx context.Context, key string) bool {
	if key == "" {
		return false
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	exists, err := s.store.Exists(opCtx, key)
	if err != nil {
		s.logger.Warn("Cache exists check failed",
			zap.String("key", key),
			zap.Error(err))
		return false
	}

	return exists
}

func (s *Service) TTL(ctx context.Context, key string) (time.Duration, error) {
	if key == "" {
		return 0, types.ErrCacheKeyEmpty
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	ttl, err := s.store.TTL(opCtx, key)
	if err != nil {
		return 0, types.WrapError(err, "cache ttl lookup failed")
	}

	return ttl, nil
}

// InvalidatePattern scans for keys matching the pattern and bulk-deletes
// them. Zero matches is a no-op. Returns the number of removed keys.
func (s *Service) InvalidatePattern(ctx context.Context, pattern string) int64 {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	keys, err := s.store.KeysMatching(opCtx, pattern)
	if err != nil {
		s.logger.Error("Pattern invalidation scan failed",
			zap.String("pattern", pattern),
			zap.Error(err))
		return 0
	}

	if len(keys) == 0 {
		return 0
	}

	removed, err := s.store.Del(opCtx, keys...)
	if err != nil {
		s.logger.Error("Pattern invalidation delete failed",
			zap.String("pattern", pattern),
			zap.Error(err))
		return 0
	}

	s.logger.Debug("Pattern invalidated",
		zap.String("pattern", pattern),
		zap.Int64("removed", removed))

	return removed
}

// Incr atomically increments the counter at key. A ttl attaches only
// when the increment created the counter; later increments leave the
// window untouched.
func (s *Service) Incr(ctx context.Context, key string, ttl ...time.Duration) (int64, error) {
	if key == "" {
		return 0, types.ErrCacheKeyEmpty
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	count, err := s.store.Incr(opCtx, key)
	if err != nil {
		return 0, types.WrapError(err, "cache incr failed")
	}

	if count == 1 && len(ttl) > 0 && ttl[0] > 0 {
		if _, err := s.store.Expire(opCtx, key, ttl[0]); err != nil {
			s.logger.Warn("Failed to attach counter expiry",
				zap.String("key", key),
				zap.Error(err))
		}
	}

	return count, nil
}

func (s *Service) Publish(ctx context.Context, channel string, payload interface{}) error {
	data, err := utils.Marshal(payload)
	if err != nil {
		return types.WrapError(err, "failed to serialize published payload")
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.store.Publish(opCtx, channel, data); err != nil {
		return types.WrapError(err, "cache publish failed")
	}

	return nil
}

// HGet deserializes a single hash field into T, collapsing failures to
// a miss the same way Get does.
func HGet[T any](ctx context.Context, s *Service, key, field string) (T, bool) {
	var value T

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	data, err := s.store.HGet(opCtx, key, field)
	if err != nil {
		if !types.IsError(err, types.ErrStoreKeyNotFound) {
			s.logger.Warn("Cache hash read degraded to miss",
				zap.String("key", key),
				zap.String("field", field),
				zap.Error(err))
		}
		return value, false
	}

	if err := utils.Unmarshal(data, &value); err != nil {
		s.logger.Warn("Cache hash entry failed to deserialize, treating as miss",
			zap.String("key", key),
			zap.String("field", field),
			zap.Error(err))
		return value, false
	}

	return value, true
}

func (s *Service) HSet(ctx context.Context, key, field string, value interface{}) error {
	data, err := utils.Marshal(value)
	if err != nil {
		return types.WrapError(err, "failed to serialize hash value")
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.store.HSet(opCtx, key, field, data); err != nil {
		return types.WrapError(err, "cache hash set failed")
	}

	return nil
}

func (s *Service) HDel(ctx context.Context, key string, fields ...string) error {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.store.HDel(opCtx, key, fields...); err != nil {
		return types.WrapError(err, "cache hash delete failed")
	}

	return nil
}

func (s *Service) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	fields, err := s.store.HGetAll(opCtx, key)
	if err != nil {
		return nil, types.WrapError(err, "cache hash read failed")
	}

	return fields, nil
}

func (s *Service) opCtx(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.config.OperationTimeout > 0 {
		return context.WithTimeout(ctx, s.config.OperationTimeout)
	}
	return ctx, func() {}
}

// ttlOrDefault enforces that plain cache entries always carry an expiry.
// Durable records go through their own helpers, never through Set.
func (s *Service) ttlOrDefault(ttl ...time.Duration) time.Duration {
	if len(ttl) > 0 && ttl[0] > 0 {
		return ttl[0]
	}
	if s.config.DefaultTTL > 0 {
		return s.config.DefaultTTL
	}
	return 5 * time.Minute
}

func (s *Service) lockTTL(ttl ...time.Duration) time.Duration {
	if len(ttl) > 0 && ttl[0] > 0 {
		return ttl[0]
	}
	if s.config.Locks != nil && s.config.Locks.DefaultTTL > 0 {
		return s.config.Locks.DefaultTTL
	}
	return 30 * time.Second
}

func (s *Service) sessionTTL(ttl ...time.Duration) time.Duration {
	if len(ttl) > 0 && ttl[0] > 0 {
		return ttl[0]
	}
	if s.config.Sessions != nil && s.config.Sessions.DefaultTTL > 0 {
		return s.config.Sessions.DefaultTTL
	}
	return 24 * time.Hour
}

func (s *Service) rateLimitDefaults() (int64, time.Duration) {
	limit := int64(100)
	window := time.Minute

	if s.config.RateLimit != nil {
		if s.config.RateLimit.DefaultLimit > 0 {
			limit = s.config.RateLimit.DefaultLimit
		}
		if s.config.RateLimit.DefaultWindow > 0 {
			window = s.config.RateLimit.DefaultWindow
		}
	}

	return limit, window
}
