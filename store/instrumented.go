package store

import (
	"context"
	"time"

	"github.com/saiset-co/sai-cache/types"
)

var storeDurationBuckets = []float64{0.0001, 0.001, 0.01, 0.1, 1.0}

// instrumentedStore wraps a backend and records per-operation counters and
// latency histograms. Lifecycle calls pass through untouched.
type instrumentedStore struct {
	types.Store
	metrics types.MetricsManager
}

func newInstrumentedStore(backend types.Store, metrics types.MetricsManager) types.Store {
	return &instrumentedStore{
		Store:   backend,
		metrics: metrics,
	}
}

func (s *instrumentedStore) observe(operation, result string, start time.Time) {
	s.metrics.Counter("store_operations_total", map[string]string{
		"operation": operation,
		"result":    result,
	}).Inc()

	s.metrics.Histogram("store_operation_duration_seconds", storeDurationBuckets, map[string]string{
		"operation": operation,
	}).ObserveDuration(start)
}

func outcome(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

func (s *instrumentedStore) Get(ctx context.Context, key string) ([]byte, error) {
	start := time.Now()
	value, err := s.Store.Get(ctx, key)

	switch {
	case err == nil:
		s.observe("get", "hit", start)
	case types.IsError(err, types.ErrStoreKeyNotFound):
		s.observe("get", "miss", start)
	default:
		s.observe("get", "error", start)
	}

	return value, err
}

func (s *instrumentedStore) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	start := time.Now()
	err := s.Store.SetEx(ctx, key, value, ttl)
	s.observe("setex", outcome(err), start)
	return err
}

func (s *instrumentedStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	start := time.Now()
	acquired, err := s.Store.SetNX(ctx, key, value, ttl)
	s.observe("setnx", outcome(err), start)
	return acquired, err
}

func (s *instrumentedStore) Del(ctx context.Context, keys ...string) (int64, error) {
	start := time.Now()
	removed, err := s.Store.Del(ctx, keys...)
	s.observe("del", outcome(err), start)
	return removed, err
}

func (s *instrumentedStore) Exists(ctx context.Context, key string) (bool, error) {
	start := time.Now()
	exists, err := s.Store.Exists(ctx, key)
	s.observe("exists", outcome(err), start)
	return exists, err
}

func (s *instrumentedStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	start := time.Now()
	ttl, err := s.Store.TTL(ctx, key)
	s.observe("ttl", outcome(err), start)
	return ttl, err
}

func (s *instrumentedStore) Incr(ctx context.Context, key string) (int64, error) {
	start := time.Now()
	count, err := s.Store.Incr(ctx, key)
	s.observe("incr", outcome(err), start)
	return count, err
}

func (s *instrumentedStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	start := time.Now()
	updated, err := s.Store.Expire(ctx, key, ttl)
	s.observe("expire", outcome(err), start)
	return updated, err
}

func (s *instrumentedStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	start := time.Now()
	keys, err := s.Store.KeysMatching(ctx, pattern)
	s.observe("keys_matching", outcome(err), start)
	return keys, err
}

func (s *instrumentedStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	start := time.Now()
	value, err := s.Store.HGet(ctx, key, field)

	switch {
	case err == nil:
		s.observe("hget", "hit", start)
	case types.IsError(err, types.ErrStoreKeyNotFound):
		s.observe("hget", "miss", start)
	default:
		s.observe("hget", "error", start)
	}

	return value, err
}

func (s *instrumentedStore) HSet(ctx context.Context, key, field string, value []byte) error {
	start := time.Now()
	err := s.Store.HSet(ctx, key, field, value)
	s.observe("hset", outcome(err), start)
	return err
}

func (s *instrumentedStore) HDel(ctx context.Context, key string, fields ...string) error {
	start := time.Now()
	err := s.Store.HDel(ctx, key, fields...)
	s.observe("hdel", outcome(err), start)
	return err
}

func (s *instrumentedStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	start := time.Now()
	fields, err := s.Store.HGetAll(ctx, key)
	s.observe("hgetall", outcome(err), start)
	return fields, err
}

func (s *instrumentedStore) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	start := time.Now()
	receivers, err := s.Store.Publish(ctx, channel, payload)
	s.observe("publish", outcome(err), start)
	return receivers, err
}
