package types

import (
	"context"
	"time"
)

// TTL reports on keys the way Redis does: -1 for a key without an
// expiry, -2 for a key that does not exist. go-redis passes these
// through unscaled, so the sentinels are raw durations.
const (
	TTLNoExpiry = time.Duration(-1)
	TTLNotFound = time.Duration(-2)
)

// Store is the flat key-value port every cache component runs on.
// Implementations must map their native miss signal to ErrStoreKeyNotFound
// and honor the TTL sentinels above.
type Store interface {
	LifecycleManager
	Ping(ctx context.Context) error
	Get(ctx context.Context, key string) ([]byte, error)
	SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error
	SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) (int64, error)
	Exists(ctx context.Context, key string) (bool, error)
	TTL(ctx context.Context, key string) (time.Duration, error)
	Incr(ctx context.Context, key string) (int64, error)
	Expire(ctx context.Context, key string, ttl time.Duration) (bool, error)
	KeysMatching(ctx context.Context, pattern string) ([]string, error)
	HGet(ctx context.Context, key, field string) ([]byte, error)
	HSet(ctx context.Context, key, field string, value []byte) error
	HDel(ctx context.Context, key string, fields ...string) error
	HGetAll(ctx context.Context, key string) (map[string]string, error)
	Publish(ctx context.Context, channel string, payload []byte) (int64, error)
	Subscribe(ctx context.Context, channel string) (Subscription, error)
}

type Subscription interface {
	Messages() <-chan []byte
	Close() error
}

type StoreCreator func(ctx context.Context, logger Logger, config *StoreConfig) (Store, error)
