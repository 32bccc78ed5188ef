package store

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type RedisConfig struct {
	Host               string        `json:"host"`
	Port               int           `json:"port"`
	Password           string        `json:"password"`
	DB                 int           `json:"db"`
	PoolSize           int           `json:"pool_size"`
	MinIdleConnections int           `json:"min_idle_connections"`
	DialTimeout        time.Duration `json:"dial_timeout"`
	ReadTimeout        time.Duration `json:"read_timeout"`
	WriteTimeout       time.Duration `json:"write_timeout"`
	MaxRetries         int           `json:"max_retries"`
	MinRetryBackoff    time.Duration `json:"min_retry_backoff"`
	MaxRetryBackoff    time.Duration `json:"max_retry_backoff"`
	ScanCount          int64         `json:"scan_count"`
}

type RedisStore struct {
	ctx     context.Context
	logger  types.Logger
	config  *RedisConfig
	client  *redis.Client
	started int32
}

func NewRedisStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.Store, error) {
	var redisConfig = &RedisConfig{
		Host:               "localhost",
		Port:               6379,
		Password:           "",
		DB:                 0,
		PoolSize:           10,
		MinIdleConnections: 2,
		DialTimeout:        5 * time.Second,
		ReadTimeout:        3 * time.Second,
		WriteTimeout:       3 * time.Second,
		MaxRetries:         3,
		MinRetryBackoff:    8 * time.Millisecond,
		MaxRetryBackoff:    512 * time.Millisecond,
		ScanCount:          100,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, redisConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal redis store config")
		}
	}

	store := &RedisStore{
		ctx:     ctx,
		logger:  logger,
		config:  redisConfig,
		started: 0,
	}

	store.initClient()

	if err := store.ping(); err != nil {
		return nil, types.Errorf(types.ErrStoreConnectionFailed, "%v", err)
	}

	return store, nil
}

func (r *RedisStore) initClient() {
	addr := fmt.Sprintf("%s:%d", r.config.Host, r.config.Port)

	r.client = redis.NewClient(&redis.Options{
		Addr:            addr,
		Password:        r.config.Password,
		DB:              r.config.DB,
		PoolSize:        r.config.PoolSize,
		MinIdleConns:    r.config.MinIdleConnections,
		DialTimeout:     r.config.DialTimeout,
		ReadTimeout:     r.config.ReadTimeout,
		WriteTimeout:    r.config.WriteTimeout,
		MaxRetries:      r.config.MaxRetries,
		MinRetryBackoff: r.config.MinRetryBackoff,
		MaxRetryBackoff: r.config.MaxRetryBackoff,
	})
}

func (r *RedisStore) ping() error {
	ctx, cancel := context.WithTimeout(r.ctx, 5*time.Second)
	defer cancel()

	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Start() error {
	if !atomic.CompareAndSwapInt32(&r.started, 0, 1) {
		return nil
	}

	r.logger.Info("Redis store started",
		zap.String("host", r.config.Host),
		zap.Int("port", r.config.Port),
		zap.Int("db", r.config.DB))

	return nil
}

func (r *RedisStore) Stop() error {
	if !atomic.CompareAndSwapInt32(&r.started, 1, 0) {
		return nil
	}

	if r.client != nil {
		if err := r.client.Close(); err != nil {
			r.logger.Error("Failed to close redis client", zap.Error(err))
			return types.WrapError(err, "failed to close redis client")
		}
	}

	r.logger.Info("Redis store stopped")
	return nil
}

func (r *RedisStore) IsRunning() bool {
	return atomic.LoadInt32(&r.started) == 1
}

func (r *RedisStore) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *RedisStore) Get(ctx context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, types.ErrStoreKeyEmpty
	}

	result, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, types.ErrStoreKeyNotFound
		}
		return nil, types.WrapError(err, "failed to get key")
	}

	return result, nil
}

func (r *RedisStore) SetEx(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrStoreKeyEmpty
	}

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		return types.WrapError(err, "failed to set key")
	}

	return nil
}

func (r *RedisStore) SetNX(ctx context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, types.ErrStoreKeyEmpty
	}

	acquired, err := r.client.SetNX(ctx, key, value, ttl).Result()
	if err != nil {
		return false, types.WrapError(err, "failed to setnx key")
	}

	return acquired, nil
}

func (r *RedisStore) Del(ctx context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	removed, err := r.client.Del(ctx, keys...).Result()
	if err != nil {
		return 0, types.WrapError(err, "failed to delete keys")
	}

	return removed, nil
}

func (r *RedisStore) Exists(ctx context.Context, key string) (bool, error) {
	if key == "" {
		return false, types.ErrStoreKeyEmpty
	}

	count, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return false, types.WrapError(err, "failed to check key existence")
	}

	return count > 0, nil
}

// TTL passes the go-redis result through untouched. The client keeps
// the -1 and -2 markers unscaled, matching the types.TTL sentinels.
func (r *RedisStore) TTL(ctx context.Context, key string) (time.Duration, error) {
	if key == "" {
		return 0, types.ErrStoreKeyEmpty
	}

	result, err := r.client.TTL(ctx, key).Result()
	if err != nil {
		return 0, types.WrapError(err, "failed to get key ttl")
	}

	return result, nil
}

func (r *RedisStore) Incr(ctx context.Context, key string) (int64, error) {
	if key == "" {
		return 0, types.ErrStoreKeyEmpty
	}

	count, err := r.client.Incr(ctx, key).Result()
	if err != nil {
		if strings.Contains(err.Error(), "not an integer") {
			return 0, types.Errorf(types.ErrStoreValueNotInteger, "key: %s", key)
		}
		return 0, types.WrapError(err, "failed to increment key")
	}

	return count, nil
}

func (r *RedisStore) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, types.ErrStoreKeyEmpty
	}

	applied, err := r.client.Expire(ctx, key, ttl).Result()
	if err != nil {
		return false, types.WrapError(err, "failed to set key ttl")
	}

	return applied, nil
}

// KeysMatching walks the keyspace with SCAN. KEYS would block the
// server on large databases, so it is never used here.
func (r *RedisStore) KeysMatching(ctx context.Context, pattern string) ([]string, error) {
	var keys []string
	var cursor uint64

	for {
		batch, next, err := r.client.Scan(ctx, cursor, pattern, r.config.ScanCount).Result()
		if err != nil {
			return nil, types.WrapError(err, "failed to scan keys")
		}

		keys = append(keys, batch...)
		cursor = next

		if cursor == 0 {
			break
		}
	}

	return keys, nil
}

func (r *RedisStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	if key == "" {
		return nil, types.ErrStoreKeyEmpty
	}

	result, err := r.client.HGet(ctx, key, field).Bytes()
	if err != nil {
		if types.IsError(err, redis.Nil) {
			return nil, types.ErrStoreKeyNotFound
		}
		return nil, types.WrapError(err, "failed to get hash field")
	}

	return result, nil
}

func (r *RedisStore) HSet(ctx context.Context, key, field string, value []byte) error {
	if key == "" {
		return types.ErrStoreKeyEmpty
	}

	if err := r.client.HSet(ctx, key, field, value).Err(); err != nil {
		return types.WrapError(err, "failed to set hash field")
	}

	return nil
}

func (r *RedisStore) HDel(ctx context.Context, key string, fields ...string) error {
	if key == "" {
		return types.ErrStoreKeyEmpty
	}

	if len(fields) == 0 {
		return nil
	}

	if err := r.client.HDel(ctx, key, fields...).Err(); err != nil {
		return types.WrapError(err, "failed to delete hash fields")
	}

	return nil
}

func (r *RedisStore) HGetAll(ctx context.Context, key string) (map[string]string, error) {
	if key == "" {
		return nil, types.ErrStoreKeyEmpty
	}

	result, err := r.client.HGetAll(ctx, key).Result()
	if err != nil {
		return nil, types.WrapError(err, "failed to get hash")
	}

	return result, nil
}

func (r *RedisStore) Publish(ctx context.Context, channel string, payload []byte) (int64, error) {
	receivers, err := r.client.Publish(ctx, channel, payload).Result()
	if err != nil {
		return 0, types.WrapError(err, "failed to publish message")
	}

	return receivers, nil
}

func (r *RedisStore) Subscribe(ctx context.Context, channel string) (types.Subscription, error) {
	pubsub := r.client.Subscribe(ctx, channel)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		return nil, types.WrapError(err, "failed to subscribe to channel")
	}

	sub := &redisSubscription{
		pubsub:   pubsub,
		messages: make(chan []byte, 64),
	}

	go sub.pump(r.logger, channel)

	return sub, nil
}

type redisSubscription struct {
	pubsub    *redis.PubSub
	messages  chan []byte
	closeOnce sync.Once
}

func (s *redisSubscription) pump(logger types.Logger, channel string) {
	defer close(s.messages)

	for msg := range s.pubsub.Channel() {
		select {
		case s.messages <- []byte(msg.Payload):
		default:
			logger.Warn("Subscription buffer full, dropping message",
				zap.String("channel", channel))
		}
	}
}

func (s *redisSubscription) Messages() <-chan []byte {
	return s.messages
}

func (s *redisSubscription) Close() error {
	var err error
	s.closeOnce.Do(func() {
		err = s.pubsub.Close()
	})
	return err
}
