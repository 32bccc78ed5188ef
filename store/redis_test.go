package store

import (
	"context"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

func newTestRedisStore(t *testing.T) (*miniredis.Miniredis, types.Store) {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	store, err := NewRedisStore(context.Background(), logger.NewZapWrapper(zap.NewNop()), &types.StoreConfig{
		Type: "redis",
		Config: map[string]interface{}{
			"host": mr.Host(),
			"port": port,
		},
	})
	require.NoError(t, err)
	require.NoError(t, store.Start())
	t.Cleanup(func() { _ = store.Stop() })

	return mr, store
}

func TestRedisStoreRoundTrip(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "key", []byte("value"), time.Minute))

	value, err := store.Get(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, []byte("value"), value)

	exists, err := store.Exists(ctx, "key")
	require.NoError(t, err)
	assert.True(t, exists)

	removed, err := store.Del(ctx, "key")
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	exists, err = store.Exists(ctx, "key")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestRedisStoreMissingKey(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()

	_, err := store.Get(ctx, "missing")
	assert.True(t, types.IsError(err, types.ErrStoreKeyNotFound))

	_, err = store.Get(ctx, "")
	assert.True(t, types.IsError(err, types.ErrStoreKeyEmpty))
}

func TestRedisStoreTTLSentinels(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()

	ttl, err := store.TTL(ctx, "missing")
	require.NoError(t, err)
	assert.Equal(t, types.TTLNotFound, ttl)

	require.NoError(t, store.SetEx(ctx, "durable", []byte("x"), 0))
	ttl, err = store.TTL(ctx, "durable")
	require.NoError(t, err)
	assert.Equal(t, types.TTLNoExpiry, ttl)

	require.NoError(t, store.SetEx(ctx, "expiring", []byte("x"), time.Minute))
	ttl, err = store.TTL(ctx, "expiring")
	require.NoError(t, err)
	assert.True(t, ttl > 0 && ttl <= time.Minute)
}

func TestRedisStoreExpiry(t *testing.T) {
	mr, store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "key", []byte("value"), 2*time.Second))

	mr.FastForward(3 * time.Second)

	_, err := store.Get(ctx, "key")
	assert.True(t, types.IsError(err, types.ErrStoreKeyNotFound))
}

func TestRedisStoreSetNX(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()

	acquired, err := store.SetNX(ctx, "lock", []byte("a"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)

	acquired, err = store.SetNX(ctx, "lock", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.False(t, acquired)

	value, err := store.Get(ctx, "lock")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), value)

	_, err = store.Del(ctx, "lock")
	require.NoError(t, err)

	acquired, err = store.SetNX(ctx, "lock", []byte("b"), time.Minute)
	require.NoError(t, err)
	assert.True(t, acquired)
}

func TestRedisStoreDelCount(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, store.SetEx(ctx, "b", []byte("2"), time.Minute))

	removed, err := store.Del(ctx, "a", "b", "missing")
	require.NoError(t, err)
	assert.Equal(t, int64(2), removed)

	removed, err = store.Del(ctx)
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestRedisStoreIncr(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()

	for want := int64(1); want <= 3; want++ {
		count, err := store.Incr(ctx, "counter")
		require.NoError(t, err)
		assert.Equal(t, want, count)
	}

	require.NoError(t, store.SetEx(ctx, "text", []byte("not a number"), time.Minute))
	_, err := store.Incr(ctx, "text")
	assert.True(t, types.IsError(err, types.ErrStoreValueNotInteger))
}

func TestRedisStoreExpire(t *testing.T) {
	mr, store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "key", []byte("value"), 0))

	applied, err := store.Expire(ctx, "key", 2*time.Second)
	require.NoError(t, err)
	assert.True(t, applied)

	applied, err = store.Expire(ctx, "missing", time.Minute)
	require.NoError(t, err)
	assert.False(t, applied)

	mr.FastForward(3 * time.Second)

	_, err = store.Get(ctx, "key")
	assert.True(t, types.IsError(err, types.ErrStoreKeyNotFound))
}

func TestRedisStoreKeysMatching(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.SetEx(ctx, "user:1", []byte("a"), time.Minute))
	require.NoError(t, store.SetEx(ctx, "user:2", []byte("b"), time.Minute))
	require.NoError(t, store.SetEx(ctx, "order:1", []byte("c"), time.Minute))

	keys, err := store.KeysMatching(ctx, "user:*")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"user:1", "user:2"}, keys)

	keys, err = store.KeysMatching(ctx, "session:*")
	require.NoError(t, err)
	assert.Empty(t, keys)
}

func TestRedisStoreHashes(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()

	require.NoError(t, store.HSet(ctx, "user:1:keys", "k1", []byte("first")))
	require.NoError(t, store.HSet(ctx, "user:1:keys", "k2", []byte("second")))

	value, err := store.HGet(ctx, "user:1:keys", "k1")
	require.NoError(t, err)
	assert.Equal(t, []byte("first"), value)

	_, err = store.HGet(ctx, "user:1:keys", "absent")
	assert.True(t, types.IsError(err, types.ErrStoreKeyNotFound))

	all, err := store.HGetAll(ctx, "user:1:keys")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k1": "first", "k2": "second"}, all)

	require.NoError(t, store.HDel(ctx, "user:1:keys", "k1"))

	all, err = store.HGetAll(ctx, "user:1:keys")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"k2": "second"}, all)

	all, err = store.HGetAll(ctx, "missing")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestRedisStorePubSub(t *testing.T) {
	_, store := newTestRedisStore(t)
	ctx := context.Background()

	sub, err := store.Subscribe(ctx, "events")
	require.NoError(t, err)
	defer sub.Close()

	receivers, err := store.Publish(ctx, "events", []byte("hello"))
	require.NoError(t, err)
	assert.Equal(t, int64(1), receivers)

	select {
	case msg := <-sub.Messages():
		assert.Equal(t, []byte("hello"), msg)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestRedisStorePing(t *testing.T) {
	_, store := newTestRedisStore(t)
	assert.NoError(t, store.Ping(context.Background()))
}
