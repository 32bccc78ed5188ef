package coord

import (
	"context"
	"fmt"
	"strconv"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/store"
	"github.com/saiset-co/sai-cache/types"
)

func newTestGuard(t *testing.T) (*miniredis.Miniredis, *cache.Service, *SyncGuard) {
	t.Helper()

	mr := miniredis.RunT(t)
	port, err := strconv.Atoi(mr.Port())
	require.NoError(t, err)

	log := logger.NewZapWrapper(zap.NewNop())

	backend, err := store.NewRedisStore(context.Background(), log, &types.StoreConfig{
		Type:   "redis",
		Config: map[string]interface{}{"host": mr.Host(), "port": port},
	})
	require.NoError(t, err)
	require.NoError(t, backend.Start())
	t.Cleanup(func() { _ = backend.Stop() })

	service, err := cache.NewService(context.Background(), log, backend, nil)
	require.NoError(t, err)

	return mr, service, NewSyncGuard(log, service, 30*time.Second)
}

func TestSyncGuardRunsFunction(t *testing.T) {
	_, _, guard := newTestGuard(t)
	ctx := context.Background()

	ran := false
	err := guard.WithLock(ctx, "orders-export", func(ctx context.Context) error {
		ran = true
		return nil
	})
	require.NoError(t, err)
	assert.True(t, ran)

	// Released on return: the next run acquires immediately.
	err = guard.WithLock(ctx, "orders-export", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestSyncGuardRejectsWhileHeld(t *testing.T) {
	_, _, guard := newTestGuard(t)
	ctx := context.Background()

	held := make(chan struct{})
	release := make(chan struct{})
	firstDone := make(chan error, 1)

	go func() {
		firstDone <- guard.WithLock(ctx, "orders-export", func(ctx context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()

	select {
	case <-held:
	case <-time.After(2 * time.Second):
		t.Fatal("first holder never entered the guarded section")
	}

	err := guard.WithLock(ctx, "orders-export", func(ctx context.Context) error {
		t.Error("guarded section ran concurrently")
		return nil
	})
	assert.True(t, types.IsError(err, types.ErrSyncInProgress))

	// A different resource is not serialized against this one.
	err = guard.WithLock(ctx, "invoices-export", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)

	close(release)
	require.NoError(t, <-firstDone)

	err = guard.WithLock(ctx, "orders-export", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestSyncGuardReleasesOnError(t *testing.T) {
	_, _, guard := newTestGuard(t)
	ctx := context.Background()

	boom := fmt.Errorf("push rejected")
	err := guard.WithLock(ctx, "orders-export", func(ctx context.Context) error {
		return boom
	})
	assert.Equal(t, boom, err)

	err = guard.WithLock(ctx, "orders-export", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestSyncGuardReleasesOnPanic(t *testing.T) {
	_, _, guard := newTestGuard(t)
	ctx := context.Background()

	assert.Panics(t, func() {
		_ = guard.WithLock(ctx, "orders-export", func(ctx context.Context) error {
			panic("sync bug")
		})
	})

	err := guard.WithLock(ctx, "orders-export", func(ctx context.Context) error { return nil })
	assert.NoError(t, err)
}

func TestSyncGuardValidation(t *testing.T) {
	_, _, guard := newTestGuard(t)
	ctx := context.Background()

	err := guard.WithLock(ctx, "", func(ctx context.Context) error { return nil })
	assert.True(t, types.IsError(err, types.ErrInvalidParameter))

	err = guard.WithLock(ctx, "orders-export", nil)
	assert.True(t, types.IsError(err, types.ErrInvalidParameter))
}

func TestSyncGuardDegradedStoreStaysClosed(t *testing.T) {
	mr, _, guard := newTestGuard(t)
	ctx := context.Background()

	mr.SetError("connection refused")
	defer mr.SetError("")

	err := guard.WithLock(ctx, "orders-export", func(ctx context.Context) error {
		t.Error("guarded section ran without the lock")
		return nil
	})
	assert.True(t, types.IsError(err, types.ErrSyncInProgress))
}
