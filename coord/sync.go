package coord

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/types"
)

// SyncGuard serializes work on a named resource across instances using
// the cache layer's advisory locks. Typical use is wrapping a sync call
// to an external system so the same record is never pushed twice
// concurrently.
type SyncGuard struct {
	logger  types.Logger
	service *cache.Service
	ttl     time.Duration
}

func NewSyncGuard(logger types.Logger, service *cache.Service, ttl ...time.Duration) *SyncGuard {
	guard := &SyncGuard{
		logger:  logger,
		service: service,
	}

	if len(ttl) > 0 {
		guard.ttl = ttl[0]
	}

	return guard
}

// WithLock runs fn while holding the resource's lock. A lock held
// elsewhere reports ErrSyncInProgress immediately; callers retry later
// instead of blocking. The lock is released on every path out of fn,
// panics included. A degraded store never grants the lock, so the
// guarded section stays closed rather than running unprotected.
func (g *SyncGuard) WithLock(ctx context.Context, resource string, fn func(ctx context.Context) error) error {
	if resource == "" {
		return types.Errorf(types.ErrInvalidParameter, "resource name is required")
	}

	if fn == nil {
		return types.Errorf(types.ErrInvalidParameter, "sync function is required")
	}

	token, acquired := g.service.AcquireLock(ctx, resource, g.ttl)
	if !acquired {
		return types.Errorf(types.ErrSyncInProgress, "resource: %s", resource)
	}

	defer func() {
		if !g.service.ReleaseLock(ctx, resource, token) {
			g.logger.Warn("Sync lock was not released cleanly",
				zap.String("resource", resource))
		}
	}()

	return fn(ctx)
}
