package cache

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

type ManagerState int32

const (
	ManagerStateStopped ManagerState = iota
	ManagerStateStarting
	ManagerStateRunning
	ManagerStateStopping
)

// Manager layers caching policies on top of the Service: read-through,
// stale-while-revalidate, entity- and tag-scoped invalidation, and the
// cross-instance invalidation broadcast.
type Manager struct {
	ctx            context.Context
	cancel         context.CancelFunc
	logger         types.Logger
	service        *Service
	broadcaster    *Broadcaster
	state          atomic.Value
	refreshTimeout time.Duration
}

func NewManager(ctx context.Context, logger types.Logger, service *Service) (*Manager, error) {
	if service == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "cache service is required")
	}

	managerCtx, cancel := context.WithCancel(ctx)

	manager := &Manager{
		ctx:            managerCtx,
		cancel:         cancel,
		logger:         logger,
		service:        service,
		refreshTimeout: 30 * time.Second,
	}

	if cfg := service.config.Invalidation; cfg != nil && cfg.Enabled {
		channel := cfg.Channel
		if channel == "" {
			channel = "cache:invalidation"
		}
		manager.broadcaster = NewBroadcaster(managerCtx, logger, service.store, channel)
	}

	manager.state.Store(ManagerStateStopped)

	return manager, nil
}

func (m *Manager) Service() *Service {
	return m.service
}

func (m *Manager) Start() error {
	if !m.transitionState(ManagerStateStopped, ManagerStateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if m.getState() == ManagerStateStarting {
			m.setState(ManagerStateRunning)
		}
	}()

	if m.broadcaster != nil {
		if err := m.broadcaster.Start(m.applyRemote); err != nil {
			m.setState(ManagerStateStopped)
			return types.WrapError(err, "failed to start invalidation broadcaster")
		}
	}

	m.logger.Info("Cache manager started")
	return nil
}

func (m *Manager) Stop() error {
	if !m.transitionState(ManagerStateRunning, ManagerStateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(ManagerStateStopped)
	}()

	if m.broadcaster != nil {
		if err := m.broadcaster.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
			m.logger.Warn("Broadcaster stop failed", zap.Error(err))
		}
	}

	m.cancel()

	m.logger.Info("Cache manager stopped")
	return nil
}

func (m *Manager) IsRunning() bool {
	return m.getState() == ManagerStateRunning
}

func (m *Manager) getState() ManagerState {
	return m.state.Load().(ManagerState)
}

func (m *Manager) setState(newState ManagerState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *Manager) transitionState(from, to ManagerState) bool {
	return m.state.CompareAndSwap(from, to)
}

// GetOrSet returns the cached value at key or fetches, caches, and
// returns it. Concurrent callers racing on the same miss may each run
// the fetcher; there is no single-flight collapse.
func GetOrSet[T any](ctx context.Context, m *Manager, key string, fetcher func(ctx context.Context) (T, error), ttl ...time.Duration) (T, error) {
	if value, found := Get[T](ctx, m.service, key); found {
		return value, nil
	}

	value, err := fetcher(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	m.service.Set(ctx, key, value, ttl...)
	return value, nil
}

// GetOrSetWithStale serves stale-while-revalidate reads. The value is
// stored with staleTTL and a side marker with freshTTL: marker present
// means fresh, value without marker means stale and is served
// immediately while one background refresh runs, neither means the
// caller blocks on a synchronous fetch.
func GetOrSetWithStale[T any](ctx context.Context, m *Manager, key string, fetcher func(ctx context.Context) (T, error), freshTTL, staleTTL time.Duration) (T, error) {
	if freshTTL <= 0 {
		freshTTL = m.service.ttlOrDefault()
	}
	if staleTTL < freshTTL {
		staleTTL = freshTTL
	}

	value, found := Get[T](ctx, m.service, key)
	if !found {
		return refreshNow(ctx, m, key, fetcher, freshTTL, staleTTL)
	}

	if m.service.Exists(ctx, freshMarkerKey(key)) {
		return value, nil
	}

	scheduleRefresh(m, key, fetcher, freshTTL, staleTTL)
	return value, nil
}

func refreshNow[T any](ctx context.Context, m *Manager, key string, fetcher func(ctx context.Context) (T, error), freshTTL, staleTTL time.Duration) (T, error) {
	value, err := fetcher(ctx)
	if err != nil {
		var zero T
		return zero, err
	}

	m.service.Set(ctx, key, value, staleTTL)
	m.service.Set(ctx, freshMarkerKey(key), 1, freshTTL)

	return value, nil
}

// scheduleRefresh starts at most one background refresh per key, guarded
// by a conditional set that expires with the refresh deadline.
func scheduleRefresh[T any](m *Manager, key string, fetcher func(ctx context.Context) (T, error), freshTTL, staleTTL time.Duration) {
	acquired, err := m.service.store.SetNX(m.ctx, refreshGuardKey(key), []byte("1"), m.refreshTimeout)
	if err != nil || !acquired {
		return
	}

	go func() {
		defer func() {
			if r := recover(); r != nil {
				m.logger.Error("Background cache refresh panicked",
					zap.String("key", key),
					zap.Any("panic", r))
			}
		}()

		refreshCtx, cancel := context.WithTimeout(m.ctx, m.refreshTimeout)
		defer cancel()

		defer func() {
			_, _ = m.service.store.Del(m.ctx, refreshGuardKey(key))
		}()

		if _, err := refreshNow(refreshCtx, m, key, fetcher, freshTTL, staleTTL); err != nil {
			m.logger.Warn("Background cache refresh failed",
				zap.String("key", key),
				zap.Error(err))
		}
	}()
}

func (m *Manager) InvalidatePattern(ctx context.Context, pattern string) int64 {
	removed := m.service.InvalidatePattern(ctx, pattern)

	m.logger.Info("Cache pattern invalidated",
		zap.String("pattern", pattern),
		zap.Int64("removed", removed))

	m.broadcast(ctx, types.InvalidationEvent{Pattern: pattern})

	return removed
}

// InvalidateEntity drops everything cached for an entity type: single
// records, list results, and the exact id when one is given.
func (m *Manager) InvalidateEntity(ctx context.Context, entityType string, entityID ...string) int64 {
	if entityType == "" {
		return 0
	}

	removed := m.invalidateEntityLocal(ctx, entityType, entityID...)

	event := types.InvalidationEvent{Entity: entityType}
	if len(entityID) > 0 {
		event.ID = entityID[0]
	}
	m.broadcast(ctx, event)

	m.logger.Info("Entity cache invalidated",
		zap.String("entity", entityType),
		zap.Int64("removed", removed))

	return removed
}

func (m *Manager) invalidateEntityLocal(ctx context.Context, entityType string, entityID ...string) int64 {
	removed := m.service.InvalidatePattern(ctx, entityType+":*")
	removed += m.service.InvalidatePattern(ctx, entityType+":list:*")

	if len(entityID) > 0 && entityID[0] != "" {
		removed += m.service.Del(ctx, EntityKey(entityType, entityID[0]))
	}

	return removed
}

// applyRemote mirrors a sibling instance's invalidation locally,
// without re-broadcasting it.
func (m *Manager) applyRemote(event types.InvalidationEvent) {
	ctx, cancel := context.WithTimeout(m.ctx, m.refreshTimeout)
	defer cancel()

	switch {
	case event.Pattern != "":
		m.service.InvalidatePattern(ctx, event.Pattern)
	case event.Tag != "":
		keys := append([]string{}, event.Keys...)
		keys = append(keys, TagKey(event.Tag))
		m.service.Del(ctx, keys...)
	case event.Entity != "":
		m.invalidateEntityLocal(ctx, event.Entity, event.ID)
	case len(event.Keys) > 0:
		m.service.Del(ctx, event.Keys...)
	}
}

func (m *Manager) broadcast(ctx context.Context, event types.InvalidationEvent) {
	if m.broadcaster == nil {
		return
	}
	m.broadcaster.Publish(ctx, event)
}
