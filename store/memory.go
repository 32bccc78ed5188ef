package store

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

type MemoryState int32

const (
	MemoryStateStopped MemoryState = iota
	MemoryStateStarting
	MemoryStateRunning
	MemoryStateStopping
)

type MemoryConfig struct {
	MaxEntries      int    `json:"max_entries"`
	CleanupInterval string `json:"cleanup_interval"`
}

type memoryEntry struct {
	value     []byte
	createdAt time.Time
	expiresAt time.Time
}

func (e *memoryEntry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

type MemoryStore struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *MemoryConfig
	entries         map[string]*memoryEntry
	hashes          map[string]map[string][]byte
	subscribers     map[string][]*memorySubscription
	hits            uint64
	misses          uint64
	evictions       uint64
	mu              sync.RWMutex
	subMu           sync.RWMutex
	state           atomic.Value
	stopCleanup     chan struct{}
	cleanupDone     chan struct{}
	shutdownTimeout time.Duration
}

func NewMemoryStore(ctx context.Context, logger types.Logger, config *types.StoreConfig) (types.Store, error) {
	var memConfig = &MemoryConfig{
		MaxEntries:      100000,
		CleanupInterval: "1m",
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory store config")
		}
	}

	storeCtx, cancel := context.WithCancel(ctx)

	store := &MemoryStore{
		ctx:             storeCtx,
		cancel:          cancel,
		logger:          logger,
		config:          memConfig,
		entries:         make(map[string]*memoryEntry),
		hashes:          make(map[string]map[string][]byte),
		subscribers:     make(map[string][]*memorySubscription),
		stopCleanup:     make(chan struct{}),
		cleanupDone:     make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	store.state.Store(MemoryStateStopped)

	return store, nil
}

func (m *MemoryStore) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Memory store is already running")
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	if m.config.CleanupInterval != "" {
		go m.startCleanupRoutine()
	} else {
		close(m.cleanupDone)
	}

	m.logger.Info("Memory store started")
	return nil
}

func (m *MemoryStore) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		m.logger.Warn("Memory store is not running")
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
	}()

	m.cancel()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-m.stopCleanup:
		default:
			close(m.stopCleanup)
		}

		select {
		case <-m.cleanupDone:
			m.logger.Debug("Cleanup routine stopped")
		case <-time.After(5 * time.Second):
			m.logger.Warn("Cleanup routine stop timeout")
		}

		return nil
	})

	g.Go(func() error {
		m.subMu.Lock()
		for _, subs := range m.subscribers {
			for _, sub := range subs {
				sub.closeChannel()
			}
		}
		m.subscribers = make(map[string][]*memorySubscription)
		m.subMu.Unlock()

		m.mu.Lock()
		entriesCount := len(m.entries)
		m.entries = make(map[string]*memoryEntry)
		m.hashes = make(map[string]map[string][]byte)
		m.mu.Unlock()

		m.logger.Info("Memory store cleared", zap.Int("cleared_entries", entriesCount))
		return nil
	})

	if err := g.Wait(); err != nil {
		select {
		case <-gCtx.Done():
			m.logger.Warn("Memory store stop timeout, some components may not have stopped gracefully")
		default:
			m.logger.Error("Error during memory store shutdown", zap.Error(err))
		}
	} else {
		m.logger.Info("Memory store stopped gracefully")
	}

	return nil
}

func (m *MemoryStore) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryStore) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryStore) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryStore) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *MemoryStore) Ping(_ context.Context) error {
	if !m.IsRunning() {
		return types.ErrStoreNotRunning
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, key string) ([]byte, error) {
	if key == "" {
		return nil, types.ErrStoreKeyEmpty
	}

	now := time.Now()

	m.mu.RLock()
	entry, exists := m.entries[key]
	if !exists {
		m.mu.RUnlock()
		atomic.AddUint64(&m.misses, 1)
		return nil, types.ErrStoreKeyNotFound
	}

	if entry.expired(now) {
		m.mu.RUnlock()
		m.mu.Lock()
		if entry, exists := m.entries[key]; exists && entry.expired(now) {
			delete(m.entries, key)
		}
		m.mu.Unlock()

		atomic.AddUint64(&m.misses, 1)
		return nil, types.ErrStoreKeyNotFound
	}

	value := make([]byte, len(entry.value))
	copy(value, entry.value)
	m.mu.RUnlock()

	atomic.AddUint64(&m.hits, 1)

	return value, nil
}

func (m *MemoryStore) SetEx(_ context.Context, key string, value []byte, ttl time.Duration) error {
	if key == "" {
		return types.ErrStoreKeyEmpty
	}

	now := time.Now()
	entry := &memoryEntry{
		value:     make([]byte, len(value)),
		createdAt: now,
	}
	copy(entry.value, value)

	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.config.MaxEntries > 0 {
		if _, exists := m.entries[key]; !exists && len(m.entries) >= m.config.MaxEntries {
			m.evictOneUnsafe()
		}
	}

	m.entries[key] = entry
	delete(m.hashes, key)

	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key string, value []byte, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, types.ErrStoreKeyEmpty
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	if entry, exists := m.entries[key]; exists && !entry.expired(now) {
		return false, nil
	}

	entry := &memoryEntry{
		value:     make([]byte, len(value)),
		createdAt: now,
	}
	copy(entry.value, value)

	if ttl > 0 {
		entry.expiresAt = now.Add(ttl)
	}

	m.entries[key] = entry

	return true, nil
}

func (m *MemoryStore) Del(_ context.Context, keys ...string) (int64, error) {
	if len(keys) == 0 {
		return 0, nil
	}

	now := time.Now()
	var removed int64

	m.mu.Lock()
	defer m.mu.Unlock()

	for _, key := range keys {
		if entry, exists := m.entries[key]; exists {
			delete(m.entries, key)
			if !entry.expired(now) {
				removed++
			}
			continue
		}
		if _, exists := m.hashes[key]; exists {
			delete(m.hashes, key)
			removed++
		}
	}

	return removed, nil
}

func (m *MemoryStore) Exists(_ context.Context, key string) (bool, error) {
	if key == "" {
		return false, types.ErrStoreKeyEmpty
	}

	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	if entry, exists := m.entries[key]; exists && !entry.expired(now) {
		return true, nil
	}

	if _, exists := m.hashes[key]; exists {
		return true, nil
	}

	return false, nil
}

func (m *MemoryStore) TTL(_ context.Context, key string) (time.Duration, error) {
	if key == "" {
		return 0, types.ErrStoreKeyEmpty
	}

	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.entries[key]
	if !exists || entry.expired(now) {
		if _, hashExists := m.hashes[key]; hashExists {
			return types.TTLNoExpiry, nil
		}
		return types.TTLNotFound, nil
	}

	if entry.expiresAt.IsZero() {
		return types.TTLNoExpiry, nil
	}

	return entry.expiresAt.Sub(now), nil
}

func (m *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	if key == "" {
		return 0, types.ErrStoreKeyEmpty
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[key]
	if !exists || entry.expired(now) {
		m.entries[key] = &memoryEntry{
			value:     []byte("1"),
			createdAt: now,
		}
		return 1, nil
	}

	current, err := strconv.ParseInt(string(entry.value), 10, 64)
	if err != nil {
		return 0, types.Errorf(types.ErrStoreValueNotInteger, "key: %s", key)
	}

	current++
	entry.value = strconv.AppendInt(entry.value[:0], current, 10)

	return current, nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) (bool, error) {
	if key == "" {
		return false, types.ErrStoreKeyEmpty
	}

	now := time.Now()

	m.mu.Lock()
	defer m.mu.Unlock()

	entry, exists := m.entries[key]
	if !exists || entry.expired(now) {
		return false, nil
	}

	if ttl <= 0 {
		delete(m.entries, key)
		return true, nil
	}

	entry.expiresAt = now.Add(ttl)
	return true, nil
}

func (m *MemoryStore) KeysMatching(_ context.Context, pattern string) ([]string, error) {
	now := time.Now()

	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for key, entry := range m.entries {
		if entry.expired(now) {
			continue
		}
		if matchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}

	for key := range m.hashes {
		if matchPattern(pattern, key) {
			keys = append(keys, key)
		}
	}

	return keys, nil
}

func (m *MemoryStore) HGet(_ context.Context, key, field string) ([]byte, error) {
	if key == "" {
		return nil, types.ErrStoreKeyEmpty
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	hash, exists := m.hashes[key]
	if !exists {
		return nil, types.ErrStoreKeyNotFound
	}

	value, exists := hash[field]
	if !exists {
		return nil, types.ErrStoreKeyNotFound
	}

	result := make([]byte, len(value))
	copy(result, value)

	return result, nil
}

func (m *MemoryStore) HSet(_ context.Context, key, field string, value []byte) error {
	if key == "" {
		return types.ErrStoreKeyEmpty
	}

	stored := make([]byte, len(value))
	copy(stored, value)

	m.mu.Lock()
	defer m.mu.Unlock()

	hash, exists := m.hashes[key]
	if !exists {
		hash = make(map[string][]byte)
		m.hashes[key] = hash
	}

	hash[field] = stored

	return nil
}

func (m *MemoryStore) HDel(_ context.Context, key string, fields ...string) error {
	if key == "" {
		return types.ErrStoreKeyEmpty
	}

	if len(fields) == 0 {
		return nil
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	hash, exists := m.hashes[key]
	if !exists {
		return nil
	}

	for _, field := range fields {
		delete(hash, field)
	}

	if len(hash) == 0 {
		delete(m.hashes, key)
	}

	return nil
}

func (m *MemoryStore) HGetAll(_ context.Context, key string) (map[string]string, error) {
	if key == "" {
		return nil, types.ErrStoreKeyEmpty
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	result := make(map[string]string)
	for field, value := range m.hashes[key] {
		result[field] = string(value)
	}

	return result, nil
}

func (m *MemoryStore) Publish(_ context.Context, channel string, payload []byte) (int64, error) {
	m.subMu.RLock()
	subs := make([]*memorySubscription, len(m.subscribers[channel]))
	copy(subs, m.subscribers[channel])
	m.subMu.RUnlock()

	var delivered int64
	for _, sub := range subs {
		message := make([]byte, len(payload))
		copy(message, payload)

		if sub.deliver(message) {
			delivered++
		} else {
			m.logger.Warn("Subscriber buffer full, dropping message",
				zap.String("channel", channel))
		}
	}

	return delivered, nil
}

func (m *MemoryStore) Subscribe(_ context.Context, channel string) (types.Subscription, error) {
	sub := &memorySubscription{
		store:    m,
		channel:  channel,
		messages: make(chan []byte, 64),
	}

	m.subMu.Lock()
	m.subscribers[channel] = append(m.subscribers[channel], sub)
	m.subMu.Unlock()

	return sub, nil
}

func (m *MemoryStore) unsubscribe(sub *memorySubscription) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	subs := m.subscribers[sub.channel]
	for i, candidate := range subs {
		if candidate == sub {
			m.subscribers[sub.channel] = append(subs[:i], subs[i+1:]...)
			break
		}
	}

	if len(m.subscribers[sub.channel]) == 0 {
		delete(m.subscribers, sub.channel)
	}
}

func (m *MemoryStore) evictOneUnsafe() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range m.entries {
		if oldestKey == "" || entry.createdAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.createdAt
		}
	}

	if oldestKey != "" {
		delete(m.entries, oldestKey)
		atomic.AddUint64(&m.evictions, 1)
	}
}

func (m *MemoryStore) cleanup() {
	now := time.Now()

	m.mu.Lock()

	var expired []string
	for key, entry := range m.entries {
		if entry.expired(now) {
			expired = append(expired, key)
		}
	}

	for _, key := range expired {
		delete(m.entries, key)
	}

	m.mu.Unlock()

	if len(expired) > 0 {
		m.logger.Debug("Cleanup completed", zap.Int("expired_entries", len(expired)))
	}
}

func (m *MemoryStore) startCleanupRoutine() {
	defer close(m.cleanupDone)

	cleanupInterval, err := time.ParseDuration(m.config.CleanupInterval)
	if err != nil {
		m.logger.Error("Invalid cleanup interval, using default 1m",
			zap.String("interval", m.config.CleanupInterval),
			zap.Error(err))
		cleanupInterval = time.Minute
	}

	ticker := time.NewTicker(cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.ctx.Done():
			m.logger.Debug("Cleanup routine stopped by context")
			return
		case <-m.stopCleanup:
			m.logger.Debug("Cleanup routine stopped by signal")
			return
		case <-ticker.C:
			m.cleanup()
		}
	}
}

type memorySubscription struct {
	store     *MemoryStore
	channel   string
	messages  chan []byte
	closeOnce sync.Once
	closedMu  sync.RWMutex
	closed    bool
}

func (s *memorySubscription) deliver(message []byte) bool {
	s.closedMu.RLock()
	defer s.closedMu.RUnlock()

	if s.closed {
		return false
	}

	select {
	case s.messages <- message:
		return true
	default:
		return false
	}
}

func (s *memorySubscription) Messages() <-chan []byte {
	return s.messages
}

func (s *memorySubscription) Close() error {
	s.store.unsubscribe(s)
	s.closeChannel()
	return nil
}

func (s *memorySubscription) closeChannel() {
	s.closeOnce.Do(func() {
		s.closedMu.Lock()
		s.closed = true
		s.closedMu.Unlock()
		close(s.messages)
	})
}
