package warmer

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/types"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

const backgroundJobName = "cache:background-warming"

// Warmer holds a registry of warmup tasks and populates their cache
// entries on demand, on a schedule, or just before natural expiry.
// One warming pass runs at a time process-wide.
type Warmer struct {
	ctx         context.Context
	cancel      context.CancelFunc
	logger      types.Logger
	service     *cache.Service
	cron        types.CronManager
	config      *types.WarmupConfig
	tasks       []types.WarmupTask
	tasksMu     sync.RWMutex
	metrics     atomic.Value
	warming     int32
	bgActive    int32
	state       atomic.Value
	refreshDone chan struct{}
}

func NewWarmer(ctx context.Context, logger types.Logger, service *cache.Service, cronManager types.CronManager, config *types.WarmupConfig) (types.Warmer, error) {
	if service == nil {
		return nil, types.Errorf(types.ErrInvalidParameter, "cache service is required")
	}

	if config == nil {
		config = &types.WarmupConfig{MaxParallel: 4}
	}

	warmerCtx, cancel := context.WithCancel(ctx)

	warmer := &Warmer{
		ctx:         warmerCtx,
		cancel:      cancel,
		logger:      logger,
		service:     service,
		cron:        cronManager,
		config:      config,
		refreshDone: make(chan struct{}),
	}

	warmer.state.Store(StateStopped)
	warmer.metrics.Store(types.WarmupMetrics{})

	return warmer, nil
}

func (w *Warmer) Start() error {
	if !w.transitionState(StateStopped, StateStarting) {
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if w.getState() == StateStarting {
			w.setState(StateRunning)
		}
	}()

	if w.config.WarmOnStart {
		go func() {
			defer func() {
				if r := recover(); r != nil {
					w.logger.Error("Startup warming panicked", zap.Any("panic", r))
				}
			}()
			w.WarmAll(w.ctx)
		}()
	}

	if w.config.Interval > 0 && w.cron != nil {
		if err := w.StartBackgroundWarming(w.config.Interval); err != nil {
			w.logger.Warn("Background warming not scheduled", zap.Error(err))
		}
	}

	if w.config.RefreshInterval > 0 && w.config.RefreshThreshold > 0 {
		go w.refreshLoop()
	} else {
		close(w.refreshDone)
	}

	w.logger.Info("Cache warmer started")
	return nil
}

func (w *Warmer) Stop() error {
	if !w.transitionState(StateRunning, StateStopping) {
		return types.ErrServerNotRunning
	}

	defer func() {
		w.setState(StateStopped)
	}()

	if err := w.StopBackgroundWarming(); err != nil {
		w.logger.Warn("Failed to stop background warming", zap.Error(err))
	}

	w.cancel()

	select {
	case <-w.refreshDone:
	case <-time.After(5 * time.Second):
		w.logger.Warn("Refresh loop stop timeout")
	}

	w.logger.Info("Cache warmer stopped")
	return nil
}

func (w *Warmer) IsRunning() bool {
	return w.getState() == StateRunning
}

func (w *Warmer) Register(task types.WarmupTask) {
	w.tasksMu.Lock()
	w.tasks = append(w.tasks, task)
	w.tasksMu.Unlock()
}

func (w *Warmer) RegisterBatch(tasks []types.WarmupTask) {
	w.tasksMu.Lock()
	w.tasks = append(w.tasks, tasks...)
	w.tasksMu.Unlock()
}

func (w *Warmer) WarmAll(ctx context.Context, options ...types.WarmupOptions) types.WarmupMetrics {
	return w.warm(ctx, "", w.options(options...))
}

func (w *Warmer) WarmCategory(ctx context.Context, category string, options ...types.WarmupOptions) types.WarmupMetrics {
	return w.warm(ctx, category, w.options(options...))
}

// warm runs one warming pass over the matching tasks, highest priority
// first. A pass that finds another already running returns the current
// metrics snapshot untouched.
func (w *Warmer) warm(ctx context.Context, category string, options types.WarmupOptions) types.WarmupMetrics {
	if !atomic.CompareAndSwapInt32(&w.warming, 0, 1) {
		w.logger.Warn("Warming pass already running, skipping")
		return w.Metrics()
	}
	defer atomic.StoreInt32(&w.warming, 0)

	tasks := w.snapshot(category)

	metrics := types.WarmupMetrics{
		TotalTasks: int64(len(tasks)),
		StartedAt:  time.Now(),
	}

	if len(tasks) == 0 {
		metrics.CompletedAt = metrics.StartedAt
		w.metrics.Store(metrics)
		return metrics
	}

	var successful, failed int64

	if options.Parallel && options.MaxParallel > 1 {
		for start := 0; start < len(tasks); start += options.MaxParallel {
			end := min(start+options.MaxParallel, len(tasks))

			g, gCtx := errgroup.WithContext(ctx)
			for _, task := range tasks[start:end] {
				task := task
				g.Go(func() error {
					if w.warmSingle(gCtx, task) {
						atomic.AddInt64(&successful, 1)
					} else {
						atomic.AddInt64(&failed, 1)
					}
					return nil
				})
			}
			_ = g.Wait()
		}
	} else {
		for _, task := range tasks {
			if w.warmSingle(ctx, task) {
				successful++
			} else {
				failed++
			}
		}
	}

	metrics.SuccessfulTasks = successful
	metrics.FailedTasks = failed
	metrics.CompletedAt = time.Now()
	metrics.TotalTimeMs = metrics.CompletedAt.Sub(metrics.StartedAt).Milliseconds()

	w.metrics.Store(metrics)

	w.logger.Info("Warming pass completed",
		zap.String("category", category),
		zap.Int64("total", metrics.TotalTasks),
		zap.Int64("successful", metrics.SuccessfulTasks),
		zap.Int64("failed", metrics.FailedTasks),
		zap.Int64("duration_ms", metrics.TotalTimeMs))

	return metrics
}

// warmSingle treats an existing key as already warm. Fetcher errors and
// panics mark the task failed without aborting the pass.
func (w *Warmer) warmSingle(ctx context.Context, task types.WarmupTask) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Warmup fetcher panicked",
				zap.String("key", task.Key),
				zap.Any("panic", r))
			ok = false
		}
	}()

	if task.Key == "" || task.Fetcher == nil {
		w.logger.Warn("Skipping invalid warmup task", zap.String("key", task.Key))
		return false
	}

	if w.service.Exists(ctx, task.Key) {
		return true
	}

	value, err := task.Fetcher(ctx)
	if err != nil {
		w.logger.Warn("Warmup fetch failed",
			zap.String("key", task.Key),
			zap.Error(err))
		return false
	}

	w.service.Set(ctx, task.Key, value, task.TTL)
	return true
}

// WarmExpiringSoon force-refreshes every registered task whose entry
// expires within threshold. The refresh bypasses the exists check,
// which would otherwise leave a still-live key unrefreshable.
func (w *Warmer) WarmExpiringSoon(ctx context.Context, threshold time.Duration) int {
	if threshold <= 0 {
		return 0
	}

	w.tasksMu.RLock()
	tasks := make([]types.WarmupTask, len(w.tasks))
	copy(tasks, w.tasks)
	w.tasksMu.RUnlock()

	refreshed := 0
	for _, task := range tasks {
		if task.Key == "" || task.Fetcher == nil {
			continue
		}

		ttl, err := w.service.TTL(ctx, task.Key)
		if err != nil || ttl <= 0 || ttl > threshold {
			continue
		}

		if w.refreshTask(ctx, task) {
			refreshed++
		}
	}

	if refreshed > 0 {
		w.logger.Debug("Refreshed expiring entries", zap.Int("count", refreshed))
	}

	return refreshed
}

func (w *Warmer) refreshTask(ctx context.Context, task types.WarmupTask) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("Warmup fetcher panicked",
				zap.String("key", task.Key),
				zap.Any("panic", r))
			ok = false
		}
	}()

	value, err := task.Fetcher(ctx)
	if err != nil {
		w.logger.Warn("Expiring entry refresh failed",
			zap.String("key", task.Key),
			zap.Error(err))
		return false
	}

	w.service.Set(ctx, task.Key, value, task.TTL)
	return true
}

// StartBackgroundWarming schedules a repeating full parallel pass.
// Calling it while a schedule is active is a no-op.
func (w *Warmer) StartBackgroundWarming(interval time.Duration) error {
	if w.cron == nil {
		return types.Errorf(types.ErrNotSupported, "background warming requires a cron manager")
	}

	if interval <= 0 {
		return types.Errorf(types.ErrInvalidParameter, "warming interval must be positive")
	}

	if !atomic.CompareAndSwapInt32(&w.bgActive, 0, 1) {
		return nil
	}

	err := w.cron.Add(backgroundJobName, fmt.Sprintf("@every %s", interval), w.backgroundPass)
	if err != nil {
		atomic.StoreInt32(&w.bgActive, 0)
		return types.WrapError(err, "failed to schedule background warming")
	}

	w.logger.Info("Background warming scheduled", zap.Duration("interval", interval))
	return nil
}

func (w *Warmer) StopBackgroundWarming() error {
	if !atomic.CompareAndSwapInt32(&w.bgActive, 1, 0) {
		return nil
	}

	if err := w.cron.Remove(backgroundJobName); err != nil && !types.IsError(err, types.ErrCronJobNotFound) {
		return types.WrapError(err, "failed to remove background warming job")
	}

	w.logger.Info("Background warming stopped")
	return nil
}

func (w *Warmer) Metrics() types.WarmupMetrics {
	if metrics, ok := w.metrics.Load().(types.WarmupMetrics); ok {
		return metrics
	}
	return types.WarmupMetrics{}
}

func (w *Warmer) backgroundPass() {
	w.WarmAll(w.ctx, types.WarmupOptions{Parallel: true, MaxParallel: w.maxParallel()})
}

func (w *Warmer) refreshLoop() {
	defer close(w.refreshDone)

	ticker := time.NewTicker(w.config.RefreshInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.ctx.Done():
			return
		case <-ticker.C:
			w.WarmExpiringSoon(w.ctx, w.config.RefreshThreshold)
		}
	}
}

// snapshot copies the matching tasks and stable-sorts them by priority
// descending, ties keeping registration order.
func (w *Warmer) snapshot(category string) []types.WarmupTask {
	w.tasksMu.RLock()
	tasks := make([]types.WarmupTask, 0, len(w.tasks))
	for _, task := range w.tasks {
		if category != "" && task.Category != category {
			continue
		}
		tasks = append(tasks, task)
	}
	w.tasksMu.RUnlock()

	sort.SliceStable(tasks, func(i, j int) bool {
		return tasks[i].Priority > tasks[j].Priority
	})

	return tasks
}

// options resolves the effective pass options, falling back to the
// configured defaults when the caller passes none.
func (w *Warmer) options(options ...types.WarmupOptions) types.WarmupOptions {
	if len(options) > 0 {
		opts := options[0]
		if opts.MaxParallel <= 0 {
			opts.MaxParallel = w.maxParallel()
		}
		return opts
	}

	return types.WarmupOptions{
		Parallel:    w.config.Parallel,
		MaxParallel: w.maxParallel(),
	}
}

func (w *Warmer) maxParallel() int {
	if w.config.MaxParallel > 0 {
		return w.config.MaxParallel
	}
	return 4
}

func (w *Warmer) getState() State {
	return w.state.Load().(State)
}

func (w *Warmer) setState(newState State) bool {
	currentState := w.getState()
	return w.state.CompareAndSwap(currentState, newState)
}

func (w *Warmer) transitionState(from, to State) bool {
	return w.state.CompareAndSwap(from, to)
}
