package saicache

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/saiset-co/sai-cache/cache"
	"github.com/saiset-co/sai-cache/config"
	"github.com/saiset-co/sai-cache/cron"
	"github.com/saiset-co/sai-cache/health"
	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/metrics"
	"github.com/saiset-co/sai-cache/store"
	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/warmer"
)

type State int32

const (
	StateStopped State = iota
	StateStarting
	StateRunning
	StateStopping
)

// Service wires the cache stack from a YAML config: config manager,
// logger, metrics, health, cron, store, cache service and manager,
// warmer, and the diagnostics endpoint. Components are constructed
// eagerly and started in dependency order; Stop unwinds in reverse.
// There are no package-level singletons; embedders hold the Service
// and pass its components to their call sites.
type Service struct {
	ctx             context.Context
	cancel          context.CancelFunc
	configPath      string
	done            chan struct{}
	wg              sync.WaitGroup
	state           atomic.Value
	shutdownTimeout time.Duration
	startTimeout    time.Duration

	config      types.ConfigManager
	logger      types.LoggerManager
	metrics     types.MetricsManager
	health      types.HealthManager
	cron        types.CronManager
	store       types.Store
	cache       *cache.Service
	manager     *cache.Manager
	warmer      types.Warmer
	diagnostics *diagnosticsServer
}

func NewService(ctx context.Context, configPath string) (*Service, error) {
	if configPath == "" {
		return nil, types.ErrConfigInvalidPath
	}

	if _, err := os.Stat(configPath); err != nil {
		return nil, types.WrapError(err, "file does not exist")
	}

	serviceCtx, cancel := context.WithCancel(ctx)

	service := &Service{
		ctx:             serviceCtx,
		cancel:          cancel,
		configPath:      configPath,
		done:            make(chan struct{}),
		shutdownTimeout: 30 * time.Second,
		startTimeout:    60 * time.Second,
	}

	service.state.Store(StateStopped)

	if err := service.registerComponents(serviceCtx); err != nil {
		cancel()
		return nil, types.WrapError(err, "failed to register components")
	}

	return service, nil
}

func (s *Service) registerComponents(ctx context.Context) error {
	configManager, err := config.NewConfigurationManager(ctx, s.configPath)
	if err != nil {
		return types.WrapError(err, "failed to register config manager")
	}
	s.config = configManager

	cfg := configManager.GetConfig()

	loggerManager, err := logger.NewManager(ctx, configManager)
	if err != nil {
		return types.WrapError(err, "failed to register logger")
	}
	s.logger = loggerManager

	if cfg.Metrics != nil && cfg.Metrics.Enabled {
		metricsManager, err := metrics.NewManager(ctx, configManager, loggerManager)
		if err != nil {
			return types.WrapError(err, "failed to register metrics manager")
		}
		s.metrics = metricsManager
	}

	if cfg.Health != nil && cfg.Health.Enabled {
		healthManager, err := health.NewManager(ctx, configManager, loggerManager)
		if err != nil {
			return types.WrapError(err, "failed to register health manager")
		}
		s.health = healthManager
	}

	if cfg.Cron != nil && cfg.Cron.Enabled {
		cronManager, err := cron.NewManager(ctx, configManager, loggerManager, s.metrics)
		if err != nil {
			return types.WrapError(err, "failed to register cron manager")
		}
		s.cron = cronManager
	}

	storeBackend, err := store.NewStore(ctx, configManager, loggerManager, s.metrics)
	if err != nil {
		return types.WrapError(err, "failed to register store")
	}
	s.store = storeBackend

	if s.health != nil {
		s.health.RegisterChecker("store", health.StoreChecker(storeBackend))
	}

	cacheService, err := cache.NewService(ctx, loggerManager, storeBackend, cfg.Cache)
	if err != nil {
		return types.WrapError(err, "failed to register cache service")
	}
	s.cache = cacheService

	cacheManager, err := cache.NewManager(ctx, loggerManager, cacheService)
	if err != nil {
		return types.WrapError(err, "failed to register cache manager")
	}
	s.manager = cacheManager

	if cfg.Warmup != nil && cfg.Warmup.Enabled {
		cacheWarmer, err := warmer.NewWarmer(ctx, loggerManager, cacheService, s.cron, cfg.Warmup)
		if err != nil {
			return types.WrapError(err, "failed to register cache warmer")
		}
		s.warmer = cacheWarmer
	}

	if cfg.Metrics != nil && cfg.Metrics.Enabled && cfg.Metrics.HTTP.Enabled {
		s.diagnostics = newDiagnosticsServer(loggerManager, s.metrics, s.health, cfg.Metrics.HTTP)
	}

	return nil
}

// Start brings every component up and blocks until shutdown, driven by
// Stop, a context cancellation, or a termination signal.
func (s *Service) Start() error {
	if !s.transitionState(StateStopped, StateStarting) {
		s.logger.Warn("Service is already running")
		return types.ErrServerAlreadyRunning
	}

	var runErr error
	func() {
		defer func() {
			if r := recover(); r != nil {
				buf := make([]byte, 4096)
				n := runtime.Stack(buf, false)
				runErr = fmt.Errorf("service panic: %v", r)
				s.logger.Error("Service run panic", zap.Stack(string(buf[:n])))
				s.setState(StateStopped)
			}
		}()

		runErr = s.run()
	}()

	return runErr
}

func (s *Service) run() error {
	s.logger.Info("Starting service")

	ctx, cancel := context.WithTimeout(s.ctx, s.startTimeout)
	defer cancel()

	if err := s.startComponents(ctx); err != nil {
		s.setState(StateStopped)
		return types.WrapError(err, "failed to start components")
	}

	s.setState(StateRunning)
	s.setupSignalHandling()

	s.wg.Add(1)
	go s.contextMonitor()

	s.logger.Info("Service started successfully")

	<-s.done

	if err := s.stopComponents(); err != nil {
		s.logger.Error("Error during service shutdown", zap.Error(err))
	}

	s.wg.Wait()
	s.setState(StateStopped)

	s.logger.Info("Service stopped gracefully")
	return nil
}

func (s *Service) Stop() error {
	if !s.transitionState(StateRunning, StateStopping) {
		s.logger.Warn("Service is not running")
		return types.ErrServiceIsNotRunning
	}

	s.logger.Info("Stopping service...")
	s.cancel()

	return nil
}

func (s *Service) Done() <-chan struct{} {
	return s.done
}

func (s *Service) Cancel() {
	s.cancel()
}

func (s *Service) Context() context.Context {
	return s.ctx
}

func (s *Service) IsRunning() bool {
	return s.getState() == StateRunning
}

func (s *Service) Config() types.ConfigManager {
	return s.config
}

func (s *Service) Logger() types.Logger {
	return s.logger
}

func (s *Service) Metrics() types.MetricsManager {
	return s.metrics
}

func (s *Service) Health() types.HealthManager {
	return s.health
}

func (s *Service) Cron() types.CronManager {
	return s.cron
}

func (s *Service) Store() types.Store {
	return s.store
}

func (s *Service) Cache() *cache.Service {
	return s.cache
}

func (s *Service) Manager() *cache.Manager {
	return s.manager
}

func (s *Service) Warmer() types.Warmer {
	return s.warmer
}

func (s *Service) getState() State {
	return s.state.Load().(State)
}

func (s *Service) setState(newState State) bool {
	currentState := s.getState()
	return s.state.CompareAndSwap(currentState, newState)
}

func (s *Service) transitionState(from, to State) bool {
	return s.state.CompareAndSwap(from, to)
}

func (s *Service) startComponents(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if manager, ok := s.config.(types.LifecycleManager); ok {
			if err := manager.Start(); err != nil {
				return types.WrapError(err, "failed to start config manager")
			}
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if err := s.logger.Start(); err != nil {
			return types.WrapError(err, "failed to start logger")
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	if s.metrics != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := s.metrics.Start(); err != nil {
					s.logger.Error("Failed to start metrics manager", zap.Error(err))
				}
				return nil
			}
		})
	}

	if s.health != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := s.health.Start(); err != nil {
					s.logger.Error("Failed to start health manager", zap.Error(err))
				}
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			return types.NewErrorf("component startup timeout: %v", ctx.Err())
		default:
			return err
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if err := s.store.Start(); err != nil {
			return types.WrapError(err, "failed to start store")
		}
	}

	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		if err := s.manager.Start(); err != nil {
			return types.WrapError(err, "failed to start cache manager")
		}
	}

	if s.cron != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.cron.Start(); err != nil {
				s.logger.Error("Failed to start cron manager", zap.Error(err))
			}
		}
	}

	if s.warmer != nil {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
			if err := s.warmer.Start(); err != nil {
				s.logger.Error("Failed to start cache warmer", zap.Error(err))
			}
		}
	}

	if s.diagnostics != nil {
		if err := s.diagnostics.Start(); err != nil {
			s.logger.Error("Failed to start diagnostics server", zap.Error(err))
		}
	}

	s.logger.Info("All components started successfully")
	return nil
}

func (s *Service) stopComponents() error {
	ctx, cancel := context.WithTimeout(context.Background(), s.shutdownTimeout)
	defer cancel()

	var errors []error

	s.logger.Info("Stopping service components...")

	if s.diagnostics != nil {
		if err := s.diagnostics.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
			s.logger.Error("Failed to stop diagnostics server", zap.Error(err))
			errors = append(errors, err)
		}
	}

	g, gCtx := errgroup.WithContext(ctx)

	if s.warmer != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := s.warmer.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
					s.logger.Error("Failed to stop cache warmer", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if s.cron != nil {
		g.Go(func() error {
			select {
			case <-gCtx.Done():
				return gCtx.Err()
			default:
				if err := s.cron.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
					s.logger.Error("Failed to stop cron manager", zap.Error(err))
					return err
				}
				return nil
			}
		})
	}

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			s.logger.Warn("Component shutdown timeout, some components may not have stopped gracefully")
		default:
			errors = append(errors, err)
		}
	}

	if err := s.manager.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
		s.logger.Error("Failed to stop cache manager", zap.Error(err))
		errors = append(errors, err)
	}

	if err := s.store.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
		s.logger.Error("Failed to stop store", zap.Error(err))
		errors = append(errors, err)
	}

	g, _ = errgroup.WithContext(context.Background())

	if s.metrics != nil {
		g.Go(func() error {
			if err := s.metrics.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
				s.logger.Error("Failed to stop metrics manager", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if s.health != nil {
		g.Go(func() error {
			if err := s.health.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
				s.logger.Error("Failed to stop health manager", zap.Error(err))
				return err
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		errors = append(errors, err)
	}

	if err := s.logger.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
		errors = append(errors, err)
	}

	if manager, ok := s.config.(types.LifecycleManager); ok {
		if err := manager.Stop(); err != nil && !types.IsError(err, types.ErrServerNotRunning) {
			s.logger.Error("Failed to stop config manager", zap.Error(err))
			errors = append(errors, err)
		}
	}

	if len(errors) > 0 {
		return types.NewErrorf("errors during shutdown: %v", errors)
	}

	s.logger.Info("All components stopped successfully")
	return nil
}

func (s *Service) setupSignalHandling() {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan,
		syscall.SIGINT,
		syscall.SIGTERM,
		syscall.SIGQUIT,
	)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()

		select {
		case sig := <-sigChan:
			s.logger.Info("Received shutdown signal", zap.String("signal", sig.String()))
			if s.transitionState(StateRunning, StateStopping) {
				s.cancel()
			}

		case <-s.ctx.Done():
			s.logger.Info("Service context cancelled")
		}

		signal.Stop(sigChan)
		close(sigChan)
	}()
}

func (s *Service) contextMonitor() {
	defer s.wg.Done()
	defer close(s.done)

	<-s.ctx.Done()

	switch err := s.ctx.Err(); {
	case types.IsError(err, context.Canceled):
		s.logger.Info("Service shutdown: context cancelled")
	case types.IsError(err, context.DeadlineExceeded):
		s.logger.Warn("Service shutdown: context deadline exceeded")
	default:
		s.logger.Info("Service shutdown: context done")
	}
}

// RegisterStore makes a custom store backend selectable by type name.
func RegisterStore(storeName string, creator types.StoreCreator) {
	store.RegisterStore(storeName, creator)
}

// RegisterLogger makes a custom logger selectable by type name.
func RegisterLogger(loggerName string, creator types.LoggerCreator) {
	logger.RegisterLogger(loggerName, creator)
}

// RegisterMetricsManager makes a custom metrics backend selectable by
// type name.
func RegisterMetricsManager(metricsManagerName string, creator types.MetricsManagerCreator) {
	metrics.RegisterMetricsManager(metricsManagerName, creator)
}
