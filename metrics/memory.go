package metrics

import (
	"context"
	"math"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/valyala/fasthttp"
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
	RetentionPeriod time.Duration `yaml:"retention_period" json:"retention_period"`
	MaxMetrics      int           `yaml:"max_metrics" json:"max_metrics"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" json:"cleanup_interval"`
}

type MemoryMetrics struct {
	ctx             context.Context
	cancel          context.CancelFunc
	logger          types.Logger
	config          *MemoryConfig
	collectSystem   bool
	counters        map[string]*MemoryCounter
	gauges          map[string]*MemoryGauge
	histograms      map[string]*MemoryHistogram
	summaries       map[string]*MemorySummary
	systemMetrics   atomic.Pointer[*SystemMetricsCollector]
	state           atomic.Value
	stopCleanup     chan struct{}
	shutdownTimeout time.Duration
	collections     uint64
	errors          uint64
	buf             [256]byte
	mu              sync.RWMutex
}

func NewMemoryMetrics(ctx context.Context, logger types.Logger, config *types.MetricsConfig) (types.MetricsManager, error) {
	var memConfig = &MemoryConfig{
		RetentionPeriod: 24 * time.Hour,
		MaxMetrics:      10000,
		CleanupInterval: time.Hour,
	}

	if config.Config != nil {
		err := utils.UnmarshalConfig(config.Config, memConfig)
		if err != nil {
			return nil, types.WrapError(err, "failed to unmarshal memory metrics config")
		}
	}

	memoryCtx, cancel := context.WithCancel(ctx)

	metrics := &MemoryMetrics{
		ctx:             memoryCtx,
		cancel:          cancel,
		logger:          logger,
		config:          memConfig,
		collectSystem:   config.Collectors.System,
		counters:        make(map[string]*MemoryCounter),
		gauges:          make(map[string]*MemoryGauge),
		histograms:      make(map[string]*MemoryHistogram),
		summaries:       make(map[string]*MemorySummary),
		stopCleanup:     make(chan struct{}),
		shutdownTimeout: 10 * time.Second,
	}

	metrics.state.Store(MemoryStateStopped)

	return metrics, nil
}

func (m *MemoryMetrics) Start() error {
	if !m.transitionState(MemoryStateStopped, MemoryStateStarting) {
		m.logger.Warn("Memory metrics is already running")
		return types.ErrServerAlreadyRunning
	}

	defer func() {
		if m.getState() == MemoryStateStarting {
			m.setState(MemoryStateRunning)
		}
	}()

	ctx, cancel := context.WithTimeout(m.ctx, 30*time.Second)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		default:
			go m.cleanupRoutine()
			return nil
		}
	})

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		default:
			if !m.collectSystem {
				return nil
			}
			if err := m.RegisterSystemMetrics(); err != nil {
				m.logger.Warn("Failed to register system metrics", zap.Error(err))
			}
			if err := m.StartSystemCollection(); err != nil {
				m.logger.Warn("Failed to start system collection", zap.Error(err))
			}
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			m.setState(MemoryStateStopped)
			return types.NewErrorf("memory metrics start timeout")
		default:
			m.setState(MemoryStateStopped)
			return types.WrapError(err, "failed to start memory metrics")
		}
	}

	m.logger.Info("Memory metrics started")
	return nil
}

func (m *MemoryMetrics) Stop() error {
	if !m.transitionState(MemoryStateRunning, MemoryStateStopping) {
		m.logger.Warn("Memory metrics is not running")
		return types.ErrServerNotRunning
	}

	defer func() {
		m.setState(MemoryStateStopped)
		m.cancel()
	}()

	ctx, cancel := context.WithTimeout(context.Background(), m.shutdownTimeout)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	if collector := m.systemMetrics.Load(); collector != nil {
		g.Go(func() error {
			if err := (*collector).Stop(); err != nil {
				m.logger.Error("Failed to stop system collection", zap.Error(err))
				return err
			}
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		default:
			close(m.stopCleanup)
			return m.cleanup()
		}
	})

	if err := g.Wait(); err != nil {
		select {
		case <-ctx.Done():
			m.logger.Warn("Memory metrics stop timeout, some components may not have stopped gracefully")
		default:
			m.logger.Error("Error during memory metrics shutdown", zap.Error(err))
		}
	} else {
		m.logger.Info("Memory metrics stopped gracefully")
	}

	m.systemMetrics.Store(nil)
	return nil
}

func (m *MemoryMetrics) IsRunning() bool {
	return m.getState() == MemoryStateRunning
}

func (m *MemoryMetrics) getState() MemoryState {
	return m.state.Load().(MemoryState)
}

func (m *MemoryMetrics) setState(newState MemoryState) bool {
	currentState := m.getState()
	return m.state.CompareAndSwap(currentState, newState)
}

func (m *MemoryMetrics) transitionState(from, to MemoryState) bool {
	return m.state.CompareAndSwap(from, to)
}

func (m *MemoryMetrics) cleanup() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.counters = make(map[string]*MemoryCounter)
	m.gauges = make(map[string]*MemoryGauge)
	m.histograms = make(map[string]*MemoryHistogram)
	m.summaries = make(map[string]*MemorySummary)

	m.logger.Info("Memory metrics cleaned up")
	return nil
}

func (m *MemoryMetrics) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		if !m.IsRunning() {
			ctx.Error(types.ErrMetricsNotRunning.Error(), fasthttp.StatusServiceUnavailable)
			return
		}

		metricsData, err := m.GetMetrics()
		if err != nil {
			ctx.Error(err.Error(), fasthttp.StatusInternalServerError)
			return
		}

		ctx.Response.Header.SetContentType("application/json")
		ctx.Response.SetStatusCode(fasthttp.StatusOK)
		_, err = ctx.Write(metricsData)
		if err != nil {
			m.logger.Error("Failed to write metrics", zap.Error(err))
			return
		}
	}
}

func (m *MemoryMetrics) Counter(name string, labels map[string]string) types.Counter {
	if !m.IsRunning() {
		return &MemoryCounter{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.buildKey(name, labels)

	if counter, exists := m.counters[key]; exists {
		return counter
	}

	counter := &MemoryCounter{
		name:   name,
		labels: labels,
		value:  0,
	}
	m.counters[key] = counter

	return counter
}

func (m *MemoryMetrics) Gauge(name string, labels map[string]string) types.Gauge {
	if !m.IsRunning() {
		return &MemoryGauge{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.buildKey(name, labels)

	if gauge, exists := m.gauges[key]; exists {
		return gauge
	}

	gauge := &MemoryGauge{
		name:   name,
		labels: labels,
		value:  0,
	}
	m.gauges[key] = gauge

	return gauge
}

func (m *MemoryMetrics) Histogram(name string, buckets []float64, labels map[string]string) types.Histogram {
	if !m.IsRunning() {
		return &MemoryHistogram{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.buildKey(name, labels)

	if histogram, exists := m.histograms[key]; exists {
		return histogram
	}

	histogram := &MemoryHistogram{
		name:    name,
		labels:  labels,
		buckets: make([]float64, len(buckets)),
		counts:  make([]uint64, len(buckets)+1),
		sum:     0,
		count:   0,
	}

	copy(histogram.buckets, buckets)

	m.histograms[key] = histogram

	return histogram
}

func (m *MemoryMetrics) Summary(name string, objectives map[float64]float64, labels map[string]string) types.Summary {
	if !m.IsRunning() {
		return &MemorySummary{}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := m.buildKey(name, labels)

	if summary, exists := m.summaries[key]; exists {
		return summary
	}

	summary := &MemorySummary{
		name:       name,
		labels:     labels,
		objectives: objectives,
		values:     make([]float64, 0),
		sum:        0,
		count:      0,
	}
	m.summaries[key] = summary

	m.logger.Debug("Summary created", zap.String("name", name))
	return summary
}

func (m *MemoryMetrics) RegisterSystemMetrics() error {
	state := m.getState()
	if state != MemoryStateRunning && state != MemoryStateStarting {
		return types.ErrMetricsNotRunning
	}

	ctx, cancel := context.WithTimeout(m.ctx, 5*time.Second)
	defer cancel()

	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		select {
		case <-gCtx.Done():
			return gCtx.Err()
		default:
			m.Gauge("system_memory_usage_bytes", map[string]string{"type": "heap_inuse"})
			m.Gauge("system_memory_usage_bytes", map[string]string{"type": "heap_alloc"})
			m.Gauge("system_memory_usage_bytes", map[string]string{"type": "sys"})
			m.Gauge("system_memory_usage_bytes", map[string]string{"type": "stack_inuse"})
			m.Gauge("system_goroutines_count", nil)
			m.Gauge("system_heap_objects_count", nil)
			m.Gauge("system_uptime_seconds", nil)
			m.Gauge("system_cpu_usage_percent", nil)
			m.Gauge("system_last_gc_timestamp", nil)
			m.Histogram("system_gc_duration_seconds", []float64{0.001, 0.01, 0.1, 1.0}, nil)
			return nil
		}
	})

	if err := g.Wait(); err != nil {
		return types.WrapError(err, "failed to register system metrics")
	}

	m.logger.Info("System metrics registered")
	return nil
}

func (m *MemoryMetrics) StartSystemCollection() error {
	state := m.getState()
	if state != MemoryStateRunning && state != MemoryStateStarting {
		return types.ErrMetricsNotRunning
	}

	if m.systemMetrics.Load() == nil {
		systemMetrics := NewSystemMetricsCollector(m.ctx, m.logger, m)
		m.systemMetrics.Store(&systemMetrics)
	}

	if collector := m.systemMetrics.Load(); collector != nil {
		return (*collector).Start()
	}

	return nil
}

func (m *MemoryMetrics) StopSystemCollection() error {
	if collector := m.systemMetrics.Load(); collector != nil {
		return (*collector).Stop()
	}
	return nil
}

func (m *MemoryMetrics) GetMetrics() ([]byte, error) {
	if !m.IsRunning() {
		return nil, types.ErrMetricsNotRunning
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	var metrics []types.MetricValue

	counterAgg := make(map[string]*types.MetricValue)
	for _, counter := range m.counters {
		key := m.buildMetricKey(counter.name, counter.labels)
		if existing, exists := counterAgg[key]; exists {
			existing.Value += counter.Get()
		} else {
			counterAgg[key] = &types.MetricValue{
				Name:      counter.name,
				Type:      "counter",
				Value:     counter.Get(),
				Labels:    counter.labels,
				Timestamp: time.Now(),
			}
		}
	}

	for _, metric := range counterAgg {
		metrics = append(metrics, *metric)
	}

	gaugeAgg := make(map[string]*types.MetricValue)
	for _, gauge := range m.gauges {
		key := m.buildMetricKey(gauge.name, gauge.labels)
		gaugeAgg[key] = &types.MetricValue{
			Name:      gauge.name,
			Type:      "gauge",
			Value:     gauge.Get(),
			Labels:    gauge.labels,
			Timestamp: time.Now(),
		}
	}

	for _, metric := range gaugeAgg {
		metrics = append(metrics, *metric)
	}

	for _, histogram := range m.histograms {
		metrics = append(metrics, types.MetricValue{
			Name:      histogram.name,
			Type:      "histogram",
			Value:     histogram.GetSum(),
			Labels:    histogram.labels,
			Timestamp: time.Now(),
		})
	}

	for _, summary := range m.summaries {
		metrics = append(metrics, types.MetricValue{
			Name:      summary.name,
			Type:      "summary",
			Value:     summary.GetSum(),
			Labels:    summary.labels,
			Timestamp: time.Now(),
		})
	}

	atomic.AddUint64(&m.collections, 1)
	return utils.Marshal(metrics)
}

func (m *MemoryMetrics) buildMetricKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	key := name
	for k, v := range labels {
		key += "_" + k + "_" + v
	}
	return key
}

func (m *MemoryMetrics) GetStats() ([]byte, error) {
	if !m.IsRunning() {
		return nil, types.ErrMetricsNotRunning
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := types.MetricsStats{
		TotalMetrics:     len(m.counters) + len(m.gauges) + len(m.histograms) + len(m.summaries),
		CounterMetrics:   len(m.counters),
		GaugeMetrics:     len(m.gauges),
		HistogramMetrics: len(m.histograms),
		SummaryMetrics:   len(m.summaries),
		LastUpdate:       time.Now(),
		Collections:      atomic.LoadUint64(&m.collections),
		Errors:           atomic.LoadUint64(&m.errors),
	}

	return utils.Marshal(stats)
}

// buildKey reuses the shared scratch buffer, callers must hold mu.
func (m *MemoryMetrics) buildKey(name string, labels map[string]string) string {
	if len(labels) == 0 {
		return name
	}

	buf := m.buf[:0]
	buf = append(buf, name...)

	for k, v := range labels {
		buf = append(buf, '_')
		buf = append(buf, k...)
		buf = append(buf, '_')
		buf = append(buf, v...)
	}

	return utils.Intern(buf)
}

func (m *MemoryMetrics) cleanupRoutine() {
	ticker := time.NewTicker(m.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.performCleanup()
		case <-m.ctx.Done():
			return
		case <-m.stopCleanup:
			return
		}
	}
}

func (m *MemoryMetrics) performCleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	totalMetrics := len(m.counters) + len(m.gauges) + len(m.histograms) + len(m.summaries)
	if totalMetrics <= m.config.MaxMetrics {
		return
	}

	toRemove := totalMetrics - m.config.MaxMetrics
	removed := 0

	for key := range m.counters {
		if removed >= toRemove {
			break
		}
		delete(m.counters, key)
		removed++
	}

	m.logger.Debug("Memory metrics cleanup completed", zap.Int("removed", removed))
}

func (m *MemoryMetrics) Close() error {
	return m.Stop()
}

type MemoryCounter struct {
	name   string
	labels map[string]string
	value  uint64
}

func (c *MemoryCounter) Inc() {
	atomic.AddUint64(&c.value, 1)
}

func (c *MemoryCounter) Add(value float64) {
	atomic.AddUint64(&c.value, uint64(value))
}

func (c *MemoryCounter) Get() float64 {
	return float64(atomic.LoadUint64(&c.value))
}

type MemoryGauge struct {
	name   string
	labels map[string]string
	value  uint64
}

func (g *MemoryGauge) Set(value float64) {
	atomic.StoreUint64(&g.value, math.Float64bits(value))
}

func (g *MemoryGauge) Inc() {
	for {
		old := atomic.LoadUint64(&g.value)
		oldFloat := math.Float64frombits(old)
		newFloat := oldFloat + 1
		if atomic.CompareAndSwapUint64(&g.value, old, math.Float64bits(newFloat)) {
			break
		}
	}
}

func (g *MemoryGauge) Dec() {
	for {
		old := atomic.LoadUint64(&g.value)
		oldFloat := math.Float64frombits(old)
		newFloat := oldFloat - 1
		if atomic.CompareAndSwapUint64(&g.value, old, math.Float64bits(newFloat)) {
			break
		}
	}
}

func (g *MemoryGauge) Add(value float64) {
	for {
		old := atomic.LoadUint64(&g.value)
		oldFloat := math.Float64frombits(old)
		newFloat := oldFloat + value
		if atomic.CompareAndSwapUint64(&g.value, old, math.Float64bits(newFloat)) {
			break
		}
	}
}

func (g *MemoryGauge) Sub(value float64) {
	for {
		old := atomic.LoadUint64(&g.value)
		oldFloat := math.Float64frombits(old)
		newFloat := oldFloat - value
		if atomic.CompareAndSwapUint64(&g.value, old, math.Float64bits(newFloat)) {
			break
		}
	}
}

func (g *MemoryGauge) Get() float64 {
	return math.Float64frombits(atomic.LoadUint64(&g.value))
}

type MemoryHistogram struct {
	name    string
	labels  map[string]string
	buckets []float64
	counts  []uint64
	sum     uint64
	count   uint64
}

func (h *MemoryHistogram) Observe(value float64) {
	if h == nil || len(h.buckets) == 0 || len(h.counts) == 0 {
		return
	}

	atomic.AddUint64(&h.count, 1)
	atomic.AddUint64(&h.sum, uint64(value*1000000))

	bucketIndex := len(h.buckets)
	for i, bucket := range h.buckets {
		if value <= bucket {
			bucketIndex = i
			break
		}
	}

	if bucketIndex < len(h.counts) {
		atomic.AddUint64(&h.counts[bucketIndex], 1)
	}
}

func (h *MemoryHistogram) ObserveDuration(start time.Time) {
	duration := time.Since(start).Seconds()
	h.Observe(duration)
}

func (h *MemoryHistogram) GetCount() uint64 {
	return atomic.LoadUint64(&h.count)
}

func (h *MemoryHistogram) GetSum() float64 {
	return float64(atomic.LoadUint64(&h.sum)) / 1000000
}

func (h *MemoryHistogram) GetBuckets() map[float64]uint64 {
	if h == nil || len(h.buckets) == 0 {
		return nil
	}

	buckets := make(map[float64]uint64, len(h.buckets))
	var cumulative uint64
	for i, bound := range h.buckets {
		cumulative += atomic.LoadUint64(&h.counts[i])
		buckets[bound] = cumulative
	}

	return buckets
}

type MemorySummary struct {
	name       string
	labels     map[string]string
	objectives map[float64]float64
	values     []float64
	mu         sync.Mutex
	sum        uint64
	count      uint64
}

func (s *MemorySummary) Observe(value float64) {
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, uint64(value*1000000))

	s.mu.Lock()
	s.values = append(s.values, value)
	if len(s.values) > 1000 {
		s.values = s.values[1:]
	}
	s.mu.Unlock()
}

func (s *MemorySummary) ObserveDuration(start time.Time) {
	duration := time.Since(start).Seconds()
	s.Observe(duration)
}

func (s *MemorySummary) GetCount() uint64 {
	return atomic.LoadUint64(&s.count)
}

func (s *MemorySummary) GetSum() float64 {
	return float64(atomic.LoadUint64(&s.sum)) / 1000000
}

func (s *MemorySummary) GetQuantiles() map[float64]float64 {
	s.mu.Lock()
	sorted := make([]float64, len(s.values))
	copy(sorted, s.values)
	s.mu.Unlock()

	if len(sorted) == 0 || len(s.objectives) == 0 {
		return nil
	}

	sort.Float64s(sorted)

	quantiles := make(map[float64]float64, len(s.objectives))
	for q := range s.objectives {
		idx := int(q * float64(len(sorted)-1))
		quantiles[q] = sorted[idx]
	}

	return quantiles
}
