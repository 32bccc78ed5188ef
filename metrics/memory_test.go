package metrics

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fasthttp"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

func newMemoryMetrics(t *testing.T) *MemoryMetrics {
	t.Helper()

	m, err := NewMemoryMetrics(context.Background(), testLog(), &types.MetricsConfig{
		Enabled: true,
		Type:    "memory",
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() {
		if m.IsRunning() {
			_ = m.Stop()
		}
	})

	return m.(*MemoryMetrics)
}

func TestMemoryCounters(t *testing.T) {
	m := newMemoryMetrics(t)

	hits := m.Counter("requests_total", map[string]string{"route": "get"})
	hits.Inc()
	hits.Add(4)
	assert.Equal(t, float64(5), hits.Get())

	// Distinct label values are distinct series.
	other := m.Counter("requests_total", map[string]string{"route": "set"})
	assert.Zero(t, other.Get())

	assert.Equal(t, float64(5), m.Counter("requests_total", map[string]string{"route": "get"}).Get())
}

func TestMemoryGauges(t *testing.T) {
	m := newMemoryMetrics(t)

	gauge := m.Gauge("pool_size", nil)
	gauge.Set(10.5)
	gauge.Add(2.5)
	assert.Equal(t, float64(13), gauge.Get())

	gauge.Sub(3)
	assert.Equal(t, float64(10), gauge.Get())

	gauge.Inc()
	gauge.Dec()
	assert.Equal(t, float64(10), gauge.Get())
}

func TestMemoryHistogram(t *testing.T) {
	m := newMemoryMetrics(t)

	histogram := m.Histogram("op_duration_seconds", []float64{1, 5}, nil)
	histogram.Observe(0.5)
	histogram.Observe(3)
	histogram.Observe(7)

	assert.Equal(t, uint64(3), histogram.GetCount())
	assert.InDelta(t, 10.5, histogram.GetSum(), 0.001)

	buckets := histogram.(*MemoryHistogram).GetBuckets()
	assert.Equal(t, uint64(1), buckets[1])
	assert.Equal(t, uint64(2), buckets[5])
}

func TestMemorySummary(t *testing.T) {
	m := newMemoryMetrics(t)

	summary := m.Summary("payload_bytes", map[float64]float64{0.5: 0.05}, nil)
	summary.Observe(1)
	summary.Observe(2)
	summary.Observe(3)

	assert.Equal(t, uint64(3), summary.GetCount())
	assert.InDelta(t, 6, summary.GetSum(), 0.001)

	quantiles := summary.(*MemorySummary).GetQuantiles()
	assert.Equal(t, float64(2), quantiles[0.5])
}

func TestMemorySnapshot(t *testing.T) {
	m := newMemoryMetrics(t)

	m.Counter("snapshot_ops", nil).Inc()
	m.Gauge("snapshot_depth", nil).Set(7)

	data, err := m.GetMetrics()
	require.NoError(t, err)

	var snapshot []types.MetricValue
	require.NoError(t, utils.Unmarshal(data, &snapshot))

	byName := map[string]types.MetricValue{}
	for _, metric := range snapshot {
		byName[metric.Name] = metric
	}

	assert.Equal(t, "counter", byName["snapshot_ops"].Type)
	assert.Equal(t, float64(1), byName["snapshot_ops"].Value)
	assert.Equal(t, "gauge", byName["snapshot_depth"].Type)
	assert.Equal(t, float64(7), byName["snapshot_depth"].Value)

	statsData, err := m.GetStats()
	require.NoError(t, err)

	var stats types.MetricsStats
	require.NoError(t, utils.Unmarshal(statsData, &stats))
	assert.Equal(t, 1, stats.CounterMetrics)
	assert.Equal(t, 1, stats.GaugeMetrics)
	assert.Equal(t, 2, stats.TotalMetrics)
	assert.Equal(t, uint64(1), stats.Collections)
}

func TestMemoryNotRunning(t *testing.T) {
	m, err := NewMemoryMetrics(context.Background(), testLog(), &types.MetricsConfig{
		Enabled: true,
		Type:    "memory",
	})
	require.NoError(t, err)

	_, err = m.GetMetrics()
	assert.True(t, types.IsError(err, types.ErrMetricsNotRunning))

	// Instruments created before Start never register.
	m.Counter("lost_counter", nil).Inc()

	ctx := &fasthttp.RequestCtx{}
	m.Handler()(ctx)
	assert.Equal(t, fasthttp.StatusServiceUnavailable, ctx.Response.StatusCode())

	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })

	data, err := m.GetMetrics()
	require.NoError(t, err)

	var snapshot []types.MetricValue
	require.NoError(t, utils.Unmarshal(data, &snapshot))
	assert.Empty(t, snapshot)
}

func TestMemoryCleanupCapsCardinality(t *testing.T) {
	m, err := NewMemoryMetrics(context.Background(), testLog(), &types.MetricsConfig{
		Enabled: true,
		Type:    "memory",
		Config:  map[string]interface{}{"max_metrics": 2},
	})
	require.NoError(t, err)
	require.NoError(t, m.Start())
	t.Cleanup(func() { _ = m.Stop() })

	memory := m.(*MemoryMetrics)
	memory.Counter("a_total", nil)
	memory.Counter("b_total", nil)
	memory.Counter("c_total", nil)

	memory.performCleanup()

	memory.mu.RLock()
	remaining := len(memory.counters)
	memory.mu.RUnlock()
	assert.Equal(t, 2, remaining)
}
