package cron

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/logger"
	"github.com/saiset-co/sai-cache/types"
)

type stubConfig struct {
	config *types.ServiceConfig
}

func (s *stubConfig) Load() error                                    { return nil }
func (s *stubConfig) GetConfig() *types.ServiceConfig                { return s.config }
func (s *stubConfig) GetValue(_ string, def interface{}) interface{} { return def }
func (s *stubConfig) GetAs(_ string, _ interface{}) error            { return types.ErrConfigNotFound }

func newTestCronManager(t *testing.T) *Manager {
	t.Helper()

	config := &stubConfig{config: &types.ServiceConfig{
		Name:    "cache-service",
		Version: "1.0.0",
		Cron:    &types.CronConfig{Enabled: true, Timezone: "UTC"},
	}}

	cm, err := NewManager(context.Background(), config, logger.NewZapWrapper(zap.NewNop()), nil)
	require.NoError(t, err)

	manager, ok := cm.(*Manager)
	require.True(t, ok)

	t.Cleanup(func() {
		if manager.IsRunning() {
			_ = manager.Stop()
		}
	})

	return manager
}

func jobEntry(m *Manager, name string) (types.JobEntry, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, exists := m.jobs[name]
	if !exists {
		return types.JobEntry{}, false
	}
	return *entry, true
}

func TestCronManagerAddValidation(t *testing.T) {
	cm := newTestCronManager(t)

	noop := func() {}

	assert.Equal(t, types.ErrCronJobNameIsEmpty, cm.Add("", "* * * * * *", noop))
	assert.Equal(t, types.ErrCronExpressionInvalid, cm.Add("report", "", noop))
	assert.Equal(t, types.ErrCronJobIsNil, cm.Add("report", "* * * * * *", nil))

	err := cm.Add("report", "definitely not a schedule", noop)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to add cron job")

	require.NoError(t, cm.Add("report", "0 0 3 * * *", noop))
	assert.Equal(t, types.ErrCronJobExists, cm.Add("report", "0 0 4 * * *", noop))

	entry, exists := jobEntry(cm, "report")
	require.True(t, exists)
	assert.Equal(t, "0 0 3 * * *", entry.Spec)
	assert.False(t, entry.AddedAt.IsZero())
}

func TestCronManagerRemove(t *testing.T) {
	cm := newTestCronManager(t)

	assert.Equal(t, types.ErrCronJobNameIsEmpty, cm.Remove(""))
	assert.Equal(t, types.ErrCronJobNotFound, cm.Remove("ghost"))

	require.NoError(t, cm.Add("cleanup", "0 30 2 * * *", func() {}))
	require.NoError(t, cm.Remove("cleanup"))
	assert.Equal(t, types.ErrCronJobNotFound, cm.Remove("cleanup"))

	// removal frees the name for re-registration
	require.NoError(t, cm.Add("cleanup", "0 45 2 * * *", func() {}))
}

func TestCronManagerLifecycle(t *testing.T) {
	cm := newTestCronManager(t)

	assert.False(t, cm.IsRunning())

	require.NoError(t, cm.Start())
	assert.True(t, cm.IsRunning())
	assert.Equal(t, types.ErrCronIsRunning, cm.Start())

	require.NoError(t, cm.Stop())
	assert.False(t, cm.IsRunning())
	assert.Equal(t, types.ErrServerNotRunning, cm.Stop())

	assert.Equal(t, types.ErrCronSchedulerStopped, cm.Add("late", "* * * * * *", func() {}))
}

func TestCronManagerRunsJob(t *testing.T) {
	cm := newTestCronManager(t)

	var runs int64
	require.NoError(t, cm.Add("tick", "* * * * * *", func() {
		atomic.AddInt64(&runs, 1)
	}))

	require.NoError(t, cm.Start())

	require.Eventually(t, func() bool {
		entry, exists := jobEntry(cm, "tick")
		return exists && entry.RunCount >= 1
	}, 5*time.Second, 50*time.Millisecond)

	assert.GreaterOrEqual(t, atomic.LoadInt64(&runs), int64(1))

	entry, exists := jobEntry(cm, "tick")
	require.True(t, exists)
	assert.NoError(t, entry.Error)
	assert.False(t, entry.LastRun.IsZero())
	assert.False(t, entry.NextRun.IsZero())
	assert.GreaterOrEqual(t, entry.AvgDuration, time.Duration(0))
}

func TestCronManagerRecoversFromPanic(t *testing.T) {
	cm := newTestCronManager(t)

	require.NoError(t, cm.Add("broken", "* * * * * *", func() {
		panic("job bug")
	}))

	require.NoError(t, cm.Start())

	var failed types.JobEntry
	require.Eventually(t, func() bool {
		entry, exists := jobEntry(cm, "broken")
		if exists && entry.RunCount >= 1 && entry.Error != nil {
			failed = entry
			return true
		}
		return false
	}, 5*time.Second, 50*time.Millisecond)

	assert.True(t, types.IsError(failed.Error, types.ErrCronJobFailed))

	// scheduler survives the panic and keeps accepting work
	assert.True(t, cm.IsRunning())
	require.NoError(t, cm.Add("after", "0 0 5 * * *", func() {}))
}
