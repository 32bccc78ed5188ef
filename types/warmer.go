package types

import (
	"context"
	"time"
)

// WarmupTask describes one cache entry the warmer can populate.
// Higher Priority runs earlier. Fetcher errors mark the task failed
// without aborting the run.
type WarmupTask struct {
	Key      string
	Fetcher  func(ctx context.Context) (interface{}, error)
	TTL      time.Duration
	Priority int
	Category string
}

type WarmupOptions struct {
	Parallel    bool
	MaxParallel int
}

type WarmupMetrics struct {
	TotalTasks      int64     `json:"total_tasks"`
	SuccessfulTasks int64     `json:"successful_tasks"`
	FailedTasks     int64     `json:"failed_tasks"`
	TotalTimeMs     int64     `json:"total_time_ms"`
	StartedAt       time.Time `json:"started_at"`
	CompletedAt     time.Time `json:"completed_at"`
}

type Warmer interface {
	LifecycleManager
	Register(task WarmupTask)
	RegisterBatch(tasks []WarmupTask)
	WarmAll(ctx context.Context, options ...WarmupOptions) WarmupMetrics
	WarmCategory(ctx context.Context, category string, options ...WarmupOptions) WarmupMetrics
	WarmExpiringSoon(ctx context.Context, threshold time.Duration) int
	StartBackgroundWarming(interval time.Duration) error
	StopBackgroundWarming() error
	Metrics() WarmupMetrics
}
