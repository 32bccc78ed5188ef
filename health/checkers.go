package health

import (
	"context"
	"time"

	"github.com/saiset-co/sai-cache/types"
)

// StoreChecker reports on backing store connectivity via Ping.
func StoreChecker(store types.Store) types.HealthChecker {
	return func(ctx context.Context) types.HealthCheck {
		start := time.Now()

		if err := store.Ping(ctx); err != nil {
			return types.HealthCheck{
				Status:  types.StatusUnhealthy,
				Message: err.Error(),
			}
		}

		return types.HealthCheck{
			Status: types.StatusHealthy,
			Details: map[string]interface{}{
				"latency_ms": time.Since(start).Milliseconds(),
			},
		}
	}
}
