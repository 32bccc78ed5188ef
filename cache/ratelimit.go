package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

// CheckRateLimit counts a request against the identifier's fixed window
// and reports whether it is allowed. The window TTL attaches on the
// increment that created the counter. When the store is unreachable the
// check fails open: the request is allowed with a full window reported.
func (s *Service) CheckRateLimit(ctx context.Context, identifier string, limit int64, window time.Duration) types.RateLimitResult {
	defaultLimit, defaultWindow := s.rateLimitDefaults()
	if limit <= 0 {
		limit = defaultLimit
	}
	if window <= 0 {
		window = defaultWindow
	}

	key := RateLimitKey(identifier)

	count, err := s.Incr(ctx, key, window)
	if err != nil {
		s.logger.Error("Rate limit check failed, failing open",
			zap.String("identifier", identifier),
			zap.Error(err))
		return types.RateLimitResult{
			Allowed:   true,
			Remaining: limit,
			ResetIn:   window,
		}
	}

	remaining := limit - count
	if remaining < 0 {
		remaining = 0
	}

	resetIn := window
	if ttl, err := s.TTL(ctx, key); err == nil && ttl > 0 {
		resetIn = ttl
	}

	return types.RateLimitResult{
		Allowed:   count <= limit,
		Remaining: remaining,
		ResetIn:   resetIn,
	}
}
