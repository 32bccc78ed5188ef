package cache

import (
	"context"
	"time"

	"github.com/saiset-co/sai-cache/types"
)

// Session helpers specialize the core operations under the session:{id}
// namespace. Unlike plain cache entries, session writes report their
// errors: a silently lost session logs the user out.

func (s *Service) SetSession(ctx context.Context, sessionID string, value interface{}, ttl ...time.Duration) error {
	if sessionID == "" {
		return types.ErrCacheKeyEmpty
	}
	return s.set(ctx, SessionKey(sessionID), value, s.sessionTTL(ttl...))
}

func GetSession[T any](ctx context.Context, s *Service, sessionID string) (T, bool) {
	return Get[T](ctx, s, SessionKey(sessionID))
}

func (s *Service) DeleteSession(ctx context.Context, sessionID string) error {
	if sessionID == "" {
		return types.ErrCacheKeyEmpty
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.store.Del(opCtx, SessionKey(sessionID)); err != nil {
		return types.WrapError(err, "session delete failed")
	}

	return nil
}

// RefreshSession extends the session's expiry without touching its
// payload. Refreshing a session that no longer exists reports
// ErrCacheNotFound so callers can force a re-login.
func (s *Service) RefreshSession(ctx context.Context, sessionID string, ttl ...time.Duration) error {
	if sessionID == "" {
		return types.ErrCacheKeyEmpty
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	refreshed, err := s.store.Expire(opCtx, SessionKey(sessionID), s.sessionTTL(ttl...))
	if err != nil {
		return types.WrapError(err, "session refresh failed")
	}

	if !refreshed {
		return types.Errorf(types.ErrCacheNotFound, "session: %s", sessionID)
	}

	return nil
}
