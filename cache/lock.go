package cache

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
)

// AcquireLock takes the named advisory lock via a conditional set and
// returns the owner token on success. The TTL bounds how long a crashed
// holder can keep the lock; it defaults to the configured lock TTL.
// A degraded store never grants a lock.
func (s *Service) AcquireLock(ctx context.Context, name string, ttl ...time.Duration) (string, bool) {
	if name == "" {
		return "", false
	}

	token := uuid.NewString()

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	acquired, err := s.store.SetNX(opCtx, LockKey(name), []byte(token), s.lockTTL(ttl...))
	if err != nil {
		s.logger.Error("Lock acquisition failed",
			zap.String("lock", name),
			zap.Error(err))
		return "", false
	}

	if !acquired {
		return "", false
	}

	return token, true
}

// ReleaseLock deletes the named lock only when the presented token
// matches the current holder. Anything else, including a lock that
// already expired, returns false and leaves the key alone.
func (s *Service) ReleaseLock(ctx context.Context, name, token string) bool {
	if name == "" || token == "" {
		return false
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	current, err := s.store.Get(opCtx, LockKey(name))
	if err != nil {
		if !types.IsError(err, types.ErrStoreKeyNotFound) {
			s.logger.Error("Lock release read failed",
				zap.String("lock", name),
				zap.Error(err))
		}
		return false
	}

	if string(current) != token {
		s.logger.Warn("Lock release rejected, token mismatch",
			zap.String("lock", name))
		return false
	}

	if _, err := s.store.Del(opCtx, LockKey(name)); err != nil {
		s.logger.Error("Lock release delete failed",
			zap.String("lock", name),
			zap.Error(err))
		return false
	}

	return true
}
