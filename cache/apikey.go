package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// API-key records are durable: the apikey:{key} entry carries no expiry
// and a user:{id}:apikeys hash indexes keys for reverse lookup. Both
// writes report their errors since a lost record disables the key.

func (s *Service) StoreAPIKey(ctx context.Context, record types.APIKeyRecord) error {
	if record.Key == "" || record.UserID == "" {
		return types.Errorf(types.ErrInvalidParameter, "api key and user id are required")
	}

	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now()
	}

	data, err := utils.Marshal(record)
	if err != nil {
		return types.WrapError(err, "failed to serialize api key record")
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	if err := s.store.SetEx(opCtx, APIKeyKey(record.Key), data, 0); err != nil {
		return types.WrapError(err, "api key store failed")
	}

	if err := s.store.HSet(opCtx, UserAPIKeysKey(record.UserID), record.Key, data); err != nil {
		return types.WrapError(err, "api key index update failed")
	}

	return nil
}

func (s *Service) GetAPIKey(ctx context.Context, key string) (types.APIKeyRecord, bool) {
	var record types.APIKeyRecord

	if key == "" {
		return record, false
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	data, err := s.store.Get(opCtx, APIKeyKey(key))
	if err != nil {
		if !types.IsError(err, types.ErrStoreKeyNotFound) {
			s.logger.Warn("API key lookup failed",
				zap.Error(err))
		}
		return record, false
	}

	if err := utils.Unmarshal(data, &record); err != nil {
		s.logger.Warn("API key record failed to deserialize",
			zap.Error(err))
		return record, false
	}

	return record, true
}

func (s *Service) ListAPIKeys(ctx context.Context, userID string) ([]types.APIKeyRecord, error) {
	if userID == "" {
		return nil, types.Errorf(types.ErrInvalidParameter, "user id is required")
	}

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	fields, err := s.store.HGetAll(opCtx, UserAPIKeysKey(userID))
	if err != nil {
		return nil, types.WrapError(err, "api key listing failed")
	}

	records := make([]types.APIKeyRecord, 0, len(fields))
	for key, raw := range fields {
		var record types.APIKeyRecord
		if err := utils.Unmarshal([]byte(raw), &record); err != nil {
			s.logger.Warn("Skipping corrupt api key index entry",
				zap.String("user_id", userID),
				zap.String("key", key),
				zap.Error(err))
			continue
		}
		records = append(records, record)
	}

	return records, nil
}

// RevokeAPIKey removes the record and its index entry. Revoking a key
// that is already gone is a no-op.
func (s *Service) RevokeAPIKey(ctx context.Context, key string) error {
	if key == "" {
		return types.Errorf(types.ErrInvalidParameter, "api key is required")
	}

	record, found := s.GetAPIKey(ctx, key)

	opCtx, cancel := s.opCtx(ctx)
	defer cancel()

	if _, err := s.store.Del(opCtx, APIKeyKey(key)); err != nil {
		return types.WrapError(err, "api key revoke failed")
	}

	if found && record.UserID != "" {
		if err := s.store.HDel(opCtx, UserAPIKeysKey(record.UserID), key); err != nil {
			return types.WrapError(err, "api key index cleanup failed")
		}
	}

	return nil
}
