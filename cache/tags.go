package cache

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/saiset-co/sai-cache/types"
	"github.com/saiset-co/sai-cache/utils"
)

// SetWithTags writes the value and appends the key to each tag's member
// list. The appends are read-modify-write per tag, not atomic across
// tags; a crash mid-operation can leave the key under some but not all
// tags, and invalidation treats the index as best-effort cleanup.
func (m *Manager) SetWithTags(ctx context.Context, key string, value interface{}, tags []string, ttl ...time.Duration) error {
	entryTTL := m.service.ttlOrDefault(ttl...)

	if err := m.service.set(ctx, key, value, entryTTL); err != nil {
		return err
	}

	for _, tag := range tags {
		if tag == "" {
			continue
		}
		if err := m.addKeyToTag(ctx, tag, key, entryTTL); err != nil {
			m.logger.Warn("Failed to index cache key under tag",
				zap.String("key", key),
				zap.String("tag", tag),
				zap.Error(err))
		}
	}

	return nil
}

// addKeyToTag keeps the index alive at least as long as its
// longest-lived member.
func (m *Manager) addKeyToTag(ctx context.Context, tag, key string, entryTTL time.Duration) error {
	tagKey := TagKey(tag)

	var members []string
	if data, err := m.service.GetRaw(ctx, tagKey); err == nil {
		if err := utils.Unmarshal(data, &members); err != nil {
			m.logger.Warn("Tag index corrupt, rebuilding",
				zap.String("tag", tag),
				zap.Error(err))
			members = nil
		}
	}

	known := false
	for _, member := range members {
		if member == key {
			known = true
			break
		}
	}
	if !known {
		members = append(members, key)
	}

	tagTTL := entryTTL
	if current, err := m.service.TTL(ctx, tagKey); err == nil && current > tagTTL {
		tagTTL = current
	}

	return m.service.set(ctx, tagKey, members, tagTTL)
}

// InvalidateByTag deletes every member key first and the index itself
// last, so a crash in between leaves only an over-complete index. A
// SetWithTags racing between the read and the deletes can re-add a
// member that survives; accepted under the relaxed consistency
// contract.
func (m *Manager) InvalidateByTag(ctx context.Context, tag string) int64 {
	if tag == "" {
		return 0
	}

	tagKey := TagKey(tag)

	data, err := m.service.GetRaw(ctx, tagKey)
	if err != nil {
		if !types.IsError(err, types.ErrCacheNotFound) {
			m.logger.Error("Tag index read failed",
				zap.String("tag", tag),
				zap.Error(err))
		}
		return 0
	}

	var members []string
	if err := utils.Unmarshal(data, &members); err != nil {
		m.logger.Warn("Tag index corrupt, dropping",
			zap.String("tag", tag),
			zap.Error(err))
		m.service.Del(ctx, tagKey)
		return 0
	}

	var removed int64
	if len(members) > 0 {
		removed = m.service.Del(ctx, members...)
	}

	m.service.Del(ctx, tagKey)

	m.broadcast(ctx, types.InvalidationEvent{Tag: tag, Keys: members})

	m.logger.Info("Tag invalidated",
		zap.String("tag", tag),
		zap.Int64("removed", removed))

	return removed
}
