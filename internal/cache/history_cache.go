package cache

import (
	"fmt"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

// TTL constants for different cache types
const (
	HistoryTTL = 10 * time.Minute
	GroupsTTL  = 2 * time.Minute
)

// HistoryCache keeps the last fetched history page per conversation so a
// failed backfill can fall back to it.
type HistoryCache struct {
	redis    *RedisCache
	tenantID string
	userID   string
}

// NewHistoryCache creates a history cache scoped to one user of one tenant.
func NewHistoryCache(redis *RedisCache, tenantID, userID string) *HistoryCache {
	return &HistoryCache{redis: redis, tenantID: tenantID, userID: userID}
}

// historyKey generates a cache key for a conversation
func (hc *HistoryCache) historyKey(key models.ConversationKey) string {
	return fmt.Sprintf("history:%s:%s:%s", hc.tenantID, hc.userID, key)
}

// GetHistory retrieves cached conversation messages
func (hc *HistoryCache) GetHistory(key models.ConversationKey) ([]models.Message, bool) {
	if hc == nil || hc.redis == nil {
		return nil, false
	}
	data, err := hc.redis.Get(hc.historyKey(key))
	if err != nil || data == nil {
		return nil, false
	}

	var messages []models.Message
	if err := msgpack.Unmarshal(data, &messages); err != nil {
		return nil, false
	}

	return messages, true
}

// SetHistory caches conversation messages
func (hc *HistoryCache) SetHistory(key models.ConversationKey, messages []models.Message) error {
	if hc == nil || hc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(messages)
	if err != nil {
		return err
	}

	return hc.redis.Set(hc.historyKey(key), data, HistoryTTL)
}

func (hc *HistoryCache) groupsKey() string {
	return fmt.Sprintf("groups:%s:%s", hc.tenantID, hc.userID)
}

// GetGroups retrieves the cached group list
func (hc *HistoryCache) GetGroups() ([]models.Group, bool) {
	if hc == nil || hc.redis == nil {
		return nil, false
	}
	data, err := hc.redis.Get(hc.groupsKey())
	if err != nil || data == nil {
		return nil, false
	}

	var groups []models.Group
	if err := msgpack.Unmarshal(data, &groups); err != nil {
		return nil, false
	}
	return groups, true
}

// SetGroups caches the group list
func (hc *HistoryCache) SetGroups(groups []models.Group) error {
	if hc == nil || hc.redis == nil {
		return nil
	}
	data, err := msgpack.Marshal(groups)
	if err != nil {
		return err
	}
	return hc.redis.Set(hc.groupsKey(), data, GroupsTTL)
}

// InvalidateGroups removes the group list from cache
func (hc *HistoryCache) InvalidateGroups() error {
	if hc == nil || hc.redis == nil {
		return nil
	}
	return hc.redis.Delete(hc.groupsKey())
}
