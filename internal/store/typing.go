package store

import (
	"slices"
	"strings"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/models"
)

// DefaultTypingTTL applies when a typing signal carries no TTL.
const DefaultTypingTTL = 3 * time.Second

// TypingRegistry tracks who is typing where. Entries expire at an absolute
// deadline; a refresh replaces the deadline.
type TypingRegistry struct {
	viewerID string
	now      func() time.Time
	entries  map[models.ConversationKey]map[string]models.TypingState
}

// NewTypingRegistry creates a registry for viewerID. now defaults to time.Now.
func NewTypingRegistry(viewerID string, now func() time.Time) *TypingRegistry {
	if now == nil {
		now = time.Now
	}
	return &TypingRegistry{
		viewerID: viewerID,
		now:      now,
		entries:  make(map[models.ConversationKey]map[string]models.TypingState),
	}
}

// SetTyping records or refreshes userID typing in key for ttl.
func (r *TypingRegistry) SetTyping(key models.ConversationKey, userID, userName string, ttl time.Duration) {
	if ttl <= 0 {
		ttl = DefaultTypingTTL
	}
	users, ok := r.entries[key]
	if !ok {
		users = make(map[string]models.TypingState)
		r.entries[key] = users
	}
	users[userID] = models.TypingState{
		Key:       key,
		UserID:    userID,
		UserName:  userName,
		ExpiresAt: r.now().Add(ttl),
	}
}

// ClearTyping removes userID from key. It reports whether a live entry was
// removed.
func (r *TypingRegistry) ClearTyping(key models.ConversationKey, userID string) bool {
	users, ok := r.entries[key]
	if !ok {
		return false
	}
	state, ok := users[userID]
	if !ok {
		return false
	}
	delete(users, userID)
	if len(users) == 0 {
		delete(r.entries, key)
	}
	return !state.Expired(r.now())
}

// ActiveTypers lists the unexpired typers of key other than the viewer,
// ordered by user ID. Reading never mutates the registry.
func (r *TypingRegistry) ActiveTypers(key models.ConversationKey) []models.TypingState {
	now := r.now()
	typers := []models.TypingState{}
	for userID, state := range r.entries[key] {
		if userID == r.viewerID || state.Expired(now) {
			continue
		}
		typers = append(typers, state)
	}
	slices.SortFunc(typers, func(a, b models.TypingState) int {
		return strings.Compare(a.UserID, b.UserID)
	})
	return typers
}

// Sweep drops expired entries and returns the keys that lost a typer.
func (r *TypingRegistry) Sweep() []models.ConversationKey {
	now := r.now()
	var changed []models.ConversationKey
	for key, users := range r.entries {
		removed := false
		for userID, state := range users {
			if state.Expired(now) {
				delete(users, userID)
				removed = true
			}
		}
		if len(users) == 0 {
			delete(r.entries, key)
		}
		if removed {
			changed = append(changed, key)
		}
	}
	slices.Sort(changed)
	return changed
}

func (r *TypingRegistry) Clear() {
	clear(r.entries)
}
