package store

import (
	"slices"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/models"
)

// PresenceRegistry holds the last known online state per user.
type PresenceRegistry struct {
	users map[string]models.PresenceState
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{users: make(map[string]models.PresenceState)}
}

// Set records userID's state as of at. Older updates than the stored one
// are ignored. It reports whether the online flag changed.
func (p *PresenceRegistry) Set(userID string, online bool, at time.Time) bool {
	prev, ok := p.users[userID]
	if ok && at.Before(prev.LastSeen) {
		return false
	}
	p.users[userID] = models.PresenceState{UserID: userID, Online: online, LastSeen: at}
	return !ok || prev.Online != online
}

func (p *PresenceRegistry) Get(userID string) (models.PresenceState, bool) {
	state, ok := p.users[userID]
	return state, ok
}

// Online returns the IDs of users currently online, sorted.
func (p *PresenceRegistry) Online() []string {
	ids := []string{}
	for id, state := range p.users {
		if state.Online {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids
}

func (p *PresenceRegistry) Clear() {
	clear(p.users)
}
