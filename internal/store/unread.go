package store

import (
	"maps"

	"github.com/noteduco342/om-realtime-hub/internal/models"
)

// UnreadTracker counts unread messages per conversation. Counts only grow
// until Clear.
type UnreadTracker struct {
	counts map[models.ConversationKey]int
}

func NewUnreadTracker() *UnreadTracker {
	return &UnreadTracker{counts: make(map[models.ConversationKey]int)}
}

// Increment adds one to key's counter and returns the new value.
func (u *UnreadTracker) Increment(key models.ConversationKey) int {
	u.counts[key]++
	return u.counts[key]
}

// Clear zeroes key's counter. It reports whether the counter was non-zero.
func (u *UnreadTracker) Clear(key models.ConversationKey) bool {
	n := u.counts[key]
	delete(u.counts, key)
	return n > 0
}

func (u *UnreadTracker) Count(key models.ConversationKey) int {
	return u.counts[key]
}

// Counts returns a copy of every non-zero counter.
func (u *UnreadTracker) Counts() map[models.ConversationKey]int {
	return maps.Clone(u.counts)
}

// Total sums the counters.
func (u *UnreadTracker) Total() int {
	total := 0
	for _, n := range u.counts {
		total += n
	}
	return total
}

func (u *UnreadTracker) Reset() {
	clear(u.counts)
}
