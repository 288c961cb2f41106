package store

import (
	"slices"

	"github.com/noteduco342/om-realtime-hub/internal/models"
)

// NotificationStore is an append-only list of notifications with read flags.
type NotificationStore struct {
	items []models.Notification
	index map[string]int
}

func NewNotificationStore() *NotificationStore {
	return &NotificationStore{index: make(map[string]int)}
}

// Append stores n as unread. Redelivered IDs are ignored.
func (s *NotificationStore) Append(n models.Notification) bool {
	if _, dup := s.index[n.ID]; dup {
		return false
	}
	n.IsRead = false
	s.index[n.ID] = len(s.items)
	s.items = append(s.items, n)
	return true
}

// MarkRead flags id as read. It reports whether the notification existed
// and was unread.
func (s *NotificationStore) MarkRead(id string) bool {
	i, ok := s.index[id]
	if !ok || s.items[i].IsRead {
		return false
	}
	s.items[i].IsRead = true
	return true
}

// MarkAllRead flags every notification as read and returns how many changed.
func (s *NotificationStore) MarkAllRead() int {
	changed := 0
	for i := range s.items {
		if !s.items[i].IsRead {
			s.items[i].IsRead = true
			changed++
		}
	}
	return changed
}

func (s *NotificationStore) UnreadCount() int {
	n := 0
	for _, item := range s.items {
		if !item.IsRead {
			n++
		}
	}
	return n
}

// List returns the notifications, most recent first.
func (s *NotificationStore) List() []models.Notification {
	out := make([]models.Notification, len(s.items))
	copy(out, s.items)
	slices.Reverse(out)
	return out
}

func (s *NotificationStore) Clear() {
	s.items = nil
	clear(s.index)
}
