package hub

import (
	"context"
	"slices"

	"github.com/noteduco342/om-realtime-hub/internal/conn"
	"github.com/noteduco342/om-realtime-hub/internal/models"
)

// Queries run on the actor and return copies.

func (h *Hub) Conversation(ctx context.Context, key models.ConversationKey) ([]models.Message, error) {
	return query(ctx, h, func() []models.Message {
		return h.stores.Conversations.Conversation(key)
	})
}

func (h *Hub) UnreadCounts(ctx context.Context) (map[models.ConversationKey]int, error) {
	return query(ctx, h, h.stores.Unread.Counts)
}

func (h *Hub) UnreadTotal(ctx context.Context) (int, error) {
	return query(ctx, h, h.stores.Unread.Total)
}

func (h *Hub) ActiveTypers(ctx context.Context, key models.ConversationKey) ([]models.TypingState, error) {
	return query(ctx, h, func() []models.TypingState {
		return h.stores.Typing.ActiveTypers(key)
	})
}

func (h *Hub) Notifications(ctx context.Context) ([]models.Notification, error) {
	return query(ctx, h, h.stores.Notifications.List)
}

func (h *Hub) NotificationUnreadCount(ctx context.Context) (int, error) {
	return query(ctx, h, h.stores.Notifications.UnreadCount)
}

func (h *Hub) Presence(ctx context.Context, userID string) (models.PresenceState, error) {
	return query(ctx, h, func() models.PresenceState {
		state, ok := h.stores.Presence.Get(userID)
		if !ok {
			return models.PresenceState{UserID: userID}
		}
		return state
	})
}

func (h *Hub) Groups(ctx context.Context) ([]models.Group, error) {
	return query(ctx, h, func() []models.Group {
		out := slices.Clone(h.groups)
		if out == nil {
			out = []models.Group{}
		}
		return out
	})
}

// Snapshot summarizes the session for a UI that just attached.
type Snapshot struct {
	UserID              string                         `json:"userId"`
	TenantID            string                         `json:"tenantId"`
	State               conn.State                     `json:"state"`
	Active              models.ConversationKey         `json:"activeConversation,omitempty"`
	Conversations       []models.ConversationKey       `json:"conversations"`
	Unread              map[models.ConversationKey]int `json:"unread"`
	UnreadTotal         int                            `json:"unreadTotal"`
	NotificationsUnread int                            `json:"notificationsUnread"`
	Online              []string                       `json:"online"`
	QueuedIntents       int                            `json:"queuedIntents"`
}

func (h *Hub) Snapshot(ctx context.Context) (Snapshot, error) {
	snap, err := query(ctx, h, func() Snapshot {
		return Snapshot{
			UserID:              h.session.UserID,
			TenantID:            h.session.TenantID,
			Active:              h.stores.Conversations.Active(),
			Conversations:       h.stores.Conversations.Keys(),
			Unread:              h.stores.Unread.Counts(),
			UnreadTotal:         h.stores.Unread.Total(),
			NotificationsUnread: h.stores.Notifications.UnreadCount(),
			Online:              h.stores.Presence.Online(),
		}
	})
	if err != nil {
		return snap, err
	}
	snap.State = h.State()
	if p, ok := h.transport.(interface{ Pending() []conn.Intent }); ok {
		snap.QueuedIntents = len(p.Pending())
	}
	return snap, nil
}
