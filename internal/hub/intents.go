package hub

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/noteduco342/om-realtime-hub/internal/conn"
	"github.com/noteduco342/om-realtime-hub/internal/models"
	"github.com/noteduco342/om-realtime-hub/internal/validation"
	"github.com/noteduco342/om-realtime-hub/internal/wire"
)

var (
	ErrEmptyMessage     = errors.New("message content is empty")
	ErrInvalidRecipient = errors.New("invalid recipient")
	ErrNoDirectory      = errors.New("no directory configured")
)

// SendMessage echoes the message locally and queues it for the server.
// The local echo carries a provisional ID and is replaced by the server's
// echo. It blocks while the send queue is full.
func (h *Hub) SendMessage(ctx context.Context, recipientID string, rt models.RecipientType, content string) (models.Message, error) {
	content = validation.TrimAndLimit(content, validation.MaxMessageLength())
	if content == "" {
		return models.Message{}, ErrEmptyMessage
	}
	if err := validation.Recipient(recipientID, rt); err != nil {
		return models.Message{}, fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}

	clientID := uuid.NewString()
	frame := wire.ChatFrame(clientID, h.session.UserID, h.session.UserName, recipientID, rt, content, h.opts.Now())
	local := frame.Message(h.opts.Now())
	local.ID = models.LocalID(clientID)
	local.Pending = true

	var key models.ConversationKey
	err := h.do(ctx, func() {
		var inserted bool
		key, inserted = h.stores.Conversations.Append(local)
		if inserted {
			h.events.Messages.Publish(MessageEvent{Key: key, Messages: []models.Message{local}, Source: SourceLocal})
		}
	})
	if err != nil {
		return models.Message{}, err
	}

	// Sending happens outside the actor so backpressure never stalls
	// inbound processing.
	if err := h.transport.Send(ctx, conn.MessageIntent(frame)); err != nil {
		h.do(context.WithoutCancel(ctx), func() {
			if h.stores.Conversations.DropPending(key, clientID) {
				h.events.Errors.Publish(newErrorEvent("send", key, "", err, true))
			}
		})
		return models.Message{}, err
	}
	return local, nil
}

// SendTyping signals typing in a conversation. Start signals are limited to
// one per TypingInterval; extra ones are absorbed. Stop signals always go out.
func (h *Hub) SendTyping(ctx context.Context, recipientID string, rt models.RecipientType, typing bool) error {
	if err := validation.Recipient(recipientID, rt); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRecipient, err)
	}
	if typing && !h.typing.Allow() {
		return nil
	}
	select {
	case <-h.done:
		return ErrClosed
	default:
	}
	frame := wire.TypingFrame(h.session.UserID, h.session.UserName, recipientID, rt, typing, h.opts.TypingTTL)
	return h.transport.Send(ctx, conn.TypingIntent(frame, h.opts.TypingTTL))
}

// Activate makes key the viewed conversation: its unread counter is
// cleared and its history backfilled.
func (h *Hub) Activate(ctx context.Context, key models.ConversationKey) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, key)
	}
	var ack *wire.Frame
	err := h.do(ctx, func() {
		h.stores.Conversations.Activate(key)
		ack = h.clearUnread(key)
		h.startBackfill(key)
	})
	if err != nil {
		return err
	}
	return h.sendRead(ctx, ack)
}

func (h *Hub) Deactivate(ctx context.Context, key models.ConversationKey) error {
	return h.do(ctx, func() {
		h.stores.Conversations.Deactivate(key)
	})
}

// MarkRead clears key's unread counter and acknowledges the last message
// to the server.
func (h *Hub) MarkRead(ctx context.Context, key models.ConversationKey) error {
	if !key.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidRecipient, key)
	}
	var ack *wire.Frame
	if err := h.do(ctx, func() { ack = h.clearUnread(key) }); err != nil {
		return err
	}
	return h.sendRead(ctx, ack)
}

// clearUnread runs on the actor. It returns the READ frame to send when
// there was something unread.
func (h *Hub) clearUnread(key models.ConversationKey) *wire.Frame {
	if !h.stores.Unread.Clear(key) {
		return nil
	}
	h.publishUnread(key)

	last, ok := h.stores.Conversations.Last(key)
	if !ok || last.Pending {
		return nil
	}
	f := wire.ReadFrame(h.session.UserID, key.Peer(h.session.UserID), key.Type(), last.ID)
	return &f
}

func (h *Hub) sendRead(ctx context.Context, f *wire.Frame) error {
	if f == nil {
		return nil
	}
	return h.transport.Send(ctx, conn.ReadIntent(*f))
}

func (h *Hub) MarkNotificationRead(ctx context.Context, id string) (bool, error) {
	return query(ctx, h, func() bool {
		if !h.stores.Notifications.MarkRead(id) {
			return false
		}
		h.publishNotificationCount()
		return true
	})
}

func (h *Hub) MarkAllNotificationsRead(ctx context.Context) (int, error) {
	return query(ctx, h, func() int {
		n := h.stores.Notifications.MarkAllRead()
		if n > 0 {
			h.publishNotificationCount()
		}
		return n
	})
}

func (h *Hub) publishNotificationCount() {
	h.events.Notifications.Publish(NotificationEvent{UnreadCount: h.stores.Notifications.UnreadCount()})
}

// CreateGroup creates a group through the directory and adds it to the
// session's group list.
func (h *Hub) CreateGroup(ctx context.Context, name string, memberIDs []string) (models.Group, error) {
	if h.directory == nil {
		return models.Group{}, ErrNoDirectory
	}
	name, members, err := validation.Group(name, memberIDs, h.session.UserID)
	if err != nil {
		return models.Group{}, err
	}
	group, err := h.directory.CreateGroup(ctx, name, members)
	if err != nil {
		if isAuthFailure(err) {
			_ = h.do(context.WithoutCancel(ctx), func() { h.failSession(err) })
		}
		return models.Group{}, err
	}
	err = h.do(ctx, func() {
		for _, g := range h.groups {
			if g.ID == group.ID {
				return
			}
		}
		h.groups = append(h.groups, group)
	})
	return group, err
}

// RefreshGroups reloads the group list from the directory.
func (h *Hub) RefreshGroups(ctx context.Context) error {
	return h.do(ctx, h.startGroupsLoad)
}
