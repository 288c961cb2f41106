// Package router classifies inbound frames and applies them to the session
// registries.
package router

import (
	"errors"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/models"
	"github.com/noteduco342/om-realtime-hub/internal/store"
	"github.com/noteduco342/om-realtime-hub/internal/wire"
	"go.uber.org/zap"
)

// Kind tells the caller which registry a routed frame touched.
type Kind int

const (
	KindDropped Kind = iota
	KindMessage
	KindTyping
	KindNotification
	KindPresence
	KindError
)

func (k Kind) String() string {
	switch k {
	case KindMessage:
		return "message"
	case KindTyping:
		return "typing"
	case KindNotification:
		return "notification"
	case KindPresence:
		return "presence"
	case KindError:
		return "error"
	}
	return "dropped"
}

// RoutedEvent describes the effect of one inbound frame.
type RoutedEvent struct {
	Kind Kind
	Key  models.ConversationKey

	// Message
	Message       models.Message
	Inserted      bool
	Unread        int // counter after the frame, when it changed
	TypingCleared bool

	// Notification
	Notification models.Notification

	// Presence
	Presence models.PresenceState

	// Error frames and dropped frames
	Code  string
	Err   error
	Fatal bool
}

// Stores groups the registries a Router writes to.
type Stores struct {
	Conversations *store.ConversationStore
	Unread        *store.UnreadTracker
	Typing        *store.TypingRegistry
	Presence      *store.PresenceRegistry
	Notifications *store.NotificationStore
}

type Options struct {
	ViewerID string
	// CountBroadcast makes ALL messages count as unread.
	CountBroadcast bool
	TypingTTL      time.Duration
	Now            func() time.Time
}

type Router struct {
	stores Stores
	opts   Options
	log    *zap.SugaredLogger
}

func New(stores Stores, opts Options, log *zap.SugaredLogger) *Router {
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = store.DefaultTypingTTL
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	return &Router{stores: stores, opts: opts, log: log}
}

// Route validates f and applies it. Invalid and unknown frames come back as
// KindDropped with Err set; Route never panics on input.
func (r *Router) Route(f wire.Frame) RoutedEvent {
	if err := wire.ValidateInbound(&f); err != nil {
		r.log.Warnf("Dropping inbound frame type=%q: %v", f.Type, err)
		return RoutedEvent{Kind: KindDropped, Err: err}
	}

	switch f.Type {
	case wire.TypeChatMessage:
		return r.routeMessage(f)
	case wire.TypeTyping:
		return r.routeTyping(f)
	case wire.TypeNotification:
		n := f.Notification(r.opts.Now())
		if !r.stores.Notifications.Append(n) {
			return RoutedEvent{Kind: KindDropped}
		}
		return RoutedEvent{Kind: KindNotification, Notification: n}
	case wire.TypePresence:
		at := r.opts.Now()
		if f.Timestamp != nil {
			at = *f.Timestamp
		}
		if !r.stores.Presence.Set(f.SenderID, *f.Online, at) {
			return RoutedEvent{Kind: KindDropped}
		}
		state, _ := r.stores.Presence.Get(f.SenderID)
		return RoutedEvent{Kind: KindPresence, Presence: state}
	case wire.TypeError:
		fatal := wire.IsAuthCode(f.Code)
		return RoutedEvent{
			Kind:  KindError,
			Code:  f.Code,
			Err:   errors.New(errorText(f)),
			Fatal: fatal,
		}
	}

	// Heartbeats are filtered by the connection manager; anything else
	// registered but not routable lands here.
	return RoutedEvent{Kind: KindDropped}
}

func (r *Router) routeMessage(f wire.Frame) RoutedEvent {
	msg := f.Message(r.opts.Now())
	key, inserted := r.stores.Conversations.Append(msg)
	ev := RoutedEvent{Kind: KindMessage, Key: key, Message: msg, Inserted: inserted}
	if !inserted {
		return ev
	}
	// Any message from a typer ends their typing state.
	ev.TypingCleared = r.stores.Typing.ClearTyping(key, msg.SenderID)

	if r.countsAsUnread(key, msg) {
		ev.Unread = r.stores.Unread.Increment(key)
	}
	return ev
}

func (r *Router) countsAsUnread(key models.ConversationKey, msg models.Message) bool {
	if msg.SenderID == r.opts.ViewerID {
		return false
	}
	if r.stores.Conversations.IsActive(key) {
		return false
	}
	if msg.RecipientType == models.RecipientAll && !r.opts.CountBroadcast {
		return false
	}
	return true
}

func (r *Router) routeTyping(f wire.Frame) RoutedEvent {
	key := models.KeyForRecipient(f.SenderID, f.RecipientID, f.RecipientType, r.opts.ViewerID)
	if f.SenderID == r.opts.ViewerID {
		return RoutedEvent{Kind: KindDropped}
	}
	if *f.Typing {
		r.stores.Typing.SetTyping(key, f.SenderID, f.SenderName, f.TTL(r.opts.TypingTTL))
	} else if !r.stores.Typing.ClearTyping(key, f.SenderID) {
		return RoutedEvent{Kind: KindDropped}
	}
	return RoutedEvent{Kind: KindTyping, Key: key}
}

func errorText(f wire.Frame) string {
	switch {
	case f.Content != "":
		return f.Code + ": " + f.Content
	case f.Code != "":
		return f.Code
	}
	return "server error"
}
