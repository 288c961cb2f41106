package hub

import (
	"sync"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/conn"
	"github.com/noteduco342/om-realtime-hub/internal/models"
)

// Broker fans values out to subscribers without blocking the publisher.
// A subscriber whose buffer is full misses the value.
type Broker[T any] struct {
	mu     sync.Mutex
	subs   map[int]chan T
	nextID int
	closed bool
	// OnDrop is called when a value could not be delivered to a subscriber.
	OnDrop func()
}

func NewBroker[T any]() *Broker[T] {
	return &Broker[T]{subs: make(map[int]chan T)}
}

// Subscribe returns a channel of future values and a function that ends the
// subscription. The channel is closed by cancel or when the broker closes.
func (b *Broker[T]) Subscribe(buffer int) (<-chan T, func()) {
	if buffer < 1 {
		buffer = 1
	}
	ch := make(chan T, buffer)

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(ch)
		return ch, func() {}
	}
	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(sub)
			}
		})
	}
	return ch, cancel
}

// Publish delivers v to every subscriber with room and returns how many
// received it.
func (b *Broker[T]) Publish(v T) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	delivered := 0
	for _, ch := range b.subs {
		select {
		case ch <- v:
			delivered++
		default:
			if b.OnDrop != nil {
				b.OnDrop()
			}
		}
	}
	return delivered
}

func (b *Broker[T]) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close ends every subscription.
func (b *Broker[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}

// Message sources
const (
	SourceLive     = "live"
	SourceLocal    = "local"
	SourceBackfill = "backfill"
)

type MessageEvent struct {
	Key      models.ConversationKey `json:"conversationKey"`
	Messages []models.Message       `json:"messages"`
	Source   string                 `json:"source"`
}

type TypingEvent struct {
	Key    models.ConversationKey `json:"conversationKey"`
	Typers []models.TypingState   `json:"typers"`
}

type UnreadEvent struct {
	Key   models.ConversationKey `json:"conversationKey"`
	Count int                    `json:"count"`
	Total int                    `json:"total"`
}

type NotificationEvent struct {
	Notification models.Notification `json:"notification"`
	UnreadCount  int                 `json:"unreadCount"`
}

type PresenceEvent struct {
	State models.PresenceState `json:"state"`
}

type ConnectionEvent struct {
	State conn.State `json:"state"`
	Error string     `json:"error,omitempty"`
	At    time.Time  `json:"at"`
	Err   error      `json:"-"`
}

// ErrorEvent reports a failure the UI may show. Recoverable errors leave
// the session running.
type ErrorEvent struct {
	Op          string                 `json:"op"`
	Key         models.ConversationKey `json:"conversationKey,omitempty"`
	Code        string                 `json:"code,omitempty"`
	Error       string                 `json:"error"`
	Recoverable bool                   `json:"recoverable"`
	Err         error                  `json:"-"`
}

func newErrorEvent(op string, key models.ConversationKey, code string, err error, recoverable bool) ErrorEvent {
	return ErrorEvent{Op: op, Key: key, Code: code, Error: err.Error(), Recoverable: recoverable, Err: err}
}

// Events groups one broker per event category.
type Events struct {
	Messages      *Broker[MessageEvent]
	Typing        *Broker[TypingEvent]
	Unread        *Broker[UnreadEvent]
	Notifications *Broker[NotificationEvent]
	Presence      *Broker[PresenceEvent]
	Connection    *Broker[ConnectionEvent]
	Errors        *Broker[ErrorEvent]
}

func newEvents(onDrop func()) *Events {
	e := &Events{
		Messages:      NewBroker[MessageEvent](),
		Typing:        NewBroker[TypingEvent](),
		Unread:        NewBroker[UnreadEvent](),
		Notifications: NewBroker[NotificationEvent](),
		Presence:      NewBroker[PresenceEvent](),
		Connection:    NewBroker[ConnectionEvent](),
		Errors:        NewBroker[ErrorEvent](),
	}
	e.Messages.OnDrop = onDrop
	e.Typing.OnDrop = onDrop
	e.Unread.OnDrop = onDrop
	e.Notifications.OnDrop = onDrop
	e.Presence.OnDrop = onDrop
	e.Connection.OnDrop = onDrop
	e.Errors.OnDrop = onDrop
	return e
}

func (e *Events) close() {
	e.Messages.Close()
	e.Typing.Close()
	e.Unread.Close()
	e.Notifications.Close()
	e.Presence.Close()
	e.Connection.Close()
	e.Errors.Close()
}
