package conn

import (
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/wire"
)

type IntentKind int

const (
	IntentMessage IntentKind = iota
	IntentTyping
	IntentRead
)

func (k IntentKind) String() string {
	switch k {
	case IntentTyping:
		return "typing"
	case IntentRead:
		return "read"
	}
	return "message"
}

// Intent is an outbound frame waiting in the send queue.
type Intent struct {
	Kind       IntentKind
	Frame      wire.Frame
	EnqueuedAt time.Time
	// TTL bounds how long a typing intent stays worth sending.
	TTL time.Duration
}

// Perishable intents may be dropped when the queue is full.
func (i Intent) Perishable() bool {
	return i.Kind == IntentTyping
}

func (i Intent) Expired(now time.Time) bool {
	return i.Perishable() && i.TTL > 0 && !now.Before(i.EnqueuedAt.Add(i.TTL))
}

func MessageIntent(f wire.Frame) Intent {
	return Intent{Kind: IntentMessage, Frame: f}
}

func TypingIntent(f wire.Frame, ttl time.Duration) Intent {
	return Intent{Kind: IntentTyping, Frame: f, TTL: ttl}
}

func ReadIntent(f wire.Frame) Intent {
	return Intent{Kind: IntentRead, Frame: f}
}
