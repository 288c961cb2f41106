package bridge

import (
	"time"

	"github.com/gofiber/websocket/v2"
	"github.com/noteduco342/om-realtime-hub/internal/hub"
)

const (
	streamWriteWait  = 10 * time.Second
	streamPingPeriod = 30 * time.Second
)

// Envelope is one event on the /ws stream.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}

// Event names on the /ws stream
const (
	EventMessage      = "message"
	EventTyping       = "typing"
	EventUnread       = "unread"
	EventNotification = "notification"
	EventPresence     = "presence"
	EventConnection   = "connection"
	EventError        = "error"
)

type subscription struct {
	messages      <-chan hub.MessageEvent
	typing        <-chan hub.TypingEvent
	unread        <-chan hub.UnreadEvent
	notifications <-chan hub.NotificationEvent
	presence      <-chan hub.PresenceEvent
	connection    <-chan hub.ConnectionEvent
	errors        <-chan hub.ErrorEvent
	cancels       []func()
}

func subscribe(events *hub.Events, buffer int) *subscription {
	s := &subscription{}
	var cancel func()
	s.messages, cancel = events.Messages.Subscribe(buffer)
	s.cancels = append(s.cancels, cancel)
	s.typing, cancel = events.Typing.Subscribe(buffer)
	s.cancels = append(s.cancels, cancel)
	s.unread, cancel = events.Unread.Subscribe(buffer)
	s.cancels = append(s.cancels, cancel)
	s.notifications, cancel = events.Notifications.Subscribe(buffer)
	s.cancels = append(s.cancels, cancel)
	s.presence, cancel = events.Presence.Subscribe(buffer)
	s.cancels = append(s.cancels, cancel)
	s.connection, cancel = events.Connection.Subscribe(buffer)
	s.cancels = append(s.cancels, cancel)
	s.errors, cancel = events.Errors.Subscribe(buffer)
	s.cancels = append(s.cancels, cancel)
	return s
}

func (s *subscription) close() {
	for _, cancel := range s.cancels {
		cancel()
	}
}

// next blocks for the next event. ok is false once the hub has closed its
// brokers or done fires.
func (s *subscription) next(done <-chan struct{}, tick <-chan time.Time) (env Envelope, ping bool, ok bool) {
	select {
	case <-done:
		return Envelope{}, false, false
	case <-tick:
		return Envelope{}, true, true
	case ev, ok := <-s.messages:
		return Envelope{Event: EventMessage, Data: ev}, false, ok
	case ev, ok := <-s.typing:
		return Envelope{Event: EventTyping, Data: ev}, false, ok
	case ev, ok := <-s.unread:
		return Envelope{Event: EventUnread, Data: ev}, false, ok
	case ev, ok := <-s.notifications:
		return Envelope{Event: EventNotification, Data: ev}, false, ok
	case ev, ok := <-s.presence:
		return Envelope{Event: EventPresence, Data: ev}, false, ok
	case ev, ok := <-s.connection:
		return Envelope{Event: EventConnection, Data: ev}, false, ok
	case ev, ok := <-s.errors:
		return Envelope{Event: EventError, Data: ev}, false, ok
	}
}

// stream pushes every hub event to the websocket client until either side
// goes away. Inbound client messages are ignored.
func (s *Server) stream(c *websocket.Conn) {
	sub := subscribe(s.hub.Events(), s.conf.StreamBuffer)
	defer sub.close()
	s.metrics.SubscriberAdded()
	defer s.metrics.SubscriberRemoved()

	s.log.Infof("Bridge stream subscriber connected from %s", c.RemoteAddr())

	// The reader only notices the client closing.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(streamPingPeriod)
	defer ticker.Stop()

	for {
		env, ping, ok := sub.next(gone, ticker.C)
		if !ok {
			break
		}
		c.SetWriteDeadline(time.Now().Add(streamWriteWait))
		var err error
		if ping {
			err = c.WriteMessage(websocket.PingMessage, nil)
		} else {
			err = c.WriteJSON(env)
		}
		if err != nil {
			s.log.Debugf("Bridge stream write failed: %v", err)
			break
		}
	}

	c.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), time.Now().Add(time.Second))
	s.log.Infof("Bridge stream subscriber disconnected from %s", c.RemoteAddr())
}
