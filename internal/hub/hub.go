// Package hub runs the per-session actor. One goroutine owns every registry
// of the session; intents and queries reach it through a mailbox.
package hub

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/conn"
	"github.com/noteduco342/om-realtime-hub/internal/directory"
	"github.com/noteduco342/om-realtime-hub/internal/metrics"
	"github.com/noteduco342/om-realtime-hub/internal/models"
	"github.com/noteduco342/om-realtime-hub/internal/router"
	"github.com/noteduco342/om-realtime-hub/internal/store"
	"github.com/noteduco342/om-realtime-hub/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrClosed = errors.New("hub closed")

// Transport is the connection the hub drives. *conn.Manager implements it.
type Transport interface {
	Connect(ctx context.Context, session models.Session) error
	Send(ctx context.Context, it conn.Intent) error
	Frames() <-chan wire.Frame
	States() <-chan conn.StateChange
	State() conn.State
	Disconnect()
	Wait() error
}

// Directory is the REST collaborator for groups and history.
type Directory interface {
	Groups(ctx context.Context) ([]models.Group, error)
	CreateGroup(ctx context.Context, name string, memberIDs []string) (models.Group, error)
	History(ctx context.Context, key models.ConversationKey) ([]models.Message, error)
}

type Options struct {
	Retention      int
	CountBroadcast bool
	TypingTTL      time.Duration
	TypingSweep    time.Duration
	// TypingInterval is the minimum spacing of outbound typing signals.
	TypingInterval  time.Duration
	BackfillTimeout time.Duration
	MailboxSize     int
	Now             func() time.Time
}

type Deps struct {
	Transport Transport
	Directory Directory
	Log       *zap.SugaredLogger
	Metrics   *metrics.Metrics
}

type Hub struct {
	session   models.Session
	opts      Options
	transport Transport
	directory Directory
	log       *zap.SugaredLogger
	metrics   *metrics.Metrics
	events    *Events
	typing    *rate.Limiter

	// Owned by the actor goroutine.
	stores    router.Stores
	router    *router.Router
	groups    []models.Group
	inflight  map[models.ConversationKey]bool
	runCtx    context.Context
	fatal     error
	backfills chan backfillResult
	groupsIn  chan groupsResult

	mailbox   chan func()
	closing   chan struct{}
	closeOnce sync.Once
	done      chan struct{}
}

func New(session models.Session, opts Options, deps Deps) *Hub {
	if opts.TypingTTL <= 0 {
		opts.TypingTTL = store.DefaultTypingTTL
	}
	if opts.TypingSweep <= 0 {
		opts.TypingSweep = 500 * time.Millisecond
	}
	if opts.TypingInterval <= 0 {
		opts.TypingInterval = time.Second
	}
	if opts.BackfillTimeout <= 0 {
		opts.BackfillTimeout = 15 * time.Second
	}
	if opts.MailboxSize <= 0 {
		opts.MailboxSize = 64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	log := deps.Log
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	stores := router.Stores{
		Conversations: store.NewConversationStore(session.UserID, opts.Retention),
		Unread:        store.NewUnreadTracker(),
		Typing:        store.NewTypingRegistry(session.UserID, opts.Now),
		Presence:      store.NewPresenceRegistry(),
		Notifications: store.NewNotificationStore(),
	}
	h := &Hub{
		session:   session,
		opts:      opts,
		transport: deps.Transport,
		directory: deps.Directory,
		log:       log,
		metrics:   deps.Metrics,
		typing:    rate.NewLimiter(rate.Every(opts.TypingInterval), 1),
		stores:    stores,
		router: router.New(stores, router.Options{
			ViewerID:       session.UserID,
			CountBroadcast: opts.CountBroadcast,
			TypingTTL:      opts.TypingTTL,
			Now:            opts.Now,
		}, log),
		inflight:  make(map[models.ConversationKey]bool),
		backfills: make(chan backfillResult),
		groupsIn:  make(chan groupsResult),
		mailbox:   make(chan func(), opts.MailboxSize),
		closing:   make(chan struct{}),
		done:      make(chan struct{}),
	}
	h.events = newEvents(func() { deps.Metrics.FrameDropped("slow_subscriber") })
	return h
}

func (h *Hub) Session() models.Session { return h.session }

func (h *Hub) Events() *Events { return h.events }

// Done is closed after teardown.
func (h *Hub) Done() <-chan struct{} { return h.done }

// State is the current connection state.
func (h *Hub) State() conn.State {
	select {
	case <-h.done:
		return conn.Disconnected
	default:
	}
	return h.transport.State()
}

// Close logs the session out. Run tears down and returns.
func (h *Hub) Close() {
	h.closeOnce.Do(func() { close(h.closing) })
}

// Run connects and processes frames, intents and timers until ctx is done,
// Close is called or the server rejects the session. It returns the fatal
// error, if any, after every registry has been cleared.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	h.runCtx = ctx

	if err := h.transport.Connect(ctx, h.session); err != nil {
		h.log.Errorf("Connect failed for user %s: %v", h.session.UserID, err)
		h.transport.Disconnect()
		h.teardown(err)
		return err
	}

	sweep := time.NewTicker(h.opts.TypingSweep)
	defer sweep.Stop()

	frames := h.transport.Frames()
	states := h.transport.States()

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case <-h.closing:
			break loop
		case fn := <-h.mailbox:
			fn()
		case f, ok := <-frames:
			if !ok {
				break loop
			}
			h.handleFrame(f)
		case change, ok := <-states:
			if !ok {
				states = nil
				continue
			}
			h.handleState(change)
		case res := <-h.backfills:
			h.applyBackfill(res)
		case res := <-h.groupsIn:
			h.applyGroups(res)
		case <-sweep.C:
			h.sweepTyping()
		}
	}

	h.transport.Disconnect()
	err := h.transport.Wait()
	if h.fatal != nil {
		err = h.fatal
	}
	h.teardown(err)
	return err
}

// failSession ends the session from inside the actor. Run returns err.
func (h *Hub) failSession(err error) {
	if h.fatal == nil {
		h.fatal = err
	}
	h.Close()
}

// isAuthFailure reports whether a collaborator rejected the session token.
func isAuthFailure(err error) bool {
	return errors.Is(err, directory.ErrUnauthorized) || errors.Is(err, conn.ErrUnauthorized)
}

// teardown clears the session state and ends every subscription.
func (h *Hub) teardown(err error) {
	h.stores.Conversations.Clear()
	h.stores.Unread.Reset()
	h.stores.Typing.Clear()
	h.stores.Presence.Clear()
	h.stores.Notifications.Clear()
	h.groups = nil
	clear(h.inflight)
	h.metrics.SetUnreadTotal(0)

	ev := ConnectionEvent{State: conn.Disconnected, At: h.opts.Now(), Err: err}
	if err != nil {
		ev.Error = err.Error()
		h.events.Errors.Publish(newErrorEvent("session", "", "", err, false))
	}
	h.events.Connection.Publish(ev)
	h.events.close()
	h.log.Infof("Session for user %s torn down", h.session.UserID)
}

// do runs fn on the actor and waits for it.
func (h *Hub) do(ctx context.Context, fn func()) error {
	ran := make(chan struct{})
	select {
	case h.mailbox <- func() { fn(); close(ran) }:
	case <-h.done:
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case <-ran:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-h.done:
		select {
		case <-ran:
			return nil
		default:
		}
		return ErrClosed
	}
}

func query[T any](ctx context.Context, h *Hub, fn func() T) (T, error) {
	out := make(chan T, 1)
	if err := h.do(ctx, func() { out <- fn() }); err != nil {
		var zero T
		return zero, err
	}
	return <-out, nil
}

func (h *Hub) handleFrame(f wire.Frame) {
	ev := h.router.Route(f)
	switch ev.Kind {
	case router.KindMessage:
		if !ev.Inserted {
			return
		}
		h.events.Messages.Publish(MessageEvent{Key: ev.Key, Messages: []models.Message{ev.Message}, Source: SourceLive})
		if ev.TypingCleared {
			h.publishTyping(ev.Key)
		}
		if ev.Unread > 0 {
			h.publishUnread(ev.Key)
		}
	case router.KindTyping:
		h.publishTyping(ev.Key)
	case router.KindNotification:
		h.events.Notifications.Publish(NotificationEvent{
			Notification: ev.Notification,
			UnreadCount:  h.stores.Notifications.UnreadCount(),
		})
	case router.KindPresence:
		h.events.Presence.Publish(PresenceEvent{State: ev.Presence})
	case router.KindError:
		h.log.Warnf("Server error frame code=%s fatal=%v", ev.Code, ev.Fatal)
		h.events.Errors.Publish(newErrorEvent("server", "", ev.Code, ev.Err, !ev.Fatal))
	case router.KindDropped:
		if ev.Err != nil {
			h.metrics.FrameDropped("invalid")
		}
	}
}

func (h *Hub) handleState(change conn.StateChange) {
	ev := ConnectionEvent{State: change.To, At: change.At, Err: change.Err}
	if change.Err != nil {
		ev.Error = change.Err.Error()
	}
	h.events.Connection.Publish(ev)

	if change.To == conn.Connected {
		for _, key := range h.stores.Conversations.Subscribed() {
			h.startBackfill(key)
		}
		h.startGroupsLoad()
	}
}

func (h *Hub) sweepTyping() {
	for _, key := range h.stores.Typing.Sweep() {
		h.publishTyping(key)
	}
}

func (h *Hub) publishTyping(key models.ConversationKey) {
	h.events.Typing.Publish(TypingEvent{Key: key, Typers: h.stores.Typing.ActiveTypers(key)})
}

func (h *Hub) publishUnread(key models.ConversationKey) {
	total := h.stores.Unread.Total()
	h.metrics.SetUnreadTotal(total)
	h.events.Unread.Publish(UnreadEvent{Key: key, Count: h.stores.Unread.Count(key), Total: total})
}
