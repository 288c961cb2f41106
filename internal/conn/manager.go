// Package conn owns the session's transport connection: handshake,
// heartbeat, reconnect with backoff and the bounded send queue.
package conn

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/noteduco342/om-realtime-hub/internal/metrics"
	"github.com/noteduco342/om-realtime-hub/internal/models"
	"github.com/noteduco342/om-realtime-hub/internal/wire"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

var (
	ErrAlreadyStarted   = errors.New("connection manager already started")
	ErrHeartbeatTimeout = errors.New("heartbeat timeout")
)

const (
	DefaultHeartbeatInterval = 30 * time.Second
	DefaultQueueSize         = 256
)

// Outbox persists message intents so they survive a restart while queued.
type Outbox interface {
	Save(ctx context.Context, entry *models.OutboxEntry) error
	Delete(ctx context.Context, clientID string) error
	Pending(ctx context.Context, userID, tenantID string) ([]models.OutboxEntry, error)
}

type Options struct {
	HeartbeatInterval time.Duration
	BackoffBase       time.Duration
	BackoffCap        time.Duration
	QueueSize         int
	FrameBuffer       int
	// Compress gzips large outbound frames into binary messages.
	Compress bool
	Outbox   Outbox
	Now      func() time.Time
	// Backoff replaces the full-jitter policy built from BackoffBase and
	// BackoffCap.
	Backoff backoff.BackOff
}

// Manager runs one session's connection until Disconnect or a fatal auth
// failure. Inbound frames come out of Frames, state transitions out of
// States; both channels are closed when the manager stops.
type Manager struct {
	dialer  Dialer
	opts    Options
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	queue   *SendQueue
	backoff backoff.BackOff
	frames  chan wire.Frame
	states  chan StateChange
	done    chan struct{}

	mu      sync.Mutex
	state   State
	session models.Session
	started bool
	cancel  context.CancelFunc
	err     error

	// restored is closed once entries from a previous run are queued.
	restored chan struct{}

	lastPong atomic.Int64
}

func NewManager(dialer Dialer, opts Options, log *zap.SugaredLogger, m *metrics.Metrics) *Manager {
	if opts.HeartbeatInterval <= 0 {
		opts.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if opts.QueueSize <= 0 {
		opts.QueueSize = DefaultQueueSize
	}
	if opts.FrameBuffer <= 0 {
		opts.FrameBuffer = 64
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	b := opts.Backoff
	if b == nil {
		b = NewFullJitter(opts.BackoffBase, opts.BackoffCap)
	}

	mgr := &Manager{
		dialer:  dialer,
		opts:    opts,
		log:     log,
		metrics: m,
		queue:   NewSendQueue(opts.QueueSize, opts.Now),
		backoff: b,
		frames:  make(chan wire.Frame, opts.FrameBuffer),
		states:  make(chan StateChange, 16),
		done:    make(chan struct{}),
	}
	mgr.restored = make(chan struct{})
	close(mgr.restored)
	mgr.queue.OnEvict = func(it Intent) {
		m.FrameDropped("typing_evicted")
	}
	return mgr
}

func (m *Manager) Frames() <-chan wire.Frame { return m.frames }

func (m *Manager) States() <-chan StateChange { return m.states }

// Done is closed once the manager has stopped.
func (m *Manager) Done() <-chan struct{} { return m.done }

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// Pending returns a snapshot of the queued intents.
func (m *Manager) Pending() []Intent {
	return m.queue.Snapshot()
}

// Connect starts the connection loop for session. It fails fast with
// ErrUnauthorized when the token is already expired. The loop keeps
// reconnecting until ctx is cancelled, Disconnect is called or the server
// rejects the credentials.
func (m *Manager) Connect(ctx context.Context, session models.Session) error {
	if session.Expired(m.opts.Now()) {
		return fmt.Errorf("%w: session token expired", ErrUnauthorized)
	}

	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.session = session
	ctx, m.cancel = context.WithCancel(ctx)
	restored := make(chan struct{})
	m.restored = restored
	m.mu.Unlock()

	var entries []models.OutboxEntry
	if m.opts.Outbox != nil {
		var err error
		entries, err = m.opts.Outbox.Pending(ctx, session.UserID, session.TenantID)
		if err != nil {
			m.log.Warnf("Outbox restore failed: %v", err)
		}
	}
	// Sends wait on restored so earlier entries keep their place in line.
	go func() {
		defer close(restored)
		if len(entries) > 0 {
			m.restore(ctx, entries)
		}
	}()
	go m.run(ctx, session)
	return nil
}

// Send queues an outbound intent. Message and read intents wait for room;
// a typing intent that finds none returns ErrDropped.
func (m *Manager) Send(ctx context.Context, it Intent) error {
	m.mu.Lock()
	session := m.session
	restored := m.restored
	m.mu.Unlock()

	select {
	case <-restored:
	case <-ctx.Done():
		return ctx.Err()
	}

	durable := m.opts.Outbox != nil && session.UserID != "" &&
		it.Kind == IntentMessage && it.Frame.ClientID != ""
	if durable {
		if err := m.save(ctx, session, it.Frame); err != nil {
			m.log.Warnf("Outbox save failed for %s, keeping in memory only: %v", it.Frame.ClientID, err)
			durable = false
		}
	}

	err := m.queue.Push(ctx, it)
	m.metrics.SetQueueDepth(m.queue.Len())
	if err != nil {
		if errors.Is(err, ErrDropped) {
			m.metrics.FrameDropped("typing_queue_full")
		}
		if durable {
			if derr := m.opts.Outbox.Delete(context.WithoutCancel(ctx), it.Frame.ClientID); derr != nil {
				m.log.Warnf("Outbox delete failed for unsent %s: %v", it.Frame.ClientID, derr)
			}
		}
		return err
	}
	return nil
}

// Disconnect stops the manager. It is terminal; use Wait to block until
// the transport is closed.
func (m *Manager) Disconnect() {
	m.mu.Lock()
	cancel := m.cancel
	started := m.started
	m.started = true
	m.mu.Unlock()

	m.queue.Close()
	if cancel != nil {
		cancel()
		return
	}
	if !started {
		close(m.frames)
		close(m.states)
		close(m.done)
	}
}

// Wait blocks until the manager stops and returns the fatal error, if any.
// An explicit Disconnect returns nil.
func (m *Manager) Wait() error {
	<-m.done
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.err
}

func (m *Manager) run(ctx context.Context, session models.Session) {
	defer close(m.done)

	operation := func() error {
		m.setState(Connecting, nil)
		c, err := m.dialer.Dial(ctx, session)
		if err != nil {
			return m.classify(ctx, err)
		}
		m.backoff.Reset()
		m.log.Infof("Connected as user %s (tenant %s)", session.UserID, session.TenantID)
		m.setState(Connected, nil)
		return m.classify(ctx, m.serve(ctx, c))
	}
	notify := func(err error, delay time.Duration) {
		m.metrics.Reconnect()
		m.log.Warnf("Connection lost, retrying in %v: %v", delay.Round(time.Millisecond), err)
	}

	err := backoff.RetryNotify(operation, backoff.WithContext(m.backoff, ctx), notify)
	if !errors.Is(err, ErrUnauthorized) {
		err = nil
	}
	m.finish(err)
}

// classify decides whether err ends the loop. Transient errors move the
// manager to RECONNECTING and are retried.
func (m *Manager) classify(ctx context.Context, err error) error {
	if ctx.Err() != nil {
		return backoff.Permanent(ctx.Err())
	}
	if errors.Is(err, ErrUnauthorized) {
		return backoff.Permanent(err)
	}
	m.setState(Reconnecting, err)
	return err
}

func (m *Manager) finish(err error) {
	m.mu.Lock()
	m.err = err
	m.mu.Unlock()

	if err != nil {
		m.log.Errorf("Connection closed permanently: %v", err)
	}
	m.setState(Disconnected, err)
	if left := m.queue.Close(); len(left) > 0 {
		m.log.Infof("Discarding %d queued intents on disconnect", len(left))
	}
	m.metrics.SetQueueDepth(0)
	close(m.frames)
	close(m.states)
}

// serve runs the reader, writer and heartbeat for one connection and
// returns the error that ended it.
func (m *Manager) serve(ctx context.Context, c Conn) error {
	m.lastPong.Store(m.opts.Now().UnixNano())

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		c.Close()
		return nil
	})
	g.Go(func() error { return m.readLoop(gctx, c) })
	g.Go(func() error { return m.writeLoop(gctx, c) })
	g.Go(func() error { return m.heartbeat(gctx, c) })
	return g.Wait()
}

func (m *Manager) readLoop(ctx context.Context, c Conn) error {
	for {
		data, binary, err := c.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("read: %w", err)
		}

		f, err := wire.Decode(data, binary)
		if err != nil {
			m.log.Warnf("Dropping malformed frame: %v", err)
			m.metrics.FrameDropped("malformed")
			continue
		}
		m.metrics.FrameReceived(f.Type)

		switch f.Type {
		case wire.TypePong:
			m.lastPong.Store(m.opts.Now().UnixNano())
			continue
		case wire.TypePing:
			if err := m.write(c, wire.Pong()); err != nil {
				return fmt.Errorf("pong: %w", err)
			}
			continue
		}

		select {
		case m.frames <- f:
		case <-ctx.Done():
			return ctx.Err()
		}

		if f.Type == wire.TypeError && wire.IsAuthCode(f.Code) {
			return fmt.Errorf("%w: server sent %s", ErrUnauthorized, f.Code)
		}
	}
}

func (m *Manager) writeLoop(ctx context.Context, c Conn) error {
	for {
		it, err := m.queue.Peek(ctx)
		if err != nil {
			return err
		}
		if it.Expired(m.opts.Now()) {
			m.queue.Commit()
			m.metrics.FrameDropped("typing_expired")
			continue
		}
		if err := m.write(c, it.Frame); err != nil {
			m.queue.Release()
			return fmt.Errorf("write: %w", err)
		}
		m.queue.Commit()
		m.metrics.SetQueueDepth(m.queue.Len())

		if m.opts.Outbox != nil && it.Kind == IntentMessage && it.Frame.ClientID != "" {
			if err := m.opts.Outbox.Delete(ctx, it.Frame.ClientID); err != nil {
				m.log.Warnf("Outbox delete failed for %s: %v", it.Frame.ClientID, err)
			}
		}
	}
}

func (m *Manager) heartbeat(ctx context.Context, c Conn) error {
	interval := m.opts.HeartbeatInterval
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			last := time.Unix(0, m.lastPong.Load())
			if m.opts.Now().Sub(last) > 2*interval {
				return ErrHeartbeatTimeout
			}
			if err := m.write(c, wire.Ping()); err != nil {
				return fmt.Errorf("ping: %w", err)
			}
		}
	}
}

func (m *Manager) write(c Conn, f wire.Frame) error {
	var (
		data   []byte
		binary bool
		err    error
	)
	if m.opts.Compress {
		data, binary, err = wire.EncodeCompressed(f)
	} else {
		data, err = wire.Encode(f)
	}
	if err != nil {
		return err
	}
	if err := c.WriteMessage(data, binary); err != nil {
		return err
	}
	m.metrics.FrameSent(f.Type)
	return nil
}

// setState applies a transition and publishes it. When the consumer lags,
// the oldest unread change is discarded so the newest always gets through.
func (m *Manager) setState(to State, cause error) {
	m.mu.Lock()
	from := m.state
	if from == to || !CanTransition(from, to) {
		m.mu.Unlock()
		return
	}
	m.state = to
	m.mu.Unlock()

	m.metrics.SetConnectionState(int(to))
	change := StateChange{From: from, To: to, Err: cause, At: m.opts.Now()}
	for {
		select {
		case m.states <- change:
			return
		default:
			select {
			case <-m.states:
			default:
			}
		}
	}
}

func (m *Manager) save(ctx context.Context, session models.Session, f wire.Frame) error {
	payload, err := wire.Encode(f)
	if err != nil {
		return err
	}
	return m.opts.Outbox.Save(ctx, &models.OutboxEntry{
		ClientID: f.ClientID,
		UserID:   session.UserID,
		TenantID: session.TenantID,
		Payload:  string(payload),
	})
}

// restore re-queues message intents left in the outbox by a previous run,
// in the order they were saved.
func (m *Manager) restore(ctx context.Context, entries []models.OutboxEntry) {
	m.log.Infof("Restoring %d queued messages from outbox", len(entries))
	for _, entry := range entries {
		f, err := wire.Decode([]byte(entry.Payload), false)
		if err != nil {
			m.log.Warnf("Dropping unreadable outbox entry %s: %v", entry.ClientID, err)
			if err := m.opts.Outbox.Delete(ctx, entry.ClientID); err != nil {
				m.log.Warnf("Outbox delete failed for %s: %v", entry.ClientID, err)
			}
			continue
		}
		if marker, ok := m.opts.Outbox.(attemptMarker); ok {
			if err := marker.MarkAttempted(ctx, entry.ClientID); err != nil {
				m.log.Warnf("Marking outbox entry %s attempted: %v", entry.ClientID, err)
			}
		}
		if err := m.queue.Push(ctx, MessageIntent(f)); err != nil {
			return
		}
	}
	m.metrics.SetQueueDepth(m.queue.Len())
}

// attemptMarker is implemented by outboxes that count restarts per entry.
type attemptMarker interface {
	MarkAttempted(ctx context.Context, clientID string) error
}
