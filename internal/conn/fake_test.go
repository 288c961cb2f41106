package conn

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/models"
	"github.com/noteduco342/om-realtime-hub/internal/wire"
)

var errConnClosed = errors.New("connection closed")

// fakeConn is an in-memory transport. in carries server->client frames,
// out collects what the client wrote.
type fakeConn struct {
	in     chan []byte
	out    chan wire.Frame
	closed chan struct{}
	once   sync.Once
}

func newFakeConn() *fakeConn {
	return &fakeConn{
		in:     make(chan []byte, 16),
		out:    make(chan wire.Frame, 128),
		closed: make(chan struct{}),
	}
}

func (c *fakeConn) ReadMessage() ([]byte, bool, error) {
	select {
	case data := <-c.in:
		return data, false, nil
	case <-c.closed:
		return nil, false, io.EOF
	}
}

func (c *fakeConn) WriteMessage(data []byte, binary bool) error {
	select {
	case <-c.closed:
		return errConnClosed
	default:
	}
	f, err := wire.Decode(data, binary)
	if err != nil {
		return err
	}
	c.out <- f
	return nil
}

func (c *fakeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

func (c *fakeConn) serverSend(t *testing.T, f wire.Frame) {
	t.Helper()
	data, err := wire.Encode(f)
	if err != nil {
		t.Fatalf("Encode error: %v", err)
	}
	c.in <- data
}

// nextWritten returns the next non-heartbeat frame the client wrote.
func (c *fakeConn) nextWritten(t *testing.T) wire.Frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-c.out:
			if wire.IsHeartbeat(f.Type) {
				continue
			}
			return f
		case <-timeout:
			t.Fatalf("timed out waiting for a written frame")
			return wire.Frame{}
		}
	}
}

type fakeDialer struct {
	mu    sync.Mutex
	errs  []error
	dials int
	conns chan *fakeConn
}

func newFakeDialer(errs ...error) *fakeDialer {
	return &fakeDialer{errs: errs, conns: make(chan *fakeConn, 16)}
}

func (d *fakeDialer) Dial(ctx context.Context, session models.Session) (Conn, error) {
	d.mu.Lock()
	n := d.dials
	d.dials++
	d.mu.Unlock()

	if n < len(d.errs) && d.errs[n] != nil {
		return nil, d.errs[n]
	}
	c := newFakeConn()
	d.conns <- c
	return c, nil
}

func (d *fakeDialer) Dials() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.dials
}

func (d *fakeDialer) nextConn(t *testing.T) *fakeConn {
	t.Helper()
	select {
	case c := <-d.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for a dial")
		return nil
	}
}

type fakeOutbox struct {
	mu        sync.Mutex
	entries   []models.OutboxEntry
	deleted   []string
	attempted []string
	deleteErr error
}

func (o *fakeOutbox) MarkAttempted(ctx context.Context, clientID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.attempted = append(o.attempted, clientID)
	return nil
}

func (o *fakeOutbox) Save(ctx context.Context, entry *models.OutboxEntry) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.entries = append(o.entries, *entry)
	return nil
}

func (o *fakeOutbox) Delete(ctx context.Context, clientID string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.deleted = append(o.deleted, clientID)
	if o.deleteErr != nil {
		return o.deleteErr
	}
	for i, e := range o.entries {
		if e.ClientID == clientID {
			o.entries = append(o.entries[:i], o.entries[i+1:]...)
			break
		}
	}
	return nil
}

func (o *fakeOutbox) Pending(ctx context.Context, userID, tenantID string) ([]models.OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]models.OutboxEntry, 0, len(o.entries))
	for _, e := range o.entries {
		if e.UserID == userID && e.TenantID == tenantID {
			out = append(out, e)
		}
	}
	return out, nil
}

func (o *fakeOutbox) Len() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries)
}

func waitState(t *testing.T, states <-chan StateChange, want State) StateChange {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case ch, ok := <-states:
			if !ok {
				t.Fatalf("states closed before reaching %s", want)
			}
			if ch.To == want {
				return ch
			}
		case <-timeout:
			t.Fatalf("timed out waiting for state %s", want)
			return StateChange{}
		}
	}
}

func testSession() models.Session {
	return models.Session{UserID: "U1", UserName: "Ann", TenantID: "t1", Token: "token"}
}

func fastOptions() Options {
	return Options{
		HeartbeatInterval: time.Minute,
		QueueSize:         8,
		Backoff:           &FullJitter{Base: time.Millisecond, Cap: 5 * time.Millisecond},
	}
}
