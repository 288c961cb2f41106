package hub

import (
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/conn"
	"github.com/noteduco342/om-realtime-hub/internal/models"
	"github.com/noteduco342/om-realtime-hub/internal/wire"
)

// pipeConn is the client end of an in-memory connection.
type pipeConn struct {
	toClient chan []byte
	toServer chan wire.Frame
	closed   chan struct{}
	once     sync.Once
}

func (c *pipeConn) ReadMessage() ([]byte, bool, error) {
	select {
	case data := <-c.toClient:
		return data, false, nil
	case <-c.closed:
		return nil, false, io.EOF
	}
}

func (c *pipeConn) WriteMessage(data []byte, binary bool) error {
	select {
	case <-c.closed:
		return errors.New("closed")
	default:
	}
	f, err := wire.Decode(data, binary)
	if err != nil {
		return err
	}
	c.toServer <- f
	return nil
}

func (c *pipeConn) Close() error {
	c.once.Do(func() { close(c.closed) })
	return nil
}

// fakeServer hands out pipe connections while online and refuses dials
// while offline.
type fakeServer struct {
	mu      sync.Mutex
	offline bool
	reject  bool
	conns   chan *pipeConn
}

func newFakeServer() *fakeServer {
	return &fakeServer{conns: make(chan *pipeConn, 8)}
}

func (s *fakeServer) setOffline(v bool) {
	s.mu.Lock()
	s.offline = v
	s.mu.Unlock()
}

func (s *fakeServer) Dial(ctx context.Context, session models.Session) (conn.Conn, error) {
	s.mu.Lock()
	offline, reject := s.offline, s.reject
	s.mu.Unlock()
	if reject {
		return nil, conn.ErrUnauthorized
	}
	if offline {
		return nil, errors.New("network unreachable")
	}
	c := &pipeConn{
		toClient: make(chan []byte, 16),
		toServer: make(chan wire.Frame, 64),
		closed:   make(chan struct{}),
	}
	s.conns <- c
	return c, nil
}

func (s *fakeServer) accept(t *testing.T) *pipeConn {
	t.Helper()
	select {
	case c := <-s.conns:
		return c
	case <-time.After(2 * time.Second):
		t.Fatalf("no connection was dialed")
		return nil
	}
}

func (c *pipeConn) push(t *testing.T, f wire.Frame) {
	t.Helper()
	data, err := wire.Encode(f)
	if err != nil {
		t.Fatal(err)
	}
	c.toClient <- data
}

// received returns the next non-heartbeat frame the hub wrote.
func (c *pipeConn) received(t *testing.T) wire.Frame {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case f := <-c.toServer:
			if wire.IsHeartbeat(f.Type) {
				continue
			}
			return f
		case <-timeout:
			t.Fatalf("hub wrote nothing")
			return wire.Frame{}
		}
	}
}

type fakeDirectory struct {
	mu         sync.Mutex
	history    map[models.ConversationKey][]models.Message
	historyErr error
	groups     []models.Group
	createErr  error
	fetches    int
}

func (d *fakeDirectory) Groups(ctx context.Context) ([]models.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.groups, nil
}

func (d *fakeDirectory) CreateGroup(ctx context.Context, name string, memberIDs []string) (models.Group, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.createErr != nil {
		return models.Group{}, d.createErr
	}
	g := models.Group{ID: "G-new", Name: name, MemberIDs: append([]string{"U1"}, memberIDs...), CreatedBy: "U1"}
	d.groups = append(d.groups, g)
	return g, nil
}

func (d *fakeDirectory) History(ctx context.Context, key models.ConversationKey) ([]models.Message, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.fetches++
	if d.historyErr != nil {
		return nil, d.historyErr
	}
	return d.history[key], nil
}

var t0 = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

func testSession() models.Session {
	return models.Session{UserID: "U1", UserName: "Ann", TenantID: "t1", Token: "token"}
}

type harness struct {
	hub    *Hub
	server *fakeServer
	dir    *fakeDirectory
	cancel context.CancelFunc
	result chan error
}

func startHub(t *testing.T, offline bool, opts Options) *harness {
	t.Helper()
	server := newFakeServer()
	server.setOffline(offline)
	dir := &fakeDirectory{history: map[models.ConversationKey][]models.Message{}}

	mgr := conn.NewManager(server, conn.Options{
		HeartbeatInterval: time.Minute,
		QueueSize:         16,
		Backoff:           &conn.FullJitter{Base: time.Millisecond, Cap: 5 * time.Millisecond},
	}, nil, nil)
	h := New(testSession(), opts, Deps{Transport: mgr, Directory: dir})

	ctx, cancel := context.WithCancel(context.Background())
	result := make(chan error, 1)
	go func() { result <- h.Run(ctx) }()

	hs := &harness{hub: h, server: server, dir: dir, cancel: cancel, result: result}
	t.Cleanup(func() {
		cancel()
		select {
		case <-result:
		case <-time.After(2 * time.Second):
			t.Errorf("hub did not stop")
		}
	})
	return hs
}

func (hs *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-hs.result:
		hs.result <- err
		return err
	case <-time.After(2 * time.Second):
		t.Fatalf("Run did not return")
		return nil
	}
}

func eventually(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v, ok := <-ch:
		if !ok {
			t.Fatalf("event channel closed")
		}
		return v
	case <-time.After(2 * time.Second):
		t.Fatalf("no event received")
	}
	var zero T
	return zero
}

func chatFrame(id, from, to string, rt models.RecipientType, offset time.Duration) wire.Frame {
	ts := t0.Add(offset)
	return wire.Frame{
		Type:          wire.TypeChatMessage,
		ID:            id,
		SenderID:      from,
		RecipientID:   to,
		RecipientType: rt,
		Content:       "hello " + id,
		Timestamp:     &ts,
	}
}
