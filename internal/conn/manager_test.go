package conn

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/models"
	"github.com/noteduco342/om-realtime-hub/internal/wire"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestOfflineSendFlushedOnceAfterReconnect(t *testing.T) {
	dialer := newFakeDialer(errors.New("connection refused"), errors.New("connection refused"))
	m := NewManager(dialer, fastOptions(), nil, nil)
	defer m.Disconnect()

	ctx := context.Background()
	if err := m.Send(ctx, msgIntent("c-1")); err != nil {
		t.Fatalf("Send while disconnected: %v", err)
	}
	if err := m.Connect(ctx, testSession()); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitState(t, m.States(), Reconnecting)
	waitState(t, m.States(), Connected)
	c := dialer.nextConn(t)

	f := c.nextWritten(t)
	if f.Type != wire.TypeChatMessage || f.ClientID != "c-1" {
		t.Fatalf("flushed frame = %+v", f)
	}
	select {
	case extra := <-c.out:
		if !wire.IsHeartbeat(extra.Type) {
			t.Errorf("intent flushed more than once: %+v", extra)
		}
	case <-time.After(50 * time.Millisecond):
	}
	if dialer.Dials() != 3 {
		t.Errorf("dials = %d, want 3", dialer.Dials())
	}
	if len(m.Pending()) != 0 {
		t.Errorf("queue should be empty after flush")
	}
}

func TestAuthRejectionIsFatal(t *testing.T) {
	dialer := newFakeDialer(fmt.Errorf("handshake: %w", ErrUnauthorized))
	m := NewManager(dialer, fastOptions(), nil, nil)

	if err := m.Connect(context.Background(), testSession()); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := m.Wait(); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Wait = %v, want ErrUnauthorized", err)
	}
	if dialer.Dials() != 1 {
		t.Errorf("auth failure must not be retried, dials = %d", dialer.Dials())
	}
	if m.State() != Disconnected {
		t.Errorf("State = %s, want DISCONNECTED", m.State())
	}
	if err := m.Send(context.Background(), msgIntent("late")); !errors.Is(err, ErrQueueClosed) {
		t.Errorf("Send after fatal = %v, want ErrQueueClosed", err)
	}
}

func TestExpiredSessionFailsFast(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, fastOptions(), nil, nil)
	defer m.Disconnect()

	past := time.Now().Add(-time.Minute)
	s := testSession()
	s.ExpiresAt = &past
	if err := m.Connect(context.Background(), s); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("Connect = %v, want ErrUnauthorized", err)
	}
	if dialer.Dials() != 0 {
		t.Errorf("expired session should not dial")
	}
}

func TestServerAuthErrorFrameIsFatal(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, fastOptions(), nil, nil)
	if err := m.Connect(context.Background(), testSession()); err != nil {
		t.Fatal(err)
	}
	c := dialer.nextConn(t)
	c.serverSend(t, wire.Frame{Type: wire.TypeError, Code: wire.CodeTokenExpired})

	select {
	case f := <-m.Frames():
		if f.Code != wire.CodeTokenExpired {
			t.Errorf("frame = %+v", f)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("error frame was not delivered")
	}
	if err := m.Wait(); !errors.Is(err, ErrUnauthorized) {
		t.Errorf("Wait = %v, want ErrUnauthorized", err)
	}
	if dialer.Dials() != 1 {
		t.Errorf("dials = %d, want 1", dialer.Dials())
	}
}

func TestHeartbeatTimeoutReconnects(t *testing.T) {
	dialer := newFakeDialer()
	opts := fastOptions()
	opts.HeartbeatInterval = 20 * time.Millisecond
	m := NewManager(dialer, opts, nil, nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background(), testSession()); err != nil {
		t.Fatal(err)
	}
	first := dialer.nextConn(t)

	select {
	case f := <-first.out:
		if f.Type != wire.TypePing {
			t.Fatalf("first frame = %q, want ping", f.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("no ping sent")
	}

	// No pong is ever sent, so the manager must give up on this connection.
	change := waitState(t, m.States(), Reconnecting)
	if !errors.Is(change.Err, ErrHeartbeatTimeout) {
		t.Errorf("reconnect cause = %v, want ErrHeartbeatTimeout", change.Err)
	}
	dialer.nextConn(t)
}

func TestHeartbeatPongKeepsConnection(t *testing.T) {
	dialer := newFakeDialer()
	opts := fastOptions()
	opts.HeartbeatInterval = 20 * time.Millisecond
	m := NewManager(dialer, opts, nil, nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background(), testSession()); err != nil {
		t.Fatal(err)
	}
	c := dialer.nextConn(t)

	deadline := time.After(150 * time.Millisecond)
	for done := false; !done; {
		select {
		case f := <-c.out:
			if f.Type == wire.TypePing {
				c.serverSend(t, wire.Pong())
			}
		case <-deadline:
			done = true
		}
	}
	if m.State() != Connected || dialer.Dials() != 1 {
		t.Errorf("answered heartbeats should keep the connection, state=%s dials=%d", m.State(), dialer.Dials())
	}
}

func TestServerPingAnsweredAndFiltered(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, fastOptions(), nil, nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background(), testSession()); err != nil {
		t.Fatal(err)
	}
	c := dialer.nextConn(t)
	c.serverSend(t, wire.Ping())
	c.serverSend(t, wire.Frame{Type: wire.TypeChatMessage, ID: "m1", SenderID: "U2", RecipientID: "U1", RecipientType: models.RecipientUser})

	select {
	case f := <-c.out:
		if f.Type != wire.TypePong {
			t.Errorf("reply = %q, want pong", f.Type)
		}
	case <-time.After(time.Second):
		t.Fatalf("server ping not answered")
	}
	select {
	case f := <-m.Frames():
		if f.Type != wire.TypeChatMessage {
			t.Errorf("heartbeat leaked to Frames: %+v", f)
		}
	case <-time.After(time.Second):
		t.Fatalf("chat frame not delivered")
	}
}

func TestDisconnectStopsAndClosesChannels(t *testing.T) {
	dialer := newFakeDialer()
	m := NewManager(dialer, fastOptions(), nil, nil)
	if err := m.Connect(context.Background(), testSession()); err != nil {
		t.Fatal(err)
	}
	dialer.nextConn(t)
	waitState(t, m.States(), Connected)

	m.Disconnect()
	if err := m.Wait(); err != nil {
		t.Errorf("Wait after Disconnect = %v, want nil", err)
	}
	waitState(t, m.States(), Disconnected)
	if _, ok := <-m.Frames(); ok {
		t.Errorf("Frames should be closed")
	}
	if err := m.Connect(context.Background(), testSession()); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("Connect after Disconnect = %v", err)
	}
}

func TestOutboxRoundTrip(t *testing.T) {
	outbox := &fakeOutbox{entries: []models.OutboxEntry{}}
	payload, _ := wire.Encode(wire.ChatFrame("old-1", "U1", "Ann", "U2", models.RecipientUser, "from last run", time.Now()))
	outbox.entries = append(outbox.entries, models.OutboxEntry{ClientID: "old-1", UserID: "U1", TenantID: "t1", Payload: string(payload)})

	dialer := newFakeDialer(errors.New("offline"))
	opts := fastOptions()
	opts.Outbox = outbox
	m := NewManager(dialer, opts, nil, nil)
	defer m.Disconnect()

	if err := m.Connect(context.Background(), testSession()); err != nil {
		t.Fatal(err)
	}
	if err := m.Send(context.Background(), msgIntent("new-1")); err != nil {
		t.Fatal(err)
	}
	c := dialer.nextConn(t)

	var got []string
	for i := 0; i < 2; i++ {
		got = append(got, c.nextWritten(t).ClientID)
	}
	if got[0] != "old-1" || got[1] != "new-1" {
		t.Errorf("written = %v, want [old-1 new-1]", got)
	}

	deadline := time.Now().Add(time.Second)
	for outbox.Len() != 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if outbox.Len() != 0 {
		t.Errorf("outbox should be empty once delivered, has %d", outbox.Len())
	}
	outbox.mu.Lock()
	defer outbox.mu.Unlock()
	if len(outbox.attempted) != 1 || outbox.attempted[0] != "old-1" {
		t.Errorf("attempted = %v, want [old-1]", outbox.attempted)
	}
}

func TestOutboxDeleteFailuresAreLogged(t *testing.T) {
	tests := []struct {
		name    string
		entries []models.OutboxEntry
		run     func(t *testing.T, m *Manager)
		warning string
	}{
		{
			name:    "Unsent message",
			warning: "Outbox delete failed for unsent c-1",
			run: func(t *testing.T, m *Manager) {
				if err := m.Connect(context.Background(), testSession()); err != nil {
					t.Fatal(err)
				}
				m.Disconnect()
				if err := m.Send(context.Background(), msgIntent("c-1")); !errors.Is(err, ErrQueueClosed) {
					t.Errorf("Send = %v, want ErrQueueClosed", err)
				}
			},
		},
		{
			name:    "Unreadable entry",
			entries: []models.OutboxEntry{{ClientID: "bad-1", UserID: "U1", TenantID: "t1", Payload: "{"}},
			warning: "Outbox delete failed for bad-1",
			run: func(t *testing.T, m *Manager) {
				if err := m.Connect(context.Background(), testSession()); err != nil {
					t.Fatal(err)
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			outbox := &fakeOutbox{entries: tt.entries, deleteErr: errors.New("database is locked")}
			core, logs := observer.New(zap.WarnLevel)
			opts := fastOptions()
			opts.Outbox = outbox
			m := NewManager(newFakeDialer(), opts, zap.New(core).Sugar(), nil)
			defer m.Disconnect()

			tt.run(t, m)

			deadline := time.Now().Add(time.Second)
			for time.Now().Before(deadline) {
				if logs.FilterMessageSnippet(tt.warning).Len() > 0 {
					return
				}
				time.Sleep(5 * time.Millisecond)
			}
			t.Errorf("no %q warning, logged %v", tt.warning, logs.All())
		})
	}
}

func TestTypingNotQueuedIntoOutbox(t *testing.T) {
	outbox := &fakeOutbox{}
	opts := fastOptions()
	opts.Outbox = outbox
	m := NewManager(newFakeDialer(), opts, nil, nil)
	defer m.Disconnect()

	m.Send(context.Background(), typingIntent())
	if outbox.Len() != 0 {
		t.Errorf("typing intents must not be persisted")
	}
}
