package store

import (
	"testing"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/models"
)

type fakeClock struct{ now time.Time }

func (c *fakeClock) Now() time.Time          { return c.now }
func (c *fakeClock) Advance(d time.Duration) { c.now = c.now.Add(d) }

func TestUnreadTracker(t *testing.T) {
	u := NewUnreadTracker()
	a := models.DirectKey("U1", "U2")
	g := models.GroupKey("G1")

	prev := 0
	for i := 0; i < 4; i++ {
		n := u.Increment(a)
		if n <= prev {
			t.Fatalf("counter went from %d to %d", prev, n)
		}
		prev = n
	}
	u.Increment(g)

	if u.Total() != 5 {
		t.Errorf("Total = %d, want 5", u.Total())
	}
	if !u.Clear(a) {
		t.Errorf("Clear of a non-zero counter should report true")
	}
	if u.Count(a) != 0 || u.Total() != 1 {
		t.Errorf("after Clear: count=%d total=%d", u.Count(a), u.Total())
	}
	if u.Clear(a) {
		t.Errorf("Clear of a zero counter should report false")
	}

	counts := u.Counts()
	counts[g] = 99
	if u.Count(g) != 1 {
		t.Errorf("Counts should return a copy")
	}
}

func TestTypingExpires(t *testing.T) {
	clock := &fakeClock{now: t0}
	r := NewTypingRegistry("U1", clock.Now)
	key := models.DirectKey("U1", "U2")

	r.SetTyping(key, "U2", "Bob", 100*time.Millisecond)
	if got := r.ActiveTypers(key); len(got) != 1 || got[0].UserName != "Bob" {
		t.Fatalf("ActiveTypers = %+v", got)
	}

	clock.Advance(150 * time.Millisecond)
	if got := r.ActiveTypers(key); len(got) != 0 {
		t.Errorf("typer should have expired, got %+v", got)
	}
	if swept := r.Sweep(); len(swept) != 1 || swept[0] != key {
		t.Errorf("Sweep = %v, want [%s]", swept, key)
	}
	if swept := r.Sweep(); len(swept) != 0 {
		t.Errorf("second Sweep = %v, want none", swept)
	}
}

func TestTypingRefreshExtendsDeadline(t *testing.T) {
	clock := &fakeClock{now: t0}
	r := NewTypingRegistry("U1", clock.Now)
	key := models.GroupKey("G1")

	r.SetTyping(key, "U2", "Bob", 100*time.Millisecond)
	clock.Advance(50 * time.Millisecond)
	r.SetTyping(key, "U2", "Bob", 100*time.Millisecond)

	for _, step := range []time.Duration{50 * time.Millisecond, 40 * time.Millisecond} {
		clock.Advance(step)
		if len(r.ActiveTypers(key)) != 1 {
			t.Fatalf("typer should still be visible at %v", clock.now.Sub(t0))
		}
	}
	clock.Advance(20 * time.Millisecond)
	if len(r.ActiveTypers(key)) != 0 {
		t.Errorf("typer should expire 100ms after the refresh")
	}
}

func TestTypingExcludesViewerAndClears(t *testing.T) {
	clock := &fakeClock{now: t0}
	r := NewTypingRegistry("U1", clock.Now)
	key := models.GroupKey("G1")

	r.SetTyping(key, "U1", "Me", time.Second)
	r.SetTyping(key, "U3", "Cat", 0)
	r.SetTyping(key, "U2", "Bob", time.Second)

	got := r.ActiveTypers(key)
	if len(got) != 2 || got[0].UserID != "U2" || got[1].UserID != "U3" {
		t.Fatalf("ActiveTypers = %+v", got)
	}
	if got[1].ExpiresAt != t0.Add(DefaultTypingTTL) {
		t.Errorf("zero ttl should use the default")
	}

	if !r.ClearTyping(key, "U2") {
		t.Errorf("ClearTyping of a live typer should report true")
	}
	if r.ClearTyping(key, "U2") {
		t.Errorf("ClearTyping twice should report false")
	}
	r.Clear()
	if len(r.ActiveTypers(key)) != 0 {
		t.Errorf("Clear should drop all typers")
	}
}

func TestPresenceRegistry(t *testing.T) {
	p := NewPresenceRegistry()
	if !p.Set("U2", true, t0) {
		t.Errorf("first Set should report a change")
	}
	if p.Set("U2", true, t0.Add(time.Second)) {
		t.Errorf("same state should not report a change")
	}
	if p.Set("U2", false, t0.Add(-time.Second)) {
		t.Errorf("stale update should be ignored")
	}
	p.Set("U3", true, t0)
	p.Set("U4", false, t0)

	if got := p.Online(); len(got) != 2 || got[0] != "U2" || got[1] != "U3" {
		t.Errorf("Online = %v", got)
	}
	state, ok := p.Get("U2")
	if !ok || !state.LastSeen.Equal(t0.Add(time.Second)) {
		t.Errorf("Get = %+v, %v", state, ok)
	}
}

func TestNotificationUnreadCount(t *testing.T) {
	s := NewNotificationStore()
	for _, id := range []string{"n1", "n2", "n3"} {
		s.Append(models.Notification{ID: id, Title: "Title " + id, CreatedAt: t0})
	}
	if s.Append(models.Notification{ID: "n2"}) {
		t.Errorf("duplicate notification should be ignored")
	}
	if !s.MarkRead("n2") {
		t.Errorf("MarkRead(n2) should report true")
	}
	if s.MarkRead("n2") || s.MarkRead("missing") {
		t.Errorf("MarkRead should only report unread, known notifications")
	}
	if s.UnreadCount() != 2 {
		t.Errorf("UnreadCount = %d, want 2", s.UnreadCount())
	}

	list := s.List()
	if len(list) != 3 || list[0].ID != "n3" || !list[1].IsRead {
		t.Errorf("List = %+v", list)
	}
	if n := s.MarkAllRead(); n != 2 || s.UnreadCount() != 0 {
		t.Errorf("MarkAllRead changed %d, unread %d", n, s.UnreadCount())
	}
}
