package cache

import (
	"testing"
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/models"
	"github.com/vmihailenco/msgpack/v5"
)

func TestNilHistoryCacheIsNoop(t *testing.T) {
	var hc *HistoryCache
	key := models.DirectKey("U1", "U2")

	if _, ok := hc.GetHistory(key); ok {
		t.Errorf("nil cache should miss")
	}
	if err := hc.SetHistory(key, []models.Message{{ID: "m1"}}); err != nil {
		t.Errorf("SetHistory on nil cache: %v", err)
	}
	if _, ok := hc.GetGroups(); ok {
		t.Errorf("nil cache should miss groups")
	}
	if err := hc.InvalidateGroups(); err != nil {
		t.Errorf("InvalidateGroups on nil cache: %v", err)
	}

	detached := NewHistoryCache(nil, "t1", "U1")
	if _, ok := detached.GetHistory(key); ok {
		t.Errorf("cache without redis should miss")
	}
}

func TestHistoryKeysAreScoped(t *testing.T) {
	a := NewHistoryCache(nil, "t1", "U1")
	b := NewHistoryCache(nil, "t2", "U1")
	key := models.GroupKey("G1")
	if a.historyKey(key) == b.historyKey(key) {
		t.Errorf("tenants must not share history keys")
	}
	if got := a.historyKey(key); got != "history:t1:U1:GROUP:G1" {
		t.Errorf("historyKey = %q", got)
	}
}

func TestMessageEncodingDropsPendingFlag(t *testing.T) {
	in := []models.Message{{
		ID:            "m1",
		ClientID:      "c1",
		SenderID:      "U2",
		RecipientID:   "U1",
		RecipientType: models.RecipientUser,
		Content:       "hi",
		Timestamp:     time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Pending:       true,
	}}
	data, err := msgpack.Marshal(in)
	if err != nil {
		t.Fatal(err)
	}
	var out []models.Message
	if err := msgpack.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	if len(out) != 1 || out[0].Pending || out[0].ClientID != "c1" || !out[0].Timestamp.Equal(in[0].Timestamp) {
		t.Errorf("decoded = %+v", out)
	}
}
