package models

import (
	"testing"
	"time"
)

func TestDirectKeyIsUnordered(t *testing.T) {
	if DirectKey("U1", "U2") != DirectKey("U2", "U1") {
		t.Errorf("DirectKey should not depend on argument order")
	}
	if got := DirectKey("U2", "U1"); got != "USER:U1:U2" {
		t.Errorf("DirectKey = %q, want %q", got, "USER:U1:U2")
	}
}

func TestKeyFor(t *testing.T) {
	tests := []struct {
		name     string
		msg      Message
		viewerID string
		expected ConversationKey
	}{
		{
			name:     "Incoming direct message",
			msg:      Message{SenderID: "U2", RecipientID: "U1", RecipientType: RecipientUser},
			viewerID: "U1",
			expected: "USER:U1:U2",
		},
		{
			name:     "Outgoing direct message",
			msg:      Message{SenderID: "U1", RecipientID: "U2", RecipientType: RecipientUser},
			viewerID: "U1",
			expected: "USER:U1:U2",
		},
		{
			name:     "Group message",
			msg:      Message{SenderID: "U2", RecipientID: "G7", RecipientType: RecipientGroup},
			viewerID: "U1",
			expected: "GROUP:G7",
		},
		{
			name:     "Broadcast message",
			msg:      Message{SenderID: "admin", RecipientID: "tenant-1", RecipientType: RecipientAll},
			viewerID: "U1",
			expected: "ALL:tenant-1",
		},
		{
			name:     "Outgoing without sender",
			msg:      Message{RecipientID: "U2", RecipientType: RecipientUser},
			viewerID: "U1",
			expected: "USER:U1:U2",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := KeyFor(&tt.msg, tt.viewerID); got != tt.expected {
				t.Errorf("KeyFor = %q, want %q", got, tt.expected)
			}
		})
	}
}

func TestConversationKeyPeerAndValid(t *testing.T) {
	tests := []struct {
		key   ConversationKey
		peer  string
		typ   RecipientType
		valid bool
	}{
		{"USER:U1:U2", "U2", RecipientUser, true},
		{"GROUP:G1", "G1", RecipientGroup, true},
		{"ALL:t1", "t1", RecipientAll, true},
		{"USER:U2:U1", "U2", RecipientUser, false},
		{"GROUP:", "", RecipientGroup, false},
		{"CHANNEL:x", "x", "CHANNEL", false},
	}

	for _, tt := range tests {
		t.Run(string(tt.key), func(t *testing.T) {
			if got := tt.key.Peer("U1"); got != tt.peer {
				t.Errorf("Peer = %q, want %q", got, tt.peer)
			}
			if got := tt.key.Type(); got != tt.typ {
				t.Errorf("Type = %q, want %q", got, tt.typ)
			}
			if got := tt.key.Valid(); got != tt.valid {
				t.Errorf("Valid = %v, want %v", got, tt.valid)
			}
		})
	}
}

func TestMessageBefore(t *testing.T) {
	t0 := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	a := &Message{ID: "a", Timestamp: t0}
	b := &Message{ID: "b", Timestamp: t0}
	c := &Message{ID: "0", Timestamp: t0.Add(time.Second)}

	if !a.Before(b) || b.Before(a) {
		t.Errorf("equal timestamps should order by id")
	}
	if !b.Before(c) {
		t.Errorf("earlier timestamp should sort first regardless of id")
	}
}

func TestSessionExpired(t *testing.T) {
	now := time.Now()
	past := now.Add(-time.Minute)
	future := now.Add(time.Minute)

	tests := []struct {
		name     string
		exp      *time.Time
		expected bool
	}{
		{"No expiry", nil, false},
		{"Expired", &past, true},
		{"Valid", &future, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Session{ExpiresAt: tt.exp}
			if got := s.Expired(now); got != tt.expected {
				t.Errorf("Expired = %v, want %v", got, tt.expected)
			}
		})
	}
}

func TestGroupHasMember(t *testing.T) {
	g := &Group{ID: "G1", MemberIDs: []string{"U1", "U2"}, CreatedBy: "U1"}
	if !g.HasMember("U2") {
		t.Errorf("HasMember(U2) = false, want true")
	}
	if g.HasMember("U3") {
		t.Errorf("HasMember(U3) = true, want false")
	}
	if g.Key() != "GROUP:G1" {
		t.Errorf("Key = %q, want GROUP:G1", g.Key())
	}
}
