package models

import "time"

// TypingState records that UserID is typing in Key until ExpiresAt.
type TypingState struct {
	Key       ConversationKey `json:"conversation_key"`
	UserID    string          `json:"user_id"`
	UserName  string          `json:"user_name"`
	ExpiresAt time.Time       `json:"expires_at"`
}

func (t *TypingState) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

type PresenceState struct {
	UserID   string    `json:"user_id"`
	Online   bool      `json:"online"`
	LastSeen time.Time `json:"last_seen"`
}

type UnreadCounter struct {
	Key   ConversationKey `json:"conversation_key"`
	Count int             `json:"count"`
}
