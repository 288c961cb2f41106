package models

import (
	"time"
)

type RecipientType string

const (
	RecipientUser  RecipientType = "USER"
	RecipientGroup RecipientType = "GROUP"
	RecipientAll   RecipientType = "ALL"
)

func (t RecipientType) Valid() bool {
	switch t {
	case RecipientUser, RecipientGroup, RecipientAll:
		return true
	}
	return false
}

// Message is a chat message as held by the hub. Stored messages are never
// modified; a confirmed server echo replaces a pending local echo instead.
type Message struct {
	ID            string        `json:"id" msgpack:"id"`
	ClientID      string        `json:"client_id,omitempty" msgpack:"client_id"` // UUID for deduplication
	SenderID      string        `json:"sender_id" msgpack:"sender_id"`
	SenderName    string        `json:"sender_name,omitempty" msgpack:"sender_name"`
	RecipientID   string        `json:"recipient_id" msgpack:"recipient_id"`
	RecipientType RecipientType `json:"recipient_type" msgpack:"recipient_type"`
	Content       string        `json:"content" msgpack:"content"`
	Timestamp     time.Time     `json:"timestamp" msgpack:"timestamp"`

	// Pending is set on local echoes that the server has not confirmed yet.
	Pending bool `json:"pending,omitempty" msgpack:"-"`
}

// LocalID is the provisional ID used for a local echo.
func LocalID(clientID string) string {
	return "local:" + clientID
}

// Before reports whether m sorts before o in conversation order (timestamp, id).
func (m *Message) Before(o *Message) bool {
	if !m.Timestamp.Equal(o.Timestamp) {
		return m.Timestamp.Before(o.Timestamp)
	}
	return m.ID < o.ID
}
