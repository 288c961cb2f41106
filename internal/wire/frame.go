package wire

import (
	"time"

	"github.com/noteduco342/om-realtime-hub/internal/models"
)

// Frame is the single envelope exchanged with the realtime server. Only the
// fields relevant to Type are set.
type Frame struct {
	Type          string               `json:"type" validate:"required"`
	ID            string               `json:"id,omitempty"`
	ClientID      string               `json:"clientId,omitempty"`
	SenderID      string               `json:"senderId,omitempty"`
	SenderName    string               `json:"senderName,omitempty"`
	RecipientID   string               `json:"recipientId,omitempty"`
	RecipientType models.RecipientType `json:"recipientType,omitempty"`
	Content       string               `json:"content,omitempty"`
	Timestamp     *time.Time           `json:"timestamp,omitempty"`
	Typing        *bool                `json:"typing,omitempty"`
	TTLMs         int64                `json:"ttlMs,omitempty" validate:"gte=0"`
	Title         string               `json:"title,omitempty"`
	ActionURL     string               `json:"actionUrl,omitempty" validate:"omitempty,uri"`
	Online        *bool                `json:"online,omitempty"`
	Code          string               `json:"code,omitempty"`
}

// Message converts a CHAT_MESSAGE frame. A frame without a timestamp gets
// receivedAt.
func (f *Frame) Message(receivedAt time.Time) models.Message {
	ts := receivedAt
	if f.Timestamp != nil {
		ts = *f.Timestamp
	}
	return models.Message{
		ID:            f.ID,
		ClientID:      f.ClientID,
		SenderID:      f.SenderID,
		SenderName:    f.SenderName,
		RecipientID:   f.RecipientID,
		RecipientType: f.RecipientType,
		Content:       f.Content,
		Timestamp:     ts.UTC(),
	}
}

func (f *Frame) Notification(receivedAt time.Time) models.Notification {
	ts := receivedAt
	if f.Timestamp != nil {
		ts = *f.Timestamp
	}
	return models.Notification{
		ID:        f.ID,
		Title:     f.Title,
		Message:   f.Content,
		ActionURL: f.ActionURL,
		CreatedAt: ts.UTC(),
	}
}

// TTL returns the typing TTL carried by the frame, or def when absent.
func (f *Frame) TTL(def time.Duration) time.Duration {
	if f.TTLMs <= 0 {
		return def
	}
	return time.Duration(f.TTLMs) * time.Millisecond
}

// ChatFrame builds an outbound CHAT_MESSAGE.
func ChatFrame(clientID, senderID, senderName, recipientID string, rt models.RecipientType, content string, at time.Time) Frame {
	ts := at.UTC()
	return Frame{
		Type:          TypeChatMessage,
		ClientID:      clientID,
		SenderID:      senderID,
		SenderName:    senderName,
		RecipientID:   recipientID,
		RecipientType: rt,
		Content:       content,
		Timestamp:     &ts,
	}
}

// TypingFrame builds an outbound TYPING signal.
func TypingFrame(senderID, senderName, recipientID string, rt models.RecipientType, typing bool, ttl time.Duration) Frame {
	return Frame{
		Type:          TypeTyping,
		SenderID:      senderID,
		SenderName:    senderName,
		RecipientID:   recipientID,
		RecipientType: rt,
		Typing:        &typing,
		TTLMs:         ttl.Milliseconds(),
	}
}

// ReadFrame builds an outbound READ acknowledgment for a conversation.
func ReadFrame(senderID, recipientID string, rt models.RecipientType, lastID string) Frame {
	return Frame{
		Type:          TypeRead,
		ID:            lastID,
		SenderID:      senderID,
		RecipientID:   recipientID,
		RecipientType: rt,
	}
}
