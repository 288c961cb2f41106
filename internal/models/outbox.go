package models

import (
	"time"
)

// OutboxEntry is a message-send intent waiting for a live connection.
type OutboxEntry struct {
	ID        uint      `gorm:"primarykey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	ClientID string `gorm:"type:varchar(36);uniqueIndex;not null" json:"client_id"`
	UserID   string `gorm:"type:varchar(64);not null;index:idx_outbox_owner" json:"user_id"`
	TenantID string `gorm:"type:varchar(64);not null;index:idx_outbox_owner" json:"tenant_id"`

	// Delivery tracking
	Attempts    int        `gorm:"default:0" json:"attempts"`
	LastAttempt *time.Time `json:"last_attempt"`

	// Encoded wire frame
	Payload string `gorm:"type:text;not null" json:"payload"`
}
