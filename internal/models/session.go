package models

import "time"

// Session is the authenticated identity that owns one live connection.
type Session struct {
	UserID    string
	UserName  string
	TenantID  string
	Token     string
	ExpiresAt *time.Time
}

// Expired reports whether the session token is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return s.ExpiresAt != nil && !now.Before(*s.ExpiresAt)
}
