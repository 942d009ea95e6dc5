package models

import "time"

// Session is the authenticated state for a forum account
type Session struct {
	AccountID int64     `db:"account_id"`
	Cookies   []byte    `db:"cookies"` // Opaque blob produced by the forum transport
	CreatedAt time.Time `db:"created_at"`
	ExpiresAt time.Time `db:"expires_at"` // Estimated from the cookie lifetime
	Valid     bool      `db:"valid"`
}

// Usable reports whether the session may be used at the given time
func (s *Session) Usable(now time.Time) bool {
	return s != nil && s.Valid && !now.After(s.ExpiresAt)
}
