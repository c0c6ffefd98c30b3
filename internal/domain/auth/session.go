// Package auth defines the minimal authenticated-session shape the engine
// consumes. How the session was established (OAuth, password, dev login) is
// outside this service; only the opaque user identity and tier matter here.
package auth

import "time"

// Session identifies an authenticated dashboard user.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Tier      string    `json:"tier"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Expired reports whether the session is past its expiry.
func (s *Session) Expired(now time.Time) bool {
	return !s.ExpiresAt.IsZero() && now.After(s.ExpiresAt)
}
