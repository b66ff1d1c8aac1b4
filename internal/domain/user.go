package domain

import "time"

// User represents an authenticated account in the system.
type User struct {
	Record
	Username     string    `json:"username"`
	PasswordHash string    `json:"password_hash,omitempty"` // Stored hashed, filter from API responses
	LastLoginAt  time.Time `json:"last_login_at,omitzero"`
}

// PublicAuthor returns the projection of this user that's safe to embed in
// post responses.
func (u *User) PublicAuthor() Author {
	return Author{ID: u.ID, Username: u.Username}
}

// Session represents an active login with a refresh token.
// Each device gets its own session.
type Session struct {
	ID               string    `json:"id"`
	UserID           string    `json:"user_id"`
	RefreshTokenHash string    `json:"refresh_token_hash,omitempty"` // Stored hashed, filter from API responses
	ExpiresAt        time.Time `json:"expires_at"`
	CreatedAt        time.Time `json:"created_at"`
	LastSeenAt       time.Time `json:"last_seen_at"`
}

// Touch updates the session's last seen timestamp.
func (s *Session) Touch() {
	s.LastSeenAt = time.Now()
}

// IsExpired checks if the session has passed its expiration time.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}
