package models

import "time"

// AccessToken is what a successful login hands back to the client.
// It is never persisted.
type AccessToken struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type"`
}

// PasswordResetToken is the single live reset credential of a user.
type PasswordResetToken struct {
	UserID    int64
	Token     string
	ExpiresAt time.Time
	CreatedAt time.Time
}

// Expired reports whether the token is unusable at now. The expiry instant
// itself already counts as expired.
func (t *PasswordResetToken) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}
