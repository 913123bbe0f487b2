// Package common defines shared constants, helpers and sentinel errors used
// across the authkeeper server. Callers should use errors.Is to match these
// values.
package common

import "errors"

var (
	// Repository-level errors.
	ErrorNotFound = errors.New("not found")

	// Service-level errors (generic/internal flow control).
	ErrorInternal = errors.New("internal error")

	// Auth gate errors.
	ErrUserNotFound       = errors.New("user not found")
	ErrInvalidCredentials = errors.New("invalid credentials")
	ErrAccountDisabled    = errors.New("account disabled")
	ErrInvalidToken       = errors.New("invalid token")

	// Password reset errors. Missing, expired and mismatched tokens all
	// collapse into ErrResetFailed.
	ErrResetFailed = errors.New("password reset failed")
)
