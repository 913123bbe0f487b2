package common

const (
	// TokenType is reported next to every issued access token.
	TokenType = "bearer"

	// AuthorizationHeaderName carries "Bearer <token>" on protected requests.
	AuthorizationHeaderName = "Authorization"

	// ResetTokenBytes is the amount of entropy in a password reset token.
	// The hex form stored and mailed is twice as long.
	ResetTokenBytes = 32
)
