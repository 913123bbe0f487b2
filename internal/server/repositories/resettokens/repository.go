// Package resettokens declares the repository contract for password reset
// tokens. At most one row exists per user.
package resettokens

import (
	"context"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

type Repository interface {
	// FindByUser returns the user's token row or common.ErrorNotFound.
	FindByUser(ctx context.Context, userID int64) (*models.PasswordResetToken, error)

	// DeleteByUser removes the user's token row. Deleting nothing is not an error.
	DeleteByUser(ctx context.Context, userID int64) error

	// Consume deletes the user's row only if it still holds token and has not
	// expired at now. It reports whether a row was deleted; of two concurrent
	// callers at most one sees true.
	Consume(ctx context.Context, userID int64, token string, now time.Time) (bool, error)

	// Create stores token as the user's only row, replacing any existing one.
	Create(ctx context.Context, token *models.PasswordResetToken) error

	// DeleteExpired removes every row with expires_at <= now and reports how many went.
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
}
