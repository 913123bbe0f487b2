package users

import (
	"context"

	"github.com/dmitrijs2005/authkeeper/internal/server/models"
)

// Repository is the persistence contract for user accounts. Lookups of a
// missing row return common.ErrorNotFound.
type Repository interface {
	Create(ctx context.Context, user *models.User) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByID(ctx context.Context, id int64) (*models.User, error)
	UpdatePassword(ctx context.Context, id int64, passwordHash string) error
	SetDisabled(ctx context.Context, id int64, disabled bool) error

	// List returns every user ordered by id.
	List(ctx context.Context) ([]*models.User, error)
	// ListEnabled returns users whose disabled flag is false, ordered by id.
	ListEnabled(ctx context.Context) ([]*models.User, error)
}
