package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
)

// NewUser carries the fields needed to provision an account.
type NewUser struct {
	FirstName  string
	LastName   string
	Email      string
	Password   string
	SuperAdmin bool
}

// UserService lists and provisions accounts.
type UserService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	hasher      auth.PasswordHasher
}

func NewUserService(db dbx.DBTX, m repomanager.RepositoryManager, hasher auth.PasswordHasher) *UserService {
	return &UserService{db: db, repomanager: m, hasher: hasher}
}

// ListUsers returns every user for a super admin caller and only enabled
// users for everybody else.
func (s *UserService) ListUsers(ctx context.Context, caller *models.User) ([]*models.User, error) {
	repo := s.repomanager.Users(s.db)

	var (
		list []*models.User
		err  error
	)
	if caller.SuperAdmin {
		list, err = repo.List(ctx)
	} else {
		list, err = repo.ListEnabled(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	return list, nil
}

// Create hashes the password and stores a new enabled user.
func (s *UserService) Create(ctx context.Context, in NewUser) (*models.User, error) {
	if in.Email == "" {
		return nil, errors.New("email is required")
	}
	hash, err := s.hasher.Hash(in.Password)
	if err != nil {
		return nil, err
	}
	u, err := s.repomanager.Users(s.db).Create(ctx, &models.User{
		FirstName:    in.FirstName,
		LastName:     in.LastName,
		Email:        in.Email,
		PasswordHash: hash,
		SuperAdmin:   in.SuperAdmin,
	})
	if err != nil {
		return nil, fmt.Errorf("error creating user: %w", err)
	}
	return u, nil
}

// SetDisabled flips the disabled flag of a user.
func (s *UserService) SetDisabled(ctx context.Context, userID int64, disabled bool) error {
	if err := s.repomanager.Users(s.db).SetDisabled(ctx, userID, disabled); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrUserNotFound
		}
		return fmt.Errorf("error updating user: %w", err)
	}
	return nil
}
