// Package services contains server-side business logic. This file implements
// AuthService: credential checks, token issuance and the per-request auth gate.
package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
)

// TokenIssuer is the part of auth.Issuer the gate needs.
type TokenIssuer interface {
	IssueDefault(subject string) (string, error)
	Resolve(token string) (string, error)
}

// AuthService provides the authentication-related operations:
//   - Login: existence, disabled and password checks, then a fresh access token
//   - CurrentActiveUser: resolve a bearer token to an enabled user
type AuthService struct {
	db          dbx.DBTX
	repomanager repomanager.RepositoryManager
	hasher      auth.PasswordHasher
	issuer      TokenIssuer
	metrics     metrics.Recorder
	logger      logging.Logger
}

func NewAuthService(db dbx.DBTX, m repomanager.RepositoryManager, hasher auth.PasswordHasher, issuer TokenIssuer,
	rec metrics.Recorder, logger logging.Logger) *AuthService {
	return &AuthService{
		db:          db,
		repomanager: m,
		hasher:      hasher,
		issuer:      issuer,
		metrics:     rec,
		logger:      logger.With("module", "auth"),
	}
}

func (s *AuthService) userByEmail(ctx context.Context, email string) (*models.User, error) {
	user, err := s.repomanager.Users(s.db).GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrUserNotFound
		}
		return nil, fmt.Errorf("error searching user: %w", err)
	}
	return user, nil
}

func (s *AuthService) checkPassword(user *models.User, password string) error {
	if !s.hasher.Verify(password, user.PasswordHash) {
		return common.ErrInvalidCredentials
	}
	return nil
}

// Authenticate returns the user owning username (an email) if password matches.
// It does not look at the disabled flag.
func (s *AuthService) Authenticate(ctx context.Context, username, password string) (*models.User, error) {
	user, err := s.userByEmail(ctx, username)
	if err != nil {
		return nil, err
	}
	if err := s.checkPassword(user, password); err != nil {
		return nil, err
	}
	return user, nil
}

// Login checks, in order, that the user exists, is enabled and knows the
// password, then issues an access token with the default lifetime.
func (s *AuthService) Login(ctx context.Context, username, password string) (*models.AccessToken, error) {
	token, outcome, err := s.login(ctx, username, password)
	s.metrics.RecordLogin(outcome)
	if err != nil {
		s.logger.Info(ctx, "login rejected", "email", username, "outcome", outcome)
		return nil, err
	}
	s.logger.Debug(ctx, "login succeeded", "email", username)
	return token, nil
}

func (s *AuthService) login(ctx context.Context, username, password string) (*models.AccessToken, string, error) {
	user, err := s.userByEmail(ctx, username)
	if err != nil {
		if errors.Is(err, common.ErrUserNotFound) {
			return nil, metrics.OutcomeNotFound, err
		}
		return nil, metrics.OutcomeError, err
	}
	if user.Disabled {
		return nil, metrics.OutcomeDisabled, common.ErrAccountDisabled
	}
	if err := s.checkPassword(user, password); err != nil {
		return nil, metrics.OutcomeInvalid, err
	}

	access, err := s.issuer.IssueDefault(user.Email)
	if err != nil {
		return nil, metrics.OutcomeError, fmt.Errorf("error issuing token: %w", err)
	}
	return &models.AccessToken{AccessToken: access, TokenType: common.TokenType}, metrics.OutcomeSuccess, nil
}

// ResolveIdentity maps a bearer token to its user. A token naming a user
// that no longer exists is reported exactly like a bad token.
func (s *AuthService) ResolveIdentity(ctx context.Context, token string) (*models.User, error) {
	email, err := s.issuer.Resolve(token)
	if err != nil {
		return nil, err
	}
	user, err := s.repomanager.Users(s.db).GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return nil, common.ErrInvalidToken
		}
		return nil, fmt.Errorf("error searching user: %w", err)
	}
	return user, nil
}

// RequireActive rejects disabled users.
func (s *AuthService) RequireActive(user *models.User) (*models.User, error) {
	if user.Disabled {
		return nil, common.ErrAccountDisabled
	}
	return user, nil
}

// CurrentActiveUser is ResolveIdentity followed by RequireActive.
func (s *AuthService) CurrentActiveUser(ctx context.Context, token string) (*models.User, error) {
	user, err := s.ResolveIdentity(ctx, token)
	if err != nil {
		return nil, err
	}
	return s.RequireActive(user)
}
