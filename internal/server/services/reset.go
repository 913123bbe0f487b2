package services

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/mail"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
)

// DefaultResetTokenTTL is how long an emailed reset link stays usable.
const DefaultResetTokenTTL = time.Hour

// ResetService runs the password reset workflow: issue a token and mail it,
// then later redeem it for a new password. At most one token per user is live.
type ResetService struct {
	db          dbx.DBTX
	tx          dbx.Transactor
	repomanager repomanager.RepositoryManager
	hasher      auth.PasswordHasher
	notifier    mail.Notifier
	ttl         time.Duration
	now         func() time.Time
	metrics     metrics.Recorder
	logger      logging.Logger
}

type ResetOption func(*ResetService)

// WithResetClock replaces time.Now for issuing and expiry checks.
func WithResetClock(now func() time.Time) ResetOption {
	return func(s *ResetService) { s.now = now }
}

// WithResetTTL overrides DefaultResetTokenTTL.
func WithResetTTL(ttl time.Duration) ResetOption {
	return func(s *ResetService) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func NewResetService(db dbx.DBTX, tx dbx.Transactor, m repomanager.RepositoryManager, hasher auth.PasswordHasher,
	notifier mail.Notifier, rec metrics.Recorder, logger logging.Logger, opts ...ResetOption) *ResetService {
	s := &ResetService{
		db:          db,
		tx:          tx,
		repomanager: m,
		hasher:      hasher,
		notifier:    notifier,
		ttl:         DefaultResetTokenTTL,
		now:         time.Now,
		metrics:     rec,
		logger:      logger.With("module", "reset"),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// RequestReset replaces any live token of the user behind email with a fresh
// one and mails the redemption link. When delivery fails the new token stays
// stored and the delivery error is returned.
func (s *ResetService) RequestReset(ctx context.Context, email string) error {
	user, err := s.repomanager.Users(s.db).GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrUserNotFound
		}
		return fmt.Errorf("error searching user: %w", err)
	}

	token, err := common.MakeRandHexString(common.ResetTokenBytes)
	if err != nil {
		return fmt.Errorf("error generating reset token: %w", err)
	}

	record := &models.PasswordResetToken{
		UserID:    user.ID,
		Token:     token,
		ExpiresAt: s.now().Add(s.ttl),
	}

	err = s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		repo := s.repomanager.ResetTokens(tx)
		if err := repo.DeleteByUser(ctx, user.ID); err != nil {
			return fmt.Errorf("error deleting reset token: %w", err)
		}
		if err := repo.Create(ctx, record); err != nil {
			return fmt.Errorf("error storing reset token: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.metrics.RecordResetRequested()

	if err := s.notifier.SendPasswordReset(ctx, user.Email, user.ID, token, user.DisplayName()); err != nil {
		s.logger.Warn(ctx, "reset token stored but mail delivery failed", "user_id", user.ID, "error", err)
		return fmt.Errorf("error sending reset mail: %w", err)
	}
	return nil
}

// RedeemReset sets newPassword for userID if token is the user's live,
// unexpired reset token, and consumes it. A missing, expired or mismatched
// token yields false with a nil error; storage failures yield an error.
func (s *ResetService) RedeemReset(ctx context.Context, userID int64, token, newPassword string) (bool, error) {
	ok := false

	err := s.tx.WithTx(ctx, func(ctx context.Context, tx dbx.DBTX) error {
		tokens := s.repomanager.ResetTokens(tx)

		record, err := tokens.FindByUser(ctx, userID)
		if err != nil {
			if errors.Is(err, common.ErrorNotFound) {
				return nil
			}
			return fmt.Errorf("error searching reset token: %w", err)
		}
		if record.Expired(s.now()) {
			return nil
		}
		if subtle.ConstantTimeCompare([]byte(record.Token), []byte(token)) != 1 {
			return nil
		}

		// Only the transaction that deletes the row may change the password.
		consumed, err := tokens.Consume(ctx, userID, record.Token, s.now())
		if err != nil {
			return fmt.Errorf("error consuming reset token: %w", err)
		}
		if !consumed {
			return nil
		}

		hash, err := s.hasher.Hash(newPassword)
		if err != nil {
			return err
		}
		if err := s.repomanager.Users(tx).UpdatePassword(ctx, userID, hash); err != nil {
			return fmt.Errorf("error updating password: %w", err)
		}
		ok = true
		return nil
	})
	if err != nil {
		return false, err
	}

	s.metrics.RecordResetRedeemed(ok)
	if !ok {
		s.logger.Info(ctx, "reset token rejected", "user_id", userID)
	}
	return ok, nil
}

// ChangePassword sets a new password for an existing user directly.
func (s *ResetService) ChangePassword(ctx context.Context, userID int64, newPassword string) error {
	hash, err := s.hasher.Hash(newPassword)
	if err != nil {
		return err
	}
	if err := s.repomanager.Users(s.db).UpdatePassword(ctx, userID, hash); err != nil {
		if errors.Is(err, common.ErrorNotFound) {
			return common.ErrUserNotFound
		}
		return fmt.Errorf("error updating password: %w", err)
	}
	return nil
}

// PurgeExpired removes reset tokens that can no longer be redeemed.
func (s *ResetService) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := s.repomanager.ResetTokens(s.db).DeleteExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("error purging reset tokens: %w", err)
	}
	s.metrics.RecordExpiredTokensPurged(n)
	return n, nil
}
