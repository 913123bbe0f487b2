// Package memory is an in-process implementation of the repository layer.
// It backs the "-d memory" mode and the service tests.
package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/resettokens"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/users"
)

var (
	ErrDuplicateEmail = errors.New("duplicate email")
	ErrUnknownUser    = errors.New("user does not exist")
)

// Store keeps users and reset tokens in maps. It satisfies both
// repomanager.RepositoryManager and dbx.Transactor.
//
// Transactions are serialized by txMu and rolled back by restoring a
// snapshot, so writes made outside WithTx while a transaction is rolling
// back can be lost. Service code always writes inside WithTx.
type Store struct {
	txMu sync.Mutex
	mu   sync.RWMutex

	nextID int64
	users  map[int64]models.User
	tokens map[int64]models.PasswordResetToken

	now func() time.Time
}

func NewStore() *Store {
	return &Store{
		users:  make(map[int64]models.User),
		tokens: make(map[int64]models.PasswordResetToken),
		now:    time.Now,
	}
}

// RunMigrations is a no-op; the maps need no schema.
func (s *Store) RunMigrations(context.Context, *sql.DB) error { return nil }

// Users ignores db: every repository shares the same maps.
func (s *Store) Users(dbx.DBTX) users.Repository { return (*userRepo)(s) }

// ResetTokens ignores db, see Users.
func (s *Store) ResetTokens(dbx.DBTX) resettokens.Repository { return (*tokenRepo)(s) }

// WithTx runs fn while holding the transaction lock. fn receives a nil DBTX.
// On error or panic the maps are restored to their state before fn ran.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, tx dbx.DBTX) error) (err error) {
	s.txMu.Lock()
	defer s.txMu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	snap := s.snapshot()
	defer func() {
		if p := recover(); p != nil {
			s.restore(snap)
			panic(p)
		}
		if err != nil {
			s.restore(snap)
		}
	}()

	return fn(ctx, nil)
}

type snapshot struct {
	nextID int64
	users  map[int64]models.User
	tokens map[int64]models.PasswordResetToken
}

func (s *Store) snapshot() snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := snapshot{
		nextID: s.nextID,
		users:  make(map[int64]models.User, len(s.users)),
		tokens: make(map[int64]models.PasswordResetToken, len(s.tokens)),
	}
	for k, v := range s.users {
		snap.users[k] = v
	}
	for k, v := range s.tokens {
		snap.tokens[k] = v
	}
	return snap
}

func (s *Store) restore(snap snapshot) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID = snap.nextID
	s.users = snap.users
	s.tokens = snap.tokens
}

type userRepo Store

func (r *userRepo) Create(_ context.Context, user *models.User) (*models.User, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, u := range s.users {
		if u.Email == user.Email {
			return nil, fmt.Errorf("db error: %w", ErrDuplicateEmail)
		}
	}
	s.nextID++
	user.ID = s.nextID
	if user.CreatedAt.IsZero() {
		user.CreatedAt = s.now()
	}
	s.users[user.ID] = *user
	return user, nil
}

func (r *userRepo) GetUserByEmail(_ context.Context, email string) (*models.User, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, u := range s.users {
		if u.Email == email {
			return &u, nil
		}
	}
	return nil, common.ErrorNotFound
}

func (r *userRepo) GetUserByID(_ context.Context, id int64) (*models.User, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	u, ok := s.users[id]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &u, nil
}

func (r *userRepo) update(id int64, fn func(u *models.User)) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return common.ErrorNotFound
	}
	fn(&u)
	s.users[id] = u
	return nil
}

func (r *userRepo) UpdatePassword(_ context.Context, id int64, passwordHash string) error {
	return r.update(id, func(u *models.User) { u.PasswordHash = passwordHash })
}

func (r *userRepo) SetDisabled(_ context.Context, id int64, disabled bool) error {
	return r.update(id, func(u *models.User) { u.Disabled = disabled })
}

func (r *userRepo) list(keep func(models.User) bool) []*models.User {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*models.User, 0, len(s.users))
	for _, u := range s.users {
		if keep(u) {
			out = append(out, &u)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (r *userRepo) List(context.Context) ([]*models.User, error) {
	return r.list(func(models.User) bool { return true }), nil
}

func (r *userRepo) ListEnabled(context.Context) ([]*models.User, error) {
	return r.list(func(u models.User) bool { return !u.Disabled }), nil
}

type tokenRepo Store

func (r *tokenRepo) FindByUser(_ context.Context, userID int64) (*models.PasswordResetToken, error) {
	s := (*Store)(r)
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.tokens[userID]
	if !ok {
		return nil, common.ErrorNotFound
	}
	return &t, nil
}

func (r *tokenRepo) DeleteByUser(_ context.Context, userID int64) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.tokens, userID)
	return nil
}

func (r *tokenRepo) Consume(_ context.Context, userID int64, token string, now time.Time) (bool, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.tokens[userID]
	if !ok || t.Token != token || t.Expired(now) {
		return false, nil
	}
	delete(s.tokens, userID)
	return true, nil
}

func (r *tokenRepo) Create(_ context.Context, token *models.PasswordResetToken) error {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.users[token.UserID]; !ok {
		return fmt.Errorf("db error: %w", ErrUnknownUser)
	}
	// an existing row is replaced, one token per user
	if _, ok := s.tokens[token.UserID]; ok || token.CreatedAt.IsZero() {
		token.CreatedAt = s.now()
	}
	s.tokens[token.UserID] = *token
	return nil
}

func (r *tokenRepo) DeleteExpired(_ context.Context, now time.Time) (int64, error) {
	s := (*Store)(r)
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for id, t := range s.tokens {
		if t.Expired(now) {
			delete(s.tokens, id)
			n++
		}
	}
	return n, nil
}

// TokenCount reports how many reset token rows exist for userID (0 or 1).
func (s *Store) TokenCount(userID int64) int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tokens[userID]; ok {
		return 1
	}
	return 0
}
