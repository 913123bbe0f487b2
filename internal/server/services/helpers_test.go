package services

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/auth"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/models"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/memory"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

type errBoom struct{}

func (errBoom) Error() string { return "boom" }

// countingHasher records how often passwords are compared.
type countingHasher struct {
	inner    *auth.Hasher
	verifies atomic.Int32
	hashes   atomic.Int32
}

func newCountingHasher() *countingHasher {
	return &countingHasher{inner: auth.NewHasher(bcrypt.MinCost)}
}

func (h *countingHasher) Hash(p string) (string, error) {
	h.hashes.Add(1)
	return h.inner.Hash(p)
}

func (h *countingHasher) Verify(plain, hash string) bool {
	h.verifies.Add(1)
	return h.inner.Verify(plain, hash)
}

type clock struct {
	mu sync.Mutex
	t  time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

type sentMail struct {
	To     string
	UserID int64
	Token  string
	Name   string
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentMail
	err  error
}

func (n *fakeNotifier) SendPasswordReset(_ context.Context, to string, userID int64, token, name string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentMail{To: to, UserID: userID, Token: token, Name: name})
	return nil
}

func (n *fakeNotifier) last(t *testing.T) sentMail {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	require.NotEmpty(t, n.sent, "no mail sent")
	return n.sent[len(n.sent)-1]
}

type fixture struct {
	store    *memory.Store
	hasher   *countingHasher
	clock    *clock
	notifier *fakeNotifier
	auth     *AuthService
	reset    *ResetService
	users    *UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		store:    memory.NewStore(),
		hasher:   newCountingHasher(),
		clock:    &clock{t: time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)},
		notifier: &fakeNotifier{},
	}
	issuer := auth.NewIssuer([]byte("test-secret"), 120*time.Minute, auth.WithClock(f.clock.Now))
	log := logging.Nop{}

	f.auth = NewAuthService(nil, f.store, f.hasher, issuer, metrics.Nop{}, log)
	f.reset = NewResetService(nil, f.store, f.store, f.hasher, f.notifier, metrics.Nop{}, log,
		WithResetClock(f.clock.Now), WithResetTTL(time.Hour))
	f.users = NewUserService(nil, f.store, f.hasher)
	return f
}

func (f *fixture) addUser(t *testing.T, email, password string, superAdmin bool) *models.User {
	t.Helper()
	u, err := f.users.Create(context.Background(), NewUser{
		FirstName:  "Test",
		LastName:   "User",
		Email:      email,
		Password:   password,
		SuperAdmin: superAdmin,
	})
	require.NoError(t, err)
	return u
}
