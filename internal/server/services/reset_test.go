package services

import (
	"context"
	"errors"
	"regexp"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/dmitrijs2005/authkeeper/internal/common"
	"github.com/dmitrijs2005/authkeeper/internal/dbx"
	"github.com/dmitrijs2005/authkeeper/internal/logging"
	"github.com/dmitrijs2005/authkeeper/internal/server/metrics"
	"github.com/dmitrijs2005/authkeeper/internal/server/repositories/repomanager"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRequestReset_StoresTokenAndMails(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "kim@example.com", "old", false)

	require.NoError(t, f.reset.RequestReset(context.Background(), "kim@example.com"))

	m := f.notifier.last(t)
	assert.Equal(t, "kim@example.com", m.To)
	assert.Equal(t, u.ID, m.UserID)
	assert.Equal(t, "Test User", m.Name)
	assert.Len(t, m.Token, 2*common.ResetTokenBytes)

	rec, err := f.store.ResetTokens(nil).FindByUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Equal(t, m.Token, rec.Token)
	assert.Equal(t, f.clock.Now().Add(time.Hour), rec.ExpiresAt)
}

func TestRequestReset_UnknownEmail(t *testing.T) {
	f := newFixture(t)

	err := f.reset.RequestReset(context.Background(), "nobody@example.com")
	require.ErrorIs(t, err, common.ErrUserNotFound)
	assert.Empty(t, f.notifier.sent)
}

func TestRequestReset_SecondRequestSupersedesFirst(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "kim@example.com", "old", false)

	require.NoError(t, f.reset.RequestReset(ctx, "kim@example.com"))
	first := f.notifier.last(t).Token
	require.NoError(t, f.reset.RequestReset(ctx, "kim@example.com"))
	second := f.notifier.last(t).Token

	assert.NotEqual(t, first, second)
	assert.Equal(t, 1, f.store.TokenCount(u.ID))

	ok, err := f.reset.RedeemReset(ctx, u.ID, first, "new")
	require.NoError(t, err)
	assert.False(t, ok, "superseded token must not redeem")

	ok, err = f.reset.RedeemReset(ctx, u.ID, second, "new")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRequestReset_ConcurrentRequestsLeaveOneToken(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "kim@example.com", "old", false)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			assert.NoError(t, f.reset.RequestReset(context.Background(), "kim@example.com"))
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, f.store.TokenCount(u.ID))
	rec, err := f.store.ResetTokens(nil).FindByUser(context.Background(), u.ID)
	require.NoError(t, err)
	assert.Contains(t, tokensOf(f.notifier), rec.Token)
}

func tokensOf(n *fakeNotifier) []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]string, 0, len(n.sent))
	for _, m := range n.sent {
		out = append(out, m.Token)
	}
	return out
}

func TestRequestReset_DeliveryFailureKeepsToken(t *testing.T) {
	f := newFixture(t)
	u := f.addUser(t, "kim@example.com", "old", false)
	f.notifier.err = errors.New("smtp down")

	err := f.reset.RequestReset(context.Background(), "kim@example.com")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "smtp down")
	assert.Equal(t, 1, f.store.TokenCount(u.ID))
}

func TestRedeemReset_HappyPathThenReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "kim@example.com", "old", false)
	require.NoError(t, f.reset.RequestReset(ctx, "kim@example.com"))
	tok := f.notifier.last(t).Token

	ok, err := f.reset.RedeemReset(ctx, u.ID, tok, "brand-new")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 0, f.store.TokenCount(u.ID))

	_, err = f.auth.Login(ctx, "kim@example.com", "brand-new")
	require.NoError(t, err)
	_, err = f.auth.Login(ctx, "kim@example.com", "old")
	assert.ErrorIs(t, err, common.ErrInvalidCredentials)

	ok, err = f.reset.RedeemReset(ctx, u.ID, tok, "again")
	require.NoError(t, err)
	assert.False(t, ok, "a token redeems once")
}

func TestRedeemReset_ConcurrentRedemptionsSucceedOnce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "kim@example.com", "old", false)
	require.NoError(t, f.reset.RequestReset(ctx, "kim@example.com"))
	tok := f.notifier.last(t).Token

	var (
		wg   sync.WaitGroup
		wins atomic.Int32
	)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := f.reset.RedeemReset(ctx, u.ID, tok, "new")
			assert.NoError(t, err)
			if ok {
				wins.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins.Load())
	assert.Equal(t, 0, f.store.TokenCount(u.ID))
}

func TestRedeemReset_Expiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "kim@example.com", "old", false)
	require.NoError(t, f.reset.RequestReset(ctx, "kim@example.com"))
	tok := f.notifier.last(t).Token

	f.clock.Advance(time.Hour)

	ok, err := f.reset.RedeemReset(ctx, u.ID, tok, "new")
	require.NoError(t, err)
	assert.False(t, ok, "the expiry instant is already too late")

	_, err = f.auth.Login(ctx, "kim@example.com", "old")
	assert.NoError(t, err, "password must be unchanged")
}

func TestRedeemReset_JustBeforeExpiry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "kim@example.com", "old", false)
	require.NoError(t, f.reset.RequestReset(ctx, "kim@example.com"))

	f.clock.Advance(time.Hour - time.Second)

	ok, err := f.reset.RedeemReset(ctx, u.ID, f.notifier.last(t).Token, "new")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestRedeemReset_WrongTokenOrUser(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "kim@example.com", "old", false)
	other := f.addUser(t, "lee@example.com", "old", false)
	require.NoError(t, f.reset.RequestReset(ctx, "kim@example.com"))
	tok := f.notifier.last(t).Token

	ok, err := f.reset.RedeemReset(ctx, u.ID, "deadbeef", "new")
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = f.reset.RedeemReset(ctx, other.ID, tok, "new")
	require.NoError(t, err)
	assert.False(t, ok, "token is bound to its user")

	assert.Equal(t, 1, f.store.TokenCount(u.ID), "failed attempts do not consume the token")
	assert.Equal(t, int32(2), f.hasher.hashes.Load(), "only the two seed users were hashed")
}

func TestChangePassword(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.addUser(t, "kim@example.com", "old", false)

	require.NoError(t, f.reset.ChangePassword(ctx, u.ID, "new"))
	_, err := f.auth.Login(ctx, "kim@example.com", "new")
	assert.NoError(t, err)

	assert.ErrorIs(t, f.reset.ChangePassword(ctx, 999, "x"), common.ErrUserNotFound)
}

func TestPurgeExpired(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addUser(t, "a@example.com", "pw", false)
	b := f.addUser(t, "b@example.com", "pw", false)

	require.NoError(t, f.reset.RequestReset(ctx, "a@example.com"))
	f.clock.Advance(30 * time.Minute)
	require.NoError(t, f.reset.RequestReset(ctx, "b@example.com"))
	f.clock.Advance(45 * time.Minute)

	n, err := f.reset.PurgeExpired(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)
	assert.Equal(t, 0, f.store.TokenCount(a.ID))
	assert.Equal(t, 1, f.store.TokenCount(b.ID))
}

// The PostgreSQL path: delete and insert share one transaction.

func newSQLResetService(t *testing.T, notifier *fakeNotifier, now time.Time) (*ResetService, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	s := NewResetService(db, dbx.NewSQLTransactor(db), repomanager.NewPostgresRepositoryManager(),
		newCountingHasher(), notifier, metrics.Nop{}, logging.Nop{},
		WithResetClock(func() time.Time { return now }))
	return s, mock
}

var userCols = []string{"id", "first_name", "last_name", "email", "password_hash", "super_admin", "disabled", "created_at"}

func TestRequestReset_SQL_DeleteAndInsertInOneTx(t *testing.T) {
	now := time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC)
	n := &fakeNotifier{}
	s, mock := newSQLResetService(t, n, now)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+email`).WithArgs("kim@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(int64(3), "Kim", "Park", "kim@example.com", "h", false, false, now))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE\s+FROM\s+password_reset_tokens\s+WHERE\s+user_id`).WithArgs(int64(3)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectQuery(`INSERT\s+INTO\s+password_reset_tokens`).WithArgs(int64(3), sqlmock.AnyArg(), now.Add(time.Hour)).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(now))
	mock.ExpectCommit()

	require.NoError(t, s.RequestReset(context.Background(), "kim@example.com"))
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "Kim Park", n.last(t).Name)
}

func TestRequestReset_SQL_InsertFailureRollsBackAndSkipsMail(t *testing.T) {
	now := time.Now()
	n := &fakeNotifier{}
	s, mock := newSQLResetService(t, n, now)

	mock.ExpectQuery(`FROM\s+users\s+WHERE\s+email`).
		WillReturnRows(sqlmock.NewRows(userCols).AddRow(int64(3), "", "", "kim@example.com", "h", false, false, now))
	mock.ExpectBegin()
	mock.ExpectExec(`DELETE\s+FROM\s+password_reset_tokens`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`INSERT\s+INTO\s+password_reset_tokens`).WillReturnError(errBoom{})
	mock.ExpectRollback()

	err := s.RequestReset(context.Background(), "kim@example.com")
	if err == nil || !regexp.MustCompile(`error storing reset token: .*boom`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped insert error, got %v", err)
	}
	require.NoError(t, mock.ExpectationsWereMet())
	assert.Empty(t, n.sent)
}

var tokenCols = []string{"user_id", "token", "expires_at", "created_at"}

const consumeSQL = `DELETE\s+FROM\s+password_reset_tokens\s+WHERE\s+user_id\s*=\s*\$1\s+AND\s+token\s*=\s*\$2\s+AND\s+expires_at\s*>\s*\$3`

func TestRedeemReset_SQL_ConsumesBeforeUpdatingPassword(t *testing.T) {
	now := time.Now()
	s, mock := newSQLResetService(t, &fakeNotifier{}, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM\s+password_reset_tokens`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(tokenCols).AddRow(int64(3), "tok", now.Add(time.Minute), now))
	mock.ExpectExec(consumeSQL).WithArgs(int64(3), "tok", now).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+users\s+SET\s+password_hash`).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	ok, err := s.RedeemReset(context.Background(), 3, "tok", "new")
	require.NoError(t, err)
	assert.True(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

// A concurrent redemption committed between our read and our delete: the
// row is gone, so this one must fail without touching the password.
func TestRedeemReset_SQL_TokenTakenByConcurrentRedeem(t *testing.T) {
	now := time.Now()
	s, mock := newSQLResetService(t, &fakeNotifier{}, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM\s+password_reset_tokens`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(tokenCols).AddRow(int64(3), "tok", now.Add(time.Minute), now))
	mock.ExpectExec(consumeSQL).WithArgs(int64(3), "tok", now).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	ok, err := s.RedeemReset(context.Background(), 3, "tok", "new")
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Equal(t, int32(0), s.hasher.(*countingHasher).hashes.Load())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemReset_SQL_StorageErrorRollsBack(t *testing.T) {
	now := time.Now()
	s, mock := newSQLResetService(t, &fakeNotifier{}, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM\s+password_reset_tokens`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(tokenCols).AddRow(int64(3), "tok", now.Add(time.Minute), now))
	mock.ExpectExec(consumeSQL).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`UPDATE\s+users\s+SET\s+password_hash`).WillReturnError(errBoom{})
	mock.ExpectRollback()

	ok, err := s.RedeemReset(context.Background(), 3, "tok", "new")
	require.Error(t, err)
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRedeemReset_SQL_ConsumeErrorRollsBack(t *testing.T) {
	now := time.Now()
	s, mock := newSQLResetService(t, &fakeNotifier{}, now)

	mock.ExpectBegin()
	mock.ExpectQuery(`FROM\s+password_reset_tokens`).WithArgs(int64(3)).
		WillReturnRows(sqlmock.NewRows(tokenCols).AddRow(int64(3), "tok", now.Add(time.Minute), now))
	mock.ExpectExec(consumeSQL).WillReturnError(errBoom{})
	mock.ExpectRollback()

	ok, err := s.RedeemReset(context.Background(), 3, "tok", "new")
	if err == nil || !regexp.MustCompile(`error consuming reset token: .*boom`).MatchString(err.Error()) {
		t.Fatalf("expected wrapped consume error, got %v", err)
	}
	assert.False(t, ok)
	require.NoError(t, mock.ExpectationsWereMet())
}
