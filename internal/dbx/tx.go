package dbx

import (
	"context"
	"database/sql"
)

// Transactor runs fn atomically. Services depend on it instead of *sql.DB so
// the same code path works against the in-memory store.
type Transactor interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error
}

// SQLTransactor adapts *sql.DB to Transactor using WithTx.
type SQLTransactor struct {
	DB   *sql.DB
	Opts *sql.TxOptions
}

func NewSQLTransactor(db *sql.DB) *SQLTransactor {
	return &SQLTransactor{DB: db}
}

func (t *SQLTransactor) WithTx(ctx context.Context, fn func(ctx context.Context, tx DBTX) error) error {
	return WithTx(ctx, t.DB, t.Opts, fn)
}
