// Package dbx holds the small database/sql seam the profile repositories
// are written against.
package dbx

import (
	"context"
	"database/sql"
	"fmt"
)

// DBTX is satisfied by both *sql.DB and *sql.Tx, so a repository can run
// either standalone or inside a transaction.
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Beginner starts transactions; *sql.DB and *sql.Conn qualify.
type Beginner interface {
	BeginTx(ctx context.Context, opts *sql.TxOptions) (*sql.Tx, error)
}

// InTx runs fn in a transaction and returns its result. The transaction is
// committed only when fn returns nil; any other exit, a panic included,
// rolls it back.
//
//	p, err := dbx.InTx(ctx, db, func(ctx context.Context, tx dbx.DBTX) (models.Profile, error) {
//		return p, rm.Profiles(tx).Save(ctx, p)
//	})
func InTx[T any](ctx context.Context, db Beginner, fn func(ctx context.Context, tx DBTX) (T, error)) (T, error) {
	var zero T

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return zero, fmt.Errorf("begin tx: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	res, err := fn(ctx, tx)
	if err != nil {
		return zero, err
	}
	if err := tx.Commit(); err != nil {
		return zero, fmt.Errorf("commit tx: %w", err)
	}
	committed = true
	return res, nil
}

// WithTx is InTx for callers that only need the error.
func WithTx(ctx context.Context, db Beginner, fn func(ctx context.Context, tx DBTX) error) error {
	_, err := InTx(ctx, db, func(ctx context.Context, tx DBTX) (struct{}, error) {
		return struct{}{}, fn(ctx, tx)
	})
	return err
}
