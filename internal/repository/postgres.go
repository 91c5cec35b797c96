package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// PgxPool is the subset of *pgxpool.Pool the postgres repositories call.
type PgxPool interface {
	Begin(ctx context.Context) (pgx.Tx, error)
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// withTx runs fn in a transaction, committing when fn succeeds and the
// context is still live, rolling back otherwise.
func withTx(ctx context.Context, pool PgxPool, fn func(tx pgx.Tx) error) (err error) {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return err
	}

	defer func() {
		if err != nil || ctx.Err() != nil {
			err = errors.Join(err, ctx.Err(), tx.Rollback(ctx))
			return
		}
		err = tx.Commit(ctx)
	}()

	return fn(tx)
}

func isNoRows(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}
