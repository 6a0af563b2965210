package postgres

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/tallyhq/tally/internal/tenant"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// db returns the querier for this unit of work. When the bridge has bound a
// work to the context, queries run on its transaction so the row isolation
// settings apply; a plain store transaction started by the Tx runner comes
// next. Falling back to the bare pool is safe: with no isolation setting
// applied the policies fail closed and tenant-scoped tables return no rows.
func db(ctx context.Context, pool *pgxpool.Pool) querier {
	if w, ok := tenant.WorkFrom(ctx); ok {
		if tx := w.Tx(); tx != nil {
			return tx
		}
	}
	if tx, ok := txFrom(ctx); ok {
		return tx
	}
	return pool
}
