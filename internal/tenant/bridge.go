package tenant

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"
)

// Transaction-scoped settings read by the row-isolation policies. Only the
// bridge may set or clear these; no other component issues statements that
// touch them.
const (
	gucOrgID      = "tally.org_id"
	gucSuperAdmin = "tally.superadmin"
)

// Bridge keeps the in-process tenant context and the database session's
// isolation settings consistent. It is the only component that touches both.
//
// A bridge built over a nil pool (stores with no database session to
// synchronize, such as the in-memory set) hands out no-op units of work.
type Bridge struct {
	pool *pgxpool.Pool
}

// NewBridge creates a bridge over the shared connection pool.
func NewBridge(pool *pgxpool.Pool) *Bridge {
	return &Bridge{pool: pool}
}

// Work phases. A Work moves active -> committed -> closed on the happy path
// and active -> closed on rollback; Close is the unbinding transition and
// must run on every exit path.
const (
	workActive = iota
	workCommitted
	workClosed
)

// Work is one bound unit of database work: a pinned pooled connection with an
// open transaction whose isolation settings match the in-process tenant
// context.
type Work struct {
	mu    sync.Mutex
	conn  *pgxpool.Conn
	tx    pgx.Tx
	phase int
}

// Begin pins a connection, opens a transaction and applies the active tenant
// to the transaction's isolation settings. The returned Work must be closed
// via Close on all exit paths; defer it immediately.
//
// The settings are applied with transaction scope, so even if the process
// dies mid-request the database reverts them when the transaction ends.
func (b *Bridge) Begin(ctx context.Context) (*Work, error) {
	if !Bound(ctx) {
		return nil, ErrNoTenantContext
	}

	superAdmin := IsSuperAdmin(ctx)

	var orgVal string
	org, err := Current(ctx)
	switch {
	case err == nil:
		orgVal = org.OrgID.String()
	case superAdmin:
		// cross-tenant work carries no organization
	default:
		return nil, err
	}

	adminVal := "off"
	if superAdmin {
		adminVal = "on"
	}

	if b.pool == nil {
		return &Work{phase: workActive}, nil
	}

	conn, err := b.pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection: %w", err)
	}

	tx, err := conn.Begin(ctx)
	if err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}

	_, err = tx.Exec(ctx,
		`SELECT set_config($1, $2, true), set_config($3, $4, true)`,
		gucOrgID, orgVal, gucSuperAdmin, adminVal)
	if err != nil {
		_ = tx.Rollback(context.WithoutCancel(ctx))
		conn.Release()
		return nil, fmt.Errorf("failed to set tenant isolation settings: %w", err)
	}

	return &Work{conn: conn, tx: tx, phase: workActive}, nil
}

// Tx returns the work's transaction. Returns nil once the work is closed.
func (w *Work) Tx() pgx.Tx {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.phase == workClosed {
		return nil
	}
	return w.tx
}

// Commit commits the transaction. Close must still be called afterwards to
// clear the isolation settings and return the connection to the pool.
func (w *Work) Commit(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase != workActive {
		return errors.New("work is not active")
	}

	if w.tx == nil {
		w.phase = workCommitted
		return nil
	}

	if err := w.tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit: %w", err)
	}
	w.phase = workCommitted
	return nil
}

// Close is the unbinding transition: it rolls back any uncommitted
// transaction, clears the isolation settings from the pinned connection and
// releases it. It is idempotent and safe to call after Commit, and it runs to
// completion even when the request context is already cancelled.
//
// A connection whose settings cannot be cleared is destroyed rather than
// returned to the pool: a leaked tenant setting on a pooled connection would
// be inherited by whichever request acquires it next.
func (w *Work) Close(ctx context.Context) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.phase == workClosed {
		return
	}

	// Teardown must not be interrupted by request cancellation.
	ctx = context.WithoutCancel(ctx)

	if w.conn == nil {
		w.phase = workClosed
		return
	}

	if w.phase == workActive {
		if err := w.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			log.Error().Err(err).Msg("failed to roll back tenant work")
		}
	}
	w.phase = workClosed

	// The transaction-scoped settings already reverted at commit/rollback;
	// clearing them at session scope as well guards against any session-level
	// value having been set on this connection.
	_, err := w.conn.Exec(ctx,
		`SELECT set_config($1, '', false), set_config($2, '', false)`,
		gucOrgID, gucSuperAdmin)
	if err != nil {
		log.Error().Err(err).Msg("failed to clear tenant isolation settings, destroying connection")
		_ = w.conn.Hijack().Close(ctx)
		return
	}

	w.conn.Release()
}

type workContextKey int

const workKey workContextKey = iota

// WithWork attaches a work to the context so store implementations can route
// their queries through the bound transaction.
func WithWork(ctx context.Context, w *Work) context.Context {
	return context.WithValue(ctx, workKey, w)
}

// WorkFrom returns the work bound to this unit of work, if any.
func WorkFrom(ctx context.Context) (*Work, bool) {
	w, ok := ctx.Value(workKey).(*Work)
	return w, ok
}

// Run executes fn inside a bound unit of work and commits on success.
// Serialization failures and deadlocks are retried with exponential backoff;
// everything else fails immediately.
func (b *Bridge) Run(ctx context.Context, fn func(ctx context.Context, tx pgx.Tx) error) error {
	operation := func() (struct{}, error) {
		work, err := b.Begin(ctx)
		if err != nil {
			return struct{}{}, backoff.Permanent(err)
		}
		defer work.Close(ctx)

		if err := fn(WithWork(ctx, work), work.Tx()); err != nil {
			if retryableTxError(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}

		if err := work.Commit(ctx); err != nil {
			if retryableTxError(err) {
				return struct{}{}, err
			}
			return struct{}{}, backoff.Permanent(err)
		}
		return struct{}{}, nil
	}

	_, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(backoff.NewExponentialBackOff()),
		backoff.WithMaxTries(4),
		backoff.WithMaxElapsedTime(10*time.Second))
	return err
}

// retryableTxError reports whether err is a transient transaction conflict.
func retryableTxError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == pgerrcode.SerializationFailure || pgErr.Code == pgerrcode.DeadlockDetected
}
