// Package executor abstracts how SQL reaches PostgreSQL. The CRUD service,
// the store and the migrator all run against an Executor, which is either a
// connection pool or a single pinned connection.
//
// The pinned variant exists for the RLS tenant strategy: a pooled connection
// cannot safely carry a session setting across requests, so the execution
// context acquires one connection, applies app.tenant_id to it, and every
// statement of the request runs there. Release clears the setting before
// the connection returns to the pool on every path.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stokaro/architect/core/apperr"
)

// Executor is the common query surface of *pgxpool.Pool, *pgxpool.Conn and
// pgx.Tx.
type Executor interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Begin(ctx context.Context) (pgx.Tx, error)
}

var (
	_ Executor = (*pgxpool.Pool)(nil)
	_ Executor = (*pgxpool.Conn)(nil)
)

// Pinned is a single pooled connection reserved for one request with the
// tenant id applied as a session setting.
type Pinned struct {
	conn     *pgxpool.Conn
	tenantID string
	released bool
}

// PinRLS acquires a connection from pool and applies app.tenant_id on it.
// The caller owns the returned Pinned and must Release it on every exit
// path.
func PinRLS(ctx context.Context, pool *pgxpool.Pool, tenantID string) (*Pinned, error) {
	conn, err := pool.Acquire(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to acquire connection for rls tenant: %w", err)
	}
	// set_config with is_local=false scopes the setting to this session;
	// SET LOCAL would require an enclosing transaction around the whole
	// request. Release resets it before the connection is returned.
	if _, err := conn.Exec(ctx, "SELECT set_config('app.tenant_id', $1, false)", tenantID); err != nil {
		conn.Release()
		return nil, fmt.Errorf("failed to set tenant on pinned connection: %w", err)
	}
	return &Pinned{conn: conn, tenantID: tenantID}, nil
}

// Query implements Executor.
func (p *Pinned) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return p.conn.Query(ctx, sql, args...)
}

// QueryRow implements Executor.
func (p *Pinned) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	return p.conn.QueryRow(ctx, sql, args...)
}

// Exec implements Executor.
func (p *Pinned) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	return p.conn.Exec(ctx, sql, args...)
}

// Begin implements Executor. Transactions opened on a pinned connection
// keep the tenant setting: SET LOCAL inside them would be redundant.
func (p *Pinned) Begin(ctx context.Context) (pgx.Tx, error) {
	return p.conn.Begin(ctx)
}

// TenantID returns the tenant the connection is pinned to.
func (p *Pinned) TenantID() string { return p.tenantID }

// Release clears the tenant setting and returns the connection to its pool.
// It is idempotent. The reset uses a background context so cancellation of
// the request cannot leak the setting into the pool.
func (p *Pinned) Release() {
	if p.released {
		return
	}
	p.released = true
	_, _ = p.conn.Exec(context.Background(), "RESET app.tenant_id")
	p.conn.Release()
}

// InTx runs fn inside a transaction on exec, committing on nil and rolling
// back on error or panic.
func InTx(ctx context.Context, exec Executor, fn func(tx pgx.Tx) error) error {
	tx, err := exec.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		_ = tx.Rollback(ctx)
	}()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ClassifyError maps driver-level failures onto the engine error taxonomy:
// unique violations become conflicts, serialization/connection classes
// become transient, context deadlines become timeouts. Errors that do not
// classify are returned unchanged.
func ClassifyError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", apperr.ErrTimeout, err)
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return err
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch {
		case pgErr.Code == "23505":
			return &apperr.ConflictError{Constraint: pgErr.ConstraintName}
		case pgErr.Code == "23502":
			verr := &apperr.ValidationError{}
			verr.Add(pgErr.ColumnName, "must not be null")
			return verr
		case pgErr.Code == "23503":
			verr := &apperr.ValidationError{}
			verr.Add(pgErr.ConstraintName, "referenced row does not exist")
			return verr
		case pgErr.Code == "40001" || pgErr.Code == "40P01":
			// Serialization failure or deadlock: retryable.
			return fmt.Errorf("%w: %w", apperr.ErrTransientDatabase, err)
		case pgErr.Code == "57014":
			// Statement cancelled by timeout.
			return fmt.Errorf("%w: %w", apperr.ErrTimeout, err)
		case strings.HasPrefix(pgErr.Code, "08"):
			// Connection exception class.
			return fmt.Errorf("%w: %w", apperr.ErrTransientDatabase, err)
		}
	}
	return err
}
