package tenant

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stokaro/architect/core/apperr"
	"github.com/stokaro/architect/executor"
	"github.com/stokaro/architect/store"
)

// Context is the per-request execution context: the executor every
// statement of the request runs on, the schema override for schema-strategy
// tenants, and the RLS pin. It hides the tenant strategy from everything
// downstream.
type Context struct {
	TenantID       string
	Strategy       store.TenantStrategy
	Exec           executor.Executor
	SchemaOverride string

	// Pool is the pool backing Exec. Resolved-model caches key
	// database-strategy tenants on TenantID, not on Pool.
	Pool *pgxpool.Pool

	pinned *executor.Pinned
}

// RLSPinned reports whether the context holds a pinned RLS connection.
func (c *Context) RLSPinned() bool { return c.pinned != nil }

// Release frees any pinned connection. Safe to call on every context and
// on every exit path.
func (c *Context) Release() {
	if c.pinned != nil {
		c.pinned.Release()
	}
}

// ConfigExecutor selects where configuration reads for a context go:
// database-strategy tenants carry their own config, every other strategy
// shares the central store.
func ConfigExecutor(tc *Context, central *pgxpool.Pool) executor.Executor {
	if tc != nil && tc.Strategy == store.StrategyDatabase {
		return tc.Exec
	}
	return central
}

// DefaultContext builds the context used when no tenant header is present:
// central pool, no override, no RLS.
func (r *Registry) DefaultContext() *Context {
	return &Context{Exec: r.central, Pool: r.central}
}

// Context builds the execution context for a tenant id. Unknown tenants
// produce NotFound. For the rls strategy the returned context owns a pinned
// connection that the caller must Release.
func (r *Registry) Context(ctx context.Context, tenantID string) (*Context, error) {
	if tenantID == "" {
		return r.DefaultContext(), nil
	}
	entry, ok := r.Lookup(ctx, tenantID)
	if !ok {
		return nil, apperr.NewNotFound("tenant", tenantID)
	}

	switch entry.Strategy {
	case store.StrategyDatabase:
		pool, err := r.pool(ctx, entry)
		if err != nil {
			return nil, err
		}
		return &Context{TenantID: tenantID, Strategy: entry.Strategy, Exec: pool, Pool: pool}, nil

	case store.StrategySchema:
		return &Context{
			TenantID:       tenantID,
			Strategy:       entry.Strategy,
			Exec:           r.central,
			Pool:           r.central,
			SchemaOverride: entry.SchemaName,
		}, nil

	case store.StrategyRLS:
		pinned, err := executor.PinRLS(ctx, r.central, tenantID)
		if err != nil {
			return nil, err
		}
		return &Context{
			TenantID: tenantID,
			Strategy: entry.Strategy,
			Exec:     pinned,
			Pool:     r.central,
			pinned:   pinned,
		}, nil
	}
	return nil, fmt.Errorf("tenant %s has unknown strategy %q", tenantID, entry.Strategy)
}
