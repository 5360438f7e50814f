// Package tenant routes requests to their isolation strategy. It owns the
// tenant registry snapshot, the per-tenant pool cache and the construction
// of per-request execution contexts.
//
// The registry is an immutable snapshot swapped atomically on reload:
// in-flight requests keep the snapshot they captured and never take a lock.
// The pool map is mutated in place under a mutex that every pool lookup also
// takes; it is not copy-on-write. Pool construction runs outside the mutex.
package tenant

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/stokaro/architect/store"
)

// Provisioner prepares a freshly created tenant pool: ensure system tables
// and apply package migrations. Wired by the server so the registry stays
// free of config concerns.
type Provisioner func(ctx context.Context, pool *pgxpool.Pool) error

// DefaultPoolLimit bounds the number of tenant pools kept open.
const DefaultPoolLimit = 32

type snapshot struct {
	entries map[string]store.TenantEntry
	loaded  time.Time
}

// Registry caches tenant entries and tenant pools.
type Registry struct {
	central   *pgxpool.Pool
	store     *store.Store
	provision Provisioner
	poolLimit int
	logger    *slog.Logger

	snap atomic.Pointer[snapshot]

	mu        sync.Mutex // guards pool map writes and eviction order
	pools     map[string]*pgxpool.Pool
	poolURLs  map[string]string
	poolOrder []string
}

// NewRegistry creates a registry over the central pool.
func NewRegistry(central *pgxpool.Pool, st *store.Store, provision Provisioner) *Registry {
	r := &Registry{
		central:   central,
		store:     st,
		provision: provision,
		poolLimit: DefaultPoolLimit,
		logger:    slog.Default(),
		pools:     map[string]*pgxpool.Pool{},
		poolURLs:  map[string]string{},
	}
	r.snap.Store(&snapshot{entries: map[string]store.TenantEntry{}})
	return r
}

// WithLogger sets the logger for the registry.
func (r *Registry) WithLogger(l *slog.Logger) *Registry {
	r.logger = l
	return r
}

// WithPoolLimit overrides the tenant pool upper bound.
func (r *Registry) WithPoolLimit(n int) *Registry {
	if n > 0 {
		r.poolLimit = n
	}
	return r
}

// Central returns the central pool.
func (r *Registry) Central() *pgxpool.Pool { return r.central }

// Reload re-reads _sys_tenants and swaps the snapshot. Pools whose
// database_url changed are invalidated; in-flight requests holding the old
// pool complete on it.
func (r *Registry) Reload(ctx context.Context) error {
	entries, err := r.store.ListTenants(ctx, r.central)
	if err != nil {
		return fmt.Errorf("failed to reload tenant registry: %w", err)
	}

	next := &snapshot{entries: make(map[string]store.TenantEntry, len(entries)), loaded: time.Now()}
	for _, e := range entries {
		next.entries[e.ID] = e
	}
	r.snap.Store(next)

	r.mu.Lock()
	defer r.mu.Unlock()
	for id, url := range r.poolURLs {
		entry, ok := next.entries[id]
		if ok && entry.DatabaseURL == url {
			continue
		}
		pool := r.pools[id]
		r.dropPoolLocked(id)
		r.logger.Info("Invalidating tenant pool", "tenant", id)
		go pool.Close()
	}

	r.logger.Info("Tenant registry reloaded", "tenants", len(entries))
	return nil
}

// StartRefresh reloads the registry on the given interval until ctx is
// cancelled.
func (r *Registry) StartRefresh(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := r.Reload(ctx); err != nil {
					r.logger.Error("Tenant refresh failed", "error", err)
				}
			}
		}
	}()
}

// Lookup returns the entry for a tenant id. A miss triggers one re-query of
// the registry before giving up, so tenants registered since the last
// refresh are still routable.
func (r *Registry) Lookup(ctx context.Context, id string) (store.TenantEntry, bool) {
	if e, ok := r.snap.Load().entries[id]; ok {
		return e, true
	}
	if err := r.Reload(ctx); err != nil {
		r.logger.Error("Tenant lookup reload failed", "tenant", id, "error", err)
		return store.TenantEntry{}, false
	}
	e, ok := r.snap.Load().entries[id]
	return e, ok
}

// Entries returns the current snapshot's entries.
func (r *Registry) Entries() []store.TenantEntry {
	snap := r.snap.Load()
	out := make([]store.TenantEntry, 0, len(snap.entries))
	for _, e := range snap.entries {
		out = append(out, e)
	}
	return out
}

// pool returns the pool for a database-strategy tenant, creating and
// provisioning it on first use.
func (r *Registry) pool(ctx context.Context, entry store.TenantEntry) (*pgxpool.Pool, error) {
	r.mu.Lock()
	if p, ok := r.pools[entry.ID]; ok {
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	// Pool construction and provisioning run outside the lock: they hit the
	// network. A racing request for the same tenant may build a second pool;
	// the loser is closed below.
	pool, err := pgxpool.New(ctx, entry.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool for tenant %s: %w", entry.ID, err)
	}
	if r.provision != nil {
		if err := r.provision(ctx, pool); err != nil {
			pool.Close()
			return nil, fmt.Errorf("failed to provision tenant %s: %w", entry.ID, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if p, ok := r.pools[entry.ID]; ok {
		go pool.Close()
		return p, nil
	}
	if len(r.poolOrder) >= r.poolLimit {
		oldest := r.poolOrder[0]
		old := r.pools[oldest]
		r.dropPoolLocked(oldest)
		r.logger.Info("Evicting tenant pool", "tenant", oldest)
		go old.Close()
	}
	r.pools[entry.ID] = pool
	r.poolURLs[entry.ID] = entry.DatabaseURL
	r.poolOrder = append(r.poolOrder, entry.ID)
	r.logger.Info("Created tenant pool", "tenant", entry.ID)
	return pool, nil
}

func (r *Registry) dropPoolLocked(id string) {
	delete(r.pools, id)
	delete(r.poolURLs, id)
	for i, v := range r.poolOrder {
		if v == id {
			r.poolOrder = append(r.poolOrder[:i], r.poolOrder[i+1:]...)
			break
		}
	}
}

// Close closes every tenant pool. The central pool belongs to the caller.
func (r *Registry) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, p := range r.pools {
		delete(r.pools, id)
		delete(r.poolURLs, id)
		p.Close()
	}
	r.poolOrder = nil
}
