package tenant

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/stokaro/architect/core/resolve"
	"github.com/stokaro/architect/store"
)

// ModelLoader produces a resolved model for a package on the given
// execution context (database-strategy tenants carry their own config).
type ModelLoader func(ctx context.Context, tc *Context, packageID string) (*resolve.Model, error)

type modelKey struct {
	packageID string
	tenantID  string // empty unless database strategy
}

// ModelCache memoizes resolved models per (package, pool). Reads are a
// lock-free snapshot load; the single writer path copies the map on insert.
type ModelCache struct {
	loader ModelLoader

	mu   sync.Mutex
	snap atomic.Pointer[map[modelKey]*resolve.Model]
}

// NewModelCache creates a cache around a loader.
func NewModelCache(loader ModelLoader) *ModelCache {
	c := &ModelCache{loader: loader}
	empty := map[modelKey]*resolve.Model{}
	c.snap.Store(&empty)
	return c
}

// Get returns the resolved model for a package under the given execution
// context, loading and caching it on a miss. Database-strategy tenants get
// their own cache entry because each tenant database carries its own
// config; schema and rls tenants share the package entry.
func (c *ModelCache) Get(ctx context.Context, tc *Context, packageID string) (*resolve.Model, error) {
	key := modelKey{packageID: packageID}
	if tc.Strategy == store.StrategyDatabase {
		key.tenantID = tc.TenantID
	}

	if m, ok := (*c.snap.Load())[key]; ok {
		return m, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if m, ok := (*c.snap.Load())[key]; ok {
		return m, nil
	}
	m, err := c.loader(ctx, tc, packageID)
	if err != nil {
		return nil, err
	}
	old := *c.snap.Load()
	next := make(map[modelKey]*resolve.Model, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[key] = m
	c.snap.Store(&next)
	return m, nil
}

// Put seeds a model, replacing any cached entry for the package's shared
// key. Used after config ingestion so the next request sees the new model.
func (c *ModelCache) Put(packageID string, m *resolve.Model) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := *c.snap.Load()
	next := make(map[modelKey]*resolve.Model, len(old)+1)
	for k, v := range old {
		next[k] = v
	}
	next[modelKey{packageID: packageID}] = m
	c.snap.Store(&next)
}

// Invalidate drops every entry for a package id across tenants.
func (c *ModelCache) Invalidate(packageID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	old := *c.snap.Load()
	next := make(map[modelKey]*resolve.Model, len(old))
	for k, v := range old {
		if k.packageID == packageID {
			continue
		}
		next[k] = v
	}
	c.snap.Store(&next)
}
