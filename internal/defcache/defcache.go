// Package defcache is the read-through cache of workflow definitions
// fetched from the Resources service, keyed by (definition_id, version)
// (spec.md §3: "read-through definition cache"). It also implements the
// supplemented patch-reload behavior: a definition can be invalidated by ID
// so the next load re-fetches every version, picking up an in-place patch
// without restarting in-flight runs (grounded on the reloadIRIfPatched
// pattern used for patched workflow IR).
package defcache

import (
	"context"
	"fmt"
	"sync"

	"github.com/wonderhq/coordinator/internal/model"
)

// Loader fetches a definition from the system of record when the cache
// misses.
type Loader interface {
	LoadDefinition(ctx context.Context, definitionID string, version int) (*model.WorkflowDefinition, error)
}

// Cache is a read-through cache in front of a Loader.
type Cache struct {
	loader Loader

	mu      sync.RWMutex
	entries map[key]*model.WorkflowDefinition
}

type key struct {
	definitionID string
	version      int
}

// New constructs a Cache backed by loader.
func New(loader Loader) *Cache {
	return &Cache{
		loader:  loader,
		entries: make(map[key]*model.WorkflowDefinition),
	}
}

// Get returns the cached definition, loading and caching it on a miss.
func (c *Cache) Get(ctx context.Context, definitionID string, version int) (*model.WorkflowDefinition, error) {
	k := key{definitionID, version}

	c.mu.RLock()
	def, ok := c.entries[k]
	c.mu.RUnlock()
	if ok {
		return def, nil
	}

	def, err := c.loader.LoadDefinition(ctx, definitionID, version)
	if err != nil {
		return nil, fmt.Errorf("load definition %s@%d: %w", definitionID, version, err)
	}

	c.mu.Lock()
	c.entries[k] = def
	c.mu.Unlock()

	return def, nil
}

// Invalidate drops every cached version of definitionID. Call this after a
// patch is applied to a definition that has runs in flight.
func (c *Cache) Invalidate(definitionID string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for k := range c.entries {
		if k.definitionID == definitionID {
			delete(c.entries, k)
		}
	}
}

// Size reports the number of cached (definition_id, version) entries.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
