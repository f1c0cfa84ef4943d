// Package cache provides an in-memory byte-value cache. bootstrap builds
// one into Components; defcache keeps its own map and does not use it.
package cache

import (
	"context"
	"sync"
	"time"
)

// Cache is a generic TTL key-value store.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// MemoryCache is an in-process implementation backed by a map and a
// background sweep goroutine.
type MemoryCache struct {
	data map[string]*entry
	mu   sync.RWMutex
}

type entry struct {
	value     []byte
	expiresAt time.Time
}

// NewMemoryCache starts the cleanup goroutine and returns a ready cache.
func NewMemoryCache() *MemoryCache {
	c := &MemoryCache{
		data: make(map[string]*entry),
	}
	go c.cleanup()
	return c
}

func (c *MemoryCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	e, exists := c.data[key]
	if !exists {
		return nil, false, nil
	}
	if time.Now().After(e.expiresAt) {
		return nil, false, nil
	}
	return e.value, true, nil
}

func (c *MemoryCache) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = &entry{value: value, expiresAt: time.Now().Add(ttl)}
	return nil
}

func (c *MemoryCache) Delete(ctx context.Context, key string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	delete(c.data, key)
	return nil
}

func (c *MemoryCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data = nil
	return nil
}

func (c *MemoryCache) cleanup() {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for range ticker.C {
		c.mu.Lock()
		now := time.Now()
		for key, e := range c.data {
			if now.After(e.expiresAt) {
				delete(c.data, key)
			}
		}
		c.mu.Unlock()
	}
}

// Stats reports cache occupancy for diagnostics.
func (c *MemoryCache) Stats() map[string]interface{} {
	c.mu.RLock()
	defer c.mu.RUnlock()

	return map[string]interface{}{
		"entries": len(c.data),
		"type":    "memory",
	}
}
