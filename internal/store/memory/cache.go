// Package memory provides an in-process SeriesCache with per-entry expiry.
package memory

import (
	"context"
	"sync"
	"time"

	"tradelab/internal/model"
)

// DefaultTTL applies when Set is called with ttl 0.
const DefaultTTL = time.Hour

type entry struct {
	bars    []model.Bar
	expires time.Time
}

// Cache is a mutex-guarded map with lazy expiry. Stored and returned slices
// are copies.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]entry
	ttl     time.Duration
	now     func() time.Time
}

// NewCache creates a cache. ttl <= 0 uses DefaultTTL.
func NewCache(ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Cache{entries: make(map[string]entry), ttl: ttl, now: time.Now}
}

// Get implements model.SeriesCache.
func (c *Cache) Get(_ context.Context, key string) ([]model.Bar, bool, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	if c.now().After(e.expires) {
		c.mu.Lock()
		if cur, still := c.entries[key]; still && cur.expires.Equal(e.expires) {
			delete(c.entries, key)
		}
		c.mu.Unlock()
		return nil, false, nil
	}
	out := make([]model.Bar, len(e.bars))
	copy(out, e.bars)
	return out, true, nil
}

// Set implements model.SeriesCache.
func (c *Cache) Set(_ context.Context, key string, bars []model.Bar, ttl time.Duration) error {
	if ttl <= 0 {
		ttl = c.ttl
	}
	cp := make([]model.Bar, len(bars))
	copy(cp, bars)

	c.mu.Lock()
	c.entries[key] = entry{bars: cp, expires: c.now().Add(ttl)}
	c.mu.Unlock()
	return nil
}

// Len returns the number of stored entries, including expired ones not yet
// evicted.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
