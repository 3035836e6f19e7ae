package cache

import (
	"context"
	"sync"
	"time"
)

// MemoryCache is an in-process Cache with per-key expiry. Expired entries
// are treated as absent on read and reaped by an optional janitor sweep.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry

	janitorDone chan struct{}
	janitorOnce sync.Once

	// now is swappable for expiry tests.
	now func() time.Time
}

type memoryEntry struct {
	value     string
	expiresAt time.Time // zero means no expiry
}

// NewMemory builds an empty in-memory cache.
func NewMemory() *MemoryCache {
	return &MemoryCache{
		entries:     make(map[string]memoryEntry),
		janitorDone: make(chan struct{}),
		now:         time.Now,
	}
}

// StartJanitor reaps expired entries at the given interval until Close.
func (c *MemoryCache) StartJanitor(interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.janitorDone:
				return
			case <-ticker.C:
				c.reap()
			}
		}
	}()
}

// Close stops the janitor, if running.
func (c *MemoryCache) Close() {
	c.janitorOnce.Do(func() { close(c.janitorDone) })
}

func (c *MemoryCache) reap() {
	now := c.now()
	c.mu.Lock()
	for key, entry := range c.entries {
		if !entry.expiresAt.IsZero() && now.After(entry.expiresAt) {
			delete(c.entries, key)
		}
	}
	c.mu.Unlock()
}

func (c *MemoryCache) expired(entry memoryEntry) bool {
	return !entry.expiresAt.IsZero() && c.now().After(entry.expiresAt)
}

func (c *MemoryCache) Get(_ context.Context, key string) (string, bool, error) {
	c.mu.RLock()
	entry, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.expired(entry) {
		return "", false, nil
	}
	return entry.value, true, nil
}

func (c *MemoryCache) Set(_ context.Context, key, value string, ttl time.Duration) error {
	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.mu.Lock()
	c.entries[key] = entry
	c.mu.Unlock()
	return nil
}

func (c *MemoryCache) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok && !c.expired(existing) {
		return false, nil
	}

	entry := memoryEntry{value: value}
	if ttl > 0 {
		entry.expiresAt = c.now().Add(ttl)
	}
	c.entries[key] = entry
	return true, nil
}
