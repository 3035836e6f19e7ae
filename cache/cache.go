// Package cache defines the key-value cache boundary used by the gateway
// for unique-ID reservation and idempotency bookkeeping, with a
// Redis-backed implementation for production and an in-memory TTL map for
// tests and single-node deployments.
package cache

import (
	"context"
	"time"
)

// Cache is a key-value store with per-key TTL.
type Cache interface {
	// Get returns the value for key. The second return is false when the
	// key is absent or expired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key for the given TTL. A zero TTL stores
	// without expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// SetNX stores value under key only if the key is absent, returning
	// whether the reservation succeeded.
	SetNX(ctx context.Context, key, value string, ttl time.Duration) (bool, error)
}
