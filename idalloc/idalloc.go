// Package idalloc mints collision-free opaque correlation identifiers.
// Each returned ID is reserved in a shared cache for a bounded lifetime,
// so producers across processes can tag jobs without coordinating.
package idalloc

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ubco-db/helpme-sub005/cache"
)

const (
	// DefaultTTL is how long an ID stays reserved before it may be
	// reused.
	DefaultTTL = 30 * time.Minute

	// DefaultKeyPrefix namespaces reservations in the shared cache.
	DefaultKeyPrefix = "unique-id:"

	// maxAttempts bounds the collision-retry loop. UUID collisions are
	// vanishingly rare; repeated failures mean the cache is misbehaving.
	maxAttempts = 5
)

// Allocator reserves unique IDs in a TTL cache.
type Allocator struct {
	cache  cache.Cache
	ttl    time.Duration
	prefix string
}

// Option adjusts an Allocator.
type Option func(*Allocator)

// WithTTL overrides the reservation lifetime.
func WithTTL(ttl time.Duration) Option {
	return func(a *Allocator) { a.ttl = ttl }
}

// WithKeyPrefix overrides the cache key namespace.
func WithKeyPrefix(prefix string) Option {
	return func(a *Allocator) { a.prefix = prefix }
}

// New builds an Allocator backed by the given cache.
func New(c cache.Cache, opts ...Option) *Allocator {
	a := &Allocator{cache: c, ttl: DefaultTTL, prefix: DefaultKeyPrefix}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Allocate mints an ID not currently reserved by any other caller and
// reserves it for the allocator's TTL. Concurrent calls never return the
// same ID while either reservation is live.
func (a *Allocator) Allocate(ctx context.Context) (string, error) {
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}

		candidate := uuid.NewString()
		reserved, err := a.cache.SetNX(ctx, a.prefix+candidate, "1", a.ttl)
		if err != nil {
			return "", fmt.Errorf("reserve id: %w", err)
		}
		if reserved {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("exhausted %d id allocation attempts", maxAttempts)
}
