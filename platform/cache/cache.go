// Package cache provides a small TTL key-value store used for idempotency
// markers, catalog caching and knowledge-base reply caching. Implementations
// are injected; nothing in this package holds global state.
package cache

import (
	"context"
	"time"
)

// Store is a TTL key-value store. Values are opaque strings; callers
// serialize as needed.
type Store interface {
	// Get returns the value for key and whether it was present and unexpired.
	Get(ctx context.Context, key string) (string, bool, error)

	// Set stores value under key. A zero ttl means no expiry.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes a single key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error

	// Invalidate removes every key with the given prefix.
	Invalidate(ctx context.Context, prefix string) error
}
