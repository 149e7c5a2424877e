// Package kvstore defines the expiring key/value contract backing the
// introspection cache. Implementations are provided in subpackages:
//   - kvstore/memory: in-process LRU for single-instance deployments
//   - kvstore/valkey: Valkey/Redis-compatible distributed store
package kvstore

import (
	"context"
	"time"
)

// Store is an expiring key/value store. Values are opaque strings; callers
// serialize before Set and parse after Get.
//
// All methods accept context.Context for tracing and cancellation.
type Store interface {
	// Get returns the value stored under key. A missing or expired key
	// returns found=false with a nil error; backend I/O failures are
	// returned as errors.
	Get(ctx context.Context, key string) (value string, found bool, err error)

	// Set stores value under key for ttl. When ttl <= 0 nothing is stored
	// and nil is returned: a non-positive TTL disables caching for that
	// entry rather than failing the call.
	Set(ctx context.Context, key, value string, ttl time.Duration) error

	// Delete removes key. Deleting a missing key is not an error.
	Delete(ctx context.Context, key string) error
}
