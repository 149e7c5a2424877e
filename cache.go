package oauthclient

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/authrelay/oauth-client/kvstore"
	"github.com/authrelay/oauth-client/kvstore/memory"
	"github.com/authrelay/oauth-client/kvstore/valkey"
)

// IntrospectionCache caches introspection results in front of the live
// introspection call. It composes namespacing and JSON serialization over
// any kvstore.Store backend.
//
// The cache is optional: a Client constructed without one works correctly,
// just with a live call every time.
type IntrospectionCache struct {
	store  kvstore.Store
	prefix string
	maxAge time.Duration
}

// NewIntrospectionCache wraps store with the namespacing and serialization
// layer. An empty keyPrefix defaults to DefaultCacheKeyPrefix. A maxAge > 0
// caps every entry's TTL.
func NewIntrospectionCache(store kvstore.Store, keyPrefix string, maxAge time.Duration) *IntrospectionCache {
	if keyPrefix == "" {
		keyPrefix = DefaultCacheKeyPrefix
	}
	return &IntrospectionCache{
		store:  store,
		prefix: keyPrefix,
		maxAge: maxAge,
	}
}

// NewCache builds an IntrospectionCache from a CacheConfig. Kind "none"
// (or empty) yields nil, which disables caching.
func NewCache(cfg CacheConfig) (*IntrospectionCache, error) {
	switch cfg.Kind {
	case "", CacheNone:
		return nil, nil
	case CacheLRU:
		store := memory.NewWithConfig(memory.Config{MaxEntries: cfg.MaxEntries})
		return NewIntrospectionCache(store, cfg.KeyPrefix, cfg.MaxAge), nil
	case CacheNetworked:
		store, err := valkey.New(cfg.Valkey)
		if err != nil {
			return nil, fmt.Errorf("failed to create networked cache: %w", err)
		}
		return NewIntrospectionCache(store, cfg.KeyPrefix, cfg.MaxAge), nil
	}
	return nil, ErrConfiguration(fmt.Sprintf("unknown cache kind %q", cfg.Kind))
}

// key namespaces an access token before it reaches the backing store.
func (c *IntrospectionCache) key(token string) string {
	return c.prefix + ":" + token
}

// Get returns the cached result for token, or nil on a miss. A stored JSON
// null round-trips to nil, never to a parse error.
func (c *IntrospectionCache) Get(ctx context.Context, token string) (*IntrospectionResult, error) {
	raw, found, err := c.store.Get(ctx, c.key(token))
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, nil
	}

	var result *IntrospectionResult
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to decode cached introspection result: %w", err)
	}
	return result, nil
}

// Set stores result for token with the given TTL. A nil result or a
// non-positive TTL is a successful no-op; a configured maxAge caps the TTL.
func (c *IntrospectionCache) Set(ctx context.Context, token string, result *IntrospectionResult, ttl time.Duration) error {
	if result == nil || ttl <= 0 {
		return nil
	}
	if c.maxAge > 0 && ttl > c.maxAge {
		ttl = c.maxAge
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to encode introspection result: %w", err)
	}
	return c.store.Set(ctx, c.key(token), string(raw), ttl)
}

// Delete drops any cached result for token.
func (c *IntrospectionCache) Delete(ctx context.Context, token string) error {
	return c.store.Delete(ctx, c.key(token))
}

// ttlUntil computes the cache TTL for a token expiring at the Unix-seconds
// timestamp exp, rounding up to whole seconds. A zero exp or one in the
// past yields a non-positive TTL, which disables caching for that result.
func ttlUntil(exp int64, now time.Time) time.Duration {
	if exp == 0 {
		return 0
	}
	seconds := math.Ceil(float64(exp) - float64(now.UnixNano())/float64(time.Second))
	return time.Duration(seconds) * time.Second
}

// logCacheError logs a best-effort cache failure without surfacing it.
func logCacheError(logger *slog.Logger, op string, err error) {
	if err != nil {
		logger.Warn("Introspection cache operation failed", "op", op, "error", err)
	}
}
