package feed

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrCacheMiss is returned by Cache.Get when no live entry exists for the
// key. Every other error from a cache is treated as a miss too, but logged;
// a broken cache degrades composition, it never fails it.
var ErrCacheMiss = errors.New("feed cache miss")

// Cache stores composed feeds. Implementations must be safe for concurrent
// use; concurrent misses for the same key may both compute and write, which
// is fine because composition is deterministic for a given instant.
type Cache interface {
	// Get returns the cached result for the key, or ErrCacheMiss.
	Get(ctx context.Context, key string) (*Result, error)

	// Set stores the result under the key for at most ttl.
	Set(ctx context.Context, key string, result *Result, ttl time.Duration) error

	// InvalidateUser drops every cached feed belonging to the user,
	// regardless of size or composition fingerprint.
	InvalidateUser(ctx context.Context, userID string) error
}

// CacheKey builds the cache key for one composed feed. The composition
// fingerprint is part of the key, so a weight change misses naturally even
// before the explicit invalidation lands.
func CacheKey(userID string, size int, fingerprint string) string {
	return fmt.Sprintf("feed:%s:%d:%s", userID, size, fingerprint)
}

// UserCachePrefix returns the key prefix shared by all of a user's feeds.
// Invalidation deletes by this prefix.
func UserCachePrefix(userID string) string {
	return fmt.Sprintf("feed:%s:", userID)
}
