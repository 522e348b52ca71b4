// Package feedcache provides feed result caches: a process-local map for
// single-instance deployments and tests, and a Redis cache for sharing
// composed feeds across instances.
package feedcache

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/feedmixer/internal/feed"
)

// DefaultMaxAge is the ceiling on how stale a cached feed may ever be
// served, regardless of the TTL a writer asked for. It is a guard against
// TTL renewal bugs, not a normal expiry path.
const DefaultMaxAge = time.Hour

// entry is one cached feed with its expiry bookkeeping.
type entry struct {
	result    *feed.Result
	storedAt  time.Time
	expiresAt time.Time
}

// MemoryCache implements feed.Cache with an in-process map.
// Thread-safe for concurrent access.
type MemoryCache struct {
	mu      sync.RWMutex
	entries map[string]entry
	maxAge  time.Duration

	// timeNow is replaceable in tests.
	timeNow func() time.Time
}

// NewMemoryCache creates an in-memory feed cache. A non-positive maxAge
// selects DefaultMaxAge.
func NewMemoryCache(maxAge time.Duration) *MemoryCache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &MemoryCache{
		entries: make(map[string]entry),
		maxAge:  maxAge,
		timeNow: time.Now,
	}
}

// Get returns the cached feed for the key, or feed.ErrCacheMiss when the
// key is absent, past its TTL, or past the max-age ceiling. The returned
// result is a copy; callers may mutate it freely.
func (c *MemoryCache) Get(ctx context.Context, key string) (*feed.Result, error) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || c.expired(e, c.timeNow()) {
		return nil, feed.ErrCacheMiss
	}
	return e.result.Clone(), nil
}

// Set stores a copy of the result under the key. The effective lifetime is
// the smaller of ttl and the max-age ceiling.
func (c *MemoryCache) Set(ctx context.Context, key string, result *feed.Result, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.maxAge {
		ttl = c.maxAge
	}
	now := c.timeNow()

	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = entry{
		result:    result.Clone(),
		storedAt:  now,
		expiresAt: now.Add(ttl),
	}
	return nil
}

// InvalidateUser drops every cached feed belonging to the user.
func (c *MemoryCache) InvalidateUser(ctx context.Context, userID string) error {
	prefix := feed.UserCachePrefix(userID)

	c.mu.Lock()
	defer c.mu.Unlock()
	for key := range c.entries {
		if strings.HasPrefix(key, prefix) {
			delete(c.entries, key)
		}
	}
	return nil
}

// Cleanup removes expired entries to prevent unbounded growth.
// This should be called periodically in production.
// Returns the number of entries removed.
func (c *MemoryCache) Cleanup() int {
	now := c.timeNow()

	c.mu.Lock()
	defer c.mu.Unlock()
	removed := 0
	for key, e := range c.entries {
		if c.expired(e, now) {
			delete(c.entries, key)
			removed++
		}
	}
	return removed
}

// Len returns the number of live and expired entries currently held.
func (c *MemoryCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

func (c *MemoryCache) expired(e entry, now time.Time) bool {
	if now.After(e.expiresAt) {
		return true
	}
	return now.Sub(e.storedAt) > c.maxAge
}

// RunPeriodicCleanup reaps expired entries at the given interval until the
// stop channel is closed. It blocks and should typically be run in a
// goroutine.
func RunPeriodicCleanup(cache *MemoryCache, interval time.Duration, logger *slog.Logger, stopChan <-chan struct{}) {
	if logger == nil {
		logger = slog.Default()
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if removed := cache.Cleanup(); removed > 0 {
				logger.Debug("expired feed cache entries removed", "removed", removed)
			}
		case <-stopChan:
			logger.Info("stopping feed cache cleanup")
			return
		}
	}
}
