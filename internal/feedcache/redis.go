package feedcache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/onnwee/feedmixer/internal/feed"
)

// redisEnvelope wraps a cached result with its write time so the max-age
// ceiling can be enforced on read even if the key's TTL was renewed.
type redisEnvelope struct {
	Result   *feed.Result `json:"result"`
	StoredAt time.Time    `json:"stored_at"`
}

// RedisCache implements feed.Cache on a Redis backend so multiple API
// instances share composed feeds.
type RedisCache struct {
	client  *redis.Client
	maxAge  time.Duration
	timeNow func() time.Time
}

// NewRedisCache creates a Redis-backed feed cache. A non-positive maxAge
// selects DefaultMaxAge.
func NewRedisCache(client *redis.Client, maxAge time.Duration) *RedisCache {
	if maxAge <= 0 {
		maxAge = DefaultMaxAge
	}
	return &RedisCache{
		client:  client,
		maxAge:  maxAge,
		timeNow: time.Now,
	}
}

// Get returns the cached feed for the key, or feed.ErrCacheMiss. Backend
// failures surface as errors; the composer treats them as misses.
func (c *RedisCache) Get(ctx context.Context, key string) (*feed.Result, error) {
	payload, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, feed.ErrCacheMiss
	}
	if err != nil {
		return nil, fmt.Errorf("feed cache get %q: %w", key, err)
	}

	var envelope redisEnvelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		// A corrupt entry is useless; drop it and miss.
		c.client.Del(ctx, key)
		return nil, feed.ErrCacheMiss
	}
	if envelope.Result == nil || c.timeNow().Sub(envelope.StoredAt) > c.maxAge {
		c.client.Del(ctx, key)
		return nil, feed.ErrCacheMiss
	}
	return envelope.Result, nil
}

// Set stores the result under the key. The key's expiration is the smaller
// of ttl and the max-age ceiling.
func (c *RedisCache) Set(ctx context.Context, key string, result *feed.Result, ttl time.Duration) error {
	if ttl <= 0 || ttl > c.maxAge {
		ttl = c.maxAge
	}

	payload, err := json.Marshal(redisEnvelope{Result: result, StoredAt: c.timeNow()})
	if err != nil {
		return fmt.Errorf("feed cache marshal %q: %w", key, err)
	}
	if err := c.client.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("feed cache set %q: %w", key, err)
	}
	return nil
}

// InvalidateUser scans for the user's feed keys and deletes them. SCAN is
// used instead of KEYS so invalidation never blocks the Redis server.
func (c *RedisCache) InvalidateUser(ctx context.Context, userID string) error {
	pattern := feed.UserCachePrefix(userID) + "*"

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, pattern, 100).Result()
		if err != nil {
			return fmt.Errorf("feed cache scan %q: %w", pattern, err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("feed cache delete for user %q: %w", userID, err)
			}
		}
		cursor = next
		if cursor == 0 {
			return nil
		}
	}
}
