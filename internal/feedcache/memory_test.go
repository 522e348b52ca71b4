package feedcache

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/onnwee/feedmixer/internal/composition"
	"github.com/onnwee/feedmixer/internal/feed"
	"github.com/onnwee/feedmixer/internal/pool"
	"github.com/onnwee/feedmixer/internal/scoring"
)

func sampleResult(userID string, generatedAt time.Time) *feed.Result {
	return &feed.Result{
		Items: []scoring.ScoredCandidate{
			{
				Candidate: pool.Candidate{
					ID:        "c1",
					Pool:      pool.Trending,
					AuthorID:  "a1",
					Tags:      []string{"go"},
					CreatedAt: generatedAt.Add(-time.Hour),
				},
				Score: 0.8,
			},
		},
		CompositionUsed: composition.Default(userID),
		GeneratedAt:     generatedAt,
		CacheKey:        feed.CacheKey(userID, 10, "fp"),
	}
}

func TestMemoryCacheRoundTrip(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Hour)
	c.timeNow = func() time.Time { return now }

	key := feed.CacheKey("user-1", 10, "fp")
	stored := sampleResult("user-1", now)
	if err := c.Set(context.Background(), key, stored, 5*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	got, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if !got.GeneratedAt.Equal(now) || len(got.Items) != 1 || got.Items[0].ID != "c1" {
		t.Errorf("Get() = %+v, want the stored result", got)
	}
}

func TestMemoryCacheMiss(t *testing.T) {
	c := NewMemoryCache(time.Hour)
	_, err := c.Get(context.Background(), "feed:absent:10:fp")
	if !errors.Is(err, feed.ErrCacheMiss) {
		t.Errorf("Get() error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCacheReturnsCopies(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Hour)
	c.timeNow = func() time.Time { return now }

	key := feed.CacheKey("user-1", 10, "fp")
	stored := sampleResult("user-1", now)
	if err := c.Set(context.Background(), key, stored, 5*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	// Mutating the caller's copy after Set must not touch the cache.
	stored.Items[0].Score = 0.0

	first, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if first.Items[0].Score != 0.8 {
		t.Error("Set() stored a shared reference instead of a copy")
	}

	// Mutating a returned result must not touch later reads.
	first.Items[0].Tags[0] = "changed"
	second, err := c.Get(context.Background(), key)
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if second.Items[0].Tags[0] != "go" {
		t.Error("Get() returned a shared reference instead of a copy")
	}
}

func TestMemoryCacheTTLExpiry(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Hour)
	c.timeNow = func() time.Time { return now }

	key := feed.CacheKey("user-1", 10, "fp")
	if err := c.Set(context.Background(), key, sampleResult("user-1", now), 5*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	now = now.Add(4 * time.Minute)
	if _, err := c.Get(context.Background(), key); err != nil {
		t.Errorf("Get() before TTL error = %v, want hit", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Get(context.Background(), key); !errors.Is(err, feed.ErrCacheMiss) {
		t.Errorf("Get() after TTL error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCacheMaxAgeCeiling(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(30 * time.Minute)
	c.timeNow = func() time.Time { return now }

	// The requested TTL exceeds the ceiling; the ceiling wins.
	key := feed.CacheKey("user-1", 10, "fp")
	if err := c.Set(context.Background(), key, sampleResult("user-1", now), 24*time.Hour); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	now = now.Add(29 * time.Minute)
	if _, err := c.Get(context.Background(), key); err != nil {
		t.Errorf("Get() before ceiling error = %v, want hit", err)
	}

	now = now.Add(2 * time.Minute)
	if _, err := c.Get(context.Background(), key); !errors.Is(err, feed.ErrCacheMiss) {
		t.Errorf("Get() past ceiling error = %v, want ErrCacheMiss", err)
	}
}

func TestMemoryCacheInvalidateUser(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Hour)
	c.timeNow = func() time.Time { return now }

	keys := map[string]string{
		feed.CacheKey("user-1", 10, "fp1"): "user-1",
		feed.CacheKey("user-1", 20, "fp2"): "user-1",
		feed.CacheKey("user-2", 10, "fp1"): "user-2",
	}
	for key, user := range keys {
		if err := c.Set(context.Background(), key, sampleResult(user, now), 5*time.Minute); err != nil {
			t.Fatalf("Set(%q) error = %v", key, err)
		}
	}

	if err := c.InvalidateUser(context.Background(), "user-1"); err != nil {
		t.Fatalf("InvalidateUser() error = %v", err)
	}

	for key, user := range keys {
		_, err := c.Get(context.Background(), key)
		if user == "user-1" && !errors.Is(err, feed.ErrCacheMiss) {
			t.Errorf("Get(%q) error = %v, want miss after invalidation", key, err)
		}
		if user == "user-2" && err != nil {
			t.Errorf("Get(%q) error = %v, invalidation bled across users", key, err)
		}
	}
}

func TestMemoryCacheCleanup(t *testing.T) {
	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	c := NewMemoryCache(time.Hour)
	c.timeNow = func() time.Time { return now }

	if err := c.Set(context.Background(), feed.CacheKey("user-1", 10, "fp"), sampleResult("user-1", now), 5*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := c.Set(context.Background(), feed.CacheKey("user-2", 10, "fp"), sampleResult("user-2", now), 30*time.Minute); err != nil {
		t.Fatalf("Set() error = %v", err)
	}

	now = now.Add(10 * time.Minute)
	removed := c.Cleanup()
	if removed != 1 {
		t.Errorf("Cleanup() removed %d entries, want 1", removed)
	}
	if c.Len() != 1 {
		t.Errorf("Len() = %d after cleanup, want 1", c.Len())
	}
}
