// Package content stores candidate content items and serves them to the
// feed composer through pool-backed candidate sources. Items arrive from
// the ingest pipeline, live in Postgres in production, and age out through
// a periodic prune job.
package content

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/onnwee/feedmixer/internal/pool"
)

// Common errors returned by content stores.
var (
	ErrItemNotFound     = errors.New("content item not found")
	ErrMissingItemID    = errors.New("content item is missing an id")
	ErrMissingAuthorID  = errors.New("content item is missing an author id")
	ErrMissingCreatedAt = errors.New("content item is missing a created_at timestamp")
)

// Item is a stored content item. The feed engine never reads items
// directly; they surface as pool candidates through a StoreSource.
type Item struct {
	// ID is the globally unique content identifier.
	ID string `json:"id"`

	// AuthorID identifies the item's author.
	AuthorID string `json:"author_id"`

	// Text is the item body, kept for ops tooling and ingest replay.
	Text string `json:"text,omitempty"`

	// Tags are normalized interest tags attached to the item.
	Tags []string `json:"tags,omitempty"`

	// CommunityID is set when the item was posted into a community.
	CommunityID *string `json:"community_id,omitempty"`

	// Promoted marks product listings eligible for the product pool.
	Promoted bool `json:"promoted"`

	// Likes counts engagement events, used for trending ranking.
	Likes int64 `json:"likes"`

	// CreatedAt is the original creation time of the content.
	CreatedAt time.Time `json:"created_at"`

	// UpdatedAt is the last time the stored item changed.
	UpdatedAt time.Time `json:"updated_at"`

	// DeletedAt is set on soft delete; deleted items never surface in lists.
	DeletedAt *time.Time `json:"deleted_at,omitempty"`
}

// Validate checks the fields ingestion must supply.
func (it Item) Validate() error {
	if it.ID == "" {
		return ErrMissingItemID
	}
	if it.AuthorID == "" {
		return ErrMissingAuthorID
	}
	if it.CreatedAt.IsZero() {
		return ErrMissingCreatedAt
	}
	return nil
}

// Candidate converts the item into a pool candidate for the given kind.
func (it Item) Candidate(kind pool.Kind) pool.Candidate {
	c := pool.Candidate{
		ID:        it.ID,
		Pool:      kind,
		AuthorID:  it.AuthorID,
		CreatedAt: it.CreatedAt,
	}
	if it.Tags != nil {
		c.Tags = make([]string, len(it.Tags))
		copy(c.Tags, it.Tags)
	}
	return c
}

// Clone returns a deep copy of the item.
func (it Item) Clone() Item {
	out := it
	if it.Tags != nil {
		out.Tags = make([]string, len(it.Tags))
		copy(out.Tags, it.Tags)
	}
	if it.CommunityID != nil {
		id := *it.CommunityID
		out.CommunityID = &id
	}
	if it.DeletedAt != nil {
		t := *it.DeletedAt
		out.DeletedAt = &t
	}
	return out
}

// Store persists content items and answers the per-pool list queries the
// candidate sources run. Every list returns items most recent first
// (created_at descending, id ascending on ties) and excludes soft-deleted
// items.
type Store interface {
	// Upsert inserts the item or replaces the stored version, clearing any
	// soft delete. The item must pass Validate.
	Upsert(ctx context.Context, item Item) error

	// Get returns the item by id, or ErrItemNotFound.
	Get(ctx context.Context, id string) (*Item, error)

	// Delete soft-deletes the item by id, or returns ErrItemNotFound.
	Delete(ctx context.Context, id string) error

	// AddLikes adjusts the item's like count by delta, clamping at zero.
	AddLikes(ctx context.Context, id string, delta int64) error

	// ListRecent returns up to limit most recent items.
	ListRecent(ctx context.Context, limit int) ([]Item, error)

	// ListByAuthors returns up to limit items authored by any of authors.
	ListByAuthors(ctx context.Context, authors []string, limit int) ([]Item, error)

	// ListByTags returns up to limit items sharing at least one tag.
	ListByTags(ctx context.Context, tags []string, limit int) ([]Item, error)

	// ListTrending returns up to limit items created at or after since,
	// ordered by likes descending before recency.
	ListTrending(ctx context.Context, since time.Time, limit int) ([]Item, error)

	// ListCommunities returns up to limit items posted into any of the
	// given communities.
	ListCommunities(ctx context.Context, communityIDs []string, limit int) ([]Item, error)

	// ListPromoted returns up to limit promoted items.
	ListPromoted(ctx context.Context, limit int) ([]Item, error)

	// PruneOlderThan permanently removes items created before cutoff and
	// returns how many were removed.
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// InMemoryStore implements Store with a mutex-guarded map. Intended for
// development and tests; the Postgres store is the production backend.
type InMemoryStore struct {
	mu    sync.RWMutex
	items map[string]Item
}

// NewInMemoryStore creates an empty in-memory content store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		items: make(map[string]Item),
	}
}

// Upsert inserts or replaces the item, clearing any soft delete.
func (s *InMemoryStore) Upsert(ctx context.Context, item Item) error {
	if err := item.Validate(); err != nil {
		return err
	}

	stored := item.Clone()
	stored.Tags = NormalizeTags(stored.Tags)
	stored.UpdatedAt = time.Now().UTC()
	stored.DeletedAt = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[stored.ID] = stored
	return nil
}

// Get returns a deep copy of the item by id.
func (s *InMemoryStore) Get(ctx context.Context, id string) (*Item, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	it, ok := s.items[id]
	if !ok || it.DeletedAt != nil {
		return nil, ErrItemNotFound
	}
	out := it.Clone()
	return &out, nil
}

// Delete soft-deletes the item by id.
func (s *InMemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok || it.DeletedAt != nil {
		return ErrItemNotFound
	}
	now := time.Now().UTC()
	it.DeletedAt = &now
	it.UpdatedAt = now
	s.items[id] = it
	return nil
}

// AddLikes adjusts the item's like count by delta, clamping at zero.
func (s *InMemoryStore) AddLikes(ctx context.Context, id string, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.items[id]
	if !ok || it.DeletedAt != nil {
		return ErrItemNotFound
	}
	it.Likes += delta
	if it.Likes < 0 {
		it.Likes = 0
	}
	it.UpdatedAt = time.Now().UTC()
	s.items[id] = it
	return nil
}

// ListRecent returns up to limit most recent items.
func (s *InMemoryStore) ListRecent(ctx context.Context, limit int) ([]Item, error) {
	s.mu.RLock()
	items := s.collect(nil)
	s.mu.RUnlock()

	sortItemsByCreatedDesc(items)
	return truncateItems(items, limit), nil
}

// ListByAuthors returns up to limit items authored by any of authors.
func (s *InMemoryStore) ListByAuthors(ctx context.Context, authors []string, limit int) ([]Item, error) {
	if len(authors) == 0 {
		return []Item{}, nil
	}
	wanted := make(map[string]struct{}, len(authors))
	for _, a := range authors {
		wanted[a] = struct{}{}
	}

	s.mu.RLock()
	items := s.collect(func(it Item) bool {
		_, ok := wanted[it.AuthorID]
		return ok
	})
	s.mu.RUnlock()

	sortItemsByCreatedDesc(items)
	return truncateItems(items, limit), nil
}

// ListByTags returns up to limit items sharing at least one tag.
func (s *InMemoryStore) ListByTags(ctx context.Context, tags []string, limit int) ([]Item, error) {
	normalized := NormalizeTags(tags)
	if len(normalized) == 0 {
		return []Item{}, nil
	}
	wanted := make(map[string]struct{}, len(normalized))
	for _, t := range normalized {
		wanted[t] = struct{}{}
	}

	s.mu.RLock()
	items := s.collect(func(it Item) bool {
		for _, t := range it.Tags {
			if _, ok := wanted[t]; ok {
				return true
			}
		}
		return false
	})
	s.mu.RUnlock()

	sortItemsByCreatedDesc(items)
	return truncateItems(items, limit), nil
}

// ListTrending returns up to limit items created at or after since, ordered
// by likes descending before recency.
func (s *InMemoryStore) ListTrending(ctx context.Context, since time.Time, limit int) ([]Item, error) {
	s.mu.RLock()
	items := s.collect(func(it Item) bool {
		return !it.CreatedAt.Before(since)
	})
	s.mu.RUnlock()

	sortItemsByLikesDesc(items)
	return truncateItems(items, limit), nil
}

// ListCommunities returns up to limit items posted into any of the given
// communities.
func (s *InMemoryStore) ListCommunities(ctx context.Context, communityIDs []string, limit int) ([]Item, error) {
	if len(communityIDs) == 0 {
		return []Item{}, nil
	}
	wanted := make(map[string]struct{}, len(communityIDs))
	for _, id := range communityIDs {
		wanted[id] = struct{}{}
	}

	s.mu.RLock()
	items := s.collect(func(it Item) bool {
		if it.CommunityID == nil {
			return false
		}
		_, ok := wanted[*it.CommunityID]
		return ok
	})
	s.mu.RUnlock()

	sortItemsByCreatedDesc(items)
	return truncateItems(items, limit), nil
}

// ListPromoted returns up to limit promoted items.
func (s *InMemoryStore) ListPromoted(ctx context.Context, limit int) ([]Item, error) {
	s.mu.RLock()
	items := s.collect(func(it Item) bool {
		return it.Promoted
	})
	s.mu.RUnlock()

	sortItemsByCreatedDesc(items)
	return truncateItems(items, limit), nil
}

// PruneOlderThan permanently removes items created before cutoff.
func (s *InMemoryStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, it := range s.items {
		if it.CreatedAt.Before(cutoff) {
			delete(s.items, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of stored items, including soft-deleted ones.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.items)
}

// collect returns deep copies of live items matching the filter.
// The caller must hold at least a read lock.
func (s *InMemoryStore) collect(filter func(Item) bool) []Item {
	items := make([]Item, 0, len(s.items))
	for _, it := range s.items {
		if it.DeletedAt != nil {
			continue
		}
		if filter != nil && !filter(it) {
			continue
		}
		items = append(items, it.Clone())
	}
	return items
}

// NormalizeTags lowercases, trims, and deduplicates tags, dropping empties
// and preserving first-seen order.
func NormalizeTags(tags []string) []string {
	if len(tags) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(tags))
	out := make([]string, 0, len(tags))
	for _, t := range tags {
		t = strings.ToLower(strings.TrimSpace(t))
		if t == "" {
			continue
		}
		if _, ok := seen[t]; ok {
			continue
		}
		seen[t] = struct{}{}
		out = append(out, t)
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// sortItemsByCreatedDesc sorts items by created_at descending, breaking
// ties by id ascending.
func sortItemsByCreatedDesc(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

// sortItemsByLikesDesc sorts items by likes descending, breaking ties by
// created_at descending then id ascending.
func sortItemsByLikesDesc(items []Item) {
	sort.Slice(items, func(i, j int) bool {
		if items[i].Likes != items[j].Likes {
			return items[i].Likes > items[j].Likes
		}
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.After(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

// truncateItems caps the slice at limit, treating negative or zero limits
// as empty.
func truncateItems(items []Item, limit int) []Item {
	if limit <= 0 {
		return []Item{}
	}
	if len(items) > limit {
		items = items[:limit]
	}
	return items
}
