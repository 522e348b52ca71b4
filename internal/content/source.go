package content

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/onnwee/feedmixer/internal/pool"
)

// DefaultTrendingWindow bounds how far back the trending pool looks.
const DefaultTrendingWindow = 48 * time.Hour

// GraphSource provides the relationship signals pool queries depend on.
// The social graph satisfies it.
type GraphSource interface {
	// Interests returns the user's declared interest tags.
	Interests(ctx context.Context, userID string) ([]string, error)

	// Connections returns the ids of the user's direct connections.
	Connections(ctx context.Context, userID string) ([]string, error)

	// Communities returns the ids of communities the user belongs to.
	Communities(ctx context.Context, userID string) ([]string, error)
}

// SourceConfig configures a StoreSource.
type SourceConfig struct {
	// Store holds the candidate content items. Required.
	Store Store

	// Graph resolves per-user relationship signals. Required.
	Graph GraphSource

	// TrendingWindow bounds the trending pool's lookback. Zero means
	// DefaultTrendingWindow.
	TrendingWindow time.Duration
}

// StoreSource serves every content pool from one backing store, resolving
// the per-user inputs (connections, interests, communities) through the
// social graph. It satisfies the candidate source contract for all pool
// kinds, so one instance registers for the whole registry.
type StoreSource struct {
	store          Store
	graph          GraphSource
	trendingWindow time.Duration

	timeNow func() time.Time
}

// NewStoreSource creates a candidate source backed by a content store.
func NewStoreSource(cfg SourceConfig) (*StoreSource, error) {
	switch {
	case cfg.Store == nil:
		return nil, errors.New("content store is required")
	case cfg.Graph == nil:
		return nil, errors.New("social graph is required")
	}
	if cfg.TrendingWindow <= 0 {
		cfg.TrendingWindow = DefaultTrendingWindow
	}

	return &StoreSource{
		store:          cfg.Store,
		graph:          cfg.Graph,
		trendingWindow: cfg.TrendingWindow,
		timeNow:        time.Now,
	}, nil
}

// Fetch returns up to limit candidates from the given pool for the user,
// most recent first. Pools whose per-user inputs are empty (no connections,
// no interests, no communities) return an empty slice rather than an error.
func (s *StoreSource) Fetch(ctx context.Context, userID string, kind pool.Kind, limit int) ([]pool.Candidate, error) {
	if limit <= 0 {
		return []pool.Candidate{}, nil
	}

	var (
		items []Item
		err   error
	)
	switch kind {
	case pool.PersonalConnections:
		var authors []string
		if authors, err = s.graph.Connections(ctx, userID); err == nil {
			items, err = s.store.ListByAuthors(ctx, authors, limit)
		}
	case pool.InterestBased:
		var tags []string
		if tags, err = s.graph.Interests(ctx, userID); err == nil {
			items, err = s.store.ListByTags(ctx, tags, limit)
		}
	case pool.Trending:
		since := s.timeNow().Add(-s.trendingWindow)
		items, err = s.store.ListTrending(ctx, since, limit)
	case pool.Discovery:
		items, err = s.store.ListRecent(ctx, limit)
	case pool.Community:
		var communities []string
		if communities, err = s.graph.Communities(ctx, userID); err == nil {
			items, err = s.store.ListCommunities(ctx, communities, limit)
		}
	case pool.Product:
		items, err = s.store.ListPromoted(ctx, limit)
	default:
		return nil, fmt.Errorf("%w: %q", pool.ErrUnknownKind, kind)
	}
	if err != nil {
		return nil, err
	}

	candidates := make([]pool.Candidate, 0, len(items))
	for _, it := range items {
		// The discovery pool surfaces content from outside the user's
		// graph, which at minimum excludes their own posts.
		if kind == pool.Discovery && it.AuthorID == userID {
			continue
		}
		candidates = append(candidates, it.Candidate(kind))
	}
	return candidates, nil
}

// RegisterAll binds this source to every pool kind in the registry.
func (s *StoreSource) RegisterAll(reg *pool.Registry) error {
	for _, kind := range pool.Kinds() {
		if err := reg.Register(kind, s); err != nil {
			return err
		}
	}
	return nil
}
