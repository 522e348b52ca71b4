// Package social tracks the relationship signals feed composition reads:
// declared interests, the connection graph, and community memberships.
package social

import (
	"context"
	"sort"
	"strings"
	"sync"
)

// Connection degrees reported by ConnectionDegree.
const (
	// DegreeNone means the users have no graph relationship.
	DegreeNone = 0
	// DegreeDirect means the users are directly connected. A user is
	// treated as directly connected to themselves.
	DegreeDirect = 1
	// DegreeSecond means the users share at least one direct connection.
	DegreeSecond = 2
)

// Graph answers the read queries composition and candidate sourcing run.
type Graph interface {
	// Interests returns the user's declared interest tags, normalized.
	Interests(ctx context.Context, userID string) ([]string, error)

	// Connections returns the ids of the user's direct connections.
	Connections(ctx context.Context, userID string) ([]string, error)

	// ConnectionDegree reports how userID relates to otherID: DegreeDirect,
	// DegreeSecond, or DegreeNone.
	ConnectionDegree(ctx context.Context, userID, otherID string) (int, error)

	// Communities returns the ids of communities the user belongs to.
	Communities(ctx context.Context, userID string) ([]string, error)
}

// Writer mutates the graph. The ingest pipeline is the main caller.
type Writer interface {
	// SetInterests replaces the user's declared interests.
	SetInterests(ctx context.Context, userID string, interests []string) error

	// AddConnection records an undirected connection between two users.
	AddConnection(ctx context.Context, userID, otherID string) error

	// RemoveConnection removes the connection between two users.
	RemoveConnection(ctx context.Context, userID, otherID string) error

	// JoinCommunity records a community membership.
	JoinCommunity(ctx context.Context, userID, communityID string) error

	// LeaveCommunity removes a community membership.
	LeaveCommunity(ctx context.Context, userID, communityID string) error
}

// MemoryGraph implements Graph and Writer with mutex-guarded maps. Intended
// for development and tests; the Postgres graph is the production backend.
type MemoryGraph struct {
	mu          sync.RWMutex
	interests   map[string][]string
	edges       map[string]map[string]struct{}
	memberships map[string]map[string]struct{}
}

// NewMemoryGraph creates an empty in-memory graph.
func NewMemoryGraph() *MemoryGraph {
	return &MemoryGraph{
		interests:   make(map[string][]string),
		edges:       make(map[string]map[string]struct{}),
		memberships: make(map[string]map[string]struct{}),
	}
}

// Interests returns the user's declared interest tags.
func (g *MemoryGraph) Interests(ctx context.Context, userID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	stored := g.interests[userID]
	out := make([]string, len(stored))
	copy(out, stored)
	return out, nil
}

// Connections returns the ids of the user's direct connections, sorted for
// deterministic output.
func (g *MemoryGraph) Connections(ctx context.Context, userID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return sortedKeys(g.edges[userID]), nil
}

// ConnectionDegree reports how userID relates to otherID.
func (g *MemoryGraph) ConnectionDegree(ctx context.Context, userID, otherID string) (int, error) {
	if userID == otherID {
		return DegreeDirect, nil
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	neighbors := g.edges[userID]
	if _, ok := neighbors[otherID]; ok {
		return DegreeDirect, nil
	}
	for n := range neighbors {
		if _, ok := g.edges[n][otherID]; ok {
			return DegreeSecond, nil
		}
	}
	return DegreeNone, nil
}

// Communities returns the ids of communities the user belongs to, sorted
// for deterministic output.
func (g *MemoryGraph) Communities(ctx context.Context, userID string) ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	return sortedKeys(g.memberships[userID]), nil
}

// SetInterests replaces the user's declared interests with normalized tags.
func (g *MemoryGraph) SetInterests(ctx context.Context, userID string, interests []string) error {
	normalized := normalizeInterests(interests)

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(normalized) == 0 {
		delete(g.interests, userID)
		return nil
	}
	g.interests[userID] = normalized
	return nil
}

// AddConnection records an undirected connection between two users.
// Self connections are ignored.
func (g *MemoryGraph) AddConnection(ctx context.Context, userID, otherID string) error {
	if userID == otherID || userID == "" || otherID == "" {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	g.addEdge(userID, otherID)
	g.addEdge(otherID, userID)
	return nil
}

// RemoveConnection removes the connection between two users.
func (g *MemoryGraph) RemoveConnection(ctx context.Context, userID, otherID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.edges[userID], otherID)
	delete(g.edges[otherID], userID)
	return nil
}

// JoinCommunity records a community membership.
func (g *MemoryGraph) JoinCommunity(ctx context.Context, userID, communityID string) error {
	if userID == "" || communityID == "" {
		return nil
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.memberships[userID] == nil {
		g.memberships[userID] = make(map[string]struct{})
	}
	g.memberships[userID][communityID] = struct{}{}
	return nil
}

// LeaveCommunity removes a community membership.
func (g *MemoryGraph) LeaveCommunity(ctx context.Context, userID, communityID string) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.memberships[userID], communityID)
	return nil
}

// addEdge inserts a directed edge. The caller must hold the write lock.
func (g *MemoryGraph) addEdge(from, to string) {
	if g.edges[from] == nil {
		g.edges[from] = make(map[string]struct{})
	}
	g.edges[from][to] = struct{}{}
}

// sortedKeys copies map keys into a sorted slice.
func sortedKeys(set map[string]struct{}) []string {
	out := make([]string, 0, len(set))
	for k := range set {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// normalizeInterests lowercases, trims, and deduplicates interest tags so
// they compare equal to normalized content tags.
func normalizeInterests(interests []string) []string {
	seen := make(map[string]struct{}, len(interests))
	out := make([]string, 0, len(interests))
	for _, tag := range interests {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, ok := seen[tag]; ok {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
