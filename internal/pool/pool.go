// Package pool defines the content pools that feed composition draws from,
// the candidate items they supply, and the source contract each pool's
// backing store must satisfy.
package pool

import (
	"errors"
	"fmt"
	"slices"
	"time"
)

// Kind identifies one content pool. The set is closed: adding a pool means
// adding a constant here and an entry in allKinds, which fixes its position
// in the canonical ordering used for deterministic tie-breaks.
type Kind string

// Pool kind constants in canonical order.
const (
	// PersonalConnections holds content authored by the user's direct and
	// second-degree connections.
	PersonalConnections Kind = "personal_connections"

	// InterestBased holds content matched to the user's declared interest tags.
	InterestBased Kind = "interest_based"

	// Trending holds content with high recent engagement across the platform.
	Trending Kind = "trending"

	// Discovery holds content outside the user's usual graph and interests.
	Discovery Kind = "discovery"

	// Community holds content from communities the user belongs to.
	Community Kind = "community"

	// Product holds promoted product listings.
	Product Kind = "product"
)

// allKinds is the exhaustive list of valid pool kinds in canonical order.
// Slot allocation tie-breaks and per-pool iteration both follow this order.
var allKinds = []Kind{
	PersonalConnections,
	InterestBased,
	Trending,
	Discovery,
	Community,
	Product,
}

// Common errors for pool and candidate validation.
var (
	ErrUnknownKind      = errors.New("unknown pool kind")
	ErrMissingID        = errors.New("candidate is missing an id")
	ErrMissingCreatedAt = errors.New("candidate is missing a created_at timestamp")
)

// Kinds returns the pool kinds in canonical order. The returned slice is a
// copy and safe for the caller to modify.
func Kinds() []Kind {
	out := make([]Kind, len(allKinds))
	copy(out, allKinds)
	return out
}

// Valid reports whether k is a recognized pool kind.
func (k Kind) Valid() bool {
	return slices.Contains(allKinds, k)
}

// Index returns the position of k in the canonical ordering, or -1 for an
// unknown kind. Lower index wins deterministic tie-breaks.
func (k Kind) Index() int {
	return slices.Index(allKinds, k)
}

// ParseKind converts a string into a Kind, returning ErrUnknownKind for
// values outside the closed set.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if !k.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownKind, s)
	}
	return k, nil
}

// Candidate is one scorable content item supplied by a pool. Candidates are
// owned by their source; the engine reads them during a single composition
// call and never persists them.
type Candidate struct {
	// ID is the content identifier, unique within the candidate's pool.
	ID string `json:"id"`

	// Pool is the kind of pool this candidate was fetched from.
	Pool Kind `json:"pool"`

	// AuthorID identifies the content author, used for connection scoring.
	AuthorID string `json:"author_id"`

	// Tags are the interest tags attached to the content.
	Tags []string `json:"tags,omitempty"`

	// CreatedAt is the content creation time, used for recency scoring.
	CreatedAt time.Time `json:"created_at"`
}

// Validate checks the source contract for a single candidate: an item
// without an id or created_at is malformed and must be rejected at the
// source boundary rather than defaulted downstream.
func (c Candidate) Validate() error {
	if c.ID == "" {
		return ErrMissingID
	}
	if c.CreatedAt.IsZero() {
		return ErrMissingCreatedAt
	}
	if !c.Pool.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, c.Pool)
	}
	return nil
}

// Clone returns a deep copy of the candidate.
func (c Candidate) Clone() Candidate {
	out := c
	if c.Tags != nil {
		out.Tags = make([]string, len(c.Tags))
		copy(out.Tags, c.Tags)
	}
	return out
}
