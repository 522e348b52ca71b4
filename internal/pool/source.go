package pool

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// SourceErrorKind classifies candidate source failures. All of them are
// recovered locally during composition: the affected pool contributes
// nothing and the request proceeds.
type SourceErrorKind string

const (
	// SourceTimeout means the pool's fetch did not complete within its budget.
	SourceTimeout SourceErrorKind = "timeout"

	// SourceUnavailable means the pool's backing store could not be reached.
	SourceUnavailable SourceErrorKind = "unavailable"

	// SourceMalformedItem means the source returned an item violating the
	// candidate contract (missing id or created_at).
	SourceMalformedItem SourceErrorKind = "malformed_item"
)

// SourceError wraps a candidate source failure with the pool it came from
// and the failure classification.
type SourceError struct {
	Pool Kind
	Kind SourceErrorKind
	Err  error
}

// Error implements the error interface.
func (e *SourceError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("candidate source %s: %s", e.Pool, e.Kind)
	}
	return fmt.Sprintf("candidate source %s: %s: %v", e.Pool, e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *SourceError) Unwrap() error {
	return e.Err
}

// NewSourceError builds a SourceError for the given pool and classification.
func NewSourceError(pool Kind, kind SourceErrorKind, err error) *SourceError {
	return &SourceError{Pool: pool, Kind: kind, Err: err}
}

// ClassifySourceError maps an error returned by a Source into a SourceError,
// inspecting context errors to distinguish timeouts from outages. A nil
// error returns nil.
func ClassifySourceError(pool Kind, err error) *SourceError {
	if err == nil {
		return nil
	}
	var se *SourceError
	if errors.As(err, &se) {
		return se
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return NewSourceError(pool, SourceTimeout, err)
	}
	if errors.Is(err, ErrMissingID) || errors.Is(err, ErrMissingCreatedAt) {
		return NewSourceError(pool, SourceMalformedItem, err)
	}
	return NewSourceError(pool, SourceUnavailable, err)
}

// Source supplies candidates for one or more pools. Implementations must
// return items already filtered for visibility and eligibility; the engine
// performs no authorization filtering. Items missing id or created_at are a
// contract violation and are rejected at this boundary.
type Source interface {
	// Fetch returns up to limit candidates from the given pool for the user,
	// most recent first. A limit of zero returns an empty slice.
	Fetch(ctx context.Context, userID string, kind Kind, limit int) ([]Candidate, error)
}

// Registry maps each pool kind to the Source that backs it. Adding a pool
// means registering a source for the new kind; lookups for unregistered
// kinds fail rather than falling through to reflection or defaults.
type Registry struct {
	mu      sync.RWMutex
	sources map[Kind]Source
}

// ErrNoSource is returned when a pool kind has no registered source.
var ErrNoSource = errors.New("no source registered for pool")

// NewRegistry creates an empty source registry.
func NewRegistry() *Registry {
	return &Registry{
		sources: make(map[Kind]Source),
	}
}

// Register binds a source to a pool kind, replacing any previous binding.
// Registering an unknown kind is an error.
func (r *Registry) Register(kind Kind, src Source) error {
	if !kind.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownKind, kind)
	}
	if src == nil {
		return fmt.Errorf("nil source for pool %q", kind)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sources[kind] = src
	return nil
}

// Lookup returns the source registered for the given kind.
func (r *Registry) Lookup(kind Kind) (Source, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	src, ok := r.sources[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoSource, kind)
	}
	return src, nil
}

// Fetch resolves the source for the kind and fetches from it, validating
// every returned candidate against the source contract. The whole batch is
// rejected on the first malformed item so a misbehaving source cannot leak
// partial garbage into scoring.
func (r *Registry) Fetch(ctx context.Context, userID string, kind Kind, limit int) ([]Candidate, error) {
	src, err := r.Lookup(kind)
	if err != nil {
		return nil, NewSourceError(kind, SourceUnavailable, err)
	}

	items, err := src.Fetch(ctx, userID, kind, limit)
	if err != nil {
		return nil, ClassifySourceError(kind, err)
	}

	for i := range items {
		if err := items[i].Validate(); err != nil {
			return nil, NewSourceError(kind, SourceMalformedItem, err)
		}
	}
	return items, nil
}

// Registered returns the kinds with a registered source, in canonical order.
func (r *Registry) Registered() []Kind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var kinds []Kind
	for _, k := range allKinds {
		if _, ok := r.sources[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}
