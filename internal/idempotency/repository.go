package idempotency

import (
	"context"
	"sync"
	"time"
)

// InMemoryRepository implements Repository with in-memory storage.
type InMemoryRepository struct {
	mu   sync.RWMutex
	keys map[string]*AppliedEvent
}

// NewInMemoryRepository creates a new in-memory applied-event repository.
func NewInMemoryRepository() *InMemoryRepository {
	return &InMemoryRepository{
		keys: make(map[string]*AppliedEvent),
	}
}

// Get retrieves an applied-event record by its key.
// Returns ErrKeyNotFound if the key doesn't exist.
func (r *InMemoryRepository) Get(ctx context.Context, key string) (*AppliedEvent, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	record, ok := r.keys[key]
	if !ok {
		return nil, ErrKeyNotFound
	}

	// Return a copy to prevent external mutation
	out := *record
	return &out, nil
}

// Store saves a new applied-event record.
// Returns ErrKeyExists if the key already exists.
func (r *InMemoryRepository) Store(ctx context.Context, record *AppliedEvent) error {
	if err := ValidateKey(record.Key); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.keys[record.Key]; exists {
		return ErrKeyExists
	}

	stored := *record
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now()
	}
	r.keys[record.Key] = &stored

	return nil
}

// DeleteOlderThan removes applied-event records older than the given duration.
// Returns the number of records deleted.
func (r *InMemoryRepository) DeleteOlderThan(ctx context.Context, olderThan time.Duration) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	deleted := int64(0)

	for key, record := range r.keys {
		if record.CreatedAt.Before(cutoff) {
			delete(r.keys, key)
			deleted++
		}
	}

	return deleted, nil
}

// Len returns the number of stored records, for tests.
func (r *InMemoryRepository) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.keys)
}
