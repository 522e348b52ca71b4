package composition

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotFound is returned when a user has no stored configuration.
var ErrNotFound = errors.New("composition config not found")

// Store persists per-user compositions. Save must be all-or-nothing: a
// rejected configuration leaves the stored one untouched.
type Store interface {
	// Load returns the stored config for a user, or ErrNotFound.
	Load(ctx context.Context, userID string) (*Config, error)

	// Save validates and persists the config, replacing any previous one.
	Save(ctx context.Context, cfg Config) error

	// Reset restores the baseline distribution for a user and returns it.
	Reset(ctx context.Context, userID string) (*Config, error)
}

// InMemoryStore implements Store with a mutex-guarded map. Intended for
// development and tests; the Postgres store is the production backend.
type InMemoryStore struct {
	mu      sync.RWMutex
	configs map[string]Config
}

// NewInMemoryStore creates an empty in-memory composition store.
func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{
		configs: make(map[string]Config),
	}
}

// Load returns a deep copy of the stored config for a user.
func (s *InMemoryStore) Load(ctx context.Context, userID string) (*Config, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cfg, ok := s.configs[userID]
	if !ok {
		return nil, ErrNotFound
	}
	out := cfg.Clone()
	return &out, nil
}

// Save validates the config and stores a deep copy of it. Validation
// failures leave any previously stored config untouched.
func (s *InMemoryStore) Save(ctx context.Context, cfg Config) error {
	if err := ValidateWeights(cfg.Weights); err != nil {
		return err
	}

	stored := cfg.Clone()
	stored.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.configs[cfg.UserID] = stored
	return nil
}

// Reset replaces the user's config with the baseline distribution.
func (s *InMemoryStore) Reset(ctx context.Context, userID string) (*Config, error) {
	cfg := Default(userID)
	cfg.UpdatedAt = time.Now().UTC()

	s.mu.Lock()
	s.configs[userID] = cfg.Clone()
	s.mu.Unlock()

	return &cfg, nil
}

// Len returns the number of stored configs.
func (s *InMemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.configs)
}
