package composition

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/feedmixer/internal/pool"
	"github.com/onnwee/feedmixer/internal/tracing"
)

// PostgresStore implements Store on top of the composition_configs table.
// Weights are stored as a JSONB document keyed by pool kind.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a Postgres-backed composition store.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

// Load returns the stored config for a user, or ErrNotFound.
func (s *PostgresStore) Load(ctx context.Context, userID string) (cfg *Config, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "composition_configs", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT weights, updated_at FROM composition_configs WHERE user_id = $1`

	var raw []byte
	var updatedAt time.Time
	if err = s.db.QueryRowContext(ctx, query, userID).Scan(&raw, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			err = ErrNotFound
			return nil, err
		}
		return nil, fmt.Errorf("failed to load composition for %s: %w", userID, err)
	}

	var weights map[pool.Kind]float64
	if err = json.Unmarshal(raw, &weights); err != nil {
		return nil, fmt.Errorf("failed to decode stored weights for %s: %w", userID, err)
	}

	return &Config{
		UserID:    userID,
		Weights:   weights,
		UpdatedAt: updatedAt,
	}, nil
}

// Save validates the config and upserts it. The validation happens before
// any statement runs, so a rejected config never touches the row.
func (s *PostgresStore) Save(ctx context.Context, cfg Config) (err error) {
	if err = ValidateWeights(cfg.Weights); err != nil {
		return err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "composition_configs", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	raw, err := json.Marshal(cfg.Weights)
	if err != nil {
		return fmt.Errorf("failed to encode weights for %s: %w", cfg.UserID, err)
	}

	query := `
		INSERT INTO composition_configs (user_id, weights, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (user_id)
		DO UPDATE SET weights = EXCLUDED.weights, updated_at = NOW()`

	if _, err = s.db.ExecContext(ctx, query, cfg.UserID, raw); err != nil {
		return fmt.Errorf("failed to save composition for %s: %w", cfg.UserID, err)
	}

	s.logger.Debug("composition saved",
		slog.String("user_id", cfg.UserID),
		slog.String("fingerprint", cfg.Fingerprint()))
	return nil
}

// Reset restores the baseline distribution for a user and returns it.
func (s *PostgresStore) Reset(ctx context.Context, userID string) (*Config, error) {
	cfg := Default(userID)
	if err := s.Save(ctx, cfg); err != nil {
		return nil, err
	}
	cfg.UpdatedAt = time.Now().UTC()
	return &cfg, nil
}
