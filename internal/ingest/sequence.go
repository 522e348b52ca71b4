package ingest

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/onnwee/feedmixer/internal/tracing"
)

// SequenceTracker manages the last processed firehose position (cursor)
// for resume functionality. The cursor is the Seq value of the newest
// applied envelope.
type SequenceTracker interface {
	// GetLastSequence retrieves the last successfully processed sequence
	// number. Returns 0 if no sequence has been recorded yet.
	GetLastSequence(ctx context.Context) (int64, error)

	// UpdateSequence updates the last processed sequence number.
	// Updates are monotonic: a sequence below the stored cursor is
	// silently skipped.
	UpdateSequence(ctx context.Context, sequence int64) error
}

// PostgresSequenceTracker implements SequenceTracker using the single-row
// ingest_state table.
type PostgresSequenceTracker struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresSequenceTracker creates a new PostgresSequenceTracker.
func NewPostgresSequenceTracker(db *sql.DB, logger *slog.Logger) *PostgresSequenceTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresSequenceTracker{
		db:     db,
		logger: logger,
	}
}

// GetLastSequence retrieves the last processed cursor from the database.
func (t *PostgresSequenceTracker) GetLastSequence(ctx context.Context) (cursor int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ingest_state", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	err = t.db.QueryRowContext(ctx, `SELECT cursor FROM ingest_state WHERE id = 1`).Scan(&cursor)
	if err != nil {
		if err == sql.ErrNoRows {
			// No state exists yet
			return 0, nil
		}
		return 0, fmt.Errorf("failed to get last sequence: %w", err)
	}
	return cursor, nil
}

// UpdateSequence advances the cursor in the database. GREATEST keeps the
// update monotonic under concurrent writers in a single round trip.
func (t *PostgresSequenceTracker) UpdateSequence(ctx context.Context, sequence int64) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ingest_state", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	query := `
		INSERT INTO ingest_state (id, cursor, last_updated)
		VALUES (1, $1, NOW())
		ON CONFLICT (id) DO UPDATE
		SET cursor = GREATEST(ingest_state.cursor, EXCLUDED.cursor), last_updated = NOW()
	`
	if _, err = t.db.ExecContext(ctx, query, sequence); err != nil {
		return fmt.Errorf("failed to update sequence: %w", err)
	}

	t.logger.Debug("advanced sequence cursor", slog.Int64("cursor", sequence))
	return nil
}

// InMemorySequenceTracker implements SequenceTracker using in-memory
// storage. This is useful for testing and development.
type InMemorySequenceTracker struct {
	mu       sync.RWMutex
	sequence int64
	logger   *slog.Logger
}

// NewInMemorySequenceTracker creates a new InMemorySequenceTracker.
func NewInMemorySequenceTracker(logger *slog.Logger) *InMemorySequenceTracker {
	if logger == nil {
		logger = slog.Default()
	}
	return &InMemorySequenceTracker{
		logger: logger,
	}
}

// GetLastSequence retrieves the last processed sequence from memory.
func (t *InMemorySequenceTracker) GetLastSequence(ctx context.Context) (int64, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.sequence, nil
}

// UpdateSequence updates the sequence in memory, keeping it monotonic.
func (t *InMemorySequenceTracker) UpdateSequence(ctx context.Context, sequence int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if sequence > t.sequence {
		t.sequence = sequence
		t.logger.Debug("advanced sequence cursor", slog.Int64("cursor", sequence))
	}

	return nil
}
