package idempotency

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/onnwee/feedmixer/internal/tracing"
)

// PostgresRepository implements Repository on top of the
// ingest_idempotency table.
type PostgresRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresRepository creates a Postgres-backed applied-event repository.
func NewPostgresRepository(db *sql.DB, logger *slog.Logger) *PostgresRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresRepository{
		db:     db,
		logger: logger,
	}
}

// Get retrieves an applied-event record by its key.
func (r *PostgresRepository) Get(ctx context.Context, key string) (record *AppliedEvent, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ingest_idempotency", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT key, kind, operation, seq, created_at FROM ingest_idempotency WHERE key = $1`

	var out AppliedEvent
	err = r.db.QueryRowContext(ctx, query, key).Scan(
		&out.Key, &out.Kind, &out.Operation, &out.Seq, &out.CreatedAt,
	)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrKeyNotFound
		}
		return nil, fmt.Errorf("failed to get applied-event key: %w", err)
	}
	return &out, nil
}

// Store saves a new applied-event record. An existing key is left
// untouched and reported as ErrKeyExists.
func (r *PostgresRepository) Store(ctx context.Context, record *AppliedEvent) (err error) {
	if err = ValidateKey(record.Key); err != nil {
		return err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "ingest_idempotency", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	createdAt := record.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}

	query := `
		INSERT INTO ingest_idempotency (key, kind, operation, seq, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (key) DO NOTHING
	`

	result, err := r.db.ExecContext(ctx, query,
		record.Key, record.Kind, record.Operation, record.Seq, createdAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store applied-event key: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read store result: %w", err)
	}
	if affected == 0 {
		return ErrKeyExists
	}
	return nil
}

// DeleteOlderThan removes applied-event records older than the given duration.
func (r *PostgresRepository) DeleteOlderThan(ctx context.Context, olderThan time.Duration) (deleted int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "ingest_idempotency", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	cutoff := time.Now().Add(-olderThan)

	result, err := r.db.ExecContext(ctx, `DELETE FROM ingest_idempotency WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete old applied-event keys: %w", err)
	}

	deleted, err = result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read delete result: %w", err)
	}
	return deleted, nil
}
