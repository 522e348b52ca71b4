package content

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/lib/pq"

	"github.com/onnwee/feedmixer/internal/tracing"
)

// PostgresStore implements Store on top of the content_items table. Tags
// are stored as a text[] column so tag queries can use array overlap.
type PostgresStore struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresStore creates a Postgres-backed content store.
func NewPostgresStore(db *sql.DB, logger *slog.Logger) *PostgresStore {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresStore{
		db:     db,
		logger: logger,
	}
}

const itemColumns = `id, author_id, text, tags, community_id, promoted, likes, created_at, updated_at`

// Upsert inserts or replaces the item, clearing any soft delete.
func (s *PostgresStore) Upsert(ctx context.Context, item Item) (err error) {
	if err = item.Validate(); err != nil {
		return err
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "content_items", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	query := `
		INSERT INTO content_items (id, author_id, text, tags, community_id, promoted, likes, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			author_id    = EXCLUDED.author_id,
			text         = EXCLUDED.text,
			tags         = EXCLUDED.tags,
			community_id = EXCLUDED.community_id,
			promoted     = EXCLUDED.promoted,
			likes        = EXCLUDED.likes,
			created_at   = EXCLUDED.created_at,
			updated_at   = NOW(),
			deleted_at   = NULL`

	_, err = s.db.ExecContext(ctx, query,
		item.ID,
		item.AuthorID,
		item.Text,
		pq.Array(NormalizeTags(item.Tags)),
		item.CommunityID,
		item.Promoted,
		item.Likes,
		item.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert content item %s: %w", item.ID, err)
	}
	return nil
}

// Get returns the item by id, or ErrItemNotFound.
func (s *PostgresStore) Get(ctx context.Context, id string) (item *Item, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_items", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT ` + itemColumns + ` FROM content_items WHERE id = $1 AND deleted_at IS NULL`

	item = &Item{}
	err = scanItem(s.db.QueryRowContext(ctx, query, id), item)
	if err == sql.ErrNoRows {
		err = ErrItemNotFound
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get content item %s: %w", id, err)
	}
	return item, nil
}

// Delete soft-deletes the item by id.
func (s *PostgresStore) Delete(ctx context.Context, id string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_items", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	query := `UPDATE content_items SET deleted_at = NOW(), updated_at = NOW() WHERE id = $1 AND deleted_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, id)
	if err != nil {
		return fmt.Errorf("failed to delete content item %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read delete result for %s: %w", id, err)
	}
	if affected == 0 {
		err = ErrItemNotFound
		return err
	}
	return nil
}

// AddLikes adjusts the item's like count by delta, clamping at zero.
func (s *PostgresStore) AddLikes(ctx context.Context, id string, delta int64) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_items", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	query := `
		UPDATE content_items
		SET likes = GREATEST(likes + $2, 0), updated_at = NOW()
		WHERE id = $1 AND deleted_at IS NULL`

	res, err := s.db.ExecContext(ctx, query, id, delta)
	if err != nil {
		return fmt.Errorf("failed to adjust likes for %s: %w", id, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read likes result for %s: %w", id, err)
	}
	if affected == 0 {
		err = ErrItemNotFound
		return err
	}
	return nil
}

// ListRecent returns up to limit most recent items.
func (s *PostgresStore) ListRecent(ctx context.Context, limit int) ([]Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM content_items
		WHERE deleted_at IS NULL
		ORDER BY created_at DESC, id ASC
		LIMIT $1`

	return s.listItems(ctx, query, limit)
}

// ListByAuthors returns up to limit items authored by any of authors.
func (s *PostgresStore) ListByAuthors(ctx context.Context, authors []string, limit int) ([]Item, error) {
	if len(authors) == 0 || limit <= 0 {
		return []Item{}, nil
	}

	query := `
		SELECT ` + itemColumns + `
		FROM content_items
		WHERE deleted_at IS NULL AND author_id = ANY($1)
		ORDER BY created_at DESC, id ASC
		LIMIT $2`

	return s.listItems(ctx, query, pq.Array(authors), limit)
}

// ListByTags returns up to limit items sharing at least one tag.
func (s *PostgresStore) ListByTags(ctx context.Context, tags []string, limit int) ([]Item, error) {
	normalized := NormalizeTags(tags)
	if len(normalized) == 0 || limit <= 0 {
		return []Item{}, nil
	}

	query := `
		SELECT ` + itemColumns + `
		FROM content_items
		WHERE deleted_at IS NULL AND tags && $1
		ORDER BY created_at DESC, id ASC
		LIMIT $2`

	return s.listItems(ctx, query, pq.Array(normalized), limit)
}

// ListTrending returns up to limit items created at or after since, ordered
// by likes descending before recency.
func (s *PostgresStore) ListTrending(ctx context.Context, since time.Time, limit int) ([]Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM content_items
		WHERE deleted_at IS NULL AND created_at >= $1
		ORDER BY likes DESC, created_at DESC, id ASC
		LIMIT $2`

	return s.listItems(ctx, query, since, limit)
}

// ListCommunities returns up to limit items posted into any of the given
// communities.
func (s *PostgresStore) ListCommunities(ctx context.Context, communityIDs []string, limit int) ([]Item, error) {
	if len(communityIDs) == 0 || limit <= 0 {
		return []Item{}, nil
	}

	query := `
		SELECT ` + itemColumns + `
		FROM content_items
		WHERE deleted_at IS NULL AND community_id = ANY($1)
		ORDER BY created_at DESC, id ASC
		LIMIT $2`

	return s.listItems(ctx, query, pq.Array(communityIDs), limit)
}

// ListPromoted returns up to limit promoted items.
func (s *PostgresStore) ListPromoted(ctx context.Context, limit int) ([]Item, error) {
	query := `
		SELECT ` + itemColumns + `
		FROM content_items
		WHERE deleted_at IS NULL AND promoted
		ORDER BY created_at DESC, id ASC
		LIMIT $1`

	return s.listItems(ctx, query, limit)
}

// PruneOlderThan permanently removes items created before cutoff.
func (s *PostgresStore) PruneOlderThan(ctx context.Context, cutoff time.Time) (removed int64, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_items", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	query := `DELETE FROM content_items WHERE created_at < $1`

	res, err := s.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune content items: %w", err)
	}
	removed, err = res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read prune result: %w", err)
	}
	return removed, nil
}

// listItems runs a list query and scans the result rows.
func (s *PostgresStore) listItems(ctx context.Context, query string, args ...any) (items []Item, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "content_items", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list content items: %w", err)
	}
	defer rows.Close()

	items = []Item{}
	for rows.Next() {
		var it Item
		if err = scanItem(rows, &it); err != nil {
			return nil, fmt.Errorf("failed to scan content item: %w", err)
		}
		items = append(items, it)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read content items: %w", err)
	}
	return items, nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanItem.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanItem scans one content_items row into it.
func scanItem(row rowScanner, it *Item) error {
	return row.Scan(
		&it.ID,
		&it.AuthorID,
		&it.Text,
		pq.Array(&it.Tags),
		&it.CommunityID,
		&it.Promoted,
		&it.Likes,
		&it.CreatedAt,
		&it.UpdatedAt,
	)
}
