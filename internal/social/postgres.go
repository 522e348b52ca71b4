package social

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"

	"github.com/onnwee/feedmixer/internal/tracing"
)

// PostgresGraph implements Graph and Writer on the user_interests,
// user_connections, and community_members tables. Connections are stored
// as two directed rows per edge so lookups never scan both directions.
type PostgresGraph struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewPostgresGraph creates a Postgres-backed social graph.
func NewPostgresGraph(db *sql.DB, logger *slog.Logger) *PostgresGraph {
	if logger == nil {
		logger = slog.Default()
	}
	return &PostgresGraph{
		db:     db,
		logger: logger,
	}
}

// Interests returns the user's declared interest tags.
func (g *PostgresGraph) Interests(ctx context.Context, userID string) (interests []string, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_interests", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT tag FROM user_interests WHERE user_id = $1 ORDER BY tag`
	return g.listStrings(ctx, query, userID)
}

// Connections returns the ids of the user's direct connections.
func (g *PostgresGraph) Connections(ctx context.Context, userID string) (connections []string, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_connections", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT other_id FROM user_connections WHERE user_id = $1 ORDER BY other_id`
	return g.listStrings(ctx, query, userID)
}

// ConnectionDegree reports how userID relates to otherID, resolving direct
// and second-degree relationships in one round trip.
func (g *PostgresGraph) ConnectionDegree(ctx context.Context, userID, otherID string) (degree int, err error) {
	if userID == otherID {
		return DegreeDirect, nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "user_connections", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `
		SELECT
			EXISTS(
				SELECT 1 FROM user_connections
				WHERE user_id = $1 AND other_id = $2
			) AS direct,
			EXISTS(
				SELECT 1
				FROM user_connections a
				JOIN user_connections b ON a.other_id = b.user_id
				WHERE a.user_id = $1 AND b.other_id = $2
			) AS second`

	var direct, second bool
	if err = g.db.QueryRowContext(ctx, query, userID, otherID).Scan(&direct, &second); err != nil {
		return DegreeNone, fmt.Errorf("failed to resolve connection degree: %w", err)
	}
	switch {
	case direct:
		return DegreeDirect, nil
	case second:
		return DegreeSecond, nil
	default:
		return DegreeNone, nil
	}
}

// Communities returns the ids of communities the user belongs to.
func (g *PostgresGraph) Communities(ctx context.Context, userID string) (communities []string, err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "community_members", tracing.DBOperationQuery)
	defer func() { endSpan(err) }()

	query := `SELECT community_id FROM community_members WHERE user_id = $1 ORDER BY community_id`
	return g.listStrings(ctx, query, userID)
}

// SetInterests replaces the user's declared interests in one transaction.
func (g *PostgresGraph) SetInterests(ctx context.Context, userID string, interests []string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_interests", tracing.DBOperationUpdate)
	defer func() { endSpan(err) }()

	tx, err := g.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin interests transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			g.logger.Warn("failed to rollback interests transaction",
				slog.String("error", rbErr.Error()))
		}
	}()

	if _, err = tx.ExecContext(ctx, `DELETE FROM user_interests WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("failed to clear interests for %s: %w", userID, err)
	}

	insert := `INSERT INTO user_interests (user_id, tag) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	for _, tag := range normalizeInterests(interests) {
		if _, err = tx.ExecContext(ctx, insert, userID, tag); err != nil {
			return fmt.Errorf("failed to store interest %q for %s: %w", tag, userID, err)
		}
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit interests for %s: %w", userID, err)
	}
	return nil
}

// AddConnection records an undirected connection as two directed rows.
// Self connections are ignored.
func (g *PostgresGraph) AddConnection(ctx context.Context, userID, otherID string) (err error) {
	if userID == otherID || userID == "" || otherID == "" {
		return nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "user_connections", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	tx, err := g.db.BeginTx(ctx, &sql.TxOptions{Isolation: sql.LevelReadCommitted})
	if err != nil {
		return fmt.Errorf("failed to begin connection transaction: %w", err)
	}
	defer func() {
		if rbErr := tx.Rollback(); rbErr != nil && rbErr != sql.ErrTxDone {
			g.logger.Warn("failed to rollback connection transaction",
				slog.String("error", rbErr.Error()))
		}
	}()

	insert := `INSERT INTO user_connections (user_id, other_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err = tx.ExecContext(ctx, insert, userID, otherID); err != nil {
		return fmt.Errorf("failed to add connection %s -> %s: %w", userID, otherID, err)
	}
	if _, err = tx.ExecContext(ctx, insert, otherID, userID); err != nil {
		return fmt.Errorf("failed to add connection %s -> %s: %w", otherID, userID, err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit connection: %w", err)
	}
	return nil
}

// RemoveConnection removes both directed rows for the edge.
func (g *PostgresGraph) RemoveConnection(ctx context.Context, userID, otherID string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "user_connections", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	query := `
		DELETE FROM user_connections
		WHERE (user_id = $1 AND other_id = $2) OR (user_id = $2 AND other_id = $1)`

	if _, err = g.db.ExecContext(ctx, query, userID, otherID); err != nil {
		return fmt.Errorf("failed to remove connection: %w", err)
	}
	return nil
}

// JoinCommunity records a community membership.
func (g *PostgresGraph) JoinCommunity(ctx context.Context, userID, communityID string) (err error) {
	if userID == "" || communityID == "" {
		return nil
	}

	ctx, endSpan := tracing.StartDBSpan(ctx, "community_members", tracing.DBOperationInsert)
	defer func() { endSpan(err) }()

	query := `INSERT INTO community_members (user_id, community_id) VALUES ($1, $2) ON CONFLICT DO NOTHING`
	if _, err = g.db.ExecContext(ctx, query, userID, communityID); err != nil {
		return fmt.Errorf("failed to join community %s for %s: %w", communityID, userID, err)
	}
	return nil
}

// LeaveCommunity removes a community membership.
func (g *PostgresGraph) LeaveCommunity(ctx context.Context, userID, communityID string) (err error) {
	ctx, endSpan := tracing.StartDBSpan(ctx, "community_members", tracing.DBOperationDelete)
	defer func() { endSpan(err) }()

	query := `DELETE FROM community_members WHERE user_id = $1 AND community_id = $2`
	if _, err = g.db.ExecContext(ctx, query, userID, communityID); err != nil {
		return fmt.Errorf("failed to leave community %s for %s: %w", communityID, userID, err)
	}
	return nil
}

// listStrings runs a single-column query and collects the values.
func (g *PostgresGraph) listStrings(ctx context.Context, query string, args ...any) ([]string, error) {
	rows, err := g.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query social graph: %w", err)
	}
	defer rows.Close()

	out := []string{}
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, fmt.Errorf("failed to scan social graph row: %w", err)
		}
		out = append(out, v)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read social graph rows: %w", err)
	}
	return out, nil
}
