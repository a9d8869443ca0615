package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"journal-gamification/internal/model"
)

// Leaderboard repository errors.
var (
	ErrLeaderboardNotFound = errors.New("leaderboard not found")
)

// LeaderboardRepository handles leaderboard definitions and daily
// snapshots.
type LeaderboardRepository struct {
	pool *pgxpool.Pool
}

// NewLeaderboardRepository creates a new LeaderboardRepository instance.
func NewLeaderboardRepository(pool *pgxpool.Pool) *LeaderboardRepository {
	return &LeaderboardRepository{pool: pool}
}

const leaderboardColumns = `
	id, key, name, metric_key, period_type, min_participants, is_active, created_at
`

func scanLeaderboard(row pgx.Row) (*model.LeaderboardDefinition, error) {
	var d model.LeaderboardDefinition
	err := row.Scan(
		&d.ID,
		&d.Key,
		&d.Name,
		&d.MetricKey,
		&d.PeriodType,
		&d.MinParticipants,
		&d.IsActive,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// SeedDefinition inserts a leaderboard definition if its key is absent.
func (r *LeaderboardRepository) SeedDefinition(ctx context.Context, d *model.LeaderboardDefinition) (bool, error) {
	const query = `
		INSERT INTO leaderboard_definitions
			(key, name, metric_key, period_type, min_participants, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (key) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		d.Key, d.Name, d.MetricKey, d.PeriodType, d.MinParticipants, d.IsActive,
	)
	if err != nil {
		return false, fmt.Errorf("failed to seed leaderboard definition: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetActiveDefinitions retrieves all active leaderboard definitions.
func (r *LeaderboardRepository) GetActiveDefinitions(ctx context.Context) ([]model.LeaderboardDefinition, error) {
	query := `
		SELECT ` + leaderboardColumns + `
		FROM leaderboard_definitions
		WHERE is_active = TRUE
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard definitions: %w", err)
	}
	defer rows.Close()

	var defs []model.LeaderboardDefinition
	for rows.Next() {
		d, err := scanLeaderboard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan leaderboard definition: %w", err)
		}
		defs = append(defs, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating leaderboard definitions: %w", err)
	}

	return defs, nil
}

// GetDefinitionByKey retrieves one leaderboard definition by key.
// Returns ErrLeaderboardNotFound if it does not exist.
func (r *LeaderboardRepository) GetDefinitionByKey(ctx context.Context, key string) (*model.LeaderboardDefinition, error) {
	query := `
		SELECT ` + leaderboardColumns + `
		FROM leaderboard_definitions
		WHERE key = $1
	`

	d, err := scanLeaderboard(r.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrLeaderboardNotFound
		}
		return nil, fmt.Errorf("failed to get leaderboard definition: %w", err)
	}
	return d, nil
}

// ReplaceSnapshot atomically replaces the entry set for one (leaderboard,
// day). Delete and reinsert run in a single transaction so a reader either
// sees the full previous snapshot or the full new one, never a partial
// ranking.
func (r *LeaderboardRepository) ReplaceSnapshot(ctx context.Context, leaderboardID int64, day time.Time, entries []model.LeaderboardEntry) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin snapshot transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const del = `
		DELETE FROM leaderboard_entries
		WHERE leaderboard_id = $1 AND snapshot_date = $2
	`
	if _, err := tx.Exec(ctx, del, leaderboardID, day); err != nil {
		return fmt.Errorf("failed to clear snapshot: %w", err)
	}

	const ins = `
		INSERT INTO leaderboard_entries
			(leaderboard_id, snapshot_date, user_id, pseudonym, score, rank, metadata, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW())
	`
	for _, e := range entries {
		_, err := tx.Exec(ctx, ins,
			leaderboardID, day, e.UserID, e.Pseudonym, e.Score, e.Rank, e.Metadata,
		)
		if err != nil {
			return fmt.Errorf("failed to insert snapshot entry: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit snapshot: %w", err)
	}

	return nil
}

// GetSnapshot retrieves the entry set for one (leaderboard, day), best rank
// first.
func (r *LeaderboardRepository) GetSnapshot(ctx context.Context, leaderboardID int64, day time.Time) ([]model.LeaderboardEntry, error) {
	const query = `
		SELECT id, leaderboard_id, snapshot_date, user_id, pseudonym,
		       score, rank, metadata, created_at
		FROM leaderboard_entries
		WHERE leaderboard_id = $1 AND snapshot_date = $2
		ORDER BY rank ASC, pseudonym ASC
	`

	rows, err := r.pool.Query(ctx, query, leaderboardID, day)
	if err != nil {
		return nil, fmt.Errorf("failed to get snapshot: %w", err)
	}
	defer rows.Close()

	var entries []model.LeaderboardEntry
	for rows.Next() {
		var e model.LeaderboardEntry
		err := rows.Scan(
			&e.ID,
			&e.LeaderboardID,
			&e.SnapshotDate,
			&e.UserID,
			&e.Pseudonym,
			&e.Score,
			&e.Rank,
			&e.Metadata,
			&e.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot entry: %w", err)
		}
		entries = append(entries, e)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating snapshot: %w", err)
	}

	return entries, nil
}

// GetUserRank retrieves one user's entry in a (leaderboard, day) snapshot.
// Returns nil when the user is not in the snapshot.
func (r *LeaderboardRepository) GetUserRank(ctx context.Context, leaderboardID int64, day time.Time, userID int64) (*model.LeaderboardEntry, error) {
	const query = `
		SELECT id, leaderboard_id, snapshot_date, user_id, pseudonym,
		       score, rank, metadata, created_at
		FROM leaderboard_entries
		WHERE leaderboard_id = $1 AND snapshot_date = $2 AND user_id = $3
	`

	var e model.LeaderboardEntry
	err := r.pool.QueryRow(ctx, query, leaderboardID, day, userID).Scan(
		&e.ID,
		&e.LeaderboardID,
		&e.SnapshotDate,
		&e.UserID,
		&e.Pseudonym,
		&e.Score,
		&e.Rank,
		&e.Metadata,
		&e.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get user rank: %w", err)
	}
	return &e, nil
}
