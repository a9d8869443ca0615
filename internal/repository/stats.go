package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"journal-gamification/internal/model"
)

// StatsRepository handles the per-user gamification aggregate row.
type StatsRepository struct {
	pool *pgxpool.Pool
}

// NewStatsRepository creates a new StatsRepository instance.
func NewStatsRepository(pool *pgxpool.Pool) *StatsRepository {
	return &StatsRepository{pool: pool}
}

const statsColumns = `
	user_id, total_points, achievement_count, challenge_count,
	current_streak, longest_streak, last_activity_date, updated_at
`

func scanStats(row pgx.Row) (*model.UserGamificationStats, error) {
	var s model.UserGamificationStats
	err := row.Scan(
		&s.UserID,
		&s.TotalPoints,
		&s.AchievementCount,
		&s.ChallengeCount,
		&s.CurrentStreak,
		&s.LongestStreak,
		&s.LastActivityDate,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// GetOrCreate retrieves a user's stats row, creating the zero row lazily on
// first interaction.
func (r *StatsRepository) GetOrCreate(ctx context.Context, userID int64) (*model.UserGamificationStats, error) {
	query := `
		SELECT ` + statsColumns + `
		FROM user_gamification_stats
		WHERE user_id = $1
	`

	s, err := scanStats(r.pool.QueryRow(ctx, query, userID))
	if err == nil {
		return s, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to get stats: %w", err)
	}

	insert := `
		INSERT INTO user_gamification_stats (user_id, updated_at)
		VALUES ($1, NOW())
		ON CONFLICT (user_id) DO UPDATE SET updated_at = user_gamification_stats.updated_at
		RETURNING ` + statsColumns + `
	`

	s, err = scanStats(r.pool.QueryRow(ctx, insert, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to create stats: %w", err)
	}
	return s, nil
}

// TouchActivity records a journaling activity day and maintains the daily
// streak counters. Consecutive-day activity extends the streak; a gap
// resets it to one; repeated touches on the same day are no-ops.
func (r *StatsRepository) TouchActivity(ctx context.Context, userID int64) (*model.UserGamificationStats, error) {
	query := `
		INSERT INTO user_gamification_stats
			(user_id, current_streak, longest_streak, last_activity_date, updated_at)
		VALUES ($1, 1, 1, CURRENT_DATE, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			current_streak = CASE
				WHEN user_gamification_stats.last_activity_date = CURRENT_DATE
					THEN user_gamification_stats.current_streak
				WHEN user_gamification_stats.last_activity_date = CURRENT_DATE - 1
					THEN user_gamification_stats.current_streak + 1
				ELSE 1
			END,
			longest_streak = GREATEST(
				user_gamification_stats.longest_streak,
				CASE
					WHEN user_gamification_stats.last_activity_date = CURRENT_DATE
						THEN user_gamification_stats.current_streak
					WHEN user_gamification_stats.last_activity_date = CURRENT_DATE - 1
						THEN user_gamification_stats.current_streak + 1
					ELSE 1
				END
			),
			last_activity_date = CURRENT_DATE,
			updated_at = NOW()
		RETURNING ` + statsColumns + `
	`

	s, err := scanStats(r.pool.QueryRow(ctx, query, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to touch activity: %w", err)
	}
	return s, nil
}
