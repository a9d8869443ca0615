package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"journal-gamification/internal/model"
)

// Common errors for repository operations.
var (
	ErrDefinitionNotFound = errors.New("achievement definition not found")
)

// AchievementRepository handles achievement definitions and the award
// ledger.
type AchievementRepository struct {
	pool *pgxpool.Pool
}

// NewAchievementRepository creates a new AchievementRepository instance.
func NewAchievementRepository(pool *pgxpool.Pool) *AchievementRepository {
	return &AchievementRepository{pool: pool}
}

const definitionColumns = `
	id, key, name, description, category, difficulty, points, criteria,
	is_repeatable, max_progress, is_active, created_at
`

func scanDefinition(row pgx.Row) (*model.AchievementDefinition, error) {
	var d model.AchievementDefinition
	err := row.Scan(
		&d.ID,
		&d.Key,
		&d.Name,
		&d.Description,
		&d.Category,
		&d.Difficulty,
		&d.Points,
		&d.Criteria,
		&d.IsRepeatable,
		&d.MaxProgress,
		&d.IsActive,
		&d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &d, nil
}

// CreateDefinition inserts a new achievement definition. Definitions with a
// duplicate key are rejected by the unique constraint.
func (r *AchievementRepository) CreateDefinition(ctx context.Context, d *model.AchievementDefinition) (*model.AchievementDefinition, error) {
	query := `
		INSERT INTO achievement_definitions
			(key, name, description, category, difficulty, points, criteria,
			 is_repeatable, max_progress, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING ` + definitionColumns + `
	`

	created, err := scanDefinition(r.pool.QueryRow(ctx, query,
		d.Key, d.Name, d.Description, d.Category, d.Difficulty, d.Points,
		d.Criteria, d.IsRepeatable, d.MaxProgress, d.IsActive,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create achievement definition: %w", err)
	}
	return created, nil
}

// SeedDefinition inserts a definition if its key is not present yet.
// Returns true when a row was inserted.
func (r *AchievementRepository) SeedDefinition(ctx context.Context, d *model.AchievementDefinition) (bool, error) {
	const query = `
		INSERT INTO achievement_definitions
			(key, name, description, category, difficulty, points, criteria,
			 is_repeatable, max_progress, is_active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (key) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query,
		d.Key, d.Name, d.Description, d.Category, d.Difficulty, d.Points,
		d.Criteria, d.IsRepeatable, d.MaxProgress, d.IsActive,
	)
	if err != nil {
		return false, fmt.Errorf("failed to seed achievement definition: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetActiveDefinitions retrieves all active achievement definitions.
func (r *AchievementRepository) GetActiveDefinitions(ctx context.Context) ([]model.AchievementDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM achievement_definitions
		WHERE is_active = TRUE
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get achievement definitions: %w", err)
	}
	defer rows.Close()

	var defs []model.AchievementDefinition
	for rows.Next() {
		d, err := scanDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan achievement definition: %w", err)
		}
		defs = append(defs, *d)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating achievement definitions: %w", err)
	}

	return defs, nil
}

// GetDefinitionByKey retrieves one definition by its key.
// Returns ErrDefinitionNotFound if it does not exist.
func (r *AchievementRepository) GetDefinitionByKey(ctx context.Context, key string) (*model.AchievementDefinition, error) {
	query := `
		SELECT ` + definitionColumns + `
		FROM achievement_definitions
		WHERE key = $1
	`

	d, err := scanDefinition(r.pool.QueryRow(ctx, query, key))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDefinitionNotFound
		}
		return nil, fmt.Errorf("failed to get achievement definition: %w", err)
	}
	return d, nil
}

// GetLastEarned returns, per achievement the user has earned, the time of
// the most recent award (terminal rows only; in-progress rows do not count).
func (r *AchievementRepository) GetLastEarned(ctx context.Context, userID int64) (map[int64]time.Time, error) {
	const query = `
		SELECT achievement_id, earned_at
		FROM user_achievements
		WHERE user_id = $1 AND earned_at IS NOT NULL
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get earned achievements: %w", err)
	}
	defer rows.Close()

	earned := make(map[int64]time.Time)
	for rows.Next() {
		var id int64
		var at time.Time
		if err := rows.Scan(&id, &at); err != nil {
			return nil, fmt.Errorf("failed to scan earned achievement: %w", err)
		}
		earned[id] = at
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating earned achievements: %w", err)
	}

	return earned, nil
}

// GetUserAchievements retrieves the user's full ledger, newest first.
func (r *AchievementRepository) GetUserAchievements(ctx context.Context, userID int64) ([]model.UserAchievement, error) {
	const query = `
		SELECT id, user_id, achievement_id, progress, times_earned,
		       earned_at, metadata, created_at
		FROM user_achievements
		WHERE user_id = $1
		ORDER BY created_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user achievements: %w", err)
	}
	defer rows.Close()

	var list []model.UserAchievement
	for rows.Next() {
		var ua model.UserAchievement
		err := rows.Scan(
			&ua.ID,
			&ua.UserID,
			&ua.AchievementID,
			&ua.Progress,
			&ua.TimesEarned,
			&ua.EarnedAt,
			&ua.Metadata,
			&ua.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user achievement: %w", err)
		}
		list = append(list, ua)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user achievements: %w", err)
	}

	return list, nil
}

// UpdateProgress records partial progress toward a not-yet-earned
// achievement, creating the row on first write. Progress on an already
// earned non-repeatable row is left untouched.
func (r *AchievementRepository) UpdateProgress(ctx context.Context, userID, achievementID int64, progress float64) error {
	const query = `
		INSERT INTO user_achievements (user_id, achievement_id, progress, created_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, achievement_id)
		DO UPDATE SET progress = EXCLUDED.progress
		WHERE user_achievements.earned_at IS NULL
	`

	if _, err := r.pool.Exec(ctx, query, userID, achievementID, progress); err != nil {
		return fmt.Errorf("failed to update achievement progress: %w", err)
	}
	return nil
}

// Award is one granted achievement with the points it carried.
type Award struct {
	AchievementID int64
	Points        int64
	Metadata      json.RawMessage
	Repeatable    bool
}

// AwardResult reports what a batch award actually applied.
type AwardResult struct {
	// Granted holds the achievement IDs that were newly awarded. Duplicate
	// attempts on non-repeatable achievements are silently absent.
	Granted []int64
	// PointsCredited is the XP credited for the granted awards only.
	PointsCredited int64
	// TotalPoints is the user's cumulative XP after the batch.
	TotalPoints int64
	// PreviousPoints is the cumulative XP before the batch.
	PreviousPoints int64
}

// AwardBatch grants a batch of achievements and credits their XP in one
// transaction. The (user_id, achievement_id) uniqueness constraint is the
// sole defense against double-award under concurrent evaluation: a losing
// writer's insert affects zero rows, contributes zero points, and is not an
// error. Either every granted row and the XP credit commit together or
// nothing does.
func (r *AchievementRepository) AwardBatch(ctx context.Context, userID int64, awards []Award) (*AwardResult, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("failed to begin award transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result := &AwardResult{}
	now := time.Now().UTC()

	for _, a := range awards {
		granted, err := awardOne(ctx, tx, userID, a, now)
		if err != nil {
			return nil, err
		}
		if granted {
			result.Granted = append(result.Granted, a.AchievementID)
			result.PointsCredited += a.Points
		}
	}

	// Credit XP and bump counters in the same transaction so a ledger row
	// can never exist without its XP and vice versa.
	const statsQuery = `
		INSERT INTO user_gamification_stats
			(user_id, total_points, achievement_count, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			total_points = user_gamification_stats.total_points + EXCLUDED.total_points,
			achievement_count = user_gamification_stats.achievement_count + EXCLUDED.achievement_count,
			updated_at = NOW()
		RETURNING total_points
	`

	err = tx.QueryRow(ctx, statsQuery, userID, result.PointsCredited, len(result.Granted)).Scan(&result.TotalPoints)
	if err != nil {
		return nil, fmt.Errorf("failed to credit points: %w", err)
	}
	result.PreviousPoints = result.TotalPoints - result.PointsCredited

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("failed to commit award transaction: %w", err)
	}

	return result, nil
}

// awardOne inserts or upgrades one ledger row. Returns whether the award
// was actually granted by this call.
func awardOne(ctx context.Context, tx pgx.Tx, userID int64, a Award, now time.Time) (bool, error) {
	if a.Repeatable {
		// Repeatable achievements reuse the unique row and bump the
		// counter; every call grants.
		const query = `
			INSERT INTO user_achievements
				(user_id, achievement_id, times_earned, earned_at, metadata, created_at)
			VALUES ($1, $2, 1, $3, $4, NOW())
			ON CONFLICT (user_id, achievement_id) DO UPDATE SET
				times_earned = user_achievements.times_earned + 1,
				earned_at = EXCLUDED.earned_at,
				metadata = EXCLUDED.metadata
		`
		if _, err := tx.Exec(ctx, query, userID, a.AchievementID, now, a.Metadata); err != nil {
			return false, fmt.Errorf("failed to award repeatable achievement: %w", err)
		}
		return true, nil
	}

	// Non-repeatable: the earn transition fires once. An existing earned
	// row makes both branches no-ops and the attempt a silent success.
	const query = `
		INSERT INTO user_achievements
			(user_id, achievement_id, times_earned, earned_at, metadata, created_at)
		VALUES ($1, $2, 1, $3, $4, NOW())
		ON CONFLICT (user_id, achievement_id) DO UPDATE SET
			times_earned = 1,
			earned_at = EXCLUDED.earned_at,
			metadata = EXCLUDED.metadata
		WHERE user_achievements.earned_at IS NULL
	`

	tag, err := tx.Exec(ctx, query, userID, a.AchievementID, now, a.Metadata)
	if err != nil {
		return false, fmt.Errorf("failed to award achievement: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// RecomputeStats rebuilds the user's aggregate row from the award ledger
// and the completed challenge enrollments. Both tables are ground truth for
// XP, so a crash between passes is self-healing on the next recompute.
func (r *AchievementRepository) RecomputeStats(ctx context.Context, userID int64) (*model.UserGamificationStats, error) {
	const query = `
		INSERT INTO user_gamification_stats
			(user_id, total_points, achievement_count, challenge_count, updated_at)
		SELECT
			$1,
			COALESCE((
				SELECT SUM(d.points * ua.times_earned)
				FROM user_achievements ua
				JOIN achievement_definitions d ON d.id = ua.achievement_id
				WHERE ua.user_id = $1 AND ua.earned_at IS NOT NULL
			), 0)
			+ COALESCE((
				SELECT SUM(cd.reward_points)
				FROM user_challenges uc
				JOIN challenge_definitions cd ON cd.id = uc.challenge_id
				WHERE uc.user_id = $1 AND uc.status = 'completed'
			), 0),
			(
				SELECT COUNT(*)
				FROM user_achievements ua
				WHERE ua.user_id = $1 AND ua.earned_at IS NOT NULL
			),
			(
				SELECT COUNT(*)
				FROM user_challenges uc
				WHERE uc.user_id = $1 AND uc.status = 'completed'
			),
			NOW()
		ON CONFLICT (user_id) DO UPDATE SET
			total_points = EXCLUDED.total_points,
			achievement_count = EXCLUDED.achievement_count,
			challenge_count = EXCLUDED.challenge_count,
			updated_at = NOW()
		RETURNING user_id, total_points, achievement_count, challenge_count,
		          current_streak, longest_streak, last_activity_date, updated_at
	`

	var s model.UserGamificationStats
	err := r.pool.QueryRow(ctx, query, userID).Scan(
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
		return nil, fmt.Errorf("failed to recompute stats: %w", err)
	}
	return &s, nil
}
