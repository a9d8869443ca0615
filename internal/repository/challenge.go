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

// Challenge repository errors.
var (
	ErrChallengeNotFound = errors.New("challenge not found")
)

// ChallengeRepository handles challenge definitions and user enrollment.
type ChallengeRepository struct {
	pool *pgxpool.Pool
}

// NewChallengeRepository creates a new ChallengeRepository instance.
func NewChallengeRepository(pool *pgxpool.Pool) *ChallengeRepository {
	return &ChallengeRepository{pool: pool}
}

const challengeColumns = `
	id, key, name, description, criteria, start_date, end_date,
	target_value, reward_points, reward_achievement_id, is_community, created_at
`

func scanChallenge(row pgx.Row) (*model.ChallengeDefinition, error) {
	var c model.ChallengeDefinition
	err := row.Scan(
		&c.ID,
		&c.Key,
		&c.Name,
		&c.Description,
		&c.Criteria,
		&c.StartDate,
		&c.EndDate,
		&c.TargetValue,
		&c.RewardPoints,
		&c.RewardAchievement,
		&c.IsCommunity,
		&c.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// CreateDefinition inserts a new challenge definition (the admin write
// surface).
func (r *ChallengeRepository) CreateDefinition(ctx context.Context, c *model.ChallengeDefinition) (*model.ChallengeDefinition, error) {
	query := `
		INSERT INTO challenge_definitions
			(key, name, description, criteria, start_date, end_date,
			 target_value, reward_points, reward_achievement_id, is_community, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		RETURNING ` + challengeColumns + `
	`

	created, err := scanChallenge(r.pool.QueryRow(ctx, query,
		c.Key, c.Name, c.Description, c.Criteria, c.StartDate, c.EndDate,
		c.TargetValue, c.RewardPoints, c.RewardAchievement, c.IsCommunity,
	))
	if err != nil {
		return nil, fmt.Errorf("failed to create challenge definition: %w", err)
	}
	return created, nil
}

// GetByID retrieves one challenge definition.
// Returns ErrChallengeNotFound if it does not exist.
func (r *ChallengeRepository) GetByID(ctx context.Context, id int64) (*model.ChallengeDefinition, error) {
	query := `
		SELECT ` + challengeColumns + `
		FROM challenge_definitions
		WHERE id = $1
	`

	c, err := scanChallenge(r.pool.QueryRow(ctx, query, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrChallengeNotFound
		}
		return nil, fmt.Errorf("failed to get challenge: %w", err)
	}
	return c, nil
}

// GetOpenDefinitions retrieves challenge definitions whose window contains
// now.
func (r *ChallengeRepository) GetOpenDefinitions(ctx context.Context, now time.Time) ([]model.ChallengeDefinition, error) {
	query := `
		SELECT ` + challengeColumns + `
		FROM challenge_definitions
		WHERE start_date <= $1 AND end_date > $1
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to get open challenges: %w", err)
	}
	defer rows.Close()

	var defs []model.ChallengeDefinition
	for rows.Next() {
		c, err := scanChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan challenge: %w", err)
		}
		defs = append(defs, *c)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating challenges: %w", err)
	}

	return defs, nil
}

const userChallengeColumns = `
	id, user_id, challenge_id, status, progress, started_at, completed_at
`

func scanUserChallenge(row pgx.Row) (*model.UserChallenge, error) {
	var uc model.UserChallenge
	err := row.Scan(
		&uc.ID,
		&uc.UserID,
		&uc.ChallengeID,
		&uc.Status,
		&uc.Progress,
		&uc.StartedAt,
		&uc.CompletedAt,
	)
	if err != nil {
		return nil, err
	}
	return &uc, nil
}

// Join enrolls a user in a challenge. The unique (user_id, challenge_id)
// constraint makes the call idempotent: a duplicate join returns the
// existing row unchanged, never an error.
func (r *ChallengeRepository) Join(ctx context.Context, userID, challengeID int64) (*model.UserChallenge, error) {
	query := `
		INSERT INTO user_challenges (user_id, challenge_id, status, progress, started_at)
		VALUES ($1, $2, 'active', 0, NOW())
		ON CONFLICT (user_id, challenge_id) DO UPDATE SET user_id = EXCLUDED.user_id
		RETURNING ` + userChallengeColumns + `
	`

	uc, err := scanUserChallenge(r.pool.QueryRow(ctx, query, userID, challengeID))
	if err != nil {
		return nil, fmt.Errorf("failed to join challenge: %w", err)
	}
	return uc, nil
}

// GetActiveByChallengeID retrieves every active enrollment for a challenge.
func (r *ChallengeRepository) GetActiveByChallengeID(ctx context.Context, challengeID int64) ([]model.UserChallenge, error) {
	query := `
		SELECT ` + userChallengeColumns + `
		FROM user_challenges
		WHERE challenge_id = $1 AND status = 'active'
		ORDER BY user_id
	`

	rows, err := r.pool.Query(ctx, query, challengeID)
	if err != nil {
		return nil, fmt.Errorf("failed to get active enrollments: %w", err)
	}
	defer rows.Close()

	var list []model.UserChallenge
	for rows.Next() {
		uc, err := scanUserChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan enrollment: %w", err)
		}
		list = append(list, *uc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating enrollments: %w", err)
	}

	return list, nil
}

// GetByUser retrieves all of a user's enrollments, newest first.
func (r *ChallengeRepository) GetByUser(ctx context.Context, userID int64) ([]model.UserChallenge, error) {
	query := `
		SELECT ` + userChallengeColumns + `
		FROM user_challenges
		WHERE user_id = $1
		ORDER BY started_at DESC
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get user challenges: %w", err)
	}
	defer rows.Close()

	var list []model.UserChallenge
	for rows.Next() {
		uc, err := scanUserChallenge(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan user challenge: %w", err)
		}
		list = append(list, *uc)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user challenges: %w", err)
	}

	return list, nil
}

// AdvanceProgress raises an active enrollment's progress to the given value
// without ever lowering it, clamped to the target. Returns the updated row,
// or nil when the enrollment is not active anymore.
func (r *ChallengeRepository) AdvanceProgress(ctx context.Context, userID, challengeID int64, progress, target float64) (*model.UserChallenge, error) {
	query := `
		UPDATE user_challenges
		SET progress = LEAST(GREATEST(progress, $3), $4)
		WHERE user_id = $1 AND challenge_id = $2 AND status = 'active'
		RETURNING ` + userChallengeColumns + `
	`

	uc, err := scanUserChallenge(r.pool.QueryRow(ctx, query, userID, challengeID, progress, target))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to advance progress: %w", err)
	}
	return uc, nil
}

// Complete transitions exactly one active enrollment to completed, pins
// progress to the target, disburses the challenge reward and bumps the
// challenge counter, all in one transaction. Returns false when another
// writer completed the row first, which callers treat as success-no-op so
// the reward is disbursed exactly once.
func (r *ChallengeRepository) Complete(ctx context.Context, userID, challengeID int64, target float64, rewardPoints int64) (bool, error) {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return false, fmt.Errorf("failed to begin completion transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const update = `
		UPDATE user_challenges
		SET status = 'completed', progress = $3, completed_at = NOW()
		WHERE user_id = $1 AND challenge_id = $2 AND status = 'active'
	`

	tag, err := tx.Exec(ctx, update, userID, challengeID, target)
	if err != nil {
		return false, fmt.Errorf("failed to complete challenge: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already terminal; nothing to disburse.
		return false, nil
	}

	const reward = `
		INSERT INTO user_gamification_stats
			(user_id, total_points, challenge_count, updated_at)
		VALUES ($1, $2, 1, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			total_points = user_gamification_stats.total_points + EXCLUDED.total_points,
			challenge_count = user_gamification_stats.challenge_count + 1,
			updated_at = NOW()
	`

	if _, err := tx.Exec(ctx, reward, userID, rewardPoints); err != nil {
		return false, fmt.Errorf("failed to disburse challenge reward: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("failed to commit completion: %w", err)
	}

	return true, nil
}

// ExpireWindowClosed marks every still-active enrollment of ended
// challenges as expired. Returns the number of rows transitioned. The sweep
// is idempotent; terminal rows are never touched.
func (r *ChallengeRepository) ExpireWindowClosed(ctx context.Context, now time.Time) (int64, error) {
	const query = `
		UPDATE user_challenges uc
		SET status = 'expired'
		FROM challenge_definitions cd
		WHERE uc.challenge_id = cd.id
		  AND uc.status = 'active'
		  AND cd.end_date <= $1
	`

	tag, err := r.pool.Exec(ctx, query, now)
	if err != nil {
		return 0, fmt.Errorf("failed to expire challenges: %w", err)
	}
	return tag.RowsAffected(), nil
}
