package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"journal-gamification/internal/model"
)

// PrivacyRepository reads per-user visibility settings. The settings are
// owned by the journal's account module; this service only consults them
// before any cross-user surface.
type PrivacyRepository struct {
	pool *pgxpool.Pool
}

// NewPrivacyRepository creates a new PrivacyRepository instance.
func NewPrivacyRepository(pool *pgxpool.Pool) *PrivacyRepository {
	return &PrivacyRepository{pool: pool}
}

// defaultSettings are applied for users who never touched their privacy
// settings: visible everywhere, the journal's signup default.
func defaultSettings(userID int64) *model.PrivacySettings {
	return &model.PrivacySettings{
		UserID:                  userID,
		ShowOnLeaderboards:      true,
		ParticipateInChallenges: true,
		SharedWithPeerGroup:     true,
	}
}

// Get retrieves one user's privacy settings, falling back to the defaults
// when no row exists.
func (r *PrivacyRepository) Get(ctx context.Context, userID int64) (*model.PrivacySettings, error) {
	const query = `
		SELECT user_id, show_on_leaderboards, participate_in_challenges,
		       share_with_peer_group, visible_metrics
		FROM user_privacy_settings
		WHERE user_id = $1
	`

	var s model.PrivacySettings
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&s.UserID,
		&s.ShowOnLeaderboards,
		&s.ParticipateInChallenges,
		&s.SharedWithPeerGroup,
		&s.VisibleMetrics,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return defaultSettings(userID), nil
		}
		return nil, fmt.Errorf("failed to get privacy settings: %w", err)
	}

	return &s, nil
}

// HiddenFromLeaderboards returns the set of user IDs that must never appear
// in any leaderboard surface. Only explicit opt-outs are stored, so the set
// is small enough to apply in memory.
func (r *PrivacyRepository) HiddenFromLeaderboards(ctx context.Context) (map[int64]bool, error) {
	const query = `
		SELECT user_id
		FROM user_privacy_settings
		WHERE show_on_leaderboards = FALSE
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get leaderboard opt-outs: %w", err)
	}
	defer rows.Close()

	hidden := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan opt-out: %w", err)
		}
		hidden[id] = true
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating opt-outs: %w", err)
	}

	return hidden, nil
}
