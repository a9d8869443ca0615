package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"journal-gamification/internal/model"
)

// PeerGroupRepository handles peer group cohorts and memberships.
type PeerGroupRepository struct {
	pool *pgxpool.Pool
}

// NewPeerGroupRepository creates a new PeerGroupRepository instance.
func NewPeerGroupRepository(pool *pgxpool.Pool) *PeerGroupRepository {
	return &PeerGroupRepository{pool: pool}
}

// SeedGroup inserts a peer group if its name is absent.
func (r *PeerGroupRepository) SeedGroup(ctx context.Context, g *model.PeerGroup) (bool, error) {
	const query = `
		INSERT INTO peer_groups (name, criteria, min_members, max_members, created_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (name) DO NOTHING
	`

	tag, err := r.pool.Exec(ctx, query, g.Name, g.Criteria, g.MinMembers, g.MaxMembers)
	if err != nil {
		return false, fmt.Errorf("failed to seed peer group: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// GetAllGroups retrieves every peer group.
func (r *PeerGroupRepository) GetAllGroups(ctx context.Context) ([]model.PeerGroup, error) {
	const query = `
		SELECT id, name, criteria, min_members, max_members, created_at
		FROM peer_groups
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to get peer groups: %w", err)
	}
	defer rows.Close()

	var groups []model.PeerGroup
	for rows.Next() {
		var g model.PeerGroup
		err := rows.Scan(&g.ID, &g.Name, &g.Criteria, &g.MinMembers, &g.MaxMembers, &g.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan peer group: %w", err)
		}
		groups = append(groups, g)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating peer groups: %w", err)
	}

	return groups, nil
}

// ActiveMemberCounts returns the active membership count per group.
func (r *PeerGroupRepository) ActiveMemberCounts(ctx context.Context) (map[int64]int, error) {
	const query = `
		SELECT group_id, COUNT(*)
		FROM user_peer_groups
		WHERE is_active = TRUE
		GROUP BY group_id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to count members: %w", err)
	}
	defer rows.Close()

	counts := make(map[int64]int)
	for rows.Next() {
		var groupID int64
		var n int
		if err := rows.Scan(&groupID, &n); err != nil {
			return nil, fmt.Errorf("failed to scan member count: %w", err)
		}
		counts[groupID] = n
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating member counts: %w", err)
	}

	return counts, nil
}

// GetActiveMemberships retrieves a user's active memberships.
func (r *PeerGroupRepository) GetActiveMemberships(ctx context.Context, userID int64) ([]model.UserPeerGroup, error) {
	const query = `
		SELECT id, user_id, group_id, is_active, joined_at
		FROM user_peer_groups
		WHERE user_id = $1 AND is_active = TRUE
		ORDER BY joined_at
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get memberships: %w", err)
	}
	defer rows.Close()

	var list []model.UserPeerGroup
	for rows.Next() {
		var m model.UserPeerGroup
		if err := rows.Scan(&m.ID, &m.UserID, &m.GroupID, &m.IsActive, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan membership: %w", err)
		}
		list = append(list, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating memberships: %w", err)
	}

	return list, nil
}

// Join adds the user to a group unless the group is already at capacity.
// The capacity check and insert share one statement so concurrent joins
// cannot overfill a group. Duplicate joins reactivate the existing row.
// Returns true when the membership is active after the call.
func (r *PeerGroupRepository) Join(ctx context.Context, userID, groupID int64) (bool, error) {
	const query = `
		INSERT INTO user_peer_groups (user_id, group_id, is_active, joined_at)
		SELECT $1, $2, TRUE, NOW()
		WHERE (
			SELECT COUNT(*) FROM user_peer_groups
			WHERE group_id = $2 AND is_active = TRUE
		) < (
			SELECT max_members FROM peer_groups WHERE id = $2
		)
		ON CONFLICT (user_id, group_id) DO UPDATE SET is_active = TRUE, joined_at = NOW()
	`

	tag, err := r.pool.Exec(ctx, query, userID, groupID)
	if err != nil {
		return false, fmt.Errorf("failed to join peer group: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Leave deactivates one membership.
func (r *PeerGroupRepository) Leave(ctx context.Context, userID, groupID int64) error {
	const query = `
		UPDATE user_peer_groups
		SET is_active = FALSE
		WHERE user_id = $1 AND group_id = $2 AND is_active = TRUE
	`

	if _, err := r.pool.Exec(ctx, query, userID, groupID); err != nil {
		return fmt.Errorf("failed to leave peer group: %w", err)
	}
	return nil
}

// DeactivateInactiveSince deactivates memberships of users whose last trade
// entry predates the cutoff. Returns the number of memberships removed.
func (r *PeerGroupRepository) DeactivateInactiveSince(ctx context.Context, cutoff time.Time) (int64, error) {
	const query = `
		UPDATE user_peer_groups upg
		SET is_active = FALSE
		WHERE upg.is_active = TRUE
		  AND NOT EXISTS (
			SELECT 1 FROM trades t
			WHERE t.user_id = upg.user_id AND t.entry_time >= $1
		  )
	`

	tag, err := r.pool.Exec(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to deactivate inactive members: %w", err)
	}
	return tag.RowsAffected(), nil
}

// NewestActiveMembers returns up to limit of the most recently joined
// active members of a group, newest first. Rebalancing moves these first.
func (r *PeerGroupRepository) NewestActiveMembers(ctx context.Context, groupID int64, limit int) ([]model.UserPeerGroup, error) {
	const query = `
		SELECT id, user_id, group_id, is_active, joined_at
		FROM user_peer_groups
		WHERE group_id = $1 AND is_active = TRUE
		ORDER BY joined_at DESC
		LIMIT $2
	`

	rows, err := r.pool.Query(ctx, query, groupID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to get newest members: %w", err)
	}
	defer rows.Close()

	var list []model.UserPeerGroup
	for rows.Next() {
		var m model.UserPeerGroup
		if err := rows.Scan(&m.ID, &m.UserID, &m.GroupID, &m.IsActive, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan newest member: %w", err)
		}
		list = append(list, m)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating newest members: %w", err)
	}

	return list, nil
}

// Move transfers one active membership to another group in a single
// transaction, preserving the original joined_at so the member remains the
// "newest" candidate if further rebalancing is needed.
func (r *PeerGroupRepository) Move(ctx context.Context, userID, fromGroupID, toGroupID int64) error {
	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin move transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	const deactivate = `
		UPDATE user_peer_groups
		SET is_active = FALSE
		WHERE user_id = $1 AND group_id = $2 AND is_active = TRUE
	`
	tag, err := tx.Exec(ctx, deactivate, userID, fromGroupID)
	if err != nil {
		return fmt.Errorf("failed to deactivate membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		// Already moved by a prior pass.
		return nil
	}

	const activate = `
		INSERT INTO user_peer_groups (user_id, group_id, is_active, joined_at)
		VALUES ($1, $2, TRUE, NOW())
		ON CONFLICT (user_id, group_id) DO UPDATE SET is_active = TRUE
	`
	if _, err := tx.Exec(ctx, activate, userID, toGroupID); err != nil {
		return fmt.Errorf("failed to activate membership: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit move: %w", err)
	}

	return nil
}
