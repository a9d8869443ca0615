// Package repository provides data access layer implementations.
// Tests use testcontainers-go to spin up a PostgreSQL container.
package repository

import (
	"context"
	"encoding/json"
	"os/exec"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"

	"journal-gamification/internal/model"
)

// checkDockerAvailable checks if Docker is available and running
func checkDockerAvailable() bool {
	cmd := exec.Command("docker", "info")
	err := cmd.Run()
	return err == nil
}

// setupTestDB creates a PostgreSQL container and returns a connection pool
// Skips the test if Docker is not available
func setupTestDB(t *testing.T) (*pgxpool.Pool, func()) {
	if !checkDockerAvailable() {
		t.Skip("Docker is not available, skipping integration test")
	}

	ctx := context.Background()

	pgContainer, err := postgres.Run(ctx,
		"postgres:15-alpine",
		postgres.WithDatabase("testdb"),
		postgres.WithUsername("testuser"),
		postgres.WithPassword("testpass"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second),
		),
	)
	require.NoError(t, err)

	connStr, err := pgContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	pool, err := pgxpool.New(ctx, connStr)
	require.NoError(t, err)

	err = runTestMigrations(ctx, pool)
	require.NoError(t, err)

	cleanup := func() {
		pool.Close()
		_ = pgContainer.Terminate(ctx)
	}

	return pool, cleanup
}

// runTestMigrations applies the database schema
func runTestMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	_, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS trades (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			symbol VARCHAR(32) NOT NULL,
			side VARCHAR(10) NOT NULL,
			quantity DOUBLE PRECISION NOT NULL,
			entry_price DOUBLE PRECISION NOT NULL,
			entry_time TIMESTAMPTZ NOT NULL,
			exit_price DOUBLE PRECISION,
			exit_time TIMESTAMPTZ,
			pnl DOUBLE PRECISION,
			strategy VARCHAR(100),
			notes TEXT,
			risk_planned DOUBLE PRECISION,
			favorable_pct DOUBLE PRECISION,
			revenge_flag BOOLEAN NOT NULL DEFAULT FALSE
		);

		CREATE TABLE IF NOT EXISTS user_privacy_settings (
			user_id BIGINT PRIMARY KEY,
			show_on_leaderboards BOOLEAN NOT NULL DEFAULT TRUE,
			participate_in_challenges BOOLEAN NOT NULL DEFAULT TRUE,
			share_with_peer_group BOOLEAN NOT NULL DEFAULT TRUE,
			visible_metrics TEXT[] NOT NULL DEFAULT '{}'
		);

		CREATE TABLE IF NOT EXISTS achievement_definitions (
			id BIGSERIAL PRIMARY KEY,
			key VARCHAR(100) NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			category VARCHAR(50) NOT NULL,
			difficulty VARCHAR(50) NOT NULL,
			points BIGINT NOT NULL,
			criteria JSONB NOT NULL,
			is_repeatable BOOLEAN NOT NULL DEFAULT FALSE,
			max_progress DOUBLE PRECISION,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS user_achievements (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			achievement_id BIGINT NOT NULL REFERENCES achievement_definitions(id) ON DELETE CASCADE,
			progress DOUBLE PRECISION,
			times_earned INT NOT NULL DEFAULT 0,
			earned_at TIMESTAMPTZ,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, achievement_id)
		);

		CREATE TABLE IF NOT EXISTS user_gamification_stats (
			user_id BIGINT PRIMARY KEY,
			total_points BIGINT NOT NULL DEFAULT 0,
			achievement_count INT NOT NULL DEFAULT 0,
			challenge_count INT NOT NULL DEFAULT 0,
			current_streak INT NOT NULL DEFAULT 0,
			longest_streak INT NOT NULL DEFAULT 0,
			last_activity_date DATE,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS challenge_definitions (
			id BIGSERIAL PRIMARY KEY,
			key VARCHAR(100) NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL,
			description TEXT NOT NULL DEFAULT '',
			criteria JSONB NOT NULL,
			start_date TIMESTAMPTZ NOT NULL,
			end_date TIMESTAMPTZ NOT NULL,
			target_value DOUBLE PRECISION NOT NULL,
			reward_points BIGINT NOT NULL DEFAULT 0,
			reward_achievement_id BIGINT REFERENCES achievement_definitions(id),
			is_community BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS user_challenges (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			challenge_id BIGINT NOT NULL REFERENCES challenge_definitions(id) ON DELETE CASCADE,
			status VARCHAR(20) NOT NULL DEFAULT 'active',
			progress DOUBLE PRECISION NOT NULL DEFAULT 0,
			started_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			completed_at TIMESTAMPTZ,
			UNIQUE (user_id, challenge_id)
		);

		CREATE TABLE IF NOT EXISTS leaderboard_definitions (
			id BIGSERIAL PRIMARY KEY,
			key VARCHAR(100) NOT NULL UNIQUE,
			name VARCHAR(255) NOT NULL,
			metric_key VARCHAR(50) NOT NULL,
			period_type VARCHAR(20) NOT NULL,
			min_participants INT NOT NULL DEFAULT 0,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS leaderboard_entries (
			id BIGSERIAL PRIMARY KEY,
			leaderboard_id BIGINT NOT NULL REFERENCES leaderboard_definitions(id) ON DELETE CASCADE,
			snapshot_date DATE NOT NULL,
			user_id BIGINT NOT NULL,
			pseudonym VARCHAR(32) NOT NULL,
			score DOUBLE PRECISION NOT NULL,
			rank INT NOT NULL,
			metadata JSONB,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (leaderboard_id, snapshot_date, user_id)
		);

		CREATE TABLE IF NOT EXISTS peer_groups (
			id BIGSERIAL PRIMARY KEY,
			name VARCHAR(255) NOT NULL UNIQUE,
			criteria JSONB NOT NULL,
			min_members INT NOT NULL DEFAULT 5,
			max_members INT NOT NULL DEFAULT 50,
			created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);

		CREATE TABLE IF NOT EXISTS user_peer_groups (
			id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			group_id BIGINT NOT NULL REFERENCES peer_groups(id) ON DELETE CASCADE,
			is_active BOOLEAN NOT NULL DEFAULT TRUE,
			joined_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			UNIQUE (user_id, group_id)
		);
	`)
	return err
}

func seedAchievement(t *testing.T, pool *pgxpool.Pool, key string, points int64, repeatable bool) int64 {
	t.Helper()
	ctx := context.Background()

	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO achievement_definitions
			(key, name, category, difficulty, points, criteria, is_repeatable)
		VALUES ($1, $1, 'milestone', 'beginner', $2, '{"type":"first_trade"}', $3)
		RETURNING id
	`, key, points, repeatable).Scan(&id)
	require.NoError(t, err)
	return id
}

func insertClosedTrade(t *testing.T, pool *pgxpool.Pool, userID int64, pnl float64, exitTime time.Time) {
	t.Helper()
	ctx := context.Background()

	_, err := pool.Exec(ctx, `
		INSERT INTO trades
			(user_id, symbol, side, quantity, entry_price, entry_time, exit_price, exit_time, pnl)
		VALUES ($1, 'AAPL', 'long', 10, 100, $2, 110, $3, $4)
	`, userID, exitTime.Add(-time.Hour), exitTime, pnl)
	require.NoError(t, err)
}

func TestAchievementRepository_AwardBatch(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAchievementRepository(pool)
	ctx := context.Background()

	achID := seedAchievement(t, pool, "first_trade", 10, false)

	result, err := repo.AwardBatch(ctx, 1, []Award{{AchievementID: achID, Points: 10}})
	require.NoError(t, err)
	assert.Equal(t, []int64{achID}, result.Granted)
	assert.Equal(t, int64(10), result.PointsCredited)
	assert.Equal(t, int64(10), result.TotalPoints)
	assert.Equal(t, int64(0), result.PreviousPoints)

	// Second award of the same achievement is a silent no-op.
	result, err = repo.AwardBatch(ctx, 1, []Award{{AchievementID: achID, Points: 10}})
	require.NoError(t, err)
	assert.Empty(t, result.Granted)
	assert.Equal(t, int64(0), result.PointsCredited)
	assert.Equal(t, int64(10), result.TotalPoints)
}

func TestAchievementRepository_ConcurrentAward(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAchievementRepository(pool)
	ctx := context.Background()

	achID := seedAchievement(t, pool, "first_trade", 25, false)

	// Ten concurrent passes race to grant one achievement. Exactly one may
	// credit the XP.
	const workers = 10
	var wg sync.WaitGroup
	results := make([]*AwardResult, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			r, err := repo.AwardBatch(ctx, 42, []Award{{AchievementID: achID, Points: 25}})
			require.NoError(t, err)
			results[i] = r
		}(i)
	}
	wg.Wait()

	granted := 0
	for _, r := range results {
		granted += len(r.Granted)
	}
	assert.Equal(t, 1, granted)

	var rows int
	var total int64
	err := pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_achievements WHERE user_id = 42`).Scan(&rows)
	require.NoError(t, err)
	err = pool.QueryRow(ctx, `SELECT total_points FROM user_gamification_stats WHERE user_id = 42`).Scan(&total)
	require.NoError(t, err)
	assert.Equal(t, 1, rows)
	assert.Equal(t, int64(25), total)
}

func TestAchievementRepository_RepeatableAward(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAchievementRepository(pool)
	ctx := context.Background()

	achID := seedAchievement(t, pool, "lesson_logged", 10, true)

	for i := 0; i < 3; i++ {
		result, err := repo.AwardBatch(ctx, 7, []Award{{AchievementID: achID, Points: 10, Repeatable: true}})
		require.NoError(t, err)
		assert.Len(t, result.Granted, 1)
	}

	var times int
	err := pool.QueryRow(ctx, `
		SELECT times_earned FROM user_achievements WHERE user_id = 7 AND achievement_id = $1
	`, achID).Scan(&times)
	require.NoError(t, err)
	assert.Equal(t, 3, times)

	var total int64
	err = pool.QueryRow(ctx, `SELECT total_points FROM user_gamification_stats WHERE user_id = 7`).Scan(&total)
	require.NoError(t, err)
	assert.Equal(t, int64(30), total)
}

func TestAchievementRepository_RecomputeStats(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAchievementRepository(pool)
	ctx := context.Background()

	a1 := seedAchievement(t, pool, "a1", 10, false)
	a2 := seedAchievement(t, pool, "a2", 40, false)

	_, err := repo.AwardBatch(ctx, 5, []Award{{AchievementID: a1, Points: 10}, {AchievementID: a2, Points: 40}})
	require.NoError(t, err)

	// Corrupt the aggregate, then rebuild from the ledger.
	_, err = pool.Exec(ctx, `UPDATE user_gamification_stats SET total_points = 999 WHERE user_id = 5`)
	require.NoError(t, err)

	stats, err := repo.RecomputeStats(ctx, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(50), stats.TotalPoints)
	assert.Equal(t, 2, stats.AchievementCount)
}

func TestAchievementRepository_RecomputeStatsKeepsChallengeRewards(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewAchievementRepository(pool)
	challengeRepo := NewChallengeRepository(pool)
	ctx := context.Background()

	achID := seedAchievement(t, pool, "a1", 10, false)
	_, err := repo.AwardBatch(ctx, 6, []Award{{AchievementID: achID, Points: 10}})
	require.NoError(t, err)

	now := time.Now().UTC()
	chID := createChallenge(t, pool, "weekly_grind", now.AddDate(0, 0, -1), now.AddDate(0, 0, 6), 5)
	_, err = challengeRepo.Join(ctx, 6, chID)
	require.NoError(t, err)
	won, err := challengeRepo.Complete(ctx, 6, chID, 5, 50)
	require.NoError(t, err)
	require.True(t, won)

	// A rebuild must re-derive both XP sources, not erase the challenge
	// reward.
	stats, err := repo.RecomputeStats(ctx, 6)
	require.NoError(t, err)
	assert.Equal(t, int64(60), stats.TotalPoints)
	assert.Equal(t, 1, stats.AchievementCount)
	assert.Equal(t, 1, stats.ChallengeCount)
}

func TestStatsRepository_TouchActivity(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewStatsRepository(pool)
	ctx := context.Background()

	stats, err := repo.TouchActivity(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CurrentStreak)
	assert.Equal(t, 1, stats.LongestStreak)

	// Same day again does not grow the streak.
	stats, err = repo.TouchActivity(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CurrentStreak)

	// Simulate yesterday's activity, then touch again.
	_, err = pool.Exec(ctx, `
		UPDATE user_gamification_stats
		SET last_activity_date = CURRENT_DATE - 1
		WHERE user_id = 9
	`)
	require.NoError(t, err)

	stats, err = repo.TouchActivity(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 2, stats.CurrentStreak)
	assert.Equal(t, 2, stats.LongestStreak)

	// A gap resets the current streak but keeps the longest.
	_, err = pool.Exec(ctx, `
		UPDATE user_gamification_stats
		SET last_activity_date = CURRENT_DATE - 5
		WHERE user_id = 9
	`)
	require.NoError(t, err)

	stats, err = repo.TouchActivity(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, 1, stats.CurrentStreak)
	assert.Equal(t, 2, stats.LongestStreak)
}

func createChallenge(t *testing.T, pool *pgxpool.Pool, key string, start, end time.Time, target float64) int64 {
	t.Helper()
	ctx := context.Background()

	var id int64
	err := pool.QueryRow(ctx, `
		INSERT INTO challenge_definitions
			(key, name, criteria, start_date, end_date, target_value, reward_points)
		VALUES ($1, $1, '{"type":"trade_count","threshold":5}', $2, $3, $4, 50)
		RETURNING id
	`, key, start, end, target).Scan(&id)
	require.NoError(t, err)
	return id
}

func TestChallengeRepository_JoinIdempotent(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChallengeRepository(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	chID := createChallenge(t, pool, "weekly_grind", now.AddDate(0, 0, -1), now.AddDate(0, 0, 6), 5)

	first, err := repo.Join(ctx, 3, chID)
	require.NoError(t, err)

	second, err := repo.Join(ctx, 3, chID)
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.StartedAt.Unix(), second.StartedAt.Unix())

	var count int
	err = pool.QueryRow(ctx, `SELECT COUNT(*) FROM user_challenges WHERE user_id = 3`).Scan(&count)
	require.NoError(t, err)
	assert.Equal(t, 1, count)
}

func TestChallengeRepository_ProgressMonotonic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChallengeRepository(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	chID := createChallenge(t, pool, "weekly_grind", now.AddDate(0, 0, -1), now.AddDate(0, 0, 6), 10)

	_, err := repo.Join(ctx, 3, chID)
	require.NoError(t, err)

	uc, err := repo.AdvanceProgress(ctx, 3, chID, 4, 10)
	require.NoError(t, err)
	assert.Equal(t, 4.0, uc.Progress)

	// A lower measurement never moves progress backwards.
	uc, err = repo.AdvanceProgress(ctx, 3, chID, 2, 10)
	require.NoError(t, err)
	assert.Equal(t, 4.0, uc.Progress)

	// Progress clamps to the target.
	uc, err = repo.AdvanceProgress(ctx, 3, chID, 15, 10)
	require.NoError(t, err)
	assert.Equal(t, 10.0, uc.Progress)
}

func TestChallengeRepository_CompleteExactlyOnce(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChallengeRepository(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	chID := createChallenge(t, pool, "weekly_grind", now.AddDate(0, 0, -1), now.AddDate(0, 0, 6), 5)

	_, err := repo.Join(ctx, 3, chID)
	require.NoError(t, err)

	won, err := repo.Complete(ctx, 3, chID, 5, 50)
	require.NoError(t, err)
	assert.True(t, won)

	// The second completion attempt loses the status guard and credits
	// nothing.
	won, err = repo.Complete(ctx, 3, chID, 5, 50)
	require.NoError(t, err)
	assert.False(t, won)

	var total int64
	err = pool.QueryRow(ctx, `SELECT total_points FROM user_gamification_stats WHERE user_id = 3`).Scan(&total)
	require.NoError(t, err)
	assert.Equal(t, int64(50), total)
}

func TestChallengeRepository_ExpireWindowClosed(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewChallengeRepository(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	pastID := createChallenge(t, pool, "over", now.AddDate(0, 0, -10), now.AddDate(0, 0, -3), 5)
	openID := createChallenge(t, pool, "open", now.AddDate(0, 0, -1), now.AddDate(0, 0, 6), 5)

	_, err := repo.Join(ctx, 3, pastID)
	require.NoError(t, err)
	_, err = repo.Join(ctx, 3, openID)
	require.NoError(t, err)

	expired, err := repo.ExpireWindowClosed(ctx, now)
	require.NoError(t, err)
	assert.Equal(t, int64(1), expired)

	challenges, err := repo.GetByUser(ctx, 3)
	require.NoError(t, err)
	statuses := map[int64]string{}
	for _, uc := range challenges {
		statuses[uc.ChallengeID] = uc.Status
	}
	assert.Equal(t, model.ChallengeStatusExpired, statuses[pastID])
	assert.Equal(t, model.ChallengeStatusActive, statuses[openID])
}

func TestLeaderboardRepository_ReplaceSnapshotAtomic(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLeaderboardRepository(pool)
	ctx := context.Background()

	created, err := repo.SeedDefinition(ctx, &model.LeaderboardDefinition{
		Key: "daily_pnl", Name: "Daily P&L",
		MetricKey: model.MetricTotalPnl, PeriodType: model.PeriodDaily, IsActive: true,
	})
	require.NoError(t, err)
	require.True(t, created)

	def, err := repo.GetDefinitionByKey(ctx, "daily_pnl")
	require.NoError(t, err)

	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	meta := json.RawMessage(`{}`)

	err = repo.ReplaceSnapshot(ctx, def.ID, day, []model.LeaderboardEntry{
		{UserID: 1, Pseudonym: "Trader-AAAAAAAA", Score: 300, Rank: 1, Metadata: meta},
		{UserID: 2, Pseudonym: "Trader-BBBBBBBB", Score: 200, Rank: 2, Metadata: meta},
		{UserID: 3, Pseudonym: "Trader-CCCCCCCC", Score: 100, Rank: 3, Metadata: meta},
	})
	require.NoError(t, err)

	// Recompile with a different entry set for the same day.
	err = repo.ReplaceSnapshot(ctx, def.ID, day, []model.LeaderboardEntry{
		{UserID: 2, Pseudonym: "Trader-BBBBBBBB", Score: 500, Rank: 1, Metadata: meta},
		{UserID: 1, Pseudonym: "Trader-AAAAAAAA", Score: 400, Rank: 2, Metadata: meta},
	})
	require.NoError(t, err)

	entries, err := repo.GetSnapshot(ctx, def.ID, day)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(2), entries[0].UserID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, int64(1), entries[1].UserID)

	own, err := repo.GetUserRank(ctx, def.ID, day, 1)
	require.NoError(t, err)
	require.NotNil(t, own)
	assert.Equal(t, 2, own.Rank)

	gone, err := repo.GetUserRank(ctx, def.ID, day, 3)
	require.NoError(t, err)
	assert.Nil(t, gone)
}

func TestLeaderboardRepository_ReplaceSnapshotRollsBackOnFailure(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewLeaderboardRepository(pool)
	ctx := context.Background()

	created, err := repo.SeedDefinition(ctx, &model.LeaderboardDefinition{
		Key: "daily_pnl", Name: "Daily P&L",
		MetricKey: model.MetricTotalPnl, PeriodType: model.PeriodDaily, IsActive: true,
	})
	require.NoError(t, err)
	require.True(t, created)

	def, err := repo.GetDefinitionByKey(ctx, "daily_pnl")
	require.NoError(t, err)

	day := time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC)
	meta := json.RawMessage(`{}`)

	err = repo.ReplaceSnapshot(ctx, def.ID, day, []model.LeaderboardEntry{
		{UserID: 1, Pseudonym: "Trader-AAAAAAAA", Score: 300, Rank: 1, Metadata: meta},
		{UserID: 2, Pseudonym: "Trader-BBBBBBBB", Score: 200, Rank: 2, Metadata: meta},
	})
	require.NoError(t, err)

	// The duplicate user trips the uniqueness constraint after the delete
	// already ran inside the transaction. The whole replacement must roll
	// back, leaving the prior snapshot fully visible.
	err = repo.ReplaceSnapshot(ctx, def.ID, day, []model.LeaderboardEntry{
		{UserID: 3, Pseudonym: "Trader-CCCCCCCC", Score: 500, Rank: 1, Metadata: meta},
		{UserID: 3, Pseudonym: "Trader-CCCCCCCC", Score: 400, Rank: 2, Metadata: meta},
	})
	require.Error(t, err)

	entries, err := repo.GetSnapshot(ctx, def.ID, day)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, int64(1), entries[0].UserID)
	assert.Equal(t, 300.0, entries[0].Score)
	assert.Equal(t, int64(2), entries[1].UserID)
}

func TestPeerGroupRepository_JoinCapacity(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPeerGroupRepository(pool)
	ctx := context.Background()

	created, err := repo.SeedGroup(ctx, &model.PeerGroup{
		Name: "Tiny Group", Criteria: json.RawMessage(`{"style":"scalper"}`),
		MinMembers: 1, MaxMembers: 2,
	})
	require.NoError(t, err)
	require.True(t, created)

	groups, err := repo.GetAllGroups(ctx)
	require.NoError(t, err)
	require.Len(t, groups, 1)
	groupID := groups[0].ID

	ok, err := repo.Join(ctx, 1, groupID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.Join(ctx, 2, groupID)
	require.NoError(t, err)
	assert.True(t, ok)

	// Full group rejects a third member.
	ok, err = repo.Join(ctx, 3, groupID)
	require.NoError(t, err)
	assert.False(t, ok)

	// Leaving frees a slot.
	err = repo.Leave(ctx, 1, groupID)
	require.NoError(t, err)

	ok, err = repo.Join(ctx, 3, groupID)
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestPeerGroupRepository_DeactivateInactive(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPeerGroupRepository(pool)
	ctx := context.Background()

	_, err := repo.SeedGroup(ctx, &model.PeerGroup{
		Name: "Swing Room", Criteria: json.RawMessage(`{"style":"swing"}`),
		MinMembers: 1, MaxMembers: 10,
	})
	require.NoError(t, err)

	groups, err := repo.GetAllGroups(ctx)
	require.NoError(t, err)
	groupID := groups[0].ID

	ok, err := repo.Join(ctx, 1, groupID)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = repo.Join(ctx, 2, groupID)
	require.NoError(t, err)
	require.True(t, ok)

	now := time.Now().UTC()
	// User 1 traded recently; user 2 has been silent.
	insertClosedTrade(t, pool, 1, 50, now.AddDate(0, 0, -5))
	insertClosedTrade(t, pool, 2, 50, now.AddDate(0, 0, -120))

	purged, err := repo.DeactivateInactiveSince(ctx, now.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, int64(1), purged)

	counts, err := repo.ActiveMemberCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[groupID])
}

func TestTradeRepository_GetPeriodStats(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewTradeRepository(pool)
	ctx := context.Background()

	now := time.Now().UTC()
	insertClosedTrade(t, pool, 1, 100, now.Add(-2*time.Hour))
	insertClosedTrade(t, pool, 1, -50, now.Add(-1*time.Hour))
	insertClosedTrade(t, pool, 2, 200, now.Add(-3*time.Hour))
	// Outside the period.
	insertClosedTrade(t, pool, 1, 999, now.AddDate(0, 0, -30))

	stats, err := repo.GetPeriodStats(ctx, now.AddDate(0, 0, -1), now)
	require.NoError(t, err)
	require.Len(t, stats, 2)

	byUser := map[int64]PeriodStats{}
	for _, s := range stats {
		byUser[s.UserID] = s
	}
	assert.Equal(t, 2, byUser[1].TradeCount)
	assert.InDelta(t, 50.0, byUser[1].TotalPnl, 0.001)
	assert.InDelta(t, 50.0, byUser[1].WinRate, 0.001)
	assert.Equal(t, 1, byUser[2].TradeCount)
	assert.InDelta(t, 100.0, byUser[2].WinRate, 0.001)
}

func TestPrivacyRepository_Defaults(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	repo := NewPrivacyRepository(pool)
	ctx := context.Background()

	// No row yet: everything defaults to visible.
	settings, err := repo.Get(ctx, 77)
	require.NoError(t, err)
	assert.True(t, settings.ShowOnLeaderboards)
	assert.True(t, settings.ParticipateInChallenges)
	assert.True(t, settings.SharedWithPeerGroup)

	_, err = pool.Exec(ctx, `
		INSERT INTO user_privacy_settings (user_id, show_on_leaderboards)
		VALUES (88, FALSE)
	`)
	require.NoError(t, err)

	hidden, err := repo.HiddenFromLeaderboards(ctx)
	require.NoError(t, err)
	assert.True(t, hidden[88])
	assert.False(t, hidden[77])
}
