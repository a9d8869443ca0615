// Package main is the entry point for the gamification worker.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"journal-gamification/internal/config"
	"journal-gamification/internal/notify"
	"journal-gamification/internal/pkg/cache"
	"journal-gamification/internal/pkg/db"
	"journal-gamification/internal/pkg/lock"
	"journal-gamification/internal/repository"
	"journal-gamification/internal/service"
	"journal-gamification/internal/worker"
)

func main() {
	// Configure zerolog
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	// Load configuration
	cfg, err := config.Load("config")
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to load configuration")
	}

	log.Info().Msg("Configuration loaded successfully")

	// Create context for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize database connection pool
	dbPool, err := db.NewPool(ctx, &cfg.Database)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to database")
	}
	defer dbPool.Close()

	// Run database migrations
	if err := runMigrations(ctx, dbPool); err != nil {
		log.Fatal().Err(err).Msg("Failed to run database migrations")
	}

	// Initialize Redis. The worker degrades to log-only event dispatch and
	// uncached snapshot reads when Redis is unavailable.
	var dispatcher notify.Dispatcher = notify.NewLogDispatcher()
	redisClient, err := cache.NewClient(ctx, &cfg.Redis)
	if err != nil {
		log.Error().Err(err).Msg("Redis unavailable, events go to log only")
		redisClient = nil
	} else {
		defer redisClient.Close()
		dispatcher = notify.NewRedisDispatcher(redisClient)
	}

	// Initialize repositories
	tradeRepo := repository.NewTradeRepository(dbPool.Pool)
	privacyRepo := repository.NewPrivacyRepository(dbPool.Pool)
	achievementRepo := repository.NewAchievementRepository(dbPool.Pool)
	statsRepo := repository.NewStatsRepository(dbPool.Pool)
	challengeRepo := repository.NewChallengeRepository(dbPool.Pool)
	leaderboardRepo := repository.NewLeaderboardRepository(dbPool.Pool)
	peerGroupRepo := repository.NewPeerGroupRepository(dbPool.Pool)

	// Seed the built-in catalog
	if err := seedCatalog(ctx, achievementRepo, leaderboardRepo, peerGroupRepo); err != nil {
		log.Fatal().Err(err).Msg("Failed to seed catalog")
	}

	// Initialize user lock
	userLock := lock.NewUserLock()

	// Initialize services
	achievementService := service.NewAchievementService(
		achievementRepo,
		statsRepo,
		tradeRepo,
		dispatcher,
		userLock,
		cfg.Evaluation.TradeWindowDays,
		cfg.Evaluation.LockTimeout,
	)
	if err := achievementService.RefreshDefinitions(ctx); err != nil {
		log.Fatal().Err(err).Msg("Failed to load achievement definitions")
	}

	challengeService := service.NewChallengeService(
		challengeRepo,
		achievementRepo,
		privacyRepo,
		tradeRepo,
		dispatcher,
	)

	leaderboardService := service.NewLeaderboardService(
		leaderboardRepo,
		tradeRepo,
		privacyRepo,
		redisClient,
		cfg.Leaderboards.CacheTTL,
		cfg.Leaderboards.CacheTopN,
	)

	peerGroupService := service.NewPeerGroupService(
		peerGroupRepo,
		tradeRepo,
		privacyRepo,
		cfg.PeerGroups.InactivityDays,
		cfg.PeerGroups.MaxGroupsPerUser,
	)

	// Assemble the background jobs
	runner := worker.NewRunner(
		worker.Job{
			Name:     "challenge_progress",
			Interval: cfg.Challenges.ProgressInterval,
			Run: func(ctx context.Context) error {
				_, err := challengeService.RunProgressPass(ctx, time.Now().UTC())
				return err
			},
		},
		worker.Job{
			Name:     "challenge_expiry",
			Interval: cfg.Challenges.ExpiryInterval,
			Run: func(ctx context.Context) error {
				_, err := challengeService.RunExpirySweep(ctx, time.Now().UTC())
				return err
			},
		},
		worker.Job{
			Name:     "leaderboard_compile",
			Interval: cfg.Leaderboards.CompileInterval,
			Run: func(ctx context.Context) error {
				return leaderboardService.CompileAll(ctx, time.Now().UTC())
			},
		},
		worker.Job{
			Name:     "peer_group_assign",
			Interval: cfg.PeerGroups.AssignInterval,
			Run: func(ctx context.Context) error {
				_, err := peerGroupService.AssignActiveUsers(ctx, time.Now().UTC())
				return err
			},
		},
		worker.Job{
			Name:     "peer_group_maintenance",
			Interval: cfg.PeerGroups.MaintenanceInterval,
			Run: func(ctx context.Context) error {
				return peerGroupService.RunMaintenance(ctx, time.Now().UTC())
			},
		},
	)

	// Setup graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	runner.Start(ctx)

	// Wait for shutdown signal
	sig := <-sigChan
	log.Info().Str("signal", sig.String()).Msg("Received shutdown signal")

	cancel()
	runner.Wait()
	log.Info().Msg("Worker stopped gracefully")
}

// runMigrations executes database migrations.
func runMigrations(ctx context.Context, pool *db.Pool) error {
	log.Info().Msg("Running database migrations...")

	// Migration 1: source trade journal (read-only for this service, but
	// the worker owns the schema in standalone deployments)
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
		CREATE INDEX IF NOT EXISTS idx_trades_user_entry ON trades(user_id, entry_time DESC);
		CREATE INDEX IF NOT EXISTS idx_trades_exit_time ON trades(exit_time) WHERE exit_time IS NOT NULL;
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 1: trades table created")

	// Migration 2: privacy settings
	_, err = pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS user_privacy_settings (
			user_id BIGINT PRIMARY KEY,
			show_on_leaderboards BOOLEAN NOT NULL DEFAULT TRUE,
			participate_in_challenges BOOLEAN NOT NULL DEFAULT TRUE,
			share_with_peer_group BOOLEAN NOT NULL DEFAULT TRUE,
			visible_metrics TEXT[] NOT NULL DEFAULT '{}'
		);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 2: user_privacy_settings table created")

	// Migration 3: achievement catalog and award ledger. The unique pair
	// constraint on user_achievements is the double-award defense.
	_, err = pool.Exec(ctx, `
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
		CREATE INDEX IF NOT EXISTS idx_user_achievements_user ON user_achievements(user_id);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 3: achievement tables created")

	// Migration 4: per-user aggregate stats
	_, err = pool.Exec(ctx, `
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
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 4: user_gamification_stats table created")

	// Migration 5: challenges
	_, err = pool.Exec(ctx, `
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
		CREATE INDEX IF NOT EXISTS idx_user_challenges_status ON user_challenges(challenge_id, status);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 5: challenge tables created")

	// Migration 6: leaderboards
	_, err = pool.Exec(ctx, `
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
		CREATE INDEX IF NOT EXISTS idx_leaderboard_entries_rank
			ON leaderboard_entries(leaderboard_id, snapshot_date, rank);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 6: leaderboard tables created")

	// Migration 7: peer groups
	_, err = pool.Exec(ctx, `
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
		CREATE INDEX IF NOT EXISTS idx_user_peer_groups_group ON user_peer_groups(group_id, is_active);
	`)
	if err != nil {
		return err
	}
	log.Info().Msg("Migration 7: peer group tables created")

	log.Info().Msg("All migrations completed successfully")
	return nil
}
