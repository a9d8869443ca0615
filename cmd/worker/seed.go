package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/rs/zerolog/log"

	"journal-gamification/internal/model"
	"journal-gamification/internal/repository"
)

// seedCatalog inserts the built-in achievement, leaderboard and peer group
// definitions. Every insert is keyed ON CONFLICT DO NOTHING, so reruns and
// rolling restarts are safe and admin-added rows are never touched.
func seedCatalog(
	ctx context.Context,
	achievementRepo *repository.AchievementRepository,
	leaderboardRepo *repository.LeaderboardRepository,
	peerGroupRepo *repository.PeerGroupRepository,
) error {
	seeded := 0
	for _, def := range builtinAchievements() {
		created, err := achievementRepo.SeedDefinition(ctx, &def)
		if err != nil {
			return fmt.Errorf("failed to seed achievement %q: %w", def.Key, err)
		}
		if created {
			seeded++
		}
	}

	for _, def := range builtinLeaderboards() {
		created, err := leaderboardRepo.SeedDefinition(ctx, &def)
		if err != nil {
			return fmt.Errorf("failed to seed leaderboard %q: %w", def.Key, err)
		}
		if created {
			seeded++
		}
	}

	for _, g := range builtinPeerGroups() {
		created, err := peerGroupRepo.SeedGroup(ctx, &g)
		if err != nil {
			return fmt.Errorf("failed to seed peer group %q: %w", g.Name, err)
		}
		if created {
			seeded++
		}
	}

	log.Info().Int("new_rows", seeded).Msg("Built-in catalog seeded")
	return nil
}

func criteriaJSON(kind string, params map[string]any) json.RawMessage {
	m := map[string]any{"type": kind}
	for k, v := range params {
		m[k] = v
	}
	raw, err := json.Marshal(m)
	if err != nil {
		panic(err)
	}
	return raw
}

func builtinAchievements() []model.AchievementDefinition {
	progress := func(v float64) *float64 { return &v }

	return []model.AchievementDefinition{
		// Milestones
		{
			Key: "first_trade", Name: "First Steps", Description: "Log your first trade.",
			Category: model.CategoryMilestone, Difficulty: model.DifficultyBeginner, Points: 10,
			Criteria: criteriaJSON("first_trade", nil), IsActive: true,
		},
		{
			Key: "first_win", Name: "Off the Mark", Description: "Close your first winning trade.",
			Category: model.CategoryMilestone, Difficulty: model.DifficultyBeginner, Points: 15,
			Criteria: criteriaJSON("first_win", nil), IsActive: true,
		},
		{
			Key: "trades_100", Name: "Centurion", Description: "Log 100 trades.",
			Category: model.CategoryMilestone, Difficulty: model.DifficultyIntermediate, Points: 50,
			Criteria:    criteriaJSON("trade_count", map[string]any{"threshold": 100}),
			MaxProgress: progress(100), IsActive: true,
		},
		{
			Key: "symbols_10", Name: "Explorer", Description: "Trade 10 different symbols.",
			Category: model.CategoryMilestone, Difficulty: model.DifficultyIntermediate, Points: 25,
			Criteria:    criteriaJSON("symbol_count", map[string]any{"threshold": 10}),
			MaxProgress: progress(10), IsActive: true,
		},

		// Performance
		{
			Key: "win_rate_60_30d", Name: "Sharpshooter", Description: "Hold a 60% win rate over 30 days.",
			Category: model.CategoryPerformance, Difficulty: model.DifficultyAdvanced, Points: 75,
			Criteria: criteriaJSON("win_rate", map[string]any{"threshold_pct": 60, "days": 30, "min_trades": 10}),
			IsActive: true,
		},
		{
			Key: "profit_factor_2_90d", Name: "Edge Keeper", Description: "Keep a profit factor of 2 over 90 days.",
			Category: model.CategoryPerformance, Difficulty: model.DifficultyExpert, Points: 100,
			Criteria: criteriaJSON("profit_factor", map[string]any{"threshold": 2, "days": 90, "min_trades": 20}),
			IsActive: true,
		},
		{
			Key: "comeback_win", Name: "Comeback", Description: "Close a winner after three straight losses.",
			Category: model.CategoryPerformance, Difficulty: model.DifficultyIntermediate, Points: 30,
			Criteria: criteriaJSON("comeback_win", map[string]any{"min_losses": 3}), IsActive: true,
		},

		// Consistency
		{
			Key: "green_days_5", Name: "Green Week", Description: "Five profitable trading days in a row.",
			Category: model.CategoryConsistency, Difficulty: model.DifficultyAdvanced, Points: 60,
			Criteria:    criteriaJSON("green_day_streak", map[string]any{"length": 5}),
			MaxProgress: progress(5), IsActive: true,
		},
		{
			Key: "win_streak_7", Name: "Hot Hand", Description: "Seven winning trades in a row.",
			Category: model.CategoryConsistency, Difficulty: model.DifficultyExpert, Points: 90,
			Criteria:    criteriaJSON("win_streak", map[string]any{"length": 7}),
			MaxProgress: progress(7), IsActive: true,
		},
		{
			Key: "journaled_streak_14", Name: "Diligent Scribe", Description: "Journal every trading day for two weeks.",
			Category: model.CategoryConsistency, Difficulty: model.DifficultyIntermediate, Points: 40,
			Criteria:    criteriaJSON("journaled_streak", map[string]any{"length": 14}),
			MaxProgress: progress(14), IsActive: true,
		},

		// Discipline
		{
			Key: "discipline_85_30d", Name: "Iron Discipline", Description: "Keep an 85% discipline score over 30 days.",
			Category: model.CategoryDiscipline, Difficulty: model.DifficultyExpert, Points: 100,
			Criteria: criteriaJSON("discipline", map[string]any{"threshold_pct": 85, "days": 30}),
			IsActive: true,
		},
		{
			Key: "revenge_free_30d", Name: "Cool Head", Description: "Thirty days without a revenge trade.",
			Category: model.CategoryDiscipline, Difficulty: model.DifficultyAdvanced, Points: 70,
			Criteria: criteriaJSON("revenge_free_days", map[string]any{"days": 30}), IsActive: true,
		},
		{
			Key: "risk_adherence_90_30d", Name: "Risk Manager", Description: "Stay within planned risk on 90% of trades over 30 days.",
			Category: model.CategoryDiscipline, Difficulty: model.DifficultyAdvanced, Points: 80,
			Criteria: criteriaJSON("risk_adherence", map[string]any{"threshold_pct": 90, "days": 30, "min_trades": 10}),
			IsActive: true,
		},

		// Learning
		{
			Key: "journaled_50", Name: "Note Taker", Description: "Write notes on 50 trades.",
			Category: model.CategoryLearning, Difficulty: model.DifficultyIntermediate, Points: 35,
			Criteria:    criteriaJSON("journaled_count", map[string]any{"threshold": 50}),
			MaxProgress: progress(50), IsActive: true,
		},
		{
			Key: "lesson_logged", Name: "Student of the Market", Description: "Record a lesson learned in your notes.",
			Category: model.CategoryLearning, Difficulty: model.DifficultyBeginner, Points: 10,
			Criteria:     criteriaJSON("notes_contain", map[string]any{"term": "lesson", "threshold": 1}),
			IsRepeatable: true, IsActive: true,
		},
	}
}

func builtinLeaderboards() []model.LeaderboardDefinition {
	return []model.LeaderboardDefinition{
		{Key: "daily_pnl", Name: "Daily P&L", MetricKey: model.MetricTotalPnl, PeriodType: model.PeriodDaily, MinParticipants: 3, IsActive: true},
		{Key: "weekly_pnl", Name: "Weekly P&L", MetricKey: model.MetricTotalPnl, PeriodType: model.PeriodWeekly, MinParticipants: 3, IsActive: true},
		{Key: "weekly_win_rate", Name: "Weekly Win Rate", MetricKey: model.MetricWinRate, PeriodType: model.PeriodWeekly, MinParticipants: 3, IsActive: true},
		{Key: "monthly_volume", Name: "Monthly Volume", MetricKey: model.MetricVolume, PeriodType: model.PeriodMonthly, MinParticipants: 3, IsActive: true},
		{Key: "monthly_consistency", Name: "Monthly Consistency", MetricKey: model.MetricConsistency, PeriodType: model.PeriodMonthly, MinParticipants: 5, IsActive: true},
	}
}

func builtinPeerGroups() []model.PeerGroup {
	groupCriteria := func(style, size, volatility string) json.RawMessage {
		m := map[string]string{}
		if style != "" {
			m["style"] = style
		}
		if size != "" {
			m["size_tier"] = size
		}
		if volatility != "" {
			m["volatility_tier"] = volatility
		}
		raw, err := json.Marshal(m)
		if err != nil {
			panic(err)
		}
		return raw
	}

	return []model.PeerGroup{
		{Name: "Scalpers Circle", Criteria: groupCriteria("scalper", "", ""), MinMembers: 5, MaxMembers: 50},
		{Name: "Day Trader Desk", Criteria: groupCriteria("day_trader", "", ""), MinMembers: 5, MaxMembers: 50},
		{Name: "Swing Room", Criteria: groupCriteria("swing", "", ""), MinMembers: 5, MaxMembers: 50},
		{Name: "Position Club", Criteria: groupCriteria("position", "", ""), MinMembers: 5, MaxMembers: 50},
		{Name: "Small Accounts", Criteria: groupCriteria("", "small", ""), MinMembers: 5, MaxMembers: 50},
		{Name: "Size Traders", Criteria: groupCriteria("", "large", ""), MinMembers: 5, MaxMembers: 30},
		{Name: "Steady Hands", Criteria: groupCriteria("", "", "low"), MinMembers: 5, MaxMembers: 50},
		{Name: "High Octane", Criteria: groupCriteria("", "", "high"), MinMembers: 5, MaxMembers: 30},
	}
}
