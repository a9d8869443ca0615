// Package model defines the data models for the trading journal
// gamification engine.
package model

import (
	"encoding/json"
	"time"
)

// AchievementDefinition describes one earnable achievement. Definitions are
// immutable after creation; admins add new ones rather than editing old ones.
type AchievementDefinition struct {
	ID           int64           `db:"id"`
	Key          string          `db:"key"`
	Name         string          `db:"name"`
	Description  string          `db:"description"`
	Category     string          `db:"category"`
	Difficulty   string          `db:"difficulty"`
	Points       int64           `db:"points"`
	Criteria     json.RawMessage `db:"criteria"`
	IsRepeatable bool            `db:"is_repeatable"`
	MaxProgress  *float64        `db:"max_progress"`
	IsActive     bool            `db:"is_active"`
	CreatedAt    time.Time       `db:"created_at"`
}

// UserAchievement is one row of the award ledger. EarnedAt null means the
// achievement is in progress; non-null is terminal. Non-repeatable
// achievements have at most one row per (user, achievement); repeatable ones
// reuse the row and bump TimesEarned.
type UserAchievement struct {
	ID            int64           `db:"id"`
	UserID        int64           `db:"user_id"`
	AchievementID int64           `db:"achievement_id"`
	Progress      *float64        `db:"progress"`
	TimesEarned   int             `db:"times_earned"`
	EarnedAt      *time.Time      `db:"earned_at"`
	Metadata      json.RawMessage `db:"metadata"`
	CreatedAt     time.Time       `db:"created_at"`
}

// Earned reports whether the row is in the terminal earned state.
func (ua *UserAchievement) Earned() bool {
	return ua.EarnedAt != nil
}

// UserGamificationStats is the per-user aggregate row, created lazily on
// first interaction. TotalPoints is the XP ground truth; level is always
// derived from it and never stored.
type UserGamificationStats struct {
	UserID           int64      `db:"user_id"`
	TotalPoints      int64      `db:"total_points"`
	AchievementCount int        `db:"achievement_count"`
	ChallengeCount   int        `db:"challenge_count"`
	CurrentStreak    int        `db:"current_streak"`
	LongestStreak    int        `db:"longest_streak"`
	LastActivityDate *time.Time `db:"last_activity_date"`
	UpdatedAt        time.Time  `db:"updated_at"`
}

// ChallengeDefinition describes one time-boxed challenge with a [Start, End)
// window.
type ChallengeDefinition struct {
	ID                int64           `db:"id"`
	Key               string          `db:"key"`
	Name              string          `db:"name"`
	Description       string          `db:"description"`
	Criteria          json.RawMessage `db:"criteria"`
	StartDate         time.Time       `db:"start_date"`
	EndDate           time.Time       `db:"end_date"`
	TargetValue       float64         `db:"target_value"`
	RewardPoints      int64           `db:"reward_points"`
	RewardAchievement *int64          `db:"reward_achievement_id"`
	IsCommunity       bool            `db:"is_community"`
	CreatedAt         time.Time       `db:"created_at"`
}

// WindowContains reports whether t falls inside the challenge window.
func (c *ChallengeDefinition) WindowContains(t time.Time) bool {
	return !t.Before(c.StartDate) && t.Before(c.EndDate)
}

// UserChallenge challenge statuses. Completed and expired are terminal.
const (
	ChallengeStatusActive    = "active"
	ChallengeStatusCompleted = "completed"
	ChallengeStatusExpired   = "expired"
)

// UserChallenge tracks one user's enrollment in one challenge. Progress is
// monotonic while active and equals TargetValue at the moment the status
// becomes completed.
type UserChallenge struct {
	ID          int64      `db:"id"`
	UserID      int64      `db:"user_id"`
	ChallengeID int64      `db:"challenge_id"`
	Status      string     `db:"status"`
	Progress    float64    `db:"progress"`
	StartedAt   time.Time  `db:"started_at"`
	CompletedAt *time.Time `db:"completed_at"`
}

// Terminal reports whether the challenge row can no longer transition.
func (uc *UserChallenge) Terminal() bool {
	return uc.Status == ChallengeStatusCompleted || uc.Status == ChallengeStatusExpired
}

// Leaderboard period types.
const (
	PeriodDaily   = "daily"
	PeriodWeekly  = "weekly"
	PeriodMonthly = "monthly"
	PeriodAllTime = "all_time"
	PeriodCustom  = "custom"
)

// Leaderboard metric keys understood by the compiler.
const (
	MetricTotalPnl    = "total_pnl"
	MetricWinRate     = "win_rate"
	MetricTradeCount  = "trade_count"
	MetricVolume      = "volume"
	MetricConsistency = "consistency_score"
)

// LeaderboardDefinition describes one compiled ranking.
type LeaderboardDefinition struct {
	ID              int64     `db:"id"`
	Key             string    `db:"key"`
	Name            string    `db:"name"`
	MetricKey       string    `db:"metric_key"`
	PeriodType      string    `db:"period_type"`
	MinParticipants int       `db:"min_participants"`
	IsActive        bool      `db:"is_active"`
	CreatedAt       time.Time `db:"created_at"`
}

// LeaderboardEntry is one row of a daily snapshot. The full entry set for a
// (leaderboard, day) pair is only ever replaced atomically.
type LeaderboardEntry struct {
	ID            int64           `db:"id"`
	LeaderboardID int64           `db:"leaderboard_id"`
	SnapshotDate  time.Time       `db:"snapshot_date"`
	UserID        int64           `db:"user_id"`
	Pseudonym     string          `db:"pseudonym"`
	Score         float64         `db:"score"`
	Rank          int             `db:"rank"`
	Metadata      json.RawMessage `db:"metadata"`
	CreatedAt     time.Time       `db:"created_at"`
}

// PeerGroup is a cohort of users with similar trading-style features.
type PeerGroup struct {
	ID         int64           `db:"id"`
	Name       string          `db:"name"`
	Criteria   json.RawMessage `db:"criteria"`
	MinMembers int             `db:"min_members"`
	MaxMembers int             `db:"max_members"`
	CreatedAt  time.Time       `db:"created_at"`
}

// UserPeerGroup is one group membership.
type UserPeerGroup struct {
	ID       int64     `db:"id"`
	UserID   int64     `db:"user_id"`
	GroupID  int64     `db:"group_id"`
	IsActive bool      `db:"is_active"`
	JoinedAt time.Time `db:"joined_at"`
}

// Trade sides.
const (
	TradeSideLong  = "long"
	TradeSideShort = "short"
)

// Trade is a read-only view of one journal trade. This service never writes
// trades. ExitPrice / ExitTime null means the position is still open; P&L
// based evaluation only considers closed trades.
type Trade struct {
	ID           int64      `db:"id"`
	UserID       int64      `db:"user_id"`
	Symbol       string     `db:"symbol"`
	Side         string     `db:"side"`
	Quantity     float64    `db:"quantity"`
	EntryPrice   float64    `db:"entry_price"`
	EntryTime    time.Time  `db:"entry_time"`
	ExitPrice    *float64   `db:"exit_price"`
	ExitTime     *time.Time `db:"exit_time"`
	Pnl          *float64   `db:"pnl"`
	Strategy     *string    `db:"strategy"`
	Notes        *string    `db:"notes"`
	RiskPlanned  *float64   `db:"risk_planned"`
	FavorablePct *float64   `db:"favorable_pct"`
	RevengeFlag  bool       `db:"revenge_flag"`
}

// Closed reports whether the trade has a recorded exit.
func (t *Trade) Closed() bool {
	return t.ExitTime != nil && t.Pnl != nil
}

// Win reports whether the trade closed with positive P&L.
func (t *Trade) Win() bool {
	return t.Closed() && *t.Pnl > 0
}

// HoldDuration returns how long the position was held. Zero for open trades.
func (t *Trade) HoldDuration() time.Duration {
	if t.ExitTime == nil {
		return 0
	}
	return t.ExitTime.Sub(t.EntryTime)
}

// Notional returns the entry notional value of the trade.
func (t *Trade) Notional() float64 {
	return t.Quantity * t.EntryPrice
}

// PrivacySettings are per-user visibility flags consulted before any
// cross-user surface. Read-only for this service.
type PrivacySettings struct {
	UserID                  int64    `db:"user_id"`
	ShowOnLeaderboards      bool     `db:"show_on_leaderboards"`
	ParticipateInChallenges bool     `db:"participate_in_challenges"`
	SharedWithPeerGroup     bool     `db:"share_with_peer_group"`
	VisibleMetrics          []string `db:"visible_metrics"`
}

// Achievement categories.
const (
	CategoryMilestone   = "milestone"
	CategoryPerformance = "performance"
	CategoryConsistency = "consistency"
	CategoryDiscipline  = "discipline"
	CategoryLearning    = "learning"
)

// Achievement difficulties.
const (
	DifficultyBeginner     = "beginner"
	DifficultyIntermediate = "intermediate"
	DifficultyAdvanced     = "advanced"
	DifficultyExpert       = "expert"
)
