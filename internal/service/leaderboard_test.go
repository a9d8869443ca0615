package service

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"journal-gamification/internal/model"
	"journal-gamification/internal/repository"
)

func TestConsistencyScore(t *testing.T) {
	tests := []struct {
		name      string
		avgPnl    float64
		stddevPnl float64
		winRate   float64
		avgVolume float64
		expected  float64
	}{
		{"flat pnl series scores zero", 50, 0, 100, 10_000, 0},
		{"losing trader clamps to zero", -20, 10, 30, 5_000, 0},
		{"small volume has no amplifier", 50, 25, 60, 500, (50.0 / 25.0) * 0.6},
		{"volume term amplifies", 50, 25, 60, 10_000, (50.0 / 25.0) * 0.6 * (1 + math.Log(10))},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ConsistencyScore(tt.avgPnl, tt.stddevPnl, tt.winRate, tt.avgVolume)
			assert.InDelta(t, tt.expected, got, 0.0001)
		})
	}
}

func TestPseudonym_StableAndAnonymous(t *testing.T) {
	a := Pseudonym(42)
	b := Pseudonym(42)
	c := Pseudonym(43)

	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Regexp(t, `^Trader-[0-9A-F]{8}$`, a)
	assert.NotContains(t, a, "42")
}

func TestPseudonym_NoCollisionsAcrossSmallCohort(t *testing.T) {
	seen := make(map[string]int64)
	for id := int64(1); id <= 5000; id++ {
		p := Pseudonym(id)
		prev, dup := seen[p]
		require.False(t, dup, "users %d and %d share pseudonym %s", prev, id, p)
		seen[p] = id
	}
}

func TestBuildEntries_RankingAndPrivacy(t *testing.T) {
	def := &model.LeaderboardDefinition{
		ID: 1, MetricKey: model.MetricTotalPnl,
	}
	stats := []repository.PeriodStats{
		{UserID: 1, TradeCount: 5, TotalPnl: 100},
		{UserID: 2, TradeCount: 5, TotalPnl: 300},
		{UserID: 3, TradeCount: 5, TotalPnl: 200},
		{UserID: 4, TradeCount: 5, TotalPnl: 999}, // hidden
	}
	hidden := map[int64]bool{4: true}

	entries, err := buildEntries(def, stats, hidden)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// Hidden users do not occupy a rank.
	assert.Equal(t, int64(2), entries[0].UserID)
	assert.Equal(t, 1, entries[0].Rank)
	assert.Equal(t, int64(3), entries[1].UserID)
	assert.Equal(t, 2, entries[1].Rank)
	assert.Equal(t, int64(1), entries[2].UserID)
	assert.Equal(t, 3, entries[2].Rank)

	for _, e := range entries {
		assert.NotEmpty(t, e.Pseudonym)
	}
}

func TestBuildEntries_TiesBreakDeterministically(t *testing.T) {
	def := &model.LeaderboardDefinition{ID: 1, MetricKey: model.MetricTotalPnl}
	stats := []repository.PeriodStats{
		{UserID: 9, TotalPnl: 100},
		{UserID: 2, TotalPnl: 100},
		{UserID: 5, TotalPnl: 100},
	}

	entries, err := buildEntries(def, stats, nil)
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, int64(2), entries[0].UserID)
	assert.Equal(t, int64(5), entries[1].UserID)
	assert.Equal(t, int64(9), entries[2].UserID)
}

func TestBuildEntries_ConsistencyGate(t *testing.T) {
	def := &model.LeaderboardDefinition{ID: 1, MetricKey: model.MetricConsistency}
	stats := []repository.PeriodStats{
		// Too few trades for the composite to be meaningful.
		{UserID: 1, TradeCount: 5, AvgPnl: 50, StddevPnl: 10, WinRate: 80, AvgVolume: 5000},
		{UserID: 2, TradeCount: 20, AvgPnl: 50, StddevPnl: 10, WinRate: 80, AvgVolume: 5000},
	}

	entries, err := buildEntries(def, stats, nil)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(2), entries[0].UserID)
}

func TestBuildEntries_UnknownMetric(t *testing.T) {
	def := &model.LeaderboardDefinition{ID: 1, MetricKey: "sharpe_ratio"}
	_, err := buildEntries(def, []repository.PeriodStats{{UserID: 1}}, nil)
	assert.ErrorIs(t, err, ErrUnknownMetric)
}

func TestPeriodBounds(t *testing.T) {
	// A Sunday.
	now := time.Date(2026, 8, 30, 15, 30, 0, 0, time.UTC)

	from, to := periodBounds(model.PeriodDaily, now)
	assert.Equal(t, time.Date(2026, 8, 30, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), to)

	// Week starts on the preceding Monday.
	from, to = periodBounds(model.PeriodWeekly, now)
	assert.Equal(t, time.Date(2026, 8, 24, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 8, 31, 0, 0, 0, 0, time.UTC), to)

	from, to = periodBounds(model.PeriodMonthly, now)
	assert.Equal(t, time.Date(2026, 8, 1, 0, 0, 0, 0, time.UTC), from)
	assert.Equal(t, time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC), to)
}
