// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"journal-gamification/internal/model"
)

// TradeRepository reads trade history recorded by the journal. This service
// never writes trades.
type TradeRepository struct {
	pool *pgxpool.Pool
}

// NewTradeRepository creates a new TradeRepository instance.
func NewTradeRepository(pool *pgxpool.Pool) *TradeRepository {
	return &TradeRepository{pool: pool}
}

const tradeColumns = `
	id, user_id, symbol, side, quantity, entry_price, entry_time,
	exit_price, exit_time, pnl, strategy, notes, risk_planned,
	favorable_pct, revenge_flag
`

func scanTrade(row interface{ Scan(...any) error }) (*model.Trade, error) {
	var t model.Trade
	err := row.Scan(
		&t.ID,
		&t.UserID,
		&t.Symbol,
		&t.Side,
		&t.Quantity,
		&t.EntryPrice,
		&t.EntryTime,
		&t.ExitPrice,
		&t.ExitTime,
		&t.Pnl,
		&t.Strategy,
		&t.Notes,
		&t.RiskPlanned,
		&t.FavorablePct,
		&t.RevengeFlag,
	)
	if err != nil {
		return nil, err
	}
	return &t, nil
}

// GetByUserSince retrieves a user's trades entered at or after the cutoff,
// ordered by entry time ascending. A zero cutoff returns the full history.
func (r *TradeRepository) GetByUserSince(ctx context.Context, userID int64, since time.Time) ([]model.Trade, error) {
	query := `
		SELECT ` + tradeColumns + `
		FROM trades
		WHERE user_id = $1 AND entry_time >= $2
		ORDER BY entry_time ASC
	`

	rows, err := r.pool.Query(ctx, query, userID, since)
	if err != nil {
		return nil, fmt.Errorf("failed to get trades: %w", err)
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		t, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade: %w", err)
		}
		trades = append(trades, *t)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trades: %w", err)
	}

	return trades, nil
}

// CountClosedByUser returns the number of closed trades a user has recorded
// in total.
func (r *TradeRepository) CountClosedByUser(ctx context.Context, userID int64) (int, error) {
	const query = `
		SELECT COUNT(*)
		FROM trades
		WHERE user_id = $1 AND exit_time IS NOT NULL AND pnl IS NOT NULL
	`

	var count int
	if err := r.pool.QueryRow(ctx, query, userID).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count closed trades: %w", err)
	}
	return count, nil
}

// ActiveUserIDs returns the IDs of users with at least one trade entered in
// the period. Batch passes iterate this set rather than all users ever.
func (r *TradeRepository) ActiveUserIDs(ctx context.Context, from, to time.Time) ([]int64, error) {
	const query = `
		SELECT DISTINCT user_id
		FROM trades
		WHERE entry_time >= $1 AND entry_time < $2
		ORDER BY user_id
	`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get active users: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating user ids: %w", err)
	}

	return ids, nil
}

// PeriodStats is a per-user aggregate over closed trades in one period,
// used by the leaderboard compiler.
type PeriodStats struct {
	UserID     int64
	TradeCount int
	TotalPnl   float64
	AvgPnl     float64
	StddevPnl  float64
	WinRate    float64
	AvgVolume  float64
	Volume     float64
}

// GetPeriodStats aggregates closed trades per user for the period. Users
// without closed trades in the period are absent from the result.
func (r *TradeRepository) GetPeriodStats(ctx context.Context, from, to time.Time) ([]PeriodStats, error) {
	const query = `
		SELECT
			user_id,
			COUNT(*) AS trade_count,
			COALESCE(SUM(pnl), 0) AS total_pnl,
			COALESCE(AVG(pnl), 0) AS avg_pnl,
			COALESCE(STDDEV_POP(pnl), 0) AS stddev_pnl,
			COALESCE(AVG(CASE WHEN pnl > 0 THEN 100.0 ELSE 0.0 END), 0) AS win_rate,
			COALESCE(AVG(quantity * entry_price), 0) AS avg_volume,
			COALESCE(SUM(quantity * entry_price), 0) AS volume
		FROM trades
		WHERE exit_time IS NOT NULL
		  AND pnl IS NOT NULL
		  AND exit_time >= $1
		  AND exit_time < $2
		GROUP BY user_id
	`

	rows, err := r.pool.Query(ctx, query, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to get period stats: %w", err)
	}
	defer rows.Close()

	var stats []PeriodStats
	for rows.Next() {
		var s PeriodStats
		err := rows.Scan(
			&s.UserID,
			&s.TradeCount,
			&s.TotalPnl,
			&s.AvgPnl,
			&s.StddevPnl,
			&s.WinRate,
			&s.AvgVolume,
			&s.Volume,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan period stats: %w", err)
		}
		stats = append(stats, s)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating period stats: %w", err)
	}

	return stats, nil
}

// CohortFilter selects a user cohort from source trade data for filtered
// leaderboard views. Zero values leave a dimension unconstrained.
type CohortFilter struct {
	Strategy  string
	MinVolume float64
	MaxVolume float64
	MinPnl    *float64
	MaxPnl    *float64
}

// SelectCohort returns the user IDs whose closed trades in the period match
// the filter. This is the single canonical cohort definition shared by
// every filtered ranking surface.
func (r *TradeRepository) SelectCohort(ctx context.Context, from, to time.Time, f CohortFilter) ([]int64, error) {
	const query = `
		SELECT user_id
		FROM trades
		WHERE exit_time IS NOT NULL
		  AND pnl IS NOT NULL
		  AND exit_time >= $1
		  AND exit_time < $2
		  AND ($3 = '' OR strategy = $3)
		GROUP BY user_id
		HAVING ($4::float8 <= 0 OR SUM(quantity * entry_price) >= $4)
		   AND ($5::float8 <= 0 OR SUM(quantity * entry_price) <= $5)
		   AND ($6::float8 IS NULL OR SUM(pnl) >= $6)
		   AND ($7::float8 IS NULL OR SUM(pnl) <= $7)
		ORDER BY user_id
	`

	rows, err := r.pool.Query(ctx, query, from, to, f.Strategy, f.MinVolume, f.MaxVolume, f.MinPnl, f.MaxPnl)
	if err != nil {
		return nil, fmt.Errorf("failed to select cohort: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan cohort user id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating cohort: %w", err)
	}

	return ids, nil
}

// StyleFeatures are the per-user aggregates the peer group assigner derives
// trading-style features from.
type StyleFeatures struct {
	UserID        int64
	ClosedTrades  int
	AvgHoldHours  float64
	AvgNotional   float64
	PnlStddev     float64
	LastTradeTime time.Time
}

// GetStyleFeatures aggregates a user's full closed-trade history for style
// feature derivation.
func (r *TradeRepository) GetStyleFeatures(ctx context.Context, userID int64) (*StyleFeatures, error) {
	const query = `
		SELECT
			COUNT(*) AS closed_trades,
			COALESCE(AVG(EXTRACT(EPOCH FROM (exit_time - entry_time)) / 3600.0), 0) AS avg_hold_hours,
			COALESCE(AVG(quantity * entry_price), 0) AS avg_notional,
			COALESCE(STDDEV_POP(pnl), 0) AS pnl_stddev,
			COALESCE(MAX(entry_time), 'epoch'::timestamptz) AS last_trade_time
		FROM trades
		WHERE user_id = $1 AND exit_time IS NOT NULL AND pnl IS NOT NULL
	`

	var f StyleFeatures
	f.UserID = userID
	err := r.pool.QueryRow(ctx, query, userID).Scan(
		&f.ClosedTrades,
		&f.AvgHoldHours,
		&f.AvgNotional,
		&f.PnlStddev,
		&f.LastTradeTime,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get style features: %w", err)
	}
	return &f, nil
}
