// Package criteria implements the rule descriptors behind achievements and
// challenges. Each rule is a typed variant parsed once from its JSON
// definition at load time; evaluation is a pure function over a bounded
// trade window and never writes.
package criteria

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Kind identifies one rule variant. The set is closed: Parse rejects
// anything it does not know.
type Kind string

// Immediate rules, trivially satisfied once.
const (
	KindRegistration Kind = "registration"
	KindFirstTrade   Kind = "first_trade"
	KindFirstJournal Kind = "first_journal"
	KindFirstWin     Kind = "first_win"
)

// Count rules over a trailing window.
const (
	KindTradeCount        Kind = "trade_count"
	KindClosedTradeCount  Kind = "closed_trade_count"
	KindWinningTradeCount Kind = "winning_trade_count"
	KindLosingTradeCount  Kind = "losing_trade_count"
	KindLongTradeCount    Kind = "long_trade_count"
	KindShortTradeCount   Kind = "short_trade_count"
	KindSymbolCount       Kind = "symbol_count"
	KindStrategyCount     Kind = "strategy_count"
	KindJournaledCount    Kind = "journaled_count"
	KindTradedDays        Kind = "traded_days"
)

// Sum and single-trade rules.
const (
	KindTotalPnl          Kind = "total_pnl"
	KindTotalVolume       Kind = "total_volume"
	KindSingleTradeProfit Kind = "single_trade_profit"
)

// Ratio and average rules. Every one of these refuses to divide by zero:
// an empty denominator means not earned.
const (
	KindWinRate       Kind = "win_rate"
	KindProfitFactor  Kind = "profit_factor"
	KindAvgPnl        Kind = "avg_pnl"
	KindRiskAdherence Kind = "risk_adherence"
	KindDiscipline    Kind = "discipline"
	KindAvgHoldUnder  Kind = "avg_hold_under"
	KindAvgHoldOver   Kind = "avg_hold_over"
)

// Streak rules.
const (
	KindWinStreak       Kind = "win_streak"
	KindGreenDayStreak  Kind = "green_day_streak"
	KindCleanDayStreak  Kind = "clean_day_streak"
	KindJournaledStreak Kind = "journaled_streak"
)

// Behavioral and guardrail rules.
const (
	KindRevengeFreeDays Kind = "revenge_free_days"
	KindDailyTradeCap   Kind = "daily_trade_cap"
	KindComebackWin     Kind = "comeback_win"
)

// Free-text heuristics. Best-effort legacy rules: they substring-match
// trade notes and have no structured backing field.
const (
	KindNotesContain   Kind = "notes_contain"
	KindNotesMinLength Kind = "notes_min_length"
)

// Community aggregate rule, only meaningful for community challenges.
const (
	KindCommunityImprovement Kind = "community_improvement"
)

// Result carries what a satisfied rule measured, for ledger metadata and
// client display.
type Result struct {
	// Value is the measured quantity that crossed the threshold.
	Value float64
	// SampleSize is the number of trades (or days) the measurement used.
	SampleSize int
}

// Metadata renders the result for the award ledger's JSONB column.
func (r Result) Metadata() json.RawMessage {
	raw, err := json.Marshal(map[string]any{
		"value":       r.Value,
		"sample_size": r.SampleSize,
	})
	if err != nil {
		return nil
	}
	return raw
}

// Criteria is one parsed rule. Evaluate returns the measurement and whether
// the rule is satisfied; it must be side-effect free.
type Criteria interface {
	Kind() Kind
	Evaluate(w *Window) (Result, bool)
}

// ProgressMeasurer is implemented by rules that can report a raw progress
// value toward a target, which is how the challenge tracker uses them.
type ProgressMeasurer interface {
	Progress(w *Window) float64
}

// Parse errors.
var (
	ErrUnknownKind   = errors.New("unknown criteria kind")
	ErrInvalidParams = errors.New("invalid criteria params")
)

// envelope is the outer JSON shape: {"type": "...", ...params}.
type envelope struct {
	Type Kind `json:"type"`
}

// Parse decodes a JSON rule descriptor into its typed variant. Definitions
// are parsed exactly once at load time; evaluation never re-reads JSON.
func Parse(raw json.RawMessage) (Criteria, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, fmt.Errorf("failed to parse criteria envelope: %w", err)
	}

	var c Criteria
	switch env.Type {
	case KindRegistration, KindFirstTrade, KindFirstJournal, KindFirstWin:
		c = &Immediate{Variant: env.Type}
	case KindTradeCount, KindClosedTradeCount, KindWinningTradeCount,
		KindLosingTradeCount, KindLongTradeCount, KindShortTradeCount,
		KindSymbolCount, KindStrategyCount, KindJournaledCount, KindTradedDays:
		c = &Count{Variant: env.Type}
	case KindTotalPnl, KindTotalVolume, KindSingleTradeProfit:
		c = &Sum{Variant: env.Type}
	case KindWinRate:
		c = &WinRateRule{}
	case KindProfitFactor:
		c = &ProfitFactorRule{}
	case KindAvgPnl:
		c = &AvgPnlRule{}
	case KindRiskAdherence:
		c = &RiskAdherenceRule{}
	case KindDiscipline:
		c = &DisciplineRule{}
	case KindAvgHoldUnder, KindAvgHoldOver:
		c = &HoldTimeRule{Variant: env.Type}
	case KindWinStreak, KindGreenDayStreak, KindCleanDayStreak, KindJournaledStreak:
		c = &Streak{Variant: env.Type}
	case KindRevengeFreeDays:
		c = &RevengeFreeRule{}
	case KindDailyTradeCap:
		c = &DailyTradeCapRule{}
	case KindComebackWin:
		c = &ComebackRule{}
	case KindNotesContain:
		c = &NotesContainRule{}
	case KindNotesMinLength:
		c = &NotesMinLengthRule{}
	case KindCommunityImprovement:
		c = &CommunityImprovementRule{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, env.Type)
	}

	if err := json.Unmarshal(raw, c); err != nil {
		return nil, fmt.Errorf("failed to parse %s params: %w", env.Type, err)
	}
	if v, ok := c.(interface{ validate() error }); ok {
		if err := v.validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrInvalidParams, env.Type, err)
		}
	}
	return c, nil
}

// MustParse is a test helper that panics on parse failure.
func MustParse(raw string) Criteria {
	c, err := Parse(json.RawMessage(raw))
	if err != nil {
		panic(err)
	}
	return c
}
