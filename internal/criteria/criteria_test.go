package criteria

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"journal-gamification/internal/model"
)

var anchor = time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

type tradeOpt func(*model.Trade)

func withNotes(notes string) tradeOpt {
	return func(t *model.Trade) { t.Notes = &notes }
}

func withSymbol(symbol string) tradeOpt {
	return func(t *model.Trade) { t.Symbol = symbol }
}

func withFavorable(pct float64) tradeOpt {
	return func(t *model.Trade) { t.FavorablePct = &pct }
}

func withRevenge() tradeOpt {
	return func(t *model.Trade) { t.RevengeFlag = true }
}

func withRisk(planned float64) tradeOpt {
	return func(t *model.Trade) { t.RiskPlanned = &planned }
}

// closedTrade builds a closed trade entered daysAgo days before the anchor
// and exited an hour later.
func closedTrade(daysAgo int, pnl float64, opts ...tradeOpt) model.Trade {
	entry := anchor.AddDate(0, 0, -daysAgo)
	exit := entry.Add(time.Hour)
	exitPrice := 110.0
	t := model.Trade{
		Symbol:     "AAPL",
		Side:       model.TradeSideLong,
		Quantity:   10,
		EntryPrice: 100,
		EntryTime:  entry,
		ExitPrice:  &exitPrice,
		ExitTime:   &exit,
		Pnl:        &pnl,
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

// openTrade builds a trade without an exit.
func openTrade(daysAgo int, opts ...tradeOpt) model.Trade {
	t := model.Trade{
		Symbol:     "AAPL",
		Side:       model.TradeSideLong,
		Quantity:   10,
		EntryPrice: 100,
		EntryTime:  anchor.AddDate(0, 0, -daysAgo),
	}
	for _, opt := range opts {
		opt(&t)
	}
	return t
}

func window(trades ...model.Trade) *Window {
	return NewWindow(1, anchor, trades)
}

func TestParse_RejectsUnknownKind(t *testing.T) {
	_, err := Parse(json.RawMessage(`{"type":"time_travel"}`))
	assert.ErrorIs(t, err, ErrUnknownKind)
}

func TestParse_RejectsInvalidParams(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"count without threshold", `{"type":"trade_count"}`},
		{"win rate over 100", `{"type":"win_rate","threshold_pct":150}`},
		{"streak without length", `{"type":"win_streak"}`},
		{"notes without term", `{"type":"notes_contain","threshold":1}`},
		{"discipline without days", `{"type":"discipline","threshold_pct":85}`},
		{"community with bad metric", `{"type":"community_improvement","metric":"total_pnl","threshold_pct":10,"days":30}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(json.RawMessage(tt.raw))
			assert.ErrorIs(t, err, ErrInvalidParams)
		})
	}
}

func TestParse_AllValidKinds(t *testing.T) {
	valid := []string{
		`{"type":"registration"}`,
		`{"type":"first_trade"}`,
		`{"type":"trade_count","threshold":100}`,
		`{"type":"symbol_count","threshold":10,"days":90}`,
		`{"type":"total_pnl","threshold":1000,"days":30}`,
		`{"type":"win_rate","threshold_pct":60,"days":30,"min_trades":10}`,
		`{"type":"profit_factor","threshold":2,"days":90}`,
		`{"type":"discipline","threshold_pct":85,"days":30}`,
		`{"type":"avg_hold_under","threshold_hours":1,"days":30}`,
		`{"type":"win_streak","length":7}`,
		`{"type":"revenge_free_days","days":30}`,
		`{"type":"daily_trade_cap","cap":5,"days":30}`,
		`{"type":"comeback_win","min_losses":3}`,
		`{"type":"notes_contain","term":"lesson","threshold":1}`,
		`{"type":"community_improvement","metric":"win_rate","threshold_pct":10,"days":30}`,
	}

	for _, raw := range valid {
		c, err := Parse(json.RawMessage(raw))
		require.NoError(t, err, raw)
		assert.NotEmpty(t, c.Kind(), raw)
	}
}

func TestImmediate_FirstTradeAndFirstWin(t *testing.T) {
	firstTrade := MustParse(`{"type":"first_trade"}`)
	firstWin := MustParse(`{"type":"first_win"}`)

	empty := window()
	_, ok := firstTrade.Evaluate(empty)
	assert.False(t, ok)
	_, ok = firstWin.Evaluate(empty)
	assert.False(t, ok)

	// An open trade satisfies first_trade but not first_win.
	withOpen := window(openTrade(1))
	_, ok = firstTrade.Evaluate(withOpen)
	assert.True(t, ok)
	_, ok = firstWin.Evaluate(withOpen)
	assert.False(t, ok)

	withWin := window(closedTrade(1, 50))
	_, ok = firstWin.Evaluate(withWin)
	assert.True(t, ok)
}

func TestCount_ThresholdAndWindow(t *testing.T) {
	rule := MustParse(`{"type":"trade_count","threshold":3,"days":7}`)

	w := window(
		closedTrade(1, 10),
		closedTrade(2, -5),
		closedTrade(20, 99), // outside the 7 day window
	)
	res, ok := rule.Evaluate(w)
	assert.False(t, ok)
	assert.Equal(t, 2.0, res.Value)

	w = window(closedTrade(1, 10), closedTrade(2, -5), closedTrade(3, 1))
	res, ok = rule.Evaluate(w)
	assert.True(t, ok)
	assert.Equal(t, 3.0, res.Value)
}

func TestCount_SymbolDistinct(t *testing.T) {
	rule := MustParse(`{"type":"symbol_count","threshold":2}`)

	w := window(
		closedTrade(1, 10, withSymbol("AAPL")),
		closedTrade(2, 10, withSymbol("AAPL")),
		closedTrade(3, 10, withSymbol("TSLA")),
	)
	res, ok := rule.Evaluate(w)
	assert.True(t, ok)
	assert.Equal(t, 2.0, res.Value)
}

func TestWinRate_RefusesEmptyAndSmallSamples(t *testing.T) {
	rule := MustParse(`{"type":"win_rate","threshold_pct":60,"days":30,"min_trades":3}`)

	// No closed trades: zero denominator means no match, not a crash.
	_, ok := rule.Evaluate(window(openTrade(1)))
	assert.False(t, ok)

	// Two wins out of two is 100% but under the sample gate.
	_, ok = rule.Evaluate(window(closedTrade(1, 10), closedTrade(2, 10)))
	assert.False(t, ok)

	res, ok := rule.Evaluate(window(
		closedTrade(1, 10), closedTrade(2, 10), closedTrade(3, -5),
	))
	assert.True(t, ok)
	assert.InDelta(t, 66.67, res.Value, 0.01)
}

func TestProfitFactor_UndefinedWithoutLosses(t *testing.T) {
	rule := MustParse(`{"type":"profit_factor","threshold":2,"min_trades":2}`)

	// All winners: gross loss is zero, the factor is undefined.
	_, ok := rule.Evaluate(window(closedTrade(1, 100), closedTrade(2, 50)))
	assert.False(t, ok)

	res, ok := rule.Evaluate(window(closedTrade(1, 100), closedTrade(2, -40)))
	assert.True(t, ok)
	assert.InDelta(t, 2.5, res.Value, 0.001)
}

func TestDiscipline_RequiresSpreadActivity(t *testing.T) {
	rule := MustParse(`{"type":"discipline","threshold_pct":80,"days":10}`)

	// Perfect score but only 6 of 10 days traded: below the 70% share.
	var sparse []model.Trade
	for day := 1; day <= 6; day++ {
		sparse = append(sparse, closedTrade(day, 50, withFavorable(90)))
	}
	_, ok := rule.Evaluate(window(sparse...))
	assert.False(t, ok)

	// Same score across 7 distinct days passes.
	var spread []model.Trade
	for day := 1; day <= 7; day++ {
		spread = append(spread, closedTrade(day, 50, withFavorable(90)))
	}
	res, ok := rule.Evaluate(window(spread...))
	assert.True(t, ok)
	assert.Equal(t, 100.0, res.Value)
}

func TestRiskAdherence_UnplannedTradesCountAgainst(t *testing.T) {
	rule := MustParse(`{"type":"risk_adherence","threshold_pct":75,"days":30,"min_trades":4}`)

	w := window(
		closedTrade(1, 50, withRisk(100)),   // win, adherent
		closedTrade(2, -80, withRisk(100)),  // loss within plan
		closedTrade(3, -150, withRisk(100)), // loss beyond plan
		closedTrade(4, 30),                  // no plan at all
	)
	res, ok := rule.Evaluate(w)
	assert.False(t, ok)
	assert.InDelta(t, 50.0, res.Value, 0.001)

	w = window(
		closedTrade(1, 50, withRisk(100)),
		closedTrade(2, -80, withRisk(100)),
		closedTrade(3, -90, withRisk(100)),
		closedTrade(4, 30, withRisk(100)),
	)
	res, ok = rule.Evaluate(w)
	assert.True(t, ok)
	assert.Equal(t, 100.0, res.Value)
}

func TestWinStreak(t *testing.T) {
	rule := MustParse(`{"type":"win_streak","length":3}`)

	w := window(
		closedTrade(5, 10),
		closedTrade(4, 20),
		closedTrade(3, -5),
		closedTrade(2, 10),
		closedTrade(1, 10),
	)
	res, ok := rule.Evaluate(w)
	assert.False(t, ok)
	assert.Equal(t, 2.0, res.Value)

	w = window(
		closedTrade(4, 10),
		closedTrade(3, 20),
		closedTrade(2, 5),
		closedTrade(1, -50),
	)
	res, ok = rule.Evaluate(w)
	assert.True(t, ok)
	assert.Equal(t, 3.0, res.Value)
}

func TestJournaledStreak_BrokenByUnjournaledDay(t *testing.T) {
	rule := MustParse(`{"type":"journaled_streak","length":3}`)

	w := window(
		closedTrade(4, 10, withNotes("planned breakout entry")),
		closedTrade(3, 10, withNotes("followed the plan")),
		closedTrade(2, 10), // silent day breaks the run
		closedTrade(1, 10, withNotes("good exit")),
	)
	_, ok := rule.Evaluate(w)
	assert.False(t, ok)

	w = window(
		closedTrade(3, 10, withNotes("planned breakout entry")),
		closedTrade(2, 10, withNotes("followed the plan")),
		closedTrade(1, 10, withNotes("good exit")),
	)
	_, ok = rule.Evaluate(w)
	assert.True(t, ok)
}

func TestRevengeFree_EmptyWindowIsNotRestraint(t *testing.T) {
	rule := MustParse(`{"type":"revenge_free_days","days":30}`)

	_, ok := rule.Evaluate(window())
	assert.False(t, ok)

	_, ok = rule.Evaluate(window(closedTrade(1, 10), closedTrade(5, -20)))
	assert.True(t, ok)

	_, ok = rule.Evaluate(window(closedTrade(1, 10), closedTrade(5, -20, withRevenge())))
	assert.False(t, ok)
}

func TestComebackWin(t *testing.T) {
	rule := MustParse(`{"type":"comeback_win","min_losses":3}`)

	// Two losses then a win is not enough.
	w := window(
		closedTrade(4, -10),
		closedTrade(3, -10),
		closedTrade(2, 50),
	)
	_, ok := rule.Evaluate(w)
	assert.False(t, ok)

	w = window(
		closedTrade(5, -10),
		closedTrade(4, -10),
		closedTrade(3, -10),
		closedTrade(2, 50),
	)
	res, ok := rule.Evaluate(w)
	assert.True(t, ok)
	assert.Equal(t, 3.0, res.Value)

	// A breakeven trade between the losses and the win resets the run.
	w = window(
		closedTrade(5, -10),
		closedTrade(4, -10),
		closedTrade(3, -10),
		closedTrade(2, 0),
		closedTrade(1, 50),
	)
	_, ok = rule.Evaluate(w)
	assert.False(t, ok)
}

func TestNotesContain_CaseInsensitive(t *testing.T) {
	rule := MustParse(`{"type":"notes_contain","term":"lesson","threshold":1}`)

	_, ok := rule.Evaluate(window(closedTrade(1, 10, withNotes("no insight today"))))
	assert.False(t, ok)

	res, ok := rule.Evaluate(window(closedTrade(1, 10, withNotes("Lesson learned: cut faster"))))
	assert.True(t, ok)
	assert.Equal(t, 1.0, res.Value)
}

func TestSum_TotalPnlAndSingleTrade(t *testing.T) {
	totalRule := MustParse(`{"type":"total_pnl","threshold":100,"days":30}`)
	singleRule := MustParse(`{"type":"single_trade_profit","threshold":80}`)

	w := window(closedTrade(1, 60), closedTrade(2, 50), closedTrade(3, -5))
	res, ok := totalRule.Evaluate(w)
	assert.True(t, ok)
	assert.InDelta(t, 105.0, res.Value, 0.001)

	_, ok = singleRule.Evaluate(w)
	assert.False(t, ok)

	w = window(closedTrade(1, 85))
	res, ok = singleRule.Evaluate(w)
	assert.True(t, ok)
	assert.Equal(t, 85.0, res.Value)
}

func TestCommunityImprovement(t *testing.T) {
	rule := MustParse(`{"type":"community_improvement","metric":"win_rate","threshold_pct":20,"days":10}`)

	// Prior window: 1 win of 2 (50%). Current window: 2 wins of 2 (100%).
	w := window(
		closedTrade(15, 10),
		closedTrade(14, -10),
		closedTrade(3, 10),
		closedTrade(2, 10),
	)
	res, ok := rule.Evaluate(w)
	assert.True(t, ok)
	assert.InDelta(t, 100.0, res.Value, 0.001)

	// No prior-window trades: improvement is unmeasurable, not infinite.
	w = window(closedTrade(3, 10), closedTrade(2, 10))
	_, ok = rule.Evaluate(w)
	assert.False(t, ok)
}

// TestWinRateBoundsProperty verifies the win rate is always a percentage
// and the rule never earns below its sample gate.
func TestWinRateBoundsProperty(t *testing.T) {
	rule := MustParse(`{"type":"win_rate","threshold_pct":50,"min_trades":5}`).(*WinRateRule)

	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(0, 30).Draw(t, "n")
		trades := make([]model.Trade, 0, n)
		for i := 0; i < n; i++ {
			pnl := rapid.Float64Range(-100, 100).Draw(t, "pnl")
			trades = append(trades, closedTrade(i%20+1, pnl))
		}

		res, ok := rule.Evaluate(window(trades...))
		if res.Value < 0 || res.Value > 100 {
			t.Fatalf("win rate %f outside [0, 100]", res.Value)
		}
		if ok && res.SampleSize < 5 {
			t.Fatalf("earned with sample size %d below gate", res.SampleSize)
		}
	})
}
