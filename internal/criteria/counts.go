package criteria

import (
	"errors"
	"strings"

	"journal-gamification/internal/model"
)

// Immediate is a registration-style rule that is trivially true once the
// user has done the thing at all.
type Immediate struct {
	Variant Kind `json:"type"`
}

func (c *Immediate) Kind() Kind { return c.Variant }

func (c *Immediate) Evaluate(w *Window) (Result, bool) {
	switch c.Variant {
	case KindRegistration:
		// The user exists; being evaluated at all satisfies it.
		return Result{Value: 1, SampleSize: 1}, true
	case KindFirstTrade:
		n := len(w.All(0))
		return Result{Value: float64(n), SampleSize: n}, n >= 1
	case KindFirstJournal:
		for _, t := range w.All(0) {
			if t.Notes != nil && strings.TrimSpace(*t.Notes) != "" {
				return Result{Value: 1, SampleSize: 1}, true
			}
		}
		return Result{}, false
	case KindFirstWin:
		wins := Wins(w.Closed(0))
		return Result{Value: float64(len(wins)), SampleSize: len(wins)}, len(wins) >= 1
	}
	return Result{}, false
}

// Count thresholds a population count over a trailing window. Days of zero
// means the whole window.
type Count struct {
	Variant   Kind    `json:"type"`
	Threshold float64 `json:"threshold"`
	Days      int     `json:"days"`
}

func (c *Count) Kind() Kind { return c.Variant }

func (c *Count) validate() error {
	if c.Threshold <= 0 {
		return errors.New("threshold must be positive")
	}
	return nil
}

func (c *Count) measure(w *Window) int {
	switch c.Variant {
	case KindTradeCount:
		return len(w.All(c.Days))
	case KindClosedTradeCount:
		return len(w.Closed(c.Days))
	case KindWinningTradeCount:
		return len(Wins(w.Closed(c.Days)))
	case KindLosingTradeCount:
		return len(Losses(w.Closed(c.Days)))
	case KindLongTradeCount:
		return countSide(w.All(c.Days), model.TradeSideLong)
	case KindShortTradeCount:
		return countSide(w.All(c.Days), model.TradeSideShort)
	case KindSymbolCount:
		return distinct(w.All(c.Days), func(t model.Trade) string { return t.Symbol })
	case KindStrategyCount:
		return distinct(w.All(c.Days), func(t model.Trade) string {
			if t.Strategy == nil {
				return ""
			}
			return *t.Strategy
		})
	case KindJournaledCount:
		var n int
		for _, t := range w.All(c.Days) {
			if t.Notes != nil && strings.TrimSpace(*t.Notes) != "" {
				n++
			}
		}
		return n
	case KindTradedDays:
		return w.TradedDays(c.Days)
	}
	return 0
}

func (c *Count) Evaluate(w *Window) (Result, bool) {
	n := c.measure(w)
	return Result{Value: float64(n), SampleSize: n}, float64(n) >= c.Threshold
}

// Progress reports the raw count for challenge tracking.
func (c *Count) Progress(w *Window) float64 {
	return float64(c.measure(w))
}

func countSide(trades []model.Trade, side string) int {
	var n int
	for _, t := range trades {
		if t.Side == side {
			n++
		}
	}
	return n
}

func distinct(trades []model.Trade, key func(model.Trade) string) int {
	seen := make(map[string]struct{})
	for _, t := range trades {
		k := key(t)
		if k == "" {
			continue
		}
		seen[k] = struct{}{}
	}
	return len(seen)
}
