package criteria

import (
	"errors"
	"math"
	"time"
)

// defaultMinTrades is the sample-size gate applied to statistical rules
// when the definition does not set its own.
const defaultMinTrades = 10

// minTradedDaysShare is the fraction of window days that must have trading
// activity before a windowed statistical rule can be earned.
const minTradedDaysShare = 0.7

// WinRateRule thresholds the winning percentage over closed trades.
type WinRateRule struct {
	ThresholdPct float64 `json:"threshold_pct"`
	Days         int     `json:"days"`
	MinTrades    int     `json:"min_trades"`
}

func (c *WinRateRule) Kind() Kind { return KindWinRate }

func (c *WinRateRule) validate() error {
	if c.ThresholdPct <= 0 || c.ThresholdPct > 100 {
		return errors.New("threshold_pct must be in (0, 100]")
	}
	return nil
}

func (c *WinRateRule) Evaluate(w *Window) (Result, bool) {
	closed := w.Closed(c.Days)
	minTrades := c.MinTrades
	if minTrades <= 0 {
		minTrades = defaultMinTrades
	}
	rate, ok := WinRate(closed)
	res := Result{Value: rate, SampleSize: len(closed)}
	if !ok || len(closed) < minTrades {
		return res, false
	}
	return res, rate >= c.ThresholdPct
}

// ProfitFactorRule thresholds gross profit over gross loss. A user with no
// losing trades has an undefined factor and does not match.
type ProfitFactorRule struct {
	Threshold float64 `json:"threshold"`
	Days      int     `json:"days"`
	MinTrades int     `json:"min_trades"`
}

func (c *ProfitFactorRule) Kind() Kind { return KindProfitFactor }

func (c *ProfitFactorRule) validate() error {
	if c.Threshold <= 0 {
		return errors.New("threshold must be positive")
	}
	return nil
}

func (c *ProfitFactorRule) Evaluate(w *Window) (Result, bool) {
	closed := w.Closed(c.Days)
	minTrades := c.MinTrades
	if minTrades <= 0 {
		minTrades = defaultMinTrades
	}

	var grossWin, grossLoss float64
	for _, t := range closed {
		if *t.Pnl > 0 {
			grossWin += *t.Pnl
		} else {
			grossLoss += -*t.Pnl
		}
	}
	if grossLoss == 0 || len(closed) < minTrades {
		return Result{SampleSize: len(closed)}, false
	}
	factor := grossWin / grossLoss
	return Result{Value: factor, SampleSize: len(closed)}, factor >= c.Threshold
}

// AvgPnlRule thresholds mean closed-trade P&L.
type AvgPnlRule struct {
	Threshold float64 `json:"threshold"`
	Days      int     `json:"days"`
	MinTrades int     `json:"min_trades"`
}

func (c *AvgPnlRule) Kind() Kind { return KindAvgPnl }

func (c *AvgPnlRule) Evaluate(w *Window) (Result, bool) {
	closed := w.Closed(c.Days)
	minTrades := c.MinTrades
	if minTrades <= 0 {
		minTrades = defaultMinTrades
	}
	avg, ok := AvgPnl(closed)
	res := Result{Value: avg, SampleSize: len(closed)}
	if !ok || len(closed) < minTrades {
		return res, false
	}
	return res, avg >= c.Threshold
}

// RiskAdherenceRule thresholds the share of closed trades whose loss stayed
// within the planned risk. Trades without a risk plan count against the
// ratio: planning is part of the discipline being rewarded.
type RiskAdherenceRule struct {
	ThresholdPct float64 `json:"threshold_pct"`
	Days         int     `json:"days"`
	MinTrades    int     `json:"min_trades"`
}

func (c *RiskAdherenceRule) Kind() Kind { return KindRiskAdherence }

func (c *RiskAdherenceRule) validate() error {
	if c.ThresholdPct <= 0 || c.ThresholdPct > 100 {
		return errors.New("threshold_pct must be in (0, 100]")
	}
	return nil
}

func (c *RiskAdherenceRule) ratio(w *Window) (float64, int, bool) {
	closed := w.Closed(c.Days)
	if len(closed) == 0 {
		return 0, 0, false
	}
	var adherent int
	for _, t := range closed {
		if t.RiskPlanned == nil {
			continue
		}
		if *t.Pnl >= 0 || -*t.Pnl <= *t.RiskPlanned {
			adherent++
		}
	}
	return float64(adherent) / float64(len(closed)) * 100, len(closed), true
}

func (c *RiskAdherenceRule) Evaluate(w *Window) (Result, bool) {
	ratio, n, ok := c.ratio(w)
	minTrades := c.MinTrades
	if minTrades <= 0 {
		minTrades = defaultMinTrades
	}
	res := Result{Value: ratio, SampleSize: n}
	if !ok || n < minTrades {
		return res, false
	}
	return res, ratio >= c.ThresholdPct
}

// Progress reports the adherence percentage for challenge tracking.
func (c *RiskAdherenceRule) Progress(w *Window) float64 {
	ratio, _, ok := c.ratio(w)
	if !ok {
		return 0
	}
	return ratio
}

// DisciplineRule thresholds the discipline score (share of winning trades
// that captured enough of the favorable move) over a day window. On top of
// the score itself the user must have traded on at least 70% of the window
// days, so one lucky week cannot satisfy a multi-week rule.
type DisciplineRule struct {
	ThresholdPct    float64 `json:"threshold_pct"`
	Days            int     `json:"days"`
	MinFavorablePct float64 `json:"min_favorable_pct"`
}

func (c *DisciplineRule) Kind() Kind { return KindDiscipline }

func (c *DisciplineRule) validate() error {
	if c.ThresholdPct <= 0 || c.ThresholdPct > 100 {
		return errors.New("threshold_pct must be in (0, 100]")
	}
	if c.Days <= 0 {
		return errors.New("days must be positive")
	}
	return nil
}

func (c *DisciplineRule) Evaluate(w *Window) (Result, bool) {
	minFavorable := c.MinFavorablePct
	if minFavorable <= 0 {
		minFavorable = 50
	}
	score, ok := DisciplineScore(w.Closed(c.Days), minFavorable)
	tradedDays := w.TradedDays(c.Days)
	res := Result{Value: score, SampleSize: tradedDays}
	if !ok {
		return res, false
	}
	requiredDays := float64(c.Days) * minTradedDaysShare
	if float64(tradedDays) < requiredDays {
		return res, false
	}
	return res, score >= c.ThresholdPct
}

// Progress reports the discipline score for challenge tracking.
func (c *DisciplineRule) Progress(w *Window) float64 {
	minFavorable := c.MinFavorablePct
	if minFavorable <= 0 {
		minFavorable = 50
	}
	score, ok := DisciplineScore(w.Closed(c.Days), minFavorable)
	if !ok {
		return 0
	}
	return score
}

// HoldTimeRule thresholds average hold time of closed trades, either from
// above (scalping style) or below (position style).
type HoldTimeRule struct {
	Variant        Kind    `json:"type"`
	ThresholdHours float64 `json:"threshold_hours"`
	Days           int     `json:"days"`
	MinTrades      int     `json:"min_trades"`
}

func (c *HoldTimeRule) Kind() Kind { return c.Variant }

func (c *HoldTimeRule) validate() error {
	if c.ThresholdHours <= 0 {
		return errors.New("threshold_hours must be positive")
	}
	return nil
}

func (c *HoldTimeRule) Evaluate(w *Window) (Result, bool) {
	closed := w.Closed(c.Days)
	minTrades := c.MinTrades
	if minTrades <= 0 {
		minTrades = defaultMinTrades
	}
	if len(closed) < minTrades {
		return Result{SampleSize: len(closed)}, false
	}

	var total time.Duration
	for _, t := range closed {
		total += t.HoldDuration()
	}
	avgHours := total.Hours() / float64(len(closed))
	avgHours = math.Max(avgHours, 0)
	res := Result{Value: avgHours, SampleSize: len(closed)}

	if c.Variant == KindAvgHoldUnder {
		return res, avgHours <= c.ThresholdHours
	}
	return res, avgHours >= c.ThresholdHours
}
