package criteria

import "errors"

// Streak thresholds the longest run of a daily or per-trade condition.
type Streak struct {
	Variant Kind    `json:"type"`
	Length  float64 `json:"length"`
}

func (c *Streak) Kind() Kind { return c.Variant }

func (c *Streak) validate() error {
	if c.Length <= 0 {
		return errors.New("length must be positive")
	}
	return nil
}

func (c *Streak) measure(w *Window) int {
	switch c.Variant {
	case KindWinStreak:
		return w.WinStreak()
	case KindGreenDayStreak:
		return w.GreenDayStreak()
	case KindCleanDayStreak:
		return w.CleanDayStreak()
	case KindJournaledStreak:
		return w.JournaledStreak()
	}
	return 0
}

func (c *Streak) Evaluate(w *Window) (Result, bool) {
	n := c.measure(w)
	return Result{Value: float64(n), SampleSize: n}, float64(n) >= c.Length
}

// Progress reports the current longest run for challenge tracking.
func (c *Streak) Progress(w *Window) float64 {
	return float64(c.measure(w))
}

// RevengeFreeRule is satisfied when no revenge-trading events were flagged
// over the trailing day range.
type RevengeFreeRule struct {
	Days int `json:"days"`
}

func (c *RevengeFreeRule) Kind() Kind { return KindRevengeFreeDays }

func (c *RevengeFreeRule) validate() error {
	if c.Days <= 0 {
		return errors.New("days must be positive")
	}
	return nil
}

func (c *RevengeFreeRule) Evaluate(w *Window) (Result, bool) {
	events := w.RevengeEvents(c.Days)
	tradedDays := w.TradedDays(c.Days)
	res := Result{Value: float64(events), SampleSize: tradedDays}
	// An empty window is not evidence of restraint.
	if tradedDays == 0 {
		return res, false
	}
	return res, events == 0
}

// DailyTradeCapRule rewards overtrading restraint: never more than Cap
// trade entries on any traded day in the window, with activity on enough
// days to make the claim meaningful.
type DailyTradeCapRule struct {
	Cap  float64 `json:"cap"`
	Days int     `json:"days"`
}

func (c *DailyTradeCapRule) Kind() Kind { return KindDailyTradeCap }

func (c *DailyTradeCapRule) validate() error {
	if c.Cap <= 0 {
		return errors.New("cap must be positive")
	}
	if c.Days <= 0 {
		return errors.New("days must be positive")
	}
	return nil
}

func (c *DailyTradeCapRule) Evaluate(w *Window) (Result, bool) {
	max := w.MaxTradesPerDay(c.Days)
	tradedDays := w.TradedDays(c.Days)
	res := Result{Value: float64(max), SampleSize: tradedDays}
	if float64(tradedDays) < float64(c.Days)*minTradedDaysShare {
		return res, false
	}
	return res, float64(max) <= c.Cap
}

// ComebackRule is satisfied by a winning trade that directly follows a run
// of at least MinLosses consecutive losses.
type ComebackRule struct {
	MinLosses float64 `json:"min_losses"`
}

func (c *ComebackRule) Kind() Kind { return KindComebackWin }

func (c *ComebackRule) validate() error {
	if c.MinLosses <= 0 {
		return errors.New("min_losses must be positive")
	}
	return nil
}

func (c *ComebackRule) Evaluate(w *Window) (Result, bool) {
	var lossRun int
	for _, t := range w.Trades {
		if !t.Closed() {
			continue
		}
		if *t.Pnl < 0 {
			lossRun++
			continue
		}
		if *t.Pnl > 0 && float64(lossRun) >= c.MinLosses {
			return Result{Value: float64(lossRun), SampleSize: lossRun + 1}, true
		}
		lossRun = 0
	}
	return Result{}, false
}
