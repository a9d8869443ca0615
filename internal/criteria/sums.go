package criteria

import "errors"

// Sum thresholds an accumulated quantity over closed trades in a trailing
// window.
type Sum struct {
	Variant   Kind    `json:"type"`
	Threshold float64 `json:"threshold"`
	Days      int     `json:"days"`
	// MinTrades gates the rule on a minimum sample so a single outsized
	// trade cannot satisfy a statistical achievement.
	MinTrades int `json:"min_trades"`
}

func (c *Sum) Kind() Kind { return c.Variant }

func (c *Sum) validate() error {
	if c.Threshold <= 0 {
		return errors.New("threshold must be positive")
	}
	return nil
}

func (c *Sum) measure(w *Window) (float64, int) {
	closed := w.Closed(c.Days)
	switch c.Variant {
	case KindTotalPnl:
		return SumPnl(closed), len(closed)
	case KindTotalVolume:
		all := w.All(c.Days)
		return SumVolume(all), len(all)
	case KindSingleTradeProfit:
		var best float64
		for _, t := range closed {
			if *t.Pnl > best {
				best = *t.Pnl
			}
		}
		return best, len(closed)
	}
	return 0, 0
}

func (c *Sum) Evaluate(w *Window) (Result, bool) {
	value, n := c.measure(w)
	if n < c.MinTrades {
		return Result{Value: value, SampleSize: n}, false
	}
	return Result{Value: value, SampleSize: n}, value >= c.Threshold
}

// Progress reports the accumulated value for challenge tracking.
func (c *Sum) Progress(w *Window) float64 {
	value, _ := c.measure(w)
	return value
}
