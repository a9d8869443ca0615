package criteria

import (
	"math"
	"strings"
	"time"

	"journal-gamification/internal/model"
)

// Window is the bounded trade history a rule is evaluated against. It is
// assembled once per evaluation pass and shared by every rule, so all
// methods are read-only.
type Window struct {
	UserID int64
	// Now anchors relative day ranges so evaluation is deterministic.
	Now time.Time
	// Trades are sorted by entry time ascending.
	Trades []model.Trade
}

// NewWindow creates a window anchored at now.
func NewWindow(userID int64, now time.Time, trades []model.Trade) *Window {
	return &Window{UserID: userID, Now: now, Trades: trades}
}

// After returns a copy of the window restricted to trades entered strictly
// after t. Used to re-evaluate repeatable rules against fresh activity only.
func (w *Window) After(t time.Time) *Window {
	trades := make([]model.Trade, 0, len(w.Trades))
	for _, tr := range w.Trades {
		if tr.EntryTime.After(t) {
			trades = append(trades, tr)
		}
	}
	return &Window{UserID: w.UserID, Now: w.Now, Trades: trades}
}

// since returns the cutoff for a trailing day range. days <= 0 means the
// whole window.
func (w *Window) since(days int) time.Time {
	if days <= 0 {
		return time.Time{}
	}
	return w.Now.AddDate(0, 0, -days)
}

// All returns every trade in the trailing day range (cutoff, Now], open or
// closed. Trades entered after Now are excluded so that shifted windows
// (used for prior-period comparisons) stay bounded on both sides.
func (w *Window) All(days int) []model.Trade {
	cutoff := w.since(days)
	out := make([]model.Trade, 0, len(w.Trades))
	for _, t := range w.Trades {
		if t.EntryTime.Before(cutoff) || t.EntryTime.After(w.Now) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Closed returns trades with a recorded exit in the trailing day range.
// P&L based rules only ever see these; open positions are excluded.
func (w *Window) Closed(days int) []model.Trade {
	cutoff := w.since(days)
	out := make([]model.Trade, 0, len(w.Trades))
	for _, t := range w.Trades {
		if !t.Closed() || t.EntryTime.Before(cutoff) || t.EntryTime.After(w.Now) {
			continue
		}
		out = append(out, t)
	}
	return out
}

// Wins returns closed winning trades in the trailing day range.
func Wins(trades []model.Trade) []model.Trade {
	out := make([]model.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Win() {
			out = append(out, t)
		}
	}
	return out
}

// Losses returns closed trades with negative P&L.
func Losses(trades []model.Trade) []model.Trade {
	out := make([]model.Trade, 0, len(trades))
	for _, t := range trades {
		if t.Closed() && *t.Pnl < 0 {
			out = append(out, t)
		}
	}
	return out
}

// SumPnl returns the summed P&L of closed trades.
func SumPnl(trades []model.Trade) float64 {
	var sum float64
	for _, t := range trades {
		if t.Closed() {
			sum += *t.Pnl
		}
	}
	return sum
}

// AvgPnl returns the mean P&L of closed trades, and false when there are
// none.
func AvgPnl(trades []model.Trade) (float64, bool) {
	var sum float64
	var n int
	for _, t := range trades {
		if t.Closed() {
			sum += *t.Pnl
			n++
		}
	}
	if n == 0 {
		return 0, false
	}
	return sum / float64(n), true
}

// StddevPnl returns the population standard deviation of closed-trade P&L.
func StddevPnl(trades []model.Trade) float64 {
	mean, ok := AvgPnl(trades)
	if !ok {
		return 0
	}
	var sumSq float64
	var n int
	for _, t := range trades {
		if t.Closed() {
			d := *t.Pnl - mean
			sumSq += d * d
			n++
		}
	}
	return math.Sqrt(sumSq / float64(n))
}

// WinRate returns the winning percentage (0-100) over closed trades, and
// false when there are no closed trades. A zero denominator is never a
// crash, it is "no match".
func WinRate(trades []model.Trade) (float64, bool) {
	var wins, closed int
	for _, t := range trades {
		if !t.Closed() {
			continue
		}
		closed++
		if *t.Pnl > 0 {
			wins++
		}
	}
	if closed == 0 {
		return 0, false
	}
	return float64(wins) / float64(closed) * 100, true
}

// SumVolume returns total entry notional.
func SumVolume(trades []model.Trade) float64 {
	var sum float64
	for _, t := range trades {
		sum += t.Notional()
	}
	return sum
}

// DisciplineScore returns the percentage of winning trades that captured at
// least minFavorablePct of the favorable move, and false with no wins.
func DisciplineScore(trades []model.Trade, minFavorablePct float64) (float64, bool) {
	var disciplined, wins int
	for _, t := range trades {
		if !t.Win() {
			continue
		}
		wins++
		if t.FavorablePct != nil && *t.FavorablePct >= minFavorablePct {
			disciplined++
		}
	}
	if wins == 0 {
		return 0, false
	}
	return float64(disciplined) / float64(wins) * 100, true
}

// dayKey normalizes a timestamp to its calendar day.
func dayKey(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
}

// TradedDays returns the distinct calendar days with at least one trade
// entry in the trailing day range.
func (w *Window) TradedDays(days int) int {
	seen := make(map[time.Time]struct{})
	for _, t := range w.All(days) {
		seen[dayKey(t.EntryTime)] = struct{}{}
	}
	return len(seen)
}

// dailyPnl aggregates closed-trade P&L per calendar day over the whole
// window, returning days in ascending order.
func (w *Window) dailyPnl() ([]time.Time, map[time.Time]float64) {
	byDay := make(map[time.Time]float64)
	var order []time.Time
	for _, t := range w.Trades {
		if !t.Closed() {
			continue
		}
		day := dayKey(t.ExitTime.UTC())
		if _, ok := byDay[day]; !ok {
			order = append(order, day)
		}
		byDay[day] += *t.Pnl
	}
	return order, byDay
}

// GreenDayStreak returns the longest run of consecutive calendar days with
// positive net P&L. Days without any closed trade break the run only when a
// later traded day follows; non-traded gaps inside a run are tolerated up to
// one day, which matches weekend gaps in a trading week.
func (w *Window) GreenDayStreak() int {
	order, byDay := w.dailyPnl()
	var best, run int
	var prev time.Time
	for _, day := range order {
		if byDay[day] <= 0 {
			run = 0
			prev = time.Time{}
			continue
		}
		if !prev.IsZero() && day.Sub(prev) > 72*time.Hour {
			run = 0
		}
		run++
		prev = day
		if run > best {
			best = run
		}
	}
	return best
}

// WinStreak returns the longest run of consecutive closed winning trades,
// ordered by exit time.
func (w *Window) WinStreak() int {
	var best, run int
	for _, t := range w.Trades {
		if !t.Closed() {
			continue
		}
		if *t.Pnl > 0 {
			run++
			if run > best {
				best = run
			}
		} else {
			run = 0
		}
	}
	return best
}

// CleanDayStreak returns the longest run of distinct traded days without a
// revenge-trading flag.
func (w *Window) CleanDayStreak() int {
	flagged := make(map[time.Time]bool)
	var order []time.Time
	for _, t := range w.Trades {
		day := dayKey(t.EntryTime)
		if _, ok := flagged[day]; !ok {
			order = append(order, day)
		}
		if t.RevengeFlag {
			flagged[day] = true
		} else if _, ok := flagged[day]; !ok {
			flagged[day] = false
		}
	}
	var best, run int
	for _, day := range order {
		if flagged[day] {
			run = 0
			continue
		}
		run++
		if run > best {
			best = run
		}
	}
	return best
}

// JournaledStreak returns the longest run of distinct traded days where
// every trade that day carries a non-empty note.
func (w *Window) JournaledStreak() int {
	journaled := make(map[time.Time]bool)
	var order []time.Time
	for _, t := range w.Trades {
		day := dayKey(t.EntryTime)
		if _, ok := journaled[day]; !ok {
			order = append(order, day)
			journaled[day] = true
		}
		if t.Notes == nil || strings.TrimSpace(*t.Notes) == "" {
			journaled[day] = false
		}
	}
	var best, run int
	for _, day := range order {
		if !journaled[day] {
			run = 0
			continue
		}
		run++
		if run > best {
			best = run
		}
	}
	return best
}

// RevengeEvents counts revenge-trading flags in the trailing day range.
func (w *Window) RevengeEvents(days int) int {
	var n int
	for _, t := range w.All(days) {
		if t.RevengeFlag {
			n++
		}
	}
	return n
}

// MaxTradesPerDay returns the largest number of trade entries on any single
// calendar day in the trailing day range.
func (w *Window) MaxTradesPerDay(days int) int {
	counts := make(map[time.Time]int)
	for _, t := range w.All(days) {
		counts[dayKey(t.EntryTime)]++
	}
	var max int
	for _, n := range counts {
		if n > max {
			max = n
		}
	}
	return max
}
