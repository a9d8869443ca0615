package criteria

import (
	"errors"
	"strings"

	"journal-gamification/internal/model"
)

// NotesContainRule counts trades whose notes mention a term ("stop",
// "trend", "news", ...). This is a best-effort legacy heuristic with no
// structured backing field; it is never authoritative and should be retired
// once trades carry structured metadata for these concepts.
type NotesContainRule struct {
	Term      string  `json:"term"`
	Threshold float64 `json:"threshold"`
	Days      int     `json:"days"`
}

func (c *NotesContainRule) Kind() Kind { return KindNotesContain }

func (c *NotesContainRule) validate() error {
	if strings.TrimSpace(c.Term) == "" {
		return errors.New("term must not be empty")
	}
	if c.Threshold <= 0 {
		return errors.New("threshold must be positive")
	}
	return nil
}

func (c *NotesContainRule) Evaluate(w *Window) (Result, bool) {
	term := strings.ToLower(c.Term)
	var n int
	for _, t := range w.All(c.Days) {
		if t.Notes == nil {
			continue
		}
		if strings.Contains(strings.ToLower(*t.Notes), term) {
			n++
		}
	}
	return Result{Value: float64(n), SampleSize: n}, float64(n) >= c.Threshold
}

// NotesMinLengthRule counts trades journaled with at least MinChars of
// notes, rewarding substantive journaling over one-word entries.
type NotesMinLengthRule struct {
	MinChars  int     `json:"min_chars"`
	Threshold float64 `json:"threshold"`
	Days      int     `json:"days"`
}

func (c *NotesMinLengthRule) Kind() Kind { return KindNotesMinLength }

func (c *NotesMinLengthRule) validate() error {
	if c.MinChars <= 0 {
		return errors.New("min_chars must be positive")
	}
	if c.Threshold <= 0 {
		return errors.New("threshold must be positive")
	}
	return nil
}

func (c *NotesMinLengthRule) Evaluate(w *Window) (Result, bool) {
	var n int
	for _, t := range w.All(c.Days) {
		if t.Notes == nil {
			continue
		}
		if len(strings.TrimSpace(*t.Notes)) >= c.MinChars {
			n++
		}
	}
	return Result{Value: float64(n), SampleSize: n}, float64(n) >= c.Threshold
}

// CommunityImprovementRule is the aggregate rule behind community
// challenges: the cohort-wide average of a per-user measurement must
// improve by ThresholdPct against the prior window. A single user's window
// can only report that user's contribution, so Evaluate measures the user's
// own improvement; the challenge tracker aggregates contributions across
// the cohort.
type CommunityImprovementRule struct {
	Metric       Kind    `json:"metric"`
	ThresholdPct float64 `json:"threshold_pct"`
	Days         int     `json:"days"`
}

func (c *CommunityImprovementRule) Kind() Kind { return KindCommunityImprovement }

func (c *CommunityImprovementRule) validate() error {
	if c.Days <= 0 {
		return errors.New("days must be positive")
	}
	if c.ThresholdPct <= 0 {
		return errors.New("threshold_pct must be positive")
	}
	switch c.Metric {
	case KindWinRate, KindDiscipline, KindRiskAdherence:
		return nil
	}
	return errors.New("metric must be win_rate, discipline or risk_adherence")
}

// improvement returns the percentage change of the metric between the
// previous window of Days days and the current one.
func (c *CommunityImprovementRule) improvement(w *Window) (float64, bool) {
	currentTrades := w.Closed(c.Days)
	previous := &Window{
		UserID: w.UserID,
		Now:    w.Now.AddDate(0, 0, -c.Days),
		Trades: w.Trades,
	}
	previousTrades := previous.Closed(c.Days)

	current, okCur := c.metricOver(currentTrades, w)
	prior, okPrev := c.metricOver(previousTrades, previous)
	if !okCur || !okPrev || prior == 0 {
		return 0, false
	}
	return (current - prior) / prior * 100, true
}

func (c *CommunityImprovementRule) metricOver(trades []model.Trade, w *Window) (float64, bool) {
	switch c.Metric {
	case KindWinRate:
		return WinRate(trades)
	case KindDiscipline:
		return DisciplineScore(trades, 50)
	case KindRiskAdherence:
		rule := &RiskAdherenceRule{Days: c.Days}
		ratio, n, ok := rule.ratio(w)
		return ratio, ok && n > 0
	}
	return 0, false
}

func (c *CommunityImprovementRule) Evaluate(w *Window) (Result, bool) {
	change, ok := c.improvement(w)
	res := Result{Value: change, SampleSize: len(w.Closed(c.Days))}
	if !ok {
		return res, false
	}
	return res, change >= c.ThresholdPct
}

// Progress reports the user's own improvement percentage; the challenge
// tracker averages it over the cohort.
func (c *CommunityImprovementRule) Progress(w *Window) float64 {
	change, ok := c.improvement(w)
	if !ok {
		return 0
	}
	if change < 0 {
		return 0
	}
	return change
}
