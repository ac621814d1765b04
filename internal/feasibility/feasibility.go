// Package feasibility classifies whether a set of topics fits the study time
// available before their deadlines.
package feasibility

import (
	"errors"
	"sort"

	"github.com/hpungsan/syllabus/internal/plan"
)

// Tier classifies required effort against available capacity.
type Tier string

const (
	TierComfortable Tier = "comfortable"
	TierRealistic   Tier = "realistic"
	TierTight       Tier = "tight"
	TierInfeasible  Tier = "infeasible"
)

// Classification thresholds on required/available.
const (
	comfortableRatio = 0.8
	tightRatio       = 1.3
)

// ErrInvalidWindow is returned when end precedes start.
var ErrInvalidWindow = errors.New("feasibility: end date before start date")

func (t Tier) severity() int {
	switch t {
	case TierComfortable:
		return 0
	case TierRealistic:
		return 1
	case TierTight:
		return 2
	default:
		return 3
	}
}

// Worse returns the more severe of a and b.
func Worse(a, b Tier) Tier {
	if b.severity() > a.severity() {
		return b
	}
	return a
}

// PrefixCheck compares the effort due by one deadline with the capacity
// between start and that deadline.
type PrefixCheck struct {
	Deadline         plan.Date `json:"deadline"`
	RequiredMinutes  int       `json:"required_minutes"`
	AvailableMinutes int       `json:"available_minutes"`
	Ratio            float64   `json:"ratio"`
	Tier             Tier      `json:"tier"`
}

// Report is the result of Analyze.
type Report struct {
	Tier             Tier          `json:"tier"`
	RequiredMinutes  int           `json:"required_minutes"`
	AvailableMinutes int           `json:"available_minutes"`
	Ratio            float64       `json:"ratio"`
	EligibleDays     int           `json:"eligible_days"`
	TopicsInWindow   int           `json:"topics_in_window"`
	PastDeadline     []string      `json:"past_deadline,omitempty"`
	DueAfterEnd      []string      `json:"due_after_end,omitempty"`
	Oversized        []string      `json:"oversized,omitempty"`
	Prefixes         []PrefixCheck `json:"prefixes,omitempty"`
	Recommended      plan.Strategy `json:"recommended_strategy"`
}

// Classify maps required and available minutes to a tier and ratio. With
// nothing available, zero work is comfortable and any work is infeasible;
// the ratio is reported as 0 in that case.
func Classify(required, available int) (Tier, float64) {
	if available <= 0 {
		if required <= 0 {
			return TierComfortable, 0
		}
		return TierInfeasible, 0
	}
	ratio := float64(required) / float64(available)
	switch {
	case ratio <= comfortableRatio:
		return TierComfortable, ratio
	case ratio <= 1:
		return TierRealistic, ratio
	case ratio <= tightRatio:
		return TierTight, ratio
	default:
		return TierInfeasible, ratio
	}
}

// Recommend returns the strategy used when the caller does not pick one.
func Recommend(t Tier) plan.Strategy {
	switch t {
	case TierComfortable:
		return plan.StrategyRoundRobin
	case TierRealistic:
		return plan.StrategyBalanced
	default:
		return plan.StrategyPriorityFirst
	}
}

// Analyze sums the effort of every topic against the calendar's capacity
// over [start, end]. A topic due after end still has to be studied inside the
// window, so its deadline is clipped to end. Besides the global ratio, every
// distinct deadline is checked against the capacity up to it. A topic due
// before start, or larger than every eligible day it could use, marks the
// result infeasible. The reported tier is the worst of these.
func Analyze(topics []plan.Topic, start, end plan.Date, cal plan.Calendar) (Report, error) {
	if end.Before(start) {
		return Report{}, ErrInvalidWindow
	}

	var r Report
	byDeadline := make(map[plan.Date]int)
	for _, t := range topics {
		r.RequiredMinutes += t.EffortMinutes
		due := t.Deadline
		if due.Before(start) {
			r.PastDeadline = append(r.PastDeadline, t.ID)
			continue
		}
		if due.After(end) {
			r.DueAfterEnd = append(r.DueAfterEnd, t.ID)
			due = end
		}
		r.TopicsInWindow++
		byDeadline[due] += t.EffortMinutes

		if t.EffortMinutes > maxCapacity(cal, start, due) {
			r.Oversized = append(r.Oversized, t.ID)
		}
	}
	sort.Strings(r.PastDeadline)
	sort.Strings(r.DueAfterEnd)
	sort.Strings(r.Oversized)

	r.AvailableMinutes = cal.Available(start, end)
	r.EligibleDays = len(cal.EligibleDays(start, end))
	r.Tier, r.Ratio = Classify(r.RequiredMinutes, r.AvailableMinutes)

	deadlines := make([]plan.Date, 0, len(byDeadline))
	for d := range byDeadline {
		deadlines = append(deadlines, d)
	}
	sort.Slice(deadlines, func(i, j int) bool { return deadlines[i].Before(deadlines[j]) })

	cumulative := 0
	for _, d := range deadlines {
		cumulative += byDeadline[d]
		available := cal.Available(start, d)
		tier, ratio := Classify(cumulative, available)
		r.Prefixes = append(r.Prefixes, PrefixCheck{
			Deadline:         d,
			RequiredMinutes:  cumulative,
			AvailableMinutes: available,
			Ratio:            ratio,
			Tier:             tier,
		})
		r.Tier = Worse(r.Tier, tier)
	}

	if len(r.Oversized) > 0 || len(r.PastDeadline) > 0 {
		r.Tier = TierInfeasible
	}
	r.Recommended = Recommend(r.Tier)
	return r, nil
}

func maxCapacity(cal plan.Calendar, start, end plan.Date) int {
	best := 0
	for d := start; !d.After(end); d = d.AddDays(1) {
		if c := cal.Capacity(d); c > best {
			best = c
		}
	}
	return best
}
