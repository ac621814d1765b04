package plan

import "time"

// Calendar describes which days can be used and how many minutes each offers.
type Calendar struct {
	DefaultCapacity  int
	Overrides        map[Date]int
	BlackoutWeekdays []time.Weekday
	BlackoutDates    map[Date]bool
}

// Blackout reports whether d is never scheduled.
func (c Calendar) Blackout(d Date) bool {
	if c.BlackoutDates[d] {
		return true
	}
	wd := d.Weekday()
	for _, b := range c.BlackoutWeekdays {
		if b == wd {
			return true
		}
	}
	return false
}

// Capacity returns the minutes available on d: 0 on blackout days, the
// override if one exists, else the default.
func (c Calendar) Capacity(d Date) int {
	if c.Blackout(d) {
		return 0
	}
	if v, ok := c.Overrides[d]; ok {
		return v
	}
	return c.DefaultCapacity
}

// Eligible reports whether d can hold any work.
func (c Calendar) Eligible(d Date) bool {
	return c.Capacity(d) > 0
}

// EligibleDays lists eligible days in [start, end] in order.
func (c Calendar) EligibleDays(start, end Date) []Date {
	var out []Date
	for d := start; !d.After(end); d = d.AddDays(1) {
		if c.Eligible(d) {
			out = append(out, d)
		}
	}
	return out
}

// Available sums capacity over [start, end].
func (c Calendar) Available(start, end Date) int {
	total := 0
	for d := start; !d.After(end); d = d.AddDays(1) {
		total += c.Capacity(d)
	}
	return total
}
