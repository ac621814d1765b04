package scheduler

import (
	"fmt"
	"math"
	"sort"

	"github.com/hpungsan/syllabus/internal/plan"
)

// work is a topic together with the minutes it will be allocated.
type work struct {
	topic      plan.Topic
	effort     int
	compressed bool
	placed     bool
}

// board tracks remaining capacity over the eligible days of a window.
type board struct {
	days    []plan.Date
	limit   []int
	used    []int
	entries [][]plan.Entry
}

func newBoard(start, end plan.Date, cal plan.Calendar) *board {
	days := cal.EligibleDays(start, end)
	b := &board{
		days:    days,
		limit:   make([]int, len(days)),
		used:    make([]int, len(days)),
		entries: make([][]plan.Entry, len(days)),
	}
	for i, d := range days {
		b.limit[i] = cal.Capacity(d)
	}
	return b
}

func (b *board) remaining(i int) int { return b.limit[i] - b.used[i] }

func (b *board) place(i int, w *work) {
	b.used[i] += w.effort
	b.entries[i] = append(b.entries[i], plan.Entry{
		TopicID:          w.topic.ID,
		ExamID:           w.topic.ExamID,
		Tier:             w.topic.Tier,
		AllocatedMinutes: w.effort,
		Compressed:       w.compressed,
	})
	w.placed = true
}

// fits reports whether w may go on day i.
func (b *board) fits(i int, w *work) bool {
	return !w.placed && !b.days[i].After(w.topic.Deadline) && w.effort <= b.remaining(i)
}

// firstFit places w on the earliest day with room, if any.
func (b *board) firstFit(w *work) {
	for i := range b.days {
		if b.days[i].After(w.topic.Deadline) {
			return
		}
		if b.fits(i, w) {
			b.place(i, w)
			return
		}
	}
}

// urgencyLess orders by tier, then deadline, then larger effort, then ID.
func urgencyLess(a, b *work) bool {
	if ra, rb := a.topic.Tier.Rank(), b.topic.Tier.Rank(); ra != rb {
		return ra < rb
	}
	if c := a.topic.Deadline.Compare(b.topic.Deadline); c != 0 {
		return c < 0
	}
	if a.effort != b.effort {
		return a.effort > b.effort
	}
	return a.topic.ID < b.topic.ID
}

// deadlineLess orders by deadline, then tier, then larger effort, then ID.
func deadlineLess(a, b *work) bool {
	if c := a.topic.Deadline.Compare(b.topic.Deadline); c != 0 {
		return c < 0
	}
	if ra, rb := a.topic.Tier.Rank(), b.topic.Tier.Rank(); ra != rb {
		return ra < rb
	}
	if a.effort != b.effort {
		return a.effort > b.effort
	}
	return a.topic.ID < b.topic.ID
}

func sortedWork(items []*work, less func(a, b *work) bool) []*work {
	out := append([]*work(nil), items...)
	sort.SliceStable(out, func(i, j int) bool { return less(out[i], out[j]) })
	return out
}

// group is one exam's topics in urgency order.
type group struct {
	examID  string
	items   []*work
	minutes int
}

func groupByExam(items []*work) []*group {
	byExam := make(map[string]*group)
	var groups []*group
	for _, w := range sortedWork(items, urgencyLess) {
		g, ok := byExam[w.topic.ExamID]
		if !ok {
			g = &group{examID: w.topic.ExamID}
			byExam[w.topic.ExamID] = g
			groups = append(groups, g)
		}
		g.items = append(g.items, w)
	}
	sort.Slice(groups, func(i, j int) bool { return groups[i].examID < groups[j].examID })
	return groups
}

// take places the group's most urgent topic that fits day i.
func (g *group) take(b *board, i int) bool {
	for _, w := range g.items {
		if b.fits(i, w) {
			b.place(i, w)
			g.minutes += w.effort
			return true
		}
	}
	return false
}

// packRoundRobin fills each day by cycling through exam groups, one topic
// per group per turn, until nothing else fits; the cycle position carries
// over to the next day.
func packRoundRobin(b *board, items []*work) {
	groups := groupByExam(items)
	if len(groups) == 0 {
		return
	}
	next := 0
	for i := range b.days {
		for {
			placed := false
			for k := 0; k < len(groups); k++ {
				g := (next + k) % len(groups)
				if groups[g].take(b, i) {
					next = (g + 1) % len(groups)
					placed = true
					break
				}
			}
			if !placed {
				break
			}
		}
	}
}

// packBalanced fills each day by always serving the exam with the least
// minutes allocated so far (ties by exam ID) among those with a topic that fits.
func packBalanced(b *board, items []*work) {
	groups := groupByExam(items)
	for i := range b.days {
		for {
			order := append([]*group(nil), groups...)
			sort.SliceStable(order, func(x, y int) bool {
				if order[x].minutes != order[y].minutes {
					return order[x].minutes < order[y].minutes
				}
				return order[x].examID < order[y].examID
			})
			placed := false
			for _, g := range order {
				if g.take(b, i) {
					placed = true
					break
				}
			}
			if !placed {
				break
			}
		}
	}
}

func packGreedy(b *board, items []*work, less func(a, b *work) bool) {
	for _, w := range sortedWork(items, less) {
		b.firstFit(w)
	}
}

// compressEffort scales minutes by factor, rounding up, never below 1.
func compressEffort(minutes int, factor float64) int {
	scaled := int(math.Ceil(float64(minutes) * factor))
	if scaled < 1 {
		return 1
	}
	return scaled
}

// Place runs one packing pass with strategy. With compression in (0, 1),
// optional-tier topics are allocated compressed effort. Every topic ends up
// either in a day or in the schedule's Unplaced list.
func Place(topics []plan.Topic, start, end plan.Date, cal plan.Calendar, strategy plan.Strategy, compression float64) (plan.Schedule, error) {
	if !strategy.Valid() {
		return plan.Schedule{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
	}

	items := make([]*work, len(topics))
	for i, t := range topics {
		w := &work{topic: t, effort: t.EffortMinutes}
		if compression > 0 && compression < 1 && t.Tier == plan.TierOptional {
			if c := compressEffort(t.EffortMinutes, compression); c < t.EffortMinutes {
				w.effort = c
				w.compressed = true
			}
		}
		items[i] = w
	}

	b := newBoard(start, end, cal)
	switch strategy {
	case plan.StrategyRoundRobin:
		packRoundRobin(b, items)
	case plan.StrategyBalanced:
		packBalanced(b, items)
	case plan.StrategyPriorityFirst:
		packGreedy(b, items, urgencyLess)
	case plan.StrategyDeadlineFirst:
		packGreedy(b, items, deadlineLess)
	}

	s := plan.Schedule{
		Strategy: strategy,
		Start:    start,
		End:      end,
		Days:     []plan.ScheduleDay{},
		Coverage: []string{},
	}
	for i, d := range b.days {
		if len(b.entries[i]) == 0 {
			continue
		}
		s.Days = append(s.Days, plan.ScheduleDay{
			Date:         d,
			Entries:      b.entries[i],
			TotalMinutes: b.used[i],
			Capacity:     b.limit[i],
		})
	}

	for _, w := range items {
		if w.compressed {
			s.Compressed = append(s.Compressed, w.topic.ID)
		}
		if w.placed {
			s.Coverage = append(s.Coverage, w.topic.ID)
			continue
		}
		s.Unplaced = append(s.Unplaced, plan.Unplaced{
			TopicID:       w.topic.ID,
			ExamID:        w.topic.ExamID,
			Tier:          w.topic.Tier,
			Priority:      w.topic.Tier.Label(),
			EffortMinutes: w.effort,
			Deadline:      w.topic.Deadline,
			Reason:        unplacedReason(b, w, start),
		})
	}
	sort.Strings(s.Coverage)
	sort.Strings(s.Compressed)
	sort.SliceStable(s.Unplaced, func(i, j int) bool {
		a, c := s.Unplaced[i], s.Unplaced[j]
		if a.Tier.Rank() != c.Tier.Rank() {
			return a.Tier.Rank() < c.Tier.Rank()
		}
		if cmp := a.Deadline.Compare(c.Deadline); cmp != 0 {
			return cmp < 0
		}
		return a.TopicID < c.TopicID
	})
	return s, nil
}

func unplacedReason(b *board, w *work, start plan.Date) plan.UnplacedReason {
	if w.topic.Deadline.Before(start) {
		return plan.ReasonDeadlineBeforeStart
	}
	largest, usable := 0, 0
	for i, d := range b.days {
		if d.After(w.topic.Deadline) {
			break
		}
		usable++
		if b.limit[i] > largest {
			largest = b.limit[i]
		}
	}
	switch {
	case usable == 0:
		return plan.ReasonNoEligibleDay
	case w.effort > largest:
		return plan.ReasonExceedsDailyCapacity
	default:
		return plan.ReasonInsufficientCapacity
	}
}
