// Package verify checks a schedule against the coverage, deadline and
// capacity invariants and reports every violation it finds.
package verify

import (
	"fmt"
	"sort"

	"github.com/hpungsan/syllabus/internal/plan"
)

// Kind names a violated invariant.
type Kind string

const (
	KindUncoveredTopic     Kind = "uncovered_topic"
	KindDeadlineViolation  Kind = "deadline_violation"
	KindCapacityViolation  Kind = "capacity_violation"
	KindBlackoutViolation  Kind = "blackout_violation"
	KindUnknownTopic       Kind = "unknown_topic"
	KindDuplicatePlacement Kind = "duplicate_placement"
)

var kindOrder = map[Kind]int{
	KindUncoveredTopic:     0,
	KindDeadlineViolation:  1,
	KindCapacityViolation:  2,
	KindBlackoutViolation:  3,
	KindUnknownTopic:       4,
	KindDuplicatePlacement: 5,
}

// Violation is one failed check. Day is nil for coverage violations.
type Violation struct {
	Kind     Kind       `json:"kind"`
	TopicID  string     `json:"topic_id,omitempty"`
	Day      *plan.Date `json:"day,omitempty"`
	Deadline *plan.Date `json:"deadline,omitempty"`
	Total    int        `json:"total,omitempty"`
	Limit    int        `json:"limit,omitempty"`
}

// Hard reports whether v breaks a placement invariant. Uncovered topics are
// a coverage shortfall, which the scheduler reports as data.
func (v Violation) Hard() bool {
	return v.Kind != KindUncoveredTopic
}

func (v Violation) String() string {
	switch v.Kind {
	case KindUncoveredTopic:
		return fmt.Sprintf("uncovered_topic(%s)", v.TopicID)
	case KindDeadlineViolation:
		return fmt.Sprintf("deadline_violation(%s, %s)", v.TopicID, v.Day)
	case KindCapacityViolation:
		return fmt.Sprintf("capacity_violation(%s, %d, %d)", v.Day, v.Total, v.Limit)
	case KindBlackoutViolation:
		return fmt.Sprintf("blackout_violation(%s)", v.Day)
	case KindUnknownTopic:
		return fmt.Sprintf("unknown_topic(%s, %s)", v.TopicID, v.Day)
	default:
		return fmt.Sprintf("duplicate_placement(%s, %s)", v.TopicID, v.Day)
	}
}

// Verify checks s against the required topics. A topic's deadline is its
// exam's deadline when the exam is known, else the deadline on the topic.
// Capacity is checked against the calendar's limit for each day, counting
// the minutes recorded on the entries. The result is sorted by kind, day
// and topic.
func Verify(s plan.Schedule, topics []plan.Topic, exams []plan.Exam, cal plan.Calendar) []Violation {
	examByID := plan.ExamByID(exams)
	deadlines := make(map[string]plan.Date, len(topics))
	for _, t := range topics {
		deadline := t.Deadline
		if e, ok := examByID[t.ExamID]; ok && !e.Deadline.IsZero() {
			deadline = e.Deadline
		}
		deadlines[t.ID] = deadline
	}

	var out []Violation

	coverage := make(map[string]bool, len(s.Coverage))
	for _, id := range s.Coverage {
		coverage[id] = true
	}
	for _, t := range topics {
		if !coverage[t.ID] {
			out = append(out, Violation{Kind: KindUncoveredTopic, TopicID: t.ID})
		}
	}

	placed := make(map[string]bool)
	for _, d := range s.Days {
		day := d.Date
		total := 0
		for _, e := range d.Entries {
			total += e.AllocatedMinutes

			deadline, known := deadlines[e.TopicID]
			if !known {
				out = append(out, Violation{Kind: KindUnknownTopic, TopicID: e.TopicID, Day: &day})
				continue
			}
			if placed[e.TopicID] {
				out = append(out, Violation{Kind: KindDuplicatePlacement, TopicID: e.TopicID, Day: &day})
			}
			placed[e.TopicID] = true
			if day.After(deadline) {
				dl := deadline
				out = append(out, Violation{Kind: KindDeadlineViolation, TopicID: e.TopicID, Day: &day, Deadline: &dl})
			}
		}

		if len(d.Entries) > 0 && cal.Blackout(day) {
			out = append(out, Violation{Kind: KindBlackoutViolation, Day: &day})
		}
		if limit := cal.Capacity(day); total > limit && !cal.Blackout(day) {
			out = append(out, Violation{Kind: KindCapacityViolation, Day: &day, Total: total, Limit: limit})
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if kindOrder[a.Kind] != kindOrder[b.Kind] {
			return kindOrder[a.Kind] < kindOrder[b.Kind]
		}
		if c := compareDay(a.Day, b.Day); c != 0 {
			return c < 0
		}
		return a.TopicID < b.TopicID
	})
	return out
}

// HardOnly filters out coverage violations.
func HardOnly(vs []Violation) []Violation {
	var out []Violation
	for _, v := range vs {
		if v.Hard() {
			out = append(out, v)
		}
	}
	return out
}

// Uncovered returns the topic IDs of coverage violations.
func Uncovered(vs []Violation) []string {
	var out []string
	for _, v := range vs {
		if v.Kind == KindUncoveredTopic {
			out = append(out, v.TopicID)
		}
	}
	return out
}

func compareDay(a, b *plan.Date) int {
	switch {
	case a == nil && b == nil:
		return 0
	case a == nil:
		return -1
	case b == nil:
		return 1
	default:
		return a.Compare(*b)
	}
}
