// Package plan holds the scheduling data model: exams, topics, the study
// calendar and the schedules built from them.
package plan

import "encoding/json"

// Exam owns a deadline and the topics required for it.
type Exam struct {
	ID                 string   `json:"id"`
	Name               string   `json:"name"`
	Course             string   `json:"course,omitempty"`
	Deadline           Date     `json:"deadline"`
	Sources            []string `json:"sources,omitempty"`
	CoverageArtifactID string   `json:"coverage_artifact_id,omitempty"`
}

// Topic is one unit of study. Topics are read-only to the scheduler.
type Topic struct {
	ID            string  `json:"id"`
	ExamID        string  `json:"exam_id"`
	Chapter       string  `json:"chapter,omitempty"`
	Objective     string  `json:"objective"`
	EffortMinutes int     `json:"effort_minutes"`
	Tier          Tier    `json:"tier"`
	Confidence    float64 `json:"confidence"`
	Deadline      Date    `json:"deadline"`
}

// Strategy names an allocation policy.
type Strategy string

const (
	StrategyRoundRobin    Strategy = "round_robin"
	StrategyPriorityFirst Strategy = "priority_first"
	StrategyBalanced      Strategy = "balanced"
	// StrategyDeadlineFirst is only used as a retry fallback.
	StrategyDeadlineFirst Strategy = "deadline_first"
)

// Selectable reports whether s can be requested by a caller.
func (s Strategy) Selectable() bool {
	switch s {
	case StrategyRoundRobin, StrategyPriorityFirst, StrategyBalanced:
		return true
	}
	return false
}

// Valid reports whether s is any known strategy, including fallbacks.
func (s Strategy) Valid() bool {
	return s.Selectable() || s == StrategyDeadlineFirst
}

// Entry is one topic placed on a day.
type Entry struct {
	TopicID          string `json:"topic_id"`
	ExamID           string `json:"exam_id"`
	Tier             Tier   `json:"tier"`
	AllocatedMinutes int    `json:"allocated_minutes"`
	Compressed       bool   `json:"compressed,omitempty"`
}

// ScheduleDay is one calendar day with its placements in order.
type ScheduleDay struct {
	Date         Date    `json:"date"`
	Entries      []Entry `json:"entries"`
	TotalMinutes int     `json:"total_minutes"`
	Capacity     int     `json:"capacity"`
}

// UnplacedReason explains why a topic could not be placed.
type UnplacedReason string

const (
	ReasonDeadlineBeforeStart  UnplacedReason = "deadline_before_start"
	ReasonNoEligibleDay        UnplacedReason = "no_eligible_day"
	ReasonExceedsDailyCapacity UnplacedReason = "exceeds_daily_capacity"
	ReasonInsufficientCapacity UnplacedReason = "insufficient_capacity"
)

// Unplaced reports a topic left out of a schedule, tagged with its priority.
type Unplaced struct {
	TopicID       string         `json:"topic_id"`
	ExamID        string         `json:"exam_id"`
	Tier          Tier           `json:"tier"`
	Priority      string         `json:"priority"`
	EffortMinutes int            `json:"effort_minutes"`
	Deadline      Date           `json:"deadline"`
	Reason        UnplacedReason `json:"reason"`
}

// Schedule is the output of one scheduling pass. Coverage is the sorted set
// of placed topic IDs.
type Schedule struct {
	Strategy   Strategy      `json:"strategy"`
	Start      Date          `json:"start"`
	End        Date          `json:"end"`
	Days       []ScheduleDay `json:"days"`
	Coverage   []string      `json:"coverage"`
	Unplaced   []Unplaced    `json:"unplaced,omitempty"`
	Compressed []string      `json:"compressed,omitempty"`
}

// TotalMinutes sums allocated minutes across all days.
func (s *Schedule) TotalMinutes() int {
	total := 0
	for _, d := range s.Days {
		total += d.TotalMinutes
	}
	return total
}

// Covers reports whether topicID is in the coverage manifest.
func (s *Schedule) Covers(topicID string) bool {
	for _, id := range s.Coverage {
		if id == topicID {
			return true
		}
	}
	return false
}

// ExcludedExam is an exam left out of an inventory snapshot.
type ExcludedExam struct {
	ExamID   string `json:"exam_id"`
	Reason   string `json:"reason"`
	SourceID string `json:"source_id,omitempty"`
}

// Inventory is an immutable snapshot of the topics eligible for planning.
type Inventory struct {
	Exams    []Exam         `json:"exams"`
	Topics   []Topic        `json:"topics"`
	Excluded []ExcludedExam `json:"excluded,omitempty"`
	Hash     string         `json:"hash"`
}

// ExamByID indexes exams by ID.
func ExamByID(exams []Exam) map[string]Exam {
	out := make(map[string]Exam, len(exams))
	for _, e := range exams {
		out[e.ID] = e
	}
	return out
}

// RecordStatus is the lifecycle state of a persisted schedule.
type RecordStatus string

const (
	RecordCurrent    RecordStatus = "current"
	RecordSuperseded RecordStatus = "superseded"
)

// Record is one entry of the append-only schedule history. Payload holds
// the serialized scheduling outcome.
type Record struct {
	ID            string          `json:"id"`
	Status        RecordStatus    `json:"status"`
	Reason        string          `json:"reason,omitempty"`
	Strategy      Strategy        `json:"strategy"`
	Start         Date            `json:"start"`
	End           Date            `json:"end"`
	InventoryHash string          `json:"inventory_hash"`
	ArtifactID    string          `json:"artifact_id,omitempty"`
	Complete      bool            `json:"complete"`
	Provisional   bool            `json:"provisional,omitempty"`
	CreatedAt     int64           `json:"created_at"`
	SupersededAt  *int64          `json:"superseded_at,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
}
