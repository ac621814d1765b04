// Package scheduler allocates topics to study days under deadline and
// capacity constraints, verifying each attempt and retrying with stricter
// policies when verification fails.
package scheduler

import (
	"errors"
	"fmt"
	"strings"

	"github.com/hpungsan/syllabus/internal/feasibility"
	"github.com/hpungsan/syllabus/internal/plan"
	"github.com/hpungsan/syllabus/internal/verify"
)

var (
	ErrUnknownStrategy = errors.New("scheduler: unknown strategy")
	ErrDuplicateTopic  = errors.New("scheduler: duplicate topic id")
	ErrInvalidEffort   = errors.New("scheduler: effort must be positive")
)

// Options controls one Run. Zero values mean defaults.
type Options struct {
	// Strategy is the first policy tried; empty uses the feasibility recommendation.
	Strategy plan.Strategy
	// MaxAttempts bounds the retry ladder (default and maximum 3).
	MaxAttempts int
	// OptionalCompression scales optional-tier effort on the last attempt (default 0.5).
	OptionalCompression float64
	// OnAttempt is called after every attempt is verified.
	OnAttempt func(Attempt)
}

const (
	defaultMaxAttempts = 3
	defaultCompression = 0.5
)

// Attempt summarizes one pass of the retry ladder.
type Attempt struct {
	Number         int           `json:"number"`
	Strategy       plan.Strategy `json:"strategy"`
	Compressed     bool          `json:"compressed,omitempty"`
	Uncovered      int           `json:"uncovered"`
	HardViolations int           `json:"hard_violations"`
}

// Outcome is the result of Run. An incomplete schedule is a normal result:
// Schedule.Unplaced lists every topic that did not fit, with its reason.
type Outcome struct {
	Schedule    plan.Schedule      `json:"schedule"`
	Feasibility feasibility.Report `json:"feasibility"`
	Complete    bool               `json:"complete"`
	Violations  []verify.Violation `json:"violations,omitempty"`
	Attempts    []Attempt          `json:"attempts"`
}

// VerificationError is returned when every attempt still breaks a placement
// invariant. Violations are those of the last attempt.
type VerificationError struct {
	Violations []verify.Violation
	Attempts   []Attempt
}

func (e *VerificationError) Error() string {
	parts := make([]string, len(e.Violations))
	for i, v := range e.Violations {
		parts[i] = v.String()
	}
	return fmt.Sprintf("scheduler: %d attempts failed verification: %s", len(e.Attempts), strings.Join(parts, ", "))
}

type step struct {
	strategy plan.Strategy
	compress bool
}

// ladder returns the attempts tried for a starting strategy: the strategy
// itself, then priority_first (deadline_first if that was the start), then
// deadline_first with optional topics compressed.
func ladder(first plan.Strategy) []step {
	second := plan.StrategyPriorityFirst
	if first == plan.StrategyPriorityFirst {
		second = plan.StrategyDeadlineFirst
	}
	return []step{
		{strategy: first},
		{strategy: second},
		{strategy: plan.StrategyDeadlineFirst, compress: true},
	}
}

// Run analyzes feasibility, then places and verifies topics, retrying until
// an attempt has no violations or the ladder is exhausted. The kept attempt
// is the first one with no hard violations and the fewest uncovered topics.
// A topic's deadline is taken from its exam when the exam is given.
func Run(topics []plan.Topic, exams []plan.Exam, start, end plan.Date, cal plan.Calendar, opts Options) (Outcome, error) {
	normalized, err := normalize(topics, exams)
	if err != nil {
		return Outcome{}, err
	}

	report, err := feasibility.Analyze(normalized, start, end, cal)
	if err != nil {
		return Outcome{}, err
	}

	first := opts.Strategy
	if first == "" {
		first = report.Recommended
	}
	if !first.Valid() {
		return Outcome{}, fmt.Errorf("%w: %q", ErrUnknownStrategy, first)
	}
	maxAttempts := opts.MaxAttempts
	if maxAttempts <= 0 || maxAttempts > defaultMaxAttempts {
		maxAttempts = defaultMaxAttempts
	}
	compression := opts.OptionalCompression
	if compression <= 0 || compression > 1 {
		compression = defaultCompression
	}

	var (
		attempts []Attempt
		best     *plan.Schedule
		bestVs   []verify.Violation
		lastHard []verify.Violation
	)
	for n, st := range ladder(first)[:maxAttempts] {
		factor := 0.0
		if st.compress {
			factor = compression
		}
		s, err := Place(normalized, start, end, cal, st.strategy, factor)
		if err != nil {
			return Outcome{}, err
		}

		vs := verify.Verify(s, normalized, exams, cal)
		hard := verify.HardOnly(vs)
		a := Attempt{
			Number:         n + 1,
			Strategy:       st.strategy,
			Compressed:     len(s.Compressed) > 0,
			Uncovered:      len(vs) - len(hard),
			HardViolations: len(hard),
		}
		attempts = append(attempts, a)
		if opts.OnAttempt != nil {
			opts.OnAttempt(a)
		}

		if len(hard) > 0 {
			lastHard = hard
			continue
		}
		if best == nil || len(vs) < len(bestVs) {
			kept := s
			best, bestVs = &kept, vs
		}
		if len(vs) == 0 {
			break
		}
	}

	if best == nil {
		return Outcome{}, &VerificationError{Violations: lastHard, Attempts: attempts}
	}
	return Outcome{
		Schedule:    *best,
		Feasibility: report,
		Complete:    len(bestVs) == 0,
		Violations:  bestVs,
		Attempts:    attempts,
	}, nil
}

// normalize validates topics and resolves each deadline from its exam.
func normalize(topics []plan.Topic, exams []plan.Exam) ([]plan.Topic, error) {
	examByID := plan.ExamByID(exams)
	seen := make(map[string]bool, len(topics))
	out := make([]plan.Topic, len(topics))
	for i, t := range topics {
		if seen[t.ID] {
			return nil, fmt.Errorf("%w: %q", ErrDuplicateTopic, t.ID)
		}
		seen[t.ID] = true
		if t.EffortMinutes <= 0 {
			return nil, fmt.Errorf("%w: topic %q has %d minutes", ErrInvalidEffort, t.ID, t.EffortMinutes)
		}
		if e, ok := examByID[t.ExamID]; ok && !e.Deadline.IsZero() {
			t.Deadline = e.Deadline
		}
		out[i] = t
	}
	return out, nil
}
