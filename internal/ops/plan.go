package ops

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"

	"github.com/google/uuid"

	"github.com/hpungsan/syllabus/internal/db"
	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/feasibility"
	"github.com/hpungsan/syllabus/internal/manifest"
	"github.com/hpungsan/syllabus/internal/plan"
	"github.com/hpungsan/syllabus/internal/scheduler"
	"github.com/hpungsan/syllabus/internal/verify"
)

// Supersession reasons recorded on plan history.
const (
	ReasonReplaced         = "replaced"
	ReasonInventoryChanged = "inventory_changed"
)

// PlanWindow is the date range and capacity shared by planning operations.
type PlanWindow struct {
	Start           string // YYYY-MM-DD, default today
	End             string // YYYY-MM-DD, required
	CapacityMinutes int    // overrides daily_capacity_minutes when > 0
}

// AnalyzeOutput contains the result of the Analyze operation.
type AnalyzeOutput struct {
	Report        feasibility.Report  `json:"report"`
	InventoryHash string              `json:"inventory_hash"`
	Excluded      []plan.ExcludedExam `json:"excluded,omitempty"`
}

// Analyze classifies how feasible the current inventory is over a window.
func (e *Env) Analyze(ctx context.Context, input PlanWindow) (*AnalyzeOutput, error) {
	start, end, cal, err := e.planWindow(input)
	if err != nil {
		return nil, err
	}
	inv, _, err := e.snapshot(ctx, e.DB)
	if err != nil {
		return nil, err
	}
	report, err := feasibility.Analyze(inv.Topics, start, end, cal)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	return &AnalyzeOutput{Report: report, InventoryHash: inv.Hash, Excluded: inv.Excluded}, nil
}

// CreatePlanInput contains parameters for the CreatePlan operation.
type CreatePlanInput struct {
	PlanWindow
	Strategy string // round_robin, priority_first or balanced; empty uses the recommendation
}

// planPayload is what a history record stores: the outcome plus the
// inventory it was computed from.
type planPayload struct {
	Outcome         scheduler.Outcome   `json:"outcome"`
	Exams           []plan.Exam         `json:"exams"`
	Topics          []plan.Topic        `json:"topics"`
	Excluded        []plan.ExcludedExam `json:"excluded,omitempty"`
	CapacityMinutes int                 `json:"capacity_minutes,omitempty"`
}

// CreatePlanOutput contains the result of the CreatePlan operation.
type CreatePlanOutput struct {
	Plan           plan.Record         `json:"plan"`
	Outcome        scheduler.Outcome   `json:"outcome"`
	Excluded       []plan.ExcludedExam `json:"excluded,omitempty"`
	SupersededPlan string              `json:"superseded_plan,omitempty"`
}

// CreatePlan schedules the current inventory and appends the result to the
// plan history. The previous current plan is superseded in the same
// transaction. When the inventory changed while the schedule was computed,
// the new plan is stored already superseded and marked provisional.
//
// Incomplete coverage is returned as data; VERIFICATION_FAILED means no
// attempt produced a schedule without hard violations.
func (e *Env) CreatePlan(ctx context.Context, input CreatePlanInput) (*CreatePlanOutput, error) {
	start, end, cal, err := e.planWindow(input.PlanWindow)
	if err != nil {
		return nil, err
	}
	strategy := plan.Strategy(strings.TrimSpace(input.Strategy))
	if strategy != "" && !strategy.Selectable() {
		return nil, errors.NewInvalidRequest(fmt.Sprintf("unknown strategy: %s", strategy))
	}

	inv, _, err := e.snapshot(ctx, e.DB)
	if err != nil {
		return nil, err
	}

	outcome, err := scheduler.Run(inv.Topics, inv.Exams, start, end, cal, scheduler.Options{
		Strategy:            strategy,
		MaxAttempts:         e.Config.MaxAttempts,
		OptionalCompression: e.Config.OptionalCompression,
		OnAttempt: func(a scheduler.Attempt) {
			e.Metrics.ObserveAttempt(string(a.Strategy))
			if a.HardViolations > 0 {
				e.Logger.Warn("schedule_attempt_rejected", "attempt", a.Number, "strategy", string(a.Strategy),
					"hard_violations", a.HardViolations)
			}
		},
	})
	if err != nil {
		return nil, schedulerError(err)
	}
	e.Metrics.ObserveOutcome(string(outcome.Feasibility.Tier), outcome.Complete, len(outcome.Schedule.Unplaced))

	if e.afterSchedule != nil {
		e.afterSchedule()
	}
	if err := cancelled(ctx, "create plan"); err != nil {
		return nil, err
	}

	payload, err := json.Marshal(planPayload{
		Outcome:         outcome,
		Exams:           inv.Exams,
		Topics:          inv.Topics,
		Excluded:        inv.Excluded,
		CapacityMinutes: input.CapacityMinutes,
	})
	if err != nil {
		return nil, errors.NewInternal(err)
	}

	out := &CreatePlanOutput{Outcome: outcome, Excluded: inv.Excluded}
	now := e.now().Unix()
	record := plan.Record{
		ID:            uuid.NewString(),
		Status:        plan.RecordCurrent,
		Strategy:      outcome.Schedule.Strategy,
		Start:         start,
		End:           end,
		InventoryHash: inv.Hash,
		Complete:      outcome.Complete,
		CreatedAt:     now,
		Payload:       payload,
	}

	err = db.WithTx(ctx, e.DB, func(q db.Querier) error {
		current, _, err := e.snapshot(ctx, q)
		if err != nil {
			return err
		}
		if current.Hash != inv.Hash {
			record.Status = plan.RecordSuperseded
			record.Reason = ReasonInventoryChanged
			record.Provisional = true
			record.SupersededAt = &now
		} else {
			prev, err := db.SupersedeCurrent(ctx, q, ReasonReplaced, now)
			if err != nil {
				return err
			}
			out.SupersededPlan = prev
		}

		var owners, inputs []string
		for _, ex := range inv.Exams {
			owners = append(owners, ex.Sources...)
			if ex.CoverageArtifactID != "" {
				inputs = append(inputs, ex.CoverageArtifactID)
			}
		}
		reg, err := e.registerTx(ctx, q, artifactSpec{
			Kind:     manifest.KindSchedule,
			Owners:   owners,
			Inputs:   inputs,
			Subject:  record.ID,
			Location: "plan:" + record.ID,
		})
		if err != nil {
			return err
		}
		record.ArtifactID = reg.Artifact.ID
		if record.Provisional {
			if _, err := db.MarkArtifactStale(ctx, q, reg.Artifact.ID, ReasonInventoryChanged, now); err != nil {
				return err
			}
		}
		return db.InsertSchedule(ctx, q, &record)
	})
	if err != nil {
		return nil, err
	}

	if record.Provisional {
		e.Logger.Warn("plan_provisional", "plan_id", record.ID, "reason", ReasonInventoryChanged)
	}
	e.Logger.Info("plan_created", "plan_id", record.ID, "strategy", string(record.Strategy),
		"complete", record.Complete, "unplaced", len(outcome.Schedule.Unplaced), "attempts", len(outcome.Attempts))

	record.Payload = nil
	out.Plan = record
	return out, nil
}

// schedulerError maps scheduler and feasibility errors to operation errors.
func schedulerError(err error) error {
	var ve *scheduler.VerificationError
	switch {
	case stderrors.As(err, &ve):
		return errors.NewVerificationFailed(ve.Violations, len(ve.Attempts))
	case stderrors.Is(err, scheduler.ErrUnknownStrategy),
		stderrors.Is(err, scheduler.ErrDuplicateTopic),
		stderrors.Is(err, scheduler.ErrInvalidEffort),
		stderrors.Is(err, feasibility.ErrInvalidWindow):
		return errors.NewInvalidRequest(err.Error())
	default:
		return errors.NewInternal(err)
	}
}

// FetchPlanOutput contains the result of the FetchPlan operation.
type FetchPlanOutput struct {
	Plan     plan.Record         `json:"plan"`
	Outcome  scheduler.Outcome   `json:"outcome"`
	Exams    []plan.Exam         `json:"exams"`
	Topics   []plan.Topic        `json:"topics"`
	Excluded []plan.ExcludedExam `json:"excluded,omitempty"`
}

// FetchPlan returns a stored plan. An empty id means the current plan.
func (e *Env) FetchPlan(ctx context.Context, id string) (*FetchPlanOutput, error) {
	record, payload, err := e.loadPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	return &FetchPlanOutput{
		Plan:     *record,
		Outcome:  payload.Outcome,
		Exams:    payload.Exams,
		Topics:   payload.Topics,
		Excluded: payload.Excluded,
	}, nil
}

func (e *Env) loadPlan(ctx context.Context, id string) (*plan.Record, *planPayload, error) {
	id = strings.TrimSpace(id)
	var (
		record *plan.Record
		err    error
	)
	if id == "" {
		record, err = db.CurrentSchedule(ctx, e.DB)
	} else {
		record, err = db.GetSchedule(ctx, e.DB, id)
	}
	if err != nil {
		return nil, nil, err
	}

	var payload planPayload
	if err := json.Unmarshal(record.Payload, &payload); err != nil {
		return nil, nil, errors.NewInternal(fmt.Errorf("decode plan %s: %w", record.ID, err))
	}
	record.Payload = nil
	return record, &payload, nil
}

// VerifyPlanOutput contains the result of the VerifyPlan operation.
type VerifyPlanOutput struct {
	PlanID           string             `json:"plan_id"`
	Status           plan.RecordStatus  `json:"status"`
	Valid            bool               `json:"valid"`
	Complete         bool               `json:"complete"`
	InventoryChanged bool               `json:"inventory_changed"`
	Violations       []verify.Violation `json:"violations"`
}

// VerifyPlan re-checks a stored plan against the current inventory and
// calendar. Valid means no hard violations; Complete means nothing is
// uncovered either.
func (e *Env) VerifyPlan(ctx context.Context, id string) (*VerifyPlanOutput, error) {
	record, payload, err := e.loadPlan(ctx, id)
	if err != nil {
		return nil, err
	}
	cal, err := e.calendar(payload.CapacityMinutes)
	if err != nil {
		return nil, err
	}
	inv, _, err := e.snapshot(ctx, e.DB)
	if err != nil {
		return nil, err
	}

	vs := verify.Verify(payload.Outcome.Schedule, inv.Topics, inv.Exams, cal)
	if vs == nil {
		vs = []verify.Violation{}
	}
	return &VerifyPlanOutput{
		PlanID:           record.ID,
		Status:           record.Status,
		Valid:            len(verify.HardOnly(vs)) == 0,
		Complete:         len(vs) == 0,
		InventoryChanged: inv.Hash != record.InventoryHash,
		Violations:       vs,
	}, nil
}

// HistoryInput contains parameters for the History operation.
type HistoryInput struct {
	Limit int // default: 20, max: 200
}

// HistoryOutput contains the result of the History operation.
type HistoryOutput struct {
	Items []plan.Record `json:"items"`
}

// History lists stored plans newest first.
func (e *Env) History(ctx context.Context, input HistoryInput) (*HistoryOutput, error) {
	limit := input.Limit
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	if limit > MaxHistoryLimit {
		limit = MaxHistoryLimit
	}
	items, err := db.ListSchedules(ctx, e.DB, limit)
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []plan.Record{}
	}
	return &HistoryOutput{Items: items}, nil
}

func (e *Env) planWindow(w PlanWindow) (plan.Date, plan.Date, plan.Calendar, error) {
	if w.CapacityMinutes < 0 {
		return plan.Date{}, plan.Date{}, plan.Calendar{}, errors.NewInvalidRequest("capacity_minutes must be >= 0")
	}
	start, end, err := e.window(strings.TrimSpace(w.Start), strings.TrimSpace(w.End))
	if err != nil {
		return plan.Date{}, plan.Date{}, plan.Calendar{}, err
	}
	cal, err := e.calendar(w.CapacityMinutes)
	if err != nil {
		return plan.Date{}, plan.Date{}, plan.Calendar{}, err
	}
	return start, end, cal, nil
}
