package ops

import (
	"context"
	"strings"

	"github.com/hpungsan/syllabus/internal/db"
	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/manifest"
)

// ListSourcesInput contains parameters for the ListSources operation.
type ListSourcesInput struct {
	Status         string // optional: new, processed, stale, error
	IncludeMissing bool
}

// ListSourcesOutput contains the result of the ListSources operation.
type ListSourcesOutput struct {
	Items  []manifest.SourceRecord `json:"items"`
	Counts map[string]int          `json:"counts"`
}

// ListSources returns tracked sources ordered by path with per-status counts.
func (e *Env) ListSources(ctx context.Context, input ListSourcesInput) (*ListSourcesOutput, error) {
	status := manifest.Status(strings.TrimSpace(input.Status))
	switch status {
	case "", manifest.StatusNew, manifest.StatusProcessed, manifest.StatusStale, manifest.StatusError:
	default:
		return nil, errors.NewInvalidRequest("unknown status: " + string(status))
	}

	items, err := db.ListSources(ctx, e.DB, db.SourceFilter{Status: status, IncludeMissing: input.IncludeMissing})
	if err != nil {
		return nil, err
	}
	if items == nil {
		items = []manifest.SourceRecord{}
	}

	counts := make(map[string]int)
	for _, s := range items {
		counts[string(s.Status)]++
	}
	return &ListSourcesOutput{Items: items, Counts: counts}, nil
}

// GetSource returns one source with its derived artifact IDs.
func (e *Env) GetSource(ctx context.Context, id string) (*manifest.SourceRecord, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	return db.GetSource(ctx, e.DB, id)
}

// MarkProcessedInput contains parameters for the MarkProcessed operation.
type MarkProcessedInput struct {
	ID          string
	Fingerprint string // fingerprint the result was computed from
}

// MarkProcessed records that a source's derived artifacts are current. A
// fingerprint that no longer matches the source is a stale result and is
// rejected with CONFLICT.
func (e *Env) MarkProcessed(ctx context.Context, input MarkProcessedInput) (*manifest.SourceRecord, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	if strings.TrimSpace(input.Fingerprint) == "" {
		return nil, errors.NewInvalidRequest("fingerprint is required")
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	var rec *manifest.SourceRecord
	err := db.WithTx(ctx, e.DB, func(q db.Querier) error {
		var err error
		rec, err = e.markProcessedTx(ctx, q, id, input.Fingerprint)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

func (e *Env) markProcessedTx(ctx context.Context, q db.Querier, id, fingerprint string) (*manifest.SourceRecord, error) {
	rec, err := db.GetSource(ctx, q, id)
	if err != nil {
		return nil, err
	}
	if rec.Missing {
		return nil, errors.NewConflict("source is missing: " + rec.Path)
	}
	if rec.Fingerprint != fingerprint {
		conflict := errors.NewConflict("stale result: source changed since it was processed")
		conflict.Details = map[string]any{"current_fingerprint": rec.Fingerprint, "given_fingerprint": fingerprint}
		return nil, conflict
	}
	rec.Status = manifest.StatusProcessed
	rec.ProcessedFingerprint = fingerprint
	rec.Error = ""
	rec.UpdatedAt = e.now().Unix()
	if err := db.UpdateSource(ctx, q, rec); err != nil {
		return nil, err
	}
	return rec, nil
}

// MarkFailedInput contains parameters for the MarkFailed operation.
type MarkFailedInput struct {
	ID     string
	Detail string
}

// MarkFailedOutput contains the result of the MarkFailed operation.
type MarkFailedOutput struct {
	Source       *manifest.SourceRecord `json:"source"`
	Invalidation *InvalidateOutput      `json:"invalidation"`
}

// MarkFailed records that processing a source failed. Its dependents are
// invalidated so the exams it feeds drop out of the inventory.
func (e *Env) MarkFailed(ctx context.Context, input MarkFailedInput) (*MarkFailedOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	detail := strings.TrimSpace(input.Detail)
	if detail == "" {
		detail = "processing failed"
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	var out *MarkFailedOutput
	err := db.WithTx(ctx, e.DB, func(q db.Querier) error {
		var err error
		out, err = e.markFailedTx(ctx, q, id, detail)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (e *Env) markFailedTx(ctx context.Context, q db.Querier, id, detail string) (*MarkFailedOutput, error) {
	rec, err := db.GetSource(ctx, q, id)
	if err != nil {
		return nil, err
	}
	rec.Status = manifest.StatusError
	rec.Error = detail
	rec.UpdatedAt = e.now().Unix()
	if err := db.UpdateSource(ctx, q, rec); err != nil {
		return nil, err
	}
	inv, err := e.invalidate(ctx, q, id, TriggerSourceError, false)
	if err != nil {
		return nil, err
	}
	return &MarkFailedOutput{Source: rec, Invalidation: inv}, nil
}

// ClassifyInput contains parameters for the Classify operation.
type ClassifyInput struct {
	ID    string
	Label string
}

// Classify sets a source's document label.
func (e *Env) Classify(ctx context.Context, input ClassifyInput) (*manifest.SourceRecord, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	label := manifest.Label(strings.TrimSpace(input.Label))
	if !manifest.ValidLabel(label) {
		return nil, errors.NewInvalidRequest("unknown label: " + string(label))
	}

	unlock := e.locks.Lock(id)
	defer unlock()

	var rec *manifest.SourceRecord
	err := db.WithTx(ctx, e.DB, func(q db.Querier) error {
		var err error
		rec, err = db.GetSource(ctx, q, id)
		if err != nil {
			return err
		}
		rec.Label = label
		rec.UpdatedAt = e.now().Unix()
		return db.UpdateSource(ctx, q, rec)
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}
