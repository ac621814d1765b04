package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/syllabus/internal/db"
	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/manifest"
)

// Invalidation triggers, recorded in stale reasons as "<trigger>:<node id>".
const (
	TriggerSourceChanged = "source_changed"
	TriggerSourceRemoved = "source_removed"
	TriggerSourceError   = "source_error"
	TriggerUpstream      = "upstream_changed"
	TriggerManual        = "manual"
)

// InvalidateInput contains parameters for the InvalidateFor operation.
type InvalidateInput struct {
	ID     string // source or artifact ID
	Reason string // optional, default: manual
}

// InvalidatedArtifact is one artifact flagged stale by a cascade.
type InvalidatedArtifact struct {
	ID    string        `json:"id"`
	Kind  manifest.Kind `json:"kind"`
	Depth int           `json:"depth"`
}

// InvalidateOutput contains the result of an invalidation cascade.
type InvalidateOutput struct {
	Trigger         string                `json:"trigger"`
	Invalidated     []InvalidatedArtifact `json:"invalidated"`
	AlreadyStale    int                   `json:"already_stale"`
	SupersededPlans []string              `json:"superseded_plans,omitempty"`
	Truncated       bool                  `json:"truncated,omitempty"`
}

// InvalidateFor marks every artifact reachable from a source or artifact
// stale and retires any current plan built on them. An artifact trigger is
// itself marked stale. The cascade applies atomically.
func (e *Env) InvalidateFor(ctx context.Context, input InvalidateInput) (*InvalidateOutput, error) {
	id := strings.TrimSpace(input.ID)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		reason = TriggerManual
	}

	var out *InvalidateOutput
	err := db.WithTx(ctx, e.DB, func(q db.Querier) error {
		isArtifact, err := db.ArtifactExists(ctx, q, id)
		if err != nil {
			return err
		}
		if !isArtifact {
			if _, err := db.GetSource(ctx, q, id); err != nil {
				if errors.Is(err, errors.ErrNotFound) {
					return errors.NewNotFound("source or artifact", id)
				}
				return err
			}
		}
		out, err = e.invalidate(ctx, q, id, reason, isArtifact)
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// invalidate runs one cascade inside the caller's transaction. The walk
// follows owner edges (source to artifact) and input edges (artifact to
// artifact) up to the configured depth.
func (e *Env) invalidate(ctx context.Context, q db.Querier, trigger, reason string, includeTrigger bool) (*InvalidateOutput, error) {
	staleReason := fmt.Sprintf("%s:%s", reason, trigger)
	now := e.now().Unix()
	out := &InvalidateOutput{Trigger: trigger, Invalidated: []InvalidatedArtifact{}}

	next := func(node string) ([]string, error) {
		owned, err := db.ArtifactsOwnedBy(ctx, q, node)
		if err != nil {
			return nil, err
		}
		dependents, err := db.ArtifactsWithInput(ctx, q, node)
		if err != nil {
			return nil, err
		}
		return append(owned, dependents...), nil
	}

	walk, err := manifest.Walk([]string{trigger}, next, e.Config.InvalidationMaxDepth)
	if err != nil {
		return nil, err
	}
	if walk.Truncated {
		out.Truncated = true
		e.Logger.Warn("invalidation_truncated", "trigger", trigger, "max_depth", e.Config.InvalidationMaxDepth)
	}

	targets := walk.Reached
	if includeTrigger {
		targets = append([]string{trigger}, targets...)
	}

	for _, id := range targets {
		a, err := db.GetArtifact(ctx, q, id)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				e.Logger.Warn("graph_integrity_warning", "artifact_id", id, "trigger", trigger)
				e.Metrics.ObserveGraphWarning()
				continue
			}
			return nil, err
		}

		changed, err := db.MarkArtifactStale(ctx, q, id, staleReason, now)
		if err != nil {
			return nil, err
		}
		if !changed {
			out.AlreadyStale++
		} else {
			out.Invalidated = append(out.Invalidated, InvalidatedArtifact{ID: id, Kind: a.Kind, Depth: walk.Depth[id]})
			e.Metrics.ObserveInvalidated(string(a.Kind))
		}

		if a.Kind == manifest.KindSchedule {
			planID, err := db.SupersedeByArtifact(ctx, q, id, "invalidated:"+staleReason, now)
			if err != nil {
				return nil, err
			}
			if planID != "" {
				out.SupersededPlans = append(out.SupersededPlans, planID)
			}
		}
	}

	if len(out.Invalidated) > 0 {
		e.Logger.Info("invalidated", "trigger", trigger, "reason", reason, "artifacts", len(out.Invalidated))
	}
	return out, nil
}

// merge folds another cascade's result into o.
func (o *InvalidateOutput) merge(other *InvalidateOutput) {
	if other == nil {
		return
	}
	o.Invalidated = append(o.Invalidated, other.Invalidated...)
	o.AlreadyStale += other.AlreadyStale
	o.SupersededPlans = append(o.SupersededPlans, other.SupersededPlans...)
	o.Truncated = o.Truncated || other.Truncated
}
