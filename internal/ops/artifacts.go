package ops

import (
	"context"
	"fmt"
	"strings"

	"github.com/hpungsan/syllabus/internal/db"
	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/manifest"
)

// RegisterArtifactInput contains parameters for the RegisterArtifact operation.
type RegisterArtifactInput struct {
	Kind     string
	Owners   []string // source IDs
	Inputs   []string // upstream artifact IDs
	Subject  string   // optional discriminator within (kind, owners)
	Location string
}

// RegisterArtifactOutput contains the result of the RegisterArtifact operation.
type RegisterArtifactOutput struct {
	Artifact     manifest.ArtifactRef `json:"artifact"`
	Created      bool                 `json:"created"`
	Warnings     []string             `json:"warnings,omitempty"`
	Invalidation *InvalidateOutput    `json:"invalidation,omitempty"`
}

// RegisterArtifact records a derived artifact. Registration is idempotent on
// (kind, owners, subject): registering again refreshes the existing record,
// re-stamps owner fingerprints and invalidates everything built from it.
// References to unknown sources or artifacts are logged and skipped.
func (e *Env) RegisterArtifact(ctx context.Context, input RegisterArtifactInput) (*RegisterArtifactOutput, error) {
	kind := manifest.Kind(strings.TrimSpace(input.Kind))
	if !manifest.ValidKind(kind) {
		return nil, errors.NewInvalidRequest("unknown artifact kind: " + string(kind))
	}
	owners := manifest.SortedUnique(input.Owners)
	if len(owners) == 0 && len(manifest.SortedUnique(input.Inputs)) == 0 {
		return nil, errors.NewInvalidRequest("owners or inputs are required")
	}

	unlock := e.locks.LockAll(owners)
	defer unlock()

	var out *RegisterArtifactOutput
	err := db.WithTx(ctx, e.DB, func(q db.Querier) error {
		var err error
		out, err = e.registerTx(ctx, q, artifactSpec{
			Kind:     kind,
			Owners:   owners,
			Inputs:   input.Inputs,
			Subject:  strings.TrimSpace(input.Subject),
			Location: strings.TrimSpace(input.Location),
		})
		return err
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

type artifactSpec struct {
	Kind     manifest.Kind
	Owners   []string
	Inputs   []string
	Subject  string
	Location string
}

// registerTx inserts or refreshes an artifact inside the caller's
// transaction. Callers hold the owner locks.
func (e *Env) registerTx(ctx context.Context, q db.Querier, spec artifactSpec) (*RegisterArtifactOutput, error) {
	out := &RegisterArtifactOutput{}
	now := e.now().Unix()

	var owners []manifest.Owner
	for _, id := range manifest.SortedUnique(spec.Owners) {
		src, err := db.GetSource(ctx, q, id)
		if err != nil {
			if errors.Is(err, errors.ErrNotFound) {
				out.Warnings = append(out.Warnings, e.graphWarning("source", id, spec.Kind))
				continue
			}
			return nil, err
		}
		owners = append(owners, manifest.Owner{SourceID: id, Fingerprint: src.Fingerprint})
	}

	var inputs []string
	for _, id := range manifest.SortedUnique(spec.Inputs) {
		ok, err := db.ArtifactExists(ctx, q, id)
		if err != nil {
			return nil, err
		}
		if !ok {
			out.Warnings = append(out.Warnings, e.graphWarning("artifact", id, spec.Kind))
			continue
		}
		inputs = append(inputs, id)
	}

	ids := make([]string, len(owners))
	for i, o := range owners {
		ids[i] = o.SourceID
	}
	existing, err := db.FindArtifact(ctx, q, spec.Kind, manifest.OwnerKey(ids), spec.Subject)
	if err != nil && !errors.Is(err, errors.ErrNotFound) {
		return nil, err
	}

	if existing == nil {
		a := &manifest.ArtifactRef{
			ID:        e.newID(),
			Kind:      spec.Kind,
			Owners:    owners,
			Inputs:    inputs,
			Subject:   spec.Subject,
			Location:  spec.Location,
			Fresh:     true,
			CreatedAt: now,
			UpdatedAt: now,
		}
		if err := db.InsertArtifact(ctx, q, a); err != nil {
			return nil, err
		}
		out.Artifact = *a
		out.Created = true
		return out, nil
	}

	for _, in := range inputs {
		if in == existing.ID {
			return nil, errors.NewInvalidRequest("artifact cannot depend on itself")
		}
	}
	existing.Owners = owners
	existing.Inputs = inputs
	existing.Location = spec.Location
	existing.Fresh = true
	existing.StaleReason = ""
	existing.UpdatedAt = now
	if err := db.UpdateArtifact(ctx, q, existing); err != nil {
		return nil, err
	}

	// Everything built from the previous version is now out of date.
	inv, err := e.invalidate(ctx, q, existing.ID, TriggerUpstream, false)
	if err != nil {
		return nil, err
	}
	if len(inv.Invalidated) > 0 || len(inv.SupersededPlans) > 0 {
		out.Invalidation = inv
	}
	out.Artifact = *existing
	return out, nil
}

func (e *Env) graphWarning(what, id string, kind manifest.Kind) string {
	e.Logger.Warn("graph_integrity_warning", "missing", what, "id", id, "artifact_kind", string(kind))
	e.Metrics.ObserveGraphWarning()
	return fmt.Sprintf("unknown %s %s skipped", what, id)
}

// ListArtifactsInput contains parameters for the ListArtifacts operation.
type ListArtifactsInput struct {
	Kind      string
	SourceID  string
	Subject   string
	StaleOnly bool // stored flag only; effective staleness is reported per item
}

// ArtifactView is an artifact with its effective freshness.
type ArtifactView struct {
	manifest.ArtifactRef
	Effective manifest.Freshness `json:"effective"`
}

// ListArtifactsOutput contains the result of the ListArtifacts operation.
type ListArtifactsOutput struct {
	Items []ArtifactView `json:"items"`
}

// ListArtifacts returns artifacts ordered by kind then ID.
func (e *Env) ListArtifacts(ctx context.Context, input ListArtifactsInput) (*ListArtifactsOutput, error) {
	kind := manifest.Kind(strings.TrimSpace(input.Kind))
	if kind != "" && !manifest.ValidKind(kind) {
		return nil, errors.NewInvalidRequest("unknown artifact kind: " + string(kind))
	}

	list, err := db.ListArtifacts(ctx, e.DB, db.ArtifactFilter{
		Kind:      kind,
		SourceID:  strings.TrimSpace(input.SourceID),
		Subject:   strings.TrimSpace(input.Subject),
		StaleOnly: input.StaleOnly,
	})
	if err != nil {
		return nil, err
	}
	sources, err := db.SourcesByID(ctx, e.DB)
	if err != nil {
		return nil, err
	}

	items := make([]ArtifactView, len(list))
	for i, a := range list {
		items[i] = ArtifactView{ArtifactRef: a, Effective: manifest.EvaluateFreshness(a, sources)}
	}
	return &ListArtifactsOutput{Items: items}, nil
}

// GetArtifact returns one artifact with its effective freshness.
func (e *Env) GetArtifact(ctx context.Context, id string) (*ArtifactView, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return nil, errors.NewInvalidRequest("id is required")
	}
	a, err := db.GetArtifact(ctx, e.DB, id)
	if err != nil {
		return nil, err
	}
	sources, err := db.SourcesByID(ctx, e.DB)
	if err != nil {
		return nil, err
	}
	return &ArtifactView{ArtifactRef: *a, Effective: manifest.EvaluateFreshness(*a, sources)}, nil
}
