package ops

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/hpungsan/syllabus/internal/db"
	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/inventory"
	"github.com/hpungsan/syllabus/internal/manifest"
	"github.com/hpungsan/syllabus/internal/plan"
)

// MaxInventoryBytes caps the size of an inventory document.
const MaxInventoryBytes = 4 << 20

var inventoryExtensions = []string{".yaml", ".yml"}

// coverageInputKinds are the upstream artifacts a coverage artifact is built from.
var coverageInputKinds = map[manifest.Kind]bool{
	manifest.KindExtractedText:    true,
	manifest.KindChapterStructure: true,
	manifest.KindChunkSet:         true,
}

// ImportInventoryInput contains parameters for the ImportInventory operation.
// Exactly one of Path and Data is set.
type ImportInventoryInput struct {
	Path string
	Data []byte
	// Prune removes stored exams that the document no longer lists.
	Prune bool
}

// ImportedExam summarizes one imported exam.
type ImportedExam struct {
	ID                 string   `json:"id"`
	Topics             int      `json:"topics"`
	Sources            []string `json:"sources"`
	CoverageArtifactID string   `json:"coverage_artifact_id"`
}

// ImportInventoryOutput contains the result of the ImportInventory operation.
type ImportInventoryOutput struct {
	Exams        []ImportedExam    `json:"exams"`
	Pruned       []string          `json:"pruned,omitempty"`
	Warnings     []string          `json:"warnings,omitempty"`
	Invalidation *InvalidateOutput `json:"invalidation,omitempty"`
}

// ImportInventory loads exams and topics from a YAML document. Each exam's
// topics are replaced as a whole and a coverage artifact is registered for
// it, owned by the exam's sources. Source paths that are not tracked are
// reported as warnings and skipped.
func (e *Env) ImportInventory(ctx context.Context, input ImportInventoryInput) (*ImportInventoryOutput, error) {
	doc, location, err := e.readInventory(input)
	if err != nil {
		return nil, err
	}

	type resolved struct {
		exam    plan.Exam
		topics  []plan.Topic
		sources []string
	}
	out := &ImportInventoryOutput{Exams: []ImportedExam{}}
	var (
		exams   []resolved
		lockIDs []string
	)
	for _, in := range doc.Exams {
		exam, topics, err := in.Model()
		if err != nil {
			return nil, errors.NewInvalidRequest(err.Error())
		}
		var ids []string
		for _, rel := range in.Sources {
			src, err := db.GetSourceByPath(ctx, e.DB, manifest.NormalizePath(rel))
			if err != nil {
				if errors.Is(err, errors.ErrNotFound) {
					e.Logger.Warn("graph_integrity_warning", "missing", "source", "path", rel, "exam_id", exam.ID)
					e.Metrics.ObserveGraphWarning()
					out.Warnings = append(out.Warnings, fmt.Sprintf("exam %s: unknown source %s skipped", exam.ID, rel))
					continue
				}
				return nil, err
			}
			ids = append(ids, src.ID)
		}
		ids = manifest.SortedUnique(ids)
		if len(ids) == 0 {
			out.Warnings = append(out.Warnings, fmt.Sprintf("exam %s: no tracked sources", exam.ID))
		}
		exam.Sources = ids
		exams = append(exams, resolved{exam: exam, topics: topics, sources: ids})
		lockIDs = append(lockIDs, ids...)
	}

	unlock := e.locks.LockAll(manifest.SortedUnique(lockIDs))
	defer unlock()

	now := e.now().Unix()
	err = db.WithTx(ctx, e.DB, func(q db.Querier) error {
		listed := make(map[string]bool, len(exams))
		for _, r := range exams {
			listed[r.exam.ID] = true

			inputs, err := coverageInputs(ctx, q, r.sources)
			if err != nil {
				return err
			}
			reg, err := e.registerTx(ctx, q, artifactSpec{
				Kind:     manifest.KindCoverage,
				Owners:   r.sources,
				Inputs:   inputs,
				Subject:  r.exam.ID,
				Location: location,
			})
			if err != nil {
				return err
			}
			out.Warnings = append(out.Warnings, reg.Warnings...)
			out.mergeInvalidation(reg.Invalidation)

			// A changed source set yields a new coverage identity; retire the old one.
			prev, err := db.GetExam(ctx, q, r.exam.ID)
			if err != nil && !errors.Is(err, errors.ErrNotFound) {
				return err
			}
			if prev != nil && prev.CoverageArtifactID != "" && prev.CoverageArtifactID != reg.Artifact.ID {
				if err := e.retireCoverage(ctx, q, prev.CoverageArtifactID, out); err != nil {
					return err
				}
			}

			r.exam.CoverageArtifactID = reg.Artifact.ID
			if err := db.UpsertExam(ctx, q, r.exam, now); err != nil {
				return err
			}
			if err := db.ReplaceTopics(ctx, q, r.exam.ID, r.topics); err != nil {
				return err
			}
			out.Exams = append(out.Exams, ImportedExam{
				ID:                 r.exam.ID,
				Topics:             len(r.topics),
				Sources:            r.sources,
				CoverageArtifactID: reg.Artifact.ID,
			})
		}

		if !input.Prune {
			return nil
		}
		stored, err := db.ListExams(ctx, q)
		if err != nil {
			return err
		}
		for _, ex := range stored {
			if listed[ex.ID] {
				continue
			}
			if ex.CoverageArtifactID != "" {
				if err := e.retireCoverage(ctx, q, ex.CoverageArtifactID, out); err != nil {
					return err
				}
			}
			if err := db.DeleteExam(ctx, q, ex.ID); err != nil {
				return err
			}
			out.Pruned = append(out.Pruned, ex.ID)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	e.Logger.Info("inventory_imported", "exams", len(out.Exams), "pruned", len(out.Pruned), "warnings", len(out.Warnings))
	return out, nil
}

// retireCoverage marks a coverage artifact that no exam points at anymore
// stale, along with everything built from it.
func (e *Env) retireCoverage(ctx context.Context, q db.Querier, id string, out *ImportInventoryOutput) error {
	ok, err := db.ArtifactExists(ctx, q, id)
	if err != nil || !ok {
		return err
	}
	inv, err := e.invalidate(ctx, q, id, "exam_changed", true)
	if err != nil {
		return err
	}
	out.mergeInvalidation(inv)
	return nil
}

func (o *ImportInventoryOutput) mergeInvalidation(inv *InvalidateOutput) {
	if inv == nil || (len(inv.Invalidated) == 0 && len(inv.SupersededPlans) == 0) {
		return
	}
	if o.Invalidation == nil {
		o.Invalidation = &InvalidateOutput{Trigger: inv.Trigger, Invalidated: []InvalidatedArtifact{}}
	}
	o.Invalidation.merge(inv)
}

// readInventory parses the document from input and returns it with the
// location recorded on coverage artifacts.
func (e *Env) readInventory(input ImportInventoryInput) (inventory.Document, string, error) {
	path := strings.TrimSpace(input.Path)
	switch {
	case path == "" && len(input.Data) == 0:
		return inventory.Document{}, "", errors.NewInvalidRequest("path or data is required")
	case path != "" && len(input.Data) > 0:
		return inventory.Document{}, "", errors.NewInvalidRequest("path and data are mutually exclusive")
	}

	if path == "" {
		if len(input.Data) > MaxInventoryBytes {
			return inventory.Document{}, "", errors.NewInvalidRequest("inventory document too large")
		}
		doc, err := inventory.Parse(input.Data)
		if err != nil {
			return inventory.Document{}, "", errors.NewInvalidRequest(err.Error())
		}
		return doc, "inline", nil
	}

	rule := PathRule{Mode: PathCheckRead, Extensions: inventoryExtensions, DefaultDir: e.exportsDir()}
	if err := ValidatePath(path, rule, e.Config); err != nil {
		return inventory.Document{}, "", err
	}
	f, err := openInventoryFile(path)
	if err != nil {
		if _, ok := errors.As(err); ok {
			return inventory.Document{}, "", err
		}
		return inventory.Document{}, "", errors.NewSourceRead(path, err)
	}
	defer func() { _ = f.Close() }()

	data, err := io.ReadAll(io.LimitReader(f, MaxInventoryBytes+1))
	if err != nil {
		return inventory.Document{}, "", errors.NewSourceRead(path, err)
	}
	if len(data) > MaxInventoryBytes {
		return inventory.Document{}, "", errors.NewInvalidRequest("inventory document too large")
	}
	doc, err := inventory.Parse(data)
	if err != nil {
		return inventory.Document{}, "", errors.NewInvalidRequest(err.Error())
	}
	return doc, path, nil
}

// coverageInputs returns the upstream artifacts of the given sources that a
// coverage artifact depends on.
func coverageInputs(ctx context.Context, q db.Querier, sourceIDs []string) ([]string, error) {
	var ids []string
	for _, id := range sourceIDs {
		list, err := db.ListArtifacts(ctx, q, db.ArtifactFilter{SourceID: id})
		if err != nil {
			return nil, err
		}
		for _, a := range list {
			if coverageInputKinds[a.Kind] {
				ids = append(ids, a.ID)
			}
		}
	}
	return manifest.SortedUnique(ids), nil
}

// ShowInventoryOutput contains the result of the ShowInventory operation.
type ShowInventoryOutput struct {
	Inventory     plan.Inventory `json:"inventory"`
	StoredExams   int            `json:"stored_exams"`
	IncludedExams int            `json:"included_exams"`
	Topics        int            `json:"topics"`
}

// ShowInventory builds the current planning snapshot: exams whose coverage
// is effectively fresh, plus the excluded ones with their reason.
func (e *Env) ShowInventory(ctx context.Context) (*ShowInventoryOutput, error) {
	inv, stored, err := e.snapshot(ctx, e.DB)
	if err != nil {
		return nil, err
	}
	return &ShowInventoryOutput{
		Inventory:     inv,
		StoredExams:   stored,
		IncludedExams: len(inv.Exams),
		Topics:        len(inv.Topics),
	}, nil
}

// snapshot reads every stored exam and evaluates its coverage freshness.
// It also returns the number of stored exams.
func (e *Env) snapshot(ctx context.Context, q db.Querier) (plan.Inventory, int, error) {
	exams, err := db.ListExams(ctx, q)
	if err != nil {
		return plan.Inventory{}, 0, err
	}
	topics, err := db.ListTopics(ctx, q, "")
	if err != nil {
		return plan.Inventory{}, 0, err
	}
	sources, err := db.SourcesByID(ctx, q)
	if err != nil {
		return plan.Inventory{}, 0, err
	}

	byExam := make(map[string][]plan.Topic, len(exams))
	for _, t := range topics {
		byExam[t.ExamID] = append(byExam[t.ExamID], t)
	}

	cands := make([]inventory.Candidate, 0, len(exams))
	for _, ex := range exams {
		c := inventory.Candidate{Exam: ex, Topics: byExam[ex.ID]}
		if ex.CoverageArtifactID != "" {
			a, err := db.GetArtifact(ctx, q, ex.CoverageArtifactID)
			switch {
			case err == nil:
				c.HasCoverage = true
				c.Coverage = manifest.EvaluateFreshness(*a, sources)
			case !errors.Is(err, errors.ErrNotFound):
				return plan.Inventory{}, 0, err
			}
		}
		cands = append(cands, c)
	}
	return inventory.Snapshot(cands), len(exams), nil
}
