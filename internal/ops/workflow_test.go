package ops

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/inventory"
	"github.com/hpungsan/syllabus/internal/manifest"
	"github.com/hpungsan/syllabus/internal/plan"
)

// TestFullWorkflow exercises the whole lifecycle:
// scan → process → enrich → import → plan → edit source → rescan →
// plan superseded and exam excluded → reprocess → re-import → replan → export
func TestFullWorkflow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	// 1. Scan
	f.write(t, "calc/textbook.txt", "Chapter 1 Limits\nChapter 2 Derivatives\n")
	f.write(t, "calc/overview.txt", "Midterm covers chapters 1-2\n")
	f.write(t, "bio/notes.txt", "Cells are the unit of life\n")
	scan := f.scan(t)
	require.Len(t, scan.Added, 3)

	// 2. Process
	proc := f.process(t)
	require.Equal(t, 3, proc.Processed)

	// 3. Register chunk sets produced by an external enrichment step
	textbook := f.sourceID(t, "calc/textbook.txt")
	chunks, err := f.env.RegisterArtifact(ctx, RegisterArtifactInput{
		Kind:     string(manifest.KindChunkSet),
		Owners:   []string{textbook},
		Location: "chunks/textbook.jsonl",
	})
	require.NoError(t, err)
	require.True(t, chunks.Created)

	// 4. Import the inventory
	imported, err := f.env.ImportInventory(ctx, ImportInventoryInput{Data: []byte(fixtureInventory)})
	require.NoError(t, err)
	require.Len(t, imported.Exams, 2)
	require.Empty(t, imported.Warnings)

	cov, err := f.env.GetArtifact(ctx, imported.Exams[0].CoverageArtifactID)
	require.NoError(t, err)
	require.Contains(t, cov.Inputs, chunks.Artifact.ID)

	// 5. Plan
	created, err := f.env.CreatePlan(ctx, CreatePlanInput{PlanWindow: fixtureWindow})
	require.NoError(t, err)
	require.True(t, created.Plan.Complete)
	require.Equal(t, plan.RecordCurrent, created.Plan.Status)

	// 6. Edit a source and rescan
	f.write(t, "calc/textbook.txt", "Chapter 1 Limits\nChapter 2 Derivatives\nChapter 3 Integrals\n")
	scan = f.scan(t)
	require.Len(t, scan.Changed, 1)
	require.Equal(t, []string{created.Plan.ID}, scan.SupersededPlans)

	_, err = f.env.FetchPlan(ctx, "")
	var se *errors.SyllabusError
	require.ErrorAs(t, err, &se)
	require.Equal(t, errors.ErrNotFound, se.Code)

	show, err := f.env.ShowInventory(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, show.IncludedExams)
	require.Equal(t, "calc", show.Inventory.Excluded[0].ExamID)
	require.Equal(t, inventory.ExcludeCoverageStale, show.Inventory.Excluded[0].Reason)

	// A plan made now only covers biology.
	partial, err := f.env.CreatePlan(ctx, CreatePlanInput{PlanWindow: fixtureWindow})
	require.NoError(t, err)
	require.Equal(t, []string{"B1"}, partial.Outcome.Schedule.Coverage)

	// 7. Reprocess, re-register enrichment, re-import
	proc = f.process(t)
	require.Equal(t, 1, proc.Processed)
	_, err = f.env.RegisterArtifact(ctx, RegisterArtifactInput{
		Kind:     string(manifest.KindChunkSet),
		Owners:   []string{textbook},
		Location: "chunks/textbook.jsonl",
	})
	require.NoError(t, err)
	_, err = f.env.ImportInventory(ctx, ImportInventoryInput{Data: []byte(fixtureInventory)})
	require.NoError(t, err)

	show, err = f.env.ShowInventory(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, show.IncludedExams)

	// 8. Replan and export
	replanned, err := f.env.CreatePlan(ctx, CreatePlanInput{PlanWindow: fixtureWindow})
	require.NoError(t, err)
	require.Len(t, replanned.Outcome.Schedule.Coverage, 3)

	exported, err := f.env.ExportPlan(ctx, ExportPlanInput{Format: "xlsx"})
	require.NoError(t, err)
	require.Equal(t, replanned.Plan.ID, exported.PlanID)
	_, err = os.Stat(exported.Path)
	require.NoError(t, err)

	hist, err := f.env.History(ctx, HistoryInput{})
	require.NoError(t, err)
	require.Len(t, hist.Items, 3)
}
