package db

import (
	"context"
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/manifest"
	"github.com/hpungsan/syllabus/internal/plan"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := Init(t.TempDir())
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

func testSource(id, path string) *manifest.SourceRecord {
	return &manifest.SourceRecord{
		ID:          id,
		Path:        path,
		Fingerprint: "fp-" + id,
		Size:        42,
		ModifiedAt:  1000,
		Label:       manifest.LabelUnknown,
		Status:      manifest.StatusNew,
		CreatedAt:   1000,
		UpdatedAt:   1000,
	}
}

func TestSources_InsertGetUpdate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	src := testSource("S1", "notes/ch1.md")
	if err := InsertSource(ctx, db, src); err != nil {
		t.Fatalf("InsertSource() error = %v", err)
	}

	got, err := GetSource(ctx, db, "S1")
	if err != nil {
		t.Fatalf("GetSource() error = %v", err)
	}
	if got.Path != "notes/ch1.md" {
		t.Errorf("Path = %q, want %q", got.Path, "notes/ch1.md")
	}
	if got.Status != manifest.StatusNew {
		t.Errorf("Status = %q, want %q", got.Status, manifest.StatusNew)
	}

	got.Status = manifest.StatusError
	got.Error = "permission denied"
	got.Missing = true
	got.UpdatedAt = 2000
	if err := UpdateSource(ctx, db, got); err != nil {
		t.Fatalf("UpdateSource() error = %v", err)
	}

	byPath, err := GetSourceByPath(ctx, db, "notes/ch1.md")
	if err != nil {
		t.Fatalf("GetSourceByPath() error = %v", err)
	}
	if byPath.Error != "permission denied" || !byPath.Missing || byPath.UpdatedAt != 2000 {
		t.Errorf("updated source = %+v", byPath)
	}
}

func TestSources_DuplicatePathConflicts(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if err := InsertSource(ctx, db, testSource("S1", "a.md")); err != nil {
		t.Fatalf("InsertSource() error = %v", err)
	}
	err := InsertSource(ctx, db, testSource("S2", "a.md"))
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("InsertSource() error = %v, want CONFLICT", err)
	}
}

func TestSources_NotFound(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	if _, err := GetSource(ctx, db, "nope"); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("GetSource() error = %v, want NOT_FOUND", err)
	}
	if err := UpdateSource(ctx, db, testSource("nope", "x")); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("UpdateSource() error = %v, want NOT_FOUND", err)
	}
}

func TestListSources_Filters(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := testSource("S1", "b.md")
	b := testSource("S2", "a.md")
	b.Status = manifest.StatusProcessed
	c := testSource("S3", "c.md")
	c.Missing = true
	for _, s := range []*manifest.SourceRecord{a, b, c} {
		if err := InsertSource(ctx, db, s); err != nil {
			t.Fatalf("InsertSource(%s) error = %v", s.ID, err)
		}
	}

	all, err := ListSources(ctx, db, SourceFilter{})
	if err != nil {
		t.Fatalf("ListSources() error = %v", err)
	}
	if len(all) != 2 || all[0].Path != "a.md" || all[1].Path != "b.md" {
		t.Errorf("ListSources() = %+v, want a.md then b.md", all)
	}

	processed, err := ListSources(ctx, db, SourceFilter{Status: manifest.StatusProcessed})
	if err != nil {
		t.Fatalf("ListSources(processed) error = %v", err)
	}
	if len(processed) != 1 || processed[0].ID != "S2" {
		t.Errorf("ListSources(processed) = %+v", processed)
	}

	byID, err := SourcesByID(ctx, db)
	if err != nil {
		t.Fatalf("SourcesByID() error = %v", err)
	}
	if len(byID) != 3 || !byID["S3"].Missing {
		t.Errorf("SourcesByID() = %+v", byID)
	}
}

func TestArtifacts_RegisterAndEdges(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	for _, s := range []*manifest.SourceRecord{testSource("S1", "a.md"), testSource("S2", "b.md")} {
		if err := InsertSource(ctx, db, s); err != nil {
			t.Fatalf("InsertSource() error = %v", err)
		}
	}

	text := &manifest.ArtifactRef{
		ID: "A1", Kind: manifest.KindExtractedText,
		Owners:   []manifest.Owner{{SourceID: "S1", Fingerprint: "fp-S1"}},
		Location: "artifacts/A1.txt", Fresh: true, CreatedAt: 1, UpdatedAt: 1,
	}
	coverage := &manifest.ArtifactRef{
		ID: "A2", Kind: manifest.KindCoverage, Subject: "midterm",
		Owners: []manifest.Owner{
			{SourceID: "S2", Fingerprint: "fp-S2"},
			{SourceID: "S1", Fingerprint: "fp-S1"},
		},
		Inputs: []string{"A1"}, Fresh: true, CreatedAt: 2, UpdatedAt: 2,
	}
	for _, a := range []*manifest.ArtifactRef{text, coverage} {
		if err := InsertArtifact(ctx, db, a); err != nil {
			t.Fatalf("InsertArtifact(%s) error = %v", a.ID, err)
		}
	}

	found, err := FindArtifact(ctx, db, manifest.KindCoverage, "S1,S2", "midterm")
	if err != nil {
		t.Fatalf("FindArtifact() error = %v", err)
	}
	if found.ID != "A2" || len(found.Owners) != 2 || found.Owners[0].SourceID != "S1" {
		t.Errorf("FindArtifact() = %+v", found)
	}
	if len(found.Inputs) != 1 || found.Inputs[0] != "A1" {
		t.Errorf("Inputs = %v, want [A1]", found.Inputs)
	}

	dup := *coverage
	dup.ID = "A3"
	if err := InsertArtifact(ctx, db, &dup); !errors.Is(err, errors.ErrConflict) {
		t.Errorf("InsertArtifact(duplicate identity) error = %v, want CONFLICT", err)
	}

	owned, err := ArtifactsOwnedBy(ctx, db, "S1")
	if err != nil {
		t.Fatalf("ArtifactsOwnedBy() error = %v", err)
	}
	if len(owned) != 2 {
		t.Errorf("ArtifactsOwnedBy(S1) = %v, want 2 ids", owned)
	}

	dependents, err := ArtifactsWithInput(ctx, db, "A1")
	if err != nil {
		t.Fatalf("ArtifactsWithInput() error = %v", err)
	}
	if len(dependents) != 1 || dependents[0] != "A2" {
		t.Errorf("ArtifactsWithInput(A1) = %v, want [A2]", dependents)
	}

	src, err := GetSource(ctx, db, "S1")
	if err != nil {
		t.Fatalf("GetSource() error = %v", err)
	}
	if len(src.Derived) != 2 || src.Derived[0] != "A1" || src.Derived[1] != "A2" {
		t.Errorf("Derived = %v, want [A1 A2]", src.Derived)
	}
}

func TestArtifacts_StaleAndUpdate(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	a := &manifest.ArtifactRef{
		ID: "A1", Kind: manifest.KindChunkSet,
		Owners: []manifest.Owner{{SourceID: "S1", Fingerprint: "old"}},
		Fresh:  true, CreatedAt: 1, UpdatedAt: 1,
	}
	if err := InsertArtifact(ctx, db, a); err != nil {
		t.Fatalf("InsertArtifact() error = %v", err)
	}

	changed, err := MarkArtifactStale(ctx, db, "A1", "fingerprint_changed", 5)
	if err != nil || !changed {
		t.Fatalf("MarkArtifactStale() = %v, %v; want true, nil", changed, err)
	}
	changed, err = MarkArtifactStale(ctx, db, "A1", "fingerprint_changed", 6)
	if err != nil || changed {
		t.Errorf("second MarkArtifactStale() = %v, %v; want false, nil", changed, err)
	}

	stale, err := ListArtifacts(ctx, db, ArtifactFilter{StaleOnly: true})
	if err != nil {
		t.Fatalf("ListArtifacts() error = %v", err)
	}
	if len(stale) != 1 || stale[0].StaleReason != "fingerprint_changed" {
		t.Errorf("ListArtifacts(stale) = %+v", stale)
	}

	a.Fresh = true
	a.StaleReason = ""
	a.Owners = []manifest.Owner{{SourceID: "S1", Fingerprint: "new"}}
	a.UpdatedAt = 7
	if err := UpdateArtifact(ctx, db, a); err != nil {
		t.Fatalf("UpdateArtifact() error = %v", err)
	}
	got, err := GetArtifact(ctx, db, "A1")
	if err != nil {
		t.Fatalf("GetArtifact() error = %v", err)
	}
	if !got.Fresh || got.Owners[0].Fingerprint != "new" {
		t.Errorf("GetArtifact() = %+v", got)
	}

	exists, err := ArtifactExists(ctx, db, "A9")
	if err != nil || exists {
		t.Errorf("ArtifactExists(A9) = %v, %v; want false, nil", exists, err)
	}
}

func TestInventory_ExamsAndTopics(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	exam := plan.Exam{
		ID: "B", Name: "Midterm B", Course: "CS101",
		Deadline: plan.MustParseDate("2026-04-05"),
		Sources:  []string{"S2", "S1"},
	}
	topics := []plan.Topic{
		{ID: "B1", ExamID: "B", Objective: "Graphs", EffortMinutes: 60, Tier: plan.TierCritical, Confidence: 1},
		{ID: "B2", ExamID: "B", Chapter: "Ch. 2", Objective: "Trees", EffortMinutes: 20, Tier: plan.TierLow, Confidence: 0.5},
	}
	if err := UpsertExam(ctx, db, exam, 100); err != nil {
		t.Fatalf("UpsertExam() error = %v", err)
	}
	if err := ReplaceTopics(ctx, db, "B", topics); err != nil {
		t.Fatalf("ReplaceTopics() error = %v", err)
	}

	got, err := GetExam(ctx, db, "B")
	if err != nil {
		t.Fatalf("GetExam() error = %v", err)
	}
	if got.Deadline != exam.Deadline || len(got.Sources) != 2 || got.Sources[0] != "S1" {
		t.Errorf("GetExam() = %+v", got)
	}

	listed, err := ListTopics(ctx, db, "")
	if err != nil {
		t.Fatalf("ListTopics() error = %v", err)
	}
	if len(listed) != 2 || listed[0].ID != "B1" || listed[1].Chapter != "Ch. 2" {
		t.Errorf("ListTopics() = %+v", listed)
	}
	if listed[0].Deadline != exam.Deadline {
		t.Errorf("topic deadline = %s, want %s", listed[0].Deadline, exam.Deadline)
	}

	other := plan.Exam{ID: "C", Name: "C", Deadline: plan.MustParseDate("2026-05-01")}
	if err := UpsertExam(ctx, db, other, 100); err != nil {
		t.Fatalf("UpsertExam(C) error = %v", err)
	}
	err = ReplaceTopics(ctx, db, "C", []plan.Topic{{ID: "B1", ExamID: "C", Objective: "x", EffortMinutes: 5, Tier: plan.TierLow}})
	if !errors.Is(err, errors.ErrConflict) {
		t.Errorf("ReplaceTopics(reused id) error = %v, want CONFLICT", err)
	}

	if err := DeleteExam(ctx, db, "B"); err != nil {
		t.Fatalf("DeleteExam() error = %v", err)
	}
	remaining, err := ListTopics(ctx, db, "B")
	if err != nil {
		t.Fatalf("ListTopics(B) error = %v", err)
	}
	if len(remaining) != 0 {
		t.Errorf("topics after DeleteExam = %d, want 0", len(remaining))
	}
}

func TestSchedules_History(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	first := &plan.Record{
		ID: "P1", Status: plan.RecordCurrent, Strategy: plan.StrategyRoundRobin,
		Start: plan.MustParseDate("2026-04-01"), End: plan.MustParseDate("2026-04-03"),
		InventoryHash: "h1", ArtifactID: "A1", Complete: true,
		Payload: json.RawMessage(`{"days":[]}`), CreatedAt: 10,
	}
	if err := InsertSchedule(ctx, db, first); err != nil {
		t.Fatalf("InsertSchedule(P1) error = %v", err)
	}

	second := *first
	second.ID = "P2"
	second.CreatedAt = 20
	if err := InsertSchedule(ctx, db, &second); !errors.Is(err, errors.ErrConflict) {
		t.Fatalf("InsertSchedule(second current) error = %v, want CONFLICT", err)
	}

	retired, err := SupersedeCurrent(ctx, db, "replaced", 15)
	if err != nil || retired != "P1" {
		t.Fatalf("SupersedeCurrent() = %q, %v; want P1, nil", retired, err)
	}
	if err := InsertSchedule(ctx, db, &second); err != nil {
		t.Fatalf("InsertSchedule(P2) error = %v", err)
	}

	current, err := CurrentSchedule(ctx, db)
	if err != nil {
		t.Fatalf("CurrentSchedule() error = %v", err)
	}
	if current.ID != "P2" || string(current.Payload) != `{"days":[]}` {
		t.Errorf("CurrentSchedule() = %+v", current)
	}

	history, err := ListSchedules(ctx, db, 0)
	if err != nil {
		t.Fatalf("ListSchedules() error = %v", err)
	}
	if len(history) != 2 || history[0].ID != "P2" || history[1].Status != plan.RecordSuperseded {
		t.Errorf("ListSchedules() = %+v", history)
	}
	if history[1].SupersededAt == nil || *history[1].SupersededAt != 15 {
		t.Errorf("P1 superseded_at = %v, want 15", history[1].SupersededAt)
	}

	retired, err = SupersedeByArtifact(ctx, db, "A1", "artifact_stale", 30)
	if err != nil || retired != "P2" {
		t.Errorf("SupersedeByArtifact() = %q, %v; want P2, nil", retired, err)
	}
	if _, err := CurrentSchedule(ctx, db); !errors.Is(err, errors.ErrNotFound) {
		t.Errorf("CurrentSchedule() after supersede error = %v, want NOT_FOUND", err)
	}
}

func TestSettings(t *testing.T) {
	db := openTestDB(t)
	ctx := context.Background()

	v, err := GetSetting(ctx, db, SettingSourceRoot)
	if err != nil || v != "" {
		t.Fatalf("GetSetting(unset) = %q, %v", v, err)
	}
	if err := SetSetting(ctx, db, SettingSourceRoot, "/a"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	if err := SetSetting(ctx, db, SettingSourceRoot, "/b"); err != nil {
		t.Fatalf("SetSetting() error = %v", err)
	}
	v, err = GetSetting(ctx, db, SettingSourceRoot)
	if err != nil || v != "/b" {
		t.Errorf("GetSetting() = %q, %v; want /b", v, err)
	}
}
