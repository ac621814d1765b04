package ops

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hpungsan/syllabus/internal/config"
	"github.com/hpungsan/syllabus/internal/db"
	"github.com/hpungsan/syllabus/internal/metrics"
)

var testNow = time.Date(2026, 4, 1, 9, 0, 0, 0, time.UTC)

type fixture struct {
	env  *Env
	root string
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	base := t.TempDir()
	database, err := db.Init(base)
	if err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	t.Cleanup(func() { _ = database.Close() })

	env := NewEnv(database, config.DefaultConfig(), base, nil, metrics.New())
	env.Now = func() time.Time { return testNow }
	return &fixture{env: env, root: t.TempDir()}
}

func (f *fixture) write(t *testing.T, rel, content string) {
	t.Helper()
	path := filepath.Join(f.root, filepath.FromSlash(rel))
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", rel, err)
	}
}

func (f *fixture) remove(t *testing.T, rel string) {
	t.Helper()
	if err := os.Remove(filepath.Join(f.root, filepath.FromSlash(rel))); err != nil {
		t.Fatalf("remove %s: %v", rel, err)
	}
}

func (f *fixture) scan(t *testing.T) *ScanOutput {
	t.Helper()
	out, err := f.env.Scan(context.Background(), ScanInput{Root: f.root})
	if err != nil {
		t.Fatalf("Scan() error = %v", err)
	}
	return out
}

func (f *fixture) process(t *testing.T) *ProcessOutput {
	t.Helper()
	out, err := f.env.Process(context.Background(), ProcessInput{})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	return out
}

func (f *fixture) sourceID(t *testing.T, rel string) string {
	t.Helper()
	src, err := db.GetSourceByPath(context.Background(), f.env.DB, rel)
	if err != nil {
		t.Fatalf("GetSourceByPath(%s) error = %v", rel, err)
	}
	return src.ID
}

const fixtureInventory = `
exams:
  - id: calc
    name: Midterm
    course: Calculus
    deadline: 2026-04-10
    sources: [calc/textbook.txt, calc/overview.txt]
    topics:
      - id: C1
        chapter: "1"
        objective: Limits
        effort_minutes: 60
        tier: critical
      - id: C2
        chapter: "2"
        objective: Derivatives
        effort_minutes: 45
        tier: high
  - id: bio
    name: Final
    course: Biology
    deadline: 2026-04-15
    sources: [bio/notes.txt]
    topics:
      - id: B1
        objective: Cells
        effort_minutes: 30
        tier: medium
`

// seed writes, scans and processes the three fixture sources and imports
// the fixture inventory.
func (f *fixture) seed(t *testing.T) {
	t.Helper()
	f.write(t, "calc/textbook.txt", "Chapter 1 Limits\nChapter 2 Derivatives\n")
	f.write(t, "calc/overview.txt", "Midterm covers chapters 1-2\n")
	f.write(t, "bio/notes.txt", "Cells are the unit of life\n")
	f.scan(t)
	f.process(t)
	if _, err := f.env.ImportInventory(context.Background(), ImportInventoryInput{Data: []byte(fixtureInventory)}); err != nil {
		t.Fatalf("ImportInventory() error = %v", err)
	}
}
