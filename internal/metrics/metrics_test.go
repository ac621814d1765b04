package metrics

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestObserveScan(t *testing.T) {
	m := New()
	m.ObserveScan(2, 1, 3, 1)

	if got := testutil.ToFloat64(m.scanChanges.WithLabelValues("added")); got != 2 {
		t.Errorf("added = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.scanChanges.WithLabelValues("removed")); got != 3 {
		t.Errorf("removed = %v, want 3", got)
	}
	if got := testutil.ToFloat64(m.sourceErrors); got != 1 {
		t.Errorf("source errors = %v, want 1", got)
	}
}

func TestFinishSource(t *testing.T) {
	m := New()
	m.StartSource()
	m.StartSource()
	m.FinishSource(10*time.Millisecond, nil)
	m.FinishSource(20*time.Millisecond, errors.New("binary file"))

	if got := testutil.ToFloat64(m.pipelineInFlight); got != 0 {
		t.Errorf("in flight = %v, want 0", got)
	}
	if got := testutil.ToFloat64(m.pipelineTotal.WithLabelValues("error")); got != 1 {
		t.Errorf("error total = %v, want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.ObserveScan(1, 1, 1, 1)
	m.ObserveOutcome("tight", false, 2)
	if err := m.WriteTextfile("ignored.prom"); err != nil {
		t.Errorf("WriteTextfile() error = %v", err)
	}
}

func TestWriteTextfile(t *testing.T) {
	m := New()
	m.ObserveAttempt("priority_first")
	m.ObserveOutcome("infeasible", false, 2)

	path := filepath.Join(t.TempDir(), "syllabus.prom")
	if err := m.WriteTextfile(path); err != nil {
		t.Fatalf("WriteTextfile() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile() error = %v", err)
	}
	text := string(data)
	for _, want := range []string{
		`syllabus_scheduler_attempts_total{strategy="priority_first"} 1`,
		`syllabus_scheduler_unplaced_topics 2`,
	} {
		if !strings.Contains(text, want) {
			t.Errorf("textfile missing %q:\n%s", want, text)
		}
	}
}
