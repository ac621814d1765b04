package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hpungsan/syllabus/internal/logging"
	"github.com/hpungsan/syllabus/internal/manifest"
	"github.com/hpungsan/syllabus/internal/metrics"
)

type funcProcessor func(ctx context.Context, job Job) ([]Output, error)

func (f funcProcessor) Name() string { return "test" }

func (f funcProcessor) Process(ctx context.Context, job Job) ([]Output, error) {
	return f(ctx, job)
}

type recordingSink struct {
	mu         sync.Mutex
	succeeded  map[string]int
	failed     map[string]string
	succeedErr error
}

func newRecordingSink() *recordingSink {
	return &recordingSink{succeeded: map[string]int{}, failed: map[string]string{}}
}

func (s *recordingSink) Succeeded(_ context.Context, job Job, outputs []Output) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.succeedErr != nil {
		return s.succeedErr
	}
	s.succeeded[job.SourceID] = len(outputs)
	return nil
}

func (s *recordingSink) Failed(_ context.Context, job Job, cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failed[job.SourceID] = cause.Error()
	return nil
}

func jobs(n int) []Job {
	out := make([]Job, n)
	for i := range out {
		id := fmt.Sprintf("S%d", i)
		out[i] = Job{SourceID: id, RelPath: id + ".md"}
	}
	return out
}

func TestRunner_AllSucceed(t *testing.T) {
	sink := newRecordingSink()
	proc := funcProcessor(func(_ context.Context, job Job) ([]Output, error) {
		return []Output{{Kind: manifest.KindExtractedText, Location: job.SourceID}}, nil
	})
	m := metrics.New()
	r := NewRunner(proc, sink, Config{Workers: 4}, m, logging.Discard())

	summary, err := r.Run(context.Background(), jobs(10))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Processed != 10 || summary.Failed != 0 || summary.Skipped != 0 {
		t.Errorf("summary = %+v, want 10 processed", summary)
	}
	for i, res := range summary.Results {
		if want := fmt.Sprintf("S%d", i); res.SourceID != want {
			t.Errorf("Results[%d].SourceID = %q, want %q", i, res.SourceID, want)
		}
		if res.Artifacts != 1 {
			t.Errorf("Results[%d].Artifacts = %d, want 1", i, res.Artifacts)
		}
	}
	if len(sink.succeeded) != 10 {
		t.Errorf("sink saw %d successes, want 10", len(sink.succeeded))
	}
}

func TestRunner_FailureDoesNotBlockOthers(t *testing.T) {
	sink := newRecordingSink()
	proc := funcProcessor(func(_ context.Context, job Job) ([]Output, error) {
		if job.SourceID == "S1" {
			return nil, fmt.Errorf("%w: binary", ErrUnsupported)
		}
		return []Output{{Kind: manifest.KindExtractedText}}, nil
	})
	r := NewRunner(proc, sink, Config{Workers: 2}, nil, logging.Discard())

	summary, err := r.Run(context.Background(), jobs(3))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Processed != 2 || summary.Failed != 1 {
		t.Errorf("summary = %+v, want 2 processed and 1 failed", summary)
	}
	if _, ok := sink.failed["S1"]; !ok {
		t.Error("S1 failure was not reported to the sink")
	}
	if summary.Results[1].Error == "" {
		t.Error("Results[1].Error is empty")
	}
}

func TestRunner_BreakerOpensAndSkips(t *testing.T) {
	sink := newRecordingSink()
	calls := 0
	proc := funcProcessor(func(context.Context, Job) ([]Output, error) {
		calls++
		return nil, errors.New("extractor crashed")
	})
	r := NewRunner(proc, sink, Config{Workers: 1, BreakerFailures: 2}, nil, logging.Discard())

	summary, err := r.Run(context.Background(), jobs(5))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if calls != 2 {
		t.Errorf("processor calls = %d, want 2", calls)
	}
	if summary.Failed != 2 || summary.Skipped != 3 {
		t.Errorf("summary = %+v, want 2 failed and 3 skipped", summary)
	}
	if len(sink.failed) != 2 {
		t.Errorf("sink failures = %d, want 2 (skipped jobs stay untouched)", len(sink.failed))
	}
}

func TestRunner_UnsupportedDoesNotTripBreaker(t *testing.T) {
	sink := newRecordingSink()
	proc := funcProcessor(func(context.Context, Job) ([]Output, error) {
		return nil, ErrUnsupported
	})
	r := NewRunner(proc, sink, Config{Workers: 1, BreakerFailures: 1}, nil, logging.Discard())

	summary, err := r.Run(context.Background(), jobs(4))
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if summary.Failed != 4 || summary.Skipped != 0 {
		t.Errorf("summary = %+v, want 4 failed and none skipped", summary)
	}
}

func TestRunner_SinkErrors(t *testing.T) {
	proc := funcProcessor(func(context.Context, Job) ([]Output, error) {
		return []Output{{Kind: manifest.KindExtractedText}}, nil
	})

	stale := newRecordingSink()
	stale.succeedErr = fmt.Errorf("%w: fingerprint moved", ErrStaleResult)
	summary, err := NewRunner(proc, stale, Config{}, nil, logging.Discard()).Run(context.Background(), jobs(2))
	if err != nil {
		t.Fatalf("Run() with stale sink error = %v", err)
	}
	if summary.Failed != 2 {
		t.Errorf("summary = %+v, want 2 failed", summary)
	}

	broken := newRecordingSink()
	broken.succeedErr = errors.New("disk full")
	if _, err := NewRunner(proc, broken, Config{}, nil, logging.Discard()).Run(context.Background(), jobs(2)); err == nil {
		t.Error("Run() with failing sink error = nil, want error")
	}
}

func TestRunner_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	proc := funcProcessor(func(context.Context, Job) ([]Output, error) {
		return nil, nil
	})
	_, err := NewRunner(proc, newRecordingSink(), Config{}, nil, logging.Discard()).Run(ctx, jobs(3))
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Run() error = %v, want context.Canceled", err)
	}
}

func TestPlainText(t *testing.T) {
	src := t.TempDir()
	out := t.TempDir()

	text := []byte("# Chapter 1\nSorting.\n")
	textPath := filepath.Join(src, "ch1.md")
	if err := os.WriteFile(textPath, text, 0600); err != nil {
		t.Fatal(err)
	}
	sum := sha256.Sum256(text)

	p := PlainText{Dir: out}
	outputs, err := p.Process(context.Background(), Job{
		SourceID: "S1", Path: textPath, RelPath: "ch1.md", Fingerprint: hex.EncodeToString(sum[:]),
	})
	if err != nil {
		t.Fatalf("Process() error = %v", err)
	}
	if len(outputs) != 1 || outputs[0].Kind != manifest.KindExtractedText {
		t.Fatalf("outputs = %+v", outputs)
	}
	got, err := os.ReadFile(filepath.Join(out, "S1.txt"))
	if err != nil {
		t.Fatalf("read extracted text: %v", err)
	}
	if string(got) != string(text) {
		t.Errorf("extracted = %q, want %q", got, text)
	}

	binPath := filepath.Join(src, "scan.pdf")
	if err := os.WriteFile(binPath, []byte{0x25, 0x50, 0x00, 0xff}, 0600); err != nil {
		t.Fatal(err)
	}
	if _, err := p.Process(context.Background(), Job{SourceID: "S2", Path: binPath}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Process(binary) error = %v, want ErrUnsupported", err)
	}

	if _, err := p.Process(context.Background(), Job{SourceID: "S1", Path: textPath, Fingerprint: "old"}); !errors.Is(err, ErrSourceChanged) {
		t.Errorf("Process(changed) error = %v, want ErrSourceChanged", err)
	}

	limited := PlainText{Dir: out, MaxBytes: 4}
	if _, err := limited.Process(context.Background(), Job{SourceID: "S1", Path: textPath}); !errors.Is(err, ErrUnsupported) {
		t.Errorf("Process(oversized) error = %v, want ErrUnsupported", err)
	}
}
