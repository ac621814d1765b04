package ops

import (
	"context"
	"testing"

	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/manifest"
)

func TestMarkProcessed(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "alpha")
	f.scan(t)
	id := f.sourceID(t, "a.txt")
	src, err := f.env.GetSource(context.Background(), id)
	if err != nil {
		t.Fatalf("GetSource() error = %v", err)
	}

	rec, err := f.env.MarkProcessed(context.Background(), MarkProcessedInput{ID: id, Fingerprint: src.Fingerprint})
	if err != nil {
		t.Fatalf("MarkProcessed() error = %v", err)
	}
	if rec.Status != manifest.StatusProcessed || rec.ProcessedFingerprint != src.Fingerprint {
		t.Errorf("record = %+v", rec)
	}
}

func TestMarkProcessed_StaleResult(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "alpha")
	f.scan(t)
	id := f.sourceID(t, "a.txt")

	_, err := f.env.MarkProcessed(context.Background(), MarkProcessedInput{ID: id, Fingerprint: "deadbeef"})
	if !errors.Is(err, errors.ErrConflict) {
		t.Fatalf("expected ErrConflict, got: %v", err)
	}
	se, _ := errors.As(err)
	if se.Details["given_fingerprint"] != "deadbeef" {
		t.Errorf("Details = %#v", se.Details)
	}

	src, _ := f.env.GetSource(context.Background(), id)
	if src.Status != manifest.StatusNew {
		t.Errorf("status = %s, want unchanged new", src.Status)
	}
}

func TestMarkProcessed_Validation(t *testing.T) {
	f := newFixture(t)
	tests := []struct {
		name  string
		input MarkProcessedInput
		code  errors.ErrorCode
	}{
		{"missing id", MarkProcessedInput{Fingerprint: "x"}, errors.ErrInvalidRequest},
		{"missing fingerprint", MarkProcessedInput{ID: "x"}, errors.ErrInvalidRequest},
		{"unknown source", MarkProcessedInput{ID: "nope", Fingerprint: "x"}, errors.ErrNotFound},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.env.MarkProcessed(context.Background(), tc.input)
			if !errors.Is(err, tc.code) {
				t.Errorf("expected %s, got: %v", tc.code, err)
			}
		})
	}
}

func TestMarkFailed_InvalidatesDependents(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "alpha")
	f.scan(t)
	f.process(t)
	id := f.sourceID(t, "a.txt")

	out, err := f.env.MarkFailed(context.Background(), MarkFailedInput{ID: id, Detail: "ocr crashed"})
	if err != nil {
		t.Fatalf("MarkFailed() error = %v", err)
	}
	if out.Source.Status != manifest.StatusError || out.Source.Error != "ocr crashed" {
		t.Errorf("source = %+v", out.Source)
	}
	if len(out.Invalidation.Invalidated) != 1 || out.Invalidation.Trigger != id {
		t.Errorf("invalidation = %+v", out.Invalidation)
	}

	list, err := f.env.ListSources(context.Background(), ListSourcesInput{Status: "error"})
	if err != nil {
		t.Fatalf("ListSources() error = %v", err)
	}
	if len(list.Items) != 1 || list.Counts["error"] != 1 {
		t.Errorf("error listing = %+v", list)
	}
}

func TestClassify(t *testing.T) {
	f := newFixture(t)
	f.write(t, "a.txt", "alpha")
	f.scan(t)
	id := f.sourceID(t, "a.txt")

	rec, err := f.env.Classify(context.Background(), ClassifyInput{ID: id, Label: "textbook"})
	if err != nil {
		t.Fatalf("Classify() error = %v", err)
	}
	if rec.Label != manifest.LabelTextbook {
		t.Errorf("Label = %s", rec.Label)
	}

	_, err = f.env.Classify(context.Background(), ClassifyInput{ID: id, Label: "novel"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}

func TestListSources_UnknownStatus(t *testing.T) {
	f := newFixture(t)
	_, err := f.env.ListSources(context.Background(), ListSourcesInput{Status: "done"})
	if !errors.Is(err, errors.ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got: %v", err)
	}
}
