package ops

import (
	"context"
	stderrors "errors"
	"path/filepath"
	"time"

	"github.com/hpungsan/syllabus/internal/db"
	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/manifest"
	"github.com/hpungsan/syllabus/internal/pipeline"
)

// DefaultMaxSourceBytes bounds the files the built-in processor reads.
const DefaultMaxSourceBytes = 32 << 20

// ProcessInput contains parameters for the Process operation.
type ProcessInput struct {
	IDs   []string // optional; default: every new or stale source
	Retry bool     // also pick up sources in error
}

// ProcessOutput contains the result of the Process operation.
type ProcessOutput struct {
	Root string `json:"root"`
	pipeline.Summary
}

// Process runs the built-in text processor over pending sources.
func (e *Env) Process(ctx context.Context, input ProcessInput) (*ProcessOutput, error) {
	proc := pipeline.PlainText{Dir: e.artifactsDir(), MaxBytes: DefaultMaxSourceBytes}
	return e.ProcessWith(ctx, proc, input)
}

// ProcessWith runs proc over pending sources. Each success registers the
// outputs and marks the source processed in one transaction; each failure
// marks the source as errored. One source failing never blocks the others.
func (e *Env) ProcessWith(ctx context.Context, proc pipeline.Processor, input ProcessInput) (*ProcessOutput, error) {
	root, err := db.GetSetting(ctx, e.DB, db.SettingSourceRoot)
	if err != nil {
		return nil, err
	}
	if root == "" {
		return nil, errors.NewInvalidRequest("no source root; run a scan first")
	}

	jobs, err := e.pendingJobs(ctx, root, input)
	if err != nil {
		return nil, err
	}

	runner := pipeline.NewRunner(proc, &sourceSink{env: e}, pipeline.Config{
		Workers:         e.Config.PipelineWorkers,
		RatePerSecond:   e.Config.PipelineRatePerSecond,
		BreakerFailures: uint32(max(e.Config.PipelineBreakerFailures, 0)),
		BreakerTimeout:  30 * time.Second,
	}, e.Metrics, e.Logger)

	summary, err := runner.Run(ctx, jobs)
	if err != nil {
		if ctx.Err() != nil {
			return nil, errors.NewCancelled("process")
		}
		if _, ok := errors.As(err); ok {
			return nil, err
		}
		return nil, errors.NewInternal(err)
	}
	if summary.Results == nil {
		summary.Results = []pipeline.Result{}
	}

	e.Logger.Info("process_complete", "processor", proc.Name(), "processed", summary.Processed,
		"failed", summary.Failed, "skipped", summary.Skipped)
	return &ProcessOutput{Root: root, Summary: summary}, nil
}

func (e *Env) pendingJobs(ctx context.Context, root string, input ProcessInput) ([]pipeline.Job, error) {
	var sources []manifest.SourceRecord
	if ids := manifest.SortedUnique(input.IDs); len(ids) > 0 {
		for _, id := range ids {
			src, err := db.GetSource(ctx, e.DB, id)
			if err != nil {
				return nil, err
			}
			if src.Missing {
				return nil, errors.NewInvalidRequest("source is missing: " + src.Path)
			}
			sources = append(sources, *src)
		}
	} else {
		all, err := db.ListSources(ctx, e.DB, db.SourceFilter{})
		if err != nil {
			return nil, err
		}
		for _, src := range all {
			switch {
			case src.Status == manifest.StatusNew, src.Status == manifest.StatusStale:
				sources = append(sources, src)
			case src.Status == manifest.StatusError && input.Retry:
				sources = append(sources, src)
			}
		}
	}

	jobs := make([]pipeline.Job, 0, len(sources))
	for _, src := range sources {
		jobs = append(jobs, pipeline.Job{
			SourceID:    src.ID,
			Path:        filepath.Join(root, filepath.FromSlash(src.Path)),
			RelPath:     src.Path,
			Fingerprint: src.Fingerprint,
		})
	}
	return jobs, nil
}

// sourceSink records pipeline results against the source table.
type sourceSink struct {
	env *Env
}

func (s *sourceSink) Succeeded(ctx context.Context, job pipeline.Job, outputs []pipeline.Output) error {
	e := s.env
	unlock := e.locks.Lock(job.SourceID)
	defer unlock()

	err := db.WithTx(ctx, e.DB, func(q db.Querier) error {
		// Check first so a stale result registers nothing.
		src, err := db.GetSource(ctx, q, job.SourceID)
		if err != nil {
			return err
		}
		if src.Missing || src.Fingerprint != job.Fingerprint {
			return errors.NewConflict("stale result: source changed since it was processed")
		}
		for _, o := range outputs {
			reg, err := e.registerTx(ctx, q, artifactSpec{
				Kind:     o.Kind,
				Owners:   []string{job.SourceID},
				Inputs:   o.Inputs,
				Subject:  o.Subject,
				Location: o.Location,
			})
			if err != nil {
				return err
			}
			for _, w := range reg.Warnings {
				e.Logger.Warn("process_warning", "source_id", job.SourceID, "warning", w)
			}
		}
		_, err = e.markProcessedTx(ctx, q, job.SourceID, job.Fingerprint)
		return err
	})
	if errors.Is(err, errors.ErrConflict) {
		return pipeline.ErrStaleResult
	}
	return err
}

func (s *sourceSink) Failed(ctx context.Context, job pipeline.Job, cause error) error {
	e := s.env
	// The next scan records the new content.
	if stderrors.Is(cause, pipeline.ErrSourceChanged) {
		return nil
	}

	unlock := e.locks.Lock(job.SourceID)
	defer unlock()

	return db.WithTx(ctx, e.DB, func(q db.Querier) error {
		src, err := db.GetSource(ctx, q, job.SourceID)
		if err != nil {
			return err
		}
		if src.Fingerprint != job.Fingerprint {
			return nil
		}
		_, err = e.markFailedTx(ctx, q, job.SourceID, cause.Error())
		return err
	})
}
