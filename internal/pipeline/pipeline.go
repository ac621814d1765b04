// Package pipeline drives per-source processing: it fans jobs out to a
// Processor with bounded concurrency, paces them, trips a circuit breaker
// when the processor keeps failing, and reports each result to a Sink.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/hpungsan/syllabus/internal/manifest"
	"github.com/hpungsan/syllabus/internal/metrics"
)

var (
	// ErrUnsupported marks a per-file failure (wrong format, binary data).
	// It is recorded against the source but does not count toward the breaker.
	ErrUnsupported = errors.New("pipeline: unsupported source")
	// ErrSourceChanged means the file on disk no longer matches the scanned
	// fingerprint. A rescan picks up the new content.
	ErrSourceChanged = errors.New("pipeline: source changed since scan")
	// ErrStaleResult is returned by a Sink that refused a result because the
	// source moved on while it was processed.
	ErrStaleResult = errors.New("pipeline: stale result")
)

// Job is one source to process.
type Job struct {
	SourceID    string
	Path        string // absolute
	RelPath     string
	Fingerprint string
}

// Output describes one artifact produced for a job.
type Output struct {
	Kind     manifest.Kind
	Subject  string
	Inputs   []string
	Location string
}

// Processor turns a source file into artifacts.
type Processor interface {
	Name() string
	Process(ctx context.Context, job Job) ([]Output, error)
}

// Sink records job results. Errors returned by a Sink abort the run.
type Sink interface {
	Succeeded(ctx context.Context, job Job, outputs []Output) error
	Failed(ctx context.Context, job Job, cause error) error
}

// Config tunes a Runner.
type Config struct {
	Workers         int
	RatePerSecond   float64 // 0 = unlimited
	BreakerFailures uint32  // consecutive failures before the breaker opens
	BreakerTimeout  time.Duration
}

func (c Config) normalize() Config {
	if c.Workers <= 0 {
		c.Workers = 1
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
	return c
}

// Result is the outcome of one job.
type Result struct {
	SourceID  string `json:"source_id"`
	Path      string `json:"path"`
	Artifacts int    `json:"artifacts"`
	Error     string `json:"error,omitempty"`
	Skipped   bool   `json:"skipped,omitempty"`
}

// Summary aggregates a run. Results follow job order.
type Summary struct {
	Processed int      `json:"processed"`
	Failed    int      `json:"failed"`
	Skipped   int      `json:"skipped"`
	Results   []Result `json:"results"`
}

// Runner executes jobs against a Processor.
type Runner struct {
	proc    Processor
	sink    Sink
	cfg     Config
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker[[]Output]
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// NewRunner builds a Runner. m may be nil.
func NewRunner(proc Processor, sink Sink, cfg Config, m *metrics.Metrics, logger *slog.Logger) *Runner {
	cfg = cfg.normalize()
	if logger == nil {
		logger = slog.Default()
	}

	limit := rate.Inf
	if cfg.RatePerSecond > 0 {
		limit = rate.Limit(cfg.RatePerSecond)
	}

	settings := gobreaker.Settings{
		Name:    proc.Name(),
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, ErrUnsupported) || errors.Is(err, ErrSourceChanged)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit_breaker_state_change", "processor", name, "from", from.String(), "to", to.String())
		},
	}

	return &Runner{
		proc:    proc,
		sink:    sink,
		cfg:     cfg,
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker[[]Output](settings),
		metrics: m,
		logger:  logger,
	}
}

// Run processes every job. A processor failure is reported to the sink and
// never stops other jobs. Jobs rejected by an open breaker are skipped and
// left untouched so a later run retries them. Run returns an error only when
// ctx is cancelled or the sink fails.
func (r *Runner) Run(ctx context.Context, jobs []Job) (Summary, error) {
	results := make([]Result, len(jobs))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.cfg.Workers)

	for i, job := range jobs {
		g.Go(func() error {
			if err := r.limiter.Wait(gctx); err != nil {
				return err
			}
			res, err := r.runOne(gctx, job)
			results[i] = res
			return err
		})
	}

	if err := g.Wait(); err != nil {
		return Summary{}, err
	}

	summary := Summary{Results: results}
	for _, res := range results {
		switch {
		case res.Skipped:
			summary.Skipped++
		case res.Error != "":
			summary.Failed++
		default:
			summary.Processed++
		}
	}
	return summary, nil
}

func (r *Runner) runOne(ctx context.Context, job Job) (Result, error) {
	res := Result{SourceID: job.SourceID, Path: job.RelPath}

	r.metrics.StartSource()
	started := time.Now()
	outputs, err := r.breaker.Execute(func() ([]Output, error) {
		return r.proc.Process(ctx, job)
	})
	r.metrics.FinishSource(time.Since(started), err)

	if ctxErr := ctx.Err(); ctxErr != nil {
		return res, ctxErr
	}

	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		r.logger.Warn("source_skipped", "source_id", job.SourceID, "path", job.RelPath, "reason", err.Error())
		res.Skipped = true
		res.Error = err.Error()
		return res, nil
	}

	if err != nil {
		r.logger.Warn("source_failed", "source_id", job.SourceID, "path", job.RelPath, "error", err)
		res.Error = err.Error()
		if sinkErr := r.sink.Failed(ctx, job, err); sinkErr != nil {
			return res, fmt.Errorf("record failure for %s: %w", job.SourceID, sinkErr)
		}
		return res, nil
	}

	if sinkErr := r.sink.Succeeded(ctx, job, outputs); sinkErr != nil {
		if errors.Is(sinkErr, ErrStaleResult) {
			res.Error = sinkErr.Error()
			return res, nil
		}
		return res, fmt.Errorf("record result for %s: %w", job.SourceID, sinkErr)
	}
	res.Artifacts = len(outputs)
	r.logger.Debug("source_processed", "source_id", job.SourceID, "path", job.RelPath, "artifacts", len(outputs))
	return res, nil
}
