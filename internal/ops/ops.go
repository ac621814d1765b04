// Package ops implements the operations exposed by the CLI and the MCP
// server. Every operation validates its input, does its work inside a
// single transaction where it mutates state, and returns JSON-ready output.
package ops

import (
	"context"
	"crypto/rand"
	"database/sql"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/hpungsan/syllabus/internal/config"
	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/logging"
	"github.com/hpungsan/syllabus/internal/manifest"
	"github.com/hpungsan/syllabus/internal/metrics"
	"github.com/hpungsan/syllabus/internal/plan"
)

// List limits
const (
	DefaultHistoryLimit = 20
	MaxHistoryLimit     = 200
)

// Env carries the shared dependencies of every operation.
type Env struct {
	DB      *sql.DB
	Config  *config.Config
	BaseDir string
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Now is the clock; tests pin it.
	Now func() time.Time

	locks *manifest.KeyLocks

	// afterSchedule runs between computing a plan and persisting it.
	afterSchedule func()
	// listDir replaces manifest.ListDir when set.
	listDir func(ctx context.Context, root string, ignore []string) ([]manifest.FileState, error)
}

// NewEnv builds an Env. A nil cfg uses defaults; a nil logger discards.
func NewEnv(database *sql.DB, cfg *config.Config, baseDir string, logger *slog.Logger, m *metrics.Metrics) *Env {
	if cfg == nil {
		cfg = config.DefaultConfig()
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Env{
		DB:      database,
		Config:  cfg,
		BaseDir: baseDir,
		Logger:  logger,
		Metrics: m,
		Now:     time.Now,
		locks:   manifest.NewKeyLocks(),
	}
}

func (e *Env) now() time.Time {
	if e.Now == nil {
		return time.Now()
	}
	return e.Now()
}

func (e *Env) newID() string {
	entropy := ulid.Monotonic(rand.Reader, 0)
	return ulid.MustNew(ulid.Timestamp(e.now()), entropy).String()
}

func (e *Env) exportsDir() string {
	return filepath.Join(e.BaseDir, "exports")
}

func (e *Env) artifactsDir() string {
	return filepath.Join(e.BaseDir, "artifacts")
}

// calendar builds the study calendar from config.
func (e *Env) calendar(capacityOverride int) (plan.Calendar, error) {
	cfg := e.Config
	cal := plan.Calendar{
		DefaultCapacity: cfg.DailyCapacityMinutes,
		Overrides:       make(map[plan.Date]int, len(cfg.CapacityOverrides)),
		BlackoutDates:   make(map[plan.Date]bool, len(cfg.BlackoutDates)),
	}
	if capacityOverride > 0 {
		cal.DefaultCapacity = capacityOverride
	}
	for day, minutes := range cfg.CapacityOverrides {
		d, err := plan.ParseDate(day)
		if err != nil {
			return plan.Calendar{}, errors.NewInvalidRequest(err.Error())
		}
		cal.Overrides[d] = minutes
	}
	for _, day := range cfg.BlackoutDates {
		d, err := plan.ParseDate(day)
		if err != nil {
			return plan.Calendar{}, errors.NewInvalidRequest(err.Error())
		}
		cal.BlackoutDates[d] = true
	}
	weekdays, err := cfg.Weekdays()
	if err != nil {
		return plan.Calendar{}, errors.NewInvalidRequest(err.Error())
	}
	cal.BlackoutWeekdays = weekdays
	return cal, nil
}

// window parses an inclusive date range. An empty start means today.
func (e *Env) window(start, end string) (plan.Date, plan.Date, error) {
	var s plan.Date
	if start == "" {
		s = plan.DateOf(e.now())
	} else {
		d, err := plan.ParseDate(start)
		if err != nil {
			return plan.Date{}, plan.Date{}, errors.NewInvalidRequest("start: " + err.Error())
		}
		s = d
	}
	if end == "" {
		return plan.Date{}, plan.Date{}, errors.NewInvalidRequest("end is required")
	}
	en, err := plan.ParseDate(end)
	if err != nil {
		return plan.Date{}, plan.Date{}, errors.NewInvalidRequest("end: " + err.Error())
	}
	if en.Before(s) {
		return plan.Date{}, plan.Date{}, errors.NewInvalidRequest("end must not be before start")
	}
	return s, en, nil
}

func cancelled(ctx context.Context, operation string) error {
	if ctx.Err() != nil {
		return errors.NewCancelled(operation)
	}
	return nil
}
