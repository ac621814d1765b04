package ops

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"time"

	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/export"
)

// ExportPlanInput contains parameters for the ExportPlan operation.
type ExportPlanInput struct {
	ID     string // optional, default: current plan
	Format string // md, html, csv, xlsx or json (default md)
	Path   string // optional, default: <base>/exports/plan-<id>-<timestamp>.<ext>
}

// ExportPlanOutput contains the result of the ExportPlan operation.
type ExportPlanOutput struct {
	Path       string        `json:"path"`
	PlanID     string        `json:"plan_id"`
	Format     export.Format `json:"format"`
	Bytes      int64         `json:"bytes"`
	ExportedAt int64         `json:"exported_at"`
}

// ExportPlan renders a stored plan to a file.
func (e *Env) ExportPlan(ctx context.Context, input ExportPlanInput) (*ExportPlanOutput, error) {
	format, err := export.ParseFormat(input.Format)
	if err != nil {
		return nil, errors.NewInvalidRequest(err.Error())
	}
	record, payload, err := e.loadPlan(ctx, input.ID)
	if err != nil {
		return nil, err
	}
	now := e.now()

	exportPath := input.Path
	if exportPath == "" {
		name := fmt.Sprintf("plan-%s-%s%s", SanitizeForFilename(record.ID), now.Format("2006-01-02T150405"), format.Ext())
		exportPath = filepath.Join(e.exportsDir(), name)
	}

	// Default paths go through the same checks as user paths.
	rule := PathRule{Mode: PathCheckWrite, Extensions: []string{format.Ext()}, DefaultDir: e.exportsDir()}
	if err := ValidatePath(exportPath, rule, e.Config); err != nil {
		return nil, err
	}
	if err := cancelled(ctx, "export"); err != nil {
		return nil, err
	}

	doc := export.Document{
		PlanID:      record.ID,
		CreatedAt:   time.Unix(record.CreatedAt, 0).UTC(),
		Feasibility: string(payload.Outcome.Feasibility.Tier),
		Complete:    record.Complete,
		Schedule:    payload.Outcome.Schedule,
		Exams:       payload.Exams,
		Topics:      payload.Topics,
	}

	size, err := writeExportFile(exportPath, func(f *os.File) error { return export.Write(f, format, doc) })
	if err != nil {
		return nil, err
	}

	e.Logger.Info("plan_exported", "plan_id", record.ID, "format", string(format), "path", exportPath, "bytes", size)
	return &ExportPlanOutput{
		Path:       exportPath,
		PlanID:     record.ID,
		Format:     format,
		Bytes:      size,
		ExportedAt: now.Unix(),
	}, nil
}

// writeExportFile writes through a temp file next to path and renames it
// into place, so a failed export leaves any existing file untouched.
func writeExportFile(path string, render func(f *os.File) error) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return 0, errors.NewInternal(fmt.Errorf("failed to create export directory: %w", err))
	}

	randBytes := make([]byte, 8)
	if _, err := rand.Read(randBytes); err != nil {
		return 0, errors.NewInternal(fmt.Errorf("failed to generate temp file name: %w", err))
	}
	tempPath := path + "." + hex.EncodeToString(randBytes) + ".tmp"
	file, err := createExportTemp(tempPath)
	if err != nil {
		return 0, errors.NewInternal(fmt.Errorf("failed to create export file: %w", err))
	}

	success := false
	defer func() {
		if file != nil {
			_ = file.Close()
		}
		if !success {
			_ = os.Remove(tempPath)
		}
	}()

	if err := render(file); err != nil {
		return 0, errors.NewInternal(fmt.Errorf("render export: %w", err))
	}
	if err := file.Sync(); err != nil {
		return 0, errors.NewInternal(err)
	}
	info, err := file.Stat()
	if err != nil {
		return 0, errors.NewInternal(err)
	}

	// Close before the rename (required on Windows).
	if err := file.Close(); err != nil {
		return 0, errors.NewInternal(fmt.Errorf("failed to close export file: %w", err))
	}
	file = nil

	// os.Rename would follow a symlinked destination.
	if info, err := os.Lstat(path); err == nil && info.Mode()&os.ModeSymlink != 0 {
		return 0, errors.NewInvalidRequest("export path is a symlink")
	}

	// On Windows, os.Rename fails if the destination exists; keep the
	// existing file rather than delete-then-rename.
	if err := os.Rename(tempPath, path); err != nil {
		if runtime.GOOS == "windows" {
			if _, statErr := os.Stat(path); statErr == nil {
				return 0, errors.NewInvalidRequest("export destination already exists; overwriting is not supported on Windows yet (choose a new path or delete the existing file)")
			}
		}
		return 0, errors.NewInternal(fmt.Errorf("failed to finalize export: %w", err))
	}

	success = true
	return info.Size(), nil
}
