package ops

import (
	"context"
	stderrors "errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/hpungsan/syllabus/internal/db"
	"github.com/hpungsan/syllabus/internal/errors"
	"github.com/hpungsan/syllabus/internal/manifest"
)

// ScanInput contains parameters for the Scan operation.
type ScanInput struct {
	Root string // optional, default: root of the previous scan
}

// ScanChange is one source touched by a scan.
type ScanChange struct {
	ID     string          `json:"id"`
	Path   string          `json:"path"`
	Status manifest.Status `json:"status"`
}

// ScanError is a file that could not be read. The scan continues past it.
type ScanError struct {
	ID    string `json:"id"`
	Path  string `json:"path"`
	Error string `json:"error"`
}

// ScanOutput contains the result of the Scan operation.
type ScanOutput struct {
	Root            string       `json:"root"`
	Added           []ScanChange `json:"added"`
	Changed         []ScanChange `json:"changed"`
	Removed         []ScanChange `json:"removed"`
	Errors          []ScanError  `json:"errors"`
	Unchanged       int          `json:"unchanged"`
	Invalidated     int          `json:"invalidated"`
	SupersededPlans []string     `json:"superseded_plans,omitempty"`
}

// Scan fingerprints every file under the root, records additions, changes,
// removals and read failures, and invalidates whatever depends on a source
// that changed. The whole diff applies in one transaction.
func (e *Env) Scan(ctx context.Context, input ScanInput) (*ScanOutput, error) {
	root, err := e.scanRoot(ctx, input.Root)
	if err != nil {
		return nil, err
	}

	list := manifest.ListDir
	if e.listDir != nil {
		list = e.listDir
	}
	files, err := list(ctx, root, e.Config.ScanIgnore)
	if err != nil {
		if cerr := cancelled(ctx, "scan"); cerr != nil {
			return nil, cerr
		}
		if stderrors.Is(err, os.ErrNotExist) {
			return nil, errors.NewFileNotFound(root)
		}
		return nil, errors.NewInvalidRequest(err.Error())
	}

	known, err := db.ListSources(ctx, e.DB, db.SourceFilter{IncludeMissing: true})
	if err != nil {
		return nil, err
	}
	diff := manifest.ComputeDiff(known, files)

	out := &ScanOutput{
		Root:      root,
		Added:     []ScanChange{},
		Changed:   []ScanChange{},
		Removed:   []ScanChange{},
		Errors:    []ScanError{},
		Unchanged: diff.Unchanged,
	}

	// Lock every tracked source the diff touches before opening the
	// transaction, so per-source writers never wait on us while holding it.
	var lockIDs []string
	for _, group := range [][]manifest.Change{diff.Added, diff.Changed, diff.Errored} {
		for _, c := range group {
			if c.Existing != nil {
				lockIDs = append(lockIDs, c.Existing.ID)
			}
		}
	}
	for _, r := range diff.Removed {
		lockIDs = append(lockIDs, r.ID)
	}
	unlock := e.locks.LockAll(lockIDs)
	defer unlock()

	now := e.now().Unix()
	cascade := &InvalidateOutput{}

	err = db.WithTx(ctx, e.DB, func(q db.Querier) error {
		if err := db.SetSetting(ctx, q, db.SettingSourceRoot, root); err != nil {
			return err
		}

		invalidate := func(id, trigger string) error {
			res, err := e.invalidate(ctx, q, id, trigger, false)
			if err != nil {
				return err
			}
			cascade.merge(res)
			return nil
		}

		for _, c := range diff.Added {
			if c.Existing == nil {
				rec := &manifest.SourceRecord{
					ID:          e.newID(),
					Path:        c.File.Path,
					Fingerprint: c.File.Fingerprint,
					Size:        c.File.Size,
					ModifiedAt:  c.File.ModifiedAt,
					Label:       manifest.LabelUnknown,
					Status:      manifest.StatusNew,
					CreatedAt:   now,
					UpdatedAt:   now,
				}
				if err := db.InsertSource(ctx, q, rec); err != nil {
					return err
				}
				out.Added = append(out.Added, ScanChange{ID: rec.ID, Path: rec.Path, Status: rec.Status})
				continue
			}

			rec, err := db.GetSource(ctx, q, c.Existing.ID)
			if err != nil {
				return err
			}
			applyFile(rec, c.File, now)
			rec.Missing = false
			if err := db.UpdateSource(ctx, q, rec); err != nil {
				return err
			}
			if err := invalidate(rec.ID, TriggerSourceChanged); err != nil {
				return err
			}
			out.Added = append(out.Added, ScanChange{ID: rec.ID, Path: rec.Path, Status: rec.Status})
		}

		for _, c := range diff.Changed {
			rec, err := db.GetSource(ctx, q, c.Existing.ID)
			if err != nil {
				return err
			}
			applyFile(rec, c.File, now)
			if err := db.UpdateSource(ctx, q, rec); err != nil {
				return err
			}
			if err := invalidate(rec.ID, TriggerSourceChanged); err != nil {
				return err
			}
			out.Changed = append(out.Changed, ScanChange{ID: rec.ID, Path: rec.Path, Status: rec.Status})
		}

		for _, r := range diff.Removed {
			rec, err := db.GetSource(ctx, q, r.ID)
			if err != nil {
				return err
			}
			rec.Missing = true
			rec.Status = manifest.StatusStale
			rec.UpdatedAt = now
			if err := db.UpdateSource(ctx, q, rec); err != nil {
				return err
			}
			if err := invalidate(rec.ID, TriggerSourceRemoved); err != nil {
				return err
			}
			out.Removed = append(out.Removed, ScanChange{ID: rec.ID, Path: rec.Path, Status: rec.Status})
		}

		for _, c := range diff.Errored {
			msg := c.File.Err.Error()
			var rec *manifest.SourceRecord
			if c.Existing == nil {
				rec = &manifest.SourceRecord{
					ID:         e.newID(),
					Path:       c.File.Path,
					ModifiedAt: c.File.ModifiedAt,
					Label:      manifest.LabelUnknown,
					Status:     manifest.StatusError,
					Error:      msg,
					CreatedAt:  now,
					UpdatedAt:  now,
				}
				if err := db.InsertSource(ctx, q, rec); err != nil {
					return err
				}
			} else {
				var err error
				rec, err = db.GetSource(ctx, q, c.Existing.ID)
				if err != nil {
					return err
				}
				rec.Fingerprint = ""
				rec.Size = 0
				rec.ModifiedAt = c.File.ModifiedAt
				rec.Status = manifest.StatusError
				rec.Error = msg
				rec.Missing = false
				rec.UpdatedAt = now
				if err := db.UpdateSource(ctx, q, rec); err != nil {
					return err
				}
				if err := invalidate(rec.ID, TriggerSourceError); err != nil {
					return err
				}
			}
			out.Errors = append(out.Errors, ScanError{ID: rec.ID, Path: rec.Path, Error: msg})
			e.Logger.Warn("source_read_error", "source_id", rec.ID, "path", rec.Path, "error", msg)
		}
		return nil
	})
	if err != nil {
		if cerr := cancelled(ctx, "scan"); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}

	out.Invalidated = len(cascade.Invalidated)
	out.SupersededPlans = cascade.SupersededPlans
	e.Metrics.ObserveScan(len(out.Added), len(out.Changed), len(out.Removed), len(out.Errors))
	e.Logger.Info("scan_complete",
		"root", root,
		"added", len(out.Added),
		"changed", len(out.Changed),
		"removed", len(out.Removed),
		"errors", len(out.Errors),
		"unchanged", out.Unchanged,
	)
	return out, nil
}

// scanRoot resolves the directory to scan, falling back to the stored root.
func (e *Env) scanRoot(ctx context.Context, root string) (string, error) {
	root = strings.TrimSpace(root)
	if root == "" {
		stored, err := db.GetSetting(ctx, e.DB, db.SettingSourceRoot)
		if err != nil {
			return "", err
		}
		if stored == "" {
			return "", errors.NewInvalidRequest("root is required for the first scan")
		}
		root = stored
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return "", errors.NewInvalidRequest("invalid root: " + err.Error())
	}
	return abs, nil
}

// applyFile records new file contents. A source that was never processed
// goes back to new; one with processed results becomes stale.
func applyFile(rec *manifest.SourceRecord, f manifest.FileState, now int64) {
	rec.Fingerprint = f.Fingerprint
	rec.Size = f.Size
	rec.ModifiedAt = f.ModifiedAt
	rec.Error = ""
	rec.UpdatedAt = now
	rec.Status = manifest.StatusNew
	if rec.ProcessedFingerprint != "" {
		rec.Status = manifest.StatusStale
	}
}
