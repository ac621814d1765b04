package manifest

import "strings"

// Change pairs an observed file with the record already tracking its path,
// if any. Existing is nil for a path never seen before.
type Change struct {
	File     FileState
	Existing *SourceRecord
}

// Diff is the difference between the tracked records and a directory listing.
type Diff struct {
	// Added holds paths never seen before and previously missing paths that
	// reappeared (those keep their record).
	Added []Change
	// Changed holds tracked paths whose fingerprint differs.
	Changed []Change
	// Removed holds tracked, non-missing records whose path is absent.
	Removed []SourceRecord
	// Errored holds files that could not be read, including tracked files
	// under a directory that could not be listed.
	Errored []Change
	// Unchanged counts tracked files with an identical fingerprint.
	Unchanged int
}

// Empty reports whether the diff carries no changes.
func (d Diff) Empty() bool {
	return len(d.Added) == 0 && len(d.Changed) == 0 && len(d.Removed) == 0 && len(d.Errored) == 0
}

// ComputeDiff compares known records against the current listing. Identity
// is the path: a file moved to a new path shows up as one removal plus one
// addition even if its bytes are identical. Output order follows the order
// of current (ListDir sorts by path) and then known for removals.
//
// A tracked path under an unreadable directory is errored, not removed:
// the file may still exist.
func ComputeDiff(known []SourceRecord, current []FileState) Diff {
	byPath := make(map[string]*SourceRecord, len(known))
	for i := range known {
		byPath[known[i].Path] = &known[i]
	}

	var (
		d          Diff
		unreadable []FileState
	)
	seen := make(map[string]bool, len(current))
	for _, f := range current {
		if f.Dir {
			unreadable = append(unreadable, f)
			continue
		}
		seen[f.Path] = true
		existing := byPath[f.Path]

		switch {
		case f.Err != nil:
			if sameFailure(existing, f.Err) {
				d.Unchanged++
				continue
			}
			d.Errored = append(d.Errored, Change{File: f, Existing: existing})
		case existing == nil || existing.Missing:
			d.Added = append(d.Added, Change{File: f, Existing: existing})
		case existing.Fingerprint != f.Fingerprint:
			d.Changed = append(d.Changed, Change{File: f, Existing: existing})
		default:
			d.Unchanged++
		}
	}

	for i := range known {
		rec := known[i]
		if rec.Missing || seen[rec.Path] {
			continue
		}
		if dir, ok := enclosing(unreadable, rec.Path); ok {
			if sameFailure(&known[i], dir.Err) {
				d.Unchanged++
				continue
			}
			f := FileState{Path: rec.Path, ModifiedAt: rec.ModifiedAt, Err: dir.Err}
			d.Errored = append(d.Errored, Change{File: f, Existing: &known[i]})
			continue
		}
		d.Removed = append(d.Removed, rec)
	}

	return d
}

// sameFailure reports whether existing already records err, so repeating
// the failure is not a new event.
func sameFailure(existing *SourceRecord, err error) bool {
	return existing != nil && existing.Status == StatusError && !existing.Missing &&
		existing.Fingerprint == "" && existing.Error == err.Error()
}

func enclosing(dirs []FileState, path string) (FileState, bool) {
	for _, dir := range dirs {
		if strings.HasPrefix(path, dir.Path+"/") {
			return dir, true
		}
	}
	return FileState{}, false
}
