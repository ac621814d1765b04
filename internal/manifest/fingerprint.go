package manifest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
)

// FileState is one file observed by ListDir. Err is set (and Fingerprint
// empty) when the file could not be read. Dir marks a directory that could
// not be listed; Path is then the directory and Err its read error.
type FileState struct {
	Path        string
	Fingerprint string
	Size        int64
	ModifiedAt  int64
	Err         error
	Dir         bool
}

// Fingerprint returns the SHA-256 hex digest of the file's bytes and the
// number of bytes read.
func Fingerprint(path string) (string, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	h := sha256.New()
	n, err := io.Copy(h, f)
	if err != nil {
		return "", 0, err
	}
	return hex.EncodeToString(h.Sum(nil)), n, nil
}

// ListDir walks root recursively and fingerprints every regular file,
// skipping hidden entries, symlinks and paths matching ignore. Per-file read
// failures are reported on the FileState, not returned. A subdirectory that
// cannot be listed yields one FileState with Dir set and is not descended.
// The result is sorted by path.
func ListDir(ctx context.Context, root string, ignore []string) ([]FileState, error) {
	info, err := os.Stat(root)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%s is not a directory", root)
	}

	var files []FileState
	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, walkErr error) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if path == root {
			return walkErr
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		rel = NormalizePath(rel)

		if IsHidden(d.Name()) || Ignored(rel, ignore) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if walkErr != nil {
			if d.IsDir() {
				files = append(files, FileState{Path: rel, Err: walkErr, Dir: true})
				return filepath.SkipDir
			}
			return nil
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		state := FileState{Path: rel}
		if fi, err := d.Info(); err == nil {
			state.ModifiedAt = fi.ModTime().Unix()
		}
		sum, size, err := Fingerprint(path)
		if err != nil {
			state.Err = err
		} else {
			state.Fingerprint = sum
			state.Size = size
		}
		files = append(files, state)
		return nil
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files, nil
}
