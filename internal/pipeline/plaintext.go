package pipeline

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"unicode/utf8"

	"github.com/hpungsan/syllabus/internal/manifest"
)

// PlainText extracts UTF-8 text sources into Dir/<source id>.txt.
type PlainText struct {
	Dir      string
	MaxBytes int64 // 0 = no limit
}

func (p PlainText) Name() string { return "plain_text" }

func (p PlainText) Process(ctx context.Context, job Job) ([]Output, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	info, err := os.Stat(job.Path)
	if err != nil {
		return nil, err
	}
	if p.MaxBytes > 0 && info.Size() > p.MaxBytes {
		return nil, fmt.Errorf("%w: %s is larger than %d bytes", ErrUnsupported, job.RelPath, p.MaxBytes)
	}

	data, err := os.ReadFile(job.Path)
	if err != nil {
		return nil, err
	}

	sum := sha256.Sum256(data)
	if job.Fingerprint != "" && hex.EncodeToString(sum[:]) != job.Fingerprint {
		return nil, fmt.Errorf("%w: %s", ErrSourceChanged, job.RelPath)
	}
	if bytes.IndexByte(data, 0) >= 0 || !utf8.Valid(data) {
		return nil, fmt.Errorf("%w: %s is not UTF-8 text", ErrUnsupported, job.RelPath)
	}

	dest := filepath.Join(p.Dir, job.SourceID+".txt")
	if err := writeAtomic(dest, data); err != nil {
		return nil, err
	}

	return []Output{{Kind: manifest.KindExtractedText, Location: dest}}, nil
}

func writeAtomic(dest string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0700); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".extract-*")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return err
	}
	return nil
}
