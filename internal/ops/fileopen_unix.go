//go:build !windows

package ops

import (
	stderrors "errors"
	"fmt"
	"os"
	"syscall"

	"github.com/hpungsan/syllabus/internal/errors"
)

// createExportTemp creates the temp file an export is rendered into. It
// must not exist yet and must not be a symlink; the directory itself was
// checked by ValidatePath.
func createExportTemp(path string) (*os.File, error) {
	fd, err := syscall.Open(path, syscall.O_CREAT|syscall.O_EXCL|syscall.O_WRONLY|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, 0600)
	if err != nil {
		if stderrors.Is(err, syscall.ELOOP) {
			return nil, errors.NewInvalidRequest(fmt.Sprintf("export target %s is a symlink", path))
		}
		return nil, err
	}
	return os.NewFile(uintptr(fd), path), nil
}

// openInventoryFile opens an inventory document for reading without
// following a symlink in the final component.
func openInventoryFile(path string) (*os.File, error) {
	fd, err := syscall.Open(path, syscall.O_RDONLY|syscall.O_NOFOLLOW|syscall.O_CLOEXEC, 0)
	switch {
	case err == nil:
		return os.NewFile(uintptr(fd), path), nil
	case stderrors.Is(err, syscall.ELOOP):
		return nil, errors.NewInvalidRequest(fmt.Sprintf("inventory %s is a symlink", path))
	case stderrors.Is(err, syscall.ENOENT):
		return nil, errors.NewFileNotFound(path)
	default:
		return nil, err
	}
}
