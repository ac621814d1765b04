//go:build windows

package ops

import (
	"os"

	"github.com/hpungsan/syllabus/internal/errors"
)

// createExportTemp creates the temp file an export is rendered into.
// Windows has no O_NOFOLLOW; ValidatePath has already rejected symlinks.
func createExportTemp(path string) (*os.File, error) {
	return os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
}

// openInventoryFile opens an inventory document for reading.
func openInventoryFile(path string) (*os.File, error) {
	f, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, errors.NewFileNotFound(path)
	}
	return f, err
}
