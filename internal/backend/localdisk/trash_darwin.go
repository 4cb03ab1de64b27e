//go:build darwin

package localdisk

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"time"
)

const trashAvailable = true

const maxTrashCollisions = 10000

// moveToTrash moves absPath to the current user's ~/.Trash, appending a
// numeric suffix on name collisions.
func moveToTrash(absPath string, _ time.Time) error {
	home, err := os.UserHomeDir()
	if err != nil {
		return fmt.Errorf("resolving home directory: %w", err)
	}

	trashDir := filepath.Join(home, ".Trash")

	if _, statErr := os.Stat(trashDir); statErr != nil {
		return fmt.Errorf("trash directory not found: %w", statErr)
	}

	base := filepath.Base(absPath)

	for n := 1; n <= maxTrashCollisions; n++ {
		dest := filepath.Join(trashDir, trashCandidate(base, n))

		if _, statErr := os.Lstat(dest); errors.Is(statErr, fs.ErrNotExist) {
			return os.Rename(absPath, dest)
		}
	}

	return fmt.Errorf("no free trash name for %s", base)
}
