//go:build linux

package localdisk

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"path/filepath"
	"time"
)

const trashAvailable = true

// maxTrashCollisions bounds the search for a free name in the trash.
const maxTrashCollisions = 10000

// trashHome returns the freedesktop.org home trash directory.
func trashHome() (string, error) {
	if dataHome := os.Getenv("XDG_DATA_HOME"); dataHome != "" {
		return filepath.Join(dataHome, "Trash"), nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolving home directory: %w", err)
	}

	return filepath.Join(home, ".local", "share", "Trash"), nil
}

// moveToTrash moves absPath into the home trash following the
// freedesktop.org Trash specification: the name is reserved by creating
// info/<name>.trashinfo exclusively, then the entry is renamed into
// files/<name>. The rename fails with EXDEV for paths on another
// filesystem; those are reported rather than copied.
func moveToTrash(absPath string, now time.Time) error {
	trashDir, err := trashHome()
	if err != nil {
		return err
	}

	filesDir := filepath.Join(trashDir, "files")
	infoDir := filepath.Join(trashDir, "info")

	for _, dir := range []string{filesDir, infoDir} {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return fmt.Errorf("creating trash directory %s: %w", dir, err)
		}
	}

	info := fmt.Sprintf("[Trash Info]\nPath=%s\nDeletionDate=%s\n",
		(&url.URL{Path: absPath}).EscapedPath(),
		now.Format("2006-01-02T15:04:05"),
	)

	base := filepath.Base(absPath)

	for n := 1; n <= maxTrashCollisions; n++ {
		name := trashCandidate(base, n)
		infoPath := filepath.Join(infoDir, name+".trashinfo")

		f, err := os.OpenFile(infoPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
		if errors.Is(err, fs.ErrExist) {
			continue
		}

		if err != nil {
			return fmt.Errorf("reserving trash entry: %w", err)
		}

		_, writeErr := f.WriteString(info)
		closeErr := f.Close()

		if err := errors.Join(writeErr, closeErr); err != nil {
			_ = os.Remove(infoPath)
			return fmt.Errorf("writing trash info: %w", err)
		}

		if err := os.Rename(absPath, filepath.Join(filesDir, name)); err != nil {
			_ = os.Remove(infoPath)
			return fmt.Errorf("moving to trash: %w", err)
		}

		return nil
	}

	return fmt.Errorf("no free trash name for %s", base)
}
