package localdisk

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

// writeAtomic replaces path with data (write-to-temp + rename). The temp
// file lives in the same directory so rename(2) never crosses filesystems,
// and a crash leaves either the old or the new content, never a mix.
func writeAtomic(path string, data []byte, mode fs.FileMode) error {
	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".orbital-*.tmp")
	if err != nil {
		return fmt.Errorf("localdisk: creating temp file: %w", err)
	}

	tmpPath := tmp.Name()

	success := false
	defer func() {
		if !success {
			_ = os.Remove(tmpPath)
		}
	}()

	if err := os.Chmod(tmpPath, mode); err != nil {
		tmp.Close()
		return fmt.Errorf("localdisk: setting permissions: %w", err)
	}

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("localdisk: writing: %w", err)
	}

	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("localdisk: syncing: %w", err)
	}

	if err := tmp.Close(); err != nil {
		return fmt.Errorf("localdisk: closing: %w", err)
	}

	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("localdisk: renaming: %w", err)
	}

	success = true

	return nil
}
