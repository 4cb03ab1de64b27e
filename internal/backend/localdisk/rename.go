package localdisk

import (
	"errors"
	"io/fs"
	"os"
)

// renameChecked renames src to dst unless dst exists. The check and the
// rename are not atomic; renameNoReplace uses a kernel primitive where
// one exists.
func renameChecked(src, dst string) error {
	if _, err := os.Lstat(dst); err == nil {
		return &os.LinkError{Op: "rename", Old: src, New: dst, Err: fs.ErrExist}
	} else if !errors.Is(err, fs.ErrNotExist) {
		return err
	}

	return os.Rename(src, dst)
}
