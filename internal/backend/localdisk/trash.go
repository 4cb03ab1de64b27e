package localdisk

import (
	"path/filepath"
	"strconv"
)

// trashCandidate returns the n-th name to try for base inside a trash
// directory: the name itself first, then "stem 2.ext", "stem 3.ext" and so
// on, matching what Finder and most desktop file managers produce.
func trashCandidate(base string, n int) string {
	if n < 2 {
		return base
	}

	ext := filepath.Ext(base)
	stem := base[:len(base)-len(ext)]

	if stem == "" {
		// Dotfiles such as ".bashrc" have no stem to suffix.
		stem, ext = base, ""
	}

	return stem + " " + strconv.Itoa(n) + ext
}
