//go:build !linux

package localdisk

func renameNoReplace(src, dst string) error {
	return renameChecked(src, dst)
}
