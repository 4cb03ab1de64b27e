//go:build !linux && !darwin

package localdisk

import (
	"io/fs"

	"github.com/orbitalfiles/orbital/internal/vfs"
)

func platformStat(_ string, _ fs.FileInfo, md *vfs.Metadata) {
	md.Owner = &vfs.User{ID: vfs.NotApplicable{}}
}
