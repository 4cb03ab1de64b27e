//go:build darwin

package localdisk

import (
	"io/fs"
	"syscall"
	"time"

	"github.com/orbitalfiles/orbital/internal/vfs"
)

func platformStat(_ string, info fs.FileInfo, md *vfs.Metadata) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}

	md.Owner = &vfs.User{ID: vfs.UserAndGroup{UID: st.Uid, GID: st.Gid}}
	md.Permissions = vfs.UnixPermissions{Mode: uint32(st.Mode)}
	md.AccessedAt = vfs.Ptr(time.Unix(st.Atimespec.Sec, st.Atimespec.Nsec))
	md.MetaChangedAt = vfs.Ptr(time.Unix(st.Ctimespec.Sec, st.Ctimespec.Nsec))
	md.CreatedAt = vfs.Ptr(time.Unix(st.Birthtimespec.Sec, st.Birthtimespec.Nsec))
}
