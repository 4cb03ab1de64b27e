//go:build linux

package localdisk

import (
	"io/fs"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/orbitalfiles/orbital/internal/vfs"
)

// platformStat adds owner, raw mode and timestamps via statx, which is the
// only way to read the birth time on Linux. Kernels or filesystems without
// statx fall back to the Stat_t already held by info.
func platformStat(abs string, info fs.FileInfo, md *vfs.Metadata) {
	var stx unix.Statx_t

	err := unix.Statx(unix.AT_FDCWD, abs, unix.AT_SYMLINK_NOFOLLOW,
		unix.STATX_BASIC_STATS|unix.STATX_BTIME, &stx)
	if err != nil {
		fallbackStat(info, md)
		return
	}

	md.Owner = &vfs.User{ID: vfs.UserAndGroup{UID: stx.Uid, GID: stx.Gid}}
	md.Permissions = vfs.UnixPermissions{Mode: uint32(stx.Mode)}
	md.AccessedAt = statxTime(stx.Atime)
	md.MetaChangedAt = statxTime(stx.Ctime)

	if stx.Mask&unix.STATX_BTIME != 0 {
		md.CreatedAt = statxTime(stx.Btime)
	}
}

func statxTime(ts unix.StatxTimestamp) *time.Time {
	t := time.Unix(ts.Sec, int64(ts.Nsec))
	return &t
}

func fallbackStat(info fs.FileInfo, md *vfs.Metadata) {
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return
	}

	md.Owner = &vfs.User{ID: vfs.UserAndGroup{UID: st.Uid, GID: st.Gid}}
	md.Permissions = vfs.UnixPermissions{Mode: st.Mode}
	md.AccessedAt = vfs.Ptr(time.Unix(int64(st.Atim.Sec), int64(st.Atim.Nsec)))     //nolint:unconvert // int32 on 32-bit
	md.MetaChangedAt = vfs.Ptr(time.Unix(int64(st.Ctim.Sec), int64(st.Ctim.Nsec))) //nolint:unconvert // int32 on 32-bit
}
