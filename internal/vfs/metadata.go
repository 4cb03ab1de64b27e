package vfs

import (
	"fmt"
	"io/fs"
	"time"
)

// MimeTypeDirectory is the Metadata.MimeType a caller sets on the File
// passed to FileSystem.Create to request a directory instead of a file.
const MimeTypeDirectory = "directory"

// File is one entry of a directory listing. Name can differ from the last
// segment of ID.Path (object store prefixes, cloud drive item ids).
type File struct {
	ID       ObjectID
	Name     string
	Metadata *Metadata
}

// Metadata describes an object. Every field is optional: nil means the
// backend did not report it, never "zero".
type Metadata struct {
	MimeType      *string
	OpenPath      *string
	CreatedAt     *time.Time
	ModifiedAt    *time.Time
	MetaChangedAt *time.Time
	AccessedAt    *time.Time
	Size          *uint64
	Owner         *User
	Permissions   Permissions
}

// IsDirectoryRequest reports whether m asks Create for a directory.
func (m *Metadata) IsDirectoryRequest() bool {
	return m != nil && m.MimeType != nil && *m.MimeType == MimeTypeDirectory
}

// User is the owner of an object as reported by the backend.
type User struct {
	ID   UserID
	Name *string
}

// UserID identifies a user. The concrete types form a closed set:
// UserAndGroup, UniqueID and NotApplicable.
type UserID interface {
	fmt.Stringer
	isUserID()
}

// UserAndGroup is a POSIX uid/gid pair.
type UserAndGroup struct {
	UID uint32
	GID uint32
}

func (UserAndGroup) isUserID() {}

func (u UserAndGroup) String() string {
	return fmt.Sprintf("%d:%d", u.UID, u.GID)
}

// UniqueID is an opaque backend account identifier.
type UniqueID string

func (UniqueID) isUserID() {}

func (u UniqueID) String() string {
	return string(u)
}

// NotApplicable marks backends with no notion of ownership.
type NotApplicable struct{}

func (NotApplicable) isUserID() {}

func (NotApplicable) String() string {
	return "n/a"
}

// Permissions describes access bits. UnixPermissions is the only variant
// today; the interface leaves room for ACL-style backends.
type Permissions interface {
	fmt.Stringer
	isPermissions()
}

// UnixPermissions carries st_mode permission and special bits.
type UnixPermissions struct {
	Mode uint32
}

func (UnixPermissions) isPermissions() {}

func (p UnixPermissions) String() string {
	return fs.FileMode(p.Mode & 0o777).String()
}

// Ptr returns a pointer to v. Adapters use it to fill optional fields.
func Ptr[T any](v T) *T {
	return &v
}
