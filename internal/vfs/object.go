// Package vfs defines the backend-neutral object model shared by every
// storage provider: object identifiers, listing entries, metadata, the
// capability interfaces a provider may advertise, and the error taxonomy
// adapters translate their native failures into.
//
// This is a leaf package. Nothing here performs I/O.
package vfs

import (
	"encoding"
	"fmt"
)

// FileType is the kind of object an ObjectID names.
type FileType int

// Object kinds.
const (
	RegularFile FileType = iota
	Directory
	Symlink
)

// String returns the lowercase name used in JSON and CLI output.
func (t FileType) String() string {
	switch t {
	case RegularFile:
		return "file"
	case Directory:
		return "directory"
	case Symlink:
		return "symlink"
	default:
		return fmt.Sprintf("FileType(%d)", int(t))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (t FileType) MarshalText() ([]byte, error) {
	switch t {
	case RegularFile, Directory, Symlink:
		return []byte(t.String()), nil
	default:
		return nil, fmt.Errorf("vfs: unknown file type %d", int(t))
	}
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (t *FileType) UnmarshalText(text []byte) error {
	switch string(text) {
	case "file":
		*t = RegularFile
	case "directory":
		*t = Directory
	case "symlink":
		*t = Symlink
	default:
		return fmt.Errorf("vfs: unknown file type %q", string(text))
	}

	return nil
}

// ObjectID identifies one object inside a provider. The Path is opaque to
// callers: a filesystem path on local disk, an item id on cloud drives, a
// key on object stores. The empty path is the backend's root directory.
// ObjectID is comparable, so equality and map keys use both fields.
type ObjectID struct {
	Path string   `json:"path"`
	Type FileType `json:"type"`
}

// NewObjectID builds an ObjectID from a path and type.
func NewObjectID(path string, t FileType) ObjectID {
	return ObjectID{Path: path, Type: t}
}

// Root returns the root directory of any backend.
func Root() ObjectID {
	return ObjectID{Type: Directory}
}

// DirectoryID returns a directory id for path.
func DirectoryID(path string) ObjectID {
	return ObjectID{Path: path, Type: Directory}
}

// PlainFile returns a regular-file id for path.
func PlainFile(path string) ObjectID {
	return ObjectID{Path: path, Type: RegularFile}
}

// IsDirectory reports whether the id names a directory.
func (id ObjectID) IsDirectory() bool {
	return id.Type == Directory
}

// IsRoot reports whether the id names the backend root.
func (id ObjectID) IsRoot() bool {
	return id.Path == "" && id.Type == Directory
}

// String renders the path. Backends use it as their query key.
func (id ObjectID) String() string {
	return id.Path
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = RegularFile
	_ encoding.TextUnmarshaler = (*FileType)(nil)
	_ fmt.Stringer             = ObjectID{}
)
