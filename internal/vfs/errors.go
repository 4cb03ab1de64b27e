package vfs

import (
	"errors"
	"fmt"
)

// Error kinds. Adapters translate native failures into one of these at
// their boundary. Use errors.Is(err, vfs.ErrNotFound) to check.
var (
	ErrNotFound         = errors.New("vfs: not found")
	ErrNotADirectory    = errors.New("vfs: not a directory")
	ErrNotAFile         = errors.New("vfs: not a file")
	ErrAuthRequired     = errors.New("vfs: authorization required")
	ErrAuthExpired      = errors.New("vfs: authorization expired")
	ErrUnsupported      = errors.New("vfs: operation not supported")
	ErrConflict         = errors.New("vfs: conflict")
	ErrTransport        = errors.New("vfs: transport failure")
	ErrProviderNotFound = errors.New("vfs: provider not found")
)

// Error records a failed operation on one object. It unwraps to both its
// Kind sentinel and the backend cause, so callers can test the taxonomy
// with errors.Is and still reach native error types with errors.As.
type Error struct {
	Op   string // e.g. "ReadFile"
	Path string
	Kind error // one of the Err* sentinels
	Err  error // backend cause, may be nil
}

func (e *Error) Error() string {
	msg := e.Kind.Error()
	if e.Op != "" {
		msg = fmt.Sprintf("%s %q: %s", e.Op, e.Path, msg)
	}

	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}

	return msg
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.Kind}
	}

	return []error{e.Kind, e.Err}
}

// Wrap builds an *Error. A cause that already carries a taxonomy kind keeps
// its own kind so repeated wrapping never reclassifies an error.
func Wrap(kind error, op, path string, cause error) error {
	if existing := KindOf(cause); existing != nil {
		kind = existing
	}

	return &Error{Op: op, Path: path, Kind: kind, Err: cause}
}

// Reclassify builds an *Error of kind even when cause already carries a
// different one. The cause stays reachable through errors.Is and errors.As.
func Reclassify(kind error, op, path string, cause error) error {
	return &Error{Op: op, Path: path, Kind: kind, Err: cause}
}

// KindOf returns the taxonomy sentinel carried by err, or nil.
func KindOf(err error) error {
	if err == nil {
		return nil
	}

	for _, k := range kinds {
		if errors.Is(err, k) {
			return k
		}
	}

	return nil
}

// kinds is ordered most specific first for KindOf.
var kinds = []error{
	ErrProviderNotFound,
	ErrAuthRequired,
	ErrAuthExpired,
	ErrNotFound,
	ErrNotADirectory,
	ErrNotAFile,
	ErrUnsupported,
	ErrConflict,
	ErrTransport,
}
