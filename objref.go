package main

import (
	"fmt"
	"strings"

	"github.com/orbitalfiles/orbital/internal/providerid"
	"github.com/orbitalfiles/orbital/internal/vfs"
)

// objectRef is a parsed "<name>.<type>:<path>" argument. The path is what
// the backend expects: a filesystem path for local, an item id for the
// cloud drives, a key for S3. A trailing slash marks a directory.
type objectRef struct {
	Provider providerid.ID
	Path     string
	Dir      bool
}

// parseRef splits at the first colon; provider names cannot contain one.
func parseRef(s string) (objectRef, error) {
	idPart, p, ok := strings.Cut(s, ":")
	if !ok {
		return objectRef{}, usageErrorf("%q is not of the form <name>.<type>:<path>", s)
	}

	id, err := providerid.Parse(idPart)
	if err != nil {
		return objectRef{}, usageErrorf("%q: %v", s, err)
	}

	ref := objectRef{Provider: id}

	switch {
	case p == "" || p == "/":
		ref.Dir = true
	case strings.HasSuffix(p, "/"):
		ref.Dir = true
		ref.Path = strings.TrimRight(p, "/")
	default:
		ref.Path = p
	}

	return ref, nil
}

// object returns the id with the type implied by the reference.
func (r objectRef) object() vfs.ObjectID {
	if r.Dir {
		return vfs.DirectoryID(r.Path)
	}

	return vfs.PlainFile(r.Path)
}

// directory returns the reference as a directory id, regardless of a
// trailing slash.
func (r objectRef) directory() vfs.ObjectID {
	return vfs.DirectoryID(r.Path)
}

func (r objectRef) String() string {
	return fmt.Sprintf("%s:%s", r.Provider, r.Path)
}

// formatRef renders an id returned by a backend as a reference the user
// can pass back in.
func formatRef(p providerid.ID, id vfs.ObjectID) string {
	s := fmt.Sprintf("%s:%s", p, id.Path)
	if id.IsDirectory() && !strings.HasSuffix(s, "/") {
		s += "/"
	}

	return s
}
