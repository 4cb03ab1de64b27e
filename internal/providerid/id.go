// Package providerid provides the identity of a configured provider: a
// user-chosen name plus the backend type. The pair is the registry key and
// also names the provider's state file on disk ("{name}.{type}").
//
// This is a leaf package with zero external dependencies beyond stdlib.
package providerid

import (
	"encoding"
	"errors"
	"fmt"
	"strings"
)

// Type is the backend kind of a provider.
type Type string

// Known provider types. The string values appear in state file names, so
// they must never change.
const (
	TypeLocal    Type = "local"
	TypeOneDrive Type = "onedrive"
	TypeGDrive   Type = "gdrive"
	TypeS3       Type = "s3"
)

// Types lists every known type in display order.
var Types = []Type{TypeLocal, TypeOneDrive, TypeGDrive, TypeS3}

// ErrInvalid is returned for malformed ids.
var ErrInvalid = errors.New("providerid: invalid provider id")

// ParseType validates a type name.
func ParseType(s string) (Type, error) {
	t := Type(strings.ToLower(s))
	for _, known := range Types {
		if t == known {
			return t, nil
		}
	}

	return "", fmt.Errorf("%w: unknown provider type %q", ErrInvalid, s)
}

// String returns the type name.
func (t Type) String() string {
	return string(t)
}

// RequiresOAuth reports whether providers of this type authenticate with
// an OAuth2 token.
func (t Type) RequiresOAuth() bool {
	return t == TypeOneDrive || t == TypeGDrive
}

// ID identifies one provider. The zero value is invalid.
type ID struct {
	Name string
	Type Type
}

// New validates name and t and builds an ID.
func New(name string, t Type) (ID, error) {
	if _, err := ParseType(string(t)); err != nil {
		return ID{}, err
	}

	if err := validateName(name); err != nil {
		return ID{}, err
	}

	return ID{Name: name, Type: t}, nil
}

// MustNew is New for constants in tests and examples. Panics on bad input.
func MustNew(name string, t Type) ID {
	id, err := New(name, t)
	if err != nil {
		panic(err)
	}

	return id
}

// validateName rejects names that could escape the state directory or
// collide with temp files.
func validateName(name string) error {
	switch {
	case name == "":
		return fmt.Errorf("%w: empty name", ErrInvalid)
	case strings.ContainsAny(name, `/\:`):
		return fmt.Errorf("%w: name %q contains a path separator or colon", ErrInvalid, name)
	case strings.HasPrefix(name, "."):
		return fmt.Errorf("%w: name %q starts with a dot", ErrInvalid, name)
	}

	return nil
}

// Parse reads the "{name}.{type}" form. The type is the text after the last
// dot, so names may themselves contain dots.
func Parse(s string) (ID, error) {
	i := strings.LastIndexByte(s, '.')
	if i <= 0 || i == len(s)-1 {
		return ID{}, fmt.Errorf("%w: %q is not of the form name.type", ErrInvalid, s)
	}

	t, err := ParseType(s[i+1:])
	if err != nil {
		return ID{}, err
	}

	return New(s[:i], t)
}

// String returns "{name}.{type}".
func (id ID) String() string {
	if id.IsZero() {
		return ""
	}

	return id.Name + "." + string(id.Type)
}

// FileName is the state file name for this provider.
func (id ID) FileName() string {
	return id.String()
}

// IsZero reports whether id is the zero value.
func (id ID) IsZero() bool {
	return id.Name == "" && id.Type == ""
}

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}

	*id = parsed

	return nil
}

// Compile-time interface assertions.
var (
	_ encoding.TextMarshaler   = ID{}
	_ encoding.TextUnmarshaler = (*ID)(nil)
	_ fmt.Stringer             = ID{}
)
