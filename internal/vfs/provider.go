package vfs

import "context"

// Provider is one configured storage backend. It advertises capabilities
// instead of implementing one wide interface: an accessor returns nil when
// the backend lacks that capability, and callers must check before use.
type Provider interface {
	FileSystem() FileSystem
	Trash() Trash
}

// FileSystem is the hierarchical file capability. Every method may block
// on network or disk I/O and honors ctx cancellation.
type FileSystem interface {
	ReadFile(ctx context.Context, id ObjectID) ([]byte, error)
	// WriteFile replaces the full content of an existing or new file.
	WriteFile(ctx context.Context, id ObjectID, content []byte) error
	Delete(ctx context.Context, id ObjectID) error
	// MoveTo relocates id under newParent and returns the new id.
	MoveTo(ctx context.Context, id, newParent ObjectID) (ObjectID, error)
	// Rename changes the name within the same parent and returns the new id.
	Rename(ctx context.Context, id ObjectID, newName string) (ObjectID, error)
	ReadDirectory(ctx context.Context, id ObjectID) ([]File, error)
	// Create makes an empty file, or a directory when file.Metadata asks
	// for MimeTypeDirectory, under parent.
	Create(ctx context.Context, parent ObjectID, file File) error
	GetMetadata(ctx context.Context, id ObjectID) (Metadata, error)
	ReadLink(ctx context.Context, id ObjectID) (ObjectID, error)
	CreateLink(ctx context.Context, parent ObjectID, name string, target ObjectID) (ObjectID, error)
}

// Trash is the recoverable-delete capability.
type Trash interface {
	SendToTrash(ctx context.Context, id ObjectID) error
}

// Capability names reported by Describe.
const (
	CapabilityFileSystem = "filesystem"
	CapabilityTrash      = "trash"
)

// Describe lists the capabilities p advertises, in a stable order.
func Describe(p Provider) []string {
	var caps []string

	if p.FileSystem() != nil {
		caps = append(caps, CapabilityFileSystem)
	}

	if p.Trash() != nil {
		caps = append(caps, CapabilityTrash)
	}

	return caps
}
