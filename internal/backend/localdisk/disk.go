// Package localdisk exposes a directory tree of the local filesystem as a
// vfs provider. It is also the storage the registry persists provider
// state through, using an empty root so that ids are absolute paths.
package localdisk

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/orbitalfiles/orbital/internal/metrics"
	"github.com/orbitalfiles/orbital/internal/providerid"
	"github.com/orbitalfiles/orbital/internal/statefile"
	"github.com/orbitalfiles/orbital/internal/vfs"
)

// Default permissions for files and directories created through the adapter.
const (
	DefaultFileMode = 0o644
	DefaultDirMode  = 0o755
)

const backendName = "local"

var (
	errInvalidName = errors.New("localdisk: invalid entry name")
	errRootLocked  = errors.New("localdisk: cannot move or remove the root directory")
)

// Config is the persisted configuration of a local disk provider.
type Config struct {
	// Root is the directory ids are relative to. Empty means ids are
	// absolute paths.
	Root     string `json:"root"`
	FileMode uint32 `json:"file_mode,omitempty"`
	DirMode  uint32 `json:"dir_mode,omitempty"`
}

// Disk implements vfs.FileSystem and, where the platform has one,
// vfs.Trash over a local directory.
type Disk struct {
	cfg      Config
	root     string
	fileMode fs.FileMode
	dirMode  fs.FileMode
	logger   *slog.Logger
}

// New validates cfg and returns a Disk. A non-empty root must be an
// existing directory.
func New(cfg Config, logger *slog.Logger) (*Disk, error) {
	if logger == nil {
		logger = slog.Default()
	}

	d := &Disk{
		cfg:      cfg,
		fileMode: DefaultFileMode,
		dirMode:  DefaultDirMode,
		logger:   logger,
	}

	if cfg.FileMode != 0 {
		d.fileMode = fs.FileMode(cfg.FileMode).Perm()
	}

	if cfg.DirMode != 0 {
		d.dirMode = fs.FileMode(cfg.DirMode).Perm()
	}

	if cfg.Root != "" {
		abs, err := filepath.Abs(cfg.Root)
		if err != nil {
			return nil, fmt.Errorf("localdisk: resolving root %s: %w", cfg.Root, err)
		}

		info, err := os.Stat(abs)
		if err != nil {
			return nil, mapErr("New", cfg.Root, err)
		}

		if !info.IsDir() {
			return nil, vfs.Wrap(vfs.ErrNotADirectory, "New", cfg.Root, nil)
		}

		d.root = abs
	}

	return d, nil
}

// Config returns the configuration the disk was built from.
func (d *Disk) Config() Config {
	return d.cfg
}

// State implements statefile.Stater.
func (d *Disk) State() (statefile.State, error) {
	return statefile.New(providerid.TypeLocal, d.cfg, nil)
}

// FileSystem implements vfs.Provider.
func (d *Disk) FileSystem() vfs.FileSystem {
	return d
}

// Trash implements vfs.Provider. It is nil on platforms without a
// supported trash location.
func (d *Disk) Trash() vfs.Trash {
	if !trashAvailable {
		return nil
	}

	return d
}

// resolve maps an id to an absolute on-disk path. With a root, the id
// path is cleaned as if rooted so ".." segments cannot climb above it.
func (d *Disk) resolve(op string, id vfs.ObjectID) (string, error) {
	if d.root == "" {
		p := id.Path
		if p == "" {
			p = string(filepath.Separator)
		}

		if !filepath.IsAbs(p) {
			return "", vfs.Wrap(vfs.ErrNotFound, op, id.Path, fmt.Errorf("localdisk: path %q is not absolute", p))
		}

		return filepath.Clean(p), nil
	}

	rel := path.Clean("/" + id.Path)

	return filepath.Join(d.root, filepath.FromSlash(rel)), nil
}

// resolveEntry is resolve for operations that move or remove the entry
// itself. The root directory is refused.
func (d *Disk) resolveEntry(op string, id vfs.ObjectID) (string, error) {
	abs, err := d.resolve(op, id)
	if err != nil {
		return "", err
	}

	root := d.root
	if root == "" {
		root = string(filepath.Separator)
	}

	if abs == root {
		return "", vfs.Wrap(vfs.ErrUnsupported, op, id.Path, errRootLocked)
	}

	return abs, nil
}

// childPath returns the id path of name inside parent.
func childPath(parent vfs.ObjectID, name string) string {
	return path.Join(parent.Path, name)
}

func validateName(op, name string) error {
	if name == "" || name == "." || name == ".." || strings.ContainsAny(name, `/`+string(filepath.Separator)) {
		return vfs.Wrap(vfs.ErrUnsupported, op, name, errInvalidName)
	}

	return nil
}

// observe records the outcome of one operation.
func (d *Disk) observe(op, p string, start time.Time, err error) {
	metrics.RecordOperation(backendName, op, err == nil, time.Since(start))

	if err != nil {
		d.logger.Debug("local operation failed",
			slog.String("op", op),
			slog.String("path", p),
			slog.String("error", err.Error()),
		)
	}
}

// ReadFile returns the full content of a regular file.
func (d *Disk) ReadFile(_ context.Context, id vfs.ObjectID) (data []byte, err error) {
	defer func(start time.Time) { d.observe("ReadFile", id.Path, start, err) }(time.Now())

	abs, err := d.resolve("ReadFile", id)
	if err != nil {
		return nil, err
	}

	data, err = os.ReadFile(abs)
	if err != nil {
		return nil, mapErr("ReadFile", id.Path, err)
	}

	return data, nil
}

// WriteFile atomically replaces the file content. An existing file keeps
// its permission bits.
func (d *Disk) WriteFile(_ context.Context, id vfs.ObjectID, content []byte) (err error) {
	defer func(start time.Time) { d.observe("WriteFile", id.Path, start, err) }(time.Now())

	abs, err := d.resolve("WriteFile", id)
	if err != nil {
		return err
	}

	mode := d.fileMode

	info, statErr := os.Stat(abs)

	switch {
	case statErr == nil && info.IsDir():
		return vfs.Wrap(vfs.ErrNotAFile, "WriteFile", id.Path, nil)
	case statErr == nil:
		mode = info.Mode().Perm()
	case !errors.Is(statErr, fs.ErrNotExist):
		return mapErr("WriteFile", id.Path, statErr)
	}

	if err := writeAtomic(abs, content, mode); err != nil {
		return mapErr("WriteFile", id.Path, err)
	}

	d.logger.Debug("wrote file",
		slog.String("path", id.Path),
		slog.Int("size", len(content)),
	)

	return nil
}

// Delete removes a file, a symlink, or an empty directory.
func (d *Disk) Delete(_ context.Context, id vfs.ObjectID) (err error) {
	defer func(start time.Time) { d.observe("Delete", id.Path, start, err) }(time.Now())

	abs, err := d.resolveEntry("Delete", id)
	if err != nil {
		return err
	}

	if _, err := os.Lstat(abs); err != nil {
		return mapErr("Delete", id.Path, err)
	}

	if err := os.Remove(abs); err != nil {
		return mapErr("Delete", id.Path, err)
	}

	return nil
}

// MoveTo moves id into newParent keeping its name.
func (d *Disk) MoveTo(_ context.Context, id, newParent vfs.ObjectID) (moved vfs.ObjectID, err error) {
	defer func(start time.Time) { d.observe("MoveTo", id.Path, start, err) }(time.Now())

	src, err := d.resolveEntry("MoveTo", id)
	if err != nil {
		return vfs.ObjectID{}, err
	}

	parentAbs, err := d.resolve("MoveTo", newParent)
	if err != nil {
		return vfs.ObjectID{}, err
	}

	info, err := os.Stat(parentAbs)
	if err != nil {
		return vfs.ObjectID{}, mapErr("MoveTo", newParent.Path, err)
	}

	if !info.IsDir() {
		return vfs.ObjectID{}, vfs.Wrap(vfs.ErrNotADirectory, "MoveTo", newParent.Path, nil)
	}

	name := filepath.Base(src)
	if err := renameNoReplace(src, filepath.Join(parentAbs, name)); err != nil {
		return vfs.ObjectID{}, mapErr("MoveTo", id.Path, err)
	}

	return vfs.NewObjectID(childPath(newParent, name), id.Type), nil
}

// Rename changes the last path segment of id.
func (d *Disk) Rename(_ context.Context, id vfs.ObjectID, newName string) (renamed vfs.ObjectID, err error) {
	defer func(start time.Time) { d.observe("Rename", id.Path, start, err) }(time.Now())

	if err := validateName("Rename", newName); err != nil {
		return vfs.ObjectID{}, err
	}

	src, err := d.resolveEntry("Rename", id)
	if err != nil {
		return vfs.ObjectID{}, err
	}

	dst := filepath.Join(filepath.Dir(src), newName)
	if err := renameNoReplace(src, dst); err != nil {
		return vfs.ObjectID{}, mapErr("Rename", id.Path, err)
	}

	idPath, err := d.idPath(dst)
	if err != nil {
		return vfs.ObjectID{}, mapErr("Rename", id.Path, err)
	}

	return vfs.NewObjectID(idPath, id.Type), nil
}

// ReadDirectory lists the entries of a directory without following symlinks.
func (d *Disk) ReadDirectory(_ context.Context, id vfs.ObjectID) (files []vfs.File, err error) {
	defer func(start time.Time) { d.observe("ReadDirectory", id.Path, start, err) }(time.Now())

	abs, err := d.resolve("ReadDirectory", id)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, mapErr("ReadDirectory", id.Path, err)
	}

	files = make([]vfs.File, 0, len(entries))

	for _, entry := range entries {
		entryAbs := filepath.Join(abs, entry.Name())

		info, infoErr := entry.Info()
		if infoErr != nil {
			// Removed between listing and stat.
			d.logger.Debug("skipping vanished entry",
				slog.String("path", entryAbs),
				slog.String("error", infoErr.Error()),
			)

			continue
		}

		md := statMetadata(entryAbs, info)
		files = append(files, vfs.File{
			ID:       vfs.NewObjectID(childPath(id, entry.Name()), fileType(info.Mode())),
			Name:     norm.NFC.String(entry.Name()),
			Metadata: &md,
		})
	}

	return files, nil
}

// Create makes an empty file or, for directory requests, a directory. An
// existing entry with the same name is a conflict.
func (d *Disk) Create(_ context.Context, parent vfs.ObjectID, file vfs.File) (err error) {
	defer func(start time.Time) { d.observe("Create", childPath(parent, file.Name), start, err) }(time.Now())

	if err := validateName("Create", file.Name); err != nil {
		return err
	}

	parentAbs, err := d.resolve("Create", parent)
	if err != nil {
		return err
	}

	target := filepath.Join(parentAbs, file.Name)
	idPath := childPath(parent, file.Name)

	if file.Metadata.IsDirectoryRequest() {
		if err := os.Mkdir(target, d.dirMode); err != nil {
			return mapErr("Create", idPath, err)
		}

		return nil
	}

	f, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, d.fileMode)
	if err != nil {
		return mapErr("Create", idPath, err)
	}

	if err := f.Close(); err != nil {
		return mapErr("Create", idPath, err)
	}

	return nil
}

// GetMetadata stats id without following a final symlink.
func (d *Disk) GetMetadata(_ context.Context, id vfs.ObjectID) (md vfs.Metadata, err error) {
	defer func(start time.Time) { d.observe("GetMetadata", id.Path, start, err) }(time.Now())

	abs, err := d.resolve("GetMetadata", id)
	if err != nil {
		return vfs.Metadata{}, err
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return vfs.Metadata{}, mapErr("GetMetadata", id.Path, err)
	}

	md = statMetadata(abs, info)
	md.OpenPath = vfs.Ptr(abs)

	return md, nil
}

// ReadLink returns the id a symlink points at. Relative targets resolve
// against the link's directory. A dangling target is reported as a file.
func (d *Disk) ReadLink(_ context.Context, id vfs.ObjectID) (target vfs.ObjectID, err error) {
	defer func(start time.Time) { d.observe("ReadLink", id.Path, start, err) }(time.Now())

	abs, err := d.resolve("ReadLink", id)
	if err != nil {
		return vfs.ObjectID{}, err
	}

	info, err := os.Lstat(abs)
	if err != nil {
		return vfs.ObjectID{}, mapErr("ReadLink", id.Path, err)
	}

	if info.Mode()&fs.ModeSymlink == 0 {
		return vfs.ObjectID{}, vfs.Wrap(vfs.ErrNotAFile, "ReadLink", id.Path, errors.New("not a symbolic link"))
	}

	dest, err := os.Readlink(abs)
	if err != nil {
		return vfs.ObjectID{}, mapErr("ReadLink", id.Path, err)
	}

	if !filepath.IsAbs(dest) {
		dest = filepath.Join(filepath.Dir(abs), dest)
	}

	dest = filepath.Clean(dest)

	idPath, err := d.idPath(dest)
	if err != nil {
		return vfs.ObjectID{}, vfs.Wrap(vfs.ErrUnsupported, "ReadLink", id.Path, err)
	}

	t := vfs.RegularFile
	if targetInfo, statErr := os.Lstat(dest); statErr == nil {
		t = fileType(targetInfo.Mode())
	}

	return vfs.NewObjectID(idPath, t), nil
}

// CreateLink creates name in parent as a symlink to target. The link is
// stored relative to its directory so the tree can be relocated.
func (d *Disk) CreateLink(
	_ context.Context, parent vfs.ObjectID, name string, target vfs.ObjectID,
) (link vfs.ObjectID, err error) {
	defer func(start time.Time) { d.observe("CreateLink", childPath(parent, name), start, err) }(time.Now())

	if err := validateName("CreateLink", name); err != nil {
		return vfs.ObjectID{}, err
	}

	parentAbs, err := d.resolve("CreateLink", parent)
	if err != nil {
		return vfs.ObjectID{}, err
	}

	targetAbs, err := d.resolve("CreateLink", target)
	if err != nil {
		return vfs.ObjectID{}, err
	}

	dest, err := filepath.Rel(parentAbs, targetAbs)
	if err != nil {
		dest = targetAbs
	}

	idPath := childPath(parent, name)
	if err := os.Symlink(dest, filepath.Join(parentAbs, name)); err != nil {
		return vfs.ObjectID{}, mapErr("CreateLink", idPath, err)
	}

	return vfs.NewObjectID(idPath, vfs.Symlink), nil
}

// SendToTrash moves id into the platform trash.
func (d *Disk) SendToTrash(_ context.Context, id vfs.ObjectID) (err error) {
	defer func(start time.Time) { d.observe("SendToTrash", id.Path, start, err) }(time.Now())

	if !trashAvailable {
		return vfs.Wrap(vfs.ErrUnsupported, "SendToTrash", id.Path, nil)
	}

	abs, err := d.resolveEntry("SendToTrash", id)
	if err != nil {
		return err
	}

	if _, err := os.Lstat(abs); err != nil {
		return mapErr("SendToTrash", id.Path, err)
	}

	if err := moveToTrash(abs, time.Now()); err != nil {
		return mapErr("SendToTrash", id.Path, err)
	}

	d.logger.Info("moved to trash", slog.String("path", id.Path))

	return nil
}

// idPath converts an absolute on-disk path back into an id path.
func (d *Disk) idPath(abs string) (string, error) {
	if d.root == "" {
		return abs, nil
	}

	rel, err := filepath.Rel(d.root, abs)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("localdisk: %s is outside the root", abs)
	}

	if rel == "." {
		return "", nil
	}

	return filepath.ToSlash(rel), nil
}

func fileType(mode fs.FileMode) vfs.FileType {
	switch {
	case mode&fs.ModeSymlink != 0:
		return vfs.Symlink
	case mode.IsDir():
		return vfs.Directory
	default:
		return vfs.RegularFile
	}
}

// statMetadata builds metadata from a Lstat result, adding the platform
// extras (owner, access/change/birth times) where available.
func statMetadata(abs string, info fs.FileInfo) vfs.Metadata {
	md := vfs.Metadata{
		Size:        vfs.Ptr(uint64(max(info.Size(), 0))),
		ModifiedAt:  vfs.Ptr(info.ModTime()),
		Permissions: vfs.UnixPermissions{Mode: uint32(info.Mode().Perm())},
	}

	switch {
	case info.IsDir():
		md.MimeType = vfs.Ptr(vfs.MimeTypeDirectory)
	case info.Mode().IsRegular():
		if mt := mime.TypeByExtension(filepath.Ext(abs)); mt != "" {
			md.MimeType = vfs.Ptr(mt)
		}
	}

	platformStat(abs, info, &md)

	return md
}

// mapErr translates filesystem errors into the vfs taxonomy.
func mapErr(op, p string, err error) error {
	var kind error

	switch {
	case errors.Is(err, fs.ErrNotExist):
		kind = vfs.ErrNotFound
	case errors.Is(err, fs.ErrExist), errors.Is(err, syscall.ENOTEMPTY):
		kind = vfs.ErrConflict
	case errors.Is(err, syscall.ENOTDIR):
		kind = vfs.ErrNotADirectory
	case errors.Is(err, syscall.EISDIR):
		kind = vfs.ErrNotAFile
	default:
		kind = vfs.ErrTransport
	}

	return vfs.Wrap(kind, op, p, err)
}
