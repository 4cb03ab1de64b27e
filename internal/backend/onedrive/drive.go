// Package onedrive adapts a Microsoft OneDrive drive to the vfs provider
// contract. Object ids are Graph item ids; the empty id is the drive root.
package onedrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/orbitalfiles/orbital/internal/auth"
	"github.com/orbitalfiles/orbital/internal/chunked"
	"github.com/orbitalfiles/orbital/internal/graph"
	"github.com/orbitalfiles/orbital/internal/metrics"
	"github.com/orbitalfiles/orbital/internal/providerid"
	"github.com/orbitalfiles/orbital/internal/statefile"
	"github.com/orbitalfiles/orbital/internal/vfs"
)

// DefaultChunkSize is the upload session chunk size when none is configured.
// It is a multiple of graph.ChunkAlignment.
const DefaultChunkSize = 32 * graph.ChunkAlignment

const backendName = "onedrive"

// Config is the persisted configuration of a OneDrive provider.
type Config struct {
	// DriveID selects a drive other than the signed-in user's default.
	DriveID string `json:"drive_id,omitempty"`
}

// Options wires a Drive to its credentials and transport.
type Options struct {
	Config     Config
	Store      *auth.Store
	Refresher  auth.Refresher
	HTTPClient *http.Client
	// BaseURL overrides graph.DefaultBaseURL.
	BaseURL   string
	ChunkSize int64
	Logger    *slog.Logger
}

// Drive implements vfs.FileSystem and vfs.Trash over Microsoft Graph.
type Drive struct {
	cfg      Config
	client   *graph.Client
	store    *auth.Store
	session  *auth.Session
	uploader chunked.Uploader
	logger   *slog.Logger
}

// New builds a Drive. Store and Refresher are required.
func New(opts Options) (*Drive, error) {
	if opts.Store == nil || opts.Refresher == nil {
		return nil, errors.New("onedrive: store and refresher are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	chunkSize = chunked.AlignDown(chunkSize, graph.ChunkAlignment)

	return &Drive{
		cfg:    opts.Config,
		client: graph.NewClient(opts.BaseURL, opts.HTTPClient, nil, logger),
		store:  opts.Store,
		session: &auth.Session{
			Store:     opts.Store,
			Refresher: opts.Refresher,
			Label:     backendName,
			Logger:    logger,
		},
		uploader: chunked.Uploader{
			ChunkSize: chunkSize,
			Alignment: graph.ChunkAlignment,
			Logger:    logger,
		},
		logger: logger,
	}, nil
}

// FileSystem implements vfs.Provider.
func (d *Drive) FileSystem() vfs.FileSystem {
	return d
}

// Trash implements vfs.Provider. Deleted items go to the OneDrive recycle bin.
func (d *Drive) Trash() vfs.Trash {
	return d
}

// State implements statefile.Stater.
func (d *Drive) State() (statefile.State, error) {
	return statefile.New(providerid.TypeOneDrive, d.cfg, d.store.Token())
}

// call runs one Graph request through the retry-on-unauthorized
// combinator, mapping errors into the vfs taxonomy on every attempt so the
// combinator sees vfs.ErrAuthExpired.
func call[T any](ctx context.Context, d *Drive, op, id string, fn func(context.Context, *graph.Client) (T, error)) (T, error) {
	start := time.Now()

	res, err := auth.Call(ctx, d.session, func(ctx context.Context, tok string) (T, error) {
		v, err := fn(ctx, d.client.WithToken(graph.StaticToken(tok)))
		return v, mapErr(op, id, err)
	})

	metrics.RecordOperation(backendName, op, err == nil, time.Since(start))

	return res, err
}

// Account returns the signed-in user.
func (d *Drive) Account(ctx context.Context) (*graph.User, error) {
	return call(ctx, d, "Account", "", func(ctx context.Context, c *graph.Client) (*graph.User, error) {
		return c.Me(ctx)
	})
}

// ReadFile downloads the item content.
func (d *Drive) ReadFile(ctx context.Context, id vfs.ObjectID) ([]byte, error) {
	return call(ctx, d, "ReadFile", id.Path, func(ctx context.Context, c *graph.Client) ([]byte, error) {
		var buf bytes.Buffer
		if _, err := c.Download(ctx, d.cfg.DriveID, id.Path, &buf); err != nil {
			return nil, err
		}

		return buf.Bytes(), nil
	})
}

// WriteFile replaces the content of an existing file item. Non-empty
// content goes through an upload session in aligned chunks; each chunk is
// retried on its own if the token expires mid-upload.
func (d *Drive) WriteFile(ctx context.Context, id vfs.ObjectID, content []byte) error {
	if len(content) == 0 {
		_, err := call(ctx, d, "WriteFile", id.Path, func(ctx context.Context, c *graph.Client) (*graph.Item, error) {
			return c.ReplaceContent(ctx, d.cfg.DriveID, id.Path, nil)
		})

		return err
	}

	session, err := call(ctx, d, "CreateUploadSession", id.Path,
		func(ctx context.Context, c *graph.Client) (*graph.UploadSession, error) {
			return c.CreateUploadSession(ctx, d.cfg.DriveID, id.Path)
		})
	if err != nil {
		return err
	}

	d.logger.Info("uploading through session",
		slog.String("item_id", id.Path),
		slog.Int("size", len(content)),
	)

	err = d.uploader.Upload(ctx, content, func(ctx context.Context, r chunked.Range, body []byte) error {
		_, err := call(ctx, d, "UploadChunk", id.Path, func(ctx context.Context, c *graph.Client) (*graph.Item, error) {
			return c.UploadChunk(ctx, session, body, r.ContentRange())
		})

		return err
	})
	if err != nil {
		if cancelErr := d.client.CancelUploadSession(context.WithoutCancel(ctx), session); cancelErr != nil {
			d.logger.Warn("canceling upload session failed",
				slog.String("item_id", id.Path),
				slog.String("error", cancelErr.Error()),
			)
		}

		return vfs.Wrap(vfs.ErrTransport, "WriteFile", id.Path, err)
	}

	return nil
}

// Delete removes the item permanently. Accounts that do not offer
// permanent deletion get the recycle bin instead.
func (d *Drive) Delete(ctx context.Context, id vfs.ObjectID) error {
	_, err := call(ctx, d, "Delete", id.Path, func(ctx context.Context, c *graph.Client) (struct{}, error) {
		return struct{}{}, c.PermanentDeleteItem(ctx, d.cfg.DriveID, id.Path)
	})
	if err == nil || !permanentDeleteUnsupported(err) {
		return err
	}

	d.logger.Info("permanent delete unavailable, using recycle bin",
		slog.String("item_id", id.Path),
	)

	return d.SendToTrash(ctx, id)
}

func permanentDeleteUnsupported(err error) bool {
	var gErr *graph.GraphError
	if errors.As(err, &gErr) && gErr.StatusCode == http.StatusNotImplemented {
		return true
	}

	return errors.Is(err, graph.ErrBadRequest) || errors.Is(err, graph.ErrForbidden)
}

// SendToTrash implements vfs.Trash.
func (d *Drive) SendToTrash(ctx context.Context, id vfs.ObjectID) error {
	_, err := call(ctx, d, "SendToTrash", id.Path, func(ctx context.Context, c *graph.Client) (struct{}, error) {
		return struct{}{}, c.DeleteItem(ctx, d.cfg.DriveID, id.Path)
	})

	return err
}

// MoveTo reparents the item. Item ids are stable across moves.
func (d *Drive) MoveTo(ctx context.Context, id, newParent vfs.ObjectID) (vfs.ObjectID, error) {
	item, err := call(ctx, d, "MoveTo", id.Path, func(ctx context.Context, c *graph.Client) (*graph.Item, error) {
		parentID := newParent.Path
		if newParent.IsRoot() {
			root, err := c.GetItem(ctx, d.cfg.DriveID, graph.RootID)
			if err != nil {
				return nil, err
			}

			parentID = root.ID
		}

		return c.MoveItem(ctx, d.cfg.DriveID, id.Path, parentID, "")
	})
	if err != nil {
		return vfs.ObjectID{}, err
	}

	return vfs.NewObjectID(item.ID, id.Type), nil
}

// Rename changes the item name in place.
func (d *Drive) Rename(ctx context.Context, id vfs.ObjectID, newName string) (vfs.ObjectID, error) {
	item, err := call(ctx, d, "Rename", id.Path, func(ctx context.Context, c *graph.Client) (*graph.Item, error) {
		return c.MoveItem(ctx, d.cfg.DriveID, id.Path, "", newName)
	})
	if err != nil {
		return vfs.ObjectID{}, err
	}

	return vfs.NewObjectID(item.ID, id.Type), nil
}

// ReadDirectory lists the children of a folder item.
func (d *Drive) ReadDirectory(ctx context.Context, id vfs.ObjectID) ([]vfs.File, error) {
	items, err := call(ctx, d, "ReadDirectory", id.Path, func(ctx context.Context, c *graph.Client) ([]graph.Item, error) {
		if !id.IsDirectory() {
			item, err := c.GetItem(ctx, d.cfg.DriveID, id.Path)
			if err != nil {
				return nil, err
			}

			if !item.IsFolder {
				return nil, vfs.Wrap(vfs.ErrNotADirectory, "ReadDirectory", id.Path, nil)
			}
		}

		return c.ListChildren(ctx, d.cfg.DriveID, id.Path)
	})
	if err != nil {
		return nil, err
	}

	files := make([]vfs.File, 0, len(items))
	for i := range items {
		files = append(files, toFile(&items[i]))
	}

	return files, nil
}

// Create makes an empty file or a folder under parent. An existing item
// with the same name is a conflict.
func (d *Drive) Create(ctx context.Context, parent vfs.ObjectID, file vfs.File) error {
	_, err := call(ctx, d, "Create", parent.Path, func(ctx context.Context, c *graph.Client) (*graph.Item, error) {
		if file.Metadata.IsDirectoryRequest() {
			return c.CreateFolder(ctx, d.cfg.DriveID, parent.Path, file.Name)
		}

		return c.UploadNew(ctx, d.cfg.DriveID, parent.Path, file.Name, nil)
	})

	return err
}

// GetMetadata fetches one item.
func (d *Drive) GetMetadata(ctx context.Context, id vfs.ObjectID) (vfs.Metadata, error) {
	item, err := call(ctx, d, "GetMetadata", id.Path, func(ctx context.Context, c *graph.Client) (*graph.Item, error) {
		return c.GetItem(ctx, d.cfg.DriveID, id.Path)
	})
	if err != nil {
		return vfs.Metadata{}, err
	}

	return itemMetadata(item), nil
}

// ReadLink is unsupported: OneDrive has no symbolic links.
func (d *Drive) ReadLink(_ context.Context, id vfs.ObjectID) (vfs.ObjectID, error) {
	return vfs.ObjectID{}, vfs.Wrap(vfs.ErrUnsupported, "ReadLink", id.Path, nil)
}

// CreateLink is unsupported: OneDrive has no symbolic links.
func (d *Drive) CreateLink(_ context.Context, parent vfs.ObjectID, name string, _ vfs.ObjectID) (vfs.ObjectID, error) {
	return vfs.ObjectID{}, vfs.Wrap(vfs.ErrUnsupported, "CreateLink", parent.Path+"/"+name, nil)
}

func toFile(item *graph.Item) vfs.File {
	t := vfs.RegularFile
	if item.IsFolder || item.IsPackage {
		t = vfs.Directory
	}

	md := itemMetadata(item)

	return vfs.File{
		ID:       vfs.NewObjectID(item.ID, t),
		Name:     item.Name,
		Metadata: &md,
	}
}

func itemMetadata(item *graph.Item) vfs.Metadata {
	md := vfs.Metadata{
		Size: vfs.Ptr(uint64(max(item.Size, 0))),
	}

	switch {
	case item.IsFolder:
		md.MimeType = vfs.Ptr(vfs.MimeTypeDirectory)
	case item.MimeType != "":
		md.MimeType = vfs.Ptr(item.MimeType)
	}

	if !item.CreatedAt.IsZero() {
		md.CreatedAt = vfs.Ptr(item.CreatedAt)
	}

	if !item.ModifiedAt.IsZero() {
		md.ModifiedAt = vfs.Ptr(item.ModifiedAt)
	}

	if item.WebURL != "" {
		md.OpenPath = vfs.Ptr(item.WebURL)
	}

	if item.CreatedByID != "" {
		md.Owner = &vfs.User{ID: vfs.UniqueID(item.CreatedByID)}
		if item.CreatedByName != "" {
			md.Owner.Name = vfs.Ptr(item.CreatedByName)
		}
	}

	return md
}

// mapErr translates Graph errors into the vfs taxonomy. Errors that
// already carry a kind pass through with it.
func mapErr(op, id string, err error) error {
	if err == nil {
		return nil
	}

	var kind error

	switch {
	case vfs.KindOf(err) != nil:
		return err
	case errors.Is(err, graph.ErrUnauthorized):
		kind = vfs.ErrAuthExpired
	case errors.Is(err, graph.ErrNotFound), errors.Is(err, graph.ErrGone):
		kind = vfs.ErrNotFound
	case errors.Is(err, graph.ErrConflict), errors.Is(err, graph.ErrPrecondition):
		kind = vfs.ErrConflict
	case errors.Is(err, graph.ErrNoDownloadURL):
		kind = vfs.ErrNotAFile
	default:
		kind = vfs.ErrTransport
	}

	return vfs.Wrap(kind, op, id, fmt.Errorf("onedrive: %w", err))
}
