// Package gdrive adapts Google Drive to the vfs provider contract. Object
// ids are Drive file ids; the empty id is the configured root folder.
package gdrive

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"golang.org/x/oauth2"
	"google.golang.org/api/drive/v3"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"github.com/orbitalfiles/orbital/internal/auth"
	"github.com/orbitalfiles/orbital/internal/chunked"
	"github.com/orbitalfiles/orbital/internal/metrics"
	"github.com/orbitalfiles/orbital/internal/providerid"
	"github.com/orbitalfiles/orbital/internal/statefile"
	"github.com/orbitalfiles/orbital/internal/vfs"
)

const (
	// MimeTypeFolder is the MIME type of Drive folders.
	MimeTypeFolder = "application/vnd.google-apps.folder"

	// ChunkAlignment is the resumable upload granularity required by Drive.
	ChunkAlignment = 256 * 1024

	// DefaultChunkSize is used for resumable uploads when none is configured.
	DefaultChunkSize = 32 * ChunkAlignment

	// SimpleUploadMaxSize is the largest write sent as a single media
	// request. Larger writes use a resumable session.
	SimpleUploadMaxSize = 5 * 1024 * 1024

	// RootID is Drive's alias for the user's My Drive root.
	RootID = "root"

	pageSize    = 1000
	backendName = "gdrive"
	fileFields  = "id, name, mimeType, size, createdTime, modifiedTime, viewedByMeTime, webViewLink, owners(displayName, permissionId), parents"
)

// statusResumeIncomplete acknowledges a non-final resumable chunk.
const statusResumeIncomplete = 308

// Config is the persisted configuration of a Google Drive provider.
type Config struct {
	// RootID scopes the provider to a folder. Empty means My Drive.
	RootID string `json:"root_id,omitempty"`
}

// Options wires a Drive to its credentials and transport.
type Options struct {
	Config     Config
	Store      *auth.Store
	Refresher  auth.Refresher
	HTTPClient *http.Client
	// Endpoint overrides the Drive API base URL.
	Endpoint  string
	ChunkSize int64
	Logger    *slog.Logger
}

// Drive implements vfs.FileSystem and vfs.Trash over the Drive v3 API.
type Drive struct {
	cfg        Config
	rootID     string
	endpoint   string
	httpClient *http.Client
	store      *auth.Store
	session    *auth.Session
	uploader   chunked.Uploader
	logger     *slog.Logger
}

// conn is what one authenticated attempt works with: a Drive service and
// the bearer-token client behind it, for the raw resumable upload calls.
type conn struct {
	svc  *drive.Service
	http *http.Client
}

// New builds a Drive. Store and Refresher are required.
func New(opts Options) (*Drive, error) {
	if opts.Store == nil || opts.Refresher == nil {
		return nil, errors.New("gdrive: store and refresher are required")
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	chunkSize := opts.ChunkSize
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}

	rootID := opts.Config.RootID
	if rootID == "" {
		rootID = RootID
	}

	return &Drive{
		cfg:        opts.Config,
		rootID:     rootID,
		endpoint:   opts.Endpoint,
		httpClient: httpClient,
		store:      opts.Store,
		session: &auth.Session{
			Store:     opts.Store,
			Refresher: opts.Refresher,
			Label:     backendName,
			Logger:    logger,
		},
		uploader: chunked.Uploader{
			ChunkSize: chunked.AlignDown(chunkSize, ChunkAlignment),
			Alignment: ChunkAlignment,
			Logger:    logger,
		},
		logger: logger,
	}, nil
}

// FileSystem implements vfs.Provider.
func (d *Drive) FileSystem() vfs.FileSystem {
	return d
}

// Trash implements vfs.Provider.
func (d *Drive) Trash() vfs.Trash {
	return d
}

// State implements statefile.Stater.
func (d *Drive) State() (statefile.State, error) {
	return statefile.New(providerid.TypeGDrive, d.cfg, d.store.Token())
}

// connect builds a service that sends tok on every request.
func (d *Drive) connect(ctx context.Context, tok string) (*conn, error) {
	base := context.WithValue(ctx, oauth2.HTTPClient, d.httpClient)
	hc := oauth2.NewClient(base, oauth2.StaticTokenSource(&oauth2.Token{AccessToken: tok, TokenType: "Bearer"}))

	opts := []option.ClientOption{option.WithHTTPClient(hc)}
	if d.endpoint != "" {
		opts = append(opts, option.WithEndpoint(d.endpoint))
	}

	svc, err := drive.NewService(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("gdrive: creating drive service: %w", err)
	}

	return &conn{svc: svc, http: hc}, nil
}

// call runs fn through the retry-on-unauthorized combinator with a fresh
// connection per attempt.
func call[T any](ctx context.Context, d *Drive, op, id string, fn func(context.Context, *conn) (T, error)) (T, error) {
	start := time.Now()

	res, err := auth.Call(ctx, d.session, func(ctx context.Context, tok string) (T, error) {
		c, err := d.connect(ctx, tok)
		if err != nil {
			var zero T
			return zero, mapErr(op, id, err)
		}

		v, err := fn(ctx, c)

		return v, mapErr(op, id, err)
	})

	metrics.RecordOperation(backendName, op, err == nil, time.Since(start))

	return res, err
}

func (d *Drive) fileID(id vfs.ObjectID) string {
	if id.Path == "" {
		return d.rootID
	}

	return id.Path
}

// Account returns the email address of the signed-in user.
func (d *Drive) Account(ctx context.Context) (string, error) {
	return call(ctx, d, "Account", "", func(ctx context.Context, c *conn) (string, error) {
		about, err := c.svc.About.Get().Fields("user(emailAddress)").Context(ctx).Do()
		if err != nil {
			return "", err
		}

		if about.User == nil {
			return "", nil
		}

		return about.User.EmailAddress, nil
	})
}

// ReadFile downloads the file content. Native Google documents cannot be
// downloaded and fail with vfs.ErrNotAFile.
func (d *Drive) ReadFile(ctx context.Context, id vfs.ObjectID) ([]byte, error) {
	if id.IsDirectory() {
		return nil, vfs.Wrap(vfs.ErrNotAFile, "ReadFile", id.Path, nil)
	}

	return call(ctx, d, "ReadFile", id.Path, func(ctx context.Context, c *conn) ([]byte, error) {
		resp, err := c.svc.Files.Get(d.fileID(id)).Context(ctx).Download()
		if err != nil {
			return nil, err
		}
		defer resp.Body.Close()

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return nil, fmt.Errorf("gdrive: reading content: %w", err)
		}

		return data, nil
	})
}

// WriteFile replaces the content of an existing file. Small writes use a
// single media request; larger ones a resumable session sent in
// 256 KiB-aligned chunks, each retried on its own if the token expires.
func (d *Drive) WriteFile(ctx context.Context, id vfs.ObjectID, content []byte) error {
	fileID := d.fileID(id)

	if len(content) <= SimpleUploadMaxSize {
		_, err := call(ctx, d, "WriteFile", id.Path, func(ctx context.Context, c *conn) (*drive.File, error) {
			return c.svc.Files.Update(fileID, &drive.File{}).
				Media(bytes.NewReader(content), googleapi.ChunkSize(0)).
				Fields("id").
				Context(ctx).Do()
		})

		return err
	}

	sessionURL, err := call(ctx, d, "CreateUploadSession", id.Path, func(ctx context.Context, c *conn) (string, error) {
		return d.startResumable(ctx, c, fileID, len(content))
	})
	if err != nil {
		return err
	}

	d.logger.Info("uploading through resumable session",
		slog.String("file_id", fileID),
		slog.Int("size", len(content)),
	)

	err = d.uploader.Upload(ctx, content, func(ctx context.Context, r chunked.Range, body []byte) error {
		_, err := call(ctx, d, "UploadChunk", id.Path, func(ctx context.Context, c *conn) (struct{}, error) {
			return struct{}{}, sendChunk(ctx, c.http, sessionURL, r, body)
		})

		return err
	})
	if err != nil {
		return vfs.Wrap(vfs.ErrTransport, "WriteFile", id.Path, err)
	}

	return nil
}

// uploadURL derives the media upload URL from the API endpoint the same
// way the generated client does.
func (d *Drive) uploadURL(fileID string) string {
	base := "https://www.googleapis.com"
	if d.endpoint != "" {
		base = d.endpoint
		if i := strings.Index(base, "://"); i >= 0 {
			if j := strings.IndexByte(base[i+3:], '/'); j >= 0 {
				base = base[:i+3+j]
			}
		}
	}

	return strings.TrimSuffix(base, "/") + "/upload/drive/v3/files/" + fileID + "?uploadType=resumable"
}

// startResumable opens a resumable update session and returns its URL.
func (d *Drive) startResumable(ctx context.Context, c *conn, fileID string, size int) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPatch, d.uploadURL(fileID), strings.NewReader("{}"))
	if err != nil {
		return "", fmt.Errorf("gdrive: creating session request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Upload-Content-Length", fmt.Sprint(size))

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("gdrive: starting resumable upload: %w", err)
	}
	defer googleapi.CloseBody(resp)

	if err := googleapi.CheckResponse(resp); err != nil {
		return "", err
	}

	loc := resp.Header.Get("Location")
	if loc == "" {
		return "", errors.New("gdrive: resumable session response has no Location")
	}

	return loc, nil
}

// sendChunk PUTs one range to a resumable session. 308 acknowledges an
// intermediate chunk; 200/201 completes the upload.
func sendChunk(ctx context.Context, hc *http.Client, sessionURL string, r chunked.Range, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPut, sessionURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("gdrive: creating chunk request: %w", err)
	}

	req.ContentLength = int64(len(body))
	req.Header.Set("Content-Range", r.ContentRange())

	resp, err := hc.Do(req)
	if err != nil {
		return fmt.Errorf("gdrive: sending chunk: %w", err)
	}
	defer googleapi.CloseBody(resp)

	if resp.StatusCode == statusResumeIncomplete {
		if r.Last() {
			return errors.New("gdrive: final chunk not accepted as complete")
		}

		return nil
	}

	return googleapi.CheckResponse(resp)
}

// Delete removes the file permanently, bypassing the trash.
func (d *Drive) Delete(ctx context.Context, id vfs.ObjectID) error {
	_, err := call(ctx, d, "Delete", id.Path, func(ctx context.Context, c *conn) (struct{}, error) {
		return struct{}{}, c.svc.Files.Delete(d.fileID(id)).Context(ctx).Do()
	})

	return err
}

// SendToTrash implements vfs.Trash.
func (d *Drive) SendToTrash(ctx context.Context, id vfs.ObjectID) error {
	_, err := call(ctx, d, "SendToTrash", id.Path, func(ctx context.Context, c *conn) (*drive.File, error) {
		return c.svc.Files.Update(d.fileID(id), &drive.File{Trashed: true}).Fields("id").Context(ctx).Do()
	})

	return err
}

// MoveTo replaces all parents of the file with newParent. File ids are
// stable across moves.
func (d *Drive) MoveTo(ctx context.Context, id, newParent vfs.ObjectID) (vfs.ObjectID, error) {
	f, err := call(ctx, d, "MoveTo", id.Path, func(ctx context.Context, c *conn) (*drive.File, error) {
		cur, err := c.svc.Files.Get(d.fileID(id)).Fields("id, parents").Context(ctx).Do()
		if err != nil {
			return nil, err
		}

		return c.svc.Files.Update(cur.Id, &drive.File{}).
			AddParents(d.fileID(newParent)).
			RemoveParents(strings.Join(cur.Parents, ",")).
			Fields("id").
			Context(ctx).Do()
	})
	if err != nil {
		return vfs.ObjectID{}, err
	}

	return vfs.NewObjectID(f.Id, id.Type), nil
}

// Rename changes the file name in place.
func (d *Drive) Rename(ctx context.Context, id vfs.ObjectID, newName string) (vfs.ObjectID, error) {
	f, err := call(ctx, d, "Rename", id.Path, func(ctx context.Context, c *conn) (*drive.File, error) {
		return c.svc.Files.Update(d.fileID(id), &drive.File{Name: newName}).Fields("id").Context(ctx).Do()
	})
	if err != nil {
		return vfs.ObjectID{}, err
	}

	return vfs.NewObjectID(f.Id, id.Type), nil
}

// ReadDirectory lists the untrashed children of a folder.
func (d *Drive) ReadDirectory(ctx context.Context, id vfs.ObjectID) ([]vfs.File, error) {
	folderID := d.fileID(id)

	children, err := call(ctx, d, "ReadDirectory", id.Path, func(ctx context.Context, c *conn) ([]*drive.File, error) {
		if !id.IsDirectory() {
			f, err := c.svc.Files.Get(folderID).Fields("id, mimeType").Context(ctx).Do()
			if err != nil {
				return nil, err
			}

			if f.MimeType != MimeTypeFolder {
				return nil, vfs.Wrap(vfs.ErrNotADirectory, "ReadDirectory", id.Path, nil)
			}
		}

		var out []*drive.File

		err := c.svc.Files.List().
			Q(fmt.Sprintf("'%s' in parents and trashed = false", escapeQuery(folderID))).
			PageSize(pageSize).
			Fields(googleapi.Field("nextPageToken, files(" + fileFields + ")")).
			Context(ctx).
			Pages(ctx, func(page *drive.FileList) error {
				out = append(out, page.Files...)
				return nil
			})

		return out, err
	})
	if err != nil {
		return nil, err
	}

	files := make([]vfs.File, 0, len(children))
	for _, f := range children {
		files = append(files, toFile(f))
	}

	return files, nil
}

// Create makes an empty file or a folder under parent. Drive allows
// duplicate names, so an existing untrashed sibling with the same name is
// reported as a conflict before creating.
func (d *Drive) Create(ctx context.Context, parent vfs.ObjectID, file vfs.File) error {
	parentID := d.fileID(parent)

	_, err := call(ctx, d, "Create", parent.Path, func(ctx context.Context, c *conn) (*drive.File, error) {
		existing, err := c.svc.Files.List().
			Q(fmt.Sprintf("name = '%s' and '%s' in parents and trashed = false",
				escapeQuery(file.Name), escapeQuery(parentID))).
			PageSize(1).
			Fields("files(id)").
			Context(ctx).Do()
		if err != nil {
			return nil, err
		}

		if len(existing.Files) > 0 {
			return nil, vfs.Wrap(vfs.ErrConflict, "Create", parent.Path+"/"+file.Name, nil)
		}

		meta := &drive.File{Name: file.Name, Parents: []string{parentID}}
		if file.Metadata.IsDirectoryRequest() {
			meta.MimeType = MimeTypeFolder
		} else if file.Metadata != nil && file.Metadata.MimeType != nil {
			meta.MimeType = *file.Metadata.MimeType
		}

		return c.svc.Files.Create(meta).Fields("id").Context(ctx).Do()
	})

	return err
}

// GetMetadata fetches one file.
func (d *Drive) GetMetadata(ctx context.Context, id vfs.ObjectID) (vfs.Metadata, error) {
	f, err := call(ctx, d, "GetMetadata", id.Path, func(ctx context.Context, c *conn) (*drive.File, error) {
		return c.svc.Files.Get(d.fileID(id)).Fields(googleapi.Field(fileFields)).Context(ctx).Do()
	})
	if err != nil {
		return vfs.Metadata{}, err
	}

	return fileMetadata(f), nil
}

// ReadLink is unsupported: Drive shortcuts are not exposed as links.
func (d *Drive) ReadLink(_ context.Context, id vfs.ObjectID) (vfs.ObjectID, error) {
	return vfs.ObjectID{}, vfs.Wrap(vfs.ErrUnsupported, "ReadLink", id.Path, nil)
}

// CreateLink is unsupported.
func (d *Drive) CreateLink(_ context.Context, parent vfs.ObjectID, name string, _ vfs.ObjectID) (vfs.ObjectID, error) {
	return vfs.ObjectID{}, vfs.Wrap(vfs.ErrUnsupported, "CreateLink", parent.Path+"/"+name, nil)
}

// escapeQuery escapes a value for a single-quoted Drive query string.
func escapeQuery(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, `'`, `\'`)
}

func toFile(f *drive.File) vfs.File {
	t := vfs.RegularFile
	if f.MimeType == MimeTypeFolder {
		t = vfs.Directory
	}

	md := fileMetadata(f)

	return vfs.File{ID: vfs.NewObjectID(f.Id, t), Name: f.Name, Metadata: &md}
}

func fileMetadata(f *drive.File) vfs.Metadata {
	var md vfs.Metadata

	if f.MimeType == MimeTypeFolder {
		md.MimeType = vfs.Ptr(vfs.MimeTypeDirectory)
	} else {
		if f.MimeType != "" {
			md.MimeType = vfs.Ptr(f.MimeType)
		}

		md.Size = vfs.Ptr(uint64(max(f.Size, 0)))
	}

	md.CreatedAt = parseTime(f.CreatedTime)
	md.ModifiedAt = parseTime(f.ModifiedTime)
	md.AccessedAt = parseTime(f.ViewedByMeTime)

	if f.WebViewLink != "" {
		md.OpenPath = vfs.Ptr(f.WebViewLink)
	}

	if len(f.Owners) > 0 && f.Owners[0] != nil {
		owner := f.Owners[0]
		md.Owner = &vfs.User{ID: vfs.UniqueID(owner.PermissionId)}

		if owner.DisplayName != "" {
			md.Owner.Name = vfs.Ptr(owner.DisplayName)
		}
	}

	return md
}

func parseTime(raw string) *time.Time {
	if raw == "" {
		return nil
	}

	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return nil
	}

	return &t
}

// Reasons on a 403 that mean the credentials themselves were rejected.
var authReasons = map[string]bool{
	"authError":          true,
	"invalidCredentials": true,
}

// mapErr translates googleapi errors into the vfs taxonomy.
func mapErr(op, id string, err error) error {
	if err == nil {
		return nil
	}

	if vfs.KindOf(err) != nil {
		return err
	}

	kind := vfs.ErrTransport

	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.Code == http.StatusUnauthorized:
			kind = vfs.ErrAuthExpired
		case apiErr.Code == http.StatusForbidden && hasReason(apiErr, authReasons):
			kind = vfs.ErrAuthExpired
		case apiErr.Code == http.StatusForbidden && hasReason(apiErr, map[string]bool{"fileNotDownloadable": true}):
			kind = vfs.ErrNotAFile
		case apiErr.Code == http.StatusNotFound:
			kind = vfs.ErrNotFound
		case apiErr.Code == http.StatusConflict, apiErr.Code == http.StatusPreconditionFailed:
			kind = vfs.ErrConflict
		}
	}

	return vfs.Wrap(kind, op, id, fmt.Errorf("gdrive: %w", err))
}

func hasReason(apiErr *googleapi.Error, reasons map[string]bool) bool {
	for _, item := range apiErr.Errors {
		if reasons[item.Reason] {
			return true
		}
	}

	return false
}
