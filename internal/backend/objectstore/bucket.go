// Package objectstore adapts an S3-compatible bucket to the vfs provider
// contract. Keys are object ids; directories are key prefixes ending in
// "/", optionally materialized by a zero-byte marker object.
package objectstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"golang.org/x/text/unicode/norm"

	"github.com/orbitalfiles/orbital/internal/chunked"
	"github.com/orbitalfiles/orbital/internal/metrics"
	"github.com/orbitalfiles/orbital/internal/providerid"
	"github.com/orbitalfiles/orbital/internal/statefile"
	"github.com/orbitalfiles/orbital/internal/vfs"
)

const (
	// PartAlignment is the granularity multipart part sizes are rounded to.
	PartAlignment = 1024 * 1024

	// MinPartSize is the smallest non-final part S3 accepts.
	MinPartSize = 5 * PartAlignment

	// DefaultPartSize is used when none is configured.
	DefaultPartSize = 8 * PartAlignment

	defaultPageSize = 1000
	backendName     = "s3"
	delimiter       = "/"
)

// ErrMissingBucket is returned by New when the config names no bucket.
var ErrMissingBucket = errors.New("objectstore: bucket is required")

// Config is the persisted configuration of an S3 provider.
type Config struct {
	Bucket    string `json:"bucket"`
	Region    string `json:"region,omitempty"`
	Endpoint  string `json:"endpoint,omitempty"`
	AccessKey string `json:"access_key,omitempty"`
	SecretKey string `json:"secret_key,omitempty"`
	PathStyle bool   `json:"path_style,omitempty"`
}

// objectAPI is the subset of *s3.Client the bucket uses.
type objectAPI interface {
	s3.ListObjectsV2APIClient
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, in *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	HeadObject(ctx context.Context, in *s3.HeadObjectInput, optFns ...func(*s3.Options)) (*s3.HeadObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, optFns ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
	CopyObject(ctx context.Context, in *s3.CopyObjectInput, optFns ...func(*s3.Options)) (*s3.CopyObjectOutput, error)
	CreateMultipartUpload(ctx context.Context, in *s3.CreateMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error)
	UploadPart(ctx context.Context, in *s3.UploadPartInput, optFns ...func(*s3.Options)) (*s3.UploadPartOutput, error)
	CompleteMultipartUpload(ctx context.Context, in *s3.CompleteMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error)
	AbortMultipartUpload(ctx context.Context, in *s3.AbortMultipartUploadInput, optFns ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error)
}

// Options wires a Bucket.
type Options struct {
	Config   Config
	PartSize int64
	Logger   *slog.Logger
}

// Bucket implements vfs.FileSystem over one S3 bucket. It has no trash.
type Bucket struct {
	cfg      Config
	api      objectAPI
	pageSize int32
	uploader chunked.Uploader
	logger   *slog.Logger
}

// New loads AWS configuration and builds a Bucket. Static credentials in
// the config take precedence over the default credential chain.
func New(ctx context.Context, opts Options) (*Bucket, error) {
	if opts.Config.Bucket == "" {
		return nil, ErrMissingBucket
	}

	var loadOpts []func(*config.LoadOptions) error
	if opts.Config.Region != "" {
		loadOpts = append(loadOpts, config.WithRegion(opts.Config.Region))
	}

	if opts.Config.AccessKey != "" {
		loadOpts = append(loadOpts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.Config.AccessKey, opts.Config.SecretKey, ""),
		))
	}

	awsCfg, err := config.LoadDefaultConfig(ctx, loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("objectstore: loading aws config: %w", err)
	}

	client := s3.NewFromConfig(awsCfg, func(o *s3.Options) {
		if opts.Config.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Config.Endpoint)
		}

		o.UsePathStyle = opts.Config.PathStyle
	})

	return newBucket(opts, client), nil
}

func newBucket(opts Options, api objectAPI) *Bucket {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	partSize := opts.PartSize
	if partSize <= 0 {
		partSize = DefaultPartSize
	}

	partSize = max(chunked.AlignDown(partSize, PartAlignment), MinPartSize)

	return &Bucket{
		cfg:      opts.Config,
		api:      api,
		pageSize: defaultPageSize,
		uploader: chunked.Uploader{
			ChunkSize: partSize,
			Alignment: PartAlignment,
			Logger:    logger,
		},
		logger: logger,
	}
}

// FileSystem implements vfs.Provider.
func (b *Bucket) FileSystem() vfs.FileSystem {
	return b
}

// Trash implements vfs.Provider. Buckets have no recoverable delete.
func (b *Bucket) Trash() vfs.Trash {
	return nil
}

// State implements statefile.Stater.
func (b *Bucket) State() (statefile.State, error) {
	return statefile.New(providerid.TypeS3, b.cfg, nil)
}

func (b *Bucket) observe(op, key string, start time.Time, err error) {
	metrics.RecordOperation(backendName, op, err == nil, time.Since(start))

	if err != nil {
		b.logger.Debug("object store operation failed",
			slog.String("op", op),
			slog.String("key", key),
			slog.String("error", err.Error()),
		)
	}
}

// objectKey strips the leading slash callers may use for absolute paths.
func objectKey(id vfs.ObjectID) string {
	return strings.Trim(id.Path, delimiter)
}

// dirPrefix is the listing prefix for a directory key. The root is "".
func dirPrefix(key string) string {
	if key == "" {
		return ""
	}

	return key + delimiter
}

func joinKey(parent, name string) string {
	if parent == "" {
		return name
	}

	return parent + delimiter + name
}

func (b *Bucket) openPath(key string) *string {
	return vfs.Ptr("s3://" + b.cfg.Bucket + "/" + key)
}

// ReadFile downloads the object.
func (b *Bucket) ReadFile(ctx context.Context, id vfs.ObjectID) (data []byte, err error) {
	key := objectKey(id)
	start := time.Now()

	defer func() { b.observe("ReadFile", key, start, err) }()

	if id.IsDirectory() {
		return nil, vfs.Wrap(vfs.ErrNotAFile, "ReadFile", key, nil)
	}

	out, err := b.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, mapErr("ReadFile", key, err)
	}
	defer out.Body.Close()

	data, err = io.ReadAll(out.Body)
	if err != nil {
		return nil, vfs.Wrap(vfs.ErrTransport, "ReadFile", key, err)
	}

	return data, nil
}

// WriteFile stores the object. Content larger than one part goes through
// a multipart upload, aborted if any part fails.
func (b *Bucket) WriteFile(ctx context.Context, id vfs.ObjectID, content []byte) (err error) {
	key := objectKey(id)
	start := time.Now()

	defer func() { b.observe("WriteFile", key, start, err) }()

	if id.IsDirectory() || key == "" {
		return vfs.Wrap(vfs.ErrNotAFile, "WriteFile", key, nil)
	}

	if int64(len(content)) <= b.uploader.ChunkSize {
		return b.put(ctx, "WriteFile", key, content)
	}

	return b.putMultipart(ctx, key, content)
}

func (b *Bucket) put(ctx context.Context, op, key string, content []byte) error {
	in := &s3.PutObjectInput{
		Bucket:        aws.String(b.cfg.Bucket),
		Key:           aws.String(key),
		Body:          bytes.NewReader(content),
		ContentLength: aws.Int64(int64(len(content))),
	}

	if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		in.ContentType = aws.String(ct)
	}

	if _, err := b.api.PutObject(ctx, in); err != nil {
		return mapErr(op, key, err)
	}

	return nil
}

func (b *Bucket) putMultipart(ctx context.Context, key string, content []byte) error {
	created, err := b.api.CreateMultipartUpload(ctx, &s3.CreateMultipartUploadInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return mapErr("WriteFile", key, err)
	}

	b.logger.Info("uploading through multipart upload",
		slog.String("key", key),
		slog.Int("size", len(content)),
	)

	var parts []types.CompletedPart

	err = b.uploader.Upload(ctx, content, func(ctx context.Context, r chunked.Range, body []byte) error {
		num := aws.Int32(int32(r.Index + 1))

		out, err := b.api.UploadPart(ctx, &s3.UploadPartInput{
			Bucket:        aws.String(b.cfg.Bucket),
			Key:           aws.String(key),
			UploadId:      created.UploadId,
			PartNumber:    num,
			Body:          bytes.NewReader(body),
			ContentLength: aws.Int64(int64(len(body))),
		})
		if err != nil {
			return mapErr("UploadPart", key, err)
		}

		parts = append(parts, types.CompletedPart{ETag: out.ETag, PartNumber: num})

		return nil
	})
	if err == nil {
		_, err = b.api.CompleteMultipartUpload(ctx, &s3.CompleteMultipartUploadInput{
			Bucket:          aws.String(b.cfg.Bucket),
			Key:             aws.String(key),
			UploadId:        created.UploadId,
			MultipartUpload: &types.CompletedMultipartUpload{Parts: parts},
		})
		if err == nil {
			return nil
		}
	}

	_, abortErr := b.api.AbortMultipartUpload(context.WithoutCancel(ctx), &s3.AbortMultipartUploadInput{
		Bucket:   aws.String(b.cfg.Bucket),
		Key:      aws.String(key),
		UploadId: created.UploadId,
	})
	if abortErr != nil {
		b.logger.Warn("aborting multipart upload failed",
			slog.String("key", key),
			slog.String("error", abortErr.Error()),
		)
	}

	return mapErr("WriteFile", key, err)
}

// Delete removes a file, or an empty directory and its marker.
func (b *Bucket) Delete(ctx context.Context, id vfs.ObjectID) (err error) {
	key := objectKey(id)
	start := time.Now()

	defer func() { b.observe("Delete", key, start, err) }()

	if key == "" {
		return vfs.Wrap(vfs.ErrUnsupported, "Delete", key, errors.New("cannot delete the bucket root"))
	}

	if !id.IsDirectory() {
		if _, err := b.head(ctx, key); err != nil {
			return mapErr("Delete", key, err)
		}

		return b.deleteKey(ctx, "Delete", key)
	}

	keys, err := b.listKeys(ctx, dirPrefix(key), 2)
	if err != nil {
		return mapErr("Delete", key, err)
	}

	switch {
	case len(keys) == 0:
		return vfs.Wrap(vfs.ErrNotFound, "Delete", key, nil)
	case len(keys) > 1 || keys[0] != dirPrefix(key):
		return vfs.Wrap(vfs.ErrConflict, "Delete", key, errors.New("directory not empty"))
	}

	return b.deleteKey(ctx, "Delete", dirPrefix(key))
}

func (b *Bucket) deleteKey(ctx context.Context, op, key string) error {
	_, err := b.api.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})

	return mapErr(op, key, err)
}

func (b *Bucket) head(ctx context.Context, key string) (*s3.HeadObjectOutput, error) {
	return b.api.HeadObject(ctx, &s3.HeadObjectInput{
		Bucket: aws.String(b.cfg.Bucket),
		Key:    aws.String(key),
	})
}

// listKeys returns up to limit keys under prefix without a delimiter.
// A limit of 0 lists everything.
func (b *Bucket) listKeys(ctx context.Context, prefix string, limit int) ([]string, error) {
	in := &s3.ListObjectsV2Input{
		Bucket:  aws.String(b.cfg.Bucket),
		Prefix:  aws.String(prefix),
		MaxKeys: aws.Int32(b.pageSize),
	}

	var keys []string

	pages := s3.NewListObjectsV2Paginator(b.api, in)
	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, err
		}

		for _, obj := range page.Contents {
			keys = append(keys, aws.ToString(obj.Key))

			if limit > 0 && len(keys) >= limit {
				return keys, nil
			}
		}
	}

	return keys, nil
}

// exists reports whether key names a file or a non-empty directory.
func (b *Bucket) exists(ctx context.Context, key string) (bool, error) {
	if _, err := b.head(ctx, key); err == nil {
		return true, nil
	} else if !errors.Is(mapErr("", key, err), vfs.ErrNotFound) {
		return false, err
	}

	keys, err := b.listKeys(ctx, dirPrefix(key), 1)
	if err != nil {
		return false, err
	}

	return len(keys) > 0, nil
}

// MoveTo relocates id under newParent by copy-then-delete.
func (b *Bucket) MoveTo(ctx context.Context, id, newParent vfs.ObjectID) (vfs.ObjectID, error) {
	key := objectKey(id)

	return b.move(ctx, "MoveTo", id, joinKey(objectKey(newParent), path.Base(key)))
}

// Rename changes the last key segment by copy-then-delete.
func (b *Bucket) Rename(ctx context.Context, id vfs.ObjectID, newName string) (vfs.ObjectID, error) {
	key := objectKey(id)

	parent := path.Dir(key)
	if parent == "." {
		parent = ""
	}

	return b.move(ctx, "Rename", id, joinKey(parent, norm.NFC.String(newName)))
}

// move copies every key of id to dest, then deletes the sources. A failed
// copy removes what was already copied and leaves the source alone. A
// failed delete leaves both and reports a conflict.
func (b *Bucket) move(ctx context.Context, op string, id vfs.ObjectID, dest string) (_ vfs.ObjectID, err error) {
	src := objectKey(id)
	start := time.Now()

	defer func() { b.observe(op, src, start, err) }()

	if src == "" {
		return vfs.ObjectID{}, vfs.Wrap(vfs.ErrUnsupported, op, src, errors.New("cannot move the bucket root"))
	}

	pairs, err := b.movePairs(ctx, id, src, dest)
	if err != nil {
		return vfs.ObjectID{}, mapErr(op, src, err)
	}

	if len(pairs) == 0 {
		return vfs.ObjectID{}, vfs.Wrap(vfs.ErrNotFound, op, src, nil)
	}

	if src == dest {
		return id, nil
	}

	taken, err := b.exists(ctx, dest)
	if err != nil {
		return vfs.ObjectID{}, mapErr(op, dest, err)
	}

	if taken {
		return vfs.ObjectID{}, vfs.Wrap(vfs.ErrConflict, op, dest, errors.New("destination exists"))
	}

	for i, p := range pairs {
		if _, err := b.api.CopyObject(ctx, &s3.CopyObjectInput{
			Bucket:     aws.String(b.cfg.Bucket),
			Key:        aws.String(p[1]),
			CopySource: aws.String(b.copySource(p[0])),
		}); err != nil {
			b.rollback(ctx, pairs[:i])
			return vfs.ObjectID{}, mapErr(op, p[0], err)
		}
	}

	for _, p := range pairs {
		if err := b.deleteKey(ctx, op, p[0]); err != nil {
			return vfs.ObjectID{}, vfs.Reclassify(vfs.ErrConflict, op, p[0],
				fmt.Errorf("objectstore: copied to %q but source remains: %w", dest, err))
		}
	}

	return vfs.NewObjectID(dest, id.Type), nil
}

// movePairs lists source and destination keys for a move.
func (b *Bucket) movePairs(ctx context.Context, id vfs.ObjectID, src, dest string) ([][2]string, error) {
	if !id.IsDirectory() {
		if _, err := b.head(ctx, src); err != nil {
			return nil, err
		}

		return [][2]string{{src, dest}}, nil
	}

	keys, err := b.listKeys(ctx, dirPrefix(src), 0)
	if err != nil {
		return nil, err
	}

	pairs := make([][2]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, [2]string{k, dirPrefix(dest) + strings.TrimPrefix(k, dirPrefix(src))})
	}

	return pairs, nil
}

func (b *Bucket) rollback(ctx context.Context, copied [][2]string) {
	for _, p := range copied {
		if err := b.deleteKey(context.WithoutCancel(ctx), "MoveRollback", p[1]); err != nil {
			b.logger.Warn("removing partially moved key failed",
				slog.String("key", p[1]),
				slog.String("error", err.Error()),
			)
		}
	}
}

func (b *Bucket) copySource(key string) string {
	segments := strings.Split(key, delimiter)
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}

	return b.cfg.Bucket + "/" + strings.Join(segments, delimiter)
}

// ReadDirectory lists one level under a prefix.
func (b *Bucket) ReadDirectory(ctx context.Context, id vfs.ObjectID) (files []vfs.File, err error) {
	key := objectKey(id)
	start := time.Now()

	defer func() { b.observe("ReadDirectory", key, start, err) }()

	if !id.IsDirectory() && key != "" {
		if _, err := b.head(ctx, key); err == nil {
			return nil, vfs.Wrap(vfs.ErrNotADirectory, "ReadDirectory", key, nil)
		}
	}

	prefix := dirPrefix(key)

	var (
		objects  []types.Object
		prefixes []string
	)

	pages := s3.NewListObjectsV2Paginator(b.api, &s3.ListObjectsV2Input{
		Bucket:    aws.String(b.cfg.Bucket),
		Prefix:    aws.String(prefix),
		Delimiter: aws.String(delimiter),
		MaxKeys:   aws.Int32(b.pageSize),
	})

	for pages.HasMorePages() {
		page, err := pages.NextPage(ctx)
		if err != nil {
			return nil, mapErr("ReadDirectory", key, err)
		}

		objects = append(objects, page.Contents...)

		for _, cp := range page.CommonPrefixes {
			prefixes = append(prefixes, aws.ToString(cp.Prefix))
		}
	}

	if key != "" && len(objects) == 0 && len(prefixes) == 0 {
		return nil, vfs.Wrap(vfs.ErrNotFound, "ReadDirectory", key, nil)
	}

	files = groupListing(prefix, objects, prefixes)
	for i := range files {
		if !files[i].ID.IsDirectory() {
			files[i].Metadata.OpenPath = b.openPath(files[i].ID.Path)
		}
	}

	return files, nil
}

// Create writes a zero-byte object, or a "name/" marker for a directory.
func (b *Bucket) Create(ctx context.Context, parent vfs.ObjectID, file vfs.File) (err error) {
	key := joinKey(objectKey(parent), norm.NFC.String(file.Name))
	start := time.Now()

	defer func() { b.observe("Create", key, start, err) }()

	if file.Name == "" || strings.Contains(file.Name, delimiter) {
		return vfs.Wrap(vfs.ErrUnsupported, "Create", key, fmt.Errorf("invalid name %q", file.Name))
	}

	taken, err := b.exists(ctx, key)
	if err != nil {
		return mapErr("Create", key, err)
	}

	if taken {
		return vfs.Wrap(vfs.ErrConflict, "Create", key, nil)
	}

	if file.Metadata.IsDirectoryRequest() {
		return b.put(ctx, "Create", dirPrefix(key), nil)
	}

	return b.put(ctx, "Create", key, nil)
}

// GetMetadata heads a file, or lists one key under a directory prefix.
func (b *Bucket) GetMetadata(ctx context.Context, id vfs.ObjectID) (md vfs.Metadata, err error) {
	key := objectKey(id)
	start := time.Now()

	defer func() { b.observe("GetMetadata", key, start, err) }()

	if id.IsDirectory() || key == "" {
		if key != "" {
			keys, err := b.listKeys(ctx, dirPrefix(key), 1)
			if err != nil {
				return vfs.Metadata{}, mapErr("GetMetadata", key, err)
			}

			if len(keys) == 0 {
				return vfs.Metadata{}, vfs.Wrap(vfs.ErrNotFound, "GetMetadata", key, nil)
			}
		}

		return vfs.Metadata{
			MimeType: vfs.Ptr(vfs.MimeTypeDirectory),
			OpenPath: b.openPath(dirPrefix(key)),
		}, nil
	}

	out, err := b.head(ctx, key)
	if err != nil {
		return vfs.Metadata{}, mapErr("GetMetadata", key, err)
	}

	md = vfs.Metadata{
		OpenPath:   b.openPath(key),
		ModifiedAt: out.LastModified,
	}

	if out.ContentLength != nil {
		md.Size = vfs.Ptr(uint64(max(*out.ContentLength, 0)))
	}

	if out.ContentType != nil {
		md.MimeType = out.ContentType
	} else if ct := mime.TypeByExtension(path.Ext(key)); ct != "" {
		md.MimeType = vfs.Ptr(ct)
	}

	return md, nil
}

// ReadLink is unsupported: buckets have no links.
func (b *Bucket) ReadLink(_ context.Context, id vfs.ObjectID) (vfs.ObjectID, error) {
	return vfs.ObjectID{}, vfs.Wrap(vfs.ErrUnsupported, "ReadLink", id.Path, nil)
}

// CreateLink is unsupported.
func (b *Bucket) CreateLink(_ context.Context, parent vfs.ObjectID, name string, _ vfs.ObjectID) (vfs.ObjectID, error) {
	return vfs.ObjectID{}, vfs.Wrap(vfs.ErrUnsupported, "CreateLink", joinKey(objectKey(parent), name), nil)
}

// mapErr translates smithy API errors into the vfs taxonomy.
func mapErr(op, key string, err error) error {
	if err == nil {
		return nil
	}

	if vfs.KindOf(err) != nil {
		return err
	}

	kind := vfs.ErrTransport

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "NoSuchKey", "NotFound", "NoSuchBucket", "NoSuchUpload":
			kind = vfs.ErrNotFound
		case "PreconditionFailed", "ConditionalRequestConflict":
			kind = vfs.ErrConflict
		case "AccessDenied", "InvalidAccessKeyId", "SignatureDoesNotMatch", "ExpiredToken":
			kind = vfs.ErrAuthRequired
		}
	}

	return vfs.Wrap(kind, op, key, fmt.Errorf("objectstore: %w", err))
}
