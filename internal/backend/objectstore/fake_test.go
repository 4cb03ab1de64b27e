package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
)

type fakeObject struct {
	data        []byte
	contentType *string
	modified    time.Time
}

// fakeS3 is an in-memory bucket implementing objectAPI.
type fakeS3 struct {
	mu      sync.Mutex
	bucket  string
	objects map[string]fakeObject
	uploads map[string]map[int32][]byte
	aborted []string
	nextID  int

	failCopy   map[string]bool
	failDelete map[string]bool
	failPart   int32
}

func newFakeS3(bucket string) *fakeS3 {
	return &fakeS3{
		bucket:     bucket,
		objects:    make(map[string]fakeObject),
		uploads:    make(map[string]map[int32][]byte),
		failCopy:   make(map[string]bool),
		failDelete: make(map[string]bool),
	}
}

func apiError(code string) error {
	return &smithy.GenericAPIError{Code: code, Message: code}
}

func (f *fakeS3) seed(keys ...string) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, k := range keys {
		f.objects[k] = fakeObject{data: []byte("content of " + k), modified: time.Unix(1700000000, 0).UTC()}
	}
}

func (f *fakeS3) keys() []string {
	f.mu.Lock()
	defer f.mu.Unlock()

	out := make([]string, 0, len(f.objects))
	for k := range f.objects {
		out = append(out, k)
	}

	sort.Strings(out)

	return out
}

func (f *fakeS3) ListObjectsV2(_ context.Context, in *s3.ListObjectsV2Input, _ ...func(*s3.Options)) (*s3.ListObjectsV2Output, error) {
	prefix := aws.ToString(in.Prefix)
	delim := aws.ToString(in.Delimiter)

	type entry struct {
		name     string
		isPrefix bool
	}

	var entries []entry

	seen := make(map[string]bool)

	for _, k := range f.keys() {
		rel, ok := strings.CutPrefix(k, prefix)
		if !ok {
			continue
		}

		if delim != "" {
			if i := strings.Index(rel, delim); i >= 0 {
				cp := prefix + rel[:i+1]
				if !seen[cp] {
					seen[cp] = true
					entries = append(entries, entry{name: cp, isPrefix: true})
				}

				continue
			}
		}

		entries = append(entries, entry{name: k})
	}

	after := aws.ToString(in.ContinuationToken)
	limit := int(aws.ToInt32(in.MaxKeys))

	if limit <= 0 {
		limit = 1000
	}

	out := &s3.ListObjectsV2Output{IsTruncated: aws.Bool(false)}
	count := 0

	f.mu.Lock()
	defer f.mu.Unlock()

	for _, e := range entries {
		if after != "" && e.name <= after {
			continue
		}

		if count == limit {
			out.IsTruncated = aws.Bool(true)
			break
		}

		if e.isPrefix {
			out.CommonPrefixes = append(out.CommonPrefixes, types.CommonPrefix{Prefix: aws.String(e.name)})
		} else {
			obj := f.objects[e.name]
			out.Contents = append(out.Contents, types.Object{
				Key:          aws.String(e.name),
				Size:         aws.Int64(int64(len(obj.data))),
				LastModified: aws.Time(obj.modified),
			})
		}

		out.NextContinuationToken = aws.String(e.name)
		count++
	}

	if !aws.ToBool(out.IsTruncated) {
		out.NextContinuationToken = nil
	}

	return out, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, apiError("NoSuchKey")
	}

	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(obj.data))}, nil
}

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.objects[aws.ToString(in.Key)] = fakeObject{data: data, contentType: in.ContentType, modified: time.Now().UTC()}

	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) HeadObject(_ context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	obj, ok := f.objects[aws.ToString(in.Key)]
	if !ok {
		return nil, apiError("NotFound")
	}

	return &s3.HeadObjectOutput{
		ContentLength: aws.Int64(int64(len(obj.data))),
		ContentType:   obj.contentType,
		LastModified:  aws.Time(obj.modified),
	}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	key := aws.ToString(in.Key)
	if f.failDelete[key] {
		return nil, apiError("InternalError")
	}

	delete(f.objects, key)

	return &s3.DeleteObjectOutput{}, nil
}

func (f *fakeS3) CopyObject(_ context.Context, in *s3.CopyObjectInput, _ ...func(*s3.Options)) (*s3.CopyObjectOutput, error) {
	src, ok := strings.CutPrefix(aws.ToString(in.CopySource), f.bucket+"/")
	if !ok {
		return nil, apiError("NoSuchBucket")
	}

	segments := strings.Split(src, "/")
	for i, s := range segments {
		unescaped, err := url.PathUnescape(s)
		if err != nil {
			return nil, err
		}

		segments[i] = unescaped
	}

	src = strings.Join(segments, "/")

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.failCopy[src] {
		return nil, apiError("InternalError")
	}

	obj, ok := f.objects[src]
	if !ok {
		return nil, apiError("NoSuchKey")
	}

	f.objects[aws.ToString(in.Key)] = obj

	return &s3.CopyObjectOutput{}, nil
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, _ *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.nextID++
	id := fmt.Sprintf("upload-%d", f.nextID)
	f.uploads[id] = make(map[int32][]byte)

	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id)}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	num := aws.ToInt32(in.PartNumber)
	if num == f.failPart {
		return nil, apiError("InternalError")
	}

	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	f.uploads[aws.ToString(in.UploadId)][num] = data

	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", num))}, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := aws.ToString(in.UploadId)

	parts, ok := f.uploads[id]
	if !ok {
		return nil, apiError("NoSuchUpload")
	}

	var buf bytes.Buffer
	for _, p := range in.MultipartUpload.Parts {
		buf.Write(parts[aws.ToInt32(p.PartNumber)])
	}

	f.objects[aws.ToString(in.Key)] = fakeObject{data: buf.Bytes(), modified: time.Now().UTC()}
	delete(f.uploads, id)

	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	id := aws.ToString(in.UploadId)
	f.aborted = append(f.aborted, id)
	delete(f.uploads, id)

	return &s3.AbortMultipartUploadOutput{}, nil
}
