package gdrive

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"
	"google.golang.org/api/googleapi"

	"github.com/orbitalfiles/orbital/internal/auth"
	"github.com/orbitalfiles/orbital/internal/providerid"
	"github.com/orbitalfiles/orbital/internal/vfs"
)

// swapRefresher replaces the stored token with next on every refresh.
type swapRefresher struct {
	store *auth.Store
	next  string
	calls atomic.Int32
}

func (r *swapRefresher) Refresh(_ context.Context, _ string) error {
	r.calls.Add(1)
	return r.store.Set(&oauth2.Token{AccessToken: r.next, RefreshToken: "rt"})
}

func newTestDrive(t *testing.T, h http.Handler) (*Drive, *swapRefresher) {
	t.Helper()

	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)

	store := auth.NewStore(&oauth2.Token{AccessToken: "tok-1", RefreshToken: "rt"}, nil)
	ref := &swapRefresher{store: store, next: "tok-2"}

	d, err := New(Options{
		Store:      store,
		Refresher:  ref,
		HTTPClient: srv.Client(),
		Endpoint:   srv.URL + "/",
		ChunkSize:  ChunkAlignment,
	})
	require.NoError(t, err)

	return d, ref
}

func writeAPIError(w http.ResponseWriter, code int, reason string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	fmt.Fprintf(w, `{"error":{"code":%d,"message":"%s","errors":[{"reason":"%s","message":"%s"}]}}`,
		code, reason, reason, reason)
}

func TestNew_RequiresCredentials(t *testing.T) {
	_, err := New(Options{})
	assert.Error(t, err)
}

func TestReadDirectory_MapsFiles(t *testing.T) {
	var query string

	d, _ := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files", r.URL.Path)
		assert.Equal(t, "Bearer tok-1", r.Header.Get("Authorization"))

		query = r.URL.Query().Get("q")

		if r.URL.Query().Get("pageToken") == "" {
			fmt.Fprint(w, `{"nextPageToken":"p2","files":[
				{"id":"d1","name":"Photos","mimeType":"application/vnd.google-apps.folder"}
			]}`)

			return
		}

		fmt.Fprint(w, `{"files":[
			{"id":"f1","name":"a.txt","mimeType":"text/plain","size":"12",
			 "modifiedTime":"2024-05-01T10:00:00.000Z","webViewLink":"https://x/f1",
			 "owners":[{"displayName":"Ada","permissionId":"p-1"}]}
		]}`)
	}))

	files, err := d.ReadDirectory(context.Background(), vfs.Root())
	require.NoError(t, err)
	require.Len(t, files, 2)

	assert.Equal(t, "'root' in parents and trashed = false", query)

	assert.Equal(t, vfs.DirectoryID("d1"), files[0].ID)
	assert.True(t, files[0].Metadata.IsDirectoryRequest())
	assert.Nil(t, files[0].Metadata.Size)

	f := files[1]
	assert.Equal(t, vfs.PlainFile("f1"), f.ID)
	assert.Equal(t, "a.txt", f.Name)
	require.NotNil(t, f.Metadata.Size)
	assert.Equal(t, uint64(12), *f.Metadata.Size)
	assert.Equal(t, "text/plain", *f.Metadata.MimeType)
	assert.Equal(t, "https://x/f1", *f.Metadata.OpenPath)
	require.NotNil(t, f.Metadata.ModifiedAt)
	assert.Nil(t, f.Metadata.CreatedAt)
	require.NotNil(t, f.Metadata.Owner)
	assert.Equal(t, vfs.UniqueID("p-1"), f.Metadata.Owner.ID)
	assert.Equal(t, "Ada", *f.Metadata.Owner.Name)
}

func TestReadDirectory_OnFile(t *testing.T) {
	d, _ := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/f1", r.URL.Path)
		fmt.Fprint(w, `{"id":"f1","mimeType":"text/plain"}`)
	}))

	_, err := d.ReadDirectory(context.Background(), vfs.PlainFile("f1"))
	assert.ErrorIs(t, err, vfs.ErrNotADirectory)
}

func TestCall_RefreshesOnceOnUnauthorized(t *testing.T) {
	var calls atomic.Int32

	d, ref := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		if r.Header.Get("Authorization") != "Bearer tok-2" {
			writeAPIError(w, http.StatusUnauthorized, "authError")
			return
		}

		fmt.Fprint(w, `{"id":"f1","name":"a.txt","mimeType":"text/plain","size":"3"}`)
	}))

	md, err := d.GetMetadata(context.Background(), vfs.PlainFile("f1"))
	require.NoError(t, err)
	assert.Equal(t, uint64(3), *md.Size)
	assert.Equal(t, int32(1), ref.calls.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestCall_PermanentUnauthorized(t *testing.T) {
	var calls atomic.Int32

	d, ref := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		calls.Add(1)
		writeAPIError(w, http.StatusUnauthorized, "authError")
	}))

	_, err := d.GetMetadata(context.Background(), vfs.PlainFile("f1"))
	require.ErrorIs(t, err, vfs.ErrAuthExpired)

	var apiErr *googleapi.Error
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusUnauthorized, apiErr.Code)
	assert.Equal(t, int32(1), ref.calls.Load())
	assert.Equal(t, int32(2), calls.Load())
}

func TestCall_NoCredentials(t *testing.T) {
	store := auth.NewStore(nil, nil)

	d, err := New(Options{Store: store, Refresher: &swapRefresher{store: store}})
	require.NoError(t, err)

	_, err = d.GetMetadata(context.Background(), vfs.PlainFile("f1"))
	assert.ErrorIs(t, err, vfs.ErrAuthRequired)
}

func TestMapErr(t *testing.T) {
	tests := []struct {
		name   string
		code   int
		reason string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, "authError", vfs.ErrAuthExpired},
		{"invalid credentials", http.StatusForbidden, "invalidCredentials", vfs.ErrAuthExpired},
		{"not downloadable", http.StatusForbidden, "fileNotDownloadable", vfs.ErrNotAFile},
		{"forbidden", http.StatusForbidden, "insufficientFilePermissions", vfs.ErrTransport},
		{"not found", http.StatusNotFound, "notFound", vfs.ErrNotFound},
		{"conflict", http.StatusConflict, "conflict", vfs.ErrConflict},
		{"precondition", http.StatusPreconditionFailed, "conditionNotMet", vfs.ErrConflict},
		{"server", http.StatusInternalServerError, "backendError", vfs.ErrTransport},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := mapErr("Op", "id", &googleapi.Error{
				Code:   tt.code,
				Errors: []googleapi.ErrorItem{{Reason: tt.reason}},
			})
			assert.ErrorIs(t, err, tt.want)
		})
	}

	assert.NoError(t, mapErr("Op", "id", nil))

	kinded := vfs.Wrap(vfs.ErrNotADirectory, "Op", "id", nil)
	assert.Same(t, kinded, mapErr("Op", "id", kinded))

	assert.ErrorIs(t, mapErr("Op", "id", io.ErrUnexpectedEOF), vfs.ErrTransport)
}

func TestReadFile(t *testing.T) {
	d, _ := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/files/f1", r.URL.Path)
		assert.Equal(t, "media", r.URL.Query().Get("alt"))
		fmt.Fprint(w, "hello")
	}))

	data, err := d.ReadFile(context.Background(), vfs.PlainFile("f1"))
	require.NoError(t, err)
	assert.Equal(t, "hello", string(data))

	_, err = d.ReadFile(context.Background(), vfs.DirectoryID("d1"))
	assert.ErrorIs(t, err, vfs.ErrNotAFile)
}

func TestReadFile_NativeDocument(t *testing.T) {
	d, _ := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeAPIError(w, http.StatusForbidden, "fileNotDownloadable")
	}))

	_, err := d.ReadFile(context.Background(), vfs.PlainFile("doc"))
	assert.ErrorIs(t, err, vfs.ErrNotAFile)
}

func TestWriteFile_Simple(t *testing.T) {
	var got []byte

	d, _ := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/upload/drive/v3/files/f1", r.URL.Path)

		got, _ = io.ReadAll(r.Body)
		fmt.Fprint(w, `{"id":"f1"}`)
	}))

	require.NoError(t, d.WriteFile(context.Background(), vfs.PlainFile("f1"), []byte("new content")))
	assert.Contains(t, string(got), "new content")
}

func TestWriteFile_Resumable(t *testing.T) {
	content := []byte(strings.Repeat("z", SimpleUploadMaxSize+ChunkAlignment/2))

	var (
		mu     sync.Mutex
		ranges []string
		total  int
	)

	mux := http.NewServeMux()

	var srvURL string

	mux.HandleFunc("/upload/drive/v3/files/f1", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "resumable", r.URL.Query().Get("uploadType"))
		assert.Equal(t, fmt.Sprint(len(content)), r.Header.Get("X-Upload-Content-Length"))
		w.Header().Set("Location", srvURL+"/session/abc")
	})

	mux.HandleFunc("/session/abc", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)

		body, _ := io.ReadAll(r.Body)

		mu.Lock()
		ranges = append(ranges, r.Header.Get("Content-Range"))
		total += len(body)
		done := total == len(content)
		mu.Unlock()

		if done {
			fmt.Fprint(w, `{"id":"f1"}`)
			return
		}

		w.WriteHeader(statusResumeIncomplete)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	srvURL = srv.URL

	store := auth.NewStore(&oauth2.Token{AccessToken: "tok-1", RefreshToken: "rt"}, nil)
	d, err := New(Options{
		Store:     store,
		Refresher: &swapRefresher{store: store, next: "tok-2"},
		Endpoint:  srv.URL + "/",
		ChunkSize: ChunkAlignment,
	})
	require.NoError(t, err)

	require.NoError(t, d.WriteFile(context.Background(), vfs.PlainFile("f1"), content))

	require.NotEmpty(t, ranges)
	assert.Equal(t, len(content), total)
	assert.Equal(t, fmt.Sprintf("bytes 0-%d/%d", ChunkAlignment-1, len(content)), ranges[0])
	assert.True(t, strings.HasSuffix(ranges[len(ranges)-1], fmt.Sprintf("-%d/%d", len(content)-1, len(content))))
}

func TestUploadURL(t *testing.T) {
	d := &Drive{endpoint: "http://127.0.0.1:8080/drive/v3/"}
	assert.Equal(t, "http://127.0.0.1:8080/upload/drive/v3/files/x?uploadType=resumable", d.uploadURL("x"))

	d = &Drive{}
	assert.Equal(t, "https://www.googleapis.com/upload/drive/v3/files/x?uploadType=resumable", d.uploadURL("x"))
}

func TestCreate(t *testing.T) {
	var created map[string]any

	d, _ := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			assert.Equal(t, `name = 'it\'s' and 'd1' in parents and trashed = false`, r.URL.Query().Get("q"))
			fmt.Fprint(w, `{"files":[]}`)
		case http.MethodPost:
			assert.Equal(t, "/files", r.URL.Path)
			require.NoError(t, json.NewDecoder(r.Body).Decode(&created))
			fmt.Fprint(w, `{"id":"new"}`)
		default:
			t.Errorf("unexpected %s %s", r.Method, r.URL.Path)
		}
	}))

	err := d.Create(context.Background(), vfs.DirectoryID("d1"), vfs.File{
		Name:     "it's",
		Metadata: &vfs.Metadata{MimeType: vfs.Ptr(vfs.MimeTypeDirectory)},
	})
	require.NoError(t, err)

	assert.Equal(t, "it's", created["name"])
	assert.Equal(t, MimeTypeFolder, created["mimeType"])
	assert.Equal(t, []any{"d1"}, created["parents"])
}

func TestCreate_Conflict(t *testing.T) {
	d, _ := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		fmt.Fprint(w, `{"files":[{"id":"existing"}]}`)
	}))

	err := d.Create(context.Background(), vfs.Root(), vfs.File{Name: "a.txt"})
	assert.ErrorIs(t, err, vfs.ErrConflict)
}

func TestMoveTo_ReplacesParents(t *testing.T) {
	var query map[string]string

	d, _ := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.Method {
		case http.MethodGet:
			fmt.Fprint(w, `{"id":"f1","parents":["p1","p2"]}`)
		case http.MethodPatch:
			query = map[string]string{
				"add":    r.URL.Query().Get("addParents"),
				"remove": r.URL.Query().Get("removeParents"),
			}
			fmt.Fprint(w, `{"id":"f1"}`)
		}
	}))

	id, err := d.MoveTo(context.Background(), vfs.PlainFile("f1"), vfs.DirectoryID("dest"))
	require.NoError(t, err)
	assert.Equal(t, vfs.PlainFile("f1"), id)
	assert.Equal(t, map[string]string{"add": "dest", "remove": "p1,p2"}, query)
}

func TestRename(t *testing.T) {
	var body map[string]any

	d, _ := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "/files/d1", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		fmt.Fprint(w, `{"id":"d1"}`)
	}))

	id, err := d.Rename(context.Background(), vfs.DirectoryID("d1"), "Renamed")
	require.NoError(t, err)
	assert.Equal(t, vfs.DirectoryID("d1"), id)
	assert.Equal(t, "Renamed", body["name"])
}

func TestDeleteAndTrash(t *testing.T) {
	var seen []string

	d, _ := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = append(seen, r.Method+" "+r.URL.Path)

		if r.Method == http.MethodPatch {
			body, _ := io.ReadAll(r.Body)
			assert.JSONEq(t, `{"trashed":true}`, string(body))
			fmt.Fprint(w, `{"id":"f2"}`)

			return
		}

		w.WriteHeader(http.StatusNoContent)
	}))

	require.NoError(t, d.Delete(context.Background(), vfs.PlainFile("f1")))
	require.NoError(t, d.Trash().SendToTrash(context.Background(), vfs.PlainFile("f2")))

	assert.Equal(t, []string{"DELETE /files/f1", "PATCH /files/f2"}, seen)
}

func TestDelete_NotFound(t *testing.T) {
	d, _ := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeAPIError(w, http.StatusNotFound, "notFound")
	}))

	assert.ErrorIs(t, d.Delete(context.Background(), vfs.PlainFile("gone")), vfs.ErrNotFound)
}

func TestLinksUnsupported(t *testing.T) {
	d, _ := newTestDrive(t, http.NotFoundHandler())

	_, err := d.ReadLink(context.Background(), vfs.PlainFile("x"))
	assert.ErrorIs(t, err, vfs.ErrUnsupported)

	_, err = d.CreateLink(context.Background(), vfs.Root(), "l", vfs.PlainFile("x"))
	assert.ErrorIs(t, err, vfs.ErrUnsupported)
}

func TestStateAndDescribe(t *testing.T) {
	store := auth.NewStore(&oauth2.Token{AccessToken: "a", RefreshToken: "r"}, nil)

	d, err := New(Options{Config: Config{RootID: "folder"}, Store: store, Refresher: &swapRefresher{store: store}})
	require.NoError(t, err)

	st, err := d.State()
	require.NoError(t, err)
	assert.Equal(t, providerid.TypeGDrive, st.Type)
	assert.JSONEq(t, `{"root_id":"folder"}`, string(st.Config))
	assert.Equal(t, "r", st.Token.RefreshToken)

	assert.Equal(t, []string{vfs.CapabilityFileSystem, vfs.CapabilityTrash}, vfs.Describe(d))
	assert.Equal(t, "folder", d.fileID(vfs.Root()))
}

func TestAccount(t *testing.T) {
	d, _ := newTestDrive(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/about", r.URL.Path)
		fmt.Fprint(w, `{"user":{"emailAddress":"ada@example.com"}}`)
	}))

	email, err := d.Account(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "ada@example.com", email)
}

func TestEscapeQuery(t *testing.T) {
	assert.Equal(t, `a\\b\'c`, escapeQuery(`a\b'c`))
}
