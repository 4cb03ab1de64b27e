package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbitalfiles/orbital/internal/config"
	"github.com/orbitalfiles/orbital/internal/vfs"
)

// Global flag reset pattern: newRootCmd() binds flags via StringVar/BoolVar,
// which reset the global flag variables to their zero values. Tests either
// set globals after newRootCmd() returns or let Cobra parse them from args.

// cliEnv points the CLI at a temp data dir and a config path that does not
// exist, so every run starts from defaults.
type cliEnv struct {
	dataDir string
	files   string
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	tmp := t.TempDir()
	t.Setenv(config.EnvConfig, filepath.Join(tmp, "absent.toml"))
	t.Setenv(config.EnvDataDir, "")

	files := filepath.Join(tmp, "files")
	require.NoError(t, os.Mkdir(files, 0o755))

	return &cliEnv{dataDir: filepath.Join(tmp, "providers"), files: files}
}

// run executes one CLI invocation with stdin and returns stdout.
func (e *cliEnv) run(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()

	var out bytes.Buffer

	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(append([]string{"--quiet", "--data-dir", e.dataDir}, args...))

	err := cmd.ExecuteContext(context.Background())

	return out.String(), err
}

func (e *cliEnv) mustRun(t *testing.T, stdin string, args ...string) string {
	t.Helper()

	out, err := e.run(t, stdin, args...)
	require.NoError(t, err, "orbital %s", strings.Join(args, " "))

	return out
}

func TestCLI_LocalLifecycle(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun(t, "", "provider", "add", "local", "--name", "docs", "--root", env.files)
	assert.Equal(t, "docs.local\n", out)
	assert.FileExists(t, filepath.Join(env.dataDir, "docs.local"))

	env.mustRun(t, "hello", "put", "-", "docs.local:a.txt")
	assert.Equal(t, "hello", env.mustRun(t, "", "cat", "docs.local:a.txt"))

	env.mustRun(t, "", "mkdir", "docs.local:", "sub")
	env.mustRun(t, "", "touch", "docs.local:", "empty.txt")

	var entries []entryJSON
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "", "--json", "ls", "docs.local:/")), &entries))
	require.Len(t, entries, 3)
	assert.Equal(t, "sub", entries[0].Name)
	assert.Equal(t, vfs.Directory, entries[0].Type)
	assert.Equal(t, "docs.local:sub/", entries[0].Ref)
	assert.Equal(t, "a.txt", entries[1].Name)
	assert.Equal(t, "empty.txt", entries[2].Name)

	out = env.mustRun(t, "", "mv", "docs.local:a.txt", "docs.local:sub/")
	assert.Equal(t, "docs.local:sub/a.txt\n", out)

	out = env.mustRun(t, "", "rename", "docs.local:sub/a.txt", "b.txt")
	assert.Equal(t, "docs.local:sub/b.txt\n", out)

	var md metadataJSON
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "", "--json", "stat", "docs.local:sub/b.txt")), &md))
	require.NotNil(t, md.Size)
	assert.Equal(t, uint64(5), *md.Size)
	require.NotNil(t, md.OpenPath)
	assert.Equal(t, filepath.Join(env.files, "sub", "b.txt"), *md.OpenPath)

	out = env.mustRun(t, "", "ln", "docs.local:", "link", "sub/b.txt")
	assert.Equal(t, "docs.local:link\n", out)
	assert.Equal(t, "sub/b.txt\n", env.mustRun(t, "", "readlink", "docs.local:link"))
	assert.Equal(t, "hello", env.mustRun(t, "", "cat", "docs.local:link"))

	_, err := env.run(t, "", "rm", "docs.local:sub/")
	require.Error(t, err, "local directories must be empty before deletion")

	env.mustRun(t, "", "rm", "docs.local:sub/b.txt")
	env.mustRun(t, "", "rm", "docs.local:sub/")
	assert.NoDirExists(t, filepath.Join(env.files, "sub"))

	var providers []providerJSON
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "", "--json", "provider", "list")), &providers))
	require.Len(t, providers, 1)
	assert.Equal(t, "docs.local", providers[0].ID)
	assert.Contains(t, providers[0].Capabilities, "filesystem")

	env.mustRun(t, "", "provider", "remove", "docs.local")
	assert.NoFileExists(t, filepath.Join(env.dataDir, "docs.local"))

	_, err = env.run(t, "", "ls", "docs.local:")
	require.Error(t, err)
	assert.ErrorIs(t, err, vfs.ErrProviderNotFound)

	// Files stored by the provider survive its removal.
	assert.FileExists(t, filepath.Join(env.files, "empty.txt"))
}

func TestCLI_BrokenStateFileStaysRemovable(t *testing.T) {
	env := newCLIEnv(t)

	env.mustRun(t, "", "provider", "add", "local", "--name", "docs", "--root", env.files)
	bad := filepath.Join(env.dataDir, "old.local")
	require.NoError(t, os.WriteFile(bad, []byte("{not json"), 0o600))

	// The healthy provider keeps working next to the broken one.
	env.mustRun(t, "", "ls", "docs.local:")

	var providers []providerJSON
	require.NoError(t, json.Unmarshal([]byte(env.mustRun(t, "", "--json", "provider", "list")), &providers))
	require.Len(t, providers, 2)
	assert.Equal(t, "docs.local", providers[0].ID)
	assert.Empty(t, providers[0].Error)
	assert.Equal(t, "old.local", providers[1].ID)
	assert.NotEmpty(t, providers[1].Error)

	_, err := env.run(t, "", "ls", "old.local:")
	require.Error(t, err)

	env.mustRun(t, "", "provider", "remove", "old.local")
	assert.NoFileExists(t, bad)
	assert.FileExists(t, filepath.Join(env.dataDir, "docs.local"))
}

func TestCLI_ProviderAdd_DefaultNameIsUUID(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun(t, "", "provider", "add", "local", "--root", env.files)
	name, typ, ok := strings.Cut(strings.TrimSpace(out), ".")
	require.True(t, ok)
	assert.Len(t, name, 36)
	assert.Equal(t, "local", typ)
}

func TestCLI_ProviderAdd_DuplicateRejected(t *testing.T) {
	env := newCLIEnv(t)

	env.mustRun(t, "", "provider", "add", "local", "--name", "docs", "--root", env.files)

	_, err := env.run(t, "", "provider", "add", "local", "--name", "docs", "--root", env.files)
	require.Error(t, err)
}

func TestCLI_ProviderAdd_FlagForOtherType(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "provider", "add", "local", "--name", "docs", "--bucket", "b")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
	assert.Contains(t, err.Error(), "--bucket")
}

func TestCLI_ProviderAdd_UnknownType(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "provider", "add", "ftp")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestCLI_ProviderAdd_ConfigJSON(t *testing.T) {
	env := newCLIEnv(t)

	raw := `{"root":"` + filepath.ToSlash(env.files) + `"}`
	env.mustRun(t, "", "provider", "add", "local", "--name", "j", "--config-json", raw)

	env.mustRun(t, "x", "put", "-", "j.local:x.txt")
	assert.FileExists(t, filepath.Join(env.files, "x.txt"))
}

func TestCLI_MvAcrossProvidersRejected(t *testing.T) {
	env := newCLIEnv(t)

	other := t.TempDir()
	env.mustRun(t, "", "provider", "add", "local", "--name", "a", "--root", env.files)
	env.mustRun(t, "", "provider", "add", "local", "--name", "b", "--root", other)
	env.mustRun(t, "1", "put", "-", "a.local:one")

	_, err := env.run(t, "", "mv", "a.local:one", "b.local:")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestCLI_PutDirectoryRefRejected(t *testing.T) {
	env := newCLIEnv(t)

	env.mustRun(t, "", "provider", "add", "local", "--name", "docs", "--root", env.files)

	_, err := env.run(t, "x", "put", "-", "docs.local:dir/")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestCLI_PutFromLocalFile(t *testing.T) {
	env := newCLIEnv(t)

	src := filepath.Join(t.TempDir(), "src.bin")
	require.NoError(t, os.WriteFile(src, []byte("from disk"), 0o600))

	env.mustRun(t, "", "provider", "add", "local", "--name", "docs", "--root", env.files)
	env.mustRun(t, "", "put", src, "docs.local:copy.bin")

	assert.Equal(t, "from disk", env.mustRun(t, "", "cat", "docs.local:copy.bin"))
}

func TestCLI_LsTable(t *testing.T) {
	env := newCLIEnv(t)

	env.mustRun(t, "", "provider", "add", "local", "--name", "docs", "--root", env.files)
	env.mustRun(t, "abc", "put", "-", "docs.local:f.txt")
	env.mustRun(t, "", "mkdir", "docs.local:", "d")

	out := env.mustRun(t, "", "ls", "docs.local:")
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 3)
	assert.True(t, strings.HasPrefix(lines[0], "NAME"))
	assert.True(t, strings.HasPrefix(lines[1], "d/"))
	assert.Contains(t, lines[2], "f.txt")
	assert.Contains(t, lines[2], "3 B")
}

func TestCLI_CatMissing(t *testing.T) {
	env := newCLIEnv(t)

	env.mustRun(t, "", "provider", "add", "local", "--name", "docs", "--root", env.files)

	_, err := env.run(t, "", "cat", "docs.local:nope")
	require.Error(t, err)
	assert.ErrorIs(t, err, vfs.ErrNotFound)
	assert.Equal(t, 1, exitCode(err))
}

func TestCLI_MalformedRef(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "ls", "no-colon")
	require.Error(t, err)
	assert.Equal(t, 2, exitCode(err))
}

func TestCLI_ConfigShow(t *testing.T) {
	env := newCLIEnv(t)

	out := env.mustRun(t, "", "config", "show")
	assert.Contains(t, out, env.dataDir)
	assert.Contains(t, out, "10MiB")
}

func TestCLI_ConfigShowJSON_MasksSecret(t *testing.T) {
	env := newCLIEnv(t)

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`
[providers]
google_client_id = "id.apps.googleusercontent.com"
google_client_secret = "hunter2"
`), 0o600))
	t.Setenv(config.EnvConfig, cfgPath)

	out := env.mustRun(t, "", "--json", "config", "show")
	assert.NotContains(t, out, "hunter2")
	assert.Contains(t, out, "********")
	assert.Contains(t, out, cfgPath)
}

func TestCLI_BadConfigFails(t *testing.T) {
	env := newCLIEnv(t)

	cfgPath := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("[loging]\nlog_level = \"debug\"\n"), 0o600))

	_, err := env.run(t, "", "--config", cfgPath, "provider", "list")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "loging")
}

func TestCLI_MetricsServedDuringCommand(t *testing.T) {
	env := newCLIEnv(t)

	_, err := env.run(t, "", "--metrics-addr", "127.0.0.1:0", "provider", "list")
	require.NoError(t, err)
}

// --- logger ---

func TestLogLevel(t *testing.T) {
	_ = newRootCmd()

	t.Cleanup(func() {
		flagVerbose = false
		flagQuiet = false
	})

	tests := []struct {
		name    string
		cfg     string
		verbose bool
		quiet   bool
		want    slog.Level
	}{
		{"config info", "info", false, false, slog.LevelInfo},
		{"config debug", "debug", false, false, slog.LevelDebug},
		{"config warn", "warn", false, false, slog.LevelWarn},
		{"config error", "error", false, false, slog.LevelError},
		{"verbose wins", "warn", true, false, slog.LevelDebug},
		{"quiet wins", "debug", false, true, slog.LevelError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			flagVerbose = tt.verbose
			flagQuiet = tt.quiet

			assert.Equal(t, tt.want, logLevel(&config.LoggingConfig{LogLevel: tt.cfg}))
		})
	}
}

func TestUseTextFormat(t *testing.T) {
	var buf bytes.Buffer

	assert.True(t, useTextFormat("text", &buf))
	assert.False(t, useTextFormat("json", &buf))
	// Non-file writers are treated as interactive.
	assert.True(t, useTextFormat("auto", &buf))

	f, err := os.Create(filepath.Join(t.TempDir(), "out"))
	require.NoError(t, err)
	defer f.Close()

	assert.False(t, useTextFormat("auto", f))
}

func TestBuildLogger_WritesFile(t *testing.T) {
	_ = newRootCmd()

	logPath := filepath.Join(t.TempDir(), "logs", "orbital.log")

	var console bytes.Buffer

	logger, closeLog, err := buildLogger(&config.LoggingConfig{
		LogLevel:         "info",
		LogFormat:        "json",
		LogFile:          logPath,
		LogMaxSizeMB:     1,
		LogRetentionDays: 1,
	}, &console)
	require.NoError(t, err)

	logger.Info("hello", slog.String("provider", "docs.local"))
	logger.Debug("hidden")
	closeLog()

	assert.Contains(t, console.String(), `"msg":"hello"`)
	assert.NotContains(t, console.String(), "hidden")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"provider":"docs.local"`)
}

func TestBuildLogger_NoFile(t *testing.T) {
	_ = newRootCmd()

	var console bytes.Buffer

	logger, closeLog, err := buildLogger(&config.LoggingConfig{LogLevel: "debug", LogFormat: "text"}, &console)
	require.NoError(t, err)
	defer closeLog()

	logger.With(slog.String("k", "v")).WithGroup("g").Debug("msg", slog.Int("n", 1))
	assert.Contains(t, console.String(), "k=v")
	assert.Contains(t, console.String(), "g.n=1")
}

// --- HTTP client ---

func TestUserAgentTransport(t *testing.T) {
	var got []string

	srv := httptest.NewServer(http.HandlerFunc(func(_ http.ResponseWriter, r *http.Request) {
		got = append(got, r.Header.Get("User-Agent"))
	}))
	defer srv.Close()

	client := newHTTPClient(&config.NetworkConfig{ConnectTimeout: "5s", UserAgent: "orbital/test"})

	resp, err := client.Get(srv.URL)
	require.NoError(t, err)
	resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, srv.URL, nil)
	require.NoError(t, err)
	req.Header.Set("User-Agent", "caller/1")

	resp, err = client.Do(req)
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, []string{"orbital/test", "caller/1"}, got)
}

func TestServeMetrics(t *testing.T) {
	addr, stop, err := serveMetrics("127.0.0.1:0", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	defer stop()

	resp, err := http.Get("http://" + addr.String() + metricsPath)
	require.NoError(t, err)
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), "orbital_providers_loaded")
}

func TestNewLoopbackReceiver_UsesConfiguredPortAndBrowser(t *testing.T) {
	rc := &config.Resolved{Config: config.DefaultConfig()}
	rc.Providers.RedirectPort = 4711

	recv := newLoopbackReceiver(rc, slog.New(slog.NewTextHandler(io.Discard, nil)))

	assert.Equal(t, "http://localhost:4711/redirect", recv.RedirectURL())
	assert.NotNil(t, recv.OpenURL)
	assert.Equal(t, os.Stderr, recv.Out)
}

// --- exit codes ---

func TestExitCode(t *testing.T) {
	assert.Equal(t, 2, exitCode(usageErrorf("bad %s", "arg")))
	assert.Equal(t, 2, exitCode(wrapForTest(usageErrorf("nested"))))
	assert.Equal(t, 1, exitCode(vfs.ErrNotFound))
}

func wrapForTest(err error) error {
	return &wrapped{err}
}

type wrapped struct{ err error }

func (w *wrapped) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapped) Unwrap() error { return w.err }
