// Package registry maps provider ids to live providers and persists each
// provider's state as "{id}.{type}" in the data directory. Persistence
// goes through the local disk adapter rooted at "/", so the registry
// stores its own state with the same code that serves user files.
package registry

import (
	"cmp"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"path/filepath"
	"slices"
	"sync"

	"golang.org/x/oauth2"
	"golang.org/x/sync/errgroup"

	"github.com/orbitalfiles/orbital/internal/auth"
	"github.com/orbitalfiles/orbital/internal/backend/localdisk"
	"github.com/orbitalfiles/orbital/internal/metrics"
	"github.com/orbitalfiles/orbital/internal/providerid"
	"github.com/orbitalfiles/orbital/internal/statefile"
	"github.com/orbitalfiles/orbital/internal/vfs"
)

// Sentinel errors. A missing provider is vfs.ErrProviderNotFound.
var (
	ErrProviderExists = errors.New("registry: provider already exists")
	ErrMissingConfig  = errors.New("registry: missing required configuration")
	ErrNoAuthorizer   = errors.New("registry: provider does not use interactive authorization")
)

// State files are owner-only because they hold refresh tokens and keys.
const (
	stateFileMode = 0o600
	stateDirMode  = 0o700
	loadWorkers   = 8
)

// Options configures a Registry.
type Options struct {
	// DataDir holds one state file per provider.
	DataDir string

	OneDriveClientID   string
	GoogleClientID     string
	GoogleClientSecret string
	// RedirectURL is the loopback address registered with both OAuth apps.
	RedirectURL string
	Receiver    auth.CodeReceiver

	HTTPClient *http.Client
	// ChunkSize applies to cloud drive uploads. Zero means each backend's default.
	ChunkSize int64

	// Endpoint overrides for tests and sovereign clouds. Zero values keep
	// the public defaults.
	OneDriveEndpoint oauth2.Endpoint
	GoogleEndpoint   oauth2.Endpoint
	GraphBaseURL     string
	DriveEndpoint    string

	Logger *slog.Logger
}

// entry is one live provider plus what the registry needs to persist and
// re-authorize it.
type entry struct {
	provider   vfs.Provider
	stater     statefile.Stater
	store      *auth.Store    // nil for backends without OAuth
	authorizer auth.Authorizer // nil for backends without OAuth
}

// Registry is safe for concurrent use.
type Registry struct {
	opts   Options
	disk   *localdisk.Disk
	logger *slog.Logger

	mu        sync.RWMutex
	providers map[providerid.ID]*entry
	// broken holds state files Load could not turn into a provider. They
	// stay removable so one bad file never locks out the rest.
	broken map[providerid.ID]error
}

// New creates an empty registry. Call Load to restore persisted providers.
func New(opts Options) (*Registry, error) {
	if opts.DataDir == "" {
		return nil, fmt.Errorf("%w: data directory", ErrMissingConfig)
	}

	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	dataDir, err := filepath.Abs(opts.DataDir)
	if err != nil {
		return nil, fmt.Errorf("registry: resolving data dir: %w", err)
	}

	opts.DataDir = dataDir

	disk, err := localdisk.New(localdisk.Config{FileMode: stateFileMode, DirMode: stateDirMode}, logger)
	if err != nil {
		return nil, err
	}

	return &Registry{
		opts:      opts,
		disk:      disk,
		logger:    logger,
		providers: make(map[providerid.ID]*entry),
		broken:    make(map[providerid.ID]error),
	}, nil
}

// DataDir returns the absolute data directory.
func (r *Registry) DataDir() string {
	return r.opts.DataDir
}

func (r *Registry) stateID(id providerid.ID) vfs.ObjectID {
	return vfs.PlainFile(filepath.Join(r.opts.DataDir, id.FileName()))
}

// Add creates a provider from its backend configuration, authorizes it if
// it uses OAuth and carries no token, persists it, and makes it available.
func (r *Registry) Add(ctx context.Context, id providerid.ID, rawConfig json.RawMessage) error {
	if _, err := providerid.New(id.Name, id.Type); err != nil {
		return err
	}

	if r.taken(id) {
		return fmt.Errorf("%w: %s", ErrProviderExists, id)
	}

	st, err := stateFromConfig(id.Type, rawConfig)
	if err != nil {
		return err
	}

	e, err := r.build(ctx, id, st)
	if err != nil {
		return err
	}

	if e.authorizer != nil && !e.store.Authenticated() {
		r.logger.Info("authorizing new provider", slog.String("provider", id.String()))

		if err := e.authorizer.Authorize(ctx); err != nil {
			return fmt.Errorf("registry: authorizing %s: %w", id, err)
		}
	}

	// A new Google Drive provider lists its root once, so unusable
	// credentials fail the add rather than the first command.
	if id.Type == providerid.TypeGDrive {
		if _, err := e.provider.FileSystem().ReadDirectory(ctx, vfs.DirectoryID("")); err != nil {
			return fmt.Errorf("registry: verifying %s: %w", id, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.takenLocked(id) {
		return fmt.Errorf("%w: %s", ErrProviderExists, id)
	}

	if err := r.persist(ctx, id, e); err != nil {
		return err
	}

	r.watch(id, e)
	r.providers[id] = e
	metrics.SetProvidersLoaded(len(r.providers))

	r.logger.Info("provider added",
		slog.String("provider", id.String()),
		slog.Any("capabilities", vfs.Describe(e.provider)),
	)

	return nil
}

// taken reports whether id names a live provider or a state file that
// failed to load.
func (r *Registry) taken(id providerid.ID) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.takenLocked(id)
}

func (r *Registry) takenLocked(id providerid.ID) bool {
	_, live := r.providers[id]
	_, isBroken := r.broken[id]

	return live || isBroken
}

// stateFromConfig validates rawConfig as JSON and wraps it in a State
// without a token.
func stateFromConfig(t providerid.Type, rawConfig json.RawMessage) (statefile.State, error) {
	if len(rawConfig) == 0 {
		rawConfig = json.RawMessage("{}")
	}

	if !json.Valid(rawConfig) {
		return statefile.State{}, fmt.Errorf("%w: %s config is not valid JSON", statefile.ErrMalformed, t)
	}

	return statefile.State{Type: t, Config: rawConfig}, nil
}

// Remove deletes the provider's state file and forgets it. A state file
// already gone from disk is not an error.
func (r *Registry) Remove(ctx context.Context, id providerid.ID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.providers[id]
	if !ok {
		if _, isBroken := r.broken[id]; isBroken {
			return r.removeBroken(ctx, id)
		}

		return vfs.Wrap(vfs.ErrProviderNotFound, "Remove", id.String(), nil)
	}

	if e.store != nil {
		e.store.OnChange(nil)
	}

	if err := r.disk.Delete(ctx, r.stateID(id)); err != nil && !errors.Is(err, vfs.ErrNotFound) {
		r.watch(id, e)
		return fmt.Errorf("registry: removing state of %s: %w", id, err)
	}

	delete(r.providers, id)
	metrics.SetProvidersLoaded(len(r.providers))

	r.logger.Info("provider removed", slog.String("provider", id.String()))

	return nil
}

// removeBroken deletes the state file of a provider that failed to load.
// Callers hold r.mu.
func (r *Registry) removeBroken(ctx context.Context, id providerid.ID) error {
	if err := r.disk.Delete(ctx, r.stateID(id)); err != nil && !errors.Is(err, vfs.ErrNotFound) {
		return fmt.Errorf("registry: removing state of %s: %w", id, err)
	}

	delete(r.broken, id)

	r.logger.Info("removed provider that failed to load", slog.String("provider", id.String()))

	return nil
}

// Get returns the provider for id. A provider whose state file failed to
// load reports that failure.
func (r *Registry) Get(id providerid.ID) (vfs.Provider, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	e, ok := r.providers[id]
	if !ok {
		if loadErr, isBroken := r.broken[id]; isBroken {
			return nil, fmt.Errorf("registry: %s failed to load: %w", id, loadErr)
		}

		return nil, vfs.Wrap(vfs.ErrProviderNotFound, "Get", id.String(), nil)
	}

	return e.provider, nil
}

// List returns every registered id, sorted.
func (r *Registry) List() []providerid.ID {
	r.mu.RLock()
	ids := make([]providerid.ID, 0, len(r.providers))

	for id := range r.providers {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	slices.SortFunc(ids, func(a, b providerid.ID) int {
		return cmp.Compare(a.String(), b.String())
	})

	return ids
}

// Broken returns the providers whose state files failed to load, with the
// reason for each.
func (r *Registry) Broken() map[providerid.ID]error {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make(map[providerid.ID]error, len(r.broken))
	for id, err := range r.broken {
		out[id] = err
	}

	return out
}

// Authorize re-runs the interactive flow for an OAuth provider, replacing
// its credentials. The new token is persisted by the store hook.
func (r *Registry) Authorize(ctx context.Context, id providerid.ID) error {
	r.mu.RLock()
	e, ok := r.providers[id]
	loadErr, isBroken := r.broken[id]
	r.mu.RUnlock()

	if isBroken {
		return fmt.Errorf("registry: %s failed to load: %w", id, loadErr)
	}

	if !ok {
		return vfs.Wrap(vfs.ErrProviderNotFound, "Authorize", id.String(), nil)
	}

	if e.authorizer == nil {
		return fmt.Errorf("%w: %s", ErrNoAuthorizer, id)
	}

	return e.authorizer.Authorize(ctx)
}

// Load restores every provider persisted in the data directory. Files
// whose names are not "{id}.{type}" are skipped with a warning. A state
// file that cannot be read, decoded or built is recorded in Broken and
// skipped; Get reports the failure and Remove deletes the file. Providers
// are constructed concurrently; no interactive authorization runs, so a
// provider without a token reports vfs.ErrAuthRequired on first use.
func (r *Registry) Load(ctx context.Context) error {
	listing, err := r.disk.ReadDirectory(ctx, vfs.DirectoryID(r.opts.DataDir))
	if errors.Is(err, vfs.ErrNotFound) {
		r.logger.Debug("data directory does not exist yet", slog.String("path", r.opts.DataDir))
		return nil
	}

	if err != nil {
		return fmt.Errorf("registry: listing %s: %w", r.opts.DataDir, err)
	}

	type loaded struct {
		id providerid.ID
		e  *entry
	}

	var (
		mu      sync.Mutex
		results []loaded
		broken  = make(map[providerid.ID]error)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(loadWorkers)

	for _, f := range listing {
		if f.ID.IsDirectory() {
			continue
		}

		id, err := providerid.Parse(f.Name)
		if err != nil {
			r.logger.Warn("skipping unrecognized file in data directory",
				slog.String("file", f.Name),
				slog.String("error", err.Error()),
			)

			continue
		}

		g.Go(func() error {
			e, err := r.load(gctx, id, f.ID)
			if err != nil {
				if ctxErr := gctx.Err(); ctxErr != nil {
					return ctxErr
				}

				r.logger.Warn("skipping provider that failed to load",
					slog.String("provider", id.String()),
					slog.String("error", err.Error()),
				)

				mu.Lock()
				broken[id] = err
				mu.Unlock()

				return nil
			}

			mu.Lock()
			results = append(results, loaded{id: id, e: e})
			mu.Unlock()

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, l := range results {
		r.watch(l.id, l.e)
		r.providers[l.id] = l.e
	}

	for id, err := range broken {
		r.broken[id] = err
	}

	metrics.SetProvidersLoaded(len(r.providers))

	r.logger.Info("providers loaded",
		slog.Int("count", len(results)),
		slog.Int("failed", len(broken)),
		slog.String("data_dir", r.opts.DataDir),
	)

	return nil
}

func (r *Registry) load(ctx context.Context, id providerid.ID, file vfs.ObjectID) (*entry, error) {
	data, err := r.disk.ReadFile(ctx, file)
	if err != nil {
		return nil, fmt.Errorf("registry: reading state of %s: %w", id, err)
	}

	st, err := statefile.Decode(data, id.Type)
	if err != nil {
		return nil, fmt.Errorf("registry: decoding state of %s: %w", id, err)
	}

	return r.build(ctx, id, st)
}

// persist writes the provider's current state. Callers hold no store lock.
func (r *Registry) persist(ctx context.Context, id providerid.ID, e *entry) error {
	st, err := e.stater.State()
	if err != nil {
		return fmt.Errorf("registry: capturing state of %s: %w", id, err)
	}

	data, err := statefile.Encode(st)
	if err != nil {
		return err
	}

	if err := r.ensureDataDir(ctx); err != nil {
		return err
	}

	if err := r.disk.WriteFile(ctx, r.stateID(id), data); err != nil {
		return fmt.Errorf("registry: writing state of %s: %w", id, err)
	}

	r.logger.Debug("persisted provider state", slog.String("provider", id.String()))

	return nil
}

// ensureDataDir creates the data directory and any missing parents through
// the local-disk adapter, outermost first.
func (r *Registry) ensureDataDir(ctx context.Context) error {
	var missing []string

	for dir := r.opts.DataDir; ; dir = filepath.Dir(dir) {
		_, err := r.disk.GetMetadata(ctx, vfs.DirectoryID(dir))
		if err == nil {
			break
		}

		if !errors.Is(err, vfs.ErrNotFound) || filepath.Dir(dir) == dir {
			return fmt.Errorf("registry: creating data dir: %w", err)
		}

		missing = append(missing, dir)
	}

	for i := len(missing) - 1; i >= 0; i-- {
		dir := missing[i]
		req := vfs.File{
			Name:     filepath.Base(dir),
			Metadata: &vfs.Metadata{MimeType: vfs.Ptr(vfs.MimeTypeDirectory)},
		}

		err := r.disk.Create(ctx, vfs.DirectoryID(filepath.Dir(dir)), req)
		if err != nil && !errors.Is(err, vfs.ErrConflict) {
			return fmt.Errorf("registry: creating data dir: %w", err)
		}
	}

	return nil
}

// watch installs the store hook that writes the state file on every
// credential change.
func (r *Registry) watch(id providerid.ID, e *entry) {
	if e.store == nil {
		return
	}

	e.store.OnChange(func(*oauth2.Token) error {
		return r.persist(context.Background(), id, e)
	})
}
