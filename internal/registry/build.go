package registry

import (
	"context"
	"fmt"

	"golang.org/x/oauth2"

	"github.com/orbitalfiles/orbital/internal/auth"
	"github.com/orbitalfiles/orbital/internal/backend/gdrive"
	"github.com/orbitalfiles/orbital/internal/backend/localdisk"
	"github.com/orbitalfiles/orbital/internal/backend/objectstore"
	"github.com/orbitalfiles/orbital/internal/backend/onedrive"
	"github.com/orbitalfiles/orbital/internal/providerid"
	"github.com/orbitalfiles/orbital/internal/statefile"
)

// build constructs the backend for st. It never runs interactive
// authorization.
func (r *Registry) build(ctx context.Context, id providerid.ID, st statefile.State) (*entry, error) {
	logger := r.logger.With("provider", id.String())

	switch id.Type {
	case providerid.TypeLocal:
		var cfg localdisk.Config
		if err := st.DecodeConfig(&cfg); err != nil {
			return nil, err
		}

		d, err := localdisk.New(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("registry: opening %s: %w", id, err)
		}

		return &entry{provider: d, stater: d}, nil

	case providerid.TypeOneDrive:
		if r.opts.OneDriveClientID == "" {
			return nil, fmt.Errorf("%w: OneDrive client id", ErrMissingConfig)
		}

		var cfg onedrive.Config
		if err := st.DecodeConfig(&cfg); err != nil {
			return nil, err
		}

		oc := auth.OneDriveConfig(r.opts.OneDriveClientID, r.opts.RedirectURL)
		store, flow := r.oauth(id, oc, r.opts.OneDriveEndpoint, st.Token)

		d, err := onedrive.New(onedrive.Options{
			Config:     cfg,
			Store:      store,
			Refresher:  flow,
			HTTPClient: r.opts.HTTPClient,
			BaseURL:    r.opts.GraphBaseURL,
			ChunkSize:  r.opts.ChunkSize,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}

		return &entry{provider: d, stater: d, store: store, authorizer: flow}, nil

	case providerid.TypeGDrive:
		if r.opts.GoogleClientID == "" || r.opts.GoogleClientSecret == "" {
			return nil, fmt.Errorf("%w: Google client id and secret", ErrMissingConfig)
		}

		var cfg gdrive.Config
		if err := st.DecodeConfig(&cfg); err != nil {
			return nil, err
		}

		oc := auth.GoogleDriveConfig(r.opts.GoogleClientID, r.opts.GoogleClientSecret, r.opts.RedirectURL)
		store, flow := r.oauth(id, oc, r.opts.GoogleEndpoint, st.Token)

		d, err := gdrive.New(gdrive.Options{
			Config:     cfg,
			Store:      store,
			Refresher:  flow,
			HTTPClient: r.opts.HTTPClient,
			Endpoint:   r.opts.DriveEndpoint,
			ChunkSize:  r.opts.ChunkSize,
			Logger:     logger,
		})
		if err != nil {
			return nil, err
		}

		return &entry{provider: d, stater: d, store: store, authorizer: flow}, nil

	case providerid.TypeS3:
		var cfg objectstore.Config
		if err := st.DecodeConfig(&cfg); err != nil {
			return nil, err
		}

		if cfg.Bucket == "" {
			return nil, fmt.Errorf("%w: s3 bucket", ErrMissingConfig)
		}

		b, err := objectstore.New(ctx, objectstore.Options{Config: cfg, Logger: logger})
		if err != nil {
			return nil, err
		}

		return &entry{provider: b, stater: b}, nil
	}

	return nil, fmt.Errorf("%w: unknown provider type %q", providerid.ErrInvalid, id.Type)
}

// oauth builds the token store and flow for one OAuth provider.
func (r *Registry) oauth(
	id providerid.ID, oc *oauth2.Config, endpoint oauth2.Endpoint, tok *oauth2.Token,
) (*auth.Store, *auth.OAuth) {
	if endpoint.TokenURL != "" {
		oc.Endpoint = endpoint
	}

	logger := r.logger.With("provider", id.String())
	store := auth.NewStore(tok, logger)

	flow := auth.NewOAuth(oc, store, auth.OAuthOptions{
		Receiver:   r.opts.Receiver,
		HTTPClient: r.opts.HTTPClient,
		Label:      string(id.Type),
		Logger:     logger,
	})

	return store, flow
}
