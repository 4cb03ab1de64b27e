package auth

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"github.com/orbitalfiles/orbital/internal/metrics"
	"github.com/orbitalfiles/orbital/internal/vfs"
)

// stateTokenBytes is the number of random bytes for the OAuth2 state parameter.
const stateTokenBytes = 16

// ErrStateMismatch is returned when the redirect carries a state value
// other than the one generated for the request.
var ErrStateMismatch = errors.New("auth: OAuth2 state mismatch (possible CSRF)")

// CodeReceiver runs the interactive part of the authorization code flow:
// send the user to authURL and hand back the code and state from the
// redirect. LoopbackReceiver is the production implementation; tests
// substitute a fake.
type CodeReceiver interface {
	ObtainAuthorizationCode(ctx context.Context, authURL string) (code, state string, err error)
}

// Refresher replaces an expired access token.
type Refresher interface {
	// Refresh renews the credentials unless the store no longer holds
	// stale, in which case another caller already refreshed.
	Refresh(ctx context.Context, stale string) error
}

// Authorizer runs the interactive flow and stores the result.
type Authorizer interface {
	Authorize(ctx context.Context) error
}

// OAuthOptions configures an OAuth flow.
type OAuthOptions struct {
	Receiver CodeReceiver
	// HTTPClient is used for token endpoint calls. Nil means http.DefaultClient.
	HTTPClient *http.Client
	// Label names the provider type in logs and metrics.
	Label  string
	Logger *slog.Logger
}

// OAuth drives the authorization code + PKCE flow and refreshes for one
// backend instance. It implements Refresher and Authorizer.
type OAuth struct {
	cfg        *oauth2.Config
	store      *Store
	receiver   CodeReceiver
	httpClient *http.Client
	label      string
	logger     *slog.Logger

	group singleflight.Group
}

// NewOAuth binds an oauth2 config to a token store.
func NewOAuth(cfg *oauth2.Config, store *Store, opts OAuthOptions) *OAuth {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &OAuth{
		cfg:        cfg,
		store:      store,
		receiver:   opts.Receiver,
		httpClient: opts.HTTPClient,
		label:      opts.Label,
		logger:     logger,
	}
}

// Store returns the token store this flow writes to.
func (o *OAuth) Store() *Store {
	return o.store
}

// Authorize performs the interactive authorization code flow with PKCE and
// stores (and persists) the resulting token.
func (o *OAuth) Authorize(ctx context.Context) error {
	if o.receiver == nil {
		return fmt.Errorf("auth: no interactive code receiver configured: %w", vfs.ErrAuthRequired)
	}

	o.logger.Info("starting browser auth flow (authorization code + PKCE)",
		slog.String("provider_type", o.label),
	)

	verifier := oauth2.GenerateVerifier()

	state, err := generateState()
	if err != nil {
		return fmt.Errorf("auth: generating state token: %w", err)
	}

	authURL := o.cfg.AuthCodeURL(state,
		oauth2.AccessTypeOffline,
		oauth2.S256ChallengeOption(verifier),
	)

	code, gotState, err := o.receiver.ObtainAuthorizationCode(ctx, authURL)
	if err != nil {
		return fmt.Errorf("auth: obtaining authorization code: %w", err)
	}

	if gotState != state {
		return ErrStateMismatch
	}

	o.logger.Info("received authorization code, exchanging for token")

	tok, err := o.cfg.Exchange(o.clientContext(ctx), code, oauth2.VerifierOption(verifier))
	if err != nil {
		return fmt.Errorf("auth: token exchange failed: %w", err)
	}

	o.logger.Info("token exchange successful", slog.Time("expiry", tok.Expiry))

	return o.store.Set(tok)
}

// Refresh exchanges the stored refresh token for a new access token.
// Concurrent callers holding the same stale token share one refresh.
func (o *OAuth) Refresh(ctx context.Context, stale string) error {
	cur := o.store.Token()
	if cur == nil {
		return fmt.Errorf("auth: refresh without credentials: %w", vfs.ErrAuthRequired)
	}

	if cur.AccessToken != stale {
		o.logger.Debug("token already refreshed by a concurrent call")
		return nil
	}

	_, err, shared := o.group.Do(stale, func() (any, error) {
		return nil, o.refresh(ctx, cur)
	})

	if shared {
		o.logger.Debug("joined in-flight token refresh")
	}

	return err
}

func (o *OAuth) refresh(ctx context.Context, cur *oauth2.Token) error {
	if cur.RefreshToken == "" {
		o.logger.Warn("access token expired and no refresh token is stored")
		metrics.RecordTokenRefresh(o.label, false)

		if err := o.store.Clear(); err != nil {
			return err
		}

		return fmt.Errorf("auth: no refresh token: %w", vfs.ErrAuthRequired)
	}

	o.logger.Info("refreshing access token", slog.String("provider_type", o.label))

	// An empty access token forces the source to hit the token endpoint.
	src := o.cfg.TokenSource(o.clientContext(ctx), &oauth2.Token{RefreshToken: cur.RefreshToken})

	tok, err := src.Token()
	if err != nil {
		metrics.RecordTokenRefresh(o.label, false)

		var retrieveErr *oauth2.RetrieveError
		if errors.As(err, &retrieveErr) && rejected(retrieveErr) {
			o.logger.Warn("refresh token rejected, interactive authorization required",
				slog.String("error_code", retrieveErr.ErrorCode),
			)

			if clearErr := o.store.Clear(); clearErr != nil {
				return clearErr
			}

			return vfs.Wrap(vfs.ErrAuthRequired, "Refresh", o.label, err)
		}

		return vfs.Wrap(vfs.ErrTransport, "Refresh", o.label, err)
	}

	metrics.RecordTokenRefresh(o.label, true)

	o.logger.Info("access token refreshed", slog.Time("new_expiry", tok.Expiry))

	return o.store.Set(tok)
}

// rejected reports whether the token endpoint refused the grant, as
// opposed to failing for a transient reason.
func rejected(err *oauth2.RetrieveError) bool {
	if err.Response == nil {
		return err.ErrorCode != ""
	}

	code := err.Response.StatusCode

	return code >= http.StatusBadRequest && code < http.StatusInternalServerError
}

func (o *OAuth) clientContext(ctx context.Context) context.Context {
	if o.httpClient == nil {
		return ctx
	}

	return context.WithValue(ctx, oauth2.HTTPClient, o.httpClient)
}

// generateState produces a cryptographically random hex string for the
// OAuth2 state parameter.
func generateState() (string, error) {
	b := make([]byte, stateTokenBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	return hex.EncodeToString(b), nil
}
