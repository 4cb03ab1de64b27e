package auth

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"
)

// DefaultRedirectPort is the fixed loopback port registered as the redirect
// URI with the cloud providers' OAuth applications.
const DefaultRedirectPort = 3003

// DefaultRedirectPath is the HTTP path the OAuth2 redirect hits.
const DefaultRedirectPath = "/redirect"

// shutdownTimeout is how long to wait for the callback server to drain.
const shutdownTimeout = 5 * time.Second

// callbackResult carries the authorization code or error from the callback handler.
type callbackResult struct {
	code  string
	state string
	err   error
}

// LoopbackReceiver obtains an authorization code by listening on a fixed
// localhost port for the provider's redirect. It serves exactly one
// callback and then shuts down.
type LoopbackReceiver struct {
	Port int
	Path string
	// OpenURL launches the browser. When nil or failing, the URL is
	// printed to Out so the user can open it manually.
	OpenURL func(string) error
	Out     io.Writer
	Logger  *slog.Logger

	mu    sync.Mutex
	bound string
}

// NewLoopbackReceiver returns a receiver on the default port and path.
func NewLoopbackReceiver(openURL func(string) error, logger *slog.Logger) *LoopbackReceiver {
	return &LoopbackReceiver{
		Port:    DefaultRedirectPort,
		Path:    DefaultRedirectPath,
		OpenURL: openURL,
		Logger:  logger,
	}
}

// RedirectURL is the value to register in the oauth2.Config.
func (r *LoopbackReceiver) RedirectURL() string {
	return fmt.Sprintf("http://localhost:%d%s", r.Port, r.path())
}

// BoundAddr returns the listener address while a flow is running.
func (r *LoopbackReceiver) BoundAddr() string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return r.bound
}

func (r *LoopbackReceiver) path() string {
	if r.Path == "" {
		return DefaultRedirectPath
	}

	return r.Path
}

func (r *LoopbackReceiver) logger() *slog.Logger {
	if r.Logger != nil {
		return r.Logger
	}

	return slog.Default()
}

// ObtainAuthorizationCode starts the listener, opens authURL, and blocks
// until the redirect arrives or ctx is canceled.
func (r *LoopbackReceiver) ObtainAuthorizationCode(ctx context.Context, authURL string) (string, string, error) {
	resultCh := make(chan callbackResult, 1)

	mux := http.NewServeMux()

	var once sync.Once

	mux.HandleFunc("GET "+r.path(), func(w http.ResponseWriter, req *http.Request) {
		served := false

		once.Do(func() {
			served = true
			resultCh <- handleCallback(w, req)
		})

		if !served {
			http.Error(w, "Authorization already completed", http.StatusGone)
		}
	})

	srv, err := r.startServer(ctx, mux, resultCh)
	if err != nil {
		return "", "", err
	}

	defer r.shutdown(srv)

	r.launchBrowser(authURL)

	select {
	case res := <-resultCh:
		if res.err != nil {
			return "", "", res.err
		}

		return res.code, res.state, nil
	case <-ctx.Done():
		return "", "", fmt.Errorf("auth: browser authorization canceled: %w", ctx.Err())
	}
}

// startServer binds the fixed port and serves mux in the background.
func (r *LoopbackReceiver) startServer(
	ctx context.Context, mux *http.ServeMux, resultCh chan<- callbackResult,
) (*http.Server, error) {
	lc := net.ListenConfig{}

	listener, err := lc.Listen(ctx, "tcp", fmt.Sprintf("127.0.0.1:%d", r.Port))
	if err != nil {
		return nil, fmt.Errorf("auth: binding localhost listener on port %d: %w", r.Port, err)
	}

	r.mu.Lock()
	r.bound = listener.Addr().String()
	r.mu.Unlock()

	r.logger().Info("callback server listening", slog.String("addr", listener.Addr().String()))

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: shutdownTimeout,
	}

	go func() {
		if serveErr := srv.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			select {
			case resultCh <- callbackResult{err: fmt.Errorf("auth: callback server error: %w", serveErr)}:
			default:
			}
		}
	}()

	return srv, nil
}

func (r *LoopbackReceiver) shutdown(srv *http.Server) {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		r.logger().Warn("callback server shutdown error", slog.String("error", err.Error()))
	}

	r.mu.Lock()
	r.bound = ""
	r.mu.Unlock()
}

// launchBrowser attempts to open the auth URL, falling back to printing it.
func (r *LoopbackReceiver) launchBrowser(authURL string) {
	r.logger().Info("opening browser for authorization")

	if r.OpenURL != nil {
		openErr := r.OpenURL(authURL)
		if openErr == nil {
			return
		}

		r.logger().Warn("failed to open browser, printing URL",
			slog.String("error", openErr.Error()),
		)
	}

	out := r.Out
	if out == nil {
		out = os.Stderr
	}

	fmt.Fprintf(out, "Open this URL in your browser:\n%s\n", authURL)
}

// handleCallback extracts the code and state and writes the user-facing page.
// State is compared by the caller, which generated it.
func handleCallback(w http.ResponseWriter, req *http.Request) callbackResult {
	q := req.URL.Query()

	if errParam := q.Get("error"); errParam != "" {
		http.Error(w, "Authorization failed: "+errParam, http.StatusBadRequest)
		return callbackResult{err: fmt.Errorf("auth: authorization failed: %s: %s", errParam, q.Get("error_description"))}
	}

	code := q.Get("code")
	if code == "" {
		http.Error(w, "Missing authorization code", http.StatusBadRequest)
		return callbackResult{err: errors.New("auth: callback missing authorization code")}
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	fmt.Fprint(w, "<html><body><h1>Authentication successful</h1>"+
		"<p>You can close this window and return to the terminal.</p></body></html>")

	return callbackResult{code: code, state: q.Get("state")}
}
