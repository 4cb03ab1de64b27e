package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/pkg/browser"
	"github.com/spf13/cobra"

	"github.com/orbitalfiles/orbital/internal/auth"
	"github.com/orbitalfiles/orbital/internal/config"
	"github.com/orbitalfiles/orbital/internal/registry"
)

// version is set at build time via ldflags.
var version = "dev"

// Global persistent flags, bound in newRootCmd().
var (
	flagConfigPath  string
	flagDataDir     string
	flagMetricsAddr string
	flagJSON        bool
	flagVerbose     bool
	flagQuiet       bool
)

// keepAlive matches net/http's default transport.
const keepAlive = 30 * time.Second

// skipRegistryCommands only need the resolved configuration.
var skipRegistryCommands = map[string]bool{
	"orbital config":      true,
	"orbital config show": true,
}

// CLIContext carries everything a subcommand needs. PersistentPreRunE
// builds it and stores it in the command's context.
type CLIContext struct {
	Cfg      *config.Resolved
	Logger   *slog.Logger
	Registry *registry.Registry
	Out      io.Writer
	JSON     bool
	Quiet    bool

	closers []func()
}

type cliContextKey struct{}

// mustCLIContext returns the CLIContext installed by the root pre-run.
func mustCLIContext(ctx context.Context) *CLIContext {
	cc, ok := ctx.Value(cliContextKey{}).(*CLIContext)
	if !ok {
		panic("CLIContext missing: command ran without the root pre-run")
	}

	return cc
}

// Close releases the log file and metrics listener.
func (cc *CLIContext) Close() {
	for i := len(cc.closers) - 1; i >= 0; i-- {
		cc.closers[i]()
	}

	cc.closers = nil
}

// newRootCmd builds the root command with every subcommand registered.
func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "orbital",
		Short:   "One filesystem over local disk, OneDrive, Google Drive and S3",
		Long:    "Manage storage providers and operate on their files through one set of commands.",
		Version: version,
		// Errors are printed by main.
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cc, err := newCLIContext(cmd)
			if err != nil {
				return err
			}

			cmd.SetContext(context.WithValue(cmd.Context(), cliContextKey{}, cc))

			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, _ []string) {
			if cc, ok := cmd.Context().Value(cliContextKey{}).(*CLIContext); ok {
				cc.Close()
			}
		},
	}

	cmd.PersistentFlags().StringVar(&flagConfigPath, "config", "", "config file path")
	cmd.PersistentFlags().StringVar(&flagDataDir, "data-dir", "", "directory holding provider state files")
	cmd.PersistentFlags().StringVar(&flagMetricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address while the command runs")
	cmd.PersistentFlags().BoolVar(&flagJSON, "json", false, "output in JSON format")
	cmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable debug logging")
	cmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress informational output")

	cmd.AddCommand(newProviderCmd())
	cmd.AddCommand(newConfigCmd())
	cmd.AddCommand(newLsCmd())
	cmd.AddCommand(newCatCmd())
	cmd.AddCommand(newPutCmd())
	cmd.AddCommand(newRmCmd())
	cmd.AddCommand(newTrashCmd())
	cmd.AddCommand(newMvCmd())
	cmd.AddCommand(newRenameCmd())
	cmd.AddCommand(newMkdirCmd())
	cmd.AddCommand(newTouchCmd())
	cmd.AddCommand(newStatCmd())
	cmd.AddCommand(newLnCmd())
	cmd.AddCommand(newReadlinkCmd())

	return cmd
}

// newCLIContext resolves configuration, builds the logger, and unless the
// command only needs config, opens and loads the provider registry.
func newCLIContext(cmd *cobra.Command) (*CLIContext, error) {
	cli := config.CLIOverrides{
		ConfigPath: flagConfigPath,
		DataDir:    flagDataDir,
	}

	rc, err := config.Resolve(config.ReadEnvOverrides(), cli)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	logger, closeLog, err := buildLogger(&rc.Logging, os.Stderr)
	if err != nil {
		return nil, err
	}

	cc := &CLIContext{
		Cfg:     rc,
		Logger:  logger,
		Out:     cmd.OutOrStdout(),
		JSON:    flagJSON,
		Quiet:   flagQuiet,
		closers: []func(){closeLog},
	}

	if skipRegistryCommands[cmd.CommandPath()] {
		return cc, nil
	}

	if flagMetricsAddr != "" {
		_, stop, err := serveMetrics(flagMetricsAddr, logger)
		if err != nil {
			cc.Close()
			return nil, err
		}

		cc.closers = append(cc.closers, stop)
	}

	reg, err := openRegistry(cmd.Context(), rc, logger)
	if err != nil {
		cc.Close()
		return nil, err
	}

	cc.Registry = reg

	return cc, nil
}

// openRegistry wires the registry to the configured OAuth applications and
// the loopback redirect receiver, then restores persisted providers.
func openRegistry(ctx context.Context, rc *config.Resolved, logger *slog.Logger) (*registry.Registry, error) {
	receiver := newLoopbackReceiver(rc, logger)

	reg, err := registry.New(registry.Options{
		DataDir:            rc.DataDir,
		OneDriveClientID:   rc.Providers.OneDriveClientID,
		GoogleClientID:     rc.Providers.GoogleClientID,
		GoogleClientSecret: rc.Providers.GoogleClientSecret,
		RedirectURL:        receiver.RedirectURL(),
		Receiver:           receiver,
		HTTPClient:         newHTTPClient(&rc.Network),
		ChunkSize:          rc.Transfers.ChunkBytes(),
		Logger:             logger,
	})
	if err != nil {
		return nil, err
	}

	if err := reg.Load(ctx); err != nil {
		return nil, fmt.Errorf("loading providers: %w", err)
	}

	return reg, nil
}

// newLoopbackReceiver catches the OAuth redirect on the configured port and
// opens the authorization URL in the system browser. When no browser can be
// launched the URL is printed to stderr instead.
func newLoopbackReceiver(rc *config.Resolved, logger *slog.Logger) *auth.LoopbackReceiver {
	receiver := auth.NewLoopbackReceiver(openBrowser, logger)
	receiver.Port = rc.Providers.RedirectPort
	receiver.Out = os.Stderr

	return receiver
}

// openBrowser keeps the launcher's own output off stdout.
func openBrowser(url string) error {
	browser.Stdout = os.Stderr

	return browser.OpenURL(url)
}

// newHTTPClient bounds connection setup only. Transfers of large files run
// as long as they need; cancellation comes from the command context.
func newHTTPClient(n *config.NetworkConfig) *http.Client {
	timeout := n.ConnectTimeoutDuration()

	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = (&net.Dialer{Timeout: timeout, KeepAlive: keepAlive}).DialContext
	transport.TLSHandshakeTimeout = timeout

	return &http.Client{Transport: &userAgentTransport{base: transport, agent: n.UserAgent}}
}

// userAgentTransport stamps every request with the configured User-Agent.
type userAgentTransport struct {
	base  http.RoundTripper
	agent string
}

func (t *userAgentTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.agent == "" || req.Header.Get("User-Agent") != "" {
		return t.base.RoundTrip(req)
	}

	req = req.Clone(req.Context())
	req.Header.Set("User-Agent", t.agent)

	return t.base.RoundTrip(req)
}

// exitCode maps an error to the process exit status.
func exitCode(err error) int {
	var usage *usageError
	if errors.As(err, &usage) {
		return 2
	}

	return 1
}

// usageError marks argument mistakes the user can fix by rereading --help.
type usageError struct {
	msg string
}

func (e *usageError) Error() string {
	return e.msg
}

func usageErrorf(format string, args ...any) error {
	return &usageError{msg: fmt.Sprintf(format, args...)}
}

// exitOnError prints a user-friendly error message to stderr and exits.
func exitOnError(err error) {
	fmt.Fprintf(os.Stderr, "Error: %v\n", err)
	os.Exit(exitCode(err))
}
