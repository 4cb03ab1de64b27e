package config

import (
	"fmt"
	"io"
)

// RenderEffective writes the resolved configuration as an annotated
// summary. Secrets are masked.
func RenderEffective(rc *Resolved, w io.Writer) error {
	ew := &errWriter{w: w}

	ew.printf("# Effective configuration (file: %s)\n\n", rc.Path)
	ew.printf("data_dir = %q\n\n", rc.DataDir)

	ew.printf("[providers]\n")
	ew.printf("  onedrive_client_id   = %q\n", rc.Providers.OneDriveClientID)
	ew.printf("  google_client_id     = %q\n", rc.Providers.GoogleClientID)
	ew.printf("  google_client_secret = %q\n", mask(rc.Providers.GoogleClientSecret))
	ew.printf("  redirect_port        = %d\n\n", rc.Providers.RedirectPort)

	ew.printf("[transfers]\n")
	ew.printf("  chunk_size = %q\n\n", rc.Transfers.ChunkSize)

	ew.printf("[logging]\n")
	ew.printf("  log_level          = %q\n", rc.Logging.LogLevel)
	ew.printf("  log_format         = %q\n", rc.Logging.LogFormat)
	ew.printf("  log_file           = %q\n", rc.Logging.LogFile)
	ew.printf("  log_max_size_mb    = %d\n", rc.Logging.LogMaxSizeMB)
	ew.printf("  log_retention_days = %d\n\n", rc.Logging.LogRetentionDays)

	ew.printf("[network]\n")
	ew.printf("  connect_timeout = %q\n", rc.Network.ConnectTimeout)
	ew.printf("  user_agent      = %q\n", rc.Network.UserAgent)

	return ew.err
}

func mask(secret string) string {
	if secret == "" {
		return ""
	}

	return "********"
}

// errWriter captures the first write error so callers can chain printf
// calls without checking each one.
type errWriter struct {
	w   io.Writer
	err error
}

func (ew *errWriter) printf(format string, args ...any) {
	if ew.err != nil {
		return
	}

	_, ew.err = fmt.Fprintf(ew.w, format, args...)
}
