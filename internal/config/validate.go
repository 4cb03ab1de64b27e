package config

import (
	"errors"
	"fmt"
	"path/filepath"
	"time"
)

// Validation bounds.
const (
	chunkAlignBytes   = 327680 // 320 KiB, the strictest backend alignment
	minChunkBytes     = chunkAlignBytes
	maxChunkBytes     = 62_914_560 // 60 MiB
	minRedirectPort   = 1
	maxRedirectPort   = 65535
	minLogRetention   = 1
	minLogSizeMB      = 1
	minConnectTimeout = 1 * time.Second
)

// Validate checks all configuration values and returns every error found,
// so users can fix all issues in one pass.
func Validate(cfg *Config) error {
	var errs []error

	errs = append(errs, validateProviders(&cfg.Providers)...)
	errs = append(errs, validateChunkSize(cfg.Transfers.ChunkSize)...)
	errs = append(errs, validateLogging(&cfg.Logging)...)
	errs = append(errs, validateNetwork(&cfg.Network)...)

	return errors.Join(errs...)
}

// validateResolved checks constraints that only make sense after the
// environment and flags have been applied.
func validateResolved(cfg *Config) error {
	var errs []error

	if cfg.DataDir == "" {
		errs = append(errs, errors.New("data_dir: cannot determine a default; set data_dir or ORBITAL_DATA_DIR"))
	} else if !filepath.IsAbs(cfg.DataDir) {
		errs = append(errs, fmt.Errorf("data_dir: must be absolute after expansion, got %q", cfg.DataDir))
	}

	errs = append(errs, validateLogLevel(cfg.Logging.LogLevel)...)

	return errors.Join(errs...)
}

func validateProviders(p *ProvidersConfig) []error {
	var errs []error

	if p.RedirectPort < minRedirectPort || p.RedirectPort > maxRedirectPort {
		errs = append(errs, fmt.Errorf("redirect_port: must be between %d and %d, got %d",
			minRedirectPort, maxRedirectPort, p.RedirectPort))
	}

	if (p.GoogleClientID == "") != (p.GoogleClientSecret == "") {
		errs = append(errs, errors.New("google_client_id and google_client_secret must be set together"))
	}

	return errs
}

func validateChunkSize(s string) []error {
	bytes, err := ParseSize(s)
	if err != nil {
		return []error{fmt.Errorf("chunk_size: %w", err)}
	}

	if bytes < minChunkBytes || bytes > maxChunkBytes {
		return []error{fmt.Errorf("chunk_size: must be between 320KiB and 60MiB, got %s", s)}
	}

	if bytes%chunkAlignBytes != 0 {
		return []error{fmt.Errorf(
			"chunk_size: must be a multiple of 320 KiB (%d bytes), got %s (%d bytes)",
			chunkAlignBytes, s, bytes)}
	}

	return nil
}

func validateLogging(l *LoggingConfig) []error {
	var errs []error

	errs = append(errs, validateLogLevel(l.LogLevel)...)

	if !validLogFormats[l.LogFormat] {
		errs = append(errs, fmt.Errorf("log_format: must be one of auto, text, json; got %q", l.LogFormat))
	}

	if l.LogRetentionDays < minLogRetention {
		errs = append(errs, fmt.Errorf("log_retention_days: must be >= %d, got %d",
			minLogRetention, l.LogRetentionDays))
	}

	if l.LogMaxSizeMB < minLogSizeMB {
		errs = append(errs, fmt.Errorf("log_max_size_mb: must be >= %d, got %d", minLogSizeMB, l.LogMaxSizeMB))
	}

	return errs
}

var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validLogFormats = map[string]bool{
	"auto": true,
	"text": true,
	"json": true,
}

func validateLogLevel(level string) []error {
	if !validLogLevels[level] {
		return []error{fmt.Errorf("log_level: must be one of debug, info, warn, error; got %q", level)}
	}

	return nil
}

func validateNetwork(n *NetworkConfig) []error {
	d, err := time.ParseDuration(n.ConnectTimeout)
	if err != nil {
		return []error{fmt.Errorf("connect_timeout: invalid duration %q: %w", n.ConnectTimeout, err)}
	}

	if d < minConnectTimeout {
		return []error{fmt.Errorf("connect_timeout: must be >= %s, got %s", minConnectTimeout, d)}
	}

	return nil
}

// ConnectTimeoutDuration returns the parsed connect timeout. Call only on a
// validated config.
func (n *NetworkConfig) ConnectTimeoutDuration() time.Duration {
	d, err := time.ParseDuration(n.ConnectTimeout)
	if err != nil {
		return 0
	}

	return d
}
