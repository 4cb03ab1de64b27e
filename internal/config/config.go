// Package config loads orbital's TOML configuration: where provider state
// lives, the OAuth application credentials, upload chunking, logging and
// network settings.
package config

// Config is the top-level configuration. Each TOML table maps to one
// section struct; data_dir is the only top-level key.
type Config struct {
	DataDir   string          `toml:"data_dir"`
	Providers ProvidersConfig `toml:"providers"`
	Transfers TransfersConfig `toml:"transfers"`
	Logging   LoggingConfig   `toml:"logging"`
	Network   NetworkConfig   `toml:"network"`
}

// ProvidersConfig holds the OAuth application registrations shared by all
// providers of a type.
type ProvidersConfig struct {
	OneDriveClientID   string `toml:"onedrive_client_id"`
	GoogleClientID     string `toml:"google_client_id"`
	GoogleClientSecret string `toml:"google_client_secret"`
	RedirectPort       int    `toml:"redirect_port"`
}

// TransfersConfig controls chunked uploads.
type TransfersConfig struct {
	ChunkSize string `toml:"chunk_size"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	LogLevel         string `toml:"log_level"`
	LogFormat        string `toml:"log_format"`
	LogFile          string `toml:"log_file"`
	LogMaxSizeMB     int    `toml:"log_max_size_mb"`
	LogRetentionDays int    `toml:"log_retention_days"`
}

// NetworkConfig controls the shared HTTP client.
type NetworkConfig struct {
	ConnectTimeout string `toml:"connect_timeout"`
	UserAgent      string `toml:"user_agent"`
}

// CLIOverrides holds values from command-line flags. Empty strings mean
// "not specified".
type CLIOverrides struct {
	ConfigPath string
	DataDir    string
	LogLevel   string
}

// ChunkBytes returns the parsed chunk size. Call only on a validated
// config.
func (t *TransfersConfig) ChunkBytes() int64 {
	n, err := ParseSize(t.ChunkSize)
	if err != nil {
		return 0
	}

	return n
}
