package config

import "github.com/orbitalfiles/orbital/internal/auth"

// Default values, used as the starting point for TOML decoding so unset
// fields keep them, and as the whole config when no file exists.
const (
	defaultChunkSize        = "10MiB"
	defaultLogLevel         = "info"
	defaultLogFormat        = "auto"
	defaultLogMaxSizeMB     = 50
	defaultLogRetentionDays = 30
	defaultConnectTimeout   = "10s"
	defaultUserAgent        = "orbital/dev"
)

// DefaultConfig returns a Config populated with all default values.
// DataDir is left empty; Resolve fills it from the platform default.
func DefaultConfig() *Config {
	return &Config{
		Providers: ProvidersConfig{
			RedirectPort: auth.DefaultRedirectPort,
		},
		Transfers: TransfersConfig{
			ChunkSize: defaultChunkSize,
		},
		Logging: LoggingConfig{
			LogLevel:         defaultLogLevel,
			LogFormat:        defaultLogFormat,
			LogMaxSizeMB:     defaultLogMaxSizeMB,
			LogRetentionDays: defaultLogRetentionDays,
		},
		Network: NetworkConfig{
			ConnectTimeout: defaultConnectTimeout,
			UserAgent:      defaultUserAgent,
		},
	}
}
