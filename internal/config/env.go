package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "ORBITAL_CONFIG"
	EnvDataDir = "ORBITAL_DATA_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // ORBITAL_CONFIG: config file path
	DataDir    string // ORBITAL_DATA_DIR: provider state directory
}

// ReadEnvOverrides reads the environment. It does not modify any Config.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		DataDir:    os.Getenv(EnvDataDir),
	}
}
