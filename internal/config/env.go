package config

import "os"

// Environment variable names for overrides.
const (
	EnvConfig  = "LIFTLOG_CONFIG"
	EnvBaseURL = "LIFTLOG_BASE_URL"
	EnvDataDir = "LIFTLOG_DATA_DIR"
)

// EnvOverrides holds values derived from environment variables.
type EnvOverrides struct {
	ConfigPath string // LIFTLOG_CONFIG: override config file path
	BaseURL    string // LIFTLOG_BASE_URL: backend endpoint override
	DataDir    string // LIFTLOG_DATA_DIR: queue/token/spool directory override
}

// ReadEnvOverrides reads environment variables and returns any overrides
// found. This does not modify the Config; Resolve applies the fields.
func ReadEnvOverrides() EnvOverrides {
	return EnvOverrides{
		ConfigPath: os.Getenv(EnvConfig),
		BaseURL:    os.Getenv(EnvBaseURL),
		DataDir:    os.Getenv(EnvDataDir),
	}
}
