package config

// Default values for configuration options. These are "layer 0" of the
// override chain and work without any config file.
const (
	defaultBaseURL        = "https://api.liftlog.app"
	defaultRequestTimeout = "30s"
	defaultDrainInterval  = "1m"
	defaultProbeInterval  = "30s"
	defaultLogLevel       = "info"
	defaultLogFormat      = "auto"
)

// DefaultConfig returns a Config populated with all default values.
// It is used both as the starting point for TOML decoding (so unset fields
// retain defaults) and as the fallback when no config file exists.
func DefaultConfig() *Config {
	return &Config{
		API: APIConfig{
			BaseURL:        defaultBaseURL,
			RequestTimeout: defaultRequestTimeout,
		},
		Sync: SyncConfig{
			DrainInterval: defaultDrainInterval,
			ProbeInterval: defaultProbeInterval,
		},
		Logging: LoggingConfig{
			LogLevel:  defaultLogLevel,
			LogFormat: defaultLogFormat,
		},
	}
}
