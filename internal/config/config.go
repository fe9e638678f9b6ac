// Package config implements TOML configuration loading, validation, and
// platform-specific path resolution for liftlog. It supports a three-layer
// override chain (defaults -> config file -> environment -> CLI flags).
package config

// Config is the top-level configuration structure parsed from a TOML file.
type Config struct {
	API     APIConfig     `toml:"api"`
	Queue   QueueConfig   `toml:"queue"`
	Sync    SyncConfig    `toml:"sync"`
	Spool   SpoolConfig   `toml:"spool"`
	Logging LoggingConfig `toml:"logging"`
}

// APIConfig controls the backend endpoint and HTTP client behavior.
type APIConfig struct {
	BaseURL        string `toml:"base_url"`
	RequestTimeout string `toml:"request_timeout"`
}

// QueueConfig controls the durable queue database. An empty database_path
// resolves to queue.db under the platform data directory.
type QueueConfig struct {
	DatabasePath string `toml:"database_path"`
}

// SyncConfig controls the background drain loop used by watch mode.
// ProbeURL defaults to the API health endpoint when empty.
type SyncConfig struct {
	DrainInterval string `toml:"drain_interval"`
	ProbeInterval string `toml:"probe_interval"`
	ProbeURL      string `toml:"probe_url"`
}

// SpoolConfig controls the drafts directory watched in watch mode. Files
// dropped there are parsed as workout sessions and enqueued. An empty dir
// resolves to drafts under the platform data directory.
type SpoolConfig struct {
	Dir string `toml:"dir"`
}

// LoggingConfig controls log output behavior.
type LoggingConfig struct {
	LogLevel  string `toml:"log_level"`
	LogFormat string `toml:"log_format"`
}

// CLIOverrides holds values from CLI flags that override config file and
// environment settings. Pointer fields distinguish "not specified" (nil)
// from "explicitly set to zero value".
type CLIOverrides struct {
	ConfigPath string  // --config flag (empty = use default)
	BaseURL    *string // --base-url flag
	LogLevel   *string // --verbose / --quiet mapped to a level
}
