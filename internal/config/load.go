package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Resolved is the fully merged configuration: every path is absolute and
// every duration parsed. Commands consume this, never the raw Config.
type Resolved struct {
	BaseURL        string
	RequestTimeout time.Duration

	QueuePath string
	TokenPath string
	SpoolDir  string

	DrainInterval time.Duration
	ProbeInterval time.Duration
	ProbeURL      string

	LogLevel  string
	LogFormat string
}

// Load reads and parses a TOML config file, validates it, and returns the
// resulting Config. Unknown keys are fatal errors — silently ignoring a typo
// in a config file leads to hard-to-debug behavior.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	md, err := toml.DecodeFile(path, cfg)
	if err != nil {
		return nil, fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}

		return nil, fmt.Errorf("config file %s: unknown keys: %s", path, strings.Join(keys, ", "))
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// LoadOrDefault reads a TOML config file if it exists, otherwise returns a
// Config populated with all default values. This supports the zero-config
// first run: users can log in and start syncing without a config file.
func LoadOrDefault(path string) (*Config, error) {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}

	return Load(path)
}

// Resolve loads configuration and applies the override chain:
// defaults -> config file -> environment variables -> CLI flags.
// CLI flags always win, matching user expectations for one-off overrides
// without editing the config file.
func Resolve(env EnvOverrides, cli CLIOverrides) (*Resolved, error) {
	cfgPath := DefaultConfigPath()
	if env.ConfigPath != "" {
		cfgPath = env.ConfigPath
	}

	if cli.ConfigPath != "" {
		cfgPath = cli.ConfigPath
	}

	cfg, err := LoadOrDefault(cfgPath)
	if err != nil {
		return nil, err
	}

	if env.BaseURL != "" {
		cfg.API.BaseURL = env.BaseURL
	}

	if cli.BaseURL != nil {
		cfg.API.BaseURL = *cli.BaseURL
	}

	if cli.LogLevel != nil {
		cfg.Logging.LogLevel = *cli.LogLevel
	}

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	resolved, err := flatten(cfg)
	if err != nil {
		return nil, err
	}

	if env.DataDir != "" {
		applyDataDir(resolved, cfg, env.DataDir)
	}

	return resolved, nil
}

// flatten converts a validated Config into a Resolved with parsed durations
// and absolute paths.
func flatten(cfg *Config) (*Resolved, error) {
	requestTimeout, err := time.ParseDuration(cfg.API.RequestTimeout)
	if err != nil {
		return nil, fmt.Errorf("parsing api.request_timeout: %w", err)
	}

	drainInterval, err := time.ParseDuration(cfg.Sync.DrainInterval)
	if err != nil {
		return nil, fmt.Errorf("parsing sync.drain_interval: %w", err)
	}

	probeInterval, err := time.ParseDuration(cfg.Sync.ProbeInterval)
	if err != nil {
		return nil, fmt.Errorf("parsing sync.probe_interval: %w", err)
	}

	probeURL := cfg.Sync.ProbeURL
	if probeURL == "" {
		probeURL = strings.TrimSuffix(cfg.API.BaseURL, "/") + "/health"
	}

	queuePath := cfg.Queue.DatabasePath
	if queuePath == "" {
		queuePath = DefaultQueuePath()
	}

	spoolDir := cfg.Spool.Dir
	if spoolDir == "" {
		spoolDir = DefaultSpoolDir()
	}

	return &Resolved{
		BaseURL:        strings.TrimSuffix(cfg.API.BaseURL, "/"),
		RequestTimeout: requestTimeout,
		QueuePath:      queuePath,
		TokenPath:      DefaultTokenPath(),
		SpoolDir:       spoolDir,
		DrainInterval:  drainInterval,
		ProbeInterval:  probeInterval,
		ProbeURL:       probeURL,
		LogLevel:       cfg.Logging.LogLevel,
		LogFormat:      cfg.Logging.LogFormat,
	}, nil
}

// applyDataDir redirects all data paths into dir, keeping any paths the
// config file set explicitly.
func applyDataDir(resolved *Resolved, cfg *Config, dir string) {
	if cfg.Queue.DatabasePath == "" {
		resolved.QueuePath = filepath.Join(dir, "queue.db")
	}

	resolved.TokenPath = filepath.Join(dir, "token.json")

	if cfg.Spool.Dir == "" {
		resolved.SpoolDir = filepath.Join(dir, "drafts")
	}
}
