package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()

	path := filepath.Join(t.TempDir(), "config.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	return path
}

func TestLoad_FullFile(t *testing.T) {
	path := writeConfig(t, `
[api]
base_url = "https://api.example.com"
request_timeout = "10s"

[queue]
database_path = "/tmp/liftlog/queue.db"

[sync]
drain_interval = "2m"
probe_interval = "15s"
probe_url = "https://status.example.com/ping"

[spool]
dir = "/tmp/liftlog/drafts"

[logging]
log_level = "debug"
log_format = "json"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, "10s", cfg.API.RequestTimeout)
	assert.Equal(t, "/tmp/liftlog/queue.db", cfg.Queue.DatabasePath)
	assert.Equal(t, "2m", cfg.Sync.DrainInterval)
	assert.Equal(t, "https://status.example.com/ping", cfg.Sync.ProbeURL)
	assert.Equal(t, "/tmp/liftlog/drafts", cfg.Spool.Dir)
	assert.Equal(t, "debug", cfg.Logging.LogLevel)
	assert.Equal(t, "json", cfg.Logging.LogFormat)
}

func TestLoad_PartialFileKeepsDefaults(t *testing.T) {
	path := writeConfig(t, `
[api]
base_url = "https://api.example.com"
`)

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "https://api.example.com", cfg.API.BaseURL)
	assert.Equal(t, defaultRequestTimeout, cfg.API.RequestTimeout)
	assert.Equal(t, defaultDrainInterval, cfg.Sync.DrainInterval)
	assert.Equal(t, defaultLogLevel, cfg.Logging.LogLevel)
}

func TestLoad_UnknownKeyFails(t *testing.T) {
	path := writeConfig(t, `
[api]
base_url = "https://api.example.com"
request_timeut = "10s"
`)

	_, err := Load(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown keys")
	assert.Contains(t, err.Error(), "request_timeut")
}

func TestLoad_InvalidTOML(t *testing.T) {
	path := writeConfig(t, `[api`)

	_, err := Load(path)
	require.Error(t, err)
}

func TestLoadOrDefault_MissingFile(t *testing.T) {
	cfg, err := LoadOrDefault(filepath.Join(t.TempDir(), "nope.toml"))
	require.NoError(t, err)

	assert.Equal(t, defaultBaseURL, cfg.API.BaseURL)
	assert.Equal(t, defaultLogFormat, cfg.Logging.LogFormat)
}

func TestResolve_OverrideChain(t *testing.T) {
	path := writeConfig(t, `
[api]
base_url = "https://from-file.example.com"
`)

	// Env overrides file.
	resolved, err := Resolve(EnvOverrides{ConfigPath: path, BaseURL: "https://from-env.example.com"}, CLIOverrides{})
	require.NoError(t, err)
	assert.Equal(t, "https://from-env.example.com", resolved.BaseURL)

	// CLI overrides env.
	cliURL := "https://from-cli.example.com"
	resolved, err = Resolve(
		EnvOverrides{ConfigPath: path, BaseURL: "https://from-env.example.com"},
		CLIOverrides{BaseURL: &cliURL},
	)
	require.NoError(t, err)
	assert.Equal(t, "https://from-cli.example.com", resolved.BaseURL)
}

func TestResolve_ParsesDurationsAndDerivesPaths(t *testing.T) {
	path := writeConfig(t, `
[api]
base_url = "https://api.example.com/"
request_timeout = "5s"

[sync]
drain_interval = "90s"
`)

	resolved, err := Resolve(EnvOverrides{ConfigPath: path, DataDir: "/data/liftlog"}, CLIOverrides{})
	require.NoError(t, err)

	// Trailing slash trimmed, health endpoint derived.
	assert.Equal(t, "https://api.example.com", resolved.BaseURL)
	assert.Equal(t, "https://api.example.com/health", resolved.ProbeURL)

	assert.Equal(t, 5*time.Second, resolved.RequestTimeout)
	assert.Equal(t, 90*time.Second, resolved.DrainInterval)

	assert.Equal(t, "/data/liftlog/queue.db", resolved.QueuePath)
	assert.Equal(t, "/data/liftlog/token.json", resolved.TokenPath)
	assert.Equal(t, "/data/liftlog/drafts", resolved.SpoolDir)
}

func TestResolve_ExplicitPathsWinOverDataDir(t *testing.T) {
	path := writeConfig(t, `
[queue]
database_path = "/custom/queue.db"

[spool]
dir = "/custom/drafts"
`)

	resolved, err := Resolve(EnvOverrides{ConfigPath: path, DataDir: "/data/liftlog"}, CLIOverrides{})
	require.NoError(t, err)

	assert.Equal(t, "/custom/queue.db", resolved.QueuePath)
	assert.Equal(t, "/custom/drafts", resolved.SpoolDir)
	assert.Equal(t, "/data/liftlog/token.json", resolved.TokenPath)
}

func TestResolve_LogLevelFlag(t *testing.T) {
	level := "debug"

	resolved, err := Resolve(
		EnvOverrides{ConfigPath: filepath.Join(t.TempDir(), "absent.toml")},
		CLIOverrides{LogLevel: &level},
	)
	require.NoError(t, err)
	assert.Equal(t, "debug", resolved.LogLevel)
}
