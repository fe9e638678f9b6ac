package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidate_Defaults(t *testing.T) {
	require.NoError(t, Validate(DefaultConfig()))
}

func TestValidate_Errors(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name:    "empty base url",
			mutate:  func(c *Config) { c.API.BaseURL = "" },
			wantErr: "api.base_url",
		},
		{
			name:    "bad scheme",
			mutate:  func(c *Config) { c.API.BaseURL = "ftp://api.example.com" },
			wantErr: "scheme",
		},
		{
			name:    "missing host",
			mutate:  func(c *Config) { c.API.BaseURL = "https://" },
			wantErr: "missing host",
		},
		{
			name:    "bad timeout",
			mutate:  func(c *Config) { c.API.RequestTimeout = "soon" },
			wantErr: "api.request_timeout",
		},
		{
			name:    "negative drain interval",
			mutate:  func(c *Config) { c.Sync.DrainInterval = "-1m" },
			wantErr: "sync.drain_interval",
		},
		{
			name:    "unknown log level",
			mutate:  func(c *Config) { c.Logging.LogLevel = "trace" },
			wantErr: "log_level",
		},
		{
			name:    "unknown log format",
			mutate:  func(c *Config) { c.Logging.LogFormat = "yaml" },
			wantErr: "log_format",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)

			err := Validate(cfg)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
