package config

import (
	"fmt"
	"net/url"
	"time"
)

// Valid log levels and formats.
var (
	validLogLevels  = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	validLogFormats = map[string]bool{"auto": true, "text": true, "json": true}
)

// Validate checks a Config for semantic errors: malformed URLs, unparseable
// durations, and out-of-range values. It reports the first error found with
// the offending TOML key.
func Validate(cfg *Config) error {
	if err := validateBaseURL(cfg.API.BaseURL); err != nil {
		return err
	}

	for key, value := range map[string]string{
		"api.request_timeout": cfg.API.RequestTimeout,
		"sync.drain_interval": cfg.Sync.DrainInterval,
		"sync.probe_interval": cfg.Sync.ProbeInterval,
	} {
		if err := validateDuration(key, value); err != nil {
			return err
		}
	}

	if !validLogLevels[cfg.Logging.LogLevel] {
		return fmt.Errorf("logging.log_level: unknown level %q (use debug, info, warn, or error)", cfg.Logging.LogLevel)
	}

	if !validLogFormats[cfg.Logging.LogFormat] {
		return fmt.Errorf("logging.log_format: unknown format %q (use auto, text, or json)", cfg.Logging.LogFormat)
	}

	return nil
}

func validateBaseURL(raw string) error {
	if raw == "" {
		return fmt.Errorf("api.base_url: must not be empty")
	}

	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("api.base_url: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api.base_url: scheme must be http or https, got %q", u.Scheme)
	}

	if u.Host == "" {
		return fmt.Errorf("api.base_url: missing host")
	}

	return nil
}

func validateDuration(key, value string) error {
	d, err := time.ParseDuration(value)
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}

	if d <= 0 {
		return fmt.Errorf("%s: must be positive, got %s", key, value)
	}

	return nil
}
