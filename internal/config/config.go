// Package config provides environment-driven configuration for the
// intervention client core.
package config

import (
	"fmt"
	"net/url"
	"os"
	"time"
)

// Secret wraps a sensitive string to prevent accidental logging or marshalling.
type Secret string

// String implements fmt.Stringer, returning a redacted placeholder.
func (s Secret) String() string { return "[REDACTED]" }

// GoString implements fmt.GoStringer, returning a redacted placeholder.
func (s Secret) GoString() string { return "[REDACTED]" }

// MarshalText implements encoding.TextMarshaler, returning a redacted placeholder.
func (s Secret) MarshalText() ([]byte, error) { return []byte("[REDACTED]"), nil }

// Value returns the underlying secret string.
func (s Secret) Value() string { return string(s) }

// Config holds all client configuration values.
type Config struct {
	APIBaseURL     string
	WSBaseURL      string
	StateDBPath    string
	PollInterval   time.Duration
	ReconnectDelay time.Duration
	LogLevel       string
	Token          Secret
}

// Defaults mirror the deployed backend endpoints and the observed client
// timings: a 15 second notification poll and a 3 second socket reconnect.
const (
	defaultAPIBaseURL     = "http://localhost:8000"
	defaultWSBaseURL      = "ws://localhost:8000"
	defaultStateDBPath    = "intervene.db"
	defaultPollInterval   = 15 * time.Second
	defaultReconnectDelay = 3 * time.Second
)

// Load reads configuration from environment variables with sensible defaults.
func Load() (*Config, error) {
	cfg := &Config{
		APIBaseURL:  envOrDefault("INTERVENE_API_URL", defaultAPIBaseURL),
		WSBaseURL:   envOrDefault("INTERVENE_WS_URL", defaultWSBaseURL),
		StateDBPath: envOrDefault("INTERVENE_STATE_DB", defaultStateDBPath),
		LogLevel:    envOrDefault("LOG_LEVEL", "info"),
		Token:       Secret(os.Getenv("INTERVENE_TOKEN")),
	}

	poll, err := durationOrDefault("INTERVENE_POLL_INTERVAL", defaultPollInterval)
	if err != nil {
		return nil, err
	}
	cfg.PollInterval = poll

	reconnect, err := durationOrDefault("INTERVENE_RECONNECT_DELAY", defaultReconnectDelay)
	if err != nil {
		return nil, err
	}
	cfg.ReconnectDelay = reconnect

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation: %w", err)
	}

	return cfg, nil
}

// Validate checks the configuration for usable values. Callers that build
// a Config directly (the CLI's flag resolution does) run it before use.
func (c *Config) Validate() error {
	if err := validateBaseURL("INTERVENE_API_URL", c.APIBaseURL, "http", "https"); err != nil {
		return err
	}

	if err := validateBaseURL("INTERVENE_WS_URL", c.WSBaseURL, "ws", "wss"); err != nil {
		return err
	}

	if c.StateDBPath == "" {
		return fmt.Errorf("INTERVENE_STATE_DB must not be empty")
	}

	if c.PollInterval < time.Second {
		return fmt.Errorf("INTERVENE_POLL_INTERVAL must be at least 1s, got %s", c.PollInterval)
	}

	if c.ReconnectDelay < 100*time.Millisecond {
		return fmt.Errorf("INTERVENE_RECONNECT_DELAY must be at least 100ms, got %s", c.ReconnectDelay)
	}

	switch c.LogLevel {
	case "trace", "debug", "info", "warn", "warning", "error", "fatal", "panic":
	default:
		return fmt.Errorf("LOG_LEVEL %q is not a valid logrus level", c.LogLevel)
	}

	return nil
}

func validateBaseURL(name, raw string, schemes ...string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("%s is not a valid URL: %w", name, err)
	}

	if u.Host == "" {
		return fmt.Errorf("%s must include a host", name)
	}

	for _, s := range schemes {
		if u.Scheme == s {
			return nil
		}
	}

	return fmt.Errorf("%s scheme must be one of %v, got %q", name, schemes, u.Scheme)
}

func envOrDefault(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}

	return fallback
}

func durationOrDefault(key string, fallback time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return fallback, nil
	}

	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s must be a valid duration (e.g. 15s): %w", key, err)
	}

	return d, nil
}
