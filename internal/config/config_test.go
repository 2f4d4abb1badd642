package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/assistio/intervene/internal/config"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.APIBaseURL != "http://localhost:8000" {
		t.Errorf("expected default API URL, got %s", cfg.APIBaseURL)
	}

	if cfg.WSBaseURL != "ws://localhost:8000" {
		t.Errorf("expected default WS URL, got %s", cfg.WSBaseURL)
	}

	if cfg.PollInterval != 15*time.Second {
		t.Errorf("expected 15s poll interval, got %s", cfg.PollInterval)
	}

	if cfg.ReconnectDelay != 3*time.Second {
		t.Errorf("expected 3s reconnect delay, got %s", cfg.ReconnectDelay)
	}
}

func TestLoad_Overrides(t *testing.T) {
	t.Setenv("INTERVENE_API_URL", "https://support.example.com")
	t.Setenv("INTERVENE_WS_URL", "wss://support.example.com")
	t.Setenv("INTERVENE_POLL_INTERVAL", "30s")
	t.Setenv("INTERVENE_TOKEN", "tok-123")

	cfg, err := config.Load()
	if err != nil {
		t.Fatalf("expected no error, got %v", err)
	}

	if cfg.APIBaseURL != "https://support.example.com" {
		t.Errorf("got API URL %s", cfg.APIBaseURL)
	}

	if cfg.PollInterval != 30*time.Second {
		t.Errorf("got poll interval %s", cfg.PollInterval)
	}

	if cfg.Token.Value() != "tok-123" {
		t.Error("token env override not applied")
	}
}

func TestLoad_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		value   string
		wantErr string
	}{
		{"bad api scheme", "INTERVENE_API_URL", "ftp://example.com", "scheme must be one of"},
		{"bad ws scheme", "INTERVENE_WS_URL", "http://example.com", "scheme must be one of"},
		{"hostless api url", "INTERVENE_API_URL", "http://", "must include a host"},
		{"bad poll interval", "INTERVENE_POLL_INTERVAL", "soonish", "valid duration"},
		{"tiny poll interval", "INTERVENE_POLL_INTERVAL", "200ms", "at least 1s"},
		{"tiny reconnect delay", "INTERVENE_RECONNECT_DELAY", "1ms", "at least 100ms"},
		{"bad log level", "LOG_LEVEL", "loud", "not a valid logrus level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)

			_, err := config.Load()
			if err == nil {
				t.Fatal("expected error, got nil")
			}

			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %q", tt.wantErr, err)
			}
		})
	}
}

func TestSecret_Redaction(t *testing.T) {
	s := config.Secret("super-secret-token")

	if s.String() != "[REDACTED]" {
		t.Errorf("String() leaked secret: %s", s.String())
	}

	text, err := s.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText() error: %v", err)
	}

	if string(text) != "[REDACTED]" {
		t.Errorf("MarshalText() leaked secret: %s", text)
	}

	if s.Value() != "super-secret-token" {
		t.Error("Value() must return the underlying secret")
	}
}
