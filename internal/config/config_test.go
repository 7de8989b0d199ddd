package config

import (
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := Default()
	if !cfg.Browser.Enabled {
		t.Error("browser should default to enabled")
	}
	if cfg.Browser.DebugPort != 9223 {
		t.Errorf("unexpected default port: %d", cfg.Browser.DebugPort)
	}
	if cfg.Server.Listen != "127.0.0.1:3790" {
		t.Errorf("unexpected default listen: %q", cfg.Server.Listen)
	}
}

func TestResolveTimeout(t *testing.T) {
	tests := []struct {
		name    string
		timeout string
		want    time.Duration
	}{
		{"explicit", "45s", 45 * time.Second},
		{"empty falls back", "", 30 * time.Second},
		{"garbage falls back", "soon", 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := BrowserConfig{Timeout: tt.timeout}
			if got := cfg.ResolveTimeout(); got != tt.want {
				t.Errorf("ResolveTimeout() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("BROWSERD_DEBUG_PORT", "9333")
	t.Setenv("BROWSERD_ATTACH_ONLY", "true")
	t.Setenv("BROWSERD_LISTEN", "127.0.0.1:4000")
	t.Setenv("BRAVE_API_KEY", "k")

	cfg := Default()
	cfg.applyEnv()

	if cfg.Browser.DebugPort != 9333 {
		t.Errorf("port override not applied: %d", cfg.Browser.DebugPort)
	}
	if !cfg.Browser.AttachOnly {
		t.Error("attachOnly override not applied")
	}
	if cfg.Server.Listen != "127.0.0.1:4000" {
		t.Errorf("listen override not applied: %q", cfg.Server.Listen)
	}
	if cfg.Search.BraveAPIKey != "k" {
		t.Error("brave key override not applied")
	}
}

func TestApplyEnvIgnoresBadPort(t *testing.T) {
	t.Setenv("BROWSERD_DEBUG_PORT", "not-a-port")

	cfg := Default()
	cfg.applyEnv()
	if cfg.Browser.DebugPort != 9223 {
		t.Errorf("bad port should keep default, got %d", cfg.Browser.DebugPort)
	}
}
