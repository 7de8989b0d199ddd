// Package config loads browserd configuration from browserd.json with
// environment overrides.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config represents the merged browserd configuration
type Config struct {
	Browser BrowserConfig `json:"browser"`
	Server  ServerConfig  `json:"server"`
	Media   MediaConfig   `json:"media"`
	Logging LoggingConfig `json:"logging"`
	Search  SearchConfig  `json:"search"`
}

// BrowserConfig holds browser control-plane configuration
type BrowserConfig struct {
	Enabled     bool   `json:"enabled"`     // Browser control enabled
	DebugPort   int    `json:"debugPort"`   // Chrome remote debugging port
	AttachOnly  bool   `json:"attachOnly"`  // Never launch; require a reachable browser
	Headless    bool   `json:"headless"`    // Launch in headless mode
	NoSandbox   bool   `json:"noSandbox"`   // Disable Chrome sandbox (Docker/root)
	Stealth     bool   `json:"stealth"`     // Create pages with stealth evasions
	BinPath     string `json:"binPath"`     // Chrome binary (empty = autodetect)
	UserDataDir string `json:"userDataDir"` // Profile directory (empty = ~/.browserd/profile)
	Timeout     string `json:"timeout"`     // Default operation timeout (e.g. "30s")
	Color       string `json:"color"`       // Accent color hint surfaced in status
}

// ServerConfig holds the control API listener configuration
type ServerConfig struct {
	Listen string `json:"listen"` // e.g. "127.0.0.1:3790"
}

// MediaConfig configures the media store
type MediaConfig struct {
	Dir     string `json:"dir"`     // Base directory (empty = ~/.browserd/media)
	TTL     int    `json:"ttl"`     // Seconds before cleanup (default 600)
	MaxSize int    `json:"maxSize"` // Max file size in bytes (default 20MB)
}

// LoggingConfig configures log output
type LoggingConfig struct {
	Level string `json:"level"` // trace, debug, info, warn, error
	File  string `json:"file"`  // Rotating log file (empty = stderr only)
}

// SearchConfig configures the web search collaborator
type SearchConfig struct {
	BraveAPIKey string `json:"braveApiKey"`
}

// Default returns the default configuration
func Default() *Config {
	return &Config{
		Browser: BrowserConfig{
			Enabled:   true,
			DebugPort: 9223,
			Headless:  true,
			Stealth:   true,
			Timeout:   "30s",
		},
		Server: ServerConfig{
			Listen: "127.0.0.1:3790",
		},
		Media: MediaConfig{
			TTL:     600,
			MaxSize: 20 * 1024 * 1024,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Dir returns the browserd state directory (~/.browserd)
func Dir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".browserd"
	}
	return filepath.Join(home, ".browserd")
}

// Load reads configuration from ~/.browserd/browserd.json, applying
// environment overrides afterwards. A .env file in the working directory
// is honored if present.
func Load() (*Config, error) {
	cfg := Default()

	path := filepath.Join(Dir(), "browserd.json")
	if data, err := os.ReadFile(path); err == nil {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	// .env is optional; ignore a missing file
	_ = godotenv.Load()
	cfg.applyEnv()

	return cfg, nil
}

// applyEnv overrides config values from BROWSERD_* environment variables
func (c *Config) applyEnv() {
	if v := os.Getenv("BROWSERD_DEBUG_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			c.Browser.DebugPort = port
		}
	}
	if v := os.Getenv("BROWSERD_ATTACH_ONLY"); v != "" {
		c.Browser.AttachOnly = v == "1" || v == "true"
	}
	if v := os.Getenv("BROWSERD_HEADLESS"); v != "" {
		c.Browser.Headless = v == "1" || v == "true"
	}
	if v := os.Getenv("BROWSERD_LISTEN"); v != "" {
		c.Server.Listen = v
	}
	if v := os.Getenv("BROWSERD_LOG_LEVEL"); v != "" {
		c.Logging.Level = v
	}
	if v := os.Getenv("BRAVE_API_KEY"); v != "" {
		c.Search.BraveAPIKey = v
	}
}

// ResolveTimeout returns the browser timeout as a Duration
func (c *BrowserConfig) ResolveTimeout() time.Duration {
	if c.Timeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(c.Timeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// ResolveUserDataDir returns the profile directory, defaulting to
// ~/.browserd/profile
func (c *BrowserConfig) ResolveUserDataDir() string {
	if c.UserDataDir != "" {
		return c.UserDataDir
	}
	return filepath.Join(Dir(), "profile")
}

// ResolveMediaDir returns the media directory, defaulting to ~/.browserd/media
func (c *MediaConfig) ResolveDir() string {
	if c.Dir != "" {
		return c.Dir
	}
	return filepath.Join(Dir(), "media")
}
