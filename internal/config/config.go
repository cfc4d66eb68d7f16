// Manages the configuration stored in config.yaml at the root of the data
// directory.

package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"
)

// FileName is the name of the configuration file inside the data directory.
const FileName = "config.yaml"

// DefaultBaseURL is where the overlay manifest and assets are published.
const DefaultBaseURL = "https://raw.githubusercontent.com/thesecretlab/learning-swift-3rd-ed/master/Data/"

// Config stores the settings of one data directory.
// Loaded from config.yaml, created with defaults if missing, then overridden
// by SELFIEGRAM_* environment variables.
type Config struct {
	// BaseURL is the remote location of overlays.json and the overlay assets.
	BaseURL string `yaml:"base_url" env:"SELFIEGRAM_BASE_URL"`

	// Workers bounds concurrent asset downloads.
	Workers int `yaml:"workers" env:"SELFIEGRAM_WORKERS"`

	// RateLimit caps outgoing requests per second. 0 means unlimited.
	RateLimit float64 `yaml:"rate_limit" env:"SELFIEGRAM_RATE_LIMIT"`

	// CacheSize is the number of decoded images kept in memory.
	CacheSize int `yaml:"cache_size" env:"SELFIEGRAM_CACHE_SIZE"`

	// HTTP is the listen address of the serve command.
	HTTP string `yaml:"http" env:"SELFIEGRAM_HTTP"`

	// GeoDB is an optional MaxMind City database used to geotag new records.
	GeoDB string `yaml:"geo_db,omitempty" env:"SELFIEGRAM_GEO_DB"`

	// History enables a git history of the records directory.
	History bool `yaml:"history" env:"SELFIEGRAM_HISTORY"`

	// TrustProxy honours X-Forwarded-For and X-Real-IP from clients of the
	// serve command. Only enable behind a reverse proxy.
	TrustProxy bool `yaml:"trust_proxy" env:"SELFIEGRAM_TRUST_PROXY"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `yaml:"log_level" env:"SELFIEGRAM_LOG_LEVEL"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		BaseURL:   DefaultBaseURL,
		Workers:   8,
		RateLimit: 0,
		CacheSize: 100,
		HTTP:      "127.0.0.1:8080",
		History:   false,
		LogLevel:  "info",
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	u, err := url.Parse(c.BaseURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("base_url must be an http(s) URL, got %q", c.BaseURL)
	}
	if c.Workers <= 0 {
		return errors.New("workers must be positive")
	}
	if c.RateLimit < 0 {
		return errors.New("rate_limit must be non-negative")
	}
	if c.CacheSize <= 0 {
		return errors.New("cache_size must be positive")
	}
	if c.HTTP == "" {
		return errors.New("http is required")
	}
	switch c.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log_level must be one of debug, info, warn, error, got %q", c.LogLevel)
	}
	return nil
}

// Load loads configuration from dataDir/config.yaml and applies environment
// overrides. Creates the file with defaults if it doesn't exist.
//
// The result is not validated, so that later overrides can still fix it;
// callers must call Validate once every override is applied.
func Load(dataDir string) (*Config, error) {
	path := filepath.Join(dataDir, FileName)
	cfg := Default()

	data, err := os.ReadFile(path) //nolint:gosec // G304: path is constructed from dataDir
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read %s: %w", FileName, err)
		}
		if err := cfg.Save(dataDir); err != nil {
			return nil, err
		}
	} else if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", FileName, err)
	}

	// Only variables that are set override the file.
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}
	return &cfg, nil
}

// Save writes the configuration to dataDir/config.yaml.
func (c *Config) Save(dataDir string) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.MkdirAll(dataDir, 0o755); err != nil { //nolint:gosec // G301: 0o755 is intentional for data directories
		return fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dataDir, FileName), data, 0o600); err != nil {
		return fmt.Errorf("failed to write %s: %w", FileName, err)
	}
	return nil
}
