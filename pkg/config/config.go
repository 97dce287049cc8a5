// Package config loads the oracle's runtime configuration: a small set of
// environment variables plus an optional YAML overlay for ambient settings
// like log encoding and watcher cadence.
package config

import (
	"bytes"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPort is used when the PORT environment variable is unset.
const DefaultPort = 3001

// DefaultWatcherInterval is used when WATCHER_INTERVAL is unset; an
// unparsable value makes Load fail instead.
const DefaultWatcherInterval = 60 * time.Second

// Config is the oracle node's complete runtime configuration.
type Config struct {
	// DatabaseURL is the Postgres connection string (DATABASE_URL).
	DatabaseURL string `yaml:"DatabaseURL"`
	// OracleKeyHex is the 32-byte hex-encoded oracle secret (ERNEST_KEY).
	OracleKeyHex string `yaml:"-"`
	// Port is the HTTP API bind port (PORT).
	Port int `yaml:"Port"`
	// WatcherInterval is the maturity scan cadence (WATCHER_INTERVAL).
	WatcherInterval time.Duration `yaml:"WatcherInterval"`
	// Logger holds logging settings, overridable via LOG_LEVEL.
	Logger Logger `yaml:"Logger"`
}

// Validate returns an error if the configuration is incomplete or malformed.
func (c Config) Validate() error {
	if c.DatabaseURL == "" {
		return fmt.Errorf("config: DATABASE_URL is required")
	}
	if c.OracleKeyHex == "" {
		return fmt.Errorf("config: ERNEST_KEY is required")
	}
	if len(c.OracleKeyHex) != 64 {
		return fmt.Errorf("config: ERNEST_KEY must be 32 bytes hex-encoded (64 chars)")
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("config: invalid PORT %d", c.Port)
	}
	if c.WatcherInterval <= 0 {
		return fmt.Errorf("config: WATCHER_INTERVAL must be positive")
	}
	return c.Logger.Validate()
}

// Load builds the Config from the process environment, optionally overlaid
// with a YAML file at configPath (CONFIG_PATH). Environment variables take
// precedence over the YAML overlay's matching fields only when they are
// actually set; the YAML overlay supplies ambient defaults (logger, watcher
// cadence) the environment doesn't name.
func Load(configPath string) (Config, error) {
	cfg := Config{
		Port:            DefaultPort,
		WatcherInterval: DefaultWatcherInterval,
		Logger:          Logger{LogLevel: "info"},
	}

	if configPath != "" {
		if err := loadFile(configPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.DatabaseURL = v
	}
	if v := os.Getenv("ERNEST_KEY"); v != "" {
		cfg.OracleKeyHex = v
	}
	if v := os.Getenv("PORT"); v != "" {
		port, err := parsePort(v)
		if err != nil {
			return Config{}, err
		}
		cfg.Port = port
	}
	if v := os.Getenv("WATCHER_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("config: invalid WATCHER_INTERVAL %q: %w", v, err)
		}
		cfg.WatcherInterval = d
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.Logger.LogLevel = v
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("config: unable to read %s: %w", path, err)
	}
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(cfg); err != nil {
		return fmt.Errorf("config: failed to unmarshal YAML: %w", err)
	}
	return nil
}

func parsePort(v string) (int, error) {
	var port int
	if _, err := fmt.Sscanf(v, "%d", &port); err != nil {
		return 0, fmt.Errorf("config: invalid PORT %q: %w", v, err)
	}
	return port, nil
}
