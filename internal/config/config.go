// Package config loads configuration from an optional YAML file with
// environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all daemon configuration.
type Config struct {
	// Server
	ListenAddr  string `yaml:"listen_addr"`
	MetricsAddr string `yaml:"metrics_addr"`

	// Logging
	LogLevel  string `yaml:"log_level"`
	LogFormat string `yaml:"log_format"`

	// Sandbox store location
	DataDir string `yaml:"data_dir"`

	// Change watcher poll interval in seconds
	WatchIntervalSeconds int `yaml:"watch_interval_seconds"`

	// Optional shared token required on the websocket upgrade. Empty
	// disables transport auth.
	AuthToken string `yaml:"auth_token"`

	// Extra names excluded from traversal in addition to the built-ins.
	ExtraBlacklist []string `yaml:"extra_blacklist"`

	// Maximum inbound websocket message size in bytes.
	MaxMessageSize int64 `yaml:"max_message_size"`

	// Server-side read cap applied when a readFile request carries no
	// maxSize of its own. Zero means unlimited.
	MaxReadSize int64 `yaml:"max_read_size"`
}

func defaults() *Config {
	return &Config{
		ListenAddr:           ":8731",
		MetricsAddr:          ":9090",
		LogLevel:             "info",
		LogFormat:            "json",
		DataDir:              "/var/lib/vfsd",
		WatchIntervalSeconds: 3,
		MaxMessageSize:       32 << 20, // requests carry whole file contents
	}
}

// Load builds configuration from defaults, then the YAML file at path (if
// path is non-empty the file must exist), then environment overrides.
func Load(path string) (*Config, error) {
	cfg := defaults()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	cfg.ListenAddr = envOr("VFSD_LISTEN_ADDR", cfg.ListenAddr)
	cfg.MetricsAddr = envOr("VFSD_METRICS_ADDR", cfg.MetricsAddr)
	cfg.LogLevel = envOr("VFSD_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = envOr("VFSD_LOG_FORMAT", cfg.LogFormat)
	cfg.DataDir = envOr("VFSD_DATA_DIR", cfg.DataDir)
	cfg.WatchIntervalSeconds = envInt("VFSD_WATCH_INTERVAL_SECONDS", cfg.WatchIntervalSeconds)
	cfg.AuthToken = envOr("VFSD_AUTH_TOKEN", cfg.AuthToken)
	cfg.MaxMessageSize = envInt64("VFSD_MAX_MESSAGE_SIZE", cfg.MaxMessageSize)
	cfg.MaxReadSize = envInt64("VFSD_MAX_READ_SIZE", cfg.MaxReadSize)

	if cfg.DataDir == "" {
		return nil, fmt.Errorf("data_dir is required")
	}
	if cfg.WatchIntervalSeconds <= 0 {
		return nil, fmt.Errorf("watch_interval_seconds must be positive")
	}

	return cfg, nil
}

// WatchInterval returns the watcher poll interval as a duration.
func (c *Config) WatchInterval() time.Duration {
	return time.Duration(c.WatchIntervalSeconds) * time.Second
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return i
}

func envInt64(key string, fallback int64) int64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	i, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return fallback
	}
	return i
}
