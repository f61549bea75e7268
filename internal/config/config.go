// Package config holds all configuration types and loading logic for remindq.
// Fields are only added, never renamed or removed.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration for a remindq daemon.
type Config struct {
	Node      NodeConfig      `yaml:"node"`
	Storage   StorageConfig   `yaml:"storage"`
	Reminders ReminderConfig  `yaml:"reminders"`
	Auth      AuthConfig      `yaml:"auth"`
	Metrics   MetricsConfig   `yaml:"metrics"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Webhook   WebhookConfig   `yaml:"webhook"`
	Log       LogConfig       `yaml:"log"`
}

// NodeConfig holds network settings and the data directory.
type NodeConfig struct {
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
	DataDir string `yaml:"data_dir"`
}

// FsyncPolicy controls whether store writes are flushed to physical disk
// before they are acknowledged.
type FsyncPolicy string

const (
	FsyncAlways FsyncPolicy = "always" // default
	FsyncNever  FsyncPolicy = "never"  // fastest, unsafe (dev/test only)
)

// StorageConfig selects and tunes the reminder store backend.
type StorageConfig struct {
	// Driver is one of "file", "bolt", "sqlite" or "memory".
	Driver string `yaml:"driver"`
	// Name is the file stem inside node.data_dir.
	Name  string      `yaml:"name"`
	Fsync FsyncPolicy `yaml:"fsync"`
}

// Sync reports whether writes should be fsynced.
func (s StorageConfig) Sync() bool { return s.Fsync != FsyncNever }

// ReminderConfig sets limits on scheduling and the dispatcher cadence.
type ReminderConfig struct {
	MaxMessageBytes int `yaml:"max_message_bytes"`
	// MaxScheduleAhead caps how far in the future a reminder can be set.
	// Empty or "0" disables the cap.
	MaxScheduleAhead string `yaml:"max_schedule_ahead"`
	// PollInterval is how often the dispatcher drains due reminders.
	PollInterval string `yaml:"poll_interval"`
}

// AuthConfig controls API key authentication.
type AuthConfig struct {
	Enabled bool   `yaml:"enabled"`
	APIKey  string `yaml:"api_key"`
}

// MetricsConfig controls the Prometheus metrics endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	// Port runs a dedicated listener. 0 serves /metrics on the main port only.
	Port int `yaml:"port"`
}

// RateLimitConfig sets the per-client-IP token bucket on the HTTP API.
type RateLimitConfig struct {
	Enabled bool    `yaml:"enabled"`
	RPS     float64 `yaml:"rps"`
	Burst   int     `yaml:"burst"`
}

// WebhookConfig controls the optional webhook delivery sink.
// The sink is disabled while URL is empty.
type WebhookConfig struct {
	URL    string `yaml:"url"`
	Secret string `yaml:"secret"`
	// RetryDelaysMs is the list of delays between successive retry attempts.
	RetryDelaysMs []int `yaml:"retry_delays_ms"`
	TimeoutMs     int   `yaml:"timeout_ms"`
}

// LogConfig controls the process-wide slog handler.
type LogConfig struct {
	Level  string `yaml:"level"`  // debug | info | warn | error
	Format string `yaml:"format"` // json | text
}

// Default returns a Config populated with safe, sensible defaults.
// It is the canonical source of truth for default values.
func Default() *Config {
	return &Config{
		Node: NodeConfig{
			Host:    "0.0.0.0",
			Port:    8080,
			DataDir: "./data",
		},
		Storage: StorageConfig{
			Driver: "file",
			Name:   "reminders",
			Fsync:  FsyncAlways,
		},
		Reminders: ReminderConfig{
			MaxMessageBytes:  4096,
			MaxScheduleAhead: "365d",
			PollInterval:     "2s",
		},
		Auth: AuthConfig{
			Enabled: false,
			APIKey:  "",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
		RateLimit: RateLimitConfig{
			Enabled: true,
			RPS:     100,
			Burst:   200,
		},
		Webhook: WebhookConfig{
			RetryDelaysMs: []int{1_000, 5_000, 30_000},
			TimeoutMs:     5_000,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// If the file does not exist the default config is returned without error.
//
// After loading the file, environment variables are applied as overrides:
//
//	REMINDQ_AUTH_API_KEY    sets auth.api_key and enables auth
//	REMINDQ_DATA_DIR        sets node.data_dir
//	REMINDQ_PORT            sets node.port
//	REMINDQ_STORAGE_DRIVER  sets storage.driver
//	REMINDQ_LOG_LEVEL       sets log.level
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

// applyEnv overlays environment variable overrides onto cfg.
func applyEnv(cfg *Config) {
	if v := os.Getenv("REMINDQ_AUTH_API_KEY"); v != "" {
		cfg.Auth.APIKey = v
		cfg.Auth.Enabled = true
	}
	if v := os.Getenv("REMINDQ_DATA_DIR"); v != "" {
		cfg.Node.DataDir = v
	}
	if v := os.Getenv("REMINDQ_PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil && p > 0 {
			cfg.Node.Port = p
		}
	}
	if v := os.Getenv("REMINDQ_STORAGE_DRIVER"); v != "" {
		cfg.Storage.Driver = v
	}
	if v := os.Getenv("REMINDQ_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
}

// Validate checks that the config values are consistent and within acceptable
// ranges. It returns the first error found.
func (c *Config) Validate() error {
	if c.Node.Port < 1 || c.Node.Port > 65535 {
		return errors.New("node.port must be between 1 and 65535")
	}
	if c.Node.DataDir == "" {
		return errors.New("node.data_dir must not be empty")
	}
	switch strings.ToLower(c.Storage.Driver) {
	case "", "file", "json", "bolt", "bbolt", "sqlite", "sqlite3", "memory":
	default:
		return fmt.Errorf("storage.driver %q is not supported", c.Storage.Driver)
	}
	switch c.Storage.Fsync {
	case FsyncAlways, FsyncNever:
	default:
		return errors.New(`storage.fsync must be one of "always", "never"`)
	}
	if c.Reminders.MaxMessageBytes < 0 {
		return errors.New("reminders.max_message_bytes must be >= 0")
	}
	if _, err := ParseDuration(c.Reminders.MaxScheduleAhead); err != nil {
		return fmt.Errorf("reminders.max_schedule_ahead: %w", err)
	}
	if d, err := ParseDuration(c.Reminders.PollInterval); err != nil {
		return fmt.Errorf("reminders.poll_interval: %w", err)
	} else if d <= 0 {
		return errors.New("reminders.poll_interval must be positive")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return errors.New("auth.api_key must be set when auth is enabled")
	}
	if c.Metrics.Port < 0 || c.Metrics.Port > 65535 {
		return errors.New("metrics.port must be between 0 and 65535")
	}
	if c.RateLimit.Enabled && (c.RateLimit.RPS <= 0 || c.RateLimit.Burst < 1) {
		return errors.New("rate_limit.rps must be positive and rate_limit.burst at least 1")
	}
	for _, ms := range c.Webhook.RetryDelaysMs {
		if ms < 0 {
			return errors.New("webhook.retry_delays_ms must not contain negative values")
		}
	}
	if c.Webhook.URL != "" && c.Webhook.TimeoutMs < 1 {
		return errors.New("webhook.timeout_ms must be at least 1")
	}
	if _, err := ParseLevel(c.Log.Level); err != nil {
		return err
	}
	switch c.Log.Format {
	case "json", "text":
	default:
		return errors.New(`log.format must be one of "json", "text"`)
	}
	return nil
}

// PollInterval returns reminders.poll_interval parsed. Call after Validate.
func (c *Config) PollInterval() time.Duration {
	d, _ := ParseDuration(c.Reminders.PollInterval)
	return d
}

// MaxScheduleAhead returns reminders.max_schedule_ahead parsed, 0 meaning no cap.
func (c *Config) MaxScheduleAhead() time.Duration {
	d, _ := ParseDuration(c.Reminders.MaxScheduleAhead)
	return d
}

// RetryDelays converts webhook.retry_delays_ms to durations.
func (c *Config) RetryDelays() []time.Duration {
	out := make([]time.Duration, len(c.Webhook.RetryDelaysMs))
	for i, ms := range c.Webhook.RetryDelaysMs {
		out[i] = time.Duration(ms) * time.Millisecond
	}
	return out
}

// ParseDuration accepts time.ParseDuration syntax plus a whole-number "d" day
// suffix ("90d"). The empty string parses as zero.
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if days, ok := strings.CutSuffix(s, "d"); ok {
		n, err := strconv.Atoi(days)
		if err != nil || n < 0 {
			return 0, fmt.Errorf("invalid duration %q", s)
		}
		return time.Duration(n) * 24 * time.Hour, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration %q: negative", s)
	}
	return d, nil
}

// ParseLevel maps a log.level string to a slog.Level.
func ParseLevel(s string) (slog.Level, error) {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("log.level %q is not one of debug, info, warn, error", s)
}
