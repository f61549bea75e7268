package config_test

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/snehjoshi/remindq/internal/config"
)

func TestDefault_HasSensibleValues(t *testing.T) {
	cfg := config.Default()

	if cfg.Node.Port != 8080 {
		t.Errorf("expected default port 8080, got %d", cfg.Node.Port)
	}
	if cfg.Node.Host != "0.0.0.0" {
		t.Errorf("expected default host 0.0.0.0, got %s", cfg.Node.Host)
	}
	if cfg.Node.DataDir != "./data" {
		t.Errorf("expected default data_dir ./data, got %s", cfg.Node.DataDir)
	}
	if cfg.Storage.Driver != "file" {
		t.Errorf("expected default driver file, got %s", cfg.Storage.Driver)
	}
	if !cfg.Storage.Sync() {
		t.Error("fsync must be on by default")
	}
	if cfg.PollInterval() != 2*time.Second {
		t.Errorf("expected default poll interval 2s, got %s", cfg.PollInterval())
	}
	if cfg.MaxScheduleAhead() != 365*24*time.Hour {
		t.Errorf("expected default max_schedule_ahead 365d, got %s", cfg.MaxScheduleAhead())
	}
	if len(cfg.Webhook.RetryDelaysMs) != 3 {
		t.Errorf("expected 3 webhook retry delays, got %d", len(cfg.Webhook.RetryDelaysMs))
	}
	if cfg.Webhook.URL != "" {
		t.Error("webhook sink must be disabled by default")
	}
}

func TestLoad_MissingFile_ReturnsDefaults(t *testing.T) {
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("expected no error for missing file, got: %v", err)
	}
	if cfg.Node.Port != 8080 {
		t.Errorf("expected default port for missing file, got %d", cfg.Node.Port)
	}
}

func TestLoad_OverridesDefaults(t *testing.T) {
	yaml := `
node:
  port: 9999
  host: "127.0.0.1"
  data_dir: "/tmp/remindq_test"
storage:
  driver: sqlite
  fsync: "never"
reminders:
  poll_interval: 500ms
  max_schedule_ahead: 30d
webhook:
  url: "http://localhost:9000/hook"
  retry_delays_ms: [10, 20]
log:
  level: debug
  format: text
`
	path := writeTempYAML(t, yaml)

	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}

	if cfg.Node.Port != 9999 {
		t.Errorf("expected port 9999, got %d", cfg.Node.Port)
	}
	if cfg.Node.Host != "127.0.0.1" {
		t.Errorf("expected host 127.0.0.1, got %s", cfg.Node.Host)
	}
	if cfg.Storage.Driver != "sqlite" {
		t.Errorf("expected driver sqlite, got %s", cfg.Storage.Driver)
	}
	if cfg.Storage.Sync() {
		t.Error("expected fsync never")
	}
	if cfg.PollInterval() != 500*time.Millisecond {
		t.Errorf("expected poll interval 500ms, got %s", cfg.PollInterval())
	}
	if cfg.MaxScheduleAhead() != 30*24*time.Hour {
		t.Errorf("expected 30d, got %s", cfg.MaxScheduleAhead())
	}
	if got := cfg.RetryDelays(); len(got) != 2 || got[1] != 20*time.Millisecond {
		t.Errorf("RetryDelays = %v, want [10ms 20ms]", got)
	}
	// Unset fields keep their defaults.
	if cfg.Reminders.MaxMessageBytes != 4096 {
		t.Errorf("expected default max_message_bytes 4096 (unchanged), got %d", cfg.Reminders.MaxMessageBytes)
	}
	if cfg.Storage.Name != "reminders" {
		t.Errorf("expected default storage name, got %s", cfg.Storage.Name)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should be valid: %v", err)
	}
}

func TestLoad_InvalidYAML_ReturnsError(t *testing.T) {
	path := writeTempYAML(t, "node: [invalid: yaml: {{{}}")
	_, err := config.Load(path)
	if err == nil {
		t.Fatal("expected error for invalid YAML, got nil")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("REMINDQ_AUTH_API_KEY", "s3cret")
	t.Setenv("REMINDQ_DATA_DIR", "/var/lib/remindq")
	t.Setenv("REMINDQ_PORT", "7070")
	t.Setenv("REMINDQ_STORAGE_DRIVER", "bolt")
	t.Setenv("REMINDQ_LOG_LEVEL", "warn")

	path := writeTempYAML(t, "node:\n  port: 9999\n")
	cfg, err := config.Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !cfg.Auth.Enabled || cfg.Auth.APIKey != "s3cret" {
		t.Errorf("auth = %+v, want enabled with key", cfg.Auth)
	}
	if cfg.Node.DataDir != "/var/lib/remindq" {
		t.Errorf("data_dir = %s", cfg.Node.DataDir)
	}
	if cfg.Node.Port != 7070 {
		t.Errorf("env port should win over file, got %d", cfg.Node.Port)
	}
	if cfg.Storage.Driver != "bolt" {
		t.Errorf("driver = %s, want bolt", cfg.Storage.Driver)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("log level = %s, want warn", cfg.Log.Level)
	}
}

func TestValidate_ValidConfig(t *testing.T) {
	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Errorf("Default config should be valid, got: %v", err)
	}
}

func TestValidate_Rejects(t *testing.T) {
	cases := map[string]func(*config.Config){
		"port 0":             func(c *config.Config) { c.Node.Port = 0 },
		"port 99999":         func(c *config.Config) { c.Node.Port = 99999 },
		"empty data_dir":     func(c *config.Config) { c.Node.DataDir = "" },
		"unknown driver":     func(c *config.Config) { c.Storage.Driver = "mongo" },
		"unknown fsync":      func(c *config.Config) { c.Storage.Fsync = "magic" },
		"negative msg bytes": func(c *config.Config) { c.Reminders.MaxMessageBytes = -1 },
		"bad ahead":          func(c *config.Config) { c.Reminders.MaxScheduleAhead = "soon" },
		"zero poll":          func(c *config.Config) { c.Reminders.PollInterval = "0s" },
		"auth without key":   func(c *config.Config) { c.Auth.Enabled = true },
		"zero rps":           func(c *config.Config) { c.RateLimit.RPS = 0 },
		"negative retry":     func(c *config.Config) { c.Webhook.RetryDelaysMs = []int{-1} },
		"webhook no timeout": func(c *config.Config) { c.Webhook.URL = "http://x"; c.Webhook.TimeoutMs = 0 },
		"bad log level":      func(c *config.Config) { c.Log.Level = "loud" },
		"bad log format":     func(c *config.Config) { c.Log.Format = "xml" },
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			cfg := config.Default()
			mutate(cfg)
			if err := cfg.Validate(); err == nil {
				t.Errorf("expected validation error")
			}
		})
	}
}

func TestValidate_RateLimitDisabledIgnoresValues(t *testing.T) {
	cfg := config.Default()
	cfg.RateLimit.Enabled = false
	cfg.RateLimit.RPS = 0
	if err := cfg.Validate(); err != nil {
		t.Errorf("disabled rate limit should not be validated: %v", err)
	}
}

func TestParseDuration(t *testing.T) {
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"", 0, true},
		{"0", 0, true},
		{"90d", 90 * 24 * time.Hour, true},
		{"1h30m", 90 * time.Minute, true},
		{" 2s ", 2 * time.Second, true},
		{"1.5d", 0, false},
		{"-1d", 0, false},
		{"-5s", 0, false},
		{"later", 0, false},
	}
	for _, tc := range cases {
		got, err := config.ParseDuration(tc.in)
		if (err == nil) != tc.ok {
			t.Errorf("ParseDuration(%q) err = %v, want ok=%v", tc.in, err, tc.ok)
			continue
		}
		if tc.ok && got != tc.want {
			t.Errorf("ParseDuration(%q) = %s, want %s", tc.in, got, tc.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := config.ParseLevel("DEBUG"); err != nil || l != slog.LevelDebug {
		t.Errorf("ParseLevel(DEBUG) = %v, %v", l, err)
	}
	if l, err := config.ParseLevel(""); err != nil || l != slog.LevelInfo {
		t.Errorf("ParseLevel(\"\") = %v, %v", l, err)
	}
	if _, err := config.ParseLevel("verbose"); err == nil {
		t.Error("expected error for unknown level")
	}
}

// writeTempYAML writes content to a temp file and returns its path.
func writeTempYAML(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writeTempYAML: %v", err)
	}
	return path
}
