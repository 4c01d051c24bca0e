package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
	return path
}

func TestDefaults(t *testing.T) {
	cfg := Default()

	if cfg.Provider != "LOCAL_AGENT" {
		t.Errorf("unexpected provider: %s", cfg.Provider)
	}
	if cfg.Retry.BaseDelay.Std() != time.Second {
		t.Errorf("unexpected base delay: %v", cfg.Retry.BaseDelay.Std())
	}
	if cfg.Retry.MaxDelay.Std() != 60*time.Second {
		t.Errorf("unexpected max delay: %v", cfg.Retry.MaxDelay.Std())
	}
	if cfg.Retry.MaxAttempts != 0 {
		t.Error("default retry should be unbounded")
	}
	if cfg.Dispatch.QueueDepth <= 0 {
		t.Error("queue depth default must be positive")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("unexpected log level: %s", cfg.Log.Level)
	}
}

func TestLoadFile(t *testing.T) {
	path := writeConfigFile(t, `
endpoint: http://controller:8003
deviceId: bench-7
retry:
  baseDelay: 500ms
  maxDelay: 30s
  maxAttempts: 5
dispatch:
  commandDeadline: 90s
  queueDepth: 4
log:
  level: debug
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Endpoint != "http://controller:8003" {
		t.Errorf("unexpected endpoint: %s", cfg.Endpoint)
	}
	if cfg.DeviceID != "bench-7" {
		t.Errorf("unexpected device id: %s", cfg.DeviceID)
	}
	if cfg.Retry.BaseDelay.Std() != 500*time.Millisecond {
		t.Errorf("unexpected base delay: %v", cfg.Retry.BaseDelay.Std())
	}
	if cfg.Retry.MaxAttempts != 5 {
		t.Errorf("unexpected max attempts: %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Dispatch.CommandDeadline.Std() != 90*time.Second {
		t.Errorf("unexpected command deadline: %v", cfg.Dispatch.CommandDeadline.Std())
	}
	if cfg.Dispatch.QueueDepth != 4 {
		t.Errorf("unexpected queue depth: %d", cfg.Dispatch.QueueDepth)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("unexpected log level: %s", cfg.Log.Level)
	}

	// Untouched sections keep their defaults.
	if cfg.Health.Interval.Std() != 30*time.Second {
		t.Errorf("health defaults should survive partial files, got %v", cfg.Health.Interval.Std())
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("loaded config should validate: %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Error("expected an error for a missing file")
	}
}

func TestLoadBadDuration(t *testing.T) {
	path := writeConfigFile(t, "retry:\n  baseDelay: soon\n")
	if _, err := Load(path); err == nil || !strings.Contains(err.Error(), "soon") {
		t.Errorf("expected a duration parse error, got %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("DEVRELAY_ENDPOINT", "http://env-controller:8003")
	t.Setenv("DEVRELAY_LOG_LEVEL", "warn")
	t.Setenv("DEVRELAY_MAX_ATTEMPTS", "3")
	t.Setenv("DEVRELAY_COMMAND_DEADLINE", "15s")

	path := writeConfigFile(t, "endpoint: http://file-controller:8003\n")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Endpoint != "http://env-controller:8003" {
		t.Errorf("environment should win over the file, got %s", cfg.Endpoint)
	}
	if cfg.Log.Level != "warn" {
		t.Errorf("unexpected log level: %s", cfg.Log.Level)
	}
	if cfg.Retry.MaxAttempts != 3 {
		t.Errorf("unexpected max attempts: %d", cfg.Retry.MaxAttempts)
	}
	if cfg.Dispatch.CommandDeadline.Std() != 15*time.Second {
		t.Errorf("unexpected command deadline: %v", cfg.Dispatch.CommandDeadline.Std())
	}
}

func TestEnvBadValue(t *testing.T) {
	t.Setenv("DEVRELAY_MAX_ATTEMPTS", "many")
	if _, err := Load(""); err == nil {
		t.Error("expected an error for a non-numeric DEVRELAY_MAX_ATTEMPTS")
	}
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		cfg := Default()
		cfg.Endpoint = "http://controller:8003"
		return cfg
	}

	baseline := valid()
	if err := baseline.Validate(); err != nil {
		t.Fatalf("baseline config should validate: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing endpoint", func(c *Config) { c.Endpoint = "" }},
		{"bad endpoint", func(c *Config) { c.Endpoint = "not a url" }},
		{"zero base delay", func(c *Config) { c.Retry.BaseDelay = 0 }},
		{"max below base", func(c *Config) { c.Retry.MaxDelay = c.Retry.BaseDelay / 2 }},
		{"multiplier below one", func(c *Config) { c.Retry.Multiplier = 0.5 }},
		{"jitter above one", func(c *Config) { c.Retry.JitterFraction = 1.5 }},
		{"negative attempts", func(c *Config) { c.Retry.MaxAttempts = -1 }},
		{"ack timeout above interval", func(c *Config) {
			c.Health.AckTimeout = c.Health.Interval + Duration(time.Second)
		}},
		{"zero queue depth", func(c *Config) { c.Dispatch.QueueDepth = 0 }},
		{"zero dedup window", func(c *Config) { c.Dispatch.DedupWindow = 0 }},
		{"unknown log level", func(c *Config) { c.Log.Level = "verbose" }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := valid()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Error("expected a validation error")
			}
		})
	}
}

func TestConnectionConfigMapping(t *testing.T) {
	cfg := Default()
	cfg.Retry.MaxAttempts = 7

	cc := cfg.ConnectionConfig()
	if cc.Backoff.BaseDelay != time.Second || cc.Backoff.MaxAttempts != 7 {
		t.Errorf("unexpected backoff mapping: %+v", cc.Backoff)
	}
	if cc.Health.Interval != 30*time.Second {
		t.Errorf("unexpected health mapping: %+v", cc.Health)
	}

	dc := cfg.DispatchConfig()
	if dc.QueueDepth != cfg.Dispatch.QueueDepth || dc.CommandDeadline != cfg.Dispatch.CommandDeadline.Std() {
		t.Errorf("unexpected dispatch mapping: %+v", dc)
	}
}
