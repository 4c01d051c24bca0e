// Package config loads the agent configuration from a YAML file with
// environment-variable overrides.
//
// Precedence, lowest to highest: built-in defaults, the YAML file, then
// DEVRELAY_* environment variables. The result is validated once at
// startup and treated as immutable afterwards.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/devrelay/devrelay-go/pkg/connection"
	"github.com/devrelay/devrelay-go/pkg/dispatch"
)

// Duration is a time.Duration that unmarshals from YAML strings like "30s".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	*d = Duration(parsed)
	return nil
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

// Retry configures connection retry backoff.
type Retry struct {
	BaseDelay      Duration `yaml:"baseDelay"`
	MaxDelay       Duration `yaml:"maxDelay"`
	Multiplier     float64  `yaml:"multiplier"`
	JitterFraction float64  `yaml:"jitterFraction"`
	MaxAttempts    int      `yaml:"maxAttempts"`
}

// Health configures the connection health prober.
type Health struct {
	Interval   Duration `yaml:"interval"`
	AckTimeout Duration `yaml:"ackTimeout"`
}

// Dispatch configures command dispatch limits.
type Dispatch struct {
	CommandDeadline    Duration `yaml:"commandDeadline"`
	QueueDepth         int      `yaml:"queueDepth"`
	QueueIdleTimeout   Duration `yaml:"queueIdleTimeout"`
	DedupWindow        Duration `yaml:"dedupWindow"`
	DedupMaxEntries    int      `yaml:"dedupMaxEntries"`
	OutboundBufferSize int      `yaml:"outboundBufferSize"`
}

// Session configures credential acquisition.
type Session struct {
	RenewalMargin Duration `yaml:"renewalMargin"`
}

// Log configures agent logging output.
type Log struct {
	Level string `yaml:"level"`
	File  string `yaml:"file"`
}

// Config is the complete agent configuration.
type Config struct {
	// Endpoint is the controller base URL hosting the session REST API.
	Endpoint string `yaml:"endpoint"`

	// DeviceID identifies this agent towards the controller.
	// Empty generates an id at startup.
	DeviceID string `yaml:"deviceId"`

	// Provider names the agent flavor reported at session creation.
	Provider string `yaml:"provider"`

	// Platform is the device platform reported at session creation.
	Platform string `yaml:"platform"`

	// ConnectTimeout bounds a single dial attempt.
	ConnectTimeout Duration `yaml:"connectTimeout"`

	Retry    Retry    `yaml:"retry"`
	Health   Health   `yaml:"health"`
	Dispatch Dispatch `yaml:"dispatch"`
	Session  Session  `yaml:"session"`
	Log      Log      `yaml:"log"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Provider:       "LOCAL_AGENT",
		Platform:       "android",
		ConnectTimeout: Duration(10 * time.Second),
		Retry: Retry{
			BaseDelay:      Duration(time.Second),
			MaxDelay:       Duration(60 * time.Second),
			Multiplier:     2.0,
			JitterFraction: 0.1,
			MaxAttempts:    0,
		},
		Health: Health{
			Interval:   Duration(30 * time.Second),
			AckTimeout: Duration(5 * time.Second),
		},
		Dispatch: Dispatch{
			CommandDeadline:    Duration(dispatch.DefaultCommandDeadline),
			QueueDepth:         dispatch.DefaultQueueDepth,
			QueueIdleTimeout:   Duration(dispatch.DefaultQueueIdleTimeout),
			DedupWindow:        Duration(dispatch.DefaultDedupWindow),
			DedupMaxEntries:    dispatch.DefaultDedupMaxEntries,
			OutboundBufferSize: dispatch.DefaultOutboundBufferSize,
		},
		Session: Session{
			RenewalMargin: Duration(5 * time.Minute),
		},
		Log: Log{
			Level: "info",
		},
	}
}

// Load reads the YAML file at path on top of the defaults and applies
// environment overrides. An empty path skips the file and uses defaults
// plus environment only. Callers apply any remaining overrides (command
// line flags) and then Validate before use.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.applyEnv(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overlays DEVRELAY_* environment variables.
func (c *Config) applyEnv() error {
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	setString("DEVRELAY_ENDPOINT", &c.Endpoint)
	setString("DEVRELAY_DEVICE_ID", &c.DeviceID)
	setString("DEVRELAY_PROVIDER", &c.Provider)
	setString("DEVRELAY_PLATFORM", &c.Platform)
	setString("DEVRELAY_LOG_LEVEL", &c.Log.Level)
	setString("DEVRELAY_LOG_FILE", &c.Log.File)

	if v := os.Getenv("DEVRELAY_MAX_ATTEMPTS"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("DEVRELAY_MAX_ATTEMPTS: %w", err)
		}
		c.Retry.MaxAttempts = n
	}
	if v := os.Getenv("DEVRELAY_COMMAND_DEADLINE"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("DEVRELAY_COMMAND_DEADLINE: %w", err)
		}
		c.Dispatch.CommandDeadline = Duration(d)
	}
	return nil
}

// Validate checks the configuration for internal consistency.
func (c *Config) Validate() error {
	if c.Endpoint == "" {
		return errors.New("endpoint is required")
	}
	u, err := url.Parse(c.Endpoint)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("endpoint %q is not a valid URL", c.Endpoint)
	}

	if c.Retry.BaseDelay <= 0 {
		return errors.New("retry.baseDelay must be positive")
	}
	if c.Retry.MaxDelay < c.Retry.BaseDelay {
		return errors.New("retry.maxDelay must be at least retry.baseDelay")
	}
	if c.Retry.Multiplier < 1 {
		return errors.New("retry.multiplier must be at least 1")
	}
	if c.Retry.JitterFraction < 0 || c.Retry.JitterFraction > 1 {
		return errors.New("retry.jitterFraction must be within [0, 1]")
	}
	if c.Retry.MaxAttempts < 0 {
		return errors.New("retry.maxAttempts must not be negative")
	}

	if c.Health.Interval <= 0 {
		return errors.New("health.interval must be positive")
	}
	if c.Health.AckTimeout <= 0 || c.Health.AckTimeout >= c.Health.Interval {
		return errors.New("health.ackTimeout must be positive and below health.interval")
	}

	if c.Dispatch.CommandDeadline <= 0 {
		return errors.New("dispatch.commandDeadline must be positive")
	}
	if c.Dispatch.QueueDepth <= 0 {
		return errors.New("dispatch.queueDepth must be positive")
	}
	if c.Dispatch.DedupWindow <= 0 {
		return errors.New("dispatch.dedupWindow must be positive")
	}
	if c.Dispatch.DedupMaxEntries <= 0 {
		return errors.New("dispatch.dedupMaxEntries must be positive")
	}
	if c.Dispatch.OutboundBufferSize <= 0 {
		return errors.New("dispatch.outboundBufferSize must be positive")
	}

	if c.Session.RenewalMargin < 0 {
		return errors.New("session.renewalMargin must not be negative")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level %q is not one of debug, info, warn, error", c.Log.Level)
	}
	return nil
}

// ConnectionConfig maps the configuration to the connection manager's.
func (c *Config) ConnectionConfig() connection.Config {
	return connection.Config{
		Backoff: connection.BackoffConfig{
			BaseDelay:      c.Retry.BaseDelay.Std(),
			MaxDelay:       c.Retry.MaxDelay.Std(),
			Multiplier:     c.Retry.Multiplier,
			JitterFraction: c.Retry.JitterFraction,
			MaxAttempts:    c.Retry.MaxAttempts,
		},
		ConnectTimeout: c.ConnectTimeout.Std(),
		Health: connection.HealthConfig{
			Interval:   c.Health.Interval.Std(),
			AckTimeout: c.Health.AckTimeout.Std(),
		},
	}
}

// DispatchConfig maps the configuration to the dispatcher's.
func (c *Config) DispatchConfig() dispatch.Config {
	return dispatch.Config{
		CommandDeadline:    c.Dispatch.CommandDeadline.Std(),
		QueueDepth:         c.Dispatch.QueueDepth,
		QueueIdleTimeout:   c.Dispatch.QueueIdleTimeout.Std(),
		DedupWindow:        c.Dispatch.DedupWindow.Std(),
		DedupMaxEntries:    c.Dispatch.DedupMaxEntries,
		OutboundBufferSize: c.Dispatch.OutboundBufferSize,
	}
}
