// Command devrelay-agent is the device automation agent.
//
// It opens a long-lived, authenticated WebSocket session to a controller,
// executes commands addressed to locally attached devices, and returns
// correlated results, reconnecting with backoff whenever the connection
// or the session credentials fail.
//
// Usage:
//
//	devrelay-agent [flags]
//
// Flags:
//
//	-endpoint string    Controller base URL (e.g. http://controller:8003)
//	-config string      Configuration file path (YAML)
//	-device-id string   Agent identity (auto-generated if empty)
//	-log-level string   Log level: debug, info, warn, error
//	-log-file string    Binary event log file path (CBOR)
//	-env string         Dotenv file to load (default ".env", missing is fine)
//	-simulate           Use the simulated device backend (default true)
//	-interactive        Start a local console for injecting commands
//
// Examples:
//
//	# Connect to a local controller with the simulated backend
//	devrelay-agent -endpoint http://localhost:8003
//
//	# Production-style config file plus an event log
//	devrelay-agent -config /etc/devrelay/agent.yaml -log-file agent.cbor
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	stdlog "log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/devrelay/devrelay-go/pkg/agent"
	"github.com/devrelay/devrelay-go/pkg/config"
	"github.com/devrelay/devrelay-go/pkg/connection"
	"github.com/devrelay/devrelay-go/pkg/log"
	"github.com/devrelay/devrelay-go/pkg/robot/sim"
)

var flags struct {
	Endpoint    string
	ConfigFile  string
	DeviceID    string
	LogLevel    string
	LogFile     string
	EnvFile     string
	Simulate    bool
	Interactive bool
}

func init() {
	flag.StringVar(&flags.Endpoint, "endpoint", "", "Controller base URL")
	flag.StringVar(&flags.ConfigFile, "config", "", "Configuration file path (YAML)")
	flag.StringVar(&flags.DeviceID, "device-id", "", "Agent identity (auto-generated if empty)")
	flag.StringVar(&flags.LogLevel, "log-level", "", "Log level: debug, info, warn, error")
	flag.StringVar(&flags.LogFile, "log-file", "", "Binary event log file path (CBOR)")
	flag.StringVar(&flags.EnvFile, "env", ".env", "Dotenv file to load")
	flag.BoolVar(&flags.Simulate, "simulate", true, "Use the simulated device backend")
	flag.BoolVar(&flags.Interactive, "interactive", false, "Start a local console for injecting commands")
}

func main() {
	flag.Parse()

	// Dotenv feeds the DEVRELAY_* overrides; a missing file is not an error.
	if flags.EnvFile != "" {
		if err := godotenv.Load(flags.EnvFile); err != nil && !os.IsNotExist(err) {
			stdlog.Fatalf("Failed to load %s: %v", flags.EnvFile, err)
		}
	}

	cfg, err := config.Load(flags.ConfigFile)
	if err != nil {
		stdlog.Fatalf("Failed to load configuration: %v", err)
	}
	if flags.Endpoint != "" {
		cfg.Endpoint = flags.Endpoint
	}
	if flags.DeviceID != "" {
		cfg.DeviceID = flags.DeviceID
	}
	if flags.LogLevel != "" {
		cfg.Log.Level = flags.LogLevel
	}
	if flags.LogFile != "" {
		cfg.Log.File = flags.LogFile
	}
	if err := cfg.Validate(); err != nil {
		stdlog.Fatalf("Invalid configuration: %v", err)
	}

	logger, cleanup, err := buildLogger(cfg.Log)
	if err != nil {
		stdlog.Fatalf("Failed to set up logging: %v", err)
	}
	defer cleanup()

	if !flags.Simulate {
		stdlog.Fatal("No real device backend is built into this binary; run with -simulate")
	}

	a, err := agent.New(cfg, sim.Factory(sim.Config{}), logger)
	if err != nil {
		stdlog.Fatalf("Failed to create agent: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Printf("devrelay-agent connecting to %s as %s\n", cfg.Endpoint, a.Sessions().DeviceID())

	if flags.Interactive {
		console, consoleErr := newConsole(a)
		if consoleErr != nil {
			stdlog.Fatalf("Failed to start console: %v", consoleErr)
		}
		go console.Run(ctx, cancel)
	}

	err = a.Run(ctx)
	switch {
	case err == nil:
		fmt.Println("Agent stopped")
	case errors.Is(err, connection.ErrRetriesExhausted):
		stdlog.Fatalf("Connection retries exhausted, giving up")
	default:
		stdlog.Fatalf("Agent failed: %v", err)
	}
}

// buildLogger assembles the event logger: slog to stderr, plus the CBOR
// file logger when configured.
func buildLogger(cfg config.Log) (log.Logger, func(), error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	console := log.NewSlogAdapter(slog.New(handler))

	if cfg.File == "" {
		return console, func() {}, nil
	}

	file, err := log.NewFileLogger(cfg.File)
	if err != nil {
		return nil, nil, err
	}
	return log.NewMultiLogger(console, file), func() { _ = file.Close() }, nil
}
