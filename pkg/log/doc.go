// Package log provides structured event logging for the agent.
//
// Every observable occurrence — connection state transitions, frames on the
// wire, health probes, command dispatch decisions, dropped outcomes — is an
// Event delivered to a Logger. Applications choose where events go:
//
//   - FileLogger writes compact CBOR records for offline analysis
//   - SlogAdapter renders events through log/slog for the console
//   - MultiLogger fans out to several sinks at once
//   - NoopLogger discards everything
//
// Reader streams events back out of a CBOR log file with optional filtering.
package log
