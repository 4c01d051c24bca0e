package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes agent events to an slog.Logger.
// Useful for development when you want to see events in the console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger.
// Drops and errors are logged at Warn level, everything else at Debug.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("conn_id", event.ConnectionID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.DeviceID != "" {
		attrs = append(attrs, slog.String("device_id", event.DeviceID))
	}
	if event.RemoteAddr != "" {
		attrs = append(attrs, slog.String("remote_addr", event.RemoteAddr))
	}

	level := slog.LevelDebug

	// Add type-specific attributes
	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Int("frame_size", event.Frame.Size),
			slog.Bool("truncated", event.Frame.Truncated),
		)
	case event.Message != nil:
		attrs = append(attrs,
			slog.String("msg_type", event.Message.Type),
			slog.String("cmd_id", event.Message.CommandID),
		)
		if event.Message.Action != "" {
			attrs = append(attrs, slog.String("action", event.Message.Action))
		}
		if event.Message.Success != nil {
			attrs = append(attrs, slog.Bool("success", *event.Message.Success))
		}
		if event.Message.Code != "" {
			attrs = append(attrs, slog.String("code", event.Message.Code))
		}
		if event.Message.Replayed {
			attrs = append(attrs, slog.Bool("replayed", true))
		}
		if event.Message.ProcessingTime != nil {
			attrs = append(attrs, slog.Duration("processing_time", *event.Message.ProcessingTime))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
		if event.StateChange.Attempt > 0 {
			attrs = append(attrs, slog.Int("attempt", event.StateChange.Attempt))
		}
	case event.Probe != nil:
		attrs = append(attrs,
			slog.String("probe", event.Probe.Kind.String()),
			slog.String("probe_id", event.Probe.ProbeID),
		)
		if event.Probe.Latency != nil {
			attrs = append(attrs, slog.Duration("latency", *event.Probe.Latency))
		}
		if event.Probe.Missed > 0 {
			attrs = append(attrs, slog.Int("missed", event.Probe.Missed))
		}
	case event.Drop != nil:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("drop", event.Drop.Kind.String()),
			slog.String("cmd_id", event.Drop.CommandID),
			slog.String("reason", event.Drop.Reason),
		)
	case event.Error != nil:
		level = slog.LevelWarn
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
			slog.String("error_context", event.Error.Context),
		)
	}

	a.logger.LogAttrs(context.Background(), level, "agent", attrs...)
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
