package robot

import (
	"context"
	"errors"
	"fmt"

	"github.com/devrelay/devrelay-go/pkg/wire"
)

// ErrDeviceGone indicates the device backing a robot is no longer attached.
var ErrDeviceGone = errors.New("device no longer attached")

// Robot executes automation actions against one device.
// Implementations need not be safe for concurrent Execute calls: the
// dispatch layer guarantees at most one in-flight call per device.
type Robot interface {
	// Execute performs one action and returns its result data.
	// Failures should be *ActionError values so the dispatch layer can
	// classify them; any other error is treated as transient.
	Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error)

	// Close releases any resources held for the device.
	Close() error
}

// Factory creates a Robot for a device on first use.
type Factory func(deviceID string) (Robot, error)

// ActionError is a classified backend failure.
type ActionError struct {
	// Code places the failure in the wire taxonomy.
	Code wire.Code

	// Message describes the failure for the operator.
	Message string
}

// Error implements the error interface.
func (e *ActionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewActionError creates a classified backend failure.
func NewActionError(code wire.Code, format string, args ...any) *ActionError {
	return &ActionError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// Classify maps a backend error to its taxonomy code.
// Unclassified errors default to TRANSIENT so callers may retry; backends
// signal permanent conditions explicitly via ActionError.
func Classify(err error) wire.Code {
	var actionErr *ActionError
	if errors.As(err, &actionErr) {
		return actionErr.Code
	}
	if errors.Is(err, ErrDeviceGone) {
		return wire.CodeUserEnv
	}
	return wire.CodeTransient
}
