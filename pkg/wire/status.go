package wire

// Code classifies the failure carried by a result message.
// Codes are stable wire-level identifiers, not display strings.
type Code string

const (
	// CodeTransient indicates a temporary condition (network blip, backend
	// busy). Retrying the same command at a higher layer is safe.
	CodeTransient Code = "TRANSIENT"

	// CodePermanent indicates the command can never succeed as written
	// (invalid action, malformed params). Retrying will not help.
	CodePermanent Code = "PERMANENT"

	// CodeUserEnv indicates the local environment needs operator action
	// (device not found, device unauthorized).
	CodeUserEnv Code = "USER_ENV"

	// CodePermission indicates the backend denied the operation.
	CodePermission Code = "PERMISSION"

	// CodeUnsupported indicates the action is not implemented by the
	// backend handling the addressed device.
	CodeUnsupported Code = "UNSUPPORTED"

	// CodeTimeout indicates the per-command deadline expired before the
	// backend produced a result.
	CodeTimeout Code = "TIMEOUT"

	// CodeBackpressure indicates the device queue was full and the command
	// was rejected without being enqueued.
	CodeBackpressure Code = "BACKPRESSURE"

	// CodeConnectionLost indicates the command was drained during
	// reconnection or shutdown before execution started.
	CodeConnectionLost Code = "CONNECTION_LOST"
)

// IsValid reports whether c is a known error code.
func (c Code) IsValid() bool {
	switch c {
	case CodeTransient, CodePermanent, CodeUserEnv, CodePermission,
		CodeUnsupported, CodeTimeout, CodeBackpressure, CodeConnectionLost:
		return true
	default:
		return false
	}
}

// Retryable reports whether a command that failed with this code may be
// retried unchanged by the caller.
func (c Code) Retryable() bool {
	switch c {
	case CodeTransient, CodeTimeout, CodeBackpressure, CodeConnectionLost:
		return true
	default:
		return false
	}
}

// ErrorInfo is the error object embedded in a failed result message.
type ErrorInfo struct {
	Code    Code   `json:"code"`
	Message string `json:"message"`
}
