package wire

import (
	"time"
)

// Type identifies the kind of message in a frame.
type Type string

const (
	// TypeCommand is a remote command addressed to a device.
	TypeCommand Type = "command"

	// TypeResult is the correlated outcome of a command.
	TypeResult Type = "result"

	// TypePing is a health probe.
	TypePing Type = "ping"

	// TypePong acknowledges a ping, echoing its id.
	TypePong Type = "pong"

	// TypeStatus is an agent status report (device inventory, agent state).
	TypeStatus Type = "status"
)

// IsValid reports whether t is a known message type.
func (t Type) IsValid() bool {
	switch t {
	case TypeCommand, TypeResult, TypePing, TypePong, TypeStatus:
		return true
	default:
		return false
	}
}

// Message is the JSON envelope carried in every frame.
// Optional fields are pointers or omitempty so a command, result, and probe
// all share one wire shape.
type Message struct {
	ID        string         `json:"id"`
	Type      Type           `json:"type"`
	DeviceID  string         `json:"deviceId,omitempty"`
	Action    string         `json:"action,omitempty"`
	Params    map[string]any `json:"params,omitempty"`
	Success   *bool          `json:"success,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Error     *ErrorInfo     `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Command is a validated, decoded command ready for dispatch.
// Identity is ID: two commands with the same ID inside the dedup window are
// the same logical request.
type Command struct {
	ID         string
	DeviceID   string
	Action     string
	Params     map[string]any
	ReceivedAt time.Time
}

// Outcome is the single terminal result produced for an accepted command.
type Outcome struct {
	ID          string
	Success     bool
	Data        map[string]any
	Error       *ErrorInfo
	CompletedAt time.Time
}

// Message converts the outcome to its wire envelope.
func (o *Outcome) Message() *Message {
	success := o.Success
	return &Message{
		ID:        o.ID,
		Type:      TypeResult,
		Success:   &success,
		Data:      o.Data,
		Error:     o.Error,
		Timestamp: o.CompletedAt,
	}
}

// SuccessOutcome builds a successful outcome for the given command id.
func SuccessOutcome(id string, data map[string]any) *Outcome {
	return &Outcome{
		ID:          id,
		Success:     true,
		Data:        data,
		CompletedAt: time.Now(),
	}
}

// ErrorOutcome builds a failed outcome carrying a taxonomy code.
func ErrorOutcome(id string, code Code, message string) *Outcome {
	return &Outcome{
		ID:          id,
		Success:     false,
		Error:       &ErrorInfo{Code: code, Message: message},
		CompletedAt: time.Now(),
	}
}

// NewPing builds a health probe with the given id.
func NewPing(id string) *Message {
	return &Message{ID: id, Type: TypePing, Timestamp: time.Now()}
}

// NewPong builds the acknowledgment for the ping with the given id.
func NewPong(id string) *Message {
	return &Message{ID: id, Type: TypePong, Timestamp: time.Now()}
}

// NewStatus builds an agent status report.
func NewStatus(id string, data map[string]any) *Message {
	return &Message{ID: id, Type: TypeStatus, Data: data, Timestamp: time.Now()}
}
