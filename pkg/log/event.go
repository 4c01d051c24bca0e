package log

import (
	"time"
)

// Event represents an agent log event captured at any layer.
// CBOR encoding uses integer keys for compactness.
type Event struct {
	// Timestamp when the event occurred (nanosecond precision).
	Timestamp time.Time `cbor:"1,keyasint"`

	// ConnectionID uniquely identifies the connection (UUID).
	ConnectionID string `cbor:"2,keyasint"`

	// Direction indicates message flow.
	Direction Direction `cbor:"3,keyasint"`

	// Layer where the event was captured.
	Layer Layer `cbor:"4,keyasint"`

	// Category classifies the event type.
	Category Category `cbor:"5,keyasint"`

	// DeviceID is the addressed device, when the event concerns one.
	DeviceID string `cbor:"6,keyasint,omitempty"`

	// RemoteAddr is the peer address.
	RemoteAddr string `cbor:"7,keyasint,omitempty"`

	// Type-specific payload (one of these will be set).
	Frame       *FrameEvent       `cbor:"10,keyasint,omitempty"` // Transport layer
	Message     *MessageEvent     `cbor:"11,keyasint,omitempty"` // Wire layer (decoded)
	StateChange *StateChangeEvent `cbor:"12,keyasint,omitempty"` // Connection/session/queue state
	Probe       *ProbeEvent       `cbor:"13,keyasint,omitempty"` // Health ping/pong
	Drop        *DropEvent        `cbor:"14,keyasint,omitempty"` // Discarded work
	Error       *ErrorEventData   `cbor:"15,keyasint,omitempty"` // Errors at any layer
}

// Direction indicates the direction of message flow.
type Direction uint8

const (
	// DirectionIn indicates an incoming message.
	DirectionIn Direction = 0
	// DirectionOut indicates an outgoing message.
	DirectionOut Direction = 1
)

// String returns the direction name.
func (d Direction) String() string {
	switch d {
	case DirectionIn:
		return "IN"
	case DirectionOut:
		return "OUT"
	default:
		return "UNKNOWN"
	}
}

// Layer indicates which layer captured the event.
type Layer uint8

const (
	// LayerTransport is the socket/framing layer (raw bytes).
	LayerTransport Layer = 0
	// LayerWire is the message encoding layer (decoded JSON).
	LayerWire Layer = 1
	// LayerDispatch is the command dispatch and execution layer.
	LayerDispatch Layer = 2
	// LayerSession is the authentication/session layer.
	LayerSession Layer = 3
)

// String returns the layer name.
func (l Layer) String() string {
	switch l {
	case LayerTransport:
		return "TRANSPORT"
	case LayerWire:
		return "WIRE"
	case LayerDispatch:
		return "DISPATCH"
	case LayerSession:
		return "SESSION"
	default:
		return "UNKNOWN"
	}
}

// Category classifies the event type.
type Category uint8

const (
	// CategoryMessage indicates a protocol message (command/result/status).
	CategoryMessage Category = 0
	// CategoryControl indicates a health probe (ping/pong).
	CategoryControl Category = 1
	// CategoryState indicates a state change.
	CategoryState Category = 2
	// CategoryDrop indicates discarded work (buffer overflow, late result).
	CategoryDrop Category = 3
	// CategoryError indicates an error event.
	CategoryError Category = 4
)

// String returns the category name.
func (c Category) String() string {
	switch c {
	case CategoryMessage:
		return "MESSAGE"
	case CategoryControl:
		return "CONTROL"
	case CategoryState:
		return "STATE"
	case CategoryDrop:
		return "DROP"
	case CategoryError:
		return "ERROR"
	default:
		return "UNKNOWN"
	}
}

// FrameEvent captures raw frame data at the transport layer.
type FrameEvent struct {
	// Size is the frame size in bytes.
	Size int `cbor:"1,keyasint"`

	// Data is the raw frame bytes (may be truncated for large frames).
	Data []byte `cbor:"2,keyasint,omitempty"`

	// Truncated indicates if Data was truncated.
	Truncated bool `cbor:"3,keyasint,omitempty"`
}

// MessageEvent captures a decoded protocol message at the wire layer.
type MessageEvent struct {
	// Type is the wire message type ("command", "result", ...).
	Type string `cbor:"1,keyasint"`

	// CommandID correlates commands with their results.
	CommandID string `cbor:"2,keyasint"`

	// Action is the command action, for command messages.
	Action string `cbor:"3,keyasint,omitempty"`

	// Success reports the result disposition, for result messages.
	Success *bool `cbor:"4,keyasint,omitempty"`

	// Code is the error code on failed results.
	Code string `cbor:"5,keyasint,omitempty"`

	// Replayed marks a result served from the dedup cache.
	Replayed bool `cbor:"6,keyasint,omitempty"`

	// ProcessingTime is the duration from enqueue to outcome (results only).
	ProcessingTime *time.Duration `cbor:"7,keyasint,omitempty"`
}

// StateChangeEvent captures connection, session, and queue lifecycle events.
type StateChangeEvent struct {
	// Entity being changed.
	Entity StateEntity `cbor:"1,keyasint"`

	// OldState is the previous state (may be empty).
	OldState string `cbor:"2,keyasint,omitempty"`

	// NewState is the new state.
	NewState string `cbor:"3,keyasint"`

	// Reason for the change (if available).
	Reason string `cbor:"4,keyasint,omitempty"`

	// Attempt is the connection attempt number, for retry transitions.
	Attempt int `cbor:"5,keyasint,omitempty"`
}

// StateEntity indicates what entity changed state.
type StateEntity uint8

const (
	// StateEntityConnection indicates a connection state change.
	StateEntityConnection StateEntity = 0
	// StateEntitySession indicates a session was issued, renewed, or dropped.
	StateEntitySession StateEntity = 1
	// StateEntityQueue indicates a device queue was created, drained, or evicted.
	StateEntityQueue StateEntity = 2
)

// String returns the state entity name.
func (s StateEntity) String() string {
	switch s {
	case StateEntityConnection:
		return "CONNECTION"
	case StateEntitySession:
		return "SESSION"
	case StateEntityQueue:
		return "QUEUE"
	default:
		return "UNKNOWN"
	}
}

// ProbeEvent captures health ping/pong activity.
type ProbeEvent struct {
	// Kind of probe message.
	Kind ProbeKind `cbor:"1,keyasint"`

	// ProbeID is the wire id of the ping this event belongs to.
	ProbeID string `cbor:"2,keyasint"`

	// Latency is the ping round-trip time (pong events only).
	Latency *time.Duration `cbor:"3,keyasint,omitempty"`

	// Missed is the consecutive unacknowledged probe count (timeout events).
	Missed int `cbor:"4,keyasint,omitempty"`
}

// ProbeKind indicates the type of probe event.
type ProbeKind uint8

const (
	// ProbePing indicates a probe was sent.
	ProbePing ProbeKind = 0
	// ProbePong indicates a probe was acknowledged.
	ProbePong ProbeKind = 1
	// ProbeTimeout indicates the probe deadline passed unacknowledged.
	ProbeTimeout ProbeKind = 2
)

// String returns the probe kind name.
func (p ProbeKind) String() string {
	switch p {
	case ProbePing:
		return "PING"
	case ProbePong:
		return "PONG"
	case ProbeTimeout:
		return "TIMEOUT"
	default:
		return "UNKNOWN"
	}
}

// DropEvent captures work the agent discarded on purpose.
type DropEvent struct {
	// Kind of drop.
	Kind DropKind `cbor:"1,keyasint"`

	// CommandID is the id of the affected command or outcome.
	CommandID string `cbor:"2,keyasint"`

	// Reason describes why the item was discarded.
	Reason string `cbor:"3,keyasint,omitempty"`
}

// DropKind indicates what was discarded.
type DropKind uint8

const (
	// DropBufferedOutcome indicates an outcome fell out of the outbound buffer.
	DropBufferedOutcome DropKind = 0
	// DropLateCompletion indicates a backend completed after its deadline fired.
	DropLateCompletion DropKind = 1
)

// String returns the drop kind name.
func (d DropKind) String() string {
	switch d {
	case DropBufferedOutcome:
		return "BUFFERED_OUTCOME"
	case DropLateCompletion:
		return "LATE_COMPLETION"
	default:
		return "UNKNOWN"
	}
}

// ErrorEventData captures errors at any layer.
type ErrorEventData struct {
	// Layer where the error occurred.
	Layer Layer `cbor:"1,keyasint"`

	// Message is the error message.
	Message string `cbor:"2,keyasint"`

	// Context describes what operation was being performed.
	Context string `cbor:"3,keyasint,omitempty"`
}
