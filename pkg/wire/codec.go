package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Codec errors.
var (
	ErrEmptyFrame     = errors.New("empty frame")
	ErrMissingID      = errors.New("message id is required")
	ErrInvalidType    = errors.New("invalid message type")
	ErrMissingDevice  = errors.New("command requires deviceId")
	ErrMissingAction  = errors.New("command requires action")
	ErrMissingError   = errors.New("failed result requires error")
	ErrInvalidCode    = errors.New("unknown error code")
	ErrMissingSuccess = errors.New("result requires success")
)

// Encode serializes a message to a JSON frame.
func Encode(msg *Message) ([]byte, error) {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode message: %w", err)
	}
	return data, nil
}

// Decode parses and validates a JSON frame.
// A frame that fails validation here must never reach a device queue.
func Decode(data []byte) (*Message, error) {
	if len(data) == 0 {
		return nil, ErrEmptyFrame
	}

	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("decode message: %w", err)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &msg, nil
}

// Validate checks the structural requirements for the message's type.
func (m *Message) Validate() error {
	if m.ID == "" {
		return ErrMissingID
	}
	if !m.Type.IsValid() {
		return fmt.Errorf("%w: %q", ErrInvalidType, m.Type)
	}

	switch m.Type {
	case TypeCommand:
		if m.DeviceID == "" {
			return ErrMissingDevice
		}
		if m.Action == "" {
			return ErrMissingAction
		}
	case TypeResult:
		if m.Success == nil {
			return ErrMissingSuccess
		}
		if !*m.Success {
			if m.Error == nil {
				return ErrMissingError
			}
			if !m.Error.Code.IsValid() {
				return fmt.Errorf("%w: %q", ErrInvalidCode, m.Error.Code)
			}
		}
	}
	return nil
}

// CommandFromMessage extracts the command carried by a validated message.
func CommandFromMessage(msg *Message) (*Command, error) {
	if msg.Type != TypeCommand {
		return nil, fmt.Errorf("%w: expected command, got %q", ErrInvalidType, msg.Type)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &Command{
		ID:         msg.ID,
		DeviceID:   msg.DeviceID,
		Action:     msg.Action,
		Params:     msg.Params,
		ReceivedAt: time.Now(),
	}, nil
}

// OutcomeFromMessage extracts the outcome carried by a validated result message.
func OutcomeFromMessage(msg *Message) (*Outcome, error) {
	if msg.Type != TypeResult {
		return nil, fmt.Errorf("%w: expected result, got %q", ErrInvalidType, msg.Type)
	}
	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return &Outcome{
		ID:          msg.ID,
		Success:     *msg.Success,
		Data:        msg.Data,
		Error:       msg.Error,
		CompletedAt: msg.Timestamp,
	}, nil
}
