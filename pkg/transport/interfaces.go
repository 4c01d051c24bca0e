package transport

import (
	"context"
	"errors"
)

// Transport errors.
var (
	// ErrConnectionClosed indicates the connection has been closed.
	ErrConnectionClosed = errors.New("connection closed")
)

// Conn is a single established connection to the controller.
// Send and Receive may be called concurrently with each other, but neither
// may be called concurrently with itself.
type Conn interface {
	// Send writes one frame.
	Send(ctx context.Context, data []byte) error

	// Receive blocks until the next frame arrives.
	// Returns ErrConnectionClosed (possibly wrapped) once the connection is gone.
	Receive(ctx context.Context) ([]byte, error)

	// Close tears down the connection. Safe to call multiple times.
	Close() error

	// RemoteAddr describes the peer, for logging.
	RemoteAddr() string
}

// Dialer establishes connections to a controller endpoint.
type Dialer interface {
	// Dial opens a connection to the given URL.
	// The context bounds the handshake, not the connection lifetime.
	Dial(ctx context.Context, url string) (Conn, error)
}
