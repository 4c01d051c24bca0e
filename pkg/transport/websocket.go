package transport

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/coder/websocket"
)

// WebSocket transport defaults.
const (
	// DefaultMaxMessageSize is the maximum inbound frame size (1 MB).
	// Screenshots travel base64-encoded inside result frames, so this is
	// deliberately larger than a typical command payload.
	DefaultMaxMessageSize = 1 << 20

	// DefaultHandshakeTimeout bounds the dial + upgrade exchange.
	DefaultHandshakeTimeout = 10 * time.Second
)

// WebSocketDialer dials controller endpoints over WebSocket.
// The zero value is usable and applies the defaults above.
type WebSocketDialer struct {
	// HTTPClient is used for the handshake. Defaults to http.DefaultClient.
	HTTPClient *http.Client

	// HTTPHeader is added to the handshake request (e.g. auth headers).
	HTTPHeader http.Header

	// MaxMessageSize limits inbound frames. Defaults to DefaultMaxMessageSize.
	MaxMessageSize int64

	// HandshakeTimeout bounds the dial when the caller's context has no
	// deadline. Defaults to DefaultHandshakeTimeout.
	HandshakeTimeout time.Duration
}

// Dial opens a WebSocket connection to endpoint.
func (d *WebSocketDialer) Dial(ctx context.Context, endpoint string) (Conn, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		timeout := d.HandshakeTimeout
		if timeout <= 0 {
			timeout = DefaultHandshakeTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	conn, resp, err := websocket.Dial(ctx, endpoint, &websocket.DialOptions{
		HTTPClient: d.HTTPClient,
		HTTPHeader: d.HTTPHeader,
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial websocket: %w", err)
	}

	maxSize := d.MaxMessageSize
	if maxSize <= 0 {
		maxSize = DefaultMaxMessageSize
	}
	conn.SetReadLimit(maxSize)

	return &wsConn{
		conn:   conn,
		remote: remoteFromURL(endpoint),
	}, nil
}

// remoteFromURL extracts host:port for logging, without the token query.
func remoteFromURL(endpoint string) string {
	u, err := url.Parse(endpoint)
	if err != nil {
		return endpoint
	}
	return u.Host
}

// wsConn wraps a websocket connection as a transport Conn.
type wsConn struct {
	conn   *websocket.Conn
	remote string

	closeOnce sync.Once
	closeErr  error
}

// Send writes one text frame.
func (c *wsConn) Send(ctx context.Context, data []byte) error {
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return nil
}

// Receive blocks until the next frame arrives.
func (c *wsConn) Receive(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	if err != nil {
		var closeErr websocket.CloseError
		if errors.As(err, &closeErr) {
			return nil, fmt.Errorf("%w: peer close %d", ErrConnectionClosed, closeErr.Code)
		}
		return nil, fmt.Errorf("%w: %v", ErrConnectionClosed, err)
	}
	return data, nil
}

// Close tears down the connection.
func (c *wsConn) Close() error {
	c.closeOnce.Do(func() {
		c.closeErr = c.conn.Close(websocket.StatusNormalClosure, "shutdown")
	})
	return c.closeErr
}

// RemoteAddr describes the peer.
func (c *wsConn) RemoteAddr() string {
	return c.remote
}

// Compile-time interface satisfaction check.
var _ Dialer = (*WebSocketDialer)(nil)
