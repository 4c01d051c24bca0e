// Package transport provides the WebSocket connection to the controller.
//
// The connection manager works against the small Conn/Dialer interfaces so
// tests can substitute in-memory fakes; WebSocketDialer is the production
// implementation. One frame carries one JSON message (see pkg/wire); framing
// is delegated to the WebSocket protocol.
package transport
