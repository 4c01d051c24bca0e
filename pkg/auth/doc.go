// Package auth obtains and refreshes the short-lived sessions used to open
// an authenticated connection to the controller.
//
// A Session is created through the controller's REST endpoint and carries
// the WebSocket URL plus a bearer token. The Authenticator caches the last
// issued session and transparently refreshes it once it is inside the
// renewal margin before expiry. Refresh failures are retryable connectivity
// errors: the connection manager treats them exactly like transport
// failures and applies the normal backoff.
package auth
