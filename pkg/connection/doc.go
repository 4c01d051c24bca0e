// Package connection owns the lifecycle of the agent's single controller
// connection.
//
// Manager runs the state machine
//
//	Disconnected -> Connecting -> Connected -> Reconnecting -> Connecting -> ... -> Closed
//
// acquiring a session before every attempt, applying exponential backoff
// between failed attempts, and probing connection health with ping/pong
// frames while connected. Closed is terminal and is reached only through
// exhausted retries or an explicit Close.
//
// Backoff computes the retry delays; it is a pure function of the attempt
// number so tests can reproduce exact sequences with a seeded random source.
package connection
