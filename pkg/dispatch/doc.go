// Package dispatch routes remote commands to device backends and results
// back out.
//
// The Dispatcher is the frame handler behind the connection manager: it
// decodes inbound frames, validates them, replays duplicates from the
// dedup cache, applies per-device backpressure, and enqueues accepted
// commands onto per-device execution queues. Each queue runs one worker
// goroutine, so a device never sees two overlapping backend calls while
// independent devices execute in parallel.
//
// The Correlator tracks every accepted command until exactly one outcome
// is produced for it: backend completion, deadline sweep, or a
// connection-lost drain, whichever happens first. Outcomes that cannot be
// sent while disconnected wait in a bounded outbound buffer.
package dispatch
