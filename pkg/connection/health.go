package connection

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"
)

// Health probing defaults.
const (
	// DefaultHealthInterval is the default interval between probes.
	DefaultHealthInterval = 30 * time.Second

	// DefaultHealthAckTimeout is the default time to wait for a probe
	// acknowledgment before declaring the connection dead.
	DefaultHealthAckTimeout = 5 * time.Second
)

// HealthConfig configures connection health probing.
type HealthConfig struct {
	// Interval between probes.
	Interval time.Duration

	// AckTimeout is the time to wait for the matching pong.
	AckTimeout time.Duration
}

// DefaultHealthConfig returns the default health probing configuration.
func DefaultHealthConfig() HealthConfig {
	return HealthConfig{
		Interval:   DefaultHealthInterval,
		AckTimeout: DefaultHealthAckTimeout,
	}
}

// HealthMonitor sends periodic ping probes and watches for their pongs.
// A probe that is not acknowledged within AckTimeout fires the timeout
// callback once and stops the monitor; the connection manager tears the
// connection down in response.
type HealthMonitor struct {
	config HealthConfig

	sendPing  func(id string) error
	onTimeout func()

	// onPong is invoked with the round-trip latency of acknowledged probes.
	onPong func(id string, latency time.Duration)

	sequence atomic.Uint64
	pongCh   chan string

	mu      sync.Mutex
	running bool
	stopCh  chan struct{}
}

// NewHealthMonitor creates a health monitor.
// sendPing transmits a ping frame with the given probe id; onTimeout is
// called when a probe goes unacknowledged.
func NewHealthMonitor(config HealthConfig, sendPing func(id string) error, onTimeout func()) *HealthMonitor {
	if config.Interval <= 0 {
		config.Interval = DefaultHealthInterval
	}
	if config.AckTimeout <= 0 {
		config.AckTimeout = DefaultHealthAckTimeout
	}

	return &HealthMonitor{
		config:    config,
		sendPing:  sendPing,
		onTimeout: onTimeout,
		pongCh:    make(chan string, 4),
	}
}

// SetPongCallback sets a callback invoked with the latency of each
// acknowledged probe. Must be called before Start.
func (hm *HealthMonitor) SetPongCallback(cb func(id string, latency time.Duration)) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	hm.onPong = cb
}

// Start begins the probing loop. It returns immediately.
func (hm *HealthMonitor) Start(ctx context.Context) {
	hm.mu.Lock()
	if hm.running {
		hm.mu.Unlock()
		return
	}
	hm.running = true
	hm.stopCh = make(chan struct{})
	hm.mu.Unlock()

	go hm.loop(ctx)
}

// Stop stops the probing loop.
func (hm *HealthMonitor) Stop() {
	hm.mu.Lock()
	defer hm.mu.Unlock()

	if !hm.running {
		return
	}
	hm.running = false
	close(hm.stopCh)
}

// PongReceived should be called when a pong frame arrives.
// Pongs for probes that already timed out or ids that were never sent
// are ignored.
func (hm *HealthMonitor) PongReceived(id string) {
	select {
	case hm.pongCh <- id:
	default:
		// Channel full; the pending probe already has its ack queued.
	}
}

// IsRunning returns true while the probing loop is active.
func (hm *HealthMonitor) IsRunning() bool {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.running
}

// loop sends a probe every interval and waits for its ack.
func (hm *HealthMonitor) loop(ctx context.Context) {
	ticker := time.NewTicker(hm.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-hm.stopCh:
			return
		case <-ticker.C:
			if !hm.probe(ctx) {
				return
			}
		}
	}
}

// probe sends one ping and waits for the matching pong.
// Returns false when the loop should stop.
func (hm *HealthMonitor) probe(ctx context.Context) bool {
	id := fmt.Sprintf("hc-%d", hm.sequence.Add(1))
	sentAt := time.Now()

	if err := hm.sendPing(id); err != nil {
		// Send failure means the connection is likely dead already.
		hm.Stop()
		hm.onTimeout()
		return false
	}

	deadline := time.NewTimer(hm.config.AckTimeout)
	defer deadline.Stop()

	for {
		select {
		case <-ctx.Done():
			return false
		case <-hm.stopCh:
			return false
		case pongID := <-hm.pongCh:
			if pongID != id {
				// Stale ack from an earlier probe.
				continue
			}
			if cb := hm.pongCallback(); cb != nil {
				cb(id, time.Since(sentAt))
			}
			return true
		case <-deadline.C:
			hm.Stop()
			hm.onTimeout()
			return false
		}
	}
}

// pongCallback returns the configured pong callback.
func (hm *HealthMonitor) pongCallback() func(string, time.Duration) {
	hm.mu.Lock()
	defer hm.mu.Unlock()
	return hm.onPong
}
