package connection

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/devrelay/devrelay-go/pkg/auth"
	"github.com/devrelay/devrelay-go/pkg/log"
	"github.com/devrelay/devrelay-go/pkg/transport"
)

// Connection errors.
var (
	ErrConnectionClosed  = errors.New("connection manager closed")
	ErrNotConnected      = errors.New("not connected")
	ErrRetriesExhausted  = errors.New("connection retries exhausted")
	ErrHealthTimeout     = errors.New("health probe timed out")
	ErrAlreadyRunning    = errors.New("connection manager already running")
	ErrNoSessionProvider = errors.New("session provider is required")
)

// State represents the connection state.
type State uint8

const (
	// StateDisconnected indicates no active connection.
	StateDisconnected State = iota

	// StateConnecting indicates a connection attempt is in progress.
	StateConnecting

	// StateConnected indicates an active connection.
	StateConnected

	// StateReconnecting indicates automatic reconnection is in progress.
	StateReconnecting

	// StateClosed indicates the connection manager has been closed.
	StateClosed
)

// String returns a human-readable state name.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "DISCONNECTED"
	case StateConnecting:
		return "CONNECTING"
	case StateConnected:
		return "CONNECTED"
	case StateReconnecting:
		return "RECONNECTING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// SessionProvider supplies a valid session before each connect attempt.
// *auth.Authenticator is the production implementation.
type SessionProvider interface {
	// Acquire returns a session valid long enough to open a connection.
	Acquire(ctx context.Context) (*auth.Session, error)

	// Invalidate discards any cached session so the next Acquire
	// issues a fresh one.
	Invalidate()
}

// FrameHandler receives every raw inbound frame while connected.
type FrameHandler func(data []byte)

// Config configures a connection Manager.
type Config struct {
	// Backoff controls retry delays and the attempt bound.
	Backoff BackoffConfig

	// ConnectTimeout bounds a single dial attempt (default 10s).
	ConnectTimeout time.Duration

	// Health controls ping/pong probing while connected.
	Health HealthConfig
}

// Manager owns the single outbound connection and its lifecycle.
//
// Exactly one Run loop may be active. All state transitions happen inside
// the Manager; other components observe them through callbacks and log
// events but never mutate the state directly.
type Manager struct {
	config  Config
	backoff *Backoff

	dialer   transport.Dialer
	sessions SessionProvider
	logger   log.Logger

	// connID correlates all log events from this manager instance.
	connID string

	mu      sync.RWMutex
	state   State
	conn    transport.Conn
	health  *HealthMonitor
	handler FrameHandler
	running bool

	closeOnce sync.Once
	closeCh   chan struct{}

	// Callbacks
	onStateChange  func(oldState, newState State)
	onConnected    func()
	onDisconnected func()
	onReconnecting func(attempt int, delay time.Duration)
}

// NewManager creates a connection manager.
// logger may be nil to disable event logging.
func NewManager(config Config, dialer transport.Dialer, sessions SessionProvider, logger log.Logger) *Manager {
	if config.ConnectTimeout <= 0 {
		config.ConnectTimeout = 10 * time.Second
	}
	if logger == nil {
		logger = log.NoopLogger{}
	}

	return &Manager{
		config:   config,
		backoff:  NewBackoff(config.Backoff),
		dialer:   dialer,
		sessions: sessions,
		logger:   logger,
		connID:   uuid.NewString(),
		state:    StateDisconnected,
		closeCh:  make(chan struct{}),
	}
}

// ConnectionID returns the id used to correlate this manager's log events.
func (m *Manager) ConnectionID() string {
	return m.connID
}

// Backoff exposes the manager's backoff calculator, mainly so tests can
// seed its random source.
func (m *Manager) Backoff() *Backoff {
	return m.backoff
}

// State returns the current connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// IsConnected returns true if currently connected.
func (m *Manager) IsConnected() bool {
	return m.State() == StateConnected
}

// SetFrameHandler sets the handler for inbound frames.
// Must be called before Run.
func (m *Manager) SetFrameHandler(handler FrameHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handler = handler
}

// OnStateChange sets a callback for state transitions.
func (m *Manager) OnStateChange(fn func(oldState, newState State)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onStateChange = fn
}

// OnConnected sets a callback invoked after each successful connect.
func (m *Manager) OnConnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onConnected = fn
}

// OnDisconnected sets a callback invoked when an established connection
// is lost. The dispatcher uses this to drain not-yet-started commands.
func (m *Manager) OnDisconnected(fn func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onDisconnected = fn
}

// OnReconnecting sets a callback invoked before each backoff wait.
func (m *Manager) OnReconnecting(fn func(attempt int, delay time.Duration)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onReconnecting = fn
}

// Send transmits one frame over the current connection.
// Fails with ErrNotConnected while not in the Connected state.
func (m *Manager) Send(ctx context.Context, data []byte) error {
	m.mu.RLock()
	conn := m.conn
	state := m.state
	m.mu.RUnlock()

	if state != StateConnected || conn == nil {
		return ErrNotConnected
	}
	return conn.Send(ctx, data)
}

// PongReceived forwards a pong frame's id to the active health monitor.
// The dispatcher calls this when it decodes a pong.
func (m *Manager) PongReceived(id string) {
	m.mu.RLock()
	health := m.health
	m.mu.RUnlock()

	if health != nil {
		health.PongReceived(id)
	}
}

// Close shuts the manager down. The Run loop exits, the transport is
// closed, and the state becomes Closed. Safe to call multiple times.
func (m *Manager) Close() {
	m.closeOnce.Do(func() {
		close(m.closeCh)
	})
}

// Run drives the connection lifecycle until the context is cancelled, the
// manager is closed, or retries are exhausted. It returns nil on clean
// shutdown and ErrRetriesExhausted when a bounded attempt budget ran out.
func (m *Manager) Run(ctx context.Context) error {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return ErrAlreadyRunning
	}
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrConnectionClosed
	}
	if m.sessions == nil {
		m.mu.Unlock()
		return ErrNoSessionProvider
	}
	m.running = true
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		m.running = false
		m.mu.Unlock()
	}()

	reconnect := false
	for {
		if m.closed() {
			m.transition(StateClosed, "shutdown")
			return nil
		}

		conn, err := m.connectCycle(ctx, reconnect)
		if err != nil {
			if errors.Is(err, ErrRetriesExhausted) {
				m.transition(StateClosed, "retries exhausted")
				return err
			}
			// Context cancelled or manager closed mid-cycle.
			m.transition(StateClosed, "shutdown")
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return nil
		}

		lost := m.serveConnection(ctx, conn)
		if !lost {
			m.transition(StateClosed, "shutdown")
			return ctx.Err()
		}

		m.transition(StateReconnecting, "connection lost")
		m.notifyDisconnected()
		reconnect = true
	}
}

// connectCycle runs one Connecting phase: acquire a session, dial, retry
// with backoff. On a reconnect cycle the cached session is invalidated
// first so the attempt uses fresh credentials.
func (m *Manager) connectCycle(ctx context.Context, reconnect bool) (transport.Conn, error) {
	m.transition(StateConnecting, "")

	if reconnect {
		m.sessions.Invalidate()
	}

	attempt := 0
	for {
		attempt++
		if m.backoff.Exhausted(attempt) {
			return nil, ErrRetriesExhausted
		}

		conn, err := m.attemptConnect(ctx)
		if err == nil {
			m.mu.Lock()
			m.conn = conn
			m.mu.Unlock()
			m.transition(StateConnected, "")
			m.notifyConnected()
			return conn, nil
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		if m.closed() {
			return nil, ErrConnectionClosed
		}

		m.logError(log.LayerTransport, err, "connect attempt")

		delay := m.backoff.Delay(attempt)
		m.notifyReconnecting(attempt, delay)

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-m.closeCh:
			return nil, ErrConnectionClosed
		case <-time.After(delay):
		}
	}
}

// attemptConnect performs a single session acquisition + dial.
func (m *Manager) attemptConnect(ctx context.Context) (transport.Conn, error) {
	session, err := m.sessions.Acquire(ctx)
	if err != nil {
		return nil, err
	}

	endpoint, err := session.AuthenticatedURL()
	if err != nil {
		return nil, err
	}

	dialCtx, cancel := context.WithTimeout(ctx, m.config.ConnectTimeout)
	defer cancel()

	return m.dialer.Dial(dialCtx, endpoint)
}

// serveConnection pumps inbound frames and probes health until the
// connection is lost or the manager shuts down.
// Returns true when the connection was lost and a reconnect should follow.
func (m *Manager) serveConnection(ctx context.Context, conn transport.Conn) bool {
	lostCh := make(chan error, 1)
	reportLost := func(err error) {
		select {
		case lostCh <- err:
		default:
		}
	}

	readCtx, cancelRead := context.WithCancel(ctx)
	defer cancelRead()

	m.mu.RLock()
	handler := m.handler
	m.mu.RUnlock()

	go func() {
		for {
			data, err := conn.Receive(readCtx)
			if err != nil {
				reportLost(err)
				return
			}
			if handler != nil {
				handler(data)
			}
		}
	}()

	health := NewHealthMonitor(m.config.Health,
		func(id string) error { return m.sendPing(ctx, conn, id) },
		func() {
			m.logProbeTimeout()
			reportLost(ErrHealthTimeout)
		},
	)
	health.SetPongCallback(func(id string, latency time.Duration) {
		m.logProbe(log.ProbePong, id, &latency)
	})

	m.mu.Lock()
	m.health = health
	m.mu.Unlock()
	health.Start(ctx)

	defer func() {
		health.Stop()
		m.mu.Lock()
		m.health = nil
		m.conn = nil
		m.mu.Unlock()
		conn.Close()
	}()

	select {
	case <-ctx.Done():
		return false
	case <-m.closeCh:
		return false
	case err := <-lostCh:
		m.logError(log.LayerTransport, err, "connection lost")
		return true
	}
}

// sendPing encodes and transmits a health probe.
func (m *Manager) sendPing(ctx context.Context, conn transport.Conn, id string) error {
	data, err := encodePing(id)
	if err != nil {
		return err
	}
	m.logProbe(log.ProbePing, id, nil)
	return conn.Send(ctx, data)
}

// closed reports whether Close has been called.
func (m *Manager) closed() bool {
	select {
	case <-m.closeCh:
		return true
	default:
		return false
	}
}

// transition moves to a new state, emitting the lifecycle event and
// callback. Transitions to the current state are ignored; Closed is sticky.
func (m *Manager) transition(newState State, reason string) {
	m.mu.Lock()
	oldState := m.state
	if oldState == newState || oldState == StateClosed {
		m.mu.Unlock()
		return
	}
	m.state = newState
	cb := m.onStateChange
	m.mu.Unlock()

	m.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: oldState.String(),
			NewState: newState.String(),
			Reason:   reason,
		},
	})

	if cb != nil {
		cb(oldState, newState)
	}
}

func (m *Manager) notifyConnected() {
	m.mu.RLock()
	cb := m.onConnected
	m.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (m *Manager) notifyDisconnected() {
	m.mu.RLock()
	cb := m.onDisconnected
	m.mu.RUnlock()
	if cb != nil {
		cb()
	}
}

func (m *Manager) notifyReconnecting(attempt int, delay time.Duration) {
	m.mu.RLock()
	cb := m.onReconnecting
	m.mu.RUnlock()

	m.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryState,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityConnection,
			OldState: StateConnecting.String(),
			NewState: StateConnecting.String(),
			Reason:   "retrying in " + delay.String(),
			Attempt:  attempt,
		},
	})

	if cb != nil {
		cb(attempt, delay)
	}
}

func (m *Manager) logProbe(kind log.ProbeKind, id string, latency *time.Duration) {
	direction := log.DirectionOut
	if kind == log.ProbePong {
		direction = log.DirectionIn
	}
	m.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.connID,
		Direction:    direction,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		Probe: &log.ProbeEvent{
			Kind:    kind,
			ProbeID: id,
			Latency: latency,
		},
	})
}

func (m *Manager) logProbeTimeout() {
	m.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.connID,
		Layer:        log.LayerTransport,
		Category:     log.CategoryControl,
		Probe: &log.ProbeEvent{
			Kind:   log.ProbeTimeout,
			Missed: 1,
		},
	})
}

func (m *Manager) logError(layer log.Layer, err error, context string) {
	m.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: m.connID,
		Layer:        layer,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   layer,
			Message: err.Error(),
			Context: context,
		},
	})
}
