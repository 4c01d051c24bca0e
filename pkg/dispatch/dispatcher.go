package dispatch

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/devrelay/devrelay-go/pkg/log"
	"github.com/devrelay/devrelay-go/pkg/robot"
	"github.com/devrelay/devrelay-go/pkg/wire"
)

// Default dispatch limits.
const (
	DefaultCommandDeadline    = 60 * time.Second
	DefaultQueueDepth         = 16
	DefaultQueueIdleTimeout   = 10 * time.Minute
	DefaultDedupWindow        = 5 * time.Minute
	DefaultDedupMaxEntries    = 4096
	DefaultOutboundBufferSize = 64
	DefaultSweepInterval      = time.Second
)

// Sender is the outbound side of the connection, satisfied by
// *connection.Manager.
type Sender interface {
	// Send transmits one frame; fails while not connected.
	Send(ctx context.Context, data []byte) error

	// IsConnected reports whether frames can currently be sent.
	IsConnected() bool

	// PongReceived forwards a decoded pong id to the health prober.
	PongReceived(id string)

	// ConnectionID correlates log events with the connection.
	ConnectionID() string
}

// Config configures a Dispatcher. Zero values take the defaults above.
type Config struct {
	// CommandDeadline bounds the caller-visible latency of a command.
	// The deadline sweep fires a TIMEOUT outcome past it; the backend
	// call itself is not cancelled.
	CommandDeadline time.Duration

	// QueueDepth is the per-device backlog limit. A command arriving at
	// a full backlog is rejected with BACKPRESSURE.
	QueueDepth int

	// QueueIdleTimeout evicts a device queue (and releases its robot)
	// after this long with no work. Zero keeps queues forever.
	QueueIdleTimeout time.Duration

	// DedupWindow is how long completed outcomes are replayable.
	DedupWindow time.Duration

	// DedupMaxEntries bounds the replay cache size.
	DedupMaxEntries int

	// OutboundBufferSize bounds outcomes held while disconnected.
	// Overflow drops the oldest buffered outcome.
	OutboundBufferSize int

	// SweepInterval is the deadline/idle sweep tick.
	SweepInterval time.Duration
}

func (c *Config) applyDefaults() {
	if c.CommandDeadline <= 0 {
		c.CommandDeadline = DefaultCommandDeadline
	}
	if c.QueueDepth <= 0 {
		c.QueueDepth = DefaultQueueDepth
	}
	if c.DedupWindow <= 0 {
		c.DedupWindow = DefaultDedupWindow
	}
	if c.DedupMaxEntries <= 0 {
		c.DedupMaxEntries = DefaultDedupMaxEntries
	}
	if c.OutboundBufferSize <= 0 {
		c.OutboundBufferSize = DefaultOutboundBufferSize
	}
	if c.SweepInterval <= 0 {
		c.SweepInterval = DefaultSweepInterval
	}
}

// bufferedFrame is an outcome frame waiting for the connection to return.
type bufferedFrame struct {
	id    string
	frame []byte
}

// Dispatcher routes commands to device queues and outcomes back out.
type Dispatcher struct {
	config Config
	sender Sender
	robots *robot.Registry
	logger log.Logger

	correlator *Correlator
	replay     *ReplayCache

	mu       sync.Mutex
	queues   map[string]*deviceQueue
	outbound []bufferedFrame

	// runCtx is the context backend calls execute under. Cancelling it
	// aborts in-flight work at shutdown only.
	runCtx    context.Context
	runCancel context.CancelFunc

	closeOnce sync.Once
	closeCh   chan struct{}
}

// NewDispatcher creates a dispatcher.
// logger may be nil to disable event logging.
func NewDispatcher(config Config, sender Sender, robots *robot.Registry, logger log.Logger) *Dispatcher {
	config.applyDefaults()
	if logger == nil {
		logger = log.NoopLogger{}
	}

	runCtx, runCancel := context.WithCancel(context.Background())
	return &Dispatcher{
		config:     config,
		sender:     sender,
		robots:     robots,
		logger:     logger,
		correlator: NewCorrelator(),
		replay:     NewReplayCache(config.DedupWindow, config.DedupMaxEntries),
		queues:     make(map[string]*deviceQueue),
		runCtx:     runCtx,
		runCancel:  runCancel,
		closeCh:    make(chan struct{}),
	}
}

// Correlator exposes the pending set, mainly for tests and status reports.
func (d *Dispatcher) Correlator() *Correlator {
	return d.correlator
}

// Close stops the sweep loop. Safe to call multiple times.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.closeCh)
	})
}

// Run drives the deadline and idle sweeps until the context is cancelled
// or Close is called, then drains every queue with CONNECTION_LOST
// outcomes and stops the workers.
func (d *Dispatcher) Run(ctx context.Context) error {
	ticker := time.NewTicker(d.config.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			d.shutdown()
			return ctx.Err()
		case <-d.closeCh:
			d.shutdown()
			return nil
		case now := <-ticker.C:
			d.sweepDeadlines(now)
			d.sweepIdleQueues(now)
			d.replay.Prune(now)
		}
	}
}

// HandleFrame is the connection manager's frame handler: it decodes one
// inbound frame and acts on it. Malformed frames never reach a queue;
// when the frame at least carries an id, a single PERMANENT outcome is
// sent so the caller is not left waiting.
func (d *Dispatcher) HandleFrame(data []byte) {
	msg, err := wire.Decode(data)
	if err != nil {
		d.rejectMalformed(data, err)
		return
	}

	switch msg.Type {
	case wire.TypeCommand:
		cmd, cmdErr := wire.CommandFromMessage(msg)
		if cmdErr != nil {
			d.rejectMalformed(data, cmdErr)
			return
		}
		d.handleCommand(cmd)

	case wire.TypePing:
		d.sendControl(wire.NewPong(msg.ID))

	case wire.TypePong:
		d.sender.PongReceived(msg.ID)

	default:
		// Results and status reports are agent-to-controller only.
		d.logError(nil, "unexpected inbound "+string(msg.Type))
	}
}

// ConnectionLost drains every queue: commands that never started get a
// CONNECTION_LOST outcome so their ids are not stranded. In-flight
// backend calls keep running and complete normally after reconnect.
// Wire this to the connection manager's OnDisconnected callback.
func (d *Dispatcher) ConnectionLost() {
	d.drainAll("connection lost")
}

// ConnectionUp flushes outcomes buffered while disconnected.
// Wire this to the connection manager's OnConnected callback.
func (d *Dispatcher) ConnectionUp() {
	d.flushOutbound()
}

// SendStatus emits an agent status report over the connection.
func (d *Dispatcher) SendStatus(id string, data map[string]any) {
	d.sendControl(wire.NewStatus(id, data))
}

// Devices returns the device ids with an active queue, for status reports.
func (d *Dispatcher) Devices() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.queues))
	for id := range d.queues {
		ids = append(ids, id)
	}
	return ids
}

// handleCommand runs the accept pipeline for one decoded command:
// dedup replay, action validation, backpressure, registration, enqueue.
func (d *Dispatcher) handleCommand(cmd *wire.Command) {
	d.logCommand(cmd)

	// Replays bypass execution entirely. The cached frame is resent
	// byte for byte.
	if frame, ok := d.replay.Get(cmd.ID); ok {
		d.logReplay(cmd)
		d.deliver(cmd.ID, frame)
		return
	}

	if !robot.KnownAction(cmd.Action) {
		d.reject(cmd, wire.CodeUnsupported, "unknown action: "+cmd.Action)
		return
	}

	// Creating the robot up front surfaces missing devices before the
	// command ever occupies backlog space.
	if _, err := d.robots.Get(cmd.DeviceID); err != nil {
		d.reject(cmd, wire.CodeUserEnv, err.Error())
		return
	}

	queue := d.queue(cmd.DeviceID)

	deadline := time.Now().Add(d.config.CommandDeadline)
	if err := d.correlator.Register(cmd.ID, cmd.DeviceID, deadline); err != nil {
		// Same id already in flight. Its one outcome is coming; a
		// second enqueue would violate that.
		d.logError(err, "duplicate of in-flight command "+cmd.ID)
		return
	}

	if !queue.enqueue(cmd) {
		d.correlator.Resolve(cmd.ID)
		d.reject(cmd, wire.CodeBackpressure, "device queue full")
		return
	}
}

// execute runs one command against its robot and completes it.
// Called from the device queue worker, one call per device at a time.
func (d *Dispatcher) execute(cmd *wire.Command) {
	rb, err := d.robots.Get(cmd.DeviceID)
	if err != nil {
		d.complete(cmd, wire.ErrorOutcome(cmd.ID, wire.CodeUserEnv, err.Error()))
		return
	}

	data, err := rb.Execute(d.runCtx, cmd.Action, cmd.Params)
	if err != nil {
		d.complete(cmd, wire.ErrorOutcome(cmd.ID, robot.Classify(err), err.Error()))
		return
	}
	d.complete(cmd, wire.SuccessOutcome(cmd.ID, data))
}

// complete resolves a finished command: late completions are discarded,
// everything else is cached for the dedup window and sent.
func (d *Dispatcher) complete(cmd *wire.Command, outcome *wire.Outcome) {
	if _, ok := d.correlator.Resolve(outcome.ID); !ok {
		d.logDrop(log.DropLateCompletion, outcome.ID, "outcome already delivered")
		return
	}

	frame, err := wire.Encode(outcome.Message())
	if err != nil {
		d.logError(err, "encode outcome")
		return
	}

	d.replay.Put(outcome.ID, frame)
	d.logOutcome(cmd.DeviceID, outcome, time.Since(cmd.ReceivedAt))
	d.deliver(outcome.ID, frame)
}

// reject answers a command that was never accepted. Rejections are not
// cached: the caller is expected to retry the same id later and should
// then get a fresh admission decision.
func (d *Dispatcher) reject(cmd *wire.Command, code wire.Code, message string) {
	outcome := wire.ErrorOutcome(cmd.ID, code, message)

	frame, err := wire.Encode(outcome.Message())
	if err != nil {
		d.logError(err, "encode rejection")
		return
	}

	d.logOutcome(cmd.DeviceID, outcome, 0)
	d.deliver(outcome.ID, frame)
}

// rejectMalformed answers a frame that failed decoding. Without an id
// there is nothing to correlate, so the frame is only logged.
func (d *Dispatcher) rejectMalformed(data []byte, decodeErr error) {
	d.logError(decodeErr, "decode frame")

	var probe struct {
		ID string `json:"id"`
	}
	if json.Unmarshal(data, &probe) != nil || probe.ID == "" {
		return
	}

	outcome := wire.ErrorOutcome(probe.ID, wire.CodePermanent, decodeErr.Error())
	frame, err := wire.Encode(outcome.Message())
	if err != nil {
		return
	}
	d.logOutcome("", outcome, 0)
	d.deliver(probe.ID, frame)
}

// queue returns the device's execution queue, creating it on first use.
func (d *Dispatcher) queue(deviceID string) *deviceQueue {
	d.mu.Lock()
	defer d.mu.Unlock()

	if q, ok := d.queues[deviceID]; ok {
		return q
	}

	q := newDeviceQueue(deviceID, d.config.QueueDepth, d.execute)
	d.queues[deviceID] = q
	d.logQueueState(deviceID, "", "ACTIVE", "created")
	return q
}

// deliver sends an outcome frame, or buffers it while disconnected.
func (d *Dispatcher) deliver(id string, frame []byte) {
	if d.sender.IsConnected() {
		if err := d.sender.Send(d.runCtx, frame); err == nil {
			return
		}
	}
	d.buffer(id, frame)
}

// buffer holds an outcome frame until reconnect. The buffer is bounded;
// overflow drops the oldest frame and logs the loss.
func (d *Dispatcher) buffer(id string, frame []byte) {
	d.mu.Lock()
	var dropped *bufferedFrame
	if len(d.outbound) >= d.config.OutboundBufferSize {
		oldest := d.outbound[0]
		dropped = &oldest
		d.outbound = d.outbound[1:]
	}
	d.outbound = append(d.outbound, bufferedFrame{id: id, frame: frame})
	d.mu.Unlock()

	if dropped != nil {
		d.logDrop(log.DropBufferedOutcome, dropped.id, "outbound buffer full")
	}
}

// flushOutbound resends buffered outcomes in order. Frames that still
// cannot be sent go back to the front of the buffer.
func (d *Dispatcher) flushOutbound() {
	d.mu.Lock()
	pending := d.outbound
	d.outbound = nil
	d.mu.Unlock()

	for i, entry := range pending {
		if err := d.sender.Send(d.runCtx, entry.frame); err != nil {
			d.mu.Lock()
			d.outbound = append(pending[i:], d.outbound...)
			d.mu.Unlock()
			return
		}
	}
}

// sendControl encodes and sends a ping/pong/status message, best effort.
func (d *Dispatcher) sendControl(msg *wire.Message) {
	frame, err := wire.Encode(msg)
	if err != nil {
		d.logError(err, "encode control message")
		return
	}
	if err := d.sender.Send(d.runCtx, frame); err != nil {
		d.logError(err, "send control message")
	}
}

// sweepDeadlines fires TIMEOUT outcomes for every pending command past
// its deadline. The backend call is not cancelled; if it finishes later
// the completion finds the id resolved and is discarded.
func (d *Dispatcher) sweepDeadlines(now time.Time) {
	for _, entry := range d.correlator.TakeExpired(now) {
		outcome := wire.ErrorOutcome(entry.ID, wire.CodeTimeout, "command deadline exceeded")

		frame, err := wire.Encode(outcome.Message())
		if err != nil {
			d.logError(err, "encode timeout outcome")
			continue
		}

		d.replay.Put(entry.ID, frame)
		d.logOutcome(entry.DeviceID, outcome, now.Sub(entry.Registered))
		d.deliver(entry.ID, frame)
	}
}

// sweepIdleQueues evicts queues idle past the configured timeout and
// releases their robots.
func (d *Dispatcher) sweepIdleQueues(now time.Time) {
	if d.config.QueueIdleTimeout <= 0 {
		return
	}

	d.mu.Lock()
	var evicted []*deviceQueue
	for deviceID, q := range d.queues {
		if q.idleFor(now) >= d.config.QueueIdleTimeout {
			evicted = append(evicted, q)
			delete(d.queues, deviceID)
		}
	}
	d.mu.Unlock()

	for _, q := range evicted {
		q.stop()
		q.wait()
		if err := d.robots.Release(q.deviceID); err != nil {
			d.logError(err, "release robot for "+q.deviceID)
		}
		d.logQueueState(q.deviceID, "ACTIVE", "EVICTED", "idle timeout")
	}
}

// drainAll produces CONNECTION_LOST outcomes for every queued-but-
// unstarted command across all queues.
func (d *Dispatcher) drainAll(reason string) {
	d.mu.Lock()
	queues := make([]*deviceQueue, 0, len(d.queues))
	for _, q := range d.queues {
		queues = append(queues, q)
	}
	d.mu.Unlock()

	for _, q := range queues {
		drained := q.drain()
		if len(drained) == 0 {
			continue
		}
		d.logQueueState(q.deviceID, "ACTIVE", "DRAINED", reason)

		for _, cmd := range drained {
			if _, ok := d.correlator.Resolve(cmd.ID); !ok {
				continue
			}
			outcome := wire.ErrorOutcome(cmd.ID, wire.CodeConnectionLost, reason)

			frame, err := wire.Encode(outcome.Message())
			if err != nil {
				d.logError(err, "encode drain outcome")
				continue
			}
			d.replay.Put(cmd.ID, frame)
			d.logOutcome(cmd.DeviceID, outcome, 0)
			d.deliver(cmd.ID, frame)
		}
	}
}

// shutdown drains remaining work and stops every queue worker.
func (d *Dispatcher) shutdown() {
	d.drainAll("shutdown")

	d.mu.Lock()
	queues := d.queues
	d.queues = make(map[string]*deviceQueue)
	d.mu.Unlock()

	for _, q := range queues {
		q.stop()
	}
	for _, q := range queues {
		q.wait()
	}

	d.runCancel()
}

func (d *Dispatcher) logCommand(cmd *wire.Command) {
	d.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: d.sender.ConnectionID(),
		Direction:    log.DirectionIn,
		Layer:        log.LayerDispatch,
		Category:     log.CategoryMessage,
		DeviceID:     cmd.DeviceID,
		Message: &log.MessageEvent{
			Type:      string(wire.TypeCommand),
			CommandID: cmd.ID,
			Action:    cmd.Action,
		},
	})
}

func (d *Dispatcher) logReplay(cmd *wire.Command) {
	d.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: d.sender.ConnectionID(),
		Direction:    log.DirectionOut,
		Layer:        log.LayerDispatch,
		Category:     log.CategoryMessage,
		DeviceID:     cmd.DeviceID,
		Message: &log.MessageEvent{
			Type:      string(wire.TypeResult),
			CommandID: cmd.ID,
			Action:    cmd.Action,
			Replayed:  true,
		},
	})
}

func (d *Dispatcher) logOutcome(deviceID string, outcome *wire.Outcome, processing time.Duration) {
	event := &log.MessageEvent{
		Type:      string(wire.TypeResult),
		CommandID: outcome.ID,
		Success:   &outcome.Success,
	}
	if outcome.Error != nil {
		event.Code = string(outcome.Error.Code)
	}
	if processing > 0 {
		event.ProcessingTime = &processing
	}

	d.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: d.sender.ConnectionID(),
		Direction:    log.DirectionOut,
		Layer:        log.LayerDispatch,
		Category:     log.CategoryMessage,
		DeviceID:     deviceID,
		Message:      event,
	})
}

func (d *Dispatcher) logQueueState(deviceID, oldState, newState, reason string) {
	d.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: d.sender.ConnectionID(),
		Layer:        log.LayerDispatch,
		Category:     log.CategoryState,
		DeviceID:     deviceID,
		StateChange: &log.StateChangeEvent{
			Entity:   log.StateEntityQueue,
			OldState: oldState,
			NewState: newState,
			Reason:   reason,
		},
	})
}

func (d *Dispatcher) logDrop(kind log.DropKind, id, reason string) {
	d.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: d.sender.ConnectionID(),
		Layer:        log.LayerDispatch,
		Category:     log.CategoryDrop,
		Drop: &log.DropEvent{
			Kind:      kind,
			CommandID: id,
			Reason:    reason,
		},
	})
}

func (d *Dispatcher) logError(err error, context string) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	d.logger.Log(log.Event{
		Timestamp:    time.Now(),
		ConnectionID: d.sender.ConnectionID(),
		Layer:        log.LayerDispatch,
		Category:     log.CategoryError,
		Error: &log.ErrorEventData{
			Layer:   log.LayerDispatch,
			Message: message,
			Context: context,
		},
	})
}
