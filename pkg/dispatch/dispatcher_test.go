package dispatch

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/devrelay/devrelay-go/pkg/robot"
	"github.com/devrelay/devrelay-go/pkg/wire"
)

// fakeSender captures outbound frames and simulates connectivity.
type fakeSender struct {
	mu        sync.Mutex
	connected bool
	frames    [][]byte
	pongs     []string
	framesCh  chan []byte
}

func newFakeSender(connected bool) *fakeSender {
	return &fakeSender{connected: connected, framesCh: make(chan []byte, 64)}
}

func (s *fakeSender) Send(ctx context.Context, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return errors.New("not connected")
	}
	s.frames = append(s.frames, data)
	s.framesCh <- data
	return nil
}

func (s *fakeSender) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.connected
}

func (s *fakeSender) PongReceived(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pongs = append(s.pongs, id)
}

func (s *fakeSender) ConnectionID() string { return "conn-test" }

func (s *fakeSender) setConnected(connected bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.connected = connected
}

func (s *fakeSender) sentFrames() [][]byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	frames := make([][]byte, len(s.frames))
	copy(frames, s.frames)
	return frames
}

func (s *fakeSender) pongIDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.pongs...)
}

// nextFrame waits for the next outbound frame and decodes it.
func (s *fakeSender) nextFrame(t *testing.T) *wire.Message {
	t.Helper()
	select {
	case data := <-s.framesCh:
		msg, err := wire.Decode(data)
		require.NoError(t, err)
		return msg
	case <-time.After(2 * time.Second):
		t.Fatal("no outbound frame")
		return nil
	}
}

// countingRobot counts Execute calls and can block until released.
type countingRobot struct {
	calls atomic.Int32
	block chan struct{}
	err   error
}

func (r *countingRobot) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	r.calls.Add(1)
	if r.block != nil {
		select {
		case <-r.block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return map[string]any{"message": "done"}, nil
}

func (r *countingRobot) Close() error { return nil }

func singleRobotFactory(r robot.Robot) robot.Factory {
	return func(deviceID string) (robot.Robot, error) { return r, nil }
}

func commandFrame(t *testing.T, id, deviceID, action string, params map[string]any) []byte {
	t.Helper()
	data, err := wire.Encode(&wire.Message{
		ID:       id,
		Type:     wire.TypeCommand,
		DeviceID: deviceID,
		Action:   action,
		Params:   params,
	})
	require.NoError(t, err)
	return data
}

func TestDispatcherExecutesCommand(t *testing.T) {
	sender := newFakeSender(true)
	robots := robot.NewRegistry(singleRobotFactory(&countingRobot{}))
	d := NewDispatcher(Config{}, sender, robots, nil)
	defer d.Close()

	d.HandleFrame(commandFrame(t, "1", "d1", robot.ActionTap, map[string]any{"x": 10, "y": 20}))

	msg := sender.nextFrame(t)
	assert.Equal(t, "1", msg.ID)
	assert.Equal(t, wire.TypeResult, msg.Type)
	require.NotNil(t, msg.Success)
	assert.True(t, *msg.Success)
	assert.Equal(t, "done", msg.Data["message"])
}

func TestDispatcherReplaysDuplicateWithoutReExecution(t *testing.T) {
	sender := newFakeSender(true)
	backend := &countingRobot{}
	robots := robot.NewRegistry(singleRobotFactory(backend))
	d := NewDispatcher(Config{}, sender, robots, nil)
	defer d.Close()

	frame := commandFrame(t, "dup", "d1", robot.ActionScreenshot, nil)

	d.HandleFrame(frame)
	first := sender.nextFrame(t)
	require.Equal(t, "dup", first.ID)

	d.HandleFrame(frame)
	sender.nextFrame(t)

	// The replay is bit-identical and the backend ran exactly once.
	frames := sender.sentFrames()
	require.Len(t, frames, 2)
	assert.True(t, bytes.Equal(frames[0], frames[1]), "replayed result must be bit-identical")
	assert.EqualValues(t, 1, backend.calls.Load())
}

func TestDispatcherTimeoutThenLateCompletionDiscarded(t *testing.T) {
	sender := newFakeSender(true)
	backend := &countingRobot{block: make(chan struct{})}
	robots := robot.NewRegistry(singleRobotFactory(backend))
	d := NewDispatcher(Config{
		CommandDeadline: 30 * time.Millisecond,
		SweepInterval:   10 * time.Millisecond,
	}, sender, robots, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	defer d.Close()

	d.HandleFrame(commandFrame(t, "slow", "d1", robot.ActionTap, map[string]any{"x": 1, "y": 2}))

	msg := sender.nextFrame(t)
	assert.Equal(t, "slow", msg.ID)
	require.NotNil(t, msg.Success)
	assert.False(t, *msg.Success)
	require.NotNil(t, msg.Error)
	assert.Equal(t, wire.CodeTimeout, msg.Error.Code)

	// Release the backend; its late completion must not produce a
	// second outcome.
	close(backend.block)
	time.Sleep(50 * time.Millisecond)

	count := 0
	for _, data := range sender.sentFrames() {
		decoded, err := wire.Decode(data)
		require.NoError(t, err)
		if decoded.ID == "slow" {
			count++
		}
	}
	assert.Equal(t, 1, count, "exactly one outcome per command")
}

func TestDispatcherBackpressure(t *testing.T) {
	sender := newFakeSender(true)
	backend := &countingRobot{block: make(chan struct{})}
	robots := robot.NewRegistry(singleRobotFactory(backend))
	d := NewDispatcher(Config{QueueDepth: 1}, sender, robots, nil)
	defer d.Close()
	defer close(backend.block)

	// First command occupies the worker, second fills the backlog.
	d.HandleFrame(commandFrame(t, "running", "d1", robot.ActionTap, map[string]any{"x": 1, "y": 2}))
	waitForCalls(t, &backend.calls, 1)
	d.HandleFrame(commandFrame(t, "queued", "d1", robot.ActionTap, map[string]any{"x": 1, "y": 2}))

	// The backlog is full: the next command bounces immediately.
	d.HandleFrame(commandFrame(t, "rejected", "d1", robot.ActionTap, map[string]any{"x": 1, "y": 2}))

	msg := sender.nextFrame(t)
	assert.Equal(t, "rejected", msg.ID)
	require.NotNil(t, msg.Error)
	assert.Equal(t, wire.CodeBackpressure, msg.Error.Code)
}

func TestDispatcherUnknownAction(t *testing.T) {
	sender := newFakeSender(true)
	backend := &countingRobot{}
	robots := robot.NewRegistry(singleRobotFactory(backend))
	d := NewDispatcher(Config{}, sender, robots, nil)
	defer d.Close()

	d.HandleFrame(commandFrame(t, "1", "d1", "explode", nil))

	msg := sender.nextFrame(t)
	require.NotNil(t, msg.Error)
	assert.Equal(t, wire.CodeUnsupported, msg.Error.Code)
	assert.EqualValues(t, 0, backend.calls.Load(), "unknown actions never reach a backend")
}

func TestDispatcherMalformedFrame(t *testing.T) {
	sender := newFakeSender(true)
	robots := robot.NewRegistry(singleRobotFactory(&countingRobot{}))
	d := NewDispatcher(Config{}, sender, robots, nil)
	defer d.Close()

	// Carries an id: answered with a PERMANENT outcome.
	d.HandleFrame([]byte(`{"id":"bad","type":"command"}`))
	msg := sender.nextFrame(t)
	assert.Equal(t, "bad", msg.ID)
	require.NotNil(t, msg.Error)
	assert.Equal(t, wire.CodePermanent, msg.Error.Code)

	// No id at all: nothing to correlate, nothing sent.
	d.HandleFrame([]byte(`not json`))
	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sender.sentFrames(), 1)
}

func TestDispatcherFailedBackendClassification(t *testing.T) {
	sender := newFakeSender(true)
	backend := &countingRobot{err: robot.NewActionError(wire.CodePermission, "denied")}
	robots := robot.NewRegistry(singleRobotFactory(backend))
	d := NewDispatcher(Config{}, sender, robots, nil)
	defer d.Close()

	d.HandleFrame(commandFrame(t, "1", "d1", robot.ActionScreenshot, nil))

	msg := sender.nextFrame(t)
	require.NotNil(t, msg.Error)
	assert.Equal(t, wire.CodePermission, msg.Error.Code)
}

func TestDispatcherIndependentDevicesRunInParallel(t *testing.T) {
	sender := newFakeSender(true)

	// Each Execute waits until both devices have entered, which can only
	// happen if the two executions overlap in time.
	barrier := make(chan struct{}, 2)
	entered := make(chan struct{}, 2)
	factory := func(deviceID string) (robot.Robot, error) {
		return &barrierRobot{entered: entered, barrier: barrier}, nil
	}
	robots := robot.NewRegistry(factory)
	d := NewDispatcher(Config{}, sender, robots, nil)
	defer d.Close()

	d.HandleFrame(commandFrame(t, "a", "d1", robot.ActionScreenshot, nil))
	d.HandleFrame(commandFrame(t, "b", "d2", robot.ActionScreenshot, nil))

	for i := 0; i < 2; i++ {
		select {
		case <-entered:
		case <-time.After(2 * time.Second):
			t.Fatal("executions for distinct devices did not overlap")
		}
	}
	barrier <- struct{}{}
	barrier <- struct{}{}

	sender.nextFrame(t)
	sender.nextFrame(t)
}

// barrierRobot signals entry and waits for release.
type barrierRobot struct {
	entered chan struct{}
	barrier chan struct{}
}

func (r *barrierRobot) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	r.entered <- struct{}{}
	<-r.barrier
	return map[string]any{}, nil
}

func (r *barrierRobot) Close() error { return nil }

func TestDispatcherConnectionLostDrainsQueuedCommands(t *testing.T) {
	sender := newFakeSender(true)
	backend := &countingRobot{block: make(chan struct{})}
	robots := robot.NewRegistry(singleRobotFactory(backend))
	d := NewDispatcher(Config{}, sender, robots, nil)
	defer d.Close()

	d.HandleFrame(commandFrame(t, "running", "d1", robot.ActionTap, map[string]any{"x": 1, "y": 2}))
	waitForCalls(t, &backend.calls, 1)
	d.HandleFrame(commandFrame(t, "queued", "d1", robot.ActionTap, map[string]any{"x": 1, "y": 2}))

	sender.setConnected(false)
	d.ConnectionLost()

	// The queued command's CONNECTION_LOST outcome waits in the buffer.
	sender.setConnected(true)
	d.ConnectionUp()

	msg := sender.nextFrame(t)
	assert.Equal(t, "queued", msg.ID)
	require.NotNil(t, msg.Error)
	assert.Equal(t, wire.CodeConnectionLost, msg.Error.Code)

	// The in-flight command still completes and is delivered.
	close(backend.block)
	msg = sender.nextFrame(t)
	assert.Equal(t, "running", msg.ID)
	require.NotNil(t, msg.Success)
	assert.True(t, *msg.Success)
}

func TestDispatcherOutboundBufferDropsOldest(t *testing.T) {
	sender := newFakeSender(false)
	backend := &countingRobot{}
	robots := robot.NewRegistry(singleRobotFactory(backend))
	d := NewDispatcher(Config{OutboundBufferSize: 2}, sender, robots, nil)
	defer d.Close()

	for _, id := range []string{"1", "2", "3"} {
		d.HandleFrame(commandFrame(t, id, "d1", robot.ActionScreenshot, nil))
	}
	waitForCalls(t, &backend.calls, 3)
	// Let the last outcome reach the buffer before flushing.
	time.Sleep(20 * time.Millisecond)

	sender.setConnected(true)
	d.ConnectionUp()

	first := sender.nextFrame(t)
	second := sender.nextFrame(t)
	assert.Equal(t, "2", first.ID, "oldest outcome should have been dropped")
	assert.Equal(t, "3", second.ID)

	time.Sleep(20 * time.Millisecond)
	assert.Len(t, sender.sentFrames(), 2)
}

func TestDispatcherPingPong(t *testing.T) {
	sender := newFakeSender(true)
	robots := robot.NewRegistry(singleRobotFactory(&countingRobot{}))
	d := NewDispatcher(Config{}, sender, robots, nil)
	defer d.Close()

	ping, err := wire.Encode(wire.NewPing("probe-1"))
	require.NoError(t, err)
	d.HandleFrame(ping)

	msg := sender.nextFrame(t)
	assert.Equal(t, wire.TypePong, msg.Type)
	assert.Equal(t, "probe-1", msg.ID)

	pong, err := wire.Encode(wire.NewPong("hc-7"))
	require.NoError(t, err)
	d.HandleFrame(pong)
	assert.Equal(t, []string{"hc-7"}, sender.pongIDs())
}

func TestDispatcherIdleQueueEviction(t *testing.T) {
	sender := newFakeSender(true)
	backend := &countingRobot{}
	released := make(chan string, 1)
	factory := func(deviceID string) (robot.Robot, error) {
		return &releaseTrackingRobot{inner: backend, released: released, deviceID: deviceID}, nil
	}
	robots := robot.NewRegistry(factory)
	d := NewDispatcher(Config{
		QueueIdleTimeout: 30 * time.Millisecond,
		SweepInterval:    10 * time.Millisecond,
	}, sender, robots, nil)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go d.Run(ctx)
	defer d.Close()

	d.HandleFrame(commandFrame(t, "1", "d1", robot.ActionScreenshot, nil))
	sender.nextFrame(t)

	select {
	case id := <-released:
		assert.Equal(t, "d1", id)
	case <-time.After(2 * time.Second):
		t.Fatal("idle queue was never evicted")
	}
	assert.Empty(t, d.Devices())
}

// releaseTrackingRobot reports Close calls from queue eviction.
type releaseTrackingRobot struct {
	inner    robot.Robot
	released chan string
	deviceID string
}

func (r *releaseTrackingRobot) Execute(ctx context.Context, action string, params map[string]any) (map[string]any, error) {
	return r.inner.Execute(ctx, action, params)
}

func (r *releaseTrackingRobot) Close() error {
	r.released <- r.deviceID
	return nil
}

func waitForCalls(t *testing.T, calls *atomic.Int32, want int32) {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for calls.Load() < want {
		select {
		case <-deadline:
			t.Fatalf("backend calls never reached %d, at %d", want, calls.Load())
		case <-time.After(time.Millisecond):
		}
	}
}
