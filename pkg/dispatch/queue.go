package dispatch

import (
	"sync"
	"time"

	"github.com/devrelay/devrelay-go/pkg/wire"
)

// execFunc executes one command to completion, outcome delivery included.
type execFunc func(cmd *wire.Command)

// deviceQueue serializes command execution for one device.
//
// A single worker goroutine pops commands in arrival order and runs them
// one at a time, so command N+1 never starts before command N's outcome
// exists. The backlog is bounded; enqueue fails when it is full and the
// dispatcher answers with a backpressure outcome instead.
type deviceQueue struct {
	deviceID string
	limit    int
	run      execFunc

	mu        sync.Mutex
	backlog   []*wire.Command
	executing bool
	idleSince time.Time
	stopped   bool

	notify chan struct{}
	stopCh chan struct{}
	done   chan struct{}
}

// newDeviceQueue creates a queue and starts its worker.
func newDeviceQueue(deviceID string, limit int, run execFunc) *deviceQueue {
	q := &deviceQueue{
		deviceID:  deviceID,
		limit:     limit,
		run:       run,
		idleSince: time.Now(),
		notify:    make(chan struct{}, 1),
		stopCh:    make(chan struct{}),
		done:      make(chan struct{}),
	}
	go q.worker()
	return q
}

// enqueue appends a command to the backlog.
// Returns false when the backlog is at its depth limit or the queue has
// been stopped; the command was not accepted in either case.
func (q *deviceQueue) enqueue(cmd *wire.Command) bool {
	q.mu.Lock()
	if q.stopped || len(q.backlog) >= q.limit {
		q.mu.Unlock()
		return false
	}
	q.backlog = append(q.backlog, cmd)
	q.idleSince = time.Time{}
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return true
}

// drain removes and returns every queued-but-unstarted command.
// An in-flight backend call is left alone; it may be mid-physical-action.
func (q *deviceQueue) drain() []*wire.Command {
	q.mu.Lock()
	defer q.mu.Unlock()

	drained := q.backlog
	q.backlog = nil
	if !q.executing {
		q.idleSince = time.Now()
	}
	return drained
}

// depth returns the current backlog length, excluding any in-flight call.
func (q *deviceQueue) depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.backlog)
}

// idleFor reports how long the queue has been empty with nothing in
// flight. Zero while the queue has work.
func (q *deviceQueue) idleFor(now time.Time) time.Duration {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.executing || len(q.backlog) > 0 || q.idleSince.IsZero() {
		return 0
	}
	return now.Sub(q.idleSince)
}

// stop shuts the worker down once the remaining backlog is processed.
// The dispatcher drains first, so in practice the worker exits promptly.
func (q *deviceQueue) stop() {
	q.mu.Lock()
	if q.stopped {
		q.mu.Unlock()
		return
	}
	q.stopped = true
	q.mu.Unlock()
	close(q.stopCh)
}

// wait blocks until the worker goroutine has exited.
func (q *deviceQueue) wait() {
	<-q.done
}

// worker pops and executes commands until stopped.
func (q *deviceQueue) worker() {
	defer close(q.done)
	for {
		cmd := q.next()
		if cmd == nil {
			return
		}
		q.run(cmd)
		q.finish()
	}
}

// next blocks until a command is available or the queue stops empty.
func (q *deviceQueue) next() *wire.Command {
	for {
		q.mu.Lock()
		if len(q.backlog) > 0 {
			cmd := q.backlog[0]
			q.backlog = q.backlog[1:]
			q.executing = true
			q.mu.Unlock()
			return cmd
		}
		stopped := q.stopped
		q.mu.Unlock()

		if stopped {
			return nil
		}

		select {
		case <-q.notify:
		case <-q.stopCh:
		}
	}
}

// finish marks the in-flight command done and starts the idle clock if
// the backlog is empty.
func (q *deviceQueue) finish() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.executing = false
	if len(q.backlog) == 0 {
		q.idleSince = time.Now()
	}
}
