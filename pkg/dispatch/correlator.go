package dispatch

import (
	"errors"
	"sync"
	"time"
)

// Correlator errors.
var (
	ErrDuplicatePending = errors.New("command id already pending")
)

// Pending describes one in-flight command awaiting its outcome.
type Pending struct {
	ID         string
	DeviceID   string
	Deadline   time.Time
	Registered time.Time
}

// Correlator is the pending set mapping in-flight command ids to their
// deadlines. An id is removed the instant its outcome is decided, by
// completion, deadline sweep, or connection-lost drain, whichever comes
// first. That removal is what guarantees each accepted command yields
// exactly one outcome.
type Correlator struct {
	mu      sync.Mutex
	pending map[string]*Pending
}

// NewCorrelator creates an empty correlator.
func NewCorrelator() *Correlator {
	return &Correlator{pending: make(map[string]*Pending)}
}

// Register adds a command to the pending set with its deadline.
// Registering an id that is already pending fails: the duplicate frame
// must not produce a second outcome.
func (c *Correlator) Register(id, deviceID string, deadline time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, exists := c.pending[id]; exists {
		return ErrDuplicatePending
	}
	c.pending[id] = &Pending{
		ID:         id,
		DeviceID:   deviceID,
		Deadline:   deadline,
		Registered: time.Now(),
	}
	return nil
}

// Resolve removes id from the pending set. It returns the pending entry
// and true when the id was still pending, or nil and false when the
// outcome was already decided elsewhere and this completion is late.
func (c *Correlator) Resolve(id string) (*Pending, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.pending[id]
	if !ok {
		return nil, false
	}
	delete(c.pending, id)
	return entry, true
}

// TakeExpired removes and returns every pending entry whose deadline has
// passed. The caller synthesizes a timeout outcome per entry; the backend
// call itself keeps running and its eventual completion is discarded by
// Resolve returning false.
func (c *Correlator) TakeExpired(now time.Time) []*Pending {
	c.mu.Lock()
	defer c.mu.Unlock()

	var expired []*Pending
	for id, entry := range c.pending {
		if now.After(entry.Deadline) {
			expired = append(expired, entry)
			delete(c.pending, id)
		}
	}
	return expired
}

// Len returns the number of pending commands.
func (c *Correlator) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
