package robot

import (
	"fmt"
	"sort"
	"sync"
)

// Registry lazily creates and caches one Robot per device.
// It replaces process-wide device manager singletons: the agent owns a
// Registry instance and passes it to the dispatcher explicitly.
type Registry struct {
	factory Factory

	mu     sync.Mutex
	robots map[string]Robot
	closed bool
}

// NewRegistry creates a registry backed by the given factory.
func NewRegistry(factory Factory) *Registry {
	return &Registry{
		factory: factory,
		robots:  make(map[string]Robot),
	}
}

// Get returns the robot for a device, creating it on first reference.
func (r *Registry) Get(deviceID string) (Robot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return nil, fmt.Errorf("robot registry closed")
	}

	if robot, ok := r.robots[deviceID]; ok {
		return robot, nil
	}

	robot, err := r.factory(deviceID)
	if err != nil {
		return nil, fmt.Errorf("create robot for %s: %w", deviceID, err)
	}
	r.robots[deviceID] = robot
	return robot, nil
}

// Release closes and forgets the robot for a device, if one exists.
// Used when a device queue is evicted after idling.
func (r *Registry) Release(deviceID string) error {
	r.mu.Lock()
	robot, ok := r.robots[deviceID]
	delete(r.robots, deviceID)
	r.mu.Unlock()

	if !ok {
		return nil
	}
	return robot.Close()
}

// Devices returns the ids of all devices with an active robot, sorted.
func (r *Registry) Devices() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids := make([]string, 0, len(r.robots))
	for id := range r.robots {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Close closes all robots. The registry rejects Get calls afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	robots := r.robots
	r.robots = make(map[string]Robot)
	r.mu.Unlock()

	var firstErr error
	for _, robot := range robots {
		if err := robot.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}
