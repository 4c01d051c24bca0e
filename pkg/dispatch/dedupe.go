package dispatch

import (
	"container/list"
	"sync"
	"time"
)

// ReplayCache remembers the encoded result frame of recently completed
// commands. A command id seen again inside the window is answered with the
// cached frame instead of re-executing, which turns the transport's
// at-least-once delivery into at-most-once execution. Replays are
// bit-identical to the original result.
//
// The cache is bounded two ways: entries expire after the window, and when
// the entry count hits the size limit the oldest entry is evicted.
type ReplayCache struct {
	window  time.Duration
	maxSize int

	mu      sync.Mutex
	entries map[string]*replayEntry
	order   *list.List // ids oldest-first
}

type replayEntry struct {
	frame    []byte
	cachedAt time.Time
	element  *list.Element
}

// NewReplayCache creates a cache holding at most maxSize result frames,
// each for at most window.
func NewReplayCache(window time.Duration, maxSize int) *ReplayCache {
	return &ReplayCache{
		window:  window,
		maxSize: maxSize,
		entries: make(map[string]*replayEntry),
		order:   list.New(),
	}
}

// Put records the result frame for a completed command id.
func (c *ReplayCache) Put(id string, frame []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entry, ok := c.entries[id]; ok {
		entry.frame = frame
		entry.cachedAt = time.Now()
		c.order.MoveToBack(entry.element)
		return
	}

	if len(c.entries) >= c.maxSize {
		c.evictOldest()
	}

	elem := c.order.PushBack(id)
	c.entries[id] = &replayEntry{
		frame:    frame,
		cachedAt: time.Now(),
		element:  elem,
	}
}

// Get returns the cached result frame for id, if present and fresh.
func (c *ReplayCache) Get(id string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	if time.Since(entry.cachedAt) >= c.window {
		c.order.Remove(entry.element)
		delete(c.entries, id)
		return nil, false
	}
	return entry.frame, true
}

// Len returns the number of cached entries, expired or not.
func (c *ReplayCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Prune drops all expired entries. The dispatcher calls this from its
// sweep ticker so the cache does not need its own goroutine.
func (c *ReplayCache) Prune(now time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for id, entry := range c.entries {
		if now.Sub(entry.cachedAt) >= c.window {
			c.order.Remove(entry.element)
			delete(c.entries, id)
		}
	}
}

// evictOldest removes the oldest entry. Caller holds mu.
func (c *ReplayCache) evictOldest() {
	front := c.order.Front()
	if front == nil {
		return
	}
	id, _ := front.Value.(string)
	c.order.Remove(front)
	delete(c.entries, id)
}
