// Package cache implements the bounded execution cache described in
// spec.md §4.2: a concurrent map correlating request identifiers to
// pending response handles, with two-phase removal and an expiry sweep.
package cache

import (
	"sync"
	"sync/atomic"
	"time"
)

// Item is anything the cache can hold. A node connection's pending request
// satisfies this.
type Item interface {
	// ID is the execution id this item is keyed by.
	ID() uint64
	// ExpiresAt returns the deadline and whether one applies at all
	// (infinite-timeout items return ok=false).
	ExpiresAt() (deadline time.Time, ok bool)
}

// Cache is a bounded, thread-safe {execution_id -> Item} map. All
// operations are linearizable per key.
//
// size is incremented before the item is visible in the map so that a
// concurrent submitter observes backpressure promptly (spec.md §4.2), and
// is only decremented once the caller finishes the two-phase removal —
// drain() therefore only sees zero after every callback tied to a removed
// item has actually run, not just after the item left the map.
type Cache struct {
	mu    sync.Mutex
	items map[uint64]Item
	size  int64
}

func New() *Cache {
	return &Cache{items: make(map[uint64]Item)}
}

// Insert adds item to the cache. O(1).
func (c *Cache) Insert(item Item) {
	atomic.AddInt64(&c.size, 1)
	c.mu.Lock()
	c.items[item.ID()] = item
	c.mu.Unlock()
}

// BeginRemove extracts item id from the map if present, without yet
// decrementing the size counter. The caller must follow up with EndRemove
// once any user-visible work (callback delivery) for this item has
// completed.
func (c *Cache) BeginRemove(id uint64) (Item, bool) {
	c.mu.Lock()
	item, ok := c.items[id]
	if ok {
		delete(c.items, id)
	}
	c.mu.Unlock()
	return item, ok
}

// EndRemove completes a removal started by BeginRemove, decrementing the
// size counter. Must be called exactly once per successful BeginRemove.
func (c *Cache) EndRemove() {
	atomic.AddInt64(&c.size, -1)
}

// Remove is a convenience wrapper for callers with no user-visible work to
// interleave between extraction and accounting (e.g. the timeout sweeper,
// which completes the handle synchronously before moving to the next id).
func (c *Cache) Remove(id uint64) (Item, bool) {
	item, ok := c.BeginRemove(id)
	if ok {
		c.EndRemove()
	}
	return item, ok
}

// ExpiredIDs returns the ids of every item whose deadline is at or before
// now. O(cache size); spec.md §9 permits either this coarse scan or an
// ordered structure keyed by expires_at — see DESIGN.md for the tradeoff.
func (c *Cache) ExpiredIDs(now time.Time) []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ids []uint64
	for id, item := range c.items {
		if deadline, ok := item.ExpiresAt(); ok && !deadline.After(now) {
			ids = append(ids, id)
		}
	}
	return ids
}

// Size returns the current count, atomically.
func (c *Cache) Size() int64 {
	return atomic.LoadInt64(&c.size)
}

// Drain blocks the calling goroutine (via busy-poll with a short sleep)
// until the cache is empty, or the context-free deadline d elapses. A zero
// d waits indefinitely. It returns false if it gave up before reaching
// zero.
func (c *Cache) Drain(d time.Duration) bool {
	const pollInterval = 5 * time.Millisecond
	var deadline time.Time
	if d > 0 {
		deadline = time.Now().Add(d)
	}
	for c.Size() > 0 {
		if d > 0 && time.Now().After(deadline) {
			return false
		}
		time.Sleep(pollInterval)
	}
	return true
}

// All returns a snapshot slice of every item currently held, used by the
// receive loop's terminal-error path to abort every outstanding request.
func (c *Cache) All() []Item {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Item, 0, len(c.items))
	for _, item := range c.items {
		out = append(out, item)
	}
	return out
}
