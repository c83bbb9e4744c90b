// Package rundown implements the rundown-reference pattern used to gate
// teardown of the adapter and of each disk (spec §3, §4.6, §4.7): callers
// acquire a reference before touching shared state, teardown stops new
// acquisitions and waits for outstanding ones to drain.
package rundown

import "sync"

// Counter tracks outstanding references against a single resource.
type Counter struct {
	mu       sync.Mutex
	count    int
	draining bool
	drained  chan struct{}
}

// New returns a Counter ready to accept references.
func New() *Counter {
	return &Counter{drained: make(chan struct{})}
}

// Acquire takes a reference, returning false if Begin has already been
// called (the resource is tearing down).
func (c *Counter) Acquire() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.draining {
		return false
	}
	c.count++
	return true
}

// Release drops a reference taken by Acquire.
func (c *Counter) Release() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.count == 0 {
		return
	}
	c.count--
	if c.draining && c.count == 0 {
		close(c.drained)
	}
}

// Begin stops further Acquire calls from succeeding and returns a channel
// that closes once every outstanding reference has been released (closed
// immediately if there are none).
func (c *Counter) Begin() <-chan struct{} {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.draining {
		c.draining = true
		if c.count == 0 {
			close(c.drained)
		}
	}
	return c.drained
}

// Count reports the current reference count, for tests and diagnostics.
func (c *Counter) Count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}
