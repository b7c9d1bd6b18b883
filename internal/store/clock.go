package store

import (
	"sync"
	"time"
)

// Clock hands out change timestamps that are monotonically increasing per
// target id. If the wall clock regresses, the next timestamp is
// last + 1ms, so the per-target change ordering guarantee holds even
// across clock adjustments.
type Clock struct {
	mu   sync.Mutex
	last map[string]time.Time
	now  func() time.Time
}

// NewClock creates a monotonic per-target clock.
func NewClock() *Clock {
	return &Clock{
		last: make(map[string]time.Time),
		now:  time.Now,
	}
}

// Next returns the timestamp for the next change of targetID.
func (c *Clock) Next(targetID string) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	ts := c.now()
	if last, ok := c.last[targetID]; ok && !ts.After(last) {
		ts = last.Add(time.Millisecond)
	}
	c.last[targetID] = ts
	return ts
}

// Observe records an externally supplied timestamp so later Next calls for
// the same target stay ahead of it.
func (c *Clock) Observe(targetID string, ts time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if last, ok := c.last[targetID]; !ok || ts.After(last) {
		c.last[targetID] = ts
	}
}
