package cloud

import "sync/atomic"

// Clock is the server's monotonic logical clock. Every accepted write is
// stamped with a strictly increasing version; wall time is never consulted.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a clock resuming after start, the highest version the
// key table has recorded.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next version and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last issued version without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
