package bus

import "sync/atomic"

// Clock is a monotonic logical clock. Every published event is stamped with
// a strictly increasing sequence number so that consumers and journal rows
// share a total order that does not depend on wall-clock resolution.
//
// Clock is safe for concurrent use.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// Next returns the next sequence number. Each call returns a unique,
// increasing value.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the latest sequence number without advancing the clock.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
