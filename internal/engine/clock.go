package engine

import "sync/atomic"

// Clock hands out journal sequence numbers. Every handled event takes one,
// including unknown events and events nested through DispatchSync, so the
// journal of a run is gap-free and a replay on a fresh engine reproduces
// the same numbering.
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a clock whose first Next returns 1.
func NewClock() *Clock {
	return &Clock{}
}

// Next stamps one event.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the last number handed out, or 0.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}
