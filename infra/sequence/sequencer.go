// Package sequence issues the order numbers the local account stamps on
// its announcements. One counter covers every asset, so a live sequence
// names at most one order and peers can key retracts by it alone.
package sequence

import "sync/atomic"

// Counter hands out strictly increasing sequence numbers. Safe for
// concurrent placement and cancellation.
type Counter struct {
	last atomic.Uint64
}

// New seeds the counter with the highest sequence already persisted, so
// a restarted node keeps numbering above everything peers have seen
// from it. A fresh node seeds with zero and starts at one.
func New(last uint64) *Counter {
	c := &Counter{}
	c.last.Store(last)
	return c
}

// Next reserves and returns the following sequence number.
func (c *Counter) Next() uint64 {
	return c.last.Add(1)
}
