package engine

import (
	"sync/atomic"
	"time"
)

// Clock is the monotonic logical clock that orders transfers and events.
//
// Every transfer and event is stamped with a strictly increasing seq from
// this clock, so replaying the log yields the same order regardless of wall
// time.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	seq atomic.Int64
}

// NewClock creates a new clock starting at 0.
func NewClock() *Clock {
	return &Clock{}
}

// NewClockAt creates a new clock starting at a specific sequence number.
// Used to resume from the last seq in the store.
func NewClockAt(start int64) *Clock {
	c := &Clock{}
	c.seq.Store(start)
	return c
}

// Next returns the next sequence number and increments the clock.
func (c *Clock) Next() int64 {
	return c.seq.Add(1)
}

// Current returns the current sequence number without incrementing.
func (c *Clock) Current() int64 {
	return c.seq.Load()
}

// AdvanceTo moves the clock forward to at least seq. It never moves backwards.
// Used when another process sharing the database has written newer records.
func (c *Clock) AdvanceTo(seq int64) {
	for {
		cur := c.seq.Load()
		if seq <= cur || c.seq.CompareAndSwap(cur, seq) {
			return
		}
	}
}

// WallClock supplies the current time for deadline checks.
// Implemented by SystemClock (production) and testutil.FakeClock (tests).
type WallClock interface {
	Now() time.Time
}

// SystemClock reads the system time in UTC.
type SystemClock struct{}

// Now returns time.Now in UTC.
func (SystemClock) Now() time.Time {
	return time.Now().UTC()
}
