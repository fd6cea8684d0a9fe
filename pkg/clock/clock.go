// Package clock supplies wall-clock time in unix milliseconds.
//
// The scheduler never calls time.Now directly; it reads a Clock so tests can
// drive heartbeats against a Simulated clock.
package clock

import (
	"sync/atomic"
	"time"
)

// Clock returns the current time in milliseconds since the unix epoch.
type Clock interface {
	Now() int64
}

// System reads the real wall clock.
type System struct{}

func (System) Now() int64 { return time.Now().UnixMilli() }

// Simulated is a manually advanced clock. The zero value reads 0.
type Simulated struct {
	now atomic.Int64
}

// NewSimulated returns a Simulated clock reading start.
func NewSimulated(start int64) *Simulated {
	c := &Simulated{}
	c.now.Store(start)
	return c
}

func (c *Simulated) Now() int64 { return c.now.Load() }

// Set moves the clock to v and reports whether the reading changed.
// Setting a clock that was never initialised reports false.
func (c *Simulated) Set(v int64) bool {
	last := c.now.Swap(v)
	if last == 0 {
		return false
	}
	return last != v
}

// Advance moves the clock forward by d milliseconds and returns the new reading.
func (c *Simulated) Advance(d int64) int64 {
	return c.now.Add(d)
}

// Truncate rounds x toward zero to a multiple of m.
// If m <= 0, Truncate returns x unchanged.
func Truncate(x, m int64) int64 {
	if m <= 0 {
		return x
	}
	return x - x%m
}
