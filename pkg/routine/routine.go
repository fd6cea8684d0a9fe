package routine

import (
	"sync/atomic"
	"time"
)

// Routine computes a task's next absolute expiration in unix milliseconds.
// ok is false once the routine has no further occurrences.
type Routine interface {
	Next() (expiration int64, ok bool)

	sealed()
}

// Once fires a single time; its expiration is fixed when the task is built.
type Once struct{}

func NewOnce() Once { return Once{} }

func (Once) Next() (int64, bool) { return 0, false }
func (Once) sealed()             {}

// Timeout fires every interval, anchored at its creation time.
//
// The k-th call to Next returns createdAt + k*interval, so wall-clock jitter in
// heartbeats never accumulates into drift.
type Timeout struct {
	createdAt int64
	interval  int64
	maxCount  int64 // 0 = unbounded
	count     atomic.Int64
}

// NewTimeout builds a Timeout. maxCount <= 0 means it never terminates.
func NewTimeout(createdAt, interval, maxCount int64) *Timeout {
	if maxCount < 0 {
		maxCount = 0
	}
	return &Timeout{createdAt: createdAt, interval: interval, maxCount: maxCount}
}

func (t *Timeout) Next() (int64, bool) {
	k := t.count.Add(1)
	if t.maxCount > 0 && k > t.maxCount {
		return 0, false
	}
	return t.createdAt + k*t.interval, true
}

func (*Timeout) sealed() {}

// Cron walks a cron schedule forward from its creation time.
type Cron struct {
	sched    Schedule
	loc      *time.Location
	maxCount int64
	count    atomic.Int64
	cursor   atomic.Int64 // last returned occurrence, or createdAt
}

// NewCron builds a Cron anchored at createdAt. A nil loc means time.Local.
// maxCount <= 0 means the routine runs until the schedule is exhausted.
func NewCron(createdAt int64, sched Schedule, loc *time.Location, maxCount int64) *Cron {
	if loc == nil {
		loc = time.Local
	}
	if maxCount < 0 {
		maxCount = 0
	}
	c := &Cron{sched: sched, loc: loc, maxCount: maxCount}
	c.cursor.Store(createdAt)
	return c
}

func (c *Cron) Next() (int64, bool) {
	if c.sched == nil {
		return 0, false
	}
	if c.maxCount > 0 && c.count.Load() >= c.maxCount {
		return 0, false
	}
	cur := c.cursor.Load()
	next := c.sched.Next(time.UnixMilli(cur).In(c.loc))
	if next.IsZero() {
		return 0, false
	}
	ms := next.UnixMilli()
	// A provider that fails to move forward would pin the task in place.
	if ms <= cur {
		return 0, false
	}
	c.cursor.Store(ms)
	c.count.Add(1)
	return ms, true
}

func (*Cron) sealed() {}
