package wheel

import (
	"math"
	"sync"

	"tickwheel/pkg/clock"
	"tickwheel/pkg/logx"
)

// TimingWheel is one level of the wheel hierarchy.
//
// Level 0 has the configured tick. Each overflow level has tick equal to the
// interval of the level below it and shares the same DelayQueue.
type TimingWheel struct {
	mu sync.Mutex

	tickMs      int64
	wheelSize   int64
	interval    int64
	currentTime int64
	level       int

	buckets  []*Bucket
	queue    *DelayQueue
	overflow *TimingWheel

	log logx.Logger
}

// New builds a level-0 wheel starting at startMs truncated to tickMs.
// tickMs and wheelSize must be positive; callers validate them.
func New(tickMs, wheelSize, startMs int64, queue *DelayQueue, log logx.Logger) *TimingWheel {
	return newLevel(0, tickMs, wheelSize, startMs, queue, log)
}

func newLevel(level int, tickMs, wheelSize, startMs int64, queue *DelayQueue, log logx.Logger) *TimingWheel {
	buckets := make([]*Bucket, wheelSize)
	for i := range buckets {
		buckets[i] = NewBucket()
	}
	// A level whose span would overflow int64 covers the rest of time and
	// never grows an overflow of its own.
	interval := int64(math.MaxInt64)
	if tickMs <= math.MaxInt64/wheelSize {
		interval = tickMs * wheelSize
	}
	return &TimingWheel{
		tickMs:      tickMs,
		wheelSize:   wheelSize,
		interval:    interval,
		currentTime: clock.Truncate(startMs, tickMs),
		level:       level,
		buckets:     buckets,
		queue:       queue,
		log:         log.With(logx.Int("level", level)),
	}
}

// Schedule places t in this wheel or an overflow wheel.
//
// It returns false when t is already due at this level's granularity, that is
// Expiration < currentTime + tickMs; the caller must fire it instead.
func (w *TimingWheel) Schedule(t *Task) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	switch {
	case t.Expiration < w.currentTime || t.Expiration-w.currentTime < w.tickMs:
		w.log.Trace("task due, not scheduled",
			logx.String("task", t.ID.String()),
			logx.Millis("expiration", t.Expiration),
			logx.Millis("current", w.currentTime),
		)
		return false

	case t.Expiration-w.currentTime < w.interval || w.interval == math.MaxInt64:
		virtual := t.Expiration / w.tickMs
		b := w.buckets[virtual%w.wheelSize]
		b.Add(t)
		if b.SetExpiration(virtual * w.tickMs) {
			w.queue.Push(b)
		}
		w.log.Trace("task scheduled",
			logx.String("task", t.ID.String()),
			logx.Millis("expiration", t.Expiration),
			logx.Int64("slot", virtual%w.wheelSize),
		)
		return true

	default:
		if w.overflow == nil {
			w.overflow = newLevel(w.level+1, w.interval, w.wheelSize, w.currentTime, w.queue, w.log)
			w.log.Debug("overflow wheel created",
				logx.Int64("tick_ms", w.interval),
				logx.Millis("current", w.currentTime),
			)
		}
		return w.overflow.Schedule(t)
	}
}

// AdvanceClock moves the wheel forward to now, truncated to the tick.
// It is a no-op unless now has crossed at least one tick.
func (w *TimingWheel) AdvanceClock(now int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if now < w.currentTime || now-w.currentTime < w.tickMs {
		return
	}
	w.currentTime = clock.Truncate(now, w.tickMs)
	if w.overflow != nil {
		w.overflow.AdvanceClock(now)
	}
}

func (w *TimingWheel) TickMs() int64    { return w.tickMs }
func (w *TimingWheel) WheelSize() int64 { return w.wheelSize }
func (w *TimingWheel) Interval() int64  { return w.interval }

func (w *TimingWheel) CurrentTime() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.currentTime
}

// Overflow returns the next level, or nil if none has been needed yet.
func (w *TimingWheel) Overflow() *TimingWheel {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.overflow
}

// Levels counts this wheel plus every overflow level created so far.
func (w *TimingWheel) Levels() int {
	n := 0
	for cur := w; cur != nil; cur = cur.Overflow() {
		n++
	}
	return n
}

// Pending counts tasks held in buckets across all levels.
func (w *TimingWheel) Pending() int {
	n := 0
	for cur := w; cur != nil; cur = cur.Overflow() {
		for _, b := range cur.buckets {
			n += b.Len()
		}
	}
	return n
}
