package scheduler

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tickwheel/pkg/clock"
	"tickwheel/pkg/engine"
	"tickwheel/pkg/eventbus"
	"tickwheel/pkg/logx"
	"tickwheel/pkg/routine"
	"tickwheel/pkg/wheel"
)

// Scheduler owns one timing wheel hierarchy and its delay queue.
type Scheduler struct {
	clock  clock.Clock
	sink   Sink
	owned  *engine.Service
	wheel  *wheel.TimingWheel
	queue  *wheel.DelayQueue
	tickMs int64
	size   int64

	parser      routine.Parser
	loc         *time.Location
	joinTimeout time.Duration

	log  logx.Logger
	bus  eventbus.Bus
	warn *rate.Limiter

	// hb serializes heartbeats; overdue is only touched under it.
	hb         sync.Mutex
	overdue    []*wheel.Task
	overdueLen atomic.Int64

	tmu   sync.Mutex
	tasks map[uuid.UUID]*wheel.Task

	quit   atomic.Bool
	lmu    sync.Mutex
	cancel context.CancelFunc

	stats counters
}

type counters struct {
	scheduled      atomic.Uint64
	rejected       atomic.Uint64
	fired          atomic.Uint64
	cascaded       atomic.Uint64
	retired        atomic.Uint64
	cancelled      atomic.Uint64
	dispatchFailed atomic.Uint64
	joinTimeouts   atomic.Uint64
}

// TaskOption adjusts a task built by the Schedule* helpers.
type TaskOption func(*taskOpts)

type taskOpts struct {
	maxCount int64
	timeout  time.Duration
}

// WithMaxCount ends a recurring task after n occurrences, the first included.
func WithMaxCount(n int64) TaskOption { return func(o *taskOpts) { o.maxCount = n } }

// WithTimeout bounds each dispatch of the task.
func WithTimeout(d time.Duration) TaskOption { return func(o *taskOpts) { o.timeout = d } }

func applyOpts(opts []TaskOption) taskOpts {
	var o taskOpts
	for _, fn := range opts {
		if fn != nil {
			fn(&o)
		}
	}
	return o
}

// Now returns the scheduler's clock reading in unix ms.
func (s *Scheduler) Now() int64 { return s.clock.Now() }

// Schedule hands a pre-built task to the wheel.
func (s *Scheduler) Schedule(t *wheel.Task) (uuid.UUID, error) {
	if t == nil || !t.Exec.Valid() {
		return uuid.Nil, fmt.Errorf("%w: task has no body", ErrInvalidParam)
	}
	if s.quit.Load() {
		return uuid.Nil, ErrStopped
	}

	s.tmu.Lock()
	s.tasks[t.ID] = t
	s.tmu.Unlock()

	if !s.wheel.Schedule(t) {
		s.forget(t)
		s.stats.rejected.Add(1)
		now := s.clock.Now()
		s.log.Debug("task rejected",
			logx.String("task", t.Name),
			logx.String("id", t.ID.String()),
			logx.Millis("expiration", t.Expiration),
			logx.Millis("now", now),
		)
		return uuid.Nil, fmt.Errorf("%w: %q expires at %d, wheel is at %d", ErrScheduleFailed, t.Name, t.Expiration, s.wheel.CurrentTime())
	}

	s.stats.scheduled.Add(1)
	s.publish(eventbus.TaskScheduled, t, 0, "")
	s.log.Debug("task scheduled",
		logx.String("task", t.Name),
		logx.String("id", t.ID.String()),
		logx.String("kind", t.Exec.Kind().String()),
		logx.Millis("expiration", t.Expiration),
	)
	return t.ID, nil
}

// ScheduleOnce runs fn once, delay from now.
func (s *Scheduler) ScheduleOnce(name string, delay time.Duration, fn func(), opts ...TaskOption) (uuid.UUID, error) {
	return s.scheduleOnce(name, delay, wheel.Block(fn), opts)
}

func (s *Scheduler) ScheduleOnceAsync(name string, delay time.Duration, fn func(ctx context.Context) error, opts ...TaskOption) (uuid.UUID, error) {
	return s.scheduleOnce(name, delay, wheel.Async(fn), opts)
}

// ScheduleTimeout runs fn every interval, the first time one interval from now.
func (s *Scheduler) ScheduleTimeout(name string, interval time.Duration, fn func(), opts ...TaskOption) (uuid.UUID, error) {
	return s.scheduleTimeout(name, interval, wheel.Block(fn), opts)
}

func (s *Scheduler) ScheduleTimeoutAsync(name string, interval time.Duration, fn func(ctx context.Context) error, opts ...TaskOption) (uuid.UUID, error) {
	return s.scheduleTimeout(name, interval, wheel.Async(fn), opts)
}

// ScheduleCron runs fn at each occurrence of expr after now.
func (s *Scheduler) ScheduleCron(name, expr string, fn func(), opts ...TaskOption) (uuid.UUID, error) {
	return s.scheduleCron(name, expr, wheel.Block(fn), opts)
}

func (s *Scheduler) ScheduleCronAsync(name, expr string, fn func(ctx context.Context) error, opts ...TaskOption) (uuid.UUID, error) {
	return s.scheduleCron(name, expr, wheel.Async(fn), opts)
}

// ScheduleSpec parses a schedule string (see ParseSchedule) and registers
// exec with the matching routine.
func (s *Scheduler) ScheduleSpec(name, spec string, exec wheel.Executable, opts ...TaskOption) (uuid.UUID, error) {
	ps, err := ParseSchedule(spec)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: %w", ErrScheduleFailed, err)
	}
	switch ps.Kind {
	case KindCron:
		return s.scheduleCron(name, ps.Cron, exec, opts)
	case KindInterval:
		return s.scheduleTimeout(name, ps.Every, exec, opts)
	case KindOnce:
		return s.scheduleOnce(name, ps.Every, exec, opts)
	default:
		return uuid.Nil, fmt.Errorf("%w: unsupported schedule %q", ErrScheduleFailed, spec)
	}
}

func (s *Scheduler) scheduleOnce(name string, delay time.Duration, exec wheel.Executable, opts []TaskOption) (uuid.UUID, error) {
	o := applyOpts(opts)
	t := wheel.NewTask(name, s.clock.Now()+delay.Milliseconds(), exec, routine.NewOnce())
	t.Timeout = o.timeout
	return s.Schedule(t)
}

func (s *Scheduler) scheduleTimeout(name string, interval time.Duration, exec wheel.Executable, opts []TaskOption) (uuid.UUID, error) {
	if interval.Milliseconds() <= 0 {
		return uuid.Nil, fmt.Errorf("%w: interval %s must be at least 1ms", ErrInvalidParam, interval)
	}
	o := applyOpts(opts)
	r := routine.NewTimeout(s.clock.Now(), interval.Milliseconds(), o.maxCount)
	return s.scheduleRoutine(name, exec, r, o)
}

func (s *Scheduler) scheduleCron(name, expr string, exec wheel.Executable, opts []TaskOption) (uuid.UUID, error) {
	sched, err := s.parser.Parse(strings.TrimSpace(expr))
	if err != nil {
		s.stats.rejected.Add(1)
		return uuid.Nil, fmt.Errorf("%w: %w", ErrScheduleFailed, err)
	}
	o := applyOpts(opts)
	r := routine.NewCron(s.clock.Now(), sched, s.loc, o.maxCount)
	return s.scheduleRoutine(name, exec, r, o)
}

func (s *Scheduler) scheduleRoutine(name string, exec wheel.Executable, r routine.Routine, o taskOpts) (uuid.UUID, error) {
	first, ok := r.Next()
	if !ok {
		s.stats.rejected.Add(1)
		return uuid.Nil, fmt.Errorf("%w: %q has no occurrence", ErrScheduleFailed, name)
	}
	t := wheel.NewTask(name, first, exec, r)
	t.Timeout = o.timeout
	return s.Schedule(t)
}

// Cancel drops a pending task at its next drain. It reports whether id was
// known and not already cancelled or retired.
func (s *Scheduler) Cancel(id uuid.UUID) bool {
	s.tmu.Lock()
	t, ok := s.tasks[id]
	delete(s.tasks, id)
	s.tmu.Unlock()
	if !ok || !t.Cancel() {
		return false
	}
	s.stats.cancelled.Add(1)
	s.publish(eventbus.TaskCancelled, t, 0, "")
	s.log.Debug("task cancelled", logx.String("task", t.Name), logx.String("id", id.String()))
	return true
}

func (s *Scheduler) forget(t *wheel.Task) {
	s.tmu.Lock()
	if s.tasks[t.ID] == t {
		delete(s.tasks, t.ID)
	}
	s.tmu.Unlock()
}

func (s *Scheduler) publish(typ string, t *wheel.Task, now int64, errText string) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: eventbus.WheelEvent{
		ID:         t.ID.String(),
		Name:       t.Name,
		Kind:       t.Exec.Kind().String(),
		Expiration: t.Expiration,
		Now:        now,
		Error:      errText,
	}})
}
