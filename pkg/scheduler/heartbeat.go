package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"tickwheel/pkg/clock"
	"tickwheel/pkg/engine"
	"tickwheel/pkg/eventbus"
	"tickwheel/pkg/logx"
	"tickwheel/pkg/wheel"
)

// Heartbeat advances the wheel to the clock and dispatches every due task.
//
// Tasks drained from a coarse bucket are offered back to the wheel first; the
// ones it accepts have only cascaded to a finer level. The rest are due. Each
// due task is dispatched, then rescheduled from its routine or retired. A
// recurring task whose next occurrence is already due is held and fired on
// the following heartbeat.
//
// With block set, Heartbeat waits for this batch's bodies, bounded by ctx
// and the join timeout. After Stop it returns ErrStopped and does nothing.
func (s *Scheduler) Heartbeat(ctx context.Context, block bool) error {
	if s.quit.Load() {
		return ErrStopped
	}
	s.hb.Lock()
	defer s.hb.Unlock()
	if s.quit.Load() {
		return ErrStopped
	}

	now := s.clock.Now()
	threshold := clock.Truncate(now, s.tickMs)
	s.wheel.AdvanceClock(now)

	batch := s.overdue
	s.overdue = nil
	for _, b := range s.queue.Drain(threshold) {
		for _, t := range b.Tasks() {
			if t.Cancelled() {
				continue
			}
			if s.wheel.Schedule(t) {
				s.stats.cascaded.Add(1)
				s.publish(eventbus.TaskCascaded, t, now, "")
				continue
			}
			batch = append(batch, t)
		}
	}

	var wg *sync.WaitGroup
	if block {
		wg = &sync.WaitGroup{}
	}
	for _, t := range batch {
		if t.Cancelled() {
			continue
		}
		s.dispatch(t, wg, now)
		if !t.Update() {
			s.retire(t, now)
			continue
		}
		if !s.wheel.Schedule(t) {
			s.overdue = append(s.overdue, t)
		}
	}
	s.overdueLen.Store(int64(len(s.overdue)))

	if len(batch) > 0 {
		s.log.Trace("heartbeat",
			logx.Millis("now", now),
			logx.Int("batch", len(batch)),
			logx.Int("overdue", len(s.overdue)),
		)
	}
	if wg == nil {
		return nil
	}
	return s.join(ctx, wg)
}

func (s *Scheduler) dispatch(t *wheel.Task, wg *sync.WaitGroup, now int64) {
	job := engine.Job{ID: t.ID.String(), Name: t.Name, Timeout: t.Timeout, Run: t.Exec.Run}

	var err error
	if t.Exec.Kind() == wheel.KindAsync {
		err = s.sink.ScheduleAsync(job, wg)
	} else {
		err = s.sink.ScheduleBlock(job, wg)
	}
	if err != nil {
		err = fmt.Errorf("%w: %w", ErrTaskRunFailed, err)
		n := s.stats.dispatchFailed.Add(1)
		s.publish(eventbus.TaskDispatchFailed, t, now, err.Error())
		if s.warn.Allow() {
			s.log.Warn("dispatch failed",
				logx.String("task", t.Name),
				logx.String("id", job.ID),
				logx.Uint64("dispatch_failed", n),
				logx.Err(err),
			)
		}
		return
	}
	s.stats.fired.Add(1)
	s.publish(eventbus.TaskFired, t, now, "")
}

func (s *Scheduler) retire(t *wheel.Task, now int64) {
	s.forget(t)
	s.stats.retired.Add(1)
	s.publish(eventbus.TaskRetired, t, now, "")
	s.log.Debug("task retired", logx.String("task", t.Name), logx.String("id", t.ID.String()))
}

func (s *Scheduler) join(ctx context.Context, wg *sync.WaitGroup) error {
	if ctx == nil {
		ctx = context.Background()
	}
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()

	var expired <-chan time.Time
	if s.joinTimeout > 0 {
		tm := time.NewTimer(s.joinTimeout)
		defer tm.Stop()
		expired = tm.C
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-expired:
		s.stats.joinTimeouts.Add(1)
		s.log.Warn("heartbeat join timed out", logx.Duration("timeout", s.joinTimeout))
		return ErrJoinTimeout
	}
}
