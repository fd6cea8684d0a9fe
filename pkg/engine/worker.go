package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"tickwheel/pkg/eventbus"
	"tickwheel/pkg/logx"
)

// slowJob promotes completion logs from debug to info.
const slowJob = 750 * time.Millisecond

func (s *Service) worker(ctx context.Context, stopCh <-chan struct{}, queue chan queuedJob) {
	for {
		// A closed stopCh wins over queued work.
		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		default:
		}

		select {
		case <-ctx.Done():
			return
		case <-stopCh:
			return
		case qj := <-queue:
			s.runQueued(ctx, qj)
		}
	}
}

func (s *Service) runQueued(ctx context.Context, qj queuedJob) {
	s.mu.Lock()
	maxDelay := s.cfg.MaxQueueDelay
	s.mu.Unlock()

	if delay := time.Since(qj.enqueuedAt); maxDelay > 0 && delay > maxDelay {
		s.droppedStale.Add(1)
		s.onDropped(time.Now(), qj, delay, "stale_queue_delay")
		if s.staleWarn.Allow() {
			s.log.Warn("job dropped: stale queue",
				logx.String("job", qj.job.Name),
				logx.Duration("queue_delay", delay),
				logx.Uint64("dropped_stale", s.droppedStale.Load()),
			)
		}
		return
	}

	defer done(qj.wg)
	s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	s.exec(ctx, qj, false)
}

// exec runs one job with timeout and panic isolation, then records the outcome.
func (s *Service) exec(ctx context.Context, qj queuedJob, async bool) {
	start := time.Now()
	queueDelay := max(start.Sub(qj.enqueuedAt), 0)
	job := qj.job

	s.mu.Lock()
	timeout := s.cfg.DefaultTimeout
	s.mu.Unlock()
	if job.Timeout > 0 {
		timeout = job.Timeout
	}

	eventbus.Publish(s.bus, eventbus.TaskStarted, eventbus.RunEvent{
		ID: job.ID, Name: job.Name, Async: async, Started: start, QueueDelay: queueDelay,
	})

	runCtx := ctx
	if timeout > 0 {
		var cancel context.CancelFunc
		runCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
				s.log.Error("job panicked", logx.String("job", job.Name), logx.Any("panic", r), logx.String("stack", string(debug.Stack())))
			}
		}()
		err = job.Run(runCtx)
	}()

	dur := time.Since(start)
	item := HistoryItem{ID: job.ID, Name: job.Name, Async: async, Started: start, QueueDelay: queueDelay, Duration: dur}
	ev := eventbus.RunEvent{ID: job.ID, Name: job.Name, Async: async, Started: start, QueueDelay: queueDelay, Duration: dur}
	s.executed.Add(1)

	if err != nil {
		s.failed.Add(1)
		item.Error = err.Error()
		ev.Error = item.Error
		s.log.Warn("job failed", logx.String("job", job.Name), logx.Err(err), logx.Duration("dur", dur))
		eventbus.Publish(s.bus, eventbus.TaskFailed, ev)
	} else {
		fields := []logx.Field{logx.String("job", job.Name), logx.Duration("queue_delay", queueDelay), logx.Duration("dur", dur)}
		if dur >= slowJob {
			s.log.Info("job completed", fields...)
		} else {
			s.log.Debug("job completed", fields...)
		}
		eventbus.Publish(s.bus, eventbus.TaskFinished, ev)
	}
	s.record(item)
}
