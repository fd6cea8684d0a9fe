package scheduler

import (
	"context"
	"errors"
	"time"

	"tickwheel/pkg/clock"
	"tickwheel/pkg/logx"
)

// Start registers a tick driver with the sink. The first heartbeat lands on
// the next tick boundary of the scheduler clock. Start is idempotent while
// running; cancelling ctx stops the driver.
func (s *Scheduler) Start(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	s.lmu.Lock()
	defer s.lmu.Unlock()
	if s.quit.Load() {
		return ErrStopped
	}
	if s.cancel != nil {
		return nil
	}

	now := s.clock.Now()
	wait := clock.Truncate(now, s.tickMs) + s.tickMs - now
	start := time.Now().Add(time.Duration(wait) * time.Millisecond)
	period := time.Duration(s.tickMs) * time.Millisecond

	dctx, cancel := context.WithCancel(ctx)
	err := s.sink.RunForever(dctx, start, period, func(c context.Context) {
		if err := s.Heartbeat(c, false); err != nil && !errors.Is(err, ErrStopped) {
			s.log.Warn("heartbeat failed", logx.Err(err))
		}
	})
	if err != nil {
		cancel()
		return err
	}
	s.cancel = cancel
	s.log.Info("scheduler started", logx.Duration("tick", period), logx.Duration("first_in", time.Until(start)))
	return nil
}

// Stop makes every later heartbeat a no-op and halts the driver. Bodies
// already handed to an external sink keep running. An owned engine is
// stopped too, waiting for in-flight jobs bounded by ctx. Stop is terminal
// and repeated calls are no-ops.
func (s *Scheduler) Stop(ctx context.Context) error {
	if !s.quit.CompareAndSwap(false, true) {
		return nil
	}
	s.lmu.Lock()
	cancel := s.cancel
	s.lmu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s.owned != nil {
		s.owned.Stop(ctx)
	}
	s.log.Info("scheduler stopped")
	return nil
}

func (s *Scheduler) Stopped() bool { return s.quit.Load() }
