package scheduler

import (
	"context"
	"sync"
	"time"

	"tickwheel/pkg/engine"
)

// Sink executes dispatched tasks and owns the periodic driver.
//
// Both schedule calls must not block the caller. A non-nil wg is incremented
// by the sink and released when the job ends, or right away if it is refused.
// *engine.Service satisfies Sink.
type Sink interface {
	ScheduleBlock(job engine.Job, wg *sync.WaitGroup) error
	ScheduleAsync(job engine.Job, wg *sync.WaitGroup) error
	RunForever(ctx context.Context, start time.Time, period time.Duration, fn func(ctx context.Context)) error
}

var _ Sink = (*engine.Service)(nil)
