package app

import (
	"context"
	"time"

	"golang.org/x/time/rate"

	"tickwheel/internal/storage"
	"tickwheel/pkg/eventbus"
	"tickwheel/pkg/logx"
)

const recordTimeout = 2 * time.Second

// toRunRecord maps a terminal engine event to a journal record.
func toRunRecord(e eventbus.Event) (storage.RunRecord, bool) {
	switch e.Type {
	case eventbus.TaskFinished, eventbus.TaskFailed, eventbus.TaskDropped:
	default:
		return storage.RunRecord{}, false
	}
	ev, ok := e.Data.(eventbus.RunEvent)
	if !ok {
		return storage.RunRecord{}, false
	}
	at := ev.Started
	if at.IsZero() {
		at = e.Time
	}
	return storage.RunRecord{
		At:         at,
		ID:         ev.ID,
		Name:       ev.Name,
		Async:      ev.Async,
		QueueDelay: ev.QueueDelay,
		Duration:   ev.Duration,
		Error:      ev.Error,
		Event:      e.Type,
	}, true
}

// recorder logs every bus event at debug level and journals run outcomes.
type recorder struct {
	log   logx.Logger
	store storage.Store
	warn  *rate.Limiter
}

func newRecorder(log logx.Logger, store storage.Store) *recorder {
	return &recorder{
		log:   log,
		store: store,
		warn:  rate.NewLimiter(rate.Every(10*time.Second), 1),
	}
}

// run consumes events until ctx ends, then journals whatever is still
// buffered.
func (r *recorder) run(ctx context.Context, events <-chan eventbus.Event) {
	for {
		select {
		case <-ctx.Done():
			for {
				select {
				case e, ok := <-events:
					if !ok {
						return
					}
					r.handle(ctx, e)
				default:
					return
				}
			}
		case e, ok := <-events:
			if !ok {
				return
			}
			r.handle(ctx, e)
		}
	}
}

func (r *recorder) handle(ctx context.Context, e eventbus.Event) {
	r.log.Debug("event", logx.String("type", e.Type), logx.Time("time", e.Time))
	if r.store == nil {
		return
	}
	rec, ok := toRunRecord(e)
	if !ok {
		return
	}
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), recordTimeout)
	defer cancel()
	if err := r.store.AppendRun(wctx, rec); err != nil && r.warn.Allow() {
		r.log.Warn("run journal append failed", logx.String("job", rec.Name), logx.Err(err))
	}
}
