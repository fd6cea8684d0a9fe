package wheel

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"tickwheel/pkg/routine"
)

// Kind tags the shape of an Executable.
type Kind uint8

const (
	// KindBlock is a synchronous body run on a worker.
	KindBlock Kind = iota + 1
	// KindAsync is an asynchronous unit of work run on its own goroutine.
	KindAsync
)

func (k Kind) String() string {
	switch k {
	case KindBlock:
		return "block"
	case KindAsync:
		return "async"
	default:
		return "invalid"
	}
}

// Executable is a task payload: exactly one of a synchronous closure or an
// asynchronous unit of work.
type Executable struct {
	kind  Kind
	block func()
	async func(ctx context.Context) error
}

// Block wraps a synchronous body.
func Block(f func()) Executable { return Executable{kind: KindBlock, block: f} }

// Async wraps an asynchronous body.
func Async(f func(ctx context.Context) error) Executable {
	return Executable{kind: KindAsync, async: f}
}

func (e Executable) Kind() Kind { return e.kind }

// Valid reports whether the payload carries a body for its kind.
func (e Executable) Valid() bool {
	switch e.kind {
	case KindBlock:
		return e.block != nil
	case KindAsync:
		return e.async != nil
	default:
		return false
	}
}

// Run invokes the body. Synchronous bodies ignore ctx and never fail.
func (e Executable) Run(ctx context.Context) error {
	switch e.kind {
	case KindBlock:
		e.block()
		return nil
	case KindAsync:
		return e.async(ctx)
	default:
		return nil
	}
}

// Task is a scheduled unit of work.
//
// Expiration is mutated only by Update, which the scheduler calls after the
// task has been taken out of its bucket.
type Task struct {
	ID         uuid.UUID
	Name       string
	Expiration int64 // unix ms
	Exec       Executable
	Routine    routine.Routine
	Timeout    time.Duration // per-dispatch bound; 0 leaves it to the sink

	cancelled atomic.Bool
}

func NewTask(name string, expiration int64, exec Executable, r routine.Routine) *Task {
	if r == nil {
		r = routine.NewOnce()
	}
	return &Task{
		ID:         uuid.New(),
		Name:       name,
		Expiration: expiration,
		Exec:       exec,
		Routine:    r,
	}
}

// Update moves Expiration to the routine's next occurrence.
// It returns false when the routine is exhausted and the task should be dropped.
func (t *Task) Update() bool {
	next, ok := t.Routine.Next()
	if !ok {
		return false
	}
	t.Expiration = next
	return true
}

// Cancel marks the task so it is dropped at its next drain.
// It reports whether this call performed the cancellation.
func (t *Task) Cancel() bool { return !t.cancelled.Swap(true) }

func (t *Task) Cancelled() bool { return t.cancelled.Load() }
