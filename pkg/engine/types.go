package engine

import (
	"context"
	"sync"
	"time"
)

// Config controls the execution engine.
type Config struct {
	Workers   int
	QueueSize int

	// DefaultTimeout bounds a job when Job.Timeout is 0. 0 means no bound.
	DefaultTimeout time.Duration

	// MaxQueueDelay drops blocking jobs that waited in the queue longer than
	// this. 0 disables stale dropping.
	MaxQueueDelay time.Duration

	HistorySize int
}

func (c Config) withDefaults() Config {
	if c.Workers <= 0 {
		c.Workers = 4
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 256
	}
	if c.HistorySize <= 0 {
		c.HistorySize = 200
	}
	return c
}

// Job is one dispatch of a scheduled task.
type Job struct {
	ID      string
	Name    string
	Timeout time.Duration
	Run     func(ctx context.Context) error
}

type HistoryItem struct {
	ID         string
	Name       string
	Async      bool
	Started    time.Time
	QueueDelay time.Duration
	Duration   time.Duration
	Error      string
}

// Snapshot is a point-in-time view for diagnostics.
type Snapshot struct {
	Running  bool
	Workers  int
	QueueLen int
	QueueCap int
	InFlight int
	Tickers  int

	Executed         uint64
	Failed           uint64
	Dropped          uint64
	DroppedQueueFull uint64
	DroppedStale     uint64

	DefaultTimeout time.Duration
	MaxQueueDelay  time.Duration

	History []HistoryItem
}

type queuedJob struct {
	job        Job
	enqueuedAt time.Time
	wg         *sync.WaitGroup
}

type ticker struct {
	name   string
	ctx    context.Context
	start  time.Time
	period time.Duration
	fn     func(ctx context.Context)
}
