package storage

import (
	"errors"
	"time"
)

var ErrDisabled = errors.New("storage disabled")

// Config configures storage.
//
// Driver values:
//   - "file": JSON Lines journal next to Path
//   - "sqlite": SQLite database file (optional build tag)
//   - "postgres": PostgreSQL reached through DSN
//
// If Driver is empty or "none", storage is disabled.
type Config struct {
	Driver      string
	Path        string
	DSN         string
	BusyTimeout time.Duration // sqlite only; 0 means default
	Retain      int           // file only; records kept on compaction, 0 means 10000
}

// RunRecord is one finished (or dropped) task execution.
type RunRecord struct {
	At         time.Time     `json:"at"`
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Async      bool          `json:"async,omitempty"`
	QueueDelay time.Duration `json:"queue_delay,omitempty"`
	Duration   time.Duration `json:"duration,omitempty"`
	Error      string        `json:"error,omitempty"`
	Event      string        `json:"event"`
}

// OK reports whether the run finished without error.
func (r RunRecord) OK() bool { return r.Error == "" }
