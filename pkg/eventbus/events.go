package eventbus

import "time"

// Scheduler events.
const (
	TaskScheduled      = "task.scheduled"
	TaskFired          = "task.fired"
	TaskCascaded       = "task.cascaded"
	TaskRetired        = "task.retired"
	TaskCancelled      = "task.cancelled"
	TaskDispatchFailed = "task.dispatch_failed"
)

// Engine events.
const (
	TaskStarted  = "task.started"
	TaskFinished = "task.finished"
	TaskFailed   = "task.failed"
	TaskDropped  = "task.dropped"
)

// WheelEvent is the payload of scheduler events.
type WheelEvent struct {
	ID         string `json:"id"`
	Name       string `json:"name,omitempty"`
	Kind       string `json:"kind,omitempty"`
	Expiration int64  `json:"expiration"` // unix ms
	Now        int64  `json:"now,omitempty"`
	Error      string `json:"error,omitempty"`
}

// RunEvent is the payload of engine events.
type RunEvent struct {
	ID         string        `json:"id"`
	Name       string        `json:"name"`
	Async      bool          `json:"async,omitempty"`
	Started    time.Time     `json:"started"`
	QueueDelay time.Duration `json:"queue_delay"`
	Duration   time.Duration `json:"duration"`
	Error      string        `json:"error,omitempty"`
}
