package scheduler

import "errors"

var (
	// ErrInvalidParam reports a builder misconfiguration.
	ErrInvalidParam = errors.New("scheduler: invalid parameter")
	// ErrScheduleFailed reports a task the wheel would not accept: its first
	// expiration is already due at tick granularity, or its routine yields
	// no occurrence.
	ErrScheduleFailed = errors.New("scheduler: schedule failed")
	ErrStopped        = errors.New("scheduler: stopped")
	// ErrJoinTimeout is returned by a blocking heartbeat whose dispatched
	// bodies did not finish within the join timeout.
	ErrJoinTimeout = errors.New("scheduler: join timeout")
	// ErrTaskRunFailed marks a sink-level dispatch failure. It is reported
	// through logs, events and Snapshot, never returned from Heartbeat.
	ErrTaskRunFailed = errors.New("scheduler: task run failed")
)
