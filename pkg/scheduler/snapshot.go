package scheduler

import "tickwheel/pkg/engine"

type Counters struct {
	Scheduled      uint64 `json:"scheduled"`
	Rejected       uint64 `json:"rejected"`
	Fired          uint64 `json:"fired"`
	Cascaded       uint64 `json:"cascaded"`
	Retired        uint64 `json:"retired"`
	Cancelled      uint64 `json:"cancelled"`
	DispatchFailed uint64 `json:"dispatch_failed"`
	JoinTimeouts   uint64 `json:"join_timeouts"`
}

type Snapshot struct {
	TickMs      int64  `json:"tick_ms"`
	WheelSize   int64  `json:"wheel_size"`
	Levels      int    `json:"levels"`
	CurrentTime int64  `json:"current_time"`
	Timezone    string `json:"timezone"`

	QueuedBuckets int `json:"queued_buckets"`
	PendingTasks  int `json:"pending_tasks"`
	Overdue       int `json:"overdue"`
	Registered    int `json:"registered"`

	Running  bool     `json:"running"`
	Stopped  bool     `json:"stopped"`
	Counters Counters `json:"counters"`

	// Engine is set when the scheduler owns its engine.
	Engine *engine.Snapshot `json:"engine,omitempty"`
}

func (s *Scheduler) Snapshot() Snapshot {
	s.tmu.Lock()
	registered := len(s.tasks)
	s.tmu.Unlock()

	s.lmu.Lock()
	running := s.cancel != nil && !s.quit.Load()
	s.lmu.Unlock()

	snap := Snapshot{
		TickMs:        s.tickMs,
		WheelSize:     s.size,
		Levels:        s.wheel.Levels(),
		CurrentTime:   s.wheel.CurrentTime(),
		Timezone:      s.loc.String(),
		QueuedBuckets: s.queue.Len(),
		PendingTasks:  s.wheel.Pending(),
		Overdue:       int(s.overdueLen.Load()),
		Registered:    registered,
		Running:       running,
		Stopped:       s.quit.Load(),
		Counters: Counters{
			Scheduled:      s.stats.scheduled.Load(),
			Rejected:       s.stats.rejected.Load(),
			Fired:          s.stats.fired.Load(),
			Cascaded:       s.stats.cascaded.Load(),
			Retired:        s.stats.retired.Load(),
			Cancelled:      s.stats.cancelled.Load(),
			DispatchFailed: s.stats.dispatchFailed.Load(),
			JoinTimeouts:   s.stats.joinTimeouts.Load(),
		},
	}
	if s.owned != nil {
		es := s.owned.Snapshot()
		snap.Engine = &es
	}
	return snap
}
