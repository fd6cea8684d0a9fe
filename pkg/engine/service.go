package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"tickwheel/internal/runtime/supervisor"
	"tickwheel/pkg/eventbus"
	"tickwheel/pkg/logx"
)

const warnEvery = 5 * time.Second

// Service is a worker-pool execution sink.
//
// Blocking jobs go through a bounded queue drained by a fixed set of workers.
// Async jobs run on their own goroutines. Periodic drivers registered with
// RunForever survive a restart caused by Apply.
type Service struct {
	mu  sync.Mutex
	cfg Config
	log logx.Logger
	bus eventbus.Bus

	q        chan queuedJob
	sup      *supervisor.Supervisor
	stopCh   chan struct{}
	stopDone chan struct{}
	running  bool

	// gen counts worker pools started by resizes since Start.
	gen int

	tickers []*ticker
	async   sync.WaitGroup

	inFlight atomic.Int32

	hmu     sync.Mutex
	history []HistoryItem

	executed         atomic.Uint64
	failed           atomic.Uint64
	dropped          atomic.Uint64
	droppedQueueFull atomic.Uint64
	droppedStale     atomic.Uint64

	fullWarn  *rate.Limiter
	staleWarn *rate.Limiter
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		cfg:       cfg.withDefaults(),
		log:       log.With(logx.String("comp", "engine")),
		bus:       bus,
		fullWarn:  rate.NewLimiter(rate.Every(warnEvery), 1),
		staleWarn: rate.NewLimiter(rate.Every(warnEvery), 1),
	}
}

func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Start launches workers and every live periodic driver. It is idempotent.
func (s *Service) Start(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	if done := s.stopDone; done != nil {
		s.mu.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return
		}
		s.mu.Lock()
		if s.running {
			s.mu.Unlock()
			return
		}
	}

	cfg := s.cfg
	s.q = make(chan queuedJob, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	s.sup = supervisor.New(context.WithoutCancel(ctx), supervisor.WithLogger(s.log))
	s.gen = 0
	s.running = true
	queue, stopCh, sup := s.q, s.stopCh, s.sup

	live := s.tickers[:0]
	for _, t := range s.tickers {
		if t.ctx.Err() == nil {
			live = append(live, t)
		}
	}
	s.tickers = live
	for _, t := range live {
		s.launchTicker(sup, t)
	}
	s.launchWorkers(sup, 0, cfg.Workers, stopCh, queue)
	s.mu.Unlock()

	s.log.Info("engine started", logx.Int("workers", cfg.Workers), logx.Int("queue", cfg.QueueSize))
}

// Stop halts workers and drivers, then waits for them bounded by ctx.
// Jobs still queued are dropped and their join handles released.
func (s *Service) Stop(ctx context.Context) {
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	if !s.running {
		done := s.stopDone
		s.mu.Unlock()
		if done != nil {
			select {
			case <-done:
			case <-ctx.Done():
			}
		}
		return
	}
	done := make(chan struct{})
	s.stopDone = done
	s.running = false
	close(s.stopCh)
	sup, queue := s.sup, s.q
	s.mu.Unlock()

	sup.Cancel()
	go func() {
		_ = sup.Wait(context.Background())
		s.async.Wait()
	drain:
		for {
			select {
			case qj := <-queue:
				s.onDropped(time.Now(), qj, 0, "engine_stopped")
			default:
				break drain
			}
		}
		s.mu.Lock()
		s.q = nil
		s.sup = nil
		s.stopCh = nil
		s.stopDone = nil
		s.mu.Unlock()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("engine stopped")
	case <-ctx.Done():
		s.log.Warn("engine stop timed out", logx.Err(ctx.Err()))
	}
}

func (s *Service) launchWorkers(sup *supervisor.Supervisor, gen, n int, stopCh <-chan struct{}, queue chan queuedJob) {
	for i := range n {
		sup.GoRestart(fmt.Sprintf("worker.%d.%d", gen, i), func(c context.Context) error {
			s.worker(c, stopCh, queue)
			select {
			case <-stopCh:
				return context.Canceled
			default:
			}
			if c.Err() != nil {
				return c.Err()
			}
			return errors.New("worker exited unexpectedly")
		}, supervisor.WithPublishFirstError(true))
	}
}

// Apply swaps the configuration. Worker or queue size changes replace the
// worker pool while the engine keeps accepting jobs.
func (s *Service) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	if !s.running || (prev.Workers == cfg.Workers && prev.QueueSize == cfg.QueueSize) {
		s.mu.Unlock()
		return
	}

	// Old workers exit once their current job ends. Sends happen under s.mu,
	// so the old queue is empty once moved and nothing refills it.
	oldQueue := s.q
	close(s.stopCh)
	s.gen++
	s.q = make(chan queuedJob, cfg.QueueSize)
	s.stopCh = make(chan struct{})
	queue := s.q

	moved := 0
	var overflow []queuedJob
move:
	for {
		select {
		case qj := <-oldQueue:
			select {
			case queue <- qj:
				moved++
			default:
				overflow = append(overflow, qj)
			}
		default:
			break move
		}
	}
	s.launchWorkers(s.sup, s.gen, cfg.Workers, s.stopCh, queue)
	s.mu.Unlock()
	for _, qj := range overflow {
		s.droppedQueueFull.Add(1)
		s.onDropped(time.Now(), qj, time.Since(qj.enqueuedAt), "queue_full")
	}
	s.log.Info("engine resized",
		logx.Int("workers", cfg.Workers),
		logx.Int("queue", cfg.QueueSize),
		logx.Int("moved", moved),
		logx.Int("dropped", len(overflow)),
	)
}

// ScheduleBlock queues job for a worker without blocking.
// A non-nil wg is incremented now and released when the job ends or is dropped.
func (s *Service) ScheduleBlock(job Job, wg *sync.WaitGroup) error {
	if job.Run == nil {
		return ErrInvalidJob
	}
	if wg != nil {
		wg.Add(1)
	}
	qj := queuedJob{job: job, enqueuedAt: time.Now(), wg: wg}

	// Hold the lock across the send so Stop cannot strand the job in the queue.
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		done(wg)
		return ErrStopped
	}
	select {
	case s.q <- qj:
		s.mu.Unlock()
		return nil
	default:
		ql, qc := len(s.q), cap(s.q)
		s.mu.Unlock()
		s.droppedQueueFull.Add(1)
		s.onDropped(qj.enqueuedAt, qj, 0, "queue_full")
		if s.fullWarn.Allow() {
			s.log.Warn("job dropped: queue full",
				logx.String("job", job.Name),
				logx.Int("queue_len", ql),
				logx.Int("queue_cap", qc),
				logx.Uint64("dropped_queue_full", s.droppedQueueFull.Load()),
			)
		}
		return ErrQueueFull
	}
}

// ScheduleAsync runs job on its own goroutine. Its context ends when the
// engine stops or the job timeout elapses.
func (s *Service) ScheduleAsync(job Job, wg *sync.WaitGroup) error {
	if job.Run == nil {
		return ErrInvalidJob
	}
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return ErrStopped
	}
	ctx := s.sup.Context()
	s.async.Add(1)
	s.mu.Unlock()

	if wg != nil {
		wg.Add(1)
	}
	go func() {
		defer s.async.Done()
		defer done(wg)
		s.exec(ctx, queuedJob{job: job, enqueuedAt: time.Now()}, true)
	}()
	return nil
}

// RunForever calls fn at start and then every period until ctx ends.
// Registering before Start is allowed; the driver begins when the engine runs.
func (s *Service) RunForever(ctx context.Context, start time.Time, period time.Duration, fn func(ctx context.Context)) error {
	if fn == nil || period <= 0 {
		return ErrInvalidJob
	}
	if ctx == nil {
		ctx = context.Background()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	t := &ticker{name: fmt.Sprintf("ticker.%d", len(s.tickers)), ctx: ctx, start: start, period: period, fn: fn}
	s.tickers = append(s.tickers, t)
	if s.running {
		s.launchTicker(s.sup, t)
	}
	return nil
}

func (s *Service) launchTicker(sup *supervisor.Supervisor, t *ticker) {
	sup.GoRestart(t.name, func(c context.Context) error {
		ctx, cancel := context.WithCancel(c)
		defer cancel()
		stop := context.AfterFunc(t.ctx, cancel)
		defer stop()
		runTicker(ctx, t.start, t.period, t.fn)
		return nil
	})
}

func runTicker(ctx context.Context, start time.Time, period time.Duration, fn func(ctx context.Context)) {
	if d := time.Until(start); d > 0 {
		tm := time.NewTimer(d)
		select {
		case <-ctx.Done():
			tm.Stop()
			return
		case <-tm.C:
		}
	}
	tk := time.NewTicker(period)
	defer tk.Stop()
	for {
		fn(ctx)
		select {
		case <-ctx.Done():
			return
		case <-tk.C:
		}
	}
}

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	running := s.running
	ql, qc := 0, 0
	if s.q != nil {
		ql, qc = len(s.q), cap(s.q)
	}
	tickers := 0
	for _, t := range s.tickers {
		if t.ctx.Err() == nil {
			tickers++
		}
	}
	s.mu.Unlock()

	s.hmu.Lock()
	h := make([]HistoryItem, len(s.history))
	copy(h, s.history)
	s.hmu.Unlock()

	return Snapshot{
		Running:          running,
		Workers:          cfg.Workers,
		QueueLen:         ql,
		QueueCap:         qc,
		InFlight:         int(s.inFlight.Load()),
		Tickers:          tickers,
		Executed:         s.executed.Load(),
		Failed:           s.failed.Load(),
		Dropped:          s.dropped.Load(),
		DroppedQueueFull: s.droppedQueueFull.Load(),
		DroppedStale:     s.droppedStale.Load(),
		DefaultTimeout:   cfg.DefaultTimeout,
		MaxQueueDelay:    cfg.MaxQueueDelay,
		History:          h,
	}
}

func (s *Service) onDropped(now time.Time, qj queuedJob, queueDelay time.Duration, reason string) {
	s.dropped.Add(1)
	done(qj.wg)
	eventbus.Publish(s.bus, eventbus.TaskDropped, eventbus.RunEvent{
		ID: qj.job.ID, Name: qj.job.Name, Started: now, QueueDelay: queueDelay, Error: reason,
	})
	s.record(HistoryItem{ID: qj.job.ID, Name: qj.job.Name, Started: now, QueueDelay: queueDelay, Error: reason})
}

func (s *Service) record(item HistoryItem) {
	s.mu.Lock()
	size := s.cfg.HistorySize
	s.mu.Unlock()

	s.hmu.Lock()
	s.history = append(s.history, item)
	if len(s.history) > size {
		s.history = s.history[len(s.history)-size:]
	}
	s.hmu.Unlock()
}

func done(wg *sync.WaitGroup) {
	if wg != nil {
		wg.Done()
	}
}
