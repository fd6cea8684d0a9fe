package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"tickwheel/internal/config"
	"tickwheel/internal/observability/status"
	"tickwheel/internal/runtime/supervisor"
	"tickwheel/internal/storage"
	"tickwheel/pkg/engine"
	"tickwheel/pkg/eventbus"
	"tickwheel/pkg/logx"
	"tickwheel/pkg/routine"
	"tickwheel/pkg/scheduler"
)

type App struct {
	cfgm *config.ConfigManager
	sup  *supervisor.Supervisor

	log   logx.Logger
	root  logx.Logger
	logs  *logx.Service
	bus   eventbus.Bus
	store storage.Store

	engine *engine.Service
	sched  *scheduler.Scheduler
	status *status.Service

	jobsMu sync.Mutex
	jobs   map[string]uuid.UUID

	// applyMu serializes config reloads.
	applyMu     sync.Mutex
	lastApplied *config.Config
}

// NewApp loads the config file and builds every component. Nothing runs
// until Start.
func NewApp(cfgPath string) (*App, error) {
	cfgm := config.NewConfigManager(cfgPath)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, err
	}
	return newApp(cfgm, cfg)
}

func newApp(cfgm *config.ConfigManager, cfg *config.Config) (*App, error) {
	logSvc, log := logx.NewService(mapLoggingConfig(cfg))

	tick, err := cfg.Wheel.TickDuration()
	if err != nil {
		return nil, err
	}
	joinTimeout, err := config.ParseDurationField("wheel.join_timeout", cfg.Wheel.JoinTimeout)
	if err != nil {
		return nil, err
	}
	loc, err := cfg.Wheel.Location()
	if err != nil {
		return nil, err
	}
	parser, err := routine.ParserByName(cfg.Wheel.CronParser)
	if err != nil {
		return nil, fmt.Errorf("wheel.cron_parser: %w", err)
	}
	engCfg, err := mapEngineConfig(cfg)
	if err != nil {
		return nil, err
	}

	bus := eventbus.New()

	// Storage (optional)
	var store storage.Store
	if sc, enabled, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		octx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		st, err := storage.Open(octx, sc, log.With(logx.String("comp", "storage")))
		cancel()
		if err != nil {
			return nil, err
		}
		store = st
		log.Info("storage enabled", logx.String("driver", sc.Driver))
	}

	engineSvc := engine.New(engCfg, log, bus)

	sched, err := scheduler.NewBuilder().
		WithSink(engineSvc).
		WithTick(tick).
		WithSize(cfg.Wheel.SizeOrDefault()).
		WithJoinTimeout(joinTimeout).
		WithLocation(loc).
		WithCronParser(parser).
		WithEventBus(bus).
		WithLogger(log).
		Build()
	if err != nil {
		if store != nil {
			_ = store.Close()
		}
		return nil, err
	}

	src := status.Sources{Snapshot: sched.Snapshot}
	if store != nil {
		src.Runs = store.RecentRuns
	}
	statusSvc := status.New(mapStatusConfig(cfg), src, log.With(logx.String("comp", "status")))

	return &App{
		cfgm:        cfgm,
		log:         log.With(logx.String("comp", "app")),
		root:        log,
		logs:        logSvc,
		bus:         bus,
		store:       store,
		engine:      engineSvc,
		sched:       sched,
		status:      statusSvc,
		jobs:        map[string]uuid.UUID{},
		lastApplied: cfg,
	}, nil
}

func (a *App) Scheduler() *scheduler.Scheduler { return a.sched }
func (a *App) Engine() *engine.Service         { return a.engine }

// Store returns the run journal, or nil when storage is disabled.
func (a *App) Store() storage.Store { return a.store }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

// Start runs the engine, the tick driver, the event recorder, the status
// server and the config watcher, and registers the configured jobs.
func (a *App) Start(ctx context.Context) error {
	if a.sup != nil {
		return errors.New("app already started")
	}
	a.sup = supervisor.New(ctx, supervisor.WithLogger(a.log), supervisor.WithCancelOnError(true))

	a.cfgm.SetLogger(a.root.With(logx.String("comp", "config")))
	a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
		if _, _, err := mapStorageConfig(cfg); err != nil {
			return err
		}
		_, err := mapEngineConfig(cfg)
		return err
	})

	events, unsub := a.bus.Subscribe(256)
	rec := newRecorder(a.root.With(logx.String("comp", "recorder")), a.store)
	a.sup.Go0("events.recorder", func(c context.Context) {
		defer unsub()
		rec.run(c, events)
	})

	a.engine.Start(a.sup.Context())
	if err := a.sched.Start(a.sup.Context()); err != nil {
		return err
	}
	if err := a.registerJobs(a.cfgm.Get().Jobs); err != nil {
		return err
	}
	a.status.Start(a.sup.Context())

	// hot reload config fan-out
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
				for drained := false; !drained; {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						drained = true
					}
				}
				a.applyConfig(c, newCfg)
			}
		}
	})

	a.sup.Go("config.watch", func(c context.Context) error {
		return a.cfgm.Watch(c)
	})

	a.log.Info("app started", logx.String("config", a.cfgm.Path()))
	return nil
}

// applyConfig pushes a validated config to the live components.
func (a *App) applyConfig(ctx context.Context, newCfg *config.Config) {
	if newCfg == nil {
		return
	}
	a.applyMu.Lock()
	defer a.applyMu.Unlock()

	sections, attrs := config.SummarizeConfigChange(a.lastApplied, newCfg)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}
	prev := a.lastApplied
	a.lastApplied = newCfg

	if config.RestartRequired(sections) {
		a.log.Warn("wheel or storage config changed; restart required for changes to take effect")
	}

	a.logs.Apply(mapLoggingConfig(newCfg))

	if engCfg, err := mapEngineConfig(newCfg); err != nil {
		a.log.Warn("invalid engine config; keeping previous", logx.Err(err))
	} else {
		a.engine.Apply(engCfg)
	}

	a.reconcileJobs(prev.Jobs, newCfg.Jobs)
	a.status.Reconfigure(ctx, mapStatusConfig(newCfg))

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

// Stop shuts components down in dependency order and closes storage last.
// Each step is bounded so one component cannot stall the whole stop.
func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))

	step := func(name string, limit time.Duration, fn func(context.Context) error) {
		start := time.Now()
		a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", limit))

		stepCtx := ctx
		if limit > 0 {
			// respect the caller's deadline; never extend it
			if dl, ok := ctx.Deadline(); ok {
				limit = min(limit, max(time.Until(dl), 0))
			}
			var cancel context.CancelFunc
			stepCtx, cancel = context.WithTimeout(ctx, limit)
			defer cancel()
		}

		done := make(chan error, 1)
		go func() {
			defer func() {
				if r := recover(); r != nil {
					done <- fmt.Errorf("panic in stop step %s: %v", name, r)
				}
			}()
			done <- fn(stepCtx)
		}()

		select {
		case err := <-done:
			if err != nil {
				a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
			}
			took := time.Since(start)
			if took >= 500*time.Millisecond {
				a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
			} else {
				a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
			}
		case <-stepCtx.Done():
			a.log.Warn("stop step deadline reached (continuing)",
				logx.String("name", name),
				logx.Err(stepCtx.Err()),
				logx.Duration("elapsed", time.Since(start)),
			)
		}
	}

	step("status", time.Second, func(c context.Context) error { a.status.Stop(c); return nil })
	step("scheduler", 2*time.Second, a.sched.Stop)
	step("engine", 3*time.Second, func(c context.Context) error { a.engine.Stop(c); return nil })

	// The recorder journals whatever is still buffered before it exits.
	step("supervisor", 2*time.Second, a.sup.Stop)
	step("storage", time.Second, func(context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		_ = a.logs.Close()
	}
	return nil
}
