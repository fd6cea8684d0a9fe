package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"golang.org/x/time/rate"

	"tickwheel/pkg/clock"
	"tickwheel/pkg/engine"
	"tickwheel/pkg/eventbus"
	"tickwheel/pkg/logx"
	"tickwheel/pkg/routine"
	"tickwheel/pkg/wheel"
)

const (
	DefaultTick = time.Second
	DefaultSize = 100
)

// Builder collects Scheduler parameters. The zero value is not usable; call
// NewBuilder.
type Builder struct {
	clock       clock.Clock
	sink        Sink
	tick        time.Duration
	size        int64
	log         logx.Logger
	bus         eventbus.Bus
	parser      routine.Parser
	loc         *time.Location
	joinTimeout time.Duration
	engineCfg   engine.Config
}

func NewBuilder() *Builder {
	return &Builder{
		clock: clock.System{},
		tick:  DefaultTick,
		size:  DefaultSize,
	}
}

func (b *Builder) WithClock(c clock.Clock) *Builder { b.clock = c; return b }

// WithSink sets the execution sink. Without one, Build creates and starts
// an engine.Service that the Scheduler owns and stops.
func (b *Builder) WithSink(s Sink) *Builder { b.sink = s; return b }

// WithTick sets the finest wheel granularity. It must exceed 1ms.
func (b *Builder) WithTick(d time.Duration) *Builder { b.tick = d; return b }

// WithSize sets the slot count per wheel level. It must exceed 1.
func (b *Builder) WithSize(n int64) *Builder { b.size = n; return b }

func (b *Builder) WithLogger(l logx.Logger) *Builder      { b.log = l; return b }
func (b *Builder) WithEventBus(bus eventbus.Bus) *Builder { b.bus = bus; return b }

func (b *Builder) WithCronParser(p routine.Parser) *Builder { b.parser = p; return b }

// WithLocation sets the zone cron expressions are evaluated in.
func (b *Builder) WithLocation(loc *time.Location) *Builder { b.loc = loc; return b }

// WithJoinTimeout bounds blocking heartbeats. 0 leaves only the caller's ctx.
func (b *Builder) WithJoinTimeout(d time.Duration) *Builder { b.joinTimeout = d; return b }

// WithEngineConfig configures the owned engine used when no sink is set.
func (b *Builder) WithEngineConfig(cfg engine.Config) *Builder { b.engineCfg = cfg; return b }

func (b *Builder) Build() (*Scheduler, error) {
	tickMs := b.tick.Milliseconds()
	if tickMs <= 1 {
		return nil, fmt.Errorf("%w: tick %s must exceed 1ms", ErrInvalidParam, b.tick)
	}
	if b.size <= 1 {
		return nil, fmt.Errorf("%w: wheel size %d must exceed 1", ErrInvalidParam, b.size)
	}
	if b.clock == nil {
		return nil, fmt.Errorf("%w: clock is nil", ErrInvalidParam)
	}
	if b.joinTimeout < 0 {
		return nil, fmt.Errorf("%w: join timeout %s is negative", ErrInvalidParam, b.joinTimeout)
	}

	parser := b.parser
	if parser == nil {
		parser = routine.DefaultParser
	}
	loc := b.loc
	if loc == nil {
		loc = time.Local
	}
	log := b.log.With(logx.String("comp", "scheduler"))

	s := &Scheduler{
		clock:       b.clock,
		sink:        b.sink,
		tickMs:      tickMs,
		size:        b.size,
		parser:      parser,
		loc:         loc,
		joinTimeout: b.joinTimeout,
		log:         log,
		bus:         b.bus,
		warn:        rate.NewLimiter(rate.Every(5*time.Second), 1),
		tasks:       make(map[uuid.UUID]*wheel.Task),
	}
	if s.sink == nil {
		s.owned = engine.New(b.engineCfg, b.log, b.bus)
		s.owned.Start(context.Background())
		s.sink = s.owned
	}

	s.queue = wheel.NewDelayQueue()
	s.wheel = wheel.New(tickMs, b.size, s.clock.Now(), s.queue, log)

	log.Info("scheduler built",
		logx.Int64("tick_ms", tickMs),
		logx.Int64("size", b.size),
		logx.Millis("start", s.wheel.CurrentTime()),
		logx.Bool("owned_engine", s.owned != nil),
	)
	return s, nil
}
