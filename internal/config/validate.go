package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"tickwheel/pkg/routine"
	"tickwheel/pkg/scheduler"
)

// Validate checks every section and reports all problems at once.
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, err := c.Wheel.TickDuration(); err != nil {
		errs = append(errs, err)
	}
	if c.Wheel.Size < 0 || c.Wheel.Size == 1 {
		errs = append(errs, fmt.Errorf("wheel.size: must be > 1, got %d", c.Wheel.Size))
	}
	if _, err := ParseDurationField("wheel.join_timeout", c.Wheel.JoinTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Wheel.Location(); err != nil {
		errs = append(errs, err)
	}
	if _, err := routine.ParserByName(c.Wheel.CronParser); err != nil {
		errs = append(errs, fmt.Errorf("wheel.cron_parser: %w", err))
	}

	if e := c.Engine; e != nil {
		if e.Workers < 0 || e.QueueSize < 0 || e.HistorySize < 0 {
			errs = append(errs, errors.New("engine: workers, queue_size and history_size must be >= 0"))
		}
		if _, err := ParseDurationField("engine.default_timeout", e.DefaultTimeout); err != nil {
			errs = append(errs, err)
		}
		if _, err := ParseDurationField("engine.max_queue_delay", e.MaxQueueDelay); err != nil {
			errs = append(errs, err)
		}
	}

	if s := c.Storage; s != nil {
		switch strings.ToLower(strings.TrimSpace(s.Driver)) {
		case "", "none", "file", "sqlite":
		case "postgres", "postgresql", "pgx":
			if strings.TrimSpace(s.DSN) == "" {
				errs = append(errs, errors.New("storage.dsn: required for postgres"))
			}
		default:
			errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", s.Driver))
		}
		if _, err := ParseDurationField("storage.busy_timeout", s.BusyTimeout); err != nil {
			errs = append(errs, err)
		}
	}

	if st := c.Status; st != nil && strings.TrimSpace(st.Addr) != "" {
		if _, _, err := net.SplitHostPort(strings.TrimSpace(st.Addr)); err != nil {
			errs = append(errs, fmt.Errorf("status.addr: %w", err))
		}
	}

	seen := map[string]bool{}
	for i, j := range c.Jobs {
		path := fmt.Sprintf("jobs[%d]", i)
		name := strings.TrimSpace(j.Name)
		if name == "" {
			errs = append(errs, fmt.Errorf("%s.name: required", path))
		} else if seen[name] {
			errs = append(errs, fmt.Errorf("%s.name: duplicate %q", path, name))
		}
		seen[name] = true
		if _, err := scheduler.ParseSchedule(j.Schedule); err != nil {
			errs = append(errs, fmt.Errorf("%s.schedule: %w", path, err))
		}
		if j.MaxCount < 0 {
			errs = append(errs, fmt.Errorf("%s.max_count: must be >= 0", path))
		}
		if _, err := ParseDurationField(path+".timeout", j.Timeout); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// TickDuration returns the configured tick, defaulting to one second.
func (w WheelConfig) TickDuration() (time.Duration, error) {
	d, err := ParseDurationOrDefault("wheel.tick", w.Tick, scheduler.DefaultTick)
	if err != nil {
		return 0, err
	}
	if d.Milliseconds() <= 1 {
		return 0, fmt.Errorf("wheel.tick: must exceed 1ms, got %s", d)
	}
	return d, nil
}

func (w WheelConfig) SizeOrDefault() int64 {
	if w.Size == 0 {
		return scheduler.DefaultSize
	}
	return w.Size
}

// Location resolves the cron timezone. Empty means time.Local.
func (w WheelConfig) Location() (*time.Location, error) {
	tz := strings.TrimSpace(w.Timezone)
	if tz == "" {
		return time.Local, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, fmt.Errorf("wheel.timezone: %w", err)
	}
	return loc, nil
}
