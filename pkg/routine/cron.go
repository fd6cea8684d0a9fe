package routine

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/adhocore/gronx"
	"github.com/robfig/cron/v3"
)

var ErrBadCron = errors.New("bad cron expression")

// Schedule yields the next occurrence strictly after t, or the zero time once
// there are no more occurrences. robfig's cron.Schedule satisfies it.
type Schedule interface {
	Next(t time.Time) time.Time
}

// Parser turns a cron expression into a Schedule.
type Parser interface {
	Parse(expr string) (Schedule, error)
}

// RobfigParser parses expressions with github.com/robfig/cron/v3.
//
// SecondOptional allows both 5-field and 6-field (with seconds) specs, and
// descriptors such as "@hourly" or "@every 10s".
type RobfigParser struct {
	p cron.Parser
}

func NewRobfigParser() RobfigParser {
	return RobfigParser{p: cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)}
}

func (r RobfigParser) Parse(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return nil, fmt.Errorf("%w: empty", ErrBadCron)
	}
	s, err := r.p.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrBadCron, expr, err)
	}
	return s, nil
}

// GronxParser parses expressions with github.com/adhocore/gronx.
type GronxParser struct{}

func (GronxParser) Parse(expr string) (Schedule, error) {
	expr = strings.TrimSpace(expr)
	if !gronx.IsValid(expr) {
		return nil, fmt.Errorf("%w %q", ErrBadCron, expr)
	}
	return gronxSchedule{expr: expr}, nil
}

type gronxSchedule struct {
	expr string
}

func (g gronxSchedule) Next(t time.Time) time.Time {
	next, err := gronx.NextTickAfter(g.expr, t, false)
	if err != nil {
		return time.Time{}
	}
	return next
}

// DefaultParser is used when no parser is configured.
var DefaultParser Parser = NewRobfigParser()

// ParseCron parses expr with DefaultParser.
func ParseCron(expr string) (Schedule, error) {
	return DefaultParser.Parse(expr)
}

// ParserByName maps a config value to a Parser. Empty selects robfig.
func ParserByName(name string) (Parser, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", "robfig":
		return NewRobfigParser(), nil
	case "gronx":
		return GronxParser{}, nil
	default:
		return nil, fmt.Errorf("unknown cron parser %q (use robfig or gronx)", name)
	}
}
