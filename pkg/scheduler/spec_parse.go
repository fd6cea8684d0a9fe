package scheduler

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// ScheduleKind is the routine a schedule string maps to.
type ScheduleKind int

const (
	KindCron ScheduleKind = iota
	KindInterval
	KindOnce
)

func (k ScheduleKind) String() string {
	switch k {
	case KindCron:
		return "cron"
	case KindInterval:
		return "interval"
	case KindOnce:
		return "once"
	default:
		return "unknown"
	}
}

// ParsedSchedule is a normalized schedule string.
//
// Supported forms:
//   - Cron: "*/5 * * * *", "*/10 * * * * *", "@hourly", "@every 55m"
//   - Interval duration: "55m", "2h30m"
//   - Interval HH:MM: "00:50" (50 minutes), "02:30" (2 hours 30 minutes)
//
// Prefixes force a kind: "cron:", "interval:" / "every:", and "once:" /
// "after:" for a single delayed run.
type ParsedSchedule struct {
	Kind   ScheduleKind
	Cron   string
	Every  time.Duration // interval, or delay for KindOnce
	Source string        // "cron" | "duration" | "hhmm"
}

var reHHMM = regexp.MustCompile(`^\s*(\d{1,3}):(\d{2})\s*$`)

func ParseSchedule(raw string) (ParsedSchedule, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ParsedSchedule{}, fmt.Errorf("schedule required")
	}

	low := strings.ToLower(s)
	for _, p := range []struct {
		prefix string
		kind   ScheduleKind
	}{
		{"cron:", KindCron},
		{"interval:", KindInterval},
		{"every:", KindInterval},
		{"once:", KindOnce},
		{"after:", KindOnce},
	} {
		if !strings.HasPrefix(low, p.prefix) {
			continue
		}
		v := strings.TrimSpace(s[len(p.prefix):])
		if p.kind == KindCron {
			if v == "" {
				return ParsedSchedule{}, fmt.Errorf("cron schedule required after %q", p.prefix)
			}
			return ParsedSchedule{Kind: KindCron, Cron: v, Source: "cron"}, nil
		}
		d, src, err := parseInterval(v)
		if err != nil {
			return ParsedSchedule{}, err
		}
		return ParsedSchedule{Kind: p.kind, Every: d, Source: src}, nil
	}

	// Whitespace or a leading '@' means cron.
	if strings.ContainsAny(s, " \t\n\r") || strings.HasPrefix(s, "@") {
		return ParsedSchedule{Kind: KindCron, Cron: s, Source: "cron"}, nil
	}

	if reHHMM.MatchString(s) {
		d, err := parseHHMM(s)
		if err != nil {
			return ParsedSchedule{}, err
		}
		return ParsedSchedule{Kind: KindInterval, Every: d, Source: "hhmm"}, nil
	}

	if d, err := time.ParseDuration(s); err == nil {
		if d <= 0 {
			return ParsedSchedule{}, fmt.Errorf("interval must be > 0")
		}
		return ParsedSchedule{Kind: KindInterval, Every: d, Source: "duration"}, nil
	}

	return ParsedSchedule{}, fmt.Errorf(
		"invalid schedule %q (use cron like '*/5 * * * *', HH:MM like '02:30', or duration like '55m')",
		raw,
	)
}

func parseInterval(v string) (time.Duration, string, error) {
	if v == "" {
		return 0, "", fmt.Errorf("interval required")
	}
	if reHHMM.MatchString(v) {
		d, err := parseHHMM(v)
		return d, "hhmm", err
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, "", fmt.Errorf("invalid interval %q (use HH:MM or Go duration like '55m'/'2h30m')", v)
	}
	if d <= 0 {
		return 0, "", fmt.Errorf("interval must be > 0")
	}
	return d, "duration", nil
}

func parseHHMM(v string) (time.Duration, error) {
	m := reHHMM.FindStringSubmatch(v)
	if len(m) != 3 {
		return 0, fmt.Errorf("invalid HH:MM %q", v)
	}
	hh, _ := strconv.Atoi(m[1])
	mm, _ := strconv.Atoi(m[2])
	if mm > 59 {
		return 0, fmt.Errorf("invalid minutes in %q", v)
	}
	d := time.Duration(hh)*time.Hour + time.Duration(mm)*time.Minute
	if d <= 0 {
		return 0, fmt.Errorf("interval must be > 0")
	}
	return d, nil
}
