package config

import (
	"reflect"
	"sort"
	"strings"

	"tickwheel/pkg/logx"
)

// SummarizeConfigChange lists changed sections and returns log fields that
// describe the new values. DSNs are never logged, only whether one is set.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	var changed []string
	var attrs []logx.Field

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if oldCfg.Wheel != newCfg.Wheel {
		changed = append(changed, "wheel")
		attrs = append(attrs,
			logx.String("wheel.tick", strings.TrimSpace(newCfg.Wheel.Tick)),
			logx.Int64("wheel.size", newCfg.Wheel.Size),
			logx.String("wheel.timezone", strings.TrimSpace(newCfg.Wheel.Timezone)),
			logx.String("wheel.cron_parser", strings.TrimSpace(newCfg.Wheel.CronParser)),
		)
	}

	oE, nE := derefEngine(oldCfg.Engine), derefEngine(newCfg.Engine)
	if oE != nE {
		changed = append(changed, "engine")
		attrs = append(attrs,
			logx.Int("engine.workers", nE.Workers),
			logx.Int("engine.queue_size", nE.QueueSize),
			logx.String("engine.default_timeout", strings.TrimSpace(nE.DefaultTimeout)),
			logx.String("engine.max_queue_delay", strings.TrimSpace(nE.MaxQueueDelay)),
			logx.Int("engine.history_size", nE.HistorySize),
		)
	}

	oS, nS := derefStorage(oldCfg.Storage), derefStorage(newCfg.Storage)
	if oS != nS {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.Bool("storage.dsn_set", strings.TrimSpace(nS.DSN) != ""),
		)
	}

	oT, nT := derefStatus(oldCfg.Status), derefStatus(newCfg.Status)
	if oT != nT {
		changed = append(changed, "status")
		attrs = append(attrs,
			logx.Bool("status.enabled", nT.Enabled),
			logx.String("status.addr", strings.TrimSpace(nT.Addr)),
			logx.Bool("status.pprof", nT.Pprof),
			logx.Bool("status.token_set", strings.TrimSpace(nT.Token) != ""),
		)
	}

	if jobs := diffJobs(oldCfg.Jobs, newCfg.Jobs); len(jobs) > 0 {
		changed = append(changed, "jobs")
		attrs = append(attrs,
			logx.Int("jobs.changed_count", len(jobs)),
			logx.String("jobs.changed", strings.Join(jobs, ",")),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}

// RestartRequired reports whether the change touches settings that are
// only read at startup.
func RestartRequired(changed []string) bool {
	for _, c := range changed {
		switch c {
		case "wheel", "storage":
			return true
		}
	}
	return false
}

func derefEngine(e *EngineConfig) EngineConfig {
	if e == nil {
		return EngineConfig{}
	}
	return *e
}

func derefStorage(s *StorageConfig) StorageConfig {
	if s == nil {
		return StorageConfig{Driver: "none"}
	}
	return *s
}

func derefStatus(s *StatusConfig) StatusConfig {
	if s == nil {
		return StatusConfig{}
	}
	return *s
}

// ChangedJobs returns the sorted names of jobs added, removed or modified
// between two job lists.
func ChangedJobs(oldJ, newJ []JobConfig) []string { return diffJobs(oldJ, newJ) }

// diffJobs returns the sorted names of jobs added, removed or modified.
func diffJobs(oldJ, newJ []JobConfig) []string {
	index := func(js []JobConfig) map[string]JobConfig {
		m := make(map[string]JobConfig, len(js))
		for _, j := range js {
			m[strings.TrimSpace(j.Name)] = j
		}
		return m
	}
	om, nm := index(oldJ), index(newJ)

	var out []string
	for name, o := range om {
		if n, ok := nm[name]; !ok || !reflect.DeepEqual(o, n) {
			out = append(out, name)
		}
	}
	for name := range nm {
		if _, ok := om[name]; !ok {
			out = append(out, name)
		}
	}
	sort.Strings(out)
	return out
}
