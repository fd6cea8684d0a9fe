package app

import (
	"fmt"
	"strings"
	"time"

	"tickwheel/internal/config"
	"tickwheel/internal/observability/status"
	"tickwheel/internal/storage"
	"tickwheel/pkg/engine"
	"tickwheel/pkg/logx"
)

func mapLoggingConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapEngineConfig(cfg *config.Config) (engine.Config, error) {
	if cfg == nil || cfg.Engine == nil {
		return engine.Config{}, nil
	}
	e := cfg.Engine
	defTimeout, err := config.ParseDurationField("engine.default_timeout", e.DefaultTimeout)
	if err != nil {
		return engine.Config{}, err
	}
	maxQueueDelay, err := config.ParseDurationField("engine.max_queue_delay", e.MaxQueueDelay)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		Workers:        e.Workers,
		QueueSize:      e.QueueSize,
		DefaultTimeout: defTimeout,
		MaxQueueDelay:  maxQueueDelay,
		HistorySize:    e.HistorySize,
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, bool, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	path := strings.TrimSpace(sc.Path)

	switch driver {
	case "", "none":
		return storage.Config{}, false, nil
	case "file":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=file")
		}
		return storage.Config{Driver: "file", Path: path}, true, nil
	case "sqlite", "sqlite3":
		if path == "" {
			return storage.Config{}, false, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationOrDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, nil
	case "postgres", "postgresql", "pgx":
		return storage.Config{Driver: "postgres", DSN: sc.DSN}, true, nil
	default:
		return storage.Config{}, false, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapStatusConfig(cfg *config.Config) status.Config {
	if cfg == nil || cfg.Status == nil {
		return status.Config{}
	}
	st := cfg.Status
	return status.Config{
		Enabled:       st.Enabled,
		Addr:          strings.TrimSpace(st.Addr),
		Token:         strings.TrimSpace(st.Token),
		AllowInsecure: st.AllowInsecure,
		Pprof:         st.Pprof,
	}
}
