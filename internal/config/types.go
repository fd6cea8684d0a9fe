package config

// Config is the daemon configuration, decoded strictly from JSON or YAML.
type Config struct {
	Logging LoggingConfig  `json:"logging"`
	Wheel   WheelConfig    `json:"wheel"`
	Engine  *EngineConfig  `json:"engine,omitempty"`
	Storage *StorageConfig `json:"storage,omitempty"`
	Status  *StatusConfig  `json:"status,omitempty"`
	Jobs    []JobConfig    `json:"jobs,omitempty"`
}

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// WheelConfig fixes the wheel geometry. It is read once at startup; changes
// on reload are reported and ignored.
//
// Defaults: tick "1s", size 100, join_timeout "0s" (unbounded),
// timezone local, cron_parser "robfig".
type WheelConfig struct {
	Tick        string `json:"tick,omitempty"`
	Size        int64  `json:"size,omitempty"`
	JoinTimeout string `json:"join_timeout,omitempty"`
	Timezone    string `json:"timezone,omitempty"` // IANA TZ, e.g. "Asia/Jakarta"
	CronParser  string `json:"cron_parser,omitempty"`
}

// EngineConfig controls the execution engine. All durations are Go
// duration strings. Hot-reloadable.
//
// Defaults: workers 4, queue_size 256, default_timeout "0s" (disabled),
// max_queue_delay "0s" (disabled), history_size 200.
type EngineConfig struct {
	Workers        int    `json:"workers,omitempty"`
	QueueSize      int    `json:"queue_size,omitempty"`
	DefaultTimeout string `json:"default_timeout,omitempty"`
	MaxQueueDelay  string `json:"max_queue_delay,omitempty"`
	HistorySize    int    `json:"history_size,omitempty"`
}

// StorageConfig selects the run-history journal.
//
// Example:
//
//	"storage": { "driver": "file", "path": "./tickwheel_runs" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path,omitempty"`
	DSN         string `json:"dsn,omitempty"`          // postgres
	BusyTimeout string `json:"busy_timeout,omitempty"` // sqlite
}

// StatusConfig enables the HTTP status endpoint. Hot-reloadable.
//
// Defaults: addr "127.0.0.1:6060". A non-loopback addr needs a token or
// allow_insecure.
type StatusConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`
	Token         string `json:"token,omitempty"`
	AllowInsecure bool   `json:"allow_insecure,omitempty"`
	Pprof         bool   `json:"pprof,omitempty"`
}

// JobConfig declares a job the daemon registers at startup. The job logs
// its message each time it fires.
type JobConfig struct {
	Name     string `json:"name"`
	Schedule string `json:"schedule"`
	Message  string `json:"message,omitempty"`
	Async    bool   `json:"async,omitempty"`
	MaxCount int64  `json:"max_count,omitempty"`
	Timeout  string `json:"timeout,omitempty"`
}
