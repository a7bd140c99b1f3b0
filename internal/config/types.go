package config

type Config struct {
	Logging LoggingConfig `json:"logging"`

	// Scheduler controls the low-priority job worker cadence and lifecycle.
	Scheduler SchedulerConfig `json:"scheduler"`

	// Storage is optional. Nil disables the audit trail.
	Storage *StorageConfig `json:"storage,omitempty"`
	Debug   DebugConfig    `json:"debug,omitempty"`
	Systemd SystemdConfig  `json:"systemd,omitempty"`
}

// SchedulerConfig controls the job worker.
//
// Durations are Go duration strings (e.g. "500ms", "1s"). Intervals are
// counted in units: after an idle tick the worker sleeps one unit longer,
// up to max_interval; after a busy tick it drops back to min_interval.
//
// Defaults (when fields are omitted/zero):
//   - unit: "1s"
//   - min_interval: 1
//   - max_interval: 15
//   - idle_priority: true
//   - start_timeout: "5s"
//   - shutdown_timeout: "30s"
//   - tick_log_every: "1m"
type SchedulerConfig struct {
	Unit        string `json:"unit,omitempty"`
	MinInterval int    `json:"min_interval,omitempty"`
	MaxInterval int    `json:"max_interval,omitempty"`

	// IdlePriority is a pointer so an explicit false can be told from omitted.
	IdlePriority *bool `json:"idle_priority,omitempty"`

	StartTimeout    string `json:"start_timeout,omitempty"`
	ShutdownTimeout string `json:"shutdown_timeout,omitempty"`
	TickLogEvery    string `json:"tick_log_every,omitempty"`
}

// IdlePriorityEnabled reports the effective idle_priority value.
func (c SchedulerConfig) IdlePriorityEnabled() bool {
	return c.IdlePriority == nil || *c.IdlePriority
}

// StorageConfig controls the audit trail.
//
// Example:
//
//	"storage": { "driver": "sqlite", "path": "./jobd.db", "retention": "168h" }
type StorageConfig struct {
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // Go duration string (sqlite)

	// Retention is how long audit rows are kept. "0s" keeps them forever.
	Retention string `json:"retention,omitempty"`
}

// DebugConfig controls the optional debug HTTP server (/debug/jobs, /debug/pprof/).
//
// Security note:
//   - Prefer binding to localhost (e.g. "127.0.0.1:6061").
//   - If you bind to a non-loopback address, set a token or explicitly allow_insecure.
type DebugConfig struct {
	Enabled       bool   `json:"enabled"`
	Addr          string `json:"addr,omitempty"`  // default: "127.0.0.1:6061"
	Token         string `json:"token,omitempty"` // optional bearer token (do not log)
	AllowInsecure bool   `json:"allow_insecure,omitempty"`

	// Server timeouts (Go duration strings). WriteTimeout defaults to 0 (disabled)
	// so /debug/pprof/profile (which can take 30s+) works reliably.
	ReadTimeout  string `json:"read_timeout,omitempty"`
	WriteTimeout string `json:"write_timeout,omitempty"`
	IdleTimeout  string `json:"idle_timeout,omitempty"`

	// Runtime profiling rates. Leave 0 to keep Go defaults.
	MutexProfileFraction int `json:"mutex_profile_fraction,omitempty"`
	BlockProfileRate     int `json:"block_profile_rate,omitempty"`
}

// SystemdConfig controls sd_notify integration. Both default to true and are
// no-ops when the process is not started by systemd.
type SystemdConfig struct {
	Notify   *bool `json:"notify,omitempty"`
	Watchdog *bool `json:"watchdog,omitempty"`
}

func (c SystemdConfig) NotifyEnabled() bool   { return c.Notify == nil || *c.Notify }
func (c SystemdConfig) WatchdogEnabled() bool { return c.Watchdog == nil || *c.Watchdog }

type LoggingConfig struct {
	Level   string      `json:"level"`
	Console bool        `json:"console"`
	File    LoggingFile `json:"file"`
}

type LoggingFile struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}
