package config

import (
	"errors"
	"fmt"
	"net"
	"strings"
	"time"
)

const (
	defaultUnit            = time.Second
	defaultMinInterval     = 1
	defaultMaxInterval     = 15
	defaultStartTimeout    = 5 * time.Second
	defaultShutdownTimeout = 30 * time.Second
	defaultTickLogEvery    = time.Minute

	DefaultDebugAddr = "127.0.0.1:6061"
)

// Default returns the configuration used when no config file is given.
func Default() *Config {
	return &Config{
		Logging: LoggingConfig{Level: "info", Console: true},
	}
}

// SchedulerSettings is SchedulerConfig with defaults applied and durations parsed.
type SchedulerSettings struct {
	Unit            time.Duration
	MinInterval     int
	MaxInterval     int
	IdlePriority    bool
	StartTimeout    time.Duration
	ShutdownTimeout time.Duration
	TickLogEvery    time.Duration
}

func (c SchedulerConfig) Settings() (SchedulerSettings, error) {
	s := SchedulerSettings{
		MinInterval:  c.MinInterval,
		MaxInterval:  c.MaxInterval,
		IdlePriority: c.IdlePriorityEnabled(),
	}
	if s.MinInterval < 0 || s.MaxInterval < 0 {
		return s, errors.New("scheduler: intervals must be >= 0")
	}
	if s.MinInterval == 0 {
		s.MinInterval = defaultMinInterval
	}
	if s.MaxInterval == 0 {
		s.MaxInterval = defaultMaxInterval
	}
	if s.MaxInterval < s.MinInterval {
		return s, fmt.Errorf("scheduler: max_interval (%d) < min_interval (%d)", s.MaxInterval, s.MinInterval)
	}

	var err error
	if s.Unit, err = ParseDurationDefault("scheduler.unit", c.Unit, defaultUnit); err != nil {
		return s, err
	}
	if s.StartTimeout, err = ParseDurationDefault("scheduler.start_timeout", c.StartTimeout, defaultStartTimeout); err != nil {
		return s, err
	}
	if s.ShutdownTimeout, err = ParseDurationDefault("scheduler.shutdown_timeout", c.ShutdownTimeout, defaultShutdownTimeout); err != nil {
		return s, err
	}
	if s.TickLogEvery, err = ParseDurationDefault("scheduler.tick_log_every", c.TickLogEvery, defaultTickLogEvery); err != nil {
		return s, err
	}
	return s, nil
}

// Validate checks every section. Watch uses it before committing a reload.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if _, err := cfg.Scheduler.Settings(); err != nil {
		return err
	}
	if st := cfg.Storage; st != nil {
		switch strings.ToLower(strings.TrimSpace(st.Driver)) {
		case "", "none", "file", "sqlite":
		default:
			return fmt.Errorf("storage.driver: unknown driver %q", st.Driver)
		}
		if _, err := ParseDuration("storage.busy_timeout", st.BusyTimeout); err != nil {
			return err
		}
		if _, err := ParseDuration("storage.retention", st.Retention); err != nil {
			return err
		}
	}
	return validateDebug(cfg.Debug)
}

func validateDebug(d DebugConfig) error {
	for path, raw := range map[string]string{
		"debug.read_timeout":  d.ReadTimeout,
		"debug.write_timeout": d.WriteTimeout,
		"debug.idle_timeout":  d.IdleTimeout,
	} {
		if _, err := ParseDuration(path, raw); err != nil {
			return err
		}
	}
	if !d.Enabled {
		return nil
	}
	addr := strings.TrimSpace(d.Addr)
	if addr == "" {
		addr = DefaultDebugAddr
	}
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("debug.addr: %w", err)
	}
	if !IsLoopbackHost(host) && strings.TrimSpace(d.Token) == "" && !d.AllowInsecure {
		return fmt.Errorf("debug.addr %q is not loopback: set debug.token or debug.allow_insecure", addr)
	}
	return nil
}

// IsLoopbackHost reports whether host only accepts local connections.
func IsLoopbackHost(host string) bool {
	if strings.EqualFold(host, "localhost") {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}
