package app

import (
	"fmt"
	"strings"
	"time"

	"idlejob/internal/config"
	"idlejob/internal/jobs"
	"idlejob/internal/observability/debugsrv"
	"idlejob/internal/storage"
	logx "idlejob/pkg/logx"
)

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
	}
}

func mapSchedulerConfig(cfg *config.Config) (jobs.Config, error) {
	s, err := cfg.Scheduler.Settings()
	if err != nil {
		return jobs.Config{}, err
	}
	return jobs.Config{
		Unit:            s.Unit,
		MinInterval:     s.MinInterval,
		MaxInterval:     s.MaxInterval,
		IdlePriority:    s.IdlePriority,
		StartTimeout:    s.StartTimeout,
		ShutdownTimeout: s.ShutdownTimeout,
		TickLogEvery:    s.TickLogEvery,
	}, nil
}

// mapStorageConfig returns the store config, whether storage is enabled and
// the audit retention (0 keeps rows forever).
func mapStorageConfig(cfg *config.Config) (storage.Config, bool, time.Duration, error) {
	if cfg == nil || cfg.Storage == nil {
		return storage.Config{}, false, 0, nil
	}
	sc := cfg.Storage
	driver := strings.ToLower(strings.TrimSpace(sc.Driver))
	if driver == "" || driver == "none" {
		return storage.Config{}, false, 0, nil
	}
	path := strings.TrimSpace(sc.Path)

	retention, err := config.ParseDuration("storage.retention", sc.Retention)
	if err != nil {
		return storage.Config{}, false, 0, err
	}

	switch driver {
	case "file":
		return storage.Config{Driver: "file", Path: path}, true, retention, nil
	case "sqlite":
		if path == "" {
			return storage.Config{}, false, 0, fmt.Errorf("storage.path is required when storage.driver=sqlite")
		}
		busy, err := config.ParseDurationDefault("storage.busy_timeout", sc.BusyTimeout, time.Second)
		if err != nil {
			return storage.Config{}, false, 0, err
		}
		return storage.Config{Driver: driver, Path: path, BusyTimeout: busy}, true, retention, nil
	default:
		return storage.Config{}, false, 0, fmt.Errorf("unknown storage.driver: %s", sc.Driver)
	}
}

func mapDebugConfig(cfg *config.Config) (debugsrv.Config, error) {
	d := cfg.Debug
	out := debugsrv.Config{
		Enabled:              d.Enabled,
		Addr:                 strings.TrimSpace(d.Addr),
		Token:                strings.TrimSpace(d.Token),
		AllowInsecure:        d.AllowInsecure,
		MutexProfileFraction: d.MutexProfileFraction,
		BlockProfileRate:     d.BlockProfileRate,
	}
	var err error
	if out.ReadTimeout, err = config.ParseDurationDefault("debug.read_timeout", d.ReadTimeout, 10*time.Second); err != nil {
		return out, err
	}
	if out.WriteTimeout, err = config.ParseDuration("debug.write_timeout", d.WriteTimeout); err != nil {
		return out, err
	}
	if out.IdleTimeout, err = config.ParseDurationDefault("debug.idle_timeout", d.IdleTimeout, time.Minute); err != nil {
		return out, err
	}
	return out, nil
}
