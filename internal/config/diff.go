package config

import (
	"reflect"
	"sort"
	"strings"

	logx "idlejob/pkg/logx"
)

// SummarizeConfigChange returns (1) a compact list of changed sections and
// (2) safe structured attrs for logging (never includes secrets like tokens).
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 5)
	attrs := make([]logx.Field, 0, 16)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logx.level", newCfg.Logging.Level),
			logx.Bool("logx.console", newCfg.Logging.Console),
			logx.Bool("logx.file_enabled", newCfg.Logging.File.Enabled),
		)
	}

	if !reflect.DeepEqual(oldCfg.Scheduler, newCfg.Scheduler) {
		changed = append(changed, "scheduler")
		s := newCfg.Scheduler
		attrs = append(attrs,
			logx.String("scheduler.unit", strings.TrimSpace(s.Unit)),
			logx.Int("scheduler.min_interval", s.MinInterval),
			logx.Int("scheduler.max_interval", s.MaxInterval),
			logx.Bool("scheduler.idle_priority", s.IdlePriorityEnabled()),
		)
	}

	// Debug server (never log token)
	oD, nD := oldCfg.Debug, newCfg.Debug
	oTok, nTok := strings.TrimSpace(oD.Token) != "", strings.TrimSpace(nD.Token) != ""
	oD.Token, nD.Token = "", ""
	if oD != nD || oTok != nTok {
		changed = append(changed, "debug")
		attrs = append(attrs,
			logx.Bool("debug.enabled", nD.Enabled),
			logx.String("debug.addr", strings.TrimSpace(nD.Addr)),
			logx.Bool("debug.token_set", nTok),
			logx.Bool("debug.allow_insecure", nD.AllowInsecure),
		)
	}

	// Storage is opened once at startup; a change here needs a restart.
	var oS, nS StorageConfig
	if oldCfg.Storage != nil {
		oS = *oldCfg.Storage
	}
	if newCfg.Storage != nil {
		nS = *newCfg.Storage
	}
	if oS != nS || (oldCfg.Storage == nil) != (newCfg.Storage == nil) {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", strings.TrimSpace(nS.Driver)),
			logx.Bool("storage.path_set", strings.TrimSpace(nS.Path) != ""),
			logx.String("storage.retention", strings.TrimSpace(nS.Retention)),
		)
	}

	if !reflect.DeepEqual(oldCfg.Systemd, newCfg.Systemd) {
		changed = append(changed, "systemd")
		attrs = append(attrs,
			logx.Bool("systemd.notify", newCfg.Systemd.NotifyEnabled()),
			logx.Bool("systemd.watchdog", newCfg.Systemd.WatchdogEnabled()),
		)
	}

	sort.Strings(changed)
	return changed, attrs
}
