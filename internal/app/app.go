// Package app wires the job scheduler host: config hot-reload, logging,
// the audit trail, the debug server and systemd notifications.
package app

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/google/uuid"

	"idlejob/internal/config"
	"idlejob/internal/eventbus"
	"idlejob/internal/jobs"
	"idlejob/internal/observability/debugsrv"
	rtsup "idlejob/internal/runtime/supervisor"
	"idlejob/internal/status"
	"idlejob/internal/storage"
	logx "idlejob/pkg/logx"
)

type App struct {
	cfgm *config.ConfigManager
	cfg  *config.Config
	sup  *rtsup.Supervisor

	log  logx.Logger
	logs *logx.Service
	rep  *status.LogReporter
	bus  eventbus.Bus

	store     storage.Store
	retention time.Duration

	sched *jobs.Scheduler
	debug *debugsrv.Server

	instance string

	sdNotify   func(state string) (bool, error)
	sdWatchdog func() (time.Duration, error)
}

// New loads cfgPath and builds every component without starting anything.
// An empty cfgPath runs with defaults and no hot-reload.
func New(cfgPath string) (*App, error) {
	var (
		cfgm *config.ConfigManager
		cfg  *config.Config
		err  error
	)
	if strings.TrimSpace(cfgPath) != "" {
		cfgm = config.NewConfigManager(cfgPath)
		if cfg, err = cfgm.Load(); err != nil {
			return nil, err
		}
	} else {
		cfg = config.Default()
		if err := config.Validate(cfg); err != nil {
			return nil, err
		}
	}

	logSvc, log := logx.New(mapLogConfig(cfg))
	instance := uuid.NewString()
	appLog := log.With(logx.String("comp", "app"))

	var (
		store     storage.Store
		retention time.Duration
	)
	if sc, enabled, rt, err := mapStorageConfig(cfg); err != nil {
		return nil, err
	} else if enabled {
		st, err := storage.Open(sc, log.With(logx.String("comp", "storage")))
		if err != nil {
			return nil, err
		}
		store, retention = st, rt
		appLog.Info("storage enabled", logx.String("driver", sc.Driver), logx.Duration("retention", rt))
	}

	jcfg, err := mapSchedulerConfig(cfg)
	if err != nil {
		return nil, closeOnErr(store, err)
	}
	dcfg, err := mapDebugConfig(cfg)
	if err != nil {
		return nil, closeOnErr(store, err)
	}

	bus := eventbus.New()
	rep := status.New(log.With(logx.String("comp", "status")))
	sched := jobs.New(jcfg, log.With(logx.String("comp", "jobs")), bus, jobs.WithReporter(rep))

	var dopts []debugsrv.Option
	if store != nil {
		dopts = append(dopts, debugsrv.WithAudit(store))
	}
	dbg := debugsrv.New(dcfg, log, sched, dopts...)

	return &App{
		cfgm:      cfgm,
		cfg:       cfg,
		log:       appLog,
		logs:      logSvc,
		rep:       rep,
		bus:       bus,
		store:     store,
		retention: retention,
		sched:     sched,
		debug:     dbg,
		instance:  instance,
		sdNotify: func(state string) (bool, error) {
			return daemon.SdNotify(false, state)
		},
		sdWatchdog: func() (time.Duration, error) {
			return daemon.SdWatchdogEnabled(false)
		},
	}, nil
}

func closeOnErr(store storage.Store, err error) error {
	if store != nil {
		_ = store.Close()
	}
	return err
}

// Scheduler exposes the job scheduler so the host can register its jobs.
func (a *App) Scheduler() *jobs.Scheduler { return a.sched }

// Instance is the random id stamped on this process's audit rows.
func (a *App) Instance() string { return a.instance }

func (a *App) Logger() logx.Logger { return a.log }

// Done is closed when the app supervisor context is canceled (fatal error or Stop()).
func (a *App) Done() <-chan struct{} {
	if a.sup == nil {
		ch := make(chan struct{})
		close(ch)
		return ch
	}
	return a.sup.Context().Done()
}

// Err returns the first fatal error observed by the supervisor (if any).
func (a *App) Err() error {
	if a.sup == nil {
		return nil
	}
	return a.sup.Err()
}

func (a *App) Start(ctx context.Context) error {
	a.sup = rtsup.NewSupervisor(ctx, rtsup.WithLogger(a.log), rtsup.WithCancelOnError(true))

	// transactional config reload: validate before commit/publish
	if a.cfgm != nil {
		a.cfgm.SetLogger(a.log.With(logx.String("comp", "config")))
		a.cfgm.SetValidator(func(_ context.Context, cfg *config.Config) error {
			return validateMapped(cfg)
		})
	}

	a.startEventSink()
	a.registerHostJobs()

	if err := a.sched.Init(ctx); err != nil {
		a.sup.Cancel()
		return err
	}

	if err := a.debug.Start(a.sup.Context()); err != nil {
		a.log.Warn("debug server not started", logx.Err(err))
	}

	a.notify(daemon.SdNotifyReady)

	if a.cfgm != nil {
		a.startConfigReload()
		a.sup.Go("config.watch", func(c context.Context) error {
			return a.cfgm.Watch(c)
		})
	}

	a.log.Info("app started", logx.String("instance", a.instance), logx.Int("jobs", a.sched.Len()))
	return nil
}

func validateMapped(cfg *config.Config) error {
	if _, err := mapSchedulerConfig(cfg); err != nil {
		return err
	}
	if _, err := mapDebugConfig(cfg); err != nil {
		return err
	}
	if _, _, _, err := mapStorageConfig(cfg); err != nil {
		return err
	}
	return nil
}

// registerHostJobs adds the jobs the host itself needs: audit pruning and
// the systemd watchdog ping.
func (a *App) registerHostJobs() {
	if a.store != nil && a.retention > 0 {
		if err := a.sched.AddJob(newPruneJob(a.store, a.retention, a.log.With(logx.String("job", "storage.prune")))); err != nil {
			a.log.Warn("prune job not registered", logx.Err(err))
		}
	}

	if !a.cfg.Systemd.WatchdogEnabled() {
		return
	}
	interval, err := a.sdWatchdog()
	if err != nil {
		a.log.Warn("systemd watchdog check failed", logx.Err(err))
		return
	}
	if interval <= 0 {
		return
	}
	w := &watchdogJob{
		notify: a.sdNotify,
		every:  interval / 2,
		now:    time.Now,
		log:    a.log.With(logx.String("job", "systemd.watchdog")),
	}
	snap := a.sched.Snapshot()
	if maxSleep := time.Duration(snap.MaxInterval) * snap.Unit; maxSleep >= w.every {
		a.log.Warn("watchdog interval is shorter than the idle sleep ceiling; pings may be late",
			logx.Duration("watchdog", interval),
			logx.Duration("max_sleep", maxSleep),
		)
	}
	if err := a.sched.AddJob(w); err != nil {
		a.log.Warn("watchdog job not registered", logx.Err(err))
		return
	}
	a.log.Info("systemd watchdog enabled", logx.Duration("interval", interval))
}

func (a *App) notify(state string) {
	if !a.cfg.Systemd.NotifyEnabled() {
		return
	}
	sent, err := a.sdNotify(state)
	if err != nil {
		a.log.Warn("sd_notify failed", logx.String("state", state), logx.Err(err))
		return
	}
	if sent {
		a.log.Debug("sd_notify sent", logx.String("state", state))
	}
}

// startConfigReload applies published configs. Storage and systemd settings
// are read once at startup.
func (a *App) startConfigReload() {
	sub := a.cfgm.Subscribe(8)
	a.sup.Go0("config.reload", func(c context.Context) {
		defer a.cfgm.Unsubscribe(sub)
		lastApplied := a.cfg
		for {
			select {
			case <-c.Done():
				return
			case newCfg, ok := <-sub:
				if !ok {
					return
				}
				// Coalesce bursts: keep only the latest config in the channel.
			drain:
				for {
					select {
					case newer := <-sub:
						if newer != nil {
							newCfg = newer
						}
					default:
						break drain
					}
				}
				a.applyConfig(c, lastApplied, newCfg)
				lastApplied = newCfg
			}
		}
	})
}

func (a *App) applyConfig(ctx context.Context, prev, next *config.Config) {
	sections, attrs := config.SummarizeConfigChange(prev, next)
	if len(sections) == 0 {
		a.log.Info("config reloaded (no changes)")
		return
	}

	for _, s := range sections {
		if s == "storage" || s == "systemd" {
			a.log.Warn("config section changed; restart required for changes to take effect", logx.String("section", s))
		}
	}

	a.logs.Apply(mapLogConfig(next))

	if jcfg, err := mapSchedulerConfig(next); err != nil {
		a.log.Warn("invalid scheduler config; keeping previous", logx.Err(err))
	} else {
		a.sched.Apply(jcfg)
	}

	if dcfg, err := mapDebugConfig(next); err != nil {
		a.log.Warn("invalid debug config; keeping previous", logx.Err(err))
	} else if err := a.debug.Reconfigure(ctx, dcfg); err != nil {
		a.log.Warn("debug server reconfigure failed", logx.Err(err))
	}

	fields := append([]logx.Field{logx.String("changed", strings.Join(sections, ","))}, attrs...)
	a.log.Info("config reloaded", fields...)
}

func (a *App) Stop(ctx context.Context, reason StopReason) error {
	if a.sup == nil {
		return nil
	}
	a.log.Info("stopping", logx.String("reason", string(reason)))
	a.notify(daemon.SdNotifyStopping)

	a.step(ctx, "debug", time.Second, func(c context.Context) error { a.debug.Stop(c); return nil })

	// The scheduler goes before the supervisor so the audit sink still runs
	// when jobs.shutdown is published. Shutdown bounds itself.
	a.step(ctx, "scheduler", 0, func(c context.Context) error { return a.sched.Shutdown(c) })

	a.sup.Cancel()
	a.step(ctx, "supervisor", 2*time.Second, func(c context.Context) error { return a.sup.Wait(c) })

	a.step(ctx, "storage", time.Second, func(c context.Context) error {
		if a.store != nil {
			return a.store.Close()
		}
		return nil
	})

	a.log.Info("stopped")
	if a.logs != nil {
		a.logs.Close()
	}
	return nil
}

// step runs a shutdown step with an upper bound so one component can't stall the whole stop.
func (a *App) step(ctx context.Context, name string, max time.Duration, fn func(context.Context) error) {
	start := time.Now()
	a.log.Debug("stop step begin", logx.String("name", name), logx.Duration("max", max))

	stepCtx := ctx
	if max > 0 {
		// respect the caller's deadline; never extend it
		if dl, ok := ctx.Deadline(); ok {
			if rem := time.Until(dl); rem < max {
				max = rem
			}
		}
		var cancel context.CancelFunc
		stepCtx, cancel = context.WithTimeout(ctx, max)
		defer cancel()
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- fmt.Errorf("panic in stop step %s: %v", name, r)
			}
		}()
		done <- fn(stepCtx)
	}()

	select {
	case err := <-done:
		if err != nil {
			a.log.Warn("stop step error", logx.String("name", name), logx.Err(err))
		}
		took := time.Since(start)
		if took >= 500*time.Millisecond {
			a.log.Info("stop step end", logx.String("name", name), logx.Duration("took", took))
		} else {
			a.log.Debug("stop step end", logx.String("name", name), logx.Duration("took", took))
		}
	case <-stepCtx.Done():
		// Contract: fn MUST honor stepCtx and return promptly. If it doesn't, log a leak signal.
		a.log.Warn("stop step deadline reached (continuing)",
			logx.String("name", name),
			logx.Err(stepCtx.Err()),
			logx.Duration("elapsed", time.Since(start)),
		)
		go func() {
			err := <-done
			took := time.Since(start)
			if err != nil {
				a.log.Warn("stop step finished after deadline", logx.String("name", name), logx.Err(err), logx.Duration("took", took))
			} else {
				a.log.Info("stop step finished after deadline", logx.String("name", name), logx.Duration("took", took))
			}
		}()
	}
}
