package app

import (
	"context"
	"time"

	"github.com/coreos/go-systemd/v22/daemon"

	"idlejob/internal/storage"
	logx "idlejob/pkg/logx"
)

const (
	pruneEvery   = 10 * time.Minute
	pruneTimeout = 5 * time.Second
)

// pruneJob deletes audit rows older than retention. It only touches the
// store once per every, and reports work when rows were removed.
type pruneJob struct {
	store     storage.Store
	retention time.Duration
	every     time.Duration
	now       func() time.Time
	log       logx.Logger

	last time.Time
}

func newPruneJob(store storage.Store, retention time.Duration, log logx.Logger) *pruneJob {
	return &pruneJob{store: store, retention: retention, every: pruneEvery, now: time.Now, log: log}
}

func (p *pruneJob) Name() string { return "storage.prune" }

func (p *pruneJob) Run(ctx context.Context) bool {
	t := p.now()
	if !p.last.IsZero() && t.Sub(p.last) < p.every {
		return false
	}
	p.last = t

	c, cancel := context.WithTimeout(ctx, pruneTimeout)
	defer cancel()
	n, err := p.store.PruneAudit(c, t.Add(-p.retention))
	if err != nil {
		p.log.Warn("audit prune failed", logx.Err(err))
		return false
	}
	if n == 0 {
		return false
	}
	p.log.Info("audit pruned", logx.Int("rows", n), logx.Duration("retention", p.retention))
	return true
}

// watchdogJob pings the systemd watchdog at half its interval. It never
// reports work so it does not hold the worker at the fast cadence.
type watchdogJob struct {
	notify func(state string) (bool, error)
	every  time.Duration
	now    func() time.Time
	log    logx.Logger

	last time.Time
	sent uint64
}

func (w *watchdogJob) Name() string { return "systemd.watchdog" }

func (w *watchdogJob) Run(context.Context) bool {
	t := w.now()
	if !w.last.IsZero() && t.Sub(w.last) < w.every {
		return false
	}
	w.last = t
	if _, err := w.notify(daemon.SdNotifyWatchdog); err != nil {
		w.log.Warn("watchdog ping failed", logx.Err(err))
		return false
	}
	w.sent++
	return false
}
