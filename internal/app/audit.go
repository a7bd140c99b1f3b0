package app

import (
	"context"
	"time"

	"idlejob/internal/eventbus"
	"idlejob/internal/jobs"
	"idlejob/internal/storage"
	logx "idlejob/pkg/logx"
)

const auditWriteTimeout = 2 * time.Second

// startEventSink logs registry and lifecycle events and, with storage
// enabled, appends them to the audit trail. Ticks are left out.
func (a *App) startEventSink() {
	events, unsub := a.bus.Subscribe(256, "job.", jobs.EventInit, jobs.EventShutdown)
	a.sup.Go0("events.audit", func(c context.Context) {
		defer unsub()
		for {
			select {
			case <-c.Done():
				// Pick up what was published before cancel, e.g. jobs.shutdown.
				for {
					select {
					case e := <-events:
						a.record(e)
					default:
						return
					}
				}
			case e, ok := <-events:
				if !ok {
					return
				}
				a.record(e)
			}
		}
	})
}

func (a *App) record(e eventbus.Event) {
	entry := auditEntry(a.instance, e)
	a.log.Debug("event",
		logx.String("type", e.Type),
		logx.String("job", entry.Job),
		logx.Int("jobs", entry.Jobs),
	)
	if a.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), auditWriteTimeout)
	defer cancel()
	if err := a.store.AppendAudit(ctx, entry); err != nil {
		a.rep.Warn("audit append failed", err, logx.String("event", e.Type))
	}
}

func auditEntry(instance string, e eventbus.Event) storage.AuditEntry {
	out := storage.AuditEntry{At: e.Time, Instance: instance, Event: e.Type}
	switch d := e.Data.(type) {
	case jobs.JobEvent:
		out.Job, out.Count, out.Jobs = d.Name, d.Count, d.Jobs
	case jobs.LifecycleEvent:
		out.Jobs, out.Error, out.TookMS = d.Jobs, d.Error, d.Elapsed.Milliseconds()
	}
	return out
}
