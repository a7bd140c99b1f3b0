package jobs

import (
	"context"
	"runtime"
	"time"

	"golang.org/x/time/rate"

	"idlejob/internal/eventbus"
	logx "idlejob/pkg/logx"
)

// work is the worker goroutine body. ready is closed once the worker is
// up and the priority hint has been tried.
func (s *Scheduler) work(ctx context.Context, cfg Config, ready chan<- struct{}) {
	if cfg.IdlePriority {
		// Never unlocked: the thread is discarded when the worker exits,
		// so the idle class cannot leak to other goroutines.
		runtime.LockOSThread()
		if err := setIdlePriority(); err != nil {
			s.rep.Warn("could not set idle scheduling class; using default scheduling", err)
		}
	}
	close(ready)
	s.loop(ctx, cfg)
}

func (s *Scheduler) loop(ctx context.Context, cfg Config) {
	bo := newBackoff(cfg.MinInterval, cfg.MaxInterval)
	logTick := rate.Sometimes{Interval: cfg.TickLogEvery}

	for s.running.Load() && ctx.Err() == nil {
		cfg = s.config()
		bo.setBounds(cfg.MinInterval, cfg.MaxInterval)

		start := time.Now()
		n, hadWork := s.reg.runAll(ctx)
		took := time.Since(start)

		sleep := time.Duration(bo.next(hadWork)) * cfg.Unit

		seq := s.ticks.Add(1)
		if hadWork {
			s.workTicks.Add(1)
		}
		s.invoked.Add(uint64(n))
		s.interval.Store(int64(sleep))
		s.lastTick.Store(start.UnixNano())

		s.bus.Publish(eventbus.Event{Type: EventTick, Time: start, Data: TickEvent{
			Seq:     seq,
			Jobs:    n,
			HadWork: hadWork,
			Took:    took,
			Sleep:   sleep,
		}})
		logTick.Do(func() {
			s.rep.Debug("job tick",
				logx.Uint64("seq", seq),
				logx.Int("jobs", n),
				logx.Bool("had_work", hadWork),
				logx.Duration("took", took),
				logx.Duration("sleep", sleep),
			)
		})

		s.sleep(ctx, sleep, cfg.Unit)
	}
}

// sleep waits for d. Shutdown cuts it short; an Interrupt replaces the rest
// of the wait with a fixed one-unit sleep.
func (s *Scheduler) sleep(ctx context.Context, d, unit time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return
	case <-t.C:
		return
	case <-s.wake:
		s.interrupts.Add(1)
	}

	fallback := time.NewTimer(unit)
	defer fallback.Stop()
	select {
	case <-ctx.Done():
	case <-fallback.C:
	}
}

// onWorkerPanic runs on the worker goroutine after the supervisor recovered
// a panic from a job. There is no per-job isolation: the worker is gone, and
// if the fatal hook returns a later Init starts a new one.
func (s *Scheduler) onWorkerPanic(name string, p any, stack string) {
	s.running.Store(false)
	s.rep.Fatal("job panicked; worker stopped",
		logx.String("worker", name),
		logx.String("job", s.reg.currentName()),
		logx.Any("panic", p),
		logx.Stack(stack),
	)
}
