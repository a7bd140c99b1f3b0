package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"idlejob/internal/eventbus"
	rtsup "idlejob/internal/runtime/supervisor"
	"idlejob/internal/status"
	logx "idlejob/pkg/logx"
)

const workerName = "jobs.worker"

// Scheduler owns a job registry and the single worker that runs it.
// The zero value is not usable; construct with New.
type Scheduler struct {
	mu  sync.Mutex
	cfg Config
	sup *rtsup.Supervisor

	log logx.Logger
	rep status.Reporter
	bus eventbus.Bus

	reg     registry
	running atomic.Bool
	wake    chan struct{}

	ticks      atomic.Uint64
	workTicks  atomic.Uint64
	invoked    atomic.Uint64
	interrupts atomic.Uint64
	interval   atomic.Int64
	lastTick   atomic.Int64
}

type Option func(*Scheduler)

// WithReporter routes status reports (critical/warning/debug) to rep.
// By default reports go to a status.LogReporter over the scheduler logger.
func WithReporter(rep status.Reporter) Option {
	return func(s *Scheduler) {
		if rep != nil {
			s.rep = rep
		}
	}
}

func New(cfg Config, log logx.Logger, bus eventbus.Bus, opts ...Option) *Scheduler {
	if log.IsZero() {
		log = logx.Nop()
	}
	if bus == nil {
		bus = eventbus.Nop()
	}
	s := &Scheduler{
		cfg:  cfg.withDefaults(),
		log:  log,
		bus:  bus,
		wake: make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(s)
	}
	if s.rep == nil {
		s.rep = status.New(log)
	}
	return s
}

func (s *Scheduler) config() Config {
	s.mu.Lock()
	cfg := s.cfg
	s.mu.Unlock()
	return cfg
}

// Apply swaps the cadence settings. The worker picks them up on its next tick.
func (s *Scheduler) Apply(cfg Config) {
	cfg = cfg.withDefaults()
	s.mu.Lock()
	prev := s.cfg
	s.cfg = cfg
	s.mu.Unlock()

	if prev.IdlePriority != cfg.IdlePriority && s.running.Load() {
		s.log.Info("idle priority change applies on next init", logx.Bool("idle_priority", cfg.IdlePriority))
	}
}

// Running reports whether the worker is active.
func (s *Scheduler) Running() bool { return s.running.Load() }

// Init starts the worker. ctx bounds the startup handshake only; the worker
// lives until Shutdown.
//
// Calling Init while the worker is running is a contract violation and
// returns ErrAlreadyRunning. If the worker fails to come up within
// StartTimeout the failure is reported as fatal. A ctx that ends first
// aborts the start and its error is returned.
func (s *Scheduler) Init(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	start := time.Now()

	s.mu.Lock()
	if s.sup != nil && s.running.Load() {
		s.mu.Unlock()
		s.log.Error("init called while job worker is running", logx.Err(ErrAlreadyRunning), logx.Stack(logx.StackTrace(2, 8)))
		return ErrAlreadyRunning
	}
	if s.sup != nil {
		// Left behind by a worker that panicked.
		s.sup.Cancel()
		s.sup = nil
	}
	cfg := s.cfg
	s.rep.Debug("initializing low priority job worker",
		logx.Duration("unit", cfg.Unit),
		logx.Int("min_interval", cfg.MinInterval),
		logx.Int("max_interval", cfg.MaxInterval),
	)

	sup := rtsup.NewSupervisor(context.WithoutCancel(ctx),
		rtsup.WithLogger(s.log.With(logx.String("comp", "jobs.supervisor"))),
		rtsup.WithPanicHook(s.onWorkerPanic),
	)
	s.sup = sup
	s.running.Store(true)
	s.mu.Unlock()

	ready := make(chan struct{})
	sup.Go0(workerName, func(c context.Context) {
		s.work(c, cfg, ready)
	})

	timer := time.NewTimer(cfg.StartTimeout)
	defer timer.Stop()

	var cause error
	select {
	case <-ready:
	case <-timer.C:
		cause = fmt.Errorf("no startup signal after %s", cfg.StartTimeout)
	case <-ctx.Done():
		select {
		case <-ready:
		default:
			s.abortStart(sup)
			s.log.Warn("job worker start aborted", logx.Err(ctx.Err()))
			return ctx.Err()
		}
	}
	if cause != nil {
		s.abortStart(sup)
		s.rep.Fatal("could not start job worker", logx.Err(cause))
		return fmt.Errorf("%w: %w", ErrWorkerStart, cause)
	}

	n := s.reg.len()
	s.bus.Publish(eventbus.Event{Type: EventInit, Data: LifecycleEvent{Jobs: n, Elapsed: time.Since(start)}})
	s.log.Info("job worker started", logx.Int("jobs", n), logx.Bool("idle_priority", cfg.IdlePriority))
	return nil
}

func (s *Scheduler) abortStart(sup *rtsup.Supervisor) {
	s.mu.Lock()
	if s.sup == sup {
		s.sup = nil
		s.running.Store(false)
	}
	s.mu.Unlock()
	sup.Cancel()
}

// Shutdown stops the worker, waits for it to exit and drains the registry.
//
// The wait is bounded by ctx and ShutdownTimeout. If the worker is still in
// the middle of a tick when the deadline passes, ErrShutdownTimeout is
// returned and the entries registered before Shutdown returned are drained
// as soon as that tick releases the registry. The worker exits before
// starting another tick.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	start := time.Now()
	s.rep.Debug("shutting down job worker")

	s.mu.Lock()
	sup := s.sup
	s.sup = nil
	timeout := s.cfg.ShutdownTimeout
	s.running.Store(false)
	s.mu.Unlock()

	var err error
	if sup != nil {
		sup.Cancel()
		wctx, cancel := context.WithTimeout(ctx, timeout)
		werr := sup.Wait(wctx)
		timedOut := wctx.Err() != nil && errors.Is(werr, wctx.Err())
		cancel()
		if timedOut {
			s.rep.Warn("job worker still busy at shutdown deadline", werr, logx.String("job", s.reg.currentName()))
			err = fmt.Errorf("%w: %w", ErrShutdownTimeout, werr)
		}
	}

	if err != nil && !s.reg.mu.TryLock() {
		// The worker holds the registry for its current tick. Jobs added
		// after this point belong to the next Init.
		go s.finishDrain(start, s.reg.lastSeq())
		return err
	}
	if err != nil {
		n := s.reg.drainLocked()
		s.reg.mu.Unlock()
		s.drained(n, start, err)
		return err
	}

	s.drained(s.reg.drain(), start, nil)
	return nil
}

func (s *Scheduler) finishDrain(start time.Time, through uint64) {
	n := s.reg.drainThrough(through)
	s.drained(n, start, ErrShutdownTimeout)
}

func (s *Scheduler) drained(n int, start time.Time, err error) {
	ev := LifecycleEvent{Jobs: n, Elapsed: time.Since(start)}
	if err != nil {
		ev.Error = err.Error()
	}
	s.bus.Publish(eventbus.Event{Type: EventShutdown, Data: ev})
	s.log.Info("job worker stopped", logx.Int("drained", n), logx.Duration("took", ev.Elapsed))
}

// Add registers fn to be called with data on every tick.
// Duplicates are allowed. A nil fn is rejected and reported.
//
// Add must not be called from inside a job.
func (s *Scheduler) Add(fn Func, data any) error {
	if fn == nil {
		s.rep.Critical("job add rejected", logx.Err(ErrNilJob))
		return ErrNilJob
	}
	e := funcEntry(fn, data)
	s.added(s.reg.add(e), e.name)
	return nil
}

// AddJob registers j to be run on every tick.
//
// AddJob must not be called from inside a job.
func (s *Scheduler) AddJob(j Job) error {
	if isNilJob(j) {
		s.rep.Critical("job add rejected", logx.Err(ErrNilJob))
		return ErrNilJob
	}
	e := jobEntry(j)
	s.added(s.reg.add(e), e.name)
	return nil
}

func (s *Scheduler) added(jobs int, name string) {
	s.bus.Publish(eventbus.Event{Type: EventJobAdded, Data: JobEvent{Name: name, Count: 1, Jobs: jobs}})
	s.log.Debug("job added", logx.String("job", name), logx.Int("jobs", jobs))
}

// Remove unregisters every entry added with this fn and an equal data value.
// It returns how many entries were removed; no match is not an error.
//
// Remove holds the registry lock for the whole pass and must not be called
// from inside a job.
func (s *Scheduler) Remove(fn Func, data any) (int, error) {
	if fn == nil {
		s.rep.Critical("job remove rejected", logx.Err(ErrNilJob))
		return 0, ErrNilJob
	}
	e := funcEntry(fn, data)
	return s.remove(e.id, e.name), nil
}

// RemoveJob unregisters every entry equal to j.
func (s *Scheduler) RemoveJob(j Job) (int, error) {
	if isNilJob(j) {
		s.rep.Critical("job remove rejected", logx.Err(ErrNilJob))
		return 0, ErrNilJob
	}
	return s.remove(identity{job: j}, jobName(j)), nil
}

func (s *Scheduler) remove(id identity, name string) int {
	removed, left := s.reg.remove(id)
	if removed > 0 {
		s.bus.Publish(eventbus.Event{Type: EventJobRemoved, Data: JobEvent{Name: name, Count: removed, Jobs: left}})
		s.log.Debug("job removed", logx.String("job", name), logx.Int("count", removed), logx.Int("jobs", left))
	}
	return removed
}

// Len returns the number of registered entries.
func (s *Scheduler) Len() int { return s.reg.len() }

// Interrupt cuts the worker's current sleep short. The worker then sleeps a
// single unit before its next tick. An interrupt sent while a tick is running
// applies to the following sleep.
func (s *Scheduler) Interrupt() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Snapshot() Snapshot {
	s.mu.Lock()
	cfg := s.cfg
	sup := s.sup
	s.mu.Unlock()

	snap := Snapshot{
		Running:     s.running.Load(),
		Jobs:        s.reg.len(),
		Ticks:       s.ticks.Load(),
		WorkTicks:   s.workTicks.Load(),
		Invoked:     s.invoked.Load(),
		Interrupts:  s.interrupts.Load(),
		Interval:    time.Duration(s.interval.Load()),
		Unit:        cfg.Unit,
		MinInterval: cfg.MinInterval,
		MaxInterval: cfg.MaxInterval,
		Worker:      sup.Snapshot(),
	}
	if ns := s.lastTick.Load(); ns > 0 {
		snap.LastTick = time.Unix(0, ns)
	}
	return snap
}
