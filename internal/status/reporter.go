// Package status is the error/debug side channel used by the job scheduler.
//
// Severities follow the scheduler's contract: Critical reports are advisory
// unless they come from the worker path, in which case Fatal is used and the
// process is terminated through the exit hook.
package status

import (
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	logx "idlejob/pkg/logx"
)

// Reporter receives scheduler status reports.
// Implementations must be safe for concurrent use.
type Reporter interface {
	// Critical reports a serious failure the caller recovered from.
	Critical(msg string, fields ...logx.Field)
	// Fatal reports a failure the scheduler cannot run past, then terminates.
	Fatal(msg string, fields ...logx.Field)
	// Warn reports a non-fatal error (the perror channel).
	Warn(msg string, err error, fields ...logx.Field)
	Debug(msg string, fields ...logx.Field)
}

const (
	defaultWarnEvery = 10 * time.Second
	defaultWarnBurst = 3
)

// LogReporter writes reports to a logx.Logger.
type LogReporter struct {
	log  logx.Logger
	exit func(code int)

	warnEvery time.Duration
	warnBurst int

	mu       sync.Mutex
	limiters map[string]*rate.Limiter

	criticals  atomic.Uint64
	suppressed atomic.Uint64
}

type Option func(*LogReporter)

// WithExit replaces os.Exit as the fatal hook. Tests use it to observe Fatal.
func WithExit(fn func(code int)) Option {
	return func(r *LogReporter) {
		if fn != nil {
			r.exit = fn
		}
	}
}

// WithWarnRate limits identical warning messages to burst per every.
// A non-positive every disables throttling.
func WithWarnRate(every time.Duration, burst int) Option {
	return func(r *LogReporter) {
		r.warnEvery = every
		if burst > 0 {
			r.warnBurst = burst
		}
	}
}

func New(log logx.Logger, opts ...Option) *LogReporter {
	if log.IsZero() {
		log = logx.Nop()
	}
	r := &LogReporter{
		log:       log,
		exit:      os.Exit,
		warnEvery: defaultWarnEvery,
		warnBurst: defaultWarnBurst,
		limiters:  map[string]*rate.Limiter{},
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

func (r *LogReporter) Critical(msg string, fields ...logx.Field) {
	r.criticals.Add(1)
	fs := append([]logx.Field{logx.String("severity", "critical"), logx.Stack(logx.StackTrace(3, 12))}, fields...)
	r.log.Error(msg, fs...)
}

func (r *LogReporter) Fatal(msg string, fields ...logx.Field) {
	r.criticals.Add(1)
	fs := append([]logx.Field{logx.String("severity", "fatal"), logx.Stack(logx.StackTrace(3, 12))}, fields...)
	r.log.Error(msg, fs...)
	r.exit(1)
}

func (r *LogReporter) Warn(msg string, err error, fields ...logx.Field) {
	if !r.allow(msg) {
		r.suppressed.Add(1)
		return
	}
	fs := append([]logx.Field{logx.Err(err)}, fields...)
	r.log.Warn(msg, fs...)
}

func (r *LogReporter) Debug(msg string, fields ...logx.Field) {
	r.log.Debug(msg, fields...)
}

// Criticals returns how many Critical and Fatal reports were made.
func (r *LogReporter) Criticals() uint64 { return r.criticals.Load() }

// Suppressed returns how many warnings were dropped by throttling.
func (r *LogReporter) Suppressed() uint64 { return r.suppressed.Load() }

func (r *LogReporter) allow(key string) bool {
	if r.warnEvery <= 0 {
		return true
	}
	r.mu.Lock()
	lim := r.limiters[key]
	if lim == nil {
		lim = rate.NewLimiter(rate.Every(r.warnEvery), r.warnBurst)
		r.limiters[key] = lim
	}
	r.mu.Unlock()
	return lim.Allow()
}
