// Package jobs runs low-priority periodic callbacks on a single background worker.
//
// # Overview
//
// A Scheduler keeps an insertion-ordered registry of jobs. Once Init is called,
// one worker goroutine repeatedly locks the registry, invokes every job in
// order, unlocks, and sleeps. Each job reports whether it did useful work;
// if any job did, the next sleep is MinInterval units, otherwise the sleep
// grows by one unit per idle tick up to MaxInterval (1..15 seconds by default).
//
// # Concurrency
//
// Add and Remove may be called from any goroutine at any time. The registry
// lock is held for the whole batch of a tick, so jobs never run concurrently
// with each other or with a registry mutation. A job added before a tick
// acquires the lock runs in that tick; a job removed never runs in a later tick.
//
// The lock is not reentrant: a job must not call Add or Remove on its own
// Scheduler, that deadlocks the worker.
//
// # Priority
//
// On Linux the worker locks its OS thread and asks for SCHED_IDLE. Failure is
// reported as a warning and the worker keeps default scheduling.
//
// # Lifecycle
//
// Jobs may be registered before Init. Shutdown stops the worker, waits for it
// (bounded by ShutdownTimeout) and drains the registry. Jobs added after
// Shutdown stay registered and run only if Init is called again. That holds
// when Shutdown times out too: the stuck tick is followed by a drain of only
// the jobs registered before Shutdown returned.
//
// A job that panics stops the worker; the panic is reported as fatal through
// the status side channel. Init may be called again afterwards.
package jobs
