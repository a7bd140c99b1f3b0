//go:build linux

package jobs

import "golang.org/x/sys/unix"

// setIdlePriority moves the calling OS thread to SCHED_IDLE.
// The caller must have locked its goroutine to the thread.
func setIdlePriority() error {
	attr := unix.SchedAttr{Policy: unix.SCHED_IDLE}
	return unix.SchedSetAttr(0, &attr, 0)
}
