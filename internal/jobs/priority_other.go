//go:build !linux

package jobs

func setIdlePriority() error { return ErrPriorityUnsupported }
