package jobs

import "errors"

var (
	ErrNilJob              = errors.New("job callback is nil")
	ErrAlreadyRunning      = errors.New("job worker already running")
	ErrWorkerStart         = errors.New("job worker failed to start")
	ErrShutdownTimeout     = errors.New("job worker did not exit before shutdown deadline")
	ErrPriorityUnsupported = errors.New("idle scheduling class not supported on this platform")
)
