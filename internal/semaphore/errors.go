package semaphore

import "errors"

// Sentinel errors surfaced by Acquire, matching the BackPressure error
// kinds enumerated in spec.md §6.
var (
	ErrQueueFull           = errors.New("semaphore: queue full")
	ErrCommandDropped      = errors.New("semaphore: command dropped")
	ErrMemoryLimitExceeded = errors.New("semaphore: memory limit exceeded")
	ErrTimeout             = errors.New("semaphore: acquire timed out")
	ErrCancelled           = errors.New("semaphore: acquire cancelled")
	ErrShutdown            = errors.New("semaphore: shut down")
)
