package orchestration

import "errors"

var (
	// ErrNotRunning is returned when submitting to a stopped orchestrator
	ErrNotRunning = errors.New("orchestration: orchestrator is not running")

	// ErrQueueFull is returned when the pending queue is at capacity
	ErrQueueFull = errors.New("orchestration: job queue is full")

	// ErrBatchTooLarge is returned when a job names more SKUs than allowed
	ErrBatchTooLarge = errors.New("orchestration: too many SKUs in one job")

	// ErrWaitTimeout is returned when Wait exceeds its hard limit
	ErrWaitTimeout = errors.New("orchestration: timed out waiting for job")

	// ErrInvalidConfig is returned when configuration is invalid
	ErrInvalidConfig = errors.New("orchestration: invalid configuration")
)
