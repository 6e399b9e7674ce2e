package scheduler

import "errors"

var (
	// ErrInvalidConfig is returned when a trigger is built with a bad interval or task
	ErrInvalidConfig = errors.New("scheduler: invalid trigger configuration")

	// ErrNotRunning is returned by RunNow on a stopped trigger
	ErrNotRunning = errors.New("scheduler: trigger is not running")
)
