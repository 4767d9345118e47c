package schedule

import "errors"

var (
	// ErrInvalidRecurrence is returned when a recurrence rule is constructed
	// from out-of-range or malformed user input.
	ErrInvalidRecurrence = errors.New("invalid recurrence")

	// ErrDuplicateJob is returned by Create when an enabled job of the same
	// type already exists and replacement was not requested.
	ErrDuplicateJob = errors.New("a job of this type is already scheduled")

	// ErrJobNotFound is returned when an update or removal targets an
	// unknown job id.
	ErrJobNotFound = errors.New("scheduled job not found")

	// ErrAlreadyRunning is returned by Controller.Start when a live PID
	// marker exists.
	ErrAlreadyRunning = errors.New("scheduler daemon is already running")

	// ErrNotRunning is returned by Controller.Stop when no live PID marker
	// exists.
	ErrNotRunning = errors.New("scheduler daemon is not running")

	// ErrStale is returned when a PID marker exists but the process it
	// references is gone. The marker is removed before this is returned so
	// the next Start can proceed.
	ErrStale = errors.New("stale scheduler PID marker")
)
