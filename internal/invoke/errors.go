package invoke

import "errors"

var (
	// ErrTransient marks network, timeout and throttling failures. Only these are retried.
	ErrTransient = errors.New("transient remote error")
	// ErrRemoteExecution marks a function that ran but reported an internal error.
	ErrRemoteExecution = errors.New("remote execution error")
	// ErrCircuitOpen is returned without an outbound call while an operation's circuit is open.
	ErrCircuitOpen = errors.New("circuit open")
	// ErrLockHeld is returned when another runner holds the stage lock for an analysis.
	ErrLockHeld = errors.New("stage lock held")
)
