// Package invoke executes calls to the remote stage functions with resilience
// guarantees: per-operation rate limiting, retry with exponential backoff and
// jitter, a failure-counting circuit breaker, and analysis-scoped advisory locks.
//
// The package does not know what a call does. Backends that actually reach the
// functions implement Invoker and classify their failures with ErrTransient or
// ErrRemoteExecution; Executor applies the policy around them.
package invoke

import (
	"context"
)

// Mode is the invocation mode of a remote call.
type Mode int

const (
	// ModeSync blocks until the function returns its response.
	ModeSync Mode = iota
	// ModeAsync fires the call and returns once the function has accepted it.
	ModeAsync
)

func (m Mode) String() string {
	if m == ModeAsync {
		return "async"
	}
	return "sync"
}

// Request describes one remote call.
type Request struct {
	Function string
	Payload  []byte
	Mode     Mode
}

// Invoker performs a single outbound call. Implementations must wrap failures with
// ErrTransient (network, timeout, throttling) or ErrRemoteExecution (the function
// ran and reported an error).
type Invoker interface {
	Invoke(ctx context.Context, req Request) ([]byte, error)
	Name() string
}
