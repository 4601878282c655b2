// Package taskqueue defines the durable task-queue port used to execute
// debate sessions and to test execution-unit liveness after a restart.
package taskqueue

import "context"

// Handle opaquely correlates a session with the queue unit executing it.
type Handle string

// Liveness is the three-outcome result of a handle liveness check.
type Liveness int

const (
	// Dead means the execution unit is known to be gone.
	Dead Liveness = iota
	// Alive means the execution unit is still heartbeating.
	Alive
	// Unknown means the queue's backing store could not be reached.
	// Callers degrade Unknown to Dead: a false restart is cheaper than a
	// permanently stuck session.
	Unknown
)

func (l Liveness) String() string {
	switch l {
	case Alive:
		return "alive"
	case Dead:
		return "dead"
	default:
		return "unknown"
	}
}

// Queue is the port interface for dispatching session executions.
type Queue interface {
	// Dispatch enqueues one execution unit for the session and returns
	// its handle.
	Dispatch(ctx context.Context, sessionID string) (Handle, error)

	// IsAlive reports whether the execution unit behind handle is live.
	IsAlive(ctx context.Context, handle Handle) Liveness

	// Cancel requests cooperative cancellation of the execution unit.
	Cancel(ctx context.Context, handle Handle) error
}
