package supervisor

import "errors"

var (
	// ErrNoWorkers is returned when a Manager is constructed with zero
	// server workers.
	ErrNoWorkers = errors.New("cannot serve with no workers")

	// ErrServerKilled is returned from Run when the manager had to
	// force-kill the fleet: a failed startup acknowledgment, a worker dying
	// before acking, or a second shutdown signal.
	ErrServerKilled = errors.New("server killed")
)
