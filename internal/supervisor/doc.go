// Package supervisor provides single-host worker process supervision.
//
// The package is layered, leaves first:
//
// WorkerProcess wraps one OS process slot under a stable name:
//   - Graceful shutdown with SIGTERM and configurable timeout
//   - Force kill with SIGKILL if graceful shutdown times out
//   - Restart with a fresh pid, in either order (old-first or new-first),
//     debounced against restart storms
//   - Startup acknowledgment and state reporting over the child's stdout
//
// Worker groups 1..N WorkerProcess instances running the same Target
// under one logical name.
//
// Manager supervises the whole fleet from one controlling goroutine:
//   - Transient (auto-scaled server) and durable (user-registered) workers
//   - A startup acknowledgment barrier with a miss-count timeout
//   - A steady-state control loop fed by the Pubsub control channel
//   - Per-cycle reconciliation adopting the shared StateTable as the
//     authority for cross-process state
//   - Scale, filtered restart, graceful shutdown, and force kill
//
// Everything that commands a running Manager does so by publishing wire
// messages (see protocol.go) on the control channel; the control loop
// consumes exactly one command per iteration before reconciling.
//
// Example:
//
//	control := supervisor.NewPubsub()
//	table := supervisor.NewStateTable()
//	mgr, err := supervisor.New(supervisor.Config{
//	    Workers:      4,
//	    ServerTarget: supervisor.Target{Command: []string{"myapp", "serve"}},
//	}, control, table, bus, logger)
//	if err != nil {
//	    return err
//	}
//	mgr.Manage("metrics-agent", supervisor.Target{Command: agentCmd}, false, 1)
//	err = mgr.Run()
package supervisor
