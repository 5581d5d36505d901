package supervisor

// ProcessState is the lifecycle state of a single worker process instance.
//
// States on the happy path are strictly increasing in real time for one
// instance, so ordered comparisons (< Joined, >= Started) are valid liveness
// checks. Failed sits off-path and is terminal. The only way backward is an
// explicit restart, which conceptually creates a fresh instance.
type ProcessState int

// Process states, in lifecycle order.
const (
	Idle ProcessState = iota
	Started
	Acked
	Joined
	Terminated
	Failed
)

var stateNames = map[ProcessState]string{
	Idle:       "IDLE",
	Started:    "STARTED",
	Acked:      "ACKED",
	Joined:     "JOINED",
	Terminated: "TERMINATED",
	Failed:     "FAILED",
}

func (s ProcessState) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return "UNKNOWN"
}

// ParseProcessState converts a state name back into a ProcessState.
// Used when adopting states reported through the shared state table.
func ParseProcessState(name string) (ProcessState, bool) {
	for state, n := range stateNames {
		if n == name {
			return state, true
		}
	}
	return Idle, false
}

// RestartOrder selects whether a replacement process is started before or
// after the old instance is terminated.
type RestartOrder int

const (
	// ShutdownFirst terminates the old process before starting the new one.
	ShutdownFirst RestartOrder = iota
	// StartupFirst starts the replacement before terminating the old
	// process, trading a moment of double capacity for zero downtime.
	StartupFirst
)

func (o RestartOrder) String() string {
	if o == StartupFirst {
		return "STARTUP_FIRST"
	}
	return "SHUTDOWN_FIRST"
}
