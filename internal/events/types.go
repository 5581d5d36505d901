package events

// Event type constants for kelindar/event.
const (
	TypeProcessStateChanged uint32 = iota + 1
	TypeProcessExited
	TypeProcessRestarted
	TypeFleetScaled
	TypeFleetReady
	TypeFleetShutdown
)

// Event interface required by kelindar/event.
type Event interface {
	Type() uint32
}

// ProcessStateChangedEvent is published whenever a worker process moves to
// a new lifecycle state, including force-adoptions during reconciliation.
type ProcessStateChangedEvent struct {
	Name     string `json:"name" example:"Server-0" doc:"Process name"`
	PID      int    `json:"pid" example:"4242" doc:"OS process ID, 0 when not running"`
	OldState string `json:"old_state" example:"STARTED" doc:"Previous lifecycle state"`
	NewState string `json:"new_state" example:"ACKED" doc:"New lifecycle state"`
}

// Type returns the event type identifier for ProcessStateChangedEvent.
func (e ProcessStateChangedEvent) Type() uint32 { return TypeProcessStateChanged }

// ProcessExitedEvent is published when a worker's OS process exits for any
// reason, including kills during restart.
type ProcessExitedEvent struct {
	Name     string `json:"name" example:"Server-0" doc:"Process name"`
	PID      int    `json:"pid" example:"4242" doc:"OS process ID of the exited instance"`
	ExitCode int    `json:"exit_code" example:"0" doc:"Process exit code"`
	Acked    bool   `json:"acked" doc:"Whether the process had acknowledged startup"`
}

// Type returns the event type identifier for ProcessExitedEvent.
func (e ProcessExitedEvent) Type() uint32 { return TypeProcessExited }

// ProcessRestartedEvent is published after a worker process has been
// replaced by a fresh instance.
type ProcessRestartedEvent struct {
	Name          string `json:"name" example:"Server-0" doc:"Process name"`
	PID           int    `json:"pid" example:"4243" doc:"PID of the replacement instance"`
	Restarts      int    `json:"restarts" example:"3" doc:"Total restarts for this process"`
	Order         string `json:"order" example:"SHUTDOWN_FIRST" doc:"Restart order used"`
	ReloadedFiles string `json:"reloaded_files,omitempty" doc:"Files that triggered the restart, if any"`
}

// Type returns the event type identifier for ProcessRestartedEvent.
func (e ProcessRestartedEvent) Type() uint32 { return TypeProcessRestarted }

// FleetScaledEvent is published after a completed scale operation.
type FleetScaledEvent struct {
	From int `json:"from" example:"2" doc:"Server worker count before scaling"`
	To   int `json:"to" example:"4" doc:"Server worker count after scaling"`
}

// Type returns the event type identifier for FleetScaledEvent.
func (e FleetScaledEvent) Type() uint32 { return TypeFleetScaled }

// FleetReadyEvent is published once every server worker has acknowledged
// startup and the manager enters steady-state monitoring.
type FleetReadyEvent struct {
	Servers int `json:"servers" example:"4" doc:"Number of acknowledged server workers"`
}

// Type returns the event type identifier for FleetReadyEvent.
func (e FleetReadyEvent) Type() uint32 { return TypeFleetReady }

// FleetShutdownEvent is published when the manager begins shutting the
// fleet down.
type FleetShutdownEvent struct {
	Reason string `json:"reason" example:"signal" doc:"What initiated the shutdown"`
}

// Type returns the event type identifier for FleetShutdownEvent.
func (e FleetShutdownEvent) Type() uint32 { return TypeFleetShutdown }
