package metrics

import (
	"log/slog"

	"github.com/procfleet/procfleet/internal/events"
	"github.com/procfleet/procfleet/internal/supervisor"
)

// Recorder subscribes to fleet events and mirrors them into Prometheus
// metrics. It is passive: nothing else in the supervision path knows
// metrics exist.
type Recorder struct {
	bus         *events.Bus
	logger      *slog.Logger
	unsubscribe []func()
}

// NewRecorder creates a recorder attached to the given event bus.
func NewRecorder(bus *events.Bus, logger *slog.Logger) *Recorder {
	return &Recorder{bus: bus, logger: logger}
}

// Start subscribes to fleet events.
func (r *Recorder) Start() {
	r.unsubscribe = append(r.unsubscribe,
		r.bus.Subscribe(func(e events.ProcessStateChangedEvent) {
			if state, ok := supervisor.ParseProcessState(e.NewState); ok {
				SetProcessState(e.Name, float64(state))
			}
		}),
		r.bus.Subscribe(func(e events.ProcessExitedEvent) {
			IncProcessExits(e.Name, e.Acked)
		}),
		r.bus.Subscribe(func(e events.ProcessRestartedEvent) {
			IncProcessRestarts(e.Name)
		}),
		r.bus.Subscribe(func(e events.FleetScaledEvent) {
			SetServerWorkers(e.To)
		}),
		r.bus.Subscribe(func(e events.FleetReadyEvent) {
			SetServerWorkers(e.Servers)
			SetFleetReady(true)
		}),
		r.bus.Subscribe(func(e events.FleetShutdownEvent) {
			SetFleetReady(false)
		}),
	)
	r.logger.Debug("Metrics recorder started")
}

// Stop unsubscribes from all fleet events.
func (r *Recorder) Stop() {
	for _, unsub := range r.unsubscribe {
		unsub()
	}
	r.unsubscribe = nil
	r.logger.Debug("Metrics recorder stopped")
}
