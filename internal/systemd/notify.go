// Package systemd reports supervisor lifecycle to systemd via sd_notify.
package systemd

import (
	"fmt"
	"log/slog"

	"github.com/coreos/go-systemd/v22/daemon"
	"github.com/procfleet/procfleet/internal/events"
)

// Notifier translates fleet events into sd_notify messages so a
// Type=notify unit tracks the real readiness of the fleet, not just the
// supervisor process. Outside systemd every call is a silent no-op.
type Notifier struct {
	logger      *slog.Logger
	unsubscribe []func()
}

// NewNotifier creates a notifier attached to the given event bus.
func NewNotifier(bus *events.Bus, logger *slog.Logger) *Notifier {
	n := &Notifier{logger: logger}
	n.unsubscribe = append(n.unsubscribe,
		bus.Subscribe(func(e events.FleetReadyEvent) {
			n.send(fmt.Sprintf("READY=1\nSTATUS=%d server workers acknowledged", e.Servers))
		}),
		bus.Subscribe(func(e events.FleetScaledEvent) {
			n.send(fmt.Sprintf("STATUS=%d server workers", e.To))
		}),
		bus.Subscribe(func(e events.FleetShutdownEvent) {
			n.send("STOPPING=1")
		}),
	)
	return n
}

// Close unsubscribes from fleet events.
func (n *Notifier) Close() {
	for _, unsub := range n.unsubscribe {
		unsub()
	}
	n.unsubscribe = nil
}

func (n *Notifier) send(state string) {
	sent, err := daemon.SdNotify(false, state)
	if err != nil {
		n.logger.Warn("sd_notify failed", "error", err)
		return
	}
	if sent {
		n.logger.Debug("sd_notify", "state", state)
	}
}
