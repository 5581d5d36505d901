// Package metrics provides Prometheus metrics for the process fleet.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	processState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "procfleet",
		Subsystem: "process",
		Name:      "state",
		Help:      "Numeric lifecycle state of each supervised process",
	}, []string{"name"})

	processRestarts = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procfleet",
		Subsystem: "process",
		Name:      "restarts_total",
		Help:      "Total restarts per supervised process",
	}, []string{"name"})

	processExits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "procfleet",
		Subsystem: "process",
		Name:      "exits_total",
		Help:      "Total process exits, labelled by whether startup was acknowledged",
	}, []string{"name", "acked"})

	serverWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "procfleet",
		Subsystem: "fleet",
		Name:      "server_workers",
		Help:      "Current number of server workers",
	})

	fleetReady = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "procfleet",
		Subsystem: "fleet",
		Name:      "ready",
		Help:      "1 once all server workers have acknowledged startup, 0 otherwise",
	})
)

// SetProcessState records a process lifecycle state as its numeric value.
func SetProcessState(name string, state float64) {
	processState.WithLabelValues(name).Set(state)
}

// IncProcessRestarts increments the restart counter for a process.
func IncProcessRestarts(name string) {
	processRestarts.WithLabelValues(name).Inc()
}

// IncProcessExits increments the exit counter for a process.
func IncProcessExits(name string, acked bool) {
	label := "false"
	if acked {
		label = "true"
	}
	processExits.WithLabelValues(name, label).Inc()
}

// SetServerWorkers records the current server worker count.
func SetServerWorkers(n int) {
	serverWorkers.Set(float64(n))
}

// SetFleetReady records whether the startup barrier has been passed.
func SetFleetReady(ready bool) {
	if ready {
		fleetReady.Set(1)
	} else {
		fleetReady.Set(0)
	}
}

// DeleteProcessMetrics removes per-process metrics for a retired process.
func DeleteProcessMetrics(name string) {
	processState.DeleteLabelValues(name)
	processRestarts.DeleteLabelValues(name)
	processExits.DeleteLabelValues(name, "true")
	processExits.DeleteLabelValues(name, "false")
}
