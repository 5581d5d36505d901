package supervisor

import (
	"fmt"
	"log/slog"

	"github.com/procfleet/procfleet/internal/events"
)

// Worker is a named logical unit owning one or more WorkerProcess
// instances that all run the same Target. Multi-process workers fan one
// logical job out across several OS processes; each child keeps its own
// pid and state.
type Worker struct {
	Ident     string
	target    Target
	server    bool
	processes []*WorkerProcess
}

func newWorker(ident string, target Target, server bool, count int,
	table *StateTable, control *Pubsub, bus *events.Bus, logger *slog.Logger,
) *Worker {
	if count < 1 {
		count = 1
	}
	w := &Worker{Ident: ident, target: target, server: server}
	for i := 0; i < count; i++ {
		name := ident
		if count > 1 {
			name = fmt.Sprintf("%s-%d", ident, i)
		}
		w.processes = append(w.processes,
			newWorkerProcess(name, ident, server, target, table, control, bus, logger))
	}
	return w
}

// Processes returns the worker's process collection.
func (w *Worker) Processes() []*WorkerProcess {
	return w.processes
}

// Server reports whether this worker counts toward the server pool.
func (w *Worker) Server() bool {
	return w.server
}

// Restart forwards the restart to every child process.
func (w *Worker) Restart(order RestartOrder, reloadedFiles string) error {
	for _, p := range w.processes {
		if err := p.Restart(order, reloadedFiles); err != nil {
			return err
		}
	}
	return nil
}
