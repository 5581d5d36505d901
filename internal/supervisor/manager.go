package supervisor

import (
	"fmt"
	"log/slog"
	"math/rand"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/procfleet/procfleet/internal/events"
)

const (
	// ServerLabel prefixes the idents of auto-managed server workers.
	ServerLabel = "Server"
	// MainIdent is the state-table key of the controlling process itself.
	MainIdent = "Procfleet-Main"
)

// Config tunes a Manager. The ack barrier timeout is the product
// AckThreshold x PollInterval; operational docs quote the derived value, so
// both knobs are exposed rather than a single duration.
type Config struct {
	// Workers is the server worker count. Must be positive.
	Workers int
	// ServerTarget is what every server worker runs.
	ServerTarget Target

	// AckThreshold is the number of consecutive poll misses tolerated
	// before startup is declared failed. Default 30 (~3s at the default
	// poll interval).
	AckThreshold int
	// PollInterval is the control-channel poll cadence. Default 100ms.
	PollInterval time.Duration
	// GracefulTimeout bounds SIGTERM-to-exit waits before escalating to
	// SIGKILL. Default 5s.
	GracefulTimeout time.Duration
	// KillTimeout bounds the wait after SIGKILL. Default 5s.
	KillTimeout time.Duration
	// RestartDebounce is the minimum interval between restarts of one
	// process. Default 1s.
	RestartDebounce time.Duration

	// HandleSignals makes Run install SIGINT/SIGTERM handlers routing to
	// the shutdown sequence. Off by default so constructing and running a
	// Manager in tests or embedding applications never touches
	// process-global signal state.
	HandleSignals bool
}

func (c *Config) applyDefaults() {
	if c.AckThreshold <= 0 {
		c.AckThreshold = 30
	}
	if c.PollInterval <= 0 {
		c.PollInterval = 100 * time.Millisecond
	}
	if c.GracefulTimeout <= 0 {
		c.GracefulTimeout = 5 * time.Second
	}
	if c.KillTimeout <= 0 {
		c.KillTimeout = 5 * time.Second
	}
	if c.RestartDebounce <= 0 {
		c.RestartDebounce = time.Second
	}
}

// Manager supervises the whole worker fleet from a single controlling
// goroutine. Transient workers (server listeners) are auto-managed and
// scalable; durable workers are user-registered and left alone by scaling.
//
// The control loop is single-threaded: everything that wants to command
// the manager at runtime does so by publishing on the control channel.
// Only the signal handler crosses goroutines, which is why the worker
// tables carry a lock.
type Manager struct {
	cfg     Config
	table   *StateTable
	control *Pubsub
	bus     *events.Bus
	logger  *slog.Logger

	mu        sync.Mutex
	transient map[string]*Worker
	durable   map[string]*Worker
	numServer int
	serverSeq int

	shuttingDown atomic.Bool
	killed       atomic.Bool
}

// New creates a Manager and its initial server workers. No OS processes
// are started until Run. Requesting zero workers is a configuration error.
func New(cfg Config, control *Pubsub, table *StateTable, bus *events.Bus, logger *slog.Logger) (*Manager, error) {
	if cfg.Workers <= 0 {
		return nil, ErrNoWorkers
	}
	cfg.applyDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	m := &Manager{
		cfg:       cfg,
		table:     table,
		control:   control,
		bus:       bus,
		logger:    logger,
		transient: make(map[string]*Worker),
		durable:   make(map[string]*Worker),
		numServer: cfg.Workers,
	}
	table.Set(MainIdent, ProcessInfo{PID: os.Getpid()})

	for i := 0; i < cfg.Workers; i++ {
		m.CreateServer()
	}
	return m, nil
}

// Manage registers a worker under the manager. Transient workers restart
// with any global restart (auto-reload) and are subject to scaling when
// server-labeled; durable workers live until shutdown.
func (m *Manager) Manage(ident string, target Target, transient bool, workers int) *Worker {
	server := strings.HasPrefix(ident, ServerLabel)
	w := newWorker(ident, target, server, workers, m.table, m.control, m.bus, m.logger)
	for _, p := range w.Processes() {
		p.gracefulTimeout = m.cfg.GracefulTimeout
		p.killTimeout = m.cfg.KillTimeout
		p.debounce = m.cfg.RestartDebounce
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if transient {
		m.transient[w.Ident] = w
	} else {
		m.durable[w.Ident] = w
	}
	return w
}

// CreateServer registers one new server worker. The caller starts its
// processes when needed.
func (m *Manager) CreateServer() *Worker {
	m.mu.Lock()
	ident := fmt.Sprintf("%s-%d", ServerLabel, m.serverSeq)
	m.serverSeq++
	m.mu.Unlock()
	return m.Manage(ident, m.cfg.ServerTarget, true, 1)
}

// ShutdownServer terminates one server worker and removes it from the
// transient table. With an empty ident a random server is chosen; finding
// none is logged and recovered. An unknown explicit ident is an error.
func (m *Manager) ShutdownServer(ident string) error {
	var w *Worker
	if ident == "" {
		servers := m.serverWorkers()
		if len(servers) == 0 {
			m.logger.Error("Server shutdown failed because a server was not found")
			return nil
		}
		w = servers[rand.Intn(len(servers))]
	} else {
		m.mu.Lock()
		found, ok := m.transient[ident]
		m.mu.Unlock()
		if !ok {
			return fmt.Errorf("no transient worker %q", ident)
		}
		w = found
	}

	for _, p := range w.Processes() {
		p.Terminate()
	}
	m.mu.Lock()
	delete(m.transient, w.Ident)
	m.mu.Unlock()
	return nil
}

// Run drives the full lifecycle: start every process, monitor until told
// to stop, join, final best-effort terminate, and cleanup. Returns
// ErrServerKilled when the fleet had to be force-killed.
func (m *Manager) Run() error {
	if m.cfg.HandleSignals {
		sigCh := make(chan os.Signal, 2)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		go func() {
			for sig := range sigCh {
				m.shutdownSignal(sig)
			}
		}()
		defer func() {
			signal.Stop(sigCh)
			close(sigCh)
		}()
	}

	if err := m.start(); err != nil {
		return err
	}
	if err := m.monitor(); err != nil {
		return err
	}
	m.join()
	m.terminate()
	m.cleanup()
	return nil
}

// start launches every process across every worker. Launch failures
// propagate.
func (m *Manager) start() error {
	for _, p := range m.Processes() {
		if err := p.Start(); err != nil {
			return err
		}
	}
	return nil
}

// monitor waits for the startup acknowledgment barrier, then processes
// control messages one per iteration, reconciling local process states
// against the shared state table after each.
func (m *Manager) monitor() error {
	if err := m.waitForAck(); err != nil {
		return err
	}
	for {
		if m.control.Poll(m.cfg.PollInterval) {
			msg := m.control.Recv()
			m.logger.Debug("Monitor message", "message", msg)

			cmd, err := ParseCommand(msg)
			if err != nil {
				m.logger.Error("Ignoring invalid control message", "message", msg, "error", err)
				m.syncStates()
				continue
			}
			switch cmd.Kind {
			case CommandStop:
				return m.exitErr()
			case CommandShutdown:
				m.Shutdown()
				return m.exitErr()
			case CommandScale:
				if scaleErr := m.Scale(cmd.Count); scaleErr != nil {
					m.logger.Error("Scale failed", "target", cmd.Count, "error", scaleErr)
				}
				// Skip reconciliation this cycle; freshly started
				// processes have not reported yet.
				continue
			case CommandRestart:
				m.Restart(cmd.Names, cmd.Order, cmd.ReloadedFiles)
			}
		}
		m.syncStates()
	}
}

// waitForAck blocks until every server worker reports ACKED in the state
// table. Progress is measured as consecutive poll misses at a fixed
// cadence rather than a wall-clock timer, so it is robust to clock
// changes. Messages unrelated to acknowledgment are requeued for the
// monitor loop. A worker reporting early termination fails the barrier
// immediately instead of waiting out the threshold.
func (m *Manager) waitForAck() error {
	ackTimeout := time.Duration(m.cfg.AckThreshold) * m.cfg.PollInterval
	misses := 0
	detail := fmt.Sprintf(
		"It seems that one or more of your workers failed to come online "+
			"in the allowed time. Shutting down to avoid a deadlock. The "+
			"current threshold is %s. If startup is legitimately slow, raise "+
			"the ack threshold or poll interval in the fleet configuration.",
		ackTimeout)

	for !m.allWorkersAcked() {
		if m.control.Poll(m.cfg.PollInterval) {
			msg := m.control.Recv()
			if msg != MsgTerminateEarly {
				m.control.Send(msg)
				// The requeued message is immediately pollable again;
				// pace the loop so forwarding cannot spin hot.
				time.Sleep(m.cfg.PollInterval)
				continue
			}
			misses = m.cfg.AckThreshold
			detail = "One of your worker processes terminated before " +
				"startup was completed. Fix any errors raised during worker " +
				"startup; run the worker command by hand to see them if " +
				"none appear in the logs."
		}
		misses++
		if misses > m.cfg.AckThreshold {
			m.logger.Error("Not all workers acknowledged a successful startup. Shutting down.",
				"detail", detail)
			return m.Kill()
		}
	}

	m.mu.Lock()
	servers := m.numServer
	m.mu.Unlock()
	m.logger.Info("All server workers acknowledged startup", "servers", servers)
	if m.bus != nil {
		m.bus.Publish(events.FleetReadyEvent{Servers: servers})
	}
	return nil
}

// allWorkersAcked reports whether every server-tagged state-table entry is
// ACKED and the entry count matches the target server count.
func (m *Manager) allWorkersAcked() bool {
	m.mu.Lock()
	want := m.numServer
	m.mu.Unlock()

	acked, servers := 0, 0
	for _, info := range m.table.Snapshot() {
		if !info.Server {
			continue
		}
		servers++
		if info.State == Acked {
			acked++
		}
	}
	return servers == want && acked == servers
}

// syncStates reconciles every process's local state against the shared
// state table. The table is authoritative across the process boundary:
// a differing reported state is force-adopted, and a vanished entry means
// the process died without telling anyone.
func (m *Manager) syncStates() {
	for _, p := range m.Processes() {
		info, ok := m.table.Get(p.Name())
		if !ok {
			p.SetState(Terminated, true)
			continue
		}
		if info.State != p.State() {
			p.SetState(info.State, true)
		}
	}
}

// Scale resizes the server worker pool to target. Growing starts the new
// workers immediately; shrinking removes random server workers. A target
// equal to the current count is a logged no-op; a non-positive target is
// rejected.
func (m *Manager) Scale(target int) error {
	if target <= 0 {
		return fmt.Errorf("cannot scale to %d workers", target)
	}

	m.mu.Lock()
	current := m.numServer
	m.mu.Unlock()

	change := target - current
	if change == 0 {
		m.logger.Info("No change needed", "workers", target)
		return nil
	}

	m.logger.Info("Scaling server workers", "from", current, "to", target)
	if change > 0 {
		for i := 0; i < change; i++ {
			w := m.CreateServer()
			for _, p := range w.Processes() {
				if err := p.Start(); err != nil {
					return err
				}
			}
		}
	} else {
		for i := 0; i < -change; i++ {
			if err := m.ShutdownServer(""); err != nil {
				return err
			}
		}
	}

	m.mu.Lock()
	m.numServer = target
	m.mu.Unlock()
	if m.bus != nil {
		m.bus.Publish(events.FleetScaledEvent{From: current, To: target})
	}
	return nil
}

// Restart restarts transient processes whose name or owning worker ident
// matches the filter, or all transient processes when the filter is empty.
// Names matching nothing are a silent no-op.
func (m *Manager) Restart(names []string, order RestartOrder, reloadedFiles string) {
	for _, p := range m.TransientProcesses() {
		if len(names) > 0 && !matchesProcess(names, p) {
			continue
		}
		if err := p.Restart(order, reloadedFiles); err != nil {
			m.logger.Error("Restart failed", "name", p.Name(), "error", err)
		}
	}
}

func matchesProcess(names []string, p *WorkerProcess) bool {
	for _, name := range names {
		if name == p.Name() || name == p.WorkerIdent() {
			return true
		}
	}
	return false
}

// Shutdown terminates every still-alive process and marks the manager as
// shutting down, which suppresses the final best-effort terminate in Run.
func (m *Manager) Shutdown() {
	for _, p := range m.Processes() {
		if p.IsAlive() {
			p.Terminate()
		}
	}
	if !m.shuttingDown.Swap(true) && m.bus != nil {
		m.bus.Publish(events.FleetShutdownEvent{Reason: "shutdown"})
	}
}

// Kill force-kills every tracked process and reports the fleet as killed.
// The escape hatch from a stuck startup or stuck shutdown.
func (m *Manager) Kill() error {
	for _, p := range m.Processes() {
		m.logger.Info("Killing process", "name", p.Name(), "pid", p.PID())
		p.Kill()
	}
	m.killed.Store(true)
	return ErrServerKilled
}

// shutdownSignal handles SIGINT/SIGTERM. The first signal starts a
// graceful shutdown and wakes the monitor loop with the stop sentinel; a
// second signal while shutting down means "force now".
func (m *Manager) shutdownSignal(sig os.Signal) {
	if m.shuttingDown.Load() {
		m.logger.Info("Shutdown interrupted. Killing.")
		_ = m.Kill()
		m.control.Send("")
		return
	}
	m.logger.Info("Received signal. Shutting down.", "signal", sig.String())
	m.control.Send("")
	m.Shutdown()
}

// exitErr surfaces a force-kill to Run's caller once the monitor loop
// stops.
func (m *Manager) exitErr() error {
	if m.killed.Load() {
		return ErrServerKilled
	}
	return nil
}

// join waits for every process to reach JOINED. An explicit loop with a
// visited set (rather than recursion) guarantees termination for large
// fleets; processes that outlive the graceful timeout are killed.
func (m *Manager) join() {
	m.logger.Debug("Joining processes")
	visited := make(map[string]bool)
	for {
		progressed := false
		for _, p := range m.Processes() {
			if visited[p.Name()] || p.State() >= Joined {
				continue
			}
			visited[p.Name()] = true
			progressed = true
			m.logger.Debug("Joining process", "name", p.Name(), "pid", p.PID())
			if !p.Join(m.cfg.GracefulTimeout) {
				p.Kill()
				p.Join(m.cfg.KillTimeout)
			}
		}
		if !progressed {
			return
		}
	}
}

// terminate is the final best-effort terminate, skipped when a shutdown
// sequence already ran.
func (m *Manager) terminate() {
	if m.shuttingDown.Load() {
		return
	}
	for _, p := range m.Processes() {
		p.Terminate()
	}
}

// cleanup reaps every process.
func (m *Manager) cleanup() {
	for _, p := range m.Processes() {
		p.Exit()
	}
}

// Workers returns every worker, transient then durable, in ident order.
func (m *Manager) Workers() []*Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*Worker, 0, len(m.transient)+len(m.durable))
	for _, w := range m.transient {
		out = append(out, w)
	}
	for _, w := range m.durable {
		out = append(out, w)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ident < out[j].Ident })
	return out
}

// Processes returns every process across every worker.
func (m *Manager) Processes() []*WorkerProcess {
	var out []*WorkerProcess
	for _, w := range m.Workers() {
		out = append(out, w.Processes()...)
	}
	return out
}

// TransientProcesses returns every process of every transient worker.
func (m *Manager) TransientProcesses() []*WorkerProcess {
	m.mu.Lock()
	workers := make([]*Worker, 0, len(m.transient))
	for _, w := range m.transient {
		workers = append(workers, w)
	}
	m.mu.Unlock()
	sort.Slice(workers, func(i, j int) bool { return workers[i].Ident < workers[j].Ident })

	var out []*WorkerProcess
	for _, w := range workers {
		out = append(out, w.Processes()...)
	}
	return out
}

// serverWorkers returns the transient workers counting toward the server
// pool.
func (m *Manager) serverWorkers() []*Worker {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []*Worker
	for _, w := range m.transient {
		if strings.HasPrefix(w.Ident, ServerLabel) {
			out = append(out, w)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Ident < out[j].Ident })
	return out
}

// NumServer returns the current target server worker count.
func (m *Manager) NumServer() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.numServer
}
