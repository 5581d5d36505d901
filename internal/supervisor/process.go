package supervisor

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/procfleet/procfleet/internal/events"
)

// Target describes what a worker process runs: an argv, extra environment,
// and an optional working directory. All processes of one Worker share the
// same Target.
type Target struct {
	Command []string
	Env     []string
	Dir     string
}

// reloadedFilesEnv carries the changed-files hint to a restarted process.
const reloadedFilesEnv = "PROCFLEET_RELOADED_FILES"

// procInstance is one OS process launched for a WorkerProcess. A restart
// creates a fresh instance; the watcher and streamers of the old one stay
// bound to it and cannot touch the replacement.
type procInstance struct {
	cmd      *exec.Cmd
	pid      int
	done     chan struct{} // closed after Wait returns
	exitErr  error         // set before done closes
	acked    atomic.Bool
	stopping atomic.Bool // termination requested; suppress early-exit report
}

// WorkerProcess owns one OS process slot under a stable name. The pid
// changes on every restart; the name never does.
type WorkerProcess struct {
	name   string
	worker string // owning Worker ident
	server bool
	target Target

	table   *StateTable
	control *Pubsub
	bus     *events.Bus
	logger  *slog.Logger

	gracefulTimeout time.Duration // SIGTERM to SIGKILL escalation
	killTimeout     time.Duration // wait after SIGKILL before giving up
	debounce        time.Duration // minimum interval between restarts

	mu        sync.Mutex
	state     ProcessState
	cur       *procInstance
	restarts  int
	restartAt time.Time
}

func newWorkerProcess(name, worker string, server bool, target Target,
	table *StateTable, control *Pubsub, bus *events.Bus, logger *slog.Logger,
) *WorkerProcess {
	return &WorkerProcess{
		name:            name,
		worker:          worker,
		server:          server,
		target:          target,
		table:           table,
		control:         control,
		bus:             bus,
		logger:          logger,
		gracefulTimeout: 5 * time.Second,
		killTimeout:     5 * time.Second,
		debounce:        time.Second,
		state:           Idle,
	}
}

// Name returns the stable process name.
func (p *WorkerProcess) Name() string { return p.name }

// WorkerIdent returns the ident of the owning Worker.
func (p *WorkerProcess) WorkerIdent() string { return p.worker }

// Server reports whether this process counts toward the server tally.
func (p *WorkerProcess) Server() bool { return p.server }

// State returns the locally cached lifecycle state.
func (p *WorkerProcess) State() ProcessState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.state
}

// PID returns the current OS process ID, or 0 when no instance is running.
func (p *WorkerProcess) PID() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.cur == nil {
		return 0
	}
	return p.cur.pid
}

// Restarts returns how many times this process has been restarted.
func (p *WorkerProcess) Restarts() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.restarts
}

// SetState updates the local state. Without force, regressions below the
// current state are rejected; with force the new state always wins (used
// when adopting from the shared state table, which is authoritative).
// Returns whether the state actually changed.
func (p *WorkerProcess) SetState(state ProcessState, force bool) bool {
	p.mu.Lock()
	old := p.state
	if !force && state < old {
		p.mu.Unlock()
		return false
	}
	if state == old {
		p.mu.Unlock()
		return false
	}
	p.state = state
	pid := 0
	if p.cur != nil {
		pid = p.cur.pid
	}
	p.mu.Unlock()

	p.logger.Debug("Process state changed", "name", p.name, "pid", pid,
		"old_state", old.String(), "new_state", state.String())
	if p.bus != nil {
		p.bus.Publish(events.ProcessStateChangedEvent{
			Name:     p.name,
			PID:      pid,
			OldState: old.String(),
			NewState: state.String(),
		})
	}
	return true
}

// IsAlive reports whether the OS process is currently running.
func (p *WorkerProcess) IsAlive() bool {
	p.mu.Lock()
	inst := p.cur
	p.mu.Unlock()
	if inst == nil {
		return false
	}
	select {
	case <-inst.done:
		return false
	default:
		return true
	}
}

// Start launches the OS process. Launch failures propagate to the caller.
func (p *WorkerProcess) Start() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked(nil)
}

// startLocked launches a fresh instance. Callers hold p.mu.
func (p *WorkerProcess) startLocked(extraEnv []string) error {
	if len(p.target.Command) == 0 {
		return fmt.Errorf("worker process %s: empty command", p.name)
	}

	cmd := exec.Command(p.target.Command[0], p.target.Command[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Dir = p.target.Dir
	if len(p.target.Env) > 0 || len(extraEnv) > 0 {
		cmd.Env = append(append(os.Environ(), p.target.Env...), extraEnv...)
	}

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("worker process %s: stdout pipe: %w", p.name, err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return fmt.Errorf("worker process %s: stderr pipe: %w", p.name, err)
	}

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("worker process %s: start: %w", p.name, err)
	}

	inst := &procInstance{
		cmd:  cmd,
		pid:  cmd.Process.Pid,
		done: make(chan struct{}),
	}
	p.cur = inst

	old := p.state
	p.state = Started
	p.table.Set(p.name, ProcessInfo{PID: inst.pid, State: Started, Server: p.server})
	p.logger.Info("Process started", "name", p.name, "pid", inst.pid)
	if p.bus != nil && old != Started {
		p.bus.Publish(events.ProcessStateChangedEvent{
			Name:     p.name,
			PID:      inst.pid,
			OldState: old.String(),
			NewState: Started.String(),
		})
	}

	go p.streamOutput(inst, stdout, "stdout")
	go p.streamOutput(inst, stderr, "stderr")
	go p.watch(inst)
	return nil
}

// streamOutput scans one output stream of the child. The ack control line
// is adopted into the shared state table; everything else is logged as
// process output.
func (p *WorkerProcess) streamOutput(inst *procInstance, reader io.Reader, source string) {
	scanner := bufio.NewScanner(reader)
	for scanner.Scan() {
		line := scanner.Text()
		if strings.TrimSpace(line) == AckLine {
			inst.acked.Store(true)
			p.table.Set(p.name, ProcessInfo{PID: inst.pid, State: Acked, Server: p.server})
			p.logger.Debug("Process acknowledged startup", "name", p.name, "pid", inst.pid)
			continue
		}
		p.logger.Info(line, "name", p.name, "source", source)
	}
	if err := scanner.Err(); err != nil {
		p.logger.Warn("Error reading output", "name", p.name, "source", source, "error", err)
	}
}

// watch reaps the child. It deletes the process's own state-table entry so
// the manager's reconciliation observes silence as death, and reports an
// early termination when the child died before acknowledging startup.
func (p *WorkerProcess) watch(inst *procInstance) {
	err := inst.cmd.Wait()
	inst.exitErr = err
	exitCode := exitCodeFromError(err)
	p.table.DeleteIfPID(p.name, inst.pid)
	close(inst.done)

	p.logger.Info("Process exited", "name", p.name, "pid", inst.pid, "exit_code", exitCode)
	if p.bus != nil {
		p.bus.Publish(events.ProcessExitedEvent{
			Name:     p.name,
			PID:      inst.pid,
			ExitCode: exitCode,
			Acked:    inst.acked.Load(),
		})
	}

	if !inst.acked.Load() && !inst.stopping.Load() {
		p.logger.Error("Process terminated before startup completed",
			"name", p.name, "pid", inst.pid, "exit_code", exitCode)
		p.control.Send(MsgTerminateEarly)
	}
}

// Terminate sends the graceful termination signal. Idempotent: repeated
// calls and calls on an already-exited process are no-ops.
func (p *WorkerProcess) Terminate() {
	p.mu.Lock()
	inst := p.cur
	state := p.state
	p.mu.Unlock()

	if inst == nil || state >= Terminated {
		return
	}
	if !inst.stopping.CompareAndSwap(false, true) {
		return
	}
	select {
	case <-inst.done:
		return
	default:
	}

	p.logger.Info("Terminating process", "name", p.name, "pid", inst.pid)
	if err := inst.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn("Failed to send SIGTERM", "name", p.name, "pid", inst.pid, "error", err)
		}
	}
}

// Kill sends SIGKILL to the current instance. The escape hatch for a stuck
// startup or shutdown.
func (p *WorkerProcess) Kill() {
	p.mu.Lock()
	inst := p.cur
	p.mu.Unlock()
	if inst == nil {
		return
	}
	inst.stopping.Store(true)
	select {
	case <-inst.done:
		return
	default:
	}
	p.logger.Info("Killing process", "name", p.name, "pid", inst.pid)
	if err := syscall.Kill(inst.pid, syscall.SIGKILL); err != nil && !errors.Is(err, syscall.ESRCH) {
		p.logger.Error("Failed to kill process", "name", p.name, "pid", inst.pid, "error", err)
	}
}

// Join blocks until the OS process exits or timeout elapses (no timeout
// when zero). On success the local state advances to Joined.
func (p *WorkerProcess) Join(timeout time.Duration) bool {
	p.mu.Lock()
	inst := p.cur
	p.mu.Unlock()
	if inst == nil {
		return true
	}

	if timeout > 0 {
		timer := time.NewTimer(timeout)
		defer timer.Stop()
		select {
		case <-inst.done:
		case <-timer.C:
			return false
		}
	} else {
		<-inst.done
	}
	p.SetState(Joined, false)
	return true
}

// Exit releases the instance after join. Anything still running at this
// point is killed before the handle is dropped.
func (p *WorkerProcess) Exit() {
	p.mu.Lock()
	inst := p.cur
	p.cur = nil
	p.mu.Unlock()
	if inst == nil {
		return
	}
	select {
	case <-inst.done:
	default:
		p.logger.Warn("Process still running at cleanup, killing", "name", p.name, "pid", inst.pid)
		_ = syscall.Kill(inst.pid, syscall.SIGKILL)
		<-inst.done
	}
	p.logger.Debug("Process reaped", "name", p.name, "pid", inst.pid)
}

// Restart replaces the current instance with a fresh one under the same
// name. Restarts within the debounce interval of the previous one are
// dropped to avoid restart storms. The reloadedFiles hint, when present,
// is passed to the replacement through its environment.
func (p *WorkerProcess) Restart(order RestartOrder, reloadedFiles string) error {
	p.mu.Lock()
	if time.Since(p.restartAt) < p.debounce {
		p.mu.Unlock()
		p.logger.Debug("Restart debounced", "name", p.name)
		return nil
	}
	p.restartAt = time.Now()
	p.restarts++
	restarts := p.restarts
	old := p.cur
	p.mu.Unlock()

	var extraEnv []string
	if reloadedFiles != "" {
		extraEnv = []string{reloadedFilesEnv + "=" + reloadedFiles}
	}

	p.logger.Info("Restarting process", "name", p.name, "order", order.String(),
		"restarts", restarts, "reloaded_files", reloadedFiles)

	if order == StartupFirst {
		p.mu.Lock()
		err := p.startLocked(extraEnv)
		p.mu.Unlock()
		if err != nil {
			return err
		}
		p.stopInstance(old)
	} else {
		p.stopInstance(old)
		p.mu.Lock()
		err := p.startLocked(extraEnv)
		p.mu.Unlock()
		if err != nil {
			return err
		}
	}

	if p.bus != nil {
		p.bus.Publish(events.ProcessRestartedEvent{
			Name:          p.name,
			PID:           p.PID(),
			Restarts:      restarts,
			Order:         order.String(),
			ReloadedFiles: reloadedFiles,
		})
	}
	return nil
}

// stopInstance terminates one instance and waits for it, escalating from
// SIGTERM to SIGKILL when the graceful timeout elapses.
func (p *WorkerProcess) stopInstance(inst *procInstance) {
	if inst == nil {
		return
	}
	inst.stopping.Store(true)
	select {
	case <-inst.done:
		return
	default:
	}

	if err := inst.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		if !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn("Failed to send SIGTERM", "name", p.name, "pid", inst.pid, "error", err)
		}
	}

	timer := time.NewTimer(p.gracefulTimeout)
	defer timer.Stop()
	select {
	case <-inst.done:
		return
	case <-timer.C:
		p.logger.Warn("Graceful shutdown timeout, forcing kill",
			"name", p.name, "pid", inst.pid, "timeout", p.gracefulTimeout)
	}

	_ = syscall.Kill(inst.pid, syscall.SIGKILL)
	killTimer := time.NewTimer(p.killTimeout)
	defer killTimer.Stop()
	select {
	case <-inst.done:
	case <-killTimer.C:
		p.logger.Error("Process did not exit after kill signal", "name", p.name, "pid", inst.pid)
	}
}

// exitCodeFromError extracts exit code from process error.
// Returns 0 for nil error, the exit code for ExitError, or 1 for other errors.
func exitCodeFromError(err error) int {
	if err == nil {
		return 0
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode()
	}
	return 1
}
