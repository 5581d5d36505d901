package supervisor

import "sync"

// ProcessInfo is the state blob one process publishes into the shared
// state table. Server-tagged entries count toward the startup
// acknowledgment barrier and the server tally.
type ProcessInfo struct {
	PID    int
	State  ProcessState
	Server bool
}

// StateTable is the controller-side replica of per-process state, keyed by
// process name. Each worker process owns writes to its own key (delivered
// over its stdout pipe); the manager only reads and force-adopts during
// reconciliation. Writes to different keys never merge.
type StateTable struct {
	mu      sync.RWMutex
	entries map[string]ProcessInfo
}

// NewStateTable creates an empty state table.
func NewStateTable() *StateTable {
	return &StateTable{entries: make(map[string]ProcessInfo)}
}

// Set replaces the entry for name.
func (t *StateTable) Set(name string, info ProcessInfo) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.entries[name] = info
}

// SetState updates just the state of an existing entry. Missing entries
// are ignored: a process that already vanished must not reappear.
func (t *StateTable) SetState(name string, state ProcessState) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info, ok := t.entries[name]; ok {
		info.State = state
		t.entries[name] = info
	}
}

// Get returns the entry for name.
func (t *StateTable) Get(name string) (ProcessInfo, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	info, ok := t.entries[name]
	return info, ok
}

// DeleteIfPID removes the entry for name only while it still belongs to
// pid. A dying old instance cannot clobber the entry of the replacement
// that already took over the name.
func (t *StateTable) DeleteIfPID(name string, pid int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if info, ok := t.entries[name]; ok && info.PID == pid {
		delete(t.entries, name)
	}
}

// Snapshot returns a copy of the table.
func (t *StateTable) Snapshot() map[string]ProcessInfo {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]ProcessInfo, len(t.entries))
	for name, info := range t.entries {
		out[name] = info
	}
	return out
}
