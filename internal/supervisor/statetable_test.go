package supervisor

import "testing"

func TestStateTableSetGet(t *testing.T) {
	table := NewStateTable()
	table.Set("Server-0", ProcessInfo{PID: 100, State: Started, Server: true})

	info, ok := table.Get("Server-0")
	if !ok {
		t.Fatal("entry missing after Set")
	}
	if info.PID != 100 || info.State != Started || !info.Server {
		t.Errorf("unexpected entry: %+v", info)
	}
}

func TestStateTableSetStateIgnoresMissing(t *testing.T) {
	table := NewStateTable()
	table.SetState("ghost", Acked)
	if _, ok := table.Get("ghost"); ok {
		t.Error("SetState resurrected a missing entry")
	}
}

func TestStateTableSetStateUpdatesExisting(t *testing.T) {
	table := NewStateTable()
	table.Set("w", ProcessInfo{PID: 7, State: Started})
	table.SetState("w", Acked)

	info, _ := table.Get("w")
	if info.State != Acked || info.PID != 7 {
		t.Errorf("unexpected entry after SetState: %+v", info)
	}
}

func TestStateTableDeleteIfPID(t *testing.T) {
	table := NewStateTable()
	table.Set("Server-0", ProcessInfo{PID: 100, State: Acked, Server: true})

	// A stale instance must not delete the replacement's entry.
	table.DeleteIfPID("Server-0", 99)
	if _, ok := table.Get("Server-0"); !ok {
		t.Fatal("DeleteIfPID removed an entry owned by another pid")
	}

	table.DeleteIfPID("Server-0", 100)
	if _, ok := table.Get("Server-0"); ok {
		t.Error("DeleteIfPID left a matching entry behind")
	}
}

func TestStateTableSnapshotIsCopy(t *testing.T) {
	table := NewStateTable()
	table.Set("w", ProcessInfo{PID: 1, State: Started})

	snap := table.Snapshot()
	snap["w"] = ProcessInfo{PID: 2, State: Failed}

	info, _ := table.Get("w")
	if info.PID != 1 || info.State != Started {
		t.Error("mutating a snapshot leaked into the table")
	}
}
