package malleability

import (
	"fmt"
	"io"
	"sync"

	"github.com/hashicorp/raft"
	"github.com/vmihailenco/msgpack/v5"
)

// command is the single replicated operation this FSM understands: flip
// maintenance mode on or off and, when turning it on, record the size
// transition the expansion is moving between (spec §4.12 step 1 — "every
// daemon enters maintenance mode", a cluster-wide fact that must survive a
// leader change mid-expansion, hence routed through raft rather than held
// as a plain local bool).
type command struct {
	Maintenance bool
	OldN        int
	NewN        int
}

func marshalCommand(c command) ([]byte, error) {
	return msgpack.Marshal(c)
}

// EncodeMaintenanceCommand builds the raft log payload for a maintenance
// transition, for callers that apply directly against a raft.Raft rather
// than through a Controller (operator tooling, tests).
func EncodeMaintenanceCommand(maintenance bool, oldN, newN int) ([]byte, error) {
	return marshalCommand(command{Maintenance: maintenance, OldN: oldN, NewN: newN})
}

func unmarshalCommand(data []byte) (command, error) {
	var c command
	err := msgpack.Unmarshal(data, &c)
	return c, err
}

// FSM replicates the cluster's maintenance-mode flag across every daemon.
// It holds no metadata or chunk state of its own — those stay local to
// each node's Adapter/Store, exactly as spec §4.12 describes redistribution
// as a per-node background task coordinated only by this shared flag.
type FSM struct {
	mu          sync.RWMutex
	maintenance bool
	oldN, newN  int
}

var _ raft.FSM = (*FSM)(nil)

// NewFSM creates an FSM with maintenance mode off.
func NewFSM() *FSM {
	return &FSM{}
}

// Apply deserializes a committed log entry and updates the maintenance
// flag. Returns nil on success or an error the caller sees via
// future.Response().
func (f *FSM) Apply(l *raft.Log) any {
	cmd, err := unmarshalCommand(l.Data)
	if err != nil {
		return fmt.Errorf("unmarshal maintenance command: %w", err)
	}
	f.mu.Lock()
	f.maintenance = cmd.Maintenance
	if cmd.Maintenance {
		f.oldN, f.newN = cmd.OldN, cmd.NewN
	} else {
		f.oldN, f.newN = 0, 0
	}
	f.mu.Unlock()
	return nil
}

// State returns whether maintenance mode is active and, if so, the size
// transition it was started with.
func (f *FSM) State() (maintenance bool, oldN, newN int) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.maintenance, f.oldN, f.newN
}

// Snapshot captures the current flag state for Raft log compaction.
func (f *FSM) Snapshot() (raft.FSMSnapshot, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	data, err := msgpack.Marshal(command{Maintenance: f.maintenance, OldN: f.oldN, NewN: f.newN})
	if err != nil {
		return nil, fmt.Errorf("marshal snapshot: %w", err)
	}
	return &fsmSnapshot{data: data}, nil
}

// Restore replaces the FSM's state with a snapshot. Raft guarantees this
// is never called concurrently with Apply or Snapshot.
func (f *FSM) Restore(rc io.ReadCloser) error {
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return fmt.Errorf("read snapshot: %w", err)
	}
	cmd, err := unmarshalCommand(data)
	if err != nil {
		return fmt.Errorf("unmarshal snapshot: %w", err)
	}
	f.mu.Lock()
	f.maintenance, f.oldN, f.newN = cmd.Maintenance, cmd.OldN, cmd.NewN
	f.mu.Unlock()
	return nil
}

type fsmSnapshot struct{ data []byte }

var _ raft.FSMSnapshot = (*fsmSnapshot)(nil)

func (s *fsmSnapshot) Persist(sink raft.SnapshotSink) error {
	if _, err := sink.Write(s.data); err != nil {
		sink.Cancel()
		return err
	}
	return sink.Close()
}

func (s *fsmSnapshot) Release() {}
