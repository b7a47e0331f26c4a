package malleability

import (
	"bytes"
	"io"
	"testing"
	"time"

	"github.com/hashicorp/raft"
)

func newSingleNodeRaft(t *testing.T, fsm raft.FSM) *raft.Raft {
	t.Helper()

	conf := raft.DefaultConfig()
	conf.LocalID = "node-0"
	conf.LogOutput = io.Discard
	conf.HeartbeatTimeout = 50 * time.Millisecond
	conf.ElectionTimeout = 50 * time.Millisecond
	conf.LeaderLeaseTimeout = 50 * time.Millisecond

	logStore := raft.NewInmemStore()
	stableStore := raft.NewInmemStore()
	snapStore := raft.NewInmemSnapshotStore()
	_, transport := raft.NewInmemTransport("node-0")

	r, err := raft.NewRaft(conf, fsm, logStore, stableStore, snapStore, transport)
	if err != nil {
		t.Fatalf("NewRaft: %v", err)
	}
	t.Cleanup(func() { _ = r.Shutdown().Error() })

	boot := raft.Configuration{
		Servers: []raft.Server{{ID: "node-0", Address: transport.LocalAddr()}},
	}
	if err := r.BootstrapCluster(boot).Error(); err != nil {
		t.Fatalf("BootstrapCluster: %v", err)
	}

	select {
	case <-r.LeaderCh():
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for leadership")
	}
	return r
}

func TestFSMApplyTracksMaintenanceState(t *testing.T) {
	fsm := NewFSM()
	r := newSingleNodeRaft(t, fsm)

	if maintenance, _, _ := fsm.State(); maintenance {
		t.Fatal("expected maintenance off initially")
	}

	data, err := marshalCommand(command{Maintenance: true, OldN: 3, NewN: 4})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(data, time.Second).Error(); err != nil {
		t.Fatal(err)
	}

	maintenance, oldN, newN := fsm.State()
	if !maintenance || oldN != 3 || newN != 4 {
		t.Errorf("State() = (%v, %d, %d), want (true, 3, 4)", maintenance, oldN, newN)
	}

	data, err = marshalCommand(command{Maintenance: false})
	if err != nil {
		t.Fatal(err)
	}
	if err := r.Apply(data, time.Second).Error(); err != nil {
		t.Fatal(err)
	}
	if maintenance, _, _ := fsm.State(); maintenance {
		t.Error("expected maintenance off after clearing")
	}
}

func TestFSMSnapshotRestore(t *testing.T) {
	fsm := NewFSM()
	fsm.maintenance = true
	fsm.oldN, fsm.newN = 2, 5

	snap, err := fsm.Snapshot()
	if err != nil {
		t.Fatal(err)
	}
	data := snap.(*fsmSnapshot).data

	restored := NewFSM()
	if err := restored.Restore(io.NopCloser(bytes.NewReader(data))); err != nil {
		t.Fatal(err)
	}
	maintenance, oldN, newN := restored.State()
	if !maintenance || oldN != 2 || newN != 5 {
		t.Errorf("restored State() = (%v, %d, %d), want (true, 2, 5)", maintenance, oldN, newN)
	}
}
