package cluster_test

import (
	"context"
	"io"
	"testing"
	"time"

	"burstfs/internal/cluster"
	"burstfs/internal/malleability"

	"github.com/Jille/raftadmin/proto"
	hraft "github.com/hashicorp/raft"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// testNode bundles a cluster server and raft instance for testing.
type testNode struct {
	srv  *cluster.Server
	raft *hraft.Raft
	fsm  *malleability.FSM
}

func (n *testNode) close() {
	n.srv.Stop()
	_ = n.raft.Shutdown().Error()
}

// newTestNode creates a cluster node listening on a random port, running
// the malleability controller's raft FSM so the test can exercise
// membership changes without any domain-specific store.
func newTestNode(t *testing.T, nodeID string, bootstrap bool) *testNode {
	t.Helper()

	srv, err := cluster.New(cluster.Config{
		ClusterAddr: "127.0.0.1:0",
		NodeID:      nodeID,
	})
	if err != nil {
		t.Fatalf("cluster.New: %v", err)
	}

	transport := srv.Transport()

	fsm := malleability.NewFSM()

	conf := hraft.DefaultConfig()
	conf.LocalID = hraft.ServerID(nodeID)
	conf.LogOutput = io.Discard
	conf.HeartbeatTimeout = 500 * time.Millisecond
	conf.ElectionTimeout = 500 * time.Millisecond
	conf.LeaderLeaseTimeout = 250 * time.Millisecond

	logStore := hraft.NewInmemStore()
	stableStore := hraft.NewInmemStore()
	snapStore := hraft.NewInmemSnapshotStore()

	r, err := hraft.NewRaft(conf, fsm, logStore, stableStore, snapStore, transport)
	if err != nil {
		t.Fatalf("NewRaft: %v", err)
	}

	if bootstrap {
		boot := hraft.Configuration{
			Servers: []hraft.Server{
				{ID: hraft.ServerID(nodeID), Address: transport.LocalAddr()},
			},
		}
		if err := r.BootstrapCluster(boot).Error(); err != nil {
			t.Fatalf("BootstrapCluster: %v", err)
		}
	}

	srv.SetRaft(r)

	if err := srv.Start(); err != nil {
		t.Fatalf("Start: %v", err)
	}

	return &testNode{srv: srv, raft: r, fsm: fsm}
}

func waitLeader(t *testing.T, r *hraft.Raft, timeout time.Duration) {
	t.Helper()
	select {
	case <-r.LeaderCh():
	case <-time.After(timeout):
		t.Fatal("timed out waiting for leadership")
	}
}

// addVoter adds a voter to the cluster via raftadmin gRPC, the same path
// an operator tool would use to grow the raft group during an expansion
// (spec §4.12).
func addVoter(t *testing.T, leaderAddr, voterID, voterAddr string) {
	t.Helper()
	conn, err := grpc.NewClient(leaderAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial leader for AddVoter: %v", err)
	}
	defer conn.Close()

	client := proto.NewRaftAdminClient(conn)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.AddVoter(ctx, &proto.AddVoterRequest{
		Id:      voterID,
		Address: voterAddr,
	})
	if err != nil {
		t.Fatalf("AddVoter: %v", err)
	}

	if _, err := client.Await(ctx, resp); err != nil {
		t.Fatalf("Await AddVoter: %v", err)
	}
}

func TestSingleNodeBecomesLeader(t *testing.T) {
	node := newTestNode(t, "node-1", true)
	defer node.close()

	waitLeader(t, node.raft, 5*time.Second)

	if node.srv.Addr() == "" {
		t.Fatal("expected a bound cluster address")
	}
	addr, id := node.srv.LeaderInfo()
	if addr == "" || id != "node-1" {
		t.Fatalf("LeaderInfo() = (%q, %q), want (non-empty, node-1)", addr, id)
	}
}

func TestThreeNodeClusterReplicatesMaintenanceFlag(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping multi-node cluster test in short mode")
	}

	node1 := newTestNode(t, "node-1", true)
	defer node1.close()
	waitLeader(t, node1.raft, 5*time.Second)

	node2 := newTestNode(t, "node-2", false)
	defer node2.close()

	node3 := newTestNode(t, "node-3", false)
	defer node3.close()

	addVoter(t, node1.srv.Addr(), "node-2", node2.srv.Addr())
	addVoter(t, node1.srv.Addr(), "node-3", node3.srv.Addr())

	time.Sleep(500 * time.Millisecond)

	servers, err := node1.srv.Servers()
	if err != nil {
		t.Fatalf("Servers: %v", err)
	}
	if len(servers) != 3 {
		t.Fatalf("Servers() returned %d entries, want 3", len(servers))
	}

	data, err := malleability.EncodeMaintenanceCommand(true, 3, 6)
	if err != nil {
		t.Fatal(err)
	}
	if err := node1.raft.Apply(data, 5*time.Second).Error(); err != nil {
		t.Fatalf("Apply on leader: %v", err)
	}

	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		m2, _, _ := node2.fsm.State()
		m3, _, _ := node3.fsm.State()
		if m2 && m3 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}
	if m, _, _ := node2.fsm.State(); !m {
		t.Error("maintenance flag not replicated to node-2")
	}
	if m, _, _ := node3.fsm.State(); !m {
		t.Error("maintenance flag not replicated to node-3")
	}
}
