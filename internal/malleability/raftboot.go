package malleability

import (
	"fmt"
	"path/filepath"
	"time"

	raftboltdb "github.com/hashicorp/raft-boltdb/v2"

	"github.com/hashicorp/raft"
)

// BootConfig configures the single-raft-group instance every daemon runs
// to replicate maintenance-mode state (spec §4.12 step 1).
type BootConfig struct {
	// NodeID is this node's raft server id, the hostregistry entry's
	// Hostname (stable across restarts, unlike its numeric position).
	NodeID string

	// DataDir holds the raft log, stable store, and snapshots. burstfsd
	// passes its --data-dir here.
	DataDir string

	// Transport is the raft transport of the daemon's separate cluster
	// port (cluster.Server.Transport, built on
	// github.com/Jille/raft-grpc-transport), not the listener of the
	// daemon's RPC surface.
	Transport raft.Transport

	// Bootstrap, when true, seeds a brand-new single-voter configuration
	// naming only this node — the first daemon started in a fresh
	// cluster. Every other daemon joins via raftadmin's AddVoter instead.
	Bootstrap bool
}

// BootRaft opens (or creates) a durable raft.Raft instance backed by
// raft-boltdb for the log and stable stores, using durable boltdb stores
// rather than the in-memory ones a test harness would use.
func BootRaft(cfg BootConfig, fsm raft.FSM) (*raft.Raft, error) {
	conf := raft.DefaultConfig()
	conf.LocalID = raft.ServerID(cfg.NodeID)

	logStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-log.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open raft log store: %w", err)
	}
	stableStore, err := raftboltdb.NewBoltStore(filepath.Join(cfg.DataDir, "raft-stable.bolt"))
	if err != nil {
		return nil, fmt.Errorf("open raft stable store: %w", err)
	}
	snapStore, err := raft.NewFileSnapshotStore(cfg.DataDir, 2, nil)
	if err != nil {
		return nil, fmt.Errorf("open raft snapshot store: %w", err)
	}

	r, err := raft.NewRaft(conf, fsm, logStore, stableStore, snapStore, cfg.Transport)
	if err != nil {
		return nil, fmt.Errorf("start raft: %w", err)
	}

	if cfg.Bootstrap {
		boot := raft.Configuration{
			Servers: []raft.Server{
				{ID: conf.LocalID, Address: cfg.Transport.LocalAddr()},
			},
		}
		if err := r.BootstrapCluster(boot).Error(); err != nil && err != raft.ErrCantBootstrap {
			return nil, fmt.Errorf("bootstrap raft cluster: %w", err)
		}
	}

	return r, nil
}

// applyTimeout bounds how long a maintenance-mode raft.Apply waits for
// commit before giving up (spec §4.12 gives no explicit bound). It is
// shorter than rpc.DefaultTimeout (180s), so an Apply issued from an
// expand_start/finalize handler gives up before the RPC carrying it does.
const applyTimeout = 30 * time.Second
