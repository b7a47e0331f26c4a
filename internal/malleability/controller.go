// Package malleability implements cluster expansion (spec §4.12): growing
// the set of daemons a distributor spreads metadata and data across
// without taking the filesystem offline. A raft group replicated across
// every daemon holds the cluster-wide maintenance-mode flag; the node
// that receives expand_start runs the actual redistribution locally,
// walking its own metadata shard and chunk store and migrating whatever
// now belongs to a different owner.
package malleability

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"burstfs/internal/chunkstore"
	"burstfs/internal/daemon"
	"burstfs/internal/distributor"
	"burstfs/internal/fserrors"
	"burstfs/internal/logging"
	"burstfs/internal/metadata"
	"burstfs/internal/rpc"

	"github.com/google/uuid"
	"github.com/hashicorp/raft"
)

// RPC tags for the expansion surface (spec §4.12, §6). Bound directly onto
// an *rpc.Server rather than through daemon.RegisterHandlers, since only
// the node coordinating an expansion step needs them registered and
// daemon.Daemon has no notion of cluster membership.
const (
	TagExpandStart    = daemon.TagExpandStart
	TagExpandStatus   = daemon.TagExpandStatus
	TagExpandFinalize = daemon.TagExpandFinalize
)

// DistributorFactory builds the Distributor that should be used once the
// cluster size is n — the controller asks for both the old and the new
// one during redistribution so it can tell which keys/chunks must move.
type DistributorFactory func(n int) distributor.Distributor

// Controller runs one node's half of a cluster expansion: it tracks the
// replicated maintenance flag via FSM and, when it is the node that
// started the expansion, drives the background redistribution of its own
// local shard.
type Controller struct {
	selfID  int
	raft    *raft.Raft
	fsm     *FSM
	meta    *metadata.Adapter
	chunks  *chunkstore.Store
	pool    *rpc.Pool
	newDist DistributorFactory
	logger  *slog.Logger

	running atomic.Bool

	mu      sync.Mutex
	lastErr error
}

// Config configures a Controller.
type Config struct {
	SelfID      int
	Raft        *raft.Raft
	FSM         *FSM
	Metadata    *metadata.Adapter
	Chunks      *chunkstore.Store
	Pool        *rpc.Pool
	Distributor DistributorFactory
	Logger      *slog.Logger
}

// New creates a Controller. Call RegisterHandlers to bind it onto an
// rpc.Server.
func New(cfg Config) *Controller {
	return &Controller{
		selfID:  cfg.SelfID,
		raft:    cfg.Raft,
		fsm:     cfg.FSM,
		meta:    cfg.Metadata,
		chunks:  cfg.Chunks,
		pool:    cfg.Pool,
		newDist: cfg.Distributor,
		logger:  logging.Default(cfg.Logger).With("component", logging.ComponentMalleability),
	}
}

// RegisterHandlers binds the expansion RPC surface onto srv.
func (c *Controller) RegisterHandlers(srv *rpc.Server) {
	srv.Handle(TagExpandStart, c.handleExpandStart)
	srv.Handle(TagExpandStatus, c.handleExpandStatus)
	srv.Handle(TagExpandFinalize, c.handleExpandFinalize)
}

// InMaintenance reports whether this node currently believes the cluster
// is under expansion — client-facing RPC handlers check this and return
// fserrors.Busy so a client retries once expand_finalize clears it (spec
// §4.12 step 5's "try again" case).
func (c *Controller) InMaintenance() bool {
	maintenance, _, _ := c.fsm.State()
	return maintenance
}

func (c *Controller) applyMaintenance(cmd command) error {
	data, err := marshalCommand(cmd)
	if err != nil {
		return fmt.Errorf("%w: marshal maintenance command: %v", fserrors.Invalid, err)
	}
	future := c.raft.Apply(data, applyTimeout)
	if err := future.Error(); err != nil {
		return fmt.Errorf("%w: raft apply: %v", fserrors.IO, err)
	}
	if resp := future.Response(); resp != nil {
		if err, ok := resp.(error); ok {
			return err
		}
	}
	return nil
}

// handleExpandStart puts the cluster into maintenance mode (replicated via
// raft, so every daemon observes it) and, on the node that received the
// call, starts the background redistribution (spec §4.12 steps 1-3).
func (c *Controller) handleExpandStart(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in ExpandStartInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	if err := c.applyMaintenance(command{Maintenance: true, OldN: in.OldN, NewN: in.NewN}); err != nil {
		return rpc.ErrorReply(err), nil
	}
	c.startRedistribution(in.OldN, in.NewN)
	return rpc.EncodeReply(struct{}{})
}

func (c *Controller) handleExpandStatus(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	return rpc.EncodeReply(ExpandStatusOutput{Running: c.running.Load()})
}

// handleExpandFinalize clears maintenance mode cluster-wide (spec §4.12
// step 5). The caller is expected to have polled expand_status to 0 on
// every node first; finalize does not itself check that, mirroring the
// spec's orchestrator-driven design where the poll loop lives outside the
// daemon.
func (c *Controller) handleExpandFinalize(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	if err := c.applyMaintenance(command{Maintenance: false}); err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(struct{}{})
}

// startRedistribution launches the background walk-and-migrate task if one
// isn't already running. Safe to call multiple times; a second call while
// a redistribution is in flight is a no-op (a daemon only ever receives
// expand_start for a transition it hasn't already started).
func (c *Controller) startRedistribution(oldN, newN int) {
	if !c.running.CompareAndSwap(false, true) {
		return
	}
	batchID := uuid.NewString()
	go func() {
		defer c.running.Store(false)
		c.logger.Info("redistribution started", "batch_id", batchID, "old_n", oldN, "new_n", newN)
		err := c.redistribute(oldN, newN)
		c.mu.Lock()
		c.lastErr = err
		c.mu.Unlock()
		if err != nil {
			c.logger.Error("redistribution failed", "batch_id", batchID, "error", err)
		} else {
			c.logger.Info("redistribution complete", "batch_id", batchID, "old_n", oldN, "new_n", newN)
		}
	}()
}

// LastError returns the error from the most recently finished
// redistribution, or nil if none has run or the last one succeeded.
func (c *Controller) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// redistribute walks this node's local metadata shard and chunk store and
// migrates every entry whose new owner (under newN) is no longer self
// (spec §4.12 steps 2-3).
func (c *Controller) redistribute(oldN, newN int) error {
	newDist := c.newDist(newN)

	if err := c.redistributeMetadata(newDist); err != nil {
		return fmt.Errorf("redistribute metadata: %w", err)
	}
	if err := c.redistributeData(newDist); err != nil {
		return fmt.Errorf("redistribute data: %w", err)
	}
	return nil
}

func (c *Controller) redistributeMetadata(newDist distributor.Distributor) error {
	var toDelete []string
	err := c.meta.IterateAllRaw(func(entry metadata.RawEntry) error {
		owner := newDist.LocateFileMetadata(entry.Key)
		if owner == c.selfID {
			return nil
		}
		if err := c.migrateMetadata(owner, entry.Key, entry.Value); err != nil {
			return fmt.Errorf("migrate metadata key %s to node %d: %w", entry.Key, owner, err)
		}
		toDelete = append(toDelete, entry.Key)
		return nil
	})
	if err != nil {
		return err
	}
	for _, key := range toDelete {
		if err := c.meta.RemoveRaw(key); err != nil {
			return fmt.Errorf("remove migrated key %s: %w", key, err)
		}
	}
	return nil
}

func (c *Controller) migrateMetadata(owner int, key string, value []byte) error {
	client, err := c.pool.Client(owner, 0, 0)
	if err != nil {
		return err
	}
	return client.Call(context.Background(), daemon.TagMigrateMetadata, daemon.MigrateMetadataInput{Key: key, Value: value}, nil)
}

func (c *Controller) redistributeData(newDist distributor.Distributor) error {
	type move struct {
		path string
		id   uint64
	}
	var toRemove []move
	err := c.chunks.IterateAllChunks(func(ref chunkstore.ChunkRef) error {
		owner := newDist.LocateData(ref.Path, ref.ID)
		if owner == c.selfID {
			return nil
		}
		data, err := c.chunks.ReadFullChunk(ref.Path, ref.ID, ref.Size)
		if err != nil {
			return fmt.Errorf("read chunk %s:%d: %w", ref.Path, ref.ID, err)
		}
		if err := c.migrateData(owner, ref.Path, ref.ID, data); err != nil {
			return fmt.Errorf("migrate chunk %s:%d to node %d: %w", ref.Path, ref.ID, owner, err)
		}
		toRemove = append(toRemove, move{ref.Path, ref.ID})
		return nil
	})
	if err != nil {
		return err
	}
	for _, m := range toRemove {
		if err := c.chunks.RemoveChunk(m.path, m.id); err != nil {
			return fmt.Errorf("remove migrated chunk %s:%d: %w", m.path, m.id, err)
		}
	}
	return nil
}

func (c *Controller) migrateData(owner int, path string, id uint64, data []byte) error {
	client, err := c.pool.Client(owner, 0, 0)
	if err != nil {
		return err
	}
	return client.Call(context.Background(), daemon.TagMigrateData, daemon.MigrateDataInput{Path: path, ChunkID: id, Data: data}, nil)
}
