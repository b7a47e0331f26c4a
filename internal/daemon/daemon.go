// Package daemon implements the per-node handler set (spec §4.10): the
// data and metadata RPC surface a burstfs daemon exposes to clients,
// proxies, and peer daemons. Handlers are pure input→output functions
// with optional bulk side effects, dispatched by RPC tag through
// internal/rpc's generic service rather than one generated method per
// handler (spec §4.7).
package daemon

import (
	"context"
	"log/slog"

	"burstfs/internal/chunkstore"
	"burstfs/internal/fserrors"
	"burstfs/internal/logging"
	"burstfs/internal/metadata"
	"burstfs/internal/rpc"
)

// Daemon owns one node's metadata and chunk storage and registers their
// combined RPC surface onto an *rpc.Server.
type Daemon struct {
	meta        *metadata.Adapter
	chunks      *chunkstore.Store
	io          *ioPool
	logger      *slog.Logger
	maintenance func() bool
}

// Config configures a Daemon.
type Config struct {
	Metadata  *metadata.Adapter
	Chunks    *chunkstore.Store
	IOWorkers int // size of the blocking I/O task pool (spec §5's M_io)
	Logger    *slog.Logger

	// Maintenance, when set, is polled by every client-facing mutating
	// handler; while it returns true this daemon is mid cluster-expansion
	// redistribution (spec §4.12 step 1) and rejects writes with
	// fserrors.Busy rather than risk a client racing the migration of its
	// own data. migrate_metadata and migrate_data, which carry that
	// migration, do not poll it.
	Maintenance func() bool
}

// New constructs a Daemon. Call RegisterHandlers to bind it onto an
// rpc.Server.
func New(cfg Config) *Daemon {
	workers := cfg.IOWorkers
	if workers <= 0 {
		workers = 8
	}
	maintenance := cfg.Maintenance
	if maintenance == nil {
		maintenance = func() bool { return false }
	}
	return &Daemon{
		meta:        cfg.Metadata,
		chunks:      cfg.Chunks,
		io:          newIOPool(workers),
		logger:      logging.Default(cfg.Logger).With("component", logging.ComponentDaemon),
		maintenance: maintenance,
	}
}

// rejectIfBusy returns a Busy reply when this node is mid-redistribution,
// for handlers a client retries once expand_finalize clears the flag.
func (d *Daemon) rejectIfBusy() *rpc.Reply {
	if d.maintenance() {
		return rpc.ErrorReply(fserrors.Busy)
	}
	return nil
}

// RegisterHandlers binds every tag this daemon handles onto srv.
func (d *Daemon) RegisterHandlers(srv *rpc.Server) {
	srv.Handle(TagFSConfig, d.handleFSConfig)
	srv.Handle(TagMkNode, d.handleMkNode)
	srv.Handle(TagStat, d.handleStat)
	srv.Handle(TagRmMetadata, d.handleRmMetadata)
	srv.Handle(TagRmData, d.handleRmData)
	srv.Handle(TagDecrSize, d.handleDecrSize)
	srv.Handle(TagUpdateMetadentry, d.handleUpdateMetadentry)
	srv.Handle(TagGetMetadentrySize, d.handleGetMetadentrySize)
	srv.Handle(TagUpdateMetadentrySize, d.handleUpdateMetadentrySize)
	srv.Handle(TagGetDirentsExtended, d.handleGetDirentsExtended)
	srv.Handle(TagWriteData, d.handleWriteData)
	srv.Handle(TagReadData, d.handleReadData)
	srv.Handle(TagTruncData, d.handleTruncData)
	srv.Handle(TagChunkStat, d.handleChunkStat)
	srv.Handle(TagMigrateMetadata, d.handleMigrateMetadata)
	srv.Handle(TagMigrateData, d.handleMigrateData)
}

func (d *Daemon) handleFSConfig(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	return rpc.EncodeReply(FSConfigOutput{ChunkSize: d.chunks.ChunkSize().Bytes()})
}

func (d *Daemon) handleMkNode(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	if reply := d.rejectIfBusy(); reply != nil {
		return reply, nil
	}
	var in MkNodeInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	mode := in.Mode
	if in.Dir {
		mode = (mode &^ metadata.ModeTypeMask) | metadata.ModeDir
	} else {
		mode = (mode &^ metadata.ModeTypeMask) | metadata.ModeRegular
	}
	if err := d.meta.Create(in.Path, metadata.Record{Mode: mode, LinkCount: 1}); err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(struct{}{})
}

func (d *Daemon) handleStat(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in StatInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	rec, err := d.meta.Stat(in.Path)
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(statOutputFrom(rec))
}

func (d *Daemon) handleRmMetadata(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	if reply := d.rejectIfBusy(); reply != nil {
		return reply, nil
	}
	var in RmMetadataInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	size, mode, err := d.meta.Remove(in.Path)
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(RmMetadataOutput{Size: size, Mode: mode})
}

func (d *Daemon) handleRmData(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	if reply := d.rejectIfBusy(); reply != nil {
		return reply, nil
	}
	var in RmDataInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	err := d.io.run(ctx, func() error { return d.chunks.RemoveFile(in.Path) })
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(struct{}{})
}

func (d *Daemon) handleDecrSize(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	if reply := d.rejectIfBusy(); reply != nil {
		return reply, nil
	}
	var in DecrSizeInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	if err := d.meta.DecrementSize(in.Path, in.Length); err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(struct{}{})
}

func (d *Daemon) handleUpdateMetadentry(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	if reply := d.rejectIfBusy(); reply != nil {
		return reply, nil
	}
	var in UpdateMetadentryInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	if err := d.meta.SetAttrs(in.Path, in.Mode, in.UID, in.GID); err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(struct{}{})
}

func (d *Daemon) handleGetMetadentrySize(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in GetMetadentrySizeInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	rec, err := d.meta.Stat(in.Path)
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(GetMetadentrySizeOutput{Size: rec.Size})
}

func (d *Daemon) handleUpdateMetadentrySize(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	if reply := d.rejectIfBusy(); reply != nil {
		return reply, nil
	}
	var in UpdateMetadentrySizeInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	result, err := d.meta.UpdateSize(in.Path, in.Delta, in.Offset, in.Append)
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(UpdateMetadentrySizeOutput{Offset: result.Offset})
}

func (d *Daemon) handleGetDirentsExtended(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in GetDirentsInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	entries, err := d.meta.IterateDirectory(in.Path)
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	reply, err := rpc.EncodeReply(GetDirentsOutput{Count: len(entries)})
	if err != nil {
		return nil, err
	}
	reply.Bulk = packDirents(entries)
	return reply, nil
}

func (d *Daemon) handleWriteData(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	if reply := d.rejectIfBusy(); reply != nil {
		return reply, nil
	}
	var in ChunkIOInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	var written uint64
	err := d.io.run(ctx, func() error {
		chunkSize := d.chunks.ChunkSize().Bytes()
		pos := 0
		for _, id := range in.ChunkIDs {
			off := uint64(0)
			if id == in.ChunkStart {
				off = in.OffsetInRange
			}
			avail := chunkSize - off
			remaining := uint64(len(req.Bulk)) - uint64(pos)
			n := avail
			if remaining < n {
				n = remaining
			}
			if n == 0 {
				break
			}
			data := req.Bulk[pos : pos+int(n)]
			if err := d.chunks.WriteChunk(in.Path, id, off, data); err != nil {
				return err
			}
			pos += int(n)
			written += n
		}
		return nil
	})
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(ChunkIOOutput{IOSize: written})
}

func (d *Daemon) handleReadData(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in ChunkIOInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	buf := make([]byte, in.TotalBytes)
	err := d.io.run(ctx, func() error {
		chunkSize := d.chunks.ChunkSize().Bytes()
		filled := uint64(0)
		for _, id := range in.ChunkIDs {
			off := uint64(0)
			if id == in.ChunkStart {
				off = in.OffsetInRange
			}
			avail := chunkSize - off
			remaining := in.TotalBytes - filled
			n := avail
			if remaining < n {
				n = remaining
			}
			if n == 0 {
				break
			}
			// A short read (including a wholly-missing chunk) leaves the
			// rest of this window at its zero value — the store never
			// errors on a hole, it reports bytes actually read.
			if _, err := d.chunks.ReadChunk(in.Path, id, off, buf[filled:filled+n]); err != nil {
				return err
			}
			filled += n
		}
		return nil
	})
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	reply, err := rpc.EncodeReply(ChunkIOOutput{IOSize: in.TotalBytes})
	if err != nil {
		return nil, err
	}
	reply.Bulk = buf
	return reply, nil
}

func (d *Daemon) handleTruncData(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	if reply := d.rejectIfBusy(); reply != nil {
		return reply, nil
	}
	var in TruncDataInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	err := d.io.run(ctx, func() error { return d.chunks.TruncateFile(in.Path, in.NewSize) })
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(struct{}{})
}

func (d *Daemon) handleChunkStat(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	stats, err := d.chunks.StatStorage()
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(ChunkStatOutput{
		ChunkSize: stats.ChunkSize, TotalCapUnit: stats.TotalBytes, FreeCapUnit: stats.FreeBytes,
	})
}

func (d *Daemon) handleMigrateMetadata(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in MigrateMetadataInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	if err := d.meta.ImportRaw(in.Key, in.Value); err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(struct{}{})
}

func (d *Daemon) handleMigrateData(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in MigrateDataInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	err := d.io.run(ctx, func() error {
		return d.chunks.WriteChunk(in.Path, in.ChunkID, 0, in.Data)
	})
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(struct{}{})
}
