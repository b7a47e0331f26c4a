// Package proxy implements the per-node proxy process (spec §4.13): a
// local daemon-shaped RPC surface that client processes on the same node
// talk to over a loopback/unix-socket connection instead of dialing every
// daemon directly. Internally a Proxy owns its own Distributor and
// *client.MetadataForwarder/*client.DataForwarder over the same hosts
// file the daemons share, and re-exposes their operations under the
// proxy_rpc_srv_* tag namespace (daemon.ProxyPrefix). The metadata tags
// use the same request/response shapes as the daemon surface; the data
// tags (write_data, read_data, trunc_data) take the byte-range inputs
// declared in messages.go instead of the daemon's per-node chunk-group
// inputs.
package proxy

import (
	"context"
	"log/slog"

	"burstfs/internal/client"
	"burstfs/internal/daemon"
	"burstfs/internal/dirent"
	"burstfs/internal/distributor"
	"burstfs/internal/logging"
	"burstfs/internal/rpc"
)

// Config configures a Proxy.
type Config struct {
	Metadata *client.MetadataForwarder
	Data     *client.DataForwarder
	Dist     distributor.Distributor
	Pool     *rpc.Pool
	Logger   *slog.Logger
}

// Proxy re-exposes the client-side forwarders as an RPC service under
// daemon.ProxyPrefix-tagged handlers.
type Proxy struct {
	meta   *client.MetadataForwarder
	data   *client.DataForwarder
	dist   distributor.Distributor
	pool   *rpc.Pool
	logger *slog.Logger
}

// New creates a Proxy. Call RegisterHandlers to bind it onto an rpc.Server.
func New(cfg Config) *Proxy {
	return &Proxy{
		meta:   cfg.Metadata,
		data:   cfg.Data,
		dist:   cfg.Dist,
		pool:   cfg.Pool,
		logger: logging.Default(cfg.Logger).With("component", logging.ComponentProxy),
	}
}

func tag(base string) string { return daemon.ProxyPrefix + base }

// RegisterHandlers binds every proxy_rpc_srv_* tag onto srv.
func (p *Proxy) RegisterHandlers(srv *rpc.Server) {
	srv.Handle(tag(daemon.TagMkNode), p.handleMkNode)
	srv.Handle(tag(daemon.TagStat), p.handleStat)
	srv.Handle(tag(daemon.TagRmMetadata), p.handleRemove)
	srv.Handle(tag(daemon.TagDecrSize), p.handleDecrSize)
	srv.Handle(tag(daemon.TagGetMetadentrySize), p.handleGetSize)
	srv.Handle(tag(daemon.TagUpdateMetadentrySize), p.handleUpdateSize)
	srv.Handle(tag(daemon.TagGetDirentsExtended), p.handleReadDir)
	srv.Handle(tag(daemon.TagWriteData), p.handleWriteData)
	srv.Handle(tag(daemon.TagReadData), p.handleReadData)
	srv.Handle(tag(daemon.TagTruncData), p.handleTruncData)
	srv.Handle(tag(daemon.TagChunkStat), p.handleChunkStat)
}

// handleChunkStat fans chunk_stat out to every node holding a metadata
// shard and sums capacity across the cluster, since a client asking a
// proxy for free space wants the cluster total, not one node's.
func (p *Proxy) handleChunkStat(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var out daemon.ChunkStatOutput
	for _, nodeID := range p.dist.LocateDirectoryMetadata() {
		c, err := p.pool.Client(nodeID, 0, 0)
		if err != nil {
			return rpc.ErrorReply(err), nil
		}
		var nodeOut daemon.ChunkStatOutput
		if err := c.Call(ctx, daemon.TagChunkStat, struct{}{}, &nodeOut); err != nil {
			return rpc.ErrorReply(err), nil
		}
		out.ChunkSize = nodeOut.ChunkSize
		out.TotalCapUnit += nodeOut.TotalCapUnit
		out.FreeCapUnit += nodeOut.FreeCapUnit
	}
	return rpc.EncodeReply(out)
}

func (p *Proxy) handleMkNode(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in daemon.MkNodeInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	if err := p.meta.Create(ctx, in.Path, in.Mode, in.Dir); err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(struct{}{})
}

func (p *Proxy) handleStat(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in daemon.StatInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	out, err := p.meta.Stat(ctx, in.Path)
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(out)
}

func (p *Proxy) handleRemove(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in daemon.RmMetadataInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	if err := p.meta.Remove(ctx, in.Path); err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(struct{}{})
}

func (p *Proxy) handleDecrSize(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in daemon.DecrSizeInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	if err := p.meta.DecrementSize(ctx, in.Path, in.Length); err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(struct{}{})
}

func (p *Proxy) handleGetSize(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in daemon.GetMetadentrySizeInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	size, err := p.meta.GetSize(ctx, in.Path)
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(daemon.GetMetadentrySizeOutput{Size: size})
}

func (p *Proxy) handleUpdateSize(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in daemon.UpdateMetadentrySizeInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	offset, err := p.meta.UpdateSize(ctx, in.Path, in.Delta, in.Offset, in.Append)
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(daemon.UpdateMetadentrySizeOutput{Offset: offset})
}

func (p *Proxy) handleReadDir(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in daemon.GetDirentsInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	entries, err := p.meta.ReadDir(ctx, in.Path)
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	reply, err := rpc.EncodeReply(daemon.GetDirentsOutput{Count: len(entries)})
	if err != nil {
		return nil, err
	}
	reply.Bulk = dirent.Pack(entries)
	return reply, nil
}

func (p *Proxy) handleWriteData(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in WriteDataInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	n, err := p.data.Write(ctx, in.Path, req.Bulk, in.Offset)
	if err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(daemon.ChunkIOOutput{IOSize: n})
}

func (p *Proxy) handleReadData(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in ReadDataInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	buf := make([]byte, in.Length)
	if err := p.data.Read(ctx, in.Path, buf, in.Offset, nil); err != nil {
		return rpc.ErrorReply(err), nil
	}
	reply, err := rpc.EncodeReply(daemon.ChunkIOOutput{IOSize: uint64(len(buf))})
	if err != nil {
		return nil, err
	}
	reply.Bulk = buf
	return reply, nil
}

func (p *Proxy) handleTruncData(ctx context.Context, req *rpc.Envelope) (*rpc.Reply, error) {
	var in TruncDataInput
	if err := rpc.DecodePayload(req.Payload, &in); err != nil {
		return nil, err
	}
	if err := p.data.Truncate(ctx, in.Path, in.CurrentSize, in.NewSize); err != nil {
		return rpc.ErrorReply(err), nil
	}
	return rpc.EncodeReply(struct{}{})
}
