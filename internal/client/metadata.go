// Package client implements the client-side forwarders (spec §4.8, §4.9),
// the open-file table, and the dentry cache (spec §4.11): everything that
// turns a filesystem call into one or more RPCs against the daemons a
// Distributor names as owners.
package client

import (
	"context"
	"fmt"
	"sort"
	"time"

	"burstfs/internal/daemon"
	"burstfs/internal/dirent"
	"burstfs/internal/distributor"
	"burstfs/internal/fserrors"
	"burstfs/internal/rpc"

	"golang.org/x/sync/errgroup"
)

// MetadataForwarder issues the single-owner and multi-owner metadata RPCs
// of spec §4.8.
type MetadataForwarder struct {
	dist    distributor.Distributor
	pool    *rpc.Pool
	timeout time.Duration
	tries   int
}

// NewMetadataForwarder creates a forwarder over dist and pool. timeout/tries
// of zero use the rpc package's spec-default RPC_TIMEOUT/RPC_TRIES.
func NewMetadataForwarder(dist distributor.Distributor, pool *rpc.Pool, timeout time.Duration, tries int) *MetadataForwarder {
	return &MetadataForwarder{dist: dist, pool: pool, timeout: timeout, tries: tries}
}

func (f *MetadataForwarder) ownerClient(path string) (*rpc.Client, error) {
	owner := f.dist.LocateFileMetadata(path)
	return f.pool.Client(owner, f.timeout, f.tries)
}

// Create issues mk_node to path's owner.
func (f *MetadataForwarder) Create(ctx context.Context, path string, mode uint32, dir bool) error {
	c, err := f.ownerClient(path)
	if err != nil {
		return err
	}
	return c.Call(ctx, daemon.TagMkNode, daemon.MkNodeInput{Path: path, Mode: mode, Dir: dir}, nil)
}

// Stat issues rpc_srv_stat to path's owner.
func (f *MetadataForwarder) Stat(ctx context.Context, path string) (daemon.StatOutput, error) {
	c, err := f.ownerClient(path)
	if err != nil {
		return daemon.StatOutput{}, err
	}
	var out daemon.StatOutput
	if err := c.Call(ctx, daemon.TagStat, daemon.StatInput{Path: path}, &out); err != nil {
		return daemon.StatOutput{}, err
	}
	return out, nil
}

// Remove removes path's metadata from its owner, then — for a regular
// file with nonzero size — fans out a data-removal RPC to every node in
// the cluster (spec §4.8). A non-regular or zero-size file skips the
// fan-out entirely.
func (f *MetadataForwarder) Remove(ctx context.Context, path string) error {
	c, err := f.ownerClient(path)
	if err != nil {
		return err
	}
	var out daemon.RmMetadataOutput
	if err := c.Call(ctx, daemon.TagRmMetadata, daemon.RmMetadataInput{Path: path}, &out); err != nil {
		return err
	}
	if out.Mode&0xF000 != 0x8000 || out.Size == 0 {
		return nil
	}

	var tasks []func() error
	for _, nodeID := range f.dist.LocateDirectoryMetadata() {
		nodeID := nodeID
		tasks = append(tasks, func() error {
			nc, err := f.pool.Client(nodeID, f.timeout, f.tries)
			if err != nil {
				return err
			}
			return nc.Call(ctx, daemon.TagRmData, daemon.RmDataInput{Path: path}, nil)
		})
	}
	return runAll(tasks)
}

// DecrementSize issues decr_size to path's owner (used by truncate, ahead
// of the data fan-out, so readers never observe bytes beyond the new
// size).
func (f *MetadataForwarder) DecrementSize(ctx context.Context, path string, length int64) error {
	c, err := f.ownerClient(path)
	if err != nil {
		return err
	}
	return c.Call(ctx, daemon.TagDecrSize, daemon.DecrSizeInput{Path: path, Length: length}, nil)
}

// GetSize issues get_metadentry_size to path's owner.
func (f *MetadataForwarder) GetSize(ctx context.Context, path string) (int64, error) {
	c, err := f.ownerClient(path)
	if err != nil {
		return 0, err
	}
	var out daemon.GetMetadentrySizeOutput
	if err := c.Call(ctx, daemon.TagGetMetadentrySize, daemon.GetMetadentrySizeInput{Path: path}, &out); err != nil {
		return 0, err
	}
	return out.Size, nil
}

// UpdateSize issues update_metadentry_size to path's owner and returns the
// write-start offset (spec §4.5, §4.8's "append handling").
func (f *MetadataForwarder) UpdateSize(ctx context.Context, path string, delta, offset int64, append bool) (int64, error) {
	c, err := f.ownerClient(path)
	if err != nil {
		return 0, err
	}
	var out daemon.UpdateMetadentrySizeOutput
	req := daemon.UpdateMetadentrySizeInput{Path: path, Delta: delta, Offset: offset, Append: append}
	if err := c.Call(ctx, daemon.TagUpdateMetadentrySize, req, &out); err != nil {
		return 0, err
	}
	return out.Offset, nil
}

// SetAttrs issues update_metadentry to path's owner.
func (f *MetadataForwarder) SetAttrs(ctx context.Context, path string, mode, uid, gid *uint32) error {
	c, err := f.ownerClient(path)
	if err != nil {
		return err
	}
	req := daemon.UpdateMetadentryInput{Path: path, Mode: mode, UID: uid, GID: gid}
	return c.Call(ctx, daemon.TagUpdateMetadentry, req, nil)
}

// ReadDir fans out get_dirents_extended to every metadata shard and
// merges the results in lexicographic order (spec §4.8).
func (f *MetadataForwarder) ReadDir(ctx context.Context, path string) ([]dirent.Entry, error) {
	shards := f.dist.LocateDirectoryMetadata()
	results := make([][]dirent.Entry, len(shards))

	g, gctx := errgroup.WithContext(ctx)
	for i, nodeID := range shards {
		i, nodeID := i, nodeID
		g.Go(func() error {
			nc, err := f.pool.Client(nodeID, f.timeout, f.tries)
			if err != nil {
				return err
			}
			var out daemon.GetDirentsOutput
			bulk, err := nc.CallWithBulk(gctx, daemon.TagGetDirentsExtended, daemon.GetDirentsInput{Path: path}, &out, nil)
			if err != nil {
				return err
			}
			entries, err := dirent.Unpack(bulk, out.Count)
			if err != nil {
				return fmt.Errorf("%w: %v", fserrors.IO, err)
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []dirent.Entry
	for _, r := range results {
		merged = append(merged, r...)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].Name < merged[j].Name })
	return merged, nil
}
