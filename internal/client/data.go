package client

import (
	"context"
	"fmt"
	"sync"
	"time"

	"burstfs/internal/chunkmath"
	"burstfs/internal/daemon"
	"burstfs/internal/distributor"
	"burstfs/internal/fserrors"
	"burstfs/internal/rpc"

	"golang.org/x/sync/errgroup"
)

// DataForwarder implements the chunk fan-out of spec §4.9: splitting a
// byte range into chunk groups per owning node, firing the per-node RPCs
// in parallel, and reassembling the result.
type DataForwarder struct {
	dist      distributor.Distributor
	pool      *rpc.Pool
	chunkSize chunkmath.Size
	numCopies int
	timeout   time.Duration
	tries     int
}

// Config configures a DataForwarder.
type Config struct {
	Distributor distributor.Distributor
	Pool        *rpc.Pool
	ChunkSize   chunkmath.Size
	// NumCopies, when > 1, replicates every written chunk onto NumCopies-1
	// successor nodes ((primary+k) mod N) and allows reads to fail over to
	// them (spec §4.9).
	NumCopies int
	Timeout   time.Duration
	Tries     int
}

// NewDataForwarder creates a DataForwarder from cfg.
func NewDataForwarder(cfg Config) *DataForwarder {
	n := cfg.NumCopies
	if n < 1 {
		n = 1
	}
	return &DataForwarder{
		dist: cfg.Distributor, pool: cfg.Pool, chunkSize: cfg.ChunkSize,
		numCopies: n, timeout: cfg.Timeout, tries: cfg.Tries,
	}
}

// destGroup is one destination node's slice of a byte-range write/read:
// the chunk ids it owns (ascending) and, for bookkeeping, whether its
// first chunk is the global range start (so it carries the nonzero
// in-range offset).
type destGroup struct {
	nodeID        int
	chunkIDs      []uint64
	byteRanges    [][2]uint64 // global [start, end) per chunk id, same order as chunkIDs
	offsetInRange uint64
}

// planGroups splits [offset, offset+length) into per-owner chunk groups,
// in first-seen node order (spec §4.9 step 2).
func planGroups(dist distributor.Distributor, path string, chunkSize chunkmath.Size, offset, length uint64) ([]destGroup, uint64, uint64) {
	chunkStart, chunkEnd := chunkSize.ChunkRange(offset, length)

	order := []int{}
	byNode := map[int]*destGroup{}
	for id := chunkStart; id <= chunkEnd; id++ {
		node := dist.LocateData(path, id)
		g, ok := byNode[node]
		if !ok {
			g = &destGroup{nodeID: node}
			byNode[node] = g
			order = append(order, node)
		}
		chunkByteStart, chunkByteEnd := chunkSize.ChunkByteRange(id)
		rangeStart, rangeEnd := chunkByteStart, chunkByteEnd
		if rangeStart < offset {
			rangeStart = offset
		}
		if rangeEnd > offset+length {
			rangeEnd = offset + length
		}
		if id == chunkStart {
			g.offsetInRange = rangeStart - chunkByteStart
		}
		g.chunkIDs = append(g.chunkIDs, id)
		g.byteRanges = append(g.byteRanges, [2]uint64{rangeStart, rangeEnd})
	}

	groups := make([]destGroup, len(order))
	for i, node := range order {
		groups[i] = *byNode[node]
	}
	return groups, chunkStart, chunkEnd
}

func (f *DataForwarder) replicaNodes(primary int) []int {
	n := f.dist.HostsSize()
	if n == 0 {
		return []int{primary}
	}
	nodes := make([]int, 0, f.numCopies)
	nodes = append(nodes, primary)
	for k := 1; k < f.numCopies && k < n; k++ {
		nodes = append(nodes, (primary+k)%n)
	}
	return nodes
}

// Write fans out buf (the bytes to write at [offset, offset+len(buf))) to
// every owning node, replicating to NumCopies-1 successors when
// configured. It returns the total bytes the primaries report written.
func (f *DataForwarder) Write(ctx context.Context, path string, buf []byte, offset uint64) (uint64, error) {
	groups, chunkStart, chunkEnd := planGroups(f.dist, path, f.chunkSize, offset, uint64(len(buf)))

	var total uint64
	var mu sync.Mutex
	var tasks []func() error
	for _, group := range groups {
		group := group
		dest := group.byteRanges
		bulk := make([]byte, 0, len(dest)*int(f.chunkSize.Bytes()))
		for _, r := range dest {
			bulk = append(bulk, buf[r[0]-offset:r[1]-offset]...)
		}
		req := daemon.ChunkIOInput{
			Path: path, ChunkIDs: group.chunkIDs, ChunkStart: chunkStart, ChunkEnd: chunkEnd,
			OffsetInRange: group.offsetInRange, TotalBytes: uint64(len(bulk)),
		}
		for _, nodeID := range f.replicaNodes(group.nodeID) {
			nodeID, primary := nodeID, group.nodeID
			tasks = append(tasks, func() error {
				c, err := f.pool.Client(nodeID, f.timeout, f.tries)
				if err != nil {
					return err
				}
				var out daemon.ChunkIOOutput
				if _, err := c.CallWithBulk(ctx, daemon.TagWriteData, req, &out, bulk); err != nil {
					return err
				}
				if nodeID == primary {
					mu.Lock()
					total += out.IOSize
					mu.Unlock()
				}
				return nil
			})
		}
	}
	if err := runAll(tasks); err != nil {
		return 0, err
	}
	return total, nil
}

// Read fans out a read of [offset, offset+len(buf)) into buf, trying each
// chunk's primary owner and failing over to its replicas (skipping any
// already in failedReplicas) when the primary errors.
func (f *DataForwarder) Read(ctx context.Context, path string, buf []byte, offset uint64, failedReplicas map[string]bool) error {
	groups, chunkStart, chunkEnd := planGroups(f.dist, path, f.chunkSize, offset, uint64(len(buf)))
	if failedReplicas == nil {
		failedReplicas = map[string]bool{}
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, group := range groups {
		group := group
		g.Go(func() error {
			req := daemon.ChunkIOInput{
				Path: path, ChunkIDs: group.chunkIDs, ChunkStart: chunkStart, ChunkEnd: chunkEnd,
				OffsetInRange: group.offsetInRange,
				TotalBytes:    totalLen(group.byteRanges),
			}
			var lastErr error
			for _, nodeID := range f.replicaNodes(group.nodeID) {
				key := fmt.Sprintf("%s:%d", path, nodeID)
				if failedReplicas[key] {
					continue
				}
				c, err := f.pool.Client(nodeID, f.timeout, f.tries)
				if err != nil {
					lastErr = err
					continue
				}
				var out daemon.ChunkIOOutput
				bulk, err := c.CallWithBulk(gctx, daemon.TagReadData, req, &out, nil)
				if err != nil {
					lastErr = err
					failedReplicas[key] = true
					continue
				}
				pos := 0
				for _, r := range group.byteRanges {
					n := int(r[1] - r[0])
					copy(buf[r[0]-offset:r[1]-offset], bulk[pos:pos+n])
					pos += n
				}
				return nil
			}
			if lastErr == nil {
				lastErr = fserrors.IO
			}
			return lastErr
		})
	}
	return g.Wait()
}

func totalLen(ranges [][2]uint64) uint64 {
	var n uint64
	for _, r := range ranges {
		n += r[1] - r[0]
	}
	return n
}

// Truncate fans out trunc_data to every node that could own a chunk in
// (newSize, currentSize] (spec §4.9's truncate path). Callers must issue
// decrement_size on the metadata owner first.
func (f *DataForwarder) Truncate(ctx context.Context, path string, currentSize, newSize uint64) error {
	if newSize >= currentSize {
		return nil
	}
	startChunk := f.chunkSize.BlockIndex(newSize)
	endChunk := f.chunkSize.BlockIndex(currentSize - 1)

	seen := map[int]bool{}
	var targets []int
	for id := startChunk; id <= endChunk; id++ {
		node := f.dist.LocateData(path, id)
		if !seen[node] {
			seen[node] = true
			targets = append(targets, node)
		}
	}

	var tasks []func() error
	for _, nodeID := range targets {
		nodeID := nodeID
		tasks = append(tasks, func() error {
			c, err := f.pool.Client(nodeID, f.timeout, f.tries)
			if err != nil {
				return err
			}
			return c.Call(ctx, daemon.TagTruncData, daemon.TruncDataInput{Path: path, NewSize: newSize}, nil)
		})
	}
	return runAll(tasks)
}
