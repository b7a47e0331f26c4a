package client

import (
	"context"
	"sync"
)

// WriteSizeCache coalesces repeated update_metadentry_size append calls
// for the same path into a single flushed delta, so a tight loop of small
// writes doesn't issue one RPC per write (spec §4.11). It must be flushed
// on close, fsync, and before any read of the same path; a threshold of 0
// or 1 disables coalescing (every update flushes immediately).
type WriteSizeCache struct {
	forwarder *MetadataForwarder
	threshold int

	mu      sync.Mutex
	pending map[string]*pendingWrite
}

type pendingWrite struct {
	delta       int64
	count       int
	firstOffset int64
	append      bool
}

// NewWriteSizeCache creates a cache that flushes after threshold
// coalesced updates for the same path.
func NewWriteSizeCache(forwarder *MetadataForwarder, threshold int) *WriteSizeCache {
	return &WriteSizeCache{forwarder: forwarder, threshold: threshold, pending: make(map[string]*pendingWrite)}
}

// Record accumulates one update_metadentry_size call for path and flushes
// it (and returns the resulting write-start offset) once threshold
// updates have coalesced, or immediately when threshold <= 1.
func (c *WriteSizeCache) Record(ctx context.Context, path string, delta, offset int64, appendMode bool) (int64, error) {
	if c.threshold <= 1 {
		return c.forwarder.UpdateSize(ctx, path, delta, offset, appendMode)
	}

	c.mu.Lock()
	pw, ok := c.pending[path]
	if !ok {
		pw = &pendingWrite{firstOffset: offset, append: appendMode}
		c.pending[path] = pw
	}
	pw.delta += delta
	pw.count++
	flush := pw.count >= c.threshold
	if flush {
		delete(c.pending, path)
	}
	c.mu.Unlock()

	if !flush {
		// Return the caller's own pre-coalesce starting offset; the
		// authoritative size only materializes server-side on Flush.
		return offset, nil
	}
	return c.forwarder.UpdateSize(ctx, path, pw.delta, pw.firstOffset, pw.append)
}

// Flush forces any pending coalesced update for path to the metadata
// owner now, required before close, fsync, or a read of path.
func (c *WriteSizeCache) Flush(ctx context.Context, path string) error {
	c.mu.Lock()
	pw, ok := c.pending[path]
	if ok {
		delete(c.pending, path)
	}
	c.mu.Unlock()
	if !ok {
		return nil
	}
	_, err := c.forwarder.UpdateSize(ctx, path, pw.delta, pw.firstOffset, pw.append)
	return err
}
