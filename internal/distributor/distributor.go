// Package distributor maps paths and data chunks to the node responsible
// for them. Two strategies are provided behind a common interface: a
// stable hash-based distributor and a runtime-reloadable forwarding
// distributor used for testing and single-target debugging setups.
package distributor

import (
	"context"
	"time"
)

// IntervalFunc constructs the ticker a Reloader waits on; tests substitute
// a short interval, production code passes a ~10s ticker per spec §4.2.
type IntervalFunc func() *time.Ticker

// Distributor maps (path, chunk_id) or (path) to a node id in [0, N).
// Implementations must be safe for concurrent use; a membership snapshot
// handed to a Distributor at construction is immutable for the duration
// of one RPC but may be swapped between RPCs (see Reloader).
type Distributor interface {
	// LocateFileMetadata returns the node that owns path's metadata.
	LocateFileMetadata(path string) int

	// LocateData returns the node that owns chunk chunkID of path.
	LocateData(path string, chunkID uint64) int

	// LocateDirectoryMetadata returns every node that holds a metadata
	// shard, for operations that must touch all of them (e.g. readdir,
	// expansion).
	LocateDirectoryMetadata() []int

	// HostsSize returns the current cluster size N.
	HostsSize() int
}

// Hasher is a stable, non-cryptographic 64-bit hash function.
type Hasher func(data []byte) uint64

// SimpleHash implements the "simple hash" strategy of spec §4.2:
// locate_file_metadata(P) = h(P) mod N; locate_data(P, i) = h(P || i) mod N.
type SimpleHash struct {
	hash  Hasher
	sizeF func() int
}

// NewSimpleHash creates a SimpleHash distributor. sizeF is polled on every
// call so that a size change (e.g. after expand_finalize) takes effect
// immediately for new RPCs.
func NewSimpleHash(hash Hasher, sizeF func() int) *SimpleHash {
	return &SimpleHash{hash: hash, sizeF: sizeF}
}

func (d *SimpleHash) LocateFileMetadata(path string) int {
	n := d.sizeF()
	if n == 0 {
		return 0
	}
	return int(d.hash([]byte(path)) % uint64(n))
}

func (d *SimpleHash) LocateData(path string, chunkID uint64) int {
	n := d.sizeF()
	if n == 0 {
		return 0
	}
	key := append([]byte(path), encodeUint64(chunkID)...)
	return int(d.hash(key) % uint64(n))
}

func (d *SimpleHash) LocateDirectoryMetadata() []int {
	n := d.sizeF()
	ids := make([]int, n)
	for i := range ids {
		ids[i] = i
	}
	return ids
}

func (d *SimpleHash) HostsSize() int { return d.sizeF() }

func encodeUint64(v uint64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

// ForwardingMap resolves the per-client forwarding target. Its state is
// refreshed by the caller (e.g. through a Reloader on a ~10s ticker per
// spec §4.2); ForwardingDistributor only reads it.
type ForwardingMap interface {
	// TargetHostID returns the single node id every path and chunk is
	// forwarded to.
	TargetHostID() int

	// HostsSize returns the size of the cluster the forwarding target is
	// drawn from.
	HostsSize() int
}

// ForwardingDistributor implements the "forwarding" strategy of spec §4.2:
// locate_file_metadata(P) = locate_data(P, i) = fwd_host_id, which may
// change at runtime.
type ForwardingDistributor struct {
	m ForwardingMap
}

// NewForwardingDistributor creates a ForwardingDistributor over m. The
// caller is responsible for keeping m's underlying state fresh (e.g. by
// running a reload loop — see NewReloader).
func NewForwardingDistributor(m ForwardingMap) *ForwardingDistributor {
	return &ForwardingDistributor{m: m}
}

func (d *ForwardingDistributor) LocateFileMetadata(string) int { return d.m.TargetHostID() }

func (d *ForwardingDistributor) LocateData(string, uint64) int { return d.m.TargetHostID() }

func (d *ForwardingDistributor) LocateDirectoryMetadata() []int {
	return []int{d.m.TargetHostID()}
}

func (d *ForwardingDistributor) HostsSize() int { return d.m.HostsSize() }

// Reloader periodically refreshes a ForwardingMap's backing state from an
// external source. Call Stop to terminate the background goroutine.
type Reloader struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// ReloadFunc re-reads the forwarding map's source of truth (e.g. a file)
// and applies it. Returning an error only logs; it does not stop reloading.
type ReloadFunc func(ctx context.Context) error

// NewReloader starts a background goroutine that calls fn every interval
// until Stop is called.
func NewReloader(interval IntervalFunc, fn ReloadFunc, onError func(error)) *Reloader {
	ctx, cancel := context.WithCancel(context.Background())
	r := &Reloader{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(r.done)
		ticker := interval()
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if err := fn(ctx); err != nil && onError != nil {
					onError(err)
				}
			}
		}
	}()
	return r
}

// Stop cancels the reload loop and waits for it to exit.
func (r *Reloader) Stop() {
	r.cancel()
	<-r.done
}
