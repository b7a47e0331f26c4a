package distributor

import "github.com/cespare/xxhash/v2"

// DefaultHash is the stable, non-cryptographic 64-bit hash used by
// SimpleHash. xxhash is already part of the dependency graph (pulled in
// transitively by the raft/grpc stack); promoted to a direct dependency
// here since the distributor calls it directly on every placement
// decision.
func DefaultHash(data []byte) uint64 {
	return xxhash.Sum64(data)
}
