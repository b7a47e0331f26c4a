package proxy

// Message shapes for the data-path proxy tags. These differ from the
// daemon's own ChunkIOInput/TruncDataInput (which already describe a
// single node's pre-split chunk group): a proxy sits one level up, at
// the same global-byte-range granularity a client call operates at, and
// does the chunk splitting itself via client.DataForwarder.

type WriteDataInput struct {
	Path   string
	Offset uint64
}

type ReadDataInput struct {
	Path   string
	Offset uint64
	Length uint64
}

type TruncDataInput struct {
	Path        string
	CurrentSize uint64
	NewSize     uint64
}
