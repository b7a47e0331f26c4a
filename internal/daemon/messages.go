package daemon

import "burstfs/internal/metadata"

// Message shapes for the RPC tags this daemon handles. Field names are
// exported so the msgpack codec can round-trip them without per-type
// encoders; see internal/rpc for the wire-codec choice.

type FSConfigOutput struct {
	ChunkSize  uint64
	MountDir   string
	ClusterLog string
}

type MkNodeInput struct {
	Path string
	Mode uint32
	Dir  bool
}

type StatInput struct{ Path string }

type StatOutput struct {
	Mode      uint32
	Size      int64
	LinkCount uint32
	UID       uint32
	GID       uint32
	Atime     int64
	Mtime     int64
	Ctime     int64
	Blocks    int64
}

func statOutputFrom(r metadata.Record) StatOutput {
	return StatOutput{
		Mode: r.Mode, Size: r.Size, LinkCount: r.LinkCount,
		UID: r.UID, GID: r.GID,
		Atime: r.Atime, Mtime: r.Mtime, Ctime: r.Ctime, Blocks: r.Blocks,
	}
}

type RmMetadataInput struct{ Path string }

type RmMetadataOutput struct {
	Size int64
	Mode uint32
}

type RmDataInput struct{ Path string }

type DecrSizeInput struct {
	Path   string
	Length int64
}

type UpdateMetadentryInput struct {
	Path string
	Mode *uint32
	UID  *uint32
	GID  *uint32
}

type GetMetadentrySizeInput struct{ Path string }

type GetMetadentrySizeOutput struct{ Size int64 }

type UpdateMetadentrySizeInput struct {
	Path   string
	Delta  int64
	Offset int64
	Append bool
}

type UpdateMetadentrySizeOutput struct{ Offset int64 }

type GetDirentsInput struct{ Path string }

type GetDirentsOutput struct{ Count int }

// ChunkIO is the shape shared by write_data and read_data (spec §4.9,
// §4.10): a contiguous run of chunk ids this daemon owns for one request,
// plus the byte offsets needed to compute each chunk's in-chunk window.
type ChunkIOInput struct {
	Path          string
	ChunkIDs      []uint64
	ChunkStart    uint64
	ChunkEnd      uint64
	OffsetInRange uint64 // non-zero only when this group holds ChunkStart
	TotalBytes    uint64
}

type ChunkIOOutput struct{ IOSize uint64 }

type TruncDataInput struct {
	Path    string
	NewSize uint64
}

// MigrateMetadataInput lands one raw KV entry transferred during cluster
// expansion (spec §4.12 step 2).
type MigrateMetadataInput struct {
	Key   string
	Value []byte
}

// MigrateDataInput lands one whole chunk transferred during cluster
// expansion (spec §4.12 step 3).
type MigrateDataInput struct {
	Path    string
	ChunkID uint64
	Data    []byte
}

type ChunkStatOutput struct {
	ChunkSize    uint64
	TotalCapUnit uint64 // total capacity, in bytes
	FreeCapUnit  uint64 // free capacity, in bytes
}
