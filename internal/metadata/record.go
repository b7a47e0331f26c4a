// Package metadata defines the file metadata record (spec §3) and the
// adapter that serializes it deterministically over an abstract KV
// capability (spec §4.5). The KV store itself — an embedded, persistent
// key-value engine — is an external collaborator; only its contract
// (internal/metadata/kv.Store) is consumed here.
package metadata

import (
	"encoding/binary"
	"fmt"
)

// Mode bits. Only the type bits the system cares about are named; the
// permission bits occupy the low 12 bits exactly as in POSIX st_mode.
const (
	ModeTypeMask = 0xF000
	ModeRegular  = 0x8000
	ModeDir      = 0x4000
	// ModeSymlink is reserved but unused: symlinks are out of scope (spec
	// §9 Open Question (b)).
	ModeSymlink = 0xA000
)

// Record is the serialized value stored under a path key. Field order is
// fixed (see Encode below) so two daemons built from different source
// trees remain wire-compatible.
type Record struct {
	Mode      uint32
	Size      int64
	LinkCount uint32
	UID       uint32
	GID       uint32
	// Atime, Mtime, Ctime are seconds since epoch. Any of the three may be
	// globally disabled (stored as 0) by the metadata adapter's
	// TimestampPolicy.
	Atime int64
	Mtime int64
	Ctime int64
	// Blocks is optional, in 512-byte units; 0 if not tracked.
	Blocks int64
}

// IsDir reports whether the record describes a directory.
func (r Record) IsDir() bool { return r.Mode&ModeTypeMask == ModeDir }

// IsRegular reports whether the record describes a regular file.
func (r Record) IsRegular() bool { return r.Mode&ModeTypeMask == ModeRegular }

const recordEncodedLen = 4 + 8 + 4 + 4 + 4 + 8 + 8 + 8 + 8

// Encode serializes r in the fixed field order: mode, size, link_count,
// uid, gid, atime, mtime, ctime, blocks — all little-endian, fixed-width.
func (r Record) Encode() []byte {
	buf := make([]byte, recordEncodedLen)
	o := 0
	binary.LittleEndian.PutUint32(buf[o:], r.Mode)
	o += 4
	binary.LittleEndian.PutUint64(buf[o:], uint64(r.Size))
	o += 8
	binary.LittleEndian.PutUint32(buf[o:], r.LinkCount)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], r.UID)
	o += 4
	binary.LittleEndian.PutUint32(buf[o:], r.GID)
	o += 4
	binary.LittleEndian.PutUint64(buf[o:], uint64(r.Atime))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:], uint64(r.Mtime))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:], uint64(r.Ctime))
	o += 8
	binary.LittleEndian.PutUint64(buf[o:], uint64(r.Blocks))
	return buf
}

// DecodeRecord deserializes a Record previously produced by Encode.
func DecodeRecord(buf []byte) (Record, error) {
	if len(buf) != recordEncodedLen {
		return Record{}, fmt.Errorf("metadata: record has %d bytes, want %d", len(buf), recordEncodedLen)
	}
	o := 0
	r := Record{}
	r.Mode = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	r.Size = int64(binary.LittleEndian.Uint64(buf[o:]))
	o += 8
	r.LinkCount = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	r.UID = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	r.GID = binary.LittleEndian.Uint32(buf[o:])
	o += 4
	r.Atime = int64(binary.LittleEndian.Uint64(buf[o:]))
	o += 8
	r.Mtime = int64(binary.LittleEndian.Uint64(buf[o:]))
	o += 8
	r.Ctime = int64(binary.LittleEndian.Uint64(buf[o:]))
	o += 8
	r.Blocks = int64(binary.LittleEndian.Uint64(buf[o:]))
	return r, nil
}
