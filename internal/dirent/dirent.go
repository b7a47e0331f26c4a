// Package dirent packs and unpacks the bulk directory-listing format
// shared by rpc_srv_get_dirents_extended and the client metadata
// forwarder's readdir merge (spec §4.8): three fixed-width arrays
// (is_file, size, ctime) followed by a NUL-delimited name block, so a
// reader can compute every pointer without first scanning the names.
package dirent

import (
	"encoding/binary"
	"fmt"
)

// Entry is one directory entry as exchanged over the bulk readdir format.
type Entry struct {
	Name  string
	IsDir bool
	Size  int64
	Ctime int64
}

// Pack serializes entries into the wire format: a bool array, a size
// array, a ctime array, then every name NUL-terminated in order.
func Pack(entries []Entry) []byte {
	n := len(entries)
	buf := make([]byte, n+n*8+n*8)
	o := 0
	for _, e := range entries {
		if !e.IsDir {
			buf[o] = 1
		}
		o++
	}
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[o:], uint64(e.Size))
		o += 8
	}
	for _, e := range entries {
		binary.LittleEndian.PutUint64(buf[o:], uint64(e.Ctime))
		o += 8
	}
	for _, e := range entries {
		buf = append(buf, []byte(e.Name)...)
		buf = append(buf, 0)
	}
	return buf
}

// Unpack reverses Pack, given the entry count that accompanied the bulk
// payload out-of-band (the response's Count field).
func Unpack(buf []byte, count int) ([]Entry, error) {
	fixedLen := count + count*8 + count*8
	if len(buf) < fixedLen {
		return nil, fmt.Errorf("dirent: buffer too short for %d entries: got %d bytes, want at least %d", count, len(buf), fixedLen)
	}

	isFile := buf[:count]
	sizes := buf[count : count+count*8]
	ctimes := buf[count+count*8 : fixedLen]
	names := buf[fixedLen:]

	entries := make([]Entry, count)
	namePos := 0
	for i := 0; i < count; i++ {
		end := namePos
		for end < len(names) && names[end] != 0 {
			end++
		}
		if end >= len(names) {
			return nil, fmt.Errorf("dirent: unterminated name at entry %d", i)
		}
		entries[i] = Entry{
			Name:  string(names[namePos:end]),
			IsDir: isFile[i] == 0,
			Size:  int64(binary.LittleEndian.Uint64(sizes[i*8:])),
			Ctime: int64(binary.LittleEndian.Uint64(ctimes[i*8:])),
		}
		namePos = end + 1
	}
	return entries, nil
}
