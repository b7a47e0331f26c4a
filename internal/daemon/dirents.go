package daemon

import (
	"burstfs/internal/dirent"
	"burstfs/internal/metadata"
)

func packDirents(entries []metadata.Dirent) []byte {
	out := make([]dirent.Entry, len(entries))
	for i, e := range entries {
		out[i] = dirent.Entry{Name: e.Name, IsDir: e.IsDir, Size: e.Size, Ctime: e.Ctime}
	}
	return dirent.Pack(out)
}
