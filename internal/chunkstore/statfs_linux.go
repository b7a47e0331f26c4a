//go:build linux

package chunkstore

import "syscall"

// statfsFunc reports (total, free) bytes for the filesystem containing dir.
func statfsFunc(dir string) (total, free uint64, err error) {
	var st syscall.Statfs_t
	if err := syscall.Statfs(dir, &st); err != nil {
		return 0, 0, err
	}
	bsize := uint64(st.Bsize)
	return st.Blocks * bsize, st.Bavail * bsize, nil
}
