//go:build !linux

package chunkstore

// statfsFunc has no portable implementation outside Linux; callers only
// rely on it for an optional capacity report, never for correctness.
func statfsFunc(dir string) (total, free uint64, err error) {
	return 0, 0, nil
}
