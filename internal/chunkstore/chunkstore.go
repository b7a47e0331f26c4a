// Package chunkstore is the per-daemon on-disk backing store for file data
// (spec §4.6). Each file's data is split into fixed-size chunks, one file
// per chunk, stored under a per-path directory so that unrelated files never
// contend on the same filesystem inode and a file's chunks can be iterated
// without a separate index.
package chunkstore

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"burstfs/internal/chunkmath"
	"burstfs/internal/fserrors"
	"burstfs/internal/logging"
)

// Config configures a Store.
type Config struct {
	// RootDir is the daemon's local data directory. Chunks are stored
	// under RootDir/chunks.
	RootDir string

	ChunkSize chunkmath.Size

	Logger *slog.Logger
}

// Store is the on-disk chunk backing store for one daemon (spec §4.6).
// A path's chunks live under <RootDir>/chunks/<escaped path>/<chunk id>;
// a chunk file's length may legitimately be shorter than ChunkSize (the
// file's last written chunk) and a chunk id may have no file at all (a
// hole, read back as zeroes).
type Store struct {
	rootDir   string
	chunkSize chunkmath.Size
	logger    *slog.Logger
}

// New creates the chunks directory under cfg.RootDir if it does not
// already exist and returns a Store bound to it.
func New(cfg Config) (*Store, error) {
	dir := filepath.Join(cfg.RootDir, "chunks")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: create chunk root %s: %v", fserrors.IO, dir, err)
	}
	return &Store{
		rootDir:   cfg.RootDir,
		chunkSize: cfg.ChunkSize,
		logger:    logging.Default(cfg.Logger).With("component", logging.ComponentChunkStore),
	}, nil
}

// ChunkSize returns the store's fixed chunk size.
func (s *Store) ChunkSize() chunkmath.Size { return s.chunkSize }

// escapePath maps a metadata path to a filesystem-safe directory name.
// Leading "/" is dropped and every remaining "/" is rewritten to ":" so a
// deeply nested path becomes one flat directory name, never a nested
// directory tree that would mirror (and contend with) the metadata
// namespace.
func escapePath(path string) string {
	return strings.ReplaceAll(strings.TrimPrefix(path, "/"), "/", ":")
}

func (s *Store) fileDir(path string) string {
	return filepath.Join(s.rootDir, "chunks", escapePath(path))
}

func (s *Store) chunkFilePath(path string, id uint64) string {
	return filepath.Join(s.fileDir(path), strconv.FormatUint(id, 10))
}

// WriteChunk writes data at byteOffset within chunk id of path. byteOffset
// and byteOffset+len(data) must both fall within [0, ChunkSize). The
// chunk's directory and file are created as needed; an existing chunk
// shorter than byteOffset is implicitly zero-extended by the filesystem
// (WriteAt past EOF leaves a sparse hole).
func (s *Store) WriteChunk(path string, id uint64, byteOffset uint64, data []byte) error {
	if byteOffset+uint64(len(data)) > s.chunkSize.Bytes() {
		return fmt.Errorf("%w: write at %d+%d exceeds chunk size %d", fserrors.Invalid, byteOffset, len(data), s.chunkSize.Bytes())
	}
	dir := s.fileDir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("%w: %v", fserrors.IO, err)
	}
	f, err := os.OpenFile(s.chunkFilePath(path, id), os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("%w: open chunk: %v", fserrors.IO, err)
	}
	defer f.Close()
	if _, err := f.WriteAt(data, int64(byteOffset)); err != nil {
		return fmt.Errorf("%w: write chunk: %v", fserrors.IO, err)
	}
	return nil
}

// ReadChunk reads up to len(buf) bytes at byteOffset within chunk id of
// path into buf, returning the number of bytes actually read. A missing
// chunk file reads as entirely zero (n=0, nil error); a chunk file
// shorter than byteOffset+len(buf) produces a short read (n < len(buf))
// rather than an error — callers must zero-fill the remainder themselves,
// mirroring a sparse-file read.
func (s *Store) ReadChunk(path string, id uint64, byteOffset uint64, buf []byte) (int, error) {
	f, err := os.Open(s.chunkFilePath(path, id))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: open chunk: %v", fserrors.IO, err)
	}
	defer f.Close()

	n, err := f.ReadAt(buf, int64(byteOffset))
	if err != nil && !errors.Is(err, io.EOF) {
		return n, fmt.Errorf("%w: read chunk: %v", fserrors.IO, err)
	}
	return n, nil
}

// TruncateFile shrinks or extends path's on-disk footprint to newSize:
// every chunk entirely at or beyond newSize is removed, and the chunk
// straddling the boundary (if any) is truncated to newSize's remainder
// within it. Extending (newSize larger than any existing chunk) requires
// no action here — missing chunks already read back as zero.
func (s *Store) TruncateFile(path string, newSize uint64) error {
	dir := s.fileDir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", fserrors.IO, err)
	}

	boundary := s.chunkSize.BlockIndex(newSize)
	overrun := s.chunkSize.BlockOverrun(newSize)

	for _, e := range entries {
		id, err := strconv.ParseUint(e.Name(), 10, 64)
		if err != nil {
			continue // not a chunk file; leave it alone
		}
		switch {
		case id < boundary:
			continue
		case id == boundary && overrun > 0:
			if err := os.Truncate(filepath.Join(dir, e.Name()), int64(overrun)); err != nil {
				return fmt.Errorf("%w: truncate boundary chunk: %v", fserrors.IO, err)
			}
		default:
			if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !os.IsNotExist(err) {
				return fmt.Errorf("%w: remove chunk beyond truncation: %v", fserrors.IO, err)
			}
		}
	}
	return nil
}

// RemoveFile deletes every chunk belonging to path. Idempotent: removing
// a path with no chunks on this daemon is a no-op success.
func (s *Store) RemoveFile(path string) error {
	if err := os.RemoveAll(s.fileDir(path)); err != nil {
		return fmt.Errorf("%w: remove file chunks: %v", fserrors.IO, err)
	}
	return nil
}

// ReadFullChunk reads an entire chunk file (its whole on-disk extent,
// typically the size IterateAllChunks reported) in one call, for the
// malleability controller's migrate-then-delete redistribution step.
func (s *Store) ReadFullChunk(path string, id uint64, size int64) ([]byte, error) {
	buf := make([]byte, size)
	n, err := s.ReadChunk(path, id, 0, buf)
	if err != nil {
		return nil, err
	}
	return buf[:n], nil
}

// RemoveChunk deletes one chunk file and, if its parent directory is left
// empty, the directory too (spec §4.12 step 3: "delete the local chunk
// file (and empty parent directories)").
func (s *Store) RemoveChunk(path string, id uint64) error {
	if err := os.Remove(s.chunkFilePath(path, id)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("%w: remove chunk: %v", fserrors.IO, err)
	}
	dir := s.fileDir(path)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", fserrors.IO, err)
	}
	if len(entries) == 0 {
		if err := os.Remove(dir); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("%w: remove empty chunk dir: %v", fserrors.IO, err)
		}
	}
	return nil
}

// StorageStats summarizes local capacity (spec §4.6 stat_storage).
type StorageStats struct {
	ChunkSize  uint64
	TotalBytes uint64
	FreeBytes  uint64
}

// StatStorage reports the chunk size and the filesystem capacity backing
// RootDir, via the platform's statfs-equivalent (statfsFunc, swappable in
// tests).
func (s *Store) StatStorage() (StorageStats, error) {
	total, free, err := statfsFunc(s.rootDir)
	if err != nil {
		return StorageStats{}, fmt.Errorf("%w: %v", fserrors.IO, err)
	}
	return StorageStats{ChunkSize: s.chunkSize.Bytes(), TotalBytes: total, FreeBytes: free}, nil
}

// ChunkRef identifies one on-disk chunk file, yielded by IterateAllChunks.
type ChunkRef struct {
	Path string
	ID   uint64
	Size int64
}

// IterateAllChunks walks every chunk file under the store, invoking fn
// once per chunk with its logical path, chunk id, and on-disk size. Used
// by the malleability controller to redistribute data after cluster
// expansion (spec §4.12). fn's error aborts the walk and is returned.
func (s *Store) IterateAllChunks(fn func(ChunkRef) error) error {
	root := filepath.Join(s.rootDir, "chunks")
	dirEntries, err := os.ReadDir(root)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("%w: %v", fserrors.IO, err)
	}

	for _, dirEnt := range dirEntries {
		if !dirEnt.IsDir() {
			continue
		}
		path := "/" + strings.ReplaceAll(dirEnt.Name(), ":", "/")
		chunkDir := filepath.Join(root, dirEnt.Name())
		chunkEntries, err := os.ReadDir(chunkDir)
		if err != nil {
			return fmt.Errorf("%w: %v", fserrors.IO, err)
		}
		for _, chunkEnt := range chunkEntries {
			id, parseErr := strconv.ParseUint(chunkEnt.Name(), 10, 64)
			if parseErr != nil {
				continue
			}
			info, err := chunkEnt.Info()
			if err != nil {
				return fmt.Errorf("%w: %v", fserrors.IO, err)
			}
			if err := fn(ChunkRef{Path: path, ID: id, Size: info.Size()}); err != nil {
				return err
			}
		}
	}
	return nil
}
