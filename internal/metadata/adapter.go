package metadata

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"burstfs/internal/fserrors"
	"burstfs/internal/metadata/kv"
)

// RootPath is the one key that always exists and is always a directory
// (spec §3 invariant a).
const RootPath = "/"

// TimestampPolicy controls which of atime/mtime/ctime are tracked. Any of
// the three may be disabled globally, in which case it is always stored
// as 0 (spec §3).
type TimestampPolicy struct {
	DisableAtime bool
	DisableMtime bool
	DisableCtime bool
}

// Now is overridable for tests; defaults to time.Now.
var Now = time.Now

// Adapter serializes/deserializes Record values over an abstract KV
// capability and implements the operations spec §4.5 exposes to daemon
// handlers. KV errors from Create, Stat, Remove, the directory scans and
// the raw import/remove surface as fserrors.IO; UpdateSize, DecrementSize
// and SetAttrs return an error of the store's UpdateIf unwrapped. "Not
// found" is a first-class result, not an error.
type Adapter struct {
	store  kv.Store
	policy TimestampPolicy
}

// NewAdapter wraps store. The root directory is created if absent.
func NewAdapter(store kv.Store, policy TimestampPolicy) (*Adapter, error) {
	a := &Adapter{store: store, policy: policy}
	if err := a.ensureRoot(); err != nil {
		return nil, err
	}
	return a, nil
}

func (a *Adapter) ensureRoot() error {
	_, err := a.Stat(RootPath)
	if err == nil {
		return nil
	}
	if !errors.Is(err, fserrors.NotFound) {
		return err
	}
	now := a.stamp()
	root := Record{Mode: ModeDir | 0o755, LinkCount: 2, Atime: now, Mtime: now, Ctime: now}
	if err := a.store.Put(RootPath, root.Encode()); err != nil {
		return fmt.Errorf("%w: create root: %v", fserrors.IO, err)
	}
	return nil
}

func (a *Adapter) stamp() int64 {
	return Now().Unix()
}

func (a *Adapter) applyTimestampPolicy(r *Record) {
	if a.policy.DisableAtime {
		r.Atime = 0
	}
	if a.policy.DisableMtime {
		r.Mtime = 0
	}
	if a.policy.DisableCtime {
		r.Ctime = 0
	}
}

// Create inserts md under path. Idempotent for directories (re-creating an
// existing directory is a no-op success); for regular files, returns
// fserrors.Exists if the key is already present.
func (a *Adapter) Create(path string, md Record) error {
	a.applyTimestampPolicy(&md)
	_, err := a.store.UpdateIf(path, func(old []byte) ([]byte, bool, any, error) {
		if old != nil {
			existing, decErr := DecodeRecord(old)
			if decErr == nil && existing.IsDir() && md.IsDir() {
				return nil, false, nil, nil // idempotent directory create
			}
			return nil, false, nil, fserrors.Exists
		}
		return md.Encode(), true, nil, nil
	})
	if err != nil {
		if errors.Is(err, fserrors.Exists) {
			return err
		}
		return fmt.Errorf("%w: create %s: %v", fserrors.IO, path, err)
	}
	return nil
}

// Stat returns the metadata record for path, or fserrors.NotFound.
func (a *Adapter) Stat(path string) (Record, error) {
	buf, err := a.store.Get(path)
	if err != nil {
		if errors.Is(err, kv.ErrNotFound) {
			return Record{}, fserrors.NotFound
		}
		return Record{}, fmt.Errorf("%w: stat %s: %v", fserrors.IO, path, err)
	}
	rec, decErr := DecodeRecord(buf)
	if decErr != nil {
		return Record{}, fmt.Errorf("%w: %v", fserrors.IO, decErr)
	}
	return rec, nil
}

// Remove deletes path's metadata and returns the prior (size, mode).
// Fails with fserrors.NotEmpty if path is a non-empty directory.
func (a *Adapter) Remove(path string) (size int64, mode uint32, err error) {
	rec, err := a.Stat(path)
	if err != nil {
		return 0, 0, err
	}
	if rec.IsDir() {
		hasChildren, err := a.hasChildren(path)
		if err != nil {
			return 0, 0, err
		}
		if hasChildren {
			return 0, 0, fserrors.NotEmpty
		}
	}
	if err := a.store.Remove(path); err != nil {
		return 0, 0, fmt.Errorf("%w: remove %s: %v", fserrors.IO, path, err)
	}
	return rec.Size, rec.Mode, nil
}

func (a *Adapter) hasChildren(path string) (bool, error) {
	it, err := a.store.PrefixScan(childPrefix(path))
	if err != nil {
		return false, fmt.Errorf("%w: %v", fserrors.IO, err)
	}
	defer it.Close()
	return it.Next(), nil
}

// UpdateSizeResult is the final write-start offset returned by UpdateSize.
type UpdateSizeResult struct {
	Offset int64
}

// UpdateSize implements update_metadentry_size (spec §4.5, §4.8 "append
// handling", §9 Open Question (a)):
//
//   - append=true: atomically add delta to the current size and return the
//     pre-update size as the caller's write-start offset.
//   - append=false: set size to max(current, offset+delta) and return
//     offset. The max (never raw assignment) is used consistently, per
//     the Open Question (a) decision, so an out-of-order small write
//     following a large one cannot shrink the file.
func (a *Adapter) UpdateSize(path string, delta int64, offset int64, append bool) (UpdateSizeResult, error) {
	now := a.stamp()
	result, err := a.store.UpdateIf(path, func(old []byte) ([]byte, bool, any, error) {
		if old == nil {
			return nil, false, nil, fserrors.NotFound
		}
		rec, decErr := DecodeRecord(old)
		if decErr != nil {
			return nil, false, nil, fmt.Errorf("%w: %v", fserrors.IO, decErr)
		}

		var startOffset int64
		if append {
			startOffset = rec.Size
			rec.Size += delta
		} else {
			startOffset = offset
			if want := offset + delta; want > rec.Size {
				rec.Size = want
			}
		}
		if !a.policy.DisableMtime {
			rec.Mtime = now
		}
		if !a.policy.DisableCtime {
			rec.Ctime = now
		}
		return rec.Encode(), true, UpdateSizeResult{Offset: startOffset}, nil
	})
	if err != nil {
		return UpdateSizeResult{}, err
	}
	return result.(UpdateSizeResult), nil
}

// DecrementSize implements truncate's metadata step: sets size to length
// if length is smaller than the current size, otherwise it is a no-op.
func (a *Adapter) DecrementSize(path string, length int64) error {
	now := a.stamp()
	_, err := a.store.UpdateIf(path, func(old []byte) ([]byte, bool, any, error) {
		if old == nil {
			return nil, false, nil, fserrors.NotFound
		}
		rec, decErr := DecodeRecord(old)
		if decErr != nil {
			return nil, false, nil, fmt.Errorf("%w: %v", fserrors.IO, decErr)
		}
		if length >= rec.Size {
			return nil, false, nil, nil
		}
		rec.Size = length
		if !a.policy.DisableMtime {
			rec.Mtime = now
		}
		if !a.policy.DisableCtime {
			rec.Ctime = now
		}
		return rec.Encode(), true, nil, nil
	})
	return err
}

// SetAttrs updates mode/uid/gid in place when the respective pointer is
// non-nil, leaving every other field (including size) untouched. Backs
// rpc_srv_update_metadentry, whose exact attribute set spec §6 leaves
// unspecified beyond "metadata record fields other than size".
func (a *Adapter) SetAttrs(path string, mode, uid, gid *uint32) error {
	now := a.stamp()
	_, err := a.store.UpdateIf(path, func(old []byte) ([]byte, bool, any, error) {
		if old == nil {
			return nil, false, nil, fserrors.NotFound
		}
		rec, decErr := DecodeRecord(old)
		if decErr != nil {
			return nil, false, nil, fmt.Errorf("%w: %v", fserrors.IO, decErr)
		}
		if mode != nil {
			rec.Mode = (rec.Mode &^ 0o7777) | (*mode & 0o7777) | (rec.Mode & ModeTypeMask)
		}
		if uid != nil {
			rec.UID = *uid
		}
		if gid != nil {
			rec.GID = *gid
		}
		if !a.policy.DisableCtime {
			rec.Ctime = now
		}
		return rec.Encode(), true, nil, nil
	})
	return err
}

// Dirent is one entry returned by IterateDirectory.
type Dirent struct {
	Name  string
	IsDir bool
	Size  int64
	Ctime int64
}

// IterateDirectory prefix-scans path's children, filtering to immediate
// children only: entries whose remainder after the "<path>/" prefix
// contains a "/" belong to a grandchild and are skipped, since directory
// entries are synthesized KV rows, not a separate inode (spec §3d).
func (a *Adapter) IterateDirectory(path string) ([]Dirent, error) {
	prefix := childPrefix(path)
	it, err := a.store.PrefixScan(prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", fserrors.IO, err)
	}
	defer it.Close()

	var out []Dirent
	for it.Next() {
		rest := strings.TrimPrefix(it.Key(), prefix)
		if rest == "" || strings.Contains(rest, "/") {
			continue
		}
		rec, decErr := DecodeRecord(it.Value())
		if decErr != nil {
			return nil, fmt.Errorf("%w: %v", fserrors.IO, decErr)
		}
		out = append(out, Dirent{Name: rest, IsDir: rec.IsDir(), Size: rec.Size, Ctime: rec.Ctime})
	}
	return out, nil
}

// RawEntry is one (key, value) pair as stored in the underlying KV, used
// by the malleability controller to redistribute shards without going
// through Record-level decode/re-encode.
type RawEntry struct {
	Key   string
	Value []byte
}

// IterateAllRaw walks every key in the local shard in lexicographic
// order, skipping the root key (spec §4.12 step 2: "skip the root key").
func (a *Adapter) IterateAllRaw(fn func(RawEntry) error) error {
	it, err := a.store.PrefixScan("")
	if err != nil {
		return fmt.Errorf("%w: %v", fserrors.IO, err)
	}
	defer it.Close()
	for it.Next() {
		if it.Key() == RootPath {
			continue
		}
		if err := fn(RawEntry{Key: it.Key(), Value: it.Value()}); err != nil {
			return err
		}
	}
	return nil
}

// ImportRaw writes a (key, value) pair verbatim, overwriting any existing
// entry. Used to land a key migrated in from another shard.
func (a *Adapter) ImportRaw(key string, value []byte) error {
	if err := a.store.Put(key, value); err != nil {
		return fmt.Errorf("%w: import %s: %v", fserrors.IO, key, err)
	}
	return nil
}

// RemoveRaw deletes key unconditionally, used after a successful
// migration — unlike Remove, it does not check for children or return
// the prior record.
func (a *Adapter) RemoveRaw(key string) error {
	if err := a.store.Remove(key); err != nil {
		return fmt.Errorf("%w: remove %s: %v", fserrors.IO, key, err)
	}
	return nil
}

// childPrefix returns the KV prefix for path's immediate children.
func childPrefix(path string) string {
	if path == RootPath {
		return "/"
	}
	return path + "/"
}
