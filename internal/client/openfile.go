package client

import (
	"sync"

	"burstfs/internal/fserrors"
)

// reservedFDBase is the first fd this table hands out. Real fds from the
// kernel stay below it, so a caller can tell "ours" from "the OS's" by a
// single comparison at the interception boundary (out of scope here).
const reservedFDBase = 1 << 20

// OpenFile is the client-side record for one open file description (spec
// §4.11): independent of any server-side state, and private to the file
// descriptor that owns it.
type OpenFile struct {
	Path         string
	Flags        int
	CursorOffset int64
	OwnerPID     int
}

// OpenFileTable maps fd to OpenFile, assigning fds from a high reserved
// range so the kernel never collides with one of them. It is safe for
// concurrent use; per spec §4.11 contention is negligible since every
// operation is an O(1) map lookup under a single mutex.
type OpenFileTable struct {
	mu   sync.Mutex
	next int
	open map[int]*OpenFile
}

// NewOpenFileTable creates an empty table.
func NewOpenFileTable() *OpenFileTable {
	return &OpenFileTable{next: reservedFDBase, open: make(map[int]*OpenFile)}
}

// Open allocates a new fd for path and returns it.
func (t *OpenFileTable) Open(path string, flags int, ownerPID int) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	fd := t.next
	t.next++
	t.open[fd] = &OpenFile{Path: path, Flags: flags, OwnerPID: ownerPID}
	return fd
}

// Get returns the OpenFile for fd, or fserrors.Invalid if fd isn't open.
func (t *OpenFileTable) Get(fd int) (*OpenFile, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.open[fd]
	if !ok {
		return nil, fserrors.Invalid
	}
	return of, nil
}

// Seek updates fd's cursor and returns the new offset.
func (t *OpenFileTable) Seek(fd int, offset int64) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.open[fd]
	if !ok {
		return 0, fserrors.Invalid
	}
	of.CursorOffset = offset
	return offset, nil
}

// Advance moves fd's cursor forward by n bytes (after a read or a
// non-append write) and returns the new offset.
func (t *OpenFileTable) Advance(fd int, n int64) (int64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	of, ok := t.open[fd]
	if !ok {
		return 0, fserrors.Invalid
	}
	of.CursorOffset += n
	return of.CursorOffset, nil
}

// Close drops fd. Closing an fd that was never opened is a no-op, matching
// the idempotent semantics of the rest of this module's removal paths.
func (t *OpenFileTable) Close(fd int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.open, fd)
}

// Fork returns a copy-on-write duplicate of the table for a child
// process: entries are copied by value into new OpenFile records (not
// shared with the parent), exactly the kernel's post-fork fd semantics.
// ownerPID is stamped onto every duplicated entry.
func (t *OpenFileTable) Fork(ownerPID int) *OpenFileTable {
	t.mu.Lock()
	defer t.mu.Unlock()
	child := &OpenFileTable{next: t.next, open: make(map[int]*OpenFile, len(t.open))}
	for fd, of := range t.open {
		dup := *of
		dup.OwnerPID = ownerPID
		child.open[fd] = &dup
	}
	return child
}

// Exec drops every open fd, matching the kernel's close-on-exec-by-default
// behavior this table assumes for its reserved range.
func (t *OpenFileTable) Exec() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.open = make(map[int]*OpenFile)
}

// Len reports the number of currently open fds, for tests and diagnostics.
func (t *OpenFileTable) Len() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.open)
}
