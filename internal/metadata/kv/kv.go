// Package kv declares the abstract contract the metadata adapter consumes
// from an embedded key-value store. The store's internals (its own
// persistence, compaction, replication) are an external collaborator —
// out of scope per spec §1 — only this contract is used.
package kv

import "errors"

// ErrNotFound is returned by Get when key does not exist. UpdateIf does
// not return it for an absent key; it passes a nil old value to fn.
var ErrNotFound = errors.New("kv: key not found")

// Store is the abstract KV capability the metadata adapter is built on.
type Store interface {
	Put(key string, value []byte) error
	Get(key string) ([]byte, error)
	Remove(key string) error

	// PrefixScan returns every key with the given prefix, in lexicographic
	// order, along with its value.
	PrefixScan(prefix string) (Iterator, error)

	// UpdateIf atomically reads the current value for key (nil if absent)
	// and applies fn, writing back whatever fn returns as newValue unless
	// fn requests no write. fn's err, if non-nil, aborts the update and is
	// returned as-is; its result is passed back to the caller so
	// operations like update_size can report a derived value (e.g. the
	// pre-update size) without a second round trip.
	UpdateIf(key string, fn UpdateFunc) (result any, err error)
}

// UpdateFunc is applied atomically by Store.UpdateIf. old is nil if the
// key did not previously exist. Returning write=false leaves the stored
// value untouched.
type UpdateFunc func(old []byte) (newValue []byte, write bool, result any, err error)

// Iterator walks a PrefixScan result in lexicographic key order.
type Iterator interface {
	Next() bool
	Key() string
	Value() []byte
	Close() error
}
