// Package boltkv provides a kv.Store implementation backed by bbolt, the
// default on-disk metadata backend for a burstfs daemon.
package boltkv

import (
	"errors"
	"fmt"
	"time"

	"burstfs/internal/metadata/kv"

	bolt "go.etcd.io/bbolt"
)

var bucketName = []byte("metadata")

// Store is a kv.Store implementation backed by a single bbolt database
// file holding one bucket.
type Store struct {
	db *bolt.DB
}

var _ kv.Store = (*Store)(nil)

// Open creates or opens a bbolt database at path.
func Open(path string) (*Store, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt db %s: %w", path, err)
	}
	if err := db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	}); err != nil {
		db.Close()
		return nil, fmt.Errorf("create metadata bucket: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying database file.
func (s *Store) Close() error { return s.db.Close() }

func (s *Store) Put(key string, value []byte) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
}

func (s *Store) Get(key string) ([]byte, error) {
	var out []byte
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(bucketName).Get([]byte(key))
		if v == nil {
			return kv.ErrNotFound
		}
		out = append([]byte(nil), v...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) Remove(key string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

func (s *Store) UpdateIf(key string, fn kv.UpdateFunc) (any, error) {
	var result any
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(bucketName)
		old := b.Get([]byte(key))
		var oldCopy []byte
		if old != nil {
			oldCopy = append([]byte(nil), old...)
		}

		newValue, write, res, err := fn(oldCopy)
		result = res
		if err != nil {
			return err
		}
		if write {
			return b.Put([]byte(key), newValue)
		}
		return nil
	})
	if err != nil && !errors.Is(err, kv.ErrNotFound) {
		return result, err
	}
	return result, nil
}

func (s *Store) PrefixScan(prefix string) (kv.Iterator, error) {
	var entries []kvEntry
	err := s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(bucketName).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && hasPrefix(k, p); k, v = c.Next() {
			entries = append(entries, kvEntry{key: string(k), value: append([]byte(nil), v...)})
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &iterator{entries: entries, pos: -1}, nil
}

func hasPrefix(b, prefix []byte) bool {
	if len(b) < len(prefix) {
		return false
	}
	for i := range prefix {
		if b[i] != prefix[i] {
			return false
		}
	}
	return true
}

type kvEntry struct {
	key   string
	value []byte
}

type iterator struct {
	entries []kvEntry
	pos     int
}

func (it *iterator) Next() bool {
	it.pos++
	return it.pos < len(it.entries)
}

func (it *iterator) Key() string   { return it.entries[it.pos].key }
func (it *iterator) Value() []byte { return it.entries[it.pos].value }
func (it *iterator) Close() error  { return nil }
