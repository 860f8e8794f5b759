// Package coldstore implements the optional embedded on-disk tier from
// spec.md §4.5: a small, rarely-written, occasionally-read backstop that
// survives process restarts without requiring a remote endpoint.
//
// The capability contract (Get/Insert/Remove/Flush, ErrNotFound
// sentinel) is grounded on johnjansen-torua/internal/storage's Store
// interface, trimmed to what spec.md §4.5 actually calls: no List/Stats,
// since the cold tier is never enumerated or wiped by the core. bbolt was
// chosen as the backing engine (see DESIGN.md) for its single-file B+tree
// shape, a good fit for a tier that is written once per code and read
// only on L1/L2 miss.
package coldstore

import (
	"errors"
	"time"

	"go.etcd.io/bbolt"
)

// ErrNotFound mirrors storage.ErrKeyNotFound's role: a normal, expected
// outcome of Get, not a storage failure.
var ErrNotFound = errors.New("coldstore: key not found")

var bucketName = []byte("shortenly")

// Store is an embedded bbolt-backed key-value tier.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) a bbolt database at path and ensures
// the working bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(bucketName)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Get retrieves the value for key. Returns ErrNotFound if absent.
func (s *Store) Get(key string) ([]byte, error) {
	var value []byte
	err := s.db.View(func(tx *bbolt.Tx) error {
		b := tx.Bucket(bucketName)
		v := b.Get([]byte(key))
		if v == nil {
			return ErrNotFound
		}
		value = make([]byte, len(v))
		copy(value, v)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return value, nil
}

// Insert stores value under key, overwriting any existing entry.
func (s *Store) Insert(key string, value []byte) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Put([]byte(key), value)
	})
}

// Remove deletes key. Idempotent: no error if the key is absent.
func (s *Store) Remove(key string) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(bucketName).Delete([]byte(key))
	})
}

// Flush forces a sync of the database file to durable storage, for
// callers that need a point-in-time durability guarantee (e.g. before
// reporting a custom-alias Insert complete).
func (s *Store) Flush() error {
	return s.db.Sync()
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}
