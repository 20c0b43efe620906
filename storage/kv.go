// Package storage provides the two logical stores described in spec.md
// §6: a key-value base state indexed by address, and an append-only
// history of finalized blocks/transactions/votes. Both are backed by
// LevelDB (github.com/syndtr/goleveldb), the persistence engine this
// codebase's storage layer is built on.
package storage

import (
	"fmt"

	"github.com/syndtr/goleveldb/leveldb"
	leveldbstorage "github.com/syndtr/goleveldb/leveldb/storage"
)

// KVStore wraps LevelDB for raw key-value persistence. No trie or
// overlay logic lives here, that's state.Base's job, this is just the
// durable byte store underneath it.
type KVStore struct {
	db *leveldb.DB
}

// NewKVStore opens or creates a LevelDB database at path. An empty path
// opens an in-memory store, used by tests and by nodes started without
// a data directory.
func NewKVStore(path string) (*KVStore, error) {
	var db *leveldb.DB
	var err error
	if path == "" {
		db, err = leveldb.Open(leveldbstorage.NewMemStorage(), nil)
	} else {
		db, err = leveldb.OpenFile(path, nil)
	}
	if err != nil {
		return nil, fmt.Errorf("open leveldb at %q: %w", path, err)
	}
	return &KVStore{db: db}, nil
}

// Get returns (nil, false, nil) if key is absent, matching state.KV.
func (s *KVStore) Get(key []byte) ([]byte, bool, error) {
	data, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %x: %w", key, err)
	}
	return data, true, nil
}

func (s *KVStore) Put(key []byte, value []byte) error {
	if err := s.db.Put(key, value, nil); err != nil {
		return fmt.Errorf("put %x: %w", key, err)
	}
	return nil
}

func (s *KVStore) Delete(key []byte) error {
	if err := s.db.Delete(key, nil); err != nil {
		return fmt.Errorf("delete %x: %w", key, err)
	}
	return nil
}

// GetWithPrefix returns all key-value pairs under prefix, in key order.
func (s *KVStore) GetWithPrefix(prefix []byte) ([][2][]byte, error) {
	iter := s.db.NewIterator(nil, nil)
	defer iter.Release()

	var out [][2][]byte
	for ok := iter.Seek(prefix); ok; ok = iter.Next() {
		key := iter.Key()
		if len(key) < len(prefix) || string(key[:len(prefix)]) != string(prefix) {
			break
		}
		k := append([]byte{}, key...)
		v := append([]byte{}, iter.Value()...)
		out = append(out, [2][]byte{k, v})
	}
	if err := iter.Error(); err != nil {
		return nil, fmt.Errorf("iterate prefix %x: %w", prefix, err)
	}
	return out, nil
}

func (s *KVStore) Close() error { return s.db.Close() }
