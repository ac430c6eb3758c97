// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package storage

import (
	"bytes"
	"sort"
	"sync"
	"time"

	bolt "go.etcd.io/bbolt"
)

// Store is the flat key-value backing of a protocol context. Writes reach
// a Store only through Context.Commit of a root context, one batch per
// block.
type Store interface {
	Get(key string) ([]byte, bool, error)
	Range(prefix string, fn func(key string, val []byte) error) error
	WriteBatch(puts map[string][]byte, dels map[string]bool) error
	Close() error
}

// MemStore keeps all state in memory. Used by tests and speculative
// (mempool-style) application.
type MemStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{data: make(map[string][]byte)}
}

func (s *MemStore) Get(key string) ([]byte, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.data[key]
	if !ok {
		return nil, false, nil
	}
	buf := make([]byte, len(v))
	copy(buf, v)
	return buf, true, nil
}

func (s *MemStore) Range(prefix string, fn func(key string, val []byte) error) error {
	s.mu.RLock()
	keys := make([]string, 0)
	for k := range s.data {
		if len(k) >= len(prefix) && k[:len(prefix)] == prefix {
			keys = append(keys, k)
		}
	}
	s.mu.RUnlock()
	sort.Strings(keys)
	for _, k := range keys {
		s.mu.RLock()
		v := s.data[k]
		s.mu.RUnlock()
		if err := fn(k, v); err != nil {
			return err
		}
	}
	return nil
}

func (s *MemStore) WriteBatch(puts map[string][]byte, dels map[string]bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for k := range dels {
		delete(s.data, k)
	}
	for k, v := range puts {
		buf := make([]byte, len(v))
		copy(buf, v)
		s.data[k] = buf
	}
	return nil
}

func (s *MemStore) Close() error {
	return nil
}

var stateBucket = []byte("state")

// BoltStore persists the context in a single bbolt bucket. Snapshot copies
// share the keyspace under their tag prefix, so one bucket suffices.
type BoltStore struct {
	db *bolt.DB
}

func OpenBolt(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, err
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &BoltStore{db: db}, nil
}

func (s *BoltStore) Get(key string) ([]byte, bool, error) {
	var val []byte
	var ok bool
	err := s.db.View(func(tx *bolt.Tx) error {
		v := tx.Bucket(stateBucket).Get([]byte(key))
		if v != nil {
			ok = true
			val = make([]byte, len(v))
			copy(val, v)
		}
		return nil
	})
	return val, ok, err
}

func (s *BoltStore) Range(prefix string, fn func(key string, val []byte) error) error {
	return s.db.View(func(tx *bolt.Tx) error {
		c := tx.Bucket(stateBucket).Cursor()
		p := []byte(prefix)
		for k, v := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, v = c.Next() {
			if err := fn(string(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) WriteBatch(puts map[string][]byte, dels map[string]bool) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(stateBucket)
		for k := range dels {
			if err := b.Delete([]byte(k)); err != nil {
				return err
			}
		}
		for k, v := range puts {
			if err := b.Put([]byte(k), v); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *BoltStore) Close() error {
	return s.db.Close()
}
