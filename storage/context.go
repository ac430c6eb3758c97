// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package storage

import (
	"encoding/binary"
	"fmt"
	"sort"

	"blockwatch.cc/tzgo/tezos"
	"github.com/cespare/xxhash"
	logpkg "github.com/echa/log"
)

var log = logpkg.NewLogger("STOR")

// StorageError reports a required key missing from the context.
type StorageError struct {
	Path string
}

func (e StorageError) Error() string {
	return "storage: missing key " + e.Path
}

// Context is a staged-write view over a Store or a parent Context. Reads
// fall through staged writes to the parent chain and finally the store.
// Commit folds the stage into the parent; a root commit writes the block's
// batch to the store. Discard drops the stage. Gas, storage-space and
// origination-nonce accounting is shared between a context and its forks
// because those effects survive a discarded fork.
type Context struct {
	store  Store
	parent *Context
	mem    map[string][]byte
	dels   map[string]bool
	acct   *accounting
}

func NewContext(store Store) *Context {
	return &Context{
		store: store,
		mem:   make(map[string][]byte),
		dels:  make(map[string]bool),
		acct:  newAccounting(),
	}
}

// Fork opens a child context for backtrackable application.
func (c *Context) Fork() *Context {
	return &Context{
		parent: c,
		mem:    make(map[string][]byte),
		dels:   make(map[string]bool),
		acct:   c.acct,
	}
}

// Commit folds staged writes into the parent, or into the store when c is
// a root context.
func (c *Context) Commit() error {
	if c.parent != nil {
		for k := range c.dels {
			delete(c.parent.mem, k)
			c.parent.dels[k] = true
		}
		for k, v := range c.mem {
			delete(c.parent.dels, k)
			c.parent.mem[k] = v
		}
		c.reset()
		return nil
	}
	if c.store == nil {
		return fmt.Errorf("storage: commit on detached context")
	}
	if err := c.store.WriteBatch(c.mem, c.dels); err != nil {
		return err
	}
	log.Debugf("committed %d writes %d deletes checksum %016x",
		len(c.mem), len(c.dels), c.writeChecksum())
	c.reset()
	return nil
}

// Discard drops all staged writes. Accounting is untouched.
func (c *Context) Discard() {
	c.reset()
}

func (c *Context) reset() {
	c.mem = make(map[string][]byte)
	c.dels = make(map[string]bool)
}

// writeChecksum digests the staged write set in key order. Not consensus
// state, only logged for audit.
func (c *Context) writeChecksum() uint64 {
	keys := make([]string, 0, len(c.mem))
	for k := range c.mem {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	h := xxhash.New()
	for _, k := range keys {
		h.Write([]byte(k))
		h.Write(c.mem[k])
	}
	return h.Sum64()
}

func (c *Context) Get(key string) ([]byte, bool, error) {
	for x := c; x != nil; x = x.parent {
		if v, ok := x.mem[key]; ok {
			return v, true, nil
		}
		if x.dels[key] {
			return nil, false, nil
		}
		if x.store != nil {
			return x.store.Get(key)
		}
	}
	return nil, false, nil
}

// MustGet is Get for keys the protocol requires to exist.
func (c *Context) MustGet(key string) ([]byte, error) {
	v, ok, err := c.Get(key)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, StorageError{Path: key}
	}
	return v, nil
}

func (c *Context) Has(key string) (bool, error) {
	_, ok, err := c.Get(key)
	return ok, err
}

func (c *Context) Put(key string, val []byte) error {
	buf := make([]byte, len(val))
	copy(buf, val)
	delete(c.dels, key)
	c.mem[key] = buf
	return nil
}

func (c *Context) Delete(key string) error {
	delete(c.mem, key)
	c.dels[key] = true
	return nil
}

// Range visits all live keys under prefix in lexical order, merging the
// store view with every stage on the parent chain.
func (c *Context) Range(prefix string, fn func(key string, val []byte) error) error {
	merged := make(map[string][]byte)
	dead := make(map[string]bool)
	// walk root-first so nearer stages override
	chain := make([]*Context, 0, 4)
	for x := c; x != nil; x = x.parent {
		chain = append(chain, x)
	}
	for i := len(chain) - 1; i >= 0; i-- {
		x := chain[i]
		if x.store != nil {
			err := x.store.Range(prefix, func(k string, v []byte) error {
				merged[k] = v
				return nil
			})
			if err != nil {
				return err
			}
		}
		for k := range x.dels {
			if hasPrefix(k, prefix) {
				delete(merged, k)
				dead[k] = true
			}
		}
		for k, v := range x.mem {
			if hasPrefix(k, prefix) {
				merged[k] = v
				delete(dead, k)
			}
		}
	}
	keys := make([]string, 0, len(merged))
	for k := range merged {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if err := fn(k, merged[k]); err != nil {
			return err
		}
	}
	return nil
}

func hasPrefix(s, prefix string) bool {
	return len(s) >= len(prefix) && s[:len(prefix)] == prefix
}

// snapshot tags live in the same keyspace; fork/commit machinery covers
// them without special cases in the store.
func snapKey(tag, key string) string {
	return "snap/" + tag + "/" + key
}

// CopySnapshot copies every live key under prefix to the immutable
// snapshot area keyed by tag.
func (c *Context) CopySnapshot(prefix, tag string) error {
	return c.Range(prefix, func(k string, v []byte) error {
		return c.Put(snapKey(tag, k), v)
	})
}

func (c *Context) DeleteSnapshot(tag string) error {
	prefix := "snap/" + tag + "/"
	keys := make([]string, 0)
	err := c.Range(prefix, func(k string, _ []byte) error {
		keys = append(keys, k)
		return nil
	})
	if err != nil {
		return err
	}
	for _, k := range keys {
		if err := c.Delete(k); err != nil {
			return err
		}
	}
	return nil
}

func (c *Context) HasSnapshot(tag string) (bool, error) {
	found := false
	err := c.Range("snap/"+tag+"/", func(_ string, _ []byte) error {
		found = true
		return errStopRange
	})
	if err == errStopRange {
		err = nil
	}
	return found, err
}

var errStopRange = fmt.Errorf("storage: stop range")

// SnapshotGet reads one key from a snapshot taken earlier under tag.
func (c *Context) SnapshotGet(tag, key string) ([]byte, bool, error) {
	return c.Get(snapKey(tag, key))
}

// typed accessors

func (c *Context) GetTez(key string) (int64, bool, error) {
	return c.GetInt64(key)
}

func (c *Context) PutTez(key string, v int64) error {
	return c.PutInt64(key, v)
}

func (c *Context) GetInt64(key string) (int64, bool, error) {
	buf, ok, err := c.Get(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(buf) != 8 {
		return 0, false, fmt.Errorf("storage: bad int64 at %s", key)
	}
	return int64(binary.BigEndian.Uint64(buf)), true, nil
}

func (c *Context) PutInt64(key string, v int64) error {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))
	return c.Put(key, buf[:])
}

func (c *Context) GetUint32(key string) (uint32, bool, error) {
	buf, ok, err := c.Get(key)
	if err != nil || !ok {
		return 0, ok, err
	}
	if len(buf) != 4 {
		return 0, false, fmt.Errorf("storage: bad uint32 at %s", key)
	}
	return binary.BigEndian.Uint32(buf), true, nil
}

func (c *Context) PutUint32(key string, v uint32) error {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], v)
	return c.Put(key, buf[:])
}

func (c *Context) GetAddress(key string) (tezos.Address, bool, error) {
	buf, ok, err := c.Get(key)
	if err != nil || !ok {
		return tezos.Address{}, ok, err
	}
	addr, err := tezos.ParseAddress(string(buf))
	if err != nil {
		return tezos.Address{}, false, fmt.Errorf("storage: bad address at %s: %v", key, err)
	}
	return addr, true, nil
}

func (c *Context) PutAddress(key string, a tezos.Address) error {
	return c.Put(key, []byte(a.String()))
}
