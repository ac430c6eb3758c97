// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package storage

import (
	"testing"
)

func TestContextPutGet(t *testing.T) {
	ctx := NewContext(NewMemStore())
	if err := ctx.Put("a/b", []byte("x")); err != nil {
		t.Fatal(err)
	}
	v, ok, err := ctx.Get("a/b")
	if err != nil || !ok || string(v) != "x" {
		t.Fatalf("get: %q %v %v", v, ok, err)
	}
	if _, err := ctx.MustGet("missing"); err == nil {
		t.Fatal("MustGet on missing key succeeded")
	} else if _, isStorage := err.(StorageError); !isStorage {
		t.Fatalf("MustGet error type %T", err)
	}
}

func TestContextForkCommitDiscard(t *testing.T) {
	store := NewMemStore()
	ctx := NewContext(store)
	ctx.Put("k", []byte("base"))

	fork := ctx.Fork()
	fork.Put("k", []byte("forked"))
	fork.Put("new", []byte("n"))

	// parent unchanged while fork is open
	v, _, _ := ctx.Get("k")
	if string(v) != "base" {
		t.Fatalf("parent sees fork write: %q", v)
	}
	// fork reads through to parent
	if v, ok, _ := fork.Get("k"); !ok || string(v) != "forked" {
		t.Fatalf("fork read: %q", v)
	}

	fork.Discard()
	if _, ok, _ := ctx.Get("new"); ok {
		t.Fatal("discarded write visible")
	}

	fork = ctx.Fork()
	fork.Put("new", []byte("n2"))
	fork.Delete("k")
	if err := fork.Commit(); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := ctx.Get("k"); ok {
		t.Fatal("committed delete not visible")
	}
	if v, ok, _ := ctx.Get("new"); !ok || string(v) != "n2" {
		t.Fatalf("committed write lost: %q %v", v, ok)
	}

	// root commit reaches the store
	if err := ctx.Commit(); err != nil {
		t.Fatal(err)
	}
	if v, ok, _ := store.Get("new"); !ok || string(v) != "n2" {
		t.Fatalf("store missed commit: %q %v", v, ok)
	}
	if _, ok, _ := store.Get("k"); ok {
		t.Fatal("store kept deleted key")
	}
}

func TestContextRangeMergesStages(t *testing.T) {
	store := NewMemStore()
	store.WriteBatch(map[string][]byte{
		"p/1": []byte("a"),
		"p/2": []byte("b"),
		"q/1": []byte("z"),
	}, nil)
	ctx := NewContext(store)
	ctx.Put("p/3", []byte("c"))
	ctx.Delete("p/2")
	fork := ctx.Fork()
	fork.Put("p/4", []byte("d"))

	got := make(map[string]string)
	err := fork.Range("p/", func(k string, v []byte) error {
		got[k] = string(v)
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	want := map[string]string{"p/1": "a", "p/3": "c", "p/4": "d"}
	if len(got) != len(want) {
		t.Fatalf("range got %v", got)
	}
	for k, v := range want {
		if got[k] != v {
			t.Errorf("range[%s] = %q, want %q", k, got[k], v)
		}
	}
}

func TestSnapshotIsolation(t *testing.T) {
	ctx := NewContext(NewMemStore())
	ctx.Put("rolls/owner/0001", []byte("alice"))
	ctx.Put("rolls/owner/0002", []byte("bob"))
	if err := ctx.CopySnapshot("rolls/owner/", "tag1"); err != nil {
		t.Fatal(err)
	}
	// later mutations must not leak into the snapshot
	ctx.Put("rolls/owner/0001", []byte("carol"))
	ctx.Delete("rolls/owner/0002")

	v, ok, err := ctx.SnapshotGet("tag1", "rolls/owner/0001")
	if err != nil || !ok || string(v) != "alice" {
		t.Fatalf("snapshot read: %q %v %v", v, ok, err)
	}
	if v, ok, _ := ctx.SnapshotGet("tag1", "rolls/owner/0002"); !ok || string(v) != "bob" {
		t.Fatalf("snapshot lost deleted key: %q %v", v, ok)
	}

	ok, err = ctx.HasSnapshot("tag1")
	if err != nil || !ok {
		t.Fatalf("HasSnapshot: %v %v", ok, err)
	}
	if err := ctx.DeleteSnapshot("tag1"); err != nil {
		t.Fatal(err)
	}
	if ok, _ := ctx.HasSnapshot("tag1"); ok {
		t.Fatal("snapshot survived delete")
	}
}

func TestGasAccounting(t *testing.T) {
	ctx := NewContext(NewMemStore())
	ctx.SetGasLimit(10)
	if err := ctx.ConsumeGas(6); err != nil {
		t.Fatal(err)
	}
	fork := ctx.Fork()
	if err := fork.ConsumeGas(4); err != nil {
		t.Fatal(err)
	}
	// quota is shared with forks and survives their discard
	fork.Discard()
	if err := ctx.ConsumeGas(1); err != ErrGasExhausted {
		t.Fatalf("expected exhaustion, got %v", err)
	}
	ctx.SetGasUnlimited()
	if err := ctx.ConsumeGas(1 << 40); err != nil {
		t.Fatal(err)
	}
}

func TestStorageAccounting(t *testing.T) {
	ctx := NewContext(NewMemStore())
	ctx.SetStorageLimit(100)
	if err := ctx.ConsumeStorage(100); err != nil {
		t.Fatal(err)
	}
	if err := ctx.ConsumeStorage(1); err != ErrStorageExhausted {
		t.Fatalf("expected exhaustion, got %v", err)
	}
}

func TestFreshContract(t *testing.T) {
	ctx := NewContext(NewMemStore())
	if _, err := ctx.FreshContract(); err != ErrNoNonce {
		t.Fatalf("expected ErrNoNonce, got %v", err)
	}
	ctx.InitOriginationNonce([]byte("op-hash-1"))
	a1, err := ctx.FreshContract()
	if err != nil {
		t.Fatal(err)
	}
	a2, err := ctx.FreshContract()
	if err != nil {
		t.Fatal(err)
	}
	if a1.Equal(a2) {
		t.Fatal("consecutive fresh contracts collide")
	}
	// same nonce and index produce the same address on replay
	ctx.InitOriginationNonce([]byte("op-hash-1"))
	b1, _ := ctx.FreshContract()
	if !a1.Equal(b1) {
		t.Fatal("fresh contract generation not deterministic")
	}
	ctx.UnsetOriginationNonce()
	if _, err := ctx.FreshContract(); err != ErrNoNonce {
		t.Fatalf("expected ErrNoNonce after unset, got %v", err)
	}
}

func TestBoltStoreRoundTrip(t *testing.T) {
	path := t.TempDir() + "/state.db"
	store, err := OpenBolt(path)
	if err != nil {
		t.Fatal(err)
	}
	defer store.Close()
	ctx := NewContext(store)
	ctx.Put("x/1", []byte("one"))
	ctx.Put("x/2", []byte("two"))
	if err := ctx.Commit(); err != nil {
		t.Fatal(err)
	}
	keys := make([]string, 0)
	err = store.Range("x/", func(k string, _ []byte) error {
		keys = append(keys, k)
		return nil
	})
	if err != nil || len(keys) != 2 {
		t.Fatalf("bolt range: %v %v", keys, err)
	}
	if keys[0] != "x/1" || keys[1] != "x/2" {
		t.Fatalf("bolt range order: %v", keys)
	}
}
