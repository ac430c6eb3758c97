// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package roll

import (
	"testing"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/storage"
)

func frozenCycle(t *testing.T, reg *Registry, ctx *storage.Context, c chain.Cycle) {
	t.Helper()
	if err := PutCycleSeed(ctx, c, testSeedVal(byte(c))); err != nil {
		t.Fatal(err)
	}
	if err := reg.InitCycle(ctx, c); err != nil {
		t.Fatal(err)
	}
	if err := reg.SnapshotRollsForCycle(ctx, c); err != nil {
		t.Fatal(err)
	}
	s, _, err := CycleSeed(ctx, c)
	if err != nil {
		t.Fatal(err)
	}
	if err := reg.FreezeRollsForCycle(ctx, c, s); err != nil {
		t.Fatal(err)
	}
}

func testSeedVal(b byte) (s [32]byte) {
	for i := range s {
		s[i] = b
	}
	return
}

func TestRightsOwnerDeterministic(t *testing.T) {
	p := testParams()
	reg := NewRegistry(p)
	ctx := testCtx()
	d1, d2 := testAddr(1), testAddr(2)
	if err := reg.AddAmount(ctx, d1, tokensPerRoll*3); err != nil {
		t.Fatal(err)
	}
	if err := reg.AddAmount(ctx, d2, tokensPerRoll*3); err != nil {
		t.Fatal(err)
	}
	frozenCycle(t, reg, ctx, 0)

	level := chain.LevelFromRaw(3, p)
	a, err := reg.BakingRightsOwner(ctx, level, 0)
	if err != nil {
		t.Fatal(err)
	}
	b, err := reg.BakingRightsOwner(ctx, level, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !a.Equal(b) {
		t.Fatalf("rights draw not deterministic: %s != %s", a, b)
	}
	if !a.Equal(d1) && !a.Equal(d2) {
		t.Fatalf("rights owner %s is not a staker", a)
	}
}

func TestRightsPriorityVaries(t *testing.T) {
	p := testParams()
	reg := NewRegistry(p)
	ctx := testCtx()
	// many delegates so draws can differ
	for i := byte(1); i <= 8; i++ {
		if err := reg.AddAmount(ctx, testAddr(i), tokensPerRoll); err != nil {
			t.Fatal(err)
		}
	}
	frozenCycle(t, reg, ctx, 0)
	level := chain.LevelFromRaw(2, p)

	owners := make(map[string]bool)
	for prio := 0; prio < 16; prio++ {
		d, err := reg.BakingRightsOwner(ctx, level, prio)
		if err != nil {
			t.Fatal(err)
		}
		owners[d.String()] = true
	}
	if len(owners) < 2 {
		t.Fatalf("16 priorities all map to %d owner(s)", len(owners))
	}
}

func TestRightsMissingSnapshot(t *testing.T) {
	p := testParams()
	reg := NewRegistry(p)
	ctx := testCtx()
	level := chain.LevelFromRaw(1, p)
	if _, err := reg.BakingRightsOwner(ctx, level, 0); err != ErrNoRollSnapshotForCycle {
		t.Fatalf("expected ErrNoRollSnapshotForCycle, got %v", err)
	}
}
