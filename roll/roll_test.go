// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package roll

import (
	"bytes"
	"testing"

	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/seed"
	"blockwatch.cc/tzcore/storage"
)

const tokensPerRoll = 1000

func testParams() *tezos.Params {
	return &tezos.Params{
		TokensPerRoll:   tokensPerRoll,
		PreservedCycles: 2,
		BlocksPerCycle:  8,
	}
}

func testAddr(b byte) tezos.Address {
	return tezos.Address{Type: tezos.AddressTypeEd25519, Hash: bytes.Repeat([]byte{b}, 20)}
}

func testCtx() *storage.Context {
	return storage.NewContext(storage.NewMemStore())
}

func TestAddRemoveConservation(t *testing.T) {
	reg := NewRegistry(testParams())
	ctx := testCtx()
	d := testAddr(1)

	// 2.5 rolls in: two rolls minted, half a roll of change
	if err := reg.AddAmount(ctx, d, chain.Tez(tokensPerRoll*25/10)); err != nil {
		t.Fatal(err)
	}
	rolls, err := reg.Rolls(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if len(rolls) != 2 {
		t.Fatalf("rolls after add: %d, want 2", len(rolls))
	}
	change, err := reg.Change(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if change != tokensPerRoll/2 {
		t.Fatalf("change after add: %d, want %d", change, tokensPerRoll/2)
	}
	next, _ := reg.Next(ctx)
	if next != 2 {
		t.Fatalf("next after add: %d, want 2", next)
	}

	// 1.5 rolls out: one roll melts into limbo, change drains to zero
	if err := reg.RemoveAmount(ctx, d, chain.Tez(tokensPerRoll*15/10)); err != nil {
		t.Fatal(err)
	}
	rolls, _ = reg.Rolls(ctx, d)
	if len(rolls) != 1 {
		t.Fatalf("rolls after remove: %d, want 1", len(rolls))
	}
	change, _ = reg.Change(ctx, d)
	if change != 0 {
		t.Fatalf("change after remove: %d, want 0", change)
	}
	limbo, err := reg.LimboRolls(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(limbo) != 1 {
		t.Fatalf("limbo after remove: %d, want 1", len(limbo))
	}
	// ids are never renumbered
	if next, _ = reg.Next(ctx); next != 2 {
		t.Fatalf("next after remove: %d, want 2", next)
	}
}

func TestAddRemoveRoundTrip(t *testing.T) {
	reg := NewRegistry(testParams())
	ctx := testCtx()
	d := testAddr(2)
	amount := chain.Tez(tokensPerRoll*3 + 123)

	if err := reg.AddAmount(ctx, d, amount); err != nil {
		t.Fatal(err)
	}
	if err := reg.RemoveAmount(ctx, d, amount); err != nil {
		t.Fatal(err)
	}
	rolls, _ := reg.Rolls(ctx, d)
	if len(rolls) != 0 {
		t.Fatalf("rolls after round trip: %d", len(rolls))
	}
	change, _ := reg.Change(ctx, d)
	if change != 0 {
		t.Fatalf("change after round trip: %d", change)
	}
	// empty active delegates lose their row entirely
	if has, _ := ctx.Has("rolls/change/" + d.String()); has {
		t.Fatal("empty delegate row not removed")
	}
	// all three rolls wait in limbo for reuse
	limbo, _ := reg.LimboRolls(ctx)
	if len(limbo) != 3 {
		t.Fatalf("limbo after round trip: %d, want 3", len(limbo))
	}
}

func TestLimboReuse(t *testing.T) {
	reg := NewRegistry(testParams())
	ctx := testCtx()
	d1, d2 := testAddr(1), testAddr(2)

	if err := reg.AddAmount(ctx, d1, tokensPerRoll); err != nil {
		t.Fatal(err)
	}
	if err := reg.RemoveAmount(ctx, d1, tokensPerRoll); err != nil {
		t.Fatal(err)
	}
	if err := reg.AddAmount(ctx, d2, tokensPerRoll); err != nil {
		t.Fatal(err)
	}
	rolls, _ := reg.Rolls(ctx, d2)
	if len(rolls) != 1 || rolls[0] != 0 {
		t.Fatalf("limbo roll not reused: %v", rolls)
	}
	if next, _ := reg.Next(ctx); next != 1 {
		t.Fatalf("fresh roll allocated instead of limbo reuse: next %d", next)
	}
}

func TestInactiveDelegates(t *testing.T) {
	reg := NewRegistry(testParams())
	ctx := testCtx()
	d := testAddr(3)

	if err := reg.AddAmount(ctx, d, tokensPerRoll*2); err != nil {
		t.Fatal(err)
	}
	if err := reg.SetInactive(ctx, d); err != nil {
		t.Fatal(err)
	}
	rolls, _ := reg.Rolls(ctx, d)
	if len(rolls) != 0 {
		t.Fatalf("inactive delegate owns %d rolls", len(rolls))
	}
	change, _ := reg.Change(ctx, d)
	if change != tokensPerRoll*2 {
		t.Fatalf("inactive change: %d, want %d", change, tokensPerRoll*2)
	}
	// credits accumulate in change while inactive
	if err := reg.AddAmount(ctx, d, tokensPerRoll); err != nil {
		t.Fatal(err)
	}
	if rolls, _ = reg.Rolls(ctx, d); len(rolls) != 0 {
		t.Fatal("inactive delegate minted a roll")
	}
	// reactivation re-mints everything
	if err := reg.SetActive(ctx, d, 5); err != nil {
		t.Fatal(err)
	}
	if rolls, _ = reg.Rolls(ctx, d); len(rolls) != 3 {
		t.Fatalf("reactivated rolls: %d, want 3", len(rolls))
	}
	grace, err := reg.GracePeriod(ctx, d)
	if err != nil {
		t.Fatal(err)
	}
	if grace != 5+1+2 {
		t.Fatalf("grace after reactivation: %d, want 8", grace)
	}
}

func TestSnapshotFreezeKeepsOne(t *testing.T) {
	reg := NewRegistry(testParams())
	ctx := testCtx()
	d := testAddr(4)
	cycle := chain.Cycle(3)

	if err := reg.AddAmount(ctx, d, tokensPerRoll*2); err != nil {
		t.Fatal(err)
	}
	if err := reg.InitCycle(ctx, cycle); err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := reg.SnapshotRollsForCycle(ctx, cycle); err != nil {
			t.Fatal(err)
		}
	}
	idx, ok, _ := reg.SnapshotIndex(ctx, cycle)
	if !ok || idx != 4 {
		t.Fatalf("snapshot count: %d %v", idx, ok)
	}

	var s seed.Seed
	s[0] = 9
	if err := reg.FreezeRollsForCycle(ctx, cycle, s); err != nil {
		t.Fatal(err)
	}
	kept, ok, _ := reg.SnapshotIndex(ctx, cycle)
	if !ok || kept >= 4 {
		t.Fatalf("kept index: %d %v", kept, ok)
	}
	for i := uint32(0); i < 4; i++ {
		has, _ := ctx.HasSnapshot(SnapshotTag(cycle, i))
		if (i == kept) != has {
			t.Errorf("snapshot %d present=%v, kept=%d", i, has, kept)
		}
	}
	// the surviving copy matches the owner map at snapshot time
	buf, ok, err := ctx.SnapshotGet(SnapshotTag(cycle, kept), ownerKey(chain.Roll(0)))
	if err != nil || !ok {
		t.Fatalf("snapshot owner read: %v %v", ok, err)
	}
	if string(buf) != d.String() {
		t.Fatalf("snapshot owner: %s, want %s", buf, d)
	}

	if err := reg.ClearCycle(ctx, cycle); err != nil {
		t.Fatal(err)
	}
	if _, ok, _ := reg.SnapshotIndex(ctx, cycle); ok {
		t.Fatal("snapshot index survived clear")
	}
	if has, _ := ctx.HasSnapshot(SnapshotTag(cycle, kept)); has {
		t.Fatal("snapshot survived clear")
	}
}
