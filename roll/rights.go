// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package roll

import (
	"encoding/binary"
	"errors"

	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/seed"
	"blockwatch.cc/tzcore/storage"
)

// Purpose tags keep baking and endorsement draws on disjoint streams.
const (
	PurposeBaking      = "baking"
	PurposeEndorsement = "endorsement"
)

var ErrNoOwnedRolls = errors.New("roll: snapshot contains no owned rolls")

// retry bound for draws landing on limbo'd ids; a snapshot with any owned
// roll terminates long before this
const maxDraws = 1 << 20

// RightsOwner returns the delegate owning the pseudo-randomly drawn roll
// for (purpose, level, offset) in the frozen snapshot of the level's
// cycle.
func (r *Registry) RightsOwner(ctx *storage.Context, purpose string, level chain.Level, offset int32) (tezos.Address, error) {
	s, ok, err := CycleSeed(ctx, level.Cycle)
	if err != nil {
		return tezos.Address{}, err
	}
	if !ok {
		return tezos.Address{}, ErrNoRollSnapshotForCycle
	}
	idx, ok, err := ctx.GetUint32(snapshotIndexKey(level.Cycle))
	if err != nil {
		return tezos.Address{}, err
	}
	if !ok {
		return tezos.Address{}, ErrNoRollSnapshotForCycle
	}
	bound, ok, err := ctx.GetUint32(lastKey(level.Cycle, idx))
	if err != nil {
		return tezos.Address{}, err
	}
	if !ok || bound == 0 {
		return tezos.Address{}, ErrNoRollSnapshotForCycle
	}
	var pos [4]byte
	binary.BigEndian.PutUint32(pos[:], uint32(level.CyclePosition))
	seq := seed.Initialize(s, []byte("level "+purpose+":"), pos[:])
	seq = seq.Advance(uint32(offset))
	tag := SnapshotTag(level.Cycle, idx)
	for i := 0; i < maxDraws; i++ {
		draw, next, err := seq.TakeInt32(int32(bound))
		if err != nil {
			return tezos.Address{}, err
		}
		seq = next
		buf, ok, err := ctx.SnapshotGet(tag, ownerKey(chain.Roll(draw)))
		if err != nil {
			return tezos.Address{}, err
		}
		if ok {
			return tezos.ParseAddress(string(buf))
		}
	}
	return tezos.Address{}, ErrNoOwnedRolls
}

// BakingRightsOwner names the delegate allowed to bake the level at the
// given priority.
func (r *Registry) BakingRightsOwner(ctx *storage.Context, level chain.Level, priority int) (tezos.Address, error) {
	return r.RightsOwner(ctx, PurposeBaking, level, int32(priority))
}

// EndorsementRightsOwner names the delegate owning an endorsement slot.
func (r *Registry) EndorsementRightsOwner(ctx *storage.Context, level chain.Level, slot int) (tezos.Address, error) {
	return r.RightsOwner(ctx, PurposeEndorsement, level, int32(slot))
}
