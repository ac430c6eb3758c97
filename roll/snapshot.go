// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package roll

import (
	"fmt"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/seed"
	"blockwatch.cc/tzcore/storage"
)

// seedKey stores the 32-byte randomness of a cycle.
func seedKey(c chain.Cycle) string {
	return fmt.Sprintf("seed/%08d", c)
}

// CycleSeed reads the stored randomness of a cycle.
func CycleSeed(ctx *storage.Context, c chain.Cycle) (seed.Seed, bool, error) {
	var s seed.Seed
	buf, ok, err := ctx.Get(seedKey(c))
	if err != nil || !ok {
		return s, ok, err
	}
	if len(buf) != seed.Size {
		return s, false, fmt.Errorf("roll: bad seed length %d for cycle %d", len(buf), c)
	}
	copy(s[:], buf)
	return s, true, nil
}

// PutCycleSeed stores the randomness of a cycle.
func PutCycleSeed(ctx *storage.Context, c chain.Cycle, s seed.Seed) error {
	return ctx.Put(seedKey(c), s[:])
}

// ClearCycleSeed forgets pruned randomness.
func ClearCycleSeed(ctx *storage.Context, c chain.Cycle) error {
	return ctx.Delete(seedKey(c))
}

// InitCycle opens snapshot collection for a future cycle.
func (r *Registry) InitCycle(ctx *storage.Context, c chain.Cycle) error {
	return ctx.PutUint32(snapshotIndexKey(c), 0)
}

// SnapshotIndex returns the next snapshot index of a cycle, or after
// FreezeRollsForCycle the single surviving index.
func (r *Registry) SnapshotIndex(ctx *storage.Context, c chain.Cycle) (uint32, bool, error) {
	return ctx.GetUint32(snapshotIndexKey(c))
}

// SnapshotRollsForCycle copies the live owner map into the next snapshot
// slot of the cycle and records the allocation bound at this instant.
func (r *Registry) SnapshotRollsForCycle(ctx *storage.Context, c chain.Cycle) error {
	idx, ok, err := ctx.GetUint32(snapshotIndexKey(c))
	if err != nil {
		return err
	}
	if !ok {
		return ErrNoRollSnapshotForCycle
	}
	if err := ctx.CopySnapshot("rolls/owner/", SnapshotTag(c, idx)); err != nil {
		return err
	}
	next, err := r.Next(ctx)
	if err != nil {
		return err
	}
	if err := ctx.PutUint32(lastKey(c, idx), uint32(next)); err != nil {
		return err
	}
	log.Debugf("cycle %d snapshot %d bound %d", c, idx, next)
	return ctx.PutUint32(snapshotIndexKey(c), idx+1)
}

// FreezeRollsForCycle draws one snapshot index from the cycle seed and
// deletes all others. Afterwards SnapshotIndex names the kept copy.
func (r *Registry) FreezeRollsForCycle(ctx *storage.Context, c chain.Cycle, s seed.Seed) error {
	max, ok, err := ctx.GetUint32(snapshotIndexKey(c))
	if err != nil {
		return err
	}
	if !ok || max == 0 {
		return ErrNoRollSnapshotForCycle
	}
	seq := seed.Initialize(s, []byte("roll_snapshot"))
	pick, _, err := seq.TakeInt32(int32(max))
	if err != nil {
		return err
	}
	kept := uint32(pick)
	for i := uint32(0); i < max; i++ {
		if i == kept {
			continue
		}
		if err := ctx.DeleteSnapshot(SnapshotTag(c, i)); err != nil {
			return err
		}
		if err := ctx.Delete(lastKey(c, i)); err != nil {
			return err
		}
	}
	log.Debugf("cycle %d froze snapshot %d of %d", c, kept, max)
	return ctx.PutUint32(snapshotIndexKey(c), kept)
}

// ClearCycle prunes the surviving snapshot of an old cycle.
func (r *Registry) ClearCycle(ctx *storage.Context, c chain.Cycle) error {
	idx, ok, err := ctx.GetUint32(snapshotIndexKey(c))
	if err != nil {
		return err
	}
	if !ok {
		return nil
	}
	if err := ctx.DeleteSnapshot(SnapshotTag(c, idx)); err != nil {
		return err
	}
	if err := ctx.Delete(lastKey(c, idx)); err != nil {
		return err
	}
	return ctx.Delete(snapshotIndexKey(c))
}
