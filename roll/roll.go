// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

// Package roll maintains the staking roll registry: per-delegate linked
// lists of owned rolls, the limbo freelist, residual change balances and
// the per-cycle ownership snapshots rights selection draws from.
package roll

import (
	"errors"
	"fmt"

	"blockwatch.cc/tzgo/tezos"
	logpkg "github.com/echa/log"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/storage"
)

var log = logpkg.NewLogger("ROLL")

var (
	ErrNoRollSnapshotForCycle = errors.New("roll: no roll snapshot for cycle")
	ErrBalanceTooLow          = errors.New("roll: delegate balance too low")
)

const (
	keyNext  = "rolls/next"
	keyLimbo = "rolls/limbo"
)

func ownerKey(r chain.Roll) string {
	return fmt.Sprintf("rolls/owner/%08x", uint32(r))
}

func successorKey(r chain.Roll) string {
	return fmt.Sprintf("rolls/successor/%08x", uint32(r))
}

func headKey(d tezos.Address) string {
	return "rolls/head/" + d.String()
}

func changeKey(d tezos.Address) string {
	return "rolls/change/" + d.String()
}

func snapshotIndexKey(c chain.Cycle) string {
	return fmt.Sprintf("rolls/snapshot/%08d", c)
}

func lastKey(c chain.Cycle, idx uint32) string {
	return fmt.Sprintf("rolls/last/%08d/%04d", c, idx)
}

func inactiveKey(d tezos.Address) string {
	return "delegates/inactive/" + d.String()
}

func graceKey(d tezos.Address) string {
	return "delegates/grace/" + d.String()
}

// SnapshotTag names the immutable owner-map copy for (cycle, index).
func SnapshotTag(c chain.Cycle, idx uint32) string {
	return fmt.Sprintf("rolls-%d-%d", c, idx)
}

// Registry wraps roll bookkeeping over a context. Stateless besides the
// protocol constants; all state lives in the context.
type Registry struct {
	params *tezos.Params
}

func NewRegistry(p *tezos.Params) *Registry {
	return &Registry{params: p}
}

func (r *Registry) tokensPerRoll() chain.Tez {
	return chain.Tez(r.params.TokensPerRoll)
}

// Next returns the smallest unallocated roll id.
func (r *Registry) Next(ctx *storage.Context) (chain.Roll, error) {
	v, ok, err := ctx.GetUint32(keyNext)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return chain.Roll(v), nil
}

// Change returns the delegate's residual stake below one roll.
func (r *Registry) Change(ctx *storage.Context, d tezos.Address) (chain.Tez, error) {
	v, ok, err := ctx.GetTez(changeKey(d))
	if err != nil || !ok {
		return 0, err
	}
	return chain.Tez(v), nil
}

// IsInactive reports the delegate's activity flag.
func (r *Registry) IsInactive(ctx *storage.Context, d tezos.Address) (bool, error) {
	return ctx.Has(inactiveKey(d))
}

// GracePeriod returns the cycle at which the delegate deactivates unless
// it re-activates before.
func (r *Registry) GracePeriod(ctx *storage.Context, d tezos.Address) (chain.Cycle, error) {
	v, ok, err := ctx.GetInt64(graceKey(d))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, storage.StorageError{Path: graceKey(d)}
	}
	return chain.Cycle(v), nil
}

// Rolls walks the delegate's owned list head-first.
func (r *Registry) Rolls(ctx *storage.Context, d tezos.Address) ([]chain.Roll, error) {
	out := make([]chain.Roll, 0)
	v, ok, err := ctx.GetUint32(headKey(d))
	if err != nil || !ok {
		return out, err
	}
	cur := chain.Roll(v)
	for {
		out = append(out, cur)
		v, ok, err = ctx.GetUint32(successorKey(cur))
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		cur = chain.Roll(v)
	}
}

// LimboRolls walks the freelist head-first.
func (r *Registry) LimboRolls(ctx *storage.Context) ([]chain.Roll, error) {
	out := make([]chain.Roll, 0)
	v, ok, err := ctx.GetUint32(keyLimbo)
	if err != nil || !ok {
		return out, err
	}
	cur := chain.Roll(v)
	for {
		out = append(out, cur)
		v, ok, err = ctx.GetUint32(successorKey(cur))
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		cur = chain.Roll(v)
	}
}

// Owner resolves a roll to its current owner, if any.
func (r *Registry) Owner(ctx *storage.Context, roll chain.Roll) (tezos.Address, bool, error) {
	return ctx.GetAddress(ownerKey(roll))
}

// popLimbo takes a free roll, allocating a fresh id when limbo is empty.
func (r *Registry) popLimbo(ctx *storage.Context) (chain.Roll, error) {
	v, ok, err := ctx.GetUint32(keyLimbo)
	if err != nil {
		return 0, err
	}
	if ok {
		roll := chain.Roll(v)
		succ, hasSucc, err := ctx.GetUint32(successorKey(roll))
		if err != nil {
			return 0, err
		}
		if hasSucc {
			if err := ctx.PutUint32(keyLimbo, succ); err != nil {
				return 0, err
			}
		} else if err := ctx.Delete(keyLimbo); err != nil {
			return 0, err
		}
		if err := ctx.Delete(successorKey(roll)); err != nil {
			return 0, err
		}
		return roll, nil
	}
	// fresh allocation
	next, ok, err := ctx.GetUint32(keyNext)
	if err != nil {
		return 0, err
	}
	if !ok {
		next = 0
	}
	if err := ctx.PutUint32(keyNext, next+1); err != nil {
		return 0, err
	}
	return chain.Roll(next), nil
}

// pushLimbo parks a freed roll at the limbo head.
func (r *Registry) pushLimbo(ctx *storage.Context, roll chain.Roll) error {
	v, ok, err := ctx.GetUint32(keyLimbo)
	if err != nil {
		return err
	}
	if ok {
		if err := ctx.PutUint32(successorKey(roll), v); err != nil {
			return err
		}
	} else if err := ctx.Delete(successorKey(roll)); err != nil {
		return err
	}
	return ctx.PutUint32(keyLimbo, uint32(roll))
}

// popDelegate removes the delegate's head roll and returns it.
func (r *Registry) popDelegate(ctx *storage.Context, d tezos.Address) (chain.Roll, bool, error) {
	v, ok, err := ctx.GetUint32(headKey(d))
	if err != nil || !ok {
		return 0, false, err
	}
	roll := chain.Roll(v)
	succ, hasSucc, err := ctx.GetUint32(successorKey(roll))
	if err != nil {
		return 0, false, err
	}
	if hasSucc {
		if err := ctx.PutUint32(headKey(d), succ); err != nil {
			return 0, false, err
		}
	} else if err := ctx.Delete(headKey(d)); err != nil {
		return 0, false, err
	}
	if err := ctx.Delete(successorKey(roll)); err != nil {
		return 0, false, err
	}
	if err := ctx.Delete(ownerKey(roll)); err != nil {
		return 0, false, err
	}
	return roll, true, nil
}

// pushDelegate links a roll as the delegate's new list head.
func (r *Registry) pushDelegate(ctx *storage.Context, d tezos.Address, roll chain.Roll) error {
	v, ok, err := ctx.GetUint32(headKey(d))
	if err != nil {
		return err
	}
	if ok {
		if err := ctx.PutUint32(successorKey(roll), v); err != nil {
			return err
		}
	} else if err := ctx.Delete(successorKey(roll)); err != nil {
		return err
	}
	if err := ctx.PutAddress(ownerKey(roll), d); err != nil {
		return err
	}
	return ctx.PutUint32(headKey(d), uint32(roll))
}

// AddAmount credits stake to a delegate and mints rolls while the change
// crosses the roll threshold.
func (r *Registry) AddAmount(ctx *storage.Context, d tezos.Address, amount chain.Tez) error {
	change, err := r.Change(ctx, d)
	if err != nil {
		return err
	}
	change, err = change.Add(amount)
	if err != nil {
		return err
	}
	inactive, err := r.IsInactive(ctx, d)
	if err != nil {
		return err
	}
	tpr := r.tokensPerRoll()
	if !inactive {
		for change >= tpr {
			roll, err := r.popLimbo(ctx)
			if err != nil {
				return err
			}
			if err := r.pushDelegate(ctx, d, roll); err != nil {
				return err
			}
			change -= tpr
		}
	}
	return ctx.PutTez(changeKey(d), change.Int64())
}

// RemoveAmount debits stake, melting rolls back into limbo as needed.
// When the delegate ends up empty its row is removed.
func (r *Registry) RemoveAmount(ctx *storage.Context, d tezos.Address, amount chain.Tez) error {
	change, err := r.Change(ctx, d)
	if err != nil {
		return err
	}
	inactive, err := r.IsInactive(ctx, d)
	if err != nil {
		return err
	}
	tpr := r.tokensPerRoll()
	for !inactive && amount > change {
		roll, ok, err := r.popDelegate(ctx, d)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := r.pushLimbo(ctx, roll); err != nil {
			return err
		}
		change += tpr
	}
	change, err = change.Sub(amount)
	if err != nil {
		return ErrBalanceTooLow
	}
	hasHead, err := ctx.Has(headKey(d))
	if err != nil {
		return err
	}
	if !inactive && change == 0 && !hasHead {
		return ctx.Delete(changeKey(d))
	}
	return ctx.PutTez(changeKey(d), change.Int64())
}

// SetInactive drains the delegate's rolls into limbo and flags it
// inactive. Its whole stake sits in change afterwards.
func (r *Registry) SetInactive(ctx *storage.Context, d tezos.Address) error {
	log.Debugf("deactivating delegate %s", d)
	change, err := r.Change(ctx, d)
	if err != nil {
		return err
	}
	tpr := r.tokensPerRoll()
	for {
		roll, ok, err := r.popDelegate(ctx, d)
		if err != nil {
			return err
		}
		if !ok {
			break
		}
		if err := r.pushLimbo(ctx, roll); err != nil {
			return err
		}
		change, err = change.Add(tpr)
		if err != nil {
			return err
		}
	}
	if err := ctx.Put(inactiveKey(d), []byte{1}); err != nil {
		return err
	}
	return ctx.PutTez(changeKey(d), change.Int64())
}

// SetActive clears the inactive flag, re-mints rolls from change and
// pushes the deactivation horizon out.
func (r *Registry) SetActive(ctx *storage.Context, d tezos.Address, current chain.Cycle) error {
	inactive, err := r.IsInactive(ctx, d)
	if err != nil {
		return err
	}
	preserved := chain.Cycle(r.params.PreservedCycles)
	grace, ok, err := func() (chain.Cycle, bool, error) {
		v, ok, err := ctx.GetInt64(graceKey(d))
		return chain.Cycle(v), ok, err
	}()
	if err != nil {
		return err
	}
	// the horizon only moves forward
	horizon := current + 1 + preserved
	if ok && !inactive && grace > horizon {
		horizon = grace
	}
	if err := ctx.PutInt64(graceKey(d), int64(horizon)); err != nil {
		return err
	}
	if !inactive {
		return nil
	}
	if err := ctx.Delete(inactiveKey(d)); err != nil {
		return err
	}
	change, err := r.Change(ctx, d)
	if err != nil {
		return err
	}
	tpr := r.tokensPerRoll()
	for change >= tpr {
		roll, err := r.popLimbo(ctx)
		if err != nil {
			return err
		}
		if err := r.pushDelegate(ctx, d, roll); err != nil {
			return err
		}
		change -= tpr
	}
	return ctx.PutTez(changeKey(d), change.Int64())
}

// DeactivateExpired flags every delegate whose grace period ended. Called
// once per cycle transition with the new cycle number.
func (r *Registry) DeactivateExpired(ctx *storage.Context, newCycle chain.Cycle) error {
	expired := make([]tezos.Address, 0)
	err := ctx.Range("delegates/grace/", func(k string, v []byte) error {
		addr, err := tezos.ParseAddress(k[len("delegates/grace/"):])
		if err != nil {
			return err
		}
		g, ok, err := ctx.GetInt64(k)
		if err != nil || !ok {
			return err
		}
		if chain.Cycle(g) <= newCycle {
			expired = append(expired, addr)
		}
		return nil
	})
	if err != nil {
		return err
	}
	for _, d := range expired {
		inactive, err := r.IsInactive(ctx, d)
		if err != nil {
			return err
		}
		if inactive {
			continue
		}
		if err := r.SetInactive(ctx, d); err != nil {
			return err
		}
	}
	return nil
}
