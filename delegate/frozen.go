// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package delegate

import (
	"fmt"
	"strings"

	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/storage"
)

// Frozen balance buckets per (delegate, cycle). Deposits come out of the
// delegate's spendable balance, fees are collected from operation sources
// and rewards are minted; all three count towards staking power until
// unfrozen or slashed.

func frozenKey(d tezos.Address, c chain.Cycle, bucket string) string {
	return fmt.Sprintf("delegates/frozen/%s/%08d/%s", d, c, bucket)
}

const (
	bucketDeposits = "deposits"
	bucketFees     = "fees"
	bucketRewards  = "rewards"
)

// FrozenBalance is the escrow of one delegate for one cycle.
type FrozenBalance struct {
	Deposits chain.Tez
	Fees     chain.Tez
	Rewards  chain.Tez
}

func (f FrozenBalance) Total() chain.Tez {
	return f.Deposits + f.Fees + f.Rewards
}

func (m *Manager) getFrozen(ctx *storage.Context, d tezos.Address, c chain.Cycle, bucket string) (chain.Tez, error) {
	v, ok, err := ctx.GetTez(frozenKey(d, c, bucket))
	if err != nil || !ok {
		return 0, err
	}
	return chain.Tez(v), nil
}

func (m *Manager) addFrozen(ctx *storage.Context, d tezos.Address, c chain.Cycle, bucket string, amount chain.Tez) error {
	cur, err := m.getFrozen(ctx, d, c, bucket)
	if err != nil {
		return err
	}
	cur, err = cur.Add(amount)
	if err != nil {
		return err
	}
	return ctx.PutTez(frozenKey(d, c, bucket), cur.Int64())
}

// FrozenBalanceOf reads all three buckets of (delegate, cycle).
func (m *Manager) FrozenBalanceOf(ctx *storage.Context, d tezos.Address, c chain.Cycle) (FrozenBalance, error) {
	var f FrozenBalance
	var err error
	if f.Deposits, err = m.getFrozen(ctx, d, c, bucketDeposits); err != nil {
		return f, err
	}
	if f.Fees, err = m.getFrozen(ctx, d, c, bucketFees); err != nil {
		return f, err
	}
	f.Rewards, err = m.getFrozen(ctx, d, c, bucketRewards)
	return f, err
}

// HasFrozenBalance reports whether any escrow exists for (delegate, cycle).
func (m *Manager) HasFrozenBalance(ctx *storage.Context, d tezos.Address, c chain.Cycle) (bool, error) {
	f, err := m.FrozenBalanceOf(ctx, d, c)
	if err != nil {
		return false, err
	}
	return f.Total() > 0, nil
}

// FreezeDeposit moves spendable funds of a delegate into its deposit
// escrow. Stake-neutral: the debit withdraws rolls, the escrow re-adds.
func (m *Manager) FreezeDeposit(ctx *storage.Context, d tezos.Address, c chain.Cycle, amount chain.Tez) error {
	if err := m.Debit(ctx, d, amount); err != nil {
		return err
	}
	if err := m.addFrozen(ctx, d, c, bucketDeposits, amount); err != nil {
		return err
	}
	return m.rolls.AddAmount(ctx, d, amount)
}

// FreezeFees escrows operation fees earned by a baker. Fees were never in
// the baker's spendable balance, so stake grows here.
func (m *Manager) FreezeFees(ctx *storage.Context, d tezos.Address, c chain.Cycle, amount chain.Tez) error {
	if err := m.addFrozen(ctx, d, c, bucketFees, amount); err != nil {
		return err
	}
	return m.rolls.AddAmount(ctx, d, amount)
}

// FreezeRewards escrows freshly minted rewards.
func (m *Manager) FreezeRewards(ctx *storage.Context, d tezos.Address, c chain.Cycle, amount chain.Tez) error {
	if err := m.addFrozen(ctx, d, c, bucketRewards, amount); err != nil {
		return err
	}
	return m.rolls.AddAmount(ctx, d, amount)
}

// Slash removes the whole escrow of (offender, cycle) and withdraws the
// matching stake. Returns what was taken per bucket.
func (m *Manager) Slash(ctx *storage.Context, d tezos.Address, c chain.Cycle) (FrozenBalance, error) {
	f, err := m.FrozenBalanceOf(ctx, d, c)
	if err != nil {
		return f, err
	}
	for _, b := range []string{bucketDeposits, bucketFees, bucketRewards} {
		if err := ctx.Delete(frozenKey(d, c, b)); err != nil {
			return f, err
		}
	}
	if total := f.Total(); total > 0 {
		log.Warnf("slashing %s of delegate %s for cycle %d", total, d, c)
		if err := m.rolls.RemoveAmount(ctx, d, total); err != nil {
			return f, err
		}
	}
	return f, nil
}

// BurnFrozen removes the given amounts from the fees and rewards buckets
// without compensation, used when a baker misses its seed nonce revelation.
func (m *Manager) BurnFrozen(ctx *storage.Context, d tezos.Address, c chain.Cycle, fees, rewards chain.Tez) error {
	for _, b := range []struct {
		bucket string
		amount chain.Tez
	}{{bucketFees, fees}, {bucketRewards, rewards}} {
		if b.amount == 0 {
			continue
		}
		cur, err := m.getFrozen(ctx, d, c, b.bucket)
		if err != nil {
			return err
		}
		cur, err = cur.Sub(b.amount)
		if err != nil {
			return err
		}
		if cur == 0 {
			if err := ctx.Delete(frozenKey(d, c, b.bucket)); err != nil {
				return err
			}
		} else if err := ctx.PutTez(frozenKey(d, c, b.bucket), cur.Int64()); err != nil {
			return err
		}
	}
	if total := fees + rewards; total > 0 {
		return m.rolls.RemoveAmount(ctx, d, total)
	}
	return nil
}

// UnfreezeCycle returns matured escrow of one delegate to its spendable
// balance. Stake-neutral like FreezeDeposit, in reverse.
func (m *Manager) UnfreezeCycle(ctx *storage.Context, d tezos.Address, c chain.Cycle) (FrozenBalance, error) {
	f, err := m.FrozenBalanceOf(ctx, d, c)
	if err != nil {
		return f, err
	}
	total := f.Total()
	if total == 0 {
		return f, nil
	}
	for _, b := range []string{bucketDeposits, bucketFees, bucketRewards} {
		if err := ctx.Delete(frozenKey(d, c, b)); err != nil {
			return f, err
		}
	}
	if err := m.rolls.RemoveAmount(ctx, d, total); err != nil {
		return f, err
	}
	return f, m.Credit(ctx, d, total)
}

// FrozenDelegates lists all delegates holding escrow for the given cycle.
func (m *Manager) FrozenDelegates(ctx *storage.Context, c chain.Cycle) ([]tezos.Address, error) {
	prefix := "delegates/frozen/"
	cycleTag := fmt.Sprintf("/%08d/", c)
	seen := make(map[string]bool)
	out := make([]tezos.Address, 0)
	err := ctx.Range(prefix, func(k string, _ []byte) error {
		rest := k[len(prefix):]
		i := strings.Index(rest, "/")
		if i < 0 || !strings.HasPrefix(rest[i:], cycleTag) {
			return nil
		}
		name := rest[:i]
		if seen[name] {
			return nil
		}
		seen[name] = true
		addr, err := tezos.ParseAddress(name)
		if err != nil {
			return err
		}
		out = append(out, addr)
		return nil
	})
	return out, err
}
