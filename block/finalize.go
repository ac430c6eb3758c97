// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package block

import (
	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/op"
	"blockwatch.cc/tzcore/roll"
	"blockwatch.cc/tzcore/seed"
	"blockwatch.cc/tzcore/storage"
)

// FinalizeApplication freezes the baker's deposit, fees and rewards,
// records a seed nonce commitment when the header carries one, snapshots
// rolls on schedule and runs cycle-end processing on the last block of a
// cycle. Returns the block's balance updates.
func (v *Validator) FinalizeApplication(ctx *storage.Context, st *State) ([]op.BalanceUpdate, error) {
	level := st.Applier.Level
	cycle := level.Cycle
	baker := st.Baker
	updates := make([]op.BalanceUpdate, 0, 8)

	// announced fitness must match what the operations earned
	fitness, err := v.Fitness(ctx, st)
	if err != nil {
		return nil, err
	}
	if st.Mode == ModeApplication && st.Header.Shell.Fitness != fitness {
		return nil, ErrInvalidFitness
	}

	// baking proves liveness and extends the grace period
	if err := v.Rolls.SetActive(ctx, baker, cycle); err != nil {
		return nil, err
	}
	deposit := chain.Tez(v.Params.BlockSecurityDeposit)
	if err := v.Delegates.FreezeDeposit(ctx, baker, cycle, deposit); err != nil {
		return nil, err
	}
	updates = append(updates,
		op.ContractUpdate(baker, -deposit.Int64()),
		op.FreezerUpdate("deposits", baker, cycle, deposit.Int64()),
	)

	extra, _, err := ctx.GetInt64(op.KeyBlockRewardExtra)
	if err != nil {
		return nil, err
	}
	reward, err := chain.Tez(v.Params.BlockReward).Add(chain.Tez(extra))
	if err != nil {
		return nil, err
	}
	if err := v.Delegates.FreezeRewards(ctx, baker, cycle, reward); err != nil {
		return nil, err
	}
	if err := op.AddAccumulator(ctx, op.KeyBlockMinted, v.Params.BlockReward); err != nil {
		return nil, err
	}
	updates = append(updates, op.FreezerUpdate("rewards", baker, cycle, reward.Int64()))

	fees, _, err := ctx.GetInt64(op.KeyBlockFees)
	if err != nil {
		return nil, err
	}
	if fees > 0 {
		if err := v.Delegates.FreezeFees(ctx, baker, cycle, chain.Tez(fees)); err != nil {
			return nil, err
		}
		updates = append(updates, op.FreezerUpdate("fees", baker, cycle, fees))
	}

	if st.Header.SeedNonceHash != nil {
		var h [32]byte
		copy(h[:], st.Header.SeedNonceHash)
		rec := &op.NonceCommitment{
			Level:    level.Level,
			Hash:     h,
			Delegate: baker,
			Fees:     chain.Tez(fees),
			Rewards:  reward,
		}
		if err := op.PutNonceCommitment(ctx, rec); err != nil {
			return nil, err
		}
	}

	if err := ctx.PutInt64(keyLastBlockPriority, int64(st.Header.Priority)); err != nil {
		return nil, err
	}

	if level.CyclePosition%v.Params.BlocksPerRollSnapshot == v.Params.BlocksPerRollSnapshot-1 {
		target := cycle + chain.Cycle(v.Params.PreservedCycles) + 2
		if err := v.Rolls.SnapshotRollsForCycle(ctx, target); err != nil {
			return nil, err
		}
	}

	if level.LastOfCycle(v.Params) {
		endUpdates, err := v.endCycle(ctx, st, level)
		if err != nil {
			return nil, err
		}
		updates = append(updates, endUpdates...)
	}

	if err := v.updateSupply(ctx); err != nil {
		return nil, err
	}
	if err := v.clearBlockScope(ctx); err != nil {
		return nil, err
	}
	return updates, nil
}

// endCycle settles nonce commitments, evolves the future seed, prunes
// old cycles, freezes the rights snapshot, unfreezes matured escrow,
// deactivates idle delegates and ticks the amendment clock.
func (v *Validator) endCycle(ctx *storage.Context, st *State, level chain.Level) ([]op.BalanceUpdate, error) {
	cycle := level.Cycle
	preserved := chain.Cycle(v.Params.PreservedCycles)
	updates := make([]op.BalanceUpdate, 0)
	log.Infof("cycle %d ends at %s", cycle, level)

	// settle commitments made during the previous cycle, whose
	// revelation window closes now: revealed nonces feed the future
	// seed, unrevealed ones forfeit the recorded escrow
	if cycle > 0 {
		prev := cycle - 1
		from := chain.FirstLevelOfCycle(prev, v.Params)
		to := chain.FirstLevelOfCycle(cycle, v.Params) - 1
		revealed := make([]seed.Nonce, 0)
		settled := make([]int64, 0)
		err := op.RangeNonceCommitments(ctx, from, to, func(n *op.NonceCommitment) error {
			settled = append(settled, n.Level)
			if n.Revealed {
				revealed = append(revealed, n.Nonce)
				return nil
			}
			forfeit := n.Fees + n.Rewards
			log.Warnf("delegate %s forfeits %s for unrevealed nonce at level %d", n.Delegate, forfeit, n.Level)
			if err := v.Delegates.BurnFrozen(ctx, n.Delegate, prev, n.Fees, n.Rewards); err != nil {
				return err
			}
			updates = append(updates,
				op.FreezerUpdate("fees", n.Delegate, prev, -n.Fees.Int64()),
				op.FreezerUpdate("rewards", n.Delegate, prev, -n.Rewards.Int64()),
			)
			return op.AddAccumulator(ctx, op.KeyBlockBurned, forfeit.Int64())
		})
		if err != nil {
			return nil, err
		}
		for _, lvl := range settled {
			if err := op.DeleteNonceCommitment(ctx, lvl); err != nil {
				return nil, err
			}
		}

		// the nonces committed during cycle c seed cycle c+preserved+2
		base, ok, err := roll.CycleSeed(ctx, prev+preserved+1)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, roll.ErrNoRollSnapshotForCycle
		}
		next := seed.Renew(base)
		for _, n := range revealed {
			next = seed.Evolve(next, n)
		}
		if err := roll.PutCycleSeed(ctx, prev+preserved+2, next); err != nil {
			return nil, err
		}
	}

	if old := cycle - preserved; old >= 0 {
		if err := v.Rolls.ClearCycle(ctx, old); err != nil {
			return nil, err
		}
		if err := roll.ClearCycleSeed(ctx, old); err != nil {
			return nil, err
		}
		// matured escrow returns to spendable balances
		unfrozen, err := v.unfreezeMatured(ctx, old)
		if err != nil {
			return nil, err
		}
		updates = append(updates, unfrozen...)
	}

	freezeSeed, ok, err := roll.CycleSeed(ctx, cycle+preserved+1)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, roll.ErrNoRollSnapshotForCycle
	}
	if err := v.Rolls.FreezeRollsForCycle(ctx, cycle+preserved+1, freezeSeed); err != nil {
		return nil, err
	}

	if err := v.Rolls.InitCycle(ctx, cycle+preserved+3); err != nil {
		return nil, err
	}

	if err := v.Rolls.DeactivateExpired(ctx, cycle+1); err != nil {
		return nil, err
	}

	if level.LastOfVotingPeriod(v.Params) {
		if err := v.Vote.AdvancePeriod(ctx); err != nil {
			return nil, err
		}
	}
	return updates, nil
}

func (v *Validator) unfreezeMatured(ctx *storage.Context, cycle chain.Cycle) ([]op.BalanceUpdate, error) {
	delegates, err := v.Delegates.FrozenDelegates(ctx, cycle)
	if err != nil {
		return nil, err
	}
	updates := make([]op.BalanceUpdate, 0, len(delegates)*2)
	for _, d := range delegates {
		f, err := v.Delegates.UnfreezeCycle(ctx, d, cycle)
		if err != nil {
			return nil, err
		}
		total := f.Total()
		if total == 0 {
			continue
		}
		updates = append(updates,
			op.FreezerUpdate("deposits", d, cycle, -f.Deposits.Int64()),
			op.FreezerUpdate("fees", d, cycle, -f.Fees.Int64()),
			op.FreezerUpdate("rewards", d, cycle, -f.Rewards.Int64()),
			op.ContractUpdate(d, total.Int64()),
		)
	}
	return updates, nil
}
