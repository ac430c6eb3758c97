// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package block

import (
	"encoding/binary"

	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/roll"
	"blockwatch.cc/tzcore/seed"
	"blockwatch.cc/tzcore/storage"
)

// BootstrapAccount funds one genesis account. Accounts with a key become
// registered delegates.
type BootstrapAccount struct {
	Address    tezos.Address
	PublicKey  *tezos.Key
	Balance    chain.Tez
	Commitment []byte // blinded pkh of an unclaimed fundraiser account
}

// Bootstrap initializes an empty context: genesis accounts, delegate
// registrations, commitments, the amendment clock, and seeds plus frozen
// roll snapshots for every cycle rights may be requested for before the
// first cycle ends.
func (v *Validator) Bootstrap(ctx *storage.Context, accounts []BootstrapAccount) error {
	var unclaimed chain.Tez
	for _, acc := range accounts {
		if acc.Commitment != nil {
			if err := v.Delegates.PutCommitment(ctx, acc.Commitment, acc.Balance); err != nil {
				return err
			}
			unclaimed += acc.Balance
			continue
		}
		if err := v.Delegates.AllocateImplicit(ctx, acc.Address); err != nil {
			return err
		}
		if err := v.Delegates.Credit(ctx, acc.Address, acc.Balance); err != nil {
			return err
		}
		if acc.PublicKey != nil {
			if err := v.Delegates.RevealManagerKey(ctx, acc.Address, *acc.PublicKey); err != nil {
				return err
			}
			if err := v.Delegates.RegisterDelegate(ctx, acc.Address, 0); err != nil {
				return err
			}
		}
	}

	if err := v.Vote.Init(ctx); err != nil {
		return err
	}

	// Seed cycles 0..preserved+1 and pre-freeze one snapshot per cycle
	// whose rights may be requested before the first cycle end. Cycle
	// preserved+1 keeps its single snapshot unfrozen: the end of cycle 0
	// freezes it, matching the steady-state schedule where snapshots
	// taken during cycle c settle cycle c+preserved+2 one cycle later.
	preserved := chain.Cycle(v.Params.PreservedCycles)
	for c := chain.Cycle(0); c <= preserved+1; c++ {
		if err := roll.PutCycleSeed(ctx, c, genesisSeed(c)); err != nil {
			return err
		}
		if err := v.Rolls.InitCycle(ctx, c); err != nil {
			return err
		}
		if err := v.Rolls.SnapshotRollsForCycle(ctx, c); err != nil {
			return err
		}
		if c <= preserved {
			s, _, err := roll.CycleSeed(ctx, c)
			if err != nil {
				return err
			}
			if err := v.Rolls.FreezeRollsForCycle(ctx, c, s); err != nil {
				return err
			}
		}
	}
	if err := v.Rolls.InitCycle(ctx, preserved+2); err != nil {
		return err
	}

	supply := &Supply{}
	var total chain.Tez
	for _, acc := range accounts {
		total += acc.Balance
	}
	supply.Total = total.Int64()
	supply.Unclaimed = unclaimed.Int64()
	supply.Circulating = supply.Total - supply.Unclaimed
	if err := PutSupply(ctx, supply); err != nil {
		return err
	}
	log.Infof("bootstrapped %d accounts, %s total supply", len(accounts), total)
	return nil
}

func genesisSeed(c chain.Cycle) seed.Seed {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(c))
	return seed.Seed(seed.Hash(append([]byte("genesis seed"), buf[:]...)))
}
