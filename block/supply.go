// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package block

import (
	"encoding/json"
	"strings"

	"blockwatch.cc/tzcore/op"
	"blockwatch.cc/tzcore/storage"
)

const keySupply = "supply"

// Supply tracks chain-wide token totals, updated once per finalized
// block. Total moves only through minting (rewards, revelation tips) and
// burning (origination, storage, slashing, forfeited escrow).
type Supply struct {
	Total          int64 `json:"total"`
	Activated      int64 `json:"activated"`
	Unclaimed      int64 `json:"unclaimed"`
	Circulating    int64 `json:"circulating"`
	Minted         int64 `json:"minted"`
	Burned         int64 `json:"burned"`
	Frozen         int64 `json:"frozen"`
	FrozenDeposits int64 `json:"frozen_deposits"`
	FrozenFees     int64 `json:"frozen_fees"`
	FrozenRewards  int64 `json:"frozen_rewards"`
}

// GetSupply reads the current totals. A missing record is all zero.
func GetSupply(ctx *storage.Context) (*Supply, error) {
	s := &Supply{}
	buf, ok, err := ctx.Get(keySupply)
	if err != nil || !ok {
		return s, err
	}
	if err := json.Unmarshal(buf, s); err != nil {
		return nil, err
	}
	return s, nil
}

// PutSupply stores totals, used by bootstrap and finalization.
func PutSupply(ctx *storage.Context, s *Supply) error {
	buf, err := json.Marshal(s)
	if err != nil {
		return err
	}
	return ctx.Put(keySupply, buf)
}

func (v *Validator) updateSupply(ctx *storage.Context) error {
	s, err := GetSupply(ctx)
	if err != nil {
		return err
	}
	minted, _, err := ctx.GetInt64(op.KeyBlockMinted)
	if err != nil {
		return err
	}
	burned, _, err := ctx.GetInt64(op.KeyBlockBurned)
	if err != nil {
		return err
	}
	activated, _, err := ctx.GetInt64(op.KeyBlockActivated)
	if err != nil {
		return err
	}

	s.Total += minted - burned
	s.Minted += minted
	s.Burned += burned
	s.Activated += activated
	s.Unclaimed -= activated

	// recompute frozen buckets from escrow rows
	s.FrozenDeposits, s.FrozenFees, s.FrozenRewards = 0, 0, 0
	err = ctx.Range("delegates/frozen/", func(k string, _ []byte) error {
		v, ok, err := ctx.GetInt64(k)
		if err != nil || !ok {
			return err
		}
		switch {
		case strings.HasSuffix(k, "/deposits"):
			s.FrozenDeposits += v
		case strings.HasSuffix(k, "/fees"):
			s.FrozenFees += v
		case strings.HasSuffix(k, "/rewards"):
			s.FrozenRewards += v
		}
		return nil
	})
	if err != nil {
		return err
	}
	s.Frozen = s.FrozenDeposits + s.FrozenFees + s.FrozenRewards

	// frozen coins stay part of circulating even though they are
	// subject to slashing
	s.Circulating = s.Total - s.Unclaimed
	return PutSupply(ctx, s)
}
