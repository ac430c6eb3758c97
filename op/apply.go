// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package op

import (
	"bytes"
	"fmt"

	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/delegate"
	"blockwatch.cc/tzcore/roll"
	"blockwatch.cc/tzcore/script"
	"blockwatch.cc/tzcore/seed"
	"blockwatch.cc/tzcore/storage"
	"blockwatch.cc/tzcore/voting"
)

// Block-scoped accumulator keys. The block layer folds them into frozen
// balances and supply totals at finalization and clears the prefix.
const (
	KeyBlockFees        = "block/fees"
	KeyBlockRewardExtra = "block/reward_extra"
	KeyBlockFitness     = "block/fitness"
	KeyBlockMinted      = "block/minted"
	KeyBlockBurned      = "block/burned"
	KeyBlockActivated   = "block/activated"
)

func blockEndorsedKey(slot int) string {
	return fmt.Sprintf("block/endorsed/%04d", slot)
}

// AddAccumulator bumps a block-scoped int64 counter.
func AddAccumulator(ctx *storage.Context, key string, delta int64) error {
	cur, _, err := ctx.GetInt64(key)
	if err != nil {
		return err
	}
	return ctx.PutInt64(key, cur+delta)
}

// Applier validates and applies operations against a context. One value
// serves a whole block; ApplyOperation resets the per-envelope state.
type Applier struct {
	Params    *tezos.Params
	Rolls     *roll.Registry
	Delegates *delegate.Manager
	Script    script.Runner
	Verify    Verifier
	Vote      voting.State

	// block scope, set by the block layer
	Level    chain.Level
	PredHash tezos.BlockHash
	Priority int
	Baker    tezos.Address

	// envelope scope
	internalNonce  uint32
	recordedNonces map[uint32]bool
}

// LastAllowedForkLevel bounds how old denounceable evidence may be.
func (a *Applier) LastAllowedForkLevel() int64 {
	c := a.Level.Cycle - chain.Cycle(a.Params.PreservedCycles)
	if c < 0 {
		return 0
	}
	return chain.FirstLevelOfCycle(c, a.Params)
}

// ApplyOperation validates and applies one signed envelope. An error
// return rejects the whole envelope; the caller discards the fork it
// passed in. A nil error comes with one result per content.
func (a *Applier) ApplyOperation(ctx *storage.Context, opHash []byte, o *Operation) ([]Result, error) {
	ctx.InitOriginationNonce(opHash)
	defer ctx.UnsetOriginationNonce()
	defer func() {
		ctx.SetGasUnlimited()
		ctx.SetStorageUnlimited()
	}()
	a.internalNonce = 0
	a.recordedNonces = make(map[uint32]bool)

	if o.IsManager() {
		return a.applyManagerBatch(ctx, o)
	}
	if len(o.Contents) != 1 {
		return nil, fmt.Errorf("op: contents list must be a single anonymous or consensus operation or a manager batch")
	}
	var (
		res Result
		err error
	)
	switch c := o.Contents[0].(type) {
	case *Endorsement:
		res, err = a.applyEndorsement(ctx, o, c)
	case *SeedNonceRevelation:
		res, err = a.applySeedNonceRevelation(ctx, c)
	case *DoubleEndorsementEvidence:
		res, err = a.applyDoubleEndorsement(ctx, c)
	case *DoubleBakingEvidence:
		res, err = a.applyDoubleBaking(ctx, c)
	case *ActivateAccount:
		res, err = a.applyActivation(ctx, c)
	case *Proposals:
		res, err = a.applyProposals(ctx, o, c)
	case *Ballot:
		res, err = a.applyBallot(ctx, o, c)
	default:
		err = fmt.Errorf("op: unknown content type %T", c)
	}
	if err != nil {
		return nil, err
	}
	return []Result{res}, nil
}

func (a *Applier) verifyBy(ctx *storage.Context, signer tezos.Address, watermark byte, msg []byte, sig tezos.Signature) error {
	key, ok, err := a.Delegates.ManagerPubKey(ctx, signer)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnrevealedManagerKey(signer)
	}
	if err := a.Verify.Verify(key, SigningDigest(watermark, msg), sig); err != nil {
		return ErrInvalidSignature()
	}
	return nil
}

func (a *Applier) applyEndorsement(ctx *storage.Context, o *Operation, e *Endorsement) (Result, error) {
	if !e.Block.Equal(a.PredHash) {
		return Result{}, ErrWrongEndorsementPredecessor(a.PredHash, e.Block)
	}
	if want := a.Level.Level - 1; e.Level != want {
		return Result{}, ErrInvalidEndorsementLevel(want, e.Level)
	}
	if len(e.Slots) == 0 {
		return Result{}, ErrInvalidEndorsementSlot(-1)
	}
	endorsed := chain.LevelFromRaw(e.Level, a.Params)
	var owner tezos.Address
	for i, slot := range e.Slots {
		if slot < 0 || slot >= a.Params.EndorsersPerBlock {
			return Result{}, ErrInvalidEndorsementSlot(slot)
		}
		d, err := a.Rolls.EndorsementRightsOwner(ctx, endorsed, slot)
		if err != nil {
			return Result{}, err
		}
		if i == 0 {
			owner = d
		} else if !d.Equal(owner) {
			return Result{}, ErrInvalidEndorsementSlot(slot)
		}
		ok, err := ctx.Has(blockEndorsedKey(slot))
		if err != nil {
			return Result{}, err
		}
		if ok {
			return Result{}, ErrDuplicateEndorsement(slot)
		}
	}
	if err := a.verifyBy(ctx, owner, WatermarkEndorsement, SignedBytes(o), o.Signature); err != nil {
		return Result{}, err
	}
	for _, slot := range e.Slots {
		if err := ctx.Put(blockEndorsedKey(slot), []byte{1}); err != nil {
			return Result{}, err
		}
	}
	n := int64(len(e.Slots))
	if err := AddAccumulator(ctx, KeyBlockFitness, n); err != nil {
		return Result{}, err
	}
	deposit, err := chain.Tez(a.Params.EndorsementSecurityDeposit).Scale(n)
	if err != nil {
		return Result{}, err
	}
	if err := a.Delegates.FreezeDeposit(ctx, owner, a.Level.Cycle, deposit); err != nil {
		if err == delegate.ErrBalanceTooLow {
			bal, _ := a.Delegates.Balance(ctx, owner)
			return Result{}, ErrBalanceTooLow(owner, bal, deposit)
		}
		return Result{}, err
	}
	reward, err := chain.Tez(a.Params.EndorsementReward).Div(int64(a.Priority + 1)).Scale(n)
	if err != nil {
		return Result{}, err
	}
	if err := a.Delegates.FreezeRewards(ctx, owner, a.Level.Cycle, reward); err != nil {
		return Result{}, err
	}
	if err := AddAccumulator(ctx, KeyBlockMinted, reward.Int64()); err != nil {
		return Result{}, err
	}
	// endorsing proves liveness and extends the grace period
	if err := a.Rolls.SetActive(ctx, owner, a.Level.Cycle); err != nil {
		return Result{}, err
	}
	res := applied(KindEndorsement)
	res.BalanceUpdates = []BalanceUpdate{
		ContractUpdate(owner, -deposit.Int64()),
		FreezerUpdate("deposits", owner, a.Level.Cycle, deposit.Int64()),
		FreezerUpdate("rewards", owner, a.Level.Cycle, reward.Int64()),
	}
	return res, nil
}

func (a *Applier) applySeedNonceRevelation(ctx *storage.Context, s *SeedNonceRevelation) (Result, error) {
	rec, ok, err := GetNonceCommitment(ctx, s.Level)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrUnrevealedNonceCommitment(s.Level)
	}
	if rec.Revealed {
		return Result{}, ErrPreviouslyRevealedNonce(s.Level)
	}
	if seed.NonceHash(s.Nonce) != rec.Hash {
		return Result{}, ErrInconsistentNonceRevelation(s.Level)
	}
	rec.Revealed = true
	rec.Nonce = s.Nonce
	if err := PutNonceCommitment(ctx, rec); err != nil {
		return Result{}, err
	}
	tip := chain.Tez(a.Params.SeedNonceRevelationTip)
	if err := AddAccumulator(ctx, KeyBlockRewardExtra, tip.Int64()); err != nil {
		return Result{}, err
	}
	if err := AddAccumulator(ctx, KeyBlockMinted, tip.Int64()); err != nil {
		return Result{}, err
	}
	res := applied(KindSeedNonceRevelation)
	res.BalanceUpdates = []BalanceUpdate{
		FreezerUpdate("rewards", a.Baker, a.Level.Cycle, tip.Int64()),
	}
	return res, nil
}

// endorsementDelegate resolves and verifies the single delegate behind an
// inlined endorsement wrapper.
func (a *Applier) endorsementDelegate(ctx *storage.Context, o *Operation) (tezos.Address, *Endorsement, error) {
	if len(o.Contents) != 1 {
		return tezos.Address{}, nil, ErrInvalidDoubleEndorsementEvidence()
	}
	e, ok := o.Contents[0].(*Endorsement)
	if !ok || len(e.Slots) == 0 {
		return tezos.Address{}, nil, ErrInvalidDoubleEndorsementEvidence()
	}
	level := chain.LevelFromRaw(e.Level, a.Params)
	var owner tezos.Address
	for i, slot := range e.Slots {
		d, err := a.Rolls.EndorsementRightsOwner(ctx, level, slot)
		if err != nil {
			return tezos.Address{}, nil, err
		}
		if i == 0 {
			owner = d
		} else if !d.Equal(owner) {
			return tezos.Address{}, nil, ErrInvalidDoubleEndorsementEvidence()
		}
	}
	if err := a.verifyBy(ctx, owner, WatermarkEndorsement, SignedBytes(o), o.Signature); err != nil {
		return tezos.Address{}, nil, err
	}
	return owner, e, nil
}

// slash empties the offender's escrow for the evidence cycle, pays half
// to the accusing baker and burns the rest.
func (a *Applier) slash(ctx *storage.Context, kind Kind, offender tezos.Address, evidenceCycle chain.Cycle) (Result, error) {
	taken, err := a.Delegates.Slash(ctx, offender, evidenceCycle)
	if err != nil {
		return Result{}, err
	}
	total := taken.Total()
	reward := total.Half()
	burned := total - reward
	if err := a.Delegates.FreezeRewards(ctx, a.Baker, a.Level.Cycle, reward); err != nil {
		return Result{}, err
	}
	if err := AddAccumulator(ctx, KeyBlockBurned, burned.Int64()); err != nil {
		return Result{}, err
	}
	res := applied(kind)
	res.BalanceUpdates = []BalanceUpdate{
		FreezerUpdate("deposits", offender, evidenceCycle, -taken.Deposits.Int64()),
		FreezerUpdate("fees", offender, evidenceCycle, -taken.Fees.Int64()),
		FreezerUpdate("rewards", offender, evidenceCycle, -taken.Rewards.Int64()),
		FreezerUpdate("rewards", a.Baker, a.Level.Cycle, reward.Int64()),
	}
	return res, nil
}

func (a *Applier) checkEvidenceLevel(level int64, tooEarly, outdated func(level, bound int64) *Error) *Error {
	if level >= a.Level.Level {
		return tooEarly(level, a.Level.Level)
	}
	if last := a.LastAllowedForkLevel(); level < last {
		return outdated(level, last)
	}
	return nil
}

func (a *Applier) applyDoubleEndorsement(ctx *storage.Context, d *DoubleEndorsementEvidence) (Result, error) {
	e1, ok1 := singleEndorsement(d.Op1)
	e2, ok2 := singleEndorsement(d.Op2)
	if !ok1 || !ok2 {
		return Result{}, ErrInvalidDoubleEndorsementEvidence()
	}
	if e1.Level != e2.Level {
		return Result{}, ErrInvalidDoubleEndorsementEvidence()
	}
	if e1.Block.Equal(e2.Block) {
		// same block, or the very same endorsement twice
		return Result{}, ErrInvalidDoubleEndorsementEvidence()
	}
	if err := a.checkEvidenceLevel(e1.Level, ErrTooEarlyDoubleEndorsementEvidence, ErrOutdatedDoubleEndorsementEvidence); err != nil {
		return Result{}, err
	}
	d1, _, err := a.endorsementDelegate(ctx, d.Op1)
	if err != nil {
		return Result{}, err
	}
	d2, _, err := a.endorsementDelegate(ctx, d.Op2)
	if err != nil {
		return Result{}, err
	}
	if !d1.Equal(d2) {
		return Result{}, ErrInconsistentDoubleEndorsementEvidence(d1, d2)
	}
	cycle := chain.LevelFromRaw(e1.Level, a.Params).Cycle
	ok, err := a.Delegates.HasFrozenBalance(ctx, d1, cycle)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrUnrequiredDoubleEndorsementEvidence()
	}
	log.Infof("double endorsement by %s at level %d denounced", d1, e1.Level)
	return a.slash(ctx, KindDoubleEndorsementEvidence, d1, cycle)
}

func singleEndorsement(o *Operation) (*Endorsement, bool) {
	if o == nil || len(o.Contents) != 1 {
		return nil, false
	}
	e, ok := o.Contents[0].(*Endorsement)
	return e, ok
}

func (a *Applier) applyDoubleBaking(ctx *storage.Context, d *DoubleBakingEvidence) (Result, error) {
	h1, h2 := d.Header1, d.Header2
	if h1 == nil || h2 == nil || h1.Shell.Level != h2.Shell.Level {
		l1, l2 := int64(-1), int64(-1)
		if h1 != nil {
			l1 = h1.Shell.Level
		}
		if h2 != nil {
			l2 = h2.Shell.Level
		}
		return Result{}, ErrInvalidDoubleBakingEvidence(l1, l2)
	}
	if bytes.Equal(EncodeHeader(h1), EncodeHeader(h2)) {
		return Result{}, ErrInvalidDoubleBakingEvidence(h1.Shell.Level, h2.Shell.Level)
	}
	if err := a.checkEvidenceLevel(h1.Shell.Level, ErrTooEarlyDoubleBakingEvidence, ErrOutdatedDoubleBakingEvidence); err != nil {
		return Result{}, err
	}
	level := chain.LevelFromRaw(h1.Shell.Level, a.Params)
	d1, err := a.bakerOf(ctx, level, h1)
	if err != nil {
		return Result{}, err
	}
	d2, err := a.bakerOf(ctx, level, h2)
	if err != nil {
		return Result{}, err
	}
	if !d1.Equal(d2) {
		return Result{}, ErrInconsistentDoubleBakingEvidence(d1, d2)
	}
	ok, err := a.Delegates.HasFrozenBalance(ctx, d1, level.Cycle)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrUnrequiredDoubleBakingEvidence()
	}
	log.Infof("double baking by %s at level %d denounced", d1, h1.Shell.Level)
	return a.slash(ctx, KindDoubleBakingEvidence, d1, level.Cycle)
}

func (a *Applier) bakerOf(ctx *storage.Context, level chain.Level, h *chain.Header) (tezos.Address, error) {
	owner, err := a.Rolls.BakingRightsOwner(ctx, level, h.Priority)
	if err != nil {
		return tezos.Address{}, err
	}
	key, ok, err := a.Delegates.ManagerPubKey(ctx, owner)
	if err != nil {
		return tezos.Address{}, err
	}
	if !ok {
		return tezos.Address{}, ErrUnrevealedManagerKey(owner)
	}
	if err := a.Verify.Verify(key, SigningDigest(chain.WatermarkBlock, h.Bytes()), h.Signature); err != nil {
		return tezos.Address{}, ErrInvalidSignature()
	}
	return owner, nil
}

func (a *Applier) applyActivation(ctx *storage.Context, act *ActivateAccount) (Result, error) {
	blinded, err := BlindPkh(act.Secret, act.Pkh)
	if err != nil {
		return Result{}, err
	}
	amount, err := a.Delegates.Commitment(ctx, blinded)
	if err != nil {
		if err == delegate.ErrNoCommitment {
			return Result{}, ErrInvalidActivation(act.Pkh)
		}
		return Result{}, err
	}
	if err := a.Delegates.Credit(ctx, act.Pkh, amount); err != nil {
		return Result{}, err
	}
	if err := a.Delegates.DeleteCommitment(ctx, blinded); err != nil {
		return Result{}, err
	}
	if err := AddAccumulator(ctx, KeyBlockActivated, amount.Int64()); err != nil {
		return Result{}, err
	}
	res := applied(KindActivateAccount)
	res.BalanceUpdates = []BalanceUpdate{ContractUpdate(act.Pkh, amount.Int64())}
	return res, nil
}

func (a *Applier) applyProposals(ctx *storage.Context, o *Operation, p *Proposals) (Result, error) {
	ok, err := a.Delegates.IsRegistered(ctx, p.Source)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrProposalsFromNonDelegate(p.Source)
	}
	if err := a.verifyBy(ctx, p.Source, WatermarkGeneric, SignedBytes(o), o.Signature); err != nil {
		return Result{}, err
	}
	if err := a.Vote.RecordProposals(ctx, p.Source, p.Period, p.Proposals); err != nil {
		if err == voting.ErrWrongVotingPeriod {
			cur, _ := a.Vote.PeriodIndex(ctx)
			return Result{}, ErrWrongVotingPeriod(cur, p.Period)
		}
		return Result{}, err
	}
	return applied(KindProposals), nil
}

func (a *Applier) applyBallot(ctx *storage.Context, o *Operation, b *Ballot) (Result, error) {
	ok, err := a.Delegates.IsRegistered(ctx, b.Source)
	if err != nil {
		return Result{}, err
	}
	if !ok {
		return Result{}, ErrProposalsFromNonDelegate(b.Source)
	}
	if err := a.verifyBy(ctx, b.Source, WatermarkGeneric, SignedBytes(o), o.Signature); err != nil {
		return Result{}, err
	}
	if err := a.Vote.RecordBallot(ctx, b.Source, b.Period, b.Proposal, b.Vote); err != nil {
		if err == voting.ErrWrongVotingPeriod {
			cur, _ := a.Vote.PeriodIndex(ctx)
			return Result{}, ErrWrongVotingPeriod(cur, b.Period)
		}
		return Result{}, err
	}
	return applied(KindBallot), nil
}
