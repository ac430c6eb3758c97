// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package op

import (
	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/delegate"
	"blockwatch.cc/tzcore/script"
	"blockwatch.cc/tzcore/storage"
)

// applyManagerBatch runs the two-phase manager pipeline: precheck every
// content in order (effects kept even when application fails later),
// then apply contents one by one, each in its own fork. The first apply
// failure marks all later contents Skipped.
func (a *Applier) applyManagerBatch(ctx *storage.Context, o *Operation) ([]Result, error) {
	pre := ctx.Fork()
	if err := a.precheckManagerBatch(pre, o); err != nil {
		pre.Discard()
		return nil, err
	}
	if err := pre.Commit(); err != nil {
		return nil, err
	}

	results := make([]Result, len(o.Contents))
	failed := false
	for i, c := range o.Contents {
		m := c.(*Manager)
		if failed {
			results[i] = skipped(m.OpKind())
			continue
		}
		results[i] = a.applyManagerContent(ctx, m)
		if !results[i].IsSuccess() {
			failed = true
		}
	}
	return results, nil
}

// precheckManagerBatch validates allocation, counters, in-batch reveals
// and the envelope signature, then takes fees and bumps counters. Runs
// in a fork the caller commits; nothing here is undone by apply errors.
func (a *Applier) precheckManagerBatch(ctx *storage.Context, o *Operation) error {
	var src tezos.Address
	revealed := false
	for i, c := range o.Contents {
		m := c.(*Manager)
		if i == 0 {
			src = m.Source
		} else if !m.Source.Equal(src) {
			return ErrInconsistentSources()
		}
		ok, err := a.Delegates.Allocated(ctx, m.Source)
		if err != nil {
			return err
		}
		if !ok {
			return ErrUnallocatedContract(m.Source)
		}
		if err := a.Delegates.CheckCounter(ctx, m.Source, m.Counter); err != nil {
			cur, _ := a.Delegates.Counter(ctx, m.Source)
			switch err {
			case delegate.ErrCounterInThePast:
				return ErrCounterInThePast(m.Source, cur+1, m.Counter)
			case delegate.ErrCounterInTheFuture:
				return ErrCounterInTheFuture(m.Source, cur+1, m.Counter)
			default:
				return err
			}
		}
		if rev, ok := m.Content.(*Reveal); ok {
			if revealed {
				return ErrMultipleRevelation()
			}
			_, had, err := a.Delegates.ManagerPubKey(ctx, m.Source)
			if err != nil {
				return err
			}
			if had {
				return ErrMultipleRevelation()
			}
			if err := a.Delegates.RevealManagerKey(ctx, m.Source, rev.PublicKey); err != nil {
				return err
			}
			revealed = true
		}
		if err := a.Delegates.IncrementCounter(ctx, m.Source); err != nil {
			return err
		}
		if m.Fee > 0 {
			if err := a.Delegates.Debit(ctx, m.Source, m.Fee); err != nil {
				if err == delegate.ErrBalanceTooLow {
					bal, _ := a.Delegates.Balance(ctx, m.Source)
					return ErrBalanceTooLow(m.Source, bal, m.Fee)
				}
				return err
			}
			if err := AddAccumulator(ctx, KeyBlockFees, m.Fee.Int64()); err != nil {
				return err
			}
		}
	}
	// the one signature covers the whole batch, checked against the
	// (possibly just revealed) manager key
	return a.verifyBy(ctx, src, WatermarkGeneric, SignedBytes(o), o.Signature)
}

// applyManagerContent executes one content inside a fork under its gas
// and storage quota. On any failure the fork is discarded: balances
// revert, precheck effects stay.
func (a *Applier) applyManagerContent(ctx *storage.Context, m *Manager) Result {
	fork := ctx.Fork()
	gas := m.GasLimit
	if hard := a.Params.HardGasLimitPerOperation; gas > hard {
		gas = hard
	}
	stor := m.StorageLimit
	if hard := a.Params.HardStorageLimitPerOperation; stor > hard {
		stor = hard
	}
	fork.SetGasLimit(gas)
	fork.SetStorageLimit(stor)

	res := Result{Kind: m.OpKind(), Status: StatusApplied}
	err := a.applyContent(fork, m.Source, m.Content, &res)
	res.ConsumedGas = fork.GasConsumed()
	if err != nil {
		fork.Discard()
		log.Debugf("manager %s by %s failed: %v", m.OpKind(), m.Source, err)
		for i := range res.Internal {
			if res.Internal[i].Status == StatusApplied {
				res.Internal[i].Status = StatusBacktracked
			}
		}
		res.Status = StatusFailed
		res.Errors = append(res.Errors, a.toError(err))
		return res
	}
	if err := fork.Commit(); err != nil {
		res.Status = StatusFailed
		res.Errors = append(res.Errors, a.toError(err))
		return res
	}
	return res
}

func (a *Applier) toError(err error) *Error {
	switch e := err.(type) {
	case *Error:
		return e
	}
	switch err {
	case storage.ErrGasExhausted:
		return ErrGasExhausted()
	case storage.ErrStorageExhausted:
		return ErrStorageExhausted()
	default:
		return ErrRuntime(err)
	}
}

// applyContent dispatches one manager content and then drains the FIFO
// of internal operations it emitted. Shared by external and internal
// application paths.
func (a *Applier) applyContent(ctx *storage.Context, source tezos.Address, c ManagerContent, res *Result) error {
	var emitted []script.InternalOp
	var err error
	switch v := c.(type) {
	case *Reveal:
		// applied during precheck
	case *Transaction:
		emitted, err = a.applyTransaction(ctx, source, v.Amount, v.Destination, v.Parameters, source, res)
	case *Origination:
		err = a.applyOrigination(ctx, source, v, nil, res)
	case *Delegation:
		err = a.applyDelegation(ctx, source, v.Delegate)
	}
	if err != nil {
		return err
	}
	return a.applyInternal(ctx, emitted, res)
}

// applyInternal drains the worklist FIFO with replay protection. A
// failure fails the whole content; later entries are marked Skipped.
func (a *Applier) applyInternal(ctx *storage.Context, worklist []script.InternalOp, res *Result) error {
	for len(worklist) > 0 {
		iop := worklist[0]
		worklist = worklist[1:]
		nonce := a.internalNonce
		a.internalNonce++
		ires := Result{Kind: internalKind(iop.Kind), Status: StatusApplied}
		if a.recordedNonces[nonce] {
			ires.Status = StatusFailed
			ires.Errors = append(ires.Errors, ErrInternalOperationReplay(nonce))
			res.Internal = append(res.Internal, ires)
			a.skipRemaining(worklist, res)
			return ErrInternalOperationReplay(nonce)
		}
		a.recordedNonces[nonce] = true
		var emitted []script.InternalOp
		var err error
		switch iop.Kind {
		case script.InternalTransaction:
			emitted, err = a.applyTransaction(ctx, iop.Source, iop.Amount, iop.Destination, iop.Parameters, iop.Source, &ires)
		case script.InternalOrigination:
			o := &Origination{
				ManagerAddr:    iop.Manager,
				Delegate:       iop.Delegate,
				Spendable:      iop.Spendable,
				Delegatable:    iop.Delegatable,
				Credit:         iop.Credit,
				Preorigination: iop.Preorigination,
			}
			if iop.Code != nil {
				o.Script = &Script{Code: iop.Code, Storage: iop.Storage}
			}
			err = a.applyOrigination(ctx, iop.Source, o, iop.Preorigination, &ires)
		case script.InternalDelegation:
			err = a.applyDelegation(ctx, iop.Source, iop.Delegate)
		}
		if err != nil {
			ires.Status = StatusFailed
			ires.Errors = append(ires.Errors, a.toError(err))
			res.Internal = append(res.Internal, ires)
			a.skipRemaining(worklist, res)
			return err
		}
		res.Internal = append(res.Internal, ires)
		worklist = append(worklist, emitted...)
	}
	return nil
}

func (a *Applier) skipRemaining(worklist []script.InternalOp, res *Result) {
	for _, iop := range worklist {
		res.Internal = append(res.Internal, skipped(internalKind(iop.Kind)))
	}
}

func internalKind(k script.InternalKind) Kind {
	switch k {
	case script.InternalOrigination:
		return KindOrigination
	case script.InternalDelegation:
		return KindDelegation
	default:
		return KindTransaction
	}
}

// applyTransaction moves funds and runs the destination script when
// present, returning the internal operations it emitted.
func (a *Applier) applyTransaction(ctx *storage.Context, source tezos.Address, amount chain.Tez, dest tezos.Address, params []byte, payer tezos.Address, res *Result) ([]script.InternalOp, error) {
	if err := a.Delegates.Debit(ctx, source, amount); err != nil {
		if err == delegate.ErrBalanceTooLow || err == delegate.ErrUnallocated {
			bal, _ := a.Delegates.Balance(ctx, source)
			return nil, ErrBalanceTooLow(source, bal, amount)
		}
		return nil, err
	}
	if err := a.Delegates.Credit(ctx, dest, amount); err != nil {
		return nil, err
	}
	res.BalanceUpdates = append(res.BalanceUpdates,
		ContractUpdate(source, -amount.Int64()),
		ContractUpdate(dest, amount.Int64()),
	)
	hasScript, err := a.Delegates.HasScript(ctx, dest)
	if err != nil {
		return nil, err
	}
	if !hasScript {
		return nil, nil
	}
	if a.Script == nil {
		return nil, errNoInterpreter
	}
	code, store, err := a.Delegates.Script(ctx, dest)
	if err != nil {
		return nil, err
	}
	out, err := a.Script.Execute(ctx, script.Call{
		Source:    source,
		Payer:     payer,
		Self:      dest,
		Code:      code,
		Storage:   store,
		Amount:    amount,
		Parameter: params,
	})
	if err != nil {
		return nil, err
	}
	if err := a.Delegates.UpdateScriptStorage(ctx, dest, out.Storage); err != nil {
		return nil, err
	}
	if out.StorageSizeDiff > 0 {
		if err := ctx.ConsumeStorage(out.StorageSizeDiff); err != nil {
			return nil, err
		}
		burn, err := chain.Tez(a.Params.CostPerByte).Scale(out.StorageSizeDiff)
		if err != nil {
			return nil, err
		}
		if err := a.burn(ctx, payer, burn, res); err != nil {
			return nil, err
		}
		res.StorageSize = out.StorageSizeDiff
	}
	return out.Operations, nil
}

var errNoInterpreter = &Error{ID: "contract.no_interpreter", Severity: Permanent}

func (a *Applier) burn(ctx *storage.Context, payer tezos.Address, amount chain.Tez, res *Result) error {
	if amount == 0 {
		return nil
	}
	if err := a.Delegates.Debit(ctx, payer, amount); err != nil {
		if err == delegate.ErrBalanceTooLow {
			bal, _ := a.Delegates.Balance(ctx, payer)
			return ErrBalanceTooLow(payer, bal, amount)
		}
		return err
	}
	res.BalanceUpdates = append(res.BalanceUpdates, ContractUpdate(payer, -amount.Int64()))
	return AddAccumulator(ctx, KeyBlockBurned, amount.Int64())
}

// applyOrigination writes a new contract funded with credit and burns
// the origination fee.
func (a *Applier) applyOrigination(ctx *storage.Context, source tezos.Address, o *Origination, preorigination *tezos.Address, res *Result) error {
	total, err := o.Credit.Add(chain.Tez(a.Params.OriginationBurn))
	if err != nil {
		return err
	}
	if err := a.Delegates.Debit(ctx, source, total); err != nil {
		if err == delegate.ErrBalanceTooLow || err == delegate.ErrUnallocated {
			bal, _ := a.Delegates.Balance(ctx, source)
			return ErrBalanceTooLow(source, bal, total)
		}
		return err
	}
	var addr tezos.Address
	if preorigination != nil {
		addr = *preorigination
	} else {
		addr, err = ctx.FreshContract()
		if err != nil {
			return err
		}
	}
	var code, store []byte
	if o.Script != nil {
		code, store = o.Script.Code, o.Script.Storage
	}
	if err := a.Delegates.AllocateOriginated(ctx, addr, o.ManagerAddr, o.Spendable, o.Delegatable, o.Delegate, code, store); err != nil {
		return err
	}
	if err := a.Delegates.Credit(ctx, addr, o.Credit); err != nil {
		return err
	}
	res.Originated = append(res.Originated, addr)
	res.BalanceUpdates = append(res.BalanceUpdates,
		ContractUpdate(source, -total.Int64()),
		ContractUpdate(addr, o.Credit.Int64()),
	)
	return AddAccumulator(ctx, KeyBlockBurned, a.Params.OriginationBurn)
}

// applyDelegation re-points the source's delegation. A self-delegation
// of an implicit account registers it as a delegate.
func (a *Applier) applyDelegation(ctx *storage.Context, source tezos.Address, d *tezos.Address) error {
	if d != nil && source.Equal(*d) {
		return a.Delegates.RegisterDelegate(ctx, source, a.Level.Cycle)
	}
	if err := a.Delegates.SetDelegate(ctx, source, d); err != nil {
		if err == delegate.ErrUnregistered {
			return ErrRuntime(err)
		}
		return err
	}
	return nil
}
