// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

// Package delegate keeps contract rows (balances, counters, manager keys,
// delegation links) and per-cycle frozen balances of delegates. Stake
// movements are forwarded to the roll registry so that roll counts always
// mirror delegated balances.
package delegate

import (
	"errors"
	"fmt"

	"blockwatch.cc/tzgo/tezos"
	logpkg "github.com/echa/log"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/roll"
	"blockwatch.cc/tzcore/storage"
)

var log = logpkg.NewLogger("DLGT")

var (
	ErrUnallocated        = errors.New("delegate: contract not allocated")
	ErrBalanceTooLow      = errors.New("delegate: balance too low")
	ErrNonSpendable       = errors.New("delegate: contract is not spendable")
	ErrNonDelegatable     = errors.New("delegate: contract is not delegatable")
	ErrUnregistered       = errors.New("delegate: not a registered delegate")
	ErrNoCommitment       = errors.New("delegate: no commitment for blinded key hash")
	ErrCounterInThePast   = errors.New("delegate: counter in the past")
	ErrCounterInTheFuture = errors.New("delegate: counter in the future")
)

func balanceKey(a tezos.Address) string {
	return "contracts/" + a.String() + "/balance"
}

func counterKey(a tezos.Address) string {
	return "contracts/" + a.String() + "/counter"
}

func delegateKey(a tezos.Address) string {
	return "contracts/" + a.String() + "/delegate"
}

func managerKey(a tezos.Address) string {
	return "contracts/" + a.String() + "/manager"
}

func managerPubKey(a tezos.Address) string {
	return "contracts/" + a.String() + "/manager_key"
}

func spendableKey(a tezos.Address) string {
	return "contracts/" + a.String() + "/spendable"
}

func delegatableKey(a tezos.Address) string {
	return "contracts/" + a.String() + "/delegatable"
}

func codeKey(a tezos.Address) string {
	return "contracts/" + a.String() + "/code"
}

func storageKey(a tezos.Address) string {
	return "contracts/" + a.String() + "/storage"
}

func registeredKey(a tezos.Address) string {
	return "delegates/registered/" + a.String()
}

func commitmentKey(blinded []byte) string {
	return fmt.Sprintf("commitments/%x", blinded)
}

// Manager bundles contract and frozen-balance bookkeeping with the roll
// registry it feeds.
type Manager struct {
	params *tezos.Params
	rolls  *roll.Registry
}

func NewManager(p *tezos.Params, r *roll.Registry) *Manager {
	return &Manager{params: p, rolls: r}
}

func (m *Manager) Rolls() *roll.Registry {
	return m.rolls
}

func (m *Manager) Allocated(ctx *storage.Context, a tezos.Address) (bool, error) {
	return ctx.Has(balanceKey(a))
}

// AllocateImplicit creates an empty spendable row for an implicit account.
func (m *Manager) AllocateImplicit(ctx *storage.Context, a tezos.Address) error {
	ok, err := m.Allocated(ctx, a)
	if err != nil || ok {
		return err
	}
	if err := ctx.PutTez(balanceKey(a), 0); err != nil {
		return err
	}
	if err := ctx.PutInt64(counterKey(a), 0); err != nil {
		return err
	}
	if err := ctx.Put(spendableKey(a), []byte{1}); err != nil {
		return err
	}
	return ctx.Put(delegatableKey(a), []byte{0})
}

// AllocateOriginated writes a full originated contract row.
func (m *Manager) AllocateOriginated(ctx *storage.Context, a, mgr tezos.Address, spendable, delegatable bool, dlgt *tezos.Address, code, store []byte) error {
	if err := ctx.PutTez(balanceKey(a), 0); err != nil {
		return err
	}
	if err := ctx.PutInt64(counterKey(a), 0); err != nil {
		return err
	}
	if err := ctx.PutAddress(managerKey(a), mgr); err != nil {
		return err
	}
	if err := ctx.Put(spendableKey(a), boolByte(spendable)); err != nil {
		return err
	}
	if err := ctx.Put(delegatableKey(a), boolByte(delegatable)); err != nil {
		return err
	}
	if dlgt != nil {
		if err := ctx.PutAddress(delegateKey(a), *dlgt); err != nil {
			return err
		}
	}
	if code != nil {
		if err := ctx.Put(codeKey(a), code); err != nil {
			return err
		}
		if err := ctx.Put(storageKey(a), store); err != nil {
			return err
		}
	}
	return nil
}

func boolByte(b bool) []byte {
	if b {
		return []byte{1}
	}
	return []byte{0}
}

func (m *Manager) Balance(ctx *storage.Context, a tezos.Address) (chain.Tez, error) {
	v, ok, err := ctx.GetTez(balanceKey(a))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrUnallocated
	}
	return chain.Tez(v), nil
}

// Credit adds funds to a contract and forwards the stake to its delegate.
// Unallocated implicit destinations are allocated on first credit.
func (m *Manager) Credit(ctx *storage.Context, a tezos.Address, amount chain.Tez) error {
	ok, err := m.Allocated(ctx, a)
	if err != nil {
		return err
	}
	if !ok {
		if err := m.AllocateImplicit(ctx, a); err != nil {
			return err
		}
	}
	bal, err := m.Balance(ctx, a)
	if err != nil {
		return err
	}
	bal, err = bal.Add(amount)
	if err != nil {
		return err
	}
	if err := ctx.PutTez(balanceKey(a), bal.Int64()); err != nil {
		return err
	}
	d, ok, err := m.DelegateOf(ctx, a)
	if err != nil {
		return err
	}
	if ok {
		return m.rolls.AddAmount(ctx, d, amount)
	}
	return nil
}

// Debit removes funds from a contract and withdraws the stake from its
// delegate.
func (m *Manager) Debit(ctx *storage.Context, a tezos.Address, amount chain.Tez) error {
	bal, err := m.Balance(ctx, a)
	if err != nil {
		return err
	}
	bal, err = bal.Sub(amount)
	if err != nil {
		return ErrBalanceTooLow
	}
	if err := ctx.PutTez(balanceKey(a), bal.Int64()); err != nil {
		return err
	}
	d, ok, err := m.DelegateOf(ctx, a)
	if err != nil {
		return err
	}
	if ok {
		return m.rolls.RemoveAmount(ctx, d, amount)
	}
	return nil
}

func (m *Manager) Counter(ctx *storage.Context, a tezos.Address) (int64, error) {
	v, ok, err := ctx.GetInt64(counterKey(a))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrUnallocated
	}
	return v, nil
}

// CheckCounter validates the announced counter against the stored one.
func (m *Manager) CheckCounter(ctx *storage.Context, a tezos.Address, counter int64) error {
	cur, err := m.Counter(ctx, a)
	if err != nil {
		return err
	}
	switch {
	case counter < cur+1:
		return ErrCounterInThePast
	case counter > cur+1:
		return ErrCounterInTheFuture
	}
	return nil
}

// IncrementCounter bumps the replay counter by exactly one.
func (m *Manager) IncrementCounter(ctx *storage.Context, a tezos.Address) error {
	cur, err := m.Counter(ctx, a)
	if err != nil {
		return err
	}
	return ctx.PutInt64(counterKey(a), cur+1)
}

// ManagerPubKey returns the revealed manager key of an implicit account.
func (m *Manager) ManagerPubKey(ctx *storage.Context, a tezos.Address) (tezos.Key, bool, error) {
	buf, ok, err := ctx.Get(managerPubKey(a))
	if err != nil || !ok {
		return tezos.Key{}, ok, err
	}
	k, err := tezos.ParseKey(string(buf))
	if err != nil {
		return tezos.Key{}, false, err
	}
	return k, true, nil
}

// RevealManagerKey stores a manager public key.
func (m *Manager) RevealManagerKey(ctx *storage.Context, a tezos.Address, k tezos.Key) error {
	return ctx.Put(managerPubKey(a), []byte(k.String()))
}

// DelegateOf resolves a contract to its delegate, if set.
func (m *Manager) DelegateOf(ctx *storage.Context, a tezos.Address) (tezos.Address, bool, error) {
	return ctx.GetAddress(delegateKey(a))
}

// SetDelegate re-points a contract's delegation and moves its stake.
// A nil delegate clears the link.
func (m *Manager) SetDelegate(ctx *storage.Context, a tezos.Address, d *tezos.Address) error {
	bal, err := m.Balance(ctx, a)
	if err != nil {
		return err
	}
	old, hadOld, err := m.DelegateOf(ctx, a)
	if err != nil {
		return err
	}
	if hadOld {
		if err := m.rolls.RemoveAmount(ctx, old, bal); err != nil {
			return err
		}
	}
	if d == nil {
		return ctx.Delete(delegateKey(a))
	}
	ok, err := ctx.Has(registeredKey(*d))
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnregistered
	}
	if err := ctx.PutAddress(delegateKey(a), *d); err != nil {
		return err
	}
	return m.rolls.AddAmount(ctx, *d, bal)
}

// RegisterDelegate turns an implicit account into a self-delegated
// delegate and activates it.
func (m *Manager) RegisterDelegate(ctx *storage.Context, d tezos.Address, current chain.Cycle) error {
	ok, err := m.Allocated(ctx, d)
	if err != nil {
		return err
	}
	if !ok {
		return ErrUnallocated
	}
	registered, err := m.IsRegistered(ctx, d)
	if err != nil {
		return err
	}
	if registered {
		// re-registration only refreshes the activity horizon
		return m.rolls.SetActive(ctx, d, current)
	}
	bal, err := m.Balance(ctx, d)
	if err != nil {
		return err
	}
	old, hadOld, err := m.DelegateOf(ctx, d)
	if err != nil {
		return err
	}
	if hadOld {
		if err := m.rolls.RemoveAmount(ctx, old, bal); err != nil {
			return err
		}
	}
	if err := ctx.Put(registeredKey(d), []byte{1}); err != nil {
		return err
	}
	if err := ctx.PutAddress(delegateKey(d), d); err != nil {
		return err
	}
	if err := m.rolls.AddAmount(ctx, d, bal); err != nil {
		return err
	}
	return m.rolls.SetActive(ctx, d, current)
}

func (m *Manager) IsRegistered(ctx *storage.Context, d tezos.Address) (bool, error) {
	return ctx.Has(registeredKey(d))
}

// HasScript reports whether a contract carries Michelson code.
func (m *Manager) HasScript(ctx *storage.Context, a tezos.Address) (bool, error) {
	return ctx.Has(codeKey(a))
}

func (m *Manager) Script(ctx *storage.Context, a tezos.Address) (code, store []byte, err error) {
	code, _, err = ctx.Get(codeKey(a))
	if err != nil {
		return
	}
	store, _, err = ctx.Get(storageKey(a))
	return
}

// UpdateScriptStorage commits interpreter output.
func (m *Manager) UpdateScriptStorage(ctx *storage.Context, a tezos.Address, store []byte) error {
	return ctx.Put(storageKey(a), store)
}

// Commitment looks up the unclaimed fundraiser amount of a blinded pkh.
func (m *Manager) Commitment(ctx *storage.Context, blinded []byte) (chain.Tez, error) {
	v, ok, err := ctx.GetTez(commitmentKey(blinded))
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, ErrNoCommitment
	}
	return chain.Tez(v), nil
}

func (m *Manager) PutCommitment(ctx *storage.Context, blinded []byte, amount chain.Tez) error {
	return ctx.PutTez(commitmentKey(blinded), amount.Int64())
}

// DeleteCommitment burns a claimed commitment row.
func (m *Manager) DeleteCommitment(ctx *storage.Context, blinded []byte) error {
	return ctx.Delete(commitmentKey(blinded))
}
