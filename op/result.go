// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package op

import (
	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/chain"
)

// Status of one applied content. Result vectors pair positionally with
// the input contents list.
type Status byte

const (
	StatusApplied Status = iota
	StatusFailed
	StatusSkipped
	StatusBacktracked
)

func (s Status) String() string {
	switch s {
	case StatusApplied:
		return "applied"
	case StatusFailed:
		return "failed"
	case StatusSkipped:
		return "skipped"
	case StatusBacktracked:
		return "backtracked"
	default:
		return "invalid"
	}
}

// BalanceUpdate records one balance movement caused by an operation or
// by block finalization.
type BalanceUpdate struct {
	Kind     string        `json:"kind"` // contract | freezer
	Category string        `json:"category,omitempty"`
	Contract tezos.Address `json:"contract,omitempty"`
	Delegate tezos.Address `json:"delegate,omitempty"`
	Cycle    chain.Cycle   `json:"cycle,omitempty"`
	Change   int64         `json:"change"`
}

func ContractUpdate(a tezos.Address, change int64) BalanceUpdate {
	return BalanceUpdate{Kind: "contract", Contract: a, Change: change}
}

func FreezerUpdate(category string, d tezos.Address, c chain.Cycle, change int64) BalanceUpdate {
	return BalanceUpdate{Kind: "freezer", Category: category, Delegate: d, Cycle: c, Change: change}
}

// Result describes the outcome of one content, with the results of its
// internal operations appended in application order.
type Result struct {
	Kind           Kind
	Status         Status
	Errors         []*Error
	BalanceUpdates []BalanceUpdate
	ConsumedGas    int64
	StorageSize    int64
	Originated     []tezos.Address
	Internal       []Result
}

func applied(k Kind) Result {
	return Result{Kind: k, Status: StatusApplied}
}

func failed(k Kind, errs ...*Error) Result {
	return Result{Kind: k, Status: StatusFailed, Errors: errs}
}

func skipped(k Kind) Result {
	return Result{Kind: k, Status: StatusSkipped}
}

// IsSuccess is true only for fully applied results.
func (r Result) IsSuccess() bool {
	return r.Status == StatusApplied
}
