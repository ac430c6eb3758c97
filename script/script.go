// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

// Package script declares the interface the operation pipeline consumes
// to run Michelson contracts. Interpretation and type-checking live
// outside the core; tests plug in fakes.
package script

import (
	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/storage"
)

// InternalKind tags operations emitted by a running script.
type InternalKind byte

const (
	InternalTransaction InternalKind = iota
	InternalOrigination
	InternalDelegation
)

// InternalOp is a child operation emitted during execution. The pipeline
// assigns nonces and applies them FIFO with replay protection.
type InternalOp struct {
	Kind   InternalKind
	Source tezos.Address

	// transaction
	Amount      chain.Tez
	Destination tezos.Address
	Parameters  []byte

	// origination
	Manager        tezos.Address
	Delegate       *tezos.Address
	Spendable      bool
	Delegatable    bool
	Credit         chain.Tez
	Code           []byte
	Storage        []byte
	Preorigination *tezos.Address
}

// Call describes one contract invocation.
type Call struct {
	Source    tezos.Address
	Payer     tezos.Address
	Self      tezos.Address
	Code      []byte
	Storage   []byte
	Amount    chain.Tez
	Parameter []byte
}

// Result is the interpreter output committed by the pipeline on success.
type Result struct {
	Storage         []byte
	BigMapDiff      []byte
	StorageSizeDiff int64
	Operations      []InternalOp
}

// Runner executes a contract call against a forked context. Gas is drawn
// through the context's quota; exhaustion aborts the call.
type Runner interface {
	Execute(ctx *storage.Context, call Call) (*Result, error)
}
