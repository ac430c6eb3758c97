// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

// Package op defines the typed operation pipeline: the envelope and
// content sum-type, the binary wire codec, and validation plus
// application of every operation kind including recursive internal
// operations emitted by scripts.
package op

import (
	"blockwatch.cc/tzgo/tezos"
	logpkg "github.com/echa/log"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/seed"
	"blockwatch.cc/tzcore/voting"
)

var log = logpkg.NewLogger("OPER")

// Kind discriminates operation contents on the wire and in results.
type Kind byte

const (
	KindEndorsement Kind = iota
	KindSeedNonceRevelation
	KindDoubleEndorsementEvidence
	KindDoubleBakingEvidence
	KindActivateAccount
	KindProposals
	KindBallot
	KindReveal
	KindTransaction
	KindOrigination
	KindDelegation
)

func (k Kind) String() string {
	switch k {
	case KindEndorsement:
		return "endorsement"
	case KindSeedNonceRevelation:
		return "seed_nonce_revelation"
	case KindDoubleEndorsementEvidence:
		return "double_endorsement_evidence"
	case KindDoubleBakingEvidence:
		return "double_baking_evidence"
	case KindActivateAccount:
		return "activate_account"
	case KindProposals:
		return "proposals"
	case KindBallot:
		return "ballot"
	case KindReveal:
		return "reveal"
	case KindTransaction:
		return "transaction"
	case KindOrigination:
		return "origination"
	case KindDelegation:
		return "delegation"
	default:
		return "invalid"
	}
}

// Watermark tags for signed payloads.
const (
	WatermarkEndorsement byte = 0x02
	WatermarkGeneric     byte = 0x03
)

// Operation is a signed envelope around a contents list.
type Operation struct {
	Branch    tezos.BlockHash
	Contents  []Content
	Signature tezos.Signature
}

// Content is one entry of a contents list.
type Content interface {
	OpKind() Kind
}

// Endorsement vouches for a block at the previous level, one or more
// slots strong.
type Endorsement struct {
	Block tezos.BlockHash
	Level int64
	Slots []int
}

func (e *Endorsement) OpKind() Kind { return KindEndorsement }

// SeedNonceRevelation discloses the preimage committed in an earlier
// block header.
type SeedNonceRevelation struct {
	Level int64
	Nonce seed.Nonce
}

func (s *SeedNonceRevelation) OpKind() Kind { return KindSeedNonceRevelation }

// DoubleEndorsementEvidence denounces two endorsements by one delegate at
// the same level on distinct blocks.
type DoubleEndorsementEvidence struct {
	Op1 *Operation
	Op2 *Operation
}

func (d *DoubleEndorsementEvidence) OpKind() Kind { return KindDoubleEndorsementEvidence }

// DoubleBakingEvidence denounces two signed headers for the same level.
type DoubleBakingEvidence struct {
	Header1 *chain.Header
	Header2 *chain.Header
}

func (d *DoubleBakingEvidence) OpKind() Kind { return KindDoubleBakingEvidence }

// ActivateAccount claims a fundraiser commitment.
type ActivateAccount struct {
	Pkh    tezos.Address
	Secret []byte
}

func (a *ActivateAccount) OpKind() Kind { return KindActivateAccount }

// Proposals upvotes protocol amendments during a proposal period.
type Proposals struct {
	Source    tezos.Address
	Period    int64
	Proposals []tezos.ProtocolHash
}

func (p *Proposals) OpKind() Kind { return KindProposals }

// Ballot casts one vote on the period's candidate protocol.
type Ballot struct {
	Source   tezos.Address
	Period   int64
	Proposal tezos.ProtocolHash
	Vote     voting.BallotVote
}

func (b *Ballot) OpKind() Kind { return KindBallot }

// Manager is the fee-bearing, counter-protected wrapper around reveal,
// transaction, origination and delegation contents.
type Manager struct {
	Source       tezos.Address
	Fee          chain.Tez
	Counter      int64
	GasLimit     int64
	StorageLimit int64
	Content      ManagerContent
}

func (m *Manager) OpKind() Kind { return m.Content.ManagerKind() }

// ManagerContent is the inner payload of a manager operation.
type ManagerContent interface {
	ManagerKind() Kind
}

// Reveal publishes the manager public key of an implicit account.
type Reveal struct {
	PublicKey tezos.Key
}

func (r *Reveal) ManagerKind() Kind { return KindReveal }

// Transaction moves funds and optionally invokes a contract.
type Transaction struct {
	Amount      chain.Tez
	Destination tezos.Address
	Parameters  []byte
}

func (t *Transaction) ManagerKind() Kind { return KindTransaction }

// Script pairs contract code with its initial storage.
type Script struct {
	Code    []byte
	Storage []byte
}

// Origination creates a new contract funded with credit.
type Origination struct {
	ManagerAddr    tezos.Address
	Delegate       *tezos.Address
	Script         *Script
	Spendable      bool
	Delegatable    bool
	Credit         chain.Tez
	Preorigination *tezos.Address
}

func (o *Origination) ManagerKind() Kind { return KindOrigination }

// Delegation points the source at a delegate, or clears it.
type Delegation struct {
	Delegate *tezos.Address
}

func (d *Delegation) ManagerKind() Kind { return KindDelegation }

// IsManager reports whether every content of the list is a manager
// operation. Mixed lists are invalid; a non-manager list has exactly one
// entry.
func (o *Operation) IsManager() bool {
	for _, c := range o.Contents {
		if _, ok := c.(*Manager); !ok {
			return false
		}
	}
	return len(o.Contents) > 0
}
