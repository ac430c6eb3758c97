// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package voting

import (
	"bytes"
	"testing"

	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/storage"
)

func testAddr(b byte) tezos.Address {
	return tezos.Address{Type: tezos.AddressTypeEd25519, Hash: bytes.Repeat([]byte{b}, 20)}
}

func testProto(b byte) tezos.ProtocolHash {
	return tezos.ProtocolHash{Hash: tezos.Hash{Type: tezos.HashTypeProtocol, Hash: bytes.Repeat([]byte{b}, 32)}}
}

func newState(t *testing.T) (State, *storage.Context) {
	var s State
	ctx := storage.NewContext(storage.NewMemStore())
	if err := s.Init(ctx); err != nil {
		t.Fatal(err)
	}
	return s, ctx
}

func TestProposalPeriod(t *testing.T) {
	s, ctx := newState(t)
	kind, err := s.PeriodKind(ctx)
	if err != nil || kind != PeriodProposal {
		t.Fatalf("initial kind: %v %v", kind, err)
	}
	d1, d2 := testAddr(1), testAddr(2)
	p := testProto(7)
	if err := s.RecordProposals(ctx, d1, 0, []tezos.ProtocolHash{p}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordProposals(ctx, d2, 0, []tezos.ProtocolHash{p}); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordProposals(ctx, d1, 1, nil); err != ErrWrongVotingPeriod {
		t.Fatalf("wrong period: %v", err)
	}
	if err := s.RecordBallot(ctx, d1, 0, p, BallotYay); err != ErrUnexpectedBallot {
		t.Fatalf("ballot in proposal period: %v", err)
	}

	if err := s.AdvancePeriod(ctx); err != nil {
		t.Fatal(err)
	}
	kind, _ = s.PeriodKind(ctx)
	if kind != PeriodExploration {
		t.Fatalf("kind after proposals: %v", kind)
	}
	idx, _ := s.PeriodIndex(ctx)
	if idx != 1 {
		t.Fatalf("period index: %d", idx)
	}
}

func TestBallotPeriod(t *testing.T) {
	s, ctx := newState(t)
	d := testAddr(1)
	p := testProto(7)
	if err := s.RecordProposals(ctx, d, 0, []tezos.ProtocolHash{p}); err != nil {
		t.Fatal(err)
	}
	if err := s.AdvancePeriod(ctx); err != nil {
		t.Fatal(err)
	}

	if err := s.RecordBallot(ctx, d, 1, p, BallotYay); err != nil {
		t.Fatal(err)
	}
	if err := s.RecordBallot(ctx, d, 1, p, BallotNay); err != ErrDuplicateBallot {
		t.Fatalf("double vote: %v", err)
	}
	if err := s.AdvancePeriod(ctx); err != nil {
		t.Fatal(err)
	}
	kind, _ := s.PeriodKind(ctx)
	if kind != PeriodTesting {
		t.Fatalf("kind after unanimous exploration: %v", kind)
	}
	// ballots were cleared with the period
	if err := s.RecordBallot(ctx, d, 2, p, BallotYay); err != ErrUnexpectedBallot {
		t.Fatalf("ballot in testing period: %v", err)
	}
	if err := s.AdvancePeriod(ctx); err != nil {
		t.Fatal(err)
	}
	kind, _ = s.PeriodKind(ctx)
	if kind != PeriodPromotion {
		t.Fatalf("kind after testing: %v", kind)
	}
}

func TestEmptyProposalPeriodRestarts(t *testing.T) {
	s, ctx := newState(t)
	if err := s.AdvancePeriod(ctx); err != nil {
		t.Fatal(err)
	}
	kind, _ := s.PeriodKind(ctx)
	if kind != PeriodProposal {
		t.Fatalf("empty proposal period advanced to %v", kind)
	}
}
