// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package chain

import (
	"testing"

	"blockwatch.cc/tzgo/tezos"
)

func testParams() *tezos.Params {
	return &tezos.Params{
		BlocksPerCycle:        8,
		BlocksPerVotingPeriod: 32,
		BlocksPerCommitment:   4,
	}
}

func TestLevelFromRaw(t *testing.T) {
	p := testParams()
	for _, tc := range []struct {
		level  int64
		cycle  Cycle
		pos    int64
		commit bool
		lastOf bool
	}{
		{1, 0, 0, false, false},
		{4, 0, 3, true, false},
		{8, 0, 7, true, true},
		{9, 1, 0, false, false},
		{16, 1, 7, true, true},
		{17, 2, 0, false, false},
	} {
		l := LevelFromRaw(tc.level, p)
		if l.Cycle != tc.cycle || l.CyclePosition != tc.pos {
			t.Errorf("level %d: got cycle %d pos %d, want %d/%d",
				tc.level, l.Cycle, l.CyclePosition, tc.cycle, tc.pos)
		}
		if l.ExpectedCommitment != tc.commit {
			t.Errorf("level %d: commitment %v, want %v", tc.level, l.ExpectedCommitment, tc.commit)
		}
		if l.LastOfCycle(p) != tc.lastOf {
			t.Errorf("level %d: lastOfCycle %v, want %v", tc.level, l.LastOfCycle(p), tc.lastOf)
		}
	}
}

func TestLevelSuccPred(t *testing.T) {
	p := testParams()
	l := LevelFromRaw(8, p)
	if s := l.Succ(p); s.Cycle != 1 || s.CyclePosition != 0 {
		t.Errorf("succ(8) = %v", s)
	}
	if pr := l.Pred(p); pr.Level != 7 {
		t.Errorf("pred(8) = %v", pr)
	}
}

func TestFirstLevelOfCycle(t *testing.T) {
	p := testParams()
	if got := FirstLevelOfCycle(0, p); got != 1 {
		t.Errorf("first(0) = %d", got)
	}
	if got := FirstLevelOfCycle(3, p); got != 25 {
		t.Errorf("first(3) = %d", got)
	}
}

func TestRollCodec(t *testing.T) {
	r := Roll(0xdeadbeef)
	got, err := RollFromBytes(r.Bytes())
	if err != nil || got != r {
		t.Errorf("roll round-trip: %v %v", got, err)
	}
	if _, err := RollFromBytes([]byte{1, 2}); err == nil {
		t.Error("short roll encoding accepted")
	}
}
