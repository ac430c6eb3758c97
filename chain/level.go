// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package chain

import (
	"fmt"

	"blockwatch.cc/tzgo/tezos"
)

// Cycle numbers are non-negative and derived from block levels.
type Cycle int64

// Level bundles a raw block level with its positions inside cycle and
// voting period. All fields derive from the raw level plus protocol
// constants; two Levels from the same params compare by Level alone.
type Level struct {
	Level              int64
	Cycle              Cycle
	CyclePosition      int64
	VotingPeriod       int64
	VotingPosition     int64
	ExpectedCommitment bool
}

// LevelFromRaw computes the cycle and voting decomposition of a raw level.
// Level 1 is the first block of cycle 0.
func LevelFromRaw(level int64, p *tezos.Params) Level {
	if level < 1 {
		level = 1
	}
	pos := level - 1
	cyclePos := pos % p.BlocksPerCycle
	return Level{
		Level:              level,
		Cycle:              Cycle(pos / p.BlocksPerCycle),
		CyclePosition:      cyclePos,
		VotingPeriod:       pos / p.BlocksPerVotingPeriod,
		VotingPosition:     pos % p.BlocksPerVotingPeriod,
		ExpectedCommitment: (cyclePos+1)%p.BlocksPerCommitment == 0,
	}
}

func (l Level) Pred(p *tezos.Params) Level {
	return LevelFromRaw(l.Level-1, p)
}

func (l Level) Succ(p *tezos.Params) Level {
	return LevelFromRaw(l.Level+1, p)
}

// LastOfCycle is true for the block that triggers cycle-end processing.
func (l Level) LastOfCycle(p *tezos.Params) bool {
	return l.CyclePosition == p.BlocksPerCycle-1
}

// LastOfVotingPeriod is true when a voting period ends at this level.
func (l Level) LastOfVotingPeriod(p *tezos.Params) bool {
	return l.VotingPosition == p.BlocksPerVotingPeriod-1
}

func (l Level) String() string {
	return fmt.Sprintf("level %d (cycle %d pos %d)", l.Level, l.Cycle, l.CyclePosition)
}

// FirstLevelOfCycle returns the raw level starting cycle c.
func FirstLevelOfCycle(c Cycle, p *tezos.Params) int64 {
	return int64(c)*p.BlocksPerCycle + 1
}
