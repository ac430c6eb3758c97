// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

// Package voting records protocol amendment proposals and ballots and
// advances the amendment state machine at voting period boundaries.
package voting

import (
	"errors"
	"fmt"

	"blockwatch.cc/tzgo/tezos"
	logpkg "github.com/echa/log"

	"blockwatch.cc/tzcore/storage"
)

var log = logpkg.NewLogger("VOTE")

// PeriodKind walks proposal -> exploration -> testing -> promotion and
// wraps around.
type PeriodKind byte

const (
	PeriodProposal PeriodKind = iota
	PeriodExploration
	PeriodTesting
	PeriodPromotion
)

func (k PeriodKind) String() string {
	switch k {
	case PeriodProposal:
		return "proposal"
	case PeriodExploration:
		return "testing_vote"
	case PeriodTesting:
		return "testing"
	case PeriodPromotion:
		return "promotion_vote"
	default:
		return "invalid"
	}
}

// BallotVote is a delegate's stance on the period's proposal.
type BallotVote byte

const (
	BallotYay BallotVote = iota
	BallotNay
	BallotPass
)

var (
	ErrWrongVotingPeriod  = errors.New("voting: wrong voting period")
	ErrUnexpectedProposal = errors.New("voting: no proposals expected in this period")
	ErrUnexpectedBallot   = errors.New("voting: no ballot expected in this period")
	ErrDuplicateBallot    = errors.New("voting: delegate already voted")
)

const (
	keyPeriodKind  = "votes/period_kind"
	keyPeriodIndex = "votes/period_index"
	keyCandidate   = "votes/candidate"
)

func proposalKey(p tezos.ProtocolHash, d tezos.Address) string {
	return fmt.Sprintf("votes/proposals/%s/%s", p, d)
}

func ballotKey(d tezos.Address) string {
	return "votes/ballot/" + d.String()
}

// State wraps amendment bookkeeping over a context.
type State struct{}

func (s State) Init(ctx *storage.Context) error {
	if err := ctx.PutInt64(keyPeriodIndex, 0); err != nil {
		return err
	}
	return ctx.Put(keyPeriodKind, []byte{byte(PeriodProposal)})
}

func (s State) PeriodIndex(ctx *storage.Context) (int64, error) {
	v, ok, err := ctx.GetInt64(keyPeriodIndex)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, storage.StorageError{Path: keyPeriodIndex}
	}
	return v, nil
}

func (s State) PeriodKind(ctx *storage.Context) (PeriodKind, error) {
	buf, ok, err := ctx.Get(keyPeriodKind)
	if err != nil {
		return 0, err
	}
	if !ok || len(buf) != 1 {
		return 0, storage.StorageError{Path: keyPeriodKind}
	}
	return PeriodKind(buf[0]), nil
}

// RecordProposals registers upvotes of a delegate during a proposal
// period.
func (s State) RecordProposals(ctx *storage.Context, d tezos.Address, period int64, proposals []tezos.ProtocolHash) error {
	cur, err := s.PeriodIndex(ctx)
	if err != nil {
		return err
	}
	if period != cur {
		return ErrWrongVotingPeriod
	}
	kind, err := s.PeriodKind(ctx)
	if err != nil {
		return err
	}
	if kind != PeriodProposal {
		return ErrUnexpectedProposal
	}
	for _, p := range proposals {
		if err := ctx.Put(proposalKey(p, d), []byte{1}); err != nil {
			return err
		}
	}
	return nil
}

// RecordBallot registers one delegate ballot during a vote period.
func (s State) RecordBallot(ctx *storage.Context, d tezos.Address, period int64, proposal tezos.ProtocolHash, vote BallotVote) error {
	cur, err := s.PeriodIndex(ctx)
	if err != nil {
		return err
	}
	if period != cur {
		return ErrWrongVotingPeriod
	}
	kind, err := s.PeriodKind(ctx)
	if err != nil {
		return err
	}
	if kind != PeriodExploration && kind != PeriodPromotion {
		return ErrUnexpectedBallot
	}
	ok, err := ctx.Has(ballotKey(d))
	if err != nil {
		return err
	}
	if ok {
		return ErrDuplicateBallot
	}
	return ctx.Put(ballotKey(d), []byte{byte(vote)})
}

// countBallots tallies the current period.
func (s State) countBallots(ctx *storage.Context) (yay, nay, pass int64, err error) {
	err = ctx.Range("votes/ballot/", func(_ string, v []byte) error {
		if len(v) != 1 {
			return nil
		}
		switch BallotVote(v[0]) {
		case BallotYay:
			yay++
		case BallotNay:
			nay++
		case BallotPass:
			pass++
		}
		return nil
	})
	return
}

func (s State) clearPeriod(ctx *storage.Context) error {
	for _, prefix := range []string{"votes/ballot/", "votes/proposals/"} {
		keys := make([]string, 0)
		err := ctx.Range(prefix, func(k string, _ []byte) error {
			keys = append(keys, k)
			return nil
		})
		if err != nil {
			return err
		}
		for _, k := range keys {
			if err := ctx.Delete(k); err != nil {
				return err
			}
		}
	}
	return nil
}

// AdvancePeriod closes the ending period and opens the next one. A vote
// period moves forward only on supermajority; otherwise the cycle resets
// to a fresh proposal period.
func (s State) AdvancePeriod(ctx *storage.Context) error {
	kind, err := s.PeriodKind(ctx)
	if err != nil {
		return err
	}
	idx, err := s.PeriodIndex(ctx)
	if err != nil {
		return err
	}
	next := PeriodProposal
	switch kind {
	case PeriodProposal:
		// most upvoted proposal becomes the candidate; skipped here when
		// no proposal was recorded
		winner, found, err := s.mostUpvoted(ctx)
		if err != nil {
			return err
		}
		if found {
			if err := ctx.Put(keyCandidate, []byte(winner.String())); err != nil {
				return err
			}
			next = PeriodExploration
		}
	case PeriodExploration, PeriodPromotion:
		yay, nay, pass, err := s.countBallots(ctx)
		if err != nil {
			return err
		}
		total := yay + nay + pass
		if total > 0 && yay*100 >= (yay+nay)*80 && yay+nay > 0 {
			if kind == PeriodExploration {
				next = PeriodTesting
			}
			// promotion success would activate the candidate protocol,
			// which is outside the core
		}
		log.Infof("voting period %d (%s) closed: %d yay %d nay %d pass", idx, kind, yay, nay, pass)
	case PeriodTesting:
		next = PeriodPromotion
	}
	if err := s.clearPeriod(ctx); err != nil {
		return err
	}
	if err := ctx.Put(keyPeriodKind, []byte{byte(next)}); err != nil {
		return err
	}
	return ctx.PutInt64(keyPeriodIndex, idx+1)
}

func (s State) mostUpvoted(ctx *storage.Context) (tezos.ProtocolHash, bool, error) {
	counts := make(map[string]int)
	err := ctx.Range("votes/proposals/", func(k string, _ []byte) error {
		rest := k[len("votes/proposals/"):]
		for i := 0; i < len(rest); i++ {
			if rest[i] == '/' {
				counts[rest[:i]]++
				break
			}
		}
		return nil
	})
	if err != nil {
		return tezos.ProtocolHash{}, false, err
	}
	var best string
	for p, n := range counts {
		if best == "" || n > counts[best] || (n == counts[best] && p < best) {
			best = p
		}
	}
	if best == "" {
		return tezos.ProtocolHash{}, false, nil
	}
	h, err := tezos.ParseProtocolHash(best)
	return h, true, err
}
