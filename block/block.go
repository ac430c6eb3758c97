// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

// Package block drives the block lifecycle: header validation, operation
// application and finalization including cycle transitions.
package block

import (
	"errors"

	"blockwatch.cc/tzgo/tezos"
	logpkg "github.com/echa/log"
	"golang.org/x/crypto/blake2b"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/delegate"
	"blockwatch.cc/tzcore/op"
	"blockwatch.cc/tzcore/roll"
	"blockwatch.cc/tzcore/script"
	"blockwatch.cc/tzcore/storage"
	"blockwatch.cc/tzcore/voting"
)

var log = logpkg.NewLogger("BLCK")

var (
	ErrInvalidProofOfWork = errors.New("block: invalid proof of work stamp")
	ErrInvalidFitness     = errors.New("block: invalid fitness")
	ErrInvalidSignature   = errors.New("block: invalid baker signature")
	ErrInvalidCommitment  = errors.New("block: unexpected seed nonce commitment")
)

const keyLastBlockPriority = "last_block_priority"

// Mode selects header checking strictness.
type Mode byte

const (
	// ModeApplication validates a complete signed header.
	ModeApplication Mode = iota
	// ModeConstruction builds a block; signature and stamp do not exist
	// yet.
	ModeConstruction
)

// Validator wires the protocol subsystems for one chain.
type Validator struct {
	Params    *tezos.Params
	Rolls     *roll.Registry
	Delegates *delegate.Manager
	Verify    op.Verifier
	Runner    script.Runner
	Vote      voting.State
}

func NewValidator(p *tezos.Params, verify op.Verifier, runner script.Runner) *Validator {
	rolls := roll.NewRegistry(p)
	return &Validator{
		Params:    p,
		Rolls:     rolls,
		Delegates: delegate.NewManager(p, rolls),
		Verify:    verify,
		Runner:    runner,
	}
}

// State carries one block application from begin to finalize.
type State struct {
	Applier     *op.Applier
	Header      *chain.Header
	Baker       tezos.Address
	PredFitness int64
	Mode        Mode
}

func (v *Validator) newApplier(level chain.Level, predHash tezos.BlockHash, priority int, baker tezos.Address) *op.Applier {
	return &op.Applier{
		Params:    v.Params,
		Rolls:     v.Rolls,
		Delegates: v.Delegates,
		Script:    v.Runner,
		Verify:    v.Verify,
		Vote:      v.Vote,
		Level:     level,
		PredHash:  predHash,
		Priority:  priority,
		Baker:     baker,
	}
}

// BeginApplication validates a foreign block header: proof-of-work
// stamp, fitness progress, baking right and signature, and the expected
// seed nonce commitment. No state is written besides the base fitness.
func (v *Validator) BeginApplication(ctx *storage.Context, header *chain.Header, predHash tezos.BlockHash, predFitness int64) (*State, error) {
	if !header.CheckProofOfWorkStamp(v.Params.ProofOfWorkThreshold) {
		return nil, ErrInvalidProofOfWork
	}
	if header.Shell.Fitness <= predFitness {
		return nil, ErrInvalidFitness
	}
	level := chain.LevelFromRaw(header.Shell.Level, v.Params)
	baker, err := v.Rolls.BakingRightsOwner(ctx, level, header.Priority)
	if err != nil {
		return nil, err
	}
	key, ok, err := v.Delegates.ManagerPubKey(ctx, baker)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrInvalidSignature
	}
	digest := op.SigningDigest(chain.WatermarkBlock, header.Bytes())
	if err := v.Verify.Verify(key, digest, header.Signature); err != nil {
		return nil, ErrInvalidSignature
	}
	if (header.SeedNonceHash != nil) != level.ExpectedCommitment {
		return nil, ErrInvalidCommitment
	}
	if err := ctx.PutInt64(op.KeyBlockFitness, 1); err != nil {
		return nil, err
	}
	log.Debugf("begin application of %s baked by %s prio %d", level, baker, header.Priority)
	return &State{
		Applier:     v.newApplier(level, predHash, header.Priority, baker),
		Header:      header,
		Baker:       baker,
		PredFitness: predFitness,
		Mode:        ModeApplication,
	}, nil
}

// BeginConstruction opens a block being built locally. The header is
// incomplete; stamp and signature checks are skipped.
func (v *Validator) BeginConstruction(ctx *storage.Context, header *chain.Header, predHash tezos.BlockHash, predFitness int64) (*State, error) {
	level := chain.LevelFromRaw(header.Shell.Level, v.Params)
	baker, err := v.Rolls.BakingRightsOwner(ctx, level, header.Priority)
	if err != nil {
		return nil, err
	}
	if (header.SeedNonceHash != nil) != level.ExpectedCommitment {
		return nil, ErrInvalidCommitment
	}
	if err := ctx.PutInt64(op.KeyBlockFitness, 1); err != nil {
		return nil, err
	}
	return &State{
		Applier:     v.newApplier(level, predHash, header.Priority, baker),
		Header:      header,
		Baker:       baker,
		PredFitness: predFitness,
		Mode:        ModeConstruction,
	}, nil
}

// ApplyOperation runs one envelope in its own fork. An envelope-level
// error leaves no trace in the context.
func (v *Validator) ApplyOperation(ctx *storage.Context, st *State, o *op.Operation) ([]op.Result, error) {
	opHash := blake2b.Sum256(op.EncodeOperation(o))
	fork := ctx.Fork()
	results, err := st.Applier.ApplyOperation(fork, opHash[:], o)
	if err != nil {
		fork.Discard()
		return nil, err
	}
	if err := fork.Commit(); err != nil {
		return nil, err
	}
	return results, nil
}

// Fitness computes the fitness this block reached so far.
func (v *Validator) Fitness(ctx *storage.Context, st *State) (int64, error) {
	gain, _, err := ctx.GetInt64(op.KeyBlockFitness)
	if err != nil {
		return 0, err
	}
	return st.PredFitness + gain, nil
}

func (v *Validator) clearBlockScope(ctx *storage.Context) error {
	keys := make([]string, 0)
	err := ctx.Range("block/", func(k string, _ []byte) error {
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
	return nil
}
