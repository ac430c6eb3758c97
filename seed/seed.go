// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

// Package seed implements the deterministic byte-stream generator behind
// rights selection and snapshot choice. All digests are blake2b-256 and
// all counters big-endian, so sequences are bit-exact across platforms.
package seed

import (
	"encoding/binary"
	"errors"

	"golang.org/x/crypto/blake2b"
)

const Size = 32

type Seed [Size]byte

// Nonce is the preimage a baker commits to in a block header and reveals
// one cycle window later.
type Nonce [Size]byte

var ErrBadBound = errors.New("seed: non-positive sampling bound")

// Initialize derives a sub-seed by absorbing the ordered tags into the
// cycle seed. Tags are raw bytes, no length prefixes.
func Initialize(s Seed, tags ...[]byte) Sequence {
	h, _ := blake2b.New256(nil)
	h.Write(s[:])
	for _, t := range tags {
		h.Write(t)
	}
	var st [Size]byte
	copy(st[:], h.Sum(nil))
	return Sequence{state: st}
}

// Sequence is an infinite deterministic byte stream. Values are immutable;
// draws return the advanced sequence.
type Sequence struct {
	state   [Size]byte
	counter uint32
	block   []byte
	used    int
}

// Advance skips n 32-byte blocks of the stream (eight 32-bit chunks each)
// and resumes drawing at the start of a fresh block.
func (s Sequence) Advance(n uint32) Sequence {
	s.counter += n
	s.block = nil
	s.used = 0
	return s
}

func (s *Sequence) next4() []byte {
	if s.block == nil || s.used+4 > len(s.block) {
		var ctr [4]byte
		binary.BigEndian.PutUint32(ctr[:], s.counter)
		d := blake2b.Sum256(append(append([]byte{}, s.state[:]...), ctr[:]...))
		s.counter++
		s.block = d[:]
		s.used = 0
	}
	out := s.block[s.used : s.used+4]
	s.used += 4
	return out
}

// TakeInt32 draws a uniform value in [0, bound) by rejection sampling on
// 31-bit big-endian chunks.
func (s Sequence) TakeInt32(bound int32) (int32, Sequence, error) {
	if bound <= 0 {
		return 0, s, ErrBadBound
	}
	max := (uint32(1) << 31 / uint32(bound)) * uint32(bound)
	for {
		raw := binary.BigEndian.Uint32(s.next4()) &^ (1 << 31)
		if raw < max {
			return int32(raw % uint32(bound)), s, nil
		}
	}
}

// Hash digests arbitrary bytes with the consensus hash.
func Hash(b []byte) [Size]byte {
	return blake2b.Sum256(b)
}

// NonceHash is the commitment written into block headers.
func NonceHash(n Nonce) [Size]byte {
	return blake2b.Sum256(n[:])
}

// Evolve folds one revealed nonce into the forming seed of a future cycle.
func Evolve(s Seed, n Nonce) Seed {
	h, _ := blake2b.New256(nil)
	h.Write(s[:])
	h.Write(n[:])
	var out Seed
	copy(out[:], h.Sum(nil))
	return out
}

// Renew derives the base of a future cycle seed from its predecessor.
func Renew(s Seed) Seed {
	d := blake2b.Sum256(s[:])
	var out Seed
	copy(out[:], d[:])
	return out
}
