// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package op

import (
	"bytes"
	"fmt"
	"io"

	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/seed"
	"blockwatch.cc/tzcore/storage"
)

// NonceCommitment tracks one seed-nonce commitment from a block header
// until its revelation or forfeiture at the cycle boundary.
type NonceCommitment struct {
	Level    int64
	Hash     [32]byte
	Nonce    seed.Nonce
	Revealed bool
	Delegate tezos.Address
	Fees     chain.Tez
	Rewards  chain.Tez
}

func nonceKey(level int64) string {
	return fmt.Sprintf("nonces/%016d", level)
}

// PutNonceCommitment records a fresh commitment at block finalization.
func PutNonceCommitment(ctx *storage.Context, n *NonceCommitment) error {
	w := new(bytes.Buffer)
	writeBool(w, n.Revealed)
	w.Write(n.Hash[:])
	w.Write(n.Nonce[:])
	writeInt64(w, n.Fees.Int64())
	writeInt64(w, n.Rewards.Int64())
	writeString(w, n.Delegate.String())
	return ctx.Put(nonceKey(n.Level), w.Bytes())
}

// GetNonceCommitment reads the commitment state at a level, if any.
func GetNonceCommitment(ctx *storage.Context, level int64) (*NonceCommitment, bool, error) {
	buf, ok, err := ctx.Get(nonceKey(level))
	if err != nil || !ok {
		return nil, ok, err
	}
	n, err := decodeNonceCommitment(level, buf)
	if err != nil {
		return nil, false, err
	}
	return n, true, nil
}

func decodeNonceCommitment(level int64, buf []byte) (*NonceCommitment, error) {
	r := &reader{buf: bytes.NewReader(buf)}
	n := &NonceCommitment{Level: level}
	var err error
	if n.Revealed, err = r.bool(); err != nil {
		return nil, err
	}
	if _, err = io.ReadFull(r.buf, n.Hash[:]); err != nil {
		return nil, err
	}
	if _, err = io.ReadFull(r.buf, n.Nonce[:]); err != nil {
		return nil, err
	}
	fees, err := r.int64()
	if err != nil {
		return nil, err
	}
	n.Fees = chain.Tez(fees)
	rewards, err := r.int64()
	if err != nil {
		return nil, err
	}
	n.Rewards = chain.Tez(rewards)
	if n.Delegate, err = r.address(); err != nil {
		return nil, err
	}
	return n, nil
}

// DeleteNonceCommitment prunes a settled commitment.
func DeleteNonceCommitment(ctx *storage.Context, level int64) error {
	return ctx.Delete(nonceKey(level))
}

// RangeNonceCommitments visits all pending commitments with levels in
// [from, to] in level order.
func RangeNonceCommitments(ctx *storage.Context, from, to int64, fn func(*NonceCommitment) error) error {
	return ctx.Range("nonces/", func(k string, v []byte) error {
		var level int64
		if _, err := fmt.Sscanf(k[len("nonces/"):], "%d", &level); err != nil {
			return err
		}
		if level < from || level > to {
			return nil
		}
		n, err := decodeNonceCommitment(level, v)
		if err != nil {
			return err
		}
		return fn(n)
	})
}
