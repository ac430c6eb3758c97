// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package chain

import (
	"encoding/binary"
	"time"

	"blockwatch.cc/tzgo/tezos"
	"golang.org/x/crypto/blake2b"
)

// ShellHeader is the protocol-independent part of a block header.
type ShellHeader struct {
	Level            int64
	Proto            int
	Predecessor      tezos.BlockHash
	Timestamp        time.Time
	ValidationPasses int
	OperationsHash   []byte
	Fitness          int64
	ContextHash      []byte
}

// Header is a full block header including the protocol data the baker
// signs.
type Header struct {
	Shell            ShellHeader
	Priority         int
	SeedNonceHash    []byte // 32 bytes when the level expects a commitment
	ProofOfWorkNonce [8]byte
	Signature        tezos.Signature
}

// WatermarkBlock tags bytes signed by bakers over block headers.
const WatermarkBlock byte = 0x01

// Bytes encodes everything the baker signs, in a fixed big-endian layout.
func (h *Header) Bytes() []byte {
	buf := make([]byte, 0, 256)
	var tmp [8]byte
	binary.BigEndian.PutUint64(tmp[:], uint64(h.Shell.Level))
	buf = append(buf, tmp[:]...)
	buf = append(buf, byte(h.Shell.Proto))
	buf = appendBytes(buf, []byte(h.Shell.Predecessor.String()))
	binary.BigEndian.PutUint64(tmp[:], uint64(h.Shell.Timestamp.Unix()))
	buf = append(buf, tmp[:]...)
	buf = append(buf, byte(h.Shell.ValidationPasses))
	buf = appendBytes(buf, h.Shell.OperationsHash)
	binary.BigEndian.PutUint64(tmp[:], uint64(h.Shell.Fitness))
	buf = append(buf, tmp[:]...)
	buf = appendBytes(buf, h.Shell.ContextHash)
	binary.BigEndian.PutUint32(tmp[:4], uint32(h.Priority))
	buf = append(buf, tmp[:4]...)
	if h.SeedNonceHash != nil {
		buf = append(buf, 1)
		buf = append(buf, h.SeedNonceHash...)
	} else {
		buf = append(buf, 0)
	}
	buf = append(buf, h.ProofOfWorkNonce[:]...)
	return buf
}

func appendBytes(buf, b []byte) []byte {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	buf = append(buf, n[:]...)
	return append(buf, b...)
}

// Hash digests the signed portion of the header.
func (h *Header) Hash() [32]byte {
	return blake2b.Sum256(h.Bytes())
}

// CheckProofOfWorkStamp verifies the baker ground the header nonce below
// the difficulty threshold. The first 8 bytes of the stamp digest read as
// a big-endian integer must not exceed it.
func (h *Header) CheckProofOfWorkStamp(threshold int64) bool {
	d := h.Hash()
	return binary.BigEndian.Uint64(d[:8]) <= uint64(threshold)
}
