// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package op

import (
	"golang.org/x/crypto/blake2b"

	"blockwatch.cc/tzgo/tezos"
)

// Verifier checks envelope signatures. The default implementation
// delegates to tzgo; tests plug in fakes keyed by address.
type Verifier interface {
	Verify(key tezos.Key, digest []byte, sig tezos.Signature) error
}

// TzgoVerifier verifies with the key's own curve implementation.
type TzgoVerifier struct{}

func (TzgoVerifier) Verify(key tezos.Key, digest []byte, sig tezos.Signature) error {
	return key.Verify(digest, sig)
}

// SigningDigest returns the watermark-tagged digest an envelope signature
// covers.
func SigningDigest(watermark byte, msg []byte) []byte {
	d := blake2b.Sum256(append([]byte{watermark}, msg...))
	return d[:]
}

// BlindPkh derives the blinded public key hash used by fundraiser
// commitments: a keyed 20-byte blake2b of the pkh's base58 string form.
func BlindPkh(secret []byte, pkh tezos.Address) ([]byte, error) {
	h, err := blake2b.New(20, secret)
	if err != nil {
		return nil, err
	}
	h.Write([]byte(pkh.String()))
	return h.Sum(nil), nil
}
