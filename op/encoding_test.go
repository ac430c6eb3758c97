// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package op

import (
	"bytes"
	"testing"
	"time"

	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/seed"
	"blockwatch.cc/tzcore/voting"
)

func testAddr(b byte) tezos.Address {
	return tezos.Address{Type: tezos.AddressTypeEd25519, Hash: bytes.Repeat([]byte{b}, 20)}
}

func testContractAddr(b byte) tezos.Address {
	return tezos.Address{Type: tezos.AddressTypeContract, Hash: bytes.Repeat([]byte{b}, 20)}
}

func testKey(b byte) tezos.Key {
	return tezos.Key{Type: tezos.KeyTypeEd25519, Data: bytes.Repeat([]byte{b}, 32)}
}

func testSig(b byte) tezos.Signature {
	return tezos.Signature{Type: tezos.SignatureTypeEd25519, Data: bytes.Repeat([]byte{b}, 64)}
}

func testBlockHash(b byte) tezos.BlockHash {
	return tezos.BlockHash{Hash: tezos.Hash{Type: tezos.HashTypeBlock, Hash: bytes.Repeat([]byte{b}, 32)}}
}

func testProtoHash(b byte) tezos.ProtocolHash {
	return tezos.ProtocolHash{Hash: tezos.Hash{Type: tezos.HashTypeProtocol, Hash: bytes.Repeat([]byte{b}, 32)}}
}

func testHeader(level int64, prio int, sigByte byte) *chain.Header {
	h := &chain.Header{
		Shell: chain.ShellHeader{
			Level:            level,
			Proto:            3,
			Predecessor:      testBlockHash(0xaa),
			Timestamp:        time.Unix(1600000000, 0).UTC(),
			ValidationPasses: 4,
			OperationsHash:   bytes.Repeat([]byte{0x11}, 32),
			Fitness:          level + 10,
			ContextHash:      bytes.Repeat([]byte{0x22}, 32),
		},
		Priority:  prio,
		Signature: testSig(sigByte),
	}
	copy(h.ProofOfWorkNonce[:], bytes.Repeat([]byte{0x33}, 8))
	return h
}

func roundTrip(t *testing.T, o *Operation) {
	t.Helper()
	enc := EncodeOperation(o)
	dec, err := DecodeOperation(enc)
	if err != nil {
		t.Fatalf("decode %s: %v", o.Contents[0].OpKind(), err)
	}
	re := EncodeOperation(dec)
	if !bytes.Equal(enc, re) {
		t.Fatalf("%s: encode(decode(op)) differs from encode(op)", o.Contents[0].OpKind())
	}
}

func TestCodecRoundTrip(t *testing.T) {
	branch := testBlockHash(0x01)
	sig := testSig(0x02)
	var nonce seed.Nonce
	copy(nonce[:], bytes.Repeat([]byte{0x44}, 32))
	dlg := testAddr(9)

	endorse := &Operation{
		Branch:    branch,
		Contents:  []Content{&Endorsement{Block: testBlockHash(0x05), Level: 41, Slots: []int{3, 7, 12}}},
		Signature: sig,
	}
	roundTrip(t, endorse)

	roundTrip(t, &Operation{
		Branch:    branch,
		Contents:  []Content{&SeedNonceRevelation{Level: 12, Nonce: nonce}},
		Signature: sig,
	})

	roundTrip(t, &Operation{
		Branch: branch,
		Contents: []Content{&DoubleEndorsementEvidence{
			Op1: endorse,
			Op2: &Operation{
				Branch:    branch,
				Contents:  []Content{&Endorsement{Block: testBlockHash(0x06), Level: 41, Slots: []int{3}}},
				Signature: sig,
			},
		}},
		Signature: sig,
	})

	roundTrip(t, &Operation{
		Branch: branch,
		Contents: []Content{&DoubleBakingEvidence{
			Header1: testHeader(30, 0, 0x0a),
			Header2: testHeader(30, 2, 0x0b),
		}},
		Signature: sig,
	})

	roundTrip(t, &Operation{
		Branch:    branch,
		Contents:  []Content{&ActivateAccount{Pkh: testAddr(4), Secret: []byte("activation-code")}},
		Signature: sig,
	})

	roundTrip(t, &Operation{
		Branch: branch,
		Contents: []Content{&Proposals{
			Source:    dlg,
			Period:    2,
			Proposals: []tezos.ProtocolHash{testProtoHash(1), testProtoHash(2)},
		}},
		Signature: sig,
	})

	roundTrip(t, &Operation{
		Branch: branch,
		Contents: []Content{&Ballot{
			Source:   dlg,
			Period:   3,
			Proposal: testProtoHash(1),
			Vote:     voting.BallotYay,
		}},
		Signature: sig,
	})
}

func TestCodecRoundTripManager(t *testing.T) {
	branch := testBlockHash(0x01)
	sig := testSig(0x02)
	src := testAddr(1)
	mk := func(c ManagerContent) *Operation {
		return &Operation{
			Branch: branch,
			Contents: []Content{&Manager{
				Source:       src,
				Fee:          chain.Tez(1000),
				Counter:      7,
				GasLimit:     10000,
				StorageLimit: 300,
				Content:      c,
			}},
			Signature: sig,
		}
	}
	roundTrip(t, mk(&Reveal{PublicKey: testKey(3)}))
	roundTrip(t, mk(&Transaction{Amount: 5000, Destination: testContractAddr(2), Parameters: []byte("(Pair 1 2)")}))
	roundTrip(t, mk(&Transaction{Amount: 1, Destination: testAddr(2)}))
	dlg := testAddr(8)
	roundTrip(t, mk(&Origination{
		ManagerAddr: src,
		Delegate:    &dlg,
		Script:      &Script{Code: []byte("code"), Storage: []byte("storage")},
		Spendable:   true,
		Delegatable: false,
		Credit:      999,
	}))
	roundTrip(t, mk(&Origination{ManagerAddr: src, Credit: 1}))
	roundTrip(t, mk(&Delegation{Delegate: &dlg}))
	roundTrip(t, mk(&Delegation{}))

	// batches survive too
	batch := &Operation{
		Branch: branch,
		Contents: []Content{
			&Manager{Source: src, Fee: 10, Counter: 1, GasLimit: 100, StorageLimit: 0, Content: &Reveal{PublicKey: testKey(3)}},
			&Manager{Source: src, Fee: 10, Counter: 2, GasLimit: 100, StorageLimit: 0, Content: &Transaction{Amount: 5, Destination: testAddr(2)}},
		},
		Signature: sig,
	}
	roundTrip(t, batch)
}

func TestCodecRejectsGarbage(t *testing.T) {
	if _, err := DecodeOperation([]byte{0xff, 0xff}); err == nil {
		t.Fatal("garbage decoded")
	}
	// unknown content tag
	o := &Operation{
		Branch:    testBlockHash(1),
		Contents:  []Content{&ActivateAccount{Pkh: testAddr(1), Secret: []byte("s")}},
		Signature: testSig(1),
	}
	enc := EncodeOperation(o)
	// patch the tag byte following the branch string (4-byte length prefix
	// + value) and the 2-byte content count
	tagPos := 4 + int(enc[3]) + 2
	enc[tagPos] = 0x7f
	if _, err := DecodeOperation(enc); err == nil {
		t.Fatal("unknown tag decoded")
	}
}

func TestHeaderCodecRoundTrip(t *testing.T) {
	h := testHeader(99, 1, 0x09)
	h.SeedNonceHash = bytes.Repeat([]byte{0x55}, 32)
	enc := EncodeHeader(h)
	dec, err := DecodeHeader(enc)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(enc, EncodeHeader(dec)) {
		t.Fatal("header round trip differs")
	}
	if dec.Shell.Level != 99 || dec.Priority != 1 || dec.SeedNonceHash == nil {
		t.Fatalf("header fields lost: %+v", dec)
	}
}
