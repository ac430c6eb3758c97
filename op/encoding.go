// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package op

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/chain"
	"blockwatch.cc/tzcore/seed"
	"blockwatch.cc/tzcore/voting"
)

// Wire format: tagged big-endian binary. Every content starts with its
// Kind discriminant; unknown tags fail decoding, leaving room for
// forward-compatible extension. The signature covers the watermark-tagged
// encoding of everything before itself.

func writeBytes(w *bytes.Buffer, b []byte) {
	var n [4]byte
	binary.BigEndian.PutUint32(n[:], uint32(len(b)))
	w.Write(n[:])
	w.Write(b)
}

func writeString(w *bytes.Buffer, s string) {
	writeBytes(w, []byte(s))
}

func writeInt64(w *bytes.Buffer, v int64) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(v))
	w.Write(n[:])
}

func writeUint16(w *bytes.Buffer, v uint16) {
	var n [2]byte
	binary.BigEndian.PutUint16(n[:], v)
	w.Write(n[:])
}

func writeBool(w *bytes.Buffer, b bool) {
	if b {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}

type reader struct {
	buf *bytes.Reader
}

func (r *reader) bytes() ([]byte, error) {
	var n [4]byte
	if _, err := io.ReadFull(r.buf, n[:]); err != nil {
		return nil, err
	}
	l := binary.BigEndian.Uint32(n[:])
	if int64(l) > int64(r.buf.Len()) {
		return nil, fmt.Errorf("op: truncated field of %d bytes", l)
	}
	b := make([]byte, l)
	if _, err := io.ReadFull(r.buf, b); err != nil {
		return nil, err
	}
	return b, nil
}

func (r *reader) string() (string, error) {
	b, err := r.bytes()
	return string(b), err
}

func (r *reader) int64() (int64, error) {
	var n [8]byte
	if _, err := io.ReadFull(r.buf, n[:]); err != nil {
		return 0, err
	}
	return int64(binary.BigEndian.Uint64(n[:])), nil
}

func (r *reader) uint16() (uint16, error) {
	var n [2]byte
	if _, err := io.ReadFull(r.buf, n[:]); err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(n[:]), nil
}

func (r *reader) byte() (byte, error) {
	return r.buf.ReadByte()
}

func (r *reader) bool() (bool, error) {
	b, err := r.buf.ReadByte()
	return b != 0, err
}

func (r *reader) address() (tezos.Address, error) {
	s, err := r.string()
	if err != nil {
		return tezos.Address{}, err
	}
	return tezos.ParseAddress(s)
}

func (r *reader) optAddress() (*tezos.Address, error) {
	ok, err := r.bool()
	if err != nil || !ok {
		return nil, err
	}
	a, err := r.address()
	if err != nil {
		return nil, err
	}
	return &a, nil
}

func writeOptAddress(w *bytes.Buffer, a *tezos.Address) {
	writeBool(w, a != nil)
	if a != nil {
		writeString(w, a.String())
	}
}

// EncodeOperation serializes a signed envelope.
func EncodeOperation(o *Operation) []byte {
	w := new(bytes.Buffer)
	writeSignedPart(w, o)
	writeString(w, o.Signature.String())
	return w.Bytes()
}

// SignedBytes returns the portion of the envelope covered by its
// signature.
func SignedBytes(o *Operation) []byte {
	w := new(bytes.Buffer)
	writeSignedPart(w, o)
	return w.Bytes()
}

func writeSignedPart(w *bytes.Buffer, o *Operation) {
	writeString(w, o.Branch.String())
	writeUint16(w, uint16(len(o.Contents)))
	for _, c := range o.Contents {
		encodeContent(w, c)
	}
}

func encodeContent(w *bytes.Buffer, c Content) {
	switch v := c.(type) {
	case *Endorsement:
		w.WriteByte(byte(KindEndorsement))
		writeString(w, v.Block.String())
		writeInt64(w, v.Level)
		writeUint16(w, uint16(len(v.Slots)))
		for _, s := range v.Slots {
			writeUint16(w, uint16(s))
		}
	case *SeedNonceRevelation:
		w.WriteByte(byte(KindSeedNonceRevelation))
		writeInt64(w, v.Level)
		w.Write(v.Nonce[:])
	case *DoubleEndorsementEvidence:
		w.WriteByte(byte(KindDoubleEndorsementEvidence))
		writeBytes(w, EncodeOperation(v.Op1))
		writeBytes(w, EncodeOperation(v.Op2))
	case *DoubleBakingEvidence:
		w.WriteByte(byte(KindDoubleBakingEvidence))
		writeBytes(w, EncodeHeader(v.Header1))
		writeBytes(w, EncodeHeader(v.Header2))
	case *ActivateAccount:
		w.WriteByte(byte(KindActivateAccount))
		writeString(w, v.Pkh.String())
		writeBytes(w, v.Secret)
	case *Proposals:
		w.WriteByte(byte(KindProposals))
		writeString(w, v.Source.String())
		writeInt64(w, v.Period)
		writeUint16(w, uint16(len(v.Proposals)))
		for _, p := range v.Proposals {
			writeString(w, p.String())
		}
	case *Ballot:
		w.WriteByte(byte(KindBallot))
		writeString(w, v.Source.String())
		writeInt64(w, v.Period)
		writeString(w, v.Proposal.String())
		w.WriteByte(byte(v.Vote))
	case *Manager:
		w.WriteByte(byte(v.Content.ManagerKind()))
		writeString(w, v.Source.String())
		writeInt64(w, v.Fee.Int64())
		writeInt64(w, v.Counter)
		writeInt64(w, v.GasLimit)
		writeInt64(w, v.StorageLimit)
		switch mc := v.Content.(type) {
		case *Reveal:
			writeString(w, mc.PublicKey.String())
		case *Transaction:
			writeInt64(w, mc.Amount.Int64())
			writeString(w, mc.Destination.String())
			writeBytes(w, mc.Parameters)
		case *Origination:
			writeString(w, mc.ManagerAddr.String())
			writeOptAddress(w, mc.Delegate)
			writeBool(w, mc.Script != nil)
			if mc.Script != nil {
				writeBytes(w, mc.Script.Code)
				writeBytes(w, mc.Script.Storage)
			}
			writeBool(w, mc.Spendable)
			writeBool(w, mc.Delegatable)
			writeInt64(w, mc.Credit.Int64())
			writeOptAddress(w, mc.Preorigination)
		case *Delegation:
			writeOptAddress(w, mc.Delegate)
		}
	}
}

// DecodeOperation parses a serialized envelope.
func DecodeOperation(buf []byte) (*Operation, error) {
	r := &reader{buf: bytes.NewReader(buf)}
	o, err := decodeSignedPart(r)
	if err != nil {
		return nil, err
	}
	sig, err := r.string()
	if err != nil {
		return nil, err
	}
	o.Signature, err = tezos.ParseSignature(sig)
	if err != nil {
		return nil, err
	}
	return o, nil
}

func decodeSignedPart(r *reader) (*Operation, error) {
	branch, err := r.string()
	if err != nil {
		return nil, err
	}
	o := &Operation{}
	o.Branch, err = tezos.ParseBlockHash(branch)
	if err != nil {
		return nil, err
	}
	n, err := r.uint16()
	if err != nil {
		return nil, err
	}
	o.Contents = make([]Content, 0, n)
	for i := 0; i < int(n); i++ {
		c, err := decodeContent(r)
		if err != nil {
			return nil, err
		}
		o.Contents = append(o.Contents, c)
	}
	return o, nil
}

func decodeContent(r *reader) (Content, error) {
	tag, err := r.byte()
	if err != nil {
		return nil, err
	}
	switch Kind(tag) {
	case KindEndorsement:
		v := &Endorsement{}
		s, err := r.string()
		if err != nil {
			return nil, err
		}
		if v.Block, err = tezos.ParseBlockHash(s); err != nil {
			return nil, err
		}
		if v.Level, err = r.int64(); err != nil {
			return nil, err
		}
		n, err := r.uint16()
		if err != nil {
			return nil, err
		}
		v.Slots = make([]int, n)
		for i := range v.Slots {
			s, err := r.uint16()
			if err != nil {
				return nil, err
			}
			v.Slots[i] = int(s)
		}
		return v, nil
	case KindSeedNonceRevelation:
		v := &SeedNonceRevelation{}
		var err error
		if v.Level, err = r.int64(); err != nil {
			return nil, err
		}
		if _, err = io.ReadFull(r.buf, v.Nonce[:]); err != nil {
			return nil, err
		}
		return v, nil
	case KindDoubleEndorsementEvidence:
		b1, err := r.bytes()
		if err != nil {
			return nil, err
		}
		b2, err := r.bytes()
		if err != nil {
			return nil, err
		}
		op1, err := DecodeOperation(b1)
		if err != nil {
			return nil, err
		}
		op2, err := DecodeOperation(b2)
		if err != nil {
			return nil, err
		}
		return &DoubleEndorsementEvidence{Op1: op1, Op2: op2}, nil
	case KindDoubleBakingEvidence:
		b1, err := r.bytes()
		if err != nil {
			return nil, err
		}
		b2, err := r.bytes()
		if err != nil {
			return nil, err
		}
		h1, err := DecodeHeader(b1)
		if err != nil {
			return nil, err
		}
		h2, err := DecodeHeader(b2)
		if err != nil {
			return nil, err
		}
		return &DoubleBakingEvidence{Header1: h1, Header2: h2}, nil
	case KindActivateAccount:
		v := &ActivateAccount{}
		var err error
		if v.Pkh, err = r.address(); err != nil {
			return nil, err
		}
		if v.Secret, err = r.bytes(); err != nil {
			return nil, err
		}
		return v, nil
	case KindProposals:
		v := &Proposals{}
		var err error
		if v.Source, err = r.address(); err != nil {
			return nil, err
		}
		if v.Period, err = r.int64(); err != nil {
			return nil, err
		}
		n, err := r.uint16()
		if err != nil {
			return nil, err
		}
		v.Proposals = make([]tezos.ProtocolHash, n)
		for i := range v.Proposals {
			s, err := r.string()
			if err != nil {
				return nil, err
			}
			if v.Proposals[i], err = tezos.ParseProtocolHash(s); err != nil {
				return nil, err
			}
		}
		return v, nil
	case KindBallot:
		v := &Ballot{}
		var err error
		if v.Source, err = r.address(); err != nil {
			return nil, err
		}
		if v.Period, err = r.int64(); err != nil {
			return nil, err
		}
		s, err := r.string()
		if err != nil {
			return nil, err
		}
		if v.Proposal, err = tezos.ParseProtocolHash(s); err != nil {
			return nil, err
		}
		b, err := r.byte()
		if err != nil {
			return nil, err
		}
		v.Vote = voting.BallotVote(b)
		return v, nil
	case KindReveal, KindTransaction, KindOrigination, KindDelegation:
		return decodeManager(r, Kind(tag))
	default:
		return nil, fmt.Errorf("op: unknown content tag %d", tag)
	}
}

func decodeManager(r *reader, kind Kind) (Content, error) {
	m := &Manager{}
	var err error
	if m.Source, err = r.address(); err != nil {
		return nil, err
	}
	fee, err := r.int64()
	if err != nil {
		return nil, err
	}
	m.Fee = chain.Tez(fee)
	if m.Counter, err = r.int64(); err != nil {
		return nil, err
	}
	if m.GasLimit, err = r.int64(); err != nil {
		return nil, err
	}
	if m.StorageLimit, err = r.int64(); err != nil {
		return nil, err
	}
	switch kind {
	case KindReveal:
		s, err := r.string()
		if err != nil {
			return nil, err
		}
		k, err := tezos.ParseKey(s)
		if err != nil {
			return nil, err
		}
		m.Content = &Reveal{PublicKey: k}
	case KindTransaction:
		t := &Transaction{}
		amount, err := r.int64()
		if err != nil {
			return nil, err
		}
		t.Amount = chain.Tez(amount)
		if t.Destination, err = r.address(); err != nil {
			return nil, err
		}
		if t.Parameters, err = r.bytes(); err != nil {
			return nil, err
		}
		if len(t.Parameters) == 0 {
			t.Parameters = nil
		}
		m.Content = t
	case KindOrigination:
		o := &Origination{}
		if o.ManagerAddr, err = r.address(); err != nil {
			return nil, err
		}
		if o.Delegate, err = r.optAddress(); err != nil {
			return nil, err
		}
		hasScript, err := r.bool()
		if err != nil {
			return nil, err
		}
		if hasScript {
			o.Script = &Script{}
			if o.Script.Code, err = r.bytes(); err != nil {
				return nil, err
			}
			if o.Script.Storage, err = r.bytes(); err != nil {
				return nil, err
			}
		}
		if o.Spendable, err = r.bool(); err != nil {
			return nil, err
		}
		if o.Delegatable, err = r.bool(); err != nil {
			return nil, err
		}
		credit, err := r.int64()
		if err != nil {
			return nil, err
		}
		o.Credit = chain.Tez(credit)
		if o.Preorigination, err = r.optAddress(); err != nil {
			return nil, err
		}
		m.Content = o
	case KindDelegation:
		d := &Delegation{}
		if d.Delegate, err = r.optAddress(); err != nil {
			return nil, err
		}
		m.Content = d
	}
	return m, nil
}

// EncodeHeader serializes a full block header including its signature.
func EncodeHeader(h *chain.Header) []byte {
	w := new(bytes.Buffer)
	writeInt64(w, h.Shell.Level)
	w.WriteByte(byte(h.Shell.Proto))
	writeString(w, h.Shell.Predecessor.String())
	writeInt64(w, h.Shell.Timestamp.Unix())
	w.WriteByte(byte(h.Shell.ValidationPasses))
	writeBytes(w, h.Shell.OperationsHash)
	writeInt64(w, h.Shell.Fitness)
	writeBytes(w, h.Shell.ContextHash)
	writeInt64(w, int64(h.Priority))
	writeBool(w, h.SeedNonceHash != nil)
	if h.SeedNonceHash != nil {
		writeBytes(w, h.SeedNonceHash)
	}
	w.Write(h.ProofOfWorkNonce[:])
	writeString(w, h.Signature.String())
	return w.Bytes()
}

// DecodeHeader parses a serialized block header.
func DecodeHeader(buf []byte) (*chain.Header, error) {
	r := &reader{buf: bytes.NewReader(buf)}
	h := &chain.Header{}
	var err error
	if h.Shell.Level, err = r.int64(); err != nil {
		return nil, err
	}
	proto, err := r.byte()
	if err != nil {
		return nil, err
	}
	h.Shell.Proto = int(proto)
	s, err := r.string()
	if err != nil {
		return nil, err
	}
	if h.Shell.Predecessor, err = tezos.ParseBlockHash(s); err != nil {
		return nil, err
	}
	ts, err := r.int64()
	if err != nil {
		return nil, err
	}
	h.Shell.Timestamp = time.Unix(ts, 0).UTC()
	vp, err := r.byte()
	if err != nil {
		return nil, err
	}
	h.Shell.ValidationPasses = int(vp)
	if h.Shell.OperationsHash, err = r.bytes(); err != nil {
		return nil, err
	}
	if h.Shell.Fitness, err = r.int64(); err != nil {
		return nil, err
	}
	if h.Shell.ContextHash, err = r.bytes(); err != nil {
		return nil, err
	}
	prio, err := r.int64()
	if err != nil {
		return nil, err
	}
	h.Priority = int(prio)
	hasNonce, err := r.bool()
	if err != nil {
		return nil, err
	}
	if hasNonce {
		if h.SeedNonceHash, err = r.bytes(); err != nil {
			return nil, err
		}
	}
	if _, err = io.ReadFull(r.buf, h.ProofOfWorkNonce[:]); err != nil {
		return nil, err
	}
	sig, err := r.string()
	if err != nil {
		return nil, err
	}
	if h.Signature, err = tezos.ParseSignature(sig); err != nil {
		return nil, err
	}
	return h, nil
}
