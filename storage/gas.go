// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package storage

import (
	"encoding/binary"
	"errors"

	"blockwatch.cc/tzgo/tezos"
	"golang.org/x/crypto/blake2b"
)

var (
	ErrGasExhausted     = errors.New("storage: operation gas quota exceeded")
	ErrStorageExhausted = errors.New("storage: operation storage quota exceeded")
	ErrNoNonce          = errors.New("storage: origination nonce not initialized")
)

// accounting tracks per-operation resource counters and the origination
// nonce. Shared across forks of one context: consumed gas and generated
// addresses are never handed back by a discarded fork.
type accounting struct {
	gasLimit     int64
	gasUnlimited bool
	gasUsed      int64

	storageLimit     int64
	storageUnlimited bool
	storageUsed      int64

	nonceHash  []byte
	nonceIndex uint32
	nonceSet   bool
}

func newAccounting() *accounting {
	return &accounting{gasUnlimited: true, storageUnlimited: true}
}

func (c *Context) SetGasLimit(limit int64) {
	c.acct.gasLimit = limit
	c.acct.gasUnlimited = false
	c.acct.gasUsed = 0
}

func (c *Context) SetGasUnlimited() {
	c.acct.gasUnlimited = true
	c.acct.gasUsed = 0
}

func (c *Context) ConsumeGas(n int64) error {
	c.acct.gasUsed += n
	if !c.acct.gasUnlimited && c.acct.gasUsed > c.acct.gasLimit {
		return ErrGasExhausted
	}
	return nil
}

func (c *Context) GasConsumed() int64 {
	return c.acct.gasUsed
}

func (c *Context) SetStorageLimit(limit int64) {
	c.acct.storageLimit = limit
	c.acct.storageUnlimited = false
	c.acct.storageUsed = 0
}

func (c *Context) SetStorageUnlimited() {
	c.acct.storageUnlimited = true
	c.acct.storageUsed = 0
}

func (c *Context) ConsumeStorage(n int64) error {
	c.acct.storageUsed += n
	if !c.acct.storageUnlimited && c.acct.storageUsed > c.acct.storageLimit {
		return ErrStorageExhausted
	}
	return nil
}

func (c *Context) StorageConsumed() int64 {
	return c.acct.storageUsed
}

// InitOriginationNonce seeds fresh-address generation for one operation.
func (c *Context) InitOriginationNonce(h []byte) {
	buf := make([]byte, len(h))
	copy(buf, h)
	c.acct.nonceHash = buf
	c.acct.nonceIndex = 0
	c.acct.nonceSet = true
}

func (c *Context) UnsetOriginationNonce() {
	c.acct.nonceHash = nil
	c.acct.nonceSet = false
}

// FreshContract derives the next originated contract address from the
// operation hash and a running index.
func (c *Context) FreshContract() (tezos.Address, error) {
	if !c.acct.nonceSet {
		return tezos.Address{}, ErrNoNonce
	}
	var idx [4]byte
	binary.BigEndian.PutUint32(idx[:], c.acct.nonceIndex)
	c.acct.nonceIndex++
	digest := blake2b.Sum256(append(append([]byte{}, c.acct.nonceHash...), idx[:]...))
	return tezos.Address{Type: tezos.AddressTypeContract, Hash: digest[:20]}, nil
}
