// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package chain

import (
	"errors"
	"fmt"
	"math"
)

// Tez is an amount of mutez. All protocol arithmetic on amounts is
// overflow-checked; a negative Tez never occurs in committed state.
type Tez int64

var (
	ErrTezOverflow  = errors.New("chain: tez addition overflow")
	ErrTezUnderflow = errors.New("chain: tez subtraction underflow")
	ErrTezMulOflow  = errors.New("chain: tez multiplication overflow")
)

const Zero Tez = 0

func (t Tez) Int64() int64 {
	return int64(t)
}

func (t Tez) IsZero() bool {
	return t == 0
}

// Add returns t+x or fails when the sum exceeds the int64 range.
func (t Tez) Add(x Tez) (Tez, error) {
	if x > 0 && t > math.MaxInt64-x {
		return 0, ErrTezOverflow
	}
	if x < 0 && t < math.MinInt64-x {
		return 0, ErrTezOverflow
	}
	return t + x, nil
}

// Sub returns t-x or fails when the result would be negative.
func (t Tez) Sub(x Tez) (Tez, error) {
	if x > t {
		return 0, ErrTezUnderflow
	}
	return t - x, nil
}

// Scale returns t*n or fails on overflow. n must be non-negative.
func (t Tez) Scale(n int64) (Tez, error) {
	if n < 0 {
		return 0, ErrTezMulOflow
	}
	if n == 0 || t == 0 {
		return 0, nil
	}
	if int64(t) > math.MaxInt64/n {
		return 0, ErrTezMulOflow
	}
	return t * Tez(n), nil
}

// Div returns t/n rounded towards zero. n must be positive.
func (t Tez) Div(n int64) Tez {
	if n <= 0 {
		return 0
	}
	return t / Tez(n)
}

// Half splits t into the share credited to an accuser during slashing.
// The remainder is burned.
func (t Tez) Half() Tez {
	return t / 2
}

func (t Tez) String() string {
	return fmt.Sprintf("%d.%06d", t/1000000, t%1000000)
}
