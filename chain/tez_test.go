// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package chain

import (
	"math"
	"testing"
)

func TestTezAdd(t *testing.T) {
	for _, tc := range []struct {
		a, b, want Tez
		err        error
	}{
		{0, 0, 0, nil},
		{1, 2, 3, nil},
		{math.MaxInt64 - 1, 1, math.MaxInt64, nil},
		{math.MaxInt64, 1, 0, ErrTezOverflow},
	} {
		got, err := tc.a.Add(tc.b)
		if err != tc.err {
			t.Errorf("%d+%d: err %v, want %v", tc.a, tc.b, err, tc.err)
			continue
		}
		if err == nil && got != tc.want {
			t.Errorf("%d+%d = %d, want %d", tc.a, tc.b, got, tc.want)
		}
	}
}

func TestTezSub(t *testing.T) {
	if _, err := Tez(1).Sub(2); err != ErrTezUnderflow {
		t.Errorf("1-2: err %v, want underflow", err)
	}
	got, err := Tez(5).Sub(5)
	if err != nil || got != 0 {
		t.Errorf("5-5 = %d, %v", got, err)
	}
}

func TestTezScale(t *testing.T) {
	got, err := Tez(3).Scale(4)
	if err != nil || got != 12 {
		t.Errorf("3*4 = %d, %v", got, err)
	}
	if _, err := Tez(math.MaxInt64).Scale(2); err != ErrTezMulOflow {
		t.Errorf("max*2: err %v, want overflow", err)
	}
	if _, err := Tez(1).Scale(-1); err != ErrTezMulOflow {
		t.Errorf("1*-1: err %v, want overflow", err)
	}
	if got, err := Tez(math.MaxInt64).Scale(0); err != nil || got != 0 {
		t.Errorf("max*0 = %d, %v", got, err)
	}
}

func TestTezHalf(t *testing.T) {
	if got := Tez(7).Half(); got != 3 {
		t.Errorf("half(7) = %d", got)
	}
}
