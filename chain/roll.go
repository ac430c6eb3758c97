// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package chain

import (
	"encoding/binary"
	"fmt"
)

// Roll is an opaque staking unit id. Ids are allocated monotonically and
// never renumbered; a freed roll parks in limbo until reused.
type Roll uint32

func (r Roll) Bytes() []byte {
	var buf [4]byte
	binary.BigEndian.PutUint32(buf[:], uint32(r))
	return buf[:]
}

func RollFromBytes(buf []byte) (Roll, error) {
	if len(buf) != 4 {
		return 0, fmt.Errorf("chain: invalid roll encoding length %d", len(buf))
	}
	return Roll(binary.BigEndian.Uint32(buf)), nil
}

func (r Roll) String() string {
	return fmt.Sprintf("roll-%d", uint32(r))
}
