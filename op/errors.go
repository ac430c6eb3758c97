// Copyright (c) 2021 Blockwatch Data Inc.
// Author: alex@blockwatch.cc

package op

import (
	"encoding/json"
	"fmt"

	"blockwatch.cc/tzgo/tezos"

	"blockwatch.cc/tzcore/chain"
)

// Severity classifies how an error propagates through the mempool.
type Severity byte

const (
	// Permanent: the operation can never become valid.
	Permanent Severity = iota
	// Branch: possibly valid on a different branch.
	Branch
	// Temporary: possibly valid later on the same branch.
	Temporary
	// Outdated: was valid, now pruned.
	Outdated
)

func (s Severity) String() string {
	switch s {
	case Permanent:
		return "permanent"
	case Branch:
		return "branch"
	case Temporary:
		return "temporary"
	case Outdated:
		return "outdated"
	default:
		return "invalid"
	}
}

// Error is a protocol error with a stable id and a JSON-encodable payload.
type Error struct {
	ID       string
	Severity Severity
	Data     map[string]interface{}
}

func (e *Error) Error() string {
	if len(e.Data) == 0 {
		return e.ID
	}
	return fmt.Sprintf("%s %v", e.ID, e.Data)
}

func (e *Error) MarshalJSON() ([]byte, error) {
	m := make(map[string]interface{}, len(e.Data)+2)
	for k, v := range e.Data {
		m[k] = v
	}
	m["id"] = e.ID
	m["kind"] = e.Severity.String()
	return json.Marshal(m)
}

func newError(id string, sev Severity, data map[string]interface{}) *Error {
	return &Error{ID: id, Severity: sev, Data: data}
}

func ErrWrongEndorsementPredecessor(expected, got tezos.BlockHash) *Error {
	return newError("operation.wrong_endorsement_predecessor", Temporary, map[string]interface{}{
		"expected": expected.String(), "provided": got.String(),
	})
}

func ErrInvalidEndorsementLevel(expected, got int64) *Error {
	return newError("operation.invalid_endorsement_level", Temporary, map[string]interface{}{
		"expected": expected, "provided": got,
	})
}

func ErrDuplicateEndorsement(slot int) *Error {
	return newError("operation.duplicate_endorsement", Branch, map[string]interface{}{
		"slot": slot,
	})
}

func ErrInvalidEndorsementSlot(slot int) *Error {
	return newError("operation.invalid_endorsement_slot", Permanent, map[string]interface{}{
		"slot": slot,
	})
}

func ErrInvalidDoubleEndorsementEvidence() *Error {
	return newError("block.invalid_double_endorsement_evidence", Permanent, nil)
}

func ErrInconsistentDoubleEndorsementEvidence(d1, d2 tezos.Address) *Error {
	return newError("block.inconsistent_double_endorsement_evidence", Permanent, map[string]interface{}{
		"delegate1": d1.String(), "delegate2": d2.String(),
	})
}

func ErrTooEarlyDoubleEndorsementEvidence(level, current int64) *Error {
	return newError("block.too_early_double_endorsement_evidence", Temporary, map[string]interface{}{
		"level": level, "current": current,
	})
}

func ErrOutdatedDoubleEndorsementEvidence(level, last int64) *Error {
	return newError("block.outdated_double_endorsement_evidence", Outdated, map[string]interface{}{
		"level": level, "last": last,
	})
}

func ErrUnrequiredDoubleEndorsementEvidence() *Error {
	return newError("block.unrequired_double_endorsement_evidence", Branch, nil)
}

func ErrInvalidDoubleBakingEvidence(level1, level2 int64) *Error {
	return newError("block.invalid_double_baking_evidence", Permanent, map[string]interface{}{
		"level1": level1, "level2": level2,
	})
}

func ErrInconsistentDoubleBakingEvidence(d1, d2 tezos.Address) *Error {
	return newError("block.inconsistent_double_baking_evidence", Permanent, map[string]interface{}{
		"delegate1": d1.String(), "delegate2": d2.String(),
	})
}

func ErrTooEarlyDoubleBakingEvidence(level, current int64) *Error {
	return newError("block.too_early_double_baking_evidence", Temporary, map[string]interface{}{
		"level": level, "current": current,
	})
}

func ErrOutdatedDoubleBakingEvidence(level, last int64) *Error {
	return newError("block.outdated_double_baking_evidence", Outdated, map[string]interface{}{
		"level": level, "last": last,
	})
}

func ErrUnrequiredDoubleBakingEvidence() *Error {
	return newError("block.unrequired_double_baking_evidence", Branch, nil)
}

func ErrInvalidActivation(pkh tezos.Address) *Error {
	return newError("operation.invalid_activation", Permanent, map[string]interface{}{
		"pkh": pkh.String(),
	})
}

func ErrWrongVotingPeriod(expected, got int64) *Error {
	return newError("operation.wrong_voting_period", Temporary, map[string]interface{}{
		"current": expected, "provided": got,
	})
}

func ErrProposalsFromNonDelegate(a tezos.Address) *Error {
	return newError("operation.proposals_from_non_delegate", Permanent, map[string]interface{}{
		"source": a.String(),
	})
}

func ErrUnrevealedNonceCommitment(level int64) *Error {
	return newError("operation.no_nonce_commitment", Permanent, map[string]interface{}{
		"level": level,
	})
}

func ErrInconsistentNonceRevelation(level int64) *Error {
	return newError("operation.inconsistent_nonce_revelation", Permanent, map[string]interface{}{
		"level": level,
	})
}

func ErrPreviouslyRevealedNonce(level int64) *Error {
	return newError("operation.previously_revealed_nonce", Permanent, map[string]interface{}{
		"level": level,
	})
}

func ErrCounterInThePast(src tezos.Address, expected, got int64) *Error {
	return newError("contract.counter_in_the_past", Permanent, map[string]interface{}{
		"contract": src.String(), "expected": expected, "provided": got,
	})
}

func ErrCounterInTheFuture(src tezos.Address, expected, got int64) *Error {
	return newError("contract.counter_in_the_future", Temporary, map[string]interface{}{
		"contract": src.String(), "expected": expected, "provided": got,
	})
}

func ErrUnallocatedContract(a tezos.Address) *Error {
	return newError("contract.non_existing_contract", Branch, map[string]interface{}{
		"contract": a.String(),
	})
}

func ErrMultipleRevelation() *Error {
	return newError("contract.multiple_revelation", Permanent, nil)
}

func ErrUnrevealedManagerKey(a tezos.Address) *Error {
	return newError("contract.unrevealed_key", Branch, map[string]interface{}{
		"contract": a.String(),
	})
}

func ErrInvalidSignature() *Error {
	return newError("operation.invalid_signature", Permanent, nil)
}

func ErrInconsistentSources() *Error {
	return newError("operation.inconsistent_sources", Permanent, nil)
}

func ErrBalanceTooLow(a tezos.Address, balance, needed chain.Tez) *Error {
	return newError("contract.balance_too_low", Temporary, map[string]interface{}{
		"contract": a.String(), "balance": balance.Int64(), "amount": needed.Int64(),
	})
}

func ErrInternalOperationReplay(nonce uint32) *Error {
	return newError("internal_operation_replay", Permanent, map[string]interface{}{
		"nonce": nonce,
	})
}

func ErrGasExhausted() *Error {
	return newError("gas_exhausted.operation", Permanent, nil)
}

func ErrStorageExhausted() *Error {
	return newError("storage_exhausted.operation", Temporary, nil)
}

func ErrRuntime(err error) *Error {
	return newError("contract.runtime_error", Permanent, map[string]interface{}{
		"details": err.Error(),
	})
}
