// Package txerrors enumerates the error kinds the core must distinguish
// when validating transactions, executing blocks, and handling votes.
//
// Every sentinel carries a short code so callers can extract a stable
// machine-readable tag from an error chain without string-matching the
// full message (mirrors the "CODE|Name: description" convention used
// across this codebase's other error tables).
package txerrors

import (
	"errors"
	"strings"
)

// Transaction-level errors (§7 "tx-level" row).
var (
	ErrMalformed       = errors.New("TX1|Malformed: transaction structure is invalid or out of bounds")
	ErrBadNonce        = errors.New("TX2|BadNonce: transaction nonce does not match payer's expected next nonce")
	ErrBadSignature    = errors.New("TX3|BadSignature: signature count or verification failed")
	ErrUnresolvable    = errors.New("TX4|Unresolvable: a declared account could not be resolved")
	ErrUnauthorized    = errors.New("TX5|Unauthorized: a writable account is not owned by the target contract")
	ErrContractTrap    = errors.New("TX6|ContractTrap: contract execution trapped")
	ErrFuelExhausted   = errors.New("TX7|FuelExhausted: contract execution exceeded its fuel budget")
	ErrMemoryExceeded  = errors.New("TX8|MemoryExceeded: contract execution exceeded its memory ceiling")
	ErrContractFailure = errors.New("TX9|ContractFailure: contract returned an explicit error")
)

// Block-level errors (§7 "block-level, peer-scoring concern" row).
var (
	ErrUnknownParent       = errors.New("BLK1|UnknownParent: block references a parent not present in the forest")
	ErrReorgTooDeep        = errors.New("BLK2|ReorgTooDeep: block would reorganize beyond the maximum allowed depth")
	ErrStateRootMismatch   = errors.New("BLK3|StateRootMismatch: recomputed state root disagrees with the block's declared root")
	ErrBadProducerSig      = errors.New("BLK4|BadProducerSignature: block producer signature does not verify")
	ErrNotLeaderForSlot    = errors.New("BLK5|NotLeaderForSlot: block producer is not the scheduled leader for its slot")
	ErrDuplicateBlockHash  = errors.New("BLK6|DuplicateBlockHash: a block with this hash already exists in the forest")
)

// Vote-level errors (silent per §7, but still distinguished internally).
var (
	ErrEquivocatingVote = errors.New("VOTE1|EquivocatingVote: validator signed conflicting votes at the same height")
	ErrUnknownVoteTarget = errors.New("VOTE2|UnknownVoteTarget: vote targets a block not present in the forest")
	ErrBadVoteSignature  = errors.New("VOTE3|BadVoteSignature: vote signature does not verify")
)

// Process-fatal errors (§7 "fatal if persistent" row).
var (
	ErrStorageFault = errors.New("FATAL1|StorageFault: the persistent store returned an unrecoverable error")
	ErrNetworkFault = errors.New("FATAL2|NetworkFault: the gossip transport returned an unrecoverable error")
)

// GetErrorCode extracts the "TX3"-style code prefixing an error message.
func GetErrorCode(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if !strings.Contains(s, "|") {
		return ""
	}
	return strings.TrimSpace(strings.SplitN(s, "|", 2)[0])
}

// GetErrorName extracts the "BadNonce"-style short name from an error message.
func GetErrorName(err error) string {
	if err == nil {
		return ""
	}
	s := err.Error()
	if !strings.Contains(s, "|") || !strings.Contains(s, ":") {
		return s
	}
	nameDesc := strings.SplitN(s, "|", 2)[1]
	nameParts := strings.SplitN(nameDesc, ":", 2)
	return strings.TrimSpace(nameParts[0])
}
