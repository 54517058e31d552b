// Package outputs tracks the transaction outputs a wallet owns: their
// status lifecycle, their classification into a balance summary, and the
// selection of spendable coins to fund a new transaction.
package outputs

import (
	"encoding/hex"

	"github.com/google/uuid"
	"github.com/mwcproject/mwcwallet/keychain"
)

// OutputStatus is the persisted lifecycle state of an owned output.
type OutputStatus uint8

const (
	// StatusUnspent means the output is on chain (or pending
	// confirmation) and not reserved by any negotiation.
	StatusUnspent OutputStatus = 0

	// StatusLocked means the output has been reserved as an input by an
	// in-flight, unfinalized slate.
	StatusLocked OutputStatus = 1

	// StatusSpent means the output has been consumed by a finalized
	// transaction and is awaiting (or has received) spend confirmation.
	StatusSpent OutputStatus = 2
)

// String returns a human readable status tag.
func (s OutputStatus) String() string {
	switch s {
	case StatusUnspent:
		return "Unspent"
	case StatusLocked:
		return "Locked"
	case StatusSpent:
		return "Spent"
	default:
		return "Unknown"
	}
}

// OutputData is one output known to belong to this wallet. The amount is
// stored in the clear locally; the commitment plus the stored key path is
// what proves ownership, since only the seed holder can re-derive the
// blinding factor that opens the commitment.
type OutputData struct {
	// Commitment is the output's Pedersen commitment, in compressed
	// form. It uniquely identifies the output on chain.
	Commitment []byte `json:"commitment"`

	// KeyPath is the derivation path of the output's blinding factor.
	KeyPath keychain.KeyPath `json:"key_path"`

	// Amount is the output value in the smallest coin unit.
	Amount uint64 `json:"amount"`

	// Status is the output's lifecycle state.
	Status OutputStatus `json:"status"`

	// IsCoinbase marks outputs minted by coinbase transactions, which
	// are subject to the maturity rule.
	IsCoinbase bool `json:"is_coinbase"`

	// BlockHeight is the height the output was confirmed at, or zero if
	// it has not been included in a block yet.
	BlockHeight uint64 `json:"block_height"`

	// LockedBy identifies the slate that reserved this output, if any.
	// Cleared when the slate is finalized or canceled.
	LockedBy uuid.UUID `json:"locked_by"`

	// CreatedBy identifies the slate that created this output, if it was
	// produced by an in-flight negotiation (a change or receive output).
	// Outputs created by a canceled slate are deleted with it.
	CreatedBy uuid.UUID `json:"created_by"`
}

// CommitmentHex returns the hex form of the commitment, used as the
// storage key and in log output.
func (o *OutputData) CommitmentHex() string {
	return hex.EncodeToString(o.Commitment)
}

// Confirmations returns how many blocks deep the output is at the passed
// chain height. An output not yet in a block has zero confirmations.
func (o *OutputData) Confirmations(chainHeight uint64) uint64 {
	if o.BlockHeight == 0 || o.BlockHeight > chainHeight {
		return 0
	}

	return chainHeight - o.BlockHeight + 1
}
