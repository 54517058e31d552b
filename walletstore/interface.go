// Package walletstore persists the wallet's durable records: encrypted
// seeds, owned outputs, in-flight slates and finalized transactions. Only
// ciphertext ever crosses this boundary for secret material; the sealed
// slate context can be opened solely by an active session holding the
// wallet seed.
package walletstore

import (
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/mwcproject/mwcwallet/outputs"
	"github.com/mwcproject/mwcwallet/vault"
)

var (
	// ErrWalletNotFound is returned when no wallet exists for a
	// username.
	ErrWalletNotFound = errors.New("wallet not found")

	// ErrWalletExists is returned when creating a wallet under a taken
	// username.
	ErrWalletExists = errors.New("wallet already exists")

	// ErrOutputNotFound is returned when an output lookup misses.
	ErrOutputNotFound = errors.New("output not found")

	// ErrSlateNotFound is returned when a slate record lookup misses.
	ErrSlateNotFound = errors.New("slate not found")

	// ErrSlateExists is returned when recording a slate whose id has
	// already been seen, which is how replayed negotiations surface.
	ErrSlateExists = errors.New("slate already recorded")

	// ErrOutputConflict is returned when a coin chosen for locking is no
	// longer unspent, meaning another negotiation grabbed it first.
	ErrOutputConflict = errors.New("output no longer unspent")
)

// SlateRole records which side of a negotiation this wallet played.
type SlateRole uint8

const (
	// RoleSender marks slates this wallet initiated.
	RoleSender SlateRole = 0

	// RoleReceiver marks slates this wallet received into.
	RoleReceiver SlateRole = 1
)

// SlateRecord is the durable trace of one negotiation: enough to detect
// replays, expire abandoned slates, and (for the sender) recover the
// sealed signing context at finalize time.
type SlateRecord struct {
	// ID is the slate's transaction-unique id.
	ID uuid.UUID `json:"id"`

	// Role is the side this wallet played.
	Role SlateRole `json:"role"`

	// CreatedAt is when the record was written, used by the expiry
	// sweeper.
	CreatedAt time.Time `json:"created_at"`

	// Finalized is set once the negotiation produced a transaction.
	Finalized bool `json:"finalized"`

	// SealedContext is the sender's ephemeral signing secrets, sealed
	// under the wallet seed. Empty for receiver-side records.
	SealedContext []byte `json:"sealed_context,omitempty"`
}

// Store is the persistence surface consumed by the wallet core. The
// compound operations are atomic: either every mutation in the call is
// applied or none is, which is what keeps coin locking race-free and
// negotiation rollback trivial.
type Store interface {
	// CreateWallet stores the encrypted seed for a new username. Fails
	// with ErrWalletExists on collision.
	CreateWallet(username string, seed *vault.EncryptedSeed) error

	// GetEncryptedSeed fetches a user's encrypted seed.
	GetEncryptedSeed(username string) (*vault.EncryptedSeed, error)

	// PutEncryptedSeed replaces a user's encrypted seed, used for
	// passphrase changes.
	PutEncryptedSeed(username string, seed *vault.EncryptedSeed) error

	// PutOutput inserts or replaces one owned output.
	PutOutput(username string, output *outputs.OutputData) error

	// ListOutputs returns all outputs known for the user.
	ListOutputs(username string) ([]*outputs.OutputData, error)

	// NextChildIndex allocates the next key derivation index for the
	// user.
	NextChildIndex(username string) (uint32, error)

	// LockOutputsAndSaveSlate atomically marks the passed commitments
	// as locked by the slate, inserts any new outputs the slate created,
	// and records the slate itself. Fails with ErrOutputConflict if any
	// coin is not currently unspent, and with ErrSlateExists if the
	// slate id was already recorded; nothing is applied in either case.
	LockOutputsAndSaveSlate(username string, record *SlateRecord,
		lockCommits [][]byte, newOutputs []*outputs.OutputData) error

	// SaveReceivedSlate atomically records a receiver-side slate and the
	// output it created. Fails with ErrSlateExists on a replayed id.
	SaveReceivedSlate(username string, record *SlateRecord,
		newOutput *outputs.OutputData) error

	// GetSlate fetches a slate record by id.
	GetSlate(username string, id uuid.UUID) (*SlateRecord, error)

	// ForEachSlate iterates all slate records for the user.
	ForEachSlate(username string, cb func(*SlateRecord) error) error

	// FinalizeSlate atomically marks the slate finalized, marks its
	// locked inputs spent, and stores the finalized transaction for
	// idempotent replay.
	FinalizeSlate(username string, id uuid.UUID, txBytes []byte) error

	// CancelSlate atomically reverts a negotiation: outputs locked by
	// the slate return to unspent, outputs created by it are deleted,
	// and the record itself is removed.
	CancelSlate(username string, id uuid.UUID) error

	// GetTransaction fetches the finalized transaction for a slate id.
	GetTransaction(username string, id uuid.UUID) ([]byte, error)

	// ForEachUser iterates all usernames with a wallet.
	ForEachUser(cb func(username string) error) error

	// Close releases the underlying database handle.
	Close() error
}
