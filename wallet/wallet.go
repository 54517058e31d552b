// Package wallet ties one user's persisted output set to the key material
// needed to prove ownership of it. A Wallet holds no secrets itself; every
// operation that needs the seed receives it from the caller and lets it go
// out of scope when the call returns.
package wallet

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/mwcproject/mwcwallet/keychain"
	"github.com/mwcproject/mwcwallet/mw"
	"github.com/mwcproject/mwcwallet/outputs"
	"github.com/mwcproject/mwcwallet/vault"
	"github.com/mwcproject/mwcwallet/walletstore"
)

// Wallet is one user's view of the output ledger. Instances are shared
// across sessions of the same user so that the coin lock is a single
// point of serialization per wallet.
type Wallet struct {
	username string
	store    walletstore.Store

	// coinMtx serializes the select-and-lock critical section across
	// concurrent sends on this wallet. It is held only for coin
	// selection and locking, never for the rest of a negotiation.
	coinMtx sync.Mutex
}

// New creates a wallet view for the passed user.
func New(username string, store walletstore.Store) *Wallet {
	return &Wallet{
		username: username,
		store:    store,
	}
}

// Username returns the owning user.
func (w *Wallet) Username() string {
	return w.username
}

// Store exposes the persistence handle for negotiation bookkeeping.
func (w *Wallet) Store() walletstore.Store {
	return w.store
}

// WithCoinLock runs fn while holding the wallet's coin lock. Coin
// selection and the atomic lock of the selected coins must happen inside
// fn; nothing else should.
func (w *Wallet) WithCoinLock(fn func() error) error {
	w.coinMtx.Lock()
	defer w.coinMtx.Unlock()

	return fn()
}

// GetAllAvailableCoins scans the persisted output set and returns every
// output whose commitment re-derives correctly from the seed. An output
// that fails the re-derivation is not ours (or is corrupt) and is skipped
// rather than trusted.
func (w *Wallet) GetAllAvailableCoins(
	seed *vault.WalletSeed) ([]*outputs.OutputData, error) {

	keyChain, err := keychain.NewKeyChain(seed[:])
	if err != nil {
		return nil, err
	}

	stored, err := w.store.ListOutputs(w.username)
	if err != nil {
		return nil, err
	}

	coins := make([]*outputs.OutputData, 0, len(stored))
	for _, output := range stored {
		commit, err := keyChain.Commit(output.KeyPath, output.Amount)
		if err != nil {
			return nil, err
		}

		parsed, err := mw.ParseCommitment(output.Commitment)
		if err != nil {
			continue
		}
		if !commit.Equal(parsed) {
			log.Warnf("Output %s does not re-derive at path %v, "+
				"skipping", output.CommitmentHex(),
				output.KeyPath)
			continue
		}

		coins = append(coins, output)
	}

	return coins, nil
}

// NewOutput derives the next key in the wallet's tree and builds an
// output of the passed amount at that path. The output is returned along
// with its blinding factor; nothing is persisted, so the caller can make
// persistence atomic with whatever negotiation step created the output.
func (w *Wallet) NewOutput(seed *vault.WalletSeed, amount uint64,
	createdBy uuid.UUID) (*outputs.OutputData, *mw.BlindingFactor, error) {

	keyChain, err := keychain.NewKeyChain(seed[:])
	if err != nil {
		return nil, nil, err
	}

	index, err := w.store.NextChildIndex(w.username)
	if err != nil {
		return nil, nil, err
	}

	path := keychain.KeyPath{
		Account: keychain.DefaultAccount,
		Index:   index,
	}
	blind, err := keyChain.DeriveBlindingFactor(path)
	if err != nil {
		return nil, nil, err
	}

	commit := mw.NewCommitment(blind, amount)

	return &outputs.OutputData{
		Commitment: commit.Bytes(),
		KeyPath:    path,
		Amount:     amount,
		Status:     outputs.StatusUnspent,
		CreatedBy:  createdBy,
	}, blind, nil
}

// AddMinedOutput derives a fresh output confirmed at the passed height
// and persists it directly. This is the path outputs take when they are
// mined to us or otherwise appear on chain outside a negotiation.
func (w *Wallet) AddMinedOutput(seed *vault.WalletSeed, amount uint64,
	blockHeight uint64, coinbase bool) (*outputs.OutputData, error) {

	output, _, err := w.NewOutput(seed, amount, uuid.Nil)
	if err != nil {
		return nil, err
	}
	output.BlockHeight = blockHeight
	output.IsCoinbase = coinbase

	if err := w.store.PutOutput(w.username, output); err != nil {
		return nil, fmt.Errorf("unable to persist output: %w", err)
	}

	return output, nil
}

// InputBlindSum derives and sums the blinding factors of the passed
// coins, which must all belong to this wallet. Used by the sender to
// compute its blinding excess.
func (w *Wallet) InputBlindSum(seed *vault.WalletSeed,
	coins []*outputs.OutputData) (*mw.BlindingFactor, error) {

	keyChain, err := keychain.NewKeyChain(seed[:])
	if err != nil {
		return nil, err
	}

	var sum mw.BlindingFactor
	for _, coin := range coins {
		blind, err := keyChain.DeriveBlindingFactor(coin.KeyPath)
		if err != nil {
			return nil, err
		}
		sum.Add(blind)
	}

	return &sum, nil
}
