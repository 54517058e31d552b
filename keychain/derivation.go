package keychain

import (
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil/hdkeychain"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/mwcproject/mwcwallet/mw"
)

const (
	// BIP0043Purpose is the hardened purpose field used as the root of
	// the wallet's derivation paths. All blinding factors the wallet
	// spends with descend from m/purpose'/account'/index.
	BIP0043Purpose = 593

	// DefaultAccount is the account used for all outputs until account
	// management is exposed.
	DefaultAccount = 0
)

// KeyPath identifies a single derived key within the wallet's key tree. It
// is stored alongside each owned output so that the blinding factor can be
// re-derived from the master seed at spend time instead of being persisted.
type KeyPath struct {
	// Account is the hardened account number.
	Account uint32

	// Index is the non-hardened leaf index.
	Index uint32
}

// String returns the conventional path notation, for logging.
func (p KeyPath) String() string {
	return fmt.Sprintf("m/%d'/%d'/%d", BIP0043Purpose, p.Account, p.Index)
}

// KeyChain derives blinding factors from a master seed. The zero value is
// not usable; construct with NewKeyChain.
type KeyChain struct {
	root *hdkeychain.ExtendedKey
}

// NewKeyChain creates a key chain rooted at the passed master seed. The
// seed itself is retained only inside the extended key and is never
// exposed by this type.
func NewKeyChain(seed []byte) (*KeyChain, error) {
	root, err := hdkeychain.NewMaster(seed, &chaincfg.MainNetParams)
	if err != nil {
		return nil, fmt.Errorf("unable to derive master key: %w", err)
	}

	return &KeyChain{root: root}, nil
}

// DeriveBlindingFactor derives the secret blinding factor for the passed
// path. Derivation is deterministic: the same seed and path always yield
// the same scalar, which is how ownership of an output is re-established
// from its stored path.
func (k *KeyChain) DeriveBlindingFactor(path KeyPath) (*mw.BlindingFactor,
	error) {

	purpose, err := k.root.Derive(
		hdkeychain.HardenedKeyStart + BIP0043Purpose,
	)
	if err != nil {
		return nil, err
	}

	account, err := purpose.Derive(
		hdkeychain.HardenedKeyStart + path.Account,
	)
	if err != nil {
		return nil, err
	}

	leaf, err := account.Derive(path.Index)
	if err != nil {
		return nil, err
	}

	privKey, err := leaf.ECPrivKey()
	if err != nil {
		return nil, err
	}

	var blind btcec.ModNScalar
	blind.Set(&privKey.Key)

	return &blind, nil
}

// Commit derives the blinding factor at the given path and returns the
// commitment to the passed amount under it. Used both when creating an
// output and when re-checking ownership of a stored one.
func (k *KeyChain) Commit(path KeyPath, amount uint64) (*mw.Commitment,
	error) {

	blind, err := k.DeriveBlindingFactor(path)
	if err != nil {
		return nil, err
	}

	return mw.NewCommitment(blind, amount), nil
}
