// Package mnemonic converts wallet seeds to and from their human-readable
// word-list backup form. It is consumed only at wallet creation and
// recovery time; nothing else in the wallet ever sees the words.
package mnemonic

import (
	"errors"

	"github.com/tyler-smith/go-bip39"
	"github.com/mwcproject/mwcwallet/vault"
)

// ErrInvalidMnemonic is returned when a word list cannot be decoded back
// into seed entropy.
var ErrInvalidMnemonic = errors.New("invalid mnemonic")

// FromSeed encodes the master seed as a 24-word mnemonic.
func FromSeed(seed *vault.WalletSeed) (string, error) {
	words, err := bip39.NewMnemonic(seed[:])
	if err != nil {
		return "", err
	}

	return words, nil
}

// ToSeed decodes a mnemonic back into the master seed it encodes.
func ToSeed(words string) (*vault.WalletSeed, error) {
	entropy, err := bip39.EntropyFromMnemonic(words)
	if err != nil {
		return nil, ErrInvalidMnemonic
	}
	if len(entropy) != vault.SeedSize {
		return nil, ErrInvalidMnemonic
	}

	var seed vault.WalletSeed
	copy(seed[:], entropy)

	return &seed, nil
}
