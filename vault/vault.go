package vault

import (
	"crypto/rand"
	"crypto/sha256"
	"errors"
	"fmt"

	"golang.org/x/crypto/chacha20poly1305"
	"golang.org/x/crypto/scrypt"
)

const (
	// SeedSize is the length of a wallet master seed.
	SeedSize = 32

	// saltSize is the length of the KDF salt generated per encryption.
	saltSize = 16

	// Default scrypt cost parameters. These are persisted alongside the
	// ciphertext so they can be raised later without invalidating
	// existing vaults.
	defaultScryptN = 32768
	defaultScryptR = 8
	defaultScryptP = 1
)

var (
	// ErrInvalidPassphrase is returned whenever decryption fails. The
	// AEAD tag mismatch on a wrong passphrase is deliberately collapsed
	// into the same error as every other decrypt failure so the response
	// carries no oracle about which part went wrong.
	ErrInvalidPassphrase = errors.New("invalid passphrase")

	// ErrInvalidSeed is returned when seed material of the wrong size is
	// offered for encryption.
	ErrInvalidSeed = errors.New("invalid seed length")
)

// WalletSeed is the master secret of a wallet. It only ever exists in
// memory: during wallet creation and for the lifetime of an active
// session.
type WalletSeed [SeedSize]byte

// Zero overwrites the seed in place. Callers holding a seed on the stack
// should defer this before returning.
func (s *WalletSeed) Zero() {
	for i := range s {
		s[i] = 0
	}
}

// EncryptedSeed is the only durable representation of a wallet seed: the
// AEAD ciphertext together with every parameter needed to re-derive the
// encryption key from a passphrase.
type EncryptedSeed struct {
	// Salt is the random KDF salt.
	Salt []byte `json:"salt"`

	// N, R, P are the scrypt cost parameters in effect when the seed was
	// encrypted.
	N int `json:"n"`
	R int `json:"r"`
	P int `json:"p"`

	// Nonce is the AEAD nonce.
	Nonce []byte `json:"nonce"`

	// Ciphertext is the sealed seed, tag included.
	Ciphertext []byte `json:"ciphertext"`
}

// GenerateSeed produces a fresh random master seed.
func GenerateSeed() (*WalletSeed, error) {
	var seed WalletSeed
	if _, err := rand.Read(seed[:]); err != nil {
		return nil, fmt.Errorf("unable to generate seed: %w", err)
	}

	return &seed, nil
}

// deriveKey stretches the passphrase into an AEAD key using the passed
// scrypt parameters.
func deriveKey(passphrase, salt []byte, n, r, p int) ([]byte, error) {
	return scrypt.Key(passphrase, salt, n, r, p, chacha20poly1305.KeySize)
}

// EncryptWalletSeed seals the seed under a passphrase-derived key with a
// fresh salt and nonce. The passphrase and seed are never logged or
// retained.
func EncryptWalletSeed(seed *WalletSeed,
	passphrase []byte) (*EncryptedSeed, error) {

	if seed == nil {
		return nil, ErrInvalidSeed
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, err
	}

	key, err := deriveKey(
		passphrase, salt, defaultScryptN, defaultScryptR,
		defaultScryptP,
	)
	if err != nil {
		return nil, err
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	ciphertext := aead.Seal(nil, nonce, seed[:], nil)

	return &EncryptedSeed{
		Salt:       salt,
		N:          defaultScryptN,
		R:          defaultScryptR,
		P:          defaultScryptP,
		Nonce:      nonce,
		Ciphertext: ciphertext,
	}, nil
}

// DecryptWalletSeed opens an encrypted seed with the passed passphrase.
// Any failure, including an authentication tag mismatch from a wrong
// passphrase, surfaces as ErrInvalidPassphrase.
func DecryptWalletSeed(enc *EncryptedSeed,
	passphrase []byte) (*WalletSeed, error) {

	key, err := deriveKey(passphrase, enc.Salt, enc.N, enc.R, enc.P)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}

	aead, err := chacha20poly1305.New(key)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}

	if len(enc.Nonce) != aead.NonceSize() {
		return nil, ErrInvalidPassphrase
	}

	plaintext, err := aead.Open(nil, enc.Nonce, enc.Ciphertext, nil)
	if err != nil {
		return nil, ErrInvalidPassphrase
	}
	if len(plaintext) != SeedSize {
		return nil, ErrInvalidPassphrase
	}

	var seed WalletSeed
	copy(seed[:], plaintext)

	return &seed, nil
}

// ChangePassphrase re-encrypts the seed under a new passphrase. The old
// passphrase must decrypt the vault first; fresh salt and nonce are used
// for the new ciphertext.
func ChangePassphrase(enc *EncryptedSeed, oldPassphrase,
	newPassphrase []byte) (*EncryptedSeed, error) {

	seed, err := DecryptWalletSeed(enc, oldPassphrase)
	if err != nil {
		return nil, err
	}
	defer seed.Zero()

	return EncryptWalletSeed(seed, newPassphrase)
}

// sessionKey derives a symmetric key from the seed for sealing per-slate
// negotiation secrets. The derivation is keyed on a fixed tag so the key
// can never collide with anything else derived from the seed.
func sessionKey(seed *WalletSeed) []byte {
	h := sha256.New()
	h.Write([]byte("mwcwallet/slate-context/v1"))
	h.Write(seed[:])

	return h.Sum(nil)
}

// SealWithSeed encrypts an arbitrary payload under a key derived from the
// seed. This is how per-slate secrets (the sender's ephemeral nonce and
// blinding excess) cross the persistence boundary without ever being
// stored in the clear: the ciphertext is useless without an active
// session's seed.
func SealWithSeed(seed *WalletSeed, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(sessionKey(seed))
	if err != nil {
		return nil, err
	}

	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}

	return append(nonce, aead.Seal(nil, nonce, plaintext, nil)...), nil
}

// OpenWithSeed decrypts a payload sealed by SealWithSeed.
func OpenWithSeed(seed *WalletSeed, sealed []byte) ([]byte, error) {
	aead, err := chacha20poly1305.New(sessionKey(seed))
	if err != nil {
		return nil, err
	}

	if len(sealed) < aead.NonceSize() {
		return nil, errors.New("sealed payload too short")
	}

	nonce := sealed[:aead.NonceSize()]
	return aead.Open(nil, nonce, sealed[aead.NonceSize():], nil)
}
