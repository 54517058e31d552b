// Package session issues and resolves the capability tokens that gate
// access to a decrypted wallet seed. A token is pure random material: it
// encodes nothing about the user or the seed, and once logged out it can
// never be used again.
package session

import (
	"crypto/rand"
	"errors"
	"sync"

	"github.com/mwcproject/mwcwallet/vault"
	"github.com/mwcproject/mwcwallet/wallet"
	"github.com/mwcproject/mwcwallet/walletstore"
)

// TokenSize is the length of a session token.
const TokenSize = 32

var (
	// ErrAuthenticationFailed is returned on login when the passphrase
	// is wrong or the user is unknown. The two cases are deliberately
	// indistinguishable: both run the full KDF and both surface this
	// same error.
	ErrAuthenticationFailed = errors.New("authentication failed")

	// ErrInvalidSession is returned when a token is unknown or has been
	// logged out.
	ErrInvalidSession = errors.New("invalid session")
)

// Token is an opaque, unforgeable session handle.
type Token [TokenSize]byte

// decoySeed is a syntactically valid encrypted seed that can never
// decrypt. Logins for unknown users are run against it so the response
// time carries the same KDF cost as a wrong passphrase for a real user.
var decoySeed = &vault.EncryptedSeed{
	Salt:       make([]byte, 16),
	N:          32768,
	R:          8,
	P:          1,
	Nonce:      make([]byte, 12),
	Ciphertext: make([]byte, vault.SeedSize+16),
}

// walletSession is the in-memory state bound to one active token.
type walletSession struct {
	seed   *vault.WalletSeed
	wallet *wallet.Wallet
}

// Registry maps live session tokens to decrypted seeds and wallet
// handles. It is the only cross-call mutable state in the core and is
// safe for concurrent use: reads for different tokens proceed in
// parallel, while login and logout serialize on the write lock.
type Registry struct {
	store walletstore.Store

	mtx      sync.RWMutex
	sessions map[Token]*walletSession

	// wallets caches one Wallet per username so every session of a user
	// shares the same coin lock.
	wallets map[string]*wallet.Wallet
}

// NewRegistry creates an empty session registry on top of the passed
// store.
func NewRegistry(store walletstore.Store) *Registry {
	return &Registry{
		store:    store,
		sessions: make(map[Token]*walletSession),
		wallets:  make(map[string]*wallet.Wallet),
	}
}

// newToken draws a fresh token from the system's CSPRNG.
func newToken() (Token, error) {
	var token Token
	if _, err := rand.Read(token[:]); err != nil {
		return Token{}, err
	}

	return token, nil
}

// walletFor returns the shared Wallet instance for a username, creating
// it on first use. Callers must hold the write lock.
func (r *Registry) walletFor(username string) *wallet.Wallet {
	w, ok := r.wallets[username]
	if !ok {
		w = wallet.New(username, r.store)
		r.wallets[username] = w
	}

	return w
}

// Login decrypts the user's seed with the passphrase and binds it to a
// fresh token. Unknown users and wrong passphrases are indistinguishable.
func (r *Registry) Login(username string, passphrase []byte) (Token, error) {
	enc, err := r.store.GetEncryptedSeed(username)
	if err != nil {
		if errors.Is(err, walletstore.ErrWalletNotFound) {
			// Burn the same KDF cost as a real attempt before
			// failing.
			_, _ = vault.DecryptWalletSeed(decoySeed, passphrase)
			return Token{}, ErrAuthenticationFailed
		}

		return Token{}, err
	}

	seed, err := vault.DecryptWalletSeed(enc, passphrase)
	if err != nil {
		return Token{}, ErrAuthenticationFailed
	}

	return r.bind(username, seed)
}

// LoginWithSeed binds an already-decrypted seed to a fresh token. Used
// immediately after wallet creation, where the seed is already in hand
// and re-running the KDF would only waste time.
func (r *Registry) LoginWithSeed(username string,
	seed *vault.WalletSeed) (Token, error) {

	bound := *seed
	return r.bind(username, &bound)
}

// bind stores the session and returns its token.
func (r *Registry) bind(username string,
	seed *vault.WalletSeed) (Token, error) {

	token, err := newToken()
	if err != nil {
		return Token{}, err
	}

	r.mtx.Lock()
	defer r.mtx.Unlock()

	r.sessions[token] = &walletSession{
		seed:   seed,
		wallet: r.walletFor(username),
	}

	log.Debugf("Session opened for user %s", username)

	return token, nil
}

// Logout removes the binding for the token and scrubs the seed from
// memory. Logging out an unknown or already logged out token is a no-op.
func (r *Registry) Logout(token Token) {
	r.mtx.Lock()
	defer r.mtx.Unlock()

	sess, ok := r.sessions[token]
	if !ok {
		return
	}

	sess.seed.Zero()
	delete(r.sessions, token)

	log.Debugf("Session closed for user %s", sess.wallet.Username())
}

// GetSeed resolves the token to its decrypted seed. The seed must not be
// retained beyond the operation it was fetched for.
func (r *Registry) GetSeed(token Token) (*vault.WalletSeed, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	sess, ok := r.sessions[token]
	if !ok {
		return nil, ErrInvalidSession
	}

	return sess.seed, nil
}

// GetWallet resolves the token to the user's wallet handle.
func (r *Registry) GetWallet(token Token) (*wallet.Wallet, error) {
	r.mtx.RLock()
	defer r.mtx.RUnlock()

	sess, ok := r.sessions[token]
	if !ok {
		return nil, ErrInvalidSession
	}

	return sess.wallet, nil
}
