package session

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/mwcproject/mwcwallet/vault"
	"github.com/mwcproject/mwcwallet/walletstore"
)

// newTestRegistry spins up a registry over a fresh store with one user
// provisioned.
func newTestRegistry(t *testing.T, username string,
	passphrase []byte) (*Registry, *vault.WalletSeed) {

	t.Helper()

	db, err := walletstore.Open(filepath.Join(t.TempDir(), "wallet.db"))
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, db.Close())
	})

	seed, err := vault.GenerateSeed()
	require.NoError(t, err)

	enc, err := vault.EncryptWalletSeed(seed, passphrase)
	require.NoError(t, err)
	require.NoError(t, db.CreateWallet(username, enc))

	return NewRegistry(db), seed
}

// TestLoginLogout walks the token lifecycle: login exposes the seed,
// logout invalidates the token permanently and idempotently.
func TestLoginLogout(t *testing.T) {
	t.Parallel()

	passphrase := []byte("a strong passphrase")
	registry, seed := newTestRegistry(t, "alice", passphrase)

	token, err := registry.Login("alice", passphrase)
	require.NoError(t, err)

	gotSeed, err := registry.GetSeed(token)
	require.NoError(t, err)
	require.Equal(t, seed[:], gotSeed[:])

	w, err := registry.GetWallet(token)
	require.NoError(t, err)
	require.Equal(t, "alice", w.Username())

	registry.Logout(token)

	_, err = registry.GetSeed(token)
	require.ErrorIs(t, err, ErrInvalidSession)
	_, err = registry.GetWallet(token)
	require.ErrorIs(t, err, ErrInvalidSession)

	// Logout is idempotent.
	registry.Logout(token)
}

// TestLoginFailures asserts wrong passphrases and unknown users produce
// the same error.
func TestLoginFailures(t *testing.T) {
	t.Parallel()

	registry, _ := newTestRegistry(t, "alice", []byte("right passphrase"))

	_, err := registry.Login("alice", []byte("wrong passphrase"))
	require.ErrorIs(t, err, ErrAuthenticationFailed)

	_, err = registry.Login("mallory", []byte("whatever"))
	require.ErrorIs(t, err, ErrAuthenticationFailed)
}

// TestSessionsShareWallet asserts two sessions of the same user resolve
// to the same wallet instance, so coin locking is wallet-wide rather than
// session-wide.
func TestSessionsShareWallet(t *testing.T) {
	t.Parallel()

	passphrase := []byte("a strong passphrase")
	registry, seed := newTestRegistry(t, "alice", passphrase)

	token1, err := registry.Login("alice", passphrase)
	require.NoError(t, err)
	token2, err := registry.LoginWithSeed("alice", seed)
	require.NoError(t, err)
	require.NotEqual(t, token1, token2)

	w1, err := registry.GetWallet(token1)
	require.NoError(t, err)
	w2, err := registry.GetWallet(token2)
	require.NoError(t, err)
	require.Same(t, w1, w2)
}

// TestConcurrentSessions asserts the registry tolerates concurrent
// logins and logouts without losing track of live sessions.
func TestConcurrentSessions(t *testing.T) {
	t.Parallel()

	passphrase := []byte("a strong passphrase")
	registry, seed := newTestRegistry(t, "alice", passphrase)

	const numSessions = 16

	var wg sync.WaitGroup
	tokens := make([]Token, numSessions)
	for i := 0; i < numSessions; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()

			token, err := registry.LoginWithSeed("alice", seed)
			require.NoError(t, err)
			tokens[i] = token
		}(i)
	}
	wg.Wait()

	// Half the sessions log out concurrently; the rest stay valid.
	for i := 0; i < numSessions; i += 2 {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			registry.Logout(tokens[i])
		}(i)
	}
	wg.Wait()

	for i, token := range tokens {
		_, err := registry.GetSeed(token)
		if i%2 == 0 {
			require.ErrorIs(t, err, ErrInvalidSession)
		} else {
			require.NoError(t, err)
		}
	}
}
