package mwcwallet

import (
	"testing"
	"time"

	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/mwcproject/mwcwallet/chain"
	"github.com/mwcproject/mwcwallet/outputs"
	"github.com/mwcproject/mwcwallet/session"
	"github.com/mwcproject/mwcwallet/slatebuilder"
	"github.com/mwcproject/mwcwallet/vault"
	"github.com/mwcproject/mwcwallet/walletstore"
	"github.com/stretchr/testify/require"
)

// newTestManager builds a manager on a throwaway database with a chain
// stub at height 100 and test-friendly fee settings.
func newTestManager(t *testing.T) (*WalletManager, *chain.MemoryNode) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.DataDir = t.TempDir()
	cfg.MinConf = 1
	cfg.FeeBase = 1

	fullCfg, err := finalizeConfig(&cfg)
	require.NoError(t, err)

	node := chain.NewMemoryNode(100)
	mgr, err := NewWalletManager(fullCfg, node)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, mgr.Stop())
	})

	return mgr, node
}

// fundedToken creates a wallet and credits it with confirmed coins of the
// passed amounts.
func fundedToken(t *testing.T, mgr *WalletManager, username string,
	amounts ...uint64) session.Token {

	t.Helper()

	_, token, err := mgr.InitializeNewWallet(
		username, []byte("passphrase"),
	)
	require.NoError(t, err)

	for _, amount := range amounts {
		require.NoError(t, mgr.AddMinedOutput(token, amount, 1, false))
	}

	return token
}

// TestWalletLifecycle covers creation, the username collision case,
// login, logout and mnemonic restore.
func TestWalletLifecycle(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t)

	words, token, err := mgr.InitializeNewWallet(
		"alice", []byte("passphrase"),
	)
	require.NoError(t, err)
	require.NotEmpty(t, words)

	// The fresh session is usable right away.
	summary, err := mgr.GetWalletSummary(token, 1)
	require.NoError(t, err)
	require.Zero(t, summary.Total())

	// A taken username leaves no trace and opens no session.
	_, _, err = mgr.InitializeNewWallet("alice", []byte("other"))
	require.ErrorIs(t, err, walletstore.ErrWalletExists)

	// Logout invalidates the token.
	mgr.Logout(token)
	_, err = mgr.GetWalletSummary(token, 1)
	require.ErrorIs(t, err, session.ErrInvalidSession)

	// Wrong passphrase and unknown user fail identically.
	_, err = mgr.Login("alice", []byte("wrong"))
	require.ErrorIs(t, err, session.ErrAuthenticationFailed)
	_, err = mgr.Login("nobody", []byte("passphrase"))
	require.ErrorIs(t, err, session.ErrAuthenticationFailed)

	token, err = mgr.Login("alice", []byte("passphrase"))
	require.NoError(t, err)
	mgr.Logout(token)

	// The mnemonic restores the same seed under a new name and
	// passphrase.
	restored, err := mgr.RestoreWallet(
		"alice-restored", words, []byte("new-passphrase"),
	)
	require.NoError(t, err)
	_, err = mgr.GetWalletSummary(restored, 1)
	require.NoError(t, err)
}

// TestChangePassphrase verifies the old passphrase stops working and the
// new one takes over.
func TestChangePassphrase(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t)

	_, token, err := mgr.InitializeNewWallet("alice", []byte("old"))
	require.NoError(t, err)
	mgr.Logout(token)

	require.NoError(t, mgr.ChangePassphrase(
		"alice", []byte("old"), []byte("new"),
	))

	_, err = mgr.Login("alice", []byte("old"))
	require.ErrorIs(t, err, session.ErrAuthenticationFailed)

	token, err = mgr.Login("alice", []byte("new"))
	require.NoError(t, err)
	mgr.Logout(token)

	// Wrong old passphrase changes nothing.
	err = mgr.ChangePassphrase("alice", []byte("bogus"), []byte("x"))
	require.ErrorIs(t, err, vault.ErrInvalidPassphrase)
}

// TestSendReceiveFinalize drives a full transfer between two wallets
// through the facade and checks both balance sheets and the broadcast.
func TestSendReceiveFinalize(t *testing.T) {
	t.Parallel()

	mgr, node := newTestManager(t)

	alice := fundedToken(t, mgr, "alice", 10, 20, 30)
	bob := fundedToken(t, mgr, "bob")

	s, err := mgr.Send(alice, 25, 0, "rent", outputs.StrategySmallest)
	require.NoError(t, err)

	// The selected coins are locked while the negotiation is in
	// flight.
	summary, err := mgr.GetWalletSummary(alice, 1)
	require.NoError(t, err)
	require.NotZero(t, summary.Locked)

	ok, err := mgr.Receive(bob, s, "thanks")
	require.NoError(t, err)
	require.True(t, ok)

	tx, err := mgr.Finalize(alice, s)
	require.NoError(t, err)
	require.NoError(t, tx.Validate())

	require.NoError(t, mgr.PostTransaction(alice, tx))
	require.Len(t, node.PostedTransactions(), 1)

	// Nothing is locked anymore and bob's incoming output exists,
	// awaiting confirmation.
	summary, err = mgr.GetWalletSummary(alice, 1)
	require.NoError(t, err)
	require.Zero(t, summary.Locked)

	summary, err = mgr.GetWalletSummary(bob, 1)
	require.NoError(t, err)
	require.EqualValues(t, 25, summary.AwaitingConfirmation)
}

// TestSendInsufficientFunds asserts no slate and no state change result
// from a send the balance cannot cover.
func TestSendInsufficientFunds(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t)

	alice := fundedToken(t, mgr, "alice", 10)

	_, err := mgr.Send(alice, 1000, 0, "", outputs.StrategySmallest)
	var fundsErr *outputs.ErrInsufficientFunds
	require.ErrorAs(t, err, &fundsErr)

	summary, err := mgr.GetWalletSummary(alice, 1)
	require.NoError(t, err)
	require.Zero(t, summary.Locked)
	require.EqualValues(t, 10, summary.Spendable)
}

// TestSlateExpirySweeper checks that coins locked by an unanswered send
// are released once the slate outlives its TTL.
func TestSlateExpirySweeper(t *testing.T) {
	t.Parallel()

	mgr, _ := newTestManager(t)

	// Swap in a deterministic clock and a force-feedable ticker before
	// the sweeper starts.
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	testClock := clock.NewTestClock(start)
	forceTicker := ticker.NewForce(time.Hour)
	mgr.clock = testClock
	mgr.sweepTicker = forceTicker
	mgr.builder = slatebuilder.New(mgr.node, nil, mgr.cfg.MinConf, testClock)

	mgr.Start()

	alice := fundedToken(t, mgr, "alice", 10, 20, 30)

	_, err := mgr.Send(alice, 25, 0, "", outputs.StrategySmallest)
	require.NoError(t, err)

	summary, err := mgr.GetWalletSummary(alice, 1)
	require.NoError(t, err)
	require.NotZero(t, summary.Locked)

	// A sweep before the TTL elapses must not touch the negotiation.
	forceTicker.Force <- testClock.Now()
	require.Never(t, func() bool {
		summary, err := mgr.GetWalletSummary(alice, 1)
		require.NoError(t, err)
		return summary.Locked == 0
	}, 100*time.Millisecond, 20*time.Millisecond)

	// Past the TTL the sweeper cancels it and the coins come back.
	testClock.SetTime(start.Add(mgr.cfg.SlateTTL + time.Minute))
	forceTicker.Force <- testClock.Now()
	require.Eventually(t, func() bool {
		summary, err := mgr.GetWalletSummary(alice, 1)
		require.NoError(t, err)
		return summary.Locked == 0
	}, 5*time.Second, 20*time.Millisecond)
}
