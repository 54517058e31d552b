// Package mwcwallet is the wallet core: key custody, output tracking and
// the interactive construction of confidential transactions. The
// WalletManager is the single facade a front end talks to; everything it
// exposes is keyed by session tokens so no caller ever holds key material.
package mwcwallet

import (
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/lightningnetwork/lnd/ticker"
	"github.com/mwcproject/mwcwallet/chain"
	"github.com/mwcproject/mwcwallet/mnemonic"
	"github.com/mwcproject/mwcwallet/mw"
	"github.com/mwcproject/mwcwallet/outputs"
	"github.com/mwcproject/mwcwallet/session"
	"github.com/mwcproject/mwcwallet/slate"
	"github.com/mwcproject/mwcwallet/slatebuilder"
	"github.com/mwcproject/mwcwallet/vault"
	"github.com/mwcproject/mwcwallet/walletstore"
)

// WalletManager owns the wallet database handle and coordinates the
// subsystems behind a session-token API. It is safe for concurrent use;
// independent sessions never contend, and sends on the same wallet are
// serialized only for the coin-selection critical section.
type WalletManager struct {
	started sync.Once
	stopped sync.Once

	cfg  *Config
	node chain.NodeClient

	store    walletstore.Store
	registry *session.Registry
	builder  *slatebuilder.Builder

	// clock and sweepTicker drive the expiry sweeper that releases coins
	// locked by negotiations the counterparty abandoned.
	clock       clock.Clock
	sweepTicker ticker.Ticker

	wg   sync.WaitGroup
	quit chan struct{}
}

// NewWalletManager opens the wallet database and assembles the wallet
// core. Stop must be called to release the database handle, on every exit
// path.
func NewWalletManager(cfg *Config,
	node chain.NodeClient) (*WalletManager, error) {

	store, err := walletstore.Open(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("unable to open wallet store: %w", err)
	}

	clk := clock.NewDefaultClock()

	return &WalletManager{
		cfg:         cfg,
		node:        node,
		store:       store,
		registry:    session.NewRegistry(store),
		builder:     slatebuilder.New(node, nil, cfg.MinConf, clk),
		clock:       clk,
		sweepTicker: ticker.New(cfg.SweepInterval),
		quit:        make(chan struct{}),
	}, nil
}

// Start launches the background expiry sweeper.
func (m *WalletManager) Start() {
	m.started.Do(func() {
		mwcwLog.Infof("WalletManager starting, slate TTL %v",
			m.cfg.SlateTTL)

		m.wg.Add(1)
		go m.slateSweeper()
		m.sweepTicker.Resume()
	})
}

// Stop shuts down the sweeper and closes the database handle.
func (m *WalletManager) Stop() error {
	var err error
	m.stopped.Do(func() {
		mwcwLog.Info("WalletManager shutting down")

		close(m.quit)
		m.wg.Wait()

		err = m.store.Close()
	})

	return err
}

// InitializeNewWallet creates a wallet for a new username: a fresh seed
// is generated, encrypted under the passphrase and persisted, and a
// session is opened immediately. The returned mnemonic is the one chance
// to back up the seed. Fails with walletstore.ErrWalletExists if the
// username is taken, leaving no trace.
func (m *WalletManager) InitializeNewWallet(username string,
	passphrase []byte) (string, session.Token, error) {

	seed, err := vault.GenerateSeed()
	if err != nil {
		return "", session.Token{}, err
	}
	defer seed.Zero()

	words, err := mnemonic.FromSeed(seed)
	if err != nil {
		return "", session.Token{}, err
	}

	enc, err := vault.EncryptWalletSeed(seed, passphrase)
	if err != nil {
		return "", session.Token{}, err
	}

	if err := m.store.CreateWallet(username, enc); err != nil {
		return "", session.Token{}, err
	}

	token, err := m.registry.LoginWithSeed(username, seed)
	if err != nil {
		return "", session.Token{}, err
	}

	mwcwLog.Infof("Created wallet for user %s", username)

	return words, token, nil
}

// RestoreWallet recreates a wallet from its mnemonic backup under a new
// passphrase and opens a session for it. The on-chain outputs of the
// restored seed are found again by the ownership scan as they are seen.
func (m *WalletManager) RestoreWallet(username, words string,
	passphrase []byte) (session.Token, error) {

	seed, err := mnemonic.ToSeed(words)
	if err != nil {
		return session.Token{}, err
	}
	defer seed.Zero()

	enc, err := vault.EncryptWalletSeed(seed, passphrase)
	if err != nil {
		return session.Token{}, err
	}

	if err := m.store.CreateWallet(username, enc); err != nil {
		return session.Token{}, err
	}

	mwcwLog.Infof("Restored wallet for user %s", username)

	return m.registry.LoginWithSeed(username, seed)
}

// Login opens a session for an existing wallet. Wrong passphrase and
// unknown username both surface session.ErrAuthenticationFailed, and take
// the same time to do so.
func (m *WalletManager) Login(username string,
	passphrase []byte) (session.Token, error) {

	return m.registry.Login(username, passphrase)
}

// Logout closes a session and scrubs its seed. Unknown tokens are
// ignored.
func (m *WalletManager) Logout(token session.Token) {
	m.registry.Logout(token)
}

// ChangePassphrase re-encrypts a wallet's seed under a new passphrase.
// Open sessions are unaffected.
func (m *WalletManager) ChangePassphrase(username string, oldPassphrase,
	newPassphrase []byte) error {

	enc, err := m.store.GetEncryptedSeed(username)
	if err != nil {
		return err
	}

	newEnc, err := vault.ChangePassphrase(
		enc, oldPassphrase, newPassphrase,
	)
	if err != nil {
		return err
	}

	return m.store.PutEncryptedSeed(username, newEnc)
}

// GetWalletSummary reports the wallet's balance bucketed by spendability
// at the current chain height.
func (m *WalletManager) GetWalletSummary(token session.Token,
	minConf uint64) (*outputs.WalletSummary, error) {

	w, err := m.registry.GetWallet(token)
	if err != nil {
		return nil, err
	}
	seed, err := m.registry.GetSeed(token)
	if err != nil {
		return nil, err
	}

	chainHeight, err := m.node.GetChainHeight()
	if err != nil {
		return nil, fmt.Errorf("unable to query chain height: %w", err)
	}

	coins, err := w.GetAllAvailableCoins(seed)
	if err != nil {
		return nil, err
	}

	return outputs.Summarize(coins, chainHeight, minConf, nil), nil
}

// Send starts a negotiation transferring amount to a counterparty and
// returns the slate to hand over. A zero feeBase selects the configured
// default.
func (m *WalletManager) Send(token session.Token, amount, feeBase uint64,
	message string, strategy outputs.SelectionStrategy) (*slate.Slate,
	error) {

	w, err := m.registry.GetWallet(token)
	if err != nil {
		return nil, err
	}
	seed, err := m.registry.GetSeed(token)
	if err != nil {
		return nil, err
	}

	if feeBase == 0 {
		feeBase = m.cfg.FeeBase
	}

	return m.builder.BuildSendSlate(
		w, seed, amount, feeBase, message, strategy,
	)
}

// Receive accepts an incoming slate, adds this wallet's output and
// signature, and advances it for the sender to finalize. A false return
// means the slate was rejected and must not be answered.
func (m *WalletManager) Receive(token session.Token, s *slate.Slate,
	message string) (bool, error) {

	w, err := m.registry.GetWallet(token)
	if err != nil {
		return false, err
	}
	seed, err := m.registry.GetSeed(token)
	if err != nil {
		return false, err
	}

	return m.builder.AddReceiverData(w, seed, s, message)
}

// Finalize completes a negotiation this wallet started and returns the
// broadcastable transaction.
func (m *WalletManager) Finalize(token session.Token,
	s *slate.Slate) (*mw.Transaction, error) {

	w, err := m.registry.GetWallet(token)
	if err != nil {
		return nil, err
	}
	seed, err := m.registry.GetSeed(token)
	if err != nil {
		return nil, err
	}

	return m.builder.Finalize(w, seed, s)
}

// PostTransaction hands a finalized transaction to the node for
// broadcast.
func (m *WalletManager) PostTransaction(token session.Token,
	tx *mw.Transaction) error {

	if _, err := m.registry.GetWallet(token); err != nil {
		return err
	}

	return m.node.PostTransaction(tx)
}

// Cancel abandons a negotiation this wallet is part of, releasing any
// coins it locked.
func (m *WalletManager) Cancel(token session.Token, slateID uuid.UUID) error {
	w, err := m.registry.GetWallet(token)
	if err != nil {
		return err
	}

	return m.builder.Cancel(w, slateID)
}

// AddMinedOutput credits the wallet with an output confirmed at the given
// height. This is the entry point the (out of scope) chain listener uses
// when a block pays us.
func (m *WalletManager) AddMinedOutput(token session.Token, amount,
	blockHeight uint64, coinbase bool) error {

	w, err := m.registry.GetWallet(token)
	if err != nil {
		return err
	}
	seed, err := m.registry.GetSeed(token)
	if err != nil {
		return err
	}

	_, err = w.AddMinedOutput(seed, amount, blockHeight, coinbase)
	return err
}

// slateSweeper periodically cancels sender-side negotiations that have
// outlived the slate TTL, so an unresponsive counterparty can never lock
// coins forever.
func (m *WalletManager) slateSweeper() {
	defer m.wg.Done()
	defer m.sweepTicker.Stop()

	for {
		select {
		case <-m.sweepTicker.Ticks():
			m.sweepExpiredSlates()

		case <-m.quit:
			return
		}
	}
}

// sweepExpiredSlates scans every wallet for stale unfinalized sender-side
// slates and cancels them. Receiver-side records are left alone: a
// receiver cannot tell an abandoned negotiation from one whose final
// transaction simply has not confirmed yet, and it has no coins locked.
func (m *WalletManager) sweepExpiredSlates() {
	cutoff := m.clock.Now().Add(-m.cfg.SlateTTL)

	// Collect first, mutate after: cancellation opens its own write
	// transaction and must not run inside the read transactions backing
	// the iteration.
	var users []string
	err := m.store.ForEachUser(func(username string) error {
		users = append(users, username)
		return nil
	})
	if err != nil {
		mwcwLog.Errorf("Slate expiry sweep failed: %v", err)
		return
	}

	for _, username := range users {
		var expired []uuid.UUID
		err := m.store.ForEachSlate(
			username, func(rec *walletstore.SlateRecord) error {
				if rec.Role == walletstore.RoleSender &&
					!rec.Finalized &&
					rec.CreatedAt.Before(cutoff) {

					expired = append(expired, rec.ID)
				}

				return nil
			},
		)
		if err != nil {
			mwcwLog.Errorf("Unable to scan slates for %s: %v",
				username, err)
			continue
		}

		for _, id := range expired {
			err := m.store.CancelSlate(username, id)
			if err != nil {
				mwcwLog.Errorf("Unable to cancel expired "+
					"slate %v for %s: %v", id, username,
					err)
				continue
			}

			mwcwLog.Infof("Canceled expired slate %v for %s",
				id, username)
		}
	}
}
