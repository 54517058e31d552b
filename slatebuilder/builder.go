// Package slatebuilder drives the interactive negotiation by which a
// sender and a receiver jointly assemble a transaction. Each phase is
// performed by a different party and the slate is the only state carried
// between them, so every entry point revalidates the slate from scratch
// and leaves the local ledger untouched unless the whole step succeeds.
package slatebuilder

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/davecgh/go-spew/spew"
	"github.com/google/uuid"
	"github.com/lightningnetwork/lnd/clock"
	"github.com/mwcproject/mwcwallet/chain"
	"github.com/mwcproject/mwcwallet/mw"
	"github.com/mwcproject/mwcwallet/outputs"
	"github.com/mwcproject/mwcwallet/slate"
	"github.com/mwcproject/mwcwallet/vault"
	"github.com/mwcproject/mwcwallet/wallet"
	"github.com/mwcproject/mwcwallet/walletstore"
)

var (
	// ErrInvalidSlate is returned when a slate is structurally sound but
	// cryptographically or procedurally inconsistent: wrong phase, bad
	// partial signature, unknown negotiation, or a final transaction
	// that does not balance.
	ErrInvalidSlate = errors.New("invalid slate")
)

// slateContext is the sender's ephemeral signing state for one
// negotiation. It is sealed under the wallet seed before it is persisted
// and opened again only at finalize time.
type slateContext struct {
	// SecretExcess is the sender's blinding excess scalar.
	SecretExcess []byte `json:"secret_excess"`

	// SecretNonce is the sender's signing nonce scalar.
	SecretNonce []byte `json:"secret_nonce"`
}

// Builder runs the three negotiation phases against a wallet and the
// chain. A single Builder is shared by all wallets; it holds no
// per-negotiation state of its own.
type Builder struct {
	node      chain.NodeClient
	feePolicy mw.FeePolicy

	// minConf is the confirmation threshold a coin needs before it may
	// fund a send.
	minConf uint64

	// clock timestamps negotiation records, which is what slate expiry
	// is measured against.
	clock clock.Clock
}

// New creates a Builder. A nil feePolicy selects the default weight-based
// policy; a nil clk selects the wall clock.
func New(node chain.NodeClient, feePolicy mw.FeePolicy, minConf uint64,
	clk clock.Clock) *Builder {

	if feePolicy == nil {
		feePolicy = mw.DefaultFeePolicy
	}
	if clk == nil {
		clk = clock.NewDefaultClock()
	}

	return &Builder{
		node:      node,
		feePolicy: feePolicy,
		minConf:   minConf,
		clock:     clk,
	}
}

// BuildSendSlate starts a negotiation: selects and locks coins covering
// amount plus fee, creates the change output and the sender's blinding
// contribution, and returns the slate to hand to the receiver.
//
// Coin selection and locking happen atomically under the wallet's coin
// lock, so two concurrent sends can never double-select a coin. The lock
// is released before the function returns; the rest of the negotiation
// does not need it.
func (b *Builder) BuildSendSlate(w *wallet.Wallet, seed *vault.WalletSeed,
	amount, feeBase uint64, message string,
	strategy outputs.SelectionStrategy) (*slate.Slate, error) {

	chainHeight, err := b.node.GetChainHeight()
	if err != nil {
		return nil, fmt.Errorf("unable to query chain height: %w", err)
	}

	slateID := uuid.New()

	var newSlate *slate.Slate
	err = w.WithCoinLock(func() error {
		coins, err := w.GetAllAvailableCoins(seed)
		if err != nil {
			return err
		}

		spendable := outputs.FilterSpendable(
			coins, chainHeight, b.minConf, nil,
		)

		selection, err := outputs.SelectCoins(
			spendable, amount, feeBase, strategy, b.feePolicy,
		)
		if err != nil {
			return err
		}

		log.Debugf("Send %d (fee %d) for %s selects %d inputs, "+
			"change %d", amount, selection.Fee, w.Username(),
			len(selection.Coins), selection.Change)

		// The sender's blinding excess is the change blind minus the
		// sum of the input blinds.
		inputSum, err := w.InputBlindSum(seed, selection.Coins)
		if err != nil {
			return err
		}

		var excess mw.BlindingFactor
		excess.Set(inputSum).Negate()

		var newOutputs []*outputs.OutputData
		var slateOutputs []slate.Output
		if selection.Change > 0 {
			change, changeBlind, err := w.NewOutput(
				seed, selection.Change, slateID,
			)
			if err != nil {
				return err
			}

			excess.Add(changeBlind)
			newOutputs = append(newOutputs, change)
			slateOutputs = append(slateOutputs, slate.Output{
				Commitment: change.Commitment,
			})
		}

		secNonce, err := mw.GenSecNonce()
		if err != nil {
			return err
		}

		inputCommits := make([][]byte, len(selection.Coins))
		for i, coin := range selection.Coins {
			inputCommits[i] = coin.Commitment
		}

		newSlate = &slate.Slate{
			ID:      slateID,
			Phase:   slate.PhaseCreated,
			Amount:  amount,
			Fee:     selection.Fee,
			Inputs:  inputCommits,
			Outputs: slateOutputs,
			Participants: []slate.ParticipantData{{
				ID: slate.SenderID,
				PublicBlindExcess: mw.NoncePubKey(
					&excess,
				).SerializeCompressed(),
				PublicNonce: mw.NoncePubKey(
					secNonce,
				).SerializeCompressed(),
				Message: message,
			}},
		}

		sealed, err := sealContext(seed, &excess, secNonce)
		if err != nil {
			return err
		}

		// Lock the inputs, store the change output and record the
		// negotiation in one atomic step.
		return w.Store().LockOutputsAndSaveSlate(
			w.Username(),
			&walletstore.SlateRecord{
				ID:            slateID,
				Role:          walletstore.RoleSender,
				CreatedAt:     b.clock.Now(),
				SealedContext: sealed,
			},
			inputCommits, newOutputs,
		)
	})
	if err != nil {
		return nil, err
	}

	log.Tracef("Built send slate: %v", spew.Sdump(newSlate))

	return newSlate, nil
}

// AddReceiverData advances a slate from Created to Received: the receiver
// appends its output, its public blinding data and its partial signature,
// and mutates the passed slate in place. The bool return distinguishes
// negotiation rejection (false, nil: wrong phase, replayed id, bad fee;
// the counterparty must not be answered) from structural faults, which
// return an error. On any failure the wallet's state is unchanged.
func (b *Builder) AddReceiverData(w *wallet.Wallet, seed *vault.WalletSeed,
	incoming *slate.Slate, message string) (bool, error) {

	if err := incoming.Validate(); err != nil {
		return false, err
	}

	// Negotiation rejections: nothing below mutates state until the
	// atomic save at the end.
	if incoming.Phase != slate.PhaseCreated {
		log.Warnf("Rejecting slate %v in phase %v", incoming.ID,
			incoming.Phase)
		return false, nil
	}
	if incoming.Fee == 0 {
		log.Warnf("Rejecting slate %v with zero fee", incoming.ID)
		return false, nil
	}
	if incoming.Participant(slate.SenderID) == nil ||
		incoming.Participant(slate.ReceiverID) != nil {

		log.Warnf("Rejecting slate %v with unexpected participant "+
			"set", incoming.ID)
		return false, nil
	}

	// Work on a clone so a failure after this point leaves the caller's
	// slate untouched.
	working := incoming.Clone()

	// Derive the receiver output for the full amount.
	output, blind, err := w.NewOutput(seed, working.Amount, working.ID)
	if err != nil {
		return false, err
	}

	secNonce, err := mw.GenSecNonce()
	if err != nil {
		return false, err
	}

	receiver := slate.ParticipantData{
		ID: slate.ReceiverID,
		PublicBlindExcess: mw.NoncePubKey(
			blind,
		).SerializeCompressed(),
		PublicNonce: mw.NoncePubKey(secNonce).SerializeCompressed(),
		Message:     message,
	}
	working.Participants = append(working.Participants, receiver)
	working.Outputs = append(working.Outputs, slate.Output{
		Commitment: output.Commitment,
	})

	totalNonce, err := working.TotalNonce()
	if err != nil {
		return false, err
	}
	totalExcess, err := working.TotalExcess()
	if err != nil {
		return false, err
	}

	partial := mw.SignPartial(
		blind, secNonce, totalNonce, totalExcess,
		working.KernelMessage(),
	)
	sBytes := partial.S.Bytes()
	working.Participant(slate.ReceiverID).PartialSig = sBytes[:]

	working.Phase = slate.PhaseReceived

	// Record the negotiation and the new output atomically. A replayed
	// slate id trips ErrSlateExists here and is treated as a rejection,
	// not a fault.
	err = w.Store().SaveReceivedSlate(
		w.Username(),
		&walletstore.SlateRecord{
			ID:        working.ID,
			Role:      walletstore.RoleReceiver,
			CreatedAt: b.clock.Now(),
		},
		output,
	)
	switch {
	case errors.Is(err, walletstore.ErrSlateExists):
		log.Warnf("Rejecting replayed slate %v", working.ID)
		return false, nil

	case err != nil:
		return false, err
	}

	*incoming = *working

	log.Tracef("Added receiver data: %v", spew.Sdump(incoming))

	return true, nil
}

// Finalize consumes a Received slate: verifies the receiver's partial
// signature, adds the sender's own, aggregates the kernel signature,
// assembles the transaction and proves it balances before anything is
// returned. An unbalanced or inconsistent slate surfaces ErrInvalidSlate
// and leaves the ledger unchanged; replaying an already finalized slate
// returns the previously built transaction.
func (b *Builder) Finalize(w *wallet.Wallet, seed *vault.WalletSeed,
	incoming *slate.Slate) (*mw.Transaction, error) {

	if err := incoming.Validate(); err != nil {
		return nil, err
	}

	if incoming.Phase != slate.PhaseReceived {
		return nil, fmt.Errorf("%w: cannot finalize slate in "+
			"phase %v", ErrInvalidSlate, incoming.Phase)
	}

	record, err := w.Store().GetSlate(w.Username(), incoming.ID)
	switch {
	case errors.Is(err, walletstore.ErrSlateNotFound):
		return nil, fmt.Errorf("%w: unknown negotiation %v",
			ErrInvalidSlate, incoming.ID)

	case err != nil:
		return nil, err
	}

	if record.Role != walletstore.RoleSender {
		return nil, fmt.Errorf("%w: not the sender of %v",
			ErrInvalidSlate, incoming.ID)
	}

	// Idempotent replay: the negotiation already produced a
	// transaction, so hand back the same one rather than signing again.
	if record.Finalized {
		log.Infof("Slate %v already finalized, returning stored "+
			"transaction", incoming.ID)
		return b.storedTransaction(w, incoming.ID)
	}

	excess, secNonce, err := openContext(seed, record.SealedContext)
	if err != nil {
		return nil, err
	}

	sender := incoming.Participant(slate.SenderID)
	receiver := incoming.Participant(slate.ReceiverID)
	if sender == nil || receiver == nil {
		return nil, fmt.Errorf("%w: missing participant entry",
			ErrInvalidSlate)
	}

	// The sender's public entries in the returned slate must still be
	// the ones we created; a counterparty rewriting them could shift
	// the challenge.
	wantExcess := mw.NoncePubKey(excess).SerializeCompressed()
	wantNonce := mw.NoncePubKey(secNonce).SerializeCompressed()
	if !bytes.Equal(sender.PublicBlindExcess, wantExcess) ||
		!bytes.Equal(sender.PublicNonce, wantNonce) {

		return nil, fmt.Errorf("%w: sender contribution was altered",
			ErrInvalidSlate)
	}

	totalNonce, err := incoming.TotalNonce()
	if err != nil {
		return nil, err
	}
	totalExcess, err := incoming.TotalExcess()
	if err != nil {
		return nil, err
	}

	msg := incoming.KernelMessage()

	// Verify the receiver's partial signature against its claimed
	// public contribution.
	receiverSig, err := parsePartialSig(receiver.PartialSig)
	if err != nil {
		return nil, err
	}
	receiverNonce, err := btcec.ParsePubKey(receiver.PublicNonce)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSlate, err)
	}
	receiverExcess, err := btcec.ParsePubKey(receiver.PublicBlindExcess)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSlate, err)
	}
	err = mw.VerifyPartial(
		receiverSig, receiverNonce, receiverExcess, totalNonce,
		totalExcess, msg,
	)
	if err != nil {
		return nil, fmt.Errorf("%w: receiver signature invalid",
			ErrInvalidSlate)
	}

	// Add our own partial signature and aggregate.
	senderSig := mw.SignPartial(
		excess, secNonce, totalNonce, totalExcess, msg,
	)
	aggSig, err := mw.AggregateSigs(totalNonce, senderSig, receiverSig)
	if err != nil {
		return nil, err
	}

	tx, err := assembleTransaction(incoming, totalExcess, aggSig)
	if err != nil {
		return nil, err
	}

	// Hard correctness gate: never return a transaction that does not
	// balance or whose kernel signature does not verify.
	if err := tx.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSlate, err)
	}

	txBytes, err := tx.Bytes()
	if err != nil {
		return nil, err
	}
	err = w.Store().FinalizeSlate(w.Username(), incoming.ID, txBytes)
	if err != nil {
		return nil, err
	}

	log.Infof("Finalized slate %v: %d inputs, %d outputs, fee %d",
		incoming.ID, len(tx.Inputs), len(tx.Outputs), tx.Kernel.Fee)

	return tx, nil
}

// Cancel abandons an in-flight negotiation, releasing its locked coins
// and deleting the outputs it created.
func (b *Builder) Cancel(w *wallet.Wallet, slateID uuid.UUID) error {
	log.Infof("Canceling slate %v for %s", slateID, w.Username())

	return w.Store().CancelSlate(w.Username(), slateID)
}

// storedTransaction loads and decodes the finalized transaction for a
// slate.
func (b *Builder) storedTransaction(w *wallet.Wallet,
	slateID uuid.UUID) (*mw.Transaction, error) {

	txBytes, err := w.Store().GetTransaction(w.Username(), slateID)
	if err != nil {
		return nil, err
	}

	return mw.DeserializeTransaction(bytes.NewReader(txBytes))
}

// assembleTransaction builds the final transaction from the slate's
// skeleton and the aggregated signature.
func assembleTransaction(s *slate.Slate, totalExcess *btcec.PublicKey,
	aggSig *mw.AggSig) (*mw.Transaction, error) {

	inputs := make([]*mw.Commitment, len(s.Inputs))
	for i, raw := range s.Inputs {
		commit, err := mw.ParseCommitment(raw)
		if err != nil {
			return nil, err
		}
		inputs[i] = commit
	}

	txOutputs := make([]*mw.TxOutput, len(s.Outputs))
	for i, out := range s.Outputs {
		commit, err := mw.ParseCommitment(out.Commitment)
		if err != nil {
			return nil, err
		}
		txOutputs[i] = &mw.TxOutput{
			Features:   mw.OutputFeatures(out.Features),
			Commitment: commit,
		}
	}

	return &mw.Transaction{
		Inputs:  inputs,
		Outputs: txOutputs,
		Kernel: &mw.TxKernel{
			Features:   s.KernelFeatures(),
			Fee:        s.Fee,
			LockHeight: s.LockHeight,
			Excess:     mw.CommitmentFromPubKey(totalExcess),
			ExcessSig:  aggSig,
		},
	}, nil
}

// sealContext serializes and seals the sender's signing secrets under the
// wallet seed.
func sealContext(seed *vault.WalletSeed, excess *mw.BlindingFactor,
	secNonce *mw.SecNonce) ([]byte, error) {

	excessBytes := excess.Bytes()
	nonceBytes := secNonce.Bytes()

	plaintext, err := json.Marshal(&slateContext{
		SecretExcess: excessBytes[:],
		SecretNonce:  nonceBytes[:],
	})
	if err != nil {
		return nil, err
	}

	return vault.SealWithSeed(seed, plaintext)
}

// openContext unseals the sender's signing secrets.
func openContext(seed *vault.WalletSeed,
	sealed []byte) (*mw.BlindingFactor, *mw.SecNonce, error) {

	plaintext, err := vault.OpenWithSeed(seed, sealed)
	if err != nil {
		return nil, nil, fmt.Errorf("unable to open slate context: %w",
			err)
	}

	var ctx slateContext
	if err := json.Unmarshal(plaintext, &ctx); err != nil {
		return nil, nil, err
	}

	var excess mw.BlindingFactor
	if overflow := excess.SetByteSlice(ctx.SecretExcess); overflow {
		return nil, nil, errors.New("corrupt slate context")
	}

	var secNonce mw.SecNonce
	if overflow := secNonce.SetByteSlice(ctx.SecretNonce); overflow {
		return nil, nil, errors.New("corrupt slate context")
	}

	return &excess, &secNonce, nil
}

// parsePartialSig decodes a participant's partial signature scalar.
func parsePartialSig(raw []byte) (*mw.PartialSig, error) {
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: missing partial signature",
			ErrInvalidSlate)
	}

	var sig mw.PartialSig
	if overflow := sig.S.SetByteSlice(raw); overflow {
		return nil, fmt.Errorf("%w: partial signature out of range",
			ErrInvalidSlate)
	}

	return &sig, nil
}
