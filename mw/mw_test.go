package mw

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/stretchr/testify/require"
)

// randScalar returns a fresh random scalar for use as a blinding factor or
// nonce in tests.
func randScalar(t *testing.T) *btcec.ModNScalar {
	t.Helper()

	nonce, err := GenSecNonce()
	require.NoError(t, err)

	return nonce
}

// TestCommitmentHomomorphism asserts the additive property the whole
// balance check rests on: commit(r1, v1) + commit(r2, v2) equals
// commit(r1+r2, v1+v2).
func TestCommitmentHomomorphism(t *testing.T) {
	t.Parallel()

	r1 := randScalar(t)
	r2 := randScalar(t)

	c1 := NewCommitment(r1, 40)
	c2 := NewCommitment(r2, 2)

	var rSum btcec.ModNScalar
	rSum.Set(r1).Add(r2)
	expected := NewCommitment(&rSum, 42)

	require.True(t, c1.Add(c2).Equal(expected))

	// Subtracting one side again must recover the other.
	require.True(t, expected.Sub(c2).Equal(c1))
}

// TestCommitmentParseRoundTrip asserts the compressed encoding round
// trips, and that garbage is rejected.
func TestCommitmentParseRoundTrip(t *testing.T) {
	t.Parallel()

	c := NewCommitment(randScalar(t), 1000)

	parsed, err := ParseCommitment(c.Bytes())
	require.NoError(t, err)
	require.True(t, c.Equal(parsed))

	_, err = ParseCommitment(make([]byte, CommitmentSize))
	require.ErrorIs(t, err, ErrInvalidCommitment)

	_, err = ParseCommitment([]byte{0x02})
	require.ErrorIs(t, err, ErrInvalidCommitment)
}

// TestTwoPartyAggSig walks the full two-party signing flow used by the
// slate negotiation: both parties contribute a nonce and a key, exchange
// public halves, sign the same challenge, and the aggregated signature
// verifies against the aggregate key.
func TestTwoPartyAggSig(t *testing.T) {
	t.Parallel()

	msg := KernelMessage(KernelPlain, 7, 0)

	senderKey := randScalar(t)
	receiverKey := randScalar(t)
	senderNonce := randScalar(t)
	receiverNonce := randScalar(t)

	totalNonce, err := AddPubKeys(
		NoncePubKey(senderNonce), NoncePubKey(receiverNonce),
	)
	require.NoError(t, err)

	totalExcess, err := AddPubKeys(
		NoncePubKey(senderKey), NoncePubKey(receiverKey),
	)
	require.NoError(t, err)

	senderSig := SignPartial(
		senderKey, senderNonce, totalNonce, totalExcess, msg,
	)
	receiverSig := SignPartial(
		receiverKey, receiverNonce, totalNonce, totalExcess, msg,
	)

	// Each partial signature must verify against its own public half.
	require.NoError(t, VerifyPartial(
		senderSig, NoncePubKey(senderNonce), NoncePubKey(senderKey),
		totalNonce, totalExcess, msg,
	))
	require.NoError(t, VerifyPartial(
		receiverSig, NoncePubKey(receiverNonce),
		NoncePubKey(receiverKey), totalNonce, totalExcess, msg,
	))

	// A partial signature attributed to the wrong party must not.
	err = VerifyPartial(
		senderSig, NoncePubKey(receiverNonce),
		NoncePubKey(receiverKey), totalNonce, totalExcess, msg,
	)
	require.ErrorIs(t, err, ErrInvalidPartialSig)

	// The aggregated signature verifies against the aggregate key.
	aggSig, err := AggregateSigs(totalNonce, senderSig, receiverSig)
	require.NoError(t, err)
	require.NoError(t, VerifyAggSig(aggSig, totalExcess, msg))

	// A different message must fail.
	otherMsg := KernelMessage(KernelPlain, 8, 0)
	require.ErrorIs(
		t, VerifyAggSig(aggSig, totalExcess, otherMsg),
		ErrInvalidAggSig,
	)
}

// buildTestTx assembles a minimal balanced one-input, two-output
// transaction directly from blinding factors.
func buildTestTx(t *testing.T, fee uint64) *Transaction {
	t.Helper()

	inputBlind := randScalar(t)
	changeBlind := randScalar(t)
	receiverBlind := randScalar(t)

	const (
		inputAmt    = 50
		receiverAmt = 30
	)
	changeAmt := uint64(inputAmt - receiverAmt - fee)

	// Excess = sum(output blinds) - sum(input blinds).
	var excess btcec.ModNScalar
	var negInput btcec.ModNScalar
	negInput.Set(inputBlind).Negate()
	excess.Set(changeBlind).Add(receiverBlind).Add(&negInput)

	nonce := randScalar(t)
	totalNonce := NoncePubKey(nonce)
	excessPub := NoncePubKey(&excess)

	msg := KernelMessage(KernelPlain, fee, 0)
	partial := SignPartial(&excess, nonce, totalNonce, excessPub, msg)
	sig, err := AggregateSigs(totalNonce, partial)
	require.NoError(t, err)

	return &Transaction{
		Inputs: []*Commitment{NewCommitment(inputBlind, inputAmt)},
		Outputs: []*TxOutput{
			{Commitment: NewCommitment(changeBlind, changeAmt)},
			{Commitment: NewCommitment(receiverBlind, receiverAmt)},
		},
		Kernel: &TxKernel{
			Features:  KernelPlain,
			Fee:       fee,
			Excess:    CommitToBlind(&excess),
			ExcessSig: sig,
		},
	}
}

// TestTransactionValidate asserts that a correctly assembled transaction
// passes the balance check and that tampering with any amount breaks it.
func TestTransactionValidate(t *testing.T) {
	t.Parallel()

	tx := buildTestTx(t, 2)
	require.NoError(t, tx.Validate())

	// Inflating an output must unbalance the transaction: replace the
	// receiver output with one claiming a larger value under the same
	// blinding factor.
	tampered := buildTestTx(t, 2)
	bigger := randScalar(t)
	tampered.Outputs[1] = &TxOutput{
		Commitment: NewCommitment(bigger, 1_000_000),
	}
	require.Error(t, tampered.Validate())

	// Claiming a different fee than the one signed must also fail.
	wrongFee := buildTestTx(t, 2)
	wrongFee.Kernel.Fee = 1
	require.Error(t, wrongFee.Validate())
}

// TestTransactionSerialization asserts the wire encoding decodes to an
// equivalent, still-valid transaction.
func TestTransactionSerialization(t *testing.T) {
	t.Parallel()

	tx := buildTestTx(t, 3)

	var buf bytes.Buffer
	require.NoError(t, tx.Serialize(&buf))

	decoded, err := DeserializeTransaction(&buf)
	require.NoError(t, err)
	require.NoError(t, decoded.Validate())
	require.Equal(t, tx.Kernel.Fee, decoded.Kernel.Fee)
	require.Len(t, decoded.Inputs, len(tx.Inputs))
	require.Len(t, decoded.Outputs, len(tx.Outputs))
	require.True(t, tx.Kernel.Excess.Equal(decoded.Kernel.Excess))
}

// TestTxWeight pins down the weight floor and the shape formula the
// default fee policy uses.
func TestTxWeight(t *testing.T) {
	t.Parallel()

	require.EqualValues(t, 8, TxWeight(1, 2, 1))
	require.EqualValues(t, 1, TxWeight(10, 1, 1))
	require.EqualValues(t, 16, DefaultFeePolicy(2, 1, 2, 1))
	require.EqualValues(t, 5, FlatFeePolicy(5, 9, 9, 9))
}
