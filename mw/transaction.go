package mw

import (
	"bytes"
	"errors"
	"fmt"
	"io"

	"github.com/lightningnetwork/lnd/tlv"
)

// OutputFeatures describes the class of a transaction output.
type OutputFeatures uint8

const (
	// OutputPlain is a standard transfer output.
	OutputPlain OutputFeatures = 0

	// OutputCoinbase is an output minted by a coinbase transaction.
	// Coinbase outputs are subject to a maturity rule before they can be
	// spent.
	OutputCoinbase OutputFeatures = 1
)

// TLV type space for the transaction serialization.
const (
	typeTxFee        tlv.Type = 1
	typeTxLockHeight tlv.Type = 2
	typeTxInputs     tlv.Type = 3
	typeTxOutputs    tlv.Type = 4
	typeTxExcess     tlv.Type = 5
	typeTxExcessSig  tlv.Type = 6
	typeTxFeatures   tlv.Type = 7
)

var (
	// ErrTxUnbalanced is returned when a transaction's commitments do not
	// sum to its kernel excess, meaning value would be created or
	// destroyed if it were accepted.
	ErrTxUnbalanced = errors.New("transaction does not balance")

	// ErrTxMalformed is returned when a serialized transaction cannot be
	// decoded.
	ErrTxMalformed = errors.New("malformed transaction")
)

// TxOutput is a single confidential output: a commitment binding its value
// and blinding factor.
type TxOutput struct {
	// Features is the output class.
	Features OutputFeatures

	// Commitment hides the output value.
	Commitment *Commitment
}

// Transaction is the final, broadcastable artifact of a completed
// negotiation. It is immutable once assembled; Validate proves that it
// balances without revealing any amounts.
type Transaction struct {
	// Inputs are the commitments of the outputs being spent.
	Inputs []*Commitment

	// Outputs are the newly created outputs.
	Outputs []*TxOutput

	// Kernel carries the fee, the excess and the aggregate signature.
	Kernel *TxKernel
}

// Validate verifies the transaction's kernel signature and its commitment
// balance: sum(outputs) + fee*H - sum(inputs) must equal the kernel excess.
// The check is performed entirely on the homomorphic commitments, never on
// plaintext amounts.
func (t *Transaction) Validate() error {
	if t.Kernel == nil {
		return fmt.Errorf("%w: no kernel", ErrTxMalformed)
	}
	if len(t.Inputs) == 0 || len(t.Outputs) == 0 {
		return fmt.Errorf("%w: missing inputs or outputs",
			ErrTxMalformed)
	}

	if err := t.Kernel.Verify(); err != nil {
		return err
	}

	// Fold the explicit fee into the output side as a commitment to the
	// fee value with a zero blinding factor.
	positive := make([]*Commitment, 0, len(t.Outputs)+1)
	for _, out := range t.Outputs {
		positive = append(positive, out.Commitment)
	}
	if t.Kernel.Fee > 0 {
		positive = append(positive, CommitToValue(t.Kernel.Fee))
	}

	sum, err := SumCommitments(positive, t.Inputs)
	if err != nil {
		return err
	}

	if !sum.Equal(t.Kernel.Excess) {
		return ErrTxUnbalanced
	}

	return nil
}

// Serialize encodes the transaction into its wire representation.
func (t *Transaction) Serialize(w io.Writer) error {
	var inputsBlob []byte
	for _, input := range t.Inputs {
		inputsBlob = append(inputsBlob, input.Bytes()...)
	}

	var outputsBlob []byte
	for _, out := range t.Outputs {
		outputsBlob = append(outputsBlob, byte(out.Features))
		outputsBlob = append(outputsBlob, out.Commitment.Bytes()...)
	}

	features := uint8(t.Kernel.Features)
	excess := t.Kernel.Excess.Bytes()
	excessSig := t.Kernel.ExcessSig.Serialize()

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeTxFee, &t.Kernel.Fee),
		tlv.MakePrimitiveRecord(typeTxLockHeight, &t.Kernel.LockHeight),
		tlv.MakePrimitiveRecord(typeTxInputs, &inputsBlob),
		tlv.MakePrimitiveRecord(typeTxOutputs, &outputsBlob),
		tlv.MakePrimitiveRecord(typeTxExcess, &excess),
		tlv.MakePrimitiveRecord(typeTxExcessSig, &excessSig),
		tlv.MakePrimitiveRecord(typeTxFeatures, &features),
	)
	if err != nil {
		return err
	}

	return stream.Encode(w)
}

// Bytes returns the serialized transaction.
func (t *Transaction) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := t.Serialize(&buf); err != nil {
		return nil, err
	}

	return buf.Bytes(), nil
}

// DeserializeTransaction decodes a transaction from its wire
// representation.
func DeserializeTransaction(r io.Reader) (*Transaction, error) {
	var (
		fee        uint64
		lockHeight uint64
		inputsBlob []byte
		outputsBlob []byte
		excess     []byte
		excessSig  []byte
		features   uint8
	)

	stream, err := tlv.NewStream(
		tlv.MakePrimitiveRecord(typeTxFee, &fee),
		tlv.MakePrimitiveRecord(typeTxLockHeight, &lockHeight),
		tlv.MakePrimitiveRecord(typeTxInputs, &inputsBlob),
		tlv.MakePrimitiveRecord(typeTxOutputs, &outputsBlob),
		tlv.MakePrimitiveRecord(typeTxExcess, &excess),
		tlv.MakePrimitiveRecord(typeTxExcessSig, &excessSig),
		tlv.MakePrimitiveRecord(typeTxFeatures, &features),
	)
	if err != nil {
		return nil, err
	}

	if err := stream.Decode(r); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTxMalformed, err)
	}

	if len(inputsBlob)%CommitmentSize != 0 {
		return nil, fmt.Errorf("%w: odd input blob length",
			ErrTxMalformed)
	}
	var inputs []*Commitment
	for i := 0; i < len(inputsBlob); i += CommitmentSize {
		input, err := ParseCommitment(inputsBlob[i : i+CommitmentSize])
		if err != nil {
			return nil, err
		}
		inputs = append(inputs, input)
	}

	const outputEntrySize = 1 + CommitmentSize
	if len(outputsBlob)%outputEntrySize != 0 {
		return nil, fmt.Errorf("%w: odd output blob length",
			ErrTxMalformed)
	}
	var outputs []*TxOutput
	for i := 0; i < len(outputsBlob); i += outputEntrySize {
		commit, err := ParseCommitment(
			outputsBlob[i+1 : i+outputEntrySize],
		)
		if err != nil {
			return nil, err
		}
		outputs = append(outputs, &TxOutput{
			Features:   OutputFeatures(outputsBlob[i]),
			Commitment: commit,
		})
	}

	excessCommit, err := ParseCommitment(excess)
	if err != nil {
		return nil, err
	}
	sig, err := ParseAggSig(excessSig)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTxMalformed, err)
	}

	return &Transaction{
		Inputs:  inputs,
		Outputs: outputs,
		Kernel: &TxKernel{
			Features:   KernelFeatures(features),
			Fee:        fee,
			LockHeight: lockHeight,
			Excess:     excessCommit,
			ExcessSig:  sig,
		},
	}, nil
}
