package mw

import (
	"crypto/sha256"
	"encoding/binary"
	"errors"
	"fmt"
)

// KernelFeatures describes the class of a transaction kernel.
type KernelFeatures uint8

const (
	// KernelPlain is a standard transfer kernel with an explicit fee.
	KernelPlain KernelFeatures = 0

	// KernelCoinbase marks the kernel of a coinbase transaction. Coinbase
	// kernels carry no fee.
	KernelCoinbase KernelFeatures = 1

	// KernelHeightLocked marks a kernel that is invalid before its lock
	// height.
	KernelHeightLocked KernelFeatures = 2
)

// ErrKernelSigMissing is returned when validating a kernel that has not yet
// been signed.
var ErrKernelSigMissing = errors.New("kernel signature missing")

// TxKernel is the aggregate proof carried by every transaction: a
// commitment to the excess blinding factor of the whole transaction along
// with a signature by that excess, proving the transaction was authorized
// by the holders of all blinding factors and that it commits to no net
// value beyond the explicit fee.
type TxKernel struct {
	// Features is the kernel class.
	Features KernelFeatures

	// Fee is the explicit fee, in the smallest coin unit.
	Fee uint64

	// LockHeight is the earliest block height at which the transaction
	// may be included. Zero means no restriction.
	LockHeight uint64

	// Excess is the public excess commitment: the sum of all output
	// blinding factors minus the sum of all input blinding factors,
	// committed as a point on G alone.
	Excess *Commitment

	// ExcessSig is the aggregate signature over the kernel message,
	// verifiable with Excess as the public key.
	ExcessSig *AggSig
}

// KernelMessage returns the 32-byte message that both participants sign: a
// hash binding the kernel features, fee and lock height. Signing the fee is
// what stops a counterparty from quietly altering it mid-negotiation.
func KernelMessage(features KernelFeatures, fee, lockHeight uint64) [32]byte {
	var buf [17]byte
	buf[0] = byte(features)
	binary.BigEndian.PutUint64(buf[1:9], fee)
	binary.BigEndian.PutUint64(buf[9:17], lockHeight)

	return sha256.Sum256(buf[:])
}

// Message returns the signed kernel message for this kernel's parameters.
func (k *TxKernel) Message() [32]byte {
	return KernelMessage(k.Features, k.Fee, k.LockHeight)
}

// Verify checks the kernel signature against the excess commitment.
func (k *TxKernel) Verify() error {
	if k.ExcessSig == nil {
		return ErrKernelSigMissing
	}
	if k.Excess == nil {
		return errors.New("kernel excess missing")
	}

	excessKey, err := k.Excess.PubKey()
	if err != nil {
		return fmt.Errorf("kernel excess not a valid point: %w", err)
	}

	return VerifyAggSig(k.ExcessSig, excessKey, k.Message())
}
