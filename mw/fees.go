package mw

// FeePolicy computes the fee for a transaction shape from a base rate. The
// exact weight formula is consensus policy and therefore pluggable; the
// negotiation engine only relies on the stated contract: a deterministic,
// non-negative fee for a given shape and base rate.
type FeePolicy func(feeBase uint64, numInputs, numOutputs, numKernels int) uint64

// TxWeight returns the canonical transaction weight: each output weighs
// four units, each kernel one, and each input earns back one unit, with a
// floor of one.
func TxWeight(numInputs, numOutputs, numKernels int) uint64 {
	weight := -1*numInputs + 4*numOutputs + numKernels
	if weight < 1 {
		weight = 1
	}

	return uint64(weight)
}

// DefaultFeePolicy computes the fee as the base rate multiplied by the
// canonical transaction weight.
func DefaultFeePolicy(feeBase uint64, numInputs, numOutputs,
	numKernels int) uint64 {

	return feeBase * TxWeight(numInputs, numOutputs, numKernels)
}

// FlatFeePolicy returns a policy charging the base rate regardless of
// transaction shape.
func FlatFeePolicy(feeBase uint64, _, _, _ int) uint64 {
	return feeBase
}
