package outputs

import (
	"fmt"
	"sort"

	"github.com/mwcproject/mwcwallet/mw"
)

// SelectionStrategy picks which spendable coins fund a transaction.
type SelectionStrategy uint8

const (
	// StrategySmallest selects the fewest inputs possible by consuming
	// the largest coins first, minimizing both input count and leftover
	// change.
	StrategySmallest SelectionStrategy = 0

	// StrategyAll spends every spendable coin, sweeping the wallet into
	// a single aggregated change output.
	StrategyAll SelectionStrategy = 1
)

// String returns a human readable strategy name.
func (s SelectionStrategy) String() string {
	switch s {
	case StrategySmallest:
		return "Smallest"
	case StrategyAll:
		return "All"
	default:
		return "Unknown"
	}
}

// ErrInsufficientFunds is returned when no subset of spendable coins
// covers the requested amount plus the fee it would incur.
type ErrInsufficientFunds struct {
	// Available is the total spendable balance considered.
	Available uint64

	// Required is the amount plus fee that could not be covered.
	Required uint64
}

// Error returns a human-readable string describing the error.
func (e *ErrInsufficientFunds) Error() string {
	return fmt.Sprintf("insufficient funds: need %d, have %d spendable",
		e.Required, e.Available)
}

// Selection is the result of coin selection: the chosen inputs, the fee
// they incur under the policy, and the change amount left over.
type Selection struct {
	// Coins are the selected inputs.
	Coins []*OutputData

	// Fee is the fee computed for the final transaction shape.
	Fee uint64

	// Change is the leftover returned to the sender, possibly zero.
	Change uint64
}

// numOutputsEstimate is the output count used when sizing the fee at
// selection time: one change output for the sender and one output for the
// receiver.
const numOutputsEstimate = 2

// SelectCoins chooses spendable coins covering amount plus fee under the
// given strategy. The fee depends on the number of inputs, so selection
// and fee estimation iterate until they agree, the same way the funding
// coin selection loops in a fee-rate wallet.
//
// The caller is responsible for holding the wallet's coin lock so that two
// concurrent selections cannot pick overlapping coins.
func SelectCoins(spendable []*OutputData, amount, feeBase uint64,
	strategy SelectionStrategy, feePolicy mw.FeePolicy) (*Selection,
	error) {

	if feePolicy == nil {
		feePolicy = mw.DefaultFeePolicy
	}

	var total uint64
	for _, coin := range spendable {
		total += coin.Amount
	}

	switch strategy {
	case StrategyAll:
		fee := feePolicy(
			feeBase, len(spendable), numOutputsEstimate, 1,
		)
		if total < amount+fee {
			return nil, &ErrInsufficientFunds{
				Available: total,
				Required:  amount + fee,
			}
		}

		return &Selection{
			Coins:  spendable,
			Fee:    fee,
			Change: total - amount - fee,
		}, nil

	case StrategySmallest:
		// Largest first: fewest inputs, least leftover.
		sorted := make([]*OutputData, len(spendable))
		copy(sorted, spendable)
		sort.SliceStable(sorted, func(i, j int) bool {
			return sorted[i].Amount > sorted[j].Amount
		})

		var sum uint64
		for i, coin := range sorted {
			sum += coin.Amount
			fee := feePolicy(feeBase, i+1, numOutputsEstimate, 1)
			if sum >= amount+fee {
				return &Selection{
					Coins:  sorted[:i+1],
					Fee:    fee,
					Change: sum - amount - fee,
				}, nil
			}
		}

		fee := feePolicy(
			feeBase, len(sorted), numOutputsEstimate, 1,
		)
		return nil, &ErrInsufficientFunds{
			Available: total,
			Required:  amount + fee,
		}

	default:
		return nil, fmt.Errorf("unknown selection strategy: %v",
			strategy)
	}
}
