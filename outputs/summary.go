package outputs

// MaturityPolicy decides whether a coinbase output is mature enough to
// spend at the given chain height. The rule itself is consensus policy and
// therefore pluggable.
type MaturityPolicy func(output *OutputData, chainHeight uint64) bool

// DefaultCoinbaseMaturity is the number of confirmations a coinbase
// output needs before it may be spent.
const DefaultCoinbaseMaturity = 1440

// DefaultMaturityPolicy considers a coinbase output mature once it has
// DefaultCoinbaseMaturity confirmations.
func DefaultMaturityPolicy(output *OutputData, chainHeight uint64) bool {
	return output.Confirmations(chainHeight) >= DefaultCoinbaseMaturity
}

// WalletSummary is the derived, never-persisted balance view: the total
// amount in each classification bucket at a given chain height. The four
// buckets are mutually exclusive and cover every non-spent output the
// wallet knows about.
type WalletSummary struct {
	// ChainHeight is the tip height the summary was computed against.
	ChainHeight uint64

	// MinConfirmations is the confirmation threshold used to classify
	// spendable outputs.
	MinConfirmations uint64

	// Spendable is the total of unspent outputs with enough
	// confirmations to spend now.
	Spendable uint64

	// AwaitingConfirmation is the total of unspent outputs still below
	// the confirmation threshold.
	AwaitingConfirmation uint64

	// Immature is the total of coinbase outputs still inside the
	// maturity window.
	Immature uint64

	// Locked is the total reserved by in-flight slates.
	Locked uint64
}

// Total returns the sum over all four buckets.
func (s *WalletSummary) Total() uint64 {
	return s.Spendable + s.AwaitingConfirmation + s.Immature + s.Locked
}

// FilterSpendable returns the outputs that may fund a new transaction at
// the passed chain height: unspent, confirmed to the threshold, and past
// the coinbase maturity window.
func FilterSpendable(coins []*OutputData, chainHeight, minConf uint64,
	mature MaturityPolicy) []*OutputData {

	if mature == nil {
		mature = DefaultMaturityPolicy
	}

	var spendable []*OutputData
	for _, coin := range coins {
		if coin.Status != StatusUnspent {
			continue
		}
		if coin.IsCoinbase && !mature(coin, chainHeight) {
			continue
		}
		if coin.Confirmations(chainHeight) < minConf {
			continue
		}

		spendable = append(spendable, coin)
	}

	return spendable
}

// Summarize partitions the passed outputs into the four balance buckets.
// Spent outputs contribute to no bucket. Classification order matters:
// the lock reservation wins over everything, then the coinbase maturity
// rule, then the confirmation threshold.
func Summarize(coins []*OutputData, chainHeight, minConf uint64,
	mature MaturityPolicy) *WalletSummary {

	if mature == nil {
		mature = DefaultMaturityPolicy
	}

	summary := &WalletSummary{
		ChainHeight:      chainHeight,
		MinConfirmations: minConf,
	}

	for _, coin := range coins {
		switch {
		case coin.Status == StatusSpent:
			// Spent outputs are awaiting archival and carry no
			// balance.

		case coin.Status == StatusLocked:
			summary.Locked += coin.Amount

		case coin.IsCoinbase && !mature(coin, chainHeight):
			summary.Immature += coin.Amount

		case coin.Confirmations(chainHeight) >= minConf:
			summary.Spendable += coin.Amount

		default:
			summary.AwaitingConfirmation += coin.Amount
		}
	}

	return summary
}
