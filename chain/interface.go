// Package chain defines the capability interface the wallet core uses to
// talk to a node, along with an in-memory implementation for tests. The
// real RPC client lives outside the core and is injected at construction.
package chain

import (
	"sync"

	"github.com/mwcproject/mwcwallet/mw"
)

// NodeClient is the read/broadcast surface the wallet core needs from a
// node. Implementations may block on the network; the core treats any
// returned error as a NetworkError and propagates it without retrying.
type NodeClient interface {
	// GetChainHeight returns the height of the node's current chain tip.
	GetChainHeight() (uint64, error)

	// PostTransaction submits a finalized transaction to the network.
	PostTransaction(tx *mw.Transaction) error
}

// MemoryNode is a NodeClient backed by process memory, used by tests and
// the simulation CLI. Safe for concurrent use.
type MemoryNode struct {
	mtx sync.RWMutex

	height uint64
	posted []*mw.Transaction
}

// NewMemoryNode creates a MemoryNode at the given height.
func NewMemoryNode(height uint64) *MemoryNode {
	return &MemoryNode{height: height}
}

// GetChainHeight returns the configured tip height.
func (m *MemoryNode) GetChainHeight() (uint64, error) {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	return m.height, nil
}

// SetChainHeight moves the simulated tip.
func (m *MemoryNode) SetChainHeight(height uint64) {
	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.height = height
}

// PostTransaction records the transaction after validating it. A node
// would never accept an unbalanced transaction, so neither does the
// simulation.
func (m *MemoryNode) PostTransaction(tx *mw.Transaction) error {
	if err := tx.Validate(); err != nil {
		return err
	}

	m.mtx.Lock()
	defer m.mtx.Unlock()

	m.posted = append(m.posted, tx)
	return nil
}

// PostedTransactions returns a snapshot of all broadcast transactions.
func (m *MemoryNode) PostedTransactions() []*mw.Transaction {
	m.mtx.RLock()
	defer m.mtx.RUnlock()

	txs := make([]*mw.Transaction, len(m.posted))
	copy(txs, m.posted)

	return txs
}
