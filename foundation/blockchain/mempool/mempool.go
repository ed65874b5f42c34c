// Package mempool maintains the ledger's pool of admitted, not-yet
// committed transactions in strict FIFO submission order.
package mempool

import (
	"sync"

	"github.com/ardanlabs/ledger/foundation/blockchain/txn"
)

// Mempool is an ordered, deduplicated buffer of transactions awaiting
// inclusion in a block. Order is preserved so block assembly can give
// earlier-submitted transactions priority when balances are tight.
type Mempool struct {
	mu     sync.RWMutex
	order  []string
	byHash map[string]txn.Transaction
}

// New constructs an empty mempool.
func New() *Mempool {
	return &Mempool{
		byHash: make(map[string]txn.Transaction),
	}
}

// Count returns the number of transactions currently pooled.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.order)
}

// Upsert adds tx to the pool, or replaces the pooled copy at its
// existing position if a transaction with the same hash is already
// present. It returns the pool's size after the operation.
func (mp *Mempool) Upsert(tx txn.Transaction) int {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.byHash[tx.Hash]; !exists {
		mp.order = append(mp.order, tx.Hash)
	}
	mp.byHash[tx.Hash] = tx

	return len(mp.order)
}

// Delete removes tx from the pool. It is a no-op if tx is not pooled.
func (mp *Mempool) Delete(tx txn.Transaction) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.byHash[tx.Hash]; !exists {
		return
	}

	delete(mp.byHash, tx.Hash)
	for i, h := range mp.order {
		if h == tx.Hash {
			mp.order = append(mp.order[:i], mp.order[i+1:]...)
			break
		}
	}
}

// Truncate clears the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.order = nil
	mp.byHash = make(map[string]txn.Transaction)
}

// Transactions returns the pooled transactions in FIFO submission order.
func (mp *Mempool) Transactions() []txn.Transaction {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]txn.Transaction, len(mp.order))
	for i, h := range mp.order {
		txs[i] = mp.byHash[h]
	}

	return txs
}
