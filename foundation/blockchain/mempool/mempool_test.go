package mempool_test

import (
	"testing"

	"github.com/ardanlabs/ledger/foundation/blockchain/mempool"
	"github.com/ardanlabs/ledger/foundation/blockchain/txn"
	"github.com/ardanlabs/ledger/foundation/blockchain/wallet"
)

func mustTx(t *testing.T, to txn.Recipient, amount float64, timestamp int64) txn.Transaction {
	t.Helper()

	tx, err := txn.New(txn.Params{Kind: txn.Genesis, To: to, Amount: amount, Timestamp: timestamp})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	return tx
}

func TestUpsertPreservesFIFOOrder(t *testing.T) {
	alice, err := wallet.New("alice")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	bob, err := wallet.New("bob")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	mp := mempool.New()

	tx1 := mustTx(t, alice, 1, 1)
	tx2 := mustTx(t, bob, 2, 2)
	tx3 := mustTx(t, alice, 3, 3)

	mp.Upsert(tx1)
	mp.Upsert(tx2)
	mp.Upsert(tx3)

	if mp.Count() != 3 {
		t.Fatalf("got %d, exp 3", mp.Count())
	}

	got := mp.Transactions()
	want := []string{tx1.Hash, tx2.Hash, tx3.Hash}
	for i, tx := range got {
		if tx.Hash != want[i] {
			t.Fatalf("position %d: got %s, exp %s", i, tx.Hash, want[i])
		}
	}
}

func TestUpsertOfExistingHashDoesNotReorder(t *testing.T) {
	alice, err := wallet.New("alice")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	mp := mempool.New()

	tx1 := mustTx(t, alice, 1, 1)
	tx2 := mustTx(t, alice, 2, 2)

	mp.Upsert(tx1)
	mp.Upsert(tx2)
	mp.Upsert(tx1)

	if mp.Count() != 2 {
		t.Fatalf("got %d, exp 2", mp.Count())
	}
	if mp.Transactions()[0].Hash != tx1.Hash {
		t.Fatalf("expected tx1 to remain first after a repeated upsert")
	}
}

func TestDeleteRemovesFromOrderAndIndex(t *testing.T) {
	alice, err := wallet.New("alice")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	mp := mempool.New()

	tx1 := mustTx(t, alice, 1, 1)
	tx2 := mustTx(t, alice, 2, 2)

	mp.Upsert(tx1)
	mp.Upsert(tx2)
	mp.Delete(tx1)

	if mp.Count() != 1 {
		t.Fatalf("got %d, exp 1", mp.Count())
	}
	if mp.Transactions()[0].Hash != tx2.Hash {
		t.Fatalf("expected only tx2 to remain")
	}
}

func TestTruncateEmptiesThePool(t *testing.T) {
	alice, err := wallet.New("alice")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	mp := mempool.New()
	mp.Upsert(mustTx(t, alice, 1, 1))
	mp.Truncate()

	if mp.Count() != 0 {
		t.Fatalf("got %d, exp 0 after truncate", mp.Count())
	}
}
