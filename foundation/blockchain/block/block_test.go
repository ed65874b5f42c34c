package block_test

import (
	"context"
	"testing"

	"github.com/ardanlabs/ledger/foundation/blockchain/block"
	"github.com/ardanlabs/ledger/foundation/blockchain/errs"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ardanlabs/ledger/foundation/blockchain/txn"
	"github.com/ardanlabs/ledger/foundation/blockchain/wallet"
)

func fundingTx(t *testing.T, to txn.Recipient, amount float64) txn.Transaction {
	t.Helper()

	tx, err := txn.New(txn.Params{Kind: txn.Genesis, To: to, Amount: amount, Timestamp: 1})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	return tx
}

func TestNewBlockRejectsEmptyTransactions(t *testing.T) {
	if _, err := block.New(signature.ZeroHash, 1, 1, nil); err == nil {
		t.Fatalf("expected an error constructing a block with no transactions")
	}
}

func TestMineFindsASolutionSatisfyingDifficulty(t *testing.T) {
	faucet, err := wallet.New("faucet")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	tx := fundingTx(t, faucet, 1000)

	b, err := block.New(signature.ZeroHash, 1, 1, []txn.Transaction{tx})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := b.Mine(context.Background(), 1, 4, 1_000_000); err != nil {
		t.Fatalf("unexpected error mining: %s", err)
	}

	if err := b.Validate(block.PoW); err != nil {
		t.Fatalf("expected block to validate: %s", err)
	}
}

func TestMineExhaustsAndFails(t *testing.T) {
	faucet, err := wallet.New("faucet")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	tx := fundingTx(t, faucet, 1000)

	b, err := block.New(signature.ZeroHash, 1, 1, []txn.Transaction{tx})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	// A difficulty this high is effectively unsatisfiable within a tiny
	// nonce space, so every worker should exhaust its range.
	err = b.Mine(context.Background(), 64, 2, 8)
	if !errs.Is(err, errs.MiningExhausted) {
		t.Fatalf("expected MiningExhausted, got %v", err)
	}
}

func TestSignAndValidatePoS(t *testing.T) {
	faucet, err := wallet.New("faucet")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}
	validator, err := wallet.New("validator")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	tx := fundingTx(t, faucet, 1000)

	b, err := block.New(signature.ZeroHash, 1, 1, []txn.Transaction{tx})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := b.Sign(validator); err != nil {
		t.Fatalf("unexpected error signing: %s", err)
	}

	if err := b.Validate(block.PoS); err != nil {
		t.Fatalf("expected block to validate: %s", err)
	}
}

func TestValidateRejectsUnsealedBlock(t *testing.T) {
	faucet, err := wallet.New("faucet")
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	tx := fundingTx(t, faucet, 1000)

	b, err := block.New(signature.ZeroHash, 1, 1, []txn.Transaction{tx})
	if err != nil {
		t.Fatalf("unexpected error: %s", err)
	}

	if err := b.Validate(block.PoW); !errs.Is(err, errs.InvariantViolation) {
		t.Fatalf("expected InvariantViolation for an unsealed block, got %v", err)
	}
}
