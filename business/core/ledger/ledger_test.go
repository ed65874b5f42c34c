package ledger_test

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/ardanlabs/ledger/business/core/ledger"
	"github.com/ardanlabs/ledger/foundation/blockchain/contract"
	"github.com/ardanlabs/ledger/foundation/blockchain/wallet"
)

func testLogger(t *testing.T) *zap.SugaredLogger {
	t.Helper()

	core, err := zap.NewDevelopment()
	if err != nil {
		t.Fatalf("unexpected error building logger: %s", err)
	}
	return core.Sugar()
}

func newTestPoW(t *testing.T) *ledger.Blockchain {
	t.Helper()

	cfg := ledger.NewDefaultConfig()
	cfg.Mining.Difficulty = 1
	cfg.Mining.BlockMinerPoolSize = 2
	cfg.Mempool.MaxPendingTransactions = 1_000_000
	cfg.Mempool.AutoCreateBlockDelaySeconds = 1

	bc, err := ledger.NewPoW(cfg, testLogger(t))
	if err != nil {
		t.Fatalf("unexpected error constructing chain: %s", err)
	}
	return bc
}

func newTestPoS(t *testing.T) *ledger.Blockchain {
	t.Helper()

	cfg := ledger.NewDefaultConfig()
	cfg.Mempool.MaxPendingTransactions = 1_000_000
	cfg.Mempool.AutoCreateBlockDelaySeconds = 1

	bc, err := ledger.NewPoS(cfg, testLogger(t))
	if err != nil {
		t.Fatalf("unexpected error constructing chain: %s", err)
	}
	return bc
}

func mustWallet(t *testing.T, name string) *wallet.Wallet {
	t.Helper()

	w, err := wallet.New(name)
	if err != nil {
		t.Fatalf("unexpected error creating wallet %s: %s", name, err)
	}
	return w
}

func almostEqual(a, b float64) bool {
	d := a - b
	if d < 0 {
		d = -d
	}
	return d < 0.0001
}

// TestFundAndMineProducesExpectedBalances walks the canonical fund-then-
// mine scenario: the faucet sends alice 100 coins, the block is created
// manually with bob as the reward recipient, and every balance lands
// exactly where the fee and reward formulas say it should.
func TestFundAndMineProducesExpectedBalances(t *testing.T) {
	bc := newTestPoW(t)

	alice := mustWallet(t, "alice")
	bob := mustWallet(t, "bob")

	if _, err := bc.SubmitTransaction(bc.Faucet(), alice, 100); err != nil {
		t.Fatalf("unexpected error submitting transaction: %s", err)
	}

	blk, err := bc.CreateBlock(context.Background(), bob)
	if err != nil {
		t.Fatalf("unexpected error creating block: %s", err)
	}
	if blk == nil {
		t.Fatalf("expected a block to be created")
	}

	if got := bc.GetBalance(alice); !almostEqual(got, 100) {
		t.Fatalf("alice balance: got %v, exp 100", got)
	}
	if got := bc.GetBalance(bc.Faucet()); !almostEqual(got, 898.95) {
		t.Fatalf("faucet balance: got %v, exp 898.95", got)
	}
	if got := bc.GetBalance(bob); !almostEqual(got, 1.15) {
		t.Fatalf("bob balance: got %v, exp 1.15", got)
	}

	if got := bc.ChainLength(); got != 2 {
		t.Fatalf("chain length: got %d, exp 2", got)
	}
}

// TestInsufficientFundsTransactionIsDroppedButStaysPooled admits a
// transaction the sender cannot afford; it must not make it into the
// block, and it must remain in the mempool rather than vanish.
func TestInsufficientFundsTransactionIsDroppedButStaysPooled(t *testing.T) {
	bc := newTestPoW(t)

	alice := mustWallet(t, "alice")
	bob := mustWallet(t, "bob")

	if _, err := bc.SubmitTransaction(alice, bob, 50); err != nil {
		t.Fatalf("unexpected error submitting transaction: %s", err)
	}

	blk, err := bc.CreateBlock(context.Background(), bob)
	if err != nil {
		t.Fatalf("unexpected error creating block: %s", err)
	}
	if blk != nil {
		t.Fatalf("expected no block to be created: every pooled transaction should have been dropped")
	}

	if got := bc.GetBalance(bob); got != 0 {
		t.Fatalf("bob balance: got %v, exp 0", got)
	}
	if got := bc.PendingCount(); got != 1 {
		t.Fatalf("expected the dropped transaction to remain pooled, got %d pending", got)
	}
}

// TestAutoCreateBlockFiresAfterDelay fills the mempool past its
// configured threshold and waits for the automatic block-creation timer
// to fire, crediting the drain address under proof-of-work.
func TestAutoCreateBlockFiresAfterDelay(t *testing.T) {
	cfg := ledger.NewDefaultConfig()
	cfg.Mining.Difficulty = 1
	cfg.Mining.BlockMinerPoolSize = 2
	cfg.Mempool.MaxPendingTransactions = 1
	cfg.Mempool.AutoCreateBlockDelaySeconds = 1

	bc, err := ledger.NewPoW(cfg, testLogger(t))
	if err != nil {
		t.Fatalf("unexpected error constructing chain: %s", err)
	}

	alice := mustWallet(t, "alice")

	before := bc.GetDrainedAmount()

	if _, err := bc.SubmitTransaction(bc.Faucet(), alice, 10); err != nil {
		t.Fatalf("unexpected error submitting transaction: %s", err)
	}

	deadline := time.Now().Add(3 * time.Second)
	for bc.ChainLength() < 2 && time.Now().Before(deadline) {
		time.Sleep(100 * time.Millisecond)
	}

	if bc.ChainLength() < 2 {
		t.Fatalf("expected an automatic block to have been created")
	}

	if got := bc.GetDrainedAmount(); got <= before {
		t.Fatalf("expected the drain address to have grown, got %v from %v", got, before)
	}
}

func newCounterContract(t *testing.T, creator string) *contract.Contract {
	t.Helper()

	init := func(ctx *contract.Context, args ...any) (any, error) {
		return nil, ctx.Storage.Set("count", float64(0))
	}
	increment := func(ctx *contract.Context, args ...any) (any, error) {
		v, err := ctx.Storage.Get("count")
		if err != nil {
			return nil, err
		}
		count, _ := v.(float64)
		count++
		return count, ctx.Storage.Set("count", count)
	}
	value := func(v contract.ViewStorage, args ...any) (any, error) {
		return v.Get("count"), nil
	}

	return contract.New(
		"counter",
		creator,
		1,
		nil,
		map[string]contract.ViewFunc{"value": value},
		map[string]contract.Func{"__init__": init, "increment": increment},
	)
}

// TestDeployAndCallContract deploys the counter contract, calls
// increment, and confirms the call's side effects land once the block
// commits.
func TestDeployAndCallContract(t *testing.T) {
	bc := newTestPoW(t)

	alice := mustWallet(t, "alice")
	if _, err := bc.SubmitTransaction(bc.Faucet(), alice, 100); err != nil {
		t.Fatalf("unexpected error funding alice: %s", err)
	}
	if _, err := bc.CreateBlock(context.Background(), bc.Drain()); err != nil {
		t.Fatalf("unexpected error creating funding block: %s", err)
	}

	c := newCounterContract(t, alice.Address())
	if _, err := bc.DeployContract(alice, c); err != nil {
		t.Fatalf("unexpected error deploying contract: %s", err)
	}
	if _, err := bc.CreateBlock(context.Background(), bc.Drain()); err != nil {
		t.Fatalf("unexpected error creating deploy block: %s", err)
	}

	if _, ok := bc.Contract(c.Address()); !ok {
		t.Fatalf("expected contract to be registered after its deploy block committed")
	}

	if _, err := bc.CallContract(alice, c.Address(), "increment", 0, 0); err != nil {
		t.Fatalf("unexpected error calling increment: %s", err)
	}
	if _, err := bc.CreateBlock(context.Background(), bc.Drain()); err != nil {
		t.Fatalf("unexpected error creating call block: %s", err)
	}

	deployed, ok := bc.Contract(c.Address())
	if !ok {
		t.Fatalf("expected contract to remain registered")
	}

	result, err := bc.Runtime().View(deployed, "value")
	if err != nil {
		t.Fatalf("unexpected error viewing count: %s", err)
	}
	if got, _ := result.(float64); got != 1 {
		t.Fatalf("count: got %v, exp 1", got)
	}
}

// TestOutOfGasCallDoesNotMutateAndChargesFullLimit calls a contract
// function that always runs out of gas, confirming the caller is still
// charged the full gas limit and the contract's storage is untouched.
func TestOutOfGasCallDoesNotMutateAndChargesFullLimit(t *testing.T) {
	bc := newTestPoW(t)

	alice := mustWallet(t, "alice")
	if _, err := bc.SubmitTransaction(bc.Faucet(), alice, 100); err != nil {
		t.Fatalf("unexpected error funding alice: %s", err)
	}
	if _, err := bc.CreateBlock(context.Background(), bc.Drain()); err != nil {
		t.Fatalf("unexpected error creating funding block: %s", err)
	}

	burn := func(ctx *contract.Context, args ...any) (any, error) {
		for i := 0; i < 10_000; i++ {
			if err := ctx.Storage.Set("k", i); err != nil {
				return nil, err
			}
		}
		return nil, nil
	}

	peek := func(v contract.ViewStorage, args ...any) (any, error) {
		return v.Get("k"), nil
	}

	c := contract.New("burner", alice.Address(), 1, nil, map[string]contract.ViewFunc{"peek": peek}, map[string]contract.Func{"burn": burn})
	if _, err := bc.DeployContract(alice, c); err != nil {
		t.Fatalf("unexpected error deploying contract: %s", err)
	}
	if _, err := bc.CreateBlock(context.Background(), bc.Drain()); err != nil {
		t.Fatalf("unexpected error creating deploy block: %s", err)
	}

	beforeBalance := bc.GetBalance(alice)

	gasLimit := uint64(100)
	if _, err := bc.CallContract(alice, c.Address(), "burn", 0, gasLimit); err != nil {
		t.Fatalf("unexpected error calling burn: %s", err)
	}
	if _, err := bc.CreateBlock(context.Background(), bc.Drain()); err != nil {
		t.Fatalf("unexpected error creating call block: %s", err)
	}

	cfg := bc.Config()
	wantCharge := float64(gasLimit) * cfg.Contracts.GasPrice
	afterBalance := bc.GetBalance(alice)
	if !almostEqual(beforeBalance-afterBalance, wantCharge) {
		t.Fatalf("gas charge: got %v, exp %v", beforeBalance-afterBalance, wantCharge)
	}

	deployed, _ := bc.Contract(c.Address())
	v, err := bc.Runtime().View(deployed, "peek")
	if err != nil {
		t.Fatalf("unexpected error viewing storage: %s", err)
	}
	if v != nil {
		t.Fatalf("expected no storage mutation to survive an out-of-gas call, got %v", v)
	}
}

// TestProofOfStakeValidatorSelectionTracksStake stakes three wallets in
// proportion 50/30/20 and mines a large number of blocks, checking the
// observed validator frequency converges toward the same proportions.
func TestProofOfStakeValidatorSelectionTracksStake(t *testing.T) {
	bc := newTestPoS(t)

	alice := mustWallet(t, "alice")
	bob := mustWallet(t, "bob")
	carol := mustWallet(t, "carol")

	for _, w := range []*wallet.Wallet{alice, bob, carol} {
		if _, err := bc.SubmitTransaction(bc.Faucet(), w, 200); err != nil {
			t.Fatalf("unexpected error funding %s: %s", w.Name(), err)
		}
	}
	if _, err := bc.CreateBlock(context.Background(), bc.Drain()); err != nil {
		t.Fatalf("unexpected error creating funding block: %s", err)
	}

	if _, err := bc.Stake(alice, 50); err != nil {
		t.Fatalf("unexpected error staking alice: %s", err)
	}
	if _, err := bc.Stake(bob, 30); err != nil {
		t.Fatalf("unexpected error staking bob: %s", err)
	}
	if _, err := bc.Stake(carol, 20); err != nil {
		t.Fatalf("unexpected error staking carol: %s", err)
	}
	if _, err := bc.CreateBlock(context.Background(), alice); err != nil {
		t.Fatalf("unexpected error creating staking block: %s", err)
	}

	if got := bc.StakeOf(alice.Address()); !almostEqual(got, 50) {
		t.Fatalf("alice stake: got %v, exp 50", got)
	}

	counts := map[string]int{}
	const rounds = 300
	for i := 0; i < rounds; i++ {
		if _, err := bc.SubmitTransaction(bc.Faucet(), alice, 0.01); err != nil {
			t.Fatalf("unexpected error submitting filler transaction: %s", err)
		}
		blk, err := bc.CreateBlock(context.Background(), nil)
		if err != nil {
			t.Fatalf("unexpected error creating block %d: %s", i, err)
		}
		if blk == nil {
			continue
		}
		counts[blk.Validator]++
	}

	total := 0
	for _, c := range counts {
		total += c
	}
	if total == 0 {
		t.Fatalf("expected at least some blocks to be validated")
	}

	aliceShare := float64(counts[alice.Address()]) / float64(total)
	if aliceShare < 0.3 || aliceShare > 0.7 {
		t.Fatalf("alice's validator share %v did not converge toward her 0.5 stake weight", aliceShare)
	}
}
