// This program wires a proof-of-work ledger, funds a couple of wallets,
// deploys a sample contract, calls it, and mines a handful of blocks —
// the external "demo entry program" collaborator the core ledger engine
// and contract runtime are scoped away from.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/ardanlabs/conf/v3"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ardanlabs/ledger/business/core/ledger"
	"github.com/ardanlabs/ledger/foundation/blockchain/contract"
	"github.com/ardanlabs/ledger/foundation/blockchain/wallet"
	"github.com/ardanlabs/ledger/foundation/logger"
)

var build = "develop"

func main() {
	log, err := logger.New("LEDGERDEMO")
	if err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(log); err != nil {
		log.Errorw("startup", "ERROR", err)
		log.Sync()
		os.Exit(1)
	}
}

func run(log *zap.SugaredLogger) error {
	cfg := struct {
		conf.Version
		Mining struct {
			Consensus  string `conf:"default:pow"`
			Difficulty uint   `conf:"default:2"`
		}
	}{
		Version: conf.Version{
			Build: build,
			Desc:  "in-memory educational ledger demo",
		},
	}

	const prefix = "LEDGERDEMO"
	help, err := conf.Parse(prefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	log.Infow("starting demo", "version", build, "consensus", cfg.Mining.Consensus)

	traceID := uuid.New()
	evHandler := func(v string, args ...any) {
		log.Infow(fmt.Sprintf(v, args...), "traceid", traceID)
	}

	ledgerCfg := ledger.NewDefaultConfig()
	ledgerCfg.Mining.Difficulty = cfg.Mining.Difficulty

	var bc *ledger.Blockchain
	switch cfg.Mining.Consensus {
	case "pos":
		bc, err = ledger.NewPoS(ledgerCfg, log)
	default:
		bc, err = ledger.NewPoW(ledgerCfg, log)
	}
	if err != nil {
		return fmt.Errorf("constructing blockchain: %w", err)
	}

	evHandler("chain initialized with genesis crediting faucet %d coins", int(ledgerCfg.Genesis.CoinsAmount))

	alice, err := wallet.New("alice")
	if err != nil {
		return fmt.Errorf("creating alice's wallet: %w", err)
	}
	bob, err := wallet.New("bob")
	if err != nil {
		return fmt.Errorf("creating bob's wallet: %w", err)
	}

	if _, err := bc.SubmitTransaction(bc.Faucet(), alice, 100); err != nil {
		return fmt.Errorf("funding alice: %w", err)
	}

	if _, err := bc.CreateBlock(context.Background(), bob); err != nil {
		return fmt.Errorf("mining funding block: %w", err)
	}
	evHandler("alice funded, balance now %.2f", bc.GetBalance(alice))

	counter := newCounterContract(alice.Address())
	if _, err := bc.DeployContract(alice, counter); err != nil {
		return fmt.Errorf("deploying counter contract: %w", err)
	}
	if _, err := bc.CreateBlock(context.Background(), bob); err != nil {
		return fmt.Errorf("mining deploy block: %w", err)
	}
	evHandler("counter contract deployed at %s", counter.Address())

	if _, err := bc.CallContract(alice, counter.Address(), "increment", 0, 0); err != nil {
		return fmt.Errorf("calling increment: %w", err)
	}
	if _, err := bc.CreateBlock(context.Background(), bob); err != nil {
		return fmt.Errorf("mining call block: %w", err)
	}

	deployed, _ := bc.Contract(counter.Address())
	count, err := bc.Runtime().View(deployed, "count")
	if err != nil {
		return fmt.Errorf("viewing count: %w", err)
	}
	evHandler("counter now reads %v", count)

	log.Infow("demo complete",
		"chainLength", bc.ChainLength(),
		"alice", bc.GetBalance(alice),
		"bob", bc.GetBalance(bob),
		"faucet", bc.GetBalance(bc.Faucet()),
		"drain", bc.GetDrainedAmount(),
		"totalSupply", bc.GetTotalSupply(),
		"circulatingSupply", bc.GetCirculatingSupply(),
	)

	return nil
}

// newCounterContract returns a tiny contract with a single "count"
// storage slot, an "increment" function, and a "count" view, enough to
// exercise deploy, call, and off-chain view in one demo run.
func newCounterContract(creator string) *contract.Contract {
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

	count := func(v contract.ViewStorage, args ...any) (any, error) {
		return v.Get("count"), nil
	}

	return contract.New(
		"counter",
		creator,
		1,
		nil,
		map[string]contract.ViewFunc{"count": count},
		map[string]contract.Func{"__init__": init, "increment": increment},
	)
}
