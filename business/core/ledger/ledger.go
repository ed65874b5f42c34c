// Package ledger implements the blockchain engine: mempool admission,
// balance-aware block assembly, contract deployment and calls, and the
// two consensus variants (proof-of-work and proof-of-stake) that seal a
// block once it has been assembled.
package ledger

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/deckarep/golang-set"
	"go.uber.org/zap"

	"github.com/ardanlabs/ledger/foundation/blockchain/block"
	"github.com/ardanlabs/ledger/foundation/blockchain/contract"
	"github.com/ardanlabs/ledger/foundation/blockchain/errs"
	"github.com/ardanlabs/ledger/foundation/blockchain/mempool"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ardanlabs/ledger/foundation/blockchain/txn"
	"github.com/ardanlabs/ledger/foundation/blockchain/wallet"
)

// sealer captures the one place the two consensus variants differ: how a
// block (genesis or otherwise) gets its proof attached, and who the
// engine should credit when an automatic block is created with no
// explicit reward recipient.
type sealer interface {
	sealGenesis(ctx context.Context, b *block.Block) error
	seal(ctx context.Context, b *block.Block, reward txn.Recipient) error
	autoReward() txn.Recipient
	kind() block.Consensus

	// onCommitted is notified once per transaction admitted into a block,
	// after assembly has decided to keep it. Proof-of-work ignores it;
	// proof-of-stake uses it to track bonded stake.
	onCommitted(tx txn.Transaction)
}

// addressRecipient is a fallback Recipient for an address the ledger has
// never seen a Wallet or Contract for, so internally synthesized
// transactions (withdrawals to an address only known from a contract's
// transfer request) always have somewhere to point.
type addressRecipient struct {
	address string
}

func (a addressRecipient) Address() string { return a.address }
func (a addressRecipient) Name() string    { return a.address }

// =============================================================================

// Blockchain is the ledger engine shared by both consensus variants: the
// mempool, the chain of sealed blocks, the contract registry, and the
// running set of addresses the engine has ever seen.
type Blockchain struct {
	cfg    Config
	log    *zap.SugaredLogger
	sealer sealer

	faucet *wallet.Wallet
	drain  *wallet.Wallet
	runtime *contract.Runtime

	mu               sync.RWMutex
	blocks           []*block.Block
	contracts        map[string]*contract.Contract
	pendingContracts map[string]*contract.Contract
	// registeredAddresses is the chain's set of deployed contract
	// addresses, per the data model's "set of deployed contract
	// addresses" chain state. It is kept alongside contracts, rather
	// than instead of it, because block assembly needs fast membership
	// tests on every pending ContractCall while Contract lookups need
	// the object itself.
	registeredAddresses mapset.Set
	recipients          map[string]txn.Recipient

	mempool         *mempool.Mempool
	isCreatingBlock atomic.Bool

	autoMu    sync.Mutex
	autoTimer *time.Timer
}

func newBase(cfg Config, log *zap.SugaredLogger) (*Blockchain, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	faucet, err := wallet.New(cfg.Accounts.FaucetName)
	if err != nil {
		return nil, fmt.Errorf("creating faucet wallet: %w", err)
	}

	drain, err := wallet.New(cfg.Accounts.DrainName)
	if err != nil {
		return nil, fmt.Errorf("creating drain wallet: %w", err)
	}

	bc := Blockchain{
		cfg:                 cfg,
		log:                 log,
		faucet:              faucet,
		drain:               drain,
		runtime:             contract.NewRuntime(cfg.Contracts.GasCostContractCall, cfg.Contracts.GasCostStorageRead, cfg.Contracts.GasCostStorageWrite),
		contracts:           make(map[string]*contract.Contract),
		pendingContracts:    make(map[string]*contract.Contract),
		registeredAddresses: mapset.NewSet(),
		recipients:          make(map[string]txn.Recipient),
		mempool:             mempool.New(),
	}

	bc.register(faucet)
	bc.register(drain)

	return &bc, nil
}

// init builds the genesis block crediting the faucet with the configured
// genesis supply, sealed according to the consensus variant.
func (bc *Blockchain) init(ctx context.Context) error {
	genesisTx, err := txn.New(txn.Params{
		Kind:      txn.Genesis,
		To:        bc.faucet,
		Amount:    bc.cfg.Genesis.CoinsAmount,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return fmt.Errorf("building genesis transaction: %w", err)
	}

	genesisBlock, err := block.New(signature.ZeroHash, 0, genesisTx.Timestamp, []txn.Transaction{genesisTx})
	if err != nil {
		return fmt.Errorf("building genesis block: %w", err)
	}

	if err := bc.sealer.sealGenesis(ctx, genesisBlock); err != nil {
		return fmt.Errorf("sealing genesis block: %w", err)
	}

	bc.mu.Lock()
	bc.blocks = append(bc.blocks, genesisBlock)
	bc.mu.Unlock()

	return nil
}

// Faucet returns the chain's faucet wallet.
func (bc *Blockchain) Faucet() *wallet.Wallet { return bc.faucet }

// Drain returns the chain's drain (burn sink) wallet.
func (bc *Blockchain) Drain() *wallet.Wallet { return bc.drain }

// Config returns the configuration the chain was constructed with.
func (bc *Blockchain) Config() Config { return bc.cfg }

// ChainLength returns the number of blocks sealed so far, genesis
// included.
func (bc *Blockchain) ChainLength() int {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	return len(bc.blocks)
}

// Block returns the sealed block at number, or nil if it doesn't exist.
func (bc *Blockchain) Block(number uint64) *block.Block {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if number >= uint64(len(bc.blocks)) {
		return nil
	}
	return bc.blocks[number]
}

// Contract returns the registered contract at address, if deployed.
func (bc *Blockchain) Contract(address string) (*contract.Contract, bool) {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if !bc.registeredAddresses.Contains(address) {
		return nil, false
	}

	c, ok := bc.contracts[address]
	return c, ok
}

// Runtime returns the shared contract runtime, for read-only off-chain
// view calls.
func (bc *Blockchain) Runtime() *contract.Runtime { return bc.runtime }

// PendingCount returns the number of transactions currently pooled,
// awaiting a block.
func (bc *Blockchain) PendingCount() int { return bc.mempool.Count() }

// register remembers r by address so future internally synthesized
// transactions can name it as a recipient.
func (bc *Blockchain) register(r txn.Recipient) {
	bc.mu.Lock()
	defer bc.mu.Unlock()

	bc.recipients[r.Address()] = r
}

func (bc *Blockchain) resolveRecipient(address string) txn.Recipient {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	if r, ok := bc.recipients[address]; ok {
		return r
	}
	return addressRecipient{address: address}
}

// =============================================================================

// SubmitTransaction validates and pools a value transfer from from to to.
func (bc *Blockchain) SubmitTransaction(from *wallet.Wallet, to txn.Recipient, amount float64) (txn.Transaction, error) {
	bc.register(from)
	bc.register(to)

	tx, err := txn.New(txn.Params{
		Kind:      txn.Transfer,
		From:      from,
		To:        to,
		Amount:    amount,
		Fee:       bc.cfg.Mining.DefaultFeePercentage,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return txn.Transaction{}, err
	}

	return tx, bc.addTransaction(tx)
}

// DeployContract submits a ContractDeploy transaction pricing c's code
// size. c is staged and is not registered into the chain's contract
// registry until the block containing this transaction commits.
func (bc *Blockchain) DeployContract(creator *wallet.Wallet, c *contract.Contract) (txn.Transaction, error) {
	bc.register(creator)
	bc.register(c)

	fee := bc.cfg.Contracts.DeployBaseFee + bc.cfg.Contracts.DeployPerByteFee*float64(c.CodeSize())

	tx, err := txn.New(txn.Params{
		Kind:            txn.ContractDeploy,
		From:            creator,
		To:              bc.drain,
		Amount:          fee,
		Timestamp:       time.Now().Unix(),
		ContractAddress: c.Address(),
	})
	if err != nil {
		return txn.Transaction{}, err
	}

	bc.mu.Lock()
	bc.pendingContracts[c.Address()] = c
	bc.mu.Unlock()

	return tx, bc.addTransaction(tx)
}

// CallContract submits a signed ContractCall transaction against an
// already-deployed contract.
func (bc *Blockchain) CallContract(sender *wallet.Wallet, contractAddress, functionName string, value float64, gasLimit uint64, args ...any) (txn.Transaction, error) {
	bc.register(sender)

	if gasLimit == 0 {
		gasLimit = bc.cfg.Contracts.DefaultGasLimit
	}

	c, ok := bc.Contract(contractAddress)
	if !ok {
		return txn.Transaction{}, errs.New(errs.NonExistentToken, "contract %s is not deployed", contractAddress)
	}

	tx, err := txn.New(txn.Params{
		Kind:            txn.ContractCall,
		From:            sender,
		To:              c,
		Amount:          value,
		Timestamp:       time.Now().Unix(),
		ContractAddress: contractAddress,
		FunctionName:    functionName,
		FunctionArgs:    args,
		GasLimit:        gasLimit,
	})
	if err != nil {
		return txn.Transaction{}, err
	}

	return tx, bc.addTransaction(tx)
}

// addTransaction validates and pools tx, scheduling an automatic
// createBlock if the mempool has reached its configured size.
func (bc *Blockchain) addTransaction(tx txn.Transaction) error {
	if tx.To == nil {
		return fmt.Errorf("transaction requires a to recipient")
	}

	if !tx.Kind.HasNoSender() {
		if tx.From == nil {
			return fmt.Errorf("transaction requires a from sender")
		}
		if tx.From.Address() == tx.To.Address() {
			return fmt.Errorf("from and to must be distinct addresses")
		}
	}

	if tx.Kind == txn.Transfer && tx.Amount <= 0 {
		return fmt.Errorf("transaction amount must be positive")
	}

	if tx.Kind.Signed() && !tx.Verify() {
		return fmt.Errorf("transaction %s has an invalid signature", tx.Hash)
	}

	count := bc.mempool.Upsert(tx)

	if count >= bc.cfg.Mempool.MaxPendingTransactions {
		bc.scheduleAutoCreate()
	}

	return nil
}

// scheduleAutoCreate arms the automatic block-creation timer if one is
// not already pending.
func (bc *Blockchain) scheduleAutoCreate() {
	bc.autoMu.Lock()
	defer bc.autoMu.Unlock()

	if bc.autoTimer != nil {
		return
	}

	delay := time.Duration(bc.cfg.Mempool.AutoCreateBlockDelaySeconds) * time.Second
	bc.autoTimer = time.AfterFunc(delay, func() {
		bc.autoMu.Lock()
		bc.autoTimer = nil
		bc.autoMu.Unlock()

		if _, err := bc.CreateBlock(context.Background(), nil); err != nil {
			bc.logf("auto createBlock failed: %s", err)
		}
	})
}

// cancelAutoCreate disarms a pending automatic block-creation timer. A
// voluntary createBlock always cancels it.
func (bc *Blockchain) cancelAutoCreate() {
	bc.autoMu.Lock()
	defer bc.autoMu.Unlock()

	if bc.autoTimer != nil {
		bc.autoTimer.Stop()
		bc.autoTimer = nil
	}
}

func (bc *Blockchain) logf(format string, args ...any) {
	if bc.log != nil {
		bc.log.Infof(format, args...)
	}
}

// =============================================================================

// kept is a transaction that survived assembly, together with whatever
// contract effects it produced.
type kept struct {
	tx         txn.Transaction
	preflight  contract.CallResult
	commit     contract.Commit
	deployed   *contract.Contract
}

// CreateBlock assembles a new block from the mempool in FIFO order,
// preflighting contract calls and tracking running balances so spending
// never drives a balance negative, then seals it under the chain's
// consensus and appends it. reward may be nil, in which case the
// consensus variant decides who is credited (the drain address for PoW,
// the selected validator for PoS).
func (bc *Blockchain) CreateBlock(ctx context.Context, reward txn.Recipient) (*block.Block, error) {
	if !bc.isCreatingBlock.CompareAndSwap(false, true) {
		return nil, errs.New(errs.AlreadyMining, "a block is already being created")
	}
	defer bc.isCreatingBlock.Store(false)

	bc.cancelAutoCreate()

	if reward == nil {
		reward = bc.sealer.autoReward()
	}
	if reward == nil {
		// No validator has bonded stake yet; default to drain rather
		// than fail the block outright.
		reward = bc.drain
	}
	bc.register(reward)

	bc.mu.RLock()
	previousBlock := bc.blocks[len(bc.blocks)-1]
	pending := bc.mempool.Transactions()
	bc.mu.RUnlock()

	runningBalances := make(map[string]float64)
	getBalance := func(addr string) float64 {
		if v, ok := runningBalances[addr]; ok {
			return v
		}
		v := bc.replayBalance(addr)
		runningBalances[addr] = v
		return v
	}

	var keptList []kept

	for _, tx := range pending {
		if tx.Kind.Signed() && !tx.Verify() {
			continue
		}

		var preflight contract.CallResult
		var commitFn contract.Commit
		var c *contract.Contract

		if tx.Kind == txn.ContractCall {
			var ok bool
			c, ok = bc.Contract(tx.ContractAddress)
			if !ok {
				continue
			}

			req := contract.CallRequest{
				Caller:          tx.From.Address(),
				Value:           tx.Amount,
				GasLimit:        tx.GasLimit,
				ContractBalance: getBalance(c.Address()),
				DrainAddress:    bc.drain.Address(),
			}
			preflight, commitFn = bc.runtime.Preflight(c, req, tx.FunctionName, tx.FunctionArgs...)
			tx.GasUsed = preflight.GasUsed
			tx.CallResult = preflight
		}

		spending := bc.spendingFor(tx, preflight)

		// Unstake returns previously bonded funds: the staker signs to
		// authorize it, but the pool (to) pays and the staker (from)
		// receives, the reverse of every other kind.
		debitAddr, creditAddr := tx.From.Address(), tx.To.Address()
		if tx.Kind == txn.Unstake {
			debitAddr, creditAddr = creditAddr, debitAddr
		}

		fromBal := getBalance(debitAddr) - spending
		toBal := getBalance(creditAddr) + tx.Amount

		if fromBal < 0 {
			if tx.Kind == txn.ContractCall {
				gasOnly := float64(preflight.GasUsed) * bc.cfg.Contracts.GasPrice
				if getBalance(tx.From.Address()) >= gasOnly {
					tx.Kind = txn.GasOnly
					runningBalances[tx.From.Address()] = getBalance(tx.From.Address()) - gasOnly
					keptList = append(keptList, kept{tx: tx})
				}
			}
			continue
		}

		runningBalances[debitAddr] = fromBal
		runningBalances[creditAddr] = toBal

		var deployed *contract.Contract
		if tx.Kind == txn.ContractDeploy {
			bc.mu.RLock()
			deployed = bc.pendingContracts[tx.ContractAddress]
			bc.mu.RUnlock()
		}

		keptList = append(keptList, kept{tx: tx, preflight: preflight, commit: commitFn, deployed: deployed})
	}

	if len(keptList) == 0 {
		return nil, nil
	}

	for _, k := range keptList {
		bc.sealer.onCommitted(k.tx)
	}

	var withdrawals []txn.Transaction
	var newContracts []*contract.Contract

	for i, k := range keptList {
		switch k.tx.Kind {
		case txn.ContractDeploy:
			if k.deployed == nil {
				continue
			}
			if _, err := bc.runtime.Init(k.deployed, k.tx.From.Address(), bc.cfg.Contracts.DefaultGasLimit); err != nil {
				bc.logf("contract %s failed to initialize: %s", k.deployed.Address(), err)
				continue
			}
			newContracts = append(newContracts, k.deployed)

		case txn.ContractCall:
			if !k.preflight.Success {
				continue
			}

			var total float64
			for _, tr := range k.preflight.Transfers {
				total += tr.Amount
			}

			// A contract that cannot cover its requested transfers keeps
			// its old storage: the call's mutations are discarded.
			contractAddr := k.tx.ContractAddress
			if getBalance(contractAddr) < total {
				continue
			}

			if k.commit != nil {
				k.commit()
			}

			for _, tr := range k.preflight.Transfers {
				wtx, err := txn.New(txn.Params{
					Kind:      txn.Withdrawal,
					From:      bc.resolveRecipient(contractAddr),
					To:        bc.resolveRecipient(tr.To),
					Amount:    tr.Amount,
					Timestamp: keptList[i].tx.Timestamp,
				})
				if err != nil {
					bc.logf("synthesizing withdrawal: %s", err)
					continue
				}

				runningBalances[contractAddr] = getBalance(contractAddr) - tr.Amount
				runningBalances[tr.To] = getBalance(tr.To) + tr.Amount

				withdrawals = append(withdrawals, wtx)
			}
		}
	}

	rewardTx, err := txn.New(txn.Params{
		Kind:      txn.Reward,
		To:        reward,
		Amount:    float64(len(keptList)) * bc.cfg.Mining.RewardPerMinedTransaction,
		Timestamp: previousBlock.Header.Timestamp,
	})
	if err != nil {
		return nil, err
	}

	var feesTotal float64
	for _, k := range keptList {
		feesTotal += bc.feeContribution(k.tx)
	}

	feesTx, err := txn.New(txn.Params{
		Kind:      txn.Fees,
		To:        reward,
		Amount:    feesTotal,
		Timestamp: rewardTx.Timestamp,
	})
	if err != nil {
		return nil, err
	}

	allTxs := make([]txn.Transaction, 0, 2+len(keptList)+len(withdrawals))
	allTxs = append(allTxs, rewardTx, feesTx)
	for _, k := range keptList {
		allTxs = append(allTxs, k.tx)
	}
	allTxs = append(allTxs, withdrawals...)

	newBlock, err := block.New(previousBlock.Hash, previousBlock.Header.Number+1, time.Now().Unix(), allTxs)
	if err != nil {
		return nil, err
	}

	if err := bc.sealer.seal(ctx, newBlock, reward); err != nil {
		return nil, err
	}

	bc.mu.Lock()
	bc.blocks = append(bc.blocks, newBlock)
	for _, c := range newContracts {
		bc.contracts[c.Address()] = c
		bc.registeredAddresses.Add(c.Address())
		delete(bc.pendingContracts, c.Address())
	}
	bc.mu.Unlock()

	for _, k := range keptList {
		bc.mempool.Delete(k.tx)
	}

	return newBlock, nil
}

// spendingFor computes how much from's balance must cover to admit tx,
// per the assembly pipeline's spending formula.
func (bc *Blockchain) spendingFor(tx txn.Transaction, result contract.CallResult) float64 {
	switch tx.Kind {
	case txn.ContractDeploy:
		return tx.Amount
	case txn.ContractCall:
		return tx.Amount + float64(result.GasUsed)*bc.cfg.Contracts.GasPrice
	case txn.Unstake:
		return tx.Amount
	default:
		return tx.Amount + bc.cfg.Mining.FixedTransactionFee + tx.Amount*tx.Fee
	}
}

// feeContribution computes tx's contribution to the block's Fees
// transaction: the fixed-plus-percentage fee for ordinary transfers, or
// the gas spend for contract calls. ContractDeploy contributes nothing
// extra; its deploy fee already went straight to drain.
func (bc *Blockchain) feeContribution(tx txn.Transaction) float64 {
	switch tx.Kind {
	case txn.ContractCall, txn.GasOnly:
		return float64(tx.GasUsed) * bc.cfg.Contracts.GasPrice
	case txn.ContractDeploy, txn.Unstake:
		return 0
	default:
		return bc.cfg.Mining.FixedTransactionFee + tx.Amount*tx.Fee
	}
}

// =============================================================================

// GetBalance replays the entire ledger to compute r's authoritative
// balance.
func (bc *Blockchain) GetBalance(r txn.Recipient) float64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	return bc.replayBalance(r.Address())
}

// replayBalance is GetBalance's implementation, callable without
// acquiring bc.mu when the caller already holds it.
func (bc *Blockchain) replayBalance(address string) float64 {
	var balance float64

	for _, b := range bc.blocks {
		for _, tx := range b.Txns() {
			// Unstake settles in reverse: the staker (From) is signer and
			// payee, the bonded pool (To) is the payer.
			creditor, debtor := tx.To, tx.From
			if tx.Kind == txn.Unstake {
				creditor, debtor = debtor, creditor
			}

			// GasOnly is committed solely to charge gas, with no state
			// effect: it moves no value between From and To, so it never
			// credits the recipient and only ever debits gas from From.
			if tx.Kind == txn.GasOnly {
				if debtor != nil && debtor.Address() == address {
					balance -= float64(tx.GasUsed) * bc.cfg.Contracts.GasPrice
				}
				continue
			}

			if creditor != nil && creditor.Address() == address {
				balance += tx.Amount
			}
			if debtor != nil && debtor.Address() == address {
				balance -= tx.Amount
				switch tx.Kind {
				case txn.ContractCall:
					balance -= float64(tx.GasUsed) * bc.cfg.Contracts.GasPrice
				case txn.Transfer, txn.Stake:
					balance -= bc.cfg.Mining.FixedTransactionFee + tx.Amount*tx.Fee
				}
			}
		}
	}

	return balance
}

// GetTotalSupply sums the amount of every Genesis and Reward
// transaction ever committed.
func (bc *Blockchain) GetTotalSupply() float64 {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	var total float64
	for _, b := range bc.blocks {
		for _, tx := range b.Txns() {
			if tx.Kind == txn.Genesis || tx.Kind == txn.Reward {
				total += tx.Amount
			}
		}
	}
	return total
}

// GetDrainedAmount returns the drain address's balance.
func (bc *Blockchain) GetDrainedAmount() float64 {
	return bc.GetBalance(bc.drain)
}

// GetCirculatingSupply returns the total supply minus whatever has been
// sent to the drain address.
func (bc *Blockchain) GetCirculatingSupply() float64 {
	return bc.GetTotalSupply() - bc.GetDrainedAmount()
}

// ValidateIntegrity walks the chain verifying linkage and sealing.
func (bc *Blockchain) ValidateIntegrity() error {
	bc.mu.RLock()
	defer bc.mu.RUnlock()

	for i, b := range bc.blocks {
		if i == 0 {
			continue
		}

		prev := bc.blocks[i-1]
		if b.Header.PreviousHash != prev.Hash {
			return errs.New(errs.InvariantViolation, "block %d previous hash does not match block %d's hash", i, i-1)
		}

		if err := b.Validate(bc.sealer.kind()); err != nil {
			return err
		}
	}

	return nil
}
