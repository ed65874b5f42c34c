package ledger

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ardanlabs/ledger/foundation/blockchain/block"
	"github.com/ardanlabs/ledger/foundation/blockchain/txn"
	"github.com/ardanlabs/ledger/foundation/blockchain/wallet"
)

// posSealer seals blocks by having a validator sign them. Validators are
// chosen at random, weighted by bonded stake, so a validator holding
// half the staked supply is picked for roughly half of all blocks.
type posSealer struct {
	mu      sync.Mutex
	stakes  map[string]float64
	signers map[string]txn.Signer
}

func newPoSSealer() *posSealer {
	return &posSealer{
		stakes:  make(map[string]float64),
		signers: make(map[string]txn.Signer),
	}
}

// sealGenesis leaves the anchor block unsigned; under proof-of-stake the
// genesis block is accepted by convention rather than sealed.
func (s *posSealer) sealGenesis(ctx context.Context, b *block.Block) error {
	b.Created = true
	return nil
}

// seal signs b with the resolved validator. reward must be able to sign
// (i.e. be a wallet, not a contract); whoever receives the block's
// reward is also the block's sealing validator.
func (s *posSealer) seal(ctx context.Context, b *block.Block, reward txn.Recipient) error {
	signer, ok := reward.(txn.Signer)
	if !ok {
		return fmt.Errorf("proof-of-stake reward recipient %s cannot sign blocks", reward.Address())
	}
	return b.Sign(signer)
}

// autoReward picks a validator weighted by bonded stake for an
// automatically created block.
func (s *posSealer) autoReward() txn.Recipient {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.selectValidatorLocked()
}

func (s *posSealer) selectValidatorLocked() txn.Recipient {
	var total float64
	for _, stake := range s.stakes {
		total += stake
	}

	if total <= 0 {
		return nil
	}

	target, err := rand.Int(rand.Reader, big.NewInt(1<<53))
	if err != nil {
		return nil
	}
	pick := total * (float64(target.Int64()) / float64(int64(1)<<53))

	addrs := make([]string, 0, len(s.stakes))
	for addr := range s.stakes {
		addrs = append(addrs, addr)
	}
	sort.Strings(addrs)

	var cumulative float64
	var heaviest string
	for _, addr := range addrs {
		if heaviest == "" || s.stakes[addr] > s.stakes[heaviest] {
			heaviest = addr
		}
		cumulative += s.stakes[addr]
		if pick <= cumulative {
			return s.signers[addr]
		}
	}

	// Rounding edge: floating-point summation of cumulative weights can
	// fall just short of pick even though it should have matched the
	// final staker. Fall back to the heaviest staker rather than nil.
	return s.signers[heaviest]
}

func (s *posSealer) kind() block.Consensus { return block.PoS }

// onCommitted updates the bonded-stake ledger as Stake and Unstake
// transactions land in a block.
func (s *posSealer) onCommitted(tx txn.Transaction) {
	switch tx.Kind {
	case txn.Stake:
		s.mu.Lock()
		signer, ok := tx.From.(txn.Signer)
		if ok {
			s.signers[tx.From.Address()] = signer
			s.stakes[tx.From.Address()] += tx.Amount
		}
		s.mu.Unlock()

	case txn.Unstake:
		s.mu.Lock()
		remaining := s.stakes[tx.From.Address()] - tx.Amount
		if remaining <= 0 {
			delete(s.stakes, tx.From.Address())
			delete(s.signers, tx.From.Address())
		} else {
			s.stakes[tx.From.Address()] = remaining
		}
		s.mu.Unlock()
	}
}

// stakeOf returns the currently bonded stake for address.
func (s *posSealer) stakeOf(address string) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.stakes[address]
}

// NewPoS constructs a Blockchain sealed by proof-of-stake validator
// signatures, with an unsigned genesis block accepted as the chain's
// anchor by convention.
func NewPoS(cfg Config, log *zap.SugaredLogger) (*Blockchain, error) {
	bc, err := newBase(cfg, log)
	if err != nil {
		return nil, err
	}

	bc.sealer = newPoSSealer()

	if err := bc.init(context.Background()); err != nil {
		return nil, err
	}

	return bc, nil
}

// Stake bonds amount from staker's balance into the chain's validator
// pool, weighting staker's odds of being selected to seal future blocks.
func (bc *Blockchain) Stake(staker *wallet.Wallet, amount float64) (txn.Transaction, error) {
	bc.register(staker)

	tx, err := txn.New(txn.Params{
		Kind:      txn.Stake,
		From:      staker,
		To:        bc.drain,
		Amount:    amount,
		Fee:       bc.cfg.Mining.DefaultFeePercentage,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return txn.Transaction{}, err
	}

	return tx, bc.addTransaction(tx)
}

// Unstake releases amount of staker's previously bonded stake back to
// their spendable balance.
func (bc *Blockchain) Unstake(staker *wallet.Wallet, amount float64) (txn.Transaction, error) {
	bc.register(staker)

	tx, err := txn.New(txn.Params{
		Kind:      txn.Unstake,
		From:      staker,
		To:        bc.drain,
		Amount:    amount,
		Timestamp: time.Now().Unix(),
	})
	if err != nil {
		return txn.Transaction{}, err
	}

	return tx, bc.addTransaction(tx)
}

// StakeOf returns address's currently bonded stake. It only reflects
// proof-of-stake chains; proof-of-work chains report zero.
func (bc *Blockchain) StakeOf(address string) float64 {
	ps, ok := bc.sealer.(*posSealer)
	if !ok {
		return 0
	}
	return ps.stakeOf(address)
}
