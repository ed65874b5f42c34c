package ledger

import (
	"context"

	"go.uber.org/zap"

	"github.com/ardanlabs/ledger/foundation/blockchain/block"
	"github.com/ardanlabs/ledger/foundation/blockchain/txn"
	"github.com/ardanlabs/ledger/foundation/blockchain/wallet"
)

// powSealer seals blocks by proof-of-work mining. Compute, not identity,
// does the sealing, so every automatically created block rewards the
// drain address rather than any particular miner.
type powSealer struct {
	cfg   Config
	drain *wallet.Wallet
}

func (s *powSealer) sealGenesis(ctx context.Context, b *block.Block) error {
	return b.Mine(ctx, s.cfg.Mining.Difficulty, s.cfg.Mining.BlockMinerPoolSize, s.cfg.Mining.MaxBlockNonce)
}

func (s *powSealer) seal(ctx context.Context, b *block.Block, _ txn.Recipient) error {
	return b.Mine(ctx, s.cfg.Mining.Difficulty, s.cfg.Mining.BlockMinerPoolSize, s.cfg.Mining.MaxBlockNonce)
}

func (s *powSealer) autoReward() txn.Recipient { return s.drain }

func (s *powSealer) kind() block.Consensus { return block.PoW }

func (s *powSealer) onCommitted(tx txn.Transaction) {}

// NewPoW constructs a Blockchain sealed by proof-of-work mining, with its
// genesis block mined at the chain's configured difficulty.
func NewPoW(cfg Config, log *zap.SugaredLogger) (*Blockchain, error) {
	bc, err := newBase(cfg, log)
	if err != nil {
		return nil, err
	}

	bc.sealer = &powSealer{cfg: cfg, drain: bc.drain}

	if err := bc.init(context.Background()); err != nil {
		return nil, err
	}

	return bc, nil
}
