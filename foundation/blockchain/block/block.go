// Package block implements the ledger's block type: transaction
// aggregation via a Merkle tree, proof-of-work mining with a bounded
// worker pool, proof-of-stake signing, and validation.
package block

import (
	"context"
	"fmt"
	"math/big"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/ardanlabs/ledger/foundation/blockchain/errs"
	"github.com/ardanlabs/ledger/foundation/blockchain/merkle"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ardanlabs/ledger/foundation/blockchain/txn"
	"github.com/ardanlabs/ledger/foundation/blockchain/wallet"
)

// Consensus identifies how a block is sealed.
type Consensus string

// The two sealing strategies a block can be validated under.
const (
	PoW Consensus = "pow"
	PoS Consensus = "pos"
)

// =============================================================================

// txLeaf adapts a txn.Transaction to merkle.Hashable without forcing the
// txn package to name its content-hash method Hash, which would collide
// with the exported Hash field every transaction already carries.
type txLeaf struct {
	txn.Transaction
}

func (l txLeaf) Hash() ([]byte, error) {
	return l.Transaction.HashBytes()
}

func (l txLeaf) Equals(other txLeaf) bool {
	return l.Transaction.Equals(other.Transaction)
}

// =============================================================================

// Header carries the block metadata that is hashed and, under PoW,
// mined.
type Header struct {
	PreviousHash string
	Timestamp    int64
	Nonce        uint64
	Difficulty   uint
	MerkleRoot   string
	Number       uint64
}

// Block aggregates transactions, a Merkle root over their hashes, and
// carries either a PoW nonce or a PoS validator signature once sealed.
type Block struct {
	Header       Header
	Transactions *merkle.Tree[txLeaf]
	Hash         string
	MineTime     time.Duration
	Created      bool

	Validator string
	V         *big.Int
	R         *big.Int
	S         *big.Int
}

// New constructs a block over transactions, computing its Merkle root
// and an initial hash with nonce zero. The block is not yet sealed.
func New(previousHash string, number uint64, timestamp int64, transactions []txn.Transaction) (*Block, error) {
	if len(transactions) == 0 {
		return nil, errs.New(errs.MissingData, "a block requires at least one transaction")
	}

	leaves := make([]txLeaf, len(transactions))
	for i, t := range transactions {
		leaves[i] = txLeaf{t}
	}

	tree, err := merkle.NewTree(leaves)
	if err != nil {
		return nil, err
	}

	b := Block{
		Header: Header{
			PreviousHash: previousHash,
			Timestamp:    timestamp,
			Number:       number,
			MerkleRoot:   tree.RootHex(),
		},
		Transactions: tree,
	}
	b.Hash = hashHeader(b.Header.Timestamp, b.Header.MerkleRoot, b.Header.PreviousHash, b.Header.Nonce)

	return &b, nil
}

// Txns returns the block's transactions in their original order.
func (b *Block) Txns() []txn.Transaction {
	leaves := b.Transactions.Values()
	txs := make([]txn.Transaction, len(leaves))
	for i, l := range leaves {
		txs[i] = l.Transaction
	}
	return txs
}

// hashHeader is a pure function of a header's immutable fields plus an
// explicit nonce, kept free of the Block receiver so concurrent PoW
// workers can probe candidate nonces without touching shared state.
func hashHeader(timestamp int64, merkleRoot, previousHash string, nonce uint64) string {
	return signature.HashParts(
		strconv.FormatInt(timestamp, 10),
		merkleRoot,
		previousHash,
		strconv.FormatUint(nonce, 10),
	)
}

// leadingZeros counts the leading hex zeros in a 0x-prefixed hash.
func leadingZeros(hash string) uint {
	h := strings.TrimPrefix(hash, "0x")

	var n uint
	for _, c := range h {
		if c != '0' {
			break
		}
		n++
	}

	return n
}

// =============================================================================

type miningResult struct {
	nonce uint64
	hash  string
}

// Mine searches for a nonce whose header hash begins with difficulty
// hex zeros, splitting the nonce space across poolSize workers: worker i
// searches [i*maxNonce, (i+1)*maxNonce). The first worker to find a
// solution wins and the rest are cancelled. If every worker exhausts its
// range without success, Mine fails with errs.MiningExhausted.
func (b *Block) Mine(ctx context.Context, difficulty uint, poolSize int, maxNonce uint64) error {
	searchCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	resultCh := make(chan miningResult, 1)
	errCh := make(chan error, poolSize)

	start := time.Now()

	for worker := 0; worker < poolSize; worker++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()

			low := uint64(worker) * maxNonce
			high := low + maxNonce

			for nonce := low; nonce < high; nonce++ {
				select {
				case <-searchCtx.Done():
					return
				default:
				}

				hash := hashHeader(b.Header.Timestamp, b.Header.MerkleRoot, b.Header.PreviousHash, nonce)
				if leadingZeros(hash) >= difficulty {
					select {
					case resultCh <- miningResult{nonce: nonce, hash: hash}:
						cancel()
					default:
					}
					return
				}
			}

			errCh <- fmt.Errorf("worker %d exhausted nonce range [%d, %d)", worker, low, high)
		}(worker)
	}

	wg.Wait()
	close(resultCh)
	close(errCh)

	result, ok := <-resultCh
	if !ok {
		if err := ctx.Err(); err != nil {
			return err
		}

		var combined error
		for err := range errCh {
			combined = multierr.Append(combined, err)
		}

		return errs.Wrap(errs.MiningExhausted, combined)
	}

	b.Header.Nonce = result.nonce
	b.Header.Difficulty = difficulty
	b.Hash = result.hash
	b.MineTime = time.Since(start)
	b.Created = true

	return nil
}

// Sign seals the block under proof-of-stake: the validator signs the
// block's hash and the signature is attached.
func (b *Block) Sign(validator txn.Signer) error {
	v, r, s, err := validator.Sign(b.Hash)
	if err != nil {
		return fmt.Errorf("signing block: %w", err)
	}

	b.Validator = validator.Address()
	b.V, b.R, b.S = v, r, s
	b.Created = true

	return nil
}

// Validate recomputes the block's hash, checks the header's Merkle root
// against the root stored in its transaction tree, and checks the
// consensus-specific sealing condition.
func (b *Block) Validate(consensus Consensus) error {
	if !b.Created {
		return errs.New(errs.InvariantViolation, "block %d was never sealed", b.Header.Number)
	}

	if b.Header.MerkleRoot != b.Transactions.RootHex() {
		return errs.New(errs.InvariantViolation, "block %d merkle root does not match its transactions", b.Header.Number)
	}

	recomputed := hashHeader(b.Header.Timestamp, b.Header.MerkleRoot, b.Header.PreviousHash, b.Header.Nonce)
	if recomputed != b.Hash {
		return errs.New(errs.InvariantViolation, "block %d hash does not match its header", b.Header.Number)
	}

	switch consensus {
	case PoW:
		if leadingZeros(b.Hash) < b.Header.Difficulty {
			return errs.New(errs.InvariantViolation, "block %d hash does not satisfy its difficulty", b.Header.Number)
		}

	case PoS:
		if b.V == nil || b.R == nil || b.S == nil {
			return errs.New(errs.InvariantViolation, "block %d has no validator signature", b.Header.Number)
		}
		if !wallet.VerifyHash(b.Validator, b.Hash, b.V, b.R, b.S) {
			return errs.New(errs.InvariantViolation, "block %d validator signature does not verify", b.Header.Number)
		}

	default:
		return errs.New(errs.InvariantViolation, "unknown consensus %q", consensus)
	}

	return nil
}
