// Package txn implements the ledger's transaction type: construction and
// validation, content hashing, conditional signing, and signature
// verification.
package txn

import (
	"fmt"
	"math/big"
	"strconv"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/ardanlabs/ledger/foundation/blockchain/errs"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ardanlabs/ledger/foundation/blockchain/wallet"
)

// Kind identifies what a transaction represents.
type Kind string

// The full set of transaction kinds the ledger can produce, either
// submitted by a client or synthesized by the assembly pipeline.
const (
	Genesis        Kind = "Genesis"
	Transfer       Kind = "Transaction"
	Reward         Kind = "Reward"
	Fees           Kind = "Fees"
	ContractDeploy Kind = "ContractDeploy"
	ContractCall   Kind = "ContractCall"
	Withdrawal     Kind = "Withdrawal"
	GasOnly        Kind = "GasOnly"
	Stake          Kind = "Stake"
	Unstake        Kind = "Unstake"
)

// codes maps a Kind to the single-character code used in compact logging.
var codes = map[Kind]byte{
	Genesis:        '_',
	Transfer:       'T',
	Reward:         'R',
	Fees:           'F',
	ContractDeploy: 'D',
	ContractCall:   'C',
	Withdrawal:     'W',
	GasOnly:        'G',
	Stake:          'S',
	Unstake:        'U',
}

// Code returns the single-character logging code for k.
func (k Kind) Code() byte {
	return codes[k]
}

// signedKinds is the set of kinds that carry a signature from a wallet
// sender, per the data model's signature invariant.
var signedKinds = map[Kind]bool{
	Transfer:       true,
	ContractDeploy: true,
	ContractCall:   true,
	Stake:          true,
	Unstake:        true,
}

// noSenderKinds is the set of kinds synthesized by the pipeline itself,
// which never carry a from.
var noSenderKinds = map[Kind]bool{
	Genesis: true,
	Reward:  true,
	Fees:    true,
}

// =============================================================================

// Recipient is anything a transaction can name as its from or to: a
// Wallet or a deployed Contract. Both the wallet and contract packages
// satisfy this structurally, with no dependency on this package.
type Recipient interface {
	Address() string
	Name() string
}

// Signer is a Recipient that can also produce a signature over a hash,
// satisfied by Wallet.
type Signer interface {
	Recipient
	Sign(hash string) (v, r, s *big.Int, err error)
}

// noneAddress is used as the from side of the hash for synthesized
// transactions that have no sender.
const noneAddress = "none"

// =============================================================================

// Transaction is an immutable record of a value transfer or contract
// action, save for the fields explicitly mutated by the block assembly
// pipeline (Kind, GasUsed, CallResult).
type Transaction struct {
	Kind      Kind
	From      Recipient
	To        Recipient
	Amount    float64
	Fee       float64
	Timestamp int64
	Hash      string

	V *big.Int
	R *big.Int
	S *big.Int

	ContractAddress string
	FunctionName    string
	FunctionArgs    []any
	GasLimit        uint64

	// GasUsed and CallResult are written by preflight during block
	// assembly; they carry no meaning before that point.
	GasUsed    uint64
	CallResult any
}

// Params bundles the arguments to New so construction reads as a single
// call rather than a long positional list.
type Params struct {
	Kind            Kind
	From            Recipient
	To              Recipient
	Amount          float64
	Fee             float64
	Timestamp       int64
	ContractAddress string
	FunctionName    string
	FunctionArgs    []any
	GasLimit        uint64
}

// New validates p, computes the transaction's hash, and — for kinds that
// carry a sender signature — signs it with From, which must satisfy
// Signer.
func New(p Params) (Transaction, error) {
	if err := validate(p); err != nil {
		return Transaction{}, err
	}

	tx := Transaction{
		Kind:            p.Kind,
		From:            p.From,
		To:              p.To,
		Amount:          p.Amount,
		Fee:             p.Fee,
		Timestamp:       p.Timestamp,
		ContractAddress: p.ContractAddress,
		FunctionName:    p.FunctionName,
		FunctionArgs:    p.FunctionArgs,
		GasLimit:        p.GasLimit,
	}

	tx.Hash = tx.computeHash()

	if signedKinds[tx.Kind] {
		signer, ok := tx.From.(Signer)
		if ok {
			v, r, s, err := signer.Sign(tx.Hash)
			if err != nil {
				return Transaction{}, fmt.Errorf("signing transaction: %w", err)
			}
			tx.V, tx.R, tx.S = v, r, s
		}
	}

	return tx, nil
}

func validate(p Params) error {
	if p.To == nil {
		return errs.New(errs.MissingData, "transaction requires a to recipient")
	}

	switch p.Kind {
	case Transfer:
		if p.From == nil {
			return errs.New(errs.MissingData, "transaction requires a from sender")
		}
	case ContractDeploy:
		if p.ContractAddress == "" {
			return errs.New(errs.MissingData, "contract deploy requires a contract address")
		}
	case ContractCall:
		if p.ContractAddress == "" || p.FunctionName == "" {
			return errs.New(errs.MissingData, "contract call requires a contract address and function name")
		}
	}

	return nil
}

// computeHash derives the transaction's content hash from its
// immutable fields: SHA256(timestamp-type-fromAddrOrNone-toAddr-amount-fee).
func (t Transaction) computeHash() string {
	fromAddr := noneAddress
	if t.From != nil {
		fromAddr = t.From.Address()
	}

	return signature.HashParts(
		strconv.FormatInt(t.Timestamp, 10),
		string(t.Kind),
		fromAddr,
		t.To.Address(),
		strconv.FormatFloat(t.Amount, 'f', -1, 64),
		strconv.FormatFloat(t.Fee, 'f', -1, 64),
	)
}

// Verify reports whether t carries a signature and that signature
// verifies against From's address for Hash. Synthesized kinds with no
// sender (Genesis, Reward, Fees) are never signed and are excluded from
// verification by the caller, not by this method: calling Verify on one
// simply returns false.
func (t Transaction) Verify() bool {
	if t.From == nil || t.V == nil || t.R == nil || t.S == nil {
		return false
	}

	return wallet.VerifyHash(t.From.Address(), t.Hash, t.V, t.R, t.S)
}

// Signed reports whether this kind of transaction is expected to carry a
// sender signature at all.
func (k Kind) Signed() bool {
	return signedKinds[k]
}

// HasNoSender reports whether this kind is synthesized by the pipeline
// and never carries a from.
func (k Kind) HasNoSender() bool {
	return noSenderKinds[k]
}

// =============================================================================

// HashBytes returns the raw bytes backing the transaction's hex-encoded
// content hash. The block package's merkle leaf adapter exposes it as the
// Hash method that merkle.Hashable needs.
func (t Transaction) HashBytes() ([]byte, error) {
	return hexutil.Decode(t.Hash)
}

// Equals reports whether two transactions have the same content hash. The
// block package's merkle leaf adapter uses it for merkle.Hashable.
func (t Transaction) Equals(other Transaction) bool {
	return t.Hash == other.Hash
}
