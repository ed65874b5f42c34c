// Package wallet provides the keypair and address management needed to
// participate in the ledger as a sender or receiver of value.
package wallet

import (
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sync"

	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
	"github.com/ethereum/go-ethereum/crypto"
)

// Wallet owns a keypair exclusively and can sign hashes on behalf of the
// address derived from its public key. The private key is never exposed
// outside this package.
type Wallet struct {
	name       string
	privateKey *ecdsa.PrivateKey
	address    string

	mu           sync.RWMutex
	balanceCache float64
}

// New generates a fresh secp256k1 keypair and derives the wallet's address
// from the public key. Key generation failure is treated as fatal by the
// caller; this constructor simply reports it as an error, per Go
// convention, rather than panicking inside a library.
func New(name string) (*Wallet, error) {
	privateKey, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("generating wallet keypair: %w", err)
	}

	w := Wallet{
		name:       name,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey).String(),
	}

	return &w, nil
}

// FromPrivateKey constructs a wallet around an already generated key, such
// as one loaded from a saved key file.
func FromPrivateKey(name string, privateKey *ecdsa.PrivateKey) *Wallet {
	return &Wallet{
		name:       name,
		privateKey: privateKey,
		address:    crypto.PubkeyToAddress(privateKey.PublicKey).String(),
	}
}

// Name returns the wallet's display name. Names exist for debugging and
// logging only; the address is what the ledger actually keys on.
func (w *Wallet) Name() string {
	return w.name
}

// Address returns the wallet's ledger address.
func (w *Wallet) Address() string {
	return w.address
}

// PublicKey returns a copy of the wallet's public key. Signature checks
// inside the ledger (transactions and PoS block signatures) go through
// VerifyHash and the address instead.
func (w *Wallet) PublicKey() ecdsa.PublicKey {
	return w.privateKey.PublicKey
}

// Sign produces an ECDSA signature over the given hash string. The hash is
// wrapped so the signature package's stamping is applied to the hash value
// itself, matching the requirement that signatures cover a transaction's
// or block's hash and nothing else.
func (w *Wallet) Sign(hash string) (v, r, s *big.Int, err error) {
	return signature.Sign(hashEnvelope{Hash: hash}, w.privateKey)
}

// UpdateBalance adjusts the wallet's advisory balance cache by delta. The
// cache is never consulted by the ledger for correctness; getBalance
// always replays the ledger. It exists purely so callers can display a
// wallet's balance without a full ledger scan.
func (w *Wallet) UpdateBalance(delta float64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	w.balanceCache += delta
}

// BalanceCache returns the wallet's advisory balance cache.
func (w *Wallet) BalanceCache() float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()

	return w.balanceCache
}

// =============================================================================

// hashEnvelope is the value actually signed: wrapping the hash string
// keeps the signature package's generic stamping stable regardless of
// what kind of item (transaction or block) the hash belongs to.
type hashEnvelope struct {
	Hash string
}

// VerifyHash checks that the signature (v, r, s) over hash was produced by
// the holder of privateKey matching address.
func VerifyHash(address, hash string, v, r, s *big.Int) bool {
	if err := signature.VerifySignature(v, r, s); err != nil {
		return false
	}

	recovered, err := signature.FromAddress(hashEnvelope{Hash: hash}, v, r, s)
	if err != nil {
		return false
	}

	return recovered == address
}
