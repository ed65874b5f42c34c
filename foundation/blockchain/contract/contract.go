// Package contract implements the sandboxed, gas-metered smart contract
// runtime: a contract's storage, its view and state-mutating functions,
// and the two-phase preflight/commit execution protocol that lets the
// ledger decide whether a call's side effects should be kept.
package contract

import (
	"fmt"
	"sort"
	"strconv"

	jsoniter "github.com/json-iterator/go"

	"github.com/ardanlabs/ledger/foundation/blockchain/errs"
	"github.com/ardanlabs/ledger/foundation/blockchain/signature"
)

var codec = jsoniter.ConfigCompatibleWithStandardLibrary

// =============================================================================

// Func is a state-mutating contract function.
type Func func(ctx *Context, args ...any) (any, error)

// ViewFunc is a read-only contract function. It never mutates storage and
// is never charged gas; it is meant for off-chain inspection of a
// contract's state.
type ViewFunc func(v ViewStorage, args ...any) (any, error)

// =============================================================================

// Contract represents a piece of deployed, user-supplied code together
// with the storage it owns.
type Contract struct {
	name           string
	creatorAddress string
	address        string
	deployedAt     int64

	Storage   map[string]any
	Views     map[string]ViewFunc
	Functions map[string]Func

	initialized bool
}

// New constructs a contract and derives its address from the deployment
// time, the creator's address, and the contract's name, per the address
// derivation rule shared with transaction and block hashing.
func New(name, creatorAddress string, deployedAt int64, storage map[string]any, views map[string]ViewFunc, functions map[string]Func) *Contract {
	if storage == nil {
		storage = map[string]any{}
	}

	c := Contract{
		name:           name,
		creatorAddress: creatorAddress,
		deployedAt:     deployedAt,
		Storage:        storage,
		Views:          views,
		Functions:      functions,
	}
	c.address = signature.HashParts(strconv.FormatInt(deployedAt, 10), creatorAddress, name)

	return &c
}

// Address satisfies the Recipient behavior shared with Wallet so a
// contract can be used as the to/from of a transaction.
func (c *Contract) Address() string {
	return c.address
}

// Name satisfies the Recipient behavior shared with Wallet, for debug
// output.
func (c *Contract) Name() string {
	return c.name
}

// CreatorAddress returns the address of the wallet that deployed this
// contract; only that address may run __init__.
func (c *Contract) CreatorAddress() string {
	return c.creatorAddress
}

// DeployedAt returns the timestamp this contract was deployed at, used
// in its address derivation.
func (c *Contract) DeployedAt() int64 {
	return c.deployedAt
}

// Initialized reports whether __init__ has already run for this contract.
func (c *Contract) Initialized() bool {
	return c.initialized
}

// CodeSize returns a deterministic, implementation-defined approximation
// of the contract's serialized size: the sorted names of its functions
// and views, plus its storage as it stands when this is called (normally
// immediately after New, before any calls have been made). It is used to
// price deployment and must be stable across calls made with the same
// inputs.
func (c *Contract) CodeSize() int {
	doc := codeSizeDoc{
		Functions: sortedKeys(c.Functions),
		Views:     sortedKeys(c.Views),
		Storage:   c.Storage,
	}

	data, err := codec.Marshal(doc)
	if err != nil {
		return 0
	}

	return len(data)
}

type codeSizeDoc struct {
	Functions []string       `json:"functions"`
	Views     []string       `json:"views"`
	Storage   map[string]any `json:"storage"`
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// =============================================================================

// Transfer represents a request, made by contract code during a call, to
// move value out of the contract's own balance to some other address.
// The runtime only records the request; it is the ledger's job to apply
// it as a Withdrawal transaction once it has confirmed the contract can
// actually cover it.
type Transfer struct {
	To     string
	Amount float64
}

// Env exposes read-only environment facts to contract code, distinct from
// the per-call Storage/Views/Sender/Value fields.
type Env struct {
	ContractBalance float64
	Drain           string
}

// Context is passed to every state-mutating Func. It exposes the
// metered, writable storage view, the frozen read-only views, and the
// message/environment facts the function needs.
type Context struct {
	Storage *Storage
	Views   ViewStorage

	Sender         string
	Value          float64
	CreatorAddress string
	Address        string
	Env            Env

	transfers []Transfer
}

// EmitTransfer records a request to pay amount to the given address out
// of the contract's balance once this call commits successfully.
func (c *Context) EmitTransfer(to string, amount float64) {
	c.transfers = append(c.transfers, Transfer{To: to, Amount: amount})
}

// Transfers returns the transfers requested so far during this call.
func (c *Context) Transfers() []Transfer {
	return c.transfers
}

// =============================================================================

// ViewStorage is a read-only, deep-frozen view over a contract's storage
// at the time a view function (or the Views field of a call Context) was
// constructed. Reading from it never consumes gas and it cannot be
// mutated.
type ViewStorage struct {
	snapshot map[string]any
}

// Get returns the value stored at key, or nil if it is unset.
func (v ViewStorage) Get(key string) any {
	return v.snapshot[key]
}

func freeze(storage map[string]any) (map[string]any, error) {
	data, err := codec.Marshal(storage)
	if err != nil {
		return nil, err
	}

	var clone map[string]any
	if err := codec.Unmarshal(data, &clone); err != nil {
		return nil, err
	}

	return clone, nil
}

// =============================================================================

// Storage is the metered, writable view over a contract's working
// storage exposed to a state-mutating Func during preflight. Every Get
// and Set charges gas against the call's budget; once the budget is
// exceeded, every subsequent access fails with errs.OutOfGas.
type Storage struct {
	working  map[string]any
	gasUsed  *uint64
	gasLimit uint64
	readCost uint64
	setCost  uint64
}

// Get reads a value, charging GasCostStorageRead.
func (s *Storage) Get(key string) (any, error) {
	*s.gasUsed += s.readCost
	if *s.gasUsed > s.gasLimit {
		return nil, errs.New(errs.OutOfGas, "reading %q: gas used %d exceeds limit %d", key, *s.gasUsed, s.gasLimit)
	}

	return s.working[key], nil
}

// Set writes a value, charging GasCostStorageWrite.
func (s *Storage) Set(key string, value any) error {
	*s.gasUsed += s.setCost
	if *s.gasUsed > s.gasLimit {
		return errs.New(errs.OutOfGas, "writing %q: gas used %d exceeds limit %d", key, *s.gasUsed, s.gasLimit)
	}

	s.working[key] = value

	return nil
}

// =============================================================================

// CallResult is what a preflighted call produces: either a successful
// result with the gas it used and any transfers it requested, or a
// failure with the error that caused it and the gas charged regardless.
type CallResult struct {
	Success   bool
	Result    any
	GasUsed   uint64
	Transfers []Transfer
	Err       error
}

// CallRequest carries the message context for a single call.
type CallRequest struct {
	Caller          string
	Value           float64
	GasLimit        uint64
	ContractBalance float64
	DrainAddress    string
}

// Commit applies a preflighted call's mutated storage into the
// contract's real storage. It is a no-op for a failed preflight, so
// callers can always invoke it unconditionally after deciding (based on
// the ledger's own balance rules) whether to keep the call's effects.
type Commit func()

// Runtime executes contract functions against metered storage using a
// two-phase preflight/commit protocol: Preflight never mutates the
// contract's real storage, only a private working copy; Commit, called
// only when the caller decides to keep the result, swaps that working
// copy in.
type Runtime struct {
	gasCostCall  uint64
	gasCostRead  uint64
	gasCostWrite uint64
}

// NewRuntime constructs a Runtime with the configured per-call and
// per-access gas costs.
func NewRuntime(gasCostCall, gasCostRead, gasCostWrite uint64) *Runtime {
	return &Runtime{
		gasCostCall:  gasCostCall,
		gasCostRead:  gasCostRead,
		gasCostWrite: gasCostWrite,
	}
}

// Preflight runs name(args...) against a private working copy of the
// contract's storage, metering every storage access. It never mutates
// c.Storage directly; the returned Commit does that, and only when
// called.
func (r *Runtime) Preflight(c *Contract, req CallRequest, name string, args ...any) (CallResult, Commit) {
	gasUsed := r.gasCostCall

	fn, ok := c.Functions[name]
	if !ok {
		return CallResult{
			Success: false,
			GasUsed: min64(gasUsed, req.GasLimit),
			Err:     errs.New(errs.UnknownFunction, "contract %s has no function %q", c.Address(), name),
		}, func() {}
	}

	if gasUsed > req.GasLimit {
		return CallResult{
			Success: false,
			GasUsed: req.GasLimit,
			Err:     errs.New(errs.OutOfGas, "base call cost %d exceeds gas limit %d", gasUsed, req.GasLimit),
		}, func() {}
	}

	working, err := freeze(c.Storage)
	if err != nil {
		return CallResult{Success: false, GasUsed: gasUsed, Err: err}, func() {}
	}

	frozenViews, err := freeze(c.Storage)
	if err != nil {
		return CallResult{Success: false, GasUsed: gasUsed, Err: err}, func() {}
	}

	ctx := Context{
		Storage: &Storage{
			working:  working,
			gasUsed:  &gasUsed,
			gasLimit: req.GasLimit,
			readCost: r.gasCostRead,
			setCost:  r.gasCostWrite,
		},
		Views:          ViewStorage{snapshot: frozenViews},
		Sender:         req.Caller,
		Value:          req.Value,
		CreatorAddress: c.CreatorAddress(),
		Address:        c.Address(),
		Env: Env{
			ContractBalance: req.ContractBalance,
			Drain:           req.DrainAddress,
		},
	}

	result, callErr := invoke(fn, &ctx, args...)

	if callErr != nil {
		used := gasUsed
		if errs.Is(callErr, errs.OutOfGas) {
			used = req.GasLimit
		}
		return CallResult{Success: false, GasUsed: used, Err: callErr}, func() {}
	}

	commit := func() {
		c.Storage = working
	}

	return CallResult{
		Success:   true,
		Result:    result,
		GasUsed:   gasUsed,
		Transfers: ctx.Transfers(),
	}, commit
}

// Init runs a contract's __init__ function exactly once, writing
// directly to the contract's real storage since deployment is atomic
// with initialization. A contract with no __init__ is simply marked
// initialized.
func (r *Runtime) Init(c *Contract, creatorAddress string, gasLimit uint64) (CallResult, error) {
	if c.initialized {
		return CallResult{}, errs.New(errs.InvariantViolation, "contract %s already initialized", c.Address())
	}

	if creatorAddress != c.CreatorAddress() {
		return CallResult{}, errs.New(errs.Ownership, "only the creator may initialize contract %s", c.Address())
	}

	fn, ok := c.Functions["__init__"]
	if !ok {
		c.initialized = true
		return CallResult{Success: true}, nil
	}

	gasUsed := r.gasCostCall

	frozenViews, err := freeze(c.Storage)
	if err != nil {
		return CallResult{}, err
	}

	ctx := Context{
		Storage: &Storage{
			working:  c.Storage,
			gasUsed:  &gasUsed,
			gasLimit: gasLimit,
			readCost: r.gasCostRead,
			setCost:  r.gasCostWrite,
		},
		Views:          ViewStorage{snapshot: frozenViews},
		Sender:         creatorAddress,
		CreatorAddress: c.CreatorAddress(),
		Address:        c.Address(),
	}

	result, callErr := invoke(fn, &ctx)
	if callErr != nil {
		return CallResult{Success: false, GasUsed: gasUsed, Err: callErr}, callErr
	}

	c.initialized = true

	return CallResult{Success: true, Result: result, GasUsed: gasUsed}, nil
}

// View runs a read-only view function off-chain, against a frozen clone
// of the contract's current storage. It never consumes gas and never
// mutates the contract.
func (r *Runtime) View(c *Contract, name string, args ...any) (any, error) {
	fn, ok := c.Views[name]
	if !ok {
		return nil, errs.New(errs.UnknownFunction, "contract %s has no view %q", c.Address(), name)
	}

	snapshot, err := freeze(c.Storage)
	if err != nil {
		return nil, err
	}

	return fn(ViewStorage{snapshot: snapshot}, args...)
}

// invoke calls fn, converting a panic raised by buggy or malicious
// contract code into an ordinary error instead of bringing down the
// chain.
func invoke(fn Func, ctx *Context, args ...any) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("contract function panicked: %v", r)
		}
	}()

	return fn(ctx, args...)
}

func min64(a, b uint64) uint64 {
	if a < b {
		return a
	}
	return b
}
