// Package errs provides a kind-tagged error type used across the ledger
// and contract runtime, adapted from the web layer's Trusted error wrapper
// so internal callers can errors.As/Is against a specific failure kind
// instead of matching on error strings.
package errs

import (
	"errors"
	"fmt"
)

// Kind classifies why an operation failed.
type Kind string

// The full set of error kinds the ledger engine and contract runtime can
// raise, per the error handling design.
const (
	Ownership          Kind = "ownership"
	OutOfGas           Kind = "out_of_gas"
	InsufficientFunds  Kind = "insufficient_funds"
	DuplicatedToken    Kind = "duplicated_token"
	NonExistentToken   Kind = "non_existent_token"
	MissingData        Kind = "missing_data"
	MiningExhausted    Kind = "mining_exhausted"
	InvariantViolation Kind = "invariant_violation"
	UnknownFunction    Kind = "unknown_function"
	AlreadyMining      Kind = "already_mining"
)

// Error wraps an underlying error with a Kind so calling code can branch
// on the failure category without parsing messages.
type Error struct {
	Kind Kind
	Err  error
}

// New constructs an *Error for the given kind, formatting the message the
// same way fmt.Errorf does.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// Wrap tags an existing error with a kind, preserving it for errors.Unwrap.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Err: err}
}

// Error implements the error interface.
func (e *Error) Error() string {
	return e.Err.Error()
}

// Unwrap supports errors.Is/errors.As against the wrapped error.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is reports whether err is an *Error of the specified kind.
func Is(err error, kind Kind) bool {
	var e *Error
	if !errors.As(err, &e) {
		return false
	}
	return e.Kind == kind
}

// KindOf returns the Kind of err, or the empty Kind if err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if !errors.As(err, &e) {
		return ""
	}
	return e.Kind
}
