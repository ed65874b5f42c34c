package errs_test

import (
	"errors"
	"testing"

	"github.com/ardanlabs/ledger/foundation/blockchain/errs"
)

func TestIsMatchesKind(t *testing.T) {
	err := errs.New(errs.OutOfGas, "gas used %d exceeds limit %d", 500, 400)

	if !errs.Is(err, errs.OutOfGas) {
		t.Fatalf("expected err to be of kind OutOfGas")
	}

	if errs.Is(err, errs.Ownership) {
		t.Fatalf("did not expect err to be of kind Ownership")
	}
}

func TestWrapPreservesUnwrap(t *testing.T) {
	base := errors.New("boom")
	err := errs.Wrap(errs.InvariantViolation, base)

	if !errors.Is(err, base) {
		t.Fatalf("expected errors.Is to see through the wrapper to the base error")
	}

	if errs.KindOf(err) != errs.InvariantViolation {
		t.Fatalf("got kind %s, exp %s", errs.KindOf(err), errs.InvariantViolation)
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if errs.Wrap(errs.OutOfGas, nil) != nil {
		t.Fatalf("wrapping a nil error should return nil")
	}
}
