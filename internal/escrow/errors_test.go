package escrow

import (
	"errors"
	"fmt"
	"testing"

	"github.com/mbd888/safetransfer/internal/ledger"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, "ok"},
		{ErrInvalidAmount, "InvalidAmount"},
		{fmt.Errorf("%w: x", ErrDuplicateInstance), "DuplicateInstance"},
		{ErrWrongStage, "WrongStage"},
		{fmt.Errorf("%w: %w", ErrUnauthorized, errors.New("bad sig")), "Unauthorized"},
		{ErrAddressMismatch, "AddressMismatch"},
		{fmt.Errorf("transfer: %w", ledger.ErrInsufficientFunds), "InsufficientFunds"},
		{ledger.ErrInsufficientLamports, "InsufficientFunds"},
		{fmt.Errorf("get: %w", ledger.ErrAccountNotFound), "AccountNotFound"},
		{ErrCorruptRecord, "Internal"},
		{errors.New("disk on fire"), "Internal"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}

func TestStatusCode(t *testing.T) {
	tests := map[string]int{
		"InvalidAmount":     400,
		"AddressMismatch":   400,
		"Unauthorized":      403,
		"AccountNotFound":   404,
		"DuplicateInstance": 409,
		"WrongStage":        409,
		"InsufficientFunds": 422,
		"Internal":          500,
	}
	for kind, want := range tests {
		if got := StatusCode(kind); got != want {
			t.Errorf("StatusCode(%s) = %d, want %d", kind, got, want)
		}
	}
}
