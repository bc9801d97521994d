package escrow

import (
	"errors"

	"github.com/mbd888/safetransfer/internal/ledger"
)

var (
	ErrInvalidAmount     = errors.New("amount must be greater than zero")
	ErrDuplicateInstance = errors.New("escrow instance already exists")
	ErrWrongStage        = errors.New("escrow is not in a stage that allows this operation")
	ErrUnauthorized      = errors.New("not authorized for this escrow operation")
	ErrAddressMismatch   = errors.New("address does not match the escrow derivation")

	// Raised by the ledger's transfer primitive and account lookups.
	ErrInsufficientFunds = ledger.ErrInsufficientFunds
	ErrAccountNotFound   = ledger.ErrAccountNotFound
)

// Kind names the failure class of err for logs, metrics and API responses.
func Kind(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrInvalidAmount):
		return "InvalidAmount"
	case errors.Is(err, ErrDuplicateInstance):
		return "DuplicateInstance"
	case errors.Is(err, ErrWrongStage):
		return "WrongStage"
	case errors.Is(err, ErrUnauthorized):
		return "Unauthorized"
	case errors.Is(err, ErrAddressMismatch):
		return "AddressMismatch"
	case errors.Is(err, ErrInsufficientFunds), errors.Is(err, ledger.ErrInsufficientLamports):
		return "InsufficientFunds"
	case errors.Is(err, ErrAccountNotFound):
		return "AccountNotFound"
	default:
		return "Internal"
	}
}
