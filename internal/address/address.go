// Package address defines ledger account addresses and the program-derived
// address scheme used to give the escrow program authority over accounts
// nobody holds a private key for.
package address

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/base58"
)

// Length is the size of an address in bytes.
const Length = 32

// ErrInvalidAddress is returned when a string or byte slice is not an address.
var ErrInvalidAddress = errors.New("invalid address")

// Address identifies a ledger account. User addresses are x-only secp256k1
// public keys; program-derived addresses are hashes that are not.
type Address [Length]byte

// Zero is the all-zero address.
var Zero Address

// String returns the base58 form.
func (a Address) String() string {
	return base58.Encode(a[:])
}

// Hex returns the 0x-prefixed hex form.
func (a Address) Hex() string {
	return "0x" + hex.EncodeToString(a[:])
}

// Bytes returns a copy of the address bytes.
func (a Address) Bytes() []byte {
	b := make([]byte, Length)
	copy(b, a[:])
	return b
}

func (a Address) IsZero() bool {
	return a == Zero
}

// Short returns an abbreviated base58 form for log lines.
func (a Address) Short() string {
	s := a.String()
	if len(s) <= 12 {
		return s
	}
	return s[:6] + ".." + s[len(s)-4:]
}

func (a Address) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// FromBytes converts a 32-byte slice into an Address.
func FromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != Length {
		return a, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidAddress, Length, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// Parse accepts base58 or 0x-prefixed hex.
func Parse(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Zero, fmt.Errorf("%w: empty", ErrInvalidAddress)
	}
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		raw, err := hex.DecodeString(s[2:])
		if err != nil {
			return Zero, fmt.Errorf("%w: %v", ErrInvalidAddress, err)
		}
		return FromBytes(raw)
	}
	raw := base58.Decode(s)
	if len(raw) == 0 {
		return Zero, fmt.Errorf("%w: not base58", ErrInvalidAddress)
	}
	return FromBytes(raw)
}

// MustParse is Parse for constants and tests.
func MustParse(s string) Address {
	a, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return a
}
