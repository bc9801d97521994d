package address

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/ethereum/go-ethereum/crypto"
)

const (
	// MaxSeeds bounds the number of seeds, bump included.
	MaxSeeds = 16
	// MaxSeedLength bounds the size of a single seed.
	MaxSeedLength = 32
)

var (
	ErrInvalidSeeds = errors.New("invalid seeds")
	ErrOnCurve      = errors.New("derived address is a valid public key")
	ErrNoViableBump = errors.New("no viable bump found")
)

var pdaMarker = []byte("ProgramDerivedAddress")

// TokenProgramID owns every token account on the ledger.
var TokenProgramID = ProgramID("token")

// ProgramID turns a program name into its 32-byte identity.
func ProgramID(name string) Address {
	var a Address
	copy(a[:], crypto.Keccak256([]byte("program:"), []byte(name)))
	return a
}

// IsOnCurve reports whether a is the x coordinate of a secp256k1 point,
// meaning some private key could sign for it.
func IsOnCurve(a Address) bool {
	_, err := schnorr.ParsePubKey(a[:])
	return err == nil
}

// U64Seed encodes v the way instance ids are fed into derivation.
func U64Seed(v uint64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return b
}

func checkSeeds(seeds [][]byte) error {
	if len(seeds) > MaxSeeds {
		return fmt.Errorf("%w: %d seeds exceeds %d", ErrInvalidSeeds, len(seeds), MaxSeeds)
	}
	for i, s := range seeds {
		if len(s) > MaxSeedLength {
			return fmt.Errorf("%w: seed %d is %d bytes", ErrInvalidSeeds, i, len(s))
		}
	}
	return nil
}

func hashSeeds(seeds [][]byte, program Address) Address {
	parts := make([][]byte, 0, 2*len(seeds)+2)
	for _, s := range seeds {
		parts = append(parts, []byte{byte(len(s))}, s)
	}
	parts = append(parts, program[:], pdaMarker)
	var a Address
	copy(a[:], crypto.Keccak256(parts...))
	return a
}

// CreateProgramAddress hashes seeds under program. The caller supplies the
// bump as the last seed. Fails with ErrOnCurve if the result could be
// controlled by a private key.
func CreateProgramAddress(seeds [][]byte, program Address) (Address, error) {
	if err := checkSeeds(seeds); err != nil {
		return Zero, err
	}
	a := hashSeeds(seeds, program)
	if IsOnCurve(a) {
		return Zero, ErrOnCurve
	}
	return a, nil
}

// FindProgramAddress searches bumps from 255 down and returns the first
// off-curve address.
func FindProgramAddress(seeds [][]byte, program Address) (Address, uint8, error) {
	if len(seeds) >= MaxSeeds {
		return Zero, 0, fmt.Errorf("%w: no room for bump", ErrInvalidSeeds)
	}
	withBump := make([][]byte, len(seeds)+1)
	copy(withBump, seeds)
	for bump := 255; bump >= 0; bump-- {
		withBump[len(seeds)] = []byte{byte(bump)}
		a, err := CreateProgramAddress(withBump, program)
		if err == nil {
			return a, uint8(bump), nil
		}
		if !errors.Is(err, ErrOnCurve) {
			return Zero, 0, err
		}
	}
	return Zero, 0, ErrNoViableBump
}

// VerifyProgramAddress re-derives with a stored bump and compares.
func VerifyProgramAddress(seeds [][]byte, bump uint8, program, want Address) bool {
	withBump := append(append([][]byte{}, seeds...), []byte{bump})
	a, err := CreateProgramAddress(withBump, program)
	return err == nil && a == want
}

// AssociatedTokenSeeds are the seeds of the canonical token account of
// owner for asset.
func AssociatedTokenSeeds(owner, asset Address) [][]byte {
	return [][]byte{[]byte("associated"), owner[:], asset[:]}
}

// AssociatedTokenAddress returns the canonical token account of owner for asset.
func AssociatedTokenAddress(owner, asset Address) (Address, uint8, error) {
	return FindProgramAddress(AssociatedTokenSeeds(owner, asset), TokenProgramID)
}
