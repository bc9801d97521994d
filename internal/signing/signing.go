// Package signing authenticates escrow requests. A party's address is the
// x-only secp256k1 public key of their signing key, and a request is
// authorized by a signature over its digest.
package signing

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/safetransfer/internal/address"
)

// Scheme selects the signature encoding.
type Scheme int

const (
	// Schnorr is BIP-340, 64 bytes.
	Schnorr Scheme = iota
	// Recoverable is secp256k1 ECDSA [R || S || V], 65 bytes.
	Recoverable
)

const (
	SchnorrLength     = 64
	RecoverableLength = 65
)

var (
	ErrInvalidSignature = errors.New("invalid signature")
	ErrInvalidKey       = errors.New("invalid private key")
)

var domain = []byte("safetransfer:")

func (s Scheme) String() string {
	switch s {
	case Schnorr:
		return "schnorr"
	case Recoverable:
		return "recoverable"
	default:
		return fmt.Sprintf("scheme(%d)", int(s))
	}
}

// ParseScheme accepts "schnorr" or "recoverable" (alias "ecdsa").
func ParseScheme(s string) (Scheme, error) {
	switch strings.ToLower(s) {
	case "", "schnorr":
		return Schnorr, nil
	case "recoverable", "ecdsa":
		return Recoverable, nil
	}
	return 0, fmt.Errorf("unknown signature scheme %q", s)
}

// Digest hashes an operation name, the program it targets and its fields.
// Fields are length-prefixed so adjacent values cannot be re-split.
func Digest(op string, program address.Address, fields ...[]byte) []byte {
	parts := make([][]byte, 0, 2*len(fields)+3)
	parts = append(parts, domain, []byte(op), program[:])
	for _, f := range fields {
		parts = append(parts, []byte{byte(len(f))}, f)
	}
	return crypto.Keccak256(parts...)
}

// Key is a secp256k1 signing key.
type Key struct {
	priv *btcec.PrivateKey
}

func GenerateKey() (*Key, error) {
	priv, err := btcec.NewPrivateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	return &Key{priv: priv}, nil
}

// KeyFromHex parses a 32-byte hex private key, with or without 0x.
func KeyFromHex(s string) (*Key, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidKey, len(raw))
	}
	allZero := true
	for _, b := range raw {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return nil, fmt.Errorf("%w: zero key", ErrInvalidKey)
	}
	priv, _ := btcec.PrivKeyFromBytes(raw)
	return &Key{priv: priv}, nil
}

// Hex returns the private key as lowercase hex without prefix.
func (k *Key) Hex() string {
	return hex.EncodeToString(k.priv.Serialize())
}

// Address returns the x-only public key.
func (k *Key) Address() address.Address {
	a, _ := address.FromBytes(schnorr.SerializePubKey(k.priv.PubKey()))
	return a
}

// Sign signs a 32-byte digest.
func (k *Key) Sign(digest []byte, scheme Scheme) ([]byte, error) {
	if len(digest) != 32 {
		return nil, fmt.Errorf("digest must be 32 bytes, got %d", len(digest))
	}
	switch scheme {
	case Schnorr:
		sig, err := schnorr.Sign(k.priv, digest)
		if err != nil {
			return nil, fmt.Errorf("schnorr sign: %w", err)
		}
		return sig.Serialize(), nil
	case Recoverable:
		ek, err := crypto.ToECDSA(k.priv.Serialize())
		if err != nil {
			return nil, fmt.Errorf("convert key: %w", err)
		}
		return crypto.Sign(digest, ek)
	default:
		return nil, fmt.Errorf("unknown signature scheme %d", scheme)
	}
}

// Verify checks sig over digest against signer. The scheme is inferred from
// the signature length.
func Verify(signer address.Address, digest, sig []byte) error {
	switch len(sig) {
	case SchnorrLength:
		pub, err := schnorr.ParsePubKey(signer[:])
		if err != nil {
			return fmt.Errorf("%w: signer is not a public key", ErrInvalidSignature)
		}
		parsed, err := schnorr.ParseSignature(sig)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		if !parsed.Verify(digest, pub) {
			return fmt.Errorf("%w: schnorr verification failed", ErrInvalidSignature)
		}
		return nil
	case RecoverableLength:
		normalized := make([]byte, RecoverableLength)
		copy(normalized, sig)
		// Wallets commonly emit v as 27/28
		if normalized[64] >= 27 {
			normalized[64] -= 27
		}
		pub, err := crypto.Ecrecover(digest, normalized)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
		}
		// 0x04 || X || Y
		if len(pub) != 65 || string(pub[1:33]) != string(signer[:]) {
			return fmt.Errorf("%w: recovered key does not match signer", ErrInvalidSignature)
		}
		return nil
	default:
		return fmt.Errorf("%w: unexpected length %d", ErrInvalidSignature, len(sig))
	}
}

// ParseSignature decodes a hex signature, with or without 0x.
func ParseSignature(s string) ([]byte, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return raw, nil
}

// Signature is a raw signature carried as hex in JSON.
type Signature []byte

func (s Signature) String() string {
	return hex.EncodeToString(s)
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	raw, err := ParseSignature(string(text))
	if err != nil {
		return err
	}
	*s = raw
	return nil
}
