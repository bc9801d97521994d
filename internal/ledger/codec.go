package ledger

import (
	"fmt"

	"github.com/ugorji/go/codec"

	"github.com/mbd888/safetransfer/internal/address"
)

var msgpack = &codec.MsgpackHandle{WriteExt: true}

// accountRecord is the stored form of an Account. The address is the key and
// is not repeated in the value.
type accountRecord struct {
	Kind      uint8  `codec:"k"`
	Owner     []byte `codec:"o"`
	Lamports  uint64 `codec:"l"`
	Asset     []byte `codec:"a,omitempty"`
	Authority []byte `codec:"u,omitempty"`
	Amount    uint64 `codec:"n,omitempty"`
	Data      []byte `codec:"d,omitempty"`
}

func encodeAccount(a *Account) ([]byte, error) {
	rec := accountRecord{
		Kind:     uint8(a.Kind),
		Owner:    a.Owner[:],
		Lamports: a.Lamports,
		Data:     a.Data,
	}
	if a.Token != nil {
		rec.Asset = a.Token.Asset[:]
		rec.Authority = a.Token.Authority[:]
		rec.Amount = a.Token.Amount
	}

	var out []byte
	if err := codec.NewEncoderBytes(&out, msgpack).Encode(&rec); err != nil {
		return nil, fmt.Errorf("encode account %s: %w", a.Address, err)
	}
	return out, nil
}

func decodeAccount(addr address.Address, raw []byte) (*Account, error) {
	var rec accountRecord
	if err := codec.NewDecoderBytes(raw, msgpack).Decode(&rec); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", addr, err)
	}

	owner, err := address.FromBytes(rec.Owner)
	if err != nil {
		return nil, fmt.Errorf("decode account %s owner: %w", addr, err)
	}
	a := &Account{
		Address:  addr,
		Kind:     Kind(rec.Kind),
		Owner:    owner,
		Lamports: rec.Lamports,
		Data:     rec.Data,
	}
	switch a.Kind {
	case KindWallet, KindData:
	case KindToken:
		asset, err := address.FromBytes(rec.Asset)
		if err != nil {
			return nil, fmt.Errorf("decode account %s asset: %w", addr, err)
		}
		authority, err := address.FromBytes(rec.Authority)
		if err != nil {
			return nil, fmt.Errorf("decode account %s authority: %w", addr, err)
		}
		a.Token = &TokenState{Asset: asset, Authority: authority, Amount: rec.Amount}
	default:
		return nil, fmt.Errorf("decode account %s: %w: %d", addr, ErrWrongAccountKind, rec.Kind)
	}
	return a, nil
}
