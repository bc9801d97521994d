// Package ledger is the account store the escrow program runs against.
//
// Every account lives under a 32-byte address:
//  1. Wallet accounts hold lamports, the unit storage deposits are paid in
//  2. Token accounts hold an amount of a single asset and name an authority
//  3. Data accounts hold opaque state owned by a program
//
// All mutations happen inside Update, which commits every write or none.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/safetransfer/internal/address"
)

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrAccountExists        = errors.New("account already exists")
	ErrInsufficientFunds    = errors.New("insufficient funds")
	ErrInsufficientLamports = errors.New("insufficient lamports for storage deposit")
	ErrWrongAccountKind     = errors.New("wrong account kind")
	ErrAssetMismatch        = errors.New("token account holds a different asset")
	ErrNotAuthority         = errors.New("signer is not the token account authority")
	ErrNotOwner             = errors.New("account is owned by another program")
	ErrNonZeroBalance       = errors.New("token account still holds a balance")
	ErrInvalidAmount        = errors.New("invalid amount")
	ErrOverflow             = errors.New("balance overflow")
	ErrReadOnly             = errors.New("write in read-only transaction")
)

// SystemProgramID owns wallet accounts.
var SystemProgramID = address.ProgramID("system")

// TokenAccountSize is the storage a token account is charged for.
const TokenAccountSize = 165

// Kind distinguishes what an account stores.
type Kind uint8

const (
	KindWallet Kind = 1
	KindToken  Kind = 2
	KindData   Kind = 3
)

func (k Kind) String() string {
	switch k {
	case KindWallet:
		return "wallet"
	case KindToken:
		return "token"
	case KindData:
		return "data"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

func (k Kind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *Kind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "wallet":
		*k = KindWallet
	case "token":
		*k = KindToken
	case "data":
		*k = KindData
	default:
		return fmt.Errorf("unknown account kind %q", text)
	}
	return nil
}

// TokenState is the token-specific part of a token account.
type TokenState struct {
	Asset     address.Address `json:"asset"`
	Authority address.Address `json:"authority"`
	Amount    uint64          `json:"amount,string"`
}

// Account is a decoded ledger entry.
type Account struct {
	Address  address.Address `json:"address"`
	Kind     Kind            `json:"kind"`
	Owner    address.Address `json:"owner"`
	Lamports uint64          `json:"lamports,string"`
	Token    *TokenState     `json:"token,omitempty"`
	Data     []byte          `json:"data,omitempty"`
}

// DepositPolicy prices account storage. The deposit is held in the account's
// lamports and returned to whoever closes it.
type DepositPolicy struct {
	Base    uint64
	PerByte uint64
}

// DefaultDepositPolicy mirrors a two-year rent-exempt reserve.
var DefaultDepositPolicy = DepositPolicy{Base: 890880, PerByte: 6960}

// Deposit returns the lamports required for an account of size bytes.
func (p DepositPolicy) Deposit(size int) uint64 {
	if size < 0 {
		size = 0
	}
	return p.Base + p.PerByte*uint64(size)
}

// Ledger runs transactions against a Backend.
type Ledger struct {
	backend  Backend
	deposits DepositPolicy
}

// Option configures a Ledger.
type Option func(*Ledger)

// WithDepositPolicy overrides DefaultDepositPolicy.
func WithDepositPolicy(p DepositPolicy) Option {
	return func(l *Ledger) { l.deposits = p }
}

func New(backend Backend, opts ...Option) *Ledger {
	l := &Ledger{backend: backend, deposits: DefaultDepositPolicy}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Backend returns the underlying store.
func (l *Ledger) Backend() Backend {
	return l.backend
}

// Deposits returns the storage deposit policy.
func (l *Ledger) Deposits() DepositPolicy {
	return l.deposits
}

// Close releases the backend.
func (l *Ledger) Close() error {
	return l.backend.Close()
}

// View runs fn in a read-only transaction.
func (l *Ledger) View(ctx context.Context, fn func(tx *Tx) error) error {
	done := observeOp("view")
	defer done()
	return l.backend.View(ctx, func(r Reader) error {
		return fn(&Tx{r: r, deposits: l.deposits})
	})
}

// Update runs fn in a read-write transaction. If fn returns an error
// nothing it wrote is kept.
func (l *Ledger) Update(ctx context.Context, fn func(tx *Tx) error) error {
	done := observeOp("update")
	defer done()
	return l.backend.Update(ctx, func(rw ReadWriter) error {
		return fn(&Tx{r: rw, w: rw, deposits: l.deposits})
	})
}

// Account returns a snapshot of one account.
func (l *Ledger) Account(ctx context.Context, addr address.Address) (*Account, error) {
	var acct *Account
	err := l.View(ctx, func(tx *Tx) error {
		var err error
		acct, err = tx.Get(addr)
		return err
	})
	return acct, err
}

// TokenBalance is the state of an owner's associated token account.
type TokenBalance struct {
	Owner   address.Address `json:"owner"`
	Asset   address.Address `json:"asset"`
	Account address.Address `json:"account"`
	Exists  bool            `json:"exists"`
	Amount  uint64          `json:"amount,string"`
}

// TokenBalance reads the associated token account of owner for asset. A
// missing account reports zero.
func (l *Ledger) TokenBalance(ctx context.Context, owner, asset address.Address) (*TokenBalance, error) {
	ata, _, err := address.AssociatedTokenAddress(owner, asset)
	if err != nil {
		return nil, err
	}
	bal := &TokenBalance{Owner: owner, Asset: asset, Account: ata}
	err = l.View(ctx, func(tx *Tx) error {
		acct, err := tx.Get(ata)
		if errors.Is(err, ErrAccountNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		if acct.Kind != KindToken {
			return fmt.Errorf("%w: %s is %s", ErrWrongAccountKind, ata, acct.Kind)
		}
		bal.Exists = true
		bal.Amount = acct.Token.Amount
		return nil
	})
	if err != nil {
		return nil, err
	}
	return bal, nil
}

// Airdrop credits lamports to owner's wallet, creating it if needed.
func (l *Ledger) Airdrop(ctx context.Context, owner address.Address, lamports uint64) error {
	return l.Update(ctx, func(tx *Tx) error {
		return tx.Airdrop(owner, lamports)
	})
}

// MintTo credits amount of asset to owner's associated token account and
// returns that account's address.
func (l *Ledger) MintTo(ctx context.Context, owner, asset address.Address, amount uint64) (address.Address, error) {
	var ata address.Address
	err := l.Update(ctx, func(tx *Tx) error {
		var err error
		ata, err = tx.MintTo(owner, asset, amount)
		return err
	})
	return ata, err
}

// Ping checks the backend is reachable.
func (l *Ledger) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return l.backend.View(ctx, func(r Reader) error {
		_, _, err := r.Get(address.Zero)
		return err
	})
}
