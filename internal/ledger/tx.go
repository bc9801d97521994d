package ledger

import (
	"errors"
	"fmt"
	"math"

	"github.com/mbd888/safetransfer/internal/address"
)

// Tx is a ledger transaction. It is only valid inside the View or Update
// callback that produced it.
type Tx struct {
	r        Reader
	w        ReadWriter
	deposits DepositPolicy
}

// Deposits returns the deposit policy in force for this transaction.
func (t *Tx) Deposits() DepositPolicy {
	return t.deposits
}

// Get loads an account.
func (t *Tx) Get(addr address.Address) (*Account, error) {
	raw, found, err := t.r.Get(addr)
	if err != nil {
		return nil, err
	}
	if !found {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, addr)
	}
	return decodeAccount(addr, raw)
}

// Exists reports whether an account is allocated at addr.
func (t *Tx) Exists(addr address.Address) (bool, error) {
	_, found, err := t.r.Get(addr)
	return found, err
}

func (t *Tx) put(a *Account) error {
	if t.w == nil {
		return ErrReadOnly
	}
	raw, err := encodeAccount(a)
	if err != nil {
		return err
	}
	return t.w.Put(a.Address, raw)
}

func (t *Tx) remove(addr address.Address) error {
	if t.w == nil {
		return ErrReadOnly
	}
	return t.w.Delete(addr)
}

// CreateAccount allocates an account at addr owned by owner. The storage
// deposit for size bytes is moved from payer's wallet into the new account.
func (t *Tx) CreateAccount(addr, owner address.Address, kind Kind, size int, payer address.Address) (*Account, error) {
	acct := &Account{Address: addr, Kind: kind, Owner: owner}
	if kind == KindData {
		acct.Data = make([]byte, size)
	}
	if err := t.allocate(acct, size, payer); err != nil {
		return nil, err
	}
	return acct, nil
}

// CreateTokenAccount allocates an empty token account for asset controlled
// by authority.
func (t *Tx) CreateTokenAccount(addr, asset, authority, payer address.Address) (*Account, error) {
	acct := &Account{
		Address: addr,
		Kind:    KindToken,
		Owner:   address.TokenProgramID,
		Token:   &TokenState{Asset: asset, Authority: authority},
	}
	if err := t.allocate(acct, TokenAccountSize, payer); err != nil {
		return nil, err
	}
	return acct, nil
}

func (t *Tx) allocate(acct *Account, size int, payer address.Address) error {
	opsTotal.WithLabelValues("create_account").Inc()
	exists, err := t.Exists(acct.Address)
	if err != nil {
		return err
	}
	if exists {
		return fmt.Errorf("%w: %s", ErrAccountExists, acct.Address)
	}

	deposit := t.deposits.Deposit(size)
	if deposit > 0 {
		if err := t.debitLamports(payer, deposit); err != nil {
			return err
		}
	}
	acct.Lamports = deposit
	return t.put(acct)
}

// EnsureAssociatedTokenAccount returns owner's associated token account for
// asset, creating it with payer's funds when absent.
func (t *Tx) EnsureAssociatedTokenAccount(owner, asset, payer address.Address) (*Account, error) {
	ata, _, err := address.AssociatedTokenAddress(owner, asset)
	if err != nil {
		return nil, err
	}
	acct, err := t.Get(ata)
	if err == nil {
		if acct.Kind != KindToken {
			return nil, fmt.Errorf("%w: %s is %s", ErrWrongAccountKind, ata, acct.Kind)
		}
		return acct, nil
	}
	if !errors.Is(err, ErrAccountNotFound) {
		return nil, err
	}
	return t.CreateTokenAccount(ata, asset, owner, payer)
}

// CloseAccount deletes addr and moves its lamports to refund's wallet. Token
// accounts must be empty.
func (t *Tx) CloseAccount(addr, refund address.Address) error {
	opsTotal.WithLabelValues("close_account").Inc()
	if addr == refund {
		return fmt.Errorf("cannot refund %s to itself", addr)
	}
	acct, err := t.Get(addr)
	if err != nil {
		return err
	}
	if acct.Token != nil && acct.Token.Amount != 0 {
		return fmt.Errorf("%w: %s holds %d", ErrNonZeroBalance, addr, acct.Token.Amount)
	}
	if err := t.creditLamports(refund, acct.Lamports); err != nil {
		return err
	}
	return t.remove(addr)
}

// Transfer moves amount between two token accounts of the same asset.
// authority must control from. Nothing is written unless the whole amount
// moves.
func (t *Tx) Transfer(from, to, asset, authority address.Address, amount uint64) error {
	opsTotal.WithLabelValues("transfer").Inc()
	if amount == 0 {
		return ErrInvalidAmount
	}
	if from == to {
		return fmt.Errorf("transfer from %s to itself", from)
	}

	src, err := t.tokenAccount(from, asset)
	if err != nil {
		return err
	}
	if src.Token.Authority != authority {
		return fmt.Errorf("%w: %s", ErrNotAuthority, from)
	}
	if src.Token.Amount < amount {
		return fmt.Errorf("%w: %s holds %d, need %d", ErrInsufficientFunds, from, src.Token.Amount, amount)
	}

	dst, err := t.tokenAccount(to, asset)
	if err != nil {
		return err
	}
	if dst.Token.Amount > math.MaxUint64-amount {
		return fmt.Errorf("%w: %s", ErrOverflow, to)
	}

	src.Token.Amount -= amount
	dst.Token.Amount += amount
	if err := t.put(src); err != nil {
		return err
	}
	return t.put(dst)
}

func (t *Tx) tokenAccount(addr, asset address.Address) (*Account, error) {
	acct, err := t.Get(addr)
	if err != nil {
		return nil, err
	}
	if acct.Kind != KindToken || acct.Token == nil {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongAccountKind, addr, acct.Kind)
	}
	if acct.Token.Asset != asset {
		return nil, fmt.Errorf("%w: %s", ErrAssetMismatch, addr)
	}
	return acct, nil
}

// ReadData returns the contents of a data account.
func (t *Tx) ReadData(addr address.Address) ([]byte, error) {
	acct, err := t.Get(addr)
	if err != nil {
		return nil, err
	}
	if acct.Kind != KindData {
		return nil, fmt.Errorf("%w: %s is %s", ErrWrongAccountKind, addr, acct.Kind)
	}
	return acct.Data, nil
}

// WriteData replaces the contents of a data account owned by program.
func (t *Tx) WriteData(addr, program address.Address, data []byte) error {
	acct, err := t.Get(addr)
	if err != nil {
		return err
	}
	if acct.Kind != KindData {
		return fmt.Errorf("%w: %s is %s", ErrWrongAccountKind, addr, acct.Kind)
	}
	if acct.Owner != program {
		return fmt.Errorf("%w: %s", ErrNotOwner, addr)
	}
	acct.Data = append([]byte(nil), data...)
	return t.put(acct)
}

// Airdrop credits lamports to owner's wallet.
func (t *Tx) Airdrop(owner address.Address, lamports uint64) error {
	if lamports == 0 {
		return ErrInvalidAmount
	}
	return t.creditLamports(owner, lamports)
}

// MintTo credits amount of asset to owner's associated token account. A
// missing account is created without charging anyone.
func (t *Tx) MintTo(owner, asset address.Address, amount uint64) (address.Address, error) {
	if amount == 0 {
		return address.Zero, ErrInvalidAmount
	}
	ata, _, err := address.AssociatedTokenAddress(owner, asset)
	if err != nil {
		return address.Zero, err
	}
	acct, err := t.Get(ata)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		acct = &Account{
			Address:  ata,
			Kind:     KindToken,
			Owner:    address.TokenProgramID,
			Lamports: t.deposits.Deposit(TokenAccountSize),
			Token:    &TokenState{Asset: asset, Authority: owner},
		}
	case err != nil:
		return address.Zero, err
	case acct.Kind != KindToken:
		return address.Zero, fmt.Errorf("%w: %s is %s", ErrWrongAccountKind, ata, acct.Kind)
	}
	if acct.Token.Amount > math.MaxUint64-amount {
		return address.Zero, fmt.Errorf("%w: %s", ErrOverflow, ata)
	}
	acct.Token.Amount += amount
	return ata, t.put(acct)
}

func (t *Tx) creditLamports(owner address.Address, lamports uint64) error {
	acct, err := t.Get(owner)
	switch {
	case errors.Is(err, ErrAccountNotFound):
		acct = &Account{Address: owner, Kind: KindWallet, Owner: SystemProgramID}
	case err != nil:
		return err
	}
	if acct.Lamports > math.MaxUint64-lamports {
		return fmt.Errorf("%w: %s", ErrOverflow, owner)
	}
	acct.Lamports += lamports
	return t.put(acct)
}

func (t *Tx) debitLamports(owner address.Address, lamports uint64) error {
	acct, err := t.Get(owner)
	if errors.Is(err, ErrAccountNotFound) {
		return fmt.Errorf("%w: payer %s has no wallet", ErrInsufficientLamports, owner)
	}
	if err != nil {
		return err
	}
	if acct.Kind != KindWallet {
		return fmt.Errorf("%w: payer %s is %s", ErrWrongAccountKind, owner, acct.Kind)
	}
	if acct.Lamports < lamports {
		return fmt.Errorf("%w: payer %s has %d, need %d", ErrInsufficientLamports, owner, acct.Lamports, lamports)
	}
	acct.Lamports -= lamports
	return t.put(acct)
}
