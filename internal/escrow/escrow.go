// Package escrow is the two-party token escrow program.
//
// Flow:
//  1. Sender calls Initialize: tokens move from the sender's token account
//     into a holding account only the program can sign for
//  2. Receiver calls Complete: the holding balance moves to the receiver
//  3. Or sender calls PullBack: the holding balance returns to the sender
//
// Both record and holding addresses are derived from (sender, receiver,
// asset, instance id). Each transition runs inside a single ledger
// transaction, so a failed call leaves no trace.
package escrow

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mbd888/safetransfer/internal/address"
	"github.com/mbd888/safetransfer/internal/ledger"
	"github.com/mbd888/safetransfer/internal/logging"
	"github.com/mbd888/safetransfer/internal/metrics"
	"github.com/mbd888/safetransfer/internal/signing"
	"github.com/mbd888/safetransfer/internal/syncutil"
	"github.com/mbd888/safetransfer/internal/traces"
)

// Operation names, used in request digests, metrics and logs.
const (
	OpInitialize = "initialize"
	OpComplete   = "complete"
	OpPullBack   = "pull_back"
)

// Seed tags separating the record address from the holding address.
const (
	recordTag  = "state"
	holdingTag = "wallet"
)

// Tuple identifies one escrow instance.
type Tuple struct {
	Sender     address.Address `json:"sender"`
	Receiver   address.Address `json:"receiver"`
	Asset      address.Address `json:"asset"`
	InstanceID uint64          `json:"instanceId,string"`
}

func (t Tuple) fields() [][]byte {
	return [][]byte{t.Sender[:], t.Receiver[:], t.Asset[:], address.U64Seed(t.InstanceID)}
}

func (t Tuple) seeds(tag string) [][]byte {
	return append([][]byte{[]byte(tag)}, t.fields()...)
}

// Addresses are the derived locations of an escrow instance.
type Addresses struct {
	Record      address.Address `json:"record"`
	RecordBump  uint8           `json:"recordBump"`
	Holding     address.Address `json:"holding"`
	HoldingBump uint8           `json:"holdingBump"`
}

// InitializeRequest locks Amount of Asset from the sender.
type InitializeRequest struct {
	Tuple
	Amount uint64 `json:"amount,string"`
	// SourceAccount defaults to the sender's associated token account.
	SourceAccount address.Address `json:"sourceAccount,omitzero"`
	// Optional; rejected when they differ from the derivation.
	RecordAddress  address.Address   `json:"recordAddress,omitzero"`
	HoldingAddress address.Address   `json:"holdingAddress,omitzero"`
	Signer         address.Address   `json:"signer"`
	Signature      signing.Signature `json:"signature"`
}

// Digest is the message the sender signs.
func (r *InitializeRequest) Digest(program address.Address) []byte {
	fields := append(r.Tuple.fields(), address.U64Seed(r.Amount), r.SourceAccount[:])
	return signing.Digest(OpInitialize, program, fields...)
}

// Sign sets Signer and Signature from key.
func (r *InitializeRequest) Sign(key *signing.Key, program address.Address, scheme signing.Scheme) error {
	r.Signer = key.Address()
	sig, err := key.Sign(r.Digest(program), scheme)
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

// CompleteRequest releases the holding balance to the receiver.
type CompleteRequest struct {
	Tuple
	// Destination defaults to the receiver's associated token account,
	// which is created when missing.
	Destination    address.Address   `json:"destination,omitzero"`
	RecordAddress  address.Address   `json:"recordAddress,omitzero"`
	HoldingAddress address.Address   `json:"holdingAddress,omitzero"`
	Signer         address.Address   `json:"signer"`
	Signature      signing.Signature `json:"signature"`
}

func (r *CompleteRequest) Digest(program address.Address) []byte {
	return signing.Digest(OpComplete, program, append(r.Tuple.fields(), r.Destination[:])...)
}

func (r *CompleteRequest) Sign(key *signing.Key, program address.Address, scheme signing.Scheme) error {
	r.Signer = key.Address()
	sig, err := key.Sign(r.Digest(program), scheme)
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

// PullBackRequest returns the holding balance to the sender.
type PullBackRequest struct {
	Tuple
	// Refund defaults to the sender's associated token account.
	Refund         address.Address   `json:"refund,omitzero"`
	RecordAddress  address.Address   `json:"recordAddress,omitzero"`
	HoldingAddress address.Address   `json:"holdingAddress,omitzero"`
	Signer         address.Address   `json:"signer"`
	Signature      signing.Signature `json:"signature"`
}

func (r *PullBackRequest) Digest(program address.Address) []byte {
	return signing.Digest(OpPullBack, program, append(r.Tuple.fields(), r.Refund[:])...)
}

func (r *PullBackRequest) Sign(key *signing.Key, program address.Address, scheme signing.Scheme) error {
	r.Signer = key.Address()
	sig, err := key.Sign(r.Digest(program), scheme)
	if err != nil {
		return err
	}
	r.Signature = sig
	return nil
}

// Result is returned by every transition.
type Result struct {
	Record        *Record         `json:"record"`
	RecordAddress address.Address `json:"recordAddress"`
	// TokenAccount is the account tokens left (initialize) or arrived in.
	TokenAccount address.Address `json:"tokenAccount"`
}

// Service implements the escrow state machine over a ledger.
type Service struct {
	ledger    *ledger.Ledger
	deriver   *address.Deriver
	locks     syncutil.ShardedMutex
	publisher Publisher
	verify    bool
	now       func() time.Time
}

// NewService creates an escrow service for the deriver's program.
// Signature verification is on.
func NewService(l *ledger.Ledger, d *address.Deriver) *Service {
	return &Service{
		ledger:  l,
		deriver: d,
		verify:  true,
		now:     time.Now,
	}
}

// WithPublisher sends committed transitions to p.
func (s *Service) WithPublisher(p Publisher) *Service {
	s.publisher = p
	return s
}

// WithSignatureVerification toggles signature checks. With verification off
// only the signer identity is compared, for trusted in-process callers.
func (s *Service) WithSignatureVerification(on bool) *Service {
	s.verify = on
	return s
}

// WithClock overrides time.Now for record timestamps.
func (s *Service) WithClock(now func() time.Time) *Service {
	s.now = now
	return s
}

// Program returns the escrow program address.
func (s *Service) Program() address.Address {
	return s.deriver.Program()
}

// Ledger returns the ledger the service runs against.
func (s *Service) Ledger() *ledger.Ledger {
	return s.ledger
}

// Derive computes the record and holding addresses for t.
func (s *Service) Derive(t Tuple) (Addresses, error) {
	rec, err := s.deriver.Find(t.seeds(recordTag)...)
	if err != nil {
		return Addresses{}, fmt.Errorf("derive record address: %w", err)
	}
	holding, err := s.deriver.Find(t.seeds(holdingTag)...)
	if err != nil {
		return Addresses{}, fmt.Errorf("derive holding address: %w", err)
	}
	return Addresses{
		Record:      rec.Address,
		RecordBump:  rec.Bump,
		Holding:     holding.Address,
		HoldingBump: holding.Bump,
	}, nil
}

// Initialize creates the record and holding account and locks the amount.
func (s *Service) Initialize(ctx context.Context, req InitializeRequest) (res *Result, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow.initialize",
		traces.InstanceID(req.InstanceID),
		traces.Amount(req.Amount),
		traces.Party("sender", req.Sender.String()),
		traces.Party("receiver", req.Receiver.String()),
	)
	done := metrics.ObserveTransition(OpInitialize)
	defer func() {
		done(Kind(err))
		traces.End(span, err)
		s.logOutcome(ctx, OpInitialize, req.Tuple, res, err)
	}()

	if req.Amount == 0 {
		return nil, ErrInvalidAmount
	}
	if err := s.authorize(req.Sender, req.Signer, req.Signature, req.Digest(s.Program())); err != nil {
		return nil, err
	}
	addrs, err := s.Derive(req.Tuple)
	if err != nil {
		return nil, err
	}
	if err := checkClaims(addrs, req.RecordAddress, req.HoldingAddress); err != nil {
		return nil, err
	}
	span.SetAttributes(traces.RecordAddr(addrs.Record.String()))

	unlock, err := s.locks.LockContext(ctx, addrs.Record[:])
	if err != nil {
		return nil, err
	}
	defer unlock()

	rec := &Record{
		InstanceID:     req.InstanceID,
		Sender:         req.Sender,
		Receiver:       req.Receiver,
		Asset:          req.Asset,
		Amount:         req.Amount,
		Stage:          StageInitialized,
		HoldingAddress: addrs.Holding,
		RecordBump:     addrs.RecordBump,
		HoldingBump:    addrs.HoldingBump,
		CreatedAt:      s.timestamp(),
	}
	var source address.Address

	err = s.ledger.Update(ctx, func(tx *ledger.Tx) error {
		for _, a := range []address.Address{addrs.Record, addrs.Holding} {
			exists, err := tx.Exists(a)
			if err != nil {
				return err
			}
			if exists {
				return fmt.Errorf("%w: %s", ErrDuplicateInstance, a)
			}
		}

		var err error
		if source, err = sourceAccount(tx, req.SourceAccount, req.Sender, req.Asset); err != nil {
			return err
		}

		if _, err := tx.CreateAccount(addrs.Record, s.Program(), ledger.KindData, RecordSize, req.Sender); err != nil {
			return fundingErr(err)
		}
		if _, err := tx.CreateTokenAccount(addrs.Holding, req.Asset, addrs.Record, req.Sender); err != nil {
			return fundingErr(err)
		}
		if err := tx.Transfer(source, addrs.Holding, req.Asset, req.Sender, req.Amount); err != nil {
			return err
		}

		data, err := rec.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.WriteData(addrs.Record, s.Program(), data)
	})
	if err != nil {
		return nil, err
	}

	metrics.EscrowLockedAmount.Add(float64(rec.Amount))
	res = &Result{Record: rec, RecordAddress: addrs.Record, TokenAccount: source}
	s.publish(EventInitialized, res)
	return res, nil
}

// Complete releases the holding balance to the receiver and closes the
// holding account.
func (s *Service) Complete(ctx context.Context, req CompleteRequest) (*Result, error) {
	return s.resolve(ctx, resolution{
		op:             OpComplete,
		event:          EventCompleted,
		next:           StageCompleted,
		tuple:          req.Tuple,
		party:          req.Receiver,
		target:         req.Destination,
		claimedRecord:  req.RecordAddress,
		claimedHolding: req.HoldingAddress,
		signer:         req.Signer,
		signature:      req.Signature,
		digest:         req.Digest(s.Program()),
	})
}

// PullBack returns the holding balance to the sender and closes the
// holding account.
func (s *Service) PullBack(ctx context.Context, req PullBackRequest) (*Result, error) {
	return s.resolve(ctx, resolution{
		op:             OpPullBack,
		event:          EventPulledBack,
		next:           StagePulledBack,
		tuple:          req.Tuple,
		party:          req.Sender,
		target:         req.Refund,
		claimedRecord:  req.RecordAddress,
		claimedHolding: req.HoldingAddress,
		signer:         req.Signer,
		signature:      req.Signature,
		digest:         req.Digest(s.Program()),
	})
}

// resolution describes a terminal transition. party both authorizes the
// call and receives the funds.
type resolution struct {
	op, event string
	next      Stage
	tuple     Tuple
	party     address.Address
	target    address.Address

	claimedRecord, claimedHolding address.Address

	signer    address.Address
	signature []byte
	digest    []byte
}

func (s *Service) resolve(ctx context.Context, r resolution) (res *Result, err error) {
	ctx, span := traces.StartSpan(ctx, "escrow."+r.op,
		traces.InstanceID(r.tuple.InstanceID),
		traces.Party("sender", r.tuple.Sender.String()),
		traces.Party("receiver", r.tuple.Receiver.String()),
	)
	done := metrics.ObserveTransition(r.op)
	defer func() {
		done(Kind(err))
		traces.End(span, err)
		s.logOutcome(ctx, r.op, r.tuple, res, err)
	}()

	if err := s.authorize(r.party, r.signer, r.signature, r.digest); err != nil {
		return nil, err
	}
	addrs, err := s.Derive(r.tuple)
	if err != nil {
		return nil, err
	}
	if err := checkClaims(addrs, r.claimedRecord, r.claimedHolding); err != nil {
		return nil, err
	}
	span.SetAttributes(traces.RecordAddr(addrs.Record.String()))

	unlock, err := s.locks.LockContext(ctx, addrs.Record[:])
	if err != nil {
		return nil, err
	}
	defer unlock()

	now := s.timestamp()
	var (
		rec  *Record
		dest address.Address
	)
	err = s.ledger.Update(ctx, func(tx *ledger.Tx) error {
		var err error
		if rec, err = s.loadRecord(tx, addrs.Record); err != nil {
			return err
		}
		if err := s.checkBinding(rec, r.tuple, addrs); err != nil {
			return err
		}
		if !rec.Stage.CanTransitionTo(r.next) {
			return fmt.Errorf("%w: escrow is %s", ErrWrongStage, rec.Stage)
		}

		holding, err := tx.Get(rec.HoldingAddress)
		if err != nil {
			return err
		}
		if holding.Token == nil || holding.Token.Authority != addrs.Record {
			return fmt.Errorf("%w: holding %s is not controlled by the record", ErrAddressMismatch, rec.HoldingAddress)
		}

		if dest, err = ensureTokenAccount(tx, r.target, r.party, rec.Asset); err != nil {
			return err
		}
		if dest == rec.HoldingAddress {
			return fmt.Errorf("%w: destination is the holding account", ErrAddressMismatch)
		}

		// Whole balance, so tokens sent to the holding account by anyone
		// else cannot block the close.
		if balance := holding.Token.Amount; balance > 0 {
			if err := tx.Transfer(rec.HoldingAddress, dest, rec.Asset, addrs.Record, balance); err != nil {
				return err
			}
		}
		if err := tx.CloseAccount(rec.HoldingAddress, rec.Sender); err != nil {
			return err
		}

		rec.Stage = r.next
		rec.ResolvedAt = &now
		data, err := rec.MarshalBinary()
		if err != nil {
			return err
		}
		return tx.WriteData(addrs.Record, s.Program(), data)
	})
	if err != nil {
		return nil, err
	}

	metrics.EscrowLockedAmount.Sub(float64(rec.Amount))
	metrics.EscrowOpenDuration.Observe(now.Sub(rec.CreatedAt).Seconds())
	res = &Result{Record: rec, RecordAddress: addrs.Record, TokenAccount: dest}
	s.publish(r.event, res)
	return res, nil
}

// Get loads the record stored at addr.
func (s *Service) Get(ctx context.Context, addr address.Address) (*Record, error) {
	var rec *Record
	err := s.ledger.View(ctx, func(tx *ledger.Tx) error {
		var err error
		rec, err = s.loadRecord(tx, addr)
		return err
	})
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Find loads the record for t.
func (s *Service) Find(ctx context.Context, t Tuple) (*Result, error) {
	addrs, err := s.Derive(t)
	if err != nil {
		return nil, err
	}
	rec, err := s.Get(ctx, addrs.Record)
	if err != nil {
		return nil, err
	}
	return &Result{Record: rec, RecordAddress: addrs.Record}, nil
}

func (s *Service) loadRecord(tx *ledger.Tx, addr address.Address) (*Record, error) {
	acct, err := tx.Get(addr)
	if err != nil {
		return nil, err
	}
	if acct.Kind != ledger.KindData || acct.Owner != s.Program() {
		return nil, fmt.Errorf("%w: %s is not an escrow record", ErrAddressMismatch, addr)
	}
	rec := &Record{}
	if err := rec.UnmarshalBinary(acct.Data); err != nil {
		return nil, err
	}
	return rec, nil
}

// checkBinding confirms a stored record belongs to t and that its stored
// bumps still reproduce both addresses.
func (s *Service) checkBinding(rec *Record, t Tuple, addrs Addresses) error {
	if rec.Sender != t.Sender || rec.Receiver != t.Receiver || rec.Asset != t.Asset || rec.InstanceID != t.InstanceID {
		return fmt.Errorf("%w: record belongs to another escrow", ErrAddressMismatch)
	}
	if rec.HoldingAddress != addrs.Holding ||
		!s.deriver.Verify(addrs.Record, rec.RecordBump, t.seeds(recordTag)...) ||
		!s.deriver.Verify(rec.HoldingAddress, rec.HoldingBump, t.seeds(holdingTag)...) {
		return fmt.Errorf("%w: stored derivation does not reproduce", ErrAddressMismatch)
	}
	return nil
}

func (s *Service) authorize(required, signer address.Address, sig, digest []byte) error {
	if signer.IsZero() || signer != required {
		return fmt.Errorf("%w: signer %s is not %s", ErrUnauthorized, signer.Short(), required.Short())
	}
	if !s.verify {
		return nil
	}
	if err := signing.Verify(signer, digest, sig); err != nil {
		return fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}
	return nil
}

// Record timestamps are stored in whole seconds.
func (s *Service) timestamp() time.Time {
	return s.now().UTC().Truncate(time.Second)
}

func (s *Service) logOutcome(ctx context.Context, op string, t Tuple, res *Result, err error) {
	if err == nil {
		logging.L(ctx).Info("escrow "+op,
			"instance_id", t.InstanceID,
			"record", res.RecordAddress.String(),
			"stage", res.Record.Stage.String(),
			"amount", res.Record.Amount,
		)
		return
	}
	kind := Kind(err)
	if kind == "Internal" {
		logging.L(ctx).Error("escrow "+op+" failed", "instance_id", t.InstanceID, "error", err)
		return
	}
	logging.L(ctx).Warn("escrow "+op+" rejected", "instance_id", t.InstanceID, "kind", kind, "error", err)
}

func checkClaims(addrs Addresses, record, holding address.Address) error {
	if !record.IsZero() && record != addrs.Record {
		return fmt.Errorf("%w: record address %s, derived %s", ErrAddressMismatch, record, addrs.Record)
	}
	if !holding.IsZero() && holding != addrs.Holding {
		return fmt.Errorf("%w: holding address %s, derived %s", ErrAddressMismatch, holding, addrs.Holding)
	}
	return nil
}

// sourceAccount resolves the token account an initialize draws from.
func sourceAccount(tx *ledger.Tx, source, owner, asset address.Address) (address.Address, error) {
	if source.IsZero() {
		ata, _, err := address.AssociatedTokenAddress(owner, asset)
		if err != nil {
			return address.Zero, err
		}
		source = ata
	}
	acct, err := tx.Get(source)
	if err != nil {
		return address.Zero, err
	}
	return source, checkTokenAccount(acct, owner, asset)
}

// ensureTokenAccount resolves where released funds go. Only the owner's
// associated token account can be created on demand; the owner pays.
func ensureTokenAccount(tx *ledger.Tx, target, owner, asset address.Address) (address.Address, error) {
	ata, _, err := address.AssociatedTokenAddress(owner, asset)
	if err != nil {
		return address.Zero, err
	}
	if target.IsZero() || target == ata {
		acct, err := tx.EnsureAssociatedTokenAccount(owner, asset, owner)
		if err != nil {
			return address.Zero, fundingErr(err)
		}
		return ata, checkTokenAccount(acct, owner, asset)
	}
	acct, err := tx.Get(target)
	if err != nil {
		return address.Zero, err
	}
	return target, checkTokenAccount(acct, owner, asset)
}

func checkTokenAccount(acct *ledger.Account, owner, asset address.Address) error {
	switch {
	case acct.Kind != ledger.KindToken || acct.Token == nil:
		return fmt.Errorf("%w: %s is not a token account", ErrAddressMismatch, acct.Address)
	case acct.Token.Asset != asset:
		return fmt.Errorf("%w: %s holds another asset", ErrAddressMismatch, acct.Address)
	case acct.Token.Authority != owner:
		return fmt.Errorf("%w: %s belongs to %s", ErrAddressMismatch, acct.Address, acct.Token.Authority.Short())
	}
	return nil
}

// fundingErr folds a missing storage deposit into InsufficientFunds.
func fundingErr(err error) error {
	if errors.Is(err, ledger.ErrInsufficientLamports) {
		return fmt.Errorf("%w: %w", ErrInsufficientFunds, err)
	}
	return err
}
