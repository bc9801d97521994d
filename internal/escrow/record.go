package escrow

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/crypto"

	"github.com/mbd888/safetransfer/internal/address"
)

// RecordSize is the encoded size of a Record:
//
//	discriminator   8
//	instance_id     8  LE u64
//	sender         32
//	receiver       32
//	asset          32
//	amount          8  LE u64
//	stage           1
//	holding        32
//	record_bump     1
//	holding_bump    1
//	created_at      8  LE i64 unix seconds
//	resolved_at     8  LE i64 unix seconds, 0 while unresolved
const RecordSize = 8 + 8 + 3*address.Length + 8 + 1 + address.Length + 1 + 1 + 8 + 8

// ErrCorruptRecord is returned when stored bytes do not decode as a Record.
var ErrCorruptRecord = errors.New("escrow record is corrupt")

var recordDiscriminator = func() [8]byte {
	var d [8]byte
	copy(d[:], crypto.Keccak256([]byte("account:EscrowRecord")))
	return d
}()

// Record is the persisted state of one escrow instance.
type Record struct {
	InstanceID     uint64          `json:"instanceId,string"`
	Sender         address.Address `json:"sender"`
	Receiver       address.Address `json:"receiver"`
	Asset          address.Address `json:"asset"`
	Amount         uint64          `json:"amount,string"`
	Stage          Stage           `json:"stage"`
	HoldingAddress address.Address `json:"holdingAddress"`
	RecordBump     uint8           `json:"recordBump"`
	HoldingBump    uint8           `json:"holdingBump"`
	CreatedAt      time.Time       `json:"createdAt"`
	ResolvedAt     *time.Time      `json:"resolvedAt,omitempty"`
}

// MarshalBinary encodes r in the fixed record layout.
func (r *Record) MarshalBinary() ([]byte, error) {
	if !r.Stage.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidStage, uint8(r.Stage))
	}
	b := make([]byte, RecordSize)
	off := copy(b, recordDiscriminator[:])

	binary.LittleEndian.PutUint64(b[off:], r.InstanceID)
	off += 8
	off += copy(b[off:], r.Sender[:])
	off += copy(b[off:], r.Receiver[:])
	off += copy(b[off:], r.Asset[:])
	binary.LittleEndian.PutUint64(b[off:], r.Amount)
	off += 8
	b[off] = uint8(r.Stage)
	off++
	off += copy(b[off:], r.HoldingAddress[:])
	b[off] = r.RecordBump
	b[off+1] = r.HoldingBump
	off += 2
	binary.LittleEndian.PutUint64(b[off:], uint64(r.CreatedAt.Unix()))
	off += 8
	var resolved int64
	if r.ResolvedAt != nil {
		resolved = r.ResolvedAt.Unix()
	}
	binary.LittleEndian.PutUint64(b[off:], uint64(resolved))
	return b, nil
}

// UnmarshalBinary decodes the fixed record layout.
func (r *Record) UnmarshalBinary(b []byte) error {
	if len(b) != RecordSize {
		return fmt.Errorf("%w: %d bytes", ErrCorruptRecord, len(b))
	}
	if [8]byte(b[:8]) != recordDiscriminator {
		return fmt.Errorf("%w: bad discriminator", ErrCorruptRecord)
	}
	off := 8

	r.InstanceID = binary.LittleEndian.Uint64(b[off:])
	off += 8
	off += copy(r.Sender[:], b[off:])
	off += copy(r.Receiver[:], b[off:])
	off += copy(r.Asset[:], b[off:])
	r.Amount = binary.LittleEndian.Uint64(b[off:])
	off += 8
	stage, err := ParseStage(b[off])
	if err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptRecord, err)
	}
	r.Stage = stage
	off++
	off += copy(r.HoldingAddress[:], b[off:])
	r.RecordBump = b[off]
	r.HoldingBump = b[off+1]
	off += 2
	r.CreatedAt = time.Unix(int64(binary.LittleEndian.Uint64(b[off:])), 0).UTC()
	off += 8
	r.ResolvedAt = nil
	if resolved := int64(binary.LittleEndian.Uint64(b[off:])); resolved != 0 {
		t := time.Unix(resolved, 0).UTC()
		r.ResolvedAt = &t
	}
	return nil
}
