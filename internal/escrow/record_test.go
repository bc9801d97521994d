package escrow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/safetransfer/internal/address"
)

func sampleRecord() *Record {
	return &Record{
		InstanceID:     1_700_000_000,
		Sender:         address.ProgramID("sender"),
		Receiver:       address.ProgramID("receiver"),
		Asset:          address.ProgramID("asset"),
		Amount:         20_000_000,
		Stage:          StageInitialized,
		HoldingAddress: address.ProgramID("holding"),
		RecordBump:     254,
		HoldingBump:    251,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestRecord_BinaryRoundTrip(t *testing.T) {
	rec := sampleRecord()
	b, err := rec.MarshalBinary()
	require.NoError(t, err)
	require.Len(t, b, RecordSize)
	assert.Equal(t, recordDiscriminator[:], b[:8])

	var got Record
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, *rec, got)

	resolved := rec.CreatedAt.Add(90 * time.Minute)
	rec.Stage = StageCompleted
	rec.ResolvedAt = &resolved
	b, err = rec.MarshalBinary()
	require.NoError(t, err)
	require.NoError(t, got.UnmarshalBinary(b))
	assert.Equal(t, StageCompleted, got.Stage)
	require.NotNil(t, got.ResolvedAt)
	assert.True(t, resolved.Equal(*got.ResolvedAt))
}

func TestRecord_Layout(t *testing.T) {
	b, err := sampleRecord().MarshalBinary()
	require.NoError(t, err)

	// instance id and amount are little-endian
	assert.Equal(t, []byte{0x00, 0xf1, 0x53, 0x65, 0, 0, 0, 0}, b[8:16])
	amountOff := 8 + 8 + 3*address.Length
	assert.Equal(t, []byte{0x00, 0x2d, 0x31, 0x01, 0, 0, 0, 0}, b[amountOff:amountOff+8])
	assert.Equal(t, byte(StageInitialized), b[amountOff+8])
}

func TestRecord_RejectsCorruptBytes(t *testing.T) {
	good, err := sampleRecord().MarshalBinary()
	require.NoError(t, err)

	var r Record
	assert.ErrorIs(t, r.UnmarshalBinary(good[:RecordSize-1]), ErrCorruptRecord)

	bad := append([]byte(nil), good...)
	bad[0] ^= 0xff
	assert.ErrorIs(t, r.UnmarshalBinary(bad), ErrCorruptRecord)

	bad = append([]byte(nil), good...)
	bad[8+8+3*address.Length+8] = 0
	assert.ErrorIs(t, r.UnmarshalBinary(bad), ErrCorruptRecord)
}

func TestRecord_MarshalInvalidStage(t *testing.T) {
	rec := sampleRecord()
	rec.Stage = 0
	_, err := rec.MarshalBinary()
	assert.ErrorIs(t, err, ErrInvalidStage)
}
