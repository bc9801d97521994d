package ledger

import (
	"context"

	"github.com/mbd888/safetransfer/internal/address"
)

// Reader reads raw account values.
type Reader interface {
	// Get returns the value stored at key. found is false when absent.
	Get(key address.Address) (value []byte, found bool, err error)
}

// ReadWriter is a Reader that can stage writes inside a transaction.
type ReadWriter interface {
	Reader
	Put(key address.Address, value []byte) error
	Delete(key address.Address) error
}

// Backend is the value store accounts are kept in. Update must apply every
// staged write atomically, or none of them when fn returns an error, and
// must isolate concurrent updates from each other.
type Backend interface {
	Name() string
	View(ctx context.Context, fn func(Reader) error) error
	Update(ctx context.Context, fn func(ReadWriter) error) error
	Close() error
}
