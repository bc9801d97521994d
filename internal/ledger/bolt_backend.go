package ledger

import (
	"context"
	"fmt"
	"time"

	"go.etcd.io/bbolt"

	"github.com/mbd888/safetransfer/internal/address"
)

var accountsBucket = []byte("accounts")

// BoltBackend stores accounts in a single bbolt bucket. bbolt allows one
// writer at a time, which gives Update its isolation.
type BoltBackend struct {
	db *bbolt.DB
}

// OpenBolt opens or creates a bbolt file at path.
func OpenBolt(path string) (*BoltBackend, error) {
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt at %s: %w", path, err)
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(accountsBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create accounts bucket: %w", err)
	}
	return &BoltBackend{db: db}, nil
}

func (b *BoltBackend) Name() string { return "bolt" }

func (b *BoltBackend) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.View(func(tx *bbolt.Tx) error {
		return fn(&boltTx{bucket: tx.Bucket(accountsBucket)})
	})
}

func (b *BoltBackend) Update(ctx context.Context, fn func(ReadWriter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return b.db.Update(func(tx *bbolt.Tx) error {
		return fn(&boltTx{bucket: tx.Bucket(accountsBucket)})
	})
}

func (b *BoltBackend) Close() error {
	return b.db.Close()
}

type boltTx struct {
	bucket *bbolt.Bucket
}

func (t *boltTx) Get(key address.Address) ([]byte, bool, error) {
	v := t.bucket.Get(key[:])
	if v == nil {
		return nil, false, nil
	}
	// bbolt values are only valid for the life of the transaction
	out := make([]byte, len(v))
	copy(out, v)
	return out, true, nil
}

func (t *boltTx) Put(key address.Address, value []byte) error {
	return t.bucket.Put(key[:], value)
}

func (t *boltTx) Delete(key address.Address) error {
	return t.bucket.Delete(key[:])
}
