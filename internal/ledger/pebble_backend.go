package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/cockroachdb/pebble"

	"github.com/mbd888/safetransfer/internal/address"
)

var accountKeyPrefix = []byte("acct/")

func accountKey(addr address.Address) []byte {
	k := make([]byte, 0, len(accountKeyPrefix)+address.Length)
	k = append(k, accountKeyPrefix...)
	return append(k, addr[:]...)
}

// PebbleBackend stores accounts in a pebble LSM tree. Each update stages its
// writes in an indexed batch so reads see them before commit; updates are
// serialized so no two batches race on the same keys.
type PebbleBackend struct {
	db *pebble.DB
	mu sync.Mutex
}

// OpenPebble opens or creates a pebble store in dir.
func OpenPebble(dir string) (*PebbleBackend, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("open pebble at %s: %w", dir, err)
	}
	return &PebbleBackend{db: db}, nil
}

func (p *PebbleBackend) Name() string { return "pebble" }

func (p *PebbleBackend) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	snap := p.db.NewSnapshot()
	defer snap.Close()
	return fn(&pebbleTx{r: snap})
}

func (p *PebbleBackend) Update(ctx context.Context, fn func(ReadWriter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	batch := p.db.NewIndexedBatch()
	defer batch.Close()

	if err := fn(&pebbleTx{r: batch, b: batch}); err != nil {
		return err
	}
	return batch.Commit(pebble.Sync)
}

func (p *PebbleBackend) Close() error {
	return p.db.Close()
}

type pebbleTx struct {
	r pebble.Reader
	b *pebble.Batch
}

func (t *pebbleTx) Get(key address.Address) ([]byte, bool, error) {
	val, closer, err := t.r.Get(accountKey(key))
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	out := make([]byte, len(val))
	copy(out, val)
	return out, true, nil
}

func (t *pebbleTx) Put(key address.Address, value []byte) error {
	return t.b.Set(accountKey(key), value, nil)
}

func (t *pebbleTx) Delete(key address.Address) error {
	return t.b.Delete(accountKey(key), nil)
}
