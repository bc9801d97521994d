package ledger

import (
	"context"
	"sync"

	"github.com/mbd888/safetransfer/internal/address"
)

// MemoryBackend keeps accounts in a map. Updates are serialized and staged
// in an overlay that is merged only on success.
type MemoryBackend struct {
	mu   sync.RWMutex
	data map[address.Address][]byte
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{data: make(map[address.Address][]byte)}
}

func (m *MemoryBackend) Name() string { return "memory" }

func (m *MemoryBackend) View(ctx context.Context, fn func(Reader) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return fn(&memoryTx{base: m.data})
}

func (m *MemoryBackend) Update(ctx context.Context, fn func(ReadWriter) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{base: m.data, staged: make(map[address.Address][]byte)}
	if err := fn(tx); err != nil {
		return err
	}
	for k, v := range tx.staged {
		if v == nil {
			delete(m.data, k)
			continue
		}
		m.data[k] = v
	}
	return nil
}

func (m *MemoryBackend) Close() error { return nil }

// Len reports how many accounts are stored.
func (m *MemoryBackend) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.data)
}

type memoryTx struct {
	base   map[address.Address][]byte
	staged map[address.Address][]byte // nil value marks a delete
}

func (t *memoryTx) Get(key address.Address) ([]byte, bool, error) {
	if v, ok := t.staged[key]; ok {
		if v == nil {
			return nil, false, nil
		}
		return append([]byte(nil), v...), true, nil
	}
	v, ok := t.base[key]
	if !ok {
		return nil, false, nil
	}
	return append([]byte(nil), v...), true, nil
}

func (t *memoryTx) Put(key address.Address, value []byte) error {
	t.staged[key] = append(make([]byte, 0, len(value)), value...)
	return nil
}

func (t *memoryTx) Delete(key address.Address) error {
	t.staged[key] = nil
	return nil
}
