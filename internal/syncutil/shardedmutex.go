// Package syncutil holds locking helpers shared by services.
package syncutil

import (
	"context"
	"hash/fnv"
	"sync"
)

const shardCount = 256

// ShardedMutex is a fixed pool of channel-based mutexes keyed by byte
// strings. Memory stays bounded however many keys are seen, at the cost of
// occasional false sharing between keys that hash to the same shard.
// The zero value is ready to use.
type ShardedMutex struct {
	shards [shardCount]chan struct{}
	once   sync.Once
}

func (m *ShardedMutex) init() {
	m.once.Do(func() {
		for i := range m.shards {
			m.shards[i] = make(chan struct{}, 1)
			m.shards[i] <- struct{}{}
		}
	})
}

// Lock acquires the mutex for key and returns an unlock function.
func (m *ShardedMutex) Lock(key []byte) func() {
	unlock, _ := m.LockContext(context.Background(), key)
	return unlock
}

// LockContext acquires the mutex for key unless ctx ends first. On success
// the caller must call the returned unlock function.
func (m *ShardedMutex) LockContext(ctx context.Context, key []byte) (func(), error) {
	m.init()
	shard := m.shards[shardIndex(key)]

	select {
	case <-shard:
		return func() { shard <- struct{}{} }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func shardIndex(key []byte) uint32 {
	h := fnv.New32a()
	_, _ = h.Write(key)
	return h.Sum32() % shardCount
}
