package cache

import (
	"sync"
	"time"
)

const shardCount = 16

// FNV-1a constants.
const (
	fnvOffset64 = 14695981039346656037
	fnvPrime64  = 1099511628211
)

type localEntry struct {
	payload   []byte
	createdAt time.Time
	ttl       time.Duration
}

func (e localEntry) expired(now time.Time) bool {
	return now.Sub(e.createdAt) >= e.ttl
}

type localShard struct {
	mu      sync.RWMutex
	entries map[string]localEntry
}

// localStore is the in-process cache tier. Keys are spread across a fixed
// set of mutex-guarded shards so concurrent batch lookups do not serialize
// on a single lock.
type localStore struct {
	shards [shardCount]*localShard
}

func newLocalStore() *localStore {
	s := &localStore{}
	for i := range s.shards {
		s.shards[i] = &localShard{entries: make(map[string]localEntry)}
	}
	return s
}

func (s *localStore) shardFor(key string) *localShard {
	var h uint64 = fnvOffset64
	for i := 0; i < len(key); i++ {
		h ^= uint64(key[i])
		h *= fnvPrime64
	}
	return s.shards[h%shardCount]
}

// get returns the payload for key if a fresh entry exists. Expired entries
// are removed on touch and reported as misses.
func (s *localStore) get(key string, now time.Time) ([]byte, bool) {
	shard := s.shardFor(key)

	shard.mu.RLock()
	entry, ok := shard.entries[key]
	shard.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if entry.expired(now) {
		shard.mu.Lock()
		// Re-check under the write lock; a concurrent set may have
		// refreshed the entry.
		if cur, ok := shard.entries[key]; ok && cur.expired(now) {
			delete(shard.entries, key)
		}
		shard.mu.Unlock()
		return nil, false
	}
	return entry.payload, true
}

func (s *localStore) set(key string, payload []byte, ttl time.Duration, now time.Time) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	shard.entries[key] = localEntry{payload: payload, createdAt: now, ttl: ttl}
	shard.mu.Unlock()
}

func (s *localStore) delete(key string) {
	shard := s.shardFor(key)
	shard.mu.Lock()
	delete(shard.entries, key)
	shard.mu.Unlock()
}

// clear removes every entry whose key satisfies match and returns the
// number removed.
func (s *localStore) clear(match func(string) bool) int {
	removed := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key := range shard.entries {
			if match(key) {
				delete(shard.entries, key)
				removed++
			}
		}
		shard.mu.Unlock()
	}
	return removed
}

// sweep evicts every expired entry and returns the number evicted.
func (s *localStore) sweep(now time.Time) int {
	evicted := 0
	for _, shard := range s.shards {
		shard.mu.Lock()
		for key, entry := range shard.entries {
			if entry.expired(now) {
				delete(shard.entries, key)
				evicted++
			}
		}
		shard.mu.Unlock()
	}
	return evicted
}

func (s *localStore) len() int {
	n := 0
	for _, shard := range s.shards {
		shard.mu.RLock()
		n += len(shard.entries)
		shard.mu.RUnlock()
	}
	return n
}
