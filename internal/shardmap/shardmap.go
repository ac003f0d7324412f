// Package shardmap provides a fixed-shard concurrent map, the idiomatic Go
// substitute for a DashMap-style concurrent collaborator: instead of one
// lock guarding the whole map, each key hashes to one of a small number of
// independently-locked shards, so unrelated keys almost never contend.
package shardmap

import (
	"hash/fnv"
	"sync"
)

const shardCount = 16

// Map is a concurrent map sharded across shardCount buckets, each guarded by
// its own sync.RWMutex.
type Map[V any] struct {
	shards [shardCount]*shard[V]
}

type shard[V any] struct {
	mu sync.RWMutex
	m  map[string]V
}

// New creates an empty sharded map.
func New[V any]() *Map[V] {
	m := &Map[V]{}
	for i := range m.shards {
		m.shards[i] = &shard[V]{m: make(map[string]V)}
	}
	return m
}

func (m *Map[V]) shardFor(key string) *shard[V] {
	h := fnv.New32a()
	h.Write([]byte(key))
	return m.shards[h.Sum32()%shardCount]
}

// Get returns the value stored for key, if any.
func (m *Map[V]) Get(key string) (V, bool) {
	s := m.shardFor(key)
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.m[key]
	return v, ok
}

// Set stores v for key, overwriting any existing value.
func (m *Map[V]) Set(key string, v V) {
	s := m.shardFor(key)
	s.mu.Lock()
	s.m[key] = v
	s.mu.Unlock()
}

// GetOrCreate returns the existing value for key, or stores and returns the
// result of create() if none exists yet. create is only invoked on a miss.
func (m *Map[V]) GetOrCreate(key string, create func() V) V {
	s := m.shardFor(key)
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.m[key]; ok {
		return v
	}
	v := create()
	s.m[key] = v
	return v
}

// Delete removes key, if present.
func (m *Map[V]) Delete(key string) {
	s := m.shardFor(key)
	s.mu.Lock()
	delete(s.m, key)
	s.mu.Unlock()
}

// Len returns the total number of entries across all shards.
func (m *Map[V]) Len() int {
	total := 0
	for _, s := range m.shards {
		s.mu.RLock()
		total += len(s.m)
		s.mu.RUnlock()
	}
	return total
}

// Keys returns every key currently stored, in no particular order.
func (m *Map[V]) Keys() []string {
	out := make([]string, 0, m.Len())
	for _, s := range m.shards {
		s.mu.RLock()
		for k := range s.m {
			out = append(out, k)
		}
		s.mu.RUnlock()
	}
	return out
}

// Range calls fn for every entry. fn must not call back into the Map.
// Iteration order is unspecified and a shard's lock is held only while
// visiting that shard's own entries.
func (m *Map[V]) Range(fn func(key string, value V)) {
	for _, s := range m.shards {
		s.mu.RLock()
		for k, v := range s.m {
			fn(k, v)
		}
		s.mu.RUnlock()
	}
}
