// Package shard spreads string keys over a fixed number of mutex guarded
// buckets, so that lookups for unrelated tags rarely contend on one lock.
package shard

import (
	"hash/fnv"
	"sync"
)

// Index maps key onto [0, n) with FNV-1a.
func Index(key string, n int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return int(h.Sum32() % uint32(n))
}

// Map is a string keyed map split into buckets by Index.
type Map[V any] struct {
	buckets []*bucket[V]
}

type bucket[V any] struct {
	mu sync.Mutex
	m  map[string]V
}

// NewMap creates a map with n buckets; n below one means a single bucket.
func NewMap[V any](n int) *Map[V] {
	m := &Map[V]{buckets: make([]*bucket[V], max(n, 1))}
	for i := range m.buckets {
		m.buckets[i] = &bucket[V]{m: map[string]V{}}
	}
	return m
}

func (m *Map[V]) bucketFor(key string) *bucket[V] {
	return m.buckets[Index(key, len(m.buckets))]
}

func (m *Map[V]) Get(key string) (V, bool) {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.m[key]
	return v, ok
}

// GetOrCreate returns the value for key, storing create() first when the key
// is absent. create runs under the bucket lock and must not touch m.
func (m *Map[V]) GetOrCreate(key string, create func() V) V {
	b := m.bucketFor(key)
	b.mu.Lock()
	defer b.mu.Unlock()
	v, ok := b.m[key]
	if !ok {
		v = create()
		b.m[key] = v
	}
	return v
}

func (m *Map[V]) Len() int {
	n := 0
	for _, b := range m.buckets {
		b.mu.Lock()
		n += len(b.m)
		b.mu.Unlock()
	}
	return n
}

func (m *Map[V]) Buckets() int { return len(m.buckets) }
