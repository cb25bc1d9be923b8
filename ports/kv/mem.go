package kv

import (
	"context"
	"slices"
	"strings"
	"sync"
	"time"
)

type MemStore struct {
	mu   sync.RWMutex
	now  func() time.Time
	data map[string]Entry
}

type MemOption func(*MemStore)

// WithMemClock sets the clock TTLs are measured against.
func WithMemClock(now func() time.Time) MemOption {
	return func(m *MemStore) { m.now = now }
}

func NewMemStore(opts ...MemOption) *MemStore {
	m := &MemStore{now: time.Now, data: map[string]Entry{}}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *MemStore) Put(_ context.Context, key string, entry Entry, opts PutOptions) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := Entry{Data: slices.Clone(entry.Data)}
	if opts.TTL > 0 {
		e.ExpiresAt = m.now().Add(opts.TTL)
	}
	m.data[key] = e
	return nil
}

func (m *MemStore) Get(_ context.Context, key string) (Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.data[key]
	if !ok || e.Expired(m.now()) {
		return Entry{}, ErrNotFound
	}
	return Entry{Data: slices.Clone(e.Data), ExpiresAt: e.ExpiresAt}, nil
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemStore) Keys(_ context.Context, prefix string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	now := m.now()
	var keys []string
	for k, e := range m.data {
		if strings.HasPrefix(k, prefix) && !e.Expired(now) {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	return keys, nil
}

var _ Store = (*MemStore)(nil)
