// Package kv is the key/value port tag states and snapshot records are
// persisted through. MemStore serves tests and single-process setups;
// adapters/nats provides a JetStream backed Store.
package kv

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

var ErrNotFound = errors.New("kv: key not found")

type Entry struct {
	Data []byte
	// ExpiresAt is set by Get for entries written with a TTL.
	ExpiresAt time.Time
}

// Expired reports whether the entry has a TTL that ended at or before now.
func (e Entry) Expired(now time.Time) bool {
	return !e.ExpiresAt.IsZero() && !now.Before(e.ExpiresAt)
}

type PutOptions struct {
	// TTL expires the entry. Zero keeps it until deleted.
	TTL time.Duration
}

type Store interface {
	// Put ignores entry.ExpiresAt; expiry comes from opts.TTL.
	Put(ctx context.Context, key string, entry Entry, opts PutOptions) error
	// Get returns ErrNotFound for missing or expired keys.
	Get(ctx context.Context, key string) (Entry, error)
	// Delete is a no-op for missing keys.
	Delete(ctx context.Context, key string) error
	// Keys lists the live keys starting with prefix, sorted.
	Keys(ctx context.Context, prefix string) ([]string, error)
}

// Put stores v as JSON.
func Put[T any](ctx context.Context, store Store, key string, v T, opts PutOptions) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return store.Put(ctx, key, Entry{Data: data}, opts)
}

// Get loads the JSON value stored under key into a T.
func Get[T any](ctx context.Context, store Store, key string) (T, error) {
	var out T
	entry, err := store.Get(ctx, key)
	if err != nil {
		return out, err
	}
	if err := json.Unmarshal(entry.Data, &out); err != nil {
		return out, err
	}
	return out, nil
}
