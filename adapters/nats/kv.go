package nats

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"strings"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/dcb-go/ports/kv"
)

type KvConfig struct {
	Connect Connector // Connect is used to create the underlying NATS connection. If nil, ConnectDefault() is used.
	Bucket  string
	// MaxBytes caps the bucket size. Zero means unlimited.
	MaxBytes int64
	// Now is used for TTL bookkeeping. Defaults to time.Now.
	Now func() time.Time
}

// kvRecord is the stored form of a kv.Entry. JetStream only expires whole
// buckets, so per-entry TTLs are checked on read.
type kvRecord struct {
	Data      []byte     `json:"data"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
}

// KvStore implements kv.Store on a JetStream key/value bucket.
type KvStore struct {
	kv      jetstream.KeyValue
	closeNc closeFunc
	now     func() time.Time
}

func NewKvStore(ctx context.Context, cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeNc, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeNc()
		return nil, err
	}

	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = -1
	}

	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  jetstream.FileStorage,
		MaxBytes: maxBytes,
	})
	if err != nil {
		closeNc()
		return nil, fmt.Errorf("failed to ensure bucket %q: %w", cfg.Bucket, err)
	}

	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	return &KvStore{kv: bucket, closeNc: closeNc, now: now}, nil
}

func (k *KvStore) Close() { k.closeNc() }

func (k *KvStore) Put(ctx context.Context, key string, entry kv.Entry, opts kv.PutOptions) error {
	rec := kvRecord{Data: entry.Data}
	if opts.TTL > 0 {
		exp := k.now().Add(opts.TTL)
		rec.ExpiresAt = &exp
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	if _, err := k.kv.Put(ctx, key, data); err != nil {
		return fmt.Errorf("failed to put %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	v, err := k.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("failed to get %s: %w", key, err)
	}
	var rec kvRecord
	if err := json.Unmarshal(v.Value(), &rec); err != nil {
		return kv.Entry{}, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	entry := kv.Entry{Data: rec.Data}
	if rec.ExpiresAt != nil {
		entry.ExpiresAt = *rec.ExpiresAt
	}
	if entry.Expired(k.now()) {
		return kv.Entry{}, kv.ErrNotFound
	}
	return entry, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	err := k.kv.Delete(ctx, key)
	if err != nil && !errors.Is(err, jetstream.ErrKeyNotFound) {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

// Keys lists keys by prefix, reading each match to skip expired entries.
func (k *KvStore) Keys(ctx context.Context, prefix string) ([]string, error) {
	lister, err := k.kv.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var matches []string
	for key := range lister.Keys() {
		if strings.HasPrefix(key, prefix) {
			matches = append(matches, key)
		}
	}

	out := matches[:0]
	for _, key := range matches {
		_, err := k.Get(ctx, key)
		switch {
		case err == nil:
			out = append(out, key)
		case !errors.Is(err, kv.ErrNotFound):
			return nil, err
		}
	}
	slices.Sort(out)
	return out, nil
}

var _ kv.Store = (*KvStore)(nil)
