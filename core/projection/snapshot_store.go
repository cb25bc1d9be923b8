package projection

import (
	"context"
	"errors"
	"maps"
	"slices"
	"strings"
	"sync"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/ports/kv"
)

// SnapshotStore keeps the latest snapshot record per projector.
type SnapshotStore interface {
	// Save replaces the record for rec.ProjectorName. The first CreatedAt of
	// a projector is kept across saves.
	Save(ctx context.Context, rec SnapshotRecord) error
	// Load returns ErrNotFound when no record exists.
	Load(ctx context.Context, projector string) (*SnapshotRecord, error)
	Delete(ctx context.Context, projector string) error
	// List returns the projector names with a stored record, sorted.
	List(ctx context.Context) ([]string, error)
}

// === in-memory ===

type InMemorySnapshotStore struct {
	mu      sync.RWMutex
	records map[string]SnapshotRecord
}

func NewInMemorySnapshotStore() *InMemorySnapshotStore {
	return &InMemorySnapshotStore{records: map[string]SnapshotRecord{}}
}

func (s *InMemorySnapshotStore) Save(_ context.Context, rec SnapshotRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.records[rec.ProjectorName]; ok {
		rec.CreatedAt = prev.CreatedAt
	}
	rec.StateData = slices.Clone(rec.StateData)
	s.records[rec.ProjectorName] = rec
	return nil
}

func (s *InMemorySnapshotStore) Load(_ context.Context, projector string) (*SnapshotRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[projector]
	if !ok {
		return nil, dcb.Errorf(dcb.KindNotFound, "load_snapshot", "no snapshot for %q", projector)
	}
	rec.StateData = slices.Clone(rec.StateData)
	return &rec, nil
}

func (s *InMemorySnapshotStore) Delete(_ context.Context, projector string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, projector)
	return nil
}

func (s *InMemorySnapshotStore) List(context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Sorted(maps.Keys(s.records)), nil
}

// === key/value backed ===

const kvSnapshotPrefix = "snapshot/"

// KVSnapshotStore keeps records in a kv.Store, one key per projector.
type KVSnapshotStore struct {
	store kv.Store
}

func NewKVSnapshotStore(store kv.Store) *KVSnapshotStore {
	return &KVSnapshotStore{store: store}
}

func (s *KVSnapshotStore) Save(ctx context.Context, rec SnapshotRecord) error {
	prev, err := s.Load(ctx, rec.ProjectorName)
	switch {
	case err == nil:
		rec.CreatedAt = prev.CreatedAt
	case !errors.Is(err, dcb.ErrNotFound):
		return err
	}
	return dcb.StorageError("save_snapshot", kv.Put(ctx, s.store, kvSnapshotPrefix+rec.ProjectorName, rec, kv.PutOptions{}))
}

func (s *KVSnapshotStore) Load(ctx context.Context, projector string) (*SnapshotRecord, error) {
	rec, err := kv.Get[SnapshotRecord](ctx, s.store, kvSnapshotPrefix+projector)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, dcb.Errorf(dcb.KindNotFound, "load_snapshot", "no snapshot for %q", projector)
	}
	if err != nil {
		return nil, dcb.StorageError("load_snapshot", err)
	}
	return &rec, nil
}

func (s *KVSnapshotStore) Delete(ctx context.Context, projector string) error {
	err := s.store.Delete(ctx, kvSnapshotPrefix+projector)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return dcb.StorageError("delete_snapshot", err)
}

func (s *KVSnapshotStore) List(ctx context.Context) ([]string, error) {
	keys, err := s.store.Keys(ctx, kvSnapshotPrefix)
	if err != nil {
		return nil, dcb.StorageError("list_snapshots", err)
	}
	out := make([]string, 0, len(keys))
	for _, k := range keys {
		out = append(out, strings.TrimPrefix(k, kvSnapshotPrefix))
	}
	return out, nil
}

var (
	_ SnapshotStore = (*InMemorySnapshotStore)(nil)
	_ SnapshotStore = (*KVSnapshotStore)(nil)
)
