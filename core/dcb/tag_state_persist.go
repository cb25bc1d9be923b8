package dcb

import (
	"context"
	"encoding/json"
	"errors"
	"sync"

	"github.com/codewandler/dcb-go/core/cache"
	"github.com/codewandler/dcb-go/core/tag"
	"github.com/codewandler/dcb-go/ports/kv"
)

// TagStatePersistent caches the state of one (tag, projector). Load returns
// nil and no error when nothing is stored.
type TagStatePersistent interface {
	Load(ctx context.Context) (*TagState, error)
	Save(ctx context.Context, s TagState) error
	Clear(ctx context.Context) error
}

// TagStatePersistentFactory creates the persistent store for one state id.
type TagStatePersistentFactory func(id tag.StateID, p TagProjector) TagStatePersistent

// === in-memory ===

type InMemoryTagStatePersistent struct {
	mu    sync.RWMutex
	state *TagState
}

func NewInMemoryTagStatePersistent() *InMemoryTagStatePersistent {
	return &InMemoryTagStatePersistent{}
}

func (m *InMemoryTagStatePersistent) Load(context.Context) (*TagState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.state == nil {
		return nil, nil
	}
	s := *m.state
	return &s, nil
}

func (m *InMemoryTagStatePersistent) Save(_ context.Context, s TagState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = &s
	return nil
}

func (m *InMemoryTagStatePersistent) Clear(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = nil
	return nil
}

// === LRU backed ===

// CachedTagStatePersistent keeps states in a shared LRU, so hosts with many
// tags hold a bounded number of them in memory.
type CachedTagStatePersistent struct {
	c   cache.Typed[TagState]
	key string
}

func NewCachedTagStatePersistent(c cache.Cache, id tag.StateID) *CachedTagStatePersistent {
	return &CachedTagStatePersistent{c: cache.NewTyped[TagState](c), key: id.String()}
}

// CachedTagStatePersistence returns a factory sharing c between all states.
func CachedTagStatePersistence(c cache.Cache) TagStatePersistentFactory {
	return func(id tag.StateID, _ TagProjector) TagStatePersistent {
		return NewCachedTagStatePersistent(c, id)
	}
}

func (p *CachedTagStatePersistent) Load(context.Context) (*TagState, error) {
	s, ok := p.c.Get(p.key)
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (p *CachedTagStatePersistent) Save(_ context.Context, s TagState) error {
	p.c.Put(p.key, s)
	return nil
}

func (p *CachedTagStatePersistent) Clear(context.Context) error {
	p.c.Delete(p.key)
	return nil
}

// === key/value backed ===

type storedTagState struct {
	TagState
	PayloadType string          `json:"payload_type"`
	Payload     json.RawMessage `json:"payload,omitempty"`
}

// KVTagStatePersistent stores the state in a kv.Store, encoding the payload
// with the projector that produced it.
type KVTagStatePersistent struct {
	store     kv.Store
	key       string
	projector TagProjector
}

func NewKVTagStatePersistent(store kv.Store, id tag.StateID, p TagProjector) *KVTagStatePersistent {
	return &KVTagStatePersistent{store: store, key: kvKey(id), projector: p}
}

// KVTagStatePersistence returns a factory storing every state in store.
func KVTagStatePersistence(store kv.Store) TagStatePersistentFactory {
	return func(id tag.StateID, p TagProjector) TagStatePersistent {
		return NewKVTagStatePersistent(store, id, p)
	}
}

// kvKey maps a state id onto the key charset shared by the kv backends.
// Tags never contain '/', so the key is unambiguous.
func kvKey(id tag.StateID) string {
	return "tagstate/" + id.Tag.Group + "/" + id.Tag.Content + "/" + id.Projector
}

func (p *KVTagStatePersistent) Load(ctx context.Context) (*TagState, error) {
	stored, err := kv.Get[storedTagState](ctx, p.store, p.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, storageError("load_tag_state", err)
	}
	payload, err := p.projector.DecodeState(stored.Payload)
	if err != nil {
		return nil, err
	}
	s := stored.TagState
	s.Payload = payload
	return &s, nil
}

func (p *KVTagStatePersistent) Save(ctx context.Context, s TagState) error {
	data, err := p.projector.EncodeState(s.Payload)
	if err != nil {
		return err
	}
	stored := storedTagState{TagState: s, Payload: data}
	if !s.IsEmpty() {
		stored.PayloadType = EventTypeOf(s.Payload)
	}
	return storageError("save_tag_state", kv.Put(ctx, p.store, p.key, stored, kv.PutOptions{}))
}

func (p *KVTagStatePersistent) Clear(ctx context.Context) error {
	err := p.store.Delete(ctx, p.key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil
	}
	return storageError("clear_tag_state", err)
}

var (
	_ TagStatePersistent = (*InMemoryTagStatePersistent)(nil)
	_ TagStatePersistent = (*CachedTagStatePersistent)(nil)
	_ TagStatePersistent = (*KVTagStatePersistent)(nil)
)
