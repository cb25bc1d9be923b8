package dcb

import (
	"log/slog"

	"github.com/codewandler/dcb-go/core/cache"
	"github.com/codewandler/dcb-go/core/tag"
	"github.com/codewandler/dcb-go/internal/shard"
)

const (
	defaultHostShards    = 32
	defaultTagStateCache = 4096
)

type hostOpts struct {
	log         *slog.Logger
	metrics     Metrics
	types       *EventTypes
	persistence TagStatePersistentFactory
	shards      int
	tagConsOpts []TagConsistentOption
	ownedCloser func()
}

type HostOption func(*hostOpts)

func WithHostLogger(log *slog.Logger) HostOption {
	return func(o *hostOpts) { o.log = log }
}

func WithHostMetrics(m Metrics) HostOption {
	return func(o *hostOpts) { o.metrics = m }
}

// WithHostEventTypes decodes events the store returns without payloads.
func WithHostEventTypes(types *EventTypes) HostOption {
	return func(o *hostOpts) { o.types = types }
}

// WithTagStatePersistence replaces the default LRU backed persistence.
func WithTagStatePersistence(f TagStatePersistentFactory) HostOption {
	return func(o *hostOpts) { o.persistence = f }
}

func WithHostShards(n int) HostOption {
	return func(o *hostOpts) {
		if n > 0 {
			o.shards = n
		}
	}
}

func WithTagConsistentOptions(opts ...TagConsistentOption) HostOption {
	return func(o *hostOpts) { o.tagConsOpts = append(o.tagConsOpts, opts...) }
}

// Host owns exactly one TagConsistentActor per tag and one TagStateActor per
// state id within this process. Actors are created on first use.
type Host struct {
	store      EventStore
	projectors *TagProjectors
	opts       hostOpts
	consistent *shard.Map[*TagConsistentActor]
	states     *shard.Map[*TagStateActor]
}

func NewHost(store EventStore, projectors *TagProjectors, opts ...HostOption) *Host {
	o := hostOpts{
		log:     slog.Default(),
		metrics: NopMetrics(),
		shards:  defaultHostShards,
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.persistence == nil {
		lru := cache.NewLRU(cache.LRUOpts{Size: defaultTagStateCache})
		o.persistence = CachedTagStatePersistence(lru)
		o.ownedCloser = lru.Close
	}

	return &Host{
		store:      store,
		projectors: projectors,
		opts:       o,
		consistent: shard.NewMap[*TagConsistentActor](o.shards),
		states:     shard.NewMap[*TagStateActor](o.shards),
	}
}

func (h *Host) Store() EventStore          { return h.store }
func (h *Host) Projectors() *TagProjectors { return h.projectors }
func (h *Host) Metrics() Metrics           { return h.opts.metrics }

func (h *Host) TagConsistent(t tag.Tag) *TagConsistentActor {
	return h.consistent.GetOrCreate(t.String(), func() *TagConsistentActor {
		opts := append([]TagConsistentOption{WithTagConsistentLogger(h.opts.log)}, h.opts.tagConsOpts...)
		return NewTagConsistentActor(t, h.store, opts...)
	})
}

// TagState returns the actor for id. An unknown projector is a
// serialization error and creates nothing.
func (h *Host) TagState(id tag.StateID) (*TagStateActor, error) {
	p, err := h.projectors.Get(id.Projector)
	if err != nil {
		return nil, err
	}
	if a, ok := h.states.Get(id.String()); ok {
		return a, nil
	}

	// resolved outside the states bucket lock
	consistent := h.TagConsistent(id.Tag)
	return h.states.GetOrCreate(id.String(), func() *TagStateActor {
		return NewTagStateActor(id, TagStateActorConfig{
			Store:      h.store,
			Projectors: h.projectors,
			Consistent: consistent,
			Persistent: h.opts.persistence(id, p),
			Types:      h.opts.types,
			Metrics:    h.opts.metrics,
			Log:        h.opts.log,
		})
	}), nil
}

// Close releases the default tag state cache.
func (h *Host) Close() {
	if h.opts.ownedCloser != nil {
		h.opts.ownedCloser()
	}
}
