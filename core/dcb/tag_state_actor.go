package dcb

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/codewandler/dcb-go/core/sf"
	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

// TagStateActor computes the state of one (tag, projector) on demand and
// keeps the last result in its persistent store.
type TagStateActor struct {
	id         tag.StateID
	store      EventStore
	types      *EventTypes
	projectors *TagProjectors
	consistent *TagConsistentActor
	persist    TagStatePersistent
	flight     sf.Group[suid.ID, TagState]
	metrics    Metrics
	log        *slog.Logger
}

type TagStateActorConfig struct {
	Store      EventStore
	Projectors *TagProjectors
	Consistent *TagConsistentActor
	Persistent TagStatePersistent
	// Types decodes events read without a payload. Optional when the store
	// returns decoded events.
	Types   *EventTypes
	Metrics Metrics
	Log     *slog.Logger
}

func NewTagStateActor(id tag.StateID, cfg TagStateActorConfig) *TagStateActor {
	if cfg.Persistent == nil {
		cfg.Persistent = NewInMemoryTagStatePersistent()
	}
	if cfg.Metrics == nil {
		cfg.Metrics = NopMetrics()
	}
	if cfg.Log == nil {
		cfg.Log = slog.Default()
	}
	if cfg.Consistent == nil {
		cfg.Consistent = NewTagConsistentActor(id.Tag, cfg.Store, WithTagConsistentLogger(cfg.Log))
	}
	return &TagStateActor{
		id:         id,
		store:      cfg.Store,
		types:      cfg.Types,
		projectors: cfg.Projectors,
		consistent: cfg.Consistent,
		persist:    cfg.Persistent,
		metrics:    cfg.Metrics,
		log:        cfg.Log.With(slog.String("actor", "tag_state"), slog.String("state_id", id.String())),
	}
}

func (a *TagStateActor) ID() tag.StateID { return a.id }

// State returns the state folded up to the tag's latest position. A cached
// state is reused when it is at that position and was built by the current
// projector version; otherwise the missing events are folded onto it.
func (a *TagStateActor) State(ctx context.Context) (TagState, error) {
	p, err := a.projectors.Get(a.id.Projector)
	if err != nil {
		return TagState{}, err
	}

	latest, err := a.consistent.LatestSortableID(ctx)
	if err != nil {
		return TagState{}, err
	}

	cached, err := a.persist.Load(ctx)
	if err != nil {
		return TagState{}, storageError("load_tag_state", err)
	}
	if cached != nil && cached.LastSortableID == latest && cached.ProjectorVersion == p.Version() {
		a.metrics.TagStateCacheHit(p.Name())
		return *cached, nil
	}
	a.metrics.TagStateCacheMiss(p.Name())

	s, shared, err := a.flight.Do(ctx, latest, func(ctx context.Context) (TagState, error) {
		return a.compute(ctx, p, cached, latest)
	})
	if err != nil {
		return TagState{}, err
	}
	if shared {
		a.metrics.TagStateShared(p.Name())
	}
	return s, nil
}

func (a *TagStateActor) compute(ctx context.Context, p TagProjector, cached *TagState, latest suid.ID) (TagState, error) {
	defer a.metrics.TagStateComputeDuration(p.Name()).ObserveDuration()

	s := EmptyTagState(a.id, p.Version())
	if latest == "" {
		return s, a.save(ctx, s)
	}

	incremental := cached != nil &&
		cached.ProjectorVersion == p.Version() &&
		cached.LastSortableID.IsEarlierThanOrEqual(latest)
	if incremental {
		s = *cached
	}

	events, err := a.store.ReadEventsByTag(ctx, a.id.Tag, s.LastSortableID)
	if err != nil {
		return TagState{}, storageError("read_tag_events", err)
	}

	folded := 0
	for _, ev := range events {
		if ev.SortableID.IsLaterThan(latest) {
			break
		}
		if ev.Payload == nil && a.types != nil {
			if ev, err = a.types.Decode(ev); err != nil {
				return TagState{}, err
			}
		}
		next, err := p.Project(s.Payload, ev)
		if err != nil {
			if KindOf(err) == KindSerialization {
				return TagState{}, err
			}
			return TagState{}, NewError(KindProjection, "tag_project", fmt.Errorf("%s at %s: %w", p.Name(), ev.SortableID, err))
		}
		s.Payload = next
		s.Version++
		s.LastSortableID = ev.SortableID
		folded++
	}

	a.log.Debug(
		"computed",
		slog.Bool("incremental", incremental),
		slog.Int("folded", folded),
		slog.Int("version", s.Version),
		slog.String("last_sortable_id", s.LastSortableID.String()),
	)

	return s, a.save(ctx, s)
}

func (a *TagStateActor) save(ctx context.Context, s TagState) error {
	return storageError("save_tag_state", a.persist.Save(ctx, s))
}

// Update replaces the cached state. The state must belong to this actor.
func (a *TagStateActor) Update(ctx context.Context, s TagState) error {
	if s.StateID() != a.id {
		return Errorf(KindValidation, "update_tag_state", "state %s does not belong to %s", s.StateID(), a.id)
	}
	return a.save(ctx, s)
}

// ClearCache drops the cached state; the next State call rebuilds it.
func (a *TagStateActor) ClearCache(ctx context.Context) error {
	return storageError("clear_tag_state", a.persist.Clear(ctx))
}

// StateAs returns the payload of the actor's state as T. An empty state
// yields the zero T.
func StateAs[T any](ctx context.Context, a *TagStateActor) (T, TagState, error) {
	var zero T
	s, err := a.State(ctx)
	if err != nil {
		return zero, s, err
	}
	out, _, err := PayloadAs[T](s)
	if err != nil {
		return zero, s, err
	}
	return out, s, nil
}
