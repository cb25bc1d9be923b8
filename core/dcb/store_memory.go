package dcb

import (
	"context"
	"log/slog"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

// InMemoryStore is a simple, correct store for tests and dev.
type InMemoryStore struct {
	mu     sync.RWMutex
	log    *slog.Logger
	now    func() time.Time
	events []Event
	byID   map[uuid.UUID]Event
	byTag  map[string][]Event
}

type StoreOption func(*InMemoryStore)

func WithStoreLogger(log *slog.Logger) StoreOption {
	return func(s *InMemoryStore) { s.log = log.With(slog.String("store", "memory")) }
}

func WithStoreClock(now func() time.Time) StoreOption {
	return func(s *InMemoryStore) { s.now = now }
}

func NewInMemoryStore(opts ...StoreOption) *InMemoryStore {
	s := &InMemoryStore{
		log:   slog.Default().With(slog.String("store", "memory")),
		now:   time.Now,
		byID:  map[uuid.UUID]Event{},
		byTag: map[string][]Event{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func insertSorted(list []Event, ev Event) []Event {
	i := sort.Search(len(list), func(i int) bool { return list[i].SortableID >= ev.SortableID })
	return slices.Insert(list, i, ev)
}

// after returns the suffix of the sorted list strictly after since.
func after(list []Event, since suid.ID) []Event {
	if since == "" {
		return slices.Clone(list)
	}
	i := sort.Search(len(list), func(i int) bool { return list[i].SortableID > since })
	return slices.Clone(list[i:])
}

func (s *InMemoryStore) ReadAllEvents(ctx context.Context, since suid.ID) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return after(s.events, since), nil
}

func (s *InMemoryStore) ReadAllEventsLimit(ctx context.Context, since suid.ID, limit int) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	i := sort.Search(len(s.events), func(i int) bool { return s.events[i].SortableID > since })
	return slices.Clone(s.events[i:min(i+limit, len(s.events))]), nil
}

func (s *InMemoryStore) ReadEventsByTag(ctx context.Context, t tag.Tag, since suid.ID) ([]Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return after(s.byTag[t.String()], since), nil
}

func (s *InMemoryStore) ReadEvent(ctx context.Context, id uuid.UUID) (Event, error) {
	if err := ctx.Err(); err != nil {
		return Event{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	ev, ok := s.byID[id]
	if !ok {
		return Event{}, Errorf(KindNotFound, "read_event", "event %s", id)
	}
	return ev, nil
}

func (s *InMemoryStore) LatestTagPosition(ctx context.Context, t tag.Tag) (suid.ID, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	list := s.byTag[t.String()]
	if len(list) == 0 {
		return "", nil
	}
	return list[len(list)-1].SortableID, nil
}

func (s *InMemoryStore) WriteEvents(ctx context.Context, events []Event) (*WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := ValidateBatch(events); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, ev := range events {
		if _, exists := s.byID[ev.ID]; exists {
			return nil, Errorf(KindConflict, "write_events", "event %s already written", ev.ID)
		}
	}

	written := make([]Event, 0, len(events))
	for _, ev := range events {
		ev.Tags = slices.Clone(ev.Tags)
		s.events = insertSorted(s.events, ev)
		s.byID[ev.ID] = ev
		for _, t := range ev.Tags {
			s.byTag[t] = insertSorted(s.byTag[t], ev)
		}
		written = append(written, ev)
	}

	s.log.Debug(
		"write",
		slog.Int("num_events", len(written)),
		slog.String("last_sortable_id", written[len(written)-1].SortableID.String()),
	)

	return &WriteResult{Events: written, Tags: TagResults(written, s.now())}, nil
}

var (
	_ EventStore       = (*InMemoryStore)(nil)
	_ PagedEventReader = (*InMemoryStore)(nil)
)
