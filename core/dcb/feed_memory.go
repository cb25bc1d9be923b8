package dcb

import (
	"context"
	"log/slog"
	"slices"
	"sync"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

// InMemoryFeed delivers published batches to every subscriber, in publish
// order per subscriber.
type InMemoryFeed struct {
	mu   sync.Mutex
	log  *slog.Logger
	subs map[string]*inMemorySubscription
}

func NewInMemoryFeed(log *slog.Logger) *InMemoryFeed {
	if log == nil {
		log = slog.Default()
	}
	return &InMemoryFeed{
		log:  log.With(slog.String("feed", "memory")),
		subs: map[string]*inMemorySubscription{},
	}
}

type inMemorySubscription struct {
	ch     chan []Event
	done   <-chan struct{}
	cancel context.CancelFunc
}

func (f *InMemoryFeed) Subscribe(ctx context.Context, h EventHandler) (func(), error) {
	ctx, cancel := context.WithCancel(ctx)
	subID := gonanoid.Must()
	sub := &inMemorySubscription{ch: make(chan []Event, 64), done: ctx.Done(), cancel: cancel}

	f.mu.Lock()
	f.subs[subID] = sub
	f.mu.Unlock()

	context.AfterFunc(ctx, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.subs, subID)
	})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case batch := <-sub.ch:
				if err := h(ctx, batch); err != nil {
					f.log.Error("subscriber failed", slog.String("sub", subID), slog.Any("error", err))
				}
			}
		}
	}()

	return cancel, nil
}

func (f *InMemoryFeed) Publish(ctx context.Context, events []Event) error {
	if len(events) == 0 {
		return nil
	}
	f.mu.Lock()
	subs := make([]*inMemorySubscription, 0, len(f.subs))
	for _, s := range f.subs {
		subs = append(subs, s)
	}
	f.mu.Unlock()

	f.log.Debug(
		"dispatching events",
		slog.Int("events", len(events)),
		slog.Int("subscriptions", len(subs)),
	)

	for _, s := range subs {
		select {
		case s.ch <- slices.Clone(events):
		case <-s.done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

var (
	_ EventPublisher  = (*InMemoryFeed)(nil)
	_ EventSubscriber = (*InMemoryFeed)(nil)
)
