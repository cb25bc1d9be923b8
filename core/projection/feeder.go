package projection

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/perkey"
	"github.com/codewandler/dcb-go/core/suid"
)

const DefaultCatchUpBatchSize = 500

type feederOpts struct {
	log       *slog.Logger
	batchSize int
}

type FeederOption func(*feederOpts)

func WithFeederLogger(log *slog.Logger) FeederOption {
	return func(o *feederOpts) { o.log = log }
}

// WithCatchUpBatchSize sets how many store events are handed to the actors
// per AddEvents call during catch-up.
func WithCatchUpBatchSize(n int) FeederOption {
	return func(o *feederOpts) {
		if n > 0 {
			o.batchSize = n
		}
	}
}

// Feeder fans event batches out to registered actors. Batches for one actor
// are applied in dispatch order; different actors run in parallel.
type Feeder struct {
	opts  feederOpts
	log   *slog.Logger
	sched *perkey.Scheduler[string]

	mu     sync.RWMutex
	actors map[string]*Actor
}

func NewFeeder(opts ...FeederOption) *Feeder {
	o := feederOpts{log: slog.Default(), batchSize: DefaultCatchUpBatchSize}
	for _, opt := range opts {
		opt(&o)
	}
	return &Feeder{
		opts:   o,
		log:    o.log.With(slog.String("component", "feeder")),
		sched:  perkey.New[string](),
		actors: map[string]*Actor{},
	}
}

// Register adds a, replacing any actor of the same projector name.
func (f *Feeder) Register(a *Actor) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actors[a.Projector().Name()] = a
}

func (f *Feeder) Actor(projector string) (*Actor, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	a, ok := f.actors[projector]
	return a, ok
}

func (f *Feeder) snapshot() map[string]*Actor {
	f.mu.RLock()
	defer f.mu.RUnlock()
	out := make(map[string]*Actor, len(f.actors))
	for k, v := range f.actors {
		out[k] = v
	}
	return out
}

// Dispatch hands events to every actor and waits for all of them.
func (f *Feeder) Dispatch(ctx context.Context, events []dcb.Event, finishedCatchUp bool, source Source) error {
	g, ctx := errgroup.WithContext(ctx)
	for name, a := range f.snapshot() {
		g.Go(func() error {
			return f.sched.Do(ctx, name, func(ctx context.Context) error {
				return a.AddEvents(ctx, events, finishedCatchUp, source)
			})
		})
	}
	return g.Wait()
}

// CatchUp replays the store after since in pages of the batch size and marks
// every actor caught up with the last page. It returns the position of the
// last replayed event.
func (f *Feeder) CatchUp(ctx context.Context, store dcb.EventStore, since suid.ID) (suid.ID, error) {
	read := pageReader(store, f.opts.batchSize)
	last, total := since, 0
	for {
		batch, err := read(ctx, last)
		if err != nil {
			return last, dcb.StorageError("catch_up", err)
		}
		done := len(batch) < f.opts.batchSize
		if err := f.Dispatch(ctx, batch, done, SourceStore); err != nil {
			return last, err
		}
		if len(batch) > 0 {
			last = batch[len(batch)-1].SortableID
			total += len(batch)
		}
		if done {
			break
		}
	}

	f.log.Info("caught up", slog.Int("events", total), slog.String("since", since.String()), slog.String("last", last.String()))
	return last, nil
}

type readPage func(ctx context.Context, since suid.ID) ([]dcb.Event, error)

// pageReader bounds reads through dcb.PagedEventReader when the store has it.
// Other stores are read once and served from memory.
func pageReader(store dcb.EventStore, limit int) readPage {
	if p, ok := store.(dcb.PagedEventReader); ok {
		return func(ctx context.Context, since suid.ID) ([]dcb.Event, error) {
			return p.ReadAllEventsLimit(ctx, since, limit)
		}
	}
	var (
		rest   []dcb.Event
		loaded bool
	)
	return func(ctx context.Context, since suid.ID) ([]dcb.Event, error) {
		if !loaded {
			all, err := store.ReadAllEvents(ctx, since)
			if err != nil {
				return nil, err
			}
			rest, loaded = all, true
		}
		n := min(limit, len(rest))
		page := rest[:n]
		rest = rest[n:]
		return page, nil
	}
}

// ResumePosition is the lowest safe cursor of the registered actors, the
// point a replay has to start from so that none of them misses an event.
// It is empty when an actor has folded nothing yet.
func (f *Feeder) ResumePosition() suid.ID {
	var (
		pos   suid.ID
		first = true
	)
	for _, a := range f.snapshot() {
		cursor := a.LastSortableID()
		if first || cursor.IsEarlierThan(pos) {
			pos, first = cursor, false
		}
	}
	return pos
}

// Run subscribes to live events, replays the store from ResumePosition, and
// then keeps feeding live batches until ctx ends. Subscribing first leaves
// no gap between the replay and the stream; overlapping events are
// deduplicated by the actors.
func (f *Feeder) Run(ctx context.Context, store dcb.EventStore, sub dcb.EventSubscriber) error {
	cancel, err := sub.Subscribe(ctx, func(ctx context.Context, events []dcb.Event) error {
		return f.Dispatch(ctx, events, false, SourceStream)
	})
	if err != nil {
		return err
	}
	defer cancel()

	if _, err := f.CatchUp(ctx, store, f.ResumePosition()); err != nil {
		return err
	}

	<-ctx.Done()
	return nil
}

// Close rejects further dispatches once queued batches have been applied.
func (f *Feeder) Close() { f.sched.Close() }
