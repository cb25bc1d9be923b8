package dcb

import (
	"context"
	"log/slog"
	"slices"
	"time"

	"github.com/google/uuid"

	"github.com/codewandler/dcb-go/core/ds"
	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

type executorOpts struct {
	log       *slog.Logger
	metrics   Metrics
	publisher EventPublisher
	now       func() time.Time
}

type ExecutorOption func(*executorOpts)

func WithExecutorLogger(log *slog.Logger) ExecutorOption {
	return func(o *executorOpts) { o.log = log }
}

func WithExecutorMetrics(m Metrics) ExecutorOption {
	return func(o *executorOpts) { o.metrics = m }
}

// WithPublisher forwards every written batch. Publish failures are logged;
// the events are already durable at that point.
func WithPublisher(p EventPublisher) ExecutorOption {
	return func(o *executorOpts) { o.publisher = p }
}

func WithExecutorClock(now func() time.Time) ExecutorOption {
	return func(o *executorOpts) { o.now = now }
}

type ExecutionResult struct {
	Events    []Event
	TagWrites []TagWriteResult
	// SortableID is the position of the last written event, empty when the
	// handler appended nothing.
	SortableID suid.ID
}

// Executor runs command handlers and writes their events with tag level
// optimistic concurrency.
type Executor struct {
	host *Host
	gen  *suid.Generator
	opts executorOpts
	log  *slog.Logger
}

func NewExecutor(host *Host, opts ...ExecutorOption) *Executor {
	o := executorOpts{
		log:     slog.Default(),
		metrics: host.Metrics(),
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &Executor{
		host: host,
		gen:  suid.NewGenerator(o.now),
		opts: o,
		log:  o.log.With(slog.String("component", "executor")),
	}
}

// Execute runs h and writes what it appended. Every consistency tag is
// reserved at the position the handler observed, or at its current position
// when the handler never read it. Any reservation failure cancels the others
// and returns ErrConflict without writing.
func (e *Executor) Execute(ctx context.Context, h CommandHandler) (*ExecutionResult, error) {
	defer e.opts.metrics.CommandDuration().ObserveDuration()

	cc := newCommandContext(e.host)
	if err := h(ctx, cc); err != nil {
		return nil, err
	}

	appended := cc.Appended()
	if len(appended) == 0 {
		return &ExecutionResult{}, nil
	}

	consistency := ds.NewSet[string]()
	tags := map[string]tag.Tag{}
	for _, a := range appended {
		if a.Payload == nil {
			return nil, Errorf(KindValidation, "execute", "appended event has no payload")
		}
		if len(a.Tags)+len(a.ReferenceTags) == 0 {
			return nil, Errorf(KindValidation, "execute", "event %s has no tags", EventTypeOf(a.Payload))
		}
		for _, t := range slices.Concat(a.Tags, a.ReferenceTags) {
			if err := t.Validate(); err != nil {
				return nil, NewError(KindValidation, "execute", err)
			}
			tags[t.String()] = t
		}
		for _, t := range a.Tags {
			consistency.Add(t.String())
		}
	}

	reservations, err := e.reserve(ctx, cc, consistency.Values(), tags)
	if err != nil {
		if KindOf(err) == KindConflict {
			e.opts.metrics.CommandConflict()
		}
		return nil, err
	}

	events := make([]Event, 0, len(appended))
	for _, a := range appended {
		ev := Event{
			ID:         uuid.New(),
			SortableID: e.gen.Next(),
			Type:       EventTypeOf(a.Payload),
			Tags:       a.allTags(),
			Metadata:   a.Metadata,
			Payload:    a.Payload,
		}
		if ev, err = Encode(ev); err != nil {
			e.cancel(ctx, reservations)
			return nil, err
		}
		events = append(events, ev)
	}

	res, err := e.host.Store().WriteEvents(ctx, events)
	if err != nil {
		e.cancel(ctx, reservations)
		return nil, storageError("write_events", err)
	}

	written := make(map[string]suid.ID, len(res.Tags))
	for _, tw := range res.Tags {
		written[tw.Tag] = tw.LastSortableID
	}
	for _, r := range reservations {
		e.host.TagConsistent(r.Tag).Confirm(ctx, r, written[r.Tag.String()])
	}
	for _, tw := range res.Tags {
		e.host.TagConsistent(tags[tw.Tag]).NotifyEventWritten(tw.LastSortableID)
	}

	e.opts.metrics.EventsWritten(len(res.Events))
	last := res.Events[len(res.Events)-1].SortableID

	e.log.Debug(
		"executed",
		slog.Int("events", len(res.Events)),
		slog.Int("tags", len(res.Tags)),
		slog.String("sortable_id", last.String()),
	)

	if e.opts.publisher != nil {
		if err := e.opts.publisher.Publish(ctx, res.Events); err != nil {
			e.log.Error("publish failed", slog.String("sortable_id", last.String()), slog.Any("error", err))
		}
	}

	return &ExecutionResult{Events: res.Events, TagWrites: res.Tags, SortableID: last}, nil
}

// reserve takes reservations in sorted tag order so concurrent commands over
// overlapping tags fail fast instead of interleaving.
func (e *Executor) reserve(ctx context.Context, cc *CommandContext, keys []string, tags map[string]tag.Tag) ([]Reservation, error) {
	slices.Sort(keys)
	out := make([]Reservation, 0, len(keys))
	for _, key := range keys {
		t := tags[key]
		actor := e.host.TagConsistent(t)

		expected, ok := cc.observedPosition(t)
		if !ok {
			var err error
			if expected, err = actor.LatestSortableID(ctx); err != nil {
				e.cancel(ctx, out)
				return nil, err
			}
		}

		r, err := actor.Reserve(ctx, expected)
		if err != nil {
			e.log.Debug("reservation failed", slog.String("tag", key), slog.Any("error", err))
			e.cancel(ctx, out)
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func (e *Executor) cancel(ctx context.Context, reservations []Reservation) {
	for _, r := range reservations {
		e.host.TagConsistent(r.Tag).Cancel(ctx, r)
	}
}
