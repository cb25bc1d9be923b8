package projection

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/suid"
)

type Phase int

const (
	PhaseUninitialized Phase = iota
	PhaseCatchingUp
	PhaseLive
)

func (p Phase) String() string {
	switch p {
	case PhaseCatchingUp:
		return "catching_up"
	case PhaseLive:
		return "live"
	default:
		return "uninitialized"
	}
}

// Source says where a batch came from. Only stream batches feed the lag
// statistics.
type Source int

const (
	SourceStore Source = iota
	SourceStream
)

func (s Source) String() string {
	if s == SourceStream {
		return "stream"
	}
	return "store"
}

// State is a folded payload with the position it covers.
type State struct {
	Payload             any
	ProjectorName       string
	ProjectorVersion    string
	Version             int
	LastSortableID      suid.ID
	SafeWindowThreshold suid.ID
	// IsSafe is false when buffered events above the threshold were folded
	// into Payload.
	IsSafe bool
}

// Actor maintains one multi projection over the global stream.
//
// Events are buffered in position order. Events at or below the safe
// threshold are folded into the cached safe payload on read; anything newer
// stays buffered and is only folded into throwaway unsafe states, since a
// late event could still be inserted before it.
//
// An event that still shows up at or below the safe cursor is folded into
// the safe payload once, out of order, as long as its position lies within
// the late event horizon. Folded positions inside the horizon are kept so
// re-deliveries are recognized.
type Actor struct {
	projector Projector
	opts      actorOpts
	log       *slog.Logger

	mu          sync.Mutex
	phase       Phase
	buffer      []dcb.Event
	buffered    map[suid.ID]struct{}
	safePayload any
	safeCursor  suid.ID
	safeVersion int
	unsafeLast  suid.ID
	lag         LagStatistics
	folded      []suid.ID // ascending, above foldedFloor
	foldedFloor suid.ID
	restored    suid.ID
}

func NewActor(p Projector, opts ...Option) (*Actor, error) {
	o := actorOpts{
		Options: DefaultOptions(),
		now:     time.Now,
		log:     slog.Default(),
		metrics: NopMetrics(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.Validate(); err != nil {
		return nil, err
	}
	return &Actor{
		projector:   p,
		opts:        o,
		log:         o.log.With(slog.String("actor", "projection"), slog.String("projector", p.Name())),
		buffered:    map[suid.ID]struct{}{},
		safePayload: p.Initial(),
	}, nil
}

func (a *Actor) Projector() Projector { return a.projector }

// AddEvents merges events into the buffer. Positions already buffered or
// already folded into the safe state are ignored, so batches may overlap and
// arrive from the store and the stream concurrently. Unseen events below the
// safe cursor are folded straight into the safe state.
func (a *Actor) AddEvents(ctx context.Context, events []dcb.Event, finishedCatchUp bool, source Source) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	batch := make([]dcb.Event, 0, len(events))
	for _, ev := range events {
		if err := ev.SortableID.Validate(); err != nil {
			return dcb.NewError(dcb.KindValidation, "add_events", err)
		}
		if ev.Payload == nil && a.opts.types != nil {
			var err error
			if ev, err = a.opts.types.Decode(ev); err != nil {
				return err
			}
		}
		batch = append(batch, ev)
	}

	now := a.opts.now()

	a.mu.Lock()
	defer a.mu.Unlock()

	if a.phase == PhaseUninitialized {
		a.phase = PhaseCatchingUp
	}

	var late []dcb.Event
	added := 0
	for _, ev := range batch {
		if ev.SortableID.IsEarlierThanOrEqual(a.safeCursor) {
			late = append(late, ev)
			continue
		}
		if _, ok := a.buffered[ev.SortableID]; ok {
			continue
		}
		a.buffer = append(a.buffer, ev)
		a.buffered[ev.SortableID] = struct{}{}
		if ev.SortableID.IsLaterThan(a.unsafeLast) {
			a.unsafeLast = ev.SortableID
		}
		added++
	}
	if added > 0 {
		slices.SortFunc(a.buffer, func(x, y dcb.Event) int { return suid.Compare(x.SortableID, y.SortableID) })
	}
	for _, ev := range late {
		if err := a.foldLateLocked(ctx, now, ev); err != nil {
			return err
		}
	}

	if source == SourceStream && a.opts.EnableDynamicSafeWindow && len(batch) > 0 {
		a.observeLagLocked(now, batch)
	}

	if finishedCatchUp && a.phase != PhaseLive {
		a.phase = PhaseLive
		a.log.Info("live", slog.Int("buffered", len(a.buffer)), slog.String("cursor", a.safeCursor.String()))
	}

	a.opts.metrics.BufferedEvents(a.projector.Name(), len(a.buffer))
	return nil
}

// foldLateLocked handles an event at or below the safe cursor. Positions
// covered by a restored snapshot or remembered as folded are re-deliveries.
// Unknown ones inside the horizon are folded into the safe payload without
// moving the cursor.
func (a *Actor) foldLateLocked(ctx context.Context, now time.Time, ev dcb.Event) error {
	name := a.projector.Name()
	if ev.SortableID.IsEarlierThanOrEqual(a.restored) {
		return nil
	}
	if ev.SortableID.IsEarlierThanOrEqual(a.foldedFloor) {
		// Could be a re-delivery as well; nothing left to tell them apart.
		a.opts.metrics.LateEvent(name, true)
		a.log.Warn(
			"dropped event behind late event horizon",
			slog.String("sortable_id", ev.SortableID.String()),
			slog.String("type", ev.Type),
			slog.String("floor", a.foldedFloor.String()),
		)
		return nil
	}
	i, seen := slices.BinarySearchFunc(a.folded, ev.SortableID, suid.Compare)
	if seen {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	next, err := a.projector.Project(a.safePayload, ev, a.thresholdLocked(now))
	if err != nil {
		return projectionError(name, ev, err)
	}
	a.safePayload = next
	a.safeVersion++
	a.folded = slices.Insert(a.folded, i, ev.SortableID)

	a.opts.metrics.LateEvent(name, false)
	a.log.Warn(
		"folded late event below safe cursor",
		slog.String("sortable_id", ev.SortableID.String()),
		slog.String("type", ev.Type),
		slog.String("cursor", a.safeCursor.String()),
	)
	return nil
}

// forgetFoldedLocked drops remembered positions that fell behind the horizon
// measured from the safe cursor.
func (a *Actor) forgetFoldedLocked() {
	if a.opts.LateEventHorizon == 0 || len(a.folded) == 0 {
		return
	}
	at, err := a.safeCursor.Time()
	if err != nil {
		return
	}
	cutoff := suid.Min(at.Add(-a.opts.LateEventHorizon))
	n, _ := slices.BinarySearchFunc(a.folded, cutoff, suid.Compare)
	if n == 0 {
		return
	}
	a.foldedFloor = a.folded[n-1]
	a.folded = slices.Delete(a.folded, 0, n)
}

func (a *Actor) observeLagLocked(now time.Time, batch []dcb.Event) {
	var batchMax float64
	for _, ev := range batch {
		t, err := ev.Time()
		if err != nil {
			continue
		}
		if lag := float64(now.Sub(t)) / float64(time.Millisecond); lag > batchMax {
			batchMax = lag
		}
	}
	a.lag = a.lag.observe(now, batchMax, a.opts.LagEmaAlpha, a.opts.LagDecayPerSecond)

	window := effectiveWindow(a.opts.Options, a.lag, now)
	a.opts.metrics.EffectiveSafeWindow(a.projector.Name(), window)
	a.log.Debug(
		"lag observed",
		slog.Float64("batch_lag_ms", batchMax),
		slog.Float64("ema_ms", a.lag.ObservedLagEmaMs),
		slog.Duration("base_window", a.opts.SafeWindow),
		slog.Duration("effective_window", window),
	)
}

func (a *Actor) thresholdLocked(now time.Time) suid.ID {
	return suid.Min(now.Add(-effectiveWindow(a.opts.Options, a.lag, now)))
}

// promoteLocked folds buffered events up to threshold into the safe state.
// Every event is committed on its own, so an error or cancellation leaves
// the cursor at the last applied event.
func (a *Actor) promoteLocked(ctx context.Context, threshold suid.ID) error {
	if len(a.buffer) == 0 || a.buffer[0].SortableID.IsLaterThan(threshold) {
		return nil
	}

	name := a.projector.Name()
	defer a.opts.metrics.FoldDuration(name).ObserveDuration()

	folded := 0
	defer func() {
		a.buffer = slices.Delete(a.buffer, 0, folded)
		a.forgetFoldedLocked()
		a.opts.metrics.EventsFolded(name, folded)
		a.opts.metrics.BufferedEvents(name, len(a.buffer))
		a.log.Debug(
			"folded",
			slog.Int("events", folded),
			slog.Int("version", a.safeVersion),
			slog.String("cursor", a.safeCursor.String()),
			slog.String("threshold", threshold.String()),
		)
	}()

	for _, ev := range a.buffer {
		if ev.SortableID.IsLaterThan(threshold) {
			break
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		next, err := a.projector.Project(a.safePayload, ev, threshold)
		if err != nil {
			return projectionError(name, ev, err)
		}
		a.safePayload = next
		a.safeCursor = ev.SortableID
		a.safeVersion++
		a.folded = append(a.folded, ev.SortableID)
		delete(a.buffered, ev.SortableID)
		folded++
	}
	return nil
}

func projectionError(projector string, ev dcb.Event, err error) error {
	if dcb.KindOf(err) == dcb.KindSerialization {
		return err
	}
	return dcb.NewError(dcb.KindProjection, "fold", fmt.Errorf("%s at %s (%s): %w", projector, ev.SortableID, ev.Type, err))
}

func (a *Actor) safeStateLocked(threshold suid.ID) State {
	return State{
		Payload:             a.safePayload,
		ProjectorName:       a.projector.Name(),
		ProjectorVersion:    a.projector.Version(),
		Version:             a.safeVersion,
		LastSortableID:      a.safeCursor,
		SafeWindowThreshold: threshold,
		IsSafe:              true,
	}
}

// State returns the safe state after folding every buffered event at or
// below the current threshold.
func (a *Actor) State(ctx context.Context) (State, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	threshold := a.thresholdLocked(a.opts.now())
	if err := a.promoteLocked(ctx, threshold); err != nil {
		return State{}, err
	}
	return a.safeStateLocked(threshold), nil
}

// UnsafeState folds every buffered event onto a copy of the safe payload.
// The safe state itself only advances up to the threshold.
func (a *Actor) UnsafeState(ctx context.Context) (State, error) {
	a.mu.Lock()
	threshold := a.thresholdLocked(a.opts.now())
	if err := a.promoteLocked(ctx, threshold); err != nil {
		a.mu.Unlock()
		return State{}, err
	}
	out := a.safeStateLocked(threshold)
	pending := slices.Clone(a.buffer)
	a.mu.Unlock()

	if len(pending) == 0 {
		return out, nil
	}

	payload, err := a.projector.Clone(out.Payload)
	if err != nil {
		return State{}, err
	}
	for _, ev := range pending {
		if err := ctx.Err(); err != nil {
			return State{}, err
		}
		if payload, err = a.projector.Project(payload, ev, threshold); err != nil {
			return State{}, projectionError(a.projector.Name(), ev, err)
		}
	}

	out.Payload = payload
	out.Version += len(pending)
	out.LastSortableID = pending[len(pending)-1].SortableID
	out.IsSafe = false
	return out, nil
}

// PromoteBuffered folds what the current threshold allows.
func (a *Actor) PromoteBuffered(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.promoteLocked(ctx, a.thresholdLocked(a.opts.now()))
}

// PromoteAll folds the whole buffer into the safe state, regardless of the
// window. Used before shutdown or when the stream is known to be complete.
func (a *Actor) PromoteAll(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.promoteLocked(ctx, suid.Max)
}

// IsSortableIDReceived reports whether the actor has seen events up to id.
func (a *Actor) IsSortableIDReceived(id suid.ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return id != "" && id.IsEarlierThanOrEqual(a.unsafeLast)
}

func (a *Actor) Phase() Phase {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.phase
}

func (a *Actor) Lag() LagStatistics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.lag
}

// EffectiveSafeWindow is the window the next fold would use.
func (a *Actor) EffectiveSafeWindow() time.Duration {
	a.mu.Lock()
	defer a.mu.Unlock()
	return effectiveWindow(a.opts.Options, a.lag, a.opts.now())
}

func (a *Actor) SafeWindowThreshold() suid.ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.thresholdLocked(a.opts.now())
}

// LastSortableID is the safe cursor: the newest position folded into the
// safe state, or restored from a snapshot.
func (a *Actor) LastSortableID() suid.ID {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.safeCursor
}

func (a *Actor) BufferedCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.buffer)
}
