package dcb

import (
	"context"
	"log/slog"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"

	"github.com/codewandler/dcb-go/core/suid"
	"github.com/codewandler/dcb-go/core/tag"
)

const DefaultReservationTTL = 30 * time.Second

// Reservation grants its holder the right to write a tag whose position was
// Expected when it was taken.
type Reservation struct {
	Code      string
	Tag       tag.Tag
	Expected  suid.ID
	ExpiresAt time.Time
}

type tagConsistentOpts struct {
	log *slog.Logger
	ttl time.Duration
	now func() time.Time
}

type TagConsistentOption func(*tagConsistentOpts)

func WithTagConsistentLogger(log *slog.Logger) TagConsistentOption {
	return func(o *tagConsistentOpts) { o.log = log }
}

func WithReservationTTL(ttl time.Duration) TagConsistentOption {
	return func(o *tagConsistentOpts) {
		if ttl > 0 {
			o.ttl = ttl
		}
	}
}

func WithTagConsistentClock(now func() time.Time) TagConsistentOption {
	return func(o *tagConsistentOpts) { o.now = now }
}

// TagConsistentActor tracks the latest position of one tag and hands out
// write reservations against it.
//
// The position is loaded lazily from the store. A confirmed write moves it
// to the written position directly; an invalidation makes the next use load
// it again.
type TagConsistentActor struct {
	tag   tag.Tag
	store EventStore
	opts  tagConsistentOpts
	log   *slog.Logger

	catchUpMu sync.Mutex

	mu           sync.RWMutex
	caughtUp     bool
	epoch        uint64 // bumped on every invalidation
	latest       suid.ID
	reservations map[string]Reservation
}

func NewTagConsistentActor(t tag.Tag, store EventStore, opts ...TagConsistentOption) *TagConsistentActor {
	o := tagConsistentOpts{
		log: slog.Default(),
		ttl: DefaultReservationTTL,
		now: time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return &TagConsistentActor{
		tag:          t,
		store:        store,
		opts:         o,
		log:          o.log.With(slog.String("actor", "tag_consistent"), slog.String("tag", t.String())),
		reservations: map[string]Reservation{},
	}
}

func (a *TagConsistentActor) Tag() tag.Tag { return a.tag }

func (a *TagConsistentActor) ensureCaughtUp(ctx context.Context) error {
	a.mu.RLock()
	done := a.caughtUp
	a.mu.RUnlock()
	if done {
		return nil
	}

	a.catchUpMu.Lock()
	defer a.catchUpMu.Unlock()

	a.mu.RLock()
	done = a.caughtUp
	epoch := a.epoch
	a.mu.RUnlock()
	if done || a.store == nil {
		return nil
	}

	latest, err := a.store.LatestTagPosition(ctx, a.tag)
	if err != nil {
		a.log.Error("catch up failed", slog.Any("error", err))
		return storageError("tag_catch_up", err)
	}

	a.mu.Lock()
	if latest.IsLaterThan(a.latest) {
		a.latest = latest
	}
	// an invalidation during the read may stand for a write it missed
	a.caughtUp = a.epoch == epoch
	a.mu.Unlock()

	a.log.Debug("caught up", slog.String("latest", latest.String()))
	return nil
}

// LatestSortableID returns the position of the last event written to the tag,
// or the empty id when it was never written.
func (a *TagConsistentActor) LatestSortableID(ctx context.Context) (suid.ID, error) {
	if err := a.ensureCaughtUp(ctx); err != nil {
		return "", err
	}
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.latest, nil
}

// Reserve fails with ErrConflict when expected is not the current position
// or when another unexpired reservation is held.
func (a *TagConsistentActor) Reserve(ctx context.Context, expected suid.ID) (Reservation, error) {
	// A write may invalidate the position between catch-up and the lock, so
	// the check repeats under the lock until the position is known.
	for {
		if err := a.ensureCaughtUp(ctx); err != nil {
			return Reservation{}, err
		}
		a.mu.Lock()
		if a.caughtUp || a.store == nil {
			break
		}
		a.mu.Unlock()
	}
	defer a.mu.Unlock()

	now := a.opts.now()
	a.expireLocked(now)

	if len(a.reservations) > 0 {
		return Reservation{}, Errorf(KindConflict, "reserve", "tag %s is reserved", a.tag)
	}
	if expected != a.latest {
		return Reservation{}, Errorf(
			KindConflict, "reserve",
			"tag %s moved: expected %q, current %q", a.tag, expected, a.latest,
		)
	}

	r := Reservation{
		Code:      gonanoid.Must(),
		Tag:       a.tag,
		Expected:  expected,
		ExpiresAt: now.Add(a.opts.ttl),
	}
	a.reservations[r.Code] = r
	return r, nil
}

// Confirm releases r after its write succeeded and moves the position to
// written in the same step, so no reservation can be granted against the
// position the write replaced. An empty written forces a reload from the
// store instead. It reports false for unknown or expired reservations.
func (a *TagConsistentActor) Confirm(_ context.Context, r Reservation, written suid.ID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	held, ok := a.reservations[r.Code]
	if !ok || held != r {
		return false
	}
	delete(a.reservations, r.Code)
	switch {
	case written == "":
		a.invalidateLocked()
	case written.IsLaterThan(a.latest):
		a.latest = written
	}
	return true
}

// Cancel releases r without a write.
func (a *TagConsistentActor) Cancel(_ context.Context, r Reservation) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.reservations[r.Code]; !ok {
		return false
	}
	delete(a.reservations, r.Code)
	return true
}

// NotifyEventWritten records a write that bypassed reservations. Passing the
// empty id forces the next read to reload the position from the store.
func (a *TagConsistentActor) NotifyEventWritten(id suid.ID) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if id == "" {
		a.invalidateLocked()
		return
	}
	if id.IsLaterThan(a.latest) {
		a.latest = id
	}
}

func (a *TagConsistentActor) invalidateLocked() {
	a.caughtUp = false
	a.epoch++
}

func (a *TagConsistentActor) ActiveReservations() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.expireLocked(a.opts.now())
	return len(a.reservations)
}

func (a *TagConsistentActor) expireLocked(now time.Time) {
	for code, r := range a.reservations {
		if !now.Before(r.ExpiresAt) {
			a.log.Warn("reservation expired", slog.String("code", code))
			delete(a.reservations, code)
		}
	}
}
