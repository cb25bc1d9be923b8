package projection

import (
	"log/slog"
	"time"

	"github.com/codewandler/dcb-go/core/dcb"
)

// Options tune the safe window and the snapshot policy of an Actor.
type Options struct {
	// SafeWindow is the base distance behind now below which events are
	// considered final.
	SafeWindow time.Duration
	// EnableDynamicSafeWindow widens the window by the observed stream lag.
	EnableDynamicSafeWindow bool
	// MaxExtraSafeWindow caps the lag added to SafeWindow.
	MaxExtraSafeWindow time.Duration
	// LagEmaAlpha weighs the newest batch lag, in [0,1].
	LagEmaAlpha float64
	// LagDecayPerSecond is how many milliseconds of lag the average loses per
	// second without new observations.
	LagDecayPerSecond float64
	// SnapshotOffloadThresholdBytes is the compressed size above which
	// snapshots go to the blob accessor.
	SnapshotOffloadThresholdBytes int
	// MaxSnapshotSizeBytes rejects larger inline snapshot records. Zero
	// disables the limit.
	MaxSnapshotSizeBytes int
	// LateEventHorizon is how far behind the safe cursor folded positions are
	// remembered. A late event inside the horizon is folded once; older ones
	// cannot be told apart from re-deliveries and are dropped with a warning.
	// Zero remembers every folded position.
	LateEventHorizon time.Duration
}

func DefaultOptions() Options {
	return Options{
		SafeWindow:                    5 * time.Second,
		MaxExtraSafeWindow:            30 * time.Second,
		LagEmaAlpha:                   0.3,
		LagDecayPerSecond:             1000,
		SnapshotOffloadThresholdBytes: 1_000_000,
		LateEventHorizon:              10 * time.Minute,
	}
}

func (o Options) Validate() error {
	switch {
	case o.SafeWindow < 0:
		return dcb.Errorf(dcb.KindValidation, "options", "negative safe window %s", o.SafeWindow)
	case o.MaxExtraSafeWindow < 0:
		return dcb.Errorf(dcb.KindValidation, "options", "negative max extra safe window %s", o.MaxExtraSafeWindow)
	case o.LagEmaAlpha < 0 || o.LagEmaAlpha > 1:
		return dcb.Errorf(dcb.KindValidation, "options", "lag ema alpha %v outside [0,1]", o.LagEmaAlpha)
	case o.LagDecayPerSecond < 0:
		return dcb.Errorf(dcb.KindValidation, "options", "negative lag decay %v", o.LagDecayPerSecond)
	case o.LateEventHorizon < 0:
		return dcb.Errorf(dcb.KindValidation, "options", "negative late event horizon %s", o.LateEventHorizon)
	case o.SnapshotOffloadThresholdBytes < 0 || o.MaxSnapshotSizeBytes < 0:
		return dcb.Errorf(dcb.KindValidation, "options", "negative snapshot size limit")
	}
	return nil
}

type actorOpts struct {
	Options
	blob    BlobAccessor
	types   *dcb.EventTypes
	now     func() time.Time
	log     *slog.Logger
	metrics Metrics
}

type Option func(*actorOpts)

func WithOptions(o Options) Option {
	return func(a *actorOpts) { a.Options = o }
}

// WithBlobAccessor enables offloading of large snapshots.
func WithBlobAccessor(b BlobAccessor) Option {
	return func(a *actorOpts) { a.blob = b }
}

// WithEventTypes decodes events that arrive without a payload.
func WithEventTypes(types *dcb.EventTypes) Option {
	return func(a *actorOpts) { a.types = types }
}

func WithClock(now func() time.Time) Option {
	return func(a *actorOpts) { a.now = now }
}

func WithLogger(log *slog.Logger) Option {
	return func(a *actorOpts) { a.log = log }
}

func WithMetrics(m Metrics) Option {
	return func(a *actorOpts) { a.metrics = m }
}
