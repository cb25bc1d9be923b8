package projection

import (
	"math"
	"time"
)

// LagStatistics tracks how far behind live events arrive. It lives only in
// memory and starts over after a restart.
type LagStatistics struct {
	// ObservedLagEmaMs is the moving average of batch lag at LastUpdateTime.
	ObservedLagEmaMs float64
	LastBatchLagMs   float64
	LastUpdateTime   time.Time
	Batches          int
}

// decayed returns the average at now, reduced by decayPerSec milliseconds
// for every second since the last update.
func (l LagStatistics) decayed(now time.Time, decayPerSec float64) float64 {
	if l.LastUpdateTime.IsZero() {
		return l.ObservedLagEmaMs
	}
	elapsed := now.Sub(l.LastUpdateTime).Seconds()
	if elapsed <= 0 {
		return l.ObservedLagEmaMs
	}
	return math.Max(0, l.ObservedLagEmaMs-decayPerSec*elapsed)
}

// observe folds one batch lag into the average. The batch is represented by
// its largest lag.
func (l LagStatistics) observe(now time.Time, batchLagMs, alpha, decayPerSec float64) LagStatistics {
	prev := l.decayed(now, decayPerSec)
	if l.Batches == 0 {
		prev = 0
	}
	return LagStatistics{
		ObservedLagEmaMs: alpha*batchLagMs + (1-alpha)*prev,
		LastBatchLagMs:   batchLagMs,
		LastUpdateTime:   now,
		Batches:          l.Batches + 1,
	}
}

// effectiveWindow is the base window, widened by the decayed lag when the
// dynamic window is enabled.
func effectiveWindow(o Options, lag LagStatistics, now time.Time) time.Duration {
	if !o.EnableDynamicSafeWindow {
		return o.SafeWindow
	}
	extraMs := math.Min(float64(o.MaxExtraSafeWindow.Milliseconds()), lag.decayed(now, o.LagDecayPerSecond))
	return o.SafeWindow + time.Duration(extraMs*float64(time.Millisecond))
}
