package projection

import (
	"time"

	"github.com/codewandler/dcb-go/core/metrics"
)

// Metrics instruments multi projection actors.
type Metrics interface {
	FoldDuration(projector string) metrics.Timer
	EventsFolded(projector string, count int)
	BufferedEvents(projector string, count int)
	EffectiveSafeWindow(projector string, window time.Duration)
	SnapshotSize(projector string, bytes int, offloaded bool)
	// LateEvent counts an event that arrived below the safe cursor. dropped
	// is true when it fell behind the late event horizon.
	LateEvent(projector string, dropped bool)
}

type nopMetrics struct{}

func (nopMetrics) FoldDuration(string) metrics.Timer         { return metrics.NopTimer() }
func (nopMetrics) EventsFolded(string, int)                  {}
func (nopMetrics) BufferedEvents(string, int)                {}
func (nopMetrics) EffectiveSafeWindow(string, time.Duration) {}
func (nopMetrics) SnapshotSize(string, int, bool)            {}
func (nopMetrics) LateEvent(string, bool)                    {}

// NopMetrics returns a Metrics implementation that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }
