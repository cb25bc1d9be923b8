package dcb

import "github.com/codewandler/dcb-go/core/metrics"

// Metrics instruments command execution and tag state computation.
type Metrics interface {
	// Executor
	CommandDuration() metrics.Timer
	CommandConflict()
	EventsWritten(count int)

	// Tag states
	TagStateComputeDuration(projector string) metrics.Timer
	TagStateCacheHit(projector string)
	TagStateCacheMiss(projector string)
	TagStateShared(projector string)
}

type nopMetrics struct{}

func (nopMetrics) CommandDuration() metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) CommandConflict()               {}
func (nopMetrics) EventsWritten(int)              {}

func (nopMetrics) TagStateComputeDuration(string) metrics.Timer { return metrics.NopTimer() }
func (nopMetrics) TagStateCacheHit(string)                      {}
func (nopMetrics) TagStateCacheMiss(string)                     {}
func (nopMetrics) TagStateShared(string)                        {}

// NopMetrics returns a Metrics implementation that records nothing.
func NopMetrics() Metrics { return nopMetrics{} }
