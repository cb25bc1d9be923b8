// Package prometheus provides Prometheus implementations of the dcb and
// projection metrics interfaces.
package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/dcb-go/core/metrics"
)

// newTimer observes the elapsed time in seconds on h.
func newTimer(h prometheus.Observer) metrics.Timer {
	return metrics.StartTimer(func(d time.Duration) { h.Observe(d.Seconds()) })
}

// Default histogram buckets for latency metrics (in seconds).
var defaultBuckets = []float64{
	.001, .0025, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10,
}

// Snapshot payloads range from a few bytes to the offload threshold and beyond.
var sizeBuckets = prometheus.ExponentialBuckets(256, 4, 10)

func boolToStr(b bool) string {
	if b {
		return "true"
	}
	return "false"
}

// AllMetrics holds the Prometheus implementations for the consistency engine
// and the multi projection actors.
type AllMetrics struct {
	DCB        *dcbMetrics
	Projection *projectionMetrics
}

// NewAllMetrics registers every metric family on reg.
func NewAllMetrics(reg prometheus.Registerer) *AllMetrics {
	return &AllMetrics{
		DCB:        NewDCBMetrics(reg).(*dcbMetrics),
		Projection: NewProjectionMetrics(reg).(*projectionMetrics),
	}
}
