package prometheus

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/dcb-go/core/dcb"
	"github.com/codewandler/dcb-go/core/metrics"
)

// dcbMetrics implements dcb.Metrics using Prometheus.
type dcbMetrics struct {
	// Executor metrics
	commandDuration  prometheus.Histogram
	commandConflicts prometheus.Counter
	eventsWritten    prometheus.Counter

	// Tag state metrics
	tagStateComputeDuration *prometheus.HistogramVec
	tagStateCacheHits       *prometheus.CounterVec
	tagStateCacheMisses     *prometheus.CounterVec
	tagStateShared          *prometheus.CounterVec
}

// NewDCBMetrics creates a new Prometheus implementation of dcb.Metrics.
func NewDCBMetrics(reg prometheus.Registerer) dcb.Metrics {
	m := &dcbMetrics{
		commandDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "dcb_command_duration_seconds",
			Help:    "Command execution latency in seconds, retries included",
			Buckets: defaultBuckets,
		}),

		commandConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcb_command_conflicts_total",
			Help: "Total number of commands rejected by a consistency conflict",
		}),

		eventsWritten: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "dcb_events_written_total",
			Help: "Total number of events written by commands",
		}),

		tagStateComputeDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dcb_tag_state_compute_duration_seconds",
			Help:    "Tag state recompute latency in seconds",
			Buckets: defaultBuckets,
		}, []string{"projector"}),

		tagStateCacheHits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcb_tag_state_cache_hits_total",
			Help: "Total number of tag state reads served from the persistent cache",
		}, []string{"projector"}),

		tagStateCacheMisses: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcb_tag_state_cache_misses_total",
			Help: "Total number of tag state reads that needed a recompute",
		}, []string{"projector"}),

		tagStateShared: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcb_tag_state_shared_total",
			Help: "Total number of tag state reads joining an in-flight recompute",
		}, []string{"projector"}),
	}

	reg.MustRegister(
		m.commandDuration,
		m.commandConflicts,
		m.eventsWritten,
		m.tagStateComputeDuration,
		m.tagStateCacheHits,
		m.tagStateCacheMisses,
		m.tagStateShared,
	)

	return m
}

func (m *dcbMetrics) CommandDuration() metrics.Timer {
	return newTimer(m.commandDuration)
}

func (m *dcbMetrics) CommandConflict() {
	m.commandConflicts.Inc()
}

func (m *dcbMetrics) EventsWritten(count int) {
	m.eventsWritten.Add(float64(count))
}

func (m *dcbMetrics) TagStateComputeDuration(projector string) metrics.Timer {
	return newTimer(m.tagStateComputeDuration.WithLabelValues(projector))
}

func (m *dcbMetrics) TagStateCacheHit(projector string) {
	m.tagStateCacheHits.WithLabelValues(projector).Inc()
}

func (m *dcbMetrics) TagStateCacheMiss(projector string) {
	m.tagStateCacheMisses.WithLabelValues(projector).Inc()
}

func (m *dcbMetrics) TagStateShared(projector string) {
	m.tagStateShared.WithLabelValues(projector).Inc()
}

var _ dcb.Metrics = (*dcbMetrics)(nil)
