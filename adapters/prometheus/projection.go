package prometheus

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/codewandler/dcb-go/core/metrics"
	"github.com/codewandler/dcb-go/core/projection"
)

// projectionMetrics implements projection.Metrics using Prometheus.
type projectionMetrics struct {
	foldDuration        *prometheus.HistogramVec
	eventsFolded        *prometheus.CounterVec
	bufferedEvents      *prometheus.GaugeVec
	effectiveSafeWindow *prometheus.GaugeVec
	snapshotSize        *prometheus.HistogramVec
	snapshotOffloads    *prometheus.CounterVec
	lateEvents          *prometheus.CounterVec
}

// NewProjectionMetrics creates a new Prometheus implementation of
// projection.Metrics.
func NewProjectionMetrics(reg prometheus.Registerer) projection.Metrics {
	m := &projectionMetrics{
		foldDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dcb_projection_fold_duration_seconds",
			Help:    "Latency of folding one delivered batch in seconds",
			Buckets: defaultBuckets,
		}, []string{"projector"}),

		eventsFolded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcb_projection_events_folded_total",
			Help: "Total number of events folded into the unsafe state",
		}, []string{"projector"}),

		bufferedEvents: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dcb_projection_buffered_events",
			Help: "Events held back inside the safe window",
		}, []string{"projector"}),

		effectiveSafeWindow: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "dcb_projection_effective_safe_window_seconds",
			Help: "Current safe window including the lag extension",
		}, []string{"projector"}),

		snapshotSize: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "dcb_projection_snapshot_size_bytes",
			Help:    "Serialized size of built snapshots",
			Buckets: sizeBuckets,
		}, []string{"projector", "offloaded"}),

		snapshotOffloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcb_projection_snapshot_offloads_total",
			Help: "Total number of snapshots written to blob storage",
		}, []string{"projector"}),

		lateEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dcb_projection_late_events_total",
			Help: "Events that arrived below the safe cursor, folded or dropped",
		}, []string{"projector", "dropped"}),
	}

	reg.MustRegister(
		m.foldDuration,
		m.eventsFolded,
		m.bufferedEvents,
		m.effectiveSafeWindow,
		m.snapshotSize,
		m.snapshotOffloads,
		m.lateEvents,
	)

	return m
}

func (m *projectionMetrics) FoldDuration(projector string) metrics.Timer {
	return newTimer(m.foldDuration.WithLabelValues(projector))
}

func (m *projectionMetrics) EventsFolded(projector string, count int) {
	m.eventsFolded.WithLabelValues(projector).Add(float64(count))
}

func (m *projectionMetrics) BufferedEvents(projector string, count int) {
	m.bufferedEvents.WithLabelValues(projector).Set(float64(count))
}

func (m *projectionMetrics) EffectiveSafeWindow(projector string, window time.Duration) {
	m.effectiveSafeWindow.WithLabelValues(projector).Set(window.Seconds())
}

func (m *projectionMetrics) SnapshotSize(projector string, bytes int, offloaded bool) {
	m.snapshotSize.WithLabelValues(projector, boolToStr(offloaded)).Observe(float64(bytes))
	if offloaded {
		m.snapshotOffloads.WithLabelValues(projector).Inc()
	}
}

func (m *projectionMetrics) LateEvent(projector string, dropped bool) {
	m.lateEvents.WithLabelValues(projector, boolToStr(dropped)).Inc()
}

var _ projection.Metrics = (*projectionMetrics)(nil)
