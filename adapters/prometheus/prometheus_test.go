package prometheus

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gatheredNames(t *testing.T, reg *prometheus.Registry) map[string]bool {
	t.Helper()
	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)

	names := make(map[string]bool)
	for _, mf := range mfs {
		names[mf.GetName()] = true
	}
	return names
}

func TestNewDCBMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewDCBMetrics(reg)

	require.NotNil(t, m)

	// Test executor
	timer := m.CommandDuration()
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.CommandConflict()
	m.EventsWritten(3)
	m.EventsWritten(2)

	// Test tag states
	timer = m.TagStateComputeDuration("balance")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.TagStateCacheHit("balance")
	m.TagStateCacheMiss("balance")
	m.TagStateShared("balance")
	m.TagStateShared("balance")

	names := gatheredNames(t, reg)
	assert.True(t, names["dcb_command_duration_seconds"])
	assert.True(t, names["dcb_command_conflicts_total"])
	assert.True(t, names["dcb_events_written_total"])
	assert.True(t, names["dcb_tag_state_compute_duration_seconds"])
	assert.True(t, names["dcb_tag_state_cache_hits_total"])
	assert.True(t, names["dcb_tag_state_cache_misses_total"])
	assert.True(t, names["dcb_tag_state_shared_total"])

	dm := m.(*dcbMetrics)
	assert.Equal(t, float64(5), testutil.ToFloat64(dm.eventsWritten))
	assert.Equal(t, float64(2), testutil.ToFloat64(dm.tagStateShared.WithLabelValues("balance")))
}

func TestNewProjectionMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewProjectionMetrics(reg)

	require.NotNil(t, m)

	timer := m.FoldDuration("catalog")
	assert.NotNil(t, timer)
	timer.ObserveDuration()

	m.EventsFolded("catalog", 4)
	m.BufferedEvents("catalog", 7)
	m.BufferedEvents("catalog", 2)
	m.EffectiveSafeWindow("catalog", 12*time.Second)
	m.SnapshotSize("catalog", 100, false)
	m.SnapshotSize("catalog", 2_000_000, true)
	m.LateEvent("catalog", false)
	m.LateEvent("catalog", true)
	m.LateEvent("catalog", false)

	names := gatheredNames(t, reg)
	assert.True(t, names["dcb_projection_fold_duration_seconds"])
	assert.True(t, names["dcb_projection_events_folded_total"])
	assert.True(t, names["dcb_projection_buffered_events"])
	assert.True(t, names["dcb_projection_effective_safe_window_seconds"])
	assert.True(t, names["dcb_projection_snapshot_size_bytes"])
	assert.True(t, names["dcb_projection_snapshot_offloads_total"])
	assert.True(t, names["dcb_projection_late_events_total"])

	pm := m.(*projectionMetrics)
	assert.Equal(t, float64(2), testutil.ToFloat64(pm.bufferedEvents.WithLabelValues("catalog")))
	assert.Equal(t, float64(12), testutil.ToFloat64(pm.effectiveSafeWindow.WithLabelValues("catalog")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.snapshotOffloads.WithLabelValues("catalog")))
	assert.Equal(t, float64(2), testutil.ToFloat64(pm.lateEvents.WithLabelValues("catalog", "false")))
	assert.Equal(t, float64(1), testutil.ToFloat64(pm.lateEvents.WithLabelValues("catalog", "true")))
}

func TestNewAllMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewAllMetrics(reg)

	require.NotNil(t, m)
	require.NotNil(t, m.DCB)
	require.NotNil(t, m.Projection)

	m.DCB.CommandConflict()
	m.Projection.EventsFolded("catalog", 1)

	mfs, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, mfs)
}

func TestBoolToStr(t *testing.T) {
	assert.Equal(t, "true", boolToStr(true))
	assert.Equal(t, "false", boolToStr(false))
}
