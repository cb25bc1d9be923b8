// Package metrics holds the instrument types the core packages report
// through, so dcb and projection stay independent of any metrics backend.
// adapters/prometheus is the backend shipped with this module.
package metrics

import "time"

// Timer measures one operation. It starts when it is created; ObserveDuration
// records the time elapsed since then.
//
//	defer m.FoldDuration("ledger").ObserveDuration()
type Timer interface {
	ObserveDuration()
}

type funcTimer struct {
	start   time.Time
	observe func(time.Duration)
}

func (t funcTimer) ObserveDuration() { t.observe(time.Since(t.start)) }

// StartTimer starts a Timer that hands the elapsed time to observe.
func StartTimer(observe func(time.Duration)) Timer {
	return funcTimer{start: time.Now(), observe: observe}
}

type nopTimer struct{}

func (nopTimer) ObserveDuration() {}

// NopTimer returns a Timer that records nothing.
func NopTimer() Timer { return nopTimer{} }
