// Package metrics tracks throughput for one search run: a monotonic
// count of hashes processed plus the wall-clock window they were
// processed in. Callers own an instance and thread it explicitly
// through the scheduler rather than reaching into a package-level
// singleton -- the counter's lifetime is the run's lifetime, nothing
// more.
package metrics

import (
	"fmt"
	"sync/atomic"
	"time"
)

// Metrics accumulates a hash counter across a run. The counter is
// safe for concurrent Increment calls; Start/Stop are expected to be
// called once each, from the scheduler's own goroutine.
type Metrics struct {
	counter atomic.Uint64
	start   time.Time
	end     time.Time
}

// New returns a Metrics ready to be started.
func New() *Metrics {
	return &Metrics{}
}

// Start resets the counter to zero and records the run's start time.
func (m *Metrics) Start() {
	m.counter.Store(0)
	m.start = time.Now()
}

// Stop records the run's end time. Total and HashesPerSecond report
// against this window once it has been called.
func (m *Metrics) Stop() {
	m.end = time.Now()
}

// Increment adds n to the running hash count. Safe to call
// concurrently with Total, but Start/Stop are not expected to race
// with it.
func (m *Metrics) Increment(n uint64) {
	m.counter.Add(n)
}

// Total returns the number of hashes counted so far.
func (m *Metrics) Total() uint64 {
	return m.counter.Load()
}

// Elapsed returns the duration between Start and Stop. Before Stop is
// called it reports the time elapsed so far.
func (m *Metrics) Elapsed() time.Duration {
	end := m.end
	if end.IsZero() {
		end = time.Now()
	}
	return end.Sub(m.start)
}

// HashesPerSecond reports throughput over the Start..Stop window. It
// returns 0 if the window has zero duration.
func (m *Metrics) HashesPerSecond() float64 {
	secs := m.Elapsed().Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(m.counter.Load()) / secs
}

// Summary renders a one-line human-readable report suitable for
// printing at shutdown.
func (m *Metrics) Summary() string {
	return fmt.Sprintf("processed %d candidates in %s (%.2f hashes/sec)",
		m.Total(), m.Elapsed().Round(time.Millisecond), m.HashesPerSecond())
}
