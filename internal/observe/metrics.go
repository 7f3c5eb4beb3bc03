// Package observe provides observability primitives for vocalith:
// deterministic per-session metrics, an OpenTelemetry bridge with a
// Prometheus exporter, distributed tracing, and HTTP middleware that ties
// them together.
//
// The voice loop needs metrics it can read back synchronously (replay tests
// assert on counters and percentiles), so sessions record into a
// [SessionMetrics] registry. Production wires a [Composite] that fans every
// write into the session registry and an [Exporter] feeding the process-wide
// OTel meter provider, so the same call site serves both the deterministic
// view and /metrics.
package observe

import (
	"math"
	"sort"
	"sync"
)

// Recorder is the write side shared by all session components.
type Recorder interface {
	// Inc adds v to the named counter.
	Inc(name string, v int64)
	// Observe appends v to the named histogram.
	Observe(name string, v int64)
	// Set stores v as the named gauge.
	Set(name string, v int64)
}

// SessionMetrics is an in-memory metric registry with deterministic
// read-back. One per session.
type SessionMetrics struct {
	mu         sync.Mutex
	counters   map[string]int64
	histograms map[string][]int64
	gauges     map[string]int64
}

var _ Recorder = (*SessionMetrics)(nil)

// NewSessionMetrics returns an empty registry.
func NewSessionMetrics() *SessionMetrics {
	return &SessionMetrics{
		counters:   make(map[string]int64),
		histograms: make(map[string][]int64),
		gauges:     make(map[string]int64),
	}
}

// Inc implements [Recorder.Inc].
func (m *SessionMetrics) Inc(name string, v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters[name] += v
}

// Observe implements [Recorder.Observe].
func (m *SessionMetrics) Observe(name string, v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.histograms[name] = append(m.histograms[name], v)
}

// Set implements [Recorder.Set].
func (m *SessionMetrics) Set(name string, v int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.gauges[name] = v
}

// Get returns the named counter, zero when absent.
func (m *SessionMetrics) Get(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.counters[name]
}

// Hist returns a copy of the named histogram's samples.
func (m *SessionMetrics) Hist(name string) []int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]int64, len(m.histograms[name]))
	copy(out, m.histograms[name])
	return out
}

// Gauge returns the named gauge, zero when absent.
func (m *SessionMetrics) Gauge(name string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.gauges[name]
}

// Percentile returns the nearest-rank percentile of the named histogram.
// ok is false when the histogram is empty.
func (m *SessionMetrics) Percentile(name string, p float64) (v int64, ok bool) {
	m.mu.Lock()
	samples := make([]int64, len(m.histograms[name]))
	copy(samples, m.histograms[name])
	m.mu.Unlock()
	if len(samples) == 0 {
		return 0, false
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	if p <= 0 {
		return samples[0], true
	}
	if p >= 100 {
		return samples[len(samples)-1], true
	}
	k := int(math.Round((p / 100.0) * float64(len(samples)-1)))
	return samples[k], true
}

// Snapshot copies the full registry state.
func (m *SessionMetrics) Snapshot() (counters map[string]int64, histograms map[string][]int64, gauges map[string]int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counters = make(map[string]int64, len(m.counters))
	for k, v := range m.counters {
		counters[k] = v
	}
	histograms = make(map[string][]int64, len(m.histograms))
	for k, v := range m.histograms {
		s := make([]int64, len(v))
		copy(s, v)
		histograms[k] = s
	}
	gauges = make(map[string]int64, len(m.gauges))
	for k, v := range m.gauges {
		gauges[k] = v
	}
	return counters, histograms, gauges
}

// Composite fans writes into several recorders. Nil sinks are skipped.
type Composite struct {
	sinks []Recorder
}

var _ Recorder = (*Composite)(nil)

// NewComposite builds a write-only fanout over the given sinks.
func NewComposite(sinks ...Recorder) *Composite {
	c := &Composite{}
	for _, s := range sinks {
		if s != nil {
			c.sinks = append(c.sinks, s)
		}
	}
	return c
}

// Inc implements [Recorder.Inc].
func (c *Composite) Inc(name string, v int64) {
	for _, s := range c.sinks {
		s.Inc(name, v)
	}
}

// Observe implements [Recorder.Observe].
func (c *Composite) Observe(name string, v int64) {
	for _, s := range c.sinks {
		s.Observe(name, v)
	}
}

// Set implements [Recorder.Set].
func (c *Composite) Set(name string, v int64) {
	for _, s := range c.sinks {
		s.Set(name, v)
	}
}
