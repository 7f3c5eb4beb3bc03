package observe

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"go.opentelemetry.io/otel/metric"
)

// meterName is the instrumentation scope name used for all vocalith metrics.
const meterName = "github.com/MrWong99/vocalith"

// Exporter bridges the name-based [Recorder] writes into OpenTelemetry
// instruments, lazily creating one instrument per metric name. Counters,
// histograms and gauges map onto their OTel counterparts; the Prometheus
// reader installed by [InitProvider] exposes them on /metrics.
type Exporter struct {
	meter metric.Meter

	mu       sync.Mutex
	counters map[string]metric.Int64Counter
	hists    map[string]metric.Int64Histogram
	gauges   map[string]metric.Int64Gauge

	// HTTPRequestDuration serves the ops-endpoint middleware.
	HTTPRequestDuration metric.Float64Histogram
}

var _ Recorder = (*Exporter)(nil)

// NewExporter builds an Exporter on the given meter provider.
func NewExporter(mp metric.MeterProvider) (*Exporter, error) {
	m := mp.Meter(meterName)
	httpDur, err := m.Float64Histogram("vocalith.http.request.duration",
		metric.WithDescription("HTTP request latency by method and path."),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}
	return &Exporter{
		meter:               m,
		counters:            make(map[string]metric.Int64Counter),
		hists:               make(map[string]metric.Int64Histogram),
		gauges:              make(map[string]metric.Int64Gauge),
		HTTPRequestDuration: httpDur,
	}, nil
}

// Inc implements [Recorder.Inc].
func (e *Exporter) Inc(name string, v int64) {
	e.mu.Lock()
	c, ok := e.counters[name]
	if !ok {
		var err error
		c, err = e.meter.Int64Counter(instrumentName(name))
		if err != nil {
			e.mu.Unlock()
			slog.Warn("metric instrument creation failed", "name", name, "err", err)
			return
		}
		e.counters[name] = c
	}
	e.mu.Unlock()
	c.Add(context.Background(), v)
}

// Observe implements [Recorder.Observe].
func (e *Exporter) Observe(name string, v int64) {
	e.mu.Lock()
	h, ok := e.hists[name]
	if !ok {
		var err error
		h, err = e.meter.Int64Histogram(instrumentName(name), metric.WithUnit("ms"))
		if err != nil {
			e.mu.Unlock()
			slog.Warn("metric instrument creation failed", "name", name, "err", err)
			return
		}
		e.hists[name] = h
	}
	e.mu.Unlock()
	h.Record(context.Background(), v)
}

// Set implements [Recorder.Set].
func (e *Exporter) Set(name string, v int64) {
	e.mu.Lock()
	g, ok := e.gauges[name]
	if !ok {
		var err error
		g, err = e.meter.Int64Gauge(instrumentName(name))
		if err != nil {
			e.mu.Unlock()
			slog.Warn("metric instrument creation failed", "name", name, "err", err)
			return
		}
		e.gauges[name] = g
	}
	e.mu.Unlock()
	g.Record(context.Background(), v)
}

// instrumentName prefixes session metric names into the vocalith namespace.
func instrumentName(name string) string {
	if strings.HasPrefix(name, "vocalith.") {
		return name
	}
	return "vocalith." + name
}
