package stats

import (
	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusExporter mirrors a Collection's lifetime counters onto standard
// Prometheus collectors. It is additive instrumentation: the statistics
// engine above remains the source of truth for everything spec.md §4.3
// and §8 require, and works correctly with no exporter ever created.
type PrometheusExporter struct {
	collection *Collection
	label      string

	requests  prometheus.Gauge
	responses prometheus.Gauge
	failures  prometheus.Gauge
	timeouts  prometheus.Gauge
	aborts    prometheus.Gauge
	latency   prometheus.Histogram
}

// NewPrometheusExporter builds an exporter for collection, registering its
// collectors under reg with the given connection label (e.g. an endpoint
// string distinguishing node connections in a cluster).
func NewPrometheusExporter(reg prometheus.Registerer, collection *Collection, label string) *PrometheusExporter {
	e := &PrometheusExporter{
		collection: collection,
		label:      label,
		requests: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "driver_requests_total",
			Help:        "Lifetime requests opened on this connection.",
			ConstLabels: prometheus.Labels{"connection": label},
		}),
		responses: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "driver_responses_total",
			Help:        "Lifetime responses received on this connection.",
			ConstLabels: prometheus.Labels{"connection": label},
		}),
		failures: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "driver_failures_total",
			Help:        "Lifetime server-side failures on this connection.",
			ConstLabels: prometheus.Labels{"connection": label},
		}),
		timeouts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "driver_timeouts_total",
			Help:        "Lifetime client-side timeouts on this connection.",
			ConstLabels: prometheus.Labels{"connection": label},
		}),
		aborts: prometheus.NewGauge(prometheus.GaugeOpts{
			Name:        "driver_aborts_total",
			Help:        "Lifetime client-cancelled requests on this connection.",
			ConstLabels: prometheus.Labels{"connection": label},
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "driver_latency_milliseconds",
			Help:        "Lifetime average server-reported execution duration, observed once per Collect call, on the driver's own 9-bucket layout.",
			ConstLabels: prometheus.Labels{"connection": label},
			Buckets:     []float64{25, 50, 75, 100, 125, 150, 175, 200},
		}),
	}
	reg.MustRegister(e.requests, e.responses, e.failures, e.timeouts, e.aborts, e.latency)
	return e
}

// Collect copies the current lifetime snapshot onto the registered
// collectors. Callers are expected to invoke this periodically (e.g. from
// the same ticker driving their own metrics scrape), since the driver's
// counters are plain structs, not self-reporting prometheus.Collectors.
func (e *PrometheusExporter) Collect() {
	snap := e.collection.Lifetime().Snapshot()
	e.requests.Set(float64(snap.RequestCount))
	e.responses.Set(float64(snap.ResponseCount))
	e.failures.Set(float64(snap.FailureCount))
	e.timeouts.Set(float64(snap.TimeoutCount))
	e.aborts.Set(float64(snap.AbortCount))
	if snap.ResponseCount > 0 {
		e.latency.Observe(float64(snap.AverageLatency().Milliseconds()))
	}
}
