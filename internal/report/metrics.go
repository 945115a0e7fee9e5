package report

import (
	"context"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/campbellsync/internal/domain"
)

// Metrics exports cycle outcomes as Prometheus metrics.
type Metrics struct {
	registry *prometheus.Registry

	cycles      *prometheus.CounterVec
	created     *prometheus.CounterVec
	appended    *prometheus.CounterVec
	failures    *prometheus.CounterVec
	duration    *prometheus.HistogramVec
	lastSuccess *prometheus.GaugeVec
}

// NewMetrics registers the campbellsync metrics on a fresh registry that
// also carries the Go and process collectors.
func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campbellsync_cycles_total",
			Help: "Completed cycles by device and outcome.",
		}, []string{"device", "outcome"}),
		created: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campbellsync_sensors_created_total",
			Help: "Sensors created in the store.",
		}, []string{"device"}),
		appended: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campbellsync_samples_appended_total",
			Help: "Samples appended to sensor histories.",
		}, []string{"device"}),
		failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "campbellsync_field_failures_total",
			Help: "Fields that could not be reconciled, by stage.",
		}, []string{"device", "stage"}),
		duration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "campbellsync_cycle_duration_seconds",
			Help:    "Duration of fetch-parse-reconcile cycles.",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		}, []string{"device"}),
		lastSuccess: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "campbellsync_last_success_timestamp_seconds",
			Help: "Unix time of the last successful cycle.",
		}, []string{"device"}),
	}
	reg.MustRegister(m.cycles, m.created, m.appended, m.failures, m.duration, m.lastSuccess)
	return m
}

// Registry returns the registry the metrics live on.
func (m *Metrics) Registry() *prometheus.Registry { return m.registry }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Report implements Reporter. Start events are ignored.
func (m *Metrics) Report(_ context.Context, ev Event) {
	if ev.Kind != KindFinish || ev.Result == nil {
		return
	}
	res := ev.Result

	m.cycles.WithLabelValues(res.Device, string(res.Outcome)).Inc()
	m.created.WithLabelValues(res.Device).Add(float64(len(res.Created)))
	m.appended.WithLabelValues(res.Device).Add(float64(len(res.Appended)))
	for _, f := range res.Failures {
		m.failures.WithLabelValues(res.Device, string(f.Stage)).Inc()
	}
	if res.Duration > 0 {
		m.duration.WithLabelValues(res.Device).Observe(res.Duration.Seconds())
	}
	if res.Outcome == domain.OutcomeSuccess {
		m.lastSuccess.WithLabelValues(res.Device).Set(float64(ev.Time.Unix()))
	}
}
