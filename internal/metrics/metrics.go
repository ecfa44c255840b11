package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prometheus instrumentation for the admission path and its collaborators.
type Metrics struct {
	admissions *prometheus.CounterVec
	latency    prometheus.Histogram
	anomalies  *prometheus.CounterVec
	failOpens  prometheus.Counter
	queueDrops *prometheus.CounterVec
}

const (
	OutcomeAllowed = "allowed"
	OutcomeDenied  = "denied"
	OutcomeBlocked = "blocked"
)

func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		admissions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratewarden_admissions_total",
			Help: "Admission decisions by outcome.",
		}, []string{"outcome"}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "ratewarden_admission_duration_seconds",
			Help:    "Latency of the admission check.",
			Buckets: []float64{.001, .0025, .005, .01, .025, .05, .1, .25},
		}),
		anomalies: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratewarden_anomalies_total",
			Help: "Anomaly records emitted by kind.",
		}, []string{"kind"}),
		failOpens: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "ratewarden_fail_open_total",
			Help: "Admission checks that failed open on a store fault.",
		}),
		queueDrops: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ratewarden_queue_drops_total",
			Help: "Asynchronous observations dropped because a queue was full.",
		}, []string{"queue"}),
	}

	if reg != nil {
		reg.MustRegister(m.admissions, m.latency, m.anomalies, m.failOpens, m.queueDrops)
	}

	return m
}

func (m *Metrics) ObserveAdmission(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.admissions.WithLabelValues(outcome).Inc()
	m.latency.Observe(elapsed.Seconds())
}

func (m *Metrics) RecordAnomaly(kind string) {
	if m == nil {
		return
	}
	m.anomalies.WithLabelValues(kind).Inc()
}

func (m *Metrics) RecordFailOpen() {
	if m == nil {
		return
	}
	m.failOpens.Inc()
}

func (m *Metrics) RecordQueueDrop(queue string) {
	if m == nil {
		return
	}
	m.queueDrops.WithLabelValues(queue).Inc()
}
