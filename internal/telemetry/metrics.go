package telemetry

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/solarinvest/fleetmonitor/internal/domain"
)

// Metrics bundles the Prometheus instruments the pipeline and queues feed.
// Registered once at startup against a dedicated registry so /metrics
// never leaks Go-runtime defaults the operator didn't ask for.
type Metrics struct {
	PollTotal          *prometheus.CounterVec
	PollDurationSeconds *prometheus.HistogramVec
	QueueDepth         *prometheus.GaugeVec
	LockContentionTotal *prometheus.CounterVec
	AlertsActive       *prometheus.GaugeVec
}

// NewMetrics constructs and registers every instrument against reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		PollTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetmonitor",
			Name:      "poll_total",
			Help:      "Total poll job executions by brand and terminal status.",
		}, []string{"brand", "status"}),

		PollDurationSeconds: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fleetmonitor",
			Name:      "poll_duration_seconds",
			Help:      "Poll job wall-clock duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"brand"}),

		QueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetmonitor",
			Name:      "queue_depth",
			Help:      "Number of tickets pending dispatch in a brand's queue.",
		}, []string{"brand"}),

		LockContentionTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fleetmonitor",
			Name:      "lock_contention_total",
			Help:      "Total LOCK_SKIPPED outcomes by brand.",
		}, []string{"brand"}),

		AlertsActive: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "fleetmonitor",
			Name:      "alerts_active",
			Help:      "Currently active alerts by severity.",
		}, []string{"severity"}),
	}

	reg.MustRegister(m.PollTotal, m.PollDurationSeconds, m.QueueDepth, m.LockContentionTotal, m.AlertsActive)

	return m
}

// ObservePoll implements queue.Recorder: it records one terminal job
// outcome against the poll_total counter and poll_duration_seconds
// histogram.
func (m *Metrics) ObservePoll(brand domain.Brand, status string, duration time.Duration) {
	m.PollTotal.WithLabelValues(string(brand), status).Inc()
	m.PollDurationSeconds.WithLabelValues(string(brand)).Observe(duration.Seconds())
}

// ObserveLockContention implements executor.LockMetrics: it records one
// LOCK_SKIPPED outcome for brand.
func (m *Metrics) ObserveLockContention(brand domain.Brand) {
	m.LockContentionTotal.WithLabelValues(string(brand)).Inc()
}

// IncActiveAlert and DecActiveAlert implement alerts.Metrics: the reconciler
// calls these on every NEW/resolve/severity-change transition so
// alerts_active tracks live state instead of sitting at zero.
func (m *Metrics) IncActiveAlert(severity domain.Severity) {
	m.AlertsActive.WithLabelValues(string(severity)).Inc()
}

func (m *Metrics) DecActiveAlert(severity domain.Severity) {
	m.AlertsActive.WithLabelValues(string(severity)).Dec()
}
