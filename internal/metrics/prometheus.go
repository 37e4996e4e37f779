package metrics

import (
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const maxLabelLen = 64

// sanitizeLabel keeps label cardinality bounded.
func sanitizeLabel(s string) string {
	if s == "" {
		return "unknown"
	}
	s = strings.ReplaceAll(s, " ", "_")
	if len(s) > maxLabelLen {
		s = s[:maxLabelLen]
	}
	return s
}

// PrometheusRecorder exports metrics through client_golang on its own registry.
type PrometheusRecorder struct {
	registry *prometheus.Registry

	fittings        *prometheus.CounterVec
	fittingDuration prometheus.Histogram
	composeStages   *prometheus.HistogramVec
	debits          *prometheus.CounterVec
	refits          *prometheus.CounterVec
	creditsSold     prometheus.Counter
	usagePublished  *prometheus.CounterVec
	usageProcessed  *prometheus.CounterVec
	usageBatchSize  prometheus.Histogram
	usageQueueDepth prometheus.Gauge
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheus creates a recorder with Go runtime and process collectors
// registered alongside the application metrics.
func NewPrometheus() *PrometheusRecorder {
	reg := prometheus.NewRegistry()
	m := &PrometheusRecorder{
		registry: reg,
		fittings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitsa",
			Name:      "fittings_total",
			Help:      "Fitting submissions by terminal outcome",
		}, []string{"outcome"}),
		fittingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fitsa",
			Name:      "fitting_duration_seconds",
			Help:      "End-to-end fitting submit duration",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 60, 120, 240},
		}),
		composeStages: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fitsa",
			Name:      "compose_stage_duration_seconds",
			Help:      "Duration of one composition stage by category and result",
			Buckets:   []float64{1, 2.5, 5, 10, 20, 40, 60, 120},
		}, []string{"category", "result"}),
		debits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitsa",
			Subsystem: "ledger",
			Name:      "debits_total",
			Help:      "Ledger debit attempts by source or denial",
		}, []string{"result"}),
		refits: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitsa",
			Subsystem: "refit",
			Name:      "decisions_total",
			Help:      "Refit window decisions",
		}, []string{"result"}),
		creditsSold: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fitsa",
			Subsystem: "ledger",
			Name:      "credits_purchased_total",
			Help:      "Credits granted by confirmed purchases",
		}),
		usagePublished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitsa",
			Subsystem: "usage",
			Name:      "events_published_total",
			Help:      "Usage events handed to the stream",
		}, []string{"status"}),
		usageProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fitsa",
			Subsystem: "usage",
			Name:      "events_processed_total",
			Help:      "Usage events handled by the worker",
		}, []string{"status"}),
		usageBatchSize: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "fitsa",
			Subsystem: "usage",
			Name:      "batch_size",
			Help:      "Usage events per persisted batch",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10),
		}),
		usageQueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fitsa",
			Subsystem: "usage",
			Name:      "queue_depth",
			Help:      "Pending plus unread usage events",
		}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.fittings,
		m.fittingDuration,
		m.composeStages,
		m.debits,
		m.refits,
		m.creditsSold,
		m.usagePublished,
		m.usageProcessed,
		m.usageBatchSize,
		m.usageQueueDepth,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *PrometheusRecorder) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry. Used by tests.
func (m *PrometheusRecorder) Registry() *prometheus.Registry {
	return m.registry
}

func (m *PrometheusRecorder) IncFittingOutcome(outcome string) {
	m.fittings.WithLabelValues(sanitizeLabel(outcome)).Inc()
}

func (m *PrometheusRecorder) ObserveFittingDuration(duration time.Duration) {
	m.fittingDuration.Observe(duration.Seconds())
}

func (m *PrometheusRecorder) ObserveComposeStage(category string, duration time.Duration, ok bool) {
	result := "ok"
	if !ok {
		result = "error"
	}
	m.composeStages.WithLabelValues(sanitizeLabel(category), result).Observe(duration.Seconds())
}

func (m *PrometheusRecorder) IncDebit(result string) {
	m.debits.WithLabelValues(sanitizeLabel(result)).Inc()
}

func (m *PrometheusRecorder) IncRefit(result string) {
	m.refits.WithLabelValues(sanitizeLabel(result)).Inc()
}

func (m *PrometheusRecorder) AddCreditsPurchased(credits int) {
	if credits > 0 {
		m.creditsSold.Add(float64(credits))
	}
}

func (m *PrometheusRecorder) IncUsageEventPublished(status string) {
	m.usagePublished.WithLabelValues(sanitizeLabel(status)).Inc()
}

func (m *PrometheusRecorder) IncUsageEventProcessed(status string) {
	m.usageProcessed.WithLabelValues(sanitizeLabel(status)).Inc()
}

func (m *PrometheusRecorder) ObserveUsageBatchSize(size int) {
	m.usageBatchSize.Observe(float64(size))
}

func (m *PrometheusRecorder) SetUsageQueueDepth(depth int64) {
	m.usageQueueDepth.Set(float64(depth))
}
