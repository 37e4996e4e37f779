package handler

import (
	"fmt"
	"net/http"

	"github.com/fitsa/fitsa/internal/metrics"
)

// MetricsHandler exposes in-memory metrics.
type MetricsHandler struct {
	snapshotter metrics.Snapshotter
}

// NewMetricsHandler creates a new MetricsHandler.
func NewMetricsHandler(snapshotter metrics.Snapshotter) *MetricsHandler {
	return &MetricsHandler{snapshotter: snapshotter}
}

// Metrics returns metrics in Prometheus exposition format.
func (h *MetricsHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	if h.snapshotter == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}

	snap := h.snapshotter.Snapshot()

	w.Header().Set("Content-Type", "text/plain; version=0.0.4")

	writeMetric(w, "fitsa_fittings_total{outcome=\"completed\"} %d\n", snap.FittingsCompleted)
	writeMetric(w, "fitsa_fittings_total{outcome=\"failed\"} %d\n", snap.FittingsFailed)
	writeMetric(w, "fitsa_fittings_total{outcome=\"quota_exceeded\"} %d\n", snap.FittingsQuotaExceeded)
	writeMetric(w, "fitsa_fittings_total{outcome=\"rate_limited\"} %d\n", snap.FittingsRateLimited)
	writeMetric(w, "fitsa_fittings_total{outcome=\"invalid\"} %d\n", snap.FittingsInvalid)
	writeMetric(w, "fitsa_fitting_duration_seconds_count %d\n", snap.FittingDurationCount)
	writeMetric(w, "fitsa_fitting_duration_seconds_sum %.6f\n", float64(snap.FittingDurationTotalNs)/1e9)

	writeMetric(w, "fitsa_compose_stages_total{status=\"ok\"} %d\n", snap.ComposeStagesOK)
	writeMetric(w, "fitsa_compose_stages_total{status=\"failed\"} %d\n", snap.ComposeStagesFailed)
	writeMetric(w, "fitsa_compose_stage_duration_seconds_sum %.6f\n", float64(snap.ComposeDurationTotalNs)/1e9)

	writeMetric(w, "fitsa_debits_total{source=\"free\"} %d\n", snap.DebitsFree)
	writeMetric(w, "fitsa_debits_total{source=\"credit\"} %d\n", snap.DebitsCredit)
	writeMetric(w, "fitsa_debits_total{source=\"denied\"} %d\n", snap.DebitsDenied)

	writeMetric(w, "fitsa_refits_total{status=\"accepted\"} %d\n", snap.RefitsAccepted)
	writeMetric(w, "fitsa_refits_total{status=\"limited\"} %d\n", snap.RefitsLimited)
	writeMetric(w, "fitsa_refit_window_resets_total %d\n", snap.RefitWindowResets)

	writeMetric(w, "fitsa_credits_purchased_total %d\n", snap.CreditsPurchased)

	writeMetric(w, "fitsa_usage_events_published_total{status=\"success\"} %d\n", snap.UsageEventsPublished)
	writeMetric(w, "fitsa_usage_events_published_total{status=\"dropped\"} %d\n", snap.UsageEventsDropped)
	writeMetric(w, "fitsa_usage_events_processed_total{status=\"success\"} %d\n", snap.UsageEventsProcessed)
	writeMetric(w, "fitsa_usage_events_processed_total{status=\"failed\"} %d\n", snap.UsageEventsFailed)
	writeMetric(w, "fitsa_usage_events_dead_lettered_total %d\n", snap.UsageEventsDeadLettered)
	writeMetric(w, "fitsa_usage_batches_total %d\n", snap.UsageBatchCount)
	writeMetric(w, "fitsa_usage_queue_depth %d\n", snap.UsageQueueDepth)
}

func writeMetric(w http.ResponseWriter, format string, args ...any) {
	_, _ = fmt.Fprintf(w, format, args...)
}
