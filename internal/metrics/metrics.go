// Package metrics provides lightweight hooks for instrumentation.
package metrics

import "time"

// Fitting outcomes.
const (
	OutcomeCompleted     = "completed"
	OutcomeFailed        = "failed"
	OutcomeQuotaExceeded = "quota_exceeded"
	OutcomeRateLimited   = "rate_limited"
	OutcomeInvalid       = "invalid"
)

// Recorder captures metric events for the application.
type Recorder interface {
	// Fitting pipeline
	IncFittingOutcome(outcome string)
	ObserveFittingDuration(duration time.Duration)
	ObserveComposeStage(category string, duration time.Duration, ok bool)

	// Ledger and refit window
	IncDebit(result string) // "free", "credit" or "denied"
	IncRefit(result string) // "refit", "limit_exceeded" or "window_reset"
	AddCreditsPurchased(credits int)

	// Usage event pipeline
	IncUsageEventPublished(status string) // "success" or "dropped"
	IncUsageEventProcessed(status string) // "success", "failed" or "dead_lettered"
	ObserveUsageBatchSize(size int)
	SetUsageQueueDepth(depth int64)
}

// Snapshotter exposes a snapshot of current metrics.
type Snapshotter interface {
	Snapshot() Snapshot
}
