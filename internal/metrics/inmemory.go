package metrics

import (
	"sync/atomic"
	"time"
)

// Snapshot captures current in-memory counters.
type Snapshot struct {
	FittingsCompleted     uint64
	FittingsFailed        uint64
	FittingsQuotaExceeded uint64
	FittingsRateLimited   uint64
	FittingsInvalid       uint64

	FittingDurationCount   uint64
	FittingDurationTotalNs int64

	ComposeStagesOK        uint64
	ComposeStagesFailed    uint64
	ComposeDurationTotalNs int64

	DebitsFree   uint64
	DebitsCredit uint64
	DebitsDenied uint64

	RefitsAccepted    uint64
	RefitsLimited     uint64
	RefitWindowResets uint64

	CreditsPurchased uint64

	UsageEventsPublished    uint64
	UsageEventsDropped      uint64
	UsageEventsProcessed    uint64
	UsageEventsFailed       uint64
	UsageEventsDeadLettered uint64
	UsageBatchCount         uint64
	UsageQueueDepth         int64
}

// InMemoryRecorder keeps counters in process memory. It backs the plain-text
// /metrics endpoint and tests.
type InMemoryRecorder struct {
	s Snapshot
}

// NewInMemory returns a Recorder that stores counters in memory.
func NewInMemory() *InMemoryRecorder {
	return &InMemoryRecorder{}
}

// Snapshot returns a copy of the counters.
func (m *InMemoryRecorder) Snapshot() Snapshot {
	return Snapshot{
		FittingsCompleted:       atomic.LoadUint64(&m.s.FittingsCompleted),
		FittingsFailed:          atomic.LoadUint64(&m.s.FittingsFailed),
		FittingsQuotaExceeded:   atomic.LoadUint64(&m.s.FittingsQuotaExceeded),
		FittingsRateLimited:     atomic.LoadUint64(&m.s.FittingsRateLimited),
		FittingsInvalid:         atomic.LoadUint64(&m.s.FittingsInvalid),
		FittingDurationCount:    atomic.LoadUint64(&m.s.FittingDurationCount),
		FittingDurationTotalNs:  atomic.LoadInt64(&m.s.FittingDurationTotalNs),
		ComposeStagesOK:         atomic.LoadUint64(&m.s.ComposeStagesOK),
		ComposeStagesFailed:     atomic.LoadUint64(&m.s.ComposeStagesFailed),
		ComposeDurationTotalNs:  atomic.LoadInt64(&m.s.ComposeDurationTotalNs),
		DebitsFree:              atomic.LoadUint64(&m.s.DebitsFree),
		DebitsCredit:            atomic.LoadUint64(&m.s.DebitsCredit),
		DebitsDenied:            atomic.LoadUint64(&m.s.DebitsDenied),
		RefitsAccepted:          atomic.LoadUint64(&m.s.RefitsAccepted),
		RefitsLimited:           atomic.LoadUint64(&m.s.RefitsLimited),
		RefitWindowResets:       atomic.LoadUint64(&m.s.RefitWindowResets),
		CreditsPurchased:        atomic.LoadUint64(&m.s.CreditsPurchased),
		UsageEventsPublished:    atomic.LoadUint64(&m.s.UsageEventsPublished),
		UsageEventsDropped:      atomic.LoadUint64(&m.s.UsageEventsDropped),
		UsageEventsProcessed:    atomic.LoadUint64(&m.s.UsageEventsProcessed),
		UsageEventsFailed:       atomic.LoadUint64(&m.s.UsageEventsFailed),
		UsageEventsDeadLettered: atomic.LoadUint64(&m.s.UsageEventsDeadLettered),
		UsageBatchCount:         atomic.LoadUint64(&m.s.UsageBatchCount),
		UsageQueueDepth:         atomic.LoadInt64(&m.s.UsageQueueDepth),
	}
}

// IncFittingOutcome counts a terminal fitting outcome.
func (m *InMemoryRecorder) IncFittingOutcome(outcome string) {
	switch outcome {
	case OutcomeCompleted:
		atomic.AddUint64(&m.s.FittingsCompleted, 1)
	case OutcomeFailed:
		atomic.AddUint64(&m.s.FittingsFailed, 1)
	case OutcomeQuotaExceeded:
		atomic.AddUint64(&m.s.FittingsQuotaExceeded, 1)
	case OutcomeRateLimited:
		atomic.AddUint64(&m.s.FittingsRateLimited, 1)
	case OutcomeInvalid:
		atomic.AddUint64(&m.s.FittingsInvalid, 1)
	}
}

// ObserveFittingDuration records end-to-end submit duration.
func (m *InMemoryRecorder) ObserveFittingDuration(duration time.Duration) {
	atomic.AddUint64(&m.s.FittingDurationCount, 1)
	atomic.AddInt64(&m.s.FittingDurationTotalNs, duration.Nanoseconds())
}

// ObserveComposeStage records one composition stage.
func (m *InMemoryRecorder) ObserveComposeStage(_ string, duration time.Duration, ok bool) {
	if ok {
		atomic.AddUint64(&m.s.ComposeStagesOK, 1)
	} else {
		atomic.AddUint64(&m.s.ComposeStagesFailed, 1)
	}
	atomic.AddInt64(&m.s.ComposeDurationTotalNs, duration.Nanoseconds())
}

// IncDebit counts a ledger debit attempt.
func (m *InMemoryRecorder) IncDebit(result string) {
	switch result {
	case "free":
		atomic.AddUint64(&m.s.DebitsFree, 1)
	case "credit":
		atomic.AddUint64(&m.s.DebitsCredit, 1)
	case "denied":
		atomic.AddUint64(&m.s.DebitsDenied, 1)
	}
}

// IncRefit counts a refit window decision.
func (m *InMemoryRecorder) IncRefit(result string) {
	switch result {
	case "refit":
		atomic.AddUint64(&m.s.RefitsAccepted, 1)
	case "limit_exceeded":
		atomic.AddUint64(&m.s.RefitsLimited, 1)
	case "window_reset":
		atomic.AddUint64(&m.s.RefitWindowResets, 1)
	}
}

// AddCreditsPurchased adds purchased credits.
func (m *InMemoryRecorder) AddCreditsPurchased(credits int) {
	if credits > 0 {
		atomic.AddUint64(&m.s.CreditsPurchased, uint64(credits))
	}
}

// IncUsageEventPublished counts usage events handed to the stream.
func (m *InMemoryRecorder) IncUsageEventPublished(status string) {
	if status == "dropped" {
		atomic.AddUint64(&m.s.UsageEventsDropped, 1)
		return
	}
	atomic.AddUint64(&m.s.UsageEventsPublished, 1)
}

// IncUsageEventProcessed counts usage events handled by the worker.
func (m *InMemoryRecorder) IncUsageEventProcessed(status string) {
	switch status {
	case "success":
		atomic.AddUint64(&m.s.UsageEventsProcessed, 1)
	case "failed":
		atomic.AddUint64(&m.s.UsageEventsFailed, 1)
	case "dead_lettered":
		atomic.AddUint64(&m.s.UsageEventsDeadLettered, 1)
	}
}

// ObserveUsageBatchSize counts a processed batch.
func (m *InMemoryRecorder) ObserveUsageBatchSize(int) {
	atomic.AddUint64(&m.s.UsageBatchCount, 1)
}

// SetUsageQueueDepth sets the pending usage event count.
func (m *InMemoryRecorder) SetUsageQueueDepth(depth int64) {
	atomic.StoreInt64(&m.s.UsageQueueDepth, depth)
}
