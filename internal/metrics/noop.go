package metrics

import "time"

// NoopRecorder implements Recorder with no-op methods.
type NoopRecorder struct{}

// NewNoop returns a Recorder that discards all metrics.
func NewNoop() Recorder {
	return &NoopRecorder{}
}

func (n *NoopRecorder) IncFittingOutcome(string)                        {}
func (n *NoopRecorder) ObserveFittingDuration(time.Duration)            {}
func (n *NoopRecorder) ObserveComposeStage(string, time.Duration, bool) {}
func (n *NoopRecorder) IncDebit(string)                                 {}
func (n *NoopRecorder) IncRefit(string)                                 {}
func (n *NoopRecorder) AddCreditsPurchased(int)                         {}
func (n *NoopRecorder) IncUsageEventPublished(string)                   {}
func (n *NoopRecorder) IncUsageEventProcessed(string)                   {}
func (n *NoopRecorder) ObserveUsageBatchSize(int)                       {}
func (n *NoopRecorder) SetUsageQueueDepth(int64)                        {}
