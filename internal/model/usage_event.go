package model

import "time"

// UsageOutcome is the terminal outcome of a submission as recorded in history.
type UsageOutcome string

const (
	UsageCompleted     UsageOutcome = "completed"
	UsageFailed        UsageOutcome = "failed"
	UsageQuotaExceeded UsageOutcome = "quota_exceeded"
	UsageRateLimited   UsageOutcome = "rate_limited"
)

// UsageEvent records one fitting submission.
type UsageEvent struct {
	ID          string       `json:"id"`                 // ULID (time-sortable)
	EventID     string       `json:"event_id,omitempty"` // Idempotency key (Redis stream ID)
	UserID      string       `json:"user_id"`
	IdentityKey IdentityKey  `json:"identity_key"`
	Outcome     UsageOutcome `json:"outcome"`
	ChargedFrom DebitSource  `json:"charged_from,omitempty"`
	IsRefit     bool         `json:"is_refit"`
	RefitCount  int          `json:"refit_count"`
	Categories  []string     `json:"categories"`
	Provider    string       `json:"provider,omitempty"`
	ErrorCode   string       `json:"error_code,omitempty"`
	DurationMS  int64        `json:"duration_ms"`
	OccurredAt  time.Time    `json:"occurred_at"`
}
