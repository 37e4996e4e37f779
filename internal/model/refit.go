package model

import "time"

// RefitEntry tracks resubmissions of one identical fitting request.
type RefitEntry struct {
	UserID      string      `json:"user_id"`
	Key         IdentityKey `json:"identity_key"`
	Count       int         `json:"count"`
	WindowStart time.Time   `json:"window_start"`
}

// RefitKind classifies a submission against the refit window.
type RefitKind int

const (
	// RefitFresh means no entry exists for the key; the caller should charge.
	RefitFresh RefitKind = iota
	// RefitAccepted means the resubmission was recorded and is free.
	RefitAccepted
	// RefitLimitExceeded means the window is full; nothing was recorded.
	RefitLimitExceeded
)

func (k RefitKind) String() string {
	switch k {
	case RefitFresh:
		return "fresh"
	case RefitAccepted:
		return "refit"
	case RefitLimitExceeded:
		return "limit_exceeded"
	default:
		return "unknown"
	}
}

// RefitOutcome is returned by classify-and-record.
type RefitOutcome struct {
	Kind  RefitKind
	Count int
	Limit int
	// WindowReset is set when an elapsed window was restarted by this call.
	WindowReset bool
	ResetsAt    time.Time
}
