// Package refit tracks free resubmissions of identical fitting requests.
//
// A window entry exists for (user, identity key) once a fitting with that key
// completed. Each resubmission inside the window is free and counted; when the
// count reaches the limit further resubmissions are refused until the window
// elapses, at which point the next resubmission starts a new window.
package refit

import (
	"context"
	"time"

	"github.com/fitsa/fitsa/internal/model"
)

// Policy is the refit allowance per entry.
type Policy struct {
	Limit  int
	Window time.Duration
}

// DefaultPolicy allows five refits per hour.
var DefaultPolicy = Policy{Limit: 5, Window: time.Hour}

// Store is the refit window. Mutations are linearizable per (user, key).
type Store interface {
	// Lookup returns the entry or nil when none exists. It never mutates.
	Lookup(ctx context.Context, userID string, key model.IdentityKey) (*model.RefitEntry, error)
	// ClassifyAndRecord classifies a submission and records it when accepted.
	ClassifyAndRecord(ctx context.Context, userID string, key model.IdentityKey) (model.RefitOutcome, error)
	// Open creates an entry with count 0 if absent and returns the stored entry.
	Open(ctx context.Context, userID string, key model.IdentityKey) (*model.RefitEntry, error)
}

// Classify applies the policy to entry at now. It returns the outcome and the
// entry state to persist; persist is false when nothing must be written.
// A nil entry classifies as fresh.
func (p Policy) Classify(entry *model.RefitEntry, now time.Time) (out model.RefitOutcome, next model.RefitEntry, persist bool) {
	out.Limit = p.Limit
	if entry == nil {
		return out, next, false
	}

	next = *entry
	if now.Sub(next.WindowStart) > p.Window {
		next.Count = 0
		next.WindowStart = now
		out.WindowReset = true
	}
	out.ResetsAt = next.WindowStart.Add(p.Window)

	if next.Count >= p.Limit {
		out.Kind = model.RefitLimitExceeded
		out.Count = next.Count
		return out, next, false
	}

	next.Count++
	out.Kind = model.RefitAccepted
	out.Count = next.Count
	return out, next, true
}
