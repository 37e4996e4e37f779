// Package usage records one event per fitting submission and serves the
// per-user history built from them.
package usage

import (
	"context"

	"github.com/fitsa/fitsa/internal/model"
)

// Recorder accepts usage events. Record must not block the submit path.
type Recorder interface {
	Record(event model.UsageEvent)
}

// History lists a user's usage events, newest first.
type History interface {
	List(ctx context.Context, userID, cursor string, limit int) ([]*model.UsageEvent, string, error)
}

// Repository persists usage events. BulkInsert must be idempotent on EventID.
type Repository interface {
	BulkInsert(ctx context.Context, events []*model.UsageEvent) error
}
