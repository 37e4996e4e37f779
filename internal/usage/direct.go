package usage

import (
	"context"
	"log/slog"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fitsa/fitsa/internal/metrics"
	"github.com/fitsa/fitsa/internal/model"
)

// DirectWriteTimeout bounds a single event insert.
const DirectWriteTimeout = 2 * time.Second

// DirectRecorder writes each event straight to a Repository. It is used
// when Postgres is configured without Redis.
type DirectRecorder struct {
	repo    Repository
	logger  *slog.Logger
	metrics metrics.Recorder
}

var _ Recorder = (*DirectRecorder)(nil)

// NewDirectRecorder creates a recorder backed by repo.
func NewDirectRecorder(repo Repository, logger *slog.Logger, recorder metrics.Recorder) *DirectRecorder {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &DirectRecorder{
		repo:    repo,
		logger:  logger.With("component", "usage.direct"),
		metrics: recorder,
	}
}

// Record implements Recorder. The insert runs in its own goroutine.
func (d *DirectRecorder) Record(event model.UsageEvent) {
	if event.ID == "" {
		event.ID = ulid.Make().String()
	}
	if event.EventID == "" {
		event.EventID = event.ID
	}
	if event.Categories == nil {
		event.Categories = []string{}
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), DirectWriteTimeout)
		defer cancel()

		if err := d.repo.BulkInsert(ctx, []*model.UsageEvent{&event}); err != nil {
			d.logger.Warn("failed to store usage event",
				"user_id", event.UserID,
				"outcome", event.Outcome,
				"error", err,
			)
			d.metrics.IncUsageEventProcessed("failed")
			return
		}
		d.metrics.IncUsageEventProcessed("success")
	}()
}
