package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fitsa/fitsa/internal/metrics"
	"github.com/fitsa/fitsa/internal/model"
)

const (
	// StreamKey is the Redis stream for fitting usage events.
	StreamKey = "stream:fitting_events"

	// DeadLetterStreamKey is the Redis stream for poison messages.
	DeadLetterStreamKey = "stream:fitting_events:dlq"

	// MaxStreamLen is the approximate max length of the stream.
	MaxStreamLen = 100000

	// PublishTimeout is the max time to wait for Redis publish.
	PublishTimeout = 200 * time.Millisecond
)

// EventPayload is the compact event format stored in the stream.
type EventPayload struct {
	UserID      string   `json:"u"`
	IdentityKey string   `json:"k"`
	Outcome     string   `json:"o"`
	ChargedFrom string   `json:"cf,omitempty"`
	IsRefit     bool     `json:"rf,omitempty"`
	RefitCount  int      `json:"rc,omitempty"`
	Categories  []string `json:"c,omitempty"`
	Provider    string   `json:"p,omitempty"`
	ErrorCode   string   `json:"e,omitempty"`
	DurationMS  int64    `json:"d"`
	OccurredAt  int64    `json:"t"` // Unix milliseconds
}

// PayloadFromEvent converts a usage event to its stream form.
func PayloadFromEvent(event model.UsageEvent) EventPayload {
	return EventPayload{
		UserID:      event.UserID,
		IdentityKey: string(event.IdentityKey),
		Outcome:     string(event.Outcome),
		ChargedFrom: string(event.ChargedFrom),
		IsRefit:     event.IsRefit,
		RefitCount:  event.RefitCount,
		Categories:  event.Categories,
		Provider:    event.Provider,
		ErrorCode:   event.ErrorCode,
		DurationMS:  event.DurationMS,
		OccurredAt:  event.OccurredAt.UnixMilli(),
	}
}

// Event converts a stream payload back to a usage event.
func (p EventPayload) Event(id, eventID string) *model.UsageEvent {
	categories := p.Categories
	if categories == nil {
		categories = []string{}
	}
	return &model.UsageEvent{
		ID:          id,
		EventID:     eventID,
		UserID:      p.UserID,
		IdentityKey: model.IdentityKey(p.IdentityKey),
		Outcome:     model.UsageOutcome(p.Outcome),
		ChargedFrom: model.DebitSource(p.ChargedFrom),
		IsRefit:     p.IsRefit,
		RefitCount:  p.RefitCount,
		Categories:  categories,
		Provider:    p.Provider,
		ErrorCode:   p.ErrorCode,
		DurationMS:  p.DurationMS,
		OccurredAt:  time.UnixMilli(p.OccurredAt).UTC(),
	}
}

// Publisher enqueues usage events to the Redis stream.
type Publisher struct {
	redis   *redis.Client
	logger  *slog.Logger
	metrics metrics.Recorder
}

var _ Recorder = (*Publisher)(nil)

// NewPublisher creates a new usage event publisher.
func NewPublisher(client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) *Publisher {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	return &Publisher{
		redis:   client,
		logger:  logger.With("component", "usage.publisher"),
		metrics: recorder,
	}
}

// Publish adds an event to the stream synchronously and returns its stream ID.
func (p *Publisher) Publish(ctx context.Context, event EventPayload) (string, error) {
	data, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("marshal event: %w", err)
	}

	id, err := p.redis.XAdd(ctx, &redis.XAddArgs{
		Stream: StreamKey,
		MaxLen: MaxStreamLen,
		Approx: true,
		ID:     "*",
		Values: map[string]interface{}{
			"payload": string(data),
		},
	}).Result()
	if err != nil {
		return "", fmt.Errorf("xadd: %w", err)
	}
	return id, nil
}

// PublishAsync publishes without blocking the caller.
// Errors are logged and counted, never returned.
func (p *Publisher) PublishAsync(event EventPayload) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), PublishTimeout)
		defer cancel()

		streamID, err := p.Publish(ctx, event)
		if err != nil {
			p.logger.Warn("failed to publish usage event",
				"user_id", event.UserID,
				"outcome", event.Outcome,
				"error", err,
			)
			p.metrics.IncUsageEventPublished("dropped")
			return
		}

		p.logger.Debug("usage event published",
			"user_id", event.UserID,
			"stream_id", streamID,
		)
		p.metrics.IncUsageEventPublished("success")
	}()
}

// Record implements Recorder.
func (p *Publisher) Record(event model.UsageEvent) {
	p.PublishAsync(PayloadFromEvent(event))
}
