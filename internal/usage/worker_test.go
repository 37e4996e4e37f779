package usage

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fitsa/fitsa/internal/metrics"
	"github.com/fitsa/fitsa/internal/model"
)

type flakyRepo struct {
	failures int
	calls    int
	stored   []*model.UsageEvent
}

func (r *flakyRepo) BulkInsert(_ context.Context, events []*model.UsageEvent) error {
	r.calls++
	if r.calls <= r.failures {
		return errors.New("connection reset")
	}
	r.stored = append(r.stored, events...)
	return nil
}

func newTestWorker(repo Repository, rec metrics.Recorder) *Worker {
	w := NewWorker(nil, repo, slog.New(slog.NewTextHandler(io.Discard, nil)), "test", rec)
	w.SetRetryBackoff(time.Millisecond)
	return w
}

func TestWorker_ParseMessages(t *testing.T) {
	t.Parallel()

	data, _ := json.Marshal(validPayload())
	w := newTestWorker(&flakyRepo{}, nil)

	events, idsOut := w.parseMessages(context.Background(), []redis.XMessage{
		{ID: "1-0", Values: map[string]interface{}{"payload": string(data)}},
		{ID: "2-0", Values: map[string]interface{}{"payload": string(data)}},
	})

	if len(events) != 2 || len(idsOut) != 2 {
		t.Fatalf("expected 2 events and ids, got %d/%d", len(events), len(idsOut))
	}
	if events[0].EventID != "1-0" || events[1].EventID != "2-0" {
		t.Errorf("stream ids should become event ids: %q %q", events[0].EventID, events[1].EventID)
	}
	if events[0].ID == "" || events[0].ID == events[1].ID {
		t.Errorf("expected distinct generated ids, got %q %q", events[0].ID, events[1].ID)
	}
}

func TestWorker_ProcessBatchWithRetry(t *testing.T) {
	t.Parallel()

	rec := metrics.NewInMemory()
	repo := &flakyRepo{failures: 2}
	w := newTestWorker(repo, rec)

	events := []*model.UsageEvent{{ID: "a", EventID: "1-0", UserID: "u"}}
	if err := w.processBatchWithRetry(context.Background(), events); err != nil {
		t.Fatalf("expected success on third attempt, got %v", err)
	}
	if repo.calls != 3 || len(repo.stored) != 1 {
		t.Errorf("calls = %d stored = %d, want 3 and 1", repo.calls, len(repo.stored))
	}
	if got := rec.Snapshot().UsageEventsProcessed; got != 1 {
		t.Errorf("UsageEventsProcessed = %d, want 1", got)
	}
}

func TestWorker_ProcessBatchWithRetry_GivesUp(t *testing.T) {
	t.Parallel()

	rec := metrics.NewInMemory()
	repo := &flakyRepo{failures: 10}
	w := newTestWorker(repo, rec)

	err := w.processBatchWithRetry(context.Background(), []*model.UsageEvent{{ID: "a"}, {ID: "b"}})
	if err == nil {
		t.Fatal("expected error after retries")
	}
	if repo.calls != DefaultMaxRetries {
		t.Errorf("calls = %d, want %d", repo.calls, DefaultMaxRetries)
	}
	if got := rec.Snapshot().UsageEventsFailed; got != 2 {
		t.Errorf("UsageEventsFailed = %d, want 2", got)
	}
}

func TestWorker_ShutdownBeforeRun(t *testing.T) {
	t.Parallel()

	w := newTestWorker(&flakyRepo{}, nil)
	if err := w.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown before Run should be a no-op, got %v", err)
	}
}

func TestIsConsumerGroupExistsError(t *testing.T) {
	t.Parallel()

	if !isConsumerGroupExistsError(errors.New("BUSYGROUP Consumer Group name already exists")) {
		t.Error("expected BUSYGROUP to be recognised")
	}
	if isConsumerGroupExistsError(errors.New("ERR no such key")) {
		t.Error("unexpected match")
	}
	if isConsumerGroupExistsError(nil) {
		t.Error("nil should not match")
	}
}
