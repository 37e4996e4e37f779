//go:build integration

package repository

import (
	"strings"
	"testing"
	"time"

	"github.com/fitsa/fitsa/internal/model"
	"github.com/fitsa/fitsa/internal/testutil"
)

func TestIntegrationFittingEvents_BulkInsertIdempotent(t *testing.T) {
	ctx, pool := newMigrationTestEnv(t)
	events := NewFromPool(pool).FittingEvents()
	user := testutil.NewUserID()

	base := time.Now().UTC().Truncate(time.Millisecond)
	batch := []*model.UsageEvent{
		{
			ID:          testutil.UniqueID("evt-a"),
			EventID:     "1-0",
			UserID:      user,
			IdentityKey: model.IdentityKey(strings.Repeat("a", 64)),
			Outcome:     model.UsageCompleted,
			ChargedFrom: model.DebitSourceFree,
			Categories:  []string{"upper_body", "lower_body"},
			DurationMS:  1500,
			OccurredAt:  base,
		},
		{
			ID:         testutil.UniqueID("evt-b"),
			EventID:    "2-0",
			UserID:     user,
			Outcome:    model.UsageQuotaExceeded,
			OccurredAt: base.Add(time.Second),
		},
	}

	if err := events.BulkInsert(ctx, batch); err != nil {
		t.Fatalf("BulkInsert failed: %v", err)
	}
	// Redelivered stream messages carry the same event ids.
	batch[0].ID = testutil.UniqueID("evt-a2")
	if err := events.BulkInsert(ctx, batch[:1]); err != nil {
		t.Fatalf("replayed BulkInsert failed: %v", err)
	}

	got, next, err := events.List(ctx, user, "", 10)
	if err != nil {
		t.Fatalf("List failed: %v", err)
	}
	if len(got) != 2 || next != "" {
		t.Fatalf("List returned %d events (next=%q), want 2", len(got), next)
	}
	if got[0].Outcome != model.UsageQuotaExceeded {
		t.Errorf("newest event outcome = %s, want quota_exceeded", got[0].Outcome)
	}
	if len(got[1].Categories) != 2 || got[1].ChargedFrom != model.DebitSourceFree {
		t.Errorf("oldest event = %+v", got[1])
	}
	if got[0].Categories == nil {
		t.Error("Categories should be empty, not nil")
	}
}
