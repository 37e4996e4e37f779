package usage

import (
	"testing"
	"time"

	"github.com/fitsa/fitsa/internal/model"
)

func TestPayloadFromEvent_PreservesFields(t *testing.T) {
	t.Parallel()

	occurred := time.Date(2026, 3, 1, 10, 30, 0, 0, time.UTC)
	event := model.UsageEvent{
		UserID:      "user-1",
		IdentityKey: model.IdentityKey("deadbeef"),
		Outcome:     model.UsageCompleted,
		ChargedFrom: model.DebitSourceCredit,
		IsRefit:     true,
		RefitCount:  3,
		Categories:  []string{"dress"},
		Provider:    "primary",
		DurationMS:  950,
		OccurredAt:  occurred,
	}

	got := PayloadFromEvent(event).Event("01J000000000000000000000", "1700000000000-0")

	if got.ID != "01J000000000000000000000" || got.EventID != "1700000000000-0" {
		t.Errorf("ids not carried: %q %q", got.ID, got.EventID)
	}
	if got.UserID != event.UserID || got.IdentityKey != event.IdentityKey {
		t.Errorf("identity not carried: %+v", got)
	}
	if got.Outcome != event.Outcome || got.ChargedFrom != event.ChargedFrom {
		t.Errorf("outcome not carried: %+v", got)
	}
	if !got.IsRefit || got.RefitCount != 3 {
		t.Errorf("refit not carried: %+v", got)
	}
	if !got.OccurredAt.Equal(occurred) {
		t.Errorf("OccurredAt = %v, want %v", got.OccurredAt, occurred)
	}
}

func TestPayload_EventDefaultsCategories(t *testing.T) {
	t.Parallel()

	got := EventPayload{UserID: "u", Outcome: "quota_exceeded", OccurredAt: 1}.Event("id", "eid")
	if got.Categories == nil {
		t.Error("Categories should be an empty slice, not nil")
	}
}
