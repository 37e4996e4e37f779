package refit

import (
	"testing"
	"time"

	"github.com/fitsa/fitsa/internal/model"
)

func TestPolicy_Classify(t *testing.T) {
	t.Parallel()

	start := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	p := Policy{Limit: 5, Window: time.Hour}

	tests := []struct {
		name        string
		entry       *model.RefitEntry
		now         time.Time
		wantKind    model.RefitKind
		wantCount   int
		wantPersist bool
		wantReset   bool
	}{
		{"no entry", nil, start, model.RefitFresh, 0, false, false},
		{"first refit", &model.RefitEntry{Count: 0, WindowStart: start}, start.Add(time.Minute), model.RefitAccepted, 1, true, false},
		{"fifth refit", &model.RefitEntry{Count: 4, WindowStart: start}, start.Add(59 * time.Minute), model.RefitAccepted, 5, true, false},
		{"limit reached", &model.RefitEntry{Count: 5, WindowStart: start}, start.Add(59 * time.Minute), model.RefitLimitExceeded, 5, false, false},
		{"window boundary is inclusive", &model.RefitEntry{Count: 5, WindowStart: start}, start.Add(time.Hour), model.RefitLimitExceeded, 5, false, false},
		{"window elapsed", &model.RefitEntry{Count: 5, WindowStart: start}, start.Add(61 * time.Minute), model.RefitAccepted, 1, true, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, next, persist := p.Classify(tt.entry, tt.now)
			if out.Kind != tt.wantKind || out.Count != tt.wantCount {
				t.Errorf("outcome = %v/%d, want %v/%d", out.Kind, out.Count, tt.wantKind, tt.wantCount)
			}
			if persist != tt.wantPersist {
				t.Errorf("persist = %v, want %v", persist, tt.wantPersist)
			}
			if out.WindowReset != tt.wantReset {
				t.Errorf("WindowReset = %v, want %v", out.WindowReset, tt.wantReset)
			}
			if persist && next.Count != out.Count {
				t.Errorf("persisted count %d differs from outcome %d", next.Count, out.Count)
			}
			if out.Limit != 5 {
				t.Errorf("Limit = %d, want 5", out.Limit)
			}
		})
	}
}

func TestRefitKind_String(t *testing.T) {
	t.Parallel()

	if model.RefitFresh.String() != "fresh" || model.RefitAccepted.String() != "refit" || model.RefitLimitExceeded.String() != "limit_exceeded" {
		t.Error("unexpected refit kind names")
	}
}
