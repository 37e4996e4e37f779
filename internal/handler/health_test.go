package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

// mockHealthChecker is a mock implementation of HealthChecker for testing.
type mockHealthChecker struct {
	err error
}

func (m *mockHealthChecker) Ping(ctx context.Context) error {
	return m.err
}

func TestHealthHandler_Healthz(t *testing.T) {
	h := NewHealthHandler(nil, nil, nil)

	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))

	if rec.Code != http.StatusOK {
		t.Errorf("expected status 200, got %d", rec.Code)
	}

	var response HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
		t.Fatalf("failed to decode response: %v", err)
	}
	if response.Status != "ok" {
		t.Errorf("expected status 'ok', got %s", response.Status)
	}
}

func TestHealthHandler_Readyz(t *testing.T) {
	tests := []struct {
		name       string
		db, cache  HealthChecker
		blobs      HealthChecker
		wantStatus int
		wantChecks map[string]string
	}{
		{
			name:       "memory deployment",
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"postgres": "not configured", "redis": "not configured", "blob_storage": "not configured"},
		},
		{
			name:       "all healthy",
			db:         &mockHealthChecker{},
			cache:      &mockHealthChecker{},
			blobs:      &mockHealthChecker{},
			wantStatus: http.StatusOK,
			wantChecks: map[string]string{"postgres": "ok", "redis": "ok", "blob_storage": "ok"},
		},
		{
			name:       "database down",
			db:         &mockHealthChecker{err: errors.New("connection refused")},
			cache:      &mockHealthChecker{},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"postgres": "error: connection refused", "redis": "ok"},
		},
		{
			name:       "bucket unreachable",
			db:         &mockHealthChecker{},
			blobs:      &mockHealthChecker{err: errors.New("access denied")},
			wantStatus: http.StatusServiceUnavailable,
			wantChecks: map[string]string{"blob_storage": "error: access denied"},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := NewHealthHandler(tt.db, tt.cache, tt.blobs)

			rec := httptest.NewRecorder()
			h.Readyz(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))

			if rec.Code != tt.wantStatus {
				t.Errorf("expected status %d, got %d", tt.wantStatus, rec.Code)
			}

			var response HealthResponse
			if err := json.NewDecoder(rec.Body).Decode(&response); err != nil {
				t.Fatalf("failed to decode response: %v", err)
			}
			for name, want := range tt.wantChecks {
				if got := response.Checks[name]; got != want {
					t.Errorf("check %s = %q, want %q", name, got, want)
				}
			}
		})
	}
}
