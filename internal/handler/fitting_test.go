package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/fitsa/fitsa/internal/auth"
	"github.com/fitsa/fitsa/internal/handler/dto"
	"github.com/fitsa/fitsa/internal/model"
	"github.com/fitsa/fitsa/internal/service"
)

type stubSubmitter struct {
	got    *model.FittingRequest
	result *model.FittingResult
	err    error
}

func (s *stubSubmitter) Submit(_ context.Context, req *model.FittingRequest) (*model.FittingResult, error) {
	s.got = req
	return s.result, s.err
}

type formPart struct {
	field, file string
	value       string
}

func multipartBody(t *testing.T, parts ...formPart) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for _, p := range parts {
		if p.file != "" {
			fw, err := mw.CreateFormFile(p.field, p.file)
			if err != nil {
				t.Fatalf("CreateFormFile: %v", err)
			}
			_, _ = fw.Write([]byte(p.value))
			continue
		}
		if err := mw.WriteField(p.field, p.value); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func submit(t *testing.T, h *FittingHandler, parts ...formPart) *httptest.ResponseRecorder {
	t.Helper()
	body, ct := multipartBody(t, parts...)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fittings", body)
	req.Header.Set("Content-Type", ct)
	req = req.WithContext(auth.ContextWithClientID(req.Context(), "client-1"))
	rec := httptest.NewRecorder()
	h.Submit(rec, req)
	return rec
}

func newTestFittingHandler(sub FittingSubmitter) *FittingHandler {
	h := NewFittingHandler(sub, "https://pay.example.com", slog.New(slog.NewTextHandler(io.Discard, nil)))
	h.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return h
}

func TestFittingHandler_ParsesForm(t *testing.T) {
	tests := []struct {
		name       string
		parts      []formPart
		wantStages []model.Category
		wantStatus int
	}{
		{
			name: "single garment defaults to upper body",
			parts: []formPart{
				{field: "person_image", file: "me.png", value: "person"},
				{field: "garment_image", file: "shirt.png", value: "shirt"},
			},
			wantStages: []model.Category{model.CategoryUpperBody},
			wantStatus: http.StatusOK,
		},
		{
			name: "legacy field names",
			parts: []formPart{
				{field: "userPhoto", file: "me.png", value: "person"},
				{field: "clothingPhoto", file: "skirt.png", value: "skirt"},
				{field: "category", value: "lower"},
			},
			wantStages: []model.Category{model.CategoryLowerBody},
			wantStatus: http.StatusOK,
		},
		{
			name: "garments pair with categories by position",
			parts: []formPart{
				{field: "person_image", file: "me.png", value: "person"},
				{field: "garment_image", file: "shirt.png", value: "shirt"},
				{field: "category", value: "upper_body"},
				{field: "garment_image", file: "jeans.png", value: "jeans"},
				{field: "category", value: "lower_body"},
			},
			wantStages: []model.Category{model.CategoryUpperBody, model.CategoryLowerBody},
			wantStatus: http.StatusOK,
		},
		{
			name: "missing person image",
			parts: []formPart{
				{field: "garment_image", file: "shirt.png", value: "shirt"},
			},
			wantStatus: http.StatusBadRequest,
		},
		{
			name: "categories do not match garments",
			parts: []formPart{
				{field: "person_image", file: "me.png", value: "person"},
				{field: "garment_image", file: "shirt.png", value: "shirt"},
				{field: "garment_image", file: "jeans.png", value: "jeans"},
				{field: "category", value: "upper_body"},
			},
			wantStatus: http.StatusBadRequest,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &stubSubmitter{result: &model.FittingResult{ID: "f1", State: model.FittingCompleted}}
			rec := submit(t, newTestFittingHandler(sub), tt.parts...)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d: %s", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantStatus != http.StatusOK {
				if sub.got != nil {
					t.Error("service must not be called for a malformed form")
				}
				return
			}
			if sub.got.UserID != "client-1" || string(sub.got.Person) != "person" {
				t.Errorf("unexpected request %+v", sub.got)
			}
			if len(sub.got.Stages) != len(tt.wantStages) {
				t.Fatalf("stages = %d, want %d", len(sub.got.Stages), len(tt.wantStages))
			}
			for i, c := range tt.wantStages {
				if sub.got.Stages[i].Category != c {
					t.Errorf("stage %d category = %s, want %s", i, sub.got.Stages[i].Category, c)
				}
			}
		})
	}
}

func TestFittingHandler_Completed(t *testing.T) {
	resets := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	sub := &stubSubmitter{result: &model.FittingResult{
		ID:          "01HX",
		State:       model.FittingCompleted,
		ResultURL:   "https://cdn.example.com/results/a.png",
		Charged:     true,
		ChargedFrom: model.DebitSourceFree,
		Balance:     model.Balance{FreeRemaining: 2},
		Refit:       model.RefitSnapshot{Count: 0, Limit: 5, ResetsAt: &resets},
		Stages:      1,
	}}

	rec := submit(t, newTestFittingHandler(sub),
		formPart{field: "person_image", file: "me.png", value: "person"},
		formPart{field: "garment_image", file: "shirt.png", value: "shirt"},
	)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}

	var resp dto.FittingResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Status != "completed" || resp.ResultImageURL == "" {
		t.Errorf("unexpected response %+v", resp)
	}
	info := resp.CreditsInfo
	if info.RemainingFree != 2 || !info.Charged || info.ChargedFrom != model.DebitSourceFree || info.RefitLimit != 5 {
		t.Errorf("unexpected credits_info %+v", info)
	}
}

func TestFittingHandler_ErrorMapping(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
		check      func(t *testing.T, rec *httptest.ResponseRecorder)
	}{
		{
			name:       "invalid request",
			err:        errors.Join(service.ErrInvalidRequest, errors.New("person image must be png")),
			wantStatus: http.StatusBadRequest,
			wantCode:   "INVALID_REQUEST",
		},
		{
			name:       "quota exceeded",
			err:        &service.QuotaExceededError{Balance: model.Balance{}},
			wantStatus: http.StatusPaymentRequired,
			wantCode:   "PAYMENT_REQUIRED",
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var body dto.PaymentRequiredResponse
				_ = json.Unmarshal(rec.Body.Bytes(), &body)
				if body.RemainingFree != 0 || body.Credits != 0 || body.PaymentURL == "" {
					t.Errorf("unexpected body %+v", body)
				}
			},
		},
		{
			name:       "refit limit",
			err:        &service.RateLimitedError{Count: 5, Limit: 5, ResetsAt: now.Add(90*time.Second + 300*time.Millisecond)},
			wantStatus: http.StatusTooManyRequests,
			wantCode:   "REFIT_LIMIT_EXCEEDED",
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				if got := rec.Header().Get("Retry-After"); got != "91" {
					t.Errorf("Retry-After = %q, want 91", got)
				}
				var body dto.RefitLimitResponse
				_ = json.Unmarshal(rec.Body.Bytes(), &body)
				if body.RefitCount != 5 || body.RefitLimit != 5 || body.RetryAfterSeconds != 91 {
					t.Errorf("unexpected body %+v", body)
				}
			},
		},
		{
			name:       "composition failed keeps balance",
			err:        &service.ComposeError{Stage: 1, Category: model.CategoryUpperBody, Err: errors.New("boom"), Balance: model.Balance{FreeRemaining: 1, Credits: 4}},
			wantStatus: http.StatusBadGateway,
			wantCode:   "COMPOSITION_FAILED",
			check: func(t *testing.T, rec *httptest.ResponseRecorder) {
				var body dto.CompositionFailedResponse
				_ = json.Unmarshal(rec.Body.Bytes(), &body)
				if body.CreditsInfo.RemainingFree != 1 || body.CreditsInfo.Credits != 4 {
					t.Errorf("unexpected credits_info %+v", body.CreditsInfo)
				}
			},
		},
		{
			name:       "composition timeout",
			err:        &service.ComposeError{Stage: 2, Err: context.DeadlineExceeded},
			wantStatus: http.StatusGatewayTimeout,
			wantCode:   "COMPOSITION_TIMEOUT",
		},
		{
			name:       "internal",
			err:        errors.New("ledger unavailable"),
			wantStatus: http.StatusInternalServerError,
			wantCode:   "INTERNAL_ERROR",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := submit(t, newTestFittingHandler(&stubSubmitter{err: tt.err}),
				formPart{field: "person_image", file: "me.png", value: "person"},
				formPart{field: "garment_image", file: "shirt.png", value: "shirt"},
			)

			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			var body dto.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatalf("decode: %v", err)
			}
			if body.Code != tt.wantCode {
				t.Errorf("code = %s, want %s", body.Code, tt.wantCode)
			}
			if tt.check != nil {
				tt.check(t, rec)
			}
		})
	}
}

func TestFittingHandler_CategoryErrors(t *testing.T) {
	tests := []struct {
		name    string
		parts   []formPart
		wantMsg string
	}{
		{
			name: "several garments without categories",
			parts: []formPart{
				{field: "person_image", file: "me.png", value: "person"},
				{field: "garment_image", file: "shirt.png", value: "shirt"},
				{field: "garment_image", file: "jeans.png", value: "jeans"},
			},
			wantMsg: "category is required for each of the 2 garment images",
		},
		{
			name: "fewer categories than garments",
			parts: []formPart{
				{field: "person_image", file: "me.png", value: "person"},
				{field: "garment_image", file: "shirt.png", value: "shirt"},
				{field: "garment_image", file: "jeans.png", value: "jeans"},
				{field: "category", value: "upper_body"},
			},
			wantMsg: "got 2 garment images and 1 category values",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sub := &stubSubmitter{}
			rec := submit(t, newTestFittingHandler(sub), tt.parts...)

			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400: %s", rec.Code, rec.Body.String())
			}
			var resp dto.ErrorResponse
			if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
				t.Fatalf("decode response: %v", err)
			}
			if resp.Code != "INVALID_REQUEST" || resp.Error != tt.wantMsg {
				t.Errorf("got %s %q, want INVALID_REQUEST %q", resp.Code, resp.Error, tt.wantMsg)
			}
			if sub.got != nil {
				t.Error("service must not be called for a malformed form")
			}
		})
	}
}

func TestFittingHandler_NotMultipart(t *testing.T) {
	h := newTestFittingHandler(&stubSubmitter{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/fittings", bytes.NewBufferString(`{}`))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.Submit(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rec.Code)
	}
}
