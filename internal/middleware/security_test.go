package middleware

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestSecurity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name        string
		isDev       bool
		path        string
		checkHeader string
		wantValue   string
	}{
		{"X-Content-Type-Options is set", false, "/", "X-Content-Type-Options", "nosniff"},
		{"X-Frame-Options is set", false, "/", "X-Frame-Options", "DENY"},
		{"Referrer-Policy is set", false, "/", "Referrer-Policy", "strict-origin-when-cross-origin"},
		{"HSTS is set in production", false, "/", "Strict-Transport-Security", "max-age=31536000; includeSubDomains"},
		{"HSTS is NOT set in development", true, "/", "Strict-Transport-Security", ""},
		{"API responses are not cached", false, "/api/v1/me/status", "Cache-Control", "no-store"},
		{"result images are cacheable", false, "/results/2026/03/abc.png", "Cache-Control", "public, max-age=86400, immutable"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := Security(SecurityConfig{IsDevelopment: tt.isDev})(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
			}))

			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.path, nil))

			if got := rec.Header().Get(tt.checkHeader); got != tt.wantValue {
				t.Errorf("header %s = %q, want %q", tt.checkHeader, got, tt.wantValue)
			}
		})
	}
}

func TestMaxBodySize(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name          string
		maxBytes      int64
		contentLength int64
		body          string
		wantStatus    int
	}{
		{"small body allowed", 1024, 10, "small body", http.StatusOK},
		{"content-length exceeds limit", 10, 100, "this is a much longer body that exceeds the limit", http.StatusRequestEntityTooLarge},
		{"streamed body exceeds limit", 10, -1, "this is a much longer body that exceeds the limit", http.StatusRequestEntityTooLarge},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			handler := MaxBodySize(tt.maxBytes)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if _, err := io.Copy(io.Discard, r.Body); err != nil {
					w.WriteHeader(http.StatusRequestEntityTooLarge)
					return
				}
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			req.ContentLength = tt.contentLength
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

func TestRequireContentType(t *testing.T) {
	t.Parallel()

	handler := RequireContentType("multipart/form-data")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	tests := []struct {
		contentType string
		want        int
	}{
		{"multipart/form-data; boundary=abc", http.StatusOK},
		{"application/json", http.StatusUnsupportedMediaType},
		{"", http.StatusUnsupportedMediaType},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/fittings", nil)
		if tt.contentType != "" {
			req.Header.Set("Content-Type", tt.contentType)
		}
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != tt.want {
			t.Errorf("Content-Type %q: status = %d, want %d", tt.contentType, rec.Code, tt.want)
		}
	}
}
