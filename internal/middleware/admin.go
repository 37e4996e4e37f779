package middleware

import (
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/fitsa/fitsa/internal/auth"
)

// minAdminFailure pads rejected admin calls so failures take a constant time.
const minAdminFailure = 200 * time.Millisecond

// AdminTokenVerifier checks admin bearer tokens.
type AdminTokenVerifier interface {
	Verify(token string) bool
}

// RequireAdmin guards admin routes with a bearer token. A nil verifier means
// admin access is not configured and the routes answer 404.
func RequireAdmin(verifier AdminTokenVerifier, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if verifier == nil {
				writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
				return
			}

			start := time.Now()
			token, ok := bearerToken(r)
			if !ok || !verifier.Verify(token) {
				logger.Warn("admin_auth_failed",
					slog.String("request_id", GetRequestID(r.Context())),
					slog.String("path", r.URL.Path),
					slog.String("remote_addr", r.RemoteAddr),
				)
				if wait := minAdminFailure - time.Since(start); wait > 0 {
					time.Sleep(wait)
				}
				w.Header().Set("WWW-Authenticate", `Bearer realm="fitsa-admin"`)
				writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "admin token required")
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithAdmin(r.Context())))
		})
	}
}

func bearerToken(r *http.Request) (string, bool) {
	header := r.Header.Get("Authorization")
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}
