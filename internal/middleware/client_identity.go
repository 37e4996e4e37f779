package middleware

import (
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/fitsa/fitsa/internal/auth"
)

// ClientIDHeader carries the client identity for non-browser clients.
const ClientIDHeader = "X-Client-ID"

const clientCookieMaxAge = 365 * 24 * time.Hour

// ClientIdentityConfig configures the anonymous client identity.
type ClientIdentityConfig struct {
	CookieName string
	// Secure marks the issued cookie Secure.
	Secure bool
}

// ClientIdentity resolves the caller's ledger user id. An X-Client-ID header
// wins over the cookie; both must hold a UUID. A caller with neither gets a
// new UUID in a long-lived HttpOnly cookie.
func ClientIdentity(cfg ClientIdentityConfig) func(http.Handler) http.Handler {
	if cfg.CookieName == "" {
		cfg.CookieName = "fitsa_uid"
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if raw := r.Header.Get(ClientIDHeader); raw != "" {
				id, err := uuid.Parse(raw)
				if err != nil {
					writeError(w, http.StatusBadRequest, "INVALID_CLIENT_ID", ClientIDHeader+" must be a UUID")
					return
				}
				next.ServeHTTP(w, r.WithContext(auth.ContextWithClientID(r.Context(), id.String())))
				return
			}

			var clientID string
			if c, err := r.Cookie(cfg.CookieName); err == nil {
				if id, err := uuid.Parse(c.Value); err == nil {
					clientID = id.String()
				}
			}
			if clientID == "" {
				clientID = uuid.NewString()
				http.SetCookie(w, &http.Cookie{
					Name:     cfg.CookieName,
					Value:    clientID,
					Path:     "/",
					MaxAge:   int(clientCookieMaxAge.Seconds()),
					HttpOnly: true,
					Secure:   cfg.Secure,
					SameSite: http.SameSiteLaxMode,
				})
			}
			w.Header().Set(ClientIDHeader, clientID)

			next.ServeHTTP(w, r.WithContext(auth.ContextWithClientID(r.Context(), clientID)))
		})
	}
}
