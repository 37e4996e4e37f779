package auth

import "context"

type contextKey string

const (
	clientIDKey contextKey = "client_id"
	adminKey    contextKey = "admin"
)

// ContextWithClientID stores the caller's ledger user id.
func ContextWithClientID(ctx context.Context, clientID string) context.Context {
	return context.WithValue(ctx, clientIDKey, clientID)
}

// ClientIDFromContext returns the caller's user id, or "" when the client
// identity middleware did not run.
func ClientIDFromContext(ctx context.Context) string {
	id, _ := ctx.Value(clientIDKey).(string)
	return id
}

// ContextWithAdmin marks the request as authenticated with the admin token.
func ContextWithAdmin(ctx context.Context) context.Context {
	return context.WithValue(ctx, adminKey, true)
}

// IsAdmin reports whether the admin middleware authenticated the request.
func IsAdmin(ctx context.Context) bool {
	ok, _ := ctx.Value(adminKey).(bool)
	return ok
}
