package model

import "time"

// Purchase is a confirmed credit purchase reported by a payment gateway.
type Purchase struct {
	ID          string    `json:"id"` // gateway session/payment id, used for idempotency
	UserID      string    `json:"user_id"`
	Credits     int       `json:"credits"`
	AmountCents int64     `json:"amount_cents"`
	Currency    string    `json:"currency"`
	Provider    string    `json:"provider"`
	CreatedAt   time.Time `json:"created_at"`
}

// Checkout is a hosted payment page the client is redirected to.
type Checkout struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}
