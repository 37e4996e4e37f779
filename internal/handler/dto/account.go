package dto

import "github.com/fitsa/fitsa/internal/model"

// StatusResponse is the caller's spendable balance.
type StatusResponse struct {
	UserID        string `json:"user_id"`
	RemainingFree int    `json:"remaining_free"`
	Credits       int    `json:"credits"`
}

// ToStatusResponse converts a balance to StatusResponse.
func ToStatusResponse(userID string, b model.Balance) *StatusResponse {
	return &StatusResponse{UserID: userID, RemainingFree: b.FreeRemaining, Credits: b.Credits}
}

// Pagination provides cursor-based pagination info.
type Pagination struct {
	NextCursor string `json:"next_cursor,omitempty"`
	HasMore    bool   `json:"has_more"`
}

// HistoryResponse is one page of usage events.
type HistoryResponse struct {
	Data       []*model.UsageEvent `json:"data"`
	Pagination *Pagination         `json:"pagination"`
}

// CheckoutResponse points the client at a hosted payment page.
type CheckoutResponse struct {
	SessionID string `json:"session_id"`
	URL       string `json:"url"`
}

// CompletePurchaseRequest confirms a paid checkout session.
type CompletePurchaseRequest struct {
	SessionID string `json:"session_id"`
}

// PurchaseResponse is the ledger state after a purchase.
type PurchaseResponse struct {
	PurchaseID     string         `json:"purchase_id"`
	CreditsAdded   int            `json:"credits_added"`
	NewBalance     StatusResponse `json:"new_balance"`
	AlreadyApplied bool           `json:"already_applied"`
}

// AdminCreditRequest grants credits to a user.
type AdminCreditRequest struct {
	Amount int `json:"amount"`
}
