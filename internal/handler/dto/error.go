// Package dto provides Data Transfer Objects for API requests and responses.
package dto

import "time"

// ErrorResponse represents an API error.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// PaymentRequiredResponse is returned when a new fitting cannot be paid for.
type PaymentRequiredResponse struct {
	ErrorResponse
	RemainingFree int    `json:"remaining_free"`
	Credits       int    `json:"credits"`
	PaymentURL    string `json:"payment_url,omitempty"`
}

// RefitLimitResponse is returned when an identical request used up its refits.
type RefitLimitResponse struct {
	ErrorResponse
	RefitCount        int       `json:"refit_count"`
	RefitLimit        int       `json:"refit_limit"`
	RetryAfterSeconds int       `json:"retry_after_seconds"`
	ResetsAt          time.Time `json:"refit_resets_at"`
}

// CompositionFailedResponse carries the balance after a failed composition.
type CompositionFailedResponse struct {
	ErrorResponse
	Stage       int         `json:"stage"`
	CreditsInfo CreditsInfo `json:"credits_info"`
}
