package dto

import (
	"time"

	"github.com/fitsa/fitsa/internal/model"
)

// CreditsInfo is the balance and refit state attached to fitting responses.
type CreditsInfo struct {
	RemainingFree int               `json:"remaining_free"`
	Credits       int               `json:"credits"`
	IsRefitting   bool              `json:"is_refitting"`
	RefitCount    int               `json:"refit_count"`
	RefitLimit    int               `json:"refit_limit"`
	RefitResetsAt *time.Time        `json:"refit_resets_at,omitempty"`
	Charged       bool              `json:"charged"`
	ChargedFrom   model.DebitSource `json:"charged_from,omitempty"`
}

// FittingResponse is the body of a completed fitting.
type FittingResponse struct {
	Status         string      `json:"status"`
	ID             string      `json:"id"`
	ResultImageURL string      `json:"result_image_url"`
	Stages         int         `json:"stages"`
	DurationMS     int64       `json:"duration_ms"`
	CompletedAt    time.Time   `json:"completed_at"`
	CreditsInfo    CreditsInfo `json:"credits_info"`
}

// ToFittingResponse converts a FittingResult to its API shape.
func ToFittingResponse(r *model.FittingResult) *FittingResponse {
	return &FittingResponse{
		Status:         string(r.State),
		ID:             r.ID,
		ResultImageURL: r.ResultURL,
		Stages:         r.Stages,
		DurationMS:     r.Duration.Milliseconds(),
		CompletedAt:    r.CompletedAt,
		CreditsInfo: CreditsInfo{
			RemainingFree: r.Balance.FreeRemaining,
			Credits:       r.Balance.Credits,
			IsRefitting:   r.Refit.IsRefitting,
			RefitCount:    r.Refit.Count,
			RefitLimit:    r.Refit.Limit,
			RefitResetsAt: r.Refit.ResetsAt,
			Charged:       r.Charged,
			ChargedFrom:   r.ChargedFrom,
		},
	}
}

// BalanceInfo returns CreditsInfo holding only a balance.
func BalanceInfo(b model.Balance) CreditsInfo {
	return CreditsInfo{RemainingFree: b.FreeRemaining, Credits: b.Credits}
}
