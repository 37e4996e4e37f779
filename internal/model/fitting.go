package model

import (
	"strings"
	"time"
)

// Category is the garment category a composition stage applies.
type Category string

const (
	CategoryUpperBody Category = "upper_body"
	CategoryLowerBody Category = "lower_body"
	CategoryDress     Category = "dress"
)

// IsValid reports whether c is a supported category.
func (c Category) IsValid() bool {
	switch c {
	case CategoryUpperBody, CategoryLowerBody, CategoryDress:
		return true
	}
	return false
}

// Quality is an optional rendering hint passed through to the composer.
type Quality string

const (
	QualityStandard Quality = "standard"
	QualityHigh     Quality = "high"
)

// IsValid reports whether q is a supported quality hint.
func (q Quality) IsValid() bool {
	return q == QualityStandard || q == QualityHigh
}

// IdentityKey fingerprints a request's input images and categories.
type IdentityKey string

// Short returns a log-friendly prefix of the key.
func (k IdentityKey) Short() string {
	if len(k) <= 16 {
		return string(k)
	}
	return string(k[:16])
}

// Stage is one garment application.
type Stage struct {
	Category Category
	Garment  []byte
}

// JointCategory returns the mode label of a stage list, e.g. "upper_body+lower_body".
func JointCategory(stages []Stage) string {
	parts := make([]string, len(stages))
	for i, s := range stages {
		parts[i] = string(s.Category)
	}
	return strings.Join(parts, "+")
}

// FittingRequest is one try-on submission.
type FittingRequest struct {
	RequestID string
	UserID    string
	Person    []byte
	Stages    []Stage
	Quality   Quality
}

// FittingState is the orchestrator state of a request.
type FittingState string

const (
	FittingReceived   FittingState = "received"
	FittingAuthorized FittingState = "authorized"
	FittingComposing  FittingState = "composing"
	FittingCommitting FittingState = "committing"
	FittingCompleted  FittingState = "completed"
	FittingFailed     FittingState = "failed"
)

// RefitSnapshot describes the refit window as seen by a completed request.
type RefitSnapshot struct {
	IsRefitting bool       `json:"is_refitting"`
	Count       int        `json:"refit_count"`
	Limit       int        `json:"refit_limit"`
	ResetsAt    *time.Time `json:"refit_resets_at,omitempty"`
	WindowReset bool       `json:"window_reset,omitempty"`
}

// FittingResult is returned for a completed fitting.
type FittingResult struct {
	ID          string        `json:"id"`
	State       FittingState  `json:"status"`
	IdentityKey IdentityKey   `json:"identity_key"`
	ResultURL   string        `json:"result_image_url"`
	Charged     bool          `json:"charged"`
	ChargedFrom DebitSource   `json:"charged_from,omitempty"`
	Balance     Balance       `json:"balance"`
	Refit       RefitSnapshot `json:"refit"`
	Stages      int           `json:"stages"`
	Provider    string        `json:"provider,omitempty"`
	Duration    time.Duration `json:"-"`
	CompletedAt time.Time     `json:"completed_at"`
}
