// Package service holds the fitting orchestrator and the account and saved-fit
// business logic.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/fitsa/fitsa/internal/model"
)

// Service errors.
var (
	ErrInvalidRequest  = errors.New("invalid fitting request")
	ErrInvalidSavedFit = errors.New("invalid saved fit")
	ErrSavedFitExists  = errors.New("saved fit already exists")
	ErrSavedFitMissing = errors.New("saved fit not found")
	ErrInvalidAmount   = errors.New("credit amount must be positive")
	ErrDevToolsOff     = errors.New("dev tools are disabled")
)

func invalidf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}

// QuotaExceededError is returned when a new fitting cannot be paid for.
type QuotaExceededError struct {
	Balance model.Balance
}

func (e *QuotaExceededError) Error() string {
	return fmt.Sprintf("quota exceeded: %d free, %d credits", e.Balance.FreeRemaining, e.Balance.Credits)
}

// RateLimitedError is returned when an identical request used up its refits.
type RateLimitedError struct {
	Count    int
	Limit    int
	ResetsAt time.Time
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("refit limit exceeded: %d/%d until %s", e.Count, e.Limit, e.ResetsAt.Format(time.RFC3339))
}

// RetryAfter returns the time left until the window resets, at least one second.
func (e *RateLimitedError) RetryAfter(now time.Time) time.Duration {
	d := e.ResetsAt.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}

// ComposeError is a failed composition stage. The charge for the attempt stands.
type ComposeError struct {
	Stage    int
	Category model.Category
	Err      error

	// Snapshot of the balance after the attempt.
	Balance model.Balance
}

func (e *ComposeError) Error() string {
	return fmt.Sprintf("compose stage %d (%s): %v", e.Stage, e.Category, e.Err)
}

func (e *ComposeError) Unwrap() error { return e.Err }

// Timeout reports whether the stage ran out of time.
func (e *ComposeError) Timeout() bool {
	return errors.Is(e.Err, context.DeadlineExceeded)
}
