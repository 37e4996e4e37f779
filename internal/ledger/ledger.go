// Package ledger defines the per-user quota ledger: free uses, purchased
// credits and the idempotent record of applied purchases.
package ledger

import (
	"context"
	"errors"

	"github.com/fitsa/fitsa/internal/model"
)

var (
	ErrInvalidAmount   = errors.New("credit amount must be positive")
	ErrInvalidUser     = errors.New("user id is required")
	ErrInvalidPurchase = errors.New("purchase requires id, user and positive credits")
)

// Store is the quota ledger. Every mutating call is linearizable per user and
// never drives free_remaining or credits below zero.
type Store interface {
	// Status returns the balance, creating a default record if none exists.
	Status(ctx context.Context, userID string) (model.Balance, error)
	// Account returns the full record including lifetime counters.
	Account(ctx context.Context, userID string) (*model.Account, error)
	// TryDebit takes one free use, else one credit. A denied debit mutates nothing.
	TryDebit(ctx context.Context, userID string) (model.DebitOutcome, error)
	// Credit adds purchased credits.
	Credit(ctx context.Context, userID string, amount int) (model.Balance, error)
	// ApplyPurchase credits p once per purchase id. applied is false when the
	// purchase had already been recorded.
	ApplyPurchase(ctx context.Context, p model.Purchase) (balance model.Balance, applied bool, err error)
	// ResetFree restores the default free allotment.
	ResetFree(ctx context.Context, userID string) (model.Balance, error)
}

// ValidatePurchase checks the fields every backend relies on.
func ValidatePurchase(p model.Purchase) error {
	if p.ID == "" || p.UserID == "" || p.Credits <= 0 {
		return ErrInvalidPurchase
	}
	return nil
}
