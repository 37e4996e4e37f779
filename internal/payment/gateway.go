// Package payment turns gateway checkouts and callbacks into credit purchases.
package payment

import (
	"context"
	"errors"
	"net/http"

	"github.com/fitsa/fitsa/internal/model"
)

var (
	ErrBillingDisabled      = errors.New("billing is disabled")
	ErrCheckoutUnsupported  = errors.New("gateway does not host checkout sessions")
	ErrInvalidSignature     = errors.New("invalid signature")
	ErrReplayWindowExceeded = errors.New("timestamp outside replay window")
	ErrMalformedEvent       = errors.New("malformed payment event")
	ErrNotPaid              = errors.New("checkout session is not paid")
	ErrSessionNotFound      = errors.New("checkout session not found")
)

// Offer is the credit pack sold by one checkout.
type Offer struct {
	Credits    int
	PriceCents int64
	Currency   string
}

// Gateway is a payment provider.
type Gateway interface {
	Name() string
	// CreateCheckout starts a hosted checkout for userID.
	CreateCheckout(ctx context.Context, userID string) (*model.Checkout, error)
	// ParseWebhook verifies a callback. It returns nil for events that do not
	// complete a purchase.
	ParseWebhook(payload []byte, header http.Header) (*model.Purchase, error)
	// FetchPurchase returns the purchase behind a paid checkout session.
	FetchPurchase(ctx context.Context, sessionID string) (*model.Purchase, error)
}

// Disabled rejects every call with ErrBillingDisabled.
type Disabled struct{}

var _ Gateway = Disabled{}

func (Disabled) Name() string { return "none" }

func (Disabled) CreateCheckout(context.Context, string) (*model.Checkout, error) {
	return nil, ErrBillingDisabled
}

func (Disabled) ParseWebhook([]byte, http.Header) (*model.Purchase, error) {
	return nil, ErrBillingDisabled
}

func (Disabled) FetchPurchase(context.Context, string) (*model.Purchase, error) {
	return nil, ErrBillingDisabled
}
