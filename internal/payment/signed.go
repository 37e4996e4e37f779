package payment

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/fitsa/fitsa/internal/model"
)

const (
	SignatureHeader = "X-Fitsa-Signature"
	TimestampHeader = "X-Fitsa-Timestamp"

	// EventPurchaseCompleted is the only signed event that credits an account.
	EventPurchaseCompleted = "purchase.completed"
)

// SignedEvent is the body of a signed gateway callback.
type SignedEvent struct {
	Event       string `json:"event"`
	PurchaseID  string `json:"purchase_id"`
	UserID      string `json:"user_id"`
	Credits     int    `json:"credits"`
	AmountCents int64  `json:"amount_cents"`
	Currency    string `json:"currency"`
}

// SignedGateway accepts HMAC-signed callbacks from a generic payment
// gateway. It has no hosted checkout.
type SignedGateway struct {
	secret string
	offer  Offer
	window time.Duration
	now    func() time.Time
}

var _ Gateway = (*SignedGateway)(nil)

// NewSignedGateway creates a gateway verifying callbacks with secret.
func NewSignedGateway(secret string, offer Offer) *SignedGateway {
	return &SignedGateway{
		secret: secret,
		offer:  offer,
		window: DefaultReplayWindow,
		now:    time.Now,
	}
}

func (g *SignedGateway) Name() string { return "signed" }

func (g *SignedGateway) CreateCheckout(context.Context, string) (*model.Checkout, error) {
	return nil, ErrCheckoutUnsupported
}

func (g *SignedGateway) FetchPurchase(context.Context, string) (*model.Purchase, error) {
	return nil, ErrCheckoutUnsupported
}

// ParseWebhook implements Gateway.
func (g *SignedGateway) ParseWebhook(payload []byte, header http.Header) (*model.Purchase, error) {
	signature := header.Get(SignatureHeader)
	rawTS := header.Get(TimestampHeader)
	if signature == "" || rawTS == "" {
		return nil, ErrInvalidSignature
	}
	ts, err := strconv.ParseInt(rawTS, 10, 64)
	if err != nil {
		return nil, ErrInvalidSignature
	}
	if err := ValidateSignature(g.secret, signature, ts, payload, g.window, g.now()); err != nil {
		return nil, err
	}

	var event SignedEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if event.Event != EventPurchaseCompleted {
		return nil, nil
	}
	if event.PurchaseID == "" || event.UserID == "" {
		return nil, fmt.Errorf("%w: purchase_id and user_id are required", ErrMalformedEvent)
	}

	credits := event.Credits
	if credits <= 0 {
		credits = g.offer.Credits
	}
	currency := event.Currency
	if currency == "" {
		currency = g.offer.Currency
	}
	return &model.Purchase{
		ID:          event.PurchaseID,
		UserID:      event.UserID,
		Credits:     credits,
		AmountCents: event.AmountCents,
		Currency:    currency,
		Provider:    g.Name(),
		CreatedAt:   g.now().UTC(),
	}, nil
}
