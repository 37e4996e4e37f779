package payment

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/client"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/fitsa/fitsa/internal/model"
)

const (
	stripeSignatureHeader = "Stripe-Signature"
	metadataCredits       = "credits"
	metadataUserID        = "user_id"
)

// StripeConfig configures Stripe Checkout.
type StripeConfig struct {
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	Offer         Offer
	// Backends overrides the API endpoint. Nil uses api.stripe.com.
	Backends *stripe.Backends
}

// StripeGateway sells credit packs through one-off Stripe Checkout sessions.
type StripeGateway struct {
	sc            *client.API
	webhookSecret string
	successURL    string
	cancelURL     string
	offer         Offer
}

var _ Gateway = (*StripeGateway)(nil)

// NewStripeGateway creates a gateway with its own API client.
func NewStripeGateway(cfg StripeConfig) *StripeGateway {
	sc := &client.API{}
	sc.Init(cfg.SecretKey, cfg.Backends)
	return &StripeGateway{
		sc:            sc,
		webhookSecret: cfg.WebhookSecret,
		successURL:    cfg.SuccessURL,
		cancelURL:     cfg.CancelURL,
		offer:         cfg.Offer,
	}
}

func (g *StripeGateway) Name() string { return "stripe" }

// CreateCheckout implements Gateway.
func (g *StripeGateway) CreateCheckout(ctx context.Context, userID string) (*model.Checkout, error) {
	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		ClientReferenceID: stripe.String(userID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(g.offer.Currency),
					UnitAmount: stripe.Int64(g.offer.PriceCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(fmt.Sprintf("%d fitting credits", g.offer.Credits)),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		SuccessURL: stripe.String(g.successURL),
		CancelURL:  stripe.String(g.cancelURL),
	}
	params.Context = ctx
	params.AddMetadata(metadataCredits, strconv.Itoa(g.offer.Credits))
	params.AddMetadata(metadataUserID, userID)

	sess, err := g.sc.CheckoutSessions.New(params)
	if err != nil {
		return nil, fmt.Errorf("failed to create checkout session: %w", err)
	}
	return &model.Checkout{SessionID: sess.ID, URL: sess.URL}, nil
}

// ParseWebhook implements Gateway. Only paid checkout.session.completed
// events produce a purchase.
func (g *StripeGateway) ParseWebhook(payload []byte, header http.Header) (*model.Purchase, error) {
	event, err := webhook.ConstructEventWithOptions(
		payload,
		header.Get(stripeSignatureHeader),
		g.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true},
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}

	if event.Type != "checkout.session.completed" {
		return nil, nil
	}

	var sess stripe.CheckoutSession
	if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, nil
	}
	return g.purchaseFromSession(&sess)
}

// FetchPurchase implements Gateway.
func (g *StripeGateway) FetchPurchase(ctx context.Context, sessionID string) (*model.Purchase, error) {
	params := &stripe.CheckoutSessionParams{}
	params.Context = ctx

	sess, err := g.sc.CheckoutSessions.Get(sessionID, params)
	if err != nil {
		var stripeErr *stripe.Error
		if errors.As(err, &stripeErr) && stripeErr.HTTPStatusCode == http.StatusNotFound {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("failed to retrieve checkout session: %w", err)
	}
	if sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
		return nil, ErrNotPaid
	}
	return g.purchaseFromSession(sess)
}

func (g *StripeGateway) purchaseFromSession(sess *stripe.CheckoutSession) (*model.Purchase, error) {
	userID := sess.ClientReferenceID
	if userID == "" {
		userID = sess.Metadata[metadataUserID]
	}
	if sess.ID == "" || userID == "" {
		return nil, fmt.Errorf("%w: session without id or client reference", ErrMalformedEvent)
	}

	credits := g.offer.Credits
	if raw, ok := sess.Metadata[metadataCredits]; ok {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 {
			credits = n
		}
	}

	created := time.Now().UTC()
	if sess.Created > 0 {
		created = time.Unix(sess.Created, 0).UTC()
	}
	return &model.Purchase{
		ID:          sess.ID,
		UserID:      userID,
		Credits:     credits,
		AmountCents: sess.AmountTotal,
		Currency:    string(sess.Currency),
		Provider:    g.Name(),
		CreatedAt:   created,
	}, nil
}
