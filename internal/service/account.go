package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fitsa/fitsa/internal/ledger"
	"github.com/fitsa/fitsa/internal/metrics"
	"github.com/fitsa/fitsa/internal/model"
	"github.com/fitsa/fitsa/internal/payment"
	"github.com/fitsa/fitsa/internal/usage"
)

const (
	defaultHistoryLimit = 20
	maxHistoryLimit     = 100
)

// PurchaseResult is the ledger state after applying a purchase.
type PurchaseResult struct {
	PurchaseID   string        `json:"purchase_id"`
	CreditsAdded int           `json:"credits_added"`
	Balance      model.Balance `json:"new_balance"`
	// Applied is false when the purchase had been credited before.
	Applied bool `json:"applied"`
}

// AccountOptions configure billing and the self-service dev tools.
type AccountOptions struct {
	Offer    payment.Offer
	DevTools bool
}

// AccountService exposes balances, usage history and credit purchases.
type AccountService struct {
	ledger  ledger.Store
	history usage.History
	gateway payment.Gateway
	opts    AccountOptions
	logger  *slog.Logger
	metrics metrics.Recorder
}

// NewAccountService creates an AccountService. A nil gateway disables billing.
func NewAccountService(store ledger.Store, history usage.History, gateway payment.Gateway, opts AccountOptions, logger *slog.Logger, recorder metrics.Recorder) *AccountService {
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	if logger == nil {
		logger = slog.Default()
	}
	if gateway == nil {
		gateway = payment.Disabled{}
	}
	return &AccountService{
		ledger:  store,
		history: history,
		gateway: gateway,
		opts:    opts,
		logger:  logger.With("component", "account"),
		metrics: recorder,
	}
}

// GatewayName returns the configured payment provider.
func (s *AccountService) GatewayName() string {
	return s.gateway.Name()
}

// DevToolsEnabled reports whether simulate-purchase and reset-free are open to clients.
func (s *AccountService) DevToolsEnabled() bool {
	return s.opts.DevTools
}

// Status returns the caller's balance without mutating it.
func (s *AccountService) Status(ctx context.Context, userID string) (model.Balance, error) {
	return s.ledger.Status(ctx, userID)
}

// Account returns the full ledger record.
func (s *AccountService) Account(ctx context.Context, userID string) (*model.Account, error) {
	return s.ledger.Account(ctx, userID)
}

// History returns one page of the caller's usage events.
func (s *AccountService) History(ctx context.Context, userID, cursor string, limit int) ([]*model.UsageEvent, string, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	if s.history == nil {
		return []*model.UsageEvent{}, "", nil
	}
	return s.history.List(ctx, userID, cursor, limit)
}

// Checkout starts a hosted checkout for the caller.
func (s *AccountService) Checkout(ctx context.Context, userID string) (*model.Checkout, error) {
	checkout, err := s.gateway.CreateCheckout(ctx, userID)
	if err != nil {
		return nil, err
	}
	s.logger.Info("checkout_created", "user_id", userID, "session_id", checkout.SessionID, "provider", s.gateway.Name())
	return checkout, nil
}

// HandleWebhook verifies a gateway callback and credits the purchase it
// reports. It returns nil for callbacks that do not complete a purchase.
func (s *AccountService) HandleWebhook(ctx context.Context, payload []byte, header http.Header) (*PurchaseResult, error) {
	p, err := s.gateway.ParseWebhook(payload, header)
	if err != nil {
		return nil, err
	}
	if p == nil {
		return nil, nil
	}
	return s.apply(ctx, *p)
}

// CompletePurchase credits the paid checkout session of userID. Calling it
// again for the same session credits nothing.
func (s *AccountService) CompletePurchase(ctx context.Context, userID, sessionID string) (*PurchaseResult, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("%w: session_id is required", ErrInvalidRequest)
	}
	p, err := s.gateway.FetchPurchase(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if p.UserID != userID {
		return nil, payment.ErrSessionNotFound
	}
	return s.apply(ctx, *p)
}

// SimulatePurchase credits one offer without a gateway.
func (s *AccountService) SimulatePurchase(ctx context.Context, userID string) (*PurchaseResult, error) {
	if !s.opts.DevTools {
		return nil, ErrDevToolsOff
	}
	credits := s.opts.Offer.Credits
	if credits <= 0 {
		credits = 10
	}
	return s.apply(ctx, model.Purchase{
		ID:        "sim_" + ulid.Make().String(),
		UserID:    userID,
		Credits:   credits,
		Currency:  s.opts.Offer.Currency,
		Provider:  "simulated",
		CreatedAt: time.Now().UTC(),
	})
}

// ResetFreeSelf restores the caller's free allotment when dev tools are on.
func (s *AccountService) ResetFreeSelf(ctx context.Context, userID string) (model.Balance, error) {
	if !s.opts.DevTools {
		return model.Balance{}, ErrDevToolsOff
	}
	return s.ResetFree(ctx, userID)
}

// ResetFree restores the default free allotment.
func (s *AccountService) ResetFree(ctx context.Context, userID string) (model.Balance, error) {
	balance, err := s.ledger.ResetFree(ctx, userID)
	if err != nil {
		return model.Balance{}, err
	}
	s.logger.Info("free_allotment_reset", "user_id", userID)
	return balance, nil
}

// AdminCredit grants credits outside the payment flow.
func (s *AccountService) AdminCredit(ctx context.Context, userID string, amount int) (model.Balance, error) {
	if amount <= 0 {
		return model.Balance{}, ErrInvalidAmount
	}
	balance, err := s.ledger.Credit(ctx, userID, amount)
	if err != nil {
		if errors.Is(err, ledger.ErrInvalidAmount) {
			return model.Balance{}, ErrInvalidAmount
		}
		return model.Balance{}, err
	}
	s.logger.Info("credits_granted", "user_id", userID, "credits", amount)
	return balance, nil
}

func (s *AccountService) apply(ctx context.Context, p model.Purchase) (*PurchaseResult, error) {
	balance, applied, err := s.ledger.ApplyPurchase(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("apply purchase: %w", err)
	}

	result := &PurchaseResult{PurchaseID: p.ID, Balance: balance, Applied: applied}
	if applied {
		result.CreditsAdded = p.Credits
		s.metrics.AddCreditsPurchased(p.Credits)
		s.logger.Info("credits_purchased",
			"user_id", p.UserID,
			"purchase_id", p.ID,
			"credits", p.Credits,
			"amount_cents", p.AmountCents,
			"currency", p.Currency,
			"provider", p.Provider,
		)
	} else {
		s.logger.Info("purchase_already_applied", "user_id", p.UserID, "purchase_id", p.ID)
	}
	return result, nil
}
