package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/fitsa/fitsa/internal/ledger"
	"github.com/fitsa/fitsa/internal/metrics"
	"github.com/fitsa/fitsa/internal/model"
	"github.com/fitsa/fitsa/internal/payment"
	"github.com/fitsa/fitsa/internal/usage"
)

type fakeGateway struct {
	payment.Disabled
	purchases map[string]*model.Purchase
}

func (g *fakeGateway) Name() string { return "fake" }

func (g *fakeGateway) CreateCheckout(_ context.Context, userID string) (*model.Checkout, error) {
	return &model.Checkout{SessionID: "cs_" + userID, URL: "https://pay.example.com/cs_" + userID}, nil
}

func (g *fakeGateway) FetchPurchase(_ context.Context, sessionID string) (*model.Purchase, error) {
	p, ok := g.purchases[sessionID]
	if !ok {
		return nil, payment.ErrSessionNotFound
	}
	return p, nil
}

func newAccountService(t *testing.T, gw payment.Gateway, devTools bool) (*AccountService, *ledger.MemoryStore, *metrics.InMemoryRecorder) {
	t.Helper()
	store := ledger.NewMemoryStore(3)
	rec := metrics.NewInMemory()
	svc := NewAccountService(store, usage.NewMemoryLog(0), gw,
		AccountOptions{Offer: payment.Offer{Credits: 10, PriceCents: 200, Currency: "usd"}, DevTools: devTools},
		slog.New(slog.NewTextHandler(io.Discard, nil)), rec)
	return svc, store, rec
}

func TestAccountService_CompletePurchaseIsIdempotent(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{purchases: map[string]*model.Purchase{
		"cs_1": {ID: "cs_1", UserID: "u1", Credits: 10, AmountCents: 200, Currency: "usd", Provider: "fake"},
	}}
	svc, _, rec := newAccountService(t, gw, false)
	ctx := context.Background()

	first, err := svc.CompletePurchase(ctx, "u1", "cs_1")
	if err != nil {
		t.Fatalf("CompletePurchase failed: %v", err)
	}
	if !first.Applied || first.CreditsAdded != 10 || first.Balance.Credits != 10 {
		t.Errorf("unexpected first result %+v", first)
	}

	again, err := svc.CompletePurchase(ctx, "u1", "cs_1")
	if err != nil {
		t.Fatalf("second CompletePurchase failed: %v", err)
	}
	if again.Applied || again.CreditsAdded != 0 || again.Balance.Credits != 10 {
		t.Errorf("refresh must not credit again: %+v", again)
	}
	if rec.Snapshot().CreditsPurchased != 10 {
		t.Errorf("credits purchased metric = %d", rec.Snapshot().CreditsPurchased)
	}
}

func TestAccountService_CompletePurchaseChecksOwner(t *testing.T) {
	t.Parallel()
	gw := &fakeGateway{purchases: map[string]*model.Purchase{
		"cs_1": {ID: "cs_1", UserID: "u1", Credits: 10},
	}}
	svc, _, _ := newAccountService(t, gw, false)

	if _, err := svc.CompletePurchase(context.Background(), "u2", "cs_1"); !errors.Is(err, payment.ErrSessionNotFound) {
		t.Errorf("expected ErrSessionNotFound, got %v", err)
	}
	if _, err := svc.CompletePurchase(context.Background(), "u1", ""); !errors.Is(err, ErrInvalidRequest) {
		t.Errorf("expected ErrInvalidRequest, got %v", err)
	}
}

func TestAccountService_HandleWebhook(t *testing.T) {
	t.Parallel()
	gw := payment.NewSignedGateway("whsec", payment.Offer{Credits: 10, Currency: "usd"})
	svc, store, _ := newAccountService(t, gw, false)
	ctx := context.Background()

	sign := func(body []byte) http.Header {
		now := time.Now().Unix()
		h := http.Header{}
		h.Set(payment.TimestampHeader, strconv.FormatInt(now, 10))
		h.Set(payment.SignatureHeader, payment.GenerateSignature("whsec", now, body))
		return h
	}

	body := []byte(`{"event":"purchase.completed","purchase_id":"pay_1","user_id":"u1","credits":5}`)
	for i := 0; i < 2; i++ {
		res, err := svc.HandleWebhook(ctx, body, sign(body))
		if err != nil {
			t.Fatalf("delivery %d: %v", i, err)
		}
		if res.Applied != (i == 0) {
			t.Errorf("delivery %d: applied = %v", i, res.Applied)
		}
	}
	if b, _ := store.Status(ctx, "u1"); b.Credits != 5 {
		t.Errorf("credits = %d, want 5 after duplicate delivery", b.Credits)
	}

	ignored := []byte(`{"event":"purchase.refunded","purchase_id":"pay_1","user_id":"u1"}`)
	res, err := svc.HandleWebhook(ctx, ignored, sign(ignored))
	if err != nil || res != nil {
		t.Errorf("ignored event = %+v, %v", res, err)
	}

	if _, err := svc.HandleWebhook(ctx, body, http.Header{}); !errors.Is(err, payment.ErrInvalidSignature) {
		t.Errorf("expected ErrInvalidSignature, got %v", err)
	}
}

func TestAccountService_BillingDisabled(t *testing.T) {
	t.Parallel()
	svc, _, _ := newAccountService(t, nil, false)

	if _, err := svc.Checkout(context.Background(), "u1"); !errors.Is(err, payment.ErrBillingDisabled) {
		t.Errorf("expected ErrBillingDisabled, got %v", err)
	}
	if svc.GatewayName() != "none" {
		t.Errorf("GatewayName = %q", svc.GatewayName())
	}
}

func TestAccountService_DevTools(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	off, _, _ := newAccountService(t, nil, false)
	if _, err := off.SimulatePurchase(ctx, "u1"); !errors.Is(err, ErrDevToolsOff) {
		t.Errorf("expected ErrDevToolsOff, got %v", err)
	}
	if _, err := off.ResetFreeSelf(ctx, "u1"); !errors.Is(err, ErrDevToolsOff) {
		t.Errorf("expected ErrDevToolsOff, got %v", err)
	}

	on, store, _ := newAccountService(t, nil, true)
	res, err := on.SimulatePurchase(ctx, "u1")
	if err != nil {
		t.Fatalf("SimulatePurchase failed: %v", err)
	}
	if res.CreditsAdded != 10 || res.Balance.Credits != 10 {
		t.Errorf("unexpected simulate result %+v", res)
	}

	if _, err := store.TryDebit(ctx, "u1"); err != nil {
		t.Fatalf("TryDebit failed: %v", err)
	}
	b, err := on.ResetFreeSelf(ctx, "u1")
	if err != nil {
		t.Fatalf("ResetFreeSelf failed: %v", err)
	}
	if b.FreeRemaining != 3 || b.Credits != 10 {
		t.Errorf("balance after reset = %+v", b)
	}
}

func TestAccountService_AdminCredit(t *testing.T) {
	t.Parallel()
	svc, _, _ := newAccountService(t, nil, false)
	ctx := context.Background()

	if _, err := svc.AdminCredit(ctx, "u1", 0); !errors.Is(err, ErrInvalidAmount) {
		t.Errorf("expected ErrInvalidAmount, got %v", err)
	}
	b, err := svc.AdminCredit(ctx, "u1", 7)
	if err != nil {
		t.Fatalf("AdminCredit failed: %v", err)
	}
	if b.Credits != 7 || b.FreeRemaining != 3 {
		t.Errorf("balance = %+v", b)
	}

	acc, err := svc.Account(ctx, "u1")
	if err != nil {
		t.Fatalf("Account failed: %v", err)
	}
	if acc.CreditsPurchasedTotal != 7 {
		t.Errorf("CreditsPurchasedTotal = %d", acc.CreditsPurchasedTotal)
	}
}

func TestAccountService_HistoryDefaultsLimit(t *testing.T) {
	t.Parallel()
	log := usage.NewMemoryLog(0)
	svc := NewAccountService(ledger.NewMemoryStore(3), log, nil, AccountOptions{}, nil, nil)

	base := time.Now().UTC()
	for i := 0; i < 25; i++ {
		log.Record(model.UsageEvent{UserID: "u1", Outcome: model.UsageCompleted, OccurredAt: base.Add(time.Duration(i) * time.Second)})
	}

	page, next, err := svc.History(context.Background(), "u1", "", 0)
	if err != nil {
		t.Fatalf("History failed: %v", err)
	}
	if len(page) != defaultHistoryLimit || next == "" {
		t.Errorf("page = %d, next = %q", len(page), next)
	}
	rest, next, err := svc.History(context.Background(), "u1", next, 50)
	if err != nil {
		t.Fatalf("History page 2 failed: %v", err)
	}
	if len(rest) != 5 || next != "" {
		t.Errorf("page 2 = %d, next = %q", len(rest), next)
	}
}
