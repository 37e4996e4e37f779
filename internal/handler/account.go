package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/fitsa/fitsa/internal/auth"
	"github.com/fitsa/fitsa/internal/handler/dto"
	"github.com/fitsa/fitsa/internal/payment"
	"github.com/fitsa/fitsa/internal/service"
)

// Webhook payloads from payment gateways are small.
const maxWebhookBody = 64 << 10

// AccountHandler serves balances, usage history, billing and account admin.
type AccountHandler struct {
	svc    *service.AccountService
	logger *slog.Logger
}

// NewAccountHandler creates a new AccountHandler.
func NewAccountHandler(svc *service.AccountService, logger *slog.Logger) *AccountHandler {
	return &AccountHandler{svc: svc, logger: logger}
}

// Status handles GET /api/v1/me/status.
func (h *AccountHandler) Status(w http.ResponseWriter, r *http.Request) {
	userID := auth.ClientIDFromContext(r.Context())
	balance, err := h.svc.Status(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToStatusResponse(userID, balance))
}

// History handles GET /api/v1/me/history.
func (h *AccountHandler) History(w http.ResponseWriter, r *http.Request) {
	userID := auth.ClientIDFromContext(r.Context())
	query := r.URL.Query()

	events, next, err := h.svc.History(r.Context(), userID, query.Get("cursor"), parseLimit(query.Get("limit")))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.HistoryResponse{
		Data:       events,
		Pagination: &dto.Pagination{NextCursor: next, HasMore: next != ""},
	})
}

// Checkout handles POST /api/v1/billing/checkout.
func (h *AccountHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	checkout, err := h.svc.Checkout(r.Context(), auth.ClientIDFromContext(r.Context()))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.CheckoutResponse{SessionID: checkout.SessionID, URL: checkout.URL})
}

// Complete handles POST /api/v1/billing/complete.
func (h *AccountHandler) Complete(w http.ResponseWriter, r *http.Request) {
	var req dto.CompletePurchaseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	userID := auth.ClientIDFromContext(r.Context())
	result, err := h.svc.CompletePurchase(r.Context(), userID, req.SessionID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseResponse(userID, result))
}

// Webhook handles POST /api/v1/billing/webhook. It carries no client identity;
// the purchase names its user.
func (h *AccountHandler) Webhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "webhook body too large")
		return
	}

	result, err := h.svc.HandleWebhook(r.Context(), payload, r.Header)
	if err != nil {
		h.logger.Warn("payment_webhook_rejected", "provider", h.svc.GatewayName(), "error", err)
		h.handleServiceError(w, err)
		return
	}

	resp := map[string]any{"received": true}
	if result != nil {
		resp["purchase_id"] = result.PurchaseID
		resp["applied"] = result.Applied
	}
	writeJSON(w, http.StatusOK, resp)
}

// SimulatePurchase handles POST /api/v1/me/simulate-purchase.
func (h *AccountHandler) SimulatePurchase(w http.ResponseWriter, r *http.Request) {
	userID := auth.ClientIDFromContext(r.Context())
	result, err := h.svc.SimulatePurchase(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toPurchaseResponse(userID, result))
}

// ResetFreeSelf handles POST /api/v1/me/reset-free.
func (h *AccountHandler) ResetFreeSelf(w http.ResponseWriter, r *http.Request) {
	userID := auth.ClientIDFromContext(r.Context())
	balance, err := h.svc.ResetFreeSelf(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToStatusResponse(userID, balance))
}

// AdminAccount handles GET /api/v1/admin/accounts/{userID}.
func (h *AccountHandler) AdminAccount(w http.ResponseWriter, r *http.Request) {
	account, err := h.svc.Account(r.Context(), chi.URLParam(r, "userID"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, account)
}

// AdminCredit handles POST /api/v1/admin/accounts/{userID}/credits.
func (h *AccountHandler) AdminCredit(w http.ResponseWriter, r *http.Request) {
	var req dto.AdminCreditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	userID := chi.URLParam(r, "userID")
	balance, err := h.svc.AdminCredit(r.Context(), userID, req.Amount)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	h.logger.Info("admin_credit_granted", "user_id", userID, "amount", req.Amount)
	writeJSON(w, http.StatusOK, dto.ToStatusResponse(userID, balance))
}

// AdminResetFree handles POST /api/v1/admin/accounts/{userID}/reset-free.
func (h *AccountHandler) AdminResetFree(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	balance, err := h.svc.ResetFree(r.Context(), userID)
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ToStatusResponse(userID, balance))
}

func (h *AccountHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.Is(err, service.ErrInvalidAmount):
		writeError(w, http.StatusBadRequest, "INVALID_AMOUNT", "amount must be a positive integer")
	case errors.Is(err, service.ErrDevToolsOff):
		writeError(w, http.StatusNotFound, "NOT_FOUND", "resource not found")
	case errors.Is(err, payment.ErrBillingDisabled):
		writeError(w, http.StatusServiceUnavailable, "BILLING_DISABLED", "billing is not configured")
	case errors.Is(err, payment.ErrCheckoutUnsupported):
		writeError(w, http.StatusNotImplemented, "CHECKOUT_UNSUPPORTED", "this payment provider does not host checkout")
	case errors.Is(err, payment.ErrSessionNotFound):
		writeError(w, http.StatusNotFound, "SESSION_NOT_FOUND", "checkout session not found")
	case errors.Is(err, payment.ErrNotPaid):
		writeError(w, http.StatusConflict, "PAYMENT_PENDING", "checkout session is not paid yet")
	case errors.Is(err, payment.ErrInvalidSignature), errors.Is(err, payment.ErrReplayWindowExceeded):
		writeError(w, http.StatusBadRequest, "INVALID_SIGNATURE", "webhook signature verification failed")
	case errors.Is(err, payment.ErrMalformedEvent):
		writeError(w, http.StatusBadRequest, "MALFORMED_EVENT", "webhook event could not be parsed")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}

func toPurchaseResponse(userID string, r *service.PurchaseResult) dto.PurchaseResponse {
	return dto.PurchaseResponse{
		PurchaseID:     r.PurchaseID,
		CreditsAdded:   r.CreditsAdded,
		NewBalance:     *dto.ToStatusResponse(userID, r.Balance),
		AlreadyApplied: !r.Applied,
	}
}

// parseLimit returns 0 for anything that is not a positive integer, letting
// the service apply its default.
func parseLimit(raw string) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0
	}
	return n
}
