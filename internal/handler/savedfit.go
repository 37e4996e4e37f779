package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/fitsa/fitsa/internal/auth"
	"github.com/fitsa/fitsa/internal/handler/dto"
	"github.com/fitsa/fitsa/internal/model"
	"github.com/fitsa/fitsa/internal/service"
)

// SavedFitHandler handles the saved-fit collection of the caller.
type SavedFitHandler struct {
	svc    *service.SavedFitService
	logger *slog.Logger
}

// NewSavedFitHandler creates a new SavedFitHandler.
func NewSavedFitHandler(svc *service.SavedFitService, logger *slog.Logger) *SavedFitHandler {
	return &SavedFitHandler{svc: svc, logger: logger}
}

// Create handles POST /api/v1/saved-fits.
func (h *SavedFitHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req dto.CreateSavedFitRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_JSON", "invalid request body")
		return
	}

	userID := auth.ClientIDFromContext(r.Context())
	fit, err := h.svc.Create(r.Context(), userID, service.SaveFitInput{
		ResultImageURL: req.ResultImageURL,
		ShopName:       req.ShopName,
		ProductName:    req.ProductName,
		ProductURL:     req.ProductURL,
		PriceSnapshot:  req.PriceSnapshot,
		Currency:       req.Currency,
		Category:       model.Category(req.Category),
		Tags:           req.Tags,
		Note:           req.Note,
	})
	if err != nil {
		h.handleServiceError(w, err)
		return
	}

	h.logger.Info("saved_fit_created", "user_id", userID, "saved_fit_id", fit.ID)
	writeJSON(w, http.StatusCreated, fit)
}

// List handles GET /api/v1/saved-fits.
func (h *SavedFitHandler) List(w http.ResponseWriter, r *http.Request) {
	query := r.URL.Query()
	fits, next, err := h.svc.List(r.Context(), auth.ClientIDFromContext(r.Context()), query.Get("cursor"), parseLimit(query.Get("limit")))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.SavedFitListResponse{
		Data:       fits,
		Pagination: &dto.Pagination{NextCursor: next, HasMore: next != ""},
	})
}

// Get handles GET /api/v1/saved-fits/{id}.
func (h *SavedFitHandler) Get(w http.ResponseWriter, r *http.Request) {
	fit, err := h.svc.Get(r.Context(), auth.ClientIDFromContext(r.Context()), chi.URLParam(r, "id"))
	if err != nil {
		h.handleServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, fit)
}

// Delete handles DELETE /api/v1/saved-fits/{id}.
func (h *SavedFitHandler) Delete(w http.ResponseWriter, r *http.Request) {
	if err := h.svc.Delete(r.Context(), auth.ClientIDFromContext(r.Context()), chi.URLParam(r, "id")); err != nil {
		h.handleServiceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *SavedFitHandler) handleServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidSavedFit):
		writeError(w, http.StatusBadRequest, "INVALID_SAVED_FIT", err.Error())
	case errors.Is(err, service.ErrSavedFitMissing):
		writeError(w, http.StatusNotFound, "SAVED_FIT_NOT_FOUND", "saved fit not found")
	case errors.Is(err, service.ErrSavedFitExists):
		writeError(w, http.StatusConflict, "SAVED_FIT_EXISTS", "saved fit already exists")
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}
