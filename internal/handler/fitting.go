package handler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/fitsa/fitsa/internal/auth"
	"github.com/fitsa/fitsa/internal/handler/dto"
	"github.com/fitsa/fitsa/internal/middleware"
	"github.com/fitsa/fitsa/internal/model"
	"github.com/fitsa/fitsa/internal/service"
)

// Multipart parts above this size spill to temp files.
const multipartMemory = 8 << 20

// Form field names. The second name of each pair is the legacy alias.
var (
	personFields  = []string{"person_image", "userPhoto"}
	garmentFields = []string{"garment_image", "clothingPhoto"}
)

var categoryAliases = map[string]model.Category{
	"upper":   model.CategoryUpperBody,
	"top":     model.CategoryUpperBody,
	"lower":   model.CategoryLowerBody,
	"bottom":  model.CategoryLowerBody,
	"dresses": model.CategoryDress,
	"overall": model.CategoryDress,
}

// FittingSubmitter runs one fitting request.
type FittingSubmitter interface {
	Submit(ctx context.Context, req *model.FittingRequest) (*model.FittingResult, error)
}

// FittingHandler handles try-on submissions.
type FittingHandler struct {
	svc        FittingSubmitter
	paymentURL string
	logger     *slog.Logger
	now        func() time.Time
}

// NewFittingHandler creates a new FittingHandler. paymentURL is returned to
// clients that ran out of quota; it may be empty.
func NewFittingHandler(svc FittingSubmitter, paymentURL string, logger *slog.Logger) *FittingHandler {
	return &FittingHandler{
		svc:        svc,
		paymentURL: paymentURL,
		logger:     logger,
		now:        time.Now,
	}
}

// Submit handles POST /api/v1/fittings.
func (h *FittingHandler) Submit(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", "expected a multipart/form-data body")
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	req, err := parseFittingForm(r.MultipartForm)
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeError(w, http.StatusRequestEntityTooLarge, "PAYLOAD_TOO_LARGE", "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
		return
	}
	req.RequestID = middleware.GetRequestID(r.Context())
	req.UserID = auth.ClientIDFromContext(r.Context())

	result, err := h.svc.Submit(r.Context(), req)
	if err != nil {
		h.handleSubmitError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, dto.ToFittingResponse(result))
}

func (h *FittingHandler) handleSubmitError(w http.ResponseWriter, err error) {
	var quotaErr *service.QuotaExceededError
	var limitErr *service.RateLimitedError
	var composeErr *service.ComposeError

	switch {
	case errors.Is(err, service.ErrInvalidRequest):
		writeError(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error())
	case errors.As(err, &quotaErr):
		writeJSON(w, http.StatusPaymentRequired, dto.PaymentRequiredResponse{
			ErrorResponse: dto.ErrorResponse{
				Error: "free fittings used up, purchase credits to continue",
				Code:  "PAYMENT_REQUIRED",
			},
			RemainingFree: quotaErr.Balance.FreeRemaining,
			Credits:       quotaErr.Balance.Credits,
			PaymentURL:    h.paymentURL,
		})
	case errors.As(err, &limitErr):
		retry := int(math.Ceil(limitErr.RetryAfter(h.now()).Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(retry))
		writeJSON(w, http.StatusTooManyRequests, dto.RefitLimitResponse{
			ErrorResponse: dto.ErrorResponse{
				Error: fmt.Sprintf("refit limit of %d reached for this outfit, retry after %d seconds", limitErr.Limit, retry),
				Code:  "REFIT_LIMIT_EXCEEDED",
			},
			RefitCount:        limitErr.Count,
			RefitLimit:        limitErr.Limit,
			RetryAfterSeconds: retry,
			ResetsAt:          limitErr.ResetsAt.UTC(),
		})
	case errors.As(err, &composeErr):
		status, code, msg := http.StatusBadGateway, "COMPOSITION_FAILED", "image composition failed"
		if composeErr.Timeout() {
			status, code, msg = http.StatusGatewayTimeout, "COMPOSITION_TIMEOUT", "image composition timed out"
		}
		writeJSON(w, status, dto.CompositionFailedResponse{
			ErrorResponse: dto.ErrorResponse{Error: msg, Code: code},
			Stage:         composeErr.Stage,
			CreditsInfo:   dto.BalanceInfo(composeErr.Balance),
		})
	default:
		h.logger.Error("internal_error", "error", err)
		writeError(w, http.StatusInternalServerError, "INTERNAL_ERROR", "an internal error occurred")
	}
}

// parseFittingForm builds a request from the multipart form. Garments pair
// with category values by position; a single garment without a category is
// treated as upper body.
func parseFittingForm(form *multipart.Form) (*model.FittingRequest, error) {
	personHeaders := firstFiles(form, personFields)
	if len(personHeaders) == 0 {
		return nil, errors.New("person_image is required")
	}
	if len(personHeaders) > 1 {
		return nil, errors.New("exactly one person_image is allowed")
	}
	person, err := readPart(personHeaders[0])
	if err != nil {
		return nil, err
	}

	garments := firstFiles(form, garmentFields)
	if len(garments) == 0 {
		return nil, errors.New("at least one garment_image is required")
	}
	cats := form.Value["category"]
	if len(cats) == 0 && len(garments) == 1 {
		cats = []string{string(model.CategoryUpperBody)}
	}
	switch {
	case len(cats) == 0:
		return nil, fmt.Errorf("category is required for each of the %d garment images", len(garments))
	case len(cats) != len(garments):
		return nil, fmt.Errorf("got %d garment images and %d category values", len(garments), len(cats))
	}

	req := &model.FittingRequest{
		Person: person,
		Stages: make([]model.Stage, 0, len(garments)),
	}
	for i, fh := range garments {
		data, err := readPart(fh)
		if err != nil {
			return nil, err
		}
		req.Stages = append(req.Stages, model.Stage{
			Category: normalizeCategory(cats[i]),
			Garment:  data,
		})
	}
	if q := form.Value["quality"]; len(q) > 0 {
		req.Quality = model.Quality(strings.ToLower(strings.TrimSpace(q[0])))
	}
	return req, nil
}

func firstFiles(form *multipart.Form, names []string) []*multipart.FileHeader {
	for _, name := range names {
		if files := form.File[name]; len(files) > 0 {
			return files
		}
	}
	return nil
}

func readPart(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", fh.Filename, err)
	}
	defer f.Close()
	return io.ReadAll(f)
}

func normalizeCategory(raw string) model.Category {
	c := strings.ToLower(strings.TrimSpace(raw))
	if alias, ok := categoryAliases[c]; ok {
		return alias
	}
	return model.Category(c)
}
