package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fitsa/fitsa/internal/model"
	"github.com/fitsa/fitsa/internal/savedfit"
)

const (
	maxSavedFitText    = 200
	maxSavedFitNote    = 1000
	maxSavedFitTags    = 10
	maxProductURLLen   = 2048
	defaultSavedFitCur = "KRW"
)

// Product link attribution appended to every saved product URL.
var productUTM = [][2]string{
	{"utm_source", "fitsa"},
	{"utm_medium", "savedfits"},
	{"utm_campaign", "buy"},
}

// SaveFitInput is a fitting result the caller wants to keep.
type SaveFitInput struct {
	ResultImageURL string
	ShopName       string
	ProductName    string
	ProductURL     string
	PriceSnapshot  *int64
	Currency       string
	Category       model.Category
	Tags           []string
	Note           string
}

// SavedFitService manages saved fits.
type SavedFitService struct {
	store savedfit.Store
}

// NewSavedFitService creates a SavedFitService.
func NewSavedFitService(store savedfit.Store) *SavedFitService {
	return &SavedFitService{store: store}
}

// Create validates input and stores it for userID.
func (s *SavedFitService) Create(ctx context.Context, userID string, in SaveFitInput) (*model.SavedFit, error) {
	productURL, err := validateSavedFit(in)
	if err != nil {
		return nil, err
	}

	currency := strings.ToUpper(strings.TrimSpace(in.Currency))
	if currency == "" {
		currency = defaultSavedFitCur
	}
	tags := make([]string, 0, len(in.Tags))
	for _, t := range in.Tags {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}

	fit := &model.SavedFit{
		ID:             ulid.Make().String(),
		UserID:         userID,
		ResultImageURL: in.ResultImageURL,
		ShopName:       strings.TrimSpace(in.ShopName),
		ProductName:    strings.TrimSpace(in.ProductName),
		ProductURL:     productURL,
		PriceSnapshot:  in.PriceSnapshot,
		Currency:       currency,
		Category:       in.Category,
		Tags:           tags,
		Note:           in.Note,
		CreatedAt:      time.Now().UTC(),
	}

	if err := s.store.Create(ctx, fit); err != nil {
		if errors.Is(err, savedfit.ErrExists) {
			return nil, ErrSavedFitExists
		}
		return nil, fmt.Errorf("save fit: %w", err)
	}
	return fit, nil
}

// Get returns one of the caller's saved fits.
func (s *SavedFitService) Get(ctx context.Context, userID, id string) (*model.SavedFit, error) {
	fit, err := s.store.Get(ctx, userID, id)
	if errors.Is(err, savedfit.ErrNotFound) {
		return nil, ErrSavedFitMissing
	}
	return fit, err
}

// List returns a page of the caller's saved fits, newest first.
func (s *SavedFitService) List(ctx context.Context, userID, cursor string, limit int) ([]*model.SavedFit, string, error) {
	if limit <= 0 || limit > maxHistoryLimit {
		limit = defaultHistoryLimit
	}
	return s.store.List(ctx, userID, cursor, limit)
}

// Delete removes one of the caller's saved fits.
func (s *SavedFitService) Delete(ctx context.Context, userID, id string) error {
	err := s.store.Delete(ctx, userID, id)
	if errors.Is(err, savedfit.ErrNotFound) {
		return ErrSavedFitMissing
	}
	return err
}

// validateSavedFit checks in and returns the product URL with attribution.
func validateSavedFit(in SaveFitInput) (string, error) {
	if !isHTTPURL(in.ResultImageURL) {
		return "", fmt.Errorf("%w: result_image_url must be an http(s) url", ErrInvalidSavedFit)
	}
	for field, v := range map[string]string{"shop_name": in.ShopName, "product_name": in.ProductName} {
		v = strings.TrimSpace(v)
		if v == "" {
			return "", fmt.Errorf("%w: %s is required", ErrInvalidSavedFit, field)
		}
		if len(v) > maxSavedFitText {
			return "", fmt.Errorf("%w: %s is too long", ErrInvalidSavedFit, field)
		}
	}
	if len(in.Note) > maxSavedFitNote {
		return "", fmt.Errorf("%w: note is too long", ErrInvalidSavedFit)
	}
	if len(in.Tags) > maxSavedFitTags {
		return "", fmt.Errorf("%w: at most %d tags", ErrInvalidSavedFit, maxSavedFitTags)
	}
	if in.Category != "" && !in.Category.IsValid() {
		return "", fmt.Errorf("%w: unknown category %q", ErrInvalidSavedFit, in.Category)
	}
	if in.PriceSnapshot != nil && *in.PriceSnapshot < 0 {
		return "", fmt.Errorf("%w: price_snapshot must not be negative", ErrInvalidSavedFit)
	}
	return withProductUTM(in.ProductURL)
}

// withProductUTM requires an https product URL and sets the attribution
// parameters, replacing any existing values.
func withProductUTM(raw string) (string, error) {
	if raw == "" || len(raw) > maxProductURLLen {
		return "", fmt.Errorf("%w: product_url is required", ErrInvalidSavedFit)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Scheme != "https" || u.Host == "" {
		return "", fmt.Errorf("%w: product_url must be https", ErrInvalidSavedFit)
	}
	q := u.Query()
	for _, kv := range productUTM {
		q.Set(kv[0], kv[1])
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}

func isHTTPURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
