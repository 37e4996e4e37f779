package dto

import "github.com/fitsa/fitsa/internal/model"

// CreateSavedFitRequest is the body of POST /api/v1/saved-fits.
type CreateSavedFitRequest struct {
	ResultImageURL string   `json:"result_image_url"`
	ShopName       string   `json:"shop_name"`
	ProductName    string   `json:"product_name"`
	ProductURL     string   `json:"product_url,omitempty"`
	PriceSnapshot  *int64   `json:"price_snapshot,omitempty"`
	Currency       string   `json:"currency,omitempty"`
	Category       string   `json:"category,omitempty"`
	Tags           []string `json:"tags,omitempty"`
	Note           string   `json:"note,omitempty"`
}

// SavedFitListResponse is one page of saved fits.
type SavedFitListResponse struct {
	Data       []*model.SavedFit `json:"data"`
	Pagination *Pagination       `json:"pagination"`
}
