package model

import "time"

// SavedFit is a fitting result a user kept together with the product it shows.
type SavedFit struct {
	ID             string    `json:"id"`
	UserID         string    `json:"-"`
	ResultImageURL string    `json:"result_image_url"`
	ShopName       string    `json:"shop_name,omitempty"`
	ProductName    string    `json:"product_name,omitempty"`
	ProductURL     string    `json:"product_url,omitempty"`
	PriceSnapshot  *int64    `json:"price_snapshot,omitempty"`
	Currency       string    `json:"currency"`
	Category       Category  `json:"category,omitempty"`
	Tags           []string  `json:"tags"`
	Note           string    `json:"note,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
