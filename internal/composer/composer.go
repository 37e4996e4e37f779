// Package composer calls the external try-on image providers.
package composer

import (
	"context"
	"errors"
	"fmt"

	"github.com/fitsa/fitsa/internal/model"
)

var (
	// ErrEmptyResult is returned when a provider answers 200 with no image.
	ErrEmptyResult = errors.New("composer returned an empty image")
	// ErrNotImage is returned when a provider answers 200 with a non-image body.
	ErrNotImage = errors.New("composer response is not an image")
)

// Input is one garment application.
type Input struct {
	Person   []byte
	Garment  []byte
	Category model.Category
	Quality  model.Quality
}

// Output is the composed image.
type Output struct {
	Image       []byte
	ContentType string
	Provider    string
}

// Composer applies one garment to a person image.
type Composer interface {
	Compose(ctx context.Context, in Input) (*Output, error)
}

// ProviderError is a non-2xx answer from a provider.
type ProviderError struct {
	Provider   string
	StatusCode int
	Message    string
}

func (e *ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("composer %s: status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("composer %s: status %d: %s", e.Provider, e.StatusCode, e.Message)
}
