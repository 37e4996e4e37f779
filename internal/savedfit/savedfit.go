// Package savedfit stores fitting results users chose to keep.
package savedfit

import (
	"context"
	"errors"

	"github.com/fitsa/fitsa/internal/model"
)

var (
	ErrNotFound = errors.New("saved fit not found")
	ErrExists   = errors.New("saved fit already exists")
)

// Store persists saved fits. Every read and delete is scoped to the owner.
type Store interface {
	Create(ctx context.Context, fit *model.SavedFit) error
	Get(ctx context.Context, userID, id string) (*model.SavedFit, error)
	// List returns a page newest first and the cursor of the next page, if any.
	List(ctx context.Context, userID, cursor string, limit int) ([]*model.SavedFit, string, error)
	Delete(ctx context.Context, userID, id string) error
}
