package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/fitsa/fitsa/internal/model"
	"github.com/fitsa/fitsa/internal/savedfit"
)

// SavedFits is the PostgreSQL saved fit store.
type SavedFits struct {
	repo *Repository
}

var _ savedfit.Store = (*SavedFits)(nil)

// SavedFits returns the saved fit view of the repository.
func (r *Repository) SavedFits() *SavedFits {
	return &SavedFits{repo: r}
}

const savedFitColumns = `id, user_id, result_image_url, shop_name, product_name, product_url,
	price_snapshot, currency, category, tags, note, created_at`

// Create inserts a saved fit.
func (r *SavedFits) Create(ctx context.Context, fit *model.SavedFit) error {
	_, err := r.repo.pool.Exec(ctx, `
		INSERT INTO saved_fits (`+savedFitColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		fit.ID,
		fit.UserID,
		fit.ResultImageURL,
		fit.ShopName,
		fit.ProductName,
		fit.ProductURL,
		fit.PriceSnapshot,
		fit.Currency,
		string(fit.Category),
		pq.Array(fit.Tags),
		fit.Note,
		fit.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return savedfit.ErrExists
		}
		return fmt.Errorf("failed to create saved fit: %w", err)
	}
	return nil
}

// Get returns one saved fit owned by userID.
func (r *SavedFits) Get(ctx context.Context, userID, id string) (*model.SavedFit, error) {
	fit, err := scanSavedFit(r.repo.pool.QueryRow(ctx,
		`SELECT `+savedFitColumns+` FROM saved_fits WHERE id = $1 AND user_id = $2`, id, userID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, savedfit.ErrNotFound
		}
		return nil, fmt.Errorf("failed to get saved fit: %w", err)
	}
	return fit, nil
}

// List returns a page of saved fits, newest first.
func (r *SavedFits) List(ctx context.Context, userID, cursor string, limit int) ([]*model.SavedFit, string, error) {
	cursorData, err := model.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	query := `SELECT ` + savedFitColumns + ` FROM saved_fits WHERE user_id = $1`
	args := []any{userID}
	if cursorData != nil {
		query += ` AND (created_at, id) < ($2, $3)`
		args = append(args, cursorData.CreatedAt, cursorData.ID)
	}
	query += fmt.Sprintf(" ORDER BY created_at DESC, id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit+1) // one extra row tells whether another page exists

	rows, err := r.repo.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list saved fits: %w", err)
	}
	defer rows.Close()

	var fits []*model.SavedFit
	for rows.Next() {
		fit, err := scanSavedFit(rows)
		if err != nil {
			return nil, "", fmt.Errorf("failed to scan saved fit: %w", err)
		}
		fits = append(fits, fit)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating saved fits: %w", err)
	}

	var next string
	if len(fits) > limit {
		fits = fits[:limit]
		last := fits[len(fits)-1]
		next = model.Cursor{ID: last.ID, CreatedAt: last.CreatedAt}.Encode()
	}
	return fits, next, nil
}

// Delete removes a saved fit owned by userID.
func (r *SavedFits) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.repo.pool.Exec(ctx, `DELETE FROM saved_fits WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete saved fit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return savedfit.ErrNotFound
	}
	return nil
}

func scanSavedFit(row pgx.Row) (*model.SavedFit, error) {
	var (
		fit      model.SavedFit
		category string
		tags     []string
	)
	err := row.Scan(
		&fit.ID,
		&fit.UserID,
		&fit.ResultImageURL,
		&fit.ShopName,
		&fit.ProductName,
		&fit.ProductURL,
		&fit.PriceSnapshot,
		&fit.Currency,
		&category,
		pq.Array(&tags),
		&fit.Note,
		&fit.CreatedAt,
	)
	fit.Category = model.Category(category)
	fit.Tags = tags
	if fit.Tags == nil {
		fit.Tags = []string{}
	}
	return &fit, err
}
