package repository

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/lib/pq"

	"github.com/fitsa/fitsa/internal/model"
	"github.com/fitsa/fitsa/internal/usage"
)

// FittingEvents stores per-submission usage events.
type FittingEvents struct {
	repo *Repository
}

var (
	_ usage.Repository = (*FittingEvents)(nil)
	_ usage.History    = (*FittingEvents)(nil)
)

// FittingEvents returns the usage history view of the repository.
func (r *Repository) FittingEvents() *FittingEvents {
	return &FittingEvents{repo: r}
}

const fittingEventColumns = `id, event_id, user_id, identity_key, outcome, charged_from,
	is_refit, refit_count, categories, provider, error_code, duration_ms, occurred_at`

// BulkInsert inserts events, skipping any whose event_id is already stored.
func (r *FittingEvents) BulkInsert(ctx context.Context, events []*model.UsageEvent) error {
	if len(events) == 0 {
		return nil
	}

	query := `
		INSERT INTO fitting_events (` + fittingEventColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (event_id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, e := range events {
		categories := e.Categories
		if categories == nil {
			categories = []string{}
		}
		batch.Queue(query,
			e.ID,
			e.EventID,
			e.UserID,
			string(e.IdentityKey),
			string(e.Outcome),
			string(e.ChargedFrom),
			e.IsRefit,
			e.RefitCount,
			pq.Array(categories),
			e.Provider,
			e.ErrorCode,
			e.DurationMS,
			e.OccurredAt,
		)
	}

	results := r.repo.pool.SendBatch(ctx, batch)
	defer results.Close()

	for i := range events {
		if _, err := results.Exec(); err != nil {
			return fmt.Errorf("batch insert event %d: %w", i, err)
		}
	}
	return nil
}

// List returns a page of a user's events, newest first.
func (r *FittingEvents) List(ctx context.Context, userID, cursor string, limit int) ([]*model.UsageEvent, string, error) {
	cursorData, err := model.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	query := `SELECT ` + fittingEventColumns + ` FROM fitting_events WHERE user_id = $1`
	args := []any{userID}
	if cursorData != nil {
		query += ` AND (occurred_at, id) < ($2, $3)`
		args = append(args, cursorData.CreatedAt, cursorData.ID)
	}
	query += fmt.Sprintf(" ORDER BY occurred_at DESC, id DESC LIMIT $%d", len(args)+1)
	args = append(args, limit+1)

	rows, err := r.repo.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, "", fmt.Errorf("failed to list fitting events: %w", err)
	}
	defer rows.Close()

	var events []*model.UsageEvent
	for rows.Next() {
		var (
			e           model.UsageEvent
			key         string
			outcome     string
			chargedFrom string
			categories  []string
		)
		if err := rows.Scan(
			&e.ID,
			&e.EventID,
			&e.UserID,
			&key,
			&outcome,
			&chargedFrom,
			&e.IsRefit,
			&e.RefitCount,
			pq.Array(&categories),
			&e.Provider,
			&e.ErrorCode,
			&e.DurationMS,
			&e.OccurredAt,
		); err != nil {
			return nil, "", fmt.Errorf("failed to scan fitting event: %w", err)
		}
		e.IdentityKey = model.IdentityKey(key)
		e.Outcome = model.UsageOutcome(outcome)
		e.ChargedFrom = model.DebitSource(chargedFrom)
		e.Categories = categories
		if e.Categories == nil {
			e.Categories = []string{}
		}
		events = append(events, &e)
	}
	if err := rows.Err(); err != nil {
		return nil, "", fmt.Errorf("error iterating fitting events: %w", err)
	}

	var next string
	if len(events) > limit {
		events = events[:limit]
		last := events[len(events)-1]
		next = model.Cursor{ID: last.ID, CreatedAt: last.OccurredAt}.Encode()
	}
	return events, next, nil
}
