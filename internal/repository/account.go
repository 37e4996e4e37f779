package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/fitsa/fitsa/internal/ledger"
	"github.com/fitsa/fitsa/internal/model"
)

// Accounts is the PostgreSQL quota ledger. Every mutation runs in a
// transaction holding the account row lock, so concurrent debits for one user
// are serialized by the database.
type Accounts struct {
	repo          *Repository
	freeAllotment int
}

var _ ledger.Store = (*Accounts)(nil)

// Accounts returns the ledger view of the repository.
func (r *Repository) Accounts(freeAllotment int) *Accounts {
	return &Accounts{repo: r, freeAllotment: freeAllotment}
}

const accountColumns = `user_id, free_remaining, credits, free_used_total, credits_used_total,
	credits_purchased_total, created_at, updated_at`

// ensureAccount inserts the default record if the user has none.
func (a *Accounts) ensureAccount(ctx context.Context, q querier, userID string) error {
	_, err := q.Exec(ctx, `
		INSERT INTO accounts (user_id, free_remaining)
		VALUES ($1, $2)
		ON CONFLICT (user_id) DO NOTHING
	`, userID, a.freeAllotment)
	if err != nil {
		return fmt.Errorf("failed to ensure account: %w", err)
	}
	return nil
}

// lockAccount ensures the record exists and locks it for the rest of tx.
func (a *Accounts) lockAccount(ctx context.Context, tx pgx.Tx, userID string) (*model.Account, error) {
	if err := a.ensureAccount(ctx, tx, userID); err != nil {
		return nil, err
	}
	acc, err := scanAccount(tx.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1 FOR UPDATE`, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to lock account: %w", err)
	}
	return acc, nil
}

func (a *Accounts) Status(ctx context.Context, userID string) (model.Balance, error) {
	acc, err := a.Account(ctx, userID)
	if err != nil {
		return model.Balance{}, err
	}
	return acc.Balance(), nil
}

func (a *Accounts) Account(ctx context.Context, userID string) (*model.Account, error) {
	if userID == "" {
		return nil, ledger.ErrInvalidUser
	}
	if err := a.ensureAccount(ctx, a.repo.pool, userID); err != nil {
		return nil, err
	}
	acc, err := scanAccount(a.repo.pool.QueryRow(ctx,
		`SELECT `+accountColumns+` FROM accounts WHERE user_id = $1`, userID))
	if err != nil {
		return nil, fmt.Errorf("failed to get account: %w", err)
	}
	return acc, nil
}

func (a *Accounts) TryDebit(ctx context.Context, userID string) (model.DebitOutcome, error) {
	if userID == "" {
		return model.DebitOutcome{}, ledger.ErrInvalidUser
	}

	var out model.DebitOutcome
	err := a.repo.withTx(ctx, func(tx pgx.Tx) error {
		acc, err := a.lockAccount(ctx, tx, userID)
		if err != nil {
			return err
		}

		out = model.ApplyDebit(acc.Balance())
		if !out.Charged {
			return nil
		}

		var freeUsed, creditsUsed int
		if out.Source == model.DebitSourceFree {
			freeUsed = 1
		} else {
			creditsUsed = 1
		}

		_, err = tx.Exec(ctx, `
			UPDATE accounts
			SET free_remaining = $2,
			    credits = $3,
			    free_used_total = free_used_total + $4,
			    credits_used_total = credits_used_total + $5,
			    updated_at = NOW()
			WHERE user_id = $1
		`, userID, out.Balance.FreeRemaining, out.Balance.Credits, freeUsed, creditsUsed)
		if err != nil {
			return fmt.Errorf("failed to debit account: %w", err)
		}
		return nil
	})
	if err != nil {
		return model.DebitOutcome{}, err
	}
	return out, nil
}

func (a *Accounts) Credit(ctx context.Context, userID string, amount int) (model.Balance, error) {
	if userID == "" {
		return model.Balance{}, ledger.ErrInvalidUser
	}
	if amount <= 0 {
		return model.Balance{}, ledger.ErrInvalidAmount
	}

	var b model.Balance
	err := a.repo.withTx(ctx, func(tx pgx.Tx) error {
		if err := a.ensureAccount(ctx, tx, userID); err != nil {
			return err
		}
		var err error
		b, err = addCredits(ctx, tx, userID, amount)
		return err
	})
	return b, err
}

func (a *Accounts) ApplyPurchase(ctx context.Context, p model.Purchase) (model.Balance, bool, error) {
	if err := ledger.ValidatePurchase(p); err != nil {
		return model.Balance{}, false, err
	}

	var (
		b       model.Balance
		applied bool
	)
	err := a.repo.withTx(ctx, func(tx pgx.Tx) error {
		acc, err := a.lockAccount(ctx, tx, p.UserID)
		if err != nil {
			return err
		}

		tag, err := tx.Exec(ctx, `
			INSERT INTO purchases (id, user_id, credits, amount_cents, currency, provider)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (id) DO NOTHING
		`, p.ID, p.UserID, p.Credits, p.AmountCents, p.Currency, p.Provider)
		if err != nil {
			return fmt.Errorf("failed to record purchase: %w", err)
		}
		if tag.RowsAffected() == 0 {
			b = acc.Balance()
			return nil
		}

		applied = true
		b, err = addCredits(ctx, tx, p.UserID, p.Credits)
		return err
	})
	if err != nil {
		return model.Balance{}, false, err
	}
	return b, applied, nil
}

func (a *Accounts) ResetFree(ctx context.Context, userID string) (model.Balance, error) {
	if userID == "" {
		return model.Balance{}, ledger.ErrInvalidUser
	}

	var b model.Balance
	err := a.repo.withTx(ctx, func(tx pgx.Tx) error {
		if err := a.ensureAccount(ctx, tx, userID); err != nil {
			return err
		}
		err := tx.QueryRow(ctx, `
			UPDATE accounts
			SET free_remaining = $2, updated_at = NOW()
			WHERE user_id = $1
			RETURNING free_remaining, credits
		`, userID, a.freeAllotment).Scan(&b.FreeRemaining, &b.Credits)
		if err != nil {
			return fmt.Errorf("failed to reset free uses: %w", err)
		}
		return nil
	})
	return b, err
}

// ListPurchases returns the most recent purchases of a user.
func (a *Accounts) ListPurchases(ctx context.Context, userID string, limit int) ([]model.Purchase, error) {
	rows, err := a.repo.pool.Query(ctx, `
		SELECT id, user_id, credits, amount_cents, currency, provider, created_at
		FROM purchases
		WHERE user_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, userID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list purchases: %w", err)
	}
	defer rows.Close()

	var purchases []model.Purchase
	for rows.Next() {
		var p model.Purchase
		if err := rows.Scan(&p.ID, &p.UserID, &p.Credits, &p.AmountCents, &p.Currency, &p.Provider, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan purchase: %w", err)
		}
		purchases = append(purchases, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating purchases: %w", err)
	}
	return purchases, nil
}

func addCredits(ctx context.Context, tx pgx.Tx, userID string, amount int) (model.Balance, error) {
	var b model.Balance
	err := tx.QueryRow(ctx, `
		UPDATE accounts
		SET credits = credits + $2,
		    credits_purchased_total = credits_purchased_total + $2,
		    updated_at = NOW()
		WHERE user_id = $1
		RETURNING free_remaining, credits
	`, userID, amount).Scan(&b.FreeRemaining, &b.Credits)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return b, fmt.Errorf("account %s disappeared during credit", userID)
		}
		return b, fmt.Errorf("failed to add credits: %w", err)
	}
	return b, nil
}

func scanAccount(row pgx.Row) (*model.Account, error) {
	var acc model.Account
	err := row.Scan(
		&acc.UserID,
		&acc.FreeRemaining,
		&acc.Credits,
		&acc.FreeUsedTotal,
		&acc.CreditsUsedTotal,
		&acc.CreditsPurchasedTotal,
		&acc.CreatedAt,
		&acc.UpdatedAt,
	)
	return &acc, err
}
