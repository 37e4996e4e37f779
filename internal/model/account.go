// Package model defines domain entities for the application.
package model

import "time"

// DebitSource names the bucket a fitting was paid from.
type DebitSource string

const (
	DebitSourceFree   DebitSource = "free"
	DebitSourceCredit DebitSource = "credit"
)

// Balance is a point-in-time view of a user's spendable quota.
type Balance struct {
	FreeRemaining int `json:"remaining_free"`
	Credits       int `json:"credits"`
}

// Total returns the number of fittings the balance can still pay for.
func (b Balance) Total() int {
	return b.FreeRemaining + b.Credits
}

// Account is the persisted ledger record for one user.
type Account struct {
	UserID                string    `json:"user_id"`
	FreeRemaining         int       `json:"remaining_free"`
	Credits               int       `json:"credits"`
	FreeUsedTotal         int64     `json:"free_used_total"`
	CreditsUsedTotal      int64     `json:"credits_used_total"`
	CreditsPurchasedTotal int64     `json:"credits_purchased_total"`
	CreatedAt             time.Time `json:"created_at"`
	UpdatedAt             time.Time `json:"updated_at"`
}

// Balance returns the spendable part of the account.
func (a *Account) Balance() Balance {
	return Balance{FreeRemaining: a.FreeRemaining, Credits: a.Credits}
}

// DebitOutcome is the result of an attempt to pay for one fitting.
// A denied debit is not an error: Charged is false and Balance is unchanged.
type DebitOutcome struct {
	Charged bool        `json:"charged"`
	Source  DebitSource `json:"source,omitempty"`
	Balance Balance     `json:"balance"`
}

// ApplyDebit takes one use from b, free uses first. It reports the outcome
// and the balance after the debit.
func ApplyDebit(b Balance) DebitOutcome {
	switch {
	case b.FreeRemaining > 0:
		b.FreeRemaining--
		return DebitOutcome{Charged: true, Source: DebitSourceFree, Balance: b}
	case b.Credits > 0:
		b.Credits--
		return DebitOutcome{Charged: true, Source: DebitSourceCredit, Balance: b}
	default:
		return DebitOutcome{Balance: b}
	}
}
