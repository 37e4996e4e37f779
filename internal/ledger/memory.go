package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/fitsa/fitsa/internal/model"
)

// MemoryStore keeps accounts in process memory. Each account carries its own
// mutex, so debits for different users never contend.
type MemoryStore struct {
	freeAllotment int
	now           func() time.Time

	mu        sync.Mutex
	accounts  map[string]*memoryAccount
	purchases map[string]struct{}
}

type memoryAccount struct {
	mu      sync.Mutex
	account model.Account
}

// NewMemoryStore creates an in-memory ledger granting freeAllotment free uses
// to every new user.
func NewMemoryStore(freeAllotment int) *MemoryStore {
	return &MemoryStore{
		freeAllotment: freeAllotment,
		now:           time.Now,
		accounts:      make(map[string]*memoryAccount),
		purchases:     make(map[string]struct{}),
	}
}

// get returns the account entry for userID, creating it with defaults.
func (s *MemoryStore) get(userID string) *memoryAccount {
	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[userID]
	if !ok {
		now := s.now()
		acc = &memoryAccount{account: model.Account{
			UserID:        userID,
			FreeRemaining: s.freeAllotment,
			CreatedAt:     now,
			UpdatedAt:     now,
		}}
		s.accounts[userID] = acc
	}
	return acc
}

func (s *MemoryStore) Status(_ context.Context, userID string) (model.Balance, error) {
	if userID == "" {
		return model.Balance{}, ErrInvalidUser
	}
	acc := s.get(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	return acc.account.Balance(), nil
}

func (s *MemoryStore) Account(_ context.Context, userID string) (*model.Account, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	acc := s.get(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	copied := acc.account
	return &copied, nil
}

func (s *MemoryStore) TryDebit(_ context.Context, userID string) (model.DebitOutcome, error) {
	if userID == "" {
		return model.DebitOutcome{}, ErrInvalidUser
	}
	acc := s.get(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	out := model.ApplyDebit(acc.account.Balance())
	if !out.Charged {
		return out, nil
	}

	switch out.Source {
	case model.DebitSourceFree:
		acc.account.FreeUsedTotal++
	case model.DebitSourceCredit:
		acc.account.CreditsUsedTotal++
	}
	acc.account.FreeRemaining = out.Balance.FreeRemaining
	acc.account.Credits = out.Balance.Credits
	acc.account.UpdatedAt = s.now()
	return out, nil
}

func (s *MemoryStore) Credit(_ context.Context, userID string, amount int) (model.Balance, error) {
	if userID == "" {
		return model.Balance{}, ErrInvalidUser
	}
	if amount <= 0 {
		return model.Balance{}, ErrInvalidAmount
	}
	acc := s.get(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	s.addCredits(acc, amount)
	return acc.account.Balance(), nil
}

func (s *MemoryStore) ApplyPurchase(_ context.Context, p model.Purchase) (model.Balance, bool, error) {
	if err := ValidatePurchase(p); err != nil {
		return model.Balance{}, false, err
	}
	acc := s.get(p.UserID)
	acc.mu.Lock()
	defer acc.mu.Unlock()

	// the purchase set is checked under the account lock so a duplicate
	// delivery for the same user cannot slip between check and credit
	s.mu.Lock()
	_, seen := s.purchases[p.ID]
	if !seen {
		s.purchases[p.ID] = struct{}{}
	}
	s.mu.Unlock()

	if seen {
		return acc.account.Balance(), false, nil
	}
	s.addCredits(acc, p.Credits)
	return acc.account.Balance(), true, nil
}

func (s *MemoryStore) ResetFree(_ context.Context, userID string) (model.Balance, error) {
	if userID == "" {
		return model.Balance{}, ErrInvalidUser
	}
	acc := s.get(userID)
	acc.mu.Lock()
	defer acc.mu.Unlock()
	acc.account.FreeRemaining = s.freeAllotment
	acc.account.UpdatedAt = s.now()
	return acc.account.Balance(), nil
}

// addCredits must be called with acc.mu held.
func (s *MemoryStore) addCredits(acc *memoryAccount, amount int) {
	acc.account.Credits += amount
	acc.account.CreditsPurchasedTotal += int64(amount)
	acc.account.UpdatedAt = s.now()
}
