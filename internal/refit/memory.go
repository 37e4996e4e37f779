package refit

import (
	"context"
	"sync"
	"time"

	"github.com/fitsa/fitsa/internal/model"
)

// MemoryStore keeps window entries in process memory.
type MemoryStore struct {
	policy Policy
	ttl    time.Duration
	now    func() time.Time

	mu      sync.Mutex
	entries map[string]*memoryEntry
}

type memoryEntry struct {
	entry    model.RefitEntry
	lastSeen time.Time
}

// NewMemoryStore creates an in-memory window. Entries untouched for longer
// than ttl are dropped by Cleanup.
func NewMemoryStore(policy Policy, ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		policy:  policy,
		ttl:     ttl,
		now:     time.Now,
		entries: make(map[string]*memoryEntry),
	}
}

// WithClock replaces the time source. Used by tests.
func (s *MemoryStore) WithClock(now func() time.Time) *MemoryStore {
	s.now = now
	return s
}

func entryKey(userID string, key model.IdentityKey) string {
	return userID + "|" + string(key)
}

func (s *MemoryStore) Lookup(_ context.Context, userID string, key model.IdentityKey) (*model.RefitEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[entryKey(userID, key)]
	if !ok {
		return nil, nil
	}
	copied := e.entry
	return &copied, nil
}

func (s *MemoryStore) ClassifyAndRecord(_ context.Context, userID string, key model.IdentityKey) (model.RefitOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	var current *model.RefitEntry
	e, ok := s.entries[entryKey(userID, key)]
	if ok {
		current = &e.entry
	}

	out, next, persist := s.policy.Classify(current, now)
	if persist {
		e.entry = next
		e.lastSeen = now
	}
	return out, nil
}

func (s *MemoryStore) Open(_ context.Context, userID string, key model.IdentityKey) (*model.RefitEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	k := entryKey(userID, key)
	e, ok := s.entries[k]
	if !ok {
		now := s.now()
		e = &memoryEntry{
			entry:    model.RefitEntry{UserID: userID, Key: key, WindowStart: now},
			lastSeen: now,
		}
		s.entries[k] = e
	}
	copied := e.entry
	return &copied, nil
}

// Len returns the number of tracked entries.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.entries)
}

// Cleanup drops entries idle for longer than the ttl and returns how many
// were removed.
func (s *MemoryStore) Cleanup() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := s.now().Add(-s.ttl)
	removed := 0
	for k, e := range s.entries {
		if e.lastSeen.Before(cutoff) {
			delete(s.entries, k)
			removed++
		}
	}
	return removed
}

// Run prunes idle entries every interval until ctx is done.
func (s *MemoryStore) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Cleanup()
		}
	}
}
