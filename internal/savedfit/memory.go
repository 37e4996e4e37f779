package savedfit

import (
	"context"
	"sort"
	"sync"

	"github.com/fitsa/fitsa/internal/model"
)

// MemoryStore keeps saved fits in process memory.
type MemoryStore struct {
	mu   sync.RWMutex
	fits map[string]*model.SavedFit
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{fits: make(map[string]*model.SavedFit)}
}

func (s *MemoryStore) Create(_ context.Context, fit *model.SavedFit) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.fits[fit.ID]; ok {
		return ErrExists
	}
	copied := *fit
	copied.Tags = append([]string{}, fit.Tags...)
	s.fits[fit.ID] = &copied
	return nil
}

func (s *MemoryStore) Get(_ context.Context, userID, id string) (*model.SavedFit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	fit, ok := s.fits[id]
	if !ok || fit.UserID != userID {
		return nil, ErrNotFound
	}
	copied := *fit
	return &copied, nil
}

func (s *MemoryStore) List(_ context.Context, userID, cursor string, limit int) ([]*model.SavedFit, string, error) {
	c, err := model.DecodeCursor(cursor)
	if err != nil {
		return nil, "", err
	}

	s.mu.RLock()
	var fits []*model.SavedFit
	for _, fit := range s.fits {
		if fit.UserID == userID && c.Before(fit.CreatedAt, fit.ID) {
			copied := *fit
			fits = append(fits, &copied)
		}
	}
	s.mu.RUnlock()

	sort.Slice(fits, func(i, j int) bool {
		if fits[i].CreatedAt.Equal(fits[j].CreatedAt) {
			return fits[i].ID > fits[j].ID
		}
		return fits[i].CreatedAt.After(fits[j].CreatedAt)
	})

	var next string
	if len(fits) > limit {
		fits = fits[:limit]
		last := fits[len(fits)-1]
		next = model.Cursor{ID: last.ID, CreatedAt: last.CreatedAt}.Encode()
	}
	return fits, next, nil
}

func (s *MemoryStore) Delete(_ context.Context, userID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	fit, ok := s.fits[id]
	if !ok || fit.UserID != userID {
		return ErrNotFound
	}
	delete(s.fits, id)
	return nil
}
