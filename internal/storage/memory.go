package storage

import (
	"context"
	"strings"
	"sync"
)

type memoryBlob struct {
	data        []byte
	contentType string
}

// MemoryStore keeps blobs in process memory and serves them under
// <baseURL>/results/<key>.
type MemoryStore struct {
	baseURL string

	mu    sync.RWMutex
	blobs map[string]memoryBlob
}

var _ BlobStore = (*MemoryStore)(nil)

// NewMemoryStore creates an empty store. baseURL is the public service URL.
func NewMemoryStore(baseURL string) *MemoryStore {
	return &MemoryStore{
		baseURL: strings.TrimRight(baseURL, "/"),
		blobs:   make(map[string]memoryBlob),
	}
}

// Put implements BlobStore.
func (s *MemoryStore) Put(_ context.Context, data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", ErrEmptyBlob
	}
	key := objectName(contentType)

	s.mu.Lock()
	s.blobs[key] = memoryBlob{data: append([]byte(nil), data...), contentType: contentType}
	s.mu.Unlock()

	return s.baseURL + "/results/" + key, nil
}

// Get implements BlobStore.
func (s *MemoryStore) Get(_ context.Context, url string) ([]byte, error) {
	key, ok := strings.CutPrefix(url, s.baseURL+"/results/")
	if !ok {
		return nil, ErrForeignURL
	}
	data, _, err := s.Open(key)
	return data, err
}

// Open returns a blob and its content type by key.
func (s *MemoryStore) Open(key string) ([]byte, string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	b, ok := s.blobs[key]
	if !ok {
		return nil, "", ErrNotFound
	}
	return b.data, b.contentType, nil
}

// Len returns the number of stored blobs.
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.blobs)
}
