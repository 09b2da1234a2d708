package answercache

import (
	"context"
	"sync"
	"time"

	"arcane-scribe/models"
)

// MemoryStore is an in-process Store without physical expiry.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string]models.CachedAnswer
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string]models.CachedAnswer)}
}

func (s *MemoryStore) Get(ctx context.Context, key string) (*models.CachedAnswer, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (s *MemoryStore) Put(ctx context.Context, key string, entry *models.CachedAnswer, ttl time.Duration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries[key] = *entry
	return nil
}
