package database

import (
	"context"
	"sort"
	"sync"
	"time"

	"arcane-scribe/models"
)

// MemoryDocumentStore keeps records in process memory. Used by tests and local tooling.
type MemoryDocumentStore struct {
	mu   sync.RWMutex
	docs map[string]map[string]models.Document
}

func NewMemoryDocumentStore() *MemoryDocumentStore {
	return &MemoryDocumentStore{docs: make(map[string]map[string]models.Document)}
}

func (s *MemoryDocumentStore) Put(ctx context.Context, doc *models.Document) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	part, ok := s.docs[doc.TenantKey]
	if !ok {
		part = make(map[string]models.Document)
		s.docs[doc.TenantKey] = part
	}
	part[doc.DocumentID] = *doc
	return nil
}

func (s *MemoryDocumentStore) Get(ctx context.Context, tenantKey, documentID string) (*models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc, ok := s.docs[tenantKey][documentID]
	if !ok {
		return nil, ErrDocumentNotFound
	}
	return &doc, nil
}

func (s *MemoryDocumentStore) Query(ctx context.Context, tenantKey string) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	docs := make([]models.Document, 0, len(s.docs[tenantKey]))
	for _, doc := range s.docs[tenantKey] {
		docs = append(docs, doc)
	}
	sort.Slice(docs, func(i, j int) bool {
		if !docs[i].UploadTimestamp.Equal(docs[j].UploadTimestamp) {
			return docs[i].UploadTimestamp.Before(docs[j].UploadTimestamp)
		}
		return docs[i].DocumentID < docs[j].DocumentID
	})
	return docs, nil
}

// Update applies the subset of fields the service writes.
func (s *MemoryDocumentStore) Update(ctx context.Context, tenantKey, documentID string, fields map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	doc, ok := s.docs[tenantKey][documentID]
	if !ok {
		return ErrDocumentNotFound
	}
	applyFields(&doc, fields)
	s.docs[tenantKey][documentID] = doc
	return nil
}

func (s *MemoryDocumentStore) Delete(ctx context.Context, tenantKey, documentID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.docs[tenantKey], documentID)
	return nil
}

func (s *MemoryDocumentStore) ListStale(ctx context.Context, status string, before time.Time) ([]models.Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []models.Document
	for _, part := range s.docs {
		for _, doc := range part {
			if doc.ProcessingStatus == status && doc.UpdatedAt.Before(before) {
				out = append(out, doc)
			}
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].DocumentID < out[j].DocumentID })
	return out, nil
}
