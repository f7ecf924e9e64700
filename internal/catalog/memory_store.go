package catalog

import (
	"context"
	"errors"
	"sync"

	"github.com/dunamismax/imageq/internal/domain"
	"github.com/dunamismax/imageq/internal/id"
)

var ErrRecordNotFound = errors.New("catalog record not found")

type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]domain.CatalogRecord
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records: make(map[string]domain.CatalogRecord),
	}
}

func (s *MemoryStore) FindByBag(_ context.Context, bag string) (domain.CatalogRecord, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[bag]
	if !ok {
		return domain.CatalogRecord{}, false, nil
	}
	record.Derivatives = cloneDerivatives(record.Derivatives)
	return record, true, nil
}

func (s *MemoryStore) Create(_ context.Context, record domain.CatalogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if record.ID == "" {
		record.ID = id.New()
	}
	record.Derivatives = cloneDerivatives(record.Derivatives)
	s.records[record.Bag] = record
	return nil
}

func (s *MemoryStore) Update(_ context.Context, record domain.CatalogRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[record.Bag]; !ok {
		return ErrRecordNotFound
	}
	record.Derivatives = cloneDerivatives(record.Derivatives)
	s.records[record.Bag] = record
	return nil
}
