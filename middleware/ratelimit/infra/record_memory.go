package infra

import (
	"context"
	"fmt"
	"sync"

	"ratelimit-gateway/middleware/ratelimit/domain"
)

// MemoryRecordStore guarda os RateLimitRecords em memória, com
// concorrência otimista pelo campo Version.
// Útil para testes e para uma instância única do gateway.
type MemoryRecordStore struct {
	mu      sync.Mutex
	records map[domain.AppID]domain.RateLimitRecord
}

var _ domain.RecordStore = (*MemoryRecordStore)(nil)

func NewMemoryRecordStore() *MemoryRecordStore {
	return &MemoryRecordStore{records: make(map[domain.AppID]domain.RateLimitRecord)}
}

func (s *MemoryRecordStore) Get(_ context.Context, id domain.AppID) (domain.RateLimitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return domain.RateLimitRecord{}, fmt.Errorf("%w: rate limit record for %s", domain.ErrNotFound, id)
	}
	return rec, nil
}

func (s *MemoryRecordStore) Update(_ context.Context, rec domain.RateLimitRecord) (domain.RateLimitRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.records[rec.AppID]
	if !ok {
		return domain.RateLimitRecord{}, fmt.Errorf("%w: rate limit record for %s", domain.ErrNotFound, rec.AppID)
	}
	if cur.Version != rec.Version {
		return domain.RateLimitRecord{}, fmt.Errorf("%w: record %s at version %d, update from %d", domain.ErrConflict, rec.AppID, cur.Version, rec.Version)
	}
	rec.Version++
	s.records[rec.AppID] = rec
	return rec, nil
}

// Create retorna ErrConflict se o app já tem registro.
func (s *MemoryRecordStore) Create(_ context.Context, rec domain.RateLimitRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.records[rec.AppID]; ok {
		return fmt.Errorf("%w: rate limit record for %s already exists", domain.ErrConflict, rec.AppID)
	}
	rec.Version = 1
	s.records[rec.AppID] = rec
	return nil
}
