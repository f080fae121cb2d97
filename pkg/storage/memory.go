package storage

import (
	"fmt"
	"sort"
	"sync"

	"github.com/cuemby/nimbus/pkg/types"
)

// MemoryStore keeps records in process memory. Used by tests and by the
// "memory" storage driver.
type MemoryStore struct {
	mu      sync.RWMutex
	records map[string]*types.ResourceRecord
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{records: make(map[string]*types.ResourceRecord)}
}

func (s *MemoryStore) SaveRecord(rec *types.ResourceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.records[rec.ID]; ok && prev.Kind != rec.Kind {
		return fmt.Errorf("record %s already exists with kind %s", rec.ID, prev.Kind)
	}
	s.records[rec.ID] = rec.Copy()
	return nil
}

func (s *MemoryStore) GetRecord(id string) (*types.ResourceRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.Copy(), nil
}

func (s *MemoryStore) ListRecords() ([]*types.ResourceRecord, error) {
	return s.list(func(*types.ResourceRecord) bool { return true }), nil
}

func (s *MemoryStore) ListRecordsByKind(kind types.Kind) ([]*types.ResourceRecord, error) {
	return s.list(func(r *types.ResourceRecord) bool { return r.Kind == kind }), nil
}

func (s *MemoryStore) list(keep func(*types.ResourceRecord) bool) []*types.ResourceRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.ResourceRecord
	for _, rec := range s.records {
		if keep(rec) {
			out = append(out, rec.Copy())
		}
	}
	sortByID(out)
	return out
}

func (s *MemoryStore) DeleteRecord(id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *MemoryStore) Close() error {
	return nil
}

func sortByID(records []*types.ResourceRecord) {
	sort.Slice(records, func(i, j int) bool { return records[i].ID < records[j].ID })
}
