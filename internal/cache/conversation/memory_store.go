package conversation

import (
	"context"
	"strings"
	"sync"
)

// MemoryStore keeps conversations for the life of the process.
type MemoryStore struct {
	mu       sync.RWMutex
	byWorker map[string]*Record
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{byWorker: make(map[string]*Record)}
}

func (s *MemoryStore) FindByWorker(_ context.Context, workerID string) (*Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.byWorker[strings.TrimSpace(workerID)]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Save(_ context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byWorker[strings.TrimSpace(rec.WorkerID)] = rec.Clone()
	return nil
}
