package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

type fakeOriginStore struct {
	mu sync.Mutex

	records map[string]*Record

	findCalls int
	saveCalls int
	failSave  bool
}

func newFakeOriginStore() *fakeOriginStore {
	return &fakeOriginStore{records: map[string]*Record{}}
}

func (s *fakeOriginStore) FindByWorker(_ context.Context, workerID string) (*Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.findCalls++
	rec, ok := s.records[workerID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

func (s *fakeOriginStore) Save(_ context.Context, rec *Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	if s.failSave {
		return fmt.Errorf("disk full")
	}
	s.records[rec.WorkerID] = rec.Clone()
	return nil
}

func TestCachedStoreReadThroughAndMetrics(t *testing.T) {
	origin := newFakeOriginStore()
	rec := NewRecord("w1", time.Now())
	rec.Messages = append(rec.Messages, Message{Role: RoleUser, Content: "hi"})
	origin.records["w1"] = rec

	store, err := NewCachedStore(origin, CacheConfig{MaxEntries: 8})
	if err != nil {
		t.Fatalf("NewCachedStore() error = %v", err)
	}
	got1, err := store.FindByWorker(context.Background(), "w1")
	if err != nil {
		t.Fatalf("first find failed: %v", err)
	}
	got1.Messages[0].Content = "mutated"
	got2, err := store.FindByWorker(context.Background(), "w1")
	if err != nil {
		t.Fatalf("second find failed: %v", err)
	}
	if got2.Messages[0].Content != "hi" {
		t.Fatalf("cached record was mutated through a returned copy: %q", got2.Messages[0].Content)
	}
	if origin.findCalls != 1 {
		t.Fatalf("expected one origin find call, got %d", origin.findCalls)
	}
	m := store.Metrics()
	if m.Hits != 1 || m.Misses != 1 || m.OriginReads != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestCachedStoreMissIsNotCached(t *testing.T) {
	origin := newFakeOriginStore()
	store, _ := NewCachedStore(origin, DefaultCacheConfig())

	for i := 0; i < 2; i++ {
		if _, err := store.FindByWorker(context.Background(), "nope"); !errors.Is(err, ErrNotFound) {
			t.Fatalf("expected ErrNotFound, got %v", err)
		}
	}
	if origin.findCalls != 2 {
		t.Fatalf("expected two origin find calls, got %d", origin.findCalls)
	}
	if m := store.Metrics(); m.OriginReadErr != 2 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestCachedStoreWriteThrough(t *testing.T) {
	origin := newFakeOriginStore()
	store, _ := NewCachedStore(origin, DefaultCacheConfig())

	rec := NewRecord("w1", time.Now())
	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := store.FindByWorker(context.Background(), "w1"); err != nil {
		t.Fatalf("find after save failed: %v", err)
	}
	if origin.findCalls != 0 {
		t.Fatalf("expected save to populate the cache, origin find calls = %d", origin.findCalls)
	}

	origin.failSave = true
	rec.ThinkingEnabled = true
	if err := store.Save(context.Background(), rec); err == nil {
		t.Fatalf("expected save error")
	}
	got, err := store.FindByWorker(context.Background(), "w1")
	if err != nil {
		t.Fatalf("find after failed save: %v", err)
	}
	if got.ThinkingEnabled {
		t.Fatalf("failed save must not reach the cache")
	}
	if m := store.Metrics(); m.OriginWrites != 2 || m.OriginWriteErr != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}

func TestCachedStoreRejectsInvalidRecord(t *testing.T) {
	store, _ := NewCachedStore(newFakeOriginStore(), DefaultCacheConfig())
	if err := store.Save(context.Background(), nil); err == nil {
		t.Fatalf("expected error for nil record")
	}
	if err := store.Save(context.Background(), &Record{ID: "x"}); err == nil {
		t.Fatalf("expected error for record without worker id")
	}
}

func TestCachedStoreKeysByTrimmedWorker(t *testing.T) {
	origin := newFakeOriginStore()
	store, _ := NewCachedStore(origin, DefaultCacheConfig())

	rec := NewRecord(" w1 ", time.Now())
	if err := store.Save(context.Background(), rec); err != nil {
		t.Fatalf("save failed: %v", err)
	}
	if _, err := store.FindByWorker(context.Background(), "w1"); err != nil {
		t.Fatalf("find by trimmed id failed: %v", err)
	}
	if origin.findCalls != 0 {
		t.Fatalf("expected a cache hit, origin find calls = %d", origin.findCalls)
	}
	if m := store.Metrics(); m.Hits != 1 {
		t.Fatalf("unexpected metrics: %+v", m)
	}
}
