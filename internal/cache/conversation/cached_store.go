package conversation

import (
	"context"
	"strings"
	"sync/atomic"

	lru "github.com/hashicorp/golang-lru/v2"
)

type CacheConfig struct {
	MaxEntries int
}

func DefaultCacheConfig() CacheConfig {
	return CacheConfig{MaxEntries: 256}
}

type MetricsSnapshot struct {
	Hits           uint64
	Misses         uint64
	OriginReads    uint64
	OriginWrites   uint64
	OriginReadErr  uint64
	OriginWriteErr uint64
}

type Metrics struct {
	hits           atomic.Uint64
	misses         atomic.Uint64
	originReads    atomic.Uint64
	originWrites   atomic.Uint64
	originReadErr  atomic.Uint64
	originWriteErr atomic.Uint64
}

func (m *Metrics) snapshot() MetricsSnapshot {
	if m == nil {
		return MetricsSnapshot{}
	}
	return MetricsSnapshot{
		Hits:           m.hits.Load(),
		Misses:         m.misses.Load(),
		OriginReads:    m.originReads.Load(),
		OriginWrites:   m.originWrites.Load(),
		OriginReadErr:  m.originReadErr.Load(),
		OriginWriteErr: m.originWriteErr.Load(),
	}
}

// CachedStore is a read-through, write-through LRU in front of a durable
// Store. Misses are not cached.
type CachedStore struct {
	origin  Store
	records *lru.Cache[string, *Record]
	metrics Metrics
}

func NewCachedStore(origin Store, cfg CacheConfig) (*CachedStore, error) {
	if cfg.MaxEntries <= 0 {
		cfg.MaxEntries = DefaultCacheConfig().MaxEntries
	}
	records, err := lru.New[string, *Record](cfg.MaxEntries)
	if err != nil {
		return nil, err
	}
	return &CachedStore{origin: origin, records: records}, nil
}

func (s *CachedStore) FindByWorker(ctx context.Context, workerID string) (*Record, error) {
	key := strings.TrimSpace(workerID)
	if rec, ok := s.records.Get(key); ok {
		s.metrics.hits.Add(1)
		return rec.Clone(), nil
	}
	s.metrics.misses.Add(1)
	s.metrics.originReads.Add(1)

	rec, err := s.origin.FindByWorker(ctx, key)
	if err != nil {
		s.metrics.originReadErr.Add(1)
		return nil, err
	}
	s.records.Add(key, rec.Clone())
	return rec, nil
}

func (s *CachedStore) Save(ctx context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	key := strings.TrimSpace(rec.WorkerID)
	s.metrics.originWrites.Add(1)
	if err := s.origin.Save(ctx, rec); err != nil {
		s.metrics.originWriteErr.Add(1)
		s.records.Remove(key)
		return err
	}
	s.records.Add(key, rec.Clone())
	return nil
}

func (s *CachedStore) Metrics() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.snapshot()
}
