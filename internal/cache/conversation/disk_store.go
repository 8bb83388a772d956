package conversation

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// DiskStore keeps one JSON file per worker under root.
type DiskStore struct {
	root string
	mu   sync.Mutex
}

func NewDiskStore(root string) *DiskStore {
	return &DiskStore{root: root}
}

func (s *DiskStore) FindByWorker(_ context.Context, workerID string) (*Record, error) {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return nil, ErrNotFound
	}
	path, err := s.pathFor(workerID)
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	var rec Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if rec.WorkerID != workerID {
		return nil, ErrNotFound
	}
	return &rec, nil
}

func (s *DiskStore) Save(_ context.Context, rec *Record) error {
	if err := validate(rec); err != nil {
		return err
	}
	path, err := s.pathFor(rec.WorkerID)
	if err != nil {
		return err
	}
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *DiskStore) pathFor(workerID string) (string, error) {
	if s == nil {
		return "", fmt.Errorf("store is nil")
	}
	if s.root == "" {
		return "", fmt.Errorf("root is required")
	}
	return filepath.Join(s.root, url.PathEscape(workerID)+".json"), nil
}
