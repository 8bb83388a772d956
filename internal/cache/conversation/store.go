// Package conversation persists one AI chat conversation per worker on the
// local machine. Stores are a convenience cache, not the source of truth.
package conversation

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var ErrNotFound = errors.New("conversation: not found")

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Record is the persisted conversation of one worker.
type Record struct {
	ID              string    `json:"id"`
	WorkerID        string    `json:"workerId"`
	Messages        []Message `json:"messages"`
	ThinkingEnabled bool      `json:"thinkingEnabled"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// NewRecord starts an empty conversation for workerID.
func NewRecord(workerID string, now time.Time) *Record {
	return &Record{
		ID:        ulid.Make().String(),
		WorkerID:  strings.TrimSpace(workerID),
		Messages:  []Message{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	cp := *r
	cp.Messages = append([]Message(nil), r.Messages...)
	return &cp
}

// Store looks conversations up by worker id; there is at most one per worker.
type Store interface {
	FindByWorker(ctx context.Context, workerID string) (*Record, error)
	Save(ctx context.Context, rec *Record) error
}

func validate(rec *Record) error {
	if rec == nil {
		return errors.New("conversation: record is nil")
	}
	if strings.TrimSpace(rec.ID) == "" || strings.TrimSpace(rec.WorkerID) == "" {
		return errors.New("conversation: id and worker id are required")
	}
	return nil
}
