// Package editor holds the state of one worker's AI editing session: the
// code buffer, its diagnostics, the persisted conversation and the transient
// streaming buffer.
package editor

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/golang/glog"

	"owconsole/internal/ai"
	"owconsole/internal/cache/conversation"
	"owconsole/internal/live"
)

// Snapshot is a copy of the session state.
type Snapshot struct {
	WorkerID        string
	ConversationID  string
	Code            string
	Diagnostics     []string
	Messages        []conversation.Message
	ThinkingEnabled bool
	Streaming       bool
	StreamingText   string
	ThinkingText    string
}

// Store is safe for concurrent use. Changes to messages or the thinking
// toggle are saved before the mutating call returns; a failed save keeps
// the in-memory state and is reported to the caller and by LastSaveError.
type Store struct {
	conversations conversation.Store
	now           func() time.Time

	saveMu sync.Mutex // orders saves so the newest state lands last

	mu            sync.Mutex
	workerID      string
	rec           *conversation.Record
	code          string
	diagnostics   []string
	streaming     bool
	streamingText strings.Builder
	thinkingText  strings.Builder
	saveErr       error

	state *live.Value[Snapshot]
}

func NewStore(conversations conversation.Store) *Store {
	return &Store{
		conversations: conversations,
		now:           time.Now,
		state:         live.New(Snapshot{}),
	}
}

// State publishes a Snapshot after every change.
func (s *Store) State() *live.Value[Snapshot] { return s.state }

// Init binds the store to workerID, loading its conversation or creating
// one. When the lookup fails the session still works but is not saved.
func (s *Store) Init(ctx context.Context, workerID, initialCode string) error {
	workerID = strings.TrimSpace(workerID)
	if workerID == "" {
		return errors.New("editor: worker id is required")
	}
	s.mu.Lock()
	s.workerID = workerID
	s.rec = nil
	s.code = initialCode
	s.diagnostics = nil
	s.resetStreamingLocked()
	s.mu.Unlock()

	rec, err := s.conversations.FindByWorker(ctx, workerID)
	created := false
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		rec = conversation.NewRecord(workerID, s.now())
		created = true
	case err != nil:
		glog.Warningf("editor: load conversation failed worker=%s err=%v", workerID, err)
		s.publish()
		return fmt.Errorf("load conversation: %w", err)
	}
	glog.V(1).Infof("editor: init worker=%s conversation=%s messages=%d created=%t", workerID, rec.ID, len(rec.Messages), created)

	s.mu.Lock()
	if s.workerID != workerID {
		s.mu.Unlock()
		return nil
	}
	s.rec = rec
	s.mu.Unlock()
	s.publish()

	if created {
		return s.persist(ctx)
	}
	return nil
}

func (s *Store) UpdateCode(code string) {
	s.mu.Lock()
	s.code = code
	s.mu.Unlock()
	s.publish()
}

func (s *Store) UpdateDiagnostics(diagnostics []string) {
	s.mu.Lock()
	s.diagnostics = append([]string(nil), diagnostics...)
	s.mu.Unlock()
	s.publish()
}

func (s *Store) ToggleThinking(ctx context.Context) error {
	s.mu.Lock()
	enabled := !s.thinkingLocked()
	s.mu.Unlock()
	return s.SetThinkingEnabled(ctx, enabled)
}

func (s *Store) SetThinkingEnabled(ctx context.Context, enabled bool) error {
	return s.mutate(ctx, func(rec *conversation.Record) { rec.ThinkingEnabled = enabled })
}

func (s *Store) AddUserMessage(ctx context.Context, content string) error {
	return s.appendMessage(ctx, conversation.RoleUser, content)
}

func (s *Store) AddAssistantMessage(ctx context.Context, content string) error {
	return s.appendMessage(ctx, conversation.RoleAssistant, content)
}

func (s *Store) StartStreaming() {
	s.mu.Lock()
	s.resetStreamingLocked()
	s.streaming = true
	s.mu.Unlock()
	s.publish()
}

func (s *Store) AppendStreamingText(text string) {
	s.mu.Lock()
	s.streamingText.WriteString(text)
	s.mu.Unlock()
	s.publish()
}

func (s *Store) AppendThinkingText(text string) {
	s.mu.Lock()
	s.thinkingText.WriteString(text)
	s.mu.Unlock()
	s.publish()
}

// FinalizeStreaming turns the streaming buffer into an assistant message
// when it is not empty and leaves streaming mode.
func (s *Store) FinalizeStreaming(ctx context.Context) error {
	s.mu.Lock()
	text := s.streamingText.String()
	s.resetStreamingLocked()
	s.mu.Unlock()
	if text == "" {
		s.publish()
		return nil
	}
	return s.appendMessage(ctx, conversation.RoleAssistant, text)
}

// CancelStreaming drops the streaming buffer. Calling it when not streaming
// is a no-op.
func (s *Store) CancelStreaming() {
	s.mu.Lock()
	idle := !s.streaming && s.streamingText.Len() == 0 && s.thinkingText.Len() == 0
	s.resetStreamingLocked()
	s.mu.Unlock()
	if !idle {
		s.publish()
	}
}

// ClearConversation empties the messages; the conversation record is kept.
func (s *Store) ClearConversation(ctx context.Context) error {
	s.mu.Lock()
	s.streamingText.Reset()
	s.thinkingText.Reset()
	s.mu.Unlock()
	return s.mutate(ctx, func(rec *conversation.Record) { rec.Messages = []conversation.Message{} })
}

// Cleanup saves the current conversation on session teardown.
func (s *Store) Cleanup(ctx context.Context) error {
	return s.persist(ctx)
}

// MessagesForAPI returns the user and assistant turns in order.
func (s *Store) MessagesForAPI() []ai.ChatMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []ai.ChatMessage
	for _, m := range s.messagesLocked() {
		switch m.Role {
		case conversation.RoleUser:
			out = append(out, ai.ChatMessage{Role: ai.RoleUser, Content: m.Content})
		case conversation.RoleAssistant:
			out = append(out, ai.ChatMessage{Role: ai.RoleAssistant, Content: m.Content})
		}
	}
	if out == nil {
		out = []ai.ChatMessage{}
	}
	return out
}

func (s *Store) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Store) HasMessages() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.messagesLocked()) > 0
}

func (s *Store) CanSend() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.streaming
}

func (s *Store) IsStreaming() bool {
	return !s.CanSend()
}

func (s *Store) Code() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.code
}

func (s *Store) Diagnostics() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.diagnostics...)
}

func (s *Store) StreamingText() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.streamingText.String()
}

func (s *Store) ThinkingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.thinkingLocked()
}

// LastSaveError reports the error of the most recent save, nil when it
// succeeded.
func (s *Store) LastSaveError() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveErr
}

func (s *Store) appendMessage(ctx context.Context, role conversation.Role, content string) error {
	return s.mutate(ctx, func(rec *conversation.Record) {
		rec.Messages = append(rec.Messages, conversation.Message{Role: role, Content: content})
	})
}

// mutate applies fn to the conversation and saves it. Before Init the
// change is kept in a detached record that is never saved.
func (s *Store) mutate(ctx context.Context, fn func(rec *conversation.Record)) error {
	s.mu.Lock()
	if s.rec == nil {
		s.rec = &conversation.Record{Messages: []conversation.Message{}}
	}
	fn(s.rec)
	s.mu.Unlock()
	s.publish()
	return s.persist(ctx)
}

func (s *Store) persist(ctx context.Context) error {
	s.saveMu.Lock()
	defer s.saveMu.Unlock()

	s.mu.Lock()
	if s.workerID == "" || s.rec == nil || s.rec.ID == "" {
		s.mu.Unlock()
		return nil
	}
	s.rec.UpdatedAt = s.now()
	rec := s.rec.Clone()
	s.mu.Unlock()

	err := s.conversations.Save(ctx, rec)
	if err != nil {
		glog.Warningf("editor: save conversation failed worker=%s conversation=%s err=%v", rec.WorkerID, rec.ID, err)
		err = fmt.Errorf("save conversation: %w", err)
	}
	s.mu.Lock()
	s.saveErr = err
	s.mu.Unlock()
	return err
}

func (s *Store) publish() {
	s.state.Set(s.Snapshot())
}

func (s *Store) resetStreamingLocked() {
	s.streaming = false
	s.streamingText.Reset()
	s.thinkingText.Reset()
}

func (s *Store) messagesLocked() []conversation.Message {
	if s.rec == nil {
		return nil
	}
	return s.rec.Messages
}

func (s *Store) thinkingLocked() bool {
	return s.rec != nil && s.rec.ThinkingEnabled
}

func (s *Store) snapshotLocked() Snapshot {
	snap := Snapshot{
		WorkerID:        s.workerID,
		Code:            s.code,
		Diagnostics:     append([]string(nil), s.diagnostics...),
		Messages:        append([]conversation.Message(nil), s.messagesLocked()...),
		ThinkingEnabled: s.thinkingLocked(),
		Streaming:       s.streaming,
		StreamingText:   s.streamingText.String(),
		ThinkingText:    s.thinkingText.String(),
	}
	if s.rec != nil {
		snap.ConversationID = s.rec.ID
	}
	return snap
}
