// Package ai speaks the AI chat streaming protocol: a response body of
// newline-delimited "data: <json>" records, each one typed Event.
package ai

import "errors"

var ErrStreamClosed = errors.New("ai: stream closed")

type EventType string

const (
	EventMessageStart  EventType = "message_start"
	EventText          EventType = "text"
	EventThinkingStart EventType = "thinking_start"
	EventThinking      EventType = "thinking"
	EventThinkingStop  EventType = "thinking_stop"
	EventCodeStart     EventType = "code_start"
	EventCodeComplete  EventType = "code_complete"
	EventMessageDelta  EventType = "message_delta"
	EventPing          EventType = "ping"
	EventDone          EventType = "done"
	EventError         EventType = "error"
)

// Usage mirrors the token counters reported by the model provider.
type Usage struct {
	InputTokens  int `json:"input_tokens,omitempty"`
	OutputTokens int `json:"output_tokens,omitempty"`
}

// Event is one decoded stream record. Only the fields of its Type are set:
//
//	message_start  ID, Model, Usage
//	text, thinking Content
//	code_start     Tool
//	code_complete  Code, Explanation
//	message_delta  StopReason, Usage
//	error          Message, ErrorType
type Event struct {
	Type EventType `json:"type"`

	ID    string `json:"id,omitempty"`
	Model string `json:"model,omitempty"`
	Usage *Usage `json:"usage,omitempty"`

	Content string `json:"content,omitempty"`

	Tool        string `json:"tool,omitempty"`
	Code        string `json:"code,omitempty"`
	Explanation string `json:"explanation,omitempty"`

	StopReason string `json:"stopReason,omitempty"`

	Message   string `json:"message,omitempty"`
	ErrorType string `json:"errorType,omitempty"`
}

func errorEvent(msg string) Event {
	if msg == "" {
		msg = "Stream failed"
	}
	return Event{Type: EventError, Message: msg}
}

func (t EventType) known() bool {
	switch t {
	case EventMessageStart, EventText, EventThinkingStart, EventThinking, EventThinkingStop,
		EventCodeStart, EventCodeComplete, EventMessageDelta, EventPing, EventDone, EventError:
		return true
	}
	return false
}

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type ChatMessage struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// ChatRequest is the body of POST /api/v1/ai/chat/stream.
type ChatRequest struct {
	Code           string        `json:"code"`
	Diagnostics    []string      `json:"diagnostics"`
	Messages       []ChatMessage `json:"messages"`
	UserMessage    string        `json:"userMessage"`
	Model          string        `json:"model,omitempty"`
	EnableThinking *bool         `json:"enableThinking,omitempty"`
	ThinkingBudget *int          `json:"thinkingBudget,omitempty"`
}

// ChatResponse is the body returned by the non-streaming POST /api/v1/ai/chat.
type ChatResponse struct {
	Response    string  `json:"response"`
	AppliedCode *string `json:"appliedCode"`
}
