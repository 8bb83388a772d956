package ai

import (
	"context"
	"errors"
	"iter"
	"strings"

	"github.com/golang/glog"
	"github.com/oklog/ulid/v2"
	genai "google.golang.org/genai"
)

const (
	codeTool = "update_code"

	geminiInstruction = `You are an assistant embedded in a code editor for OpenWorkers, a JavaScript/TypeScript worker runtime.
Answer questions about the user's worker script concisely.
When you change the code, write one short paragraph explaining the change, then the complete updated file in a single fenced code block.
Never send partial files inside a code block.`
)

type contentStreamer interface {
	GenerateContentStream(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error]
}

// GeminiStreamer talks to Gemini directly and maps its chunks onto the same
// events the OpenWorkers API streams. A fenced code block in the reply
// becomes code_start/code_complete.
type GeminiStreamer struct {
	models contentStreamer
	model  string
}

func NewGeminiStreamer(ctx context.Context, apiKey, model string) (*GeminiStreamer, error) {
	cli, err := genai.NewClient(ctx, &genai.ClientConfig{APIKey: apiKey, Backend: genai.BackendGeminiAPI})
	if err != nil {
		return nil, err
	}
	glog.V(1).Infof("ai: gemini streamer model=%s", model)
	return &GeminiStreamer{models: cli.Models, model: model}, nil
}

func (g *GeminiStreamer) Name() string { return "Gemini:" + g.model }

func (g *GeminiStreamer) Stream(ctx context.Context, req ChatRequest) (*Stream, error) {
	if g == nil || g.models == nil {
		return nil, errors.New("ai: gemini streamer is nil")
	}
	model := g.model
	if req.Model != "" {
		model = req.Model
	}
	contents := geminiContents(req)
	cfg := geminiConfig(req)

	return NewStream(ctx, func(ctx context.Context, emit func(Event) bool) {
		if !emit(Event{Type: EventMessageStart, ID: ulid.Make().String(), Model: model}) {
			return
		}
		var (
			split      codeSplitter
			thinking   bool
			usage      *Usage
			stopReason string
		)
		send := func(evs ...Event) bool {
			for _, ev := range evs {
				if !emit(ev) {
					return false
				}
			}
			return true
		}
		for resp, err := range g.models.GenerateContentStream(ctx, model, contents, cfg) {
			if err != nil {
				if ctx.Err() == nil {
					glog.Warningf("ai: gemini stream failed model=%s err=%v", model, err)
					emit(errorEvent(err.Error()))
				}
				return
			}
			if resp == nil {
				continue
			}
			if m := resp.UsageMetadata; m != nil {
				usage = &Usage{InputTokens: int(m.PromptTokenCount), OutputTokens: int(m.CandidatesTokenCount)}
			}
			for _, cand := range resp.Candidates {
				if cand == nil {
					continue
				}
				if cand.FinishReason != "" {
					stopReason = string(cand.FinishReason)
				}
				if cand.Content == nil {
					continue
				}
				for _, part := range cand.Content.Parts {
					if part == nil || part.Text == "" {
						continue
					}
					if part.Thought {
						if !thinking {
							thinking = true
							if !send(Event{Type: EventThinkingStart}) {
								return
							}
						}
						if !send(Event{Type: EventThinking, Content: part.Text}) {
							return
						}
						continue
					}
					if thinking {
						thinking = false
						if !send(Event{Type: EventThinkingStop}) {
							return
						}
					}
					if !send(split.write(part.Text)...) {
						return
					}
				}
			}
		}
		if thinking && !send(Event{Type: EventThinkingStop}) {
			return
		}
		if !send(split.flush()...) {
			return
		}
		send(
			Event{Type: EventMessageDelta, StopReason: stopReason, Usage: usage},
			Event{Type: EventDone},
		)
	}), nil
}

func geminiContents(req ChatRequest) []*genai.Content {
	out := make([]*genai.Content, 0, len(req.Messages)+1)
	for _, m := range req.Messages {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		out = append(out, &genai.Content{Role: role, Parts: []*genai.Part{{Text: m.Content}}})
	}

	var b strings.Builder
	b.WriteString("[CURRENT CODE]\n")
	b.WriteString(req.Code)
	if len(req.Diagnostics) > 0 {
		b.WriteString("\n\n[DIAGNOSTICS]\n")
		b.WriteString(strings.Join(req.Diagnostics, "\n"))
	}
	b.WriteString("\n\n[REQUEST]\n")
	b.WriteString(req.UserMessage)
	return append(out, &genai.Content{Role: "user", Parts: []*genai.Part{{Text: b.String()}}})
}

func geminiConfig(req ChatRequest) *genai.GenerateContentConfig {
	cfg := &genai.GenerateContentConfig{
		SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: geminiInstruction}}},
	}
	if req.EnableThinking != nil && *req.EnableThinking {
		tc := &genai.ThinkingConfig{IncludeThoughts: true}
		if req.ThinkingBudget != nil {
			budget := int32(*req.ThinkingBudget)
			tc.ThinkingBudget = &budget
		}
		cfg.ThinkingConfig = tc
	}
	return cfg
}

// codeSplitter cuts model prose into text events line by line and turns the
// first fenced block that follows into code_start/code_complete.
type codeSplitter struct {
	line   strings.Builder
	inCode bool
	code   strings.Builder
	prose  strings.Builder
}

func (s *codeSplitter) write(text string) []Event {
	var out []Event
	for text != "" {
		i := strings.IndexByte(text, '\n')
		if i < 0 {
			s.line.WriteString(text)
			break
		}
		s.line.WriteString(text[:i+1])
		text = text[i+1:]
		out = append(out, s.completeLine()...)
	}
	return out
}

func (s *codeSplitter) completeLine() []Event {
	line := s.line.String()
	s.line.Reset()
	fence := strings.HasPrefix(strings.TrimSpace(line), "```")
	switch {
	case fence && !s.inCode:
		s.inCode = true
		s.code.Reset()
		return []Event{{Type: EventCodeStart, Tool: codeTool}}
	case fence && s.inCode:
		return []Event{s.complete()}
	case s.inCode:
		s.code.WriteString(line)
		return nil
	default:
		s.prose.WriteString(line)
		return []Event{{Type: EventText, Content: line}}
	}
}

func (s *codeSplitter) complete() Event {
	s.inCode = false
	ev := Event{
		Type:        EventCodeComplete,
		Code:        s.code.String(),
		Explanation: strings.TrimSpace(s.prose.String()),
	}
	s.code.Reset()
	s.prose.Reset()
	return ev
}

func (s *codeSplitter) flush() []Event {
	var out []Event
	if s.line.Len() > 0 {
		out = append(out, s.completeLine()...)
	}
	if s.inCode {
		out = append(out, s.complete())
	}
	return out
}
