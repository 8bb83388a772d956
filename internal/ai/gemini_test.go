package ai

import (
	"context"
	"errors"
	"iter"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	genai "google.golang.org/genai"
)

type fakeModels struct {
	chunks   []*genai.GenerateContentResponse
	err      error
	calls    int
	model    string
	contents []*genai.Content
	config   *genai.GenerateContentConfig
}

func (f *fakeModels) GenerateContentStream(_ context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) iter.Seq2[*genai.GenerateContentResponse, error] {
	f.calls++
	f.model, f.contents, f.config = model, contents, config
	return func(yield func(*genai.GenerateContentResponse, error) bool) {
		for _, c := range f.chunks {
			if !yield(c, nil) {
				return
			}
		}
		if f.err != nil {
			yield(nil, f.err)
		}
	}
}

func chunk(parts ...*genai.Part) *genai.GenerateContentResponse {
	return &genai.GenerateContentResponse{Candidates: []*genai.Candidate{{Content: &genai.Content{Role: "model", Parts: parts}}}}
}

func TestGeminiStreamerMapsThoughtsTextAndCode(t *testing.T) {
	last := chunk(&genai.Part{Text: "```\n"})
	last.Candidates[0].FinishReason = "STOP"
	last.UsageMetadata = &genai.GenerateContentResponseUsageMetadata{PromptTokenCount: 40, CandidatesTokenCount: 9}
	models := &fakeModels{chunks: []*genai.GenerateContentResponse{
		chunk(&genai.Part{Text: "considering", Thought: true}),
		chunk(&genai.Part{Text: "Adds a try/catch.\n```ts\nexport default "}),
		chunk(&genai.Part{Text: "{}\n"}),
		last,
	}}
	g := &GeminiStreamer{models: models, model: "gemini-2.5-flash"}

	on := true
	s, err := g.Stream(context.Background(), ChatRequest{
		Code:           "x",
		Diagnostics:    []string{"TS1005"},
		Messages:       []ChatMessage{{Role: RoleUser, Content: "q"}, {Role: RoleAssistant, Content: "a"}},
		UserMessage:    "fix",
		EnableThinking: &on,
	})
	require.NoError(t, err)
	evs, err := Collect(context.Background(), s)
	require.NoError(t, err)

	require.Equal(t, []EventType{
		EventMessageStart, EventThinkingStart, EventThinking, EventThinkingStop,
		EventText, EventCodeStart, EventCodeComplete, EventMessageDelta, EventDone,
	}, types(evs))
	assert.Equal(t, "gemini-2.5-flash", evs[0].Model)
	assert.Equal(t, "considering", evs[2].Content)
	assert.Equal(t, "Adds a try/catch.\n", evs[4].Content)
	assert.Equal(t, codeTool, evs[5].Tool)
	assert.Equal(t, "export default {}\n", evs[6].Code)
	assert.Equal(t, "Adds a try/catch.", evs[6].Explanation)
	assert.Equal(t, "STOP", evs[7].StopReason)
	assert.Equal(t, &Usage{InputTokens: 40, OutputTokens: 9}, evs[7].Usage)

	require.Len(t, models.contents, 3)
	assert.Equal(t, "model", models.contents[1].Role)
	assert.Contains(t, models.contents[2].Parts[0].Text, "TS1005")
	require.NotNil(t, models.config.ThinkingConfig)
	assert.True(t, models.config.ThinkingConfig.IncludeThoughts)
}

func TestGeminiStreamerErrorEndsWithoutDone(t *testing.T) {
	models := &fakeModels{
		chunks: []*genai.GenerateContentResponse{chunk(&genai.Part{Text: "partial"})},
		err:    errors.New("quota exceeded"),
	}
	s, err := (&GeminiStreamer{models: models, model: "m"}).Stream(context.Background(), ChatRequest{Model: "override"})
	require.NoError(t, err)
	evs, err := Collect(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, []EventType{EventMessageStart, EventError}, types(evs))
	assert.Equal(t, "quota exceeded", evs[1].Message)
	assert.Equal(t, "override", models.model)
	assert.Nil(t, models.config.ThinkingConfig)
}

func TestCodeSplitterUnterminatedFence(t *testing.T) {
	var s codeSplitter
	evs := s.write("Here.\n```js\nconst a = 1;")
	require.Equal(t, []EventType{EventText, EventCodeStart}, types(evs))
	evs = s.flush()
	require.Equal(t, []EventType{EventCodeComplete}, types(evs))
	assert.Equal(t, "const a = 1;", evs[0].Code)
	assert.Equal(t, "Here.", evs[0].Explanation)
}
