package app

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"owconsole/internal/broadcast"
	"owconsole/internal/chat"
	"owconsole/internal/config"
	"owconsole/internal/resource"
	"owconsole/internal/transport"
)

type fakeConsoleAPI struct {
	mu      sync.Mutex
	workers map[string]resource.Worker
	scripts map[string]string
	auth    []string
	lists   int

	failPatch bool
}

func (f *fakeConsoleAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.auth = append(f.auth, r.Header.Get("Authorization"))
	write := func(v any) { _ = json.NewEncoder(w).Encode(v) }
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/workers/")

	switch {
	case r.Method == http.MethodGet && r.URL.Path == "/api/v1/workers":
		f.lists++
		out := []resource.Worker{}
		for _, wk := range f.workers {
			out = append(out, wk)
		}
		write(out)
	case r.Method == http.MethodPost && r.URL.Path == "/api/v1/workers":
		var in resource.WorkerCreateInput
		_ = json.NewDecoder(r.Body).Decode(&in)
		wk := resource.Worker{ID: fmt.Sprintf("w%d", len(f.workers)+1), Name: in.Name, Crons: []resource.Cron{}, Domains: []string{}, UpdatedAt: time.Now()}
		f.workers[wk.ID] = wk
		write(wk)
	case r.Method == http.MethodGet && strings.HasPrefix(r.URL.Path, "/api/v1/workers/"):
		wk := f.workers[id]
		if r.URL.Query().Get("script") == "true" {
			s := f.scripts[id]
			wk.Script = &s
		}
		write(wk)
	case r.Method == http.MethodPatch && f.failPatch:
		http.Error(w, `{"error":"script rejected"}`, http.StatusUnprocessableEntity)
	case r.Method == http.MethodPatch && strings.HasPrefix(r.URL.Path, "/api/v1/workers/"):
		var in resource.WorkerUpdateInput
		_ = json.NewDecoder(r.Body).Decode(&in)
		wk := f.workers[id]
		if in.Script != nil {
			f.scripts[id] = *in.Script
			wk.Script = in.Script
		}
		wk.UpdatedAt = time.Now()
		write(wk)
	case r.URL.Path == "/api/v1/ai/chat/stream":
		for _, rec := range []string{
			`{"type":"text","content":"Adding a log."}`,
			`{"type":"code_start","tool":"update_code"}`,
			`{"type":"code_complete","code":"console.log(1)","explanation":"Logs one"}`,
			`{"type":"done"}`,
		} {
			fmt.Fprintf(w, "data: %s\n\n", rec)
		}
	default:
		http.NotFound(w, r)
	}
}

func testConfig(t *testing.T, apiURL string) *config.Config {
	t.Helper()
	dir := t.TempDir()
	return &config.Config{
		APIURL:        apiURL,
		AccessToken:   "opaque-token",
		HTTPTimeout:   5 * time.Second,
		StateDir:      dir,
		Broadcast:     config.BroadcastConfig{Mode: config.BroadcastLocal},
		Conversations: config.ConversationConfig{Store: config.ConversationSQLite, Path: dir + "/conversations.db"},
		AI:            config.AIConfig{Provider: config.AIProviderAPI},
	}
}

func TestInstancesShareMutationsThroughHub(t *testing.T) {
	ctx := context.Background()
	fake := &fakeConsoleAPI{workers: map[string]resource.Worker{}, scripts: map[string]string{}}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	hub := broadcast.NewLocalHub()
	cfg := testConfig(t, srv.URL)
	a, err := NewWithBroker(ctx, cfg, hub.Tab())
	require.NoError(t, err)
	defer a.Close()
	b, err := NewWithBroker(ctx, cfg, hub.Tab())
	require.NoError(t, err)
	defer b.Close()

	listB, err := b.Workers.FindAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, listB.Get())

	_, err = a.Workers.Create(ctx, resource.WorkerCreateInput{Name: "w1"})
	require.NoError(t, err)

	require.Eventually(t, func() bool { return len(listB.Get()) == 1 }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "w1", listB.Get()[0].Name)
	fake.mu.Lock()
	assert.Equal(t, 1, fake.lists, "peer list filled by broadcast, not a refetch")
	assert.Equal(t, "Bearer opaque-token", fake.auth[0])
	fake.mu.Unlock()
}

func TestOpenEditorAcceptWritesScriptBack(t *testing.T) {
	ctx := context.Background()
	fake := &fakeConsoleAPI{
		workers: map[string]resource.Worker{"w1": {ID: "w1", Name: "hello", Crons: []resource.Cron{}, Domains: []string{}}},
		scripts: map[string]string{"w1": "export default {}"},
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	a, err := NewWithBroker(ctx, testConfig(t, srv.URL), broadcast.NoopBroker{})
	require.NoError(t, err)
	defer a.Close()

	var applied string
	ctl, err := a.OpenEditor(ctx, "w1", chat.Options{OnApply: func(_ context.Context, code string) error {
		applied = code
		return nil
	}})
	require.NoError(t, err)
	require.NoError(t, ctl.Send(ctx, "add a log"))
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, ctl.Wait(wctx))

	p, ok := ctl.Pending()
	require.True(t, ok)
	assert.Equal(t, "export default {}", p.OriginalCode)
	require.NoError(t, ctl.Accept(ctx))
	assert.Equal(t, "console.log(1)", applied)

	fake.mu.Lock()
	assert.Equal(t, "console.log(1)", fake.scripts["w1"])
	fake.mu.Unlock()

	rec, err := a.Conversations().FindByWorker(ctx, "w1")
	require.NoError(t, err)
	var texts []string
	for _, m := range rec.Messages {
		texts = append(texts, m.Content)
	}
	assert.Equal(t, []string{"add a log", "Adding a log.", "✅ Logs one"}, texts)
}

func TestOpenEditorFailedWriteBackKeepsProposal(t *testing.T) {
	ctx := context.Background()
	fake := &fakeConsoleAPI{
		workers:   map[string]resource.Worker{"w1": {ID: "w1", Name: "hello", Crons: []resource.Cron{}, Domains: []string{}}},
		scripts:   map[string]string{"w1": "export default {}"},
		failPatch: true,
	}
	srv := httptest.NewServer(fake)
	defer srv.Close()

	a, err := NewWithBroker(ctx, testConfig(t, srv.URL), broadcast.NoopBroker{})
	require.NoError(t, err)
	defer a.Close()

	ctl, err := a.OpenEditor(ctx, "w1", chat.Options{})
	require.NoError(t, err)
	require.NoError(t, ctl.Send(ctx, "add a log"))
	wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	require.NoError(t, ctl.Wait(wctx))

	err = ctl.Accept(ctx)
	require.Error(t, err)
	assert.True(t, transport.IsStatus(err, http.StatusUnprocessableEntity), "got %v", err)
	assert.Equal(t, chat.AwaitingDiffDecision, ctl.State())
	assert.Equal(t, "export default {}", ctl.Session().Code())

	fake.mu.Lock()
	assert.Equal(t, "export default {}", fake.scripts["w1"])
	fake.failPatch = false
	fake.mu.Unlock()

	require.NoError(t, ctl.Accept(ctx))
	rec, err := a.Conversations().FindByWorker(ctx, "w1")
	require.NoError(t, err)
	var texts []string
	for _, m := range rec.Messages {
		texts = append(texts, m.Content)
	}
	assert.Equal(t, []string{"add a log", "Adding a log.", "✅ Logs one"}, texts)
}

func TestGeminiProviderNeedsKey(t *testing.T) {
	cfg := testConfig(t, "http://127.0.0.1:1")
	cfg.AI.Provider = config.AIProviderGemini
	_, err := NewWithBroker(context.Background(), cfg, nil)
	require.Error(t, err)
}
