package config

import (
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{
		"OW_API_URL", "OW_ACCESS_TOKEN", "OW_REFRESH_TOKEN", "OW_HTTP_TIMEOUT", "OW_BROADCAST",
		"OW_RELAY_URL", "OW_BROADCAST_PG_DSN", "OW_CONVERSATION_STORE", "OW_AI_PROVIDER", "OW_GEMINI_MODEL",
	} {
		t.Setenv(k, "")
	}
	dir := t.TempDir()
	t.Setenv("OW_STATE_DIR", dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIURL != "http://localhost:7000" {
		t.Fatalf("APIURL = %q", cfg.APIURL)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Fatalf("HTTPTimeout = %v", cfg.HTTPTimeout)
	}
	if cfg.Broadcast.Mode != BroadcastLocal || cfg.Broadcast.RelayURL != "ws://localhost:7070/ws" {
		t.Fatalf("unexpected broadcast config: %+v", cfg.Broadcast)
	}
	if cfg.Conversations.Store != ConversationSQLite || cfg.Conversations.Path != filepath.Join(dir, "conversations.db") {
		t.Fatalf("unexpected conversation config: %+v", cfg.Conversations)
	}
	if cfg.AI.Provider != AIProviderAPI {
		t.Fatalf("AI provider = %q", cfg.AI.Provider)
	}
	if cfg.TokenPath() != filepath.Join(dir, "tokens.json") {
		t.Fatalf("TokenPath() = %q", cfg.TokenPath())
	}
}

func TestLoadOverridesAndFallbacks(t *testing.T) {
	t.Setenv("OW_STATE_DIR", t.TempDir())
	t.Setenv("OW_API_URL", "https://dash.example.com/")
	t.Setenv("OW_HTTP_TIMEOUT", "not-a-duration")
	t.Setenv("OW_BROADCAST", "WS")
	t.Setenv("OW_CONVERSATION_STORE", "redis")
	t.Setenv("OW_AI_PROVIDER", "gemini")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.APIURL != "https://dash.example.com" {
		t.Fatalf("APIURL = %q", cfg.APIURL)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Fatalf("bad duration should fall back, got %v", cfg.HTTPTimeout)
	}
	if cfg.Broadcast.Mode != BroadcastWS {
		t.Fatalf("broadcast mode = %q", cfg.Broadcast.Mode)
	}
	if cfg.Conversations.Store != ConversationSQLite {
		t.Fatalf("unknown store should fall back, got %q", cfg.Conversations.Store)
	}
	if cfg.AI.Provider != AIProviderGemini {
		t.Fatalf("AI provider = %q", cfg.AI.Provider)
	}
}
