package config

import (
	"flag"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	BroadcastLocal = "local"
	BroadcastWS    = "ws"
	BroadcastPG    = "pg"
	BroadcastNone  = "none"

	ConversationSQLite = "sqlite"
	ConversationDisk   = "disk"
	ConversationMemory = "memory"

	AIProviderAPI    = "api"
	AIProviderGemini = "gemini"
)

type Config struct {
	APIURL        string
	AccessToken   string
	RefreshToken  string
	HTTPTimeout   time.Duration
	StateDir      string
	Broadcast     BroadcastConfig
	Conversations ConversationConfig
	AI            AIConfig
}

type BroadcastConfig struct {
	Mode     string
	RelayURL string
	PGDSN    string
}

type ConversationConfig struct {
	Store string
	Path  string
}

type AIConfig struct {
	Provider     string
	GeminiAPIKey string
	GeminiModel  string
}

// TokenPath is where the signed-in session is kept between runs.
func (c *Config) TokenPath() string {
	return filepath.Join(c.StateDir, "tokens.json")
}

// Load reads the client configuration from the environment and an optional
// .env file. Unknown modes and bad durations fall back to defaults.
func Load() (*Config, error) {
	_ = godotenv.Load()

	stateDir := firstNonEmpty(strings.TrimSpace(os.Getenv("OW_STATE_DIR")), defaultStateDir())
	store := oneOf(os.Getenv("OW_CONVERSATION_STORE"), ConversationSQLite, ConversationSQLite, ConversationDisk, ConversationMemory)

	return &Config{
		APIURL:       strings.TrimRight(firstNonEmpty(strings.TrimSpace(os.Getenv("OW_API_URL")), "http://localhost:7000"), "/"),
		AccessToken:  strings.TrimSpace(os.Getenv("OW_ACCESS_TOKEN")),
		RefreshToken: strings.TrimSpace(os.Getenv("OW_REFRESH_TOKEN")),
		HTTPTimeout:  durationOr(os.Getenv("OW_HTTP_TIMEOUT"), 30*time.Second),
		StateDir:     stateDir,
		Broadcast: BroadcastConfig{
			Mode:     oneOf(os.Getenv("OW_BROADCAST"), BroadcastLocal, BroadcastLocal, BroadcastWS, BroadcastPG, BroadcastNone),
			RelayURL: firstNonEmpty(strings.TrimSpace(os.Getenv("OW_RELAY_URL")), "ws://localhost:7070/ws"),
			PGDSN:    strings.TrimSpace(os.Getenv("OW_BROADCAST_PG_DSN")),
		},
		Conversations: ConversationConfig{
			Store: store,
			Path:  conversationPath(stateDir, store),
		},
		AI: AIConfig{
			Provider:     oneOf(os.Getenv("OW_AI_PROVIDER"), AIProviderAPI, AIProviderAPI, AIProviderGemini),
			GeminiAPIKey: strings.TrimSpace(os.Getenv("GEMINI_API_KEY")),
			GeminiModel:  firstNonEmpty(strings.TrimSpace(os.Getenv("OW_GEMINI_MODEL")), "gemini-2.5-flash"),
		},
	}, nil
}

type RelayConfig struct {
	Port string
}

// LoadRelay reads the relay server configuration. PORT wins over -port.
func LoadRelay() (*RelayConfig, error) {
	_ = godotenv.Load()

	port := flag.String("port", ":7070", "relay listen address")
	flag.Parse()

	if envPort := strings.TrimSpace(os.Getenv("PORT")); envPort != "" {
		if strings.HasPrefix(envPort, ":") {
			*port = envPort
		} else {
			*port = ":" + envPort
		}
	}
	return &RelayConfig{Port: *port}, nil
}

func conversationPath(stateDir, store string) string {
	switch store {
	case ConversationSQLite:
		return filepath.Join(stateDir, "conversations.db")
	case ConversationDisk:
		return filepath.Join(stateDir, "conversations")
	default:
		return ""
	}
}

func defaultStateDir() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return ".owconsole"
	}
	return filepath.Join(home, ".owconsole")
}

func durationOr(raw string, def time.Duration) time.Duration {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return def
	}
	d, err := time.ParseDuration(raw)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// oneOf returns raw lower-cased when it is one of allowed, else def.
func oneOf(raw, def string, allowed ...string) string {
	v := strings.ToLower(strings.TrimSpace(raw))
	for _, a := range allowed {
		if v == a {
			return v
		}
	}
	return def
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
