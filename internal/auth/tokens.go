package auth

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Tokens is the persisted token pair.
type Tokens struct {
	AccessToken  string `json:"accessToken,omitempty"`
	RefreshToken string `json:"refreshToken,omitempty"`
}

// TokenStore keeps the token pair between runs.
type TokenStore interface {
	Load() (Tokens, error)
	Save(Tokens) error
}

// MemoryTokenStore is a TokenStore that forgets everything on exit.
type MemoryTokenStore struct {
	mu     sync.Mutex
	tokens Tokens
}

func (s *MemoryTokenStore) Load() (Tokens, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tokens, nil
}

func (s *MemoryTokenStore) Save(t Tokens) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = t
	return nil
}

// FileTokenStore keeps the token pair in a JSON file readable only by the owner.
type FileTokenStore struct {
	path string
	mu   sync.Mutex
}

func NewFileTokenStore(path string) *FileTokenStore {
	return &FileTokenStore{path: path}
}

func (s *FileTokenStore) Load() (Tokens, error) {
	if s == nil || s.path == "" {
		return Tokens{}, fmt.Errorf("token store path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	raw, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return Tokens{}, nil
		}
		return Tokens{}, err
	}
	var t Tokens
	if err := json.Unmarshal(raw, &t); err != nil {
		return Tokens{}, fmt.Errorf("decode %s: %w", s.path, err)
	}
	return t, nil
}

func (s *FileTokenStore) Save(t Tokens) error {
	if s == nil || s.path == "" {
		return fmt.Errorf("token store path is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if t.AccessToken == "" && t.RefreshToken == "" {
		if err := os.Remove(s.path); err != nil && !os.IsNotExist(err) {
			return err
		}
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return err
	}
	raw, err := json.Marshal(t)
	if err != nil {
		return err
	}
	return os.WriteFile(s.path, raw, 0o600)
}

// token is a raw JWT plus its expiry. A zero exp means the token never expires
// as far as the client can tell.
type token struct {
	raw string
	exp time.Time
}

// decodeToken reads the exp claim without verifying the signature; the
// server is the only party that can. Opaque tokens are kept without expiry.
func decodeToken(raw string) token {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return token{}
	}
	t := token{raw: raw}
	claims := jwt.RegisteredClaims{}
	if _, _, err := jwt.NewParser().ParseUnverified(raw, &claims); err != nil {
		return t
	}
	if claims.ExpiresAt != nil {
		t.exp = claims.ExpiresAt.Time
	}
	return t
}

func (t token) expired(now time.Time) bool {
	return !t.exp.IsZero() && t.exp.Before(now)
}
