package auth

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"owconsole/internal/broadcast"
	"owconsole/internal/transport"
)

func signed(t *testing.T, sub string, exp time.Time) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   sub,
		ExpiresAt: jwt.NewNumericDate(exp),
	})
	raw, err := tok.SignedString([]byte("test-secret"))
	require.NoError(t, err)
	return raw
}

type fakeAPI struct {
	t         *testing.T
	access    string
	refresh   string
	refreshes atomic.Int32
	profiles  atomic.Int32
	lastAuth  atomic.Value
}

func (f *fakeAPI) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case "/api/v1/login":
		var body map[string]string
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["password"] != "secret" {
			http.Error(w, "bad credentials", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(loginResponse{AccessToken: f.access, RefreshToken: f.refresh})
	case "/api/v1/refresh":
		f.refreshes.Add(1)
		if r.Header.Get("Authorization") != "" {
			f.t.Errorf("refresh must not carry a bearer token")
		}
		_ = json.NewEncoder(w).Encode(loginResponse{AccessToken: f.access, RefreshToken: f.refresh})
	case "/api/v1/profile":
		f.profiles.Add(1)
		f.lastAuth.Store(r.Header.Get("Authorization"))
		if r.Header.Get("Authorization") != "Bearer "+f.access {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode(User{ID: "u1", Username: "max"})
	default:
		http.NotFound(w, r)
	}
}

func newAPI(t *testing.T, f *fakeAPI) *transport.Client {
	t.Helper()
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	c, err := transport.New(transport.Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return c
}

func TestDecodeTokenReadsExpiry(t *testing.T) {
	exp := time.Now().Add(time.Hour).Truncate(time.Second)
	tok := decodeToken(signed(t, "u1", exp))
	assert.True(t, tok.exp.Equal(exp))
	assert.False(t, tok.expired(time.Now()))
	assert.True(t, tok.expired(exp.Add(time.Second)))

	opaque := decodeToken("not-a-jwt")
	assert.Equal(t, "not-a-jwt", opaque.raw)
	assert.False(t, opaque.expired(time.Now()))
	assert.Equal(t, token{}, decodeToken("  "))
}

func TestLoginStoresTokensAndAnnounces(t *testing.T) {
	f := &fakeAPI{t: t, access: signed(t, "u1", time.Now().Add(time.Hour)), refresh: signed(t, "u1", time.Now().Add(24*time.Hour))}
	api := newAPI(t, f)

	hub := broadcast.NewLocalHub()
	store := &MemoryTokenStore{}
	a := NewSession(api, store, hub.Tab().Open(broadcast.AuthChannel))
	b := NewSession(api, store, hub.Tab().Open(broadcast.AuthChannel))
	defer a.Close()
	defer b.Close()

	u, err := a.Login(context.Background(), "max", "secret")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, "u1", a.User().Get().ID)

	stored, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, f.access, stored.AccessToken)

	require.Eventually(t, func() bool {
		cur := b.User().Get()
		return cur != nil && cur.ID == "u1"
	}, time.Second, 5*time.Millisecond)
	token, err := b.AccessToken(context.Background())
	require.NoError(t, err)
	assert.Equal(t, f.access, token, "peer reloads persisted tokens")

	a.Logout(context.Background())
	assert.Nil(t, a.User().Get())
	require.Eventually(t, func() bool { return b.User().Get() == nil }, time.Second, 5*time.Millisecond)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := &fakeAPI{t: t}
	s := NewSession(newAPI(t, f), nil, nil)
	_, err := s.Login(context.Background(), "max", "wrong")
	assert.True(t, transport.IsStatus(err, http.StatusUnauthorized))
}

func TestExpiredAccessTokenRefreshesBeforeRequest(t *testing.T) {
	f := &fakeAPI{t: t, access: signed(t, "u1", time.Now().Add(time.Hour)), refresh: signed(t, "u1", time.Now().Add(24*time.Hour))}
	store := &MemoryTokenStore{}
	require.NoError(t, store.Save(Tokens{
		AccessToken:  signed(t, "u1", time.Now().Add(-time.Minute)),
		RefreshToken: f.refresh,
	}))
	s := NewSession(newAPI(t, f), store, nil)
	require.True(t, s.AccessTokenExpired())

	u, err := s.Init(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "max", u.Username)
	assert.Equal(t, int32(1), f.refreshes.Load())
	assert.Equal(t, "Bearer "+f.access, f.lastAuth.Load())
	assert.False(t, s.AccessTokenExpired())
}

func TestExpiredRefreshTokenSignsOut(t *testing.T) {
	f := &fakeAPI{t: t}
	store := &MemoryTokenStore{}
	require.NoError(t, store.Save(Tokens{
		AccessToken:  signed(t, "u1", time.Now().Add(-time.Minute)),
		RefreshToken: signed(t, "u1", time.Now().Add(-time.Minute)),
	}))
	s := NewSession(newAPI(t, f), store, nil)

	_, err := s.Client().Get(context.Background(), "/api/v1/profile", nil, nil)
	assert.ErrorIs(t, err, transport.ErrUnauthorized)
	assert.Equal(t, int32(0), f.refreshes.Load())
	assert.Equal(t, int32(0), f.profiles.Load())
	stored, _ := store.Load()
	assert.Equal(t, Tokens{}, stored)
}

func TestInitWithoutTokenIsSignedOut(t *testing.T) {
	f := &fakeAPI{t: t}
	s := NewSession(newAPI(t, f), nil, nil)
	u, err := s.Init(context.Background())
	require.NoError(t, err)
	assert.Nil(t, u)
	assert.Equal(t, int32(0), f.profiles.Load())
}

func TestFileTokenStoreRoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "tokens.json")
	s := NewFileTokenStore(path)

	empty, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Tokens{}, empty)

	require.NoError(t, s.Save(Tokens{AccessToken: "a", RefreshToken: "r"}))
	got, err := s.Load()
	require.NoError(t, err)
	assert.Equal(t, Tokens{AccessToken: "a", RefreshToken: "r"}, got)

	require.NoError(t, s.Save(Tokens{}))
	got, err = s.Load()
	require.NoError(t, err)
	assert.True(t, strings.TrimSpace(got.AccessToken) == "")
}
