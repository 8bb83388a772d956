// Package auth keeps the signed-in session: the token pair, the current
// user, and the session-wide auth channel shared by every client instance.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/golang/glog"

	"owconsole/internal/broadcast"
	"owconsole/internal/live"
	"owconsole/internal/transport"
)

// User is the profile returned by /api/v1/profile.
type User struct {
	ID        string `json:"id"`
	Username  string `json:"username"`
	AvatarURL string `json:"avatarUrl,omitempty"`
}

type loginResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
}

// Session implements transport.TokenSource. Requests made through a client
// built WithTokens(session) refresh the access token first when it has expired.
type Session struct {
	api     *transport.Client
	store   TokenStore
	channel broadcast.Channel
	now     func() time.Time

	mu      sync.Mutex
	access  token
	refresh token

	refreshMu sync.Mutex
	user      *live.Value[*User]
	unsub     func()
}

// NewSession loads the persisted tokens and starts listening on channel for
// sign-in/sign-out by other instances. A nil channel disables that.
func NewSession(api *transport.Client, store TokenStore, channel broadcast.Channel) *Session {
	if store == nil {
		store = &MemoryTokenStore{}
	}
	s := &Session{
		api:     api,
		store:   store,
		channel: channel,
		now:     time.Now,
		user:    live.New[*User](nil),
	}
	tokens, err := store.Load()
	if err != nil {
		glog.Warningf("auth: load tokens failed: %v", err)
	}
	s.access = decodeToken(tokens.AccessToken)
	s.refresh = decodeToken(tokens.RefreshToken)

	if channel != nil {
		s.unsub = channel.Subscribe(s.receive)
	}
	glog.V(1).Infof("auth: session ready signed_in=%t", s.access.raw != "")
	return s
}

// Client returns api authenticated through this session.
func (s *Session) Client() *transport.Client {
	return s.api.WithTokens(s)
}

// User is the live current user; nil while signed out.
func (s *Session) User() *live.Value[*User] {
	return s.user
}

// SetTokens replaces the token pair, for tokens supplied by configuration.
func (s *Session) SetTokens(t Tokens) {
	s.setTokens(t)
}

func (s *Session) AccessTokenExpired() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access.expired(s.now())
}

// AccessToken returns the current access token, refreshing it first when
// it has expired. It returns transport.ErrUnauthorized when that refresh fails.
func (s *Session) AccessToken(ctx context.Context) (string, error) {
	s.mu.Lock()
	access := s.access
	expired := access.expired(s.now())
	s.mu.Unlock()
	if !expired {
		return access.raw, nil
	}
	if !s.refreshStale(ctx, access.raw) {
		return "", transport.ErrUnauthorized
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.access.raw, nil
}

// Init fetches the profile of the stored session. A session without an
// access token is signed out.
func (s *Session) Init(ctx context.Context) (*User, error) {
	s.mu.Lock()
	hasToken := s.access.raw != ""
	s.mu.Unlock()
	if !hasToken {
		s.Logout(ctx)
		return nil, nil
	}
	var u User
	if err := s.Client().Get(ctx, "/api/v1/profile", nil, &u); err != nil {
		glog.V(1).Infof("auth: profile fetch failed: %v", err)
		s.user.Set(nil)
		return nil, err
	}
	s.user.Set(&u)
	return &u, nil
}

// Login exchanges credentials for a token pair, loads the profile and tells
// the other instances.
func (s *Session) Login(ctx context.Context, username, password string) (*User, error) {
	var resp loginResponse
	body := map[string]string{"username": username, "password": password}
	if err := s.api.WithoutAuth().Post(ctx, "/api/v1/login", body, &resp); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	s.setTokens(Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})
	u, err := s.Init(ctx)
	if err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}
	s.announce(ctx, u)
	return u, nil
}

// Refresh trades the refresh token for a new pair. Any failure signs the
// session out.
func (s *Session) Refresh(ctx context.Context) bool {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	return s.refreshLocked(ctx)
}

// refreshStale refreshes unless another caller already replaced stale while
// this one waited, so concurrent requests share one refresh.
func (s *Session) refreshStale(ctx context.Context, stale string) bool {
	s.refreshMu.Lock()
	defer s.refreshMu.Unlock()
	s.mu.Lock()
	replaced := s.access.raw != stale && s.access.raw != "" && !s.access.expired(s.now())
	s.mu.Unlock()
	if replaced {
		return true
	}
	return s.refreshLocked(ctx)
}

func (s *Session) refreshLocked(ctx context.Context) bool {
	s.mu.Lock()
	now := s.now()
	refresh := s.refresh
	s.mu.Unlock()

	if refresh.raw == "" || refresh.expired(now) {
		glog.V(1).Infof("auth: refresh token missing or expired")
		s.Logout(ctx)
		return false
	}

	var resp loginResponse
	body := map[string]string{"refreshToken": refresh.raw}
	if err := s.api.WithoutAuth().Post(ctx, "/api/v1/refresh", body, &resp); err != nil {
		glog.Warningf("auth: refresh failed: %v", err)
		s.Logout(ctx)
		return false
	}
	s.setTokens(Tokens{AccessToken: resp.AccessToken, RefreshToken: resp.RefreshToken})
	return true
}

// Logout clears the tokens and tells the other instances.
func (s *Session) Logout(ctx context.Context) {
	s.setTokens(Tokens{})
	s.user.Set(nil)
	s.announce(ctx, nil)
}

func (s *Session) Close() {
	if s == nil {
		return
	}
	if s.unsub != nil {
		s.unsub()
	}
	s.user.Close()
}

func (s *Session) setTokens(t Tokens) {
	s.mu.Lock()
	s.access = decodeToken(t.AccessToken)
	s.refresh = decodeToken(t.RefreshToken)
	stored := Tokens{AccessToken: s.access.raw, RefreshToken: s.refresh.raw}
	s.mu.Unlock()
	if err := s.store.Save(stored); err != nil {
		glog.Warningf("auth: save tokens failed: %v", err)
	}
}

func (s *Session) announce(ctx context.Context, u *User) {
	if s.channel == nil {
		return
	}
	raw, err := json.Marshal(u)
	if err != nil {
		glog.Errorf("auth: encode user: %v", err)
		return
	}
	if err := s.channel.Publish(ctx, broadcast.Message{Op: broadcast.OpUpdate, Data: raw}); err != nil {
		glog.Warningf("auth: broadcast failed: %v", err)
	}
}

// receive applies a sign-in/sign-out from another instance. Tokens are not
// shared over the channel; the signed-in instance persisted them and they
// are reloaded from the store.
func (s *Session) receive(msg broadcast.Message) {
	var u *User
	if len(msg.Data) > 0 {
		if err := json.Unmarshal(msg.Data, &u); err != nil {
			glog.V(1).Infof("auth: skipping malformed auth message: %v", err)
			return
		}
	}
	tokens, err := s.store.Load()
	if err != nil {
		glog.Warningf("auth: reload tokens failed: %v", err)
	} else {
		s.mu.Lock()
		s.access = decodeToken(tokens.AccessToken)
		s.refresh = decodeToken(tokens.RefreshToken)
		s.mu.Unlock()
	}
	glog.V(1).Infof("auth: peer session change signed_in=%t", u != nil)
	s.user.Set(u)
}
