package transport

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
)

type staticTokens struct {
	token string
	err   error
	calls int
}

func (s *staticTokens) AccessToken(context.Context) (string, error) {
	s.calls++
	return s.token, s.err
}

func newTestClient(t *testing.T, h http.HandlerFunc, tokens TokenSource) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Options{BaseURL: srv.URL + "/", Tokens: tokens, HTTPClient: srv.Client()})
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return c
}

func TestDoSendsJSONAndBearer(t *testing.T) {
	tokens := &staticTokens{token: "tok"}
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/v1/workers/abc" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if r.Method != http.MethodPatch {
			t.Errorf("method = %q", r.Method)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer tok" {
			t.Errorf("authorization = %q", got)
		}
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		if body["desc"] != "hi" {
			t.Errorf("body = %#v", body)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"id": "abc", "desc": "hi"})
	}, tokens)

	var out struct {
		ID   string `json:"id"`
		Desc string `json:"desc"`
	}
	if err := c.Patch(context.Background(), "/api/v1/workers/abc", map[string]string{"desc": "hi"}, &out); err != nil {
		t.Fatalf("Patch() error = %v", err)
	}
	if out.ID != "abc" || out.Desc != "hi" {
		t.Fatalf("unexpected response: %+v", out)
	}
	if tokens.calls != 1 {
		t.Fatalf("expected one token lookup, got %d", tokens.calls)
	}
}

func TestDoReturnsStatusError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "nope", http.StatusNotFound)
	}, nil)

	err := c.Get(context.Background(), "/api/v1/kv/x", url.Values{"script": {"true"}}, &struct{}{})
	if !IsStatus(err, http.StatusNotFound) {
		t.Fatalf("expected 404 status error, got %v", err)
	}
	var se *StatusError
	if !errors.As(err, &se) || se.Body != "nope" || se.Method != http.MethodGet {
		t.Fatalf("unexpected status error: %#v", se)
	}
}

func TestTokenErrorAbortsRequest(t *testing.T) {
	hits := 0
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) { hits++ }, &staticTokens{err: ErrUnauthorized})
	if err := c.Get(context.Background(), "/api/v1/profile", nil, nil); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
	if hits != 0 {
		t.Fatalf("request should not reach the server")
	}

	if err := c.WithoutAuth().Get(context.Background(), "/api/v1/profile", nil, nil); err != nil {
		t.Fatalf("WithoutAuth() request failed: %v", err)
	}
	if hits != 1 {
		t.Fatalf("expected one hit, got %d", hits)
	}
}

func TestStreamReturnsBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Accept") != "text/event-stream" {
			t.Errorf("accept = %q", r.Header.Get("Accept"))
		}
		_, _ = io.WriteString(w, "data: {\"type\":\"done\"}\n")
	}, nil)

	body, err := c.Stream(context.Background(), "/api/v1/ai/chat/stream", map[string]string{"userMessage": "hi"})
	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	defer body.Close()
	raw, _ := io.ReadAll(body)
	if string(raw) != "data: {\"type\":\"done\"}\n" {
		t.Fatalf("unexpected body %q", raw)
	}
}

func TestNewRequiresBaseURL(t *testing.T) {
	if _, err := New(Options{}); err == nil {
		t.Fatalf("expected error for empty base url")
	}
}
