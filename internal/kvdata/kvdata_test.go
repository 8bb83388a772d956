package kvdata

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"owconsole/internal/transport"
)

func newClient(t *testing.T, h http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	api, err := transport.New(transport.Options{BaseURL: srv.URL, HTTPClient: srv.Client()})
	require.NoError(t, err)
	return New(api)
}

func TestListPassesPagingParams(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/v1/kv/ns1/data", r.URL.Path)
		assert.Equal(t, "user:", r.URL.Query().Get("prefix"))
		assert.Equal(t, "abc", r.URL.Query().Get("cursor"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_, _ = w.Write([]byte(`{"items":[{"key":"user:1","value":"x","expiresAt":null,"createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-01-01T00:00:00Z"}],"cursor":"def","hasMore":true}`))
	})

	page, err := c.List(context.Background(), "ns1", ListOptions{Prefix: "user:", Cursor: "abc", Limit: 50})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "user:1", page.Items[0].Key)
	assert.Nil(t, page.Items[0].ExpiresAt)
	require.NotNil(t, page.Cursor)
	assert.Equal(t, "def", *page.Cursor)
	assert.True(t, page.HasMore)
}

func TestPutEscapesKeyAndSendsTTL(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPut, r.Method)
		assert.Equal(t, "/api/v1/kv/ns1/data/a%2Fb", r.URL.EscapedPath())
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "v", body["value"])
		assert.Equal(t, float64(60), body["expiresIn"])
		_, _ = w.Write([]byte(`{"key":"a/b","value":"v","createdAt":"2026-01-01T00:00:00Z","updatedAt":"2026-01-01T00:00:00Z"}`))
	})

	item, err := c.Put(context.Background(), "ns1", "a/b", "v", 60)
	require.NoError(t, err)
	assert.Equal(t, "a/b", item.Key)
}

func TestPutWithoutTTLOmitsIt(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		_, has := body["expiresIn"]
		assert.False(t, has)
		_, _ = w.Write([]byte(`{"key":"k","value":"v"}`))
	})
	_, err := c.Put(context.Background(), "ns1", "k", "v", 0)
	require.NoError(t, err)
}

func TestDelete(t *testing.T) {
	c := newClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		_, _ = w.Write([]byte(`{"deleted":true}`))
	})
	ok, err := c.Delete(context.Background(), "ns1", "k")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = c.Delete(context.Background(), "", "k")
	assert.Error(t, err)
}
