// Package kvdata browses and edits the keys stored in a KV namespace.
package kvdata

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"owconsole/internal/transport"
)

type Item struct {
	Key       string     `json:"key"`
	Value     string     `json:"value"`
	ExpiresAt *time.Time `json:"expiresAt"`
	CreatedAt time.Time  `json:"createdAt"`
	UpdatedAt time.Time  `json:"updatedAt"`
}

type Page struct {
	Items   []Item  `json:"items"`
	Cursor  *string `json:"cursor"`
	HasMore bool    `json:"hasMore"`
}

type ListOptions struct {
	Prefix string
	Cursor string
	Limit  int
}

type Client struct {
	api *transport.Client
}

func New(api *transport.Client) *Client {
	return &Client{api: api}
}

// List returns one page of keys. Pass the returned cursor to fetch the next.
func (c *Client) List(ctx context.Context, namespaceID string, opts ListOptions) (*Page, error) {
	if strings.TrimSpace(namespaceID) == "" {
		return nil, fmt.Errorf("namespace id is required")
	}
	q := url.Values{}
	if opts.Prefix != "" {
		q.Set("prefix", opts.Prefix)
	}
	if opts.Cursor != "" {
		q.Set("cursor", opts.Cursor)
	}
	if opts.Limit > 0 {
		q.Set("limit", strconv.Itoa(opts.Limit))
	}
	var page Page
	if err := c.api.Get(ctx, dataPath(namespaceID), q, &page); err != nil {
		return nil, fmt.Errorf("list kv %s: %w", namespaceID, err)
	}
	return &page, nil
}

type putInput struct {
	Value     string `json:"value"`
	ExpiresIn *int   `json:"expiresIn,omitempty"`
}

// Put writes key. A positive expiresIn sets a TTL in seconds.
func (c *Client) Put(ctx context.Context, namespaceID, key, value string, expiresIn int) (*Item, error) {
	if strings.TrimSpace(namespaceID) == "" || key == "" {
		return nil, fmt.Errorf("namespace id and key are required")
	}
	in := putInput{Value: value}
	if expiresIn > 0 {
		in.ExpiresIn = &expiresIn
	}
	var item Item
	if err := c.api.Put(ctx, dataPath(namespaceID, key), in, &item); err != nil {
		return nil, fmt.Errorf("put kv %s/%s: %w", namespaceID, key, err)
	}
	return &item, nil
}

func (c *Client) Delete(ctx context.Context, namespaceID, key string) (bool, error) {
	if strings.TrimSpace(namespaceID) == "" || key == "" {
		return false, fmt.Errorf("namespace id and key are required")
	}
	var resp struct {
		Deleted bool `json:"deleted"`
	}
	if err := c.api.Delete(ctx, dataPath(namespaceID, key), &resp); err != nil {
		return false, fmt.Errorf("delete kv %s/%s: %w", namespaceID, key, err)
	}
	return resp.Deleted, nil
}

func dataPath(namespaceID string, key ...string) string {
	p := "/api/v1/kv/" + url.PathEscape(namespaceID) + "/data"
	if len(key) > 0 {
		p += "/" + url.PathEscape(key[0])
	}
	return p
}
