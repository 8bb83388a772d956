// Package resource exposes typed CRUD for the console's resource types. Each
// Client keeps its cache consistent with server responses and with the
// create/delete notifications of other client instances.
package resource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/golang/glog"

	"owconsole/internal/broadcast"
	rcache "owconsole/internal/cache/resource"
	"owconsole/internal/live"
	"owconsole/internal/transport"
)

// ErrMissingID is returned when an operation needs an id and got none.
var ErrMissingID = errors.New("resource: missing id")

// Updater is an update input. Only the fields to change are serialized; the
// id travels in the URL.
type Updater interface {
	ResourceID() string
}

type idOnly struct {
	ID string `json:"id"`
}

// Client is the CRUD client of one resource type. T is the entity, C the
// create input and U the update input.
type Client[T any, C any, U Updater] struct {
	base    string
	api     *transport.Client
	cache   *rcache.Cache[T]
	id      func(T) string
	channel broadcast.Channel
	unsub   func()
}

// NewClient builds the client for base ("workers", "kv", ...). It opens
// channel:<base> on broker and applies what peers publish there.
func NewClient[T any, C any, U Updater](base string, api *transport.Client, broker broadcast.Broker, cfg rcache.Config[T]) *Client[T, C, U] {
	if cfg.Name == "" {
		cfg.Name = base
	}
	if broker == nil {
		broker = broadcast.NoopBroker{}
	}
	c := &Client[T, C, U]{
		base:    base,
		api:     api,
		cache:   rcache.New(cfg),
		id:      cfg.ID,
		channel: broker.Open(broadcast.ChannelName(base)),
	}
	c.unsub = c.channel.Subscribe(c.receive)
	glog.V(1).Infof("resource: instantiating %s client", base)
	return c
}

func (c *Client[T, C, U]) ResourceName() string { return c.base }

// Cache exposes the underlying cache for read-only inspection.
func (c *Client[T, C, U]) Cache() *rcache.Cache[T] { return c.cache }

// FindAll returns the live list. Only the first call fetches; later calls
// reuse the populated cache.
func (c *Client[T, C, U]) FindAll(ctx context.Context) (*live.Value[[]T], error) {
	if c.cache.Populated() {
		return c.cache.List(), nil
	}
	glog.V(1).Infof("resource: finding all %s", c.base)
	var items []T
	if err := c.api.Get(ctx, c.path(), nil, &items); err != nil {
		return nil, fmt.Errorf("list %s: %w", c.base, err)
	}
	for _, item := range items {
		c.cache.Upsert(item, rcache.Partial)
	}
	c.cache.MarkPopulated()
	return c.cache.List(), nil
}

// FindByID returns the live entity, fetching it unless it is cached at full
// fidelity.
func (c *Client[T, C, U]) FindByID(ctx context.Context, id string) (*live.Value[T], error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingID
	}
	if h, ok := c.cache.Get(id); ok {
		return h, nil
	}
	return c.fetch(ctx, id, nil)
}

// Resolve returns the current value of id, for prefetching before a view is
// shown. It does not stay subscribed.
func (c *Client[T, C, U]) Resolve(ctx context.Context, id string) (T, error) {
	glog.V(1).Infof("resource: resolving %s %s", c.base, id)
	h, err := c.FindByID(ctx, id)
	if err != nil {
		var zero T
		return zero, err
	}
	return h.Get(), nil
}

func (c *Client[T, C, U]) Create(ctx context.Context, input C) (*live.Value[T], error) {
	var created T
	if err := c.api.Post(ctx, c.path(), input, &created); err != nil {
		return nil, fmt.Errorf("create %s: %w", c.base, err)
	}
	h := c.store(created)
	c.publish(ctx, broadcast.OpAdd, true, h.Get())
	return h, nil
}

// Update patches only the fields set in input and merges the response into
// the cache. Peers are not notified.
func (c *Client[T, C, U]) Update(ctx context.Context, input U) (*live.Value[T], error) {
	id := input.ResourceID()
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingID
	}
	var updated T
	if err := c.api.Patch(ctx, c.path(id), input, &updated); err != nil {
		return nil, fmt.Errorf("update %s %s: %w", c.base, id, err)
	}
	return c.store(updated), nil
}

func (c *Client[T, C, U]) Delete(ctx context.Context, id string) (bool, error) {
	if strings.TrimSpace(id) == "" {
		return false, ErrMissingID
	}
	var raw json.RawMessage
	if err := c.api.Delete(ctx, c.path(id), &raw); err != nil {
		return false, fmt.Errorf("delete %s %s: %w", c.base, id, err)
	}
	deleted := deletedResult(raw)
	c.cache.Remove(id)
	c.cache.Refresh()
	c.publish(ctx, broadcast.OpDelete, false, idOnly{ID: id})
	return deleted, nil
}

func (c *Client[T, C, U]) Close() error {
	if c == nil {
		return nil
	}
	c.unsub()
	return c.channel.Close()
}

// fetch loads one entity and caches it at full fidelity.
func (c *Client[T, C, U]) fetch(ctx context.Context, id string, query url.Values) (*live.Value[T], error) {
	var item T
	if err := c.api.Get(ctx, c.path(id), query, &item); err != nil {
		return nil, fmt.Errorf("get %s %s: %w", c.base, id, err)
	}
	return c.store(item), nil
}

// store caches a server response at full fidelity. The list view is
// recomputed so it carries the merged value.
func (c *Client[T, C, U]) store(item T) *live.Value[T] {
	h := c.cache.Upsert(item, rcache.Full)
	c.cache.Refresh()
	return h
}

func (c *Client[T, C, U]) path(parts ...string) string {
	p := "/api/v1/" + c.base
	for _, part := range parts {
		p += "/" + url.PathEscape(part)
	}
	return p
}

func (c *Client[T, C, U]) publish(ctx context.Context, op broadcast.Op, full bool, data any) {
	raw, err := json.Marshal(data)
	if err != nil {
		glog.Errorf("resource: encode %s %s broadcast: %v", c.base, op, err)
		return
	}
	if err := c.channel.Publish(ctx, broadcast.Message{Op: op, Full: full, Data: raw}); err != nil {
		glog.Warningf("resource: %s %s broadcast failed: %v", c.base, op, err)
	}
}

// receive applies a peer's mutation to the cache. It never calls the API
// and never publishes.
func (c *Client[T, C, U]) receive(msg broadcast.Message) {
	fidelity := rcache.Partial
	if msg.Full {
		fidelity = rcache.Full
	}
	switch msg.Op {
	case broadcast.OpAdd, broadcast.OpUpdate:
		var item T
		if err := json.Unmarshal(msg.Data, &item); err != nil {
			glog.V(1).Infof("resource: skipping malformed %s %s message: %v", c.base, msg.Op, err)
			return
		}
		if c.id(item) == "" {
			glog.V(1).Infof("resource: skipping %s %s message without id", c.base, msg.Op)
			return
		}
		c.cache.Upsert(item, fidelity)
		c.cache.Refresh()
	case broadcast.OpDelete:
		var ref idOnly
		if err := json.Unmarshal(msg.Data, &ref); err != nil || ref.ID == "" {
			glog.V(1).Infof("resource: skipping malformed %s del message", c.base)
			return
		}
		c.cache.Remove(ref.ID)
		c.cache.Refresh()
	default:
		glog.V(1).Infof("resource: unknown %s op %q", c.base, msg.Op)
	}
}

// deletedResult reads a delete response: a bare boolean, {"deleted": bool},
// or an empty body, which counts as success.
func deletedResult(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return true
	}
	var b bool
	if err := json.Unmarshal(raw, &b); err == nil {
		return b
	}
	var obj struct {
		Deleted *bool `json:"deleted"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil && obj.Deleted != nil {
		return *obj.Deleted
	}
	return true
}
