package resource

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"owconsole/internal/broadcast"
	"owconsole/internal/live"
	"owconsole/internal/transport"
)

const (
	nameExistsCacheSize = 256
	nameExistsTTL       = 30 * time.Second
)

// Workers adds script, cron and name-availability calls to the generic client.
type Workers struct {
	*Client[Worker, WorkerCreateInput, WorkerUpdateInput]

	names *expirable.LRU[string, bool]
}

func NewWorkers(api *transport.Client, broker broadcast.Broker) *Workers {
	return &Workers{
		Client: NewClient[Worker, WorkerCreateInput, WorkerUpdateInput]("workers", api, broker, workerKind),
		names:  expirable.NewLRU[string, bool](nameExistsCacheSize, nil, nameExistsTTL),
	}
}

// Create also records the new name as taken.
func (w *Workers) Create(ctx context.Context, input WorkerCreateInput) (*live.Value[Worker], error) {
	h, err := w.Client.Create(ctx, input)
	if err != nil {
		return nil, err
	}
	w.names.Add(h.Get().Name, true)
	return h, nil
}

// Delete also forgets the availability of the deleted worker's name.
func (w *Workers) Delete(ctx context.Context, id string) (bool, error) {
	var name string
	if h, _, ok := w.Cache().Lookup(id); ok {
		name = h.Get().Name
	}
	ok, err := w.Client.Delete(ctx, id)
	if err != nil {
		return false, err
	}
	if name != "" {
		w.names.Remove(name)
	}
	return ok, nil
}

// FindByIDWithScript always fetches, asking the API to include the script.
func (w *Workers) FindByIDWithScript(ctx context.Context, id string) (*live.Value[Worker], error) {
	if strings.TrimSpace(id) == "" {
		return nil, ErrMissingID
	}
	return w.fetch(ctx, id, url.Values{"script": {"true"}})
}

// ResolveWithScript is Resolve for the editor, which needs the script body.
func (w *Workers) ResolveWithScript(ctx context.Context, id string) (Worker, error) {
	h, err := w.FindByIDWithScript(ctx, id)
	if err != nil {
		return Worker{}, err
	}
	return h.Get(), nil
}

type cronInput struct {
	Expression string `json:"expression"`
}

// CreateCron adds a schedule to a worker. The API answers with the worker.
func (w *Workers) CreateCron(ctx context.Context, workerID, expression string) (*live.Value[Worker], error) {
	if strings.TrimSpace(workerID) == "" {
		return nil, ErrMissingID
	}
	var worker Worker
	if err := w.api.Post(ctx, w.path(workerID, "crons"), cronInput{Expression: expression}, &worker); err != nil {
		return nil, fmt.Errorf("create cron for worker %s: %w", workerID, err)
	}
	return w.store(worker), nil
}

func (w *Workers) UpdateCron(ctx context.Context, cronID, expression string) (*live.Value[Worker], error) {
	if strings.TrimSpace(cronID) == "" {
		return nil, ErrMissingID
	}
	var worker Worker
	if err := w.api.Patch(ctx, cronPath(cronID), cronInput{Expression: expression}, &worker); err != nil {
		return nil, fmt.Errorf("update cron %s: %w", cronID, err)
	}
	return w.store(worker), nil
}

func (w *Workers) DeleteCron(ctx context.Context, cronID string) (*live.Value[Worker], error) {
	if strings.TrimSpace(cronID) == "" {
		return nil, ErrMissingID
	}
	var worker Worker
	if err := w.api.Delete(ctx, cronPath(cronID), &worker); err != nil {
		return nil, fmt.Errorf("delete cron %s: %w", cronID, err)
	}
	return w.store(worker), nil
}

// NameExists reports whether a worker name is taken. Answers are cached
// briefly since it runs on every keystroke of the create form.
func (w *Workers) NameExists(ctx context.Context, name string) (bool, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return false, nil
	}
	if exists, ok := w.names.Get(name); ok {
		glog.V(2).Infof("workers: name-exists cache hit name=%s", name)
		return exists, nil
	}
	var resp struct {
		Exists bool `json:"exists"`
	}
	if err := w.api.Get(ctx, w.path("name-exists", name), nil, &resp); err != nil {
		return false, fmt.Errorf("check worker name %q: %w", name, err)
	}
	w.names.Add(name, resp.Exists)
	return resp.Exists, nil
}

func cronPath(id string) string {
	return "/api/v1/crons/" + url.PathEscape(id)
}
