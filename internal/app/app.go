package app

import (
	"context"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"owconsole/internal/ai"
	"owconsole/internal/auth"
	"owconsole/internal/broadcast"
	"owconsole/internal/cache/conversation"
	"owconsole/internal/chat"
	"owconsole/internal/config"
	"owconsole/internal/editor"
	"owconsole/internal/kvdata"
	"owconsole/internal/resource"
	"owconsole/internal/transport"
)

// App is one client instance: the equivalent of a console tab. Instances in
// one process share a LocalHub, so their caches stay in step.
type App struct {
	cfg    *config.Config
	broker broadcast.Broker

	Session      *auth.Session
	Workers      *resource.Workers
	Environments *resource.Environments
	Databases    *resource.Databases
	KvNamespaces *resource.KvNamespaces
	Storage      *resource.Storage
	KVData       *kvdata.Client

	stores   *clientStores
	streamer ai.Streamer
}

var processHub = broadcast.NewLocalHub()

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, errors.New("app: config is required")
	}
	return NewWithBroker(ctx, cfg, newBroker(cfg))
}

// NewWithBroker builds an instance on an explicit broker.
func NewWithBroker(ctx context.Context, cfg *config.Config, broker broadcast.Broker) (*App, error) {
	api, err := transport.New(transport.Options{BaseURL: cfg.APIURL, Timeout: cfg.HTTPTimeout})
	if err != nil {
		return nil, fmt.Errorf("failed to init api client: %w", err)
	}
	if broker == nil {
		broker = broadcast.NoopBroker{}
	}

	stores, err := initStores(cfg)
	if err != nil {
		return nil, err
	}

	session := auth.NewSession(api, stores.tokens, broker.Open(broadcast.AuthChannel))
	if cfg.AccessToken != "" || cfg.RefreshToken != "" {
		session.SetTokens(auth.Tokens{AccessToken: cfg.AccessToken, RefreshToken: cfg.RefreshToken})
	}
	authed := session.Client()

	streamer, err := newStreamer(ctx, cfg, authed)
	if err != nil {
		session.Close()
		_ = stores.Close()
		return nil, err
	}

	a := &App{
		cfg:          cfg,
		broker:       broker,
		Session:      session,
		Workers:      resource.NewWorkers(authed, broker),
		Environments: resource.NewEnvironments(authed, broker),
		Databases:    resource.NewDatabases(authed, broker),
		KvNamespaces: resource.NewKvNamespaces(authed, broker),
		Storage:      resource.NewStorage(authed, broker),
		KVData:       kvdata.New(authed),
		stores:       stores,
		streamer:     streamer,
	}
	glog.V(1).Infof("app: ready api=%s broadcast=%s conversations=%s ai=%s",
		cfg.APIURL, cfg.Broadcast.Mode, cfg.Conversations.Store, cfg.AI.Provider)
	return a, nil
}

func (a *App) Config() *config.Config { return a.cfg }

// Conversations is the local conversation store shared by editor sessions.
func (a *App) Conversations() conversation.Store { return a.stores.conversations }

// OpenEditor starts an AI editing session on a worker's script. Accepted
// code is written back to the worker; if that write fails the proposal
// stays pending and no confirmation message is recorded.
func (a *App) OpenEditor(ctx context.Context, workerID string, opts chat.Options) (*chat.Controller, error) {
	worker, err := a.Workers.ResolveWithScript(ctx, workerID)
	if err != nil {
		return nil, fmt.Errorf("load worker %s: %w", workerID, err)
	}
	script := ""
	if worker.Script != nil {
		script = *worker.Script
	}

	store := editor.NewStore(a.stores.conversations)
	if err := store.Init(ctx, worker.ID, script); err != nil {
		glog.Warningf("app: editor for worker=%s runs without history: %v", worker.ID, err)
	}

	apply := opts.OnApply
	opts.OnApply = func(ctx context.Context, code string) error {
		if _, err := a.Workers.Update(ctx, resource.WorkerUpdateInput{ID: worker.ID, Script: &code}); err != nil {
			glog.Errorf("app: save accepted code worker=%s err=%v", worker.ID, err)
			return fmt.Errorf("save script of worker %s: %w", worker.ID, err)
		}
		if apply != nil {
			return apply(ctx, code)
		}
		return nil
	}
	return chat.New(store, a.streamer, opts), nil
}

func (a *App) Close() error {
	var errs []error
	for _, c := range []interface{ Close() error }{a.Workers, a.Environments, a.Databases, a.KvNamespaces, a.Storage} {
		errs = append(errs, c.Close())
	}
	a.Session.Close()
	errs = append(errs, a.broker.Close(), a.stores.Close())
	return errors.Join(errs...)
}

func newBroker(cfg *config.Config) broadcast.Broker {
	switch cfg.Broadcast.Mode {
	case config.BroadcastWS:
		return broadcast.NewWSBroker(cfg.Broadcast.RelayURL)
	case config.BroadcastPG:
		if cfg.Broadcast.PGDSN == "" {
			glog.Warningf("app: OW_BROADCAST=pg without OW_BROADCAST_PG_DSN, broadcasts are disabled")
			return broadcast.NoopBroker{}
		}
		return broadcast.NewPGBroker(cfg.Broadcast.PGDSN)
	case config.BroadcastNone:
		return broadcast.NoopBroker{}
	default:
		return processHub.Tab()
	}
}

func newStreamer(ctx context.Context, cfg *config.Config, api *transport.Client) (ai.Streamer, error) {
	if cfg.AI.Provider != config.AIProviderGemini {
		return ai.NewHTTPStreamer(api), nil
	}
	if cfg.AI.GeminiAPIKey == "" {
		return nil, errors.New("app: OW_AI_PROVIDER=gemini requires GEMINI_API_KEY")
	}
	g, err := ai.NewGeminiStreamer(ctx, cfg.AI.GeminiAPIKey, cfg.AI.GeminiModel)
	if err != nil {
		return nil, fmt.Errorf("failed to init gemini: %w", err)
	}
	return g, nil
}
