package app

import (
	"fmt"

	"github.com/golang/glog"

	"owconsole/internal/auth"
	"owconsole/internal/cache/conversation"
	"owconsole/internal/config"
)

type clientStores struct {
	tokens        auth.TokenStore
	conversations conversation.Store
	closers       []func() error
}

func initStores(cfg *config.Config) (*clientStores, error) {
	stores := &clientStores{tokens: auth.NewFileTokenStore(cfg.TokenPath())}

	var origin conversation.Store
	switch cfg.Conversations.Store {
	case config.ConversationMemory:
		stores.conversations = conversation.NewMemoryStore()
		return stores, nil
	case config.ConversationDisk:
		origin = conversation.NewDiskStore(cfg.Conversations.Path)
	default:
		db, err := conversation.OpenSQLite(cfg.Conversations.Path)
		if err != nil {
			return nil, fmt.Errorf("failed to open conversation store: %w", err)
		}
		stores.closers = append(stores.closers, db.Close)
		origin = db
	}

	cached, err := conversation.NewCachedStore(origin, conversation.DefaultCacheConfig())
	if err != nil {
		stores.Close()
		return nil, err
	}
	stores.conversations = cached
	glog.Infof("app: conversation store=%s path=%s", cfg.Conversations.Store, cfg.Conversations.Path)
	return stores, nil
}

func (s *clientStores) Close() error {
	var first error
	for _, c := range s.closers {
		if err := c(); err != nil && first == nil {
			first = err
		}
	}
	s.closers = nil
	return first
}
