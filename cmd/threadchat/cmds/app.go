package cmds

import (
	"context"

	"github.com/go-go-golems/threadchat/pkg/config"
	"github.com/go-go-golems/threadchat/pkg/events"
	"github.com/go-go-golems/threadchat/pkg/orchestrator"
	"github.com/go-go-golems/threadchat/pkg/providers"
	"github.com/go-go-golems/threadchat/pkg/store"
	"github.com/go-go-golems/threadchat/pkg/titles"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

// App bundles everything a command needs to work on the chat store.
type App struct {
	Config       *config.AppConfig
	Store        *store.Store
	Registry     *providers.Registry
	Titles       *titles.Generator
	Orchestrator *orchestrator.Orchestrator
	// StreamEvents carries the send-message cycle on events.TopicStream.
	StreamEvents *events.PublisherManager
	// StoreEvents carries store changes on events.TopicStore.
	StoreEvents *events.PublisherManager
}

// NewApp loads the configuration from viper and opens the store.
func NewApp(ctx context.Context) (*App, error) {
	cfg, err := config.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	return NewAppFromConfig(ctx, cfg)
}

func NewAppFromConfig(ctx context.Context, cfg *config.AppConfig) (*App, error) {
	backend, err := cfg.OpenBackend()
	if err != nil {
		return nil, errors.Wrap(err, "could not open store")
	}

	ret := &App{
		Config:       cfg,
		StreamEvents: events.NewPublisherManager(),
		StoreEvents:  events.NewPublisherManager(),
	}
	ret.Store = store.New(ctx, backend, store.WithPublisherManager(ret.StoreEvents))

	ret.Registry, err = cfg.BuildRegistry(ctx)
	if err != nil {
		_ = ret.Store.Close()
		return nil, err
	}

	ret.Titles, err = cfg.TitleGenerator(ret.Registry)
	if err != nil {
		_ = ret.Store.Close()
		return nil, err
	}

	ret.Orchestrator = orchestrator.New(ret.Store, ret.Registry,
		orchestrator.WithTitleGenerator(ret.Titles),
		orchestrator.WithPublisherManager(ret.StreamEvents),
	)

	log.Debug().
		Str("storage", cfg.Storage).
		Str("storage_path", cfg.StoragePath).
		Int("chats", len(ret.Store.Chats())).
		Msg("Opened chat store")

	return ret, nil
}

// Close aborts running operations and flushes the store.
func (a *App) Close() error {
	err := a.Orchestrator.Close()
	if err2 := a.Store.Close(); err == nil {
		err = err2
	}
	return err
}

// resolveChatID returns id, or the currently selected chat when id is empty.
func (a *App) resolveChatID(id string) (string, error) {
	if id != "" {
		if _, ok := a.Store.GetChat(id); !ok {
			return "", &store.NotFoundError{ID: id}
		}
		return id, nil
	}
	current := a.Store.CurrentChatID()
	if current == "" {
		return "", errors.New("no chat selected, pass --chat or create one with --new")
	}
	return current, nil
}
