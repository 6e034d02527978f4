// Package cmds holds the subcommands of the dialogue CLI.
package cmds

import (
	"context"

	"github.com/go-go-golems/dialogue/pkg/backend"
	"github.com/go-go-golems/dialogue/pkg/chat"
	"github.com/go-go-golems/dialogue/pkg/conversation"
	"github.com/go-go-golems/dialogue/pkg/credentials"
	"github.com/go-go-golems/dialogue/pkg/events"
	"github.com/go-go-golems/dialogue/pkg/settings"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/viper"
)

var ErrNotLoggedIn = errors.New("not logged in, run `dialogue login` first")

// app is everything a command needs to talk to the backend.
type app struct {
	settings    *settings.Settings
	client      *backend.Client
	credentials *credentials.File
	coordinator *chat.Coordinator
}

type appConfig struct {
	router         *events.EventRouter
	login          bool
	verify         bool
	hydrate        bool
	requireHistory bool
}

type appOption func(*appConfig)

// withRouter publishes store events on the router's default topic.
func withRouter(router *events.EventRouter) appOption {
	return func(c *appConfig) {
		c.router = router
	}
}

// withLogin loads the stored identity and fails when there is none.
// verify checks the token with the backend first, hydrate loads the dialog
// history into the store.
func withLogin(verify bool, hydrate bool) appOption {
	return func(c *appConfig) {
		c.login = true
		c.verify = verify
		c.hydrate = hydrate
	}
}

// withRequiredHistory fails when the dialog history cannot be loaded.
// Without it the app starts with only the draft session.
func withRequiredHistory() appOption {
	return func(c *appConfig) {
		c.requireHistory = true
	}
}

func newApp(ctx context.Context, options ...appOption) (*app, error) {
	cfg := &appConfig{}
	for _, o := range options {
		o(cfg)
	}

	s, err := settings.FromViper(viper.GetViper())
	if err != nil {
		return nil, err
	}
	client, err := s.NewClient()
	if err != nil {
		return nil, err
	}

	var sink events.EventSink = events.NullSink{}
	if cfg.router != nil {
		sink = cfg.router.Sink(events.DefaultTopic)
	}

	store := conversation.NewStore(append(s.StoreOptions(), conversation.WithEventSink(sink))...)
	coordinatorOptions := []chat.CoordinatorOption{
		chat.WithEventSink(sink),
		chat.WithModel(s.DefaultModel()),
	}
	if s.Autosave.Enabled {
		autosaver, err := chat.NewAutosaver(s.Autosave.Dir, s.Autosave.Format)
		if err != nil {
			return nil, err
		}
		coordinatorOptions = append(coordinatorOptions, chat.WithAutosaver(autosaver))
	}

	creds := credentials.NewFile(s.CredentialsFile)
	var identity backend.Identity
	if cfg.login {
		identity, err = creds.Load()
		if err != nil {
			if errors.Is(err, credentials.ErrNoCredentials) {
				return nil, ErrNotLoggedIn
			}
			return nil, err
		}
		coordinatorOptions = append(coordinatorOptions, chat.WithIdentity(identity))
	}

	ret := &app{
		settings:    s,
		client:      client,
		credentials: creds,
		coordinator: chat.NewCoordinator(store, client, coordinatorOptions...),
	}
	if !cfg.login {
		return ret, nil
	}

	switch {
	case cfg.verify:
		err = ret.coordinator.Login(ctx, identity)
		if errors.Is(err, chat.ErrInvalidToken) {
			return nil, errors.Wrap(ErrNotLoggedIn, "stored token was rejected")
		}
	case cfg.hydrate:
		err = ret.coordinator.SetIdentity(ctx, identity)
	}
	if err != nil {
		if !errors.Is(err, chat.ErrHistoryUnavailable) || cfg.requireHistory {
			return nil, err
		}
		log.Warn().Err(err).Str("username", identity.Username).Msg("Continuing without dialog history")
	}

	log.Debug().
		Str("username", identity.Username).
		Str("base_url", client.BaseURL()).
		Msg("Loaded identity")

	return ret, nil
}

func (a *app) identity() backend.Identity {
	identity, _ := a.coordinator.Identity()
	return identity
}
