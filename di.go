package main

import (
	"fmt"
	"log/slog"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/do/v2"
)

// SetupDI initializes the dependency injection container
func SetupDI() (do.Injector, error) {
	injector := do.New()

	// Register Config
	do.Provide(injector, func(i do.Injector) (*Config, error) {
		cfg, err := LoadConfig()
		if err != nil {
			return nil, fmt.Errorf("failed to load config: %w", err)
		}
		return cfg, nil
	})

	// Register the event queue shared by every publisher
	do.Provide(injector, func(i do.Injector) (chan Event, error) {
		return make(chan Event, 64), nil
	})

	// Register RecordStore
	do.Provide(injector, func(i do.Injector) (RecordStore, error) {
		cfg := do.MustInvoke[*Config](i)
		store, err := NewSQLiteStore(cfg.StoragePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize storage at %s: %w", cfg.StoragePath, err)
		}
		return store, nil
	})

	// Register Discord session (configured, opened by the supervisor)
	do.Provide(injector, func(i do.Injector) (*discordgo.Session, error) {
		cfg := do.MustInvoke[*Config](i)
		session, err := discordgo.New("Bot " + cfg.DiscordToken)
		if err != nil {
			return nil, fmt.Errorf("failed to create discord session: %w", err)
		}
		session.Identify.Intents = discordgo.IntentsGuilds | discordgo.IntentsGuildMessages | discordgo.IntentMessageContent
		return session, nil
	})

	// Register DiscordMessenger
	do.Provide(injector, func(i do.Injector) (*DiscordMessenger, error) {
		session := do.MustInvoke[*discordgo.Session](i)
		return NewDiscordMessenger(session), nil
	})

	// Register AlertSink
	do.Provide(injector, func(i do.Injector) (*AlertSink, error) {
		store := do.MustInvoke[RecordStore](i)
		messenger := do.MustInvoke[*DiscordMessenger](i)
		return NewAlertSink(store, messenger), nil
	})

	// Register Renderer
	do.Provide(injector, func(i do.Injector) (*Renderer, error) {
		cfg := do.MustInvoke[*Config](i)
		renderer, err := NewRenderer(cfg)
		if err != nil {
			return nil, fmt.Errorf("failed to load merchant catalog: %w", err)
		}
		return renderer, nil
	})

	// Register HubConnection
	do.Provide(injector, func(i do.Injector) (*HubConnection, error) {
		cfg := do.MustInvoke[*Config](i)
		events := do.MustInvoke[chan Event](i)
		alerts := do.MustInvoke[*AlertSink](i)
		return NewHubConnection(cfg, events, alerts), nil
	})

	// Register ReconciliationEngine
	do.Provide(injector, func(i do.Injector) (*ReconciliationEngine, error) {
		cfg := do.MustInvoke[*Config](i)
		store := do.MustInvoke[RecordStore](i)
		messenger := do.MustInvoke[*DiscordMessenger](i)
		renderer := do.MustInvoke[*Renderer](i)
		hub := do.MustInvoke[*HubConnection](i)
		alerts := do.MustInvoke[*AlertSink](i)
		return NewReconciliationEngine(cfg, store, messenger, renderer, hub, alerts), nil
	})

	// Register IslandTracker
	do.Provide(injector, func(i do.Injector) (*IslandTracker, error) {
		cfg := do.MustInvoke[*Config](i)
		events := do.MustInvoke[chan Event](i)
		alerts := do.MustInvoke[*AlertSink](i)
		return NewIslandTracker(cfg, events, alerts), nil
	})

	// Register CommandHandler
	do.Provide(injector, func(i do.Injector) (*CommandHandler, error) {
		cfg := do.MustInvoke[*Config](i)
		store := do.MustInvoke[RecordStore](i)
		events := do.MustInvoke[chan Event](i)
		return NewCommandHandler(cfg, store, events), nil
	})

	// Register Supervisor
	do.Provide(injector, func(i do.Injector) (*Supervisor, error) {
		return NewSupervisor(
			do.MustInvoke[*Config](i),
			do.MustInvoke[RecordStore](i),
			do.MustInvoke[*discordgo.Session](i),
			do.MustInvoke[*DiscordMessenger](i),
			do.MustInvoke[*HubConnection](i),
			do.MustInvoke[*ReconciliationEngine](i),
			do.MustInvoke[*IslandTracker](i),
			do.MustInvoke[*CommandHandler](i),
			do.MustInvoke[*AlertSink](i),
			do.MustInvoke[chan Event](i),
		), nil
	})

	// Register StatusServer
	do.Provide(injector, func(i do.Injector) (*StatusServer, error) {
		cfg := do.MustInvoke[*Config](i)
		store := do.MustInvoke[RecordStore](i)
		hub := do.MustInvoke[*HubConnection](i)
		server := NewStatusServer(cfg, store, hub)
		server.SetLogger(slog.Default())
		return server, nil
	})

	return injector, nil
}

// ShutdownDI gracefully shuts down all services
func ShutdownDI(injector do.Injector) error {
	if tracker, err := do.Invoke[*IslandTracker](injector); err == nil && tracker != nil {
		tracker.Stop()
	}

	if hub, err := do.Invoke[*HubConnection](injector); err == nil && hub != nil {
		hub.Close()
	}

	if session, err := do.Invoke[*discordgo.Session](injector); err == nil && session != nil {
		session.Close()
	}

	if store, err := do.Invoke[RecordStore](injector); err == nil && store != nil {
		store.Close()
	}

	return nil
}
