package main

import (
	"context"
	"log/slog"
	"time"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/oops"
)

const readyTimeout = 30 * time.Second

// Supervisor is the outermost restart policy. Bootstrap failures tear
// everything down, including installed handlers, and retry the full start
// after the short delay. Hub connection failures retry only the hub after
// the long delay: a Discord relogin is expensive and rate-limited, a hub
// reconnect is cheap.
type Supervisor struct {
	cfg       *Config
	store     RecordStore
	session   *discordgo.Session
	messenger *DiscordMessenger
	hub       *HubConnection
	engine    *ReconciliationEngine
	islands   *IslandTracker
	commands  *CommandHandler
	alerts    *AlertSink
	events    chan Event

	removeCommands func()
}

func NewSupervisor(
	cfg *Config,
	store RecordStore,
	session *discordgo.Session,
	messenger *DiscordMessenger,
	hub *HubConnection,
	engine *ReconciliationEngine,
	islands *IslandTracker,
	commands *CommandHandler,
	alerts *AlertSink,
	events chan Event,
) *Supervisor {
	return &Supervisor{
		cfg:       cfg,
		store:     store,
		session:   session,
		messenger: messenger,
		hub:       hub,
		engine:    engine,
		islands:   islands,
		commands:  commands,
		alerts:    alerts,
		events:    events,
	}
}

// Run boots the system and dispatches events until the context ends.
// It only returns on context cancellation.
func (s *Supervisor) Run(ctx context.Context) {
	for {
		if err := s.bootstrap(ctx); err != nil {
			slog.Error("Bootstrap failed, restarting", "error", err, "delay", s.cfg.RestartDelay())
			s.teardown()

			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.RestartDelay()):
				continue
			}
		}

		s.dispatch(ctx)
		s.teardown()
		return
	}
}

func (s *Supervisor) bootstrap(ctx context.Context) error {
	slog.Info("Checking DB connection")
	if err := s.store.Ping(ctx); err != nil {
		return oops.With("context", "database connection check").Wrap(err)
	}

	slog.Info("Logging in to Discord")
	s.removeCommands = s.commands.Register(s.session)
	if err := s.session.Open(); err != nil {
		return oops.With("context", "discord login").Wrap(err)
	}
	if err := s.waitReady(ctx); err != nil {
		return err
	}
	slog.Info("Successfully logged in to Discord")

	// A failed hub connect is not a bootstrap failure: it escalates
	// through HubConnectionErrorEvent and retries on its own tier.
	if _, err := s.hub.Initialize(ctx); err != nil {
		slog.Error("Error connecting to MerchantsHub", "error", err)
	}

	s.islands.Start(ctx)

	if err := s.engine.Resync(ctx); err != nil {
		slog.Error("Initial merchants notification failed", "error", err)
		s.alerts.Notify(ctx, "notifyInitialMerchants", err)
	}

	return nil
}

func (s *Supervisor) waitReady(ctx context.Context) error {
	deadline := time.Now().Add(readyTimeout)
	for !s.messenger.Ready() {
		if time.Now().After(deadline) {
			return oops.With("context", "discord login").Wrap(ErrDiscordNotReady)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(250 * time.Millisecond):
		}
	}
	return nil
}

// teardown detaches every handler and timer the run installed, so a
// retry never ends up with duplicates.
func (s *Supervisor) teardown() {
	if s.removeCommands != nil {
		s.removeCommands()
		s.removeCommands = nil
	}
	s.islands.Stop()
	s.hub.Close()
	if err := s.session.Close(); err != nil {
		slog.Error("Error closing discord session", "error", err)
	}
}

func (s *Supervisor) dispatch(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case event := <-s.events:
			s.handleEvent(ctx, event)
		}
	}
}

func (s *Supervisor) handleEvent(ctx context.Context, event Event) {
	var err error

	switch ev := event.(type) {
	case MerchantFoundEvent:
		err = s.engine.HandleMerchantFound(ctx, ev)
	case VotesChangedEvent:
		err = s.engine.HandleVotesChanged(ctx, ev)
	case ActiveMerchantsEvent:
		err = s.engine.HandleActiveCheck(ctx, ev)
	case IslandAlertEvent:
		err = s.engine.HandleIslandAlert(ctx, ev)
	case IslandsCleanupEvent:
		err = s.engine.HandleIslandsCleanup(ctx)
	case ChannelRegisteredEvent:
		err = s.engine.ResyncChannel(ctx, ev.ChannelID)
	case HubReconnectingEvent:
		s.alerts.Notifyf(ctx, "MerchantsHubReconnecting", "reconnecting to MerchantsHub: %v", ev.Reason)
	case HubReconnectedEvent:
		s.alerts.Notifyf(ctx, "MerchantsHubReconnected", "reconnected to MerchantsHub")
		err = s.engine.Resync(ctx)
	case HubConnectionErrorEvent:
		s.retryHub(ctx, ev)
	}

	if err != nil {
		slog.Error("Event handler failed", "event", event.eventName(), "error", err)
		s.alerts.Notify(ctx, event.eventName(), err)
	}
}

// retryHub reinitializes the hub connection after the long delay, off
// the dispatch loop so other events keep flowing while it waits.
func (s *Supervisor) retryHub(ctx context.Context, ev HubConnectionErrorEvent) {
	s.alerts.Notifyf(ctx, "MerchantsConnectionError", "attempting to reconnect to MerchantsHub: %v", ev.Err)
	slog.Info("Reinitializing MerchantsHub", "delay", s.cfg.HubRetryDelay())

	go func() {
		select {
		case <-ctx.Done():
			return
		case <-time.After(s.cfg.HubRetryDelay()):
		}

		connected, err := s.hub.Initialize(ctx)
		if err != nil {
			// Initialize already published the next HubConnectionErrorEvent.
			return
		}
		if connected {
			s.alerts.Notifyf(ctx, "MerchantsConnectionError", "successfully reconnected to MerchantsHub")
			s.events <- HubReconnectedEvent{}
		}
	}()
}
