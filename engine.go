package main

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/samber/oops"
)

// MerchantSource is the hub capability the engine needs for resyncs.
type MerchantSource interface {
	IsConnected() bool
	PollActiveMerchants(ctx context.Context) ([]MerchantGroup, bool)
}

// ReconciliationEngine is the notify/update/expire state machine. The
// presence of a NotificationRecord for a (subject, channel) pair encodes
// the state: no record means unseen, a record means announced and every
// later event for the pair becomes an in-place edit or a no-op.
type ReconciliationEngine struct {
	cfg      *Config
	store    RecordStore
	chat     ChatMessenger
	renderer *Renderer
	hub      MerchantSource
	alerts   *AlertSink
}

func NewReconciliationEngine(cfg *Config, store RecordStore, chat ChatMessenger, renderer *Renderer, hub MerchantSource, alerts *AlertSink) *ReconciliationEngine {
	return &ReconciliationEngine{
		cfg:      cfg,
		store:    store,
		chat:     chat,
		renderer: renderer,
		hub:      hub,
		alerts:   alerts,
	}
}

// HandleMerchantFound fans the merchant group out to every registered
// merchants channel. Channels fail independently: one bad destination
// never blocks the rest.
func (e *ReconciliationEngine) HandleMerchantFound(ctx context.Context, event MerchantFoundEvent) error {
	if !e.chat.Ready() {
		return oops.With("event", "MerchantFound").Wrap(ErrDiscordNotReady)
	}

	channels, err := e.store.FindChannels(ctx, Eq("kind", ChannelKindMerchants.String()))
	if err != nil {
		return oops.With("event", "MerchantFound").Wrap(err)
	}

	e.announceGroup(ctx, event.Server, event.Group, channels)
	return nil
}

func (e *ReconciliationEngine) announceGroup(ctx context.Context, server string, group MerchantGroup, channels []ChannelRegistration) {
	if server == "" {
		server = group.Server
	}

	var wg sync.WaitGroup
	for _, channel := range channels {
		wg.Add(1)
		go func(channel ChannelRegistration) {
			defer wg.Done()
			for _, merchant := range group.ActiveMerchants {
				if err := e.announceMerchant(ctx, server, merchant, channel); err != nil {
					slog.Error("Error notifying merchant to channel", "channel_id", channel.ChannelID, "merchant_id", merchant.ID, "error", err)
					e.alerts.Notify(ctx, "notifyMerchantFound", err)
				}
			}
		}(channel)
	}
	wg.Wait()
}

// announceMerchant is the per-(subject, channel) unit: dedup check,
// notability filter, send, record. Only this path creates records, so a
// filtered merchant stays unseen and later vote events for it are
// correctly skipped.
func (e *ReconciliationEngine) announceMerchant(ctx context.Context, server string, merchant ActiveMerchant, channel ChannelRegistration) error {
	existing, err := e.store.FindRecords(ctx, Eq("merchantId", merchant.ID), Eq("channelId", channel.ChannelID))
	if err != nil {
		return oops.With("merchant_id", merchant.ID, "channel_id", channel.ChannelID).Wrap(err)
	}
	if len(existing) > 0 {
		slog.Info("Merchant already notified to channel", "merchant_id", merchant.ID, "merchant", merchant.Name, "server", server, "channel_id", channel.ChannelID)
		return nil
	}

	if !e.renderer.Notable(merchant) {
		return nil
	}

	content, attachmentPath := e.renderer.RenderMerchant(server, merchant, time.Now())
	messageID, err := e.chat.Send(ctx, channel.ChannelID, content, Attachment{
		Name: merchant.Zone + ".jpg",
		Path: attachmentPath,
	})
	if err != nil {
		return oops.With("merchant_id", merchant.ID, "channel_id", channel.ChannelID).Wrap(err)
	}

	err = e.store.InsertRecord(ctx, NotificationRecord{
		MessageID:  messageID,
		MerchantID: merchant.ID,
		ChannelID:  channel.ChannelID,
	})
	if err == ErrDuplicateRecord {
		// A concurrent duplicate event won the insert race. The storage
		// constraint makes this an already-announced outcome.
		slog.Warn("Concurrent announce detected", "merchant_id", merchant.ID, "channel_id", channel.ChannelID)
		return nil
	}
	return err
}

// HandleVotesChanged rewrites the vote counter of every already-announced
// message for the merchant. A missing record is a benign skip: the found
// event for a rapid-fire new merchant may not have landed yet, and vote
// events never create records.
func (e *ReconciliationEngine) HandleVotesChanged(ctx context.Context, event VotesChangedEvent) error {
	if !e.chat.Ready() {
		return oops.With("event", "MerchantVotesChanged").Wrap(ErrDiscordNotReady)
	}

	channels, err := e.store.FindChannels(ctx, Eq("kind", ChannelKindMerchants.String()))
	if err != nil {
		return oops.With("event", "MerchantVotesChanged").Wrap(err)
	}

	var wg sync.WaitGroup
	for _, channel := range channels {
		wg.Add(1)
		go func(channel ChannelRegistration) {
			defer wg.Done()
			if err := e.updateVotes(ctx, event, channel); err != nil {
				slog.Error("Error updating votes", "channel_id", channel.ChannelID, "merchant_id", event.MerchantID, "error", err)
				e.alerts.Notify(ctx, "notifyMerchantVotesChanged", err)
			}
		}(channel)
	}
	wg.Wait()
	return nil
}

func (e *ReconciliationEngine) updateVotes(ctx context.Context, event VotesChangedEvent, channel ChannelRegistration) error {
	filters := []Filter{Eq("merchantId", event.MerchantID), Eq("channelId", channel.ChannelID)}
	records, err := e.store.FindRecords(ctx, filters...)
	if err != nil {
		return oops.With("filters", fmtFilters(filters)).Wrap(err)
	}
	if len(records) == 0 {
		slog.Info("No message found for merchant", "merchant_id", event.MerchantID, "channel_id", channel.ChannelID)
		return nil
	}

	record := records[0]
	content, err := e.chat.FetchByID(ctx, channel.ChannelID, record.MessageID)
	if err != nil {
		return oops.With("message_id", record.MessageID).Wrap(err)
	}

	return e.chat.Edit(ctx, channel.ChannelID, record.MessageID, e.renderer.ReplaceVotes(content, event.Votes))
}

// HandleActiveCheck runs the expiry sweep when the poll reports no active
// merchants. A failed poll or a non-empty list is a no-op: expiring on
// bad data would orphan live announcements, so the sweep fails safe.
func (e *ReconciliationEngine) HandleActiveCheck(ctx context.Context, event ActiveMerchantsEvent) error {
	if event.Err || len(event.Groups) > 0 {
		return nil
	}

	if !e.chat.Ready() {
		return oops.With("event", "MerchantsListCheck").Wrap(ErrDiscordNotReady)
	}

	slog.Info("Clearing and reformatting messages")

	channels, err := e.store.FindChannels(ctx, Eq("kind", ChannelKindMerchants.String()))
	if err != nil {
		return oops.With("event", "MerchantsListCheck").Wrap(err)
	}

	var wg sync.WaitGroup
	for _, channel := range channels {
		wg.Add(1)
		go func(channel ChannelRegistration) {
			defer wg.Done()
			e.expireChannelMessages(ctx, channel)
		}(channel)
	}
	wg.Wait()

	// Island rows have a null merchant id and survive the sweep.
	if _, err := e.store.DeleteRecords(ctx, NotNull("merchantId")); err != nil {
		return oops.With("context", "deleting merchant records").Wrap(err)
	}
	return nil
}

func (e *ReconciliationEngine) expireChannelMessages(ctx context.Context, channel ChannelRegistration) {
	records, err := e.store.FindRecords(ctx, Eq("channelId", channel.ChannelID))
	if err != nil {
		e.alerts.Notify(ctx, "clearMessages", err)
		return
	}
	slog.Info("Found messages for channel", "count", len(records), "channel_id", channel.ChannelID)

	for _, record := range records {
		if err := e.expireMessage(ctx, channel.ChannelID, record); err != nil {
			slog.Error("Error clearing message", "message_id", record.MessageID, "error", err)
			e.alerts.Notify(ctx, "clearMessages", err)
		}
	}
}

func (e *ReconciliationEngine) expireMessage(ctx context.Context, channelID string, record NotificationRecord) error {
	content, err := e.chat.FetchByID(ctx, channelID, record.MessageID)
	if err != nil {
		return oops.With("message_id", record.MessageID).Wrap(err)
	}

	rewritten, changed := e.renderer.RewriteExpired(content)
	if !changed {
		return nil
	}
	slog.Info("Clearing message", "message_id", record.MessageID)
	return e.chat.Edit(ctx, channelID, record.MessageID, rewritten)
}

// Resync re-announces every currently active merchant to all merchant
// channels. Safe to run redundantly: the dedup check turns repeats into
// no-ops. Used on startup and after every reconnect.
func (e *ReconciliationEngine) Resync(ctx context.Context) error {
	return e.resync(ctx, "")
}

// ResyncChannel runs the same pass against a single freshly registered
// channel.
func (e *ReconciliationEngine) ResyncChannel(ctx context.Context, channelID string) error {
	return e.resync(ctx, channelID)
}

func (e *ReconciliationEngine) resync(ctx context.Context, channelID string) error {
	if !e.chat.Ready() {
		return oops.With("event", "MerchantsReady").Wrap(ErrDiscordNotReady)
	}
	if !e.hub.IsConnected() {
		return oops.With("event", "MerchantsReady").Wrap(ErrHubNotConnected)
	}

	filters := []Filter{Eq("kind", ChannelKindMerchants.String())}
	if channelID != "" {
		filters = append(filters, Eq("channelId", channelID))
	}
	channels, err := e.store.FindChannels(ctx, filters...)
	if err != nil {
		return oops.With("context", "loading merchant channels").Wrap(err)
	}
	if len(channels) == 0 {
		slog.Info("No channels registered")
		return nil
	}

	groups, errored := e.hub.PollActiveMerchants(ctx)
	if errored || len(groups) == 0 {
		slog.Info("No active merchants to notify", "error", errored)
		return nil
	}

	slog.Info("Attempting to notify active merchants", "count", len(groups), "channels", len(channels))
	for _, group := range groups {
		e.announceGroup(ctx, group.Server, group, channels)
	}
	return nil
}

// HandleIslandAlert announces upcoming islands to every islands channel,
// keyed by island name instead of merchant id.
func (e *ReconciliationEngine) HandleIslandAlert(ctx context.Context, event IslandAlertEvent) error {
	if !e.chat.Ready() {
		return oops.With("event", "IslandAlert").Wrap(ErrDiscordNotReady)
	}

	channels, err := e.store.FindChannels(ctx, Eq("kind", ChannelKindIslands.String()))
	if err != nil {
		return oops.With("event", "IslandAlert").Wrap(err)
	}

	names := lo.Map(event.Islands, func(island Island, _ int) string { return island.Name })

	var wg sync.WaitGroup
	for _, channel := range channels {
		wg.Add(1)
		go func(channel ChannelRegistration) {
			defer wg.Done()
			if err := e.announceIslands(ctx, event, names, channel); err != nil {
				slog.Error("Error notifying islands", "channel_id", channel.ChannelID, "error", err)
				e.alerts.Notify(ctx, "notifyIslands", err)
			}
		}(channel)
	}
	wg.Wait()
	return nil
}

func (e *ReconciliationEngine) announceIslands(ctx context.Context, event IslandAlertEvent, names []string, channel ChannelRegistration) error {
	existing, err := e.store.FindRecords(ctx,
		In("islandName", names),
		Eq("channelId", channel.ChannelID),
		IsNull("merchantId"),
	)
	if err != nil {
		return oops.With("channel_id", channel.ChannelID).Wrap(err)
	}
	if len(existing) > 0 {
		slog.Info("Islands already notified to channel", "channel_id", channel.ChannelID)
		return nil
	}

	for _, island := range event.Islands {
		content, attachmentPath := e.renderer.RenderIsland(island, event.StartAt)
		messageID, err := e.chat.Send(ctx, channel.ChannelID, content, Attachment{
			Name: island.Name + ".png",
			Path: attachmentPath,
		})
		if err != nil {
			return oops.With("island", island.Name, "channel_id", channel.ChannelID).Wrap(err)
		}

		err = e.store.InsertRecord(ctx, NotificationRecord{
			MessageID:  messageID,
			IslandName: island.Name,
			ChannelID:  channel.ChannelID,
		})
		if err != nil && err != ErrDuplicateRecord {
			return oops.With("island", island.Name).Wrap(err)
		}
	}
	return nil
}

// HandleIslandsCleanup closes island announcements per channel: rewrite
// the start marker, then delete only that channel's island rows. Runs on
// an independent timer from the merchant sweep.
func (e *ReconciliationEngine) HandleIslandsCleanup(ctx context.Context) error {
	if !e.chat.Ready() {
		return oops.With("event", "IslandsCleanup").Wrap(ErrDiscordNotReady)
	}

	channels, err := e.store.FindChannels(ctx, Eq("kind", ChannelKindIslands.String()))
	if err != nil {
		return oops.With("event", "IslandsCleanup").Wrap(err)
	}

	var wg sync.WaitGroup
	for _, channel := range channels {
		wg.Add(1)
		go func(channel ChannelRegistration) {
			defer wg.Done()
			if err := e.cleanupIslands(ctx, channel); err != nil {
				slog.Error("Error cleaning up islands", "channel_id", channel.ChannelID, "error", err)
				e.alerts.Notify(ctx, "islandsCleanup", err)
			}
		}(channel)
	}
	wg.Wait()
	return nil
}

func (e *ReconciliationEngine) cleanupIslands(ctx context.Context, channel ChannelRegistration) error {
	records, err := e.store.FindRecords(ctx, Eq("channelId", channel.ChannelID), NotNull("islandName"))
	if err != nil {
		return oops.With("channel_id", channel.ChannelID).Wrap(err)
	}
	if len(records) == 0 {
		return nil
	}

	for _, record := range records {
		content, err := e.chat.FetchByID(ctx, channel.ChannelID, record.MessageID)
		if err != nil {
			slog.Error("Error fetching island message", "message_id", record.MessageID, "error", err)
			e.alerts.Notify(ctx, "islandsCleanup", err)
			continue
		}

		rewritten, changed := e.renderer.RewriteIslandEnded(content)
		if !changed {
			continue
		}
		slog.Info("Clearing message", "message_id", record.MessageID)
		if err := e.chat.Edit(ctx, channel.ChannelID, record.MessageID, rewritten); err != nil {
			slog.Error("Error editing island message", "message_id", record.MessageID, "error", err)
			e.alerts.Notify(ctx, "islandsCleanup", err)
		}
	}

	_, err = e.store.DeleteRecords(ctx, Eq("channelId", channel.ChannelID), NotNull("islandName"))
	return err
}
