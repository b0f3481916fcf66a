package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/bwmarrin/discordgo"
)

// Recognized admin commands. Registrations are plain chat commands gated
// on the administrator permission; clear commands are further restricted
// to the configured admin identity.
const (
	cmdSetChannel    = "/setchannel"
	cmdRemoveChannel = "/removechannel"
	cmdSetAlert      = "/setalert"
	cmdRemoveAlert   = "/removealert"
	cmdClearGuild    = "/clearguild"
	cmdClearAll      = "/clearall"
)

var registrableKinds = []ChannelKind{ChannelKindMerchants, ChannelKindIslands}

// CommandHandler maintains the channel registration table from chat
// commands. A successful merchants registration publishes a targeted
// resync so the new channel catches up on active merchants.
type CommandHandler struct {
	cfg    *Config
	store  RecordStore
	events chan<- Event
}

func NewCommandHandler(cfg *Config, store RecordStore, events chan<- Event) *CommandHandler {
	return &CommandHandler{cfg: cfg, store: store, events: events}
}

// Register installs the message handler on the session and returns its
// remover, so the supervisor can detach it before a restart.
func (h *CommandHandler) Register(session *discordgo.Session) func() {
	return session.AddHandler(h.HandleMessage)
}

func (h *CommandHandler) HandleMessage(s *discordgo.Session, m *discordgo.MessageCreate) {
	if m.Author == nil || m.Author.Bot || m.GuildID == "" {
		return
	}

	fields := strings.Fields(m.Content)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return
	}

	perms, err := s.UserChannelPermissions(m.Author.ID, m.ChannelID)
	if err != nil || perms&discordgo.PermissionAdministrator == 0 {
		return
	}

	ctx := context.Background()
	arg := ""
	if len(fields) > 1 {
		arg = fields[1]
	}

	var text string
	switch fields[0] {
	case cmdSetChannel:
		text = h.SetChannel(ctx, m.ChannelID, m.GuildID, arg)
	case cmdRemoveChannel:
		text = h.RemoveChannel(ctx, m.ChannelID, m.GuildID, arg)
	case cmdSetAlert:
		text = h.SetAlert(ctx, m.ChannelID, m.GuildID)
	case cmdRemoveAlert:
		text = h.RemoveAlert(ctx, m.ChannelID, m.GuildID)
	case cmdClearGuild:
		text = h.Clear(ctx, m.Author.ID, m.GuildID, false)
	case cmdClearAll:
		text = h.Clear(ctx, m.Author.ID, m.GuildID, true)
	default:
		return
	}

	if text != "" {
		reply(s, m, text)
	}
}

// SetChannel registers the channel for a kind and returns the reply
// text, empty when nothing should be said.
func (h *CommandHandler) SetChannel(ctx context.Context, channelID, guildID, kindArg string) string {
	kind, ok := parseRegistrableKind(kindArg)
	if !ok {
		slog.Info("Invalid channel kind", "kind", kindArg, "channel_id", channelID, "guild_id", guildID)
		return fmt.Sprintf("Invalid channel type. [%s, %s]", ChannelKindMerchants, ChannelKindIslands)
	}

	existing, err := h.store.FindChannels(ctx,
		Eq("channelId", channelID),
		Eq("guildId", guildID),
		Eq("kind", kind.String()),
	)
	if err != nil {
		slog.Error("Set channel error", "error", err)
		return ""
	}
	if len(existing) > 0 {
		slog.Info("Channel already registered", "kind", kind.String(), "channel_id", channelID, "guild_id", guildID)
		return fmt.Sprintf("Channel is already registered for %s", kind)
	}

	err = h.store.InsertChannel(ctx, ChannelRegistration{
		ChannelID: channelID,
		GuildID:   guildID,
		Kind:      kind,
	})
	if err != nil {
		slog.Error("Set channel error", "error", err)
		return ""
	}

	if kind == ChannelKindMerchants {
		slog.Info("Notifying active merchants to new channel", "channel_id", channelID)
		h.events <- ChannelRegisteredEvent{ChannelID: channelID}
	}

	return fmt.Sprintf("Using current channel for %s", kind)
}

func (h *CommandHandler) RemoveChannel(ctx context.Context, channelID, guildID, kindArg string) string {
	kind, ok := parseRegistrableKind(kindArg)
	if !ok {
		slog.Info("Invalid channel kind", "kind", kindArg, "channel_id", channelID, "guild_id", guildID)
		return fmt.Sprintf("Invalid channel type. [%s, %s]", ChannelKindMerchants, ChannelKindIslands)
	}

	_, err := h.store.DeleteChannels(ctx,
		Eq("channelId", channelID),
		Eq("guildId", guildID),
		Eq("kind", kind.String()),
	)
	if err != nil {
		slog.Error("Remove channel error", "error", err)
		return ""
	}
	return fmt.Sprintf("Removed current channel for %s", kind)
}

func (h *CommandHandler) SetAlert(ctx context.Context, channelID, guildID string) string {
	existing, err := h.store.FindChannels(ctx,
		Eq("channelId", channelID),
		Eq("guildId", guildID),
		Eq("kind", ChannelKindAlerts.String()),
	)
	if err != nil {
		slog.Error("Set alert channel error", "error", err)
		return ""
	}
	if len(existing) > 0 {
		slog.Info("Alert channel already registered", "channel_id", channelID, "guild_id", guildID)
		return "Channel is already registered"
	}

	err = h.store.InsertChannel(ctx, ChannelRegistration{
		ChannelID: channelID,
		GuildID:   guildID,
		Kind:      ChannelKindAlerts,
	})
	if err != nil {
		slog.Error("Set alert channel error", "error", err)
		return ""
	}
	return "Using current channel as alert"
}

func (h *CommandHandler) RemoveAlert(ctx context.Context, channelID, guildID string) string {
	_, err := h.store.DeleteChannels(ctx,
		Eq("channelId", channelID),
		Eq("guildId", guildID),
		Eq("kind", ChannelKindAlerts.String()),
	)
	if err != nil {
		slog.Error("Remove alert channel error", "error", err)
		return ""
	}
	return "Removed current channel"
}

// Clear wipes registrations for the guild, or everywhere when all is
// set. Only the configured admin identity may clear.
func (h *CommandHandler) Clear(ctx context.Context, authorID, guildID string, all bool) string {
	if h.cfg.AdminID == "" || authorID != h.cfg.AdminID {
		return ""
	}

	var filters []Filter
	if !all {
		filters = append(filters, Eq("guildId", guildID))
	}

	if _, err := h.store.DeleteChannels(ctx, filters...); err != nil {
		slog.Error("Clear channels error", "error", err)
		return ""
	}
	return "Removed channels"
}

func parseRegistrableKind(arg string) (ChannelKind, bool) {
	kind, err := ParseChannelKind(arg)
	if err != nil {
		return "", false
	}
	for _, registrable := range registrableKinds {
		if kind == registrable {
			return kind, true
		}
	}
	return "", false
}

func reply(s *discordgo.Session, m *discordgo.MessageCreate, text string) {
	if _, err := s.ChannelMessageSendReply(m.ChannelID, text, m.Reference()); err != nil {
		slog.Error("Failed to reply to command", "channel_id", m.ChannelID, "error", err)
	}
}
