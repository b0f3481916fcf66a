package main

import (
	"context"
	"log/slog"
	"os"
	"sync/atomic"

	"github.com/bwmarrin/discordgo"
	"github.com/samber/oops"
)

// Attachment is a static image file sent along with an announcement.
type Attachment struct {
	Name string
	Path string
}

// ChatMessenger is the chat destination capability the engine runs its
// side effects through. Send returns the external message id used later
// to fetch and edit the message in place.
type ChatMessenger interface {
	Ready() bool
	Send(ctx context.Context, channelID, content string, attachments ...Attachment) (string, error)
	FetchByID(ctx context.Context, channelID, messageID string) (string, error)
	Edit(ctx context.Context, channelID, messageID, content string) error
}

// DiscordMessenger adapts a discordgo session to the ChatMessenger
// capability.
type DiscordMessenger struct {
	session *discordgo.Session
	ready   atomic.Bool
}

func NewDiscordMessenger(session *discordgo.Session) *DiscordMessenger {
	m := &DiscordMessenger{session: session}
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Ready) {
		m.ready.Store(true)
	})
	session.AddHandler(func(_ *discordgo.Session, _ *discordgo.Disconnect) {
		m.ready.Store(false)
	})
	return m
}

func (m *DiscordMessenger) Ready() bool {
	return m.ready.Load()
}

func (m *DiscordMessenger) Send(ctx context.Context, channelID, content string, attachments ...Attachment) (string, error) {
	params := &discordgo.MessageSend{Content: content}

	for _, attachment := range attachments {
		f, err := os.Open(attachment.Path)
		if err != nil {
			// A missing asset should not block the announcement itself.
			slog.Warn("Attachment not found, sending without it", "path", attachment.Path, "error", err)
			continue
		}
		defer f.Close()
		params.Files = append(params.Files, &discordgo.File{
			Name:   attachment.Name,
			Reader: f,
		})
	}

	message, err := m.session.ChannelMessageSendComplex(channelID, params, discordgo.WithContext(ctx))
	if err != nil {
		return "", oops.With("channel_id", channelID).Wrap(err)
	}
	return message.ID, nil
}

func (m *DiscordMessenger) FetchByID(ctx context.Context, channelID, messageID string) (string, error) {
	message, err := m.session.ChannelMessage(channelID, messageID, discordgo.WithContext(ctx))
	if err != nil {
		return "", oops.With("channel_id", channelID, "message_id", messageID).Wrap(err)
	}
	return message.Content, nil
}

func (m *DiscordMessenger) Edit(ctx context.Context, channelID, messageID, content string) error {
	if _, err := m.session.ChannelMessageEdit(channelID, messageID, content, discordgo.WithContext(ctx)); err != nil {
		return oops.With("channel_id", channelID, "message_id", messageID).Wrap(err)
	}
	return nil
}
