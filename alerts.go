package main

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/samber/oops"
)

// AlertSink delivers formatted diagnostics to every registered alert
// channel. Failures inside the sink are logged only; alerting must never
// become a new failure source.
type AlertSink struct {
	store RecordStore
	chat  ChatMessenger
}

func NewAlertSink(store RecordStore, chat ChatMessenger) *AlertSink {
	return &AlertSink{store: store, chat: chat}
}

// Notify sends a diagnostic for a caught error, with context map and
// stack trace extracted when the error is an oops error.
func (a *AlertSink) Notify(ctx context.Context, label string, err error) {
	a.send(ctx, formatAlert(label, err))
}

// Notifyf sends a plain informational diagnostic.
func (a *AlertSink) Notifyf(ctx context.Context, label, format string, args ...any) {
	a.send(ctx, formatAlert(label, fmt.Errorf(format, args...)))
}

func (a *AlertSink) send(ctx context.Context, text string) {
	if !a.chat.Ready() {
		slog.Warn("Skipping alert, chat client not ready", "alert", text)
		return
	}

	channels, err := a.store.FindChannels(ctx, Eq("kind", ChannelKindAlerts.String()))
	if err != nil {
		slog.Error("Failed to load alert channels", "error", err)
		return
	}
	if len(channels) == 0 {
		slog.Debug("No alert channels to notify")
		return
	}

	for _, channel := range channels {
		if _, err := a.chat.Send(ctx, channel.ChannelID, text); err != nil {
			slog.Error("Failed to send alert", "channel_id", channel.ChannelID, "error", err)
		}
	}
}

func formatAlert(label string, err error) string {
	var b strings.Builder
	b.WriteString("```\n")
	fmt.Fprintf(&b, "timestamp: %s\n", time.Now().UTC().Format(time.RFC3339))
	fmt.Fprintf(&b, "context: %s\n", label)

	if err != nil {
		fmt.Fprintf(&b, "message: %s\n", err.Error())
		if oopsErr, ok := oops.AsOops(err); ok {
			for key, value := range oopsErr.Context() {
				fmt.Fprintf(&b, "%s: %v\n", key, value)
			}
			if stack := oopsErr.Stacktrace(); stack != "" {
				fmt.Fprintf(&b, "stack:\n%s\n", stack)
			}
		}
	}

	b.WriteString("```")
	return b.String()
}
