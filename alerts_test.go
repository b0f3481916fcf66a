package main

import (
	"context"
	"testing"

	"github.com/samber/oops"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAlertSinkSendsToAlertChannels(t *testing.T) {
	store := newTestStore(t)
	chat := newFakeChat()
	sink := NewAlertSink(store, chat)
	ctx := context.Background()

	registerChannel(t, store, "c-alerts", ChannelKindAlerts)
	registerChannel(t, store, "c-merchants", ChannelKindMerchants)

	sink.Notify(ctx, "getActiveMerchantsList", oops.With("server", "Yorn").Errorf("hub unreachable"))

	require.Equal(t, 1, chat.sentCount())
	assert.Equal(t, "c-alerts", chat.sends[0].ChannelID)
	assert.Contains(t, chat.sends[0].Content, "context: getActiveMerchantsList")
	assert.Contains(t, chat.sends[0].Content, "hub unreachable")
	assert.Contains(t, chat.sends[0].Content, "server: Yorn")
}

func TestAlertSinkSkipsWhenChatOffline(t *testing.T) {
	store := newTestStore(t)
	chat := newFakeChat()
	chat.offline = true
	sink := NewAlertSink(store, chat)

	registerChannel(t, store, "c-alerts", ChannelKindAlerts)

	sink.Notifyf(context.Background(), "setupTracker", "no islands found in file")
	assert.Equal(t, 0, chat.sentCount())
}

func TestAlertSinkNoChannels(t *testing.T) {
	store := newTestStore(t)
	chat := newFakeChat()
	sink := NewAlertSink(store, chat)

	sink.Notify(context.Background(), "clearMessages", oops.Errorf("boom"))
	assert.Equal(t, 0, chat.sentCount())
}
